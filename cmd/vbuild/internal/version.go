package internal

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the vbuild version and the detected toolchain",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		version := "(devel)"
		if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
			version = info.Main.Version
		}
		fmt.Fprintf(out, "vbuild %s\n", version)

		p, err := newPlatform(context.Background())
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "platform: %s %v\n", p.Name(), p.Archs())
		fmt.Fprintf(out, "toolchain: %s\n", p.ToolVersion())
		for _, t := range p.Tools() {
			fmt.Fprintf(out, "  %s %s %s\n", t.Name, t.Version, t.Path)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
