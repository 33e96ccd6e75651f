package internal

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/goplus/vbuild/internal/build"
)

var hashCmd = &cobra.Command{
	Use:   "hash [vendor...]",
	Short: "Print vendor fingerprints and which architectures are stale",
	RunE:  runHash,
}

func init() {
	rootCmd.AddCommand(hashCmd)
}

func runHash(cmd *cobra.Command, args []string) error {
	s, err := newSession(context.Background())
	if err != nil {
		return err
	}
	names := args
	if len(names) == 0 {
		names = s.graph.Order
	}
	out := cmd.OutOrStdout()
	for _, name := range names {
		v, err := s.graph.Lookup(name)
		if err != nil {
			return err
		}
		fp, err := s.fp.Fingerprint(v)
		if err != nil {
			return err
		}
		var stale []string
		dir := v.PlatformOut(s.platform.Name())
		for _, arch := range s.platform.Archs() {
			if build.ReadRecord(dir, arch) != fp {
				stale = append(stale, arch)
			}
		}
		status := "up to date"
		if len(stale) > 0 {
			status = "stale: " + strings.Join(stale, ",")
		}
		fmt.Fprintf(out, "%s\t%s\t%s\n", name, fp, status)
	}
	return nil
}
