package internal

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/goplus/vbuild/internal/build"
	"github.com/goplus/vbuild/internal/lockedfile"
)

var cleanAll bool

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove outputs of vendors the manifest no longer declares",
	Long: `Clean removes output directories of vendors that are no longer declared.
Only directories holding hash records are removed. With --all, the outputs
of every vendor for the target platform are removed as well.`,
	RunE: runClean,
}

func init() {
	cleanCmd.Flags().BoolVar(&cleanAll, "all", false, "Also remove the outputs of declared vendors for the platform")
	rootCmd.AddCommand(cleanCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	s, err := newSession(context.Background())
	if err != nil {
		return err
	}
	lock := lockedfile.Options{Timeout: s.cfg.LockTimeout, StaleThreshold: s.cfg.StaleThreshold}
	o := build.New(build.Options{Graph: s.graph, Archs: s.platform.Archs(), Lock: lock})
	removed, err := o.CollectGarbage("")
	if err != nil {
		return err
	}
	for _, dir := range removed {
		color.Info.Printf("Removed %s\n", dir)
	}
	if !cleanAll {
		return nil
	}
	for _, name := range s.graph.Order {
		dir := s.graph.Vendors[name].PlatformOut(s.platform.Name())
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		err := lockedfile.WithLock(dir, lock, func() error {
			entries, err := os.ReadDir(dir)
			if err != nil {
				return err
			}
			for _, e := range entries {
				if strings.HasPrefix(e.Name(), lockedfile.LockName) {
					continue
				}
				if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		color.Info.Printf("Removed %s\n", dir)
	}
	return nil
}
