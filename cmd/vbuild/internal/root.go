package internal

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/gookit/color"
	"github.com/spf13/cobra"

	"github.com/goplus/vbuild/internal/toolchain"
)

var rootCmd = &cobra.Command{
	Use:   "vbuild",
	Short: "vbuild builds native vendor libraries",
	Long: `vbuild compiles the third-party libraries declared in a vendor manifest for
android, ios, mac, win, web, linux and ohos, and publishes them into a
predictable layout. Unchanged vendors are not rebuilt.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	configPath   string
	platformName string
	archName     string
	debugBuild   bool
	verbose      bool
	toolsDir     string
)

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "vendor.json", "Vendor manifest (.json, .yaml or .hcl)")
	flags.StringVarP(&platformName, "platform", "p", "", "Target platform (default: the host)")
	flags.StringVarP(&archName, "arch", "a", "", "Build a single architecture")
	flags.BoolVar(&debugBuild, "debug", false, "Build debug libraries")
	flags.BoolVarP(&verbose, "verbose", "v", false, "Show build tool output and debug logs")
	flags.StringVar(&toolsDir, "tools", "", "Directory of toolchain files and prebuilt tools (default: tools next to the executable)")
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		reportError(os.Stderr, err)
		os.Exit(1)
	}
}

// reportError prints err and, for a failed build, the captured tool output
// and the listing of its build directory.
func reportError(w io.Writer, err error) {
	fmt.Fprintln(w, color.Danger.Sprint("Error:"), err)
	var berr *toolchain.BuildError
	if errors.As(err, &berr) {
		if details := berr.Details(); details != "" {
			fmt.Fprint(w, details)
		}
	}
}
