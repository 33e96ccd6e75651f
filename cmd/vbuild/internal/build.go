package internal

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gookit/color"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/goplus/vbuild/internal/archive"
	"github.com/goplus/vbuild/internal/build"
	"github.com/goplus/vbuild/internal/lockedfile"
	"github.com/goplus/vbuild/internal/metrics"
	"github.com/goplus/vbuild/internal/publish"
	"github.com/goplus/vbuild/internal/toolchain"
	"github.com/goplus/vbuild/internal/upload"
)

var (
	buildOutput      string
	buildIncremental bool
	buildXCFramework bool
	buildStrip       bool
	buildArchive     string
	buildUpload      string
	buildMetricsFile string
)

var buildCmd = &cobra.Command{
	Use:   "build [vendor...]",
	Short: "Build vendors and publish their libraries",
	Long: `Build compiles the named vendors, or every vendor of the manifest, after
their dependencies. With --output the static libraries of all vendors
involved are combined into one library per architecture.`,
	RunE: runBuild,
}

func init() {
	flags := buildCmd.Flags()
	flags.StringVarP(&buildOutput, "output", "o", "", "Publish the combined libraries into this directory")
	flags.BoolVar(&buildIncremental, "incremental", false, "Keep cmake build trees between runs")
	flags.BoolVar(&buildXCFramework, "xcframework", false, "Also package published libraries as xcframeworks (ios, mac)")
	flags.BoolVar(&buildStrip, "strip", false, "Strip debug symbols from release libraries")
	flags.StringVar(&buildArchive, "archive", "", "Pack the publish directory into this .zip, .tar.gz, .tar.zst or .tar.xz file")
	flags.StringVar(&buildUpload, "upload", "", "Upload the archive to s3://bucket/prefix")
	flags.StringVar(&buildMetricsFile, "metrics-file", "", "Write Prometheus metrics to this file")
	rootCmd.AddCommand(buildCmd)
}

func runBuild(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	if buildArchive != "" && buildOutput == "" {
		return fmt.Errorf("--archive needs --output")
	}
	if buildUpload != "" && buildArchive == "" {
		return fmt.Errorf("--upload needs --archive")
	}
	var target upload.Target
	if buildUpload != "" {
		t, err := upload.ParseTarget(buildUpload)
		if err != nil {
			return err
		}
		target = t
	}

	s, err := newSession(ctx)
	if err != nil {
		return err
	}
	p := s.platform
	rec := metrics.New(p.Name())
	if buildMetricsFile != "" {
		defer func() {
			if err := rec.WriteFile(buildMetricsFile); err != nil {
				color.Warn.Println("failed to write metrics:", err)
			}
		}()
	}

	tc := toolchain.New(toolchain.Options{
		Platform:    p,
		Jobs:        s.cfg.Jobs,
		MaxRetries:  s.cfg.MaxRetries,
		Incremental: buildIncremental,
		Strip:       buildStrip,
	})
	agg := &publish.Aggregator{Tool: p.LibraryTool(), XCFramework: buildXCFramework}
	if !verbose && term.IsTerminal(int(os.Stderr.Fd())) {
		agg.Progress = progressbar.NewOptions(len(p.Archs()),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionSetDescription("publishing"),
			progressbar.OptionClearOnFinish(),
		)
	}
	o := build.New(build.Options{
		Graph:       s.graph,
		Archs:       p.Archs(),
		Fingerprint: s.fp,
		Toolchain:   tc,
		Publisher:   agg,
		Lock:        lockedfile.Options{Timeout: s.cfg.LockTimeout, StaleThreshold: s.cfg.StaleThreshold},
		Recorder:    rec,
	})

	outDir := buildOutput
	if outDir != "" {
		if outDir, err = filepath.Abs(outDir); err != nil {
			return err
		}
	}
	sum, err := o.BuildAll(ctx, args, outDir)
	if err != nil {
		return err
	}
	report(sum)

	if buildArchive == "" {
		return nil
	}
	if err := archive.Pack(outDir, buildArchive); err != nil {
		return err
	}
	if buildUpload == "" {
		return nil
	}
	u, err := upload.New(ctx, s.cfg.S3)
	if err != nil {
		return err
	}
	_, err = u.Upload(ctx, target, buildArchive)
	return err
}

func report(sum *build.Summary) {
	if len(sum.Built) == 0 {
		color.Info.Println("All vendors are up to date.")
	} else {
		color.Success.Printf("Built %s\n", strings.Join(sum.Built, ", "))
	}
	if len(sum.Published) > 0 {
		color.Success.Printf("Published %s\n", strings.Join(sum.Published, ", "))
	}
	for _, dir := range sum.Removed {
		color.Info.Printf("Removed %s\n", dir)
	}
}
