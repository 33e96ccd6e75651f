package internal

import (
	"context"
	"os"
	"path/filepath"

	"github.com/qiniu/x/log"

	"github.com/goplus/vbuild/internal/env"
	"github.com/goplus/vbuild/internal/fingerprint"
	"github.com/goplus/vbuild/internal/manifest"
	"github.com/goplus/vbuild/internal/platform"
)

// session is what every command needs: the environment configuration, the
// target platform and the manifest resolved for it.
type session struct {
	cfg      env.Config
	platform platform.Platform
	graph    *manifest.Graph
	fp       *fingerprint.Engine
}

func newSession(ctx context.Context) (*session, error) {
	p, err := newPlatform(ctx)
	if err != nil {
		return nil, err
	}

	m, err := manifest.Load(configPath)
	if err != nil {
		return nil, err
	}
	g, err := manifest.ResolveGraph(m, manifest.Options{Platform: p.Name(), Debug: p.Debug()})
	if err != nil {
		return nil, err
	}
	return &session{
		cfg:      env.Load(),
		platform: p,
		graph:    g,
		fp:       fingerprint.New(p.ToolVersion()),
	}, nil
}

// newPlatform detects the toolchain of the platform selected by the flags.
func newPlatform(ctx context.Context) (platform.Platform, error) {
	if verbose {
		log.SetOutputLevel(log.Ldebug)
	} else {
		log.SetOutputLevel(log.Linfo)
	}
	kind := platform.HostKind()
	if platformName != "" {
		kind = platform.Kind(platformName)
	}
	return platform.New(ctx, kind, platform.Options{
		Debug:    debugBuild,
		Verbose:  verbose,
		Arch:     archName,
		ToolsDir: defaultToolsDir(toolsDir),
	})
}

func defaultToolsDir(dir string) string {
	if dir != "" {
		return dir
	}
	exe, err := os.Executable()
	if err != nil {
		return ""
	}
	tools := filepath.Join(filepath.Dir(exe), "tools")
	if fi, err := os.Stat(tools); err == nil && fi.IsDir() {
		return tools
	}
	return ""
}
