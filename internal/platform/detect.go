package platform

import (
	"bufio"
	"context"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"golang.org/x/mod/semver"

	"github.com/goplus/vbuild/internal/proc"
)

// preferredNDKVersions are chosen over any other installed NDK, in order.
var preferredNDKVersions = []string{"19.2.5345600", "20.1.5948944", "21.0.6113669"}

var ndkEnvs = []string{"NDK_HOME", "NDK_PATH", "ANDROID_NDK_HOME", "ANDROID_NDK"}

type installation struct {
	Path    string
	Version string
}

// ndkVersion reads Pkg.Revision from an NDK's source.properties.
func ndkVersion(ndkPath string) string {
	if ndkPath == "" {
		return ""
	}
	if existing(filepath.Join(ndkPath, "ndk-build")) == "" && existing(filepath.Join(ndkPath, "ndk-build.cmd")) == "" {
		return ""
	}
	f, err := os.Open(filepath.Join(ndkPath, "source.properties"))
	if err != nil {
		return ""
	}
	defer f.Close()
	s := bufio.NewScanner(f)
	for s.Scan() {
		line := s.Text()
		if !strings.Contains(line, "Pkg.Revision") {
			continue
		}
		if _, v, ok := strings.Cut(line, "="); ok {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func findNDK(lookup func(string) (string, bool)) installation {
	var found []installation
	add := func(path string) {
		if v := ndkVersion(path); v != "" {
			found = append(found, installation{Path: path, Version: v})
		}
	}
	for _, env := range ndkEnvs {
		if v, ok := lookup(env); ok {
			add(v)
		}
	}
	var sdks []string
	if v, ok := lookup("ANDROID_HOME"); ok && v != "" {
		sdks = append(sdks, v)
	}
	if home, ok := lookup("HOME"); ok && home != "" {
		sdks = append(sdks, filepath.Join(home, "Library", "Android", "sdk"), filepath.Join(home, "Android", "Sdk"))
	}
	for _, sdk := range sdks {
		add(filepath.Join(sdk, "ndk-bundle"))
		entries, _ := os.ReadDir(filepath.Join(sdk, "ndk"))
		for _, e := range entries {
			add(filepath.Join(sdk, "ndk", e.Name()))
		}
	}
	return pickNDK(found)
}

// pickNDK prefers a known-good version, then the highest installed one.
func pickNDK(found []installation) installation {
	for _, want := range preferredNDKVersions {
		for _, ndk := range found {
			if ndk.Version == want {
				return ndk
			}
		}
	}
	if len(found) == 0 {
		return installation{}
	}
	sorted := slices.Clone(found)
	slices.SortStableFunc(sorted, func(a, b installation) int {
		return -semver.Compare(canonical(a.Version), canonical(b.Version))
	})
	return sorted[0]
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return semver.Canonical(v)
}

func findMSVC(ctx context.Context, r proc.Runner, vswhere string) installation {
	query := func(property string) string {
		out := proc.Output(ctx, r, &proc.Command{
			Name: vswhere,
			Args: []string{
				"-latest", "-products", "*",
				"-requires", "Microsoft.VisualStudio.Component.VC.Tools.x86.x64",
				"-property", property,
			},
		})
		return lastLine(out)
	}
	path := query("installationPath")
	if path == "" || existing(path) == "" {
		return installation{}
	}
	return installation{Path: path, Version: query("installationVersion")}
}

func lastLine(s string) string {
	lines := strings.Split(strings.ReplaceAll(strings.TrimSpace(s), "\r\n", "\n"), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+`)

func findEmscriptenVersion(ctx context.Context, r proc.Runner) string {
	out := proc.Output(ctx, r, &proc.Command{Name: "emcc", Args: []string{"--version"}})
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "emcc") {
			return versionPattern.FindString(line)
		}
	}
	return ""
}
