package platform

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/goplus/vbuild/internal/proc"
)

type android struct {
	*base
	ndkHome string
}

func (p *android) CommandPath(cmd, arch string) string {
	prefix := "arm-linux-androideabi-"
	if arch == "arm64" {
		prefix = "aarch64-linux-android-"
	}
	bin := filepath.Join(p.ndkHome, "toolchains", "llvm", "prebuilt", ndkHostTag(), "bin")
	for _, name := range []string{prefix + cmd, "llvm-" + cmd} {
		if path := existing(filepath.Join(bin, name)); path != "" {
			return path
		}
	}
	return p.base.CommandPath(cmd, arch)
}

func (p *android) CMakeArgs(arch string) []string {
	args := []string{
		"-DCMAKE_TOOLCHAIN_FILE=" + filepath.Join(p.ndkHome, "build", "cmake", "android.toolchain.cmake"),
		"-DANDROID_PLATFORM=android-19",
		"-DANDROID_NDK=" + p.ndkHome,
	}
	switch arch {
	case "arm":
		args = append(args, "-DANDROID_ABI=armeabi-v7a", "-DANDROID_ARM_NEON=ON")
	case "arm64":
		args = append(args, "-DANDROID_ABI=arm64-v8a")
	case "x64":
		args = append(args, "-DANDROID_ABI=x86_64")
	case "x86":
		args = append(args, "-DANDROID_ABI=x86")
	}
	return args
}

func ndkHostTag() string {
	goos := runtime.GOOS
	if goos == "windows" {
		return "windows-x86_64"
	}
	return goos + "-x86_64"
}

// apple covers ios and mac.
type apple struct {
	*base
}

func (p *apple) toolchainFile() string {
	return filepath.Join(p.opts.ToolsDir, "ios.toolchain.cmake")
}

func (p *apple) CMakeArgs(arch string) []string {
	args := []string{"-DCMAKE_TOOLCHAIN_FILE=" + p.toolchainFile()}
	if p.kind == Mac {
		switch arch {
		case "x64":
			args = append(args, "-DPLATFORM=MAC")
		case "arm64":
			args = append(args, "-DPLATFORM=MAC_ARM64")
		}
		return args
	}
	switch arch {
	case "x64":
		args = append(args, "-DPLATFORM=SIMULATOR64")
	case "arm64-simulator":
		args = append(args, "-DPLATFORM=SIMULATORARM64")
	case "arm":
		args = append(args, "-DPLATFORM=OS", "-DARCHS=armv7")
	default:
		args = append(args, "-DPLATFORM=OS64")
	}
	return args
}

func (p *apple) NativeGenerator() string { return "Xcode" }

func (p *apple) NativeBuildCommand(target, arch string, jobs int) []string {
	sdk := "macosx"
	if p.kind == IOS {
		sdk = ""
		switch arch {
		case "arm", "arm64":
			sdk = "iphoneos"
		case "x64", "arm64-simulator":
			sdk = "iphonesimulator"
		}
	}
	archName := ""
	switch arch {
	case "arm64", "arm64-simulator":
		archName = "arm64"
	case "x64":
		archName = "x86_64"
	case "arm":
		archName = "armv7"
	}
	buildType := p.BuildType()
	args := []string{"xcodebuild", "-target", target, "-configuration", buildType}
	if sdk != "" {
		args = append(args, "-sdk", sdk)
	}
	if archName != "" {
		args = append(args, "-arch", archName)
	}
	if buildType == "Release" {
		args = append(args, "BUILD_LIBRARY_FOR_DISTRIBUTION=YES")
	}
	return append(args, "-jobs", strconv.Itoa(jobs))
}

// xcframeworkSlices groups the platform archs by xcframework slice.
func (p *apple) xcframeworkSlices() ([]string, map[string][]string) {
	if p.kind == Mac {
		key := "macos-" + strings.Join(p.archs, "_")
		return []string{key}, map[string][]string{key: p.Archs()}
	}
	var device, simulator, simulatorNames []string
	for _, arch := range p.archs {
		switch arch {
		case "arm", "arm64":
			device = append(device, arch)
		case "arm64-simulator":
			simulator = append(simulator, arch)
			simulatorNames = append(simulatorNames, "arm64")
		default:
			simulator = append(simulator, arch)
			simulatorNames = append(simulatorNames, arch)
		}
	}
	var keys []string
	groups := make(map[string][]string)
	if len(device) > 0 {
		key := "ios-" + strings.Join(device, "_")
		keys = append(keys, key)
		groups[key] = device
	}
	if len(simulator) > 0 {
		key := "ios-" + strings.Join(simulatorNames, "_") + "-simulator"
		keys = append(keys, key)
		groups[key] = simulator
	}
	return keys, groups
}

type win struct {
	*base
	vcvars64 string
	vcvars32 string
}

func (p *win) CMakeArgs(string) []string {
	return []string{
		"-DCMAKE_C_FLAGS_RELEASE=/Zc:inline",
		"-DCMAKE_PROJECT_INCLUDE=" + filepath.Join(p.opts.ToolsDir, "win.msvc.cmake"),
	}
}

// Wrap runs cmd after the vcvars script of arch unless the current shell
// already carries a matching developer environment.
func (p *win) Wrap(cmd *proc.Command, arch string) *proc.Command {
	devEnv, _ := p.opts.Lookup("DevEnvDir")
	platform, _ := p.opts.Lookup("Platform")
	if devEnv != "" && platform == arch {
		return cmd
	}
	vcvars := p.vcvars64
	if arch == "x86" {
		vcvars = p.vcvars32
	}
	if vcvars == "" {
		return cmd
	}
	return &proc.Command{
		Name: "cmd",
		Args: []string{"/c", `"` + vcvars + `" && ` + cmd.String()},
		Dir:  cmd.Dir,
		Env:  cmd.Env,
	}
}

type web struct {
	*base
}

// CommandPath maps tools to their emscripten wrappers (emcmake, emar).
func (p *web) CommandPath(cmd, arch string) string {
	if cmd == "ninja" {
		return p.base.CommandPath(cmd, arch)
	}
	return p.base.CommandPath("em"+cmd, arch)
}

func (p *web) CMakeCommand(arch string) []string {
	return []string{p.CommandPath("cmake", arch), "cmake"}
}

func isDir(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.IsDir()
}
