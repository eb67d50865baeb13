package engine

import (
	"OnnxDepth/logger"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// LibEnv overrides the shared library lookup when no explicit path is given.
const LibEnv = "ONNXRUNTIME_LIB"

var (
	envMu       sync.Mutex
	libraryPath string
)

func detArch(system, arch string) (string, error) {
	switch arch {
	case "amd64":
		return fmt.Sprintf("%s-%s", system, "x64"), nil
	case "386":
		return fmt.Sprintf("%s-%s", system, "x86"), nil
	case "arm64":
		return fmt.Sprintf("%s-%s", system, "arm64"), nil
	default:
		return "", fmt.Errorf("architecture %s not supported", arch)
	}
}

func getPlatform(system, arch string) (string, error) {
	switch system {
	case "windows", "linux", "darwin":
		return detArch(system, arch)
	default:
		return "", fmt.Errorf("operating system %s not supported", system)
	}
}

func libName(system string) string {
	switch system {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// libCandidates lists the shared library locations in lookup order:
// explicit path, environment, <exeDir>/lib[/<platform>], ./lib[/<platform>].
func libCandidates(explicit, env, exeDir, system, platform string) []string {
	if explicit != "" {
		return []string{explicit}
	}
	var c []string
	if env != "" {
		c = append(c, env)
	}
	name := libName(system)
	if exeDir != "" {
		c = append(c,
			filepath.Join(exeDir, "lib", platform, name),
			filepath.Join(exeDir, "lib", name))
	}
	c = append(c,
		filepath.Join("lib", platform, name),
		filepath.Join("lib", name))
	return c
}

// resolveLibrary returns the first existing candidate. Without an explicit
// path it falls back to the bare library name so the system loader gets a
// chance (LD_LIBRARY_PATH, PATH, ...).
func resolveLibrary(explicit string, candidates []string, system string) (string, error) {
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		} else if !os.IsNotExist(err) {
			return "", fmt.Errorf("stat %s: %w", p, err)
		}
	}
	if explicit != "" {
		return "", fmt.Errorf("%w: missing shared library %s", ErrEngineNotLoaded, explicit)
	}
	return libName(system), nil
}

// LoadEngine 加载 onnxruntime 动态库并初始化全局环境，重复调用无副作用
func LoadEngine(libPath string) error {
	envMu.Lock()
	defer envMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	platform, err := getPlatform(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	// 基于可执行文件路径查找 lib 目录
	exeDir := ""
	if exePath, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exePath)
	}
	candidates := libCandidates(libPath, os.Getenv(LibEnv), exeDir, runtime.GOOS, platform)
	path, err := resolveLibrary(libPath, candidates, runtime.GOOS)
	if err != nil {
		return err
	}
	ort.SetSharedLibraryPath(path)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("%w: load %s failed: %w", ErrEngineNotLoaded, path, err)
	}
	libraryPath = path
	logger.Log().Info("Lib Loaded...", zap.String("path", path), zap.String("platform", platform))
	return nil
}

// Shutdown releases the onnxruntime environment. Sessions must be destroyed first.
func Shutdown() error {
	envMu.Lock()
	defer envMu.Unlock()
	if !ort.IsInitialized() {
		return nil
	}
	libraryPath = ""
	return ort.DestroyEnvironment()
}

func LibraryPath() string {
	envMu.Lock()
	defer envMu.Unlock()
	return libraryPath
}
