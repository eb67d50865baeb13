package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// modelDirs returns <exeDir>/models, ./models and any extra directories, in
// that order.
func modelDirs(exeDir string, extra ...string) []string {
	var dirs []string
	if exeDir != "" {
		dirs = append(dirs, filepath.Join(exeDir, "models"))
	}
	dirs = append(dirs, "models")
	for _, d := range extra {
		if d != "" {
			dirs = append(dirs, d)
		}
	}
	return dirs
}

func searchModel(filename string, dirs []string) (string, error) {
	searched := make([]string, 0, len(dirs))
	for _, d := range dirs {
		p := filepath.Join(d, filename)
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
		searched = append(searched, p)
	}
	var b strings.Builder
	for i, p := range searched {
		fmt.Fprintf(&b, "\n  %d. %s", i+1, p)
	}
	return "", fmt.Errorf("%w: %q, searched in:%s", ErrModelNotFound, filename, b.String())
}

// FindModelPath looks for filename next to the executable, in the working
// directory and then in dirs. An existing path given directly wins.
func FindModelPath(filename string, dirs ...string) (string, error) {
	if strings.ContainsRune(filename, os.PathSeparator) || strings.Contains(filename, "/") {
		if _, err := os.Stat(filename); err == nil {
			return filename, nil
		}
	}
	exeDir := ""
	if exePath, err := os.Executable(); err == nil {
		exeDir = filepath.Dir(exePath)
	}
	return searchModel(filename, modelDirs(exeDir, dirs...))
}
