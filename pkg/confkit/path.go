package confkit

import (
	"fmt"
	"os"
	"path/filepath"
)

const maxWalkDepth = 8

// ProjectRoot walks up from the working directory to the first directory that
// holds go.mod or .git. It returns the working directory when no marker is
// found.
func ProjectRoot() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return ".", fmt.Errorf("getwd: %w", err)
	}
	root := wd
	walkUp(wd, func(dir string) bool {
		if isModuleRoot(dir) {
			root = dir
			return true
		}
		return false
	})
	return root, nil
}

// ProjectPath joins rel onto ProjectRoot.
func ProjectPath(rel string) (string, error) {
	root, err := ProjectRoot()
	if err != nil {
		return "", err
	}
	return filepath.Join(root, rel), nil
}

// MustProjectPath is ProjectPath that panics on failure.
func MustProjectPath(rel string) string {
	p, err := ProjectPath(rel)
	if err != nil {
		panic(err)
	}
	return p
}

// walkUp calls visit for dir and its parents until visit returns true, the
// filesystem root is reached, or maxWalkDepth directories were visited.
func walkUp(dir string, visit func(string) bool) {
	for i := 0; i < maxWalkDepth; i++ {
		if visit(dir) {
			return
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return
		}
		dir = parent
	}
}

func isModuleRoot(dir string) bool {
	return fileExists(filepath.Join(dir, "go.mod")) || fileExists(filepath.Join(dir, ".git"))
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	_, err := os.Stat(p)
	return err == nil
}
