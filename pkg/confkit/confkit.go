// Package confkit holds the small pieces shared by every configuration loader:
// path resolution relative to the main config file, side-car sections and
// environment expansion.
package confkit

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolvePath expands environment references in file and anchors relative
// paths at base.
func ResolvePath(base, file string) string {
	file = os.ExpandEnv(strings.TrimSpace(file))
	if file == "" || filepath.IsAbs(file) {
		return file
	}
	return filepath.Join(base, file)
}

// BaseDir returns the directory that holds the main config file.
func BaseDir(mainPath string) string {
	return filepath.Dir(mainPath)
}

// Expand trims s and substitutes ${VAR} references from the environment.
func Expand(s string) string {
	return strings.TrimSpace(os.ExpandEnv(s))
}

// Section is a block of the main config that lives in its own file, e.g.
//
//	Alpaca:
//	  File: alpaca.yaml
type Section[T any] struct {
	File  string `json:",optional"`
	Value *T     `json:"-"`
}

// Hydrate loads File (resolved against base) through loader. An empty File
// leaves the section untouched.
func (s *Section[T]) Hydrate(base string, loader func(string) (*T, error)) error {
	if strings.TrimSpace(s.File) == "" {
		return nil
	}
	path := ResolvePath(base, s.File)
	v, err := loader(path)
	if err != nil {
		return err
	}
	s.File, s.Value = path, v
	return nil
}

// Configured reports whether the section carries a loaded value.
func (s Section[T]) Configured() bool {
	return s.Value != nil
}
