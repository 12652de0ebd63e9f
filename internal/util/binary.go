// Package util provides shared helpers for locating and invoking external tools.
package util

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// ErrBinaryNotFound is returned when no executable candidate exists.
var ErrBinaryNotFound = errors.New("binary not found")

// FindBinary locates an executable by name. Candidates are tried in order:
// the path held by envVar, name inside each of dirs, then the PATH.
// A candidate that exists but is not executable is skipped.
func FindBinary(name, envVar string, dirs ...string) (string, error) {
	if envVar != "" {
		if p := os.Getenv(envVar); p != "" && IsExecutable(p) {
			return p, nil
		}
	}

	for _, dir := range dirs {
		if p := filepath.Join(dir, name); IsExecutable(p) {
			return p, nil
		}
	}

	if p, err := exec.LookPath(name); err == nil {
		return p, nil
	}

	return "", fmt.Errorf("%w: %s", ErrBinaryNotFound, name)
}

// IsExecutable reports whether path is a regular file with any execute bit set.
func IsExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode()&0o111 != 0
}
