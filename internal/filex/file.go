// Package filex prepares on-disk locations for storage files.
package filex

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates dir and its parents if missing and returns its absolute
// path. Relative paths resolve against the working directory.
func EnsureDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", fmt.Errorf("abs %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o770); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", abs, err)
	}
	return abs, nil
}

// EnsureParentDir creates the directory that will hold file.
func EnsureParentDir(file string) error {
	_, err := EnsureDir(filepath.Dir(file))
	return err
}
