package util

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureDir creates the upload or artifact directory if it is missing.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", path, err)
	}
	return nil
}

// SafeJoin joins a caller-supplied name under root, stripping any path
// components so document ids and filenames cannot escape the data roots.
func SafeJoin(root, name string) string {
	return filepath.Join(root, filepath.Base(name))
}
