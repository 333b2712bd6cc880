// Package state prepares the on-disk layout for the snapshot cache.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// EnsureCacheDir creates the cache directory with restrictive permissions
// and verifies it is a plain, writable directory. The cache holds cached
// conversation content, so group/other access is refused outright.
func EnsureCacheDir(path string) error {
	if path == "" {
		return fmt.Errorf("empty cache path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("cannot create parent for %s: %w", path, err)
	}
	if fi, err := os.Lstat(path); err == nil {
		if fi.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("cache path is a symlink: %s", path)
		}
		if !fi.IsDir() {
			return fmt.Errorf("cache path exists and is not a directory: %s", path)
		}
		if fi.Mode().Perm()&0o022 != 0 {
			return fmt.Errorf("cache path has permissive mode (group/other write): %s", path)
		}
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return fmt.Errorf("cannot create cache path %s: %w", path, err)
	}

	// writability check: create and remove a temp file
	tmp, err := os.CreateTemp(path, ".validate-*")
	if err != nil {
		return fmt.Errorf("cache path not writable: %s: %w", path, err)
	}
	name := tmp.Name()
	tmp.Close()
	if err := os.Remove(name); err != nil {
		return fmt.Errorf("cannot clean up validation file in %s: %w", path, err)
	}
	return nil
}
