// Package util holds small support code shared across the node:
// crash-safe file writes and network-adjusted time.
package util

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/google/renameio/v2"
)

// AtomicWriteFile replaces path with data without ever exposing a
// partial file: the data is written to a temp file in the same
// directory, fsynced, and renamed over the target. The parent
// directory is synced afterwards so the rename itself is durable.
func AtomicWriteFile(path string, data []byte, perm fs.FileMode) error {
	if err := renameio.WriteFile(path, data, perm); err != nil {
		return err
	}
	return syncDir(filepath.Dir(path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer d.Close()
	if err := d.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) {
		// EINVAL: filesystem does not support directory sync.
		return err
	}
	return nil
}

// EnsureDir creates dir (and parents) if missing.
func EnsureDir(dir string) error {
	return os.MkdirAll(dir, 0o750)
}
