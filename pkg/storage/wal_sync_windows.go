//go:build windows
// +build windows

package storage

import (
	"fmt"
	"os"
)

// syncDir is a no-op on Windows: NTFS journals directory metadata, and
// opening a directory for Sync fails with "Access is denied" anyway. File
// content durability still comes from the WAL's own file fsync.
func syncDir(dir string) error {
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("wal: directory does not exist: %w", err)
	}
	return nil
}
