//go:build !windows
// +build !windows

package storage

import (
	"fmt"
	"os"
)

// syncDir fsyncs a directory so metadata changes (file creation, truncation)
// survive a crash. Syncing the file alone is not enough on Unix: the
// directory entry itself must reach disk or the file can be orphaned.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("wal: open directory for sync: %w", err)
	}
	defer d.Close()

	if err := d.Sync(); err != nil {
		return fmt.Errorf("wal: sync directory: %w", err)
	}
	return nil
}
