// Package state holds the persistent stores that make the pipeline
// resumable: the checkpoint watermark, the chunk cache, the batch-job
// recovery store, and the scheduler history. Each store exclusively owns
// its backing document and guards it with its own lock; no store's lock
// is held while waiting on another store or on remote I/O.
package state

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeFileAtomic writes data to a temp file and renames it over path,
// so readers never observe a partially written document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}

	return nil
}
