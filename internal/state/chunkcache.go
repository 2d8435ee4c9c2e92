package state

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ErrNotCached signals that no payload was ever saved for a chunk key.
// The fetch stage treats it as the sole resume signal: a cache hit means
// the remote search for that window must not be re-issued.
var ErrNotCached = errors.New("chunk not cached")

// ChunkCache stores the raw search payload of each time window as one JSON
// file per sanitized chunk key. A record, once written, is immutable truth
// for that chunk until explicitly cleared; writes are atomic so a reader
// never sees a partial payload.
//
// No cache-wide lock is needed: the pipeline guarantees a chunk's write
// happens-before any read of the same key, and distinct keys map to
// distinct files.
type ChunkCache struct {
	dir    string
	logger *slog.Logger
}

// NewChunkCache creates the cache directory if needed.
func NewChunkCache(dir string, logger *slog.Logger) (*ChunkCache, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create chunk cache directory: %w", err)
	}
	return &ChunkCache{dir: dir, logger: logger}, nil
}

// SanitizeChunkKey makes a chunk key safe for use as a file name by
// replacing path separators.
func SanitizeChunkKey(key string) string {
	r := strings.NewReplacer("/", "_", "\\", "_", string(os.PathSeparator), "_")
	return r.Replace(key)
}

// Save durably writes payload as a single atomic unit.
func (c *ChunkCache) Save(key string, payload []byte) error {
	path := c.pathFor(key)
	if err := writeFileAtomic(path, payload); err != nil {
		return fmt.Errorf("save chunk %s: %w", key, err)
	}
	c.logger.Debug("chunk cached", "key", key, "bytes", len(payload))
	return nil
}

// Load returns the previously saved payload, or ErrNotCached.
func (c *ChunkCache) Load(key string) ([]byte, error) {
	data, err := os.ReadFile(c.pathFor(key))
	if os.IsNotExist(err) {
		return nil, ErrNotCached
	}
	if err != nil {
		return nil, fmt.Errorf("load chunk %s: %w", key, err)
	}
	return data, nil
}

// Clear invalidates one chunk. Clearing an absent key is a no-op.
func (c *ChunkCache) Clear(key string) error {
	err := os.Remove(c.pathFor(key))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear chunk %s: %w", key, err)
	}
	return nil
}

// ClearAll invalidates every cached chunk.
func (c *ChunkCache) ClearAll() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return fmt.Errorf("read chunk cache directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return fmt.Errorf("clear chunk file %s: %w", e.Name(), err)
		}
	}
	c.logger.Info("chunk cache cleared", "dir", c.dir)
	return nil
}

func (c *ChunkCache) pathFor(key string) string {
	return filepath.Join(c.dir, SanitizeChunkKey(key)+".json")
}
