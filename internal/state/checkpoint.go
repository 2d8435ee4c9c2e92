package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// CheckpointStore tracks the furthest processed date per pipeline stage in
// a single small JSON document, e.g. {"daily": "2026-08-27"}.
//
// Advance only replaces a key's value when the candidate is lexicographically
// greater, which is correct for ISO-8601 dates. Stale or late writes are
// silently ignored, so concurrent workers can report completion in any order
// and the watermark still only moves forward.
type CheckpointStore struct {
	path   string
	logger *slog.Logger

	mu     sync.Mutex
	stages map[string]string
}

// NewCheckpointStore opens (or creates) the checkpoint document at path.
// A malformed document is logged and treated as empty: the forward-only
// semantics make empty-recovery safe, re-processing is idempotent.
func NewCheckpointStore(path string, logger *slog.Logger) (*CheckpointStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &CheckpointStore{
		path:   path,
		logger: logger,
		stages: make(map[string]string),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint document: %w", err)
	}

	if err := json.Unmarshal(data, &s.stages); err != nil {
		logger.Warn("checkpoint document malformed, starting empty",
			"path", path, "error", err.Error())
		s.stages = make(map[string]string)
	}

	return s, nil
}

// Advance performs an atomic read-modify-write: the stored value for key is
// replaced only if date is strictly greater. Returns true if the watermark
// moved. The lock spans the entire sequence so concurrent advances never
// interleave one goroutine's read with another's write.
func (s *CheckpointStore) Advance(key, date string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.stages[key]
	if ok && date <= current {
		s.logger.Debug("checkpoint not advanced",
			"key", key, "current", current, "candidate", date)
		return false, nil
	}

	s.stages[key] = date
	if err := s.save(); err != nil {
		// Roll back the in-memory value so a later retry re-attempts the write.
		if ok {
			s.stages[key] = current
		} else {
			delete(s.stages, key)
		}
		return false, err
	}

	s.logger.Info("checkpoint advanced", "key", key, "date", date)
	return true, nil
}

// Get returns the stored date for key, if any.
func (s *CheckpointStore) Get(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.stages[key]
	return v, ok
}

// CatchUpRange computes the backfill range for key: the day after the
// checkpoint through until (inclusive). With no checkpoint recorded the
// range is just until itself. ok is false when the stage is already caught
// up (checkpoint >= until).
func (s *CheckpointStore) CatchUpRange(key string, until time.Time) (since time.Time, end time.Time, ok bool) {
	until = until.Truncate(24 * time.Hour)

	last, exists := s.Get(key)
	if !exists {
		return until, until, true
	}

	checkpoint, err := time.Parse(time.DateOnly, last)
	if err != nil {
		s.logger.Warn("checkpoint value not a date, catching up from today",
			"key", key, "value", last)
		return until, until, true
	}

	since = checkpoint.AddDate(0, 0, 1)
	if since.After(until) {
		return time.Time{}, time.Time{}, false
	}
	return since, until, true
}

// save must be called with s.mu held.
func (s *CheckpointStore) save() error {
	data, err := json.MarshalIndent(s.stages, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoint document: %w", err)
	}
	return writeFileAtomic(s.path, data)
}
