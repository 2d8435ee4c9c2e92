package state

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"
)

// EventStatus is the outcome of one scheduled-job firing.
type EventStatus string

// Event outcomes.
const (
	EventSuccess EventStatus = "success"
	EventFailed  EventStatus = "failed"
)

// Event is one entry in the scheduler's audit trail. Immutable once recorded.
type Event struct {
	RunID       string      `json:"run_id"`
	Job         string      `json:"job"`
	Status      EventStatus `json:"status"`
	TriggeredAt time.Time   `json:"triggered_at"`
	CompletedAt time.Time   `json:"completed_at,omitempty"`
	Target      string      `json:"target"` // the date or period the job processed
	Error       string      `json:"error,omitempty"`
}

// Duration returns the elapsed time for this firing.
func (e *Event) Duration() time.Duration {
	if e.CompletedAt.IsZero() {
		return 0
	}
	return e.CompletedAt.Sub(e.TriggeredAt)
}

// DefaultMaxEntries is the history retention cap when none is configured.
const DefaultMaxEntries = 100

// HistoryLog is the append-only, size-bounded audit trail of scheduled-job
// outcomes. Record appends one entry and drops the oldest beyond the cap.
type HistoryLog interface {
	// Record appends one entry, then truncates to the most recent cap.
	Record(e *Event) error

	// List returns entries oldest-first, optionally filtered by job name
	// ("" matches all) and tail-limited to the most recent limit (<=0
	// means no limit).
	List(job string, limit int) ([]*Event, error)

	// Close releases any resources held by the log.
	Close() error
}

// JSONHistory implements HistoryLog as a JSON array file, newest appended
// at the end. All access is serialized by one lock around the full
// load-append-truncate-save sequence.
type JSONHistory struct {
	path string
	max  int

	mu      sync.Mutex
	entries []*Event
}

// NewJSONHistory creates a JSON file-backed history log at path.
func NewJSONHistory(path string, max int) (*JSONHistory, error) {
	if max <= 0 {
		max = DefaultMaxEntries
	}

	h := &JSONHistory{path: path, max: max}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read history file: %w", err)
	}

	if err := json.Unmarshal(data, &h.entries); err != nil {
		// Availability over strict durability: an unreadable audit trail
		// must not block the scheduler.
		h.entries = nil
	}

	return h, nil
}

// Record appends one entry and truncates to the most recent max.
func (h *JSONHistory) Record(e *Event) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, e)
	if len(h.entries) > h.max {
		h.entries = h.entries[len(h.entries)-h.max:]
	}

	data, err := json.MarshalIndent(h.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}
	return writeFileAtomic(h.path, data)
}

// List returns entries oldest-first, filtered and tail-limited.
func (h *JSONHistory) List(job string, limit int) ([]*Event, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var out []*Event
	for _, e := range h.entries {
		if job != "" && e.Job != job {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Close is a no-op: no file handle is held open.
func (h *JSONHistory) Close() error {
	return nil
}
