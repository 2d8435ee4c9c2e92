package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

// eventsBucket holds history entries keyed by a monotonically increasing
// sequence number, so iteration order is insertion order.
const eventsBucket = "events"

// BoltHistory implements HistoryLog on BoltDB. Bolt's single-writer
// transactions provide the load-append-truncate-save serialization.
type BoltHistory struct {
	db  *bolt.DB
	max int
}

// NewBoltHistory creates a BoltDB-backed history log at path.
func NewBoltHistory(path string, max int) (*BoltHistory, error) {
	if max <= 0 {
		max = DefaultMaxEntries
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open boltdb at %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(eventsBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create events bucket: %w", err)
	}

	return &BoltHistory{db: db, max: max}, nil
}

// Record appends one entry and deletes the oldest beyond the cap.
func (h *BoltHistory) Record(e *Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return h.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(eventsBucket))

		seq, err := b.NextSequence()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := b.Put(key, data); err != nil {
			return fmt.Errorf("put event: %w", err)
		}

		// Drop oldest entries beyond the retention cap. Keys are collected
		// first: deleting through the bucket while a cursor iterates is
		// undefined in bolt.
		excess := b.Stats().KeyN + 1 - h.max // KeyN predates this tx's put
		var stale [][]byte
		c := b.Cursor()
		for k, _ := c.First(); k != nil && excess > 0; k, _ = c.Next() {
			key := make([]byte, len(k))
			copy(key, k)
			stale = append(stale, key)
			excess--
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return fmt.Errorf("truncate history: %w", err)
			}
		}

		return nil
	})
}

// List returns entries oldest-first, filtered and tail-limited.
func (h *BoltHistory) List(job string, limit int) ([]*Event, error) {
	var out []*Event

	err := h.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(eventsBucket))
		return b.ForEach(func(k, v []byte) error {
			var e Event
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal event: %w", err)
			}
			if job != "" && e.Job != job {
				return nil
			}
			out = append(out, &e)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// Close closes the underlying database.
func (h *BoltHistory) Close() error {
	return h.db.Close()
}
