package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"
)

// BatchStatus is the lifecycle state of an asynchronous LLM batch job.
type BatchStatus string

// Batch job statuses. Transitions are monotonic toward a terminal state.
const (
	BatchSubmitted  BatchStatus = "submitted"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchExpired    BatchStatus = "expired"
)

// Terminal reports whether a status is final and must never be reverted.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchExpired:
		return true
	}
	return false
}

// BatchJob records one outstanding asynchronous batch submission.
type BatchJob struct {
	BatchID     string      `json:"batch_id"`
	Provider    string      `json:"provider"`
	Task        string      `json:"task"`
	CustomIDs   []string    `json:"custom_ids"`
	SubmittedAt time.Time   `json:"submitted_at"`
	Status      BatchStatus `json:"status"`
}

// BatchJobStore tracks outstanding batch submissions for crash recovery.
// On restart, ActiveJobs is the resume entry point: every returned job is
// re-polled instead of re-submitted.
//
// Every mutation rewrites the whole in-memory map to the backing document,
// trading write amplification for simplicity: there is no partial-write
// window larger than one full-document write.
type BatchJobStore struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	jobs map[string]*BatchJob
}

// NewBatchJobStore opens (or creates) the batch-job document at path.
// A malformed document is logged and treated as empty; the provider's
// remote state is authoritative, so empty-recovery is safe.
func NewBatchJobStore(path string, logger *slog.Logger) (*BatchJobStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	s := &BatchJobStore{
		path:   path,
		logger: logger,
		jobs:   make(map[string]*BatchJob),
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read batch job document: %w", err)
	}

	if err := json.Unmarshal(data, &s.jobs); err != nil {
		logger.Warn("batch job document malformed, starting empty",
			"path", path, "error", err.Error())
		s.jobs = make(map[string]*BatchJob)
	}

	return s, nil
}

// Save records a newly submitted batch job with status submitted.
func (s *BatchJobStore) Save(batchID, provider, task string, customIDs []string) error {
	if batchID == "" {
		return fmt.Errorf("batch_id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, len(customIDs))
	copy(ids, customIDs)

	s.jobs[batchID] = &BatchJob{
		BatchID:     batchID,
		Provider:    provider,
		Task:        task,
		CustomIDs:   ids,
		SubmittedAt: time.Now().UTC(),
		Status:      BatchSubmitted,
	}

	if err := s.save(); err != nil {
		delete(s.jobs, batchID)
		return err
	}

	s.logger.Info("batch job recorded",
		"batch_id", batchID, "provider", provider, "task", task, "requests", len(ids))
	return nil
}

// UpdateStatus transitions a job's status. Updating to the current status
// is an idempotent no-op; reverting a terminal status is refused and
// logged, never applied.
func (s *BatchJobStore) UpdateStatus(batchID string, status BatchStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[batchID]
	if !ok {
		return fmt.Errorf("unknown batch job: %s", batchID)
	}
	if job.Status == status {
		return nil
	}
	if job.Status.Terminal() {
		s.logger.Warn("refusing to revert terminal batch status",
			"batch_id", batchID, "current", string(job.Status), "candidate", string(status))
		return nil
	}

	prev := job.Status
	job.Status = status
	if err := s.save(); err != nil {
		job.Status = prev
		return err
	}

	s.logger.Info("batch job status updated",
		"batch_id", batchID, "from", string(prev), "to", string(status))
	return nil
}

// Get returns a copy of the record for batchID.
func (s *BatchJobStore) Get(batchID string) (BatchJob, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[batchID]
	if !ok {
		return BatchJob{}, false
	}
	return *job, true
}

// ActiveJobs returns copies of every job not yet in a terminal state,
// oldest submission first.
func (s *BatchJobStore) ActiveJobs() []BatchJob {
	s.mu.Lock()
	defer s.mu.Unlock()

	var active []BatchJob
	for _, job := range s.jobs {
		if !job.Status.Terminal() {
			active = append(active, *job)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].SubmittedAt.Before(active[j].SubmittedAt)
	})
	return active
}

// Remove deletes a record once its results have been consumed.
// Removing a non-existent id is a no-op.
func (s *BatchJobStore) Remove(batchID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[batchID]
	if !ok {
		return nil
	}

	delete(s.jobs, batchID)
	if err := s.save(); err != nil {
		s.jobs[batchID] = job
		return err
	}

	s.logger.Info("batch job removed", "batch_id", batchID)
	return nil
}

// save must be called with s.mu held.
func (s *BatchJobStore) save() error {
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal batch job document: %w", err)
	}
	return writeFileAtomic(s.path, data)
}
