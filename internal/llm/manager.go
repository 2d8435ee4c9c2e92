package llm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/caevv/gitpulse/internal/state"
)

// ResultsFunc receives the per-custom-id outputs of a completed batch.
// task is the label the batch was submitted under.
type ResultsFunc func(ctx context.Context, task string, results map[string]string) error

// Manager drives batch jobs from submission to completion. Every job it
// submits is recorded in the BatchJobStore before the id is returned, so
// a restarted process finds it again via ActiveJobs and resumes polling
// instead of re-submitting.
type Manager struct {
	provider  BatchProvider
	store     *state.BatchJobStore
	onResults ResultsFunc
	interval  time.Duration
	logger    *slog.Logger
}

// DefaultPollInterval is how often active jobs are re-polled.
const DefaultPollInterval = 30 * time.Second

// NewManager wires a batch-capable provider to the job store. interval <= 0
// selects DefaultPollInterval.
func NewManager(provider BatchProvider, store *state.BatchJobStore, onResults ResultsFunc, interval time.Duration, logger *slog.Logger) *Manager {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Manager{
		provider:  provider,
		store:     store,
		onResults: onResults,
		interval:  interval,
		logger:    logger,
	}
}

// Submit sends the requests as one batch and records the job. The record
// is written before Submit returns; a crash after this point leaves a
// resumable job, never a lost one.
func (m *Manager) Submit(ctx context.Context, providerName, task string, reqs []BatchRequest) (string, error) {
	batchID, err := m.provider.SubmitBatch(ctx, reqs)
	if err != nil {
		return "", fmt.Errorf("submit batch for %s: %w", task, err)
	}

	customIDs := make([]string, 0, len(reqs))
	for _, r := range reqs {
		customIDs = append(customIDs, r.CustomID)
	}
	if err := m.store.Save(batchID, providerName, task, customIDs); err != nil {
		return "", fmt.Errorf("record batch %s: %w", batchID, err)
	}

	m.logger.Info("batch submitted", "batch_id", batchID, "task", task, "requests", len(reqs))
	return batchID, nil
}

// Run polls every active job until ctx is cancelled. It polls once
// immediately, which is the crash-recovery path: jobs recorded by a
// previous process are picked up on the first pass.
func (m *Manager) Run(ctx context.Context) error {
	if err := m.Poll(ctx); err != nil {
		m.logger.Warn("batch poll failed", "error", err)
	}

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Poll(ctx); err != nil {
				m.logger.Warn("batch poll failed", "error", err)
			}
		}
	}
}

// Poll checks each active job once, advancing its stored status and
// collecting results for the ones that completed. A failure on one job
// does not stop the others; the first error is returned after the pass.
func (m *Manager) Poll(ctx context.Context) error {
	jobs := m.store.ActiveJobs()

	var firstErr error
	for _, job := range jobs {
		if err := m.pollJob(ctx, job); err != nil {
			m.logger.Warn("batch job poll failed", "batch_id", job.BatchID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (m *Manager) pollJob(ctx context.Context, job state.BatchJob) error {
	status, err := m.provider.BatchStatus(ctx, job.BatchID)
	if err != nil {
		return err
	}

	if status == state.BatchCompleted {
		results, err := m.provider.BatchResults(ctx, job.BatchID)
		if err != nil {
			return fmt.Errorf("fetch results for batch %s: %w", job.BatchID, err)
		}
		if m.onResults != nil {
			if err := m.onResults(ctx, job.Task, results); err != nil {
				return fmt.Errorf("handle results for batch %s: %w", job.BatchID, err)
			}
		}
		// The record stays active until the results are handed off; a
		// crash in between re-delivers on the next poll rather than
		// losing the output.
		m.logger.Info("batch completed", "batch_id", job.BatchID, "task", job.Task, "results", len(results))
		return m.store.Remove(job.BatchID)
	}

	if status != job.Status {
		if err := m.store.UpdateStatus(job.BatchID, status); err != nil {
			return err
		}
		m.logger.Info("batch status changed", "batch_id", job.BatchID, "task", job.Task, "status", status)
	}
	return nil
}
