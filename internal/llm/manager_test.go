package llm

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/caevv/gitpulse/internal/state"
)

type fakeBatchProvider struct {
	mu       sync.Mutex
	submits  int
	statuses map[string]state.BatchStatus
	results  map[string]map[string]string
}

func newFakeBatchProvider() *fakeBatchProvider {
	return &fakeBatchProvider{
		statuses: make(map[string]state.BatchStatus),
		results:  make(map[string]map[string]string),
	}
}

func (p *fakeBatchProvider) SubmitBatch(ctx context.Context, reqs []BatchRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits++
	id := "batch-" + time.Now().Format("150405.000000000")
	p.statuses[id] = state.BatchSubmitted
	return id, nil
}

func (p *fakeBatchProvider) BatchStatus(ctx context.Context, batchID string) (state.BatchStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statuses[batchID], nil
}

func (p *fakeBatchProvider) BatchResults(ctx context.Context, batchID string) (map[string]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.results[batchID], nil
}

func (p *fakeBatchProvider) setStatus(id string, s state.BatchStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses[id] = s
}

func testManager(t *testing.T, provider BatchProvider, onResults ResultsFunc) (*Manager, *state.BatchJobStore) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, err := state.NewBatchJobStore(filepath.Join(t.TempDir(), "batches.json"), logger)
	if err != nil {
		t.Fatalf("NewBatchJobStore: %v", err)
	}
	return NewManager(provider, store, onResults, time.Minute, logger), store
}

func TestSubmitRecordsJobBeforeReturning(t *testing.T) {
	provider := newFakeBatchProvider()
	mgr, store := testManager(t, provider, nil)

	id, err := mgr.Submit(context.Background(), "openai", "daily-digest", []BatchRequest{
		{CustomID: "2026-08-27", Model: "gpt-4o-mini"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	job, ok := store.Get(id)
	if !ok {
		t.Fatal("submitted job not recorded in store")
	}
	if job.Task != "daily-digest" {
		t.Errorf("Task = %q, want %q", job.Task, "daily-digest")
	}
	if len(job.CustomIDs) != 1 || job.CustomIDs[0] != "2026-08-27" {
		t.Errorf("CustomIDs = %v", job.CustomIDs)
	}
}

func TestPollDeliversResultsAndRemovesJob(t *testing.T) {
	provider := newFakeBatchProvider()

	var (
		mu        sync.Mutex
		delivered map[string]string
		gotTask   string
	)
	onResults := func(ctx context.Context, task string, results map[string]string) error {
		mu.Lock()
		defer mu.Unlock()
		gotTask = task
		delivered = results
		return nil
	}

	mgr, store := testManager(t, provider, onResults)

	id, err := mgr.Submit(context.Background(), "openai", "weekly-digest", []BatchRequest{
		{CustomID: "a", Model: "gpt-4o-mini"},
		{CustomID: "b", Model: "gpt-4o-mini"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Still in flight: nothing delivered, job stays active.
	provider.setStatus(id, state.BatchProcessing)
	if err := mgr.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if delivered != nil {
		t.Fatal("results delivered before batch completed")
	}
	if len(store.ActiveJobs()) != 1 {
		t.Fatal("in-flight job dropped from active set")
	}

	provider.setStatus(id, state.BatchCompleted)
	provider.results[id] = map[string]string{"a": "summary a", "b": "summary b"}
	if err := mgr.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotTask != "weekly-digest" {
		t.Errorf("task = %q, want %q", gotTask, "weekly-digest")
	}
	if len(delivered) != 2 || delivered["a"] != "summary a" {
		t.Errorf("delivered = %v", delivered)
	}
	if _, ok := store.Get(id); ok {
		t.Error("completed job still in store after delivery")
	}
	if provider.submits != 1 {
		t.Errorf("submits = %d, want 1 (recovery must never re-submit)", provider.submits)
	}
}

func TestRecoveryRePollsRecordedJobs(t *testing.T) {
	provider := newFakeBatchProvider()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	path := filepath.Join(t.TempDir(), "batches.json")

	// First process submits and crashes before the batch finishes.
	store, err := state.NewBatchJobStore(path, logger)
	if err != nil {
		t.Fatalf("NewBatchJobStore: %v", err)
	}
	mgr := NewManager(provider, store, nil, time.Minute, logger)
	id, err := mgr.Submit(context.Background(), "openai", "monthly-digest", []BatchRequest{
		{CustomID: "2026-07", Model: "gpt-4o-mini"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	provider.setStatus(id, state.BatchCompleted)
	provider.results[id] = map[string]string{"2026-07": "july digest"}

	// Second process reloads the store and polls without re-submitting.
	var delivered map[string]string
	onResults := func(ctx context.Context, task string, results map[string]string) error {
		delivered = results
		return nil
	}
	store2, err := state.NewBatchJobStore(path, logger)
	if err != nil {
		t.Fatalf("reload store: %v", err)
	}
	mgr2 := NewManager(provider, store2, onResults, time.Minute, logger)
	if err := mgr2.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	if delivered["2026-07"] != "july digest" {
		t.Errorf("delivered = %v", delivered)
	}
	if provider.submits != 1 {
		t.Errorf("submits = %d, want 1", provider.submits)
	}
}

func TestFailedDeliveryKeepsJobActive(t *testing.T) {
	provider := newFakeBatchProvider()

	calls := 0
	onResults := func(ctx context.Context, task string, results map[string]string) error {
		calls++
		if calls == 1 {
			return context.DeadlineExceeded
		}
		return nil
	}

	mgr, store := testManager(t, provider, onResults)
	id, err := mgr.Submit(context.Background(), "openai", "daily-digest", []BatchRequest{
		{CustomID: "x", Model: "gpt-4o-mini"},
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	provider.setStatus(id, state.BatchCompleted)
	provider.results[id] = map[string]string{"x": "out"}

	if err := mgr.Poll(context.Background()); err == nil {
		t.Fatal("Poll did not report the delivery failure")
	}
	if len(store.ActiveJobs()) != 1 {
		t.Fatal("job removed despite failed delivery")
	}

	if err := mgr.Poll(context.Background()); err != nil {
		t.Fatalf("second Poll: %v", err)
	}
	if len(store.ActiveJobs()) != 0 {
		t.Error("job still active after successful delivery")
	}
}
