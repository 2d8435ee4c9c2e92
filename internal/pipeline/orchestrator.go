// Package pipeline contains the multi-stage orchestrator and its
// resumability machinery: per-stage failure classification, per-date
// isolation in range backfills, month-window chunking, and the retry
// ceiling that turns flapping dates into reported permanent failures.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// RunStatus is the outcome of one date's pipeline run.
type RunStatus string

// Run outcomes.
const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
)

// Result is the per-date outcome record produced by RunRange. It is never
// persisted by the pipeline itself; the caller decides what to aggregate.
type Result struct {
	Date   time.Time `json:"date"`
	Status RunStatus `json:"status"`
	Path   string    `json:"path,omitempty"`
	Error  string    `json:"error,omitempty"`
}

// Options tune an Orchestrator. Zero values pick the documented defaults.
type Options struct {
	// Workers bounds the fan-out of RunRange. Default 5.
	Workers int
	// MaxRetries is the per-date attempt ceiling. Default 5.
	MaxRetries int
}

// Orchestrator sequences fetch → normalize → summarize per calendar date.
// It owns no persistent state: all durability lives in the stores handed
// to the stage implementations.
type Orchestrator struct {
	registry   *SourceRegistry
	summarizer Summarizer
	logger     *slog.Logger
	workers    int
	maxRetries int

	// attempts counts runs per source+date for the retry ceiling.
	// In-memory on purpose: a restart grants a fresh retry budget.
	attemptsMu sync.Mutex
	attempts   map[string]int
}

// NewOrchestrator wires the orchestrator over a source registry and the
// shared summarize stage.
func NewOrchestrator(registry *SourceRegistry, summarizer Summarizer, logger *slog.Logger, opts Options) (*Orchestrator, error) {
	if registry == nil {
		return nil, fmt.Errorf("source registry is required")
	}
	if summarizer == nil {
		return nil, fmt.Errorf("summarizer is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}

	return &Orchestrator{
		registry:   registry,
		summarizer: summarizer,
		logger:     logger,
		workers:    opts.Workers,
		maxRetries: opts.MaxRetries,
		attempts:   make(map[string]int),
	}, nil
}

// RunDaily executes the three stages for one date against the default
// source and returns the summary artifact path.
func (o *Orchestrator) RunDaily(ctx context.Context, date time.Time) (string, error) {
	return o.RunDailySource(ctx, "", date)
}

// RunDailySource is RunDaily against a named source ("" means default).
// Each stage's error is re-raised as a StepError naming the failing stage;
// stages after a failure are never attempted for that date.
func (o *Orchestrator) RunDailySource(ctx context.Context, source string, date time.Time) (string, error) {
	src, err := o.registry.Get(source)
	if err != nil {
		return "", err
	}

	date = date.Truncate(24 * time.Hour)
	day := date.Format(time.DateOnly)

	if err := o.admitAttempt(src.Name, day); err != nil {
		return "", err
	}

	o.logger.Info("pipeline run starting", "source", src.Name, "date", day)

	paths, err := src.Fetcher.FetchDay(ctx, date)
	if err != nil {
		return "", o.fail(src.Name, day, StageFetch, err)
	}
	o.logger.Debug("fetch stage complete", "source", src.Name, "date", day, "artifacts", len(paths))

	if _, _, err := src.Normalizer.NormalizeDay(ctx, date); err != nil {
		return "", o.fail(src.Name, day, StageNormalize, err)
	}
	o.logger.Debug("normalize stage complete", "source", src.Name, "date", day)

	summaryPath, err := o.summarizer.SummarizeDay(ctx, date)
	if err != nil {
		return "", o.fail(src.Name, day, StageSummarize, err)
	}

	o.clearAttempts(src.Name, day)
	o.logger.Info("pipeline run complete", "source", src.Name, "date", day, "summary", summaryPath)
	return summaryPath, nil
}

// RunRange runs every date in [since, until] inclusive and returns one
// outcome record per date, date-ascending. A failure on one date never
// aborts the range: it is recorded and iteration continues. Dates fan out
// across at most Workers goroutines; record order is unaffected.
func (o *Orchestrator) RunRange(ctx context.Context, source string, since, until time.Time) ([]Result, error) {
	since = since.Truncate(24 * time.Hour)
	until = until.Truncate(24 * time.Hour)
	if since.After(until) {
		return nil, fmt.Errorf("%w: %s after %s",
			ErrInvalidRange, since.Format(time.DateOnly), until.Format(time.DateOnly))
	}
	// Resolve the source up front so an unknown name fails the call, not
	// every date.
	if _, err := o.registry.Get(source); err != nil {
		return nil, err
	}

	var dates []time.Time
	for d := since; !d.After(until); d = d.AddDate(0, 0, 1) {
		dates = append(dates, d)
	}

	results := make([]Result, len(dates))
	g := new(errgroup.Group)
	g.SetLimit(o.workers)

	for i, date := range dates {
		i, date := i, date
		g.Go(func() error {
			path, err := o.RunDailySource(ctx, source, date)
			if err != nil {
				results[i] = Result{
					Date:   date,
					Status: RunFailed,
					Error:  err.Error(),
				}
				return nil
			}
			results[i] = Result{
				Date:   date,
				Status: RunSuccess,
				Path:   path,
			}
			return nil
		})
	}
	g.Wait()

	succeeded := 0
	for _, r := range results {
		if r.Status == RunSuccess {
			succeeded++
		}
	}
	o.logger.Info("range backfill finished",
		"since", since.Format(time.DateOnly),
		"until", until.Format(time.DateOnly),
		"succeeded", succeeded,
		"total", len(results))

	return results, nil
}

// admitAttempt enforces the retry ceiling for one source+date.
func (o *Orchestrator) admitAttempt(source, day string) error {
	o.attemptsMu.Lock()
	defer o.attemptsMu.Unlock()

	key := source + "/" + day
	if o.attempts[key] >= o.maxRetries {
		return fmt.Errorf("%s attempted %d times: %w", day, o.attempts[key], ErrRetriesExhausted)
	}
	o.attempts[key]++
	return nil
}

func (o *Orchestrator) clearAttempts(source, day string) {
	o.attemptsMu.Lock()
	defer o.attemptsMu.Unlock()
	delete(o.attempts, source+"/"+day)
}

// fail logs and wraps a stage failure.
func (o *Orchestrator) fail(source, day string, stage Stage, err error) error {
	o.logger.Error("pipeline stage failed",
		"source", source, "date", day, "stage", string(stage), "error", err.Error())
	return stepFailed(stage, err)
}

// FailedDates extracts the dates of failed records, for targeted retries.
func FailedDates(results []Result) []time.Time {
	var failed []time.Time
	for _, r := range results {
		if r.Status == RunFailed {
			failed = append(failed, r.Date)
		}
	}
	return failed
}

// IsPermanent reports whether err marks a date past its retry ceiling.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrRetriesExhausted)
}
