package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/caevv/gitpulse/internal/config"
	"github.com/caevv/gitpulse/internal/ghes"
	"github.com/caevv/gitpulse/internal/llm"
	"github.com/caevv/gitpulse/internal/logging"
	"github.com/caevv/gitpulse/internal/pipeline"
	"github.com/caevv/gitpulse/internal/source"
	"github.com/caevv/gitpulse/internal/state"
	"github.com/caevv/gitpulse/internal/tasks"
)

// checkpointKey is the daily pipeline's stage key in the checkpoint store.
const checkpointKey = "daily"

// app holds the wired pipeline components shared by the run, backfill,
// query and schedule commands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	pool        *ghes.Pool
	cache       *state.ChunkCache
	checkpoints *state.CheckpointStore
	batches     *state.BatchJobStore

	provider     llm.Provider
	manager      *llm.Manager
	summarizer   *source.LLMSummarizer
	fetcher      *source.GHESFetcher
	registry     *pipeline.SourceRegistry
	orchestrator *pipeline.Orchestrator
	queue        *tasks.Queue
}

// loadConfig loads the file and installs the configured process logger.
// Setup is first-call-wins, so a logger already installed (e.g. by the
// --debug flag) is left alone.
func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := logging.Setup(cfg.Logging.Format, cfg.Logging.Level, cfg.Logging.Output); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	logger = slog.Default()
	return cfg, nil
}

// newApp wires the full pipeline. batchMode selects async batch
// summarization; callers that never summarize pass false.
func newApp(cfg *config.Config, batchMode bool) (*app, error) {
	dataDir := cfg.Pipeline.DataDir

	cache, err := state.NewChunkCache(filepath.Join(dataDir, "cache"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize chunk cache: %w", err)
	}
	checkpoints, err := state.NewCheckpointStore(filepath.Join(dataDir, "checkpoints.json"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize checkpoint store: %w", err)
	}
	batches, err := state.NewBatchJobStore(filepath.Join(dataDir, "batches.json"), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize batch job store: %w", err)
	}

	pool, err := ghes.NewPool(cfg.Pool.Size, func(i int) (ghes.Client, error) {
		return ghes.NewHTTPClient(cfg.Pool.BaseURL, cfg.Pool.Token), nil
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize client pool: %w", err)
	}

	provider, err := llm.NewProvider(cfg.LLM.Provider, cfg.LLM.APIKey, cfg.LLM.BaseURL)
	if err != nil {
		pool.Close()
		return nil, err
	}

	acquireTimeout := time.Duration(cfg.Pool.AcquireTimeout) * time.Second
	runner := pipeline.NewChunkRunner(cache, pool, cfg.Pipeline.Workers, acquireTimeout, logger)
	fetcher := source.NewGHESFetcher(runner, cache, dataDir, cfg.Pipeline.Query, logger)
	normalizer := source.NewJSONNormalizer(dataDir, cfg.Scheduler.Daily.Enrich, logger)

	a := &app{
		cfg:         cfg,
		logger:      logger,
		pool:        pool,
		cache:       cache,
		checkpoints: checkpoints,
		batches:     batches,
		provider:    provider,
		fetcher:     fetcher,
	}

	if batchMode {
		batch, ok := llm.AsBatch(provider)
		if !ok {
			pool.Close()
			return nil, fmt.Errorf("llm provider %s does not support batch summarization", cfg.LLM.Provider)
		}
		pollInterval := time.Duration(cfg.LLM.BatchPoll) * time.Second
		// The summarizer needs the manager and the manager delivers
		// results to the summarizer; bind the callback late.
		a.manager = llm.NewManager(batch, batches, func(ctx context.Context, task string, results map[string]string) error {
			return a.summarizer.HandleBatchResults(ctx, task, results)
		}, pollInterval, logger)
	}

	a.summarizer = source.NewLLMSummarizer(
		provider, a.manager, llm.DefaultPricing(), cfg.LLM.Model, dataDir, batchMode, logger)

	a.registry = pipeline.NewSourceRegistry()
	if err := a.registry.Register(pipeline.Source{
		Name:       source.Name,
		Fetcher:    fetcher,
		Normalizer: normalizer,
	}); err != nil {
		pool.Close()
		return nil, err
	}
	if cfg.Pipeline.Source != "" {
		if err := a.registry.SetDefault(cfg.Pipeline.Source); err != nil {
			pool.Close()
			return nil, err
		}
	}

	a.orchestrator, err = pipeline.NewOrchestrator(a.registry, a.summarizer, logger, pipeline.Options{
		Workers:    cfg.Pipeline.Workers,
		MaxRetries: cfg.Pipeline.MaxRetries,
	})
	if err != nil {
		pool.Close()
		return nil, err
	}

	a.queue = tasks.New(func(ctx context.Context, question string) (string, error) {
		return a.summarizer.Query(ctx, question, 1)
	}, cfg.LLM.QueryBuffer, logger)

	return a, nil
}

// Close releases the app's client pool.
func (a *app) Close() {
	a.pool.Close()
}

// runDay executes the pipeline for one date and advances the daily
// checkpoint on success.
func (a *app) runDay(ctx context.Context, src string, date time.Time) (string, error) {
	path, err := a.orchestrator.RunDailySource(ctx, src, date)
	if err != nil {
		return "", err
	}
	if _, err := a.checkpoints.Advance(checkpointKey, date.Format(time.DateOnly)); err != nil {
		a.logger.Error("advancing checkpoint", "date", date.Format(time.DateOnly), "error", err)
	}
	return path, nil
}

// runRange backfills [since, until] and advances the checkpoint through
// the leading run of consecutive successes.
func (a *app) runRange(ctx context.Context, src string, since, until time.Time) ([]pipeline.Result, error) {
	results, err := a.orchestrator.RunRange(ctx, src, since, until)
	if err != nil {
		return nil, err
	}

	// The checkpoint only moves over an unbroken prefix of successes;
	// a failed date holds it so the next catch-up retries from there.
	for _, r := range results {
		if r.Status != pipeline.RunSuccess {
			break
		}
		if _, err := a.checkpoints.Advance(checkpointKey, r.Date.Format(time.DateOnly)); err != nil {
			a.logger.Error("advancing checkpoint", "date", r.Date.Format(time.DateOnly), "error", err)
			break
		}
	}
	return results, nil
}

func parseDate(s string) (time.Time, error) {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", s, err)
	}
	return d, nil
}

// yesterday is the default pipeline target: the last complete day.
func yesterday() time.Time {
	t := time.Now().UTC().AddDate(0, 0, -1)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
