package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/caevv/gitpulse/internal/ghes"
	"github.com/caevv/gitpulse/internal/state"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// ChunkFetchFunc performs the remote search for one window using an
// acquired client and returns the raw payload to cache.
type ChunkFetchFunc func(ctx context.Context, c ghes.Client, w Window) ([]byte, error)

// ChunkRunner executes window fetches resumably: an elapsed window
// already in the cache is skipped without touching the pool, a miss is
// fetched through the pool and its payload written to the cache before
// the window counts as done. A window that is still open is always
// re-fetched, since its cached payload goes stale with every new day.
// Interrupting a multi-month fetch therefore costs only the
// not-yet-cached windows on resume.
type ChunkRunner struct {
	cache   *state.ChunkCache
	pool    *ghes.Pool
	workers int
	timeout time.Duration
	logger  *slog.Logger
	now     func() time.Time

	// flight coalesces concurrent fetches of the same window so a range
	// fanning out across dates issues one remote search per window.
	flight singleflight.Group
}

// NewChunkRunner wires a runner over the cache and the client pool.
// workers bounds concurrent fetches; timeout is the pool acquire timeout.
func NewChunkRunner(cache *state.ChunkCache, pool *ghes.Pool, workers int, timeout time.Duration, logger *slog.Logger) *ChunkRunner {
	if workers <= 0 {
		workers = 5
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ChunkRunner{
		cache:   cache,
		pool:    pool,
		workers: workers,
		timeout: timeout,
		logger:  logger,
		now:     time.Now,
	}
}

// SetClock overrides the time source used to decide whether a window has
// fully elapsed. Tests pin it; production keeps the wall clock.
func (r *ChunkRunner) SetClock(now func() time.Time) {
	r.now = now
}

// Run fetches every window not yet cached, bounded by the worker count.
// Open windows bypass the cache probe and fetch fresh, overwriting any
// stale record. The first fetch error cancels outstanding work and is
// returned; windows cached before the failure stay cached, which is what
// makes a re-run cheap. Cache writes happen-before Run returns for each
// window.
func (r *ChunkRunner) Run(ctx context.Context, windows []Window, fetch ChunkFetchFunc) error {
	now := r.now()
	var pending []Window
	for _, w := range windows {
		if w.OpenAt(now) {
			r.logger.Debug("window still open, forcing fresh search", "window", w.Key)
			pending = append(pending, w)
			continue
		}
		_, err := r.cache.Load(w.Key)
		if err == nil {
			r.logger.Debug("window cached, skipping remote search", "window", w.Key)
			continue
		}
		if !errors.Is(err, state.ErrNotCached) {
			return fmt.Errorf("probe window %s: %w", w.Key, err)
		}
		pending = append(pending, w)
	}

	if len(pending) == 0 {
		return nil
	}
	r.logger.Info("fetching windows",
		"total", len(windows), "cached", len(windows)-len(pending), "pending", len(pending))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.workers)

	for _, w := range pending {
		w := w
		g.Go(func() error {
			// A failed window cancels the group; windows not yet started
			// stay uncached so the next run picks them up.
			if err := gctx.Err(); err != nil {
				return err
			}
			// Concurrent Run calls for dates sharing a window piggyback on
			// the in-flight search instead of issuing their own.
			_, err, _ := r.flight.Do(w.Key, func() (any, error) {
				// An elapsed window may have been filled by a search that
				// finished after our cache probe.
				if !w.OpenAt(now) {
					if _, err := r.cache.Load(w.Key); err == nil {
						return nil, nil
					}
				}
				err := r.pool.WithClient(gctx, r.timeout, func(c ghes.Client) error {
					payload, err := fetch(gctx, c, w)
					if err != nil {
						return fmt.Errorf("fetch window %s: %w", w.Key, err)
					}
					return r.cache.Save(w.Key, payload)
				})
				return nil, err
			})
			return err
		})
	}

	return g.Wait()
}

// Invalidate clears the cache records for the given windows, used when
// upstream data is known stale before a forced re-fetch.
func (r *ChunkRunner) Invalidate(windows []Window) error {
	for _, w := range windows {
		if err := r.cache.Clear(w.Key); err != nil {
			return err
		}
	}
	return nil
}
