// Package source holds the concrete pipeline stages: fetching activity
// from GHES through the chunk cache, normalizing raw payloads, and
// summarizing normalized days with an LLM.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caevv/gitpulse/internal/ghes"
	"github.com/caevv/gitpulse/internal/pipeline"
	"github.com/caevv/gitpulse/internal/state"
)

// Name is the registry name of the GHES activity source.
const Name = "ghes"

// searchItem is the only field of a search result item the fetcher needs
// to route it to a day; the full item is carried through untouched.
type searchItem struct {
	UpdatedAt string `json:"updated_at"`
}

// searchPayload is the shape of one cached month window.
type searchPayload struct {
	TotalCount int               `json:"total_count"`
	Items      []json.RawMessage `json:"items"`
}

// rawDocument is the per-day raw artifact extracted from a month window.
type rawDocument struct {
	Date       string            `json:"date"`
	Source     string            `json:"source"`
	Query      string            `json:"query"`
	TotalItems int               `json:"total_items"`
	Items      []json.RawMessage `json:"items"`
}

// GHESFetcher fetches activity by month window and extracts per-day raw
// artifacts from the cached windows. Day fetches and range backfills
// share the same cache records, so a backfill warms the cache for every
// daily run inside its range.
type GHESFetcher struct {
	runner  *pipeline.ChunkRunner
	cache   *state.ChunkCache
	dataDir string
	query   string
	logger  *slog.Logger
}

// NewGHESFetcher wires the fetcher over the chunk runner and cache.
func NewGHESFetcher(runner *pipeline.ChunkRunner, cache *state.ChunkCache, dataDir, query string, logger *slog.Logger) *GHESFetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &GHESFetcher{
		runner:  runner,
		cache:   cache,
		dataDir: dataDir,
		query:   query,
		logger:  logger,
	}
}

// FetchDay ensures the month window containing date is cached, then
// extracts that day's items into the raw artifact.
func (f *GHESFetcher) FetchDay(ctx context.Context, date time.Time) ([]string, error) {
	window := pipeline.MonthWindow(date)
	if err := f.runner.Run(ctx, []pipeline.Window{window}, f.search); err != nil {
		return nil, err
	}

	rawPath, err := f.extractDay(window, date)
	if err != nil {
		return nil, err
	}
	return []string{rawPath}, nil
}

// FetchRange warms the cache for every month window overlapping
// [since, until]. force clears the overlapping windows first, used when
// upstream history is known to have changed.
func (f *GHESFetcher) FetchRange(ctx context.Context, since, until time.Time, force bool) error {
	windows := pipeline.SplitMonths(since, until)
	if force {
		if err := f.runner.Invalidate(windows); err != nil {
			return fmt.Errorf("invalidate windows: %w", err)
		}
	}
	return f.runner.Run(ctx, windows, f.search)
}

// search is the ChunkFetchFunc: one window, one remote search.
func (f *GHESFetcher) search(ctx context.Context, c ghes.Client, w pipeline.Window) ([]byte, error) {
	return c.Search(ctx, f.query, w.From, w.To)
}

// extractDay filters a cached month payload down to items updated on the
// given day and writes the raw artifact.
func (f *GHESFetcher) extractDay(window pipeline.Window, date time.Time) (string, error) {
	data, err := f.cache.Load(window.Key)
	if err != nil {
		return "", fmt.Errorf("load window %s: %w", window.Key, err)
	}

	var payload searchPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return "", fmt.Errorf("parse window %s payload: %w", window.Key, err)
	}

	day := date.Format(time.DateOnly)
	doc := rawDocument{
		Date:   day,
		Source: Name,
		Query:  f.query,
	}
	for _, item := range payload.Items {
		var meta searchItem
		if err := json.Unmarshal(item, &meta); err != nil {
			return "", fmt.Errorf("parse item in window %s: %w", window.Key, err)
		}
		if strings.HasPrefix(meta.UpdatedAt, day) {
			doc.Items = append(doc.Items, item)
		}
	}
	doc.TotalItems = len(doc.Items)

	rawPath := RawPath(f.dataDir, date)
	if err := writeJSON(rawPath, doc); err != nil {
		return "", err
	}
	f.logger.Debug("raw artifact written", "date", day, "items", doc.TotalItems, "path", rawPath)
	return rawPath, nil
}

// RawPath is the raw artifact location for a date.
func RawPath(dataDir string, date time.Time) string {
	return filepath.Join(dataDir, "raw", date.Format(time.DateOnly)+".json")
}

// NormalizedPath is the normalized artifact location for a date.
func NormalizedPath(dataDir string, date time.Time) string {
	return filepath.Join(dataDir, "normalized", date.Format(time.DateOnly)+".json")
}

// SummaryPath is the summary artifact location for a date.
func SummaryPath(dataDir string, date time.Time) string {
	return filepath.Join(dataDir, "summaries", date.Format(time.DateOnly)+".md")
}

// DigestPath is the rollup digest location for a label such as
// "weekly-2026-08-24".
func DigestPath(dataDir, label string) string {
	return filepath.Join(dataDir, "digests", label+".md")
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
