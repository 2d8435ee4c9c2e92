package pipeline

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Fetcher retrieves one date's raw activity and returns the artifact paths
// written. Implementations may consult the chunk cache and the client pool.
type Fetcher interface {
	FetchDay(ctx context.Context, date time.Time) ([]string, error)
}

// Normalizer turns a date's raw artifact into its normalized form and
// returns both paths.
type Normalizer interface {
	NormalizeDay(ctx context.Context, date time.Time) (rawPath, normalizedPath string, err error)
}

// Summarizer produces the date's summary artifact and returns its path.
type Summarizer interface {
	SummarizeDay(ctx context.Context, date time.Time) (string, error)
}

// Source pairs a named fetcher with its normalizer. Summarization is
// shared across sources and owned by the Orchestrator.
type Source struct {
	Name       string
	Fetcher    Fetcher
	Normalizer Normalizer
}

// SourceRegistry is the lookup table of registered data sources, keyed by
// name and validated at registration time rather than at call time.
type SourceRegistry struct {
	mu          sync.RWMutex
	sources     map[string]Source
	defaultName string
}

// NewSourceRegistry returns an empty registry.
func NewSourceRegistry() *SourceRegistry {
	return &SourceRegistry{sources: make(map[string]Source)}
}

// Register validates and adds a source. The first registered source
// becomes the default until SetDefault overrides it.
func (r *SourceRegistry) Register(s Source) error {
	if s.Name == "" {
		return fmt.Errorf("source name cannot be empty")
	}
	if s.Fetcher == nil {
		return fmt.Errorf("source %q has no fetcher", s.Name)
	}
	if s.Normalizer == nil {
		return fmt.Errorf("source %q has no normalizer", s.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sources[s.Name]; exists {
		return fmt.Errorf("source %q already registered", s.Name)
	}
	r.sources[s.Name] = s
	if r.defaultName == "" {
		r.defaultName = s.Name
	}
	return nil
}

// SetDefault designates the source RunDaily uses when no name is given.
func (r *SourceRegistry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sources[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	r.defaultName = name
	return nil
}

// Get resolves a source by name; the empty name resolves the default.
func (r *SourceRegistry) Get(name string) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if name == "" {
		name = r.defaultName
	}
	s, ok := r.sources[name]
	if !ok {
		return Source{}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}
	return s, nil
}

// Names lists registered source names, sorted.
func (r *SourceRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
