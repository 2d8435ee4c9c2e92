package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"
)

// normalizedItem is one activity record after normalization.
type normalizedItem struct {
	Number     int      `json:"number"`
	Title      string   `json:"title"`
	State      string   `json:"state"`
	Repository string   `json:"repository"`
	Author     string   `json:"author"`
	Labels     []string `json:"labels,omitempty"`
	IsPR       bool     `json:"is_pr"`
	UpdatedAt  string   `json:"updated_at"`
	URL        string   `json:"url"`
	Excerpt    string   `json:"excerpt,omitempty"`
}

// normalizedDocument is the per-day normalized artifact.
type normalizedDocument struct {
	Date       string           `json:"date"`
	Source     string           `json:"source"`
	ItemCount  int              `json:"item_count"`
	Items      []normalizedItem `json:"items"`
	ByRepo     map[string]int   `json:"by_repo"`
	Normalized time.Time        `json:"normalized_at"`
}

// rawItem is the raw search-item shape the normalizer reads.
type rawItem struct {
	Number        int    `json:"number"`
	Title         string `json:"title"`
	State         string `json:"state"`
	Body          string `json:"body"`
	HTMLURL       string `json:"html_url"`
	RepositoryURL string `json:"repository_url"`
	UpdatedAt     string `json:"updated_at"`
	User          struct {
		Login string `json:"login"`
	} `json:"user"`
	Labels []struct {
		Name string `json:"name"`
	} `json:"labels"`
	PullRequest *struct{} `json:"pull_request"`
}

const excerptLimit = 280

// JSONNormalizer reads a day's raw artifact and writes its normalized
// form. With Enrich set, a body excerpt is carried into each record to
// give the summarizer more context at the cost of larger artifacts.
type JSONNormalizer struct {
	dataDir string
	enrich  bool
	logger  *slog.Logger
}

// NewJSONNormalizer creates the normalizer rooted at dataDir.
func NewJSONNormalizer(dataDir string, enrich bool, logger *slog.Logger) *JSONNormalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &JSONNormalizer{dataDir: dataDir, enrich: enrich, logger: logger}
}

// NormalizeDay transforms raw/<date>.json into normalized/<date>.json
// and returns both paths.
func (n *JSONNormalizer) NormalizeDay(ctx context.Context, date time.Time) (string, string, error) {
	rawPath := RawPath(n.dataDir, date)
	data, err := os.ReadFile(rawPath)
	if err != nil {
		return "", "", fmt.Errorf("read raw artifact: %w", err)
	}

	var raw rawDocument
	if err := json.Unmarshal(data, &raw); err != nil {
		return "", "", fmt.Errorf("parse raw artifact %s: %w", rawPath, err)
	}

	doc := normalizedDocument{
		Date:       raw.Date,
		Source:     raw.Source,
		ByRepo:     make(map[string]int),
		Normalized: time.Now().UTC(),
	}
	for _, itemData := range raw.Items {
		var item rawItem
		if err := json.Unmarshal(itemData, &item); err != nil {
			return "", "", fmt.Errorf("parse raw item in %s: %w", rawPath, err)
		}
		rec := normalizedItem{
			Number:     item.Number,
			Title:      item.Title,
			State:      item.State,
			Repository: repoFromURL(item.RepositoryURL),
			Author:     item.User.Login,
			IsPR:       item.PullRequest != nil,
			UpdatedAt:  item.UpdatedAt,
			URL:        item.HTMLURL,
		}
		for _, l := range item.Labels {
			rec.Labels = append(rec.Labels, l.Name)
		}
		if n.enrich {
			rec.Excerpt = excerpt(item.Body)
		}
		doc.Items = append(doc.Items, rec)
		doc.ByRepo[rec.Repository]++
	}
	doc.ItemCount = len(doc.Items)

	// Deterministic artifact: newest activity first, ties broken by number.
	sort.SliceStable(doc.Items, func(i, j int) bool {
		if doc.Items[i].UpdatedAt != doc.Items[j].UpdatedAt {
			return doc.Items[i].UpdatedAt > doc.Items[j].UpdatedAt
		}
		return doc.Items[i].Number < doc.Items[j].Number
	})

	normalizedPath := NormalizedPath(n.dataDir, date)
	if err := writeJSON(normalizedPath, doc); err != nil {
		return "", "", err
	}
	n.logger.Debug("normalized artifact written",
		"date", doc.Date, "items", doc.ItemCount, "repos", len(doc.ByRepo))
	return rawPath, normalizedPath, nil
}

// NormalizeRange re-normalizes every date in [since, until] across at
// most workers goroutines. Days are independent, so order does not
// matter; the first failure cancels the remainder.
func (n *JSONNormalizer) NormalizeRange(ctx context.Context, since, until time.Time, workers int) error {
	if workers <= 0 {
		workers = 5
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for d := since; !d.After(until); d = d.AddDate(0, 0, 1) {
		d := d
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			_, _, err := n.NormalizeDay(gctx, d)
			return err
		})
	}
	return g.Wait()
}

// repoFromURL turns ".../repos/owner/name" into "owner/name".
func repoFromURL(u string) string {
	const marker = "/repos/"
	if i := strings.LastIndex(u, marker); i >= 0 {
		return u[i+len(marker):]
	}
	return u
}

func excerpt(body string) string {
	body = strings.TrimSpace(body)
	if len(body) <= excerptLimit {
		return body
	}
	// Back off to a rune boundary so the cut never splits a multi-byte
	// character.
	cut := excerptLimit
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
