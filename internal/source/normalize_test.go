package source

import (
	"context"
	"encoding/json"
	"os"
	"strings"
	"testing"
	"time"
	"unicode/utf8"
)

func writeRawFixture(t *testing.T, dataDir string, date time.Time, items ...map[string]any) {
	t.Helper()
	raws := make([]json.RawMessage, 0, len(items))
	for _, item := range items {
		data, err := json.Marshal(item)
		if err != nil {
			t.Fatalf("marshal item: %v", err)
		}
		raws = append(raws, data)
	}
	doc := rawDocument{
		Date:       date.Format(time.DateOnly),
		Source:     Name,
		Query:      "org:acme",
		TotalItems: len(raws),
		Items:      raws,
	}
	if err := writeJSON(RawPath(dataDir, date), doc); err != nil {
		t.Fatalf("write raw fixture: %v", err)
	}
}

func TestNormalizeDay(t *testing.T) {
	dataDir := t.TempDir()
	date := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

	pr := item(7, "2026-08-27T16:00:00Z")
	pr["pull_request"] = map[string]any{}
	pr["labels"] = []map[string]any{{"name": "bug"}, {"name": "p1"}}
	writeRawFixture(t, dataDir, date,
		item(3, "2026-08-27T09:00:00Z"),
		pr,
	)

	n := NewJSONNormalizer(dataDir, false, testLogger())
	rawPath, normalizedPath, err := n.NormalizeDay(context.Background(), date)
	if err != nil {
		t.Fatalf("NormalizeDay: %v", err)
	}
	if rawPath != RawPath(dataDir, date) || normalizedPath != NormalizedPath(dataDir, date) {
		t.Fatalf("paths = %q, %q", rawPath, normalizedPath)
	}

	data, err := os.ReadFile(normalizedPath)
	if err != nil {
		t.Fatalf("read normalized artifact: %v", err)
	}
	var doc normalizedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse normalized artifact: %v", err)
	}

	if doc.ItemCount != 2 {
		t.Fatalf("ItemCount = %d, want 2", doc.ItemCount)
	}
	// Newest first.
	if doc.Items[0].Number != 7 || !doc.Items[0].IsPR {
		t.Errorf("first item = #%d (pr=%v), want #7 (pr=true)", doc.Items[0].Number, doc.Items[0].IsPR)
	}
	if got := doc.Items[0].Repository; got != "acme/api" {
		t.Errorf("Repository = %q, want acme/api", got)
	}
	if len(doc.Items[0].Labels) != 2 || doc.Items[0].Labels[0] != "bug" {
		t.Errorf("Labels = %v", doc.Items[0].Labels)
	}
	if doc.ByRepo["acme/api"] != 2 {
		t.Errorf("ByRepo = %v", doc.ByRepo)
	}
	if doc.Items[0].Excerpt != "" {
		t.Errorf("Excerpt = %q without enrichment", doc.Items[0].Excerpt)
	}
}

func TestNormalizeDayEnrichAddsExcerpt(t *testing.T) {
	dataDir := t.TempDir()
	date := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)

	long := item(1, "2026-08-27T09:00:00Z")
	long["body"] = strings.Repeat("x", excerptLimit+50)
	writeRawFixture(t, dataDir, date, long)

	n := NewJSONNormalizer(dataDir, true, testLogger())
	_, normalizedPath, err := n.NormalizeDay(context.Background(), date)
	if err != nil {
		t.Fatalf("NormalizeDay: %v", err)
	}

	data, _ := os.ReadFile(normalizedPath)
	var doc normalizedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("parse normalized artifact: %v", err)
	}
	got := doc.Items[0].Excerpt
	if !strings.HasSuffix(got, "...") || len(got) != excerptLimit+3 {
		t.Errorf("Excerpt length = %d, want %d plus ellipsis", len(got), excerptLimit)
	}
}

func TestExcerptTrimsOnRuneBoundary(t *testing.T) {
	// 3-byte runes put the byte limit mid-character.
	body := strings.Repeat("日", 100)
	got := excerpt(body)
	if !utf8.ValidString(got) {
		t.Fatalf("excerpt split a rune: %q", got)
	}
	if !strings.HasSuffix(got, "...") {
		t.Errorf("truncated excerpt missing ellipsis: %q", got)
	}
	if len(got) > excerptLimit+3 {
		t.Errorf("excerpt length = %d, want at most %d", len(got), excerptLimit+3)
	}

	// ASCII at the limit is untouched.
	short := strings.Repeat("a", excerptLimit)
	if got := excerpt(short); got != short {
		t.Errorf("excerpt modified a body within the limit")
	}
}

func TestNormalizeRange(t *testing.T) {
	dataDir := t.TempDir()
	since := time.Date(2026, 8, 20, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 8, 23, 0, 0, 0, 0, time.UTC)

	for d := since; !d.After(until); d = d.AddDate(0, 0, 1) {
		writeRawFixture(t, dataDir, d, item(1, d.Format(time.DateOnly)+"T09:00:00Z"))
	}

	n := NewJSONNormalizer(dataDir, false, testLogger())
	if err := n.NormalizeRange(context.Background(), since, until, 2); err != nil {
		t.Fatalf("NormalizeRange: %v", err)
	}

	for d := since; !d.After(until); d = d.AddDate(0, 0, 1) {
		if _, err := os.Stat(NormalizedPath(dataDir, d)); err != nil {
			t.Errorf("normalized artifact missing for %s: %v", d.Format(time.DateOnly), err)
		}
	}

	// One missing raw artifact fails the range.
	if err := n.NormalizeRange(context.Background(), since, until.AddDate(0, 0, 1), 2); err == nil {
		t.Error("NormalizeRange succeeded with a missing raw artifact")
	}
}

func TestNormalizeDayMissingRawArtifact(t *testing.T) {
	n := NewJSONNormalizer(t.TempDir(), false, testLogger())
	date := time.Date(2026, 8, 27, 0, 0, 0, 0, time.UTC)
	if _, _, err := n.NormalizeDay(context.Background(), date); err == nil {
		t.Fatal("NormalizeDay succeeded without a raw artifact")
	}
}
