package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/caevv/gitpulse/internal/llm"
)

const systemPrompt = "You are an engineering activity analyst. Summarize " +
	"GitHub issue and pull-request activity into a concise digest for a " +
	"team lead: group by repository, call out merged work, active " +
	"discussions, and anything stuck. Use markdown."

// TaskDaily is the batch task label for daily summaries. Batch results
// under this label land as per-day summary artifacts.
const TaskDaily = "daily-summary"

// LLMSummarizer turns a day's normalized artifact into a markdown
// summary. In synchronous mode it blocks on one chat completion; in
// batch mode it submits the prompt to the batch manager and the summary
// artifact lands when the batch completes.
type LLMSummarizer struct {
	provider llm.Provider
	manager  *llm.Manager
	pricing  *llm.PricingTable
	model    string
	dataDir  string
	useBatch bool
	logger   *slog.Logger
}

// NewLLMSummarizer wires the summarizer. manager may be nil when batch
// mode is off.
func NewLLMSummarizer(provider llm.Provider, manager *llm.Manager, pricing *llm.PricingTable, model, dataDir string, useBatch bool, logger *slog.Logger) *LLMSummarizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LLMSummarizer{
		provider: provider,
		manager:  manager,
		pricing:  pricing,
		model:    model,
		dataDir:  dataDir,
		useBatch: useBatch,
		logger:   logger,
	}
}

// SummarizeDay produces summaries/<date>.md and returns its path. A day
// with no activity writes a stub summary without calling the provider.
func (s *LLMSummarizer) SummarizeDay(ctx context.Context, date time.Time) (string, error) {
	doc, err := s.readNormalized(date)
	if err != nil {
		return "", err
	}

	path := SummaryPath(s.dataDir, date)
	if doc.ItemCount == 0 {
		content := fmt.Sprintf("# Activity digest %s\n\nNo activity recorded.\n", doc.Date)
		if err := writeFile(path, []byte(content)); err != nil {
			return "", err
		}
		return path, nil
	}

	prompt := dayPrompt(doc)

	if s.useBatch {
		if _, ok := llm.AsBatch(s.provider); !ok {
			return "", fmt.Errorf("provider %s does not support batch summarization", s.provider.Descriptor().Name)
		}
		_, err := s.manager.Submit(ctx, s.provider.Descriptor().Name, TaskDaily, []llm.BatchRequest{{
			CustomID: doc.Date,
			Model:    s.model,
			Messages: []llm.Message{
				{Role: "system", Content: systemPrompt},
				{Role: "user", Content: prompt},
			},
		}})
		if err != nil {
			return "", fmt.Errorf("submit summary batch: %w", err)
		}
		s.logger.Info("summary batched", "date", doc.Date, "path", path)
		return path, nil
	}

	s.logEstimate(prompt)
	answer, err := s.provider.Chat(ctx, s.model, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("summarize %s: %w", doc.Date, err)
	}

	if err := writeFile(path, []byte(answer)); err != nil {
		return "", err
	}
	s.logger.Info("summary written", "date", doc.Date, "path", path)
	return path, nil
}

// HandleBatchResults is the batch manager's delivery callback: each
// result keyed by date becomes that day's summary artifact.
func (s *LLMSummarizer) HandleBatchResults(ctx context.Context, task string, results map[string]string) error {
	if task != TaskDaily {
		s.logger.Warn("ignoring batch results for unknown task", "task", task)
		return nil
	}
	for day, content := range results {
		date, err := time.Parse(time.DateOnly, day)
		if err != nil {
			return fmt.Errorf("batch result has invalid date key %q: %w", day, err)
		}
		if err := writeFile(SummaryPath(s.dataDir, date), []byte(content)); err != nil {
			return err
		}
		s.logger.Info("batched summary written", "date", day)
	}
	return nil
}

// Rollup combines the daily summaries in [since, until] into one digest
// under the given label and returns its path. Missing days are skipped;
// a window with no summaries at all is an error.
func (s *LLMSummarizer) Rollup(ctx context.Context, since, until time.Time, label string) (string, error) {
	var parts []string
	for cur := since; !cur.After(until); cur = cur.AddDate(0, 0, 1) {
		data, err := os.ReadFile(SummaryPath(s.dataDir, cur))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", fmt.Errorf("read summary for %s: %w", cur.Format(time.DateOnly), err)
		}
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", cur.Format(time.DateOnly), string(data)))
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no daily summaries in %s..%s",
			since.Format(time.DateOnly), until.Format(time.DateOnly))
	}

	prompt := fmt.Sprintf(
		"Combine these daily digests into a single %s digest. Surface trends, recurring topics and overall volume; do not repeat every item.\n\n%s",
		label, strings.Join(parts, "\n\n"))

	s.logEstimate(prompt)
	answer, err := s.provider.Chat(ctx, s.model, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("rollup %s: %w", label, err)
	}

	path := DigestPath(s.dataDir, label)
	if err := writeFile(path, []byte(answer)); err != nil {
		return "", err
	}
	s.logger.Info("digest written", "label", label, "days", len(parts), "path", path)
	return path, nil
}

// Query answers an ad-hoc question against the last monthsBack months of
// daily summaries. It backs the async task queue.
func (s *LLMSummarizer) Query(ctx context.Context, question string, monthsBack int) (string, error) {
	if monthsBack <= 0 {
		monthsBack = 1
	}
	until := time.Now().UTC()
	since := until.AddDate(0, -monthsBack, 0)

	var parts []string
	for cur := since; !cur.After(until); cur = cur.AddDate(0, 0, 1) {
		data, err := os.ReadFile(SummaryPath(s.dataDir, cur))
		if err != nil {
			continue
		}
		parts = append(parts, fmt.Sprintf("## %s\n\n%s", cur.Format(time.DateOnly), string(data)))
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("no summaries available in the last %d month(s)", monthsBack)
	}

	prompt := fmt.Sprintf("Answer the question using only the digests below.\n\nQuestion: %s\n\n%s",
		question, strings.Join(parts, "\n\n"))

	answer, err := s.provider.Chat(ctx, s.model, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: prompt},
	})
	if err != nil {
		return "", fmt.Errorf("query: %w", err)
	}
	return answer, nil
}

func (s *LLMSummarizer) readNormalized(date time.Time) (normalizedDocument, error) {
	path := NormalizedPath(s.dataDir, date)
	data, err := os.ReadFile(path)
	if err != nil {
		return normalizedDocument{}, fmt.Errorf("read normalized artifact: %w", err)
	}
	var doc normalizedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return normalizedDocument{}, fmt.Errorf("parse normalized artifact %s: %w", path, err)
	}
	return doc, nil
}

// logEstimate logs a rough cost estimate before a synchronous call. The
// token count is approximated at four bytes per token.
func (s *LLMSummarizer) logEstimate(prompt string) {
	if s.pricing == nil {
		return
	}
	inputTokens := len(prompt) / 4
	if cost, ok := s.pricing.Estimate(s.model, inputTokens, inputTokens/2); ok {
		s.logger.Debug("estimated request cost",
			"model", s.pricing.Normalize(s.model), "input_tokens", inputTokens, "usd", cost)
	}
}

func dayPrompt(doc normalizedDocument) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Activity for %s (%d items):\n\n", doc.Date, doc.ItemCount)
	for _, item := range doc.Items {
		kind := "issue"
		if item.IsPR {
			kind = "PR"
		}
		fmt.Fprintf(&b, "- [%s] %s #%d: %s (%s, @%s)",
			kind, item.Repository, item.Number, item.Title, item.State, item.Author)
		if len(item.Labels) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(item.Labels, ", "))
		}
		b.WriteString("\n")
		if item.Excerpt != "" {
			fmt.Fprintf(&b, "  > %s\n", item.Excerpt)
		}
	}
	return b.String()
}
