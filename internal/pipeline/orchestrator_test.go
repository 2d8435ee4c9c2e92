package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stubFetcher fails for dates in failOn and counts calls.
type stubFetcher struct {
	calls  atomic.Int32
	failOn map[string]error
}

func (f *stubFetcher) FetchDay(ctx context.Context, date time.Time) ([]string, error) {
	f.calls.Add(1)
	if err, ok := f.failOn[date.Format(time.DateOnly)]; ok {
		return nil, err
	}
	return []string{"raw/" + date.Format(time.DateOnly) + ".json"}, nil
}

type stubNormalizer struct {
	calls  atomic.Int32
	failOn map[string]error
}

func (n *stubNormalizer) NormalizeDay(ctx context.Context, date time.Time) (string, string, error) {
	n.calls.Add(1)
	day := date.Format(time.DateOnly)
	if err, ok := n.failOn[day]; ok {
		return "", "", err
	}
	return "raw/" + day + ".json", "normalized/" + day + ".json", nil
}

type stubSummarizer struct {
	calls  atomic.Int32
	failOn map[string]error
}

func (s *stubSummarizer) SummarizeDay(ctx context.Context, date time.Time) (string, error) {
	s.calls.Add(1)
	day := date.Format(time.DateOnly)
	if err, ok := s.failOn[day]; ok {
		return "", err
	}
	return "summaries/" + day + ".md", nil
}

type fixture struct {
	orch *Orchestrator
	f    *stubFetcher
	n    *stubNormalizer
	s    *stubSummarizer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	fx := &fixture{
		f: &stubFetcher{failOn: map[string]error{}},
		n: &stubNormalizer{failOn: map[string]error{}},
		s: &stubSummarizer{failOn: map[string]error{}},
	}

	reg := NewSourceRegistry()
	if err := reg.Register(Source{Name: "ghes", Fetcher: fx.f, Normalizer: fx.n}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	orch, err := NewOrchestrator(reg, fx.s, testLogger(), opts)
	if err != nil {
		t.Fatalf("NewOrchestrator() error: %v", err)
	}
	fx.orch = orch
	return fx
}

func day(s string) time.Time {
	d, err := time.Parse(time.DateOnly, s)
	if err != nil {
		panic(err)
	}
	return d
}

func TestRunDaily_Success(t *testing.T) {
	fx := newFixture(t, Options{})

	path, err := fx.orch.RunDaily(context.Background(), day("2026-08-27"))
	if err != nil {
		t.Fatalf("RunDaily() error: %v", err)
	}
	if path != "summaries/2026-08-27.md" {
		t.Errorf("artifact path = %q", path)
	}
	if fx.f.calls.Load() != 1 || fx.n.calls.Load() != 1 || fx.s.calls.Load() != 1 {
		t.Errorf("stage calls = %d/%d/%d, want 1/1/1",
			fx.f.calls.Load(), fx.n.calls.Load(), fx.s.calls.Load())
	}
}

func TestRunDaily_StageClassification(t *testing.T) {
	tests := []struct {
		name      string
		arrange   func(fx *fixture)
		wantStage Stage
		// stages that must never run after the failure
		laterStagesRun func(fx *fixture) int32
	}{
		{
			name:      "fetch failure",
			arrange:   func(fx *fixture) { fx.f.failOn["2026-08-27"] = errors.New("rate limited") },
			wantStage: StageFetch,
			laterStagesRun: func(fx *fixture) int32{
				return fx.n.calls.Load() + fx.s.calls.Load()
			},
		},
		{
			name:      "normalize failure",
			arrange:   func(fx *fixture) { fx.n.failOn["2026-08-27"] = errors.New("bad record") },
			wantStage: StageNormalize,
			laterStagesRun: func(fx *fixture) int32 {
				return fx.s.calls.Load()
			},
		},
		{
			name:      "summarize failure",
			arrange:   func(fx *fixture) { fx.s.failOn["2026-08-27"] = errors.New("model unavailable") },
			wantStage: StageSummarize,
			laterStagesRun: func(fx *fixture) int32 {
				return 0
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newFixture(t, Options{})
			tt.arrange(fx)

			_, err := fx.orch.RunDaily(context.Background(), day("2026-08-27"))
			if err == nil {
				t.Fatal("RunDaily() expected error")
			}

			var step *StepError
			if !errors.As(err, &step) {
				t.Fatalf("error %v is not a StepError", err)
			}
			if step.Stage != tt.wantStage {
				t.Errorf("failing stage = %s, want %s", step.Stage, tt.wantStage)
			}
			if step.Unwrap() == nil {
				t.Error("StepError lost its cause")
			}
			if got := tt.laterStagesRun(fx); got != 0 {
				t.Errorf("%d later stage calls after %s failure, want 0", got, tt.wantStage)
			}
		})
	}
}

func TestRunDaily_UnknownSource(t *testing.T) {
	fx := newFixture(t, Options{})

	_, err := fx.orch.RunDailySource(context.Background(), "gitlab", day("2026-08-27"))
	if !errors.Is(err, ErrUnknownSource) {
		t.Errorf("error = %v, want ErrUnknownSource", err)
	}
}

func TestRunRange_OneRecordPerDateAscending(t *testing.T) {
	fx := newFixture(t, Options{Workers: 3})

	results, err := fx.orch.RunRange(context.Background(), "", day("2026-08-01"), day("2026-08-10"))
	if err != nil {
		t.Fatalf("RunRange() error: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("got %d records, want 10", len(results))
	}
	for i, r := range results {
		want := day("2026-08-01").AddDate(0, 0, i)
		if !r.Date.Equal(want) {
			t.Errorf("record %d date = %s, want %s", i, r.Date.Format(time.DateOnly), want.Format(time.DateOnly))
		}
		if r.Status != RunSuccess {
			t.Errorf("record %d status = %s", i, r.Status)
		}
	}
}

func TestRunRange_FailureDoesNotAbortRange(t *testing.T) {
	fx := newFixture(t, Options{Workers: 1})
	fx.f.failOn["2026-08-02"] = errors.New("rate limited")

	results, err := fx.orch.RunRange(context.Background(), "", day("2026-08-01"), day("2026-08-04"))
	if err != nil {
		t.Fatalf("RunRange() error: %v", err)
	}
	if len(results) != 4 {
		t.Fatalf("got %d records, want 4", len(results))
	}

	failed := results[1]
	if failed.Status != RunFailed {
		t.Fatalf("2026-08-02 status = %s, want failed", failed.Status)
	}
	if !strings.Contains(failed.Error, "fetch") {
		t.Errorf("failed record error %q does not name the fetch stage", failed.Error)
	}

	// Subsequent dates were still attempted and succeeded.
	for _, i := range []int{0, 2, 3} {
		if results[i].Status != RunSuccess {
			t.Errorf("record %d status = %s, want success", i, results[i].Status)
		}
	}
}

func TestRunRange_InvalidRange(t *testing.T) {
	fx := newFixture(t, Options{})

	_, err := fx.orch.RunRange(context.Background(), "", day("2026-08-10"), day("2026-08-01"))
	if !errors.Is(err, ErrInvalidRange) {
		t.Errorf("error = %v, want ErrInvalidRange", err)
	}
}

func TestRetryCeiling(t *testing.T) {
	fx := newFixture(t, Options{MaxRetries: 3})
	fx.f.failOn["2026-08-27"] = errors.New("rate limited")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := fx.orch.RunDaily(ctx, day("2026-08-27"))
		if err == nil {
			t.Fatalf("attempt %d expected error", i+1)
		}
		if IsPermanent(err) {
			t.Fatalf("attempt %d already reported permanent", i+1)
		}
	}

	// Fourth attempt is refused without running any stage.
	before := fx.f.calls.Load()
	_, err := fx.orch.RunDaily(ctx, day("2026-08-27"))
	if !IsPermanent(err) {
		t.Fatalf("error = %v, want retry ceiling", err)
	}
	if fx.f.calls.Load() != before {
		t.Error("stage ran after the retry ceiling was reached")
	}

	// An unrelated date still has its own budget.
	if _, err := fx.orch.RunDaily(ctx, day("2026-08-28")); err != nil {
		t.Errorf("unrelated date failed: %v", err)
	}
}

func TestRetryBudgetResetsOnSuccess(t *testing.T) {
	fx := newFixture(t, Options{MaxRetries: 2})
	ctx := context.Background()

	fx.f.failOn["2026-08-27"] = errors.New("flaky")
	fx.orch.RunDaily(ctx, day("2026-08-27"))

	delete(fx.f.failOn, "2026-08-27")
	if _, err := fx.orch.RunDaily(ctx, day("2026-08-27")); err != nil {
		t.Fatalf("recovered run failed: %v", err)
	}

	// After a success, the ledger entry is gone; failures start fresh.
	fx.f.failOn["2026-08-27"] = errors.New("flaky again")
	_, err := fx.orch.RunDaily(ctx, day("2026-08-27"))
	if err == nil || IsPermanent(err) {
		t.Errorf("fresh budget expected, got %v", err)
	}
}

func TestFailedDates(t *testing.T) {
	results := []Result{
		{Date: day("2026-08-01"), Status: RunSuccess},
		{Date: day("2026-08-02"), Status: RunFailed, Error: "fetch stage failed"},
		{Date: day("2026-08-03"), Status: RunFailed, Error: "summarize stage failed"},
	}
	failed := FailedDates(results)
	if len(failed) != 2 {
		t.Fatalf("FailedDates() = %d dates, want 2", len(failed))
	}
	if failed[0].Format(time.DateOnly) != "2026-08-02" {
		t.Errorf("first failed date = %s", failed[0].Format(time.DateOnly))
	}
}

func TestMultiSourceDefault(t *testing.T) {
	fx := newFixture(t, Options{})

	second := &stubFetcher{failOn: map[string]error{}}
	reg := fx.orch.registry
	if err := reg.Register(Source{Name: "wiki", Fetcher: second, Normalizer: fx.n}); err != nil {
		t.Fatalf("Register() error: %v", err)
	}

	// Default is still the first registered source.
	if _, err := fx.orch.RunDaily(context.Background(), day("2026-08-27")); err != nil {
		t.Fatalf("RunDaily() error: %v", err)
	}
	if second.calls.Load() != 0 {
		t.Error("default run used the non-default source")
	}

	// An explicit name selects the named pair.
	if _, err := fx.orch.RunDailySource(context.Background(), "wiki", day("2026-08-27")); err != nil {
		t.Fatalf("RunDailySource(wiki) error: %v", err)
	}
	if second.calls.Load() != 1 {
		t.Errorf("wiki fetcher calls = %d, want 1", second.calls.Load())
	}
}

func TestSourceRegistry_Validation(t *testing.T) {
	reg := NewSourceRegistry()

	tests := []struct {
		name string
		src  Source
	}{
		{"empty name", Source{Fetcher: &stubFetcher{}, Normalizer: &stubNormalizer{}}},
		{"nil fetcher", Source{Name: "x", Normalizer: &stubNormalizer{}}},
		{"nil normalizer", Source{Name: "x", Fetcher: &stubFetcher{}}},
	}
	for _, tt := range tests {
		if err := reg.Register(tt.src); err == nil {
			t.Errorf("%s: Register() should fail", tt.name)
		}
	}

	ok := Source{Name: "ghes", Fetcher: &stubFetcher{}, Normalizer: &stubNormalizer{}}
	if err := reg.Register(ok); err != nil {
		t.Fatalf("Register() error: %v", err)
	}
	if err := reg.Register(ok); err == nil {
		t.Error("duplicate Register() should fail")
	}
	if err := reg.SetDefault("nope"); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("SetDefault(nope) = %v, want ErrUnknownSource", err)
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "ghes" {
		t.Errorf("Names() = %v", names)
	}
}

func TestRunRange_ConcurrentDatesAllRecorded(t *testing.T) {
	fx := newFixture(t, Options{Workers: 8})

	results, err := fx.orch.RunRange(context.Background(), "", day("2026-06-01"), day("2026-07-30"))
	if err != nil {
		t.Fatalf("RunRange() error: %v", err)
	}
	want := 60
	if len(results) != want {
		t.Fatalf("got %d records, want %d", len(results), want)
	}
	for i, r := range results {
		if r.Status != RunSuccess {
			t.Errorf("record %d (%s) failed: %s", i, r.Date.Format(time.DateOnly), r.Error)
		}
	}
	if got := fx.s.calls.Load(); got != int32(want) {
		t.Errorf("summarize ran %d times, want %d", got, want)
	}
}
