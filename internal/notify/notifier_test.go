package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caevv/gitpulse/internal/state"
)

type countingSink struct {
	name  string
	calls atomic.Int32
	err   error
}

func (s *countingSink) Name() string { return s.name }

func (s *countingSink) Notify(ctx context.Context, e *state.Event) error {
	s.calls.Add(1)
	return s.err
}

func testEvent() *state.Event {
	return &state.Event{
		RunID:       "run-1",
		Job:         "daily-digest",
		Status:      state.EventSuccess,
		TriggeredAt: time.Now(),
		CompletedAt: time.Now(),
		Target:      "2026-08-27",
	}
}

func TestNotifier_FailingSinkDoesNotBlockOthers(t *testing.T) {
	first := &countingSink{name: "first", err: errors.New("sink down")}
	second := &countingSink{name: "second"}
	third := &countingSink{name: "third"}

	n := New(slog.New(slog.NewTextHandler(io.Discard, nil)), first, second, third)
	n.Notify(context.Background(), testEvent())

	for _, s := range []*countingSink{first, second, third} {
		if s.calls.Load() != 1 {
			t.Errorf("sink %s called %d times, want 1", s.name, s.calls.Load())
		}
	}
}

func TestNotifier_NoSinks(t *testing.T) {
	n := New(slog.New(slog.NewTextHandler(io.Discard, nil)))
	// Must not panic with zero sinks.
	n.Notify(context.Background(), testEvent())
}

func TestWebhookSink(t *testing.T) {
	var received atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type = %s", ct)
		}
		received.Add(1)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	if err := sink.Notify(context.Background(), testEvent()); err != nil {
		t.Fatalf("Notify() error: %v", err)
	}
	if received.Load() != 1 {
		t.Error("webhook not delivered")
	}
}

func TestWebhookSink_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	sink := NewWebhookSink(srv.URL)
	if err := sink.Notify(context.Background(), testEvent()); err == nil {
		t.Error("expected error on 502 response")
	}
}
