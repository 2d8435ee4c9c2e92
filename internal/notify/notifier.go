// Package notify fans scheduler events out to notification sinks.
// Delivery is best-effort: one sink's failure is logged and never
// prevents the remaining sinks from being notified.
package notify

import (
	"context"
	"log/slog"

	"github.com/caevv/gitpulse/internal/state"
)

// Sink receives one scheduler event. Implementations must tolerate being
// called concurrently with themselves for different events.
type Sink interface {
	Name() string
	Notify(ctx context.Context, e *state.Event) error
}

// Notifier fans one event out to every registered sink in order.
type Notifier struct {
	sinks  []Sink
	logger *slog.Logger
}

// New creates a Notifier over the given sinks.
func New(logger *slog.Logger, sinks ...Sink) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{sinks: sinks, logger: logger}
}

// AddSink registers another sink. Not safe to call concurrently with Notify.
func (n *Notifier) AddSink(s Sink) {
	n.sinks = append(n.sinks, s)
}

// Notify delivers e to every sink. Failures are logged per sink; the
// event itself is never lost (the HistoryLog records it independently).
func (n *Notifier) Notify(ctx context.Context, e *state.Event) {
	for _, sink := range n.sinks {
		if err := sink.Notify(ctx, e); err != nil {
			n.logger.Error("notification sink failed",
				"sink", sink.Name(),
				"job", e.Job,
				"run_id", e.RunID,
				"error", err.Error())
			continue
		}
		n.logger.Debug("notification delivered",
			"sink", sink.Name(), "job", e.Job, "run_id", e.RunID)
	}
}
