package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"time"

	"github.com/caevv/gitpulse/internal/state"
)

// LogSink writes events to the structured log. Always configured, so an
// operator with no external sinks still sees every outcome.
type LogSink struct {
	Logger *slog.Logger
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Notify(ctx context.Context, e *state.Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	attrs := []any{
		"job", e.Job,
		"run_id", e.RunID,
		"target", e.Target,
		"duration", e.Duration().String(),
	}
	if e.Status == state.EventFailed {
		logger.Error("scheduled job failed", append(attrs, "error", e.Error)...)
	} else {
		logger.Info("scheduled job succeeded", attrs...)
	}
	return nil
}

// WebhookSink POSTs the event as JSON to a configured URL.
type WebhookSink struct {
	URL    string
	client *http.Client
}

// NewWebhookSink creates a webhook sink with its own bounded HTTP client.
func NewWebhookSink(url string) *WebhookSink {
	return &WebhookSink{
		URL:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *WebhookSink) Name() string { return "webhook:" + s.URL }

func (s *WebhookSink) Notify(ctx context.Context, e *state.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	}
	return nil
}

// ScriptSink executes a configured command with the event as JSON on
// stdin and the essentials in the environment, so shell hooks can react
// to outcomes without parsing.
type ScriptSink struct {
	Path    string
	Timeout time.Duration
}

func (s *ScriptSink) Name() string { return "script:" + s.Path }

func (s *ScriptSink) Notify(ctx context.Context, e *state.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, s.Path)
	cmd.Stdin = bytes.NewReader(body)
	cmd.Env = append(cmd.Environ(),
		"GITPULSE_JOB="+e.Job,
		"GITPULSE_STATUS="+string(e.Status),
		"GITPULSE_TARGET="+e.Target,
		"GITPULSE_RUN_ID="+e.RunID,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("run script: %w (stderr: %s)", err, stderr.String())
	}
	return nil
}
