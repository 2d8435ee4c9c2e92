// Package logging configures the process-wide structured logger.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync"
)

// secretPatterns defines regex patterns for fields that should be redacted.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i).*_TOKEN$`),
	regexp.MustCompile(`(?i)^token$`),
	regexp.MustCompile(`(?i).*_SECRET$`),
	regexp.MustCompile(`(?i).*API_KEY.*`),
	regexp.MustCompile(`(?i).*PASSWORD.*`),
}

var (
	setupMu    sync.Mutex
	configured bool
)

// Setup installs the process-wide default logger from configuration.
// The first call wins; later calls are no-ops so package init order
// cannot silently reconfigure logging. Tests use Reset between cases.
func Setup(format, level, output string) error {
	setupMu.Lock()
	defer setupMu.Unlock()

	if configured {
		return nil
	}

	logger, err := NewFromConfig(format, level, output)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)
	configured = true
	return nil
}

// Reset clears the configured flag and restores a plain stderr logger.
// Intended for test isolation only.
func Reset() {
	setupMu.Lock()
	defer setupMu.Unlock()

	configured = false
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

const loggerContextKey contextKey = "logger"

// WithContext attaches a logger to a context.
// This allows the logger to be passed through call chains via context.
func WithContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerContextKey, logger)
}

// FromContext retrieves a logger from the context.
// Falls back to slog.Default() when none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerContextKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// New creates a structured JSON logger at the given level, writing to stdout.
func New(level string) *slog.Logger {
	return NewWithWriter(os.Stdout, level)
}

// NewWithWriter creates a structured JSON logger with a custom writer.
// Useful for tests and custom output destinations.
func NewWithWriter(w io.Writer, level string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: redactSecrets,
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// NewFromConfig creates a logger from the logging config section.
// Supports format (json/text), level, and output (stderr/stdout/discard/path).
func NewFromConfig(format, level, output string) (*slog.Logger, error) {
	var writer io.Writer
	switch output {
	case "", "stderr":
		writer = os.Stderr
	case "stdout":
		writer = os.Stdout
	case "discard", "/dev/null":
		writer = io.Discard
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log output: %w", err)
		}
		writer = f
	}

	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: redactSecrets,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "text" {
		handler = slog.NewTextHandler(writer, opts)
	} else {
		handler = slog.NewJSONHandler(writer, opts)
	}

	return slog.New(handler), nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// redactSecrets is a ReplaceAttr function that redacts sensitive fields.
func redactSecrets(groups []string, a slog.Attr) slog.Attr {
	for _, pattern := range secretPatterns {
		if pattern.MatchString(a.Key) {
			return slog.Attr{
				Key:   a.Key,
				Value: slog.StringValue("***REDACTED***"),
			}
		}
	}
	return a
}
