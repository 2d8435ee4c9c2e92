package state

import (
	"io"
	"log/slog"
)

// testLogger returns a silent logger for store tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
