package testutil

import (
	"io"
	"log/slog"
)

// DiscardLogger returns a logger that drops everything, for components
// under test that would otherwise log to slog.Default().
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
