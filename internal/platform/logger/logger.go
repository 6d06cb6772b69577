// Package logger builds the process-wide structured logger.
package logger

import (
	"log/slog"
	"os"
)

// New returns a JSON slog logger writing to stdout. Level defaults to
// info; set KYC_LOG_LEVEL=debug to see router decision breakdowns.
func New() *slog.Logger {
	level := slog.LevelInfo
	if os.Getenv("KYC_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	handler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(handler)
}
