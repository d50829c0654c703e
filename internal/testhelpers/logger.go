// Package testhelpers wires test output into the application's logging setup.
package testhelpers

import (
	"io"
	"log/slog"

	"github.com/myrjola/struggle/internal/logging"
)

// NewLogger returns a debug level text logger writing to logSink, usually a [Writer]. Attributes stored with
// [logging.WithAttrs] are included like in production.
func NewLogger(logSink io.Writer) *slog.Logger {
	return slog.New(logging.NewContextHandler(slog.NewTextHandler(logSink, &slog.HandlerOptions{
		AddSource:   false,
		Level:       slog.LevelDebug,
		ReplaceAttr: nil,
	})))
}
