package obs

import (
	"io"
	"log/slog"
	"os"
)

// Format selects the slog.Handler used by NewLogger.
type Format string

const (
	FormatPretty Format = "pretty"
	FormatJSON   Format = "json"
)

// NewLogger builds the structured logger every component in this module
// shares. Pretty format is meant for local development (colorized,
// human-scannable); JSON format for production log aggregation.
func NewLogger(w io.Writer, format Format, level slog.Level) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	opts := slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch format {
	case FormatJSON:
		handler = slog.NewJSONHandler(w, &opts)
	default:
		handler = NewPrettyHandler(w, PrettyHandlerOptions{SlogOpts: opts})
	}

	return slog.New(handler)
}
