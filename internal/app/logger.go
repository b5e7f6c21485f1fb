package app

import (
	"io"
	"log/slog"
	"os"

	"courier-dispatch/internal/config"
	"courier-dispatch/internal/logx"
)

// NewLogger builds the JSON logger at the configured level. An unknown
// level falls back to info and is reported once.
func NewLogger(cfg *config.Config) logx.Logger {
	return newLogger(os.Stdout, cfg.LogLevel)
}

func newLogger(w io.Writer, level string) logx.Logger {
	lvl, err := logx.ParseLevel(level)
	base := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: lvl,
	})).With(slog.String("service", "courier-dispatch"))
	logger := logx.NewSlogAdapter(base)
	if err != nil {
		logger.Warn("bad log level, using info", logx.Err(err))
	}
	return logger
}
