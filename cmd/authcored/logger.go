package main

import (
	"io"
	"log/slog"

	"github.com/samber/oops"
)

func newLogger(cfg logConfig, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, oops.Code("CONFIG_INVALID").With("log.level", cfg.Level).Wrap(err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	case "text", "":
		handler = slog.NewTextHandler(w, opts)
	default:
		return nil, oops.Code("CONFIG_INVALID").Errorf("unknown log format %q", cfg.Format)
	}
	return slog.New(handler), nil
}
