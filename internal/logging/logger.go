// Package logging defines a minimal structured-logging interface used across
// the project, with slog and zap implementations.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dmitrijs2005/docvault/internal/actor"
)

// Logger is a context-aware, structured logger.
//
// The variadic args are interpreted as key–value pairs, e.g.:
//
//	log.Info(ctx, "document stored", "document_id", id, "size", n)
//
// Implementations append the request id and actor carried by ctx.
type Logger interface {
	// Info logs an informational message.
	Info(ctx context.Context, msg string, args ...any)

	// Warn logs a warning message for unusual but non-fatal conditions.
	Warn(ctx context.Context, msg string, args ...any)

	// Error logs an error message for failures.
	Error(ctx context.Context, msg string, args ...any)

	// With returns a child logger that always includes the given key–value pairs.
	With(args ...any) Logger
}

// Log formats accepted by New.
const (
	FormatJSON = "json"
	FormatText = "text"
	FormatZap  = "zap"
)

// New builds a logger writing to w. format is one of json, text or zap;
// level is debug, info, warn or error.
func New(format, level string, w io.Writer) (Logger, error) {
	switch strings.ToLower(format) {
	case "", FormatJSON, FormatText:
		var lvl slog.Level
		if err := lvl.UnmarshalText([]byte(orDefault(level, "info"))); err != nil {
			return nil, fmt.Errorf("log level %q: %w", level, err)
		}
		opts := &slog.HandlerOptions{Level: lvl}
		if strings.EqualFold(format, FormatText) {
			return NewSlogLogger(slog.New(slog.NewTextHandler(w, opts))), nil
		}
		return NewSlogLogger(slog.New(slog.NewJSONHandler(w, opts))), nil
	case FormatZap:
		return NewZapWriterLogger(level, w)
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// contextFields returns the key-value pairs carried by ctx.
func contextFields(ctx context.Context) []any {
	var kv []any
	if rid := actor.RequestID(ctx); rid != "" {
		kv = append(kv, "request_id", rid)
	}
	if id := actor.ID(ctx); id != nil {
		kv = append(kv, "actor_id", *id)
	}
	return kv
}

func withContext(ctx context.Context, args []any) []any {
	extra := contextFields(ctx)
	if len(extra) == 0 {
		return args
	}
	return append(append(make([]any, 0, len(args)+len(extra)), args...), extra...)
}
