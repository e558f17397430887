package hwtopo

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/dustin/go-humanize"
)

// Logger wraps slog.Logger with topology-specific fields.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a Logger with the given handler.
// If handler is nil, uses a text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger writing JSON records to w.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger writing human-readable records to w.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all output. It is the default.
func NoopLogger() *Logger {
	return &Logger{Logger: slog.New(slog.DiscardHandler)}
}

// With returns a Logger carrying extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// WithTopology tags records with a topology id.
func (l *Logger) WithTopology(id string) *Logger {
	return l.With("topology", id)
}

// WithOperation tags records with an operation name.
func (l *Logger) WithOperation(op string) *Logger {
	return l.With("op", op)
}

// WithError attaches an error.
func (l *Logger) WithError(err error) *Logger {
	return l.With("error", err)
}

// LogLoad logs a load.
func (l *Logger) LogLoad(ctx context.Context, source string, objects, depth int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "load failed",
			"source", source,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "topology loaded",
			"source", source,
			"objects", objects,
			"depth", depth,
		)
	}
}

// LogRestrict logs a restrict.
func (l *Logger) LogRestrict(ctx context.Context, set string, removed int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "restrict failed",
			"set", set,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "topology restricted",
			"set", set,
			"removed", removed,
		)
	}
}

// LogDistancesCommit logs a distance matrix commit.
func (l *Logger) LogDistancesCommit(ctx context.Context, name string, objects, groups int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "distances commit failed",
			"name", name,
			"objects", objects,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "distances committed",
			"name", name,
			"objects", objects,
			"groups", groups,
		)
	}
}

// LogBind logs a binding request.
func (l *Logger) LogBind(ctx context.Context, op, target, set string, err error) {
	if err != nil {
		l.WarnContext(ctx, "binding failed",
			"op", op,
			"target", target,
			"set", set,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "binding applied",
			"op", op,
			"target", target,
			"set", set,
		)
	}
}

// LogExport logs an export or snapshot.
func (l *Logger) LogExport(ctx context.Context, format, name string, bytes int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "export failed",
			"format", format,
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "topology exported",
			"format", format,
			"name", name,
			"size", humanize.IBytes(uint64(bytes)),
		)
	}
}
