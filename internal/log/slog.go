package log

import (
	"context"
	"log/slog"
	"os"
	"runtime"
	"time"
)

type slogLogger struct {
	h                 slog.Handler
	attrs             []slog.Attr
	includeErrorLinks bool
	maxErrorLinks     int
}

func newSlog(opts Options) (Logger, error) {
	// stdout is left to tools that consume the generated site
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if opts.StacktraceLevel == 0 {
		opts.StacktraceLevel = slog.LevelError
	}
	if opts.MaxErrorLinks <= 0 {
		opts.MaxErrorLinks = 8
	}

	hopts := &slog.HandlerOptions{Level: opts.Level, AddSource: true}
	var h slog.Handler = slog.NewTextHandler(w, hopts)
	if opts.JSON {
		h = slog.NewJSONHandler(w, hopts)
	}
	h = stackHandler{next: traceHandler{next: h}, level: opts.StacktraceLevel}

	return &slogLogger{
		h:                 h,
		attrs:             baseAttrs(opts),
		includeErrorLinks: opts.IncludeErrorLinks,
		maxErrorLinks:     opts.MaxErrorLinks,
	}, nil
}

func baseAttrs(opts Options) []slog.Attr {
	attrs := []slog.Attr{slog.String("app", opts.App)}
	for _, kv := range [][2]string{
		{"component", opts.Component},
		{"version", opts.Version},
		{"commit", opts.Commit},
	} {
		if kv[1] != "" {
			attrs = append(attrs, slog.String(kv[0], kv[1]))
		}
	}
	return attrs
}

// With returns a child logger; the parent's attrs are copied, never shared.
func (s *slogLogger) With(kv ...any) Logger {
	child := *s
	child.attrs = append(append(make([]slog.Attr, 0, len(s.attrs)+len(kv)/2), s.attrs...), kvAttrs(kv)...)
	return &child
}

func (s *slogLogger) Debug(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelDebug, msg, kvAttrs(kv))
}

func (s *slogLogger) Info(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelInfo, msg, kvAttrs(kv))
}

func (s *slogLogger) Warn(ctx context.Context, msg string, kv ...any) {
	s.emit(ctx, slog.LevelWarn, msg, kvAttrs(kv))
}

func (s *slogLogger) Error(ctx context.Context, err error, msg string, kv ...any) {
	attrs := kvAttrs(kv)
	if err != nil {
		attrs = append(attrs, describe(err, s.maxErrorLinks).attrs(s.includeErrorLinks)...)
	}
	s.emit(ctx, slog.LevelError, msg, attrs)
}

func (s *slogLogger) Sync() error { return nil }

// kvAttrs converts alternating key/value pairs; pairs with a non-string key
// are dropped.
func kvAttrs(kv []any) []slog.Attr {
	out := make([]slog.Attr, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if k, ok := kv[i].(string); ok {
			out = append(out, slog.Any(k, kv[i+1]))
		}
	}
	return out
}

func (s *slogLogger) emit(ctx context.Context, lvl slog.Level, msg string, attrs []slog.Attr) {
	if !s.h.Enabled(ctx, lvl) {
		return
	}
	// skip runtime.Callers, emit and the exported level method
	var pcs [1]uintptr
	runtime.Callers(3, pcs[:])

	r := slog.NewRecord(time.Now(), lvl, msg, pcs[0])
	r.AddAttrs(s.attrs...)
	r.AddAttrs(attrs...)
	_ = s.h.Handle(ctx, r)
}
