package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) *slogLogger {
	t.Helper()
	opts.Writer = buf
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l.(*slogLogger)
}

// jsonRecord parses the last JSON log line in buf
func jsonRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	last := lines[len(lines)-1]
	var m map[string]any
	if err := json.Unmarshal([]byte(last), &m); err != nil {
		t.Fatalf("parse JSON log line: %v\nraw: %s", err, last)
	}
	return m
}

func TestNewSlog_BaseAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "sitegen", Component: "build", Version: "1.2.3", JSON: true})

	l.Info(context.Background(), "hello")

	m := jsonRecord(t, &buf)
	if m["msg"] != "hello" {
		t.Fatalf("msg = %v, want hello", m["msg"])
	}
	if m["app"] != "sitegen" || m["component"] != "build" || m["version"] != "1.2.3" {
		t.Fatalf("base attrs missing: %v", m)
	}
	if _, ok := m["commit"]; ok {
		t.Fatal("empty commit should not be logged")
	}
}

func TestNewSlog_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "sitegen"})

	l.Info(context.Background(), "text test")

	if !strings.Contains(buf.String(), `msg="text test"`) {
		t.Fatalf("expected logfmt output, got: %s", buf.String())
	}
}

func TestNewSlog_DefaultMaxErrorLinks(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "sitegen"})
	if l.maxErrorLinks != 8 {
		t.Fatalf("maxErrorLinks = %d, want 8", l.maxErrorLinks)
	}
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "sitegen", JSON: true, Level: slog.LevelWarn})

	l.Debug(context.Background(), "debug")
	l.Info(context.Background(), "info")
	if buf.Len() != 0 {
		t.Fatalf("expected no output below warn, got: %s", buf.String())
	}
	l.Warn(context.Background(), "warn")
	if m := jsonRecord(t, &buf); m["msg"] != "warn" {
		t.Fatalf("msg = %v, want warn", m["msg"])
	}
}

func TestWith_CopyOnWrite(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(t, &buf, Options{App: "sitegen", JSON: true})
	child := base.With("content_type", "game")

	base.Info(context.Background(), "base")
	if m := jsonRecord(t, &buf); m["content_type"] != nil {
		t.Fatalf("parent logger should not see child attrs: %v", m)
	}
	child.Info(context.Background(), "child")
	if m := jsonRecord(t, &buf); m["content_type"] != "game" {
		t.Fatalf("content_type = %v, want game", m["content_type"])
	}
}

func TestError_AddsChainAndStack(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "sitegen", JSON: true, IncludeErrorLinks: true})

	err := xerrors.Wrap(xerrors.New("status 503"), "fetch entries game")
	l.Error(context.Background(), err, "build failed")

	m := jsonRecord(t, &buf)
	if m["err"] != "fetch entries game: status 503" {
		t.Fatalf("err = %v", m["err"])
	}
	chain, ok := m["error_chain"].([]any)
	if !ok || len(chain) < 2 {
		t.Fatalf("error_chain = %v", m["error_chain"])
	}
	if _, ok := m["error_links"]; !ok {
		t.Fatal("error_links missing")
	}
	// frames inside this package are trimmed, so the first kept frame is the test runner
	stack, _ := m["stack"].(string)
	if !strings.Contains(stack, "testing.tRunner") {
		t.Fatalf("stack should start past the logger frames, got: %s", stack)
	}
}

func TestDescribe_TypesSkipWrappers(t *testing.T) {
	base := fmt.Errorf("root")
	info := describe(xerrors.Wrap(base, "outer"), 8)
	if info.surface != "*errors.errorString" {
		t.Fatalf("surface = %q", info.surface)
	}
	if info.root != "*errors.errorString" {
		t.Fatalf("root = %q", info.root)
	}
	if len(info.chain) != 2 || info.chain[1] != "root" {
		t.Fatalf("chain = %v", info.chain)
	}
}

func TestDescribe_LinksBounded(t *testing.T) {
	err := xerrors.New("base")
	for i := 0; i < 5; i++ {
		err = xerrors.Wrapf(err, "layer %d", i)
	}
	if got := len(describe(err, 3).links); got != 3 {
		t.Fatalf("links = %d, want 3", got)
	}
}

func TestDescribe_JoinedMembers(t *testing.T) {
	err := errors.Join(errors.New("email is required"), errors.New("siteUrl must be absolute"))
	info := describe(err, 8)
	joined := strings.Join(info.chain, "|")
	if !strings.Contains(joined, "email is required") || !strings.Contains(joined, "siteUrl must be absolute") {
		t.Fatalf("chain = %v", info.chain)
	}
}

type statusErr struct{ code int }

func (e *statusErr) Error() string { return fmt.Sprintf("status %d", e.code) }
func (e *statusErr) LogAttrs() []slog.Attr {
	return []slog.Attr{slog.Int("upstream.status", e.code)}
}

func TestError_AttrErrorDetail(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "sitegen", JSON: true})

	l.Error(context.Background(), xerrors.Wrap(&statusErr{code: 429}, "fetch game"), "build failed")

	m := jsonRecord(t, &buf)
	if m["upstream.status"] != float64(429) {
		t.Fatalf("upstream.status = %v", m["upstream.status"])
	}
	if m["error_type"] != "*log.statusErr" {
		t.Fatalf("error_type = %v", m["error_type"])
	}
}

func TestOtelHandler_AddsTraceIDs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "sitegen", JSON: true})

	tid, _ := trace.TraceIDFromHex("0123456789abcdef0123456789abcdef")
	sid, _ := trace.SpanIDFromHex("0123456789abcdef")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: tid, SpanID: sid, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	l.Info(ctx, "traced")

	m := jsonRecord(t, &buf)
	if m["trace_id"] != tid.String() || m["span_id"] != sid.String() {
		t.Fatalf("trace attrs = %v / %v", m["trace_id"], m["span_id"])
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{" INFO ", slog.LevelInfo, false},
		{"warn", slog.LevelWarn, false},
		{"error", slog.LevelError, false},
		{"trace", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Fatalf("ParseLevel(%q) err = %v", tt.in, err)
		}
		if err == nil && got != tt.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
