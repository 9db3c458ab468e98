package log

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"runtime"
	"strings"
)

type hasPC interface {
	PC() uintptr
}

type hasStack interface {
	StackPCs() []uintptr
}

// AttrError is implemented by errors that carry structured detail worth a
// log field of its own, such as the status and request id of a failed
// upstream call.
type AttrError interface {
	error
	LogAttrs() []slog.Attr
}

// errInfo is everything Error logs about one error value.
type errInfo struct {
	err     error
	chain   []string
	links   []map[string]any
	surface string
	root    string
	detail  []slog.Attr
}

// describe walks the Unwrap chain of err once, collecting the distinct
// messages, up to maxLinks source positions, and the surface and root types.
func describe(err error, maxLinks int) errInfo {
	info := errInfo{err: err}
	var last error
	prev := ""
	for depth, e := 0, err; e != nil; depth, e = depth+1, errors.Unwrap(e) {
		last = e
		msg := e.Error()
		if msg != prev {
			info.chain = append(info.chain, msg)
			prev = msg
		}
		if info.surface == "" && !wrapperType(e) {
			info.surface = reflect.TypeOf(e).String()
		}
		if maxLinks <= 0 || len(info.links) < maxLinks {
			if link, ok := linkFor(e); ok || depth == 0 {
				info.links = append(info.links, link)
			}
		}
	}

	// errors.Join and xerrors.Mark keep their members behind Unwrap() []error
	if m, ok := err.(interface{ Unwrap() []error }); ok {
		for _, e := range m.Unwrap() {
			if s := e.Error(); s != prev {
				info.chain = append(info.chain, s)
				prev = s
			}
		}
	}

	if info.surface == "" {
		info.surface = fmt.Sprintf("%T", err)
	}
	info.root = fmt.Sprintf("%T", last)

	var ae AttrError
	if errors.As(err, &ae) {
		info.detail = ae.LogAttrs()
	}
	return info
}

func (i errInfo) attrs(withLinks bool) []slog.Attr {
	out := []slog.Attr{
		slog.Any("err", i.err),
		slog.String("error_type", i.surface),
		slog.String("cause_type", i.root),
	}
	if len(i.chain) > 0 {
		out = append(out, slog.Any("error_chain", i.chain))
	}
	if withLinks {
		out = append(out, slog.Any("error_links", i.links))
	}
	return append(out, i.detail...)
}

// wrapperType reports the context-only wrappers of xerrors and fmt.Errorf.
func wrapperType(e error) bool {
	t := reflect.TypeOf(e)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	pkg := t.PkgPath()
	return strings.Contains(pkg, "/internal/xerrors") || (pkg == "fmt" && t.Name() == "wrapError")
}

// linkFor locates where e was created or wrapped: the recorded PC of an
// xerrors wrapper, or the first frame of a captured stack outside the error
// and logging packages.
func linkFor(e error) (map[string]any, bool) {
	link := map[string]any{"msg": e.Error()}
	var fr runtime.Frame
	switch v := e.(type) {
	case hasPC:
		if v.PC() == 0 {
			return link, false
		}
		fr, _ = runtime.CallersFrames([]uintptr{v.PC()}).Next()
	case hasStack:
		var ok bool
		if fr, ok = firstCallerFrame(v.StackPCs()); !ok {
			return link, false
		}
	default:
		return link, false
	}
	link["func"], link["file"], link["line"] = fr.Function, fr.File, fr.Line
	return link, true
}

func firstCallerFrame(pcs []uintptr) (runtime.Frame, bool) {
	if len(pcs) == 0 {
		return runtime.Frame{}, false
	}
	frames := runtime.CallersFrames(pcs)
	for {
		fr, more := frames.Next()
		internal := strings.HasPrefix(fr.Function, "runtime.") ||
			loggingFrame(fr.Function) ||
			strings.Contains(fr.Function, "/internal/xerrors.")
		if !internal {
			return fr, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}
