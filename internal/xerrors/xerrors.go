// Package xerrors wraps errors with call-site and stack information that
// internal/log renders as error_chain, error_links and stack attributes.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

// stackDepth bounds how many frames a captured stack keeps
const stackDepth = 64

type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }
func (w *withStack) IsXerrorsWrapper()   {}

type hasStack interface{ StackPCs() []uintptr }

func captureStack(skip int) []uintptr {
	pcs := make([]uintptr, stackDepth)
	// 2 skips runtime.Callers + captureStack
	n := runtime.Callers(2+skip, pcs)
	return pcs[:n]
}

func withStackSkip(err error, skip int) error {
	if err == nil {
		return nil
	}
	return &withStack{err: err, pcs: captureStack(skip)}
}

// WithStack attaches the current stack to err unconditionally.
func WithStack(err error) error { return withStackSkip(err, 2) }

// EnsureTrace attaches a stack only if no error in the chain carries one.
// Used at package boundaries where errors come back from third-party SDKs.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs hasStack
	if errors.As(err, &hs) && hs != nil && len(hs.StackPCs()) > 0 {
		return err
	}
	return withStackSkip(err, 2)
}

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error     { return w.err }
func (w *wrap) PC() uintptr       { return w.pc }
func (w *wrap) IsXerrorsWrapper() {}

func callerPC(skip int) uintptr {
	var pcs [1]uintptr
	// 2 skips runtime.Callers + callerPC
	if n := runtime.Callers(2+skip, pcs[:]); n == 0 {
		return 0
	}
	return pcs[0]
}

// Wrap prefixes err with msg and records the caller. Nil in, nil out.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: msg, pc: callerPC(1)}
}

// Wrapf is Wrap with a format string.
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return &wrap{err: err, msg: fmt.Sprintf(format, args...), pc: callerPC(1)}
}

// Mark wraps err so that errors.Is(result, sentinel) holds while the message
// stays err's own. Used to tag SDK/transport errors with a package sentinel.
func Mark(err, sentinel error) error {
	if err == nil {
		return nil
	}
	return &marked{err: err, sentinel: sentinel, pc: callerPC(1)}
}

type marked struct {
	err      error
	sentinel error
	pc       uintptr
}

func (m *marked) Error() string     { return m.err.Error() }
func (m *marked) Unwrap() []error   { return []error{m.err, m.sentinel} }
func (m *marked) PC() uintptr       { return m.pc }
func (m *marked) IsXerrorsWrapper() {}

func New(msg string) error             { return withStackSkip(errors.New(msg), 2) }
func Newf(f string, args ...any) error { return withStackSkip(fmt.Errorf(f, args...), 2) }

// Is and As re-export the stdlib helpers so callers need a single import.
func Is(err, target error) bool     { return errors.Is(err, target) }
func As(err error, target any) bool { return errors.As(err, target) }
