package health

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

// Probe is evaluated at request time
// nil = OK non-nil = FAIL with reason.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// All passes only if every non-nil probe passes; returns the first error.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// Gate flips readiness to false while the server drains.
type Gate struct {
	closed atomic.Bool
	reason atomic.Value
}

func (g *Gate) Close(reason string) {
	g.reason.Store(reason)
	g.closed.Store(true)
}

func (g *Gate) Open() {
	g.closed.Store(false)
	g.reason.Store("")
}

func (g *Gate) Probe() CheckFunc {
	return func(context.Context) error {
		if !g.closed.Load() {
			return nil
		}
		r, _ := g.reason.Load().(string)
		if r == "" {
			r = "draining"
		}
		return xerrors.New(r)
	}
}

// BuildStatus records the result of the latest site build.
type BuildStatus struct {
	mu      sync.RWMutex
	at      time.Time
	err     error
	builds  int
	lastOK  time.Time
	nowFunc func() time.Time
}

// Record stores the outcome of a build that just finished.
func (b *BuildStatus) Record(err error) {
	now := time.Now()
	if b.nowFunc != nil {
		now = b.nowFunc()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.at = now
	b.err = err
	b.builds++
	if err == nil {
		b.lastOK = now
	}
}

// Last returns when the latest build finished, its error, and whether any
// build has been recorded.
func (b *BuildStatus) Last() (time.Time, error, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.at, b.err, b.builds > 0
}

// LastSuccess returns the finish time of the latest successful build.
func (b *BuildStatus) LastSuccess() time.Time {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.lastOK
}

// Probe passes when the most recent build succeeded.
func (b *BuildStatus) Probe() CheckFunc {
	return func(context.Context) error {
		_, err, ok := b.Last()
		if !ok {
			return xerrors.New("site: no build yet")
		}
		if err != nil {
			return xerrors.Wrap(err, "site: last build failed")
		}
		return nil
	}
}
