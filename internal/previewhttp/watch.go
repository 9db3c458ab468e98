package previewhttp

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/keithlinneman/portfolio-web/internal/log"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

// DefaultDebounce is how long the watcher waits for writes to settle.
const DefaultDebounce = 300 * time.Millisecond

// RebuildMetrics is implemented by the metrics package.
type RebuildMetrics interface {
	IncRebuild(err error)
}

type WatcherOptions struct {
	Logger  log.Logger
	Path    string
	Rebuild func(context.Context) error
	Metrics RebuildMetrics

	Debounce time.Duration // default DefaultDebounce
}

// Watcher rebuilds the site when the file at Path changes. The parent
// directory is watched so editors that replace the file on save are seen.
type Watcher struct {
	opts   WatcherOptions
	path   string
	logger log.Logger
}

func NewWatcher(opts WatcherOptions) (*Watcher, error) {
	if opts.Path == "" {
		return nil, xerrors.New("watcher: Path is required")
	}
	if opts.Rebuild == nil {
		return nil, xerrors.New("watcher: Rebuild is required")
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	abs, err := filepath.Abs(opts.Path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "resolve %s", opts.Path)
	}
	return &Watcher{opts: opts, path: abs, logger: opts.Logger}, nil
}

// Run blocks until ctx is done. Rebuilds run one at a time on the watcher
// goroutine; events arriving during a rebuild schedule one more.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return xerrors.Wrap(err, "create fsnotify watcher")
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return xerrors.Wrapf(err, "watch %s", filepath.Dir(w.path))
	}
	w.logger.Info(ctx, "watching site config", "path", w.path, "debounce", w.opts.Debounce)

	timer := time.NewTimer(w.opts.Debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug(ctx, "site config changed", "op", ev.Op.String())
			timer.Reset(w.opts.Debounce)

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn(ctx, "fsnotify error", "error", err)

		case <-timer.C:
			w.rebuild(ctx)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

func (w *Watcher) rebuild(ctx context.Context) {
	start := time.Now()
	err := w.opts.Rebuild(ctx)
	if w.opts.Metrics != nil {
		w.opts.Metrics.IncRebuild(err)
	}
	if err != nil {
		w.logger.Error(ctx, err, "rebuild failed", "path", w.path)
		return
	}
	w.logger.Info(ctx, "rebuilt site", "path", w.path, "duration", time.Since(start))
}
