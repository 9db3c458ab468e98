// Package site runs one full build: fetch content and site data, generate
// the route tree, render and export it.
package site

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/portfolio-web/internal/export"
	"github.com/keithlinneman/portfolio-web/internal/log"
	"github.com/keithlinneman/portfolio-web/internal/otelx"
	"github.com/keithlinneman/portfolio-web/internal/routes"
	"github.com/keithlinneman/portfolio-web/internal/sitedata"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

type RouteGenerator interface {
	Generate(ctx context.Context) ([]routes.Route, error)
}

type DataLoader interface {
	Load(ctx context.Context) (*sitedata.SiteData, error)
}

type Exporter interface {
	Write(ctx context.Context, tree []routes.Route, site *sitedata.SiteData, r export.Renderer) (export.Result, error)
	OutDir() string
}

// BuildMetrics is implemented by the metrics package.
type BuildMetrics interface {
	SetRoutes(byKind map[string]int)
	AddPagesWritten(n int)
	ObserveBuild(d time.Duration, err error)
}

// StatusRecorder receives the outcome of every build.
type StatusRecorder interface {
	Record(err error)
}

type Options struct {
	Logger   log.Logger
	Routes   RouteGenerator
	Data     DataLoader
	Exporter Exporter
	Renderer export.Renderer
	Metrics  BuildMetrics
	Status   StatusRecorder

	// FetchTimeout bounds the fetch phase of each build; 0 disables it
	FetchTimeout time.Duration
}

// Snapshot is the result of a successful build.
type Snapshot struct {
	Tree     []routes.Route
	Site     *sitedata.SiteData
	Export   export.Result
	OutDir   string
	BuiltAt  time.Time
	Duration time.Duration
}

// Builder runs builds one at a time and keeps the last successful snapshot.
type Builder struct {
	opts   Options
	logger log.Logger

	mu   sync.Mutex
	last atomic.Pointer[Snapshot]
}

func NewBuilder(opts Options) (*Builder, error) {
	if opts.Routes == nil || opts.Data == nil {
		return nil, xerrors.New("site: Routes and Data are required")
	}
	if opts.Exporter == nil || opts.Renderer == nil {
		return nil, xerrors.New("site: Exporter and Renderer are required")
	}
	if opts.FetchTimeout < 0 {
		return nil, xerrors.Newf("site: FetchTimeout must be >= 0 (got %s)", opts.FetchTimeout)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Builder{opts: opts, logger: opts.Logger}, nil
}

// Last returns the most recent successful build.
func (b *Builder) Last() (*Snapshot, bool) {
	s := b.last.Load()
	return s, s != nil
}

// Build runs a full build. Concurrent calls are serialized. On failure the
// previous output and snapshot stay in place; logging the error is left to
// the caller.
func (b *Builder) Build(ctx context.Context) (snap *Snapshot, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := time.Now()
	ctx, end := otelx.Stage(ctx, "site.Build")
	defer func() {
		d := time.Since(start)
		end(err)
		if b.opts.Metrics != nil {
			b.opts.Metrics.ObserveBuild(d, err)
		}
		if b.opts.Status != nil {
			b.opts.Status.Record(err)
		}
	}()

	tree, data, err := b.fetch(ctx)
	if err != nil {
		return nil, err
	}

	if b.opts.Metrics != nil {
		b.opts.Metrics.SetRoutes(countByKind(tree))
	}

	res, err := b.write(ctx, tree, data)
	if err != nil {
		return nil, err
	}
	if b.opts.Metrics != nil {
		b.opts.Metrics.AddPagesWritten(res.Pages)
	}

	snap = &Snapshot{
		Tree:     tree,
		Site:     data,
		Export:   res,
		OutDir:   b.opts.Exporter.OutDir(),
		BuiltAt:  time.Now().UTC(),
		Duration: time.Since(start),
	}
	b.last.Store(snap)

	b.logger.Info(ctx, "site built",
		"out_dir", snap.OutDir,
		"routes", routes.Count(tree),
		"pages", res.Pages,
		"files", res.Files,
		"bytes", res.Bytes,
		"duration", snap.Duration,
	)
	return snap, nil
}

// fetch generates routes and loads site data concurrently; the first error
// cancels the other.
func (b *Builder) fetch(ctx context.Context) (tree []routes.Route, data *sitedata.SiteData, err error) {
	ctx, end := otelx.Stage(ctx, "site.fetch")
	defer func() { end(err) }()

	if b.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.FetchTimeout)
		defer cancel()
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		tree, err = b.opts.Routes.Generate(egctx)
		return xerrors.Wrap(err, "generate routes")
	})
	eg.Go(func() error {
		var err error
		data, err = b.opts.Data.Load(egctx)
		return xerrors.Wrap(err, "load site data")
	})
	if err := eg.Wait(); err != nil {
		return nil, nil, err
	}
	return tree, data, nil
}

func (b *Builder) write(ctx context.Context, tree []routes.Route, data *sitedata.SiteData) (res export.Result, err error) {
	ctx, end := otelx.Stage(ctx, "site.export",
		attribute.String("out_dir", b.opts.Exporter.OutDir()),
		attribute.Int("routes", routes.Count(tree)),
	)
	defer func() { end(err) }()

	res, err = b.opts.Exporter.Write(ctx, tree, data, b.opts.Renderer)
	return res, xerrors.Wrap(err, "export site")
}

func countByKind(tree []routes.Route) map[string]int {
	out := make(map[string]int)
	_ = routes.Walk(tree, func(_ string, r routes.Route) error {
		out[string(r.Kind)]++
		return nil
	})
	return out
}
