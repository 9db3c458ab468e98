package routes

import (
	"context"
	"errors"
	"math/rand/v2"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/keithlinneman/portfolio-web/internal/entry"
	"github.com/keithlinneman/portfolio-web/internal/log"
	"github.com/keithlinneman/portfolio-web/internal/pathutil"
	"github.com/keithlinneman/portfolio-web/internal/sample"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

// Page sizes for sampled listings.
const (
	HomePens     = 6
	RelatedGames = 2
	RelatedPens  = 4
)

// ErrInvalidID is returned when an item id cannot be used as a path segment
// or collides with another item of the same collection.
var ErrInvalidID = errors.New("invalid content id")

// Fetcher is the read side of the content store.
type Fetcher interface {
	FetchEntries(ctx context.Context, contentType string) ([]*entry.Entry, error)
}

type Options struct {
	Store           Fetcher
	GameContentType string // default "game"
	PenContentType  string // default "codePen"
	Rand            *rand.Rand
	Logger          log.Logger
}

type Generator struct {
	store Fetcher
	games string
	pens  string
	rnd   *rand.Rand
	log   log.Logger
}

func NewGenerator(opts Options) (*Generator, error) {
	if opts.Store == nil {
		return nil, xerrors.New("routes: Store is required")
	}
	if opts.GameContentType == "" {
		opts.GameContentType = "game"
	}
	if opts.PenContentType == "" {
		opts.PenContentType = "codePen"
	}
	if opts.Rand == nil {
		opts.Rand = sample.NewRand(0)
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	return &Generator{
		store: opts.Store,
		games: opts.GameContentType,
		pens:  opts.PenContentType,
		rnd:   opts.Rand,
		log:   opts.Logger,
	}, nil
}

// item pairs a fetched entry with its sanitized fields and routing id
type item struct {
	id    string
	raw   *entry.Entry
	clean entry.Record
}

func itemID(it item) string { return it.id }

// Generate fetches both collections and assembles the route tree. Either
// fetch failing fails the whole generation; no partial tree is returned.
func (g *Generator) Generate(ctx context.Context) ([]Route, error) {
	ctx, span := otel.Tracer("portfolio/routes").Start(ctx, "routes.Generate")
	defer span.End()

	var rawGames, rawPens []*entry.Entry
	eg, egctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		var err error
		rawGames, err = g.store.FetchEntries(egctx, g.games)
		return xerrors.Wrapf(err, "fetch %s", g.games)
	})
	eg.Go(func() error {
		var err error
		rawPens, err = g.store.FetchEntries(egctx, g.pens)
		return xerrors.Wrapf(err, "fetch %s", g.pens)
	})
	if err := eg.Wait(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	SortByUpdated(rawGames)
	SortByUpdated(rawPens)

	games, err := prepare(rawGames)
	if err != nil {
		return nil, xerrors.Wrapf(err, "prepare %s", g.games)
	}
	pens, err := prepare(rawPens)
	if err != nil {
		return nil, xerrors.Wrapf(err, "prepare %s", g.pens)
	}

	tree := g.assemble(games, pens, rawGames, rawPens)

	span.SetAttributes(
		attribute.Int("routes.games", len(games)),
		attribute.Int("routes.pens", len(pens)),
		attribute.Int("routes.total", Count(tree)),
	)
	g.log.Info(ctx, "routes generated",
		"games", len(games),
		"pens", len(pens),
		"routes", Count(tree),
	)
	return tree, nil
}

// SortByUpdated orders items by sys.updatedAt, newest first. Items with
// equal timestamps keep their relative order.
func SortByUpdated(items []*entry.Entry) {
	slices.SortStableFunc(items, func(a, b *entry.Entry) int {
		return b.Sys.UpdatedAt.Compare(a.Sys.UpdatedAt)
	})
}

func prepare(raw []*entry.Entry) ([]item, error) {
	clean := entry.StripAll(raw)
	out := make([]item, len(raw))
	seen := make(map[string]struct{}, len(raw))
	for i, e := range raw {
		id := e.ID()
		if !pathutil.IsSegment(id) {
			return nil, xerrors.Mark(xerrors.Newf("entry %d (sys.id %q): id %q is not a path segment", i, e.Sys.ID, id), ErrInvalidID)
		}
		if _, dup := seen[id]; dup {
			return nil, xerrors.Mark(xerrors.Newf("duplicate id %q", id), ErrInvalidID)
		}
		seen[id] = struct{}{}
		out[i] = item{id: id, raw: e, clean: clean[i]}
	}
	return out, nil
}

func records(items []item) []entry.Record {
	out := make([]entry.Record, len(items))
	for i, it := range items {
		out[i] = it.clean
	}
	return out
}

func (g *Generator) pick(items []item, count int, excludeIDs ...string) []entry.Record {
	return records(sample.Pick(g.rnd, items, count, sample.ExcludeKeys(itemID, excludeIDs...)))
}

func (g *Generator) assemble(games, pens []item, rawGames, rawPens []*entry.Entry) []Route {
	allGames := records(games)
	allPens := records(pens)

	gameRoutes := make([]Route, 0, len(games))
	for _, it := range games {
		gameRoutes = append(gameRoutes, Route{
			Path: "/" + it.id,
			Kind: KindGame,
			Data: map[string]any{
				"game":       it.clean,
				"otherGames": g.pick(games, RelatedGames, it.id),
			},
		})
	}

	penRoutes := make([]Route, 0, len(pens))
	for _, it := range pens {
		penRoutes = append(penRoutes, Route{
			Path: "/" + it.id,
			Kind: KindPen,
			Data: map[string]any{
				"pen":       it.clean,
				"otherPens": g.pick(pens, RelatedPens, it.id),
			},
		})
	}

	return []Route{
		{
			Path: "/",
			Kind: KindHome,
			Data: map[string]any{
				"games":   allGames,
				"pens":    g.pick(pens, HomePens),
				"rawPens": rawPens,
			},
		},
		{
			Path:     "/games",
			Kind:     KindGames,
			Data:     map[string]any{"games": allGames},
			Children: gameRoutes,
		},
		{
			Path:     "/pens",
			Kind:     KindPens,
			Data:     map[string]any{"pens": allPens},
			Children: penRoutes,
		},
		{
			Path: "/search",
			Kind: KindSearch,
			Data: map[string]any{
				"games": rawGames,
				"pens":  rawPens,
			},
		},
	}
}
