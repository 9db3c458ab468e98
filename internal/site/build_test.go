package site

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/portfolio-web/internal/entry"
	"github.com/keithlinneman/portfolio-web/internal/export"
	"github.com/keithlinneman/portfolio-web/internal/render"
	"github.com/keithlinneman/portfolio-web/internal/routes"
	"github.com/keithlinneman/portfolio-web/internal/sample"
	"github.com/keithlinneman/portfolio-web/internal/sitedata"
)

type fakeStore struct {
	entries map[string][]*entry.Entry
	err     error
	block   bool
}

func (f *fakeStore) FetchEntries(ctx context.Context, contentType string) ([]*entry.Entry, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.entries[contentType], nil
}

type fakeProfiles struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeProfiles) FetchProfile(ctx context.Context, username string) (sitedata.Profile, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return sitedata.Profile{"login": username, "name": "Test User"}, nil
}

type fakeMetrics struct {
	routes map[string]int
	pages  int
	builds []error
}

func (m *fakeMetrics) SetRoutes(byKind map[string]int)         { m.routes = byKind }
func (m *fakeMetrics) AddPagesWritten(n int)                   { m.pages += n }
func (m *fakeMetrics) ObserveBuild(d time.Duration, err error) { m.builds = append(m.builds, err) }

type fakeStatus struct{ errs []error }

func (s *fakeStatus) Record(err error) { s.errs = append(s.errs, err) }

const siteConfig = `{
  "githubUsername": "octo",
  "email": "octo@example.com",
  "siteUrl": "https://octo.example.com",
  "title": "Octo",
  "socialLinks": [
    {"id": "codepen", "icon": "codepen", "href": "https://codepen.io/octo", "name": "CodePen"}
  ]
}`

func game(id string, hour int) *entry.Entry {
	return &entry.Entry{
		Sys: entry.Sys{ID: "sys-" + id, Type: "Entry", UpdatedAt: time.Date(2024, 1, 1, hour, 0, 0, 0, time.UTC)},
		Fields: entry.Record{
			"id":    entry.Scalar{V: id},
			"title": entry.Scalar{V: "Title " + id},
		},
	}
}

type harness struct {
	builder  *Builder
	store    *fakeStore
	profiles *fakeProfiles
	metrics  *fakeMetrics
	status   *fakeStatus
	out      string
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(cfgPath, []byte(siteConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	h := &harness{
		store: &fakeStore{entries: map[string][]*entry.Entry{
			"game":    {game("g1", 1), game("g2", 2), game("g3", 3)},
			"codePen": {game("p1", 1), game("p2", 2)},
		}},
		profiles: &fakeProfiles{},
		metrics:  &fakeMetrics{},
		status:   &fakeStatus{},
		out:      filepath.Join(dir, "dist"),
	}

	gen, err := routes.NewGenerator(routes.Options{Store: h.store, Rand: sample.NewRand(7)})
	if err != nil {
		t.Fatal(err)
	}
	loader, err := sitedata.NewLoader(sitedata.LoaderOptions{ConfigPath: cfgPath, Fetcher: h.profiles})
	if err != nil {
		t.Fatal(err)
	}
	w, err := export.NewWriter(export.Options{OutDir: h.out})
	if err != nil {
		t.Fatal(err)
	}
	r, err := render.New()
	if err != nil {
		t.Fatal(err)
	}

	h.builder, err = NewBuilder(Options{
		Routes:       gen,
		Data:         loader,
		Exporter:     w,
		Renderer:     r,
		Metrics:      h.metrics,
		Status:       h.status,
		FetchTimeout: timeout,
	})
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestNewBuilder_Validation(t *testing.T) {
	if _, err := NewBuilder(Options{}); err == nil {
		t.Fatal("expected error for empty options")
	}
}

func TestBuild_WritesSite(t *testing.T) {
	h := newHarness(t, time.Minute)

	snap, err := h.builder.Build(context.Background())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// home, games, 3 games, pens, 2 pens, search
	if got := routes.Count(snap.Tree); got != 9 {
		t.Fatalf("routes = %d, want 9", got)
	}
	if snap.Export.Pages != 9 {
		t.Fatalf("pages = %d, want 9", snap.Export.Pages)
	}
	for _, p := range []string{"index.html", "games/g2/index.html", "pens/p1/routeInfo.json", "search/index.html", "404.html", "sitemap.xml"} {
		if _, err := os.Stat(filepath.Join(h.out, p)); err != nil {
			t.Fatalf("missing %s: %v", p, err)
		}
	}
	if h.metrics.routes["game"] != 3 || h.metrics.routes["pen"] != 2 || h.metrics.routes["home"] != 1 {
		t.Fatalf("route metrics = %v", h.metrics.routes)
	}
	if h.metrics.pages != 9 {
		t.Fatalf("pages metric = %d", h.metrics.pages)
	}
	if len(h.status.errs) != 1 || h.status.errs[0] != nil {
		t.Fatalf("status = %v", h.status.errs)
	}
	if last, ok := h.builder.Last(); !ok || last != snap {
		t.Fatal("Last should return the new snapshot")
	}
}

func TestBuild_ProfileFetchedOncePerBuilder(t *testing.T) {
	h := newHarness(t, 0)
	for i := 0; i < 3; i++ {
		if _, err := h.builder.Build(context.Background()); err != nil {
			t.Fatalf("Build %d: %v", i, err)
		}
	}
	if h.profiles.calls != 1 {
		t.Fatalf("profile fetches = %d, want 1", h.profiles.calls)
	}
}

func TestBuild_FetchFailureKeepsPreviousOutput(t *testing.T) {
	h := newHarness(t, time.Minute)
	first, err := h.builder.Build(context.Background())
	if err != nil {
		t.Fatalf("first build: %v", err)
	}

	h.store.err = errors.New("contentful unavailable")
	if _, err := h.builder.Build(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	if last, _ := h.builder.Last(); last != first {
		t.Fatal("failed build replaced the snapshot")
	}
	if _, err := os.Stat(filepath.Join(h.out, "index.html")); err != nil {
		t.Fatalf("previous output removed: %v", err)
	}
	if len(h.metrics.builds) != 2 || h.metrics.builds[1] == nil {
		t.Fatalf("build metrics = %v", h.metrics.builds)
	}
	if h.status.errs[1] == nil {
		t.Fatal("status should record the failure")
	}
}

func TestBuild_FetchTimeout(t *testing.T) {
	h := newHarness(t, 20*time.Millisecond)
	h.store.block = true

	_, err := h.builder.Build(context.Background())
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline exceeded", err)
	}
	if _, ok := h.builder.Last(); ok {
		t.Fatal("no snapshot expected")
	}
}

func TestCountByKind(t *testing.T) {
	tree := []routes.Route{
		{Path: "/", Kind: routes.KindHome},
		{Path: "/games", Kind: routes.KindGames, Children: []routes.Route{
			{Path: "/a", Kind: routes.KindGame},
			{Path: "/b", Kind: routes.KindGame},
		}},
	}
	got := countByKind(tree)
	if got["home"] != 1 || got["games"] != 1 || got["game"] != 2 {
		t.Fatalf("countByKind = %v", got)
	}
}
