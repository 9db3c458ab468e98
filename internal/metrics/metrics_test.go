package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/keithlinneman/portfolio-web/internal/version"
)

// helpers

// gatherMetric collects metrics from the registry and finds one by name.
func gatherMetric(t *testing.T, reg *prometheus.Registry, name string) *dto.MetricFamily {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() == name {
			return f
		}
	}
	return nil
}

func labelsOf(m *dto.Metric) map[string]string {
	out := make(map[string]string)
	for _, lp := range m.GetLabel() {
		out[lp.GetName()] = lp.GetValue()
	}
	return out
}

func TestNew_ScrapeIncludesCollectors(t *testing.T) {
	m := New()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", http.NoBody))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := rec.Body.String()
	for _, name := range []string{
		"go_goroutines",
		"http_inflight_requests",
		"profiling_active",
		"sitegen_pages_written_total",
		"sitegen_last_build_success",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("metric %q not in scrape", name)
		}
	}
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.AddPagesWritten(3)
	if got := testutil.ToFloat64(b.pagesWritten); got != 0 {
		t.Fatalf("second registry saw %v pages", got)
	}
}

func TestObserveFetch(t *testing.T) {
	m := New()
	m.ObserveFetch("game", 0.2, 7, nil)
	m.ObserveFetch("codePen", 1.5, 0, errors.New("boom"))

	if got := testutil.ToFloat64(m.fetchItems.WithLabelValues("game")); got != 7 {
		t.Fatalf("game items = %v, want 7", got)
	}
	if got := testutil.ToFloat64(m.fetchErrorsTotal.WithLabelValues("codePen")); got != 1 {
		t.Fatalf("codePen errors = %v, want 1", got)
	}
	if got := testutil.CollectAndCount(m.fetchDuration); got != 2 {
		t.Fatalf("fetch duration series = %d, want 2", got)
	}
}

func TestObserveProfileCache(t *testing.T) {
	m := New()
	m.ObserveProfileCache(false)
	m.ObserveProfileCache(true)
	m.ObserveProfileCache(true)
	if got := testutil.ToFloat64(m.profileCache.WithLabelValues("hit")); got != 2 {
		t.Fatalf("hits = %v", got)
	}
	if got := testutil.ToFloat64(m.profileCache.WithLabelValues("miss")); got != 1 {
		t.Fatalf("misses = %v", got)
	}
}

func TestSetRoutes_ReplacesPreviousKinds(t *testing.T) {
	m := New()
	m.SetRoutes(map[string]int{"game": 3, "legacy": 1})
	m.SetRoutes(map[string]int{"game": 4})
	if got := testutil.CollectAndCount(m.routesGenerated); got != 1 {
		t.Fatalf("series = %d, want 1", got)
	}
	if got := testutil.ToFloat64(m.routesGenerated.WithLabelValues("game")); got != 4 {
		t.Fatalf("game routes = %v", got)
	}
}

func TestObserveBuild(t *testing.T) {
	m := New()
	m.ObserveBuild(2*time.Second, nil)
	if got := testutil.ToFloat64(m.lastBuildSuccess); got != 1 {
		t.Fatalf("last success = %v, want 1", got)
	}
	m.ObserveBuild(time.Second, errors.New("x"))
	if got := testutil.ToFloat64(m.lastBuildSuccess); got != 0 {
		t.Fatalf("last success = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.buildsTotal.WithLabelValues("failure")); got != 1 {
		t.Fatalf("failures = %v", got)
	}
	if testutil.ToFloat64(m.lastBuildTs) == 0 {
		t.Fatal("last build timestamp not set")
	}
}

func TestSetBundleAndPublish(t *testing.T) {
	m := New()
	m.SetBundle("aaa", 10)
	m.SetBundle("bbb", 20)
	f := gatherMetric(t, m.reg, "sitegen_bundle_info")
	if f == nil || len(f.GetMetric()) != 1 || labelsOf(f.GetMetric()[0])["sha256"] != "bbb" {
		t.Fatalf("bundle info = %v", f)
	}
	m.IncPublish(nil)
	m.IncRebuild(errors.New("x"))
	if got := testutil.ToFloat64(m.publishTotal.WithLabelValues("success")); got != 1 {
		t.Fatalf("publishes = %v", got)
	}
	if got := testutil.ToFloat64(m.rebuildsTotal.WithLabelValues("failure")); got != 1 {
		t.Fatalf("rebuild failures = %v", got)
	}
}

func TestSetBuildInfoFromVersion(t *testing.T) {
	m := New()
	dirty := true
	m.SetBuildInfoFromVersion("portfolio-sitegen", "build", &version.Info{
		Version:   "1.2.3",
		Commit:    "abc123",
		GoVersion: "go1.24",
		VCSDirty:  &dirty,
	})
	f := gatherMetric(t, m.reg, "build_info")
	if f == nil {
		t.Fatal("build_info missing")
	}
	l := labelsOf(f.GetMetric()[0])
	if l["app"] != "portfolio-sitegen" || l["version"] != "1.2.3" || l["vcs_dirty"] != "true" {
		t.Fatalf("labels = %v", l)
	}

	m2 := New()
	m2.SetBuildInfoFromVersion("a", "b", &version.Info{})
	if l := labelsOf(gatherMetric(t, m2.reg, "build_info").GetMetric()[0]); l["vcs_dirty"] != "unknown" {
		t.Fatalf("vcs_dirty = %q, want unknown", l["vcs_dirty"])
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.AddPagesWritten(5)
	path := filepath.Join(t.TempDir(), "sitegen.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "sitegen_pages_written_total 5") {
		t.Fatalf("textfile missing pages counter:\n%s", data)
	}
}

func TestWriteTextfile_BadDir(t *testing.T) {
	m := New()
	if err := m.WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom")); err == nil {
		t.Fatal("expected error")
	}
}
