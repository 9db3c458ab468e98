package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/portfolio-web/internal/version"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

type Metrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// preview server
	inflight    prometheus.Gauge
	reqTotal    *prometheus.CounterVec
	reqDur      *prometheus.HistogramVec
	respBytes   *prometheus.HistogramVec
	errorsTotal *prometheus.CounterVec

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge

	// content store and profile
	fetchDuration    *prometheus.HistogramVec
	fetchItems       *prometheus.GaugeVec
	fetchErrorsTotal *prometheus.CounterVec
	profileCache     *prometheus.CounterVec

	// build pipeline
	routesGenerated  *prometheus.GaugeVec
	pagesWritten     prometheus.Counter
	buildDuration    prometheus.Histogram
	buildsTotal      *prometheus.CounterVec
	lastBuildSuccess prometheus.Gauge
	lastBuildTs      prometheus.Gauge

	// bundle and publish
	bundleInfo    *prometheus.GaugeVec
	bundleBytes   prometheus.Gauge
	publishTotal  *prometheus.CounterVec
	rebuildsTotal *prometheus.CounterVec
}

// New returns a fresh registry with the Go and process collectors and every
// sitegen metric registered. Labels are bounded: content type, route kind,
// result, method and chi route pattern.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_response_size_bytes",
			Help:    "Response size by method and route",
			Buckets: []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576, 4194304},
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx HTTP server errors by method and route",
		}, []string{"method", "route"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitegen_content_fetch_duration_seconds",
			Help:    "Time to fetch every entry of a content type",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"content_type"}),
		fetchItems: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitegen_content_items",
			Help: "Entries returned by the last fetch of a content type",
		}, []string{"content_type"}),
		fetchErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitegen_content_fetch_errors_total",
			Help: "Failed content fetches by content type",
		}, []string{"content_type"}),
		profileCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitegen_profile_cache_lookups_total",
			Help: "Profile cache lookups by result (hit, miss)",
		}, []string{"result"}),
		routesGenerated: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitegen_routes",
			Help: "Routes in the last generated tree by kind",
		}, []string{"kind"}),
		pagesWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sitegen_pages_written_total",
			Help: "Total HTML pages written to the output directory",
		}),
		buildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "sitegen_build_duration_seconds",
			Help:    "Wall time of a full site build",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		buildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitegen_builds_total",
			Help: "Site builds by result (success, failure)",
		}, []string{"result"}),
		lastBuildSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitegen_last_build_success",
			Help: "Whether the last build succeeded (1) or failed (0)",
		}),
		lastBuildTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitegen_last_build_timestamp_seconds",
			Help: "Unix timestamp of the last finished build",
		}),
		bundleInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "sitegen_bundle_info",
			Help: "Last packed bundle (label carries identity, value is always 1)",
		}, []string{"sha256"}),
		bundleBytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sitegen_bundle_size_bytes",
			Help: "Size of the last packed bundle",
		}),
		publishTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitegen_publish_total",
			Help: "Bundle publishes by result (success, failure)",
		}, []string{"result"}),
		rebuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitegen_watch_rebuilds_total",
			Help: "Preview rebuilds triggered by config changes, by result",
		}, []string{"result"}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.errorsTotal,
		m.buildInfo,
		m.profilingActive,
		m.fetchDuration,
		m.fetchItems,
		m.fetchErrorsTotal,
		m.profileCache,
		m.routesGenerated,
		m.pagesWritten,
		m.buildDuration,
		m.buildsTotal,
		m.lastBuildSuccess,
		m.lastBuildTs,
		m.bundleInfo,
		m.bundleBytes,
		m.publishTotal,
		m.rebuildsTotal,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// WriteTextfile writes the registry in the node-exporter textfile format.
// The file is written to a temp file and renamed into place.
func (m *Metrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.reg); err != nil {
		return xerrors.Wrapf(err, "write metrics textfile %s", path)
	}
	return nil
}

// set once at startup.
func (m *Metrics) SetBuildInfoFromVersion(app, component string, vi *version.Info) {
	dirty := "unknown"
	if vi.VCSDirty != nil {
		dirty = strconv.FormatBool(*vi.VCSDirty)
	}
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   dirty,
	}).Set(1)
}

func (m *Metrics) SetProfilingActive(active bool) {
	m.profilingActive.Set(boolGauge(active))
}

// ObserveFetch records one content-type fetch.
func (m *Metrics) ObserveFetch(contentType string, seconds float64, items int, err error) {
	m.fetchDuration.WithLabelValues(contentType).Observe(seconds)
	if err != nil {
		m.fetchErrorsTotal.WithLabelValues(contentType).Inc()
		return
	}
	m.fetchItems.WithLabelValues(contentType).Set(float64(items))
}

func (m *Metrics) ObserveProfileCache(hit bool) {
	if hit {
		m.profileCache.WithLabelValues("hit").Inc()
	} else {
		m.profileCache.WithLabelValues("miss").Inc()
	}
}

// SetRoutes replaces the per-kind route counts.
func (m *Metrics) SetRoutes(byKind map[string]int) {
	m.routesGenerated.Reset()
	for k, n := range byKind {
		m.routesGenerated.WithLabelValues(k).Set(float64(n))
	}
}

func (m *Metrics) AddPagesWritten(n int) {
	m.pagesWritten.Add(float64(n))
}

func (m *Metrics) ObserveBuild(d time.Duration, err error) {
	m.buildDuration.Observe(d.Seconds())
	m.buildsTotal.WithLabelValues(result(err)).Inc()
	m.lastBuildSuccess.Set(boolGauge(err == nil))
	m.lastBuildTs.Set(float64(time.Now().Unix()))
}

func (m *Metrics) SetBundle(sha256 string, size int64) {
	m.bundleInfo.Reset()
	m.bundleInfo.WithLabelValues(sha256).Set(1)
	m.bundleBytes.Set(float64(size))
}

func (m *Metrics) IncPublish(err error) {
	m.publishTotal.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) IncRebuild(err error) {
	m.rebuildsTotal.WithLabelValues(result(err)).Inc()
}

func result(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

func boolGauge(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
