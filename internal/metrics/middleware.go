package metrics

import (
	"context"
	"net/http"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"
)

// Middleware records inflight, total, duration, size and 5xx errors per
// method and route label. It must wrap the chi router so the route pattern
// is known once the request has been served.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// chi reuses a route context it finds, so the pattern is visible here afterwards
		if chi.RouteContext(r.Context()) == nil {
			r = r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, chi.NewRouteContext()))
		}

		m.inflight.Inc()
		defer m.inflight.Dec()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		code := ww.Status()
		if code == 0 {
			code = http.StatusOK
		}
		method, route := r.Method, routeLabel(r)

		m.reqTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
		if code >= 500 {
			m.errorsTotal.WithLabelValues(method, route).Inc()
		}
		observe(m.reqDur.WithLabelValues(method, route), time.Since(start).Seconds(), traceExemplar(r.Context()))
		m.respBytes.WithLabelValues(method, route).Observe(float64(ww.BytesWritten()))
	})
}

// routeLabel is the chi route pattern. Requests served by a catch-all are
// grouped by what the export wrote at that path, which keeps the label set
// bounded however many pages a site has.
func routeLabel(r *http.Request) string {
	pattern := ""
	if rc := chi.RouteContext(r.Context()); rc != nil {
		pattern = rc.RoutePattern()
	}
	if pattern != "" && !strings.HasSuffix(pattern, "*") {
		return pattern
	}

	p := r.URL.Path
	switch ext := strings.ToLower(path.Ext(p)); {
	case strings.HasPrefix(p, "/-/") || p == "/metrics":
		return p
	case strings.HasPrefix(p, "/static/"):
		return "static"
	case ext == ".json":
		return "routeInfo"
	case ext == ".xml":
		return "sitemap"
	case ext == "" || ext == ".html":
		return "page"
	default:
		return "other"
	}
}

func observe(o prometheus.Observer, v float64, ex prometheus.Labels) {
	if eo, ok := o.(prometheus.ExemplarObserver); ok && ex != nil {
		eo.ObserveWithExemplar(v, ex)
		return
	}
	o.Observe(v)
}

// traceExemplar returns the trace_id of a sampled span in ctx, or nil.
func traceExemplar(ctx context.Context) prometheus.Labels {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() || !sc.IsSampled() {
		return nil
	}
	return prometheus.Labels{"trace_id": sc.TraceID().String()}
}
