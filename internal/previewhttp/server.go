package previewhttp

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/portfolio-web/internal/health"
	"github.com/keithlinneman/portfolio-web/internal/log"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

const (
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultReadTimeout       = 10 * time.Second
	DefaultWriteTimeout      = 30 * time.Second
	DefaultIdleTimeout       = 60 * time.Second
	DefaultMaxHeaderBytes    = 1 << 20 // 1 MB
)

type Options struct {
	Logger log.Logger
	Port   int
	OutDir string

	// Live and Ready back /-/healthy and /-/ready; nil always passes
	Live  health.Probe
	Ready health.Probe

	// MetricsMW instruments requests; MetricsHandler is served on /metrics
	MetricsMW      func(http.Handler) http.Handler
	MetricsHandler http.Handler
}

// NewHandler builds the preview router. main owns the *http.Server through
// Start so it can shut it down gracefully.
func NewHandler(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Compress(5,
		"text/html",
		"text/css",
		"application/javascript",
		"text/javascript",
		"application/json",
		"application/xml",
		"image/svg+xml",
	))
	r.Use(accessLog(opts.Logger))

	health.Register(r, opts.Live, opts.Ready)
	if opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", opts.MetricsHandler)
	}

	files := NewFiles(opts.OutDir)
	r.Handle("/*", files)
	r.MethodNotAllowed(files.ServeHTTP)

	var h http.Handler = r
	if opts.MetricsMW != nil {
		h = opts.MetricsMW(h)
	}

	return otelhttp.NewHandler(h, "preview.http",
		otelhttp.WithFilter(func(r *http.Request) bool { return shouldTrace(r.URL.Path) }),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}

func shouldTrace(p string) bool {
	if p == "/-/healthy" || p == "/-/ready" || p == "/metrics" {
		return false
	}
	switch strings.ToLower(path.Ext(p)) {
	case ".css", ".js", ".png", ".jpg", ".jpeg", ".webp", ".svg", ".ico", ".woff", ".woff2", ".map":
		return false
	}
	return true
}

// accessLog logs page requests; assets and ops endpoints are skipped.
func accessLog(base log.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			L := base.With(
				"request_id", middleware.GetReqID(r.Context()),
				"http.request.method", r.Method,
				"url.path", r.URL.Path,
			)
			ctx := log.WithContext(r.Context(), L)
			next.ServeHTTP(ww, r.WithContext(ctx))

			if !shouldTrace(r.URL.Path) {
				return
			}
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			L.Info(ctx, "http request",
				"http.response.status_code", status,
				"http.server.request.duration", time.Since(start).Seconds(),
				"http.response.body.size", ww.BytesWritten(),
			)
		})
	}
}

// Start listens on opts.Port and serves in the background. The returned
// func shuts the server down gracefully.
func Start(ctx context.Context, opts Options) (func(context.Context) error, error) {
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	if opts.OutDir == "" {
		return nil, xerrors.New("previewhttp: OutDir is required")
	}
	port := opts.Port
	if port == 0 {
		port = 8080
	}
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewHandler(opts),
		ReadHeaderTimeout: DefaultReadHeaderTimeout,
		ReadTimeout:       DefaultReadTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		IdleTimeout:       DefaultIdleTimeout,
		MaxHeaderBytes:    DefaultMaxHeaderBytes,
	}

	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, xerrors.EnsureTrace(err)
	}

	go func() {
		opts.Logger.Info(ctx, "preview server listening", "addr", addr, "out_dir", opts.OutDir)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			opts.Logger.Error(ctx, err, "preview server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			opts.Logger.Info(sctx, "preview server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
