package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"

	"github.com/keithlinneman/portfolio-web/internal/cfg"
	"github.com/keithlinneman/portfolio-web/internal/contentstore"
	"github.com/keithlinneman/portfolio-web/internal/export"
	"github.com/keithlinneman/portfolio-web/internal/health"
	"github.com/keithlinneman/portfolio-web/internal/log"
	"github.com/keithlinneman/portfolio-web/internal/metrics"
	"github.com/keithlinneman/portfolio-web/internal/otelx"
	"github.com/keithlinneman/portfolio-web/internal/previewhttp"
	"github.com/keithlinneman/portfolio-web/internal/prof"
	"github.com/keithlinneman/portfolio-web/internal/publish"
	"github.com/keithlinneman/portfolio-web/internal/render"
	"github.com/keithlinneman/portfolio-web/internal/routes"
	"github.com/keithlinneman/portfolio-web/internal/sample"
	"github.com/keithlinneman/portfolio-web/internal/site"
	"github.com/keithlinneman/portfolio-web/internal/sitedata"
	v "github.com/keithlinneman/portfolio-web/internal/version"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		return 0
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	// Validate already checked both levels
	lvl, _ := log.ParseLevel(conf.LogLevel)
	stackLvl, _ := log.ParseLevel(conf.StacktraceLevel)
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Component:         "sitegen",
		Version:           vi.Version,
		Commit:            vi.Commit,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JSON:              conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		return 1
	}
	defer lg.Sync()
	L := lg.With("component", "sitegen")
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "starting site build",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"site_config", conf.SiteConfig,
		"out_dir", conf.OutDir,
		"contentful_space", conf.ContentfulSpace,
		"contentful_environment", conf.ContentfulEnvironment,
		"fetch_timeout", conf.FetchTimeout,
		"random_seed", conf.RandomSeed,
		"bundle", conf.Bundle,
		"publish", conf.Publish,
		"serve", conf.Serve,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
	)

	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"app":       v.AppName,
			"component": "sitegen",
			"version":   vi.Version,
			"commit":    vi.Commit,
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure: the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "sitegen",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownOTEL(sctx); err != nil {
			L.Error(sctx, err, "otel shutdown")
		}
	}()

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "sitegen", &vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)
	writeMetrics := func() {
		if conf.MetricsFile == "" {
			return
		}
		if err := m.WriteTextfile(conf.MetricsFile); err != nil {
			L.Error(ctx, err, "failed to write metrics file", "path", conf.MetricsFile)
		}
	}
	defer writeMetrics()

	builder, status, err := newBuilder(conf, L, m, vi)
	if err != nil {
		L.Error(ctx, err, "failed to set up site build")
		return 1
	}

	snap, err := builder.Build(ctx)
	if err != nil {
		L.Error(ctx, err, "site build failed")
		return 1
	}

	if conf.Bundle || conf.Publish {
		bundle, err := export.Pack(snap.OutDir, bundlePath(snap.OutDir))
		if err != nil {
			L.Error(ctx, err, "failed to pack bundle", "out_dir", snap.OutDir)
			return 1
		}
		m.SetBundle(bundle.SHA256, bundle.Size)
		L.Info(ctx, "bundle written", "path", bundle.Path, "sha256", bundle.SHA256, "bytes", bundle.Size)

		if conf.Publish {
			if err := publishBundle(ctx, conf, L, bundle); err != nil {
				m.IncPublish(err)
				L.Error(ctx, err, "publish failed", "bucket", conf.PublishS3Bucket, "param", conf.PublishSSMParam)
				return 1
			}
			m.IncPublish(nil)
		}
	}

	if !conf.Serve {
		return 0
	}
	writeMetrics()
	return serve(ctx, conf, L, m, builder, status)
}

func newBuilder(conf cfg.App, L log.Logger, m *metrics.Metrics, vi v.Info) (*site.Builder, *health.BuildStatus, error) {
	store, err := contentstore.New(contentstore.Options{
		Logger:            L,
		Space:             conf.ContentfulSpace,
		Token:             conf.ContentfulToken,
		Environment:       conf.ContentfulEnvironment,
		Host:              conf.ContentfulHost,
		RequestsPerSecond: conf.ContentfulRPS,
		Observer:          m,
	})
	if err != nil {
		return nil, nil, err
	}

	gen, err := routes.NewGenerator(routes.Options{
		Store:           store,
		GameContentType: conf.GameContentType,
		PenContentType:  conf.PenContentType,
		Rand:            sample.NewRand(conf.RandomSeed),
		Logger:          L,
	})
	if err != nil {
		return nil, nil, err
	}

	loader, err := sitedata.NewLoader(sitedata.LoaderOptions{
		ConfigPath:   conf.SiteConfig,
		GitHubAPI:    conf.GitHubAPI,
		GravatarHost: conf.GravatarHost,
		UserAgent:    vi.AppName + "/" + vi.Version,
		Logger:       L,
		Observer:     m,
	})
	if err != nil {
		return nil, nil, err
	}

	writer, err := export.NewWriter(export.Options{OutDir: conf.OutDir, Logger: L})
	if err != nil {
		return nil, nil, err
	}

	renderer, err := render.New()
	if err != nil {
		return nil, nil, err
	}

	status := &health.BuildStatus{}
	b, err := site.NewBuilder(site.Options{
		Logger:       L,
		Routes:       gen,
		Data:         loader,
		Exporter:     writer,
		Renderer:     renderer,
		Metrics:      m,
		Status:       status,
		FetchTimeout: conf.FetchTimeout,
	})
	if err != nil {
		return nil, nil, err
	}
	return b, status, nil
}

// bundlePath places the bundle next to the out dir, never inside it.
func bundlePath(outDir string) string {
	return filepath.Join(filepath.Dir(outDir), filepath.Base(outDir)+".tar.gz")
}

func publishBundle(ctx context.Context, conf cfg.App, L log.Logger, b export.Bundle) error {
	awsCfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return err
	}
	pub, err := publish.NewFromConfig(awsCfg, publish.Options{
		Logger:        L,
		Bucket:        conf.PublishS3Bucket,
		Prefix:        conf.PublishS3Prefix,
		SSMParam:      conf.PublishSSMParam,
		SigningKeyARN: conf.PublishSigningKeyARN,
	})
	if err != nil {
		return err
	}
	res, err := pub.Publish(ctx, b.Path, b.SHA256)
	if err != nil {
		return err
	}
	L.Info(ctx, "bundle published",
		"bucket", res.Bucket,
		"key", res.Key,
		"sig_key", res.SigKey,
		"unchanged", res.Unchanged,
	)
	return nil
}

func serve(ctx context.Context, conf cfg.App, L log.Logger, m *metrics.Metrics, b *site.Builder, status *health.BuildStatus) int {
	var gate health.Gate

	stopHTTP, err := previewhttp.Start(ctx, previewhttp.Options{
		Logger:         L,
		Port:           conf.HTTPPort,
		OutDir:         conf.OutDir,
		Ready:          health.All(gate.Probe(), status.Probe()),
		MetricsMW:      m.Middleware,
		MetricsHandler: m.Handler(),
	})
	if err != nil {
		L.Error(ctx, err, "failed to start preview server", "port", conf.HTTPPort)
		return 1
	}

	if conf.Watch {
		w, err := previewhttp.NewWatcher(previewhttp.WatcherOptions{
			Logger:  L,
			Path:    conf.SiteConfig,
			Metrics: m,
			Rebuild: func(ctx context.Context) error {
				_, err := b.Build(ctx)
				if err != nil {
					if at := status.LastSuccess(); !at.IsZero() {
						err = xerrors.Wrapf(err, "preview still serves the build from %s", at.Format(time.RFC3339))
					}
				}
				if conf.MetricsFile != "" {
					if werr := m.WriteTextfile(conf.MetricsFile); werr != nil {
						L.Error(ctx, werr, "failed to write metrics file", "path", conf.MetricsFile)
					}
				}
				return err
			},
		})
		if err != nil {
			L.Error(ctx, err, "failed to create config watcher")
		} else {
			go func() {
				if err := w.Run(ctx); err != nil {
					L.Error(ctx, err, "config watcher stopped")
				}
			}()
		}
	}

	<-ctx.Done()
	L.Info(context.Background(), "shutdown signal received")
	gate.Close("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := stopHTTP(shutdownCtx); err != nil {
		L.Error(shutdownCtx, err, "preview server shutdown")
	}
	L.Info(context.Background(), "shutdown complete")
	return 0
}
