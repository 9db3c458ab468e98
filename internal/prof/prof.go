// Package prof runs the pyroscope agent for the lifetime of a build or
// preview session.
package prof

import (
	"context"
	"runtime"
	"time"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/portfolio-web/internal/log"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

type Options struct {
	Enabled       bool
	AppName       string
	ServerAddress string
	AuthToken     string
	TenantID      string
	Tags          map[string]string

	// UploadRate defaults to 15s; builds finish quickly so the final
	// upload happens on stop
	UploadRate           time.Duration
	ProfileMutexFraction int
	BlockProfileRate     int
}

// ProfileTypes are the profiles collected. Build runs are CPU and
// allocation heavy and short, so lock contention profiles are left out.
var ProfileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
}

// Start starts the agent and returns a stop func that flushes the final
// upload. The stop func is safe to call when Start failed.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx)

	if !opts.Enabled {
		L.Debug(ctx, "pyroscope disabled")
		return func() {}, nil
	}

	if opts.ServerAddress == "" {
		return func() {}, xerrors.Newf("invalid server address (%q)", opts.ServerAddress)
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	cfg := pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		Tags:            opts.Tags,
		TenantID:        opts.TenantID,
		UploadRate:      opts.UploadRate,
		ProfileTypes:    ProfileTypes,
	}
	if opts.AuthToken != "" {
		cfg.HTTPHeaders = map[string]string{"Authorization": "Bearer " + opts.AuthToken}
	}

	profiler, err := pyroscope.Start(cfg)
	if err != nil {
		return func() {}, xerrors.Wrapf(err, "start pyroscope (server %s)", opts.ServerAddress)
	}

	L.Info(ctx, "pyroscope started",
		"server_address", opts.ServerAddress,
		"app_name", opts.AppName,
	)

	return func() {
		if err := profiler.Stop(); err != nil {
			L.Warn(context.Background(), "pyroscope stop", "err", err)
			return
		}
		L.Debug(context.Background(), "pyroscope stopped", "app_name", opts.AppName)
	}, nil
}
