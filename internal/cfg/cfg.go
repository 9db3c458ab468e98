package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/keithlinneman/portfolio-web/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names when filling from env.
const EnvPrefix = "SITEGEN_"

// EnvAliases maps flags to fixed environment variable names that predate the
// SITEGEN_ prefix. Content-store credentials are read from these.
var EnvAliases = map[string]string{
	"contentful-space": "CONTENTFUL_SPACE",
	"contentful-token": "CONTENTFUL_TOKEN",
}

type App struct {
	LogJSON           bool
	LogLevel          string
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	EnableTracing   bool
	OTLPEndpoint    string
	TraceSample     float64
	EnablePyroscope bool
	PyroServer      string
	PyroTenantID    string

	SiteConfig  string
	OutDir      string
	MetricsFile string

	ContentfulSpace       string
	ContentfulToken       string
	ContentfulEnvironment string
	ContentfulHost        string
	ContentfulRPS         float64
	GameContentType       string
	PenContentType        string

	GitHubAPI    string
	GravatarHost string
	FetchTimeout time.Duration
	RandomSeed   int64

	Bundle               bool
	Publish              bool
	PublishS3Bucket      string
	PublishS3Prefix      string
	PublishSSMParam      string
	PublishSigningKeyARN string

	Serve    bool
	Watch    bool
	HTTPPort int
}

// Register binds all config fields to the given FlagSet with defaults inline
func Register(fs *flag.FlagSet, c *App) {
	fs.BoolVar(&c.LogJSON, "log-json", false, "JSON logs (true) or logfmt (false)")
	fs.StringVar(&c.LogLevel, "log-level", "info", "debug|info|warn|error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "debug|info|warn|error")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "Include error links in log messages")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "max error chain depth (1..64)")

	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "Enable OTLP tracing and push to otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP endpoint to push to (gRPC) (host:port)")
	fs.Float64Var(&c.TraceSample, "trace-sample", 1.0, "trace sampling ratio (0..1)")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "Enable pushing Pyroscope data to server set in -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server url to push to")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "tenant (x-scope-orgid) to use for pyro-server")

	fs.StringVar(&c.SiteConfig, "site-config", "src/config.json", "path to the site config JSON document")
	fs.StringVar(&c.OutDir, "out-dir", "dist", "directory the static site is written to (cleaned on every build)")
	fs.StringVar(&c.MetricsFile, "metrics-file", "", "write build metrics in Prometheus text format to this file after each build")

	fs.StringVar(&c.ContentfulSpace, "contentful-space", "", "Contentful space id (env CONTENTFUL_SPACE)")
	fs.StringVar(&c.ContentfulToken, "contentful-token", "", "Contentful delivery API token (env CONTENTFUL_TOKEN)")
	fs.StringVar(&c.ContentfulEnvironment, "contentful-environment", "master", "Contentful environment")
	fs.StringVar(&c.ContentfulHost, "contentful-host", "cdn.contentful.com", "Contentful delivery API host")
	fs.Float64Var(&c.ContentfulRPS, "contentful-rps", 50, "max Contentful requests per second")
	fs.StringVar(&c.GameContentType, "game-content-type", "game", "content type id for games")
	fs.StringVar(&c.PenContentType, "pen-content-type", "codePen", "content type id for code pens")

	fs.StringVar(&c.GitHubAPI, "github-api", "https://api.github.com", "GitHub REST API base url")
	fs.StringVar(&c.GravatarHost, "gravatar-host", "www.gravatar.com", "host used for generated avatar urls")
	fs.DurationVar(&c.FetchTimeout, "fetch-timeout", 60*time.Second, "bound on the fetch phase of a build (0 disables)")
	fs.Int64Var(&c.RandomSeed, "random-seed", 0, "seed for related-content sampling (0 picks a random seed)")

	fs.BoolVar(&c.Bundle, "bundle", false, "pack the output directory into a tar.gz bundle after building")
	fs.BoolVar(&c.Publish, "publish", false, "upload the bundle to S3 and point the SSM release parameter at it (implies -bundle)")
	fs.StringVar(&c.PublishS3Bucket, "publish-s3-bucket", "", "s3 bucket to upload content bundles to")
	fs.StringVar(&c.PublishS3Prefix, "publish-s3-prefix", "apps/portfolio-web/content/bundles", "s3 prefix (key) for content bundles")
	fs.StringVar(&c.PublishSSMParam, "publish-ssm-param", "", "ssm parameter updated with the published bundle hash")
	fs.StringVar(&c.PublishSigningKeyARN, "publish-signing-key-arn", "", "KMS key ARN used to sign bundles (optional)")

	fs.BoolVar(&c.Serve, "serve", false, "serve the output directory after building")
	fs.BoolVar(&c.Watch, "watch", true, "rebuild when the site config changes (with -serve)")
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "preview listen TCP port (1..65535)")
}

// EnvKey returns the environment variable consulted for a flag name.
func EnvKey(prefix, name string) string {
	if alias, ok := EnvAliases[name]; ok {
		return alias
	}
	return prefix + strings.ReplaceAll(strings.ToUpper(name), "-", "_")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR unless it has
// an entry in EnvAliases.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// Validate checks that config values are within expected ranges and formats.
// Returns an error describing all invalid fields, or nil if all valid.
func Validate(c App) error {
	var errs []error

	// Log levels
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("invalid LOG_LEVEL %q: %w", c.LogLevel, err))
	}
	if c.StacktraceLevel != "" {
		if _, err := log.ParseLevel(c.StacktraceLevel); err != nil {
			errs = append(errs, fmt.Errorf("invalid STACKTRACE_LEVEL %q: %w", c.StacktraceLevel, err))
		}
	}
	if c.IncludeErrorLinks && (c.MaxErrorLinks < 1 || c.MaxErrorLinks > 64) {
		errs = append(errs, fmt.Errorf("MAX_ERROR_LINKS must be 1..64 (got %d)", c.MaxErrorLinks))
	}

	// Tracing
	if c.TraceSample < 0 || c.TraceSample > 1 {
		errs = append(errs, fmt.Errorf("invalid TRACE_SAMPLE %.3f (must be 0..1)", c.TraceSample))
	}
	if c.EnableTracing {
		if c.OTLPEndpoint == "" {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT required when ENABLE_TRACING=true"))
		} else if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			errs = append(errs, fmt.Errorf("OTLP_ENDPOINT must be host:port (got %q): %v", c.OTLPEndpoint, err))
		}
	}

	// Pyroscope
	if c.EnablePyroscope {
		if u, err := url.Parse(c.PyroServer); c.PyroServer == "" || err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, fmt.Errorf("PYRO_SERVER must be a URL when ENABLE_PYROSCOPE=true (got %q)", c.PyroServer))
		}
	}

	// Paths
	if c.SiteConfig == "" {
		errs = append(errs, fmt.Errorf("SITE_CONFIG is required"))
	}
	if out := filepath.Clean(c.OutDir); c.OutDir == "" || out == "." || out == string(filepath.Separator) {
		errs = append(errs, fmt.Errorf("OUT_DIR must name a dedicated directory (got %q)", c.OutDir))
	}

	// Content store
	if c.ContentfulSpace == "" {
		errs = append(errs, fmt.Errorf("CONTENTFUL_SPACE is required"))
	}
	if c.ContentfulToken == "" {
		errs = append(errs, fmt.Errorf("CONTENTFUL_TOKEN is required"))
	}
	if c.ContentfulHost == "" || strings.Contains(c.ContentfulHost, "/") {
		errs = append(errs, fmt.Errorf("CONTENTFUL_HOST must be a bare host (got %q)", c.ContentfulHost))
	}
	if c.ContentfulRPS <= 0 {
		errs = append(errs, fmt.Errorf("CONTENTFUL_RPS must be > 0 (got %.2f)", c.ContentfulRPS))
	}
	if c.GameContentType == "" || c.PenContentType == "" {
		errs = append(errs, fmt.Errorf("GAME_CONTENT_TYPE and PEN_CONTENT_TYPE are required"))
	}

	// Profile / avatar
	if u, err := url.Parse(c.GitHubAPI); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("GITHUB_API must be a URL (got %q)", c.GitHubAPI))
	}
	if c.GravatarHost == "" || strings.Contains(c.GravatarHost, "/") {
		errs = append(errs, fmt.Errorf("GRAVATAR_HOST must be a bare host (got %q)", c.GravatarHost))
	}
	if c.FetchTimeout < 0 {
		errs = append(errs, fmt.Errorf("FETCH_TIMEOUT must be >= 0 (got %s)", c.FetchTimeout))
	}

	// Publishing
	if c.Publish {
		if c.PublishS3Bucket == "" {
			errs = append(errs, fmt.Errorf("PUBLISH_S3_BUCKET required when PUBLISH=true"))
		}
		if c.PublishSSMParam == "" {
			errs = append(errs, fmt.Errorf("PUBLISH_SSM_PARAM required when PUBLISH=true"))
		}
	}

	// Preview
	if c.Serve && (c.HTTPPort < 1 || c.HTTPPort > 65535) {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.HTTPPort))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
