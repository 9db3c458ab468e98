package sitedata

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"maps"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel"

	"github.com/keithlinneman/portfolio-web/internal/log"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

const DefaultGravatarHost = "www.gravatar.com"

// SiteData is the resolved per-build site data.
type SiteData struct {
	Config *Config
	GitHub Profile
	Avatar string
}

// Map flattens the site data for templates: the github profile, then every
// config key, then the resolved avatar.
func (s *SiteData) Map() map[string]any {
	out := make(map[string]any, len(s.Config.Raw)+2)
	out["github"] = map[string]any(s.GitHub)
	maps.Copy(out, s.Config.Raw)
	out["avatar"] = s.Avatar
	return out
}

// GravatarURL returns the avatar URL for email. The address is trimmed and
// lowercased before hashing.
func GravatarURL(host, email string) string {
	if host == "" {
		host = DefaultGravatarHost
	}
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return "https://" + host + "/avatar/" + hex.EncodeToString(sum[:]) + "?s=512"
}

type LoaderOptions struct {
	ConfigPath   string
	GitHubAPI    string
	GravatarHost string
	UserAgent    string
	HTTPClient   *http.Client
	Logger       log.Logger
	Observer     CacheObserver

	// Fetcher replaces the GitHub client, mainly for tests
	Fetcher ProfileFetcher
}

// Loader builds SiteData. The config file is re-read on every Load; the
// profile is fetched once per Loader.
type Loader struct {
	configPath   string
	gravatarHost string
	profiles     *ProfileCache
	log          log.Logger
}

func NewLoader(opts LoaderOptions) (*Loader, error) {
	if opts.ConfigPath == "" {
		return nil, xerrors.New("sitedata: ConfigPath is required")
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}
	fetch := opts.Fetcher
	if fetch == nil {
		fetch = NewGitHubClient(opts.GitHubAPI, opts.HTTPClient, opts.UserAgent)
	}
	return &Loader{
		configPath:   opts.ConfigPath,
		gravatarHost: opts.GravatarHost,
		profiles:     NewProfileCache(fetch, opts.Observer),
		log:          opts.Logger,
	}, nil
}

func (l *Loader) Load(ctx context.Context) (*SiteData, error) {
	ctx, span := otel.Tracer("portfolio/sitedata").Start(ctx, "sitedata.Load")
	defer span.End()

	cfg, err := LoadConfig(l.configPath)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	gh, err := l.profiles.Get(ctx, cfg.GitHubUsername)
	if err != nil {
		span.RecordError(err)
		return nil, xerrors.Wrap(err, "load github profile")
	}

	avatar := cfg.Avatar
	if avatar == "" {
		avatar = GravatarURL(l.gravatarHost, cfg.Email)
	}

	l.log.Debug(ctx, "site data loaded", "github_user", cfg.GitHubUsername, "avatar_override", cfg.Avatar != "")
	return &SiteData{Config: cfg, GitHub: gh, Avatar: avatar}, nil
}
