package sitedata

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/singleflight"

	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

const (
	DefaultGitHubAPI = "https://api.github.com"

	maxProfileBytes    = 1 << 20
	githubAPIVersion   = "2022-11-28"
	defaultHTTPTimeout = 20 * time.Second

	// sharedFetchTimeout bounds a fetch that outlives the caller who started it
	sharedFetchTimeout = 30 * time.Second
)

// Profile is the decoded GitHub /users/{username} response.
type Profile map[string]any

// ProfileFetcher fetches a profile for a username.
type ProfileFetcher interface {
	FetchProfile(ctx context.Context, username string) (Profile, error)
}

// GitHubClient reads public user profiles from the GitHub REST API.
type GitHubClient struct {
	base      string
	http      *http.Client
	userAgent string
}

func NewGitHubClient(baseURL string, hc *http.Client, userAgent string) *GitHubClient {
	if baseURL == "" {
		baseURL = DefaultGitHubAPI
	}
	if hc == nil {
		hc = &http.Client{
			Timeout:   defaultHTTPTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return &GitHubClient{base: strings.TrimRight(baseURL, "/"), http: hc, userAgent: userAgent}
}

func (g *GitHubClient) FetchProfile(ctx context.Context, username string) (Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.base+"/users/"+url.PathEscape(username), nil)
	if err != nil {
		return nil, xerrors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", githubAPIVersion)
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return nil, xerrors.Wrapf(err, "get github profile %s", username)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, xerrors.Newf("get github profile %s: status %d", username, resp.StatusCode)
	}

	var p Profile
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxProfileBytes)).Decode(&p); err != nil {
		return nil, xerrors.Wrapf(err, "decode github profile %s", username)
	}
	return p, nil
}

// CacheObserver is told whether each ProfileCache lookup was served from memory.
type CacheObserver interface {
	ObserveProfileCache(hit bool)
}

// ProfileCache memoizes one profile per username for its own lifetime.
// Concurrent first lookups share a single fetch. Failed fetches are not
// cached.
type ProfileCache struct {
	fetch    ProfileFetcher
	observer CacheObserver

	group singleflight.Group
	mu    sync.RWMutex
	byKey map[string]Profile
}

func NewProfileCache(fetch ProfileFetcher, observer CacheObserver) *ProfileCache {
	return &ProfileCache{fetch: fetch, observer: observer, byKey: make(map[string]Profile)}
}

// Get returns the profile for username, fetching it on first use. The shared
// fetch is detached from any one caller's cancellation, so a cancelled caller
// returns its own ctx error without failing the others waiting on it.
func (c *ProfileCache) Get(ctx context.Context, username string) (Profile, error) {
	if p, ok := c.cached(username); ok {
		c.observe(true)
		return p, nil
	}

	ch := c.group.DoChan(username, func() (any, error) {
		// a concurrent caller may have filled it between the check and Do
		if p, ok := c.cached(username); ok {
			return p, nil
		}
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedFetchTimeout)
		defer cancel()
		p, err := c.fetch.FetchProfile(fctx, username)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.byKey[username] = p
		c.mu.Unlock()
		return p, nil
	})
	c.observe(false)

	select {
	case <-ctx.Done():
		return nil, xerrors.Wrapf(ctx.Err(), "get github profile %s", username)
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(Profile), nil
	}
}

func (c *ProfileCache) cached(username string) (Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.byKey[username]
	return p, ok
}

func (c *ProfileCache) observe(hit bool) {
	if c.observer != nil {
		c.observer.ObserveProfileCache(hit)
	}
}
