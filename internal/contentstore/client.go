// Package contentstore is a read-only client for the Contentful Content
// Delivery API. It returns entries decoded onto the entry variant with links
// resolved against the response includes.
package contentstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/portfolio-web/internal/entry"
	"github.com/keithlinneman/portfolio-web/internal/log"
	"github.com/keithlinneman/portfolio-web/internal/xerrors"
)

const (
	defaultInclude  = 2
	defaultPageSize = 1000
	maxInclude      = 10

	// maxResponseBytes bounds a single page read from the API
	maxResponseBytes = 32 << 20
)

// Observer receives one call per FetchEntries.
type Observer interface {
	ObserveFetch(contentType string, seconds float64, items int, err error)
}

type Options struct {
	Logger log.Logger

	Space       string
	Token       string
	Environment string // default: "master"

	// Host is the delivery API host, e.g. cdn.contentful.com. BaseURL, when
	// set, replaces https://{Host} entirely (tests, proxies).
	Host    string
	BaseURL string

	// RequestsPerSecond caps outbound requests, <= 0 disables limiting
	RequestsPerSecond float64

	// Include is the link depth resolved by the API (0..10), default 2
	Include  int
	PageSize int

	HTTPClient *http.Client
	Observer   Observer
}

type Client struct {
	opts    Options
	base    *url.URL
	http    *http.Client
	limiter *rate.Limiter
	logger  log.Logger
}

// New validates opts and returns a Client.
func New(opts Options) (*Client, error) {
	if opts.Space == "" {
		return nil, xerrors.New("contentstore: Space is required")
	}
	if opts.Token == "" {
		return nil, xerrors.New("contentstore: Token is required")
	}
	if opts.Environment == "" {
		opts.Environment = "master"
	}
	if opts.Include == 0 {
		opts.Include = defaultInclude
	}
	if opts.Include < 0 || opts.Include > maxInclude {
		return nil, xerrors.Newf("contentstore: Include must be 0..%d (got %d)", maxInclude, opts.Include)
	}
	if opts.PageSize <= 0 {
		opts.PageSize = defaultPageSize
	}
	if opts.Logger == nil {
		opts.Logger = log.Nop()
	}

	raw := opts.BaseURL
	if raw == "" {
		if opts.Host == "" {
			return nil, xerrors.New("contentstore: Host or BaseURL is required")
		}
		raw = "https://" + opts.Host
	}
	base, err := url.Parse(raw)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, xerrors.Newf("contentstore: invalid base url %q", raw)
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{
			Timeout:   30 * time.Second,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		burst := int(opts.RequestsPerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &Client{
		opts:    opts,
		base:    base,
		http:    hc,
		limiter: limiter,
		logger:  opts.Logger,
	}, nil
}

// page is one Content Delivery API collection response
type page struct {
	Total    int              `json:"total"`
	Skip     int              `json:"skip"`
	Limit    int              `json:"limit"`
	Items    []map[string]any `json:"items"`
	Includes struct {
		Entry []map[string]any `json:"Entry"`
		Asset []map[string]any `json:"Asset"`
	} `json:"includes"`
}

// FetchEntries returns every entry of contentType, following pagination and
// resolving links. Any failed page fails the whole fetch.
func (c *Client) FetchEntries(ctx context.Context, contentType string) (items []*entry.Entry, err error) {
	if contentType == "" {
		return nil, xerrors.New("contentstore: content type is required")
	}

	ctx, span := otel.Tracer("portfolio/contentstore").Start(ctx, "contentstore.FetchEntries")
	span.SetAttributes(attribute.String("contentful.content_type", contentType))
	start := time.Now()
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.SetAttributes(attribute.Int("contentful.items", len(items)))
		span.End()
		if c.opts.Observer != nil {
			c.opts.Observer.ObserveFetch(contentType, time.Since(start).Seconds(), len(items), err)
		}
	}()

	idx := newIndex()
	var raw []map[string]any
	for skip := 0; ; {
		p, err := c.fetchPage(ctx, contentType, skip)
		if err != nil {
			return nil, xerrors.Wrapf(err, "fetch %s entries (skip=%d)", contentType, skip)
		}
		raw = append(raw, p.Items...)
		idx.add("Entry", p.Items...)
		idx.add("Entry", p.Includes.Entry...)
		idx.add("Asset", p.Includes.Asset...)

		skip += len(p.Items)
		if len(p.Items) == 0 || skip >= p.Total {
			break
		}
	}

	items = make([]*entry.Entry, 0, len(raw))
	for i, m := range raw {
		resolved := idx.resolve(m, c.opts.Include)
		v, err := entry.Decode(resolved)
		if err != nil {
			return nil, xerrors.Wrapf(err, "decode %s entry %d", contentType, i)
		}
		e, ok := v.(*entry.Entry)
		if !ok {
			return nil, xerrors.Newf("decode %s entry %d: got %T, want entry", contentType, i, v)
		}
		items = append(items, e)
	}

	c.logger.Debug(ctx, "fetched entries",
		"content_type", contentType,
		"items", len(items),
		"includes", idx.len(),
	)
	return items, nil
}

func (c *Client) entriesURL(contentType string, skip int) string {
	u := *c.base
	u.Path = fmt.Sprintf("/spaces/%s/environments/%s/entries",
		url.PathEscape(c.opts.Space), url.PathEscape(c.opts.Environment))
	q := url.Values{}
	q.Set("content_type", contentType)
	q.Set("include", strconv.Itoa(c.opts.Include))
	q.Set("limit", strconv.Itoa(c.opts.PageSize))
	q.Set("skip", strconv.Itoa(skip))
	u.RawQuery = q.Encode()
	return u.String()
}

func (c *Client) fetchPage(ctx context.Context, contentType string, skip int) (*page, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, xerrors.Wrap(err, "rate limit wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.entriesURL(contentType, skip), nil)
	if err != nil {
		return nil, xerrors.Wrap(err, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.opts.Token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, xerrors.EnsureTrace(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, xerrors.Wrap(err, "read response")
	}
	if len(body) > maxResponseBytes {
		return nil, xerrors.Newf("response exceeds %d bytes", maxResponseBytes)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, xerrors.WithStack(newStatusError(resp, body))
	}

	var p page
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, xerrors.Wrap(err, "decode response")
	}
	return &p, nil
}
