// Package fetcher downloads upstream feeds and photos over the bank's
// legacy HTTP surface: self-signed TLS, session cookies acquired from the
// landing page, and aggressive rate limiting on the origin side.
package fetcher

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/imovelmapa/imovsync/internal/feed"
)

// FetchError means both transport attempts for a URL failed. Status holds
// the last HTTP status seen, zero when the failure never produced a
// response.
type FetchError struct {
	URL    string
	Status int
	Err    error
}

func (e *FetchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("fetch %s: status %d", e.URL, e.Status)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Options configures the session client.
type Options struct {
	// FeedURLTemplate is a printf template taking the region code.
	FeedURLTemplate string
	// RootURL is the landing page fetched once per session to pick up
	// whatever cookies the origin expects.
	RootURL string
	Timeout time.Duration
	// MinDelay/MaxDelay bound the randomized politeness pause before each
	// feed request.
	MinDelay     time.Duration
	MaxDelay     time.Duration
	RateLimiters map[string]*rate.Limiter
}

// browserHeaders makes requests look like an ordinary browser session; the
// origin rejects obvious non-browser clients.
var browserHeaders = map[string]string{
	"User-Agent":                "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Accept":                    "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8",
	"Accept-Language":           "pt-BR,pt;q=0.9,en-US;q=0.8,en;q=0.7",
	"Connection":                "keep-alive",
	"Upgrade-Insecure-Requests": "1",
}

// Client is a run-scoped HTTP session: cookie jar, browser headers, and
// per-host rate limiters are shared across every fetch in one pipeline run.
type Client struct {
	client   *http.Client
	opts     Options
	limiters map[string]*rate.Limiter

	warmMu sync.Mutex
	warmed bool

	// sleep is injectable for tests.
	sleep func(ctx context.Context, d time.Duration)
}

// NewClient creates a session client. The transport skips certificate
// validation: the origin serves a legacy chain that no system trust store
// accepts.
func NewClient(opts Options) *Client {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MinDelay == 0 {
		opts.MinDelay = time.Second
	}
	if opts.MaxDelay <= opts.MinDelay {
		opts.MaxDelay = opts.MinDelay + 2*time.Second
	}
	limiters := make(map[string]*rate.Limiter)
	for k, v := range opts.RateLimiters {
		limiters[k] = v
	}

	jar, _ := cookiejar.New(nil)
	transport := &http.Transport{
		TLSClientConfig:     &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // upstream serves a self-signed chain
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
			Jar:       jar,
		},
		opts:     opts,
		limiters: limiters,
		sleep:    sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (c *Client) limiterFor(rawURL string) *rate.Limiter {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	return c.limiters[u.Host]
}

// politenessDelay pauses for a randomized interval before touching the
// feed host, spreading requests out enough to stay under its throttle.
func (c *Client) politenessDelay(ctx context.Context) {
	span := c.opts.MaxDelay - c.opts.MinDelay
	d := c.opts.MinDelay + rand.N(span)
	c.sleep(ctx, d)
}

// WarmUp fetches the landing page once per session to acquire cookies.
// Failure is logged and non-fatal; some mirrors serve feeds without any
// session state.
func (c *Client) WarmUp(ctx context.Context) {
	c.warmMu.Lock()
	defer c.warmMu.Unlock()
	if c.warmed || c.opts.RootURL == "" {
		return
	}
	c.warmed = true

	resp, err := c.Get(ctx, c.opts.RootURL)
	if err != nil {
		zap.L().Warn("session warm-up failed", zap.String("url", c.opts.RootURL), zap.Error(err))
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	zap.L().Debug("session warm-up complete", zap.Int("status", resp.StatusCode))
}

// Get issues a browser-like GET through the session. Callers own the
// response body. Non-2xx statuses are returned as responses, not errors.
func (c *Client) Get(ctx context.Context, rawURL string) (*http.Response, error) {
	if lim := c.limiterFor(rawURL); lim != nil {
		if err := lim.Wait(ctx); err != nil {
			return nil, eris.Wrap(err, "fetcher: rate limiter wait")
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "fetcher: create request")
	}
	for k, v := range browserHeaders {
		req.Header.Set(k, v)
	}
	return c.client.Do(req)
}

// FetchFeed downloads one region's feed and decodes it into text. The
// encrypted endpoint is tried first; on any transport or HTTP failure the
// same path is retried once over plain HTTP before giving up.
func (c *Client) FetchFeed(ctx context.Context, region string) (string, error) {
	c.WarmUp(ctx)

	feedURL := fmt.Sprintf(c.opts.FeedURLTemplate, region)

	raw, status, err := c.download(ctx, feedURL)
	if err != nil {
		zap.L().Warn("feed fetch over https failed, retrying over http",
			zap.String("region", region),
			zap.Int("status", status),
			zap.Error(err),
		)
		plainURL := strings.Replace(feedURL, "https://", "http://", 1)
		raw, status, err = c.download(ctx, plainURL)
		if err != nil {
			return "", &FetchError{URL: feedURL, Status: status, Err: err}
		}
	}

	text, enc, err := feed.Decode(raw)
	if err != nil {
		return "", err
	}
	zap.L().Info("feed fetched",
		zap.String("region", region),
		zap.String("encoding", enc),
		zap.Int("bytes", len(raw)),
	)
	return text, nil
}

func (c *Client) download(ctx context.Context, rawURL string) ([]byte, int, error) {
	c.politenessDelay(ctx)

	resp, err := c.Get(ctx, rawURL)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, resp.StatusCode, eris.Errorf("unexpected status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, eris.Wrap(err, "read body")
	}
	return raw, resp.StatusCode, nil
}
