// Package geocode resolves free-text addresses to coordinates via the
// HERE geocoding API, rotating among multiple credential slots and
// permanently disabling the service for the run once every slot has
// failed.
package geocode

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/imovelmapa/imovsync/internal/resilience"
)

const defaultBaseURL = "https://geocode.search.hereapi.com/v1/geocode"

// Result is a resolved coordinate pair.
type Result struct {
	Latitude  float64
	Longitude float64
}

// Validator checks that a coordinate pair is plausible for the claimed
// municipality and state.
type Validator interface {
	Validate(lat, lon float64, city, region string) bool
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the HERE endpoint (tests).
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// Client is a run-scoped geocoder. Slot state (current index, failed set,
// exhausted fuse) is shared across every region processed in one run: once
// the service is exhausted no further region attempts geocoding.
type Client struct {
	httpClient *http.Client
	baseURL    string
	validator  Validator

	mu      sync.Mutex
	keys    []string
	current int
	failed  map[int]struct{}
	fuse    *resilience.Fuse
}

// New creates a geocoding client over the given credential slots. Empty
// slots are dropped. The validator may be nil, in which case every
// resolved coordinate is accepted.
func New(keys []string, validator Validator, opts ...Option) *Client {
	var clean []string
	for _, k := range keys {
		if k != "" {
			clean = append(clean, k)
		}
	}
	c := &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
		validator:  validator,
		keys:       clean,
		failed:     make(map[int]struct{}),
	}
	c.fuse = resilience.NewFuse(func() {
		zap.L().Error("geocoding service exhausted: every credential slot failed, disabling lookups for this run")
	})
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exhausted reports whether every credential slot has failed.
func (c *Client) Exhausted() bool { return c.fuse.Blown() }

// hereResponse is the subset of the HERE geocode payload we read.
type hereResponse struct {
	Items []struct {
		Position struct {
			Lat float64 `json:"lat"`
			Lng float64 `json:"lng"`
		} `json:"position"`
	} `json:"items"`
}

// Resolve geocodes a free-text address. A nil Result with nil error means
// "no coordinates" — an expected outcome (unmatched address, implausible
// coordinates, transient failure, or exhausted service), never a reason to
// abort the caller.
//
// Credential handling: HTTP 429 and 401 are attributed to the current
// slot, which is marked failed before advancing to the next and retrying
// the same request. The loop is bounded by the slot count; when the last
// slot fails the fuse blows and every later call short-circuits without a
// network request. Other transport errors are treated as transient and do
// not touch slot state.
func (c *Client) Resolve(ctx context.Context, address, city, region string) (*Result, error) {
	if c.fuse.Blown() {
		return nil, nil
	}
	if len(c.keys) == 0 {
		return nil, eris.New("geocode: no credential slots configured")
	}

	for range c.keys {
		key, ok := c.currentKey()
		if !ok {
			return nil, nil
		}

		status, body, err := c.lookup(ctx, address, key)
		if err != nil {
			zap.L().Warn("geocode lookup failed", zap.String("address", address), zap.Error(err))
			return nil, nil
		}

		if status == http.StatusTooManyRequests || status == http.StatusUnauthorized {
			if exhausted := c.failCurrent(status); exhausted {
				return nil, nil
			}
			continue
		}
		if status != http.StatusOK {
			zap.L().Warn("geocode unexpected status", zap.Int("status", status), zap.String("address", address))
			return nil, nil
		}

		return c.extract(body, address, city, region), nil
	}
	return nil, nil
}

func (c *Client) currentKey() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.failed) == len(c.keys) {
		return "", false
	}
	for {
		if _, bad := c.failed[c.current]; !bad {
			return c.keys[c.current], true
		}
		c.current = (c.current + 1) % len(c.keys)
	}
}

// failCurrent marks the active slot failed and advances. Returns true when
// that was the last working slot.
func (c *Client) failCurrent(status int) bool {
	c.mu.Lock()
	slot := c.current
	c.failed[slot] = struct{}{}
	c.current = (c.current + 1) % len(c.keys)
	exhausted := len(c.failed) == len(c.keys)
	c.mu.Unlock()

	zap.L().Warn("geocode credential slot failed",
		zap.Int("slot", slot+1),
		zap.Int("status", status),
	)
	if exhausted {
		c.fuse.Blow()
	}
	return exhausted
}

func (c *Client) lookup(ctx context.Context, address, key string) (int, []byte, error) {
	params := url.Values{
		"q":      {address},
		"apiKey": {key},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return 0, nil, eris.Wrap(err, "geocode: build request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, eris.Wrap(err, "geocode: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, eris.Wrap(err, "geocode: read body")
	}
	return resp.StatusCode, body, nil
}

// extract pulls the top candidate's coordinates out of a 200 payload and
// runs them through the plausibility validator.
func (c *Client) extract(body []byte, address, city, region string) *Result {
	var parsed hereResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		zap.L().Warn("geocode: malformed response", zap.Error(err))
		return nil
	}
	if len(parsed.Items) == 0 {
		zap.L().Debug("geocode: no candidates", zap.String("address", address))
		return nil
	}

	pos := parsed.Items[0].Position
	if pos.Lat == 0 && pos.Lng == 0 {
		return nil
	}
	if c.validator != nil && !c.validator.Validate(pos.Lat, pos.Lng, city, region) {
		zap.L().Warn("geocode: implausible coordinates rejected",
			zap.String("address", address),
			zap.Float64("lat", pos.Lat),
			zap.Float64("lon", pos.Lng),
		)
		return nil
	}
	return &Result{Latitude: pos.Lat, Longitude: pos.Lng}
}
