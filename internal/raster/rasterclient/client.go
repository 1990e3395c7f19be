package rasterclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/banshee-data/waterextent/internal/httputil"
	"github.com/banshee-data/waterextent/internal/monitoring"
	"github.com/banshee-data/waterextent/internal/raster"
)

// maxResponseSize bounds a single response body.
const maxResponseSize = 512 << 20

// Client is a raster.Service backed by a remote catalog. Reads are
// idempotent and retried on transport failures and 5xx responses.
type Client struct {
	base       string
	http       httputil.HTTPClient
	maxTries   uint64
	maxElapsed time.Duration
	initial    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport.
func WithHTTPClient(c httputil.HTTPClient) Option {
	return func(cl *Client) { cl.http = c }
}

// WithRetry bounds the retry loop: at most tries attempts within maxElapsed,
// starting at initial delay.
func WithRetry(tries int, initial, maxElapsed time.Duration) Option {
	return func(cl *Client) {
		if tries < 1 {
			tries = 1
		}
		cl.maxTries = uint64(tries)
		cl.initial = initial
		cl.maxElapsed = maxElapsed
	}
}

// New returns a client for the service rooted at baseURL.
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, raster.Inputf("raster service URL %q is not absolute", baseURL)
	}
	c := &Client{
		base:       strings.TrimRight(baseURL, "/"),
		http:       httputil.NewStandardClient(&http.Client{Timeout: 2 * time.Minute}),
		maxTries:   5,
		initial:    500 * time.Millisecond,
		maxElapsed: 30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// Filter queries scene metadata eagerly; pixels are fetched one scene at
// a time as the collection is consumed.
func (c *Client) Filter(ctx context.Context, q raster.Query) (*raster.Collection, error) {
	body, err := json.Marshal(toRequest(q))
	if err != nil {
		return nil, fmt.Errorf("encode query: %w", err)
	}
	var resp filterResponse
	if err := c.do(ctx, http.MethodPost, c.base+"/filter", body, &resp); err != nil {
		return nil, err
	}
	metas := resp.Images
	return raster.FromSeq(q.Source, func(yield func(*raster.Image, error) bool) {
		for _, m := range metas {
			im, err := c.fetch(ctx, m.ID)
			if !yield(im, err) || err != nil {
				return
			}
		}
	}), nil
}

func (c *Client) fetch(ctx context.Context, id string) (*raster.Image, error) {
	var w wireImage
	if err := c.do(ctx, http.MethodGet, c.base+"/images/"+url.PathEscape(id), nil, &w); err != nil {
		return nil, err
	}
	return w.image()
}

// do performs one request with bounded exponential backoff. 4xx answers
// are permanent: 400/404/422 map to ErrInput, anything else to
// ErrExternalService.
func (c *Client) do(ctx context.Context, method, target string, body []byte, out interface{}) error {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.initial
	eb.MaxElapsedTime = c.maxElapsed
	policy := backoff.WithContext(backoff.WithMaxRetries(eb, c.maxTries-1), ctx)

	op := func() error {
		var rd io.Reader
		if body != nil {
			rd = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, rd)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("build request: %w", err))
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return raster.ExternalServicef("%s %s: %v", method, target, err)
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
		if err != nil {
			return raster.ExternalServicef("read %s: %v", target, err)
		}
		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return raster.ExternalServicef("%s %s: %s", method, target, errorText(resp.StatusCode, data))
		case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound ||
			resp.StatusCode == http.StatusUnprocessableEntity:
			return backoff.Permanent(raster.Inputf("%s %s: %s", method, target, errorText(resp.StatusCode, data)))
		case resp.StatusCode >= 300:
			return backoff.Permanent(raster.ExternalServicef("%s %s: %s", method, target, errorText(resp.StatusCode, data)))
		}
		if err := json.Unmarshal(data, out); err != nil {
			return backoff.Permanent(raster.ExternalServicef("decode %s: %v", target, err))
		}
		return nil
	}
	notify := func(err error, wait time.Duration) {
		monitoring.ExternalRetries.Inc()
		monitoring.Logf("[rasterclient] retrying in %s: %v", wait, err)
	}
	err := backoff.RetryNotify(op, policy, notify)
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, raster.ErrExternalService) {
		return fmt.Errorf("%w: %s %s: %w", raster.ErrExternalService, method, target, err)
	}
	return err
}

func errorText(code int, body []byte) string {
	var e errorResponse
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return fmt.Sprintf("%d %s", code, e.Error)
	}
	return fmt.Sprintf("%d %s", code, http.StatusText(code))
}
