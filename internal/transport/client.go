package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"

	"SeriesHarvester/internal/logger"
)

// Common errors.
var (
	ErrExhausted     = errors.New("transport: retries exhausted")
	ErrStatus        = errors.New("transport: unexpected status")
	ErrMalformedBody = errors.New("transport: malformed response body")
)

// maxBodyBytes caps how much of a response is read; SGS windows stay far below it.
const maxBodyBytes = 64 << 20

// ExhaustedError is returned when every attempt of a request failed.
type ExhaustedError struct {
	Endpoint string
	Params   map[string]string
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("transport: GET %s %v failed after %d attempts: %v", e.Endpoint, e.Params, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

func (e *ExhaustedError) Is(target error) bool { return target == ErrExhausted }

// Options configures the client.
type Options struct {
	// Timeout bounds each attempt.
	// Default: 20s
	Timeout time.Duration

	// UserAgent is sent with every request.
	// Default: Mozilla/5.0
	UserAgent string

	// Proxy is an optional proxy URL. Empty uses the environment.
	Proxy string

	// RequestsPerSecond paces attempts across all requests. Zero disables pacing.
	RequestsPerSecond float64

	Retry RetryPolicy
}

// DefaultOptions returns the settings the SGS API tolerates.
func DefaultOptions() Options {
	return Options{
		Timeout:           20 * time.Second,
		UserAgent:         "Mozilla/5.0",
		RequestsPerSecond: 2,
		Retry:             DefaultRetryPolicy(),
	}
}

// Client is a stateless JSON GET client with retries.
type Client struct {
	client  *http.Client
	opts    Options
	limiter *rate.Limiter
	timer   backoff.Timer
	log     *logger.Entry
}

// Option customizes a Client.
type Option func(*Client)

// WithTimer replaces the timer used between attempts, so tests can observe
// waits without sleeping.
func WithTimer(t backoff.Timer) Option {
	return func(c *Client) { c.timer = t }
}

// WithHTTPClient sends requests through a copy of hc, for custom TLS or
// transports. The configured timeout applies when hc has none; the Proxy
// option is then up to hc's transport.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		cp := *hc
		if cp.Timeout == 0 {
			cp.Timeout = c.opts.Timeout
		}
		c.client = &cp
	}
}

// WithLogger sets the entry attempts are logged to.
func WithLogger(l *logger.Entry) Option {
	return func(c *Client) { c.log = l }
}

// NewClient creates a client with the given options.
func NewClient(opts Options, options ...Option) *Client {
	transport := &http.Transport{Proxy: http.ProxyFromEnvironment}
	if opts.Proxy != "" {
		if u, err := url.Parse(opts.Proxy); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	c := &Client{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		log:     logger.GetLogger().WithComponent("transport"),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Get requests endpoint with params and decodes a JSON array of objects.
func (c *Client) Get(ctx context.Context, endpoint string, params map[string]string) ([]map[string]any, error) {
	target, err := buildURL(endpoint, params)
	if err != nil {
		return nil, err
	}

	var (
		records []map[string]any
		attempt int
	)
	operation := func() error {
		attempt++
		if err := c.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		recs, err := c.fetch(ctx, target)
		if err != nil {
			return err
		}
		records = recs
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.log.WithFields(logger.Fields{
			"endpoint": endpoint,
			"attempt":  attempt,
			"max":      c.opts.Retry.MaxAttempts,
			"wait":     wait.Round(100 * time.Millisecond).String(),
		}).WithError(err).Warn("request failed, retrying")
	}

	b := backoff.WithContext(c.opts.Retry.NewBackOff(), ctx)
	if err := backoff.RetryNotifyWithTimer(operation, b, notify, c.timer); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.log.WithFields(logger.Fields{
			"endpoint": endpoint,
			"attempts": attempt,
		}).WithError(err).Warn("request failed, attempts exhausted")
		return nil, &ExhaustedError{Endpoint: endpoint, Params: params, Attempts: attempt, Err: err}
	}
	return records, nil
}

func (c *Client) fetch(ctx context.Context, target string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.opts.UserAgent != "" {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %d, body: %s", ErrStatus, resp.StatusCode, excerpt(body))
	}

	var records []map[string]any
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedBody, err)
	}
	return records, nil
}

func buildURL(endpoint string, params map[string]string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("parse endpoint: %q is not an absolute URL", endpoint)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func excerpt(body []byte) string {
	const limit = 256
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
