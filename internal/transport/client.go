package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"spot-connect/internal/core"
	"spot-connect/internal/metrics"
)

const (
	DefaultUserAgent      = "spot-connect/1.0"
	DefaultTimeout        = 15 * time.Second
	DefaultPrivateTimeout = 20 * time.Second

	maxResponseBody = 8 << 20
	maxErrorBody    = 512
)

// ErrTimeout is returned when a signed request exceeds its wall-clock budget.
// It is never retried.
var ErrTimeout = errors.New("private request timed out")

// RequestFailed carries the status and body of a non-2xx response.
type RequestFailed struct {
	Venue  string
	Method string
	URL    string
	Status int
	Body   string
}

func (e *RequestFailed) Error() string {
	return fmt.Sprintf("%s http error %d: %s %s: %s", e.Venue, e.Status, e.Method, e.URL, core.Truncate(e.Body, maxErrorBody))
}

type Options struct {
	Venue             string
	UserAgent         string
	Timeout           time.Duration
	PrivateTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
	// QuietFailures logs every failure at WARN instead of ERROR.
	QuietFailures bool
	Retry         RetryPolicy
	Metrics       *metrics.Collector
	HTTPClient    *http.Client
}

type Client struct {
	venue          string
	userAgent      string
	timeout        time.Duration
	privateTimeout time.Duration
	quiet          bool
	retry          RetryPolicy
	limiter        *rate.Limiter
	metrics        *metrics.Collector
	httpClient     *http.Client
}

// BuildFunc creates a fresh request for one attempt. It is called again on
// every retry so signatures, nonces and timestamps never go stale.
type BuildFunc func(ctx context.Context) (*http.Request, error)

func New(opts Options) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	privateTimeout := opts.PrivateTimeout
	if privateTimeout <= 0 {
		privateTimeout = DefaultPrivateTimeout
	}
	userAgent := strings.TrimSpace(opts.UserAgent)
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	// no client-wide Timeout: Call sets per-attempt deadlines
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	c := &Client{
		venue:          opts.Venue,
		userAgent:      userAgent,
		timeout:        timeout,
		privateTimeout: privateTimeout,
		quiet:          opts.QuietFailures,
		retry:          opts.Retry,
		metrics:        opts.Metrics,
		httpClient:     httpClient,
	}
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	hook := opts.Retry.OnRetry
	c.retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		c.logRetry(attempt, delay, err)
		if hook != nil {
			hook(attempt, delay, err)
		}
	}
	return c
}

func (c *Client) Venue() string { return c.venue }

// Get issues a single unsigned GET bounded by the public timeout.
func (c *Client) Get(ctx context.Context, rawURL string, header http.Header) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return c.Send(req)
}

// Send issues req once and returns the body of a 2xx response.
func (c *Client) Send(req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", c.userAgent)
	if c.limiter != nil {
		if err := c.limiter.Wait(req.Context()); err != nil {
			return nil, err
		}
	}
	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.ObserveRequest(c.venue, req.Method, 0, time.Since(started))
		c.logFailure(req, 0, err.Error())
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	c.metrics.ObserveRequest(c.venue, req.Method, resp.StatusCode, time.Since(started))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode/100 != 2 {
		c.logFailure(req, resp.StatusCode, string(body))
		return nil, &RequestFailed{
			Venue:  c.venue,
			Method: req.Method,
			URL:    req.URL.Path,
			Status: resp.StatusCode,
			Body:   string(body),
		}
	}
	return body, nil
}

// Call runs build+Send under the retry policy. Each attempt is bounded by
// the public or private timeout. Any timeout on a private attempt surfaces
// as ErrTimeout, so a signed request is never sent twice after it stalls.
func (c *Client) Call(ctx context.Context, private bool, build BuildFunc) ([]byte, error) {
	budget := c.timeout
	if private {
		budget = c.privateTimeout
	}
	return Retry(ctx, c.retry, func(ctx context.Context) ([]byte, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, budget)
		defer cancel()
		req, err := build(attemptCtx)
		if err != nil {
			return nil, err
		}
		body, err := c.Send(req)
		if err != nil && private && ctx.Err() == nil && isTimeout(attemptCtx, err) {
			return nil, fmt.Errorf("%w: %s %s after %s: %v", ErrTimeout, req.Method, req.URL.Path, budget, err)
		}
		return body, err
	})
}

func isTimeout(attemptCtx context.Context, err error) bool {
	if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Fetch is an unsigned GET under the retry policy.
func (c *Client) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	return c.Call(ctx, false, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	})
}

func (c *Client) logFailure(req *http.Request, status int, detail string) {
	level := "ERROR"
	if c.quiet || (status >= 400 && status < 500) {
		level = "WARN"
	}
	log.Printf(
		"level=%s event=venue_request_failed venue=%s method=%s path=%q status=%d detail=%q",
		level,
		c.venue,
		req.Method,
		req.URL.Path,
		status,
		core.Truncate(detail, maxErrorBody),
	)
}

// logRetry records every scheduled retry; a caller's OnRetry runs after it.
func (c *Client) logRetry(attempt int, delay time.Duration, err error) {
	c.metrics.RecordRetry(c.venue, retryReason(err))
	log.Printf(
		"level=WARN event=venue_request_retry venue=%s attempt=%d delay_ms=%d err=%q",
		c.venue,
		attempt,
		delay.Milliseconds(),
		core.Truncate(err.Error(), maxErrorBody),
	)
}
