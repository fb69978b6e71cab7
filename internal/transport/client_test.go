package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"spot-connect/internal/core"
	"spot-connect/internal/metrics"
)

func recordingPolicy(delays *[]time.Duration) RetryPolicy {
	p := DefaultRetryPolicy()
	p.Sleep = func(ctx context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	}
	return p
}

func TestRetryRateLimitedTwiceThenSucceeds(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"code":-1003,"msg":"Too many requests"}`))
			return
		}
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	var delays []time.Duration
	c := New(Options{Venue: "test", Retry: recordingPolicy(&delays)})
	body, err := c.Fetch(context.Background(), srv.URL+"/ping")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("Fetch() body = %s", body)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
	if len(delays) != 2 {
		t.Fatalf("delays = %v, want 2 entries", delays)
	}
	if delays[0] < 2000*time.Millisecond {
		t.Fatalf("delay before attempt 2 = %s, want >= 2s", delays[0])
	}
	if delays[1] < 2*2000*time.Millisecond {
		t.Fatalf("delay before attempt 3 = %s, want >= 4s", delays[1])
	}
}

func TestRetryDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"msg":"bad symbol"}`))
	}))
	defer srv.Close()

	var delays []time.Duration
	c := New(Options{Venue: "test", Retry: recordingPolicy(&delays)})
	_, err := c.Fetch(context.Background(), srv.URL)
	var rf *RequestFailed
	if !errors.As(err, &rf) {
		t.Fatalf("Fetch() error = %T %v, want *RequestFailed", err, err)
	}
	if rf.Status != http.StatusBadRequest || rf.Body != `{"msg":"bad symbol"}` {
		t.Fatalf("RequestFailed = %+v", rf)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
	if len(delays) != 0 {
		t.Fatalf("delays = %v, want none", delays)
	}
}

func TestRetryServerErrorsExhaustAttempts(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var delays []time.Duration
	c := New(Options{Venue: "test", Retry: recordingPolicy(&delays)})
	_, err := c.Fetch(context.Background(), srv.URL)
	if err == nil {
		t.Fatalf("Fetch() error = nil, want failure")
	}
	if got := atomic.LoadInt32(&calls); got != DefaultMaxAttempts {
		t.Fatalf("calls = %d, want %d", got, DefaultMaxAttempts)
	}
	want := []time.Duration{500 * time.Millisecond, time.Second}
	if len(delays) != len(want) || delays[0] != want[0] || delays[1] != want[1] {
		t.Fatalf("delays = %v, want %v", delays, want)
	}
}

func TestCallRebuildsRequestPerAttempt(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(r.Header.Get("X-Nonce")))
	}))
	defer srv.Close()

	var delays []time.Duration
	c := New(Options{Venue: "test", Retry: recordingPolicy(&delays)})
	var builds int
	body, err := c.Call(context.Background(), true, func(ctx context.Context) (*http.Request, error) {
		builds++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("X-Nonce", fmt.Sprint(builds))
		return req, nil
	})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if builds != 2 || string(body) != "2" {
		t.Fatalf("builds = %d body = %s, want 2/2", builds, body)
	}
}

func TestCallPrivateTimeoutIsNotRetried(t *testing.T) {
	var calls int32
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	var delays []time.Duration
	c := New(Options{Venue: "test", PrivateTimeout: 50 * time.Millisecond, Retry: recordingPolicy(&delays)})
	_, err := c.Call(context.Background(), true, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, srv.URL, nil)
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Call() error = %v, want %v", err, ErrTimeout)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func blockingServer(calls *int32) (*httptest.Server, func()) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	return srv, func() {
		close(release)
		srv.Close()
	}
}

func TestCallPrivateIgnoresShorterPublicTimeout(t *testing.T) {
	var calls int32
	srv, stop := blockingServer(&calls)
	defer stop()

	var delays []time.Duration
	c := New(Options{Venue: "test", Timeout: 50 * time.Millisecond, PrivateTimeout: 150 * time.Millisecond, Retry: recordingPolicy(&delays)})
	started := time.Now()
	_, err := c.Call(context.Background(), true, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/v3/order", nil)
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Call() error = %v, want %v", err, ErrTimeout)
	}
	if got := atomic.LoadInt32(&calls); got != 1 || len(delays) != 0 {
		t.Fatalf("calls = %d delays = %v, want one attempt", got, delays)
	}
	if elapsed := time.Since(started); elapsed < 150*time.Millisecond {
		t.Fatalf("Call() returned after %s, want the private budget", elapsed)
	}
}

func TestCallPrivateClientTimeoutIsNotRetried(t *testing.T) {
	var calls int32
	srv, stop := blockingServer(&calls)
	defer stop()

	var delays []time.Duration
	c := New(Options{
		Venue:          "test",
		PrivateTimeout: time.Second,
		Retry:          recordingPolicy(&delays),
		HTTPClient:     &http.Client{Timeout: 75 * time.Millisecond},
	})
	_, err := c.Call(context.Background(), true, func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/v3/order", nil)
	})
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("Call() error = %v, want %v", err, ErrTimeout)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestCallPublicTimeoutIsRetried(t *testing.T) {
	var calls int32
	srv, stop := blockingServer(&calls)
	defer stop()

	var delays []time.Duration
	c := New(Options{Venue: "test", Timeout: 50 * time.Millisecond, Retry: recordingPolicy(&delays)})
	_, err := c.Fetch(context.Background(), srv.URL+"/klines")
	if err == nil || errors.Is(err, ErrTimeout) {
		t.Fatalf("Fetch() error = %v, want a transient timeout", err)
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("calls = %d, want 3", got)
	}
}

func TestCallRecordsRetriesAlongsideCallerHook(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`ok`))
	}))
	defer srv.Close()

	reg := prometheus.NewRegistry()
	var delays []time.Duration
	policy := recordingPolicy(&delays)
	var hooked []int
	policy.OnRetry = func(attempt int, _ time.Duration, _ error) {
		hooked = append(hooked, attempt)
	}
	c := New(Options{Venue: "test", Retry: policy, Metrics: metrics.New(reg)})
	if _, err := c.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if len(hooked) != 2 || hooked[0] != 1 || hooked[1] != 2 {
		t.Fatalf("OnRetry attempts = %v, want [1 2]", hooked)
	}
	want := `
# HELP spotconnect_retry_total Retries scheduled after transient failures
# TYPE spotconnect_retry_total counter
spotconnect_retry_total{reason="server",venue="test"} 2
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(want), "spotconnect_retry_total"); err != nil {
		t.Fatalf("retry metric: %v", err)
	}
}

func TestSendSetsUserAgent(t *testing.T) {
	var seen string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = r.Header.Get("User-Agent")
	}))
	defer srv.Close()

	c := New(Options{Venue: "test"})
	if _, err := c.Get(context.Background(), srv.URL, nil); err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if seen != DefaultUserAgent {
		t.Fatalf("User-Agent = %q, want %q", seen, DefaultUserAgent)
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"429", &RequestFailed{Status: 429}, true},
		{"503", &RequestFailed{Status: 503}, true},
		{"404", &RequestFailed{Status: 404}, false},
		{"wrapped 500", fmt.Errorf("ticker: %w", &RequestFailed{Status: 500}), true},
		{"timeout phrase", errors.New("i/o timeout"), true},
		{"private timeout", fmt.Errorf("%w: GET /x", ErrTimeout), false},
		{"protocol", core.NewProtocolError("okx", "/x", nil, errors.New("timeout field missing")), false},
		{"canceled", context.Canceled, false},
		{"plain", errors.New("bad request"), false},
	}
	for _, tc := range cases {
		if got := IsTransient(tc.err); got != tc.want {
			t.Fatalf("IsTransient(%s) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestBackoff(t *testing.T) {
	p := DefaultRetryPolicy()
	plain := errors.New("connection reset timeout")
	if got := p.Backoff(1, plain); got != 500*time.Millisecond {
		t.Fatalf("Backoff(1) = %s, want 500ms", got)
	}
	if got := p.Backoff(3, plain); got != 2*time.Second {
		t.Fatalf("Backoff(3) = %s, want 2s", got)
	}
	limited := &RequestFailed{Status: http.StatusTooManyRequests}
	if got := p.Backoff(1, limited); got != 2*time.Second {
		t.Fatalf("Backoff(1, 429) = %s, want 2s", got)
	}
	if got := p.Backoff(2, limited); got != 4*time.Second {
		t.Fatalf("Backoff(2, 429) = %s, want 4s", got)
	}
}
