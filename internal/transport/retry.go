package transport

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"spot-connect/internal/core"
)

const (
	DefaultMaxAttempts    = 3
	DefaultInitialDelay   = 500 * time.Millisecond
	DefaultRateLimitFloor = 2000 * time.Millisecond
)

type RetryPolicy struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	RateLimitFloor time.Duration
	// Sleep waits between attempts; it must honour ctx. Tests replace it to
	// capture the computed delays.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry runs before each sleep.
	OnRetry func(attempt int, delay time.Duration, err error)
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    DefaultMaxAttempts,
		InitialDelay:   DefaultInitialDelay,
		RateLimitFloor: DefaultRateLimitFloor,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultInitialDelay
	}
	if p.RateLimitFloor <= 0 {
		p.RateLimitFloor = DefaultRateLimitFloor
	}
	if p.Sleep == nil {
		p.Sleep = sleepContext
	}
	return p
}

// Retry runs op until it succeeds, fails with a non-transient error, or
// MaxAttempts is reached. No lock may be held by the caller across Retry.
func Retry[T any](ctx context.Context, p RetryPolicy, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.withDefaults()
	var zero T
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt == p.MaxAttempts || !IsTransient(err) || ctx.Err() != nil {
			break
		}
		delay := p.Backoff(attempt, err)
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := p.Sleep(ctx, delay); err != nil {
			return zero, err
		}
	}
	return zero, lastErr
}

// Backoff is InitialDelay * 2^(attempt-1); a 429 raises it to at least
// RateLimitFloor * attempt.
func (p RetryPolicy) Backoff(attempt int, err error) time.Duration {
	p = p.withDefaults()
	if attempt < 1 {
		attempt = 1
	}
	delay := p.InitialDelay << uint(attempt-1)
	if IsRateLimited(err) {
		floor := p.RateLimitFloor * time.Duration(attempt)
		if delay < floor {
			delay = floor
		}
	}
	return delay
}

func IsRateLimited(err error) bool {
	var rf *RequestFailed
	return errors.As(err, &rf) && rf.Status == http.StatusTooManyRequests
}

// IsTransient reports whether err is worth another attempt: 429/5xx, a
// connectivity failure, or anything mentioning "timeout". Private request
// timeouts (ErrTimeout) and malformed responses are final.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTimeout) || errors.Is(err, context.Canceled) {
		return false
	}
	var pe *core.ProtocolError
	if errors.As(err, &pe) {
		return false
	}
	var rf *RequestFailed
	if errors.As(err, &rf) {
		return rf.Status == http.StatusTooManyRequests || rf.Status >= 500
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "timeout")
}

func retryReason(err error) string {
	var rf *RequestFailed
	switch {
	case IsRateLimited(err):
		return "rate_limit"
	case errors.As(err, &rf):
		return "server"
	default:
		return "network"
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
