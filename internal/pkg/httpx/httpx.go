package httpx

import (
	"context"
	"errors"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"
)

type HTTPStatusCoder interface {
	HTTPStatusCode() int
}

func IsRetryableHTTPStatus(code int) bool {
	if code == 408 || code == 429 {
		return true
	}
	return code >= 500 && code <= 599
}

// IsRetryableError reports whether err is a transient transport failure.
// Cancellation of the caller's context is never retryable.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var sc HTTPStatusCoder
	if errors.As(err, &sc) {
		return IsRetryableHTTPStatus(sc.HTTPStatusCode())
	}
	return false
}

func RetryAfterDuration(resp *http.Response, fallback, max time.Duration) time.Duration {
	sleepFor := fallback
	if resp != nil {
		if ra := strings.TrimSpace(resp.Header.Get("Retry-After")); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
				sleepFor = time.Duration(secs) * time.Second
			}
		}
	}
	if max > 0 && sleepFor > max {
		sleepFor = max
	}
	return sleepFor
}

// JitterSleep spreads base by +/-20%.
func JitterSleep(base time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	j := 0.2
	delta := base.Seconds() * j
	low := base.Seconds() - delta
	high := base.Seconds() + delta
	if low < 0 {
		low = 0
	}
	v := low + rand.Float64()*(high-low)
	return time.Duration(v * float64(time.Second))
}

// Retrier is the transport resilience layer under every provider call.
// It is stateless between calls and knows nothing about validation.
type Retrier struct {
	Attempts  int
	BaseDelay time.Duration
	MaxDelay  time.Duration
	Jitter    bool

	// Sleep waits d or until ctx ends. Nil means a timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry is called before each wait.
	OnRetry func(attempt int, wait time.Duration, err error)
}

// DefaultRetrier makes 3 attempts waiting 1s then 2s (capped at 6s).
func DefaultRetrier() Retrier {
	return Retrier{Attempts: 3, BaseDelay: time.Second, MaxDelay: 6 * time.Second, Jitter: true}
}

// Do runs fn until it succeeds, returns a non-retryable error, or the attempts run out.
// fn may return the *http.Response it got so Retry-After can be honored.
func (r Retrier) Do(ctx context.Context, fn func(ctx context.Context) (*http.Response, error)) error {
	attempts := r.Attempts
	if attempts <= 0 {
		attempts = 1
	}
	backoff := r.BaseDelay
	if backoff <= 0 {
		backoff = time.Second
	}
	sleep := r.Sleep
	if sleep == nil {
		sleep = SleepContext
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return lastErr
			}
			return err
		}
		resp, err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsRetryableError(err) || attempt == attempts {
			return err
		}

		wait := RetryAfterDuration(resp, backoff, r.MaxDelay)
		if r.Jitter {
			wait = JitterSleep(wait)
		}
		if r.OnRetry != nil {
			r.OnRetry(attempt, wait, err)
		}
		if sErr := sleep(ctx, wait); sErr != nil {
			return lastErr
		}
		backoff *= 2
		if r.MaxDelay > 0 && backoff > r.MaxDelay {
			backoff = r.MaxDelay
		}
	}
	return lastErr
}

// SleepContext waits d or returns ctx.Err() when ctx ends first.
func SleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
