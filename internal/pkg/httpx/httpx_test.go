package httpx

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"
)

type statusErr int

func (s statusErr) Error() string       { return fmt.Sprintf("status %d", int(s)) }
func (s statusErr) HTTPStatusCode() int { return int(s) }

func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) error {
	return func(ctx context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return ctx.Err()
	}
}

func TestRetrierStopsAfterThreeAttempts(t *testing.T) {
	var waits []time.Duration
	r := Retrier{Attempts: 3, BaseDelay: time.Second, MaxDelay: 6 * time.Second, Sleep: noSleep(&waits)}

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		return nil, statusErr(503)
	})
	if err == nil {
		t.Fatalf("expected error")
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
	if len(waits) != 2 || waits[0] != time.Second || waits[1] != 2*time.Second {
		t.Fatalf("unexpected waits: %v", waits)
	}
}

func TestRetrierDoesNotRetryClientErrors(t *testing.T) {
	var waits []time.Duration
	r := Retrier{Attempts: 3, Sleep: noSleep(&waits)}

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		return nil, statusErr(401)
	})
	var sc statusErr
	if !errors.As(err, &sc) || int(sc) != 401 {
		t.Fatalf("expected 401 error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected 1 call, got %d", calls)
	}
}

func TestRetrierHonorsRetryAfter(t *testing.T) {
	var waits []time.Duration
	r := Retrier{Attempts: 2, BaseDelay: time.Second, MaxDelay: 10 * time.Second, Sleep: noSleep(&waits)}

	calls := 0
	err := r.Do(context.Background(), func(ctx context.Context) (*http.Response, error) {
		calls++
		if calls == 1 {
			resp := &http.Response{Header: http.Header{}}
			resp.Header.Set("Retry-After", "4")
			return resp, statusErr(429)
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(waits) != 1 || waits[0] != 4*time.Second {
		t.Fatalf("expected Retry-After wait, got %v", waits)
	}
}

func TestIsRetryableError(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{context.Canceled, false},
		{context.DeadlineExceeded, true},
		{statusErr(429), true},
		{statusErr(500), true},
		{statusErr(400), false},
		{fmt.Errorf("wrapped: %w", statusErr(502)), true},
	}
	for _, c := range cases {
		if got := IsRetryableError(c.err); got != c.want {
			t.Fatalf("IsRetryableError(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}
