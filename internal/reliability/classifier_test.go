package reliability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	for _, code := range []int{429, 500, 502, 503, 504} {
		if !IsRetryableHTTPStatus(code) {
			t.Fatalf("IsRetryableHTTPStatus(%d) = false, want true", code)
		}
	}
	for _, code := range []int{200, 201, 400, 401, 404} {
		if IsRetryableHTTPStatus(code) {
			t.Fatalf("IsRetryableHTTPStatus(%d) = true, want false", code)
		}
	}
}

func TestIsTransient(t *testing.T) {
	if IsTransient(nil) {
		t.Fatalf("IsTransient(nil) = true")
	}
	if IsTransient(context.Canceled) {
		t.Fatalf("IsTransient(Canceled) = true, cancellation is not retryable")
	}
	if !IsTransient(context.DeadlineExceeded) {
		t.Fatalf("IsTransient(DeadlineExceeded) = false, want true")
	}
	if IsTransient(errors.New("parse error")) {
		t.Fatalf("IsTransient(generic) = true, want false")
	}
}

func TestExponentialBackoffCaps(t *testing.T) {
	base := 50 * time.Millisecond
	cap := 400 * time.Millisecond

	if got := ExponentialBackoff(0, base, cap); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(1, base, cap); got != 100*time.Millisecond {
		t.Fatalf("attempt 1 = %v, want 100ms", got)
	}
	if got := ExponentialBackoff(10, base, cap); got != cap {
		t.Fatalf("attempt 10 = %v, want cap %v", got, cap)
	}
}
