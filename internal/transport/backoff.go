package transport

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	backoffBase     = time.Second
	backoffMax      = 10 * time.Second
	retryAfterLimit = 60 * time.Second
	minAttempts     = 1
	maxAttempts     = 5
)

// backoffDelay returns the wait before attempt n+1 after attempt n failed:
// 1s, 2s, 4s, 8s, 10s, 10s...
func backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffMax {
			return backoffMax
		}
	}
	return d
}

func clampAttempts(n int) int {
	if n < minAttempts {
		return minAttempts
	}
	if n > maxAttempts {
		return maxAttempts
	}
	return n
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) (time.Duration, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0, false
		}
		return capRetryAfter(time.Duration(secs) * time.Second), true
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return capRetryAfter(d), true
	}
	return 0, false
}

func capRetryAfter(d time.Duration) time.Duration {
	if d > retryAfterLimit {
		return retryAfterLimit
	}
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
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
