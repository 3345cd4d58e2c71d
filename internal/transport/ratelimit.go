package transport

import (
	"net/http"
	"strconv"
	"strings"
	"time"
)

// RateLimitInfo is what the gateway told us about throttling on a response.
type RateLimitInfo struct {
	Present       bool          `json:"present" dynamodbav:"present"`
	Limit         int           `json:"limit,omitempty" dynamodbav:"limit,omitempty"`
	Remaining     int           `json:"remaining,omitempty" dynamodbav:"remaining,omitempty"`
	Reset         string        `json:"reset,omitempty" dynamodbav:"reset,omitempty"`
	RetryAfterRaw string        `json:"retryAfter,omitempty" dynamodbav:"retry_after,omitempty"`
	RetryAfter    time.Duration `json:"-" dynamodbav:"-"`
}

// ParseRateLimit reads Retry-After and X-RateLimit-* headers.
func ParseRateLimit(h http.Header, now time.Time) RateLimitInfo {
	var info RateLimitInfo
	if v := strings.TrimSpace(h.Get("X-RateLimit-Limit")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.Limit = n
			info.Present = true
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Remaining")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.Remaining = n
			info.Present = true
		}
	}
	if v := strings.TrimSpace(h.Get("X-RateLimit-Reset")); v != "" {
		info.Reset = v
		info.Present = true
	}
	if v := h.Get("Retry-After"); v != "" {
		info.RetryAfterRaw = v
		if d, ok := parseRetryAfter(v, now); ok {
			info.RetryAfter = d
		}
		info.Present = true
	}
	return info
}
