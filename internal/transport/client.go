package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
	"github.com/imrishuroy/go-cardpay-gateway/internal/logging"
)

const (
	defaultTimeout          = 10 * time.Second
	defaultMaxRequestBytes  = 64 * 1024
	defaultMaxResponseBytes = 1024 * 1024

	HeaderIdempotencyKey = "Idempotency-Key"
)

// Observer receives per-attempt and breaker events (metrics).
type Observer interface {
	ObserveAttempt(method string, status int, latency time.Duration, err error)
	ObserveBreaker(from, to State)
}

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	HTTPClient          *http.Client
	UserAgent           string
	BreakerThreshold    int
	BreakerResetTimeout time.Duration
	// CacheEnabled turns on the GET response cache.
	CacheEnabled    bool
	CacheTTL        time.Duration
	CacheMaxEntries int
	Limiter         *rate.Limiter
	Observer        Observer
	Logger          *logging.Logger

	Now   func() time.Time
	Sleep func(ctx context.Context, d time.Duration) error
}

// Request describes one logical call; the client may make several attempts.
type Request struct {
	Method           string
	URL              string
	BearerToken      string
	Body             []byte
	ContentType      string
	Headers          map[string]string
	Timeout          time.Duration
	MaxRetries       int
	MaxRequestBytes  int64
	MaxResponseBytes int64
	IdempotencyKey   string
	SkipCache        bool
}

// Response is the final outcome of a call.
type Response struct {
	Status         int
	Headers        http.Header
	RateLimit      RateLimitInfo
	Body           []byte
	IdempotencyKey string
	Attempts       int
	FromCache      bool
}

// Client sends authenticated requests with retries, a circuit breaker and an
// optional GET cache. Each Client owns its own breaker and cache.
type Client struct {
	http     *http.Client
	ua       string
	breaker  *breaker
	cache    *responseCache
	limiter  *rate.Limiter
	observer Observer
	log      *logging.Logger
	now      func() time.Time
	sleep    func(ctx context.Context, d time.Duration) error
}

// New builds a Client.
func New(opts Options) *Client {
	c := &Client{
		http:     opts.HTTPClient,
		ua:       opts.UserAgent,
		limiter:  opts.Limiter,
		observer: opts.Observer,
		log:      opts.Logger,
		now:      opts.Now,
		sleep:    opts.Sleep,
	}
	if c.http == nil {
		c.http = &http.Client{}
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.sleep == nil {
		c.sleep = sleepContext
	}
	if c.log == nil {
		c.log = logging.Nop()
	}
	c.breaker = newBreaker(opts.BreakerThreshold, opts.BreakerResetTimeout, c.now)
	c.breaker.onTransition = func(from, to State) {
		c.log.Warn(context.Background(), logging.FlagTransport, "breaker.transition", "circuit breaker state changed", map[string]any{
			"from": string(from),
			"to":   string(to),
		})
		if c.observer != nil {
			c.observer.ObserveBreaker(from, to)
		}
	}
	if opts.CacheEnabled {
		c.cache = newResponseCache(opts.CacheTTL, opts.CacheMaxEntries)
	}
	return c
}

// BreakerState returns a copy of the breaker counters.
func (c *Client) BreakerState() BreakerState {
	return c.breaker.snapshot()
}

func isMutating(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// Send performs req. 4xx responses are returned together with a
// GATEWAY_CLIENT_ERROR so callers can still read the gateway body.
func (c *Client) Send(ctx context.Context, req Request) (*Response, error) {
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	maxReq := req.MaxRequestBytes
	if maxReq <= 0 {
		maxReq = defaultMaxRequestBytes
	}
	if int64(len(req.Body)) > maxReq {
		return nil, apperr.New(apperr.CodeRequestTooLarge, "request body exceeds limit",
			apperr.WithData(map[string]any{"size": len(req.Body), "limit": maxReq}))
	}

	key := req.IdempotencyKey
	if isMutating(method) && key == "" {
		key = uuid.NewString()
	}

	useCache := c.cache != nil && method == http.MethodGet && !req.SkipCache
	if useCache {
		if resp, ok := c.cache.get(req.URL, c.now()); ok {
			resp.FromCache = true
			return resp, nil
		}
	}

	attempts := clampAttempts(req.MaxRetries)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if !c.breaker.allow() {
			return nil, apperr.New(apperr.CodeCircuitOpen, "circuit breaker is open",
				apperr.WithStatus(http.StatusServiceUnavailable),
				apperr.WithData(map[string]any{"url": req.URL}),
				apperr.WithCause(lastErr))
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				c.breaker.release()
				return nil, apperr.New(apperr.CodeGatewayTimeout, "rate limiter wait aborted", apperr.WithCause(err))
			}
		}

		started := c.now()
		resp, err := c.attempt(ctx, method, req, key)
		c.observe(method, resp, started, err)

		if err != nil {
			if ctx.Err() != nil {
				c.breaker.release()
				return nil, apperr.New(apperr.CodeGatewayTimeout, "request cancelled", apperr.WithCause(ctx.Err()))
			}
			if !apperr.Retryable(err) {
				// size violations and the like say nothing about gateway health
				c.breaker.release()
				return nil, err
			}
			c.breaker.failure()
			lastErr = err
		} else {
			resp.Attempts = attempt
			switch {
			case resp.Status == http.StatusTooManyRequests:
				c.breaker.release()
				lastErr = apperr.New(apperr.CodeRateLimited, "gateway rate limit exceeded",
					apperr.WithStatus(resp.Status),
					apperr.WithData(map[string]any{"retryAfter": resp.RateLimit.RetryAfterRaw, "attempt": attempt}))
				if attempt < attempts {
					delay := backoffDelay(attempt)
					if resp.RateLimit.RetryAfterRaw != "" {
						if d, ok := parseRetryAfter(resp.RateLimit.RetryAfterRaw, c.now()); ok {
							delay = d
						}
					}
					if err := c.wait(ctx, method, req.URL, attempt, delay, lastErr); err != nil {
						return nil, err
					}
					continue
				}
				return resp, lastErr
			case resp.Status >= 500:
				c.breaker.failure()
				lastErr = apperr.New(apperr.CodeGatewayUnavailable, "gateway returned server error",
					apperr.WithStatus(resp.Status),
					apperr.WithData(map[string]any{"attempt": attempt, "body": truncate(resp.Body, 512)}))
			case resp.Status >= 400:
				c.breaker.success()
				return resp, apperr.New(apperr.CodeGatewayClientError, "gateway rejected request",
					apperr.WithStatus(resp.Status),
					apperr.WithData(map[string]any{"body": truncate(resp.Body, 512)}))
			default:
				c.breaker.success()
				if useCache && resp.Status < 300 {
					c.cache.put(req.URL, resp, c.now())
				}
				return resp, nil
			}
		}

		if attempt < attempts {
			if err := c.wait(ctx, method, req.URL, attempt, backoffDelay(attempt), lastErr); err != nil {
				return nil, err
			}
		}
	}
	return nil, lastErr
}

func (c *Client) wait(ctx context.Context, method, url string, attempt int, delay time.Duration, cause error) error {
	c.log.Warn(ctx, logging.FlagTransport, "request.retry", "retrying gateway request", map[string]any{
		"method":  method,
		"url":     url,
		"attempt": attempt,
		"delay":   delay.String(),
		"cause":   cause,
	})
	if err := c.sleep(ctx, delay); err != nil {
		return apperr.New(apperr.CodeGatewayTimeout, "retry wait aborted", apperr.WithCause(err))
	}
	return nil
}

func (c *Client) attempt(ctx context.Context, method string, req Request, key string) (*Response, error) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}
	hreq, err := http.NewRequestWithContext(actx, method, req.URL, body)
	if err != nil {
		return nil, apperr.New(apperr.CodeValidation, "invalid request", apperr.WithCause(err))
	}
	if req.BearerToken != "" {
		hreq.Header.Set("Authorization", "Bearer "+req.BearerToken)
	}
	if c.ua != "" {
		hreq.Header.Set("User-Agent", c.ua)
	}
	if req.Body != nil {
		ct := req.ContentType
		if ct == "" {
			ct = "application/x-www-form-urlencoded"
		}
		hreq.Header.Set("Content-Type", ct)
	}
	hreq.Header.Set("Accept", "application/json")
	for k, v := range req.Headers {
		hreq.Header.Set(k, v)
	}
	if key != "" {
		hreq.Header.Set(HeaderIdempotencyKey, key)
	}

	hresp, err := c.http.Do(hreq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, apperr.New(apperr.CodeGatewayTimeout, "gateway request timed out",
				apperr.WithData(map[string]any{"timeout": timeout.String()}), apperr.WithCause(err))
		}
		return nil, apperr.New(apperr.CodeGatewayUnavailable, "gateway request failed", apperr.WithCause(err))
	}
	defer hresp.Body.Close()

	maxResp := req.MaxResponseBytes
	if maxResp <= 0 {
		maxResp = defaultMaxResponseBytes
	}
	if hresp.ContentLength > maxResp {
		return nil, apperr.New(apperr.CodeResponseTooLarge, "response exceeds limit",
			apperr.WithData(map[string]any{"contentLength": hresp.ContentLength, "limit": maxResp}))
	}
	data, err := io.ReadAll(io.LimitReader(hresp.Body, maxResp+1))
	if err != nil {
		if errors.Is(actx.Err(), context.DeadlineExceeded) {
			return nil, apperr.New(apperr.CodeGatewayTimeout, "gateway response timed out", apperr.WithCause(err))
		}
		return nil, apperr.New(apperr.CodeGatewayUnavailable, "reading gateway response", apperr.WithCause(err))
	}
	if int64(len(data)) > maxResp {
		return nil, apperr.New(apperr.CodeResponseTooLarge, "response exceeds limit",
			apperr.WithData(map[string]any{"limit": maxResp}))
	}

	return &Response{
		Status:         hresp.StatusCode,
		Headers:        hresp.Header.Clone(),
		RateLimit:      ParseRateLimit(hresp.Header, c.now()),
		Body:           data,
		IdempotencyKey: key,
	}, nil
}

func (c *Client) observe(method string, resp *Response, started time.Time, err error) {
	if c.observer == nil {
		return
	}
	status := 0
	if resp != nil {
		status = resp.Status
	}
	c.observer.ObserveAttempt(method, status, c.now().Sub(started), err)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return fmt.Sprintf("%s...", b[:n])
}
