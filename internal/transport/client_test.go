package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/imrishuroy/go-cardpay-gateway/internal/apperr"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.t = f.t.Add(d)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return ctx.Err()
}

func (s *sleepRecorder) Delays() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

type statusServer struct {
	*httptest.Server
	hits    atomic.Int32
	status  atomic.Int32
	headers sync.Map
	lastReq atomic.Pointer[http.Request]
}

func newStatusServer(t *testing.T, status int) *statusServer {
	s := &statusServer{}
	s.status.Store(int32(status))
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.hits.Add(1)
		s.lastReq.Store(r.Clone(context.Background()))
		s.headers.Range(func(k, v any) bool {
			w.Header().Set(k.(string), v.(string))
			return true
		})
		w.WriteHeader(int(s.status.Load()))
		_, _ = w.Write([]byte(`{"result":{"code":"000.100.110"}}`))
	}))
	t.Cleanup(s.Close)
	return s
}

func newTestClient(clock *fakeClock, sleeper *sleepRecorder, opts Options) *Client {
	opts.Now = clock.Now
	opts.Sleep = sleeper.Sleep
	return New(opts)
}

func TestSend_GeneratesIdempotencyKeyForMutatingCalls(t *testing.T) {
	srv := newStatusServer(t, http.StatusOK)
	c := newTestClient(newFakeClock(), &sleepRecorder{}, Options{UserAgent: "test-agent/1"})

	resp, err := c.Send(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, BearerToken: "tok", Body: []byte("a=b"), MaxRetries: 1})
	require.NoError(t, err)

	got := srv.lastReq.Load().Header.Get(HeaderIdempotencyKey)
	_, parseErr := uuid.Parse(got)
	require.NoError(t, parseErr, "idempotency key must be a UUID, got %q", got)
	assert.Equal(t, got, resp.IdempotencyKey)
	assert.Equal(t, "Bearer tok", srv.lastReq.Load().Header.Get("Authorization"))
	assert.Equal(t, "test-agent/1", srv.lastReq.Load().Header.Get("User-Agent"))
	assert.Equal(t, "application/x-www-form-urlencoded", srv.lastReq.Load().Header.Get("Content-Type"))
}

func TestSend_PropagatesCallerIdempotencyKey(t *testing.T) {
	srv := newStatusServer(t, http.StatusOK)
	c := newTestClient(newFakeClock(), &sleepRecorder{}, Options{})

	for _, m := range []string{http.MethodPost, http.MethodDelete, http.MethodPut} {
		_, err := c.Send(context.Background(), Request{Method: m, URL: srv.URL, IdempotencyKey: "caller-key", MaxRetries: 1})
		require.NoError(t, err)
		assert.Equal(t, "caller-key", srv.lastReq.Load().Header.Get(HeaderIdempotencyKey), m)
	}

	_, err := c.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, MaxRetries: 1})
	require.NoError(t, err)
	assert.Empty(t, srv.lastReq.Load().Header.Get(HeaderIdempotencyKey))
}

func TestSend_ClientErrorIsNeverRetried(t *testing.T) {
	srv := newStatusServer(t, http.StatusBadRequest)
	sleeper := &sleepRecorder{}
	c := newTestClient(newFakeClock(), sleeper, Options{})

	resp, err := c.Send(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, MaxRetries: 5})

	require.Error(t, err)
	assert.Equal(t, apperr.CodeGatewayClientError, apperr.CodeOf(err))
	require.NotNil(t, resp, "4xx body must reach the caller")
	assert.Equal(t, http.StatusBadRequest, resp.Status)
	assert.EqualValues(t, 1, srv.hits.Load())
	assert.Empty(t, sleeper.Delays())
	assert.Equal(t, StateClosed, c.BreakerState().State)
}

func TestSend_RetriesServerErrorsWithBackoff(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	sleeper := &sleepRecorder{}
	c := newTestClient(newFakeClock(), sleeper, Options{})

	resp, err := c.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, MaxRetries: 3})

	require.NoError(t, err)
	assert.Equal(t, 3, resp.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, sleeper.Delays())
	assert.Equal(t, 0, c.BreakerState().FailureCount, "success resets failures")
}

func TestSend_ExhaustedRetriesSurfaceTransientError(t *testing.T) {
	srv := newStatusServer(t, http.StatusServiceUnavailable)
	sleeper := &sleepRecorder{}
	c := newTestClient(newFakeClock(), sleeper, Options{BreakerThreshold: 10})

	_, err := c.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, MaxRetries: 9})

	require.Error(t, err)
	assert.Equal(t, apperr.CodeGatewayUnavailable, apperr.CodeOf(err))
	assert.EqualValues(t, 5, srv.hits.Load(), "attempts are capped at 5")
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}, sleeper.Delays())
}

func TestBackoffDelay(t *testing.T) {
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		assert.Equal(t, w, backoffDelay(i+1), "attempt %d", i+1)
	}
	assert.Equal(t, 1, clampAttempts(0))
	assert.Equal(t, 5, clampAttempts(12))
}

func TestCircuitBreaker_OpensHalfOpensAndCloses(t *testing.T) {
	srv := newStatusServer(t, http.StatusInternalServerError)
	clock := newFakeClock()
	c := newTestClient(clock, &sleepRecorder{}, Options{})
	req := Request{Method: http.MethodGet, URL: srv.URL, MaxRetries: 1}

	for i := 0; i < 5; i++ {
		_, err := c.Send(context.Background(), req)
		require.Equal(t, apperr.CodeGatewayUnavailable, apperr.CodeOf(err), "call %d", i+1)
	}
	require.Equal(t, StateOpen, c.BreakerState().State)

	_, err := c.Send(context.Background(), req)
	require.Equal(t, apperr.CodeCircuitOpen, apperr.CodeOf(err))
	assert.EqualValues(t, 5, srv.hits.Load(), "open circuit must not touch the network")

	clock.Advance(59 * time.Second)
	_, err = c.Send(context.Background(), req)
	require.Equal(t, apperr.CodeCircuitOpen, apperr.CodeOf(err))

	clock.Advance(time.Second)
	srv.status.Store(http.StatusOK)

	_, err = c.Send(context.Background(), req)
	require.NoError(t, err)
	st := c.BreakerState()
	assert.Equal(t, StateHalfOpen, st.State)
	assert.Equal(t, 1, st.SuccessCount)

	_, err = c.Send(context.Background(), req)
	require.NoError(t, err)
	st = c.BreakerState()
	assert.Equal(t, StateClosed, st.State)
	assert.Equal(t, 0, st.FailureCount)
	assert.Equal(t, 0, st.SuccessCount)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	srv := newStatusServer(t, http.StatusInternalServerError)
	clock := newFakeClock()
	c := newTestClient(clock, &sleepRecorder{}, Options{BreakerThreshold: 2, BreakerResetTimeout: time.Minute})
	req := Request{Method: http.MethodGet, URL: srv.URL, MaxRetries: 1}

	for i := 0; i < 2; i++ {
		_, _ = c.Send(context.Background(), req)
	}
	require.Equal(t, StateOpen, c.BreakerState().State)

	clock.Advance(time.Minute)
	_, err := c.Send(context.Background(), req)
	require.Equal(t, apperr.CodeGatewayUnavailable, apperr.CodeOf(err))
	assert.Equal(t, StateOpen, c.BreakerState().State)

	_, err = c.Send(context.Background(), req)
	assert.Equal(t, apperr.CodeCircuitOpen, apperr.CodeOf(err))
}

func TestCircuitBreaker_HalfOpenAdmitsSingleTrial(t *testing.T) {
	clock := newFakeClock()
	b := newBreaker(1, time.Second, clock.Now)
	b.failure()
	clock.Advance(time.Second)

	require.True(t, b.allow())
	assert.False(t, b.allow(), "second caller must wait for the trial outcome")
	b.success()
	assert.True(t, b.allow())
}

func TestSend_TooManyRequestsHonoursRetryAfter(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", "7")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	sleeper := &sleepRecorder{}
	c := newTestClient(newFakeClock(), sleeper, Options{})

	resp, err := c.Send(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, MaxRetries: 2})

	require.NoError(t, err)
	assert.Equal(t, []time.Duration{3 * time.Second}, sleeper.Delays())
	assert.True(t, resp.RateLimit.Present)
	assert.Equal(t, 7, resp.RateLimit.Remaining)
	assert.Equal(t, 0, c.BreakerState().FailureCount, "429 is not a breaker failure")
}

func TestSend_TooManyRequestsWithoutRetryAfterUsesBackoff(t *testing.T) {
	srv := newStatusServer(t, http.StatusTooManyRequests)
	sleeper := &sleepRecorder{}
	c := newTestClient(newFakeClock(), sleeper, Options{})

	resp, err := c.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, MaxRetries: 2})

	require.Equal(t, apperr.CodeRateLimited, apperr.CodeOf(err))
	require.NotNil(t, resp)
	assert.Equal(t, []time.Duration{time.Second}, sleeper.Delays())
}

func TestSend_RejectsOversizedRequestBeforeSending(t *testing.T) {
	srv := newStatusServer(t, http.StatusOK)
	c := newTestClient(newFakeClock(), &sleepRecorder{}, Options{})

	_, err := c.Send(context.Background(), Request{Method: http.MethodPost, URL: srv.URL, Body: make([]byte, 11), MaxRequestBytes: 10})

	assert.Equal(t, apperr.CodeRequestTooLarge, apperr.CodeOf(err))
	assert.EqualValues(t, 0, srv.hits.Load())
}

func TestSend_EnforcesResponseCeiling(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(make([]byte, 2048))
	}))
	defer srv.Close()
	c := newTestClient(newFakeClock(), &sleepRecorder{}, Options{})

	_, err := c.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, MaxResponseBytes: 1024, MaxRetries: 3})

	assert.Equal(t, apperr.CodeResponseTooLarge, apperr.CodeOf(err))
	assert.Equal(t, 0, c.BreakerState().FailureCount)
}

func TestSend_TimeoutIsRetriedAsTransient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()
	sleeper := &sleepRecorder{}
	c := newTestClient(newFakeClock(), sleeper, Options{})

	_, err := c.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, Timeout: 20 * time.Millisecond, MaxRetries: 2})

	assert.Equal(t, apperr.CodeGatewayTimeout, apperr.CodeOf(err))
	assert.EqualValues(t, 2, hits.Load())
	assert.Len(t, sleeper.Delays(), 1)
	assert.Equal(t, 2, c.BreakerState().FailureCount)
}

func TestSend_CachesSuccessfulGets(t *testing.T) {
	srv := newStatusServer(t, http.StatusOK)
	clock := newFakeClock()
	c := newTestClient(clock, &sleepRecorder{}, Options{CacheEnabled: true})
	req := Request{Method: http.MethodGet, URL: srv.URL + "/v1/checkouts/abc/payment", MaxRetries: 1}

	first, err := c.Send(context.Background(), req)
	require.NoError(t, err)
	second, err := c.Send(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, first.FromCache)
	assert.True(t, second.FromCache)
	assert.Equal(t, first.Body, second.Body)
	assert.EqualValues(t, 1, srv.hits.Load())

	clock.Advance(31 * time.Second)
	_, err = c.Send(context.Background(), req)
	require.NoError(t, err)
	assert.EqualValues(t, 2, srv.hits.Load(), "entry expires after the TTL")

	_, err = c.Send(context.Background(), Request{Method: http.MethodPost, URL: req.URL, MaxRetries: 1})
	require.NoError(t, err)
	_, err = c.Send(context.Background(), Request{Method: http.MethodPost, URL: req.URL, MaxRetries: 1})
	require.NoError(t, err)
	assert.EqualValues(t, 4, srv.hits.Load(), "mutating calls are never cached")
}

func TestResponseCache_EvictsLeastRecentlyUsed(t *testing.T) {
	now := time.Now()
	c := newResponseCache(time.Minute, 2)
	c.put("a", &Response{Status: 200}, now)
	c.put("b", &Response{Status: 200}, now)
	_, _ = c.get("a", now)
	c.put("c", &Response{Status: 200}, now)

	_, okA := c.get("a", now)
	_, okB := c.get("b", now)
	assert.True(t, okA)
	assert.False(t, okB)
	assert.Equal(t, 2, c.len())
}

func TestParseRateLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	h := http.Header{}
	h.Set("X-RateLimit-Limit", "100")
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", "1767225600")
	h.Set("Retry-After", now.Add(5*time.Second).Format(http.TimeFormat))

	info := ParseRateLimit(h, now)

	assert.True(t, info.Present)
	assert.Equal(t, 100, info.Limit)
	assert.Equal(t, 0, info.Remaining)
	assert.Equal(t, "1767225600", info.Reset)
	assert.Equal(t, 5*time.Second, info.RetryAfter)
	assert.False(t, ParseRateLimit(http.Header{}, now).Present)
}

func TestSend_ConcurrentCallersShareOneBreaker(t *testing.T) {
	srv := newStatusServer(t, http.StatusInternalServerError)
	c := newTestClient(newFakeClock(), &sleepRecorder{}, Options{BreakerThreshold: 5})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, MaxRetries: 1})
		}()
	}
	wg.Wait()

	st := c.BreakerState()
	assert.Equal(t, StateOpen, st.State)
	assert.LessOrEqual(t, srv.hits.Load(), int32(20))
	assert.GreaterOrEqual(t, st.FailureCount, 5)
}

type recordingObserver struct {
	mu          sync.Mutex
	attempts    int
	transitions []State
}

func (o *recordingObserver) ObserveAttempt(string, int, time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempts++
}

func (o *recordingObserver) ObserveBreaker(_, to State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.transitions = append(o.transitions, to)
}

func TestSend_ReportsToObserver(t *testing.T) {
	srv := newStatusServer(t, http.StatusInternalServerError)
	obs := &recordingObserver{}
	c := newTestClient(newFakeClock(), &sleepRecorder{}, Options{BreakerThreshold: 1, Observer: obs})

	_, _ = c.Send(context.Background(), Request{Method: http.MethodGet, URL: srv.URL, MaxRetries: 1})

	assert.Equal(t, 1, obs.attempts)
	assert.Equal(t, []State{StateOpen}, obs.transitions)
}
