package transport

import (
	"sync"
	"time"
)

// State of the circuit breaker.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

const (
	defaultBreakerThreshold = 5
	defaultBreakerReset     = 60 * time.Second
	halfOpenSuccesses       = 2
)

// BreakerState is a point-in-time copy of the breaker counters.
type BreakerState struct {
	State           State
	FailureCount    int
	LastFailureTime time.Time
	SuccessCount    int
}

// breaker is owned by a single Client; all access goes through mu.
type breaker struct {
	mu           sync.Mutex
	threshold    int
	resetTimeout time.Duration
	now          func() time.Time
	onTransition func(from, to State)

	state         State
	failureCount  int
	successCount  int
	lastFailure   time.Time
	trialInFlight bool
}

func newBreaker(threshold int, reset time.Duration, now func() time.Time) *breaker {
	if threshold <= 0 {
		threshold = defaultBreakerThreshold
	}
	if reset <= 0 {
		reset = defaultBreakerReset
	}
	return &breaker{
		threshold:    threshold,
		resetTimeout: reset,
		now:          now,
		state:        StateClosed,
	}
}

// allow reports whether a request may go out. In HALF_OPEN only one trial
// request is in flight at a time.
func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		if b.now().Sub(b.lastFailure) < b.resetTimeout {
			return false
		}
		b.transition(StateHalfOpen)
		b.successCount = 0
		b.trialInFlight = true
		return true
	case StateHalfOpen:
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	default:
		return true
	}
}

func (b *breaker) success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.successCount++
		if b.successCount >= halfOpenSuccesses {
			b.transition(StateClosed)
			b.failureCount = 0
			b.successCount = 0
		}
	case StateClosed:
		b.failureCount = 0
	}
}

func (b *breaker) failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = b.now()
	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		b.successCount = 0
		b.failureCount++
		b.transition(StateOpen)
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.threshold {
			b.transition(StateOpen)
		}
	}
}

// release frees a half-open trial slot without counting an outcome (429s,
// caller cancellation).
func (b *breaker) release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trialInFlight = false
}

func (b *breaker) snapshot() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerState{
		State:           b.state,
		FailureCount:    b.failureCount,
		LastFailureTime: b.lastFailure,
		SuccessCount:    b.successCount,
	}
}

// transition must be called with mu held.
func (b *breaker) transition(to State) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	if b.onTransition != nil {
		b.onTransition(from, to)
	}
}
