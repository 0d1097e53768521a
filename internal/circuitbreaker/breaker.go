// Package circuitbreaker guards flaky external backends (the managed
// scoring model, the generative-text service) with a per-backend
// closed → open → half-open breaker. An open breaker lets callers skip
// straight to their fallback instead of paying the backend's timeout.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ErrOpen is returned by Do when the breaker rejects the call.
var ErrOpen = errors.New("circuit open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls flow through
	StateOpen                  // calls are rejected
	StateHalfOpen              // one probe call allowed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "govguard",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by backend, from-state, and to-state.",
}, []string{"backend", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

type backendState struct {
	state       State
	failures    int
	lastFailure time.Time
}

// Breaker tracks consecutive failures per backend name and trips open at
// the threshold. After the cooldown one probe call is let through.
type Breaker struct {
	mu           sync.Mutex
	backends     map[string]*backendState
	threshold    int
	cooldown     time.Duration
	now          func() time.Time
	onTransition func(backend string, from, to State)
}

// New creates a breaker that opens after threshold consecutive failures
// and stays open for cooldown before probing.
func New(threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &Breaker{
		backends:  make(map[string]*backendState),
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// OnTransition sets a callback invoked on state changes.
func (b *Breaker) OnTransition(fn func(backend string, from, to State)) {
	b.mu.Lock()
	b.onTransition = fn
	b.mu.Unlock()
}

// Do runs fn unless the breaker for backend is open, and records the
// outcome. It returns ErrOpen without calling fn when rejected.
func (b *Breaker) Do(backend string, fn func() error) error {
	if !b.Allow(backend) {
		return ErrOpen
	}
	if err := fn(); err != nil {
		b.RecordFailure(backend)
		return err
	}
	b.RecordSuccess(backend)
	return nil
}

// Allow reports whether a call to backend should go through.
// An open breaker past its cooldown moves to half-open and allows one probe.
func (b *Breaker) Allow(backend string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.backends[backend]
	if !ok {
		return true
	}

	switch s.state {
	case StateOpen:
		if b.now().Sub(s.lastFailure) >= b.cooldown {
			b.transition(s, backend, StateHalfOpen)
			return true
		}
		return false
	case StateHalfOpen:
		return false // probe in flight
	default:
		return true
	}
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (b *Breaker) RecordSuccess(backend string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.backends[backend]
	if !ok {
		return
	}
	if s.state == StateHalfOpen {
		b.transition(s, backend, StateClosed)
	}
	s.failures = 0
}

// RecordFailure counts a failure and trips the breaker at the threshold.
// A failed half-open probe reopens immediately.
func (b *Breaker) RecordFailure(backend string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.backends[backend]
	if !ok {
		s = &backendState{state: StateClosed}
		b.backends[backend] = s
	}

	s.failures++
	s.lastFailure = b.now()

	switch {
	case s.state == StateHalfOpen:
		b.transition(s, backend, StateOpen)
	case s.state == StateClosed && s.failures >= b.threshold:
		b.transition(s, backend, StateOpen)
	}
}

// State returns the current state for backend. Unknown backends are closed.
func (b *Breaker) State(backend string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.backends[backend]
	if !ok {
		return StateClosed
	}
	return s.state
}

// caller holds b.mu
func (b *Breaker) transition(s *backendState, backend string, to State) {
	from := s.state
	if from == to {
		return
	}
	s.state = to
	stateTransitions.WithLabelValues(backend, from.String(), to.String()).Inc()
	if b.onTransition != nil {
		fn := b.onTransition
		go fn(backend, from, to)
	}
}
