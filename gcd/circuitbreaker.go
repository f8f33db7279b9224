package gcd

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by circuitBreaker.Execute while the breaker is
// open and blocking calls to a backend.
var ErrCircuitOpen = errors.New("gcd: circuit breaker open")

type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// circuitBreaker is a trimmed adaptation of the teacher's
// resilience.CircuitBreaker (core.CircuitBreaker interface), scoped down
// to the three fields RedisTransport actually needs: a failure threshold
// to open the circuit, a cooldown before probing again, and a half-open
// probe count before fully closing. One instance guards one gbid's client
// so a single unreachable Redis shard doesn't hold up calls routed to the
// others.
type circuitBreaker struct {
	mu sync.Mutex

	threshold       int
	cooldown        time.Duration
	halfOpenProbes  int
	state           circuitState
	failures        int
	halfOpenSuccess int
	openedAt        time.Time
}

func newCircuitBreaker(threshold int, cooldown time.Duration) *circuitBreaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 30 * time.Second
	}
	return &circuitBreaker{threshold: threshold, cooldown: cooldown, halfOpenProbes: 2}
}

// Execute runs fn under circuit breaker protection. When the circuit is
// open and the cooldown has not elapsed it returns ErrCircuitOpen without
// calling fn.
func (cb *circuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if !cb.allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.record(err)
	return err
}

func (cb *circuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case stateOpen:
		if time.Since(cb.openedAt) < cb.cooldown {
			return false
		}
		cb.state = stateHalfOpen
		cb.halfOpenSuccess = 0
		return true
	default:
		return true
	}
}

func (cb *circuitBreaker) record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		cb.failures++
		if cb.state == stateHalfOpen || cb.failures >= cb.threshold {
			cb.transitionTo(stateOpen)
		}
		return
	}

	switch cb.state {
	case stateHalfOpen:
		cb.halfOpenSuccess++
		if cb.halfOpenSuccess >= cb.halfOpenProbes {
			cb.transitionTo(stateClosed)
		}
	case stateClosed:
		cb.failures = 0
	}
}

func (cb *circuitBreaker) transitionTo(s circuitState) {
	cb.state = s
	cb.failures = 0
	cb.halfOpenSuccess = 0
	if s == stateOpen {
		cb.openedAt = time.Now()
	}
}

func (cb *circuitBreaker) String() string {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state.String()
}
