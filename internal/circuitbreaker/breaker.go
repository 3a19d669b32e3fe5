// Package circuitbreaker guards calls to flaky dependencies with a per-key
// closed / open / half-open circuit.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// State is the position of a circuit.
type State int

const (
	StateClosed   State = iota // calls flow through
	StateOpen                  // calls are rejected outright
	StateHalfOpen              // a single probe call is in flight
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	}
	return "unknown"
}

var stateTransitions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "spendgate",
	Subsystem: "circuitbreaker",
	Name:      "state_transitions_total",
	Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
}, []string{"key", "from_state", "to_state"})

func init() {
	prometheus.MustRegister(stateTransitions)
}

// circuit is the state machine for one key. All access goes through the
// owning Breaker's lock.
type circuit struct {
	state    State
	failures int
	openedAt time.Time
}

// Breaker tracks consecutive failures per key. A key's circuit opens after
// threshold failures in a row, rejects calls for openFor, then lets one
// probe through; the probe's outcome closes or reopens the circuit.
type Breaker struct {
	mu        sync.Mutex
	circuits  map[string]*circuit
	threshold int
	openFor   time.Duration
}

// New builds a Breaker. Non-positive arguments fall back to 5 failures and
// 30 seconds.
func New(threshold int, openFor time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if openFor <= 0 {
		openFor = 30 * time.Second
	}
	return &Breaker{
		circuits:  make(map[string]*circuit),
		threshold: threshold,
		openFor:   openFor,
	}
}

// Allow reports whether a call to key may proceed. An open circuit whose
// cool-off has elapsed admits exactly one probe and moves to half-open.
func (b *Breaker) Allow(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return true
	}
	switch c.state {
	case StateOpen:
		if time.Since(c.openedAt) < b.openFor {
			return false
		}
		b.moveTo(key, c, StateHalfOpen)
		return true
	case StateHalfOpen:
		// Probe already in flight.
		return false
	}
	return true
}

// RecordSuccess clears the failure streak and closes a half-open circuit.
func (b *Breaker) RecordSuccess(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		return
	}
	c.failures = 0
	if c.state == StateHalfOpen {
		b.moveTo(key, c, StateClosed)
	}
}

// RecordFailure notes a failed call. A failed probe reopens the circuit;
// reaching the threshold while closed trips it open.
func (b *Breaker) RecordFailure(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.circuits[key]
	if !ok {
		c = &circuit{}
		b.circuits[key] = c
	}
	c.failures++

	switch {
	case c.state == StateHalfOpen:
		b.moveTo(key, c, StateOpen)
	case c.state == StateClosed && c.failures >= b.threshold:
		b.moveTo(key, c, StateOpen)
	}
}

// State returns key's current state; unknown keys are closed.
func (b *Breaker) State(key string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if c, ok := b.circuits[key]; ok {
		return c.state
	}
	return StateClosed
}

// moveTo transitions c and records the metric. Caller holds b.mu.
func (b *Breaker) moveTo(key string, c *circuit, to State) {
	from := c.state
	if from == to {
		return
	}
	c.state = to
	if to == StateOpen {
		c.openedAt = time.Now()
	}
	stateTransitions.WithLabelValues(key, from.String(), to.String()).Inc()
}
