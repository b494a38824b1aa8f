package flowclient

import (
	"sync"
	"time"

	"github.com/rendis/pinnacle/pkg/schema"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before a test request is let through.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker guards one remote endpoint. A half-open breaker admits a single
// test request; its outcome closes or reopens the circuit.
type Breaker struct {
	mu          sync.Mutex
	name        string
	cfg         BreakerConfig
	state       CircuitState
	failures    int
	lastFailure time.Time
	probing     bool
	now         func() time.Time
}

// NewBreaker creates a closed breaker for the named endpoint.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	return &Breaker{name: name, cfg: cfg, now: time.Now}
}

// Allow returns nil if a request may proceed, or a CIRCUIT_OPEN error.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitOpen:
		elapsed := b.now().Sub(b.lastFailure)
		if elapsed < b.cfg.Cooldown {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit breaker open for %s: %d consecutive failures", b.name, b.failures).
				WithDetails(map[string]any{
					"endpoint":             b.name,
					"consecutive_failures": b.failures,
					"cooldown_remaining":   (b.cfg.Cooldown - elapsed).String(),
				})
		}
		b.state = CircuitHalfOpen
		b.probing = true
		return nil
	case CircuitHalfOpen:
		if b.probing {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit breaker half-open for %s: test request in flight", b.name)
		}
		b.probing = true
	}
	return nil
}

// RecordSuccess closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probing = false
	b.state = CircuitClosed
}

// RecordFailure counts a failure and returns the resulting state.
func (b *Breaker) RecordFailure() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = b.now()
	b.probing = false
	if b.state == CircuitHalfOpen || b.failures >= b.cfg.FailureThreshold {
		b.state = CircuitOpen
	}
	return b.state
}

// State returns the current state.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
