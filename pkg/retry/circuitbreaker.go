package retry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int

const (
	// StateClosed - requests are allowed.
	StateClosed CircuitBreakerState = iota
	// StateOpen - requests are rejected.
	StateOpen
	// StateHalfOpen - limited requests are allowed to probe recovery.
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	Name             string
	MaxFailures      int
	ResetTimeout     time.Duration
	SuccessThreshold int
	OnStateChange    func(from, to CircuitBreakerState)
	ShouldTrip       func(counts Counts) bool
	Logger           *zap.Logger
}

// DefaultCircuitBreakerConfig returns a default circuit breaker
// configuration.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		MaxFailures:      5,
		ResetTimeout:     60 * time.Second,
		SuccessThreshold: 3,
		Logger:           zap.NewNop(),
	}
}

// Counts holds the statistics for the circuit breaker.
type Counts struct {
	Requests             int
	TotalSuccesses       int
	TotalFailures        int
	ConsecutiveSuccesses int
	ConsecutiveFailures  int
}

// CircuitBreaker guards the crawl against hammering a site that has started
// blocking every request. Callers gate work with Allow and report outcomes
// with RecordResult; once too many consecutive URLs fail terminally the
// breaker opens and the crawl skips ahead until the reset timeout expires.
type CircuitBreaker struct {
	config CircuitBreakerConfig
	mutex  sync.RWMutex
	state  CircuitBreakerState
	counts Counts
	expiry time.Time
}

// NewCircuitBreaker creates a new circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	cb := &CircuitBreaker{
		config: config,
		state:  StateClosed,
		expiry: time.Now(),
	}
	if cb.config.ShouldTrip == nil {
		cb.config.ShouldTrip = cb.defaultShouldTrip
	}
	return cb
}

// Allow reports whether the breaker admits another unit of work. An open
// breaker transitions to half-open once its reset timeout has expired.
func (cb *CircuitBreaker) Allow() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Now().After(cb.expiry) {
			cb.setState(StateHalfOpen)
			cb.resetCounts()
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordResult records the outcome of a unit of work admitted by Allow.
func (cb *CircuitBreaker) RecordResult(success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.counts.Requests++

	if success {
		cb.counts.TotalSuccesses++
		cb.counts.ConsecutiveSuccesses++
		cb.counts.ConsecutiveFailures = 0

		if cb.state == StateHalfOpen && cb.counts.ConsecutiveSuccesses >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
			cb.resetCounts()
		}
		return
	}

	cb.counts.TotalFailures++
	cb.counts.ConsecutiveFailures++
	cb.counts.ConsecutiveSuccesses = 0

	if cb.config.ShouldTrip(cb.counts) {
		cb.setState(StateOpen)
		cb.expiry = time.Now().Add(cb.config.ResetTimeout)
	}
}

// setState changes the circuit breaker state. Callers hold the mutex.
func (cb *CircuitBreaker) setState(newState CircuitBreakerState) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState

	cb.config.Logger.Info("Circuit breaker state changed",
		zap.String("name", cb.config.Name),
		zap.String("from", oldState.String()),
		zap.String("to", newState.String()),
		zap.Any("counts", cb.counts))

	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(oldState, newState)
	}
}

// resetCounts resets the circuit breaker counts. Callers hold the mutex.
func (cb *CircuitBreaker) resetCounts() {
	cb.counts = Counts{}
}

// defaultShouldTrip opens the breaker after MaxFailures consecutive
// failures.
func (cb *CircuitBreaker) defaultShouldTrip(counts Counts) bool {
	return counts.ConsecutiveFailures >= cb.config.MaxFailures
}

// State returns the current state of the circuit breaker.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// Snapshot returns the current counts of the circuit breaker.
func (cb *CircuitBreaker) Snapshot() Counts {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.counts
}

// Reset manually closes the circuit breaker.
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setState(StateClosed)
	cb.resetCounts()
	cb.expiry = time.Now()
}
