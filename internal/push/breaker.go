package push

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// BreakerState is the state of a CircuitBreaker.
//
//	Closed -> Open:      consecutive failures reach MaxFailures
//	Open -> HalfOpen:    RecoveryTimeout elapsed
//	HalfOpen -> Closed:  probe succeeded
//	HalfOpen -> Open:    probe failed
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a provider's circuit is open.
var ErrCircuitOpen = errors.New("push: circuit breaker is open")

// BreakerConfig tunes a CircuitBreaker.
type BreakerConfig struct {
	Name            string
	MaxFailures     int
	RecoveryTimeout time.Duration
	Clock           func() time.Time
}

// CircuitBreaker fails fast while a provider keeps erroring.
type CircuitBreaker struct {
	mu     sync.Mutex
	config BreakerConfig
	log    *zap.Logger

	state       BreakerState
	failures    int
	lastFailure time.Time
	probing     bool
}

// NewCircuitBreaker creates a closed breaker, defaulting to 5 failures and 30s recovery.
func NewCircuitBreaker(cfg BreakerConfig, log *zap.Logger) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &CircuitBreaker{config: cfg, log: log}
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.config.Clock().Sub(cb.lastFailure) >= cb.config.RecoveryTimeout {
			cb.state = StateHalfOpen
			cb.probing = true
			cb.log.Info("circuit breaker allowing probe request", zap.String("name", cb.config.Name))
			return true
		}
		return false
	case StateHalfOpen:
		if !cb.probing {
			cb.probing = true
			return true
		}
		return false
	default:
		return false
	}
}

// RecordSuccess closes the circuit and resets the failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.probing = false
	if cb.state != StateClosed {
		cb.state = StateClosed
		cb.log.Info("circuit breaker closed", zap.String("name", cb.config.Name))
	}
}

// RecordFailure counts a failure, opening the circuit at the threshold or
// when a half-open probe fails.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.config.Clock()
	cb.probing = false

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.state = StateOpen
			cb.log.Warn("circuit breaker opened",
				zap.String("name", cb.config.Name),
				zap.Int("failures", cb.failures),
			)
		}
	case StateHalfOpen:
		cb.state = StateOpen
		cb.log.Warn("circuit breaker re-opened after failed probe", zap.String("name", cb.config.Name))
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
