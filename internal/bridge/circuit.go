package bridge

import (
	"errors"
	"sync"
	"time"
)

var ErrCircuitOpen = errors.New("bridge circuit open")

type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

type CircuitConfig struct {
	// FailureThreshold consecutive transport failures open the circuit.
	FailureThreshold int `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	// SuccessThreshold successful probes close it again.
	SuccessThreshold int           `yaml:"success_threshold" mapstructure:"success_threshold"`
	OpenTimeout      time.Duration `yaml:"open_timeout" mapstructure:"open_timeout"`
	HalfOpenMaxCalls int           `yaml:"half_open_max_calls" mapstructure:"half_open_max_calls"`
}

func DefaultCircuitConfig() CircuitConfig {
	return CircuitConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      10 * time.Second,
		HalfOpenMaxCalls: 1,
	}
}

// CircuitBreaker stops invoking a page that keeps timing out or dropping
// calls. A *ScriptError means the page answered, so it never counts as a
// failure.
type CircuitBreaker struct {
	config CircuitConfig
	now    func() time.Time

	mu       sync.Mutex
	state    CircuitState
	failures int
	probes   int
	probeOK  int
	openedAt time.Time
	trips    int
}

func NewCircuitBreaker(config CircuitConfig) *CircuitBreaker {
	return &CircuitBreaker{
		config: config,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// Allow reports whether a call may go out. Once the open timeout has passed
// the circuit admits up to HalfOpenMaxCalls probes at a time.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.openedAt) < cb.config.OpenTimeout {
			return false
		}
		cb.moveTo(CircuitHalfOpen)
	}

	if cb.state == CircuitHalfOpen {
		if cb.probes >= cb.config.HalfOpenMaxCalls {
			return false
		}
		cb.probes++
	}
	return true
}

// Record feeds the outcome of an allowed call back into the breaker.
func (cb *CircuitBreaker) Record(err error) {
	var scriptErr *ScriptError
	failed := err != nil && !errors.As(err, &scriptErr)

	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		if !failed {
			cb.failures = 0
			return
		}
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			cb.moveTo(CircuitOpen)
		}

	case CircuitHalfOpen:
		if cb.probes > 0 {
			cb.probes--
		}
		if failed {
			cb.moveTo(CircuitOpen)
			return
		}
		cb.probeOK++
		if cb.probeOK >= cb.config.SuccessThreshold {
			cb.moveTo(CircuitClosed)
		}
	}
}

// moveTo resets the counters that belong to the state being entered.
func (cb *CircuitBreaker) moveTo(state CircuitState) {
	from := cb.state
	cb.state = state
	cb.probes, cb.probeOK = 0, 0

	switch state {
	case CircuitOpen:
		cb.openedAt = cb.now()
		cb.trips++
	case CircuitClosed:
		cb.failures = 0
	}

	log.Debug("circuit state changed", "from", from, "to", state)
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Trips counts how many times the circuit has opened.
func (cb *CircuitBreaker) Trips() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.trips
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != CircuitClosed {
		cb.moveTo(CircuitClosed)
	}
}
