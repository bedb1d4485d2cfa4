package llm

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"aimw.dev/aimw/internal/models"
)

// CircuitState names one of the three breaker states.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half-open"
)

// ErrCircuitOpen is returned immediately when a call is attempted against
// an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker open")

// ErrCircuitHalfOpenRejected is returned when a half-open breaker has
// already let through its configured request quota for this probation
// window.
var ErrCircuitHalfOpenRejected = errors.New("circuit breaker half-open request limit reached")

// listenerNotifyTimeoutNs bounds how long a state-change listener is given
// before notify logs a warning and moves on; stored as nanoseconds
// so tests can shrink it without touching the exported config surface.
var listenerNotifyTimeoutNs atomic.Int64

func init() {
	listenerNotifyTimeoutNs.Store(int64(2 * time.Second))
}

// CircuitBreakerConfig tunes the failure/recovery thresholds of one breaker.
type CircuitBreakerConfig struct {
	FailureThreshold    int
	SuccessThreshold    int
	Timeout             time.Duration
	HalfOpenMaxRequests int
}

// DefaultCircuitBreakerConfig mirrors the defaults used when no explicit
// tuning is supplied.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:    5,
		SuccessThreshold:    2,
		Timeout:             30 * time.Second,
		HalfOpenMaxRequests: 3,
	}
}

// Stats is a point-in-time snapshot of one breaker's counters.
type Stats struct {
	ProviderID          string
	State               CircuitState
	TotalRequests       int64
	TotalSuccesses      int64
	TotalFailures       int64
	ConsecutiveFailures int
}

// StateChangeListener is notified whenever a breaker transitions state.
type StateChangeListener func(providerID string, oldState, newState CircuitState)

// CircuitBreaker wraps a Provider, rejecting calls once consecutive
// failures trip it open and probing recovery through a half-open window.
type CircuitBreaker struct {
	id       string
	provider Provider
	config   CircuitBreakerConfig

	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	halfOpenRequests    int
	halfOpenSuccesses   int
	openedAt            time.Time
	listeners           []StateChangeListener

	totalRequests  int64
	totalSuccesses int64
	totalFailures  int64
}

// NewCircuitBreaker builds a breaker for provider with explicit tuning.
func NewCircuitBreaker(id string, provider Provider, config CircuitBreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{
		id:       id,
		provider: provider,
		config:   config,
		state:    CircuitClosed,
	}
}

// NewDefaultCircuitBreaker builds a breaker using DefaultCircuitBreakerConfig.
func NewDefaultCircuitBreaker(id string, provider Provider) *CircuitBreaker {
	return NewCircuitBreaker(id, provider, DefaultCircuitBreakerConfig())
}

func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) IsClosed() bool   { return cb.GetState() == CircuitClosed }
func (cb *CircuitBreaker) IsOpen() bool     { return cb.GetState() == CircuitOpen }
func (cb *CircuitBreaker) IsHalfOpen() bool { return cb.GetState() == CircuitHalfOpen }

// AddListener registers l to be notified on every state transition.
func (cb *CircuitBreaker) AddListener(l StateChangeListener) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.listeners = append(cb.listeners, l)
}

// tryEnter decides whether a call may proceed, performing the open-to-
// half-open transition as a side effect when the timeout has elapsed.
func (cb *CircuitBreaker) tryEnter() error {
	cb.mu.Lock()

	switch cb.state {
	case CircuitClosed:
		cb.mu.Unlock()
		return nil

	case CircuitOpen:
		if time.Since(cb.openedAt) < cb.config.Timeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		old := cb.state
		cb.state = CircuitHalfOpen
		cb.halfOpenRequests = 1
		cb.halfOpenSuccesses = 0
		listeners := append([]StateChangeListener{}, cb.listeners...)
		id := cb.id
		cb.mu.Unlock()
		go cb.notify(listeners, id, old, CircuitHalfOpen)
		return nil

	case CircuitHalfOpen:
		if cb.halfOpenRequests >= cb.config.HalfOpenMaxRequests {
			cb.mu.Unlock()
			return ErrCircuitHalfOpenRejected
		}
		cb.halfOpenRequests++
		cb.mu.Unlock()
		return nil

	default:
		cb.mu.Unlock()
		return nil
	}
}

// recordResult folds a call outcome back into the breaker's state machine.
func (cb *CircuitBreaker) recordResult(success bool) {
	cb.mu.Lock()

	atomic.AddInt64(&cb.totalRequests, 1)
	if success {
		atomic.AddInt64(&cb.totalSuccesses, 1)
	} else {
		atomic.AddInt64(&cb.totalFailures, 1)
	}

	var (
		transitioned bool
		old, newS    CircuitState
	)

	switch cb.state {
	case CircuitClosed:
		if success {
			cb.consecutiveFailures = 0
		} else {
			cb.consecutiveFailures++
			if cb.consecutiveFailures >= cb.config.FailureThreshold {
				old, newS = cb.state, CircuitOpen
				cb.state = CircuitOpen
				cb.openedAt = time.Now()
				transitioned = true
			}
		}

	case CircuitHalfOpen:
		if success {
			cb.halfOpenSuccesses++
			if cb.halfOpenSuccesses >= cb.config.SuccessThreshold {
				old, newS = cb.state, CircuitClosed
				cb.state = CircuitClosed
				cb.consecutiveFailures = 0
				transitioned = true
			}
		} else {
			old, newS = cb.state, CircuitOpen
			cb.state = CircuitOpen
			cb.openedAt = time.Now()
			transitioned = true
		}
	}

	var listeners []StateChangeListener
	id := cb.id
	if transitioned {
		listeners = append([]StateChangeListener{}, cb.listeners...)
	}
	cb.mu.Unlock()

	if transitioned {
		go cb.notify(listeners, id, old, newS)
	}
}

func (cb *CircuitBreaker) notify(listeners []StateChangeListener, id string, old, newState CircuitState) {
	timeout := time.Duration(listenerNotifyTimeoutNs.Load())
	for _, l := range listeners {
		l := l
		done := make(chan struct{})
		go func() {
			defer close(done)
			l(id, old, newState)
		}()
		select {
		case <-done:
		case <-time.After(timeout):
			logrus.WithField("component", "circuit_breaker").
				WithField("provider_id", id).
				Warnf("listener timed out notifying transition %s -> %s", old, newState)
		}
	}
}

// Complete runs req against the wrapped provider if the breaker allows it.
func (cb *CircuitBreaker) Complete(ctx context.Context, req *models.Request) (*models.ProviderResponse, error) {
	if err := cb.tryEnter(); err != nil {
		return nil, err
	}
	resp, err := cb.provider.Complete(ctx, req)
	cb.recordResult(err == nil)
	return resp, err
}

// CompleteStream streams req through the wrapped provider if allowed.
func (cb *CircuitBreaker) CompleteStream(ctx context.Context, req *models.Request) (<-chan *models.ProviderResponse, error) {
	if err := cb.tryEnter(); err != nil {
		return nil, err
	}
	ch, err := cb.provider.CompleteStream(ctx, req)
	if err != nil {
		cb.recordResult(false)
		return nil, err
	}

	out := make(chan *models.ProviderResponse)
	go func() {
		defer close(out)
		sawAny := false
		for v := range ch {
			sawAny = true
			out <- v
		}
		cb.recordResult(sawAny)
	}()
	return out, nil
}

// Reset forces the breaker back to closed, clearing the consecutive-failure
// and half-open counters; the lifetime totals are kept.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	old := cb.state
	cb.state = CircuitClosed
	cb.consecutiveFailures = 0
	cb.halfOpenRequests = 0
	cb.halfOpenSuccesses = 0
	listeners := append([]StateChangeListener{}, cb.listeners...)
	id := cb.id
	cb.mu.Unlock()

	if old != CircuitClosed {
		go cb.notify(listeners, id, old, CircuitClosed)
	}
}

// GetStats returns a snapshot of the breaker's counters.
func (cb *CircuitBreaker) GetStats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		ProviderID:          cb.id,
		State:               cb.state,
		TotalRequests:       atomic.LoadInt64(&cb.totalRequests),
		TotalSuccesses:      atomic.LoadInt64(&cb.totalSuccesses),
		TotalFailures:       atomic.LoadInt64(&cb.totalFailures),
		ConsecutiveFailures: cb.consecutiveFailures,
	}
}

// CircuitBreakerManager owns one breaker per provider ID.
type CircuitBreakerManager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
}

// NewCircuitBreakerManager builds a manager whose breakers all share config.
func NewCircuitBreakerManager(config CircuitBreakerConfig) *CircuitBreakerManager {
	return &CircuitBreakerManager{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// NewDefaultCircuitBreakerManager builds a manager using DefaultCircuitBreakerConfig.
func NewDefaultCircuitBreakerManager() *CircuitBreakerManager {
	return NewCircuitBreakerManager(DefaultCircuitBreakerConfig())
}

// Register creates and stores a breaker for id, replacing any prior one.
func (m *CircuitBreakerManager) Register(id string, provider Provider) *CircuitBreaker {
	cb := NewCircuitBreaker(id, provider, m.config)
	m.mu.Lock()
	m.breakers[id] = cb
	m.mu.Unlock()
	return cb
}

// Get returns the breaker registered for id, if any.
func (m *CircuitBreakerManager) Get(id string) (*CircuitBreaker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cb, ok := m.breakers[id]
	return cb, ok
}

// Unregister removes id's breaker.
func (m *CircuitBreakerManager) Unregister(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, id)
}

// GetAllStats snapshots every registered breaker.
func (m *CircuitBreakerManager) GetAllStats() map[string]Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]Stats, len(m.breakers))
	for id, cb := range m.breakers {
		out[id] = cb.GetStats()
	}
	return out
}

// GetAvailableProviders returns the IDs of every breaker not currently open.
func (m *CircuitBreakerManager) GetAvailableProviders() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id, cb := range m.breakers {
		if !cb.IsOpen() {
			out = append(out, id)
		}
	}
	return out
}

// ResetAll forces every registered breaker closed.
func (m *CircuitBreakerManager) ResetAll() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, cb := range m.breakers {
		cb.Reset()
	}
}
