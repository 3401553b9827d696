// Package circuitbreaker short-circuits repeatedly failing operations per key, so a
// broken dependency is not hammered while it recovers.
package circuitbreaker

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the current state of the circuit for one key
type State int

// Circuit breaker states
const (
	StateClosed   State = iota // Normal operation
	StateOpen                  // Tripped, attempts are short-circuited
	StateHalfOpen              // Cooldown elapsed, next attempt is a probe
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// Thresholds defines when a key trips
type Thresholds struct {
	// Failed attempts after which the key is short-circuited
	MaxFailures int `json:"max_failures"`

	// How long a tripped key stays open after its last failure
	ResetDelay time.Duration `json:"reset_delay"`
}

// DefaultThresholds trips after 3 failures for 30 seconds
func DefaultThresholds() Thresholds {
	return Thresholds{MaxFailures: 3, ResetDelay: 30 * time.Second}
}

// Entry is the failure record kept for a key
type Entry struct {
	Attempts  int       `json:"attempts"`
	Timestamp time.Time `json:"timestamp"`
}

type keyState struct {
	mu    sync.Mutex
	entry Entry
}

// CircuitBreaker keeps an independent failure record per key. Keys never contend
// with each other; operations on the same key are serialized.
type CircuitBreaker struct {
	thresholds Thresholds
	keys       sync.Map // string -> *keyState
	now        func() time.Time

	// Event callback for monitoring/alerting
	onTripCallback func(key string, attempts int)
}

// New creates a new CircuitBreaker with the provided thresholds
func New(t Thresholds) *CircuitBreaker {
	if t.MaxFailures <= 0 {
		t.MaxFailures = DefaultThresholds().MaxFailures
	}
	if t.ResetDelay <= 0 {
		t.ResetDelay = DefaultThresholds().ResetDelay
	}
	return &CircuitBreaker{
		thresholds: t,
		now:        time.Now,
	}
}

// WithResetDelay sets a custom reset delay and returns the circuit breaker
func (cb *CircuitBreaker) WithResetDelay(delay time.Duration) *CircuitBreaker {
	cb.thresholds.ResetDelay = delay
	return cb
}

// WithTripCallback sets a callback function that is called when a key trips
func (cb *CircuitBreaker) WithTripCallback(callback func(key string, attempts int)) *CircuitBreaker {
	cb.onTripCallback = callback
	return cb
}

// WithClock replaces the time source
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Allow reports whether an attempt for key may proceed
func (cb *CircuitBreaker) Allow(key string) bool {
	v, ok := cb.keys.Load(key)
	if !ok {
		return true
	}
	ks := v.(*keyState)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return cb.stateLocked(ks.entry) != StateOpen
}

// GetState returns the current state for key
func (cb *CircuitBreaker) GetState(key string) State {
	v, ok := cb.keys.Load(key)
	if !ok {
		return StateClosed
	}
	ks := v.(*keyState)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return cb.stateLocked(ks.entry)
}

// RecordFailure counts a failed attempt for key and returns the attempt count
func (cb *CircuitBreaker) RecordFailure(key string) int {
	v, _ := cb.keys.LoadOrStore(key, &keyState{})
	ks := v.(*keyState)
	ks.mu.Lock()
	ks.entry.Attempts++
	ks.entry.Timestamp = cb.now()
	attempts := ks.entry.Attempts
	ks.mu.Unlock()

	if attempts >= cb.thresholds.MaxFailures {
		cb.trip(key, attempts)
	}
	return attempts
}

// RecordSuccess clears the failure record for key
func (cb *CircuitBreaker) RecordSuccess(key string) {
	if _, loaded := cb.keys.LoadAndDelete(key); loaded {
		logrus.WithField("key", key).Debug("Circuit breaker closed")
	}
}

// Snapshot returns a copy of the failure record for key
func (cb *CircuitBreaker) Snapshot(key string) (Entry, bool) {
	v, ok := cb.keys.Load(key)
	if !ok {
		return Entry{}, false
	}
	ks := v.(*keyState)
	ks.mu.Lock()
	defer ks.mu.Unlock()
	return ks.entry, true
}

// Reset forcibly clears every key
func (cb *CircuitBreaker) Reset() {
	cb.keys.Range(func(k, _ interface{}) bool {
		cb.keys.Delete(k)
		return true
	})
	logrus.Info("Circuit breaker manually reset")
}

func (cb *CircuitBreaker) stateLocked(e Entry) State {
	if e.Attempts < cb.thresholds.MaxFailures {
		return StateClosed
	}
	if cb.now().Sub(e.Timestamp) < cb.thresholds.ResetDelay {
		return StateOpen
	}
	return StateHalfOpen
}

// trip logs the transition and notifies the callback
func (cb *CircuitBreaker) trip(key string, attempts int) {
	logrus.WithFields(logrus.Fields{
		"key":      key,
		"attempts": attempts,
		"cooldown": cb.thresholds.ResetDelay,
	}).Warn("Circuit breaker tripped")

	if cb.onTripCallback != nil {
		go cb.onTripCallback(key, attempts)
	}
}
