package pipeline

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerSettings configures per-provider circuit breakers.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker open once reached. Default 5.
	ConsecutiveFailures uint32

	// Cooldown is how long the breaker stays open before probing
	// half-open. Default 30s.
	Cooldown time.Duration

	// HalfOpenMaxRequests caps probe requests in half-open state. Default 1.
	HalfOpenMaxRequests uint32
}

// DefaultBreakerSettings returns the standard provider breaker
// configuration.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		ConsecutiveFailures: 5,
		Cooldown:            30 * time.Second,
		HalfOpenMaxRequests: 1,
	}
}

// BreakerRegistry holds one circuit breaker per provider, created lazily.
//
// The worker pool consults IsOpen before executing a worker and records the
// outcome afterwards; a skip while open counts as neither success nor
// failure. State transitions are reported to the optional OnStateChange
// callback (wired to metrics by the executor).
//
// Safe for concurrent use.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	settings BreakerSettings

	// OnStateChange, if set, observes provider breaker transitions.
	OnStateChange func(provider, from, to string)
}

// NewBreakerRegistry creates a registry with the given settings. Zero-value
// fields fall back to DefaultBreakerSettings.
func NewBreakerRegistry(settings BreakerSettings) *BreakerRegistry {
	def := DefaultBreakerSettings()
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = def.ConsecutiveFailures
	}
	if settings.Cooldown == 0 {
		settings.Cooldown = def.Cooldown
	}
	if settings.HalfOpenMaxRequests == 0 {
		settings.HalfOpenMaxRequests = def.HalfOpenMaxRequests
	}
	return &BreakerRegistry{
		breakers: make(map[string]*gobreaker.CircuitBreaker),
		settings: settings,
	}
}

// breaker returns the provider's breaker, creating it on first use.
func (r *BreakerRegistry) breaker(provider string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[provider]; ok {
		return cb
	}
	threshold := r.settings.ConsecutiveFailures
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        provider,
		MaxRequests: r.settings.HalfOpenMaxRequests,
		Timeout:     r.settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if r.OnStateChange != nil {
				r.OnStateChange(name, from.String(), to.String())
			}
		},
	})
	r.breakers[provider] = cb
	return cb
}

// IsOpen reports whether the provider's breaker is open. Half-open is not
// open: the pool lets probe requests through.
func (r *BreakerRegistry) IsOpen(provider string) bool {
	return r.breaker(provider).State() == gobreaker.StateOpen
}

// recordedFailure is the synthetic error fed to the breaker when a worker
// reports failure.
var recordedFailure = errors.New("provider failure")

// RecordSuccess records a successful provider call.
func (r *BreakerRegistry) RecordSuccess(provider string) {
	// Execute with a nil error walks the breaker's success path. If the
	// breaker is open the call is rejected, which is fine: a success cannot
	// be recorded during open state anyway because the pool skips.
	_, _ = r.breaker(provider).Execute(func() (any, error) { return nil, nil })
}

// RecordFailure records a failed provider call.
func (r *BreakerRegistry) RecordFailure(provider string) {
	_, _ = r.breaker(provider).Execute(func() (any, error) { return nil, recordedFailure })
}

// State returns the provider breaker state as a string ("closed", "open",
// "half-open").
func (r *BreakerRegistry) State(provider string) string {
	return r.breaker(provider).State().String()
}
