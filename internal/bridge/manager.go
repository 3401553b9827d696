// Package bridge orchestrates cross-chain transfers across pluggable protocol adapters:
// it validates requests, picks a protocol, executes it with status reporting and falls
// back once to the next-best protocol on retryable failures.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/unified-bridge/internal/aggregate"
	"github.com/yourorg/unified-bridge/internal/health"
	"github.com/yourorg/unified-bridge/internal/model"
	"github.com/yourorg/unified-bridge/internal/registry"
	"github.com/yourorg/unified-bridge/internal/scoring"
	"github.com/yourorg/unified-bridge/internal/validation"
)

// MetricsRecorder receives per-attempt observations
type MetricsRecorder interface {
	ObserveAttempt(protocol string, attempt model.AttemptRole, success bool, code model.ErrorCode, duration time.Duration)
	ObserveFallback(from, to string, code model.ErrorCode)
	ObserveHealth(h model.ProtocolHealth)
}

// ResultSink receives every terminal BridgeResult. Submit must not block.
type ResultSink interface {
	Submit(result model.BridgeResult)
}

type noopMetrics struct{}

func (noopMetrics) ObserveAttempt(string, model.AttemptRole, bool, model.ErrorCode, time.Duration) {}
func (noopMetrics) ObserveFallback(string, string, model.ErrorCode) {}
func (noopMetrics) ObserveHealth(model.ProtocolHealth) {}

// Manager is the unified bridge manager. It owns the health tracker and shares the
// registry's load cache; it is safe for concurrent use and never serializes unrelated
// Bridge calls.
type Manager struct {
	registry   *registry.Registry
	health     *health.Tracker
	scorer     *scoring.Scorer
	validation validation.ValidationOptions

	metrics MetricsRecorder
	sinks   []ResultSink
	now     func() time.Time
}

// New creates a manager over reg with default scoring and validation
func New(reg *registry.Registry) *Manager {
	return &Manager{
		registry:   reg,
		health:     health.NewTracker(reg.Get),
		scorer:     scoring.New(),
		validation: validation.DefaultValidationOptions(),
		metrics:    noopMetrics{},
		now:        time.Now,
	}
}

// WithHealthTTL sets how long protocol health is cached
func (m *Manager) WithHealthTTL(ttl time.Duration) *Manager {
	m.health.WithTTL(ttl)
	return m
}

// WithScorer replaces the route scorer
func (m *Manager) WithScorer(s *scoring.Scorer) *Manager {
	m.scorer = s
	return m
}

// WithValidation replaces the request validation options
func (m *Manager) WithValidation(opts validation.ValidationOptions) *Manager {
	m.validation = opts
	return m
}

// WithMetrics installs a metrics recorder
func (m *Manager) WithMetrics(r MetricsRecorder) *Manager {
	if r == nil {
		r = noopMetrics{}
	}
	m.metrics = r
	return m
}

// WithResultSink adds a sink for terminal results
func (m *Manager) WithResultSink(s ResultSink) *Manager {
	m.sinks = append(m.sinks, s)
	return m
}

// WithClock replaces the time source of the manager and its health tracker
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	m.health.WithClock(now)
	return m
}

// Registry returns the protocol registry
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Health returns the health tracker
func (m *Manager) Health() *health.Tracker {
	return m.health
}

// GetSystemHealth returns the health of every loaded protocol, sorted by name
func (m *Manager) GetSystemHealth(ctx context.Context) []model.ProtocolHealth {
	adapters := m.registry.Loaded()
	out := make([]model.ProtocolHealth, len(adapters))

	var wg sync.WaitGroup
	for i, a := range adapters {
		wg.Add(1)
		go func(i int, name string) {
			defer wg.Done()
			out[i] = m.health.GetHealth(ctx, name)
		}(i, a.Name())
	}
	wg.Wait()

	for _, h := range out {
		m.metrics.ObserveHealth(h)
	}
	return out
}

// GetPerformanceMetrics aggregates the current system health
func (m *Manager) GetPerformanceMetrics(ctx context.Context) aggregate.PerformanceMetrics {
	return aggregate.Summarize(m.GetSystemHealth(ctx))
}

// GenerateRecommendations derives operator advisories from the current system health
func (m *Manager) GenerateRecommendations(ctx context.Context) []string {
	return aggregate.Recommendations(m.GetSystemHealth(ctx))
}

// PreloadProtocols loads the named protocols ahead of first use. Failures are logged only.
func (m *Manager) PreloadProtocols(ctx context.Context, names []string) {
	logrus.WithField("protocols", names).Info("Preloading protocols")
	m.registry.Preload(ctx, names)
}

// ClearHealthCache drops every cached protocol health entry
func (m *Manager) ClearHealthCache() {
	m.health.Clear()
	logrus.Info("Cleared protocol health cache")
}

// ClearProtocolLoadCache forgets failed protocol loads so they can be retried immediately
func (m *Manager) ClearProtocolLoadCache() {
	m.registry.ClearLoadCache()
	logrus.Info("Cleared protocol load cache")
}
