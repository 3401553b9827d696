// Package registry maps protocol names to adapters and loads adapters lazily on first use.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/yourorg/unified-bridge/internal/circuitbreaker"
	"github.com/yourorg/unified-bridge/internal/protocol"
)

var (
	// ErrProtocolNotFound is returned when no adapter or loader is known for a name
	ErrProtocolNotFound = errors.New("protocol not found")

	// ErrLoadCooldown is returned while a repeatedly failing load is cooling down
	ErrLoadCooldown = errors.New("protocol load cooling down after repeated failures")
)

// Registry holds loaded adapters and the loaders for those not yet loaded.
// Concurrent loads of the same protocol share one in-flight call; failed loads are
// tracked per protocol and short-circuited once they trip the load cache.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]protocol.Adapter
	loaders  map[string]protocol.Loader

	inflight  singleflight.Group
	loadCache *circuitbreaker.CircuitBreaker
}

// New creates an empty registry with the given load-cache thresholds
func New(t circuitbreaker.Thresholds) *Registry {
	return &Registry{
		adapters:  make(map[string]protocol.Adapter),
		loaders:   make(map[string]protocol.Loader),
		loadCache: circuitbreaker.New(t),
	}
}

// LoadCache exposes the failure tracker, mainly for inspection
func (r *Registry) LoadCache() *circuitbreaker.CircuitBreaker {
	return r.loadCache
}

// Register adds or replaces a loaded adapter
func (r *Registry) Register(a protocol.Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[a.Name()] = a
	logrus.WithField("protocol", a.Name()).Info("Registered protocol adapter")
}

// RegisterLoader makes a protocol known without constructing it
func (r *Registry) RegisterLoader(name string, loader protocol.Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[name] = loader
	logrus.WithField("protocol", name).Debug("Registered lazy protocol loader")
}

// Get returns an already loaded adapter without triggering a load
func (r *Registry) Get(name string) (protocol.Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Load returns the adapter for name, constructing it on first use
func (r *Registry) Load(ctx context.Context, name string) (protocol.Adapter, error) {
	if a, ok := r.Get(name); ok {
		return a, nil
	}

	r.mu.RLock()
	loader, known := r.loaders[name]
	r.mu.RUnlock()
	if !known {
		return nil, fmt.Errorf("%s: %w", name, ErrProtocolNotFound)
	}

	if !r.loadCache.Allow(name) {
		logrus.WithField("protocol", name).Debug("Protocol load short-circuited")
		return nil, fmt.Errorf("%s: %w", name, ErrLoadCooldown)
	}

	v, err, shared := r.inflight.Do(name, func() (interface{}, error) {
		// a concurrent caller may have finished loading while we waited
		if a, ok := r.Get(name); ok {
			return a, nil
		}

		// the load is shared, so one caller's cancellation must not fail the others
		a, err := loader(context.WithoutCancel(ctx))
		if err == nil && a == nil {
			err = errors.New("loader returned no adapter")
		}
		if err != nil {
			attempts := r.loadCache.RecordFailure(name)
			logrus.WithFields(logrus.Fields{
				"protocol": name,
				"attempts": attempts,
			}).WithError(err).Warn("Failed to load protocol adapter")
			return nil, fmt.Errorf("loading %s: %w", name, err)
		}

		r.loadCache.RecordSuccess(name)
		r.Register(a)
		return a, nil
	})
	if err != nil {
		return nil, err
	}
	if shared {
		logrus.WithField("protocol", name).Debug("Joined in-flight protocol load")
	}
	return v.(protocol.Adapter), nil
}

// Preload eagerly loads the named protocols. Individual failures are logged, not returned.
func (r *Registry) Preload(ctx context.Context, names []string) {
	var wg sync.WaitGroup
	for _, name := range names {
		wg.Add(1)
		go func(name string) {
			defer wg.Done()
			if _, err := r.Load(ctx, name); err != nil {
				logrus.WithField("protocol", name).WithError(err).Warn("Protocol preload failed")
			}
		}(name)
	}
	wg.Wait()
}

// ClearLoadCache forgets every failed load attempt and in-flight memo
func (r *Registry) ClearLoadCache() {
	r.loadCache.Reset()
	r.mu.RLock()
	for name := range r.loaders {
		r.inflight.Forget(name)
	}
	r.mu.RUnlock()
}

// Loaded returns every loaded adapter sorted by name
func (r *Registry) Loaded() []protocol.Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]protocol.Adapter, 0, len(r.adapters))
	for _, a := range r.adapters {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Names returns every known protocol name, loaded or not, sorted
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{}, len(r.adapters)+len(r.loaders))
	for name := range r.adapters {
		seen[name] = struct{}{}
	}
	for name := range r.loaders {
		seen[name] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
