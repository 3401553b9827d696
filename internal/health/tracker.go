// Package health keeps a time-windowed view of each protocol's reliability and updates
// it with an exponential moving average after every bridge attempt.
package health

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/yourorg/unified-bridge/internal/model"
	"github.com/yourorg/unified-bridge/internal/protocol"
)

const (
	// DefaultTTL is how long a cached health entry is served before refreshing
	DefaultTTL = 60 * time.Second

	// Alpha is the EMA smoothing factor
	Alpha = 0.2

	// OptimisticSuccessRate seeds protocols that have no history yet
	OptimisticSuccessRate = 0.95

	// MissingFailures marks an adapter that is not registered at all
	MissingFailures = 999
)

// AdapterLookup resolves a loaded adapter by name
type AdapterLookup func(name string) (protocol.Adapter, bool)

type entry struct {
	mu        sync.Mutex
	health    model.ProtocolHealth
	fetchedAt time.Time
	valid     bool
}

// Tracker caches ProtocolHealth per protocol. Each protocol has its own lock, so
// updates to different protocols never block each other.
type Tracker struct {
	lookup  AdapterLookup
	ttl     time.Duration
	entries sync.Map // string -> *entry
	now     func() time.Time
}

// NewTracker creates a tracker refreshing expired entries through lookup
func NewTracker(lookup AdapterLookup) *Tracker {
	return &Tracker{
		lookup: lookup,
		ttl:    DefaultTTL,
		now:    time.Now,
	}
}

// WithTTL overrides the cache time-to-live
func (t *Tracker) WithTTL(ttl time.Duration) *Tracker {
	t.ttl = ttl
	return t
}

// WithClock replaces the time source
func (t *Tracker) WithClock(now func() time.Time) *Tracker {
	t.now = now
	return t
}

// DefaultHealth is the optimistic profile for a protocol without history
func DefaultHealth(name string) model.ProtocolHealth {
	return model.ProtocolHealth{Protocol: name, SuccessRate: OptimisticSuccessRate}
}

// UnavailableHealth is the profile of an adapter that is not registered
func UnavailableHealth(name string) model.ProtocolHealth {
	return model.ProtocolHealth{Protocol: name, SuccessRate: 0, ConsecutiveFailures: MissingFailures}
}

func (t *Tracker) entryFor(name string) *entry {
	v, _ := t.entries.LoadOrStore(name, &entry{})
	return v.(*entry)
}

// GetHealth returns the cached health for name, refreshing it from the adapter once the
// TTL has elapsed. A protocol without a registered adapter is reported maximally unhealthy.
func (t *Tracker) GetHealth(ctx context.Context, name string) model.ProtocolHealth {
	e := t.entryFor(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.valid && t.now().Sub(e.fetchedAt) < t.ttl {
		return e.health
	}

	adapter, ok := t.lookup(name)
	if !ok {
		return UnavailableHealth(name)
	}

	h, err := adapter.GetHealth(ctx)
	if err != nil {
		logrus.WithField("protocol", name).WithError(err).Warn("Protocol health check failed")
		if !e.valid {
			h = DefaultHealth(name)
		} else {
			h = e.health
		}
	}
	h.Protocol = name
	h.SuccessRate = clamp01(h.SuccessRate)
	if h.ConsecutiveFailures < 0 {
		h.ConsecutiveFailures = 0
	}

	e.health = h
	e.fetchedAt = t.now()
	e.valid = true
	return h
}

// UpdateHealth applies the outcome of one bridge attempt. duration feeds the average
// time EMA on success and is ignored when zero.
func (t *Tracker) UpdateHealth(name string, success bool, duration time.Duration) model.ProtocolHealth {
	e := t.entryFor(name)
	e.mu.Lock()
	defer e.mu.Unlock()

	h := e.health
	if !e.valid {
		h = DefaultHealth(name)
	}

	if success {
		h.SuccessRate = h.SuccessRate + Alpha*(1-h.SuccessRate)
		h.ConsecutiveFailures = 0
		if ms := duration.Milliseconds(); ms > 0 {
			if h.AverageTimeMs == 0 {
				h.AverageTimeMs = ms
			} else {
				h.AverageTimeMs = int64(float64(h.AverageTimeMs) + Alpha*float64(ms-h.AverageTimeMs))
			}
		}
	} else {
		h.SuccessRate = h.SuccessRate * (1 - Alpha)
		h.ConsecutiveFailures++
		h.LastFailureTimestamp = t.now().UnixMilli()
	}
	h.SuccessRate = clamp01(h.SuccessRate)

	e.health = h
	e.fetchedAt = t.now()
	e.valid = true

	logrus.WithFields(logrus.Fields{
		"protocol":             name,
		"success":              success,
		"success_rate":         h.SuccessRate,
		"consecutive_failures": h.ConsecutiveFailures,
	}).Debug("Updated protocol health")
	return h
}

// Snapshot returns every cached entry without refreshing, sorted by protocol
func (t *Tracker) Snapshot() []model.ProtocolHealth {
	var out []model.ProtocolHealth
	t.entries.Range(func(_, v interface{}) bool {
		e := v.(*entry)
		e.mu.Lock()
		if e.valid {
			out = append(out, e.health)
		}
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Protocol < out[j].Protocol })
	return out
}

// Clear drops every cached entry
func (t *Tracker) Clear() {
	t.entries.Range(func(k, _ interface{}) bool {
		t.entries.Delete(k)
		return true
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
