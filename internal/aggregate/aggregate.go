// Package aggregate condenses per-protocol health into system-wide performance
// metrics and human-readable recommendations.
package aggregate

import (
	"fmt"
	"sort"

	"github.com/yourorg/unified-bridge/internal/model"
)

// SystemStatus is a coarse classification of the whole bridge system
type SystemStatus string

const (
	StatusOptimal  SystemStatus = "optimal"
	StatusGood     SystemStatus = "good"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Thresholds used for classification and recommendations
const (
	OptimalSuccessRate  = 0.95
	GoodSuccessRate     = 0.85
	DegradedSuccessRate = 0.70

	// GoodMaxFailures is the total consecutive-failure budget of a "good" system
	GoodMaxFailures = 5

	// FailingSuccessRate flags a single protocol as failing often
	FailingSuccessRate = 0.8

	// FailingStreak flags a single protocol with a run of failures
	FailingStreak = 3

	// SlowAverageTimeMs flags a consistently slow protocol (15 minutes)
	SlowAverageTimeMs = 900_000
)

// PerformanceMetrics aggregates the health of every registered protocol
type PerformanceMetrics struct {
	ProtocolCount            int          `json:"protocolCount"`
	AverageSuccessRate       float64      `json:"averageSuccessRate"`
	MedianSuccessRate        float64      `json:"medianSuccessRate"`
	TotalConsecutiveFailures int          `json:"totalConsecutiveFailures"`
	AverageTimeMs            float64      `json:"averageTimeMs"`
	SystemStatus             SystemStatus `json:"systemStatus"`
	BestProtocol             string       `json:"bestProtocol,omitempty"`
}

// Mean returns the arithmetic mean of the selected property
func Mean(healths []model.ProtocolHealth, selector func(model.ProtocolHealth) float64) float64 {
	if len(healths) == 0 {
		return 0
	}
	var sum float64
	for _, h := range healths {
		sum += selector(h)
	}
	return sum / float64(len(healths))
}

// Median returns the median of the selected property
func Median(healths []model.ProtocolHealth, selector func(model.ProtocolHealth) float64) float64 {
	if len(healths) == 0 {
		return 0
	}

	values := make([]float64, 0, len(healths))
	for _, h := range healths {
		values = append(values, selector(h))
	}
	sort.Float64s(values)
	n := len(values)

	if n%2 == 0 {
		return (values[n/2-1] + values[n/2]) / 2
	}
	return values[n/2]
}

// Summarize computes PerformanceMetrics from per-protocol health
func Summarize(healths []model.ProtocolHealth) PerformanceMetrics {
	if len(healths) == 0 {
		return PerformanceMetrics{SystemStatus: StatusCritical}
	}

	successRate := func(h model.ProtocolHealth) float64 { return h.SuccessRate }
	m := PerformanceMetrics{
		ProtocolCount:      len(healths),
		AverageSuccessRate: Mean(healths, successRate),
		MedianSuccessRate:  Median(healths, successRate),
		AverageTimeMs:      Mean(healths, func(h model.ProtocolHealth) float64 { return float64(h.AverageTimeMs) }),
	}
	for _, h := range healths {
		m.TotalConsecutiveFailures += h.ConsecutiveFailures
	}
	m.SystemStatus = Classify(m.AverageSuccessRate, m.TotalConsecutiveFailures)
	if best, ok := BestProtocol(healths); ok {
		m.BestProtocol = best.Protocol
	}
	return m
}

// Classify maps aggregate success rate and failure count to a SystemStatus
func Classify(averageSuccessRate float64, totalFailures int) SystemStatus {
	switch {
	case averageSuccessRate >= OptimalSuccessRate && totalFailures == 0:
		return StatusOptimal
	case averageSuccessRate >= GoodSuccessRate && totalFailures < GoodMaxFailures:
		return StatusGood
	case averageSuccessRate >= DegradedSuccessRate:
		return StatusDegraded
	default:
		return StatusCritical
	}
}

// BestProtocol returns the protocol with the highest success rate, breaking ties by
// fewer consecutive failures and then lower average time
func BestProtocol(healths []model.ProtocolHealth) (model.ProtocolHealth, bool) {
	if len(healths) == 0 {
		return model.ProtocolHealth{}, false
	}
	sorted := make([]model.ProtocolHealth, len(healths))
	copy(sorted, healths)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.SuccessRate != b.SuccessRate {
			return a.SuccessRate > b.SuccessRate
		}
		if a.ConsecutiveFailures != b.ConsecutiveFailures {
			return a.ConsecutiveFailures < b.ConsecutiveFailures
		}
		return a.AverageTimeMs < b.AverageTimeMs
	})
	if sorted[0].SuccessRate <= 0 {
		return model.ProtocolHealth{}, false
	}
	return sorted[0], true
}

// Recommendations derives advisories from health data without mutating anything
func Recommendations(healths []model.ProtocolHealth) []string {
	var out []string

	switch len(healths) {
	case 0:
		return []string{"No bridge protocols are available: register at least two protocols"}
	case 1:
		out = append(out, fmt.Sprintf("Only one protocol (%s) is available: add a fallback protocol", healths[0].Protocol))
	}

	for _, h := range healths {
		if h.SuccessRate < FailingSuccessRate {
			out = append(out, fmt.Sprintf("Protocol %s is failing often (success rate %.0f%%): consider disabling it or routing around it",
				h.Protocol, h.SuccessRate*100))
		}
		if h.ConsecutiveFailures >= FailingStreak {
			out = append(out, fmt.Sprintf("Protocol %s has %d consecutive failures: check its API and dependencies",
				h.Protocol, h.ConsecutiveFailures))
		}
		if h.AverageTimeMs > SlowAverageTimeMs {
			out = append(out, fmt.Sprintf("Protocol %s is consistently slow (average %.1f minutes): prefer faster protocols for urgent transfers",
				h.Protocol, float64(h.AverageTimeMs)/60000))
		}
	}

	if Summarize(healths).SystemStatus == StatusCritical {
		out = append(out, "System health is critical: pause large transfers until protocols recover")
	}
	return out
}
