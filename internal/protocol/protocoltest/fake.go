// Package protocoltest provides a scriptable in-memory protocol adapter for tests.
package protocoltest

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yourorg/unified-bridge/internal/model"
)

// Adapter is a configurable protocol.Adapter. Zero values behave as a healthy,
// always-successful protocol supporting every route.
type Adapter struct {
	ProtocolName string

	// SupportsFunc overrides route support; nil supports every distinct pair
	SupportsFunc func(source, destination string) bool

	Quote       model.BridgeEstimate
	EstimateErr error

	Health    model.ProtocolHealth
	HealthErr error

	// BridgeFunc overrides execution; nil returns a completed result
	BridgeFunc func(ctx context.Context, params model.BridgeParams, report model.StatusReporter) (model.BridgeResult, error)

	// Stages are reported in order before BridgeFunc runs
	Stages []string

	estimateCalls int32
	bridgeCalls   int32
	healthCalls   int32

	mu     sync.Mutex
	params []model.BridgeParams
}

// New creates a fake adapter with the given name, fee and time estimate
func New(name, fee string, timeMs int64, successRate float64) *Adapter {
	return &Adapter{
		ProtocolName: name,
		Quote:        model.BridgeEstimate{FeeEstimate: fee, TimeEstimateMs: timeMs},
		Health:       model.ProtocolHealth{Protocol: name, SuccessRate: successRate, AverageTimeMs: timeMs},
	}
}

// Failing makes every bridge attempt fail with code
func (a *Adapter) Failing(code model.ErrorCode) *Adapter {
	a.BridgeFunc = func(context.Context, model.BridgeParams, model.StatusReporter) (model.BridgeResult, error) {
		return model.BridgeResult{
			Protocol:  a.ProtocolName,
			Status:    model.StatusFailed,
			Error:     string(code) + " from " + a.ProtocolName,
			ErrorCode: code,
		}, nil
	}
	return a
}

func (a *Adapter) Name() string { return a.ProtocolName }

func (a *Adapter) Supports(source, destination string) bool {
	if a.SupportsFunc != nil {
		return a.SupportsFunc(source, destination)
	}
	return source != destination
}

func (a *Adapter) Estimate(ctx context.Context, _ model.BridgeParams) (model.BridgeEstimate, error) {
	atomic.AddInt32(&a.estimateCalls, 1)
	if a.EstimateErr != nil {
		return model.BridgeEstimate{}, a.EstimateErr
	}
	return a.Quote, nil
}

func (a *Adapter) Bridge(ctx context.Context, params model.BridgeParams, report model.StatusReporter) (model.BridgeResult, error) {
	atomic.AddInt32(&a.bridgeCalls, 1)
	a.mu.Lock()
	a.params = append(a.params, params)
	a.mu.Unlock()

	for _, stage := range a.Stages {
		report(stage, map[string]string{"adapter": a.ProtocolName})
	}
	if a.BridgeFunc != nil {
		return a.BridgeFunc(ctx, params, report)
	}
	return model.BridgeResult{
		Success:           true,
		Protocol:          a.ProtocolName,
		Status:            model.StatusCompleted,
		SourceTxHash:      "0xsource-" + a.ProtocolName,
		DestinationTxHash: "0xdest-" + a.ProtocolName,
	}, nil
}

func (a *Adapter) GetHealth(context.Context) (model.ProtocolHealth, error) {
	atomic.AddInt32(&a.healthCalls, 1)
	if a.HealthErr != nil {
		return model.ProtocolHealth{}, a.HealthErr
	}
	h := a.Health
	h.Protocol = a.ProtocolName
	return h, nil
}

// BridgeCalls returns how many times Bridge ran
func (a *Adapter) BridgeCalls() int { return int(atomic.LoadInt32(&a.bridgeCalls)) }

// EstimateCalls returns how many times Estimate ran
func (a *Adapter) EstimateCalls() int { return int(atomic.LoadInt32(&a.estimateCalls)) }

// HealthCalls returns how many times GetHealth ran
func (a *Adapter) HealthCalls() int { return int(atomic.LoadInt32(&a.healthCalls)) }
