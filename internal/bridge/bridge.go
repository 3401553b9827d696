package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/yourorg/unified-bridge/internal/model"
	tracing "github.com/yourorg/unified-bridge/internal/otel"
	"github.com/yourorg/unified-bridge/internal/protocol"
	"github.com/yourorg/unified-bridge/internal/validation"
)

// StageValidating is always announced before an adapter takes over an attempt
const StageValidating = "validating"

// fallbackCodes are the failures another protocol can plausibly recover from.
// User-input failures are deliberately absent.
var fallbackCodes = mapset.NewSet(
	model.ErrAttestationTimeout,
	model.ErrTransactionTimeout,
	model.ErrNonceConflict,
	model.ErrNetwork,
	model.ErrProtocolUnavailable,
)

// FallbackEligible reports whether a failed result may be retried on another protocol
func FallbackEligible(result model.BridgeResult) bool {
	if result.Success {
		return false
	}
	return result.SuggestFallback || fallbackCodes.Contains(result.ErrorCode)
}

// Bridge executes one transfer. It always returns a structured result: validation
// failures, unavailable protocols and adapter faults are all reported through
// BridgeResult rather than an error. ctx cancellation is forwarded to the adapter.
func (m *Manager) Bridge(ctx context.Context, params model.BridgeParams) model.BridgeResult {
	requestID := uuid.NewString()
	start := m.now()

	ctx, span := tracing.Tracer().Start(ctx, "bridge.Bridge", trace.WithAttributes(
		attribute.String("bridge.request_id", requestID),
		attribute.String("bridge.source_chain", params.SourceChain),
		attribute.String("bridge.destination_chain", params.DestinationChain),
		attribute.String("bridge.protocol", params.Protocol),
	))
	defer span.End()

	log := logrus.WithFields(logrus.Fields{
		"request_id":        requestID,
		"source_chain":      params.SourceChain,
		"destination_chain": params.DestinationChain,
	})

	result := m.bridge(ctx, requestID, params, log)
	result.RequestID = requestID
	result.DurationMs = m.now().Sub(start).Milliseconds()
	result.CompletedAt = m.now().UnixMilli()

	fields := logrus.Fields{
		"protocol":    result.Protocol,
		"attempt":     result.Attempt,
		"duration_ms": result.DurationMs,
	}
	if result.Success {
		log.WithFields(fields).Info("Bridge completed")
	} else {
		fields["error_code"] = result.ErrorCode
		log.WithFields(fields).Warnf("Bridge failed: %s", result.Error)
		tracing.RecordError(ctx, errors.New(result.Error))
	}

	for _, sink := range m.sinks {
		sink.Submit(result)
	}
	return result
}

func (m *Manager) bridge(ctx context.Context, requestID string, params model.BridgeParams, log *logrus.Entry) model.BridgeResult {
	if err := validation.ValidateParamsWithOptions(params, m.validation); err != nil {
		return failure("", err)
	}

	name := params.Protocol
	if params.IsAuto() {
		route, ok := m.selectRoute(ctx, params)
		if !ok {
			return model.FailedResult("", model.ErrUnsupportedRoute,
				fmt.Sprintf("no protocol supports %s -> %s", params.SourceChain, params.DestinationChain))
		}
		name = route.Protocol
		log.WithFields(logrus.Fields{
			"protocol": name,
			"score":    route.Score,
		}).Debug("Selected protocol")
	}

	adapter, err := m.registry.Load(ctx, name)
	if err != nil {
		return model.FailedResult(name, model.ErrProtocolUnavailable, err.Error())
	}
	if !supports(adapter, params) {
		return model.FailedResult(name, model.ErrUnsupportedRoute,
			fmt.Sprintf("%s does not support %s -> %s", name, params.SourceChain, params.DestinationChain))
	}

	primary := m.execute(ctx, requestID, adapter, params, model.AttemptPrimary)
	if primary.Success {
		return primary
	}

	log = log.WithFields(logrus.Fields{"protocol": name, "error_code": primary.ErrorCode})
	switch {
	case !params.FallbackAllowed():
		log.Debug("Fallback disabled by caller")
		return primary
	case ctx.Err() != nil:
		log.Debug("Request cancelled, not falling back")
		return primary
	case !FallbackEligible(primary):
		log.Debug("Failure is not fallback-eligible")
		return primary
	}

	return m.fallback(ctx, requestID, params, primary, log)
}

// fallback runs the single permitted retry on the best remaining protocol
func (m *Manager) fallback(ctx context.Context, requestID string, params model.BridgeParams, primary model.BridgeResult, log *logrus.Entry) model.BridgeResult {
	failed := primary.Protocol

	next := m.fallbackProtocol(ctx, params, failed)
	if next == "" {
		result := model.FailedResult(failed, model.ErrProtocolUnavailable,
			fmt.Sprintf("no fallback protocol available for %s -> %s after %s failed: %s",
				params.SourceChain, params.DestinationChain, failed, primary.Error))
		result.Attempt = model.AttemptPrimary
		result.PrimaryProtocol = failed
		return result
	}

	log.WithField("fallback_protocol", next).Info("Falling back to next-best protocol")
	m.metrics.ObserveFallback(failed, next, primary.ErrorCode)

	var result model.BridgeResult
	adapter, err := m.registry.Load(ctx, next)
	if err != nil {
		result = model.FailedResult(next, model.ErrProtocolUnavailable, err.Error())
		result.Attempt = model.AttemptFallback
	} else {
		result = m.execute(ctx, requestID, adapter, params, model.AttemptFallback)
	}
	result.PrimaryProtocol = failed
	result.FallbackReason = primary.Error
	return result
}

// fallbackProtocol returns the best supporting protocol other than failed. Protocols
// that are configured but not yet loaded are considered when no loaded one qualifies.
func (m *Manager) fallbackProtocol(ctx context.Context, params model.BridgeParams, failed string) string {
	next := firstOther(m.GetSuggestedRoutes(ctx, params), failed)
	if next == "" && len(m.registry.Names()) > len(m.registry.Loaded()) {
		next = firstOther(m.EstimateAllRoutes(ctx, params), failed)
	}
	return next
}

func firstOther(routes []model.BridgeRoute, exclude string) string {
	for _, route := range routes {
		if route.Protocol != exclude {
			return route.Protocol
		}
	}
	return ""
}

// execute runs one attempt on adapter and records its outcome in the health tracker
func (m *Manager) execute(ctx context.Context, requestID string, adapter protocol.Adapter, params model.BridgeParams, role model.AttemptRole) model.BridgeResult {
	name := adapter.Name()
	ctx, span := tracing.Tracer().Start(ctx, "bridge.attempt", trace.WithAttributes(
		attribute.String("bridge.protocol", name),
		attribute.String("bridge.attempt", string(role)),
	))
	defer span.End()

	report := m.reporter(requestID, name, role, params.Status)
	report(StageValidating, map[string]string{"protocol": name, "attempt": string(role)})

	start := m.now()
	result := invoke(ctx, adapter, params, report)
	elapsed := m.now().Sub(start)

	result.Protocol = name
	result.Attempt = role
	if result.Success {
		if result.Status == "" {
			result.Status = model.StatusCompleted
		}
	} else {
		result.Status = model.StatusFailed
		if result.ErrorCode == "" {
			result.ErrorCode = model.ErrUnknown
		}
		if result.Error == "" {
			result.Error = fmt.Sprintf("%s bridge failed", name)
		}
	}

	// a caller abandoning the transfer says nothing about the protocol
	if !errors.Is(ctx.Err(), context.Canceled) {
		h := m.health.UpdateHealth(name, result.Success, elapsed)
		m.metrics.ObserveHealth(h)
	}
	m.metrics.ObserveAttempt(name, role, result.Success, result.ErrorCode, elapsed)

	entry := logrus.WithFields(logrus.Fields{
		"request_id": requestID,
		"protocol":   name,
		"attempt":    role,
		"elapsed_ms": elapsed.Milliseconds(),
	})
	if result.Success {
		entry.Info("Bridge attempt succeeded")
	} else {
		entry.WithField("error_code", result.ErrorCode).Warnf("Bridge attempt failed: %s", result.Error)
		tracing.RecordError(ctx, errors.New(result.Error))
	}
	return result
}

// invoke calls the adapter, converting returned errors and panics into failed results
func invoke(ctx context.Context, adapter protocol.Adapter, params model.BridgeParams, report model.StatusReporter) (result model.BridgeResult) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("protocol", adapter.Name()).Errorf("Adapter panicked: %v", r)
			result = model.FailedResult(adapter.Name(), model.ErrUnknown, fmt.Sprintf("adapter panicked: %v", r))
		}
	}()

	result, err := adapter.Bridge(ctx, params, report)
	if err != nil {
		return failure(adapter.Name(), err)
	}
	return result
}

// failure converts an error into a failed result, classifying untyped errors
func failure(protocolName string, err error) model.BridgeResult {
	result := model.FailedResult(protocolName, classify(err), err.Error())
	var be *model.BridgeError
	if errors.As(err, &be) && be.Protocol != "" && protocolName == "" {
		result.Protocol = be.Protocol
	}
	return result
}

func classify(err error) model.ErrorCode {
	var be *model.BridgeError
	if errors.As(err, &be) {
		return be.Code
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.ErrTransactionTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return model.ErrNetwork
	}
	return model.ErrUnknown
}

// reporter forwards adapter stages to the caller's channel without ever blocking.
// Updates are dropped when the channel is full or absent.
func (m *Manager) reporter(requestID, name string, role model.AttemptRole, sink chan<- model.StatusUpdate) model.StatusReporter {
	return func(stage string, details map[string]string) {
		if sink == nil {
			return
		}
		update := model.NewStatusUpdate(requestID, stage, name, role, details)
		select {
		case sink <- update:
		default:
			logrus.WithFields(logrus.Fields{
				"request_id": requestID,
				"protocol":   name,
				"stage":      stage,
			}).Debug("Status channel full, dropping update")
		}
	}
}
