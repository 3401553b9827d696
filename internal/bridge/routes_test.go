package bridge

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourorg/unified-bridge/internal/circuitbreaker"
	"github.com/yourorg/unified-bridge/internal/model"
	"github.com/yourorg/unified-bridge/internal/protocol"
	"github.com/yourorg/unified-bridge/internal/protocol/protocoltest"
	"github.com/yourorg/unified-bridge/internal/registry"
)

func TestGetSuggestedRoutes(t *testing.T) {
	reliable := protocoltest.New("reliable", "0.50", 300000, 0.98)
	fast := protocoltest.New("fast", "2.00", 60000, 0.90)
	flaky := protocoltest.New("flaky", "0.10", 30000, 0.50)
	broken := protocoltest.New("broken", "0.10", 30000, 0.99)
	broken.EstimateErr = errors.New("quote service down")
	elsewhere := protocoltest.New("elsewhere", "0.10", 30000, 0.99)
	elsewhere.SupportsFunc = func(source, _ string) bool { return source == "solana" }
	m := newManager(t, reliable, fast, flaky, broken, elsewhere)

	routes := m.GetSuggestedRoutes(context.Background(), baseParams())

	require.Len(t, routes, 3)
	// reliable and fast are within the tie band, so the faster one leads
	assert.Equal(t, "fast", routes[0].Protocol)
	assert.Equal(t, "reliable", routes[1].Protocol)
	assert.Equal(t, "flaky", routes[2].Protocol)

	assert.True(t, routes[0].IsRecommended)
	assert.NotEmpty(t, routes[0].Reason)
	assert.False(t, routes[1].IsRecommended)
	assert.False(t, routes[2].IsRecommended)

	assert.InDelta(t, 92.2, routes[1].Score, 1e-6)
	assert.InDelta(t, 87.0, routes[0].Score, 1e-6)
	assert.Equal(t, "0.50", routes[1].EstimatedFee)
	assert.Equal(t, int64(300000), routes[1].EstimatedTimeMs)

	assert.Equal(t, 0, elsewhere.EstimateCalls())
}

func TestGetSuggestedRoutes_SlowProtocolDoesNotBlockOthers(t *testing.T) {
	fast := protocoltest.New("fast", "0.10", 30000, 0.99)
	slow := protocoltest.New("slow", "0.10", 30000, 0.99)
	slow.EstimateErr = context.DeadlineExceeded
	m := newManager(t, fast, slow)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	routes := m.GetSuggestedRoutes(ctx, baseParams())
	require.Len(t, routes, 1)
	assert.Equal(t, "fast", routes[0].Protocol)
}

func TestGetSuggestedRoutes_EstimatePanicOmitsProtocol(t *testing.T) {
	ok := protocoltest.New("ok", "0.10", 30000, 0.99)
	m := newManager(t, ok)
	m.Registry().Register(panickingAdapter{protocoltest.New("boom", "0.10", 30000, 0.99)})

	routes := m.GetSuggestedRoutes(context.Background(), baseParams())
	require.Len(t, routes, 1)
	assert.Equal(t, "ok", routes[0].Protocol)
}

type panickingAdapter struct {
	*protocoltest.Adapter
}

func (panickingAdapter) Estimate(context.Context, model.BridgeParams) (model.BridgeEstimate, error) {
	panic("estimate exploded")
}

func TestEstimateAllRoutes_LoadsEveryProtocol(t *testing.T) {
	reg := registry.New(circuitbreaker.DefaultThresholds())
	var loads int32
	for _, name := range []string{"cctp", "wormhole"} {
		a := protocoltest.New(name, "0.10", 30000, 0.99)
		reg.RegisterLoader(name, func(context.Context) (protocol.Adapter, error) {
			atomic.AddInt32(&loads, 1)
			return a, nil
		})
	}
	m := New(reg)

	assert.Empty(t, m.GetSuggestedRoutes(context.Background(), baseParams()))

	routes := m.EstimateAllRoutes(context.Background(), baseParams())
	assert.Len(t, routes, 2)
	assert.Equal(t, int32(2), atomic.LoadInt32(&loads))
	assert.Len(t, m.Registry().Loaded(), 2)
}

func TestPreloadProtocols(t *testing.T) {
	reg := registry.New(circuitbreaker.DefaultThresholds())
	reg.RegisterLoader("good", func(context.Context) (protocol.Adapter, error) {
		return protocoltest.New("good", "0.10", 30000, 0.99), nil
	})
	reg.RegisterLoader("bad", func(context.Context) (protocol.Adapter, error) {
		return nil, errors.New("missing api key")
	})
	m := New(reg)

	m.PreloadProtocols(context.Background(), []string{"good", "bad", "unknown"})

	loaded := m.Registry().Loaded()
	require.Len(t, loaded, 1)
	assert.Equal(t, "good", loaded[0].Name())
}

// quoteDownAdapter fails its estimate and answers health only once the estimate has
// returned, so a health lookup sharing the estimate's fate would be cancelled.
type quoteDownAdapter struct {
	*protocoltest.Adapter
	estimated chan struct{}
}

func (a *quoteDownAdapter) Estimate(context.Context, model.BridgeParams) (model.BridgeEstimate, error) {
	defer close(a.estimated)
	return model.BridgeEstimate{}, errors.New("quote service down")
}

func (a *quoteDownAdapter) GetHealth(ctx context.Context) (model.ProtocolHealth, error) {
	<-a.estimated
	select {
	case <-ctx.Done():
		return model.ProtocolHealth{}, ctx.Err()
	case <-time.After(50 * time.Millisecond):
		return a.Adapter.GetHealth(ctx)
	}
}

func TestGetSuggestedRoutes_FailedEstimateKeepsReportedHealth(t *testing.T) {
	a := &quoteDownAdapter{
		Adapter:   protocoltest.New("alpha", "0.10", 30000, 0.42),
		estimated: make(chan struct{}),
	}
	reg := registry.New(circuitbreaker.DefaultThresholds())
	reg.Register(a)
	m := New(reg)

	routes := m.GetSuggestedRoutes(context.Background(), baseParams())
	assert.Empty(t, routes)

	h := m.Health().GetHealth(context.Background(), "alpha")
	assert.InDelta(t, 0.42, h.SuccessRate, 1e-9, "The protocol's own health report should be cached, not the default")
	assert.Equal(t, 1, a.HealthCalls())
}
