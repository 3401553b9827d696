package bridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/yourorg/unified-bridge/internal/model"
	"github.com/yourorg/unified-bridge/internal/protocol"
	"github.com/yourorg/unified-bridge/internal/scoring"
)

// GetSuggestedRoutes quotes every loaded protocol supporting the requested chain pair.
// Protocols are queried concurrently; one whose estimate fails is omitted. Routes are
// ordered by success rate, then speed, and the first is flagged recommended.
func (m *Manager) GetSuggestedRoutes(ctx context.Context, params model.BridgeParams) []model.BridgeRoute {
	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		routes = make([]model.BridgeRoute, 0)
	)

	for _, a := range m.registry.Loaded() {
		if !supports(a, params) {
			continue
		}
		wg.Add(1)
		go func(a protocol.Adapter) {
			defer wg.Done()
			route, err := m.routeFor(ctx, a, params)
			if err != nil {
				logrus.WithField("protocol", a.Name()).WithError(err).Warn("Route estimate failed, omitting protocol")
				return
			}
			mu.Lock()
			routes = append(routes, route)
			mu.Unlock()
		}(a)
	}
	wg.Wait()

	for i := range routes {
		routes[i].Score = m.scorer.Score(routes[i], params)
	}
	scoring.SortRoutes(routes)
	if len(routes) > 0 {
		routes[0].Reason = fmt.Sprintf("highest success rate (%.0f%%), fastest among comparable protocols", routes[0].SuccessRate*100)
	}
	return routes
}

// EstimateAllRoutes loads every known protocol before suggesting routes, for callers
// comparing all options rather than only those already in use
func (m *Manager) EstimateAllRoutes(ctx context.Context, params model.BridgeParams) []model.BridgeRoute {
	m.registry.Preload(ctx, m.registry.Names())
	return m.GetSuggestedRoutes(ctx, params)
}

// routeFor fetches the estimate and the health of one protocol concurrently
func (m *Manager) routeFor(ctx context.Context, a protocol.Adapter, params model.BridgeParams) (model.BridgeRoute, error) {
	var (
		estimate model.BridgeEstimate
		h        model.ProtocolHealth
	)

	// the health refresh must not be cancelled by a failing estimate
	var g errgroup.Group
	g.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("estimate panicked: %v", r)
			}
		}()
		estimate, err = a.Estimate(ctx, params)
		return err
	})
	g.Go(func() error {
		h = m.health.GetHealth(ctx, a.Name())
		return nil
	})
	if err := g.Wait(); err != nil {
		return model.BridgeRoute{}, err
	}

	return model.BridgeRoute{
		Protocol:            a.Name(),
		EstimatedTimeMs:     estimate.TimeEstimateMs,
		EstimatedFee:        estimate.FeeEstimate,
		SuccessRate:         h.SuccessRate,
		ConsecutiveFailures: h.ConsecutiveFailures,
	}, nil
}

// selectRoute scores the suggested routes and returns the best one. When no loaded
// protocol serves the pair, every known protocol is loaded and the routes re-derived.
func (m *Manager) selectRoute(ctx context.Context, params model.BridgeParams) (model.BridgeRoute, bool) {
	routes := m.GetSuggestedRoutes(ctx, params)
	if len(routes) == 0 && len(m.registry.Names()) > len(m.registry.Loaded()) {
		routes = m.EstimateAllRoutes(ctx, params)
	}
	return m.scorer.Best(routes, params)
}

func supports(a protocol.Adapter, params model.BridgeParams) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			logrus.WithField("protocol", a.Name()).Warnf("Supports panicked: %v", r)
			ok = false
		}
	}()
	return a.Supports(params.SourceChain, params.DestinationChain)
}
