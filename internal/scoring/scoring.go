// Package scoring ranks candidate protocols for a route from health, speed and cost.
package scoring

import (
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/yourorg/unified-bridge/internal/model"
)

// Weights and normalisation bounds of the route score
const (
	HealthWeight      = 40.0
	SpeedWeight       = 30.0
	CostWeight        = 20.0
	ConsistencyWeight = 10.0

	// SlowestTimeMs is treated as the slowest meaningful transfer (30 minutes)
	SlowestTimeMs = 1_800_000.0

	// CostliestFee is treated as the costliest meaningful fee ($5)
	CostliestFee = 5.0

	// SuccessRateTieBand treats protocols this close in success rate as tied
	SuccessRateTieBand = 0.1
)

// DefaultLargeTransferThreshold is the amount above which reliability is favoured
var DefaultLargeTransferThreshold = decimal.NewFromInt(1000)

// RouteBonus is a fixed score bonus for a known source-chain/protocol affinity
type RouteBonus struct {
	SourceChain string
	Protocol    string
	Bonus       float64
	Reason      string
}

// DefaultRouteBonuses documents the operational affinities the scorer rewards
var DefaultRouteBonuses = []RouteBonus{
	{SourceChain: "ethereum", Protocol: "cctp", Bonus: 5, Reason: "native burn/mint from the issuing chain"},
	{SourceChain: "solana", Protocol: "wormhole", Bonus: 5, Reason: "guardian network has the deepest Solana liquidity"},
	{SourceChain: "near", Protocol: "near-intents", Bonus: 5, Reason: "solvers settle natively on NEAR"},
	{SourceChain: "bitcoin", Protocol: "chain-signatures", Bonus: 5, Reason: "MPC signing is the only trust-minimised Bitcoin path"},
}

// Scorer computes route scores
type Scorer struct {
	largeThreshold decimal.Decimal
	bonuses        []RouteBonus
}

// New creates a scorer with the default threshold and route bonuses
func New() *Scorer {
	return &Scorer{
		largeThreshold: DefaultLargeTransferThreshold,
		bonuses:        DefaultRouteBonuses,
	}
}

// WithLargeTransferThreshold sets the amount above which scores favour reliability
func (s *Scorer) WithLargeTransferThreshold(threshold decimal.Decimal) *Scorer {
	s.largeThreshold = threshold
	return s
}

// WithRouteBonuses replaces the route affinity table
func (s *Scorer) WithRouteBonuses(bonuses []RouteBonus) *Scorer {
	s.bonuses = bonuses
	return s
}

// Score returns a value in [0,100] for route under params
func (s *Scorer) Score(route model.BridgeRoute, params model.BridgeParams) float64 {
	score := BaseScore(route)

	if params.ParsedAmount().GreaterThan(s.largeThreshold) {
		score = score*0.9 + route.SuccessRate*10
	}

	score += s.Bonus(params.SourceChain, route.Protocol)
	return clamp(score, 0, 100)
}

// BaseScore is the weighted health, speed, cost and consistency sum
func BaseScore(route model.BridgeRoute) float64 {
	health := route.SuccessRate * HealthWeight

	speed := SpeedWeight * (1 - math.Min(1, float64(route.EstimatedTimeMs)/SlowestTimeMs))

	fee := feeValue(route.EstimatedFee)
	cost := CostWeight * (1 - math.Min(1, fee/CostliestFee))

	consistency := ConsistencyWeight
	if route.ConsecutiveFailures >= 2 {
		consistency = ConsistencyWeight / 2
	}

	return health + speed + cost + consistency
}

// Bonus returns the affinity bonus for a source chain and protocol
func (s *Scorer) Bonus(sourceChain, protocol string) float64 {
	for _, b := range s.bonuses {
		if strings.EqualFold(b.SourceChain, sourceChain) && b.Protocol == protocol {
			return b.Bonus
		}
	}
	return 0
}

// Best scores every route and returns the highest; ok is false for an empty slice
func (s *Scorer) Best(routes []model.BridgeRoute, params model.BridgeParams) (model.BridgeRoute, bool) {
	if len(routes) == 0 {
		return model.BridgeRoute{}, false
	}
	best := -1
	bestScore := -1.0
	for i := range routes {
		routes[i].Score = s.Score(routes[i], params)
		if routes[i].Score > bestScore {
			best, bestScore = i, routes[i].Score
		}
	}
	return routes[best], true
}

// SortRoutes orders routes by success rate, treating rates within SuccessRateTieBand
// as equal and breaking ties by estimated time. The first route is flagged recommended.
func SortRoutes(routes []model.BridgeRoute) {
	sort.SliceStable(routes, func(i, j int) bool {
		a, b := routes[i], routes[j]
		if math.Abs(a.SuccessRate-b.SuccessRate) > SuccessRateTieBand {
			return a.SuccessRate > b.SuccessRate
		}
		return a.EstimatedTimeMs < b.EstimatedTimeMs
	})
	for i := range routes {
		routes[i].IsRecommended = i == 0
	}
}

// feeValue parses a fee estimate. Unparseable fees count as the costliest fee.
func feeValue(fee string) float64 {
	d, err := decimal.NewFromString(strings.TrimSpace(fee))
	if err != nil {
		return CostliestFee
	}
	if d.IsNegative() {
		return 0
	}
	return d.InexactFloat64()
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
