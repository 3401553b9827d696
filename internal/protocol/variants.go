package protocol

import (
	"fmt"
	"time"

	"github.com/yourorg/unified-bridge/internal/model"
	"github.com/yourorg/unified-bridge/internal/types"
)

// Default chain coverage per protocol family, used when the catalog lists none
var defaultChains = map[Kind][]types.SupportedChain{
	KindCCTP: {
		types.ChainEthereum, types.ChainArbitrum, types.ChainBase, types.ChainOptimism,
		types.ChainPolygon, types.ChainAvalanche, types.ChainSolana,
	},
	KindWormhole: {
		types.ChainEthereum, types.ChainArbitrum, types.ChainBase, types.ChainOptimism,
		types.ChainPolygon, types.ChainAvalanche, types.ChainBSC, types.ChainSolana,
	},
	KindIntents: {
		types.ChainNear, types.ChainEthereum, types.ChainArbitrum, types.ChainBase,
		types.ChainSolana, types.ChainBitcoin, types.ChainStellar,
	},
	KindChainSignatures: {
		types.ChainNear, types.ChainEthereum, types.ChainBase, types.ChainArbitrum, types.ChainBitcoin,
	},
}

// DefaultChains returns the built-in chain coverage for a protocol family
func DefaultChains(kind Kind) []string {
	chains := defaultChains[kind]
	out := make([]string, 0, len(chains))
	for _, c := range chains {
		out = append(out, string(c))
	}
	return out
}

// NewCCTPAdapter creates an attestation-based burn/mint adapter. Transfers wait on an
// off-chain attestation, so a stalled attestation is reported as ATTESTATION_TIMEOUT.
func NewCCTPAdapter(opts Options) (*HTTPAdapter, error) {
	opts.Kind = KindCCTP
	if opts.TimeoutCode == "" {
		opts.TimeoutCode = model.ErrAttestationTimeout
	}
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = 30 * time.Minute
	}
	return newVariant(opts)
}

// NewWormholeAdapter creates a guardian-signed message relay adapter
func NewWormholeAdapter(opts Options) (*HTTPAdapter, error) {
	opts.Kind = KindWormhole
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = 25 * time.Minute
	}
	return newVariant(opts)
}

// NewIntentsAdapter creates a solver/intent matching adapter
func NewIntentsAdapter(opts Options) (*HTTPAdapter, error) {
	opts.Kind = KindIntents
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = 10 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	return newVariant(opts)
}

// NewChainSignaturesAdapter creates an MPC chain-signature adapter
func NewChainSignaturesAdapter(opts Options) (*HTTPAdapter, error) {
	opts.Kind = KindChainSignatures
	if opts.TransferTimeout <= 0 {
		opts.TransferTimeout = 20 * time.Minute
	}
	return newVariant(opts)
}

// New creates an adapter for the given family
func New(kind Kind, opts Options) (*HTTPAdapter, error) {
	switch kind {
	case KindCCTP:
		return NewCCTPAdapter(opts)
	case KindWormhole:
		return NewWormholeAdapter(opts)
	case KindIntents:
		return NewIntentsAdapter(opts)
	case KindChainSignatures:
		return NewChainSignaturesAdapter(opts)
	default:
		return nil, fmt.Errorf("unknown protocol kind %q", kind)
	}
}

func newVariant(opts Options) (*HTTPAdapter, error) {
	if len(opts.Chains) == 0 {
		opts.Chains = DefaultChains(opts.Kind)
	}
	return NewHTTPAdapter(opts)
}
