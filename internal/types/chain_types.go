// Package types contains shared type definitions used across multiple packages
package types

import "strings"

// SupportedChain represents a blockchain network a bridge protocol can move value between
type SupportedChain string

// Known blockchain networks. Chain identifiers stay opaque strings; these are the
// ones the bundled protocol catalog knows about.
const (
	ChainEthereum  SupportedChain = "ethereum"
	ChainPolygon   SupportedChain = "polygon"
	ChainArbitrum  SupportedChain = "arbitrum"
	ChainOptimism  SupportedChain = "optimism"
	ChainAvalanche SupportedChain = "avalanche"
	ChainBSC       SupportedChain = "binance"
	ChainBase      SupportedChain = "base"
	ChainSolana    SupportedChain = "solana"
	ChainNear      SupportedChain = "near"
	ChainBitcoin   SupportedChain = "bitcoin"
	ChainStellar   SupportedChain = "stellar"
)

// ChainFamily groups chains sharing an address format
type ChainFamily string

const (
	FamilyEVM     ChainFamily = "evm"
	FamilySolana  ChainFamily = "solana"
	FamilyNear    ChainFamily = "near"
	FamilyBitcoin ChainFamily = "bitcoin"
	FamilyOther   ChainFamily = "other"
)

var evmChains = map[SupportedChain]bool{
	ChainEthereum:  true,
	ChainPolygon:   true,
	ChainArbitrum:  true,
	ChainOptimism:  true,
	ChainAvalanche: true,
	ChainBSC:       true,
	ChainBase:      true,
}

// Normalize lower-cases and trims a chain identifier
func Normalize(chain string) SupportedChain {
	return SupportedChain(strings.ToLower(strings.TrimSpace(chain)))
}

// Family returns the address family of the chain
func (c SupportedChain) Family() ChainFamily {
	switch {
	case evmChains[c]:
		return FamilyEVM
	case c == ChainSolana:
		return FamilySolana
	case c == ChainNear:
		return FamilyNear
	case c == ChainBitcoin:
		return FamilyBitcoin
	default:
		return FamilyOther
	}
}

// IsEVM reports whether the chain uses 20-byte hex addresses
func (c SupportedChain) IsEVM() bool {
	return c.Family() == FamilyEVM
}
