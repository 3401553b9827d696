// Package protocol defines the contract every bridge protocol adapter implements and
// ships HTTP-backed adapters for the bundled protocol families.
package protocol

import (
	"context"

	"github.com/yourorg/unified-bridge/internal/model"
)

// Adapter is one pluggable bridging mechanism. Implementations must be safe for
// concurrent use and must not change their Name or Supports answers once registered.
type Adapter interface {
	// Name is the unique protocol identifier
	Name() string

	// Supports reports whether the adapter can move value from source to destination
	Supports(source, destination string) bool

	// Estimate quotes fee and duration for a transfer
	Estimate(ctx context.Context, params model.BridgeParams) (model.BridgeEstimate, error)

	// Bridge executes a transfer, reporting intermediate stages through report.
	// A returned error is treated like a failed result with a classified code.
	Bridge(ctx context.Context, params model.BridgeParams, report model.StatusReporter) (model.BridgeResult, error)

	// GetHealth returns the adapter's own view of its health
	GetHealth(ctx context.Context) (model.ProtocolHealth, error)
}

// Loader constructs an adapter on first use
type Loader func(ctx context.Context) (Adapter, error)

// Kind names a protocol family
type Kind string

const (
	KindCCTP            Kind = "cctp"
	KindWormhole        Kind = "wormhole"
	KindIntents         Kind = "intents"
	KindChainSignatures Kind = "chain-signatures"
)
