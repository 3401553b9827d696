// Package validation rejects malformed bridge requests before any protocol is contacted.
package validation

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/yourorg/unified-bridge/internal/model"
	"github.com/yourorg/unified-bridge/internal/types"
)

// ValidationOptions holds configuration for request validation
type ValidationOptions struct {
	// StrictAddresses checks address formats for chain families we know, such as
	// 20-byte hex addresses on EVM chains
	StrictAddresses bool

	// MaxAmount rejects amounts above this value when positive
	MaxAmount decimal.Decimal
}

// DefaultValidationOptions returns sensible defaults for validation
func DefaultValidationOptions() ValidationOptions {
	return ValidationOptions{
		StrictAddresses: true,
	}
}

// ValidateParams checks params with default options
func ValidateParams(p model.BridgeParams) error {
	return ValidateParamsWithOptions(p, DefaultValidationOptions())
}

// ValidateParamsWithOptions returns a *model.BridgeError describing the first violation
func ValidateParamsWithOptions(p model.BridgeParams, opts ValidationOptions) error {
	if err := validate(p, opts); err != nil {
		logrus.WithFields(logrus.Fields{
			"source_chain":      p.SourceChain,
			"destination_chain": p.DestinationChain,
			"amount":            p.Amount,
		}).WithError(err).Debug("Rejected bridge request")
		return err
	}
	return nil
}

func validate(p model.BridgeParams, opts ValidationOptions) error {
	if strings.TrimSpace(p.SourceChain) == "" || strings.TrimSpace(p.DestinationChain) == "" {
		return model.NewBridgeError(model.ErrInvalidRequest, "", "source and destination chains are required")
	}
	if types.Normalize(p.SourceChain) == types.Normalize(p.DestinationChain) {
		return model.NewBridgeError(model.ErrInvalidRequest, "", "source and destination chains must differ")
	}
	if strings.TrimSpace(p.SourceToken) == "" || strings.TrimSpace(p.DestinationToken) == "" {
		return model.NewBridgeError(model.ErrInvalidRequest, "", "source and destination tokens are required")
	}

	amount, err := decimal.NewFromString(strings.TrimSpace(p.Amount))
	if err != nil {
		return model.NewBridgeError(model.ErrInvalidRequest, "", "amount %q is not a decimal number", p.Amount)
	}
	if !amount.IsPositive() {
		return model.NewBridgeError(model.ErrInvalidRequest, "", "amount must be positive, got %s", amount.String())
	}
	if opts.MaxAmount.IsPositive() && amount.GreaterThan(opts.MaxAmount) {
		return model.NewBridgeError(model.ErrInvalidRequest, "", "amount %s exceeds maximum %s", amount.String(), opts.MaxAmount.String())
	}

	if err := checkAddress("source", p.SourceChain, p.SourceAddress, opts); err != nil {
		return err
	}
	return checkAddress("destination", p.DestinationChain, p.DestinationAddress, opts)
}

func checkAddress(side, chain, address string, opts ValidationOptions) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return model.NewBridgeError(model.ErrInvalidAddress, "", "%s address is required", side)
	}
	if !opts.StrictAddresses {
		return nil
	}
	if types.Normalize(chain).IsEVM() && !common.IsHexAddress(address) {
		return model.NewBridgeError(model.ErrInvalidAddress, "", "%s address %s is not a valid %s address", side, address, chain)
	}
	return nil
}

// IsInvalidRequest reports whether err came from request validation
func IsInvalidRequest(err error) bool {
	code := model.CodeOf(err)
	return code == model.ErrInvalidRequest || code == model.ErrInvalidAddress
}

// Describe renders a violation for logs and API responses
func Describe(err error) string {
	return fmt.Sprintf("invalid bridge request: %v", err)
}
