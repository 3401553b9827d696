// Package model defines the core data structures for the bridge orchestration engine.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AutoProtocol asks the orchestrator to pick the protocol itself
const AutoProtocol = "auto"

// AttemptRole tells a status listener which execution attempt produced an update
type AttemptRole string

const (
	AttemptPrimary  AttemptRole = "primary"
	AttemptFallback AttemptRole = "fallback"
)

// Terminal and intermediate result markers
const (
	StatusCompleted = "completed"
	StatusPending   = "pending"
	StatusFailed    = "failed"
)

// StatusUpdate is a single progress notification delivered to the caller
type StatusUpdate struct {
	RequestID      string            `json:"requestId"`
	Stage          string            `json:"stage"`
	Protocol       string            `json:"protocol"`
	Attempt        AttemptRole       `json:"attempt"`
	DepositAddress string            `json:"depositAddress,omitempty"`
	Details        map[string]string `json:"details,omitempty"`
	Timestamp      int64             `json:"timestamp"`
}

// StatusReporter is handed to adapters so they can announce adapter-defined stages.
// The "depositAddress" detail key is lifted into StatusUpdate.DepositAddress.
type StatusReporter func(stage string, details map[string]string)

// BridgeParams describes one requested cross-chain transfer
type BridgeParams struct {
	SourceChain        string `json:"sourceChain"`
	DestinationChain   string `json:"destinationChain"`
	SourceAddress      string `json:"sourceAddress"`
	DestinationAddress string `json:"destinationAddress"`
	SourceToken        string `json:"sourceToken"`
	DestinationToken   string `json:"destinationToken"`

	// Amount is a decimal string in source-token units
	Amount string `json:"amount"`

	// Protocol is an explicit protocol name, or empty / "auto"
	Protocol string `json:"protocol,omitempty"`

	// AllowFallback defaults to true when nil
	AllowFallback *bool `json:"allowFallback,omitempty"`

	// Status receives progress updates. Sends never block; a full channel drops updates.
	Status chan<- StatusUpdate `json:"-"`
}

// FallbackAllowed reports whether a qualifying failure may be retried on another protocol
func (p BridgeParams) FallbackAllowed() bool {
	return p.AllowFallback == nil || *p.AllowFallback
}

// IsAuto reports whether the caller left protocol selection to the orchestrator
func (p BridgeParams) IsAuto() bool {
	return p.Protocol == "" || p.Protocol == AutoProtocol
}

// ParsedAmount returns the amount as a decimal, zero if it does not parse
func (p BridgeParams) ParsedAmount() decimal.Decimal {
	d, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// BridgeEstimate is a per-request quote from one adapter
type BridgeEstimate struct {
	FeeEstimate    string `json:"feeEstimate"`
	TimeEstimateMs int64  `json:"timeEstimateMs"`
}

// Fee returns the fee estimate as a decimal, zero if it does not parse
func (e BridgeEstimate) Fee() decimal.Decimal {
	d, err := decimal.NewFromString(e.FeeEstimate)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// ProtocolHealth is a protocol's rolling reliability profile
type ProtocolHealth struct {
	Protocol             string  `json:"protocol"`
	SuccessRate          float64 `json:"successRate"`
	AverageTimeMs        int64   `json:"averageTimeMs"`
	ConsecutiveFailures  int     `json:"consecutiveFailures"`
	LastFailureTimestamp int64   `json:"lastFailureTimestamp,omitempty"`
}

// BridgeRoute is a ranked candidate protocol for a requested route
type BridgeRoute struct {
	Protocol            string  `json:"protocol"`
	EstimatedTimeMs     int64   `json:"estimatedTimeMs"`
	EstimatedFee        string  `json:"estimatedFee"`
	SuccessRate         float64 `json:"successRate"`
	ConsecutiveFailures int     `json:"consecutiveFailures"`
	Score               float64 `json:"score,omitempty"`
	IsRecommended       bool    `json:"isRecommended"`
	Reason              string  `json:"reason,omitempty"`
}

// BridgeResult is the structured outcome of a bridge call
type BridgeResult struct {
	RequestID         string      `json:"requestId,omitempty"`
	Success           bool        `json:"success"`
	Protocol          string      `json:"protocol,omitempty"`
	Status            string      `json:"status"`
	Attempt           AttemptRole `json:"attempt,omitempty"`
	PrimaryProtocol   string      `json:"primaryProtocol,omitempty"`
	SourceTxHash      string      `json:"sourceTxHash,omitempty"`
	DestinationTxHash string      `json:"destinationTxHash,omitempty"`
	Error             string      `json:"error,omitempty"`
	ErrorCode         ErrorCode   `json:"errorCode,omitempty"`
	SuggestFallback   bool        `json:"suggestFallback,omitempty"`
	FallbackReason    string      `json:"fallbackReason,omitempty"`
	DurationMs        int64       `json:"durationMs,omitempty"`
	CompletedAt       int64       `json:"completedAt,omitempty"`
}

// NewStatusUpdate stamps a status update with the current time
func NewStatusUpdate(requestID, stage, protocol string, attempt AttemptRole, details map[string]string) StatusUpdate {
	u := StatusUpdate{
		RequestID: requestID,
		Stage:     stage,
		Protocol:  protocol,
		Attempt:   attempt,
		Details:   details,
		Timestamp: time.Now().UnixMilli(),
	}
	if addr, ok := details["depositAddress"]; ok {
		u.DepositAddress = addr
	}
	return u
}
