package model

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a bridge failure
type ErrorCode string

const (
	ErrInvalidRequest      ErrorCode = "INVALID_REQUEST"
	ErrInvalidAddress      ErrorCode = "INVALID_ADDRESS"
	ErrUnsupportedRoute    ErrorCode = "UNSUPPORTED_ROUTE"
	ErrProtocolUnavailable ErrorCode = "PROTOCOL_UNAVAILABLE"
	ErrAttestationTimeout  ErrorCode = "ATTESTATION_TIMEOUT"
	ErrTransactionTimeout  ErrorCode = "TRANSACTION_TIMEOUT"
	ErrNonceConflict       ErrorCode = "NONCE_CONFLICT"
	ErrNetwork             ErrorCode = "NETWORK_ERROR"
	ErrInsufficientFunds   ErrorCode = "INSUFFICIENT_FUNDS"
	ErrUnknown             ErrorCode = "UNKNOWN"
)

// IsUserInput reports whether the code describes a problem with the caller's request
func (c ErrorCode) IsUserInput() bool {
	switch c {
	case ErrInvalidRequest, ErrInvalidAddress, ErrInsufficientFunds:
		return true
	}
	return false
}

// BridgeError carries an ErrorCode through Go error returns
type BridgeError struct {
	Code     ErrorCode
	Protocol string
	Message  string
	Err      error
}

// NewBridgeError creates a BridgeError without an underlying cause
func NewBridgeError(code ErrorCode, protocol, format string, args ...interface{}) *BridgeError {
	return &BridgeError{Code: code, Protocol: protocol, Message: fmt.Sprintf(format, args...)}
}

// WrapBridgeError attaches a code to an existing error
func WrapBridgeError(code ErrorCode, protocol string, err error) *BridgeError {
	return &BridgeError{Code: code, Protocol: protocol, Message: err.Error(), Err: err}
}

func (e *BridgeError) Error() string {
	if e.Protocol != "" {
		return fmt.Sprintf("%s [%s]: %s", e.Protocol, e.Code, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *BridgeError) Unwrap() error {
	return e.Err
}

// CodeOf extracts the ErrorCode from err, or ErrUnknown
func CodeOf(err error) ErrorCode {
	var be *BridgeError
	if errors.As(err, &be) {
		return be.Code
	}
	return ErrUnknown
}

// FailedResult builds a failed BridgeResult from an error code and message
func FailedResult(protocol string, code ErrorCode, message string) BridgeResult {
	return BridgeResult{
		Success:   false,
		Protocol:  protocol,
		Status:    StatusFailed,
		Error:     message,
		ErrorCode: code,
	}
}
