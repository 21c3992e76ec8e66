// Package errors defines the error taxonomy for the anchor client engine.
//
// All engine errors are represented as AnchorClientError, which provides:
//   - Code: Machine-readable error identifier
//   - Message: Human-readable error description
//   - Layer: Which component layer produced the error (core, auth, kyc, quote, transfer, ledger, observer)
//   - Cause: Underlying error, if any
//   - Context: Additional error details (asset name, account address, etc.)
//
// Every component returns a typed error rather than swallowing it, and no
// component retries a failed anchor call internally; retry is a caller policy.
// Use the provided constructor functions (NewCoreError, NewAuthError, etc.)
// to create properly typed errors with automatic layer assignment.
package errors

import "fmt"

// Code is a machine-readable error identifier.
type Code string

// Error codes - Core layer (discovery, transport)
const (
	DISCOVERY_FAILED Code = "DISCOVERY_FAILED"
	TOML_INVALID     Code = "TOML_INVALID"
	NETWORK_ERROR    Code = "NETWORK_ERROR"
)

// Error codes - Auth layer (SEP-10)
const (
	PROTOCOL_VIOLATION     Code = "PROTOCOL_VIOLATION"
	CHALLENGE_FETCH_FAILED Code = "CHALLENGE_FETCH_FAILED"
	AUTH_REJECTED          Code = "AUTH_REJECTED"
	SIGNER_ERROR           Code = "SIGNER_ERROR"
)

// Error codes - KYC layer (SEP-12)
const (
	CUSTOMER_FETCH_FAILED  Code = "CUSTOMER_FETCH_FAILED"
	CUSTOMER_SUBMIT_FAILED Code = "CUSTOMER_SUBMIT_FAILED"
)

// Error codes - Quote layer (SEP-38)
const (
	QUOTE_FETCH_FAILED Code = "QUOTE_FETCH_FAILED"
)

// Error codes - Transfer layer (SEP-6/24/31/8 orchestration)
const (
	ANCHOR_REJECTED      Code = "ANCHOR_REJECTED"
	TRANSFER_INIT_FAILED Code = "TRANSFER_INIT_FAILED"
	POLL_FAILED          Code = "POLL_FAILED"
	POLL_INCOMPLETE      Code = "POLL_INCOMPLETE"
	VALIDATION_FAILED    Code = "VALIDATION_FAILED"
	TRANSITION_INVALID   Code = "TRANSITION_INVALID"
)

// Error codes - Ledger layer
const (
	ACCOUNT_NOT_FOUND Code = "ACCOUNT_NOT_FOUND"
	LEDGER_ERROR      Code = "LEDGER_ERROR"
)

// Error codes - Observer layer (on-chain event streaming)
const (
	STREAM_ERROR Code = "STREAM_ERROR"
)

// AnchorClientError is the base error type for all engine errors.
type AnchorClientError struct {
	Code    Code
	Message string
	Layer   string // "core", "auth", "kyc", "quote", "transfer", "ledger", "observer"
	Cause   error
	Context map[string]any
}

// Error returns a formatted error string.
func (e *AnchorClientError) Error() string {
	msg := fmt.Sprintf("[%s] %s: %s", e.Layer, e.Code, e.Message)
	if e.Cause != nil {
		msg += fmt.Sprintf(" (caused by: %v)", e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause error, enabling error chain inspection.
func (e *AnchorClientError) Unwrap() error {
	return e.Cause
}

func newError(layer string, code Code, message string, cause error) *AnchorClientError {
	return &AnchorClientError{
		Code:    code,
		Message: message,
		Layer:   layer,
		Cause:   cause,
		Context: make(map[string]any),
	}
}

// NewCoreError creates a core layer error (discovery, transport).
func NewCoreError(code Code, message string, cause error) *AnchorClientError {
	return newError("core", code, message, cause)
}

// NewAuthError creates an auth layer error (SEP-10).
func NewAuthError(code Code, message string, cause error) *AnchorClientError {
	return newError("auth", code, message, cause)
}

// NewKYCError creates a KYC layer error (SEP-12).
func NewKYCError(code Code, message string, cause error) *AnchorClientError {
	return newError("kyc", code, message, cause)
}

// NewQuoteError creates a quote layer error (SEP-38).
func NewQuoteError(code Code, message string, cause error) *AnchorClientError {
	return newError("quote", code, message, cause)
}

// NewTransferError creates a transfer layer error (flow orchestration).
func NewTransferError(code Code, message string, cause error) *AnchorClientError {
	return newError("transfer", code, message, cause)
}

// NewLedgerError creates a ledger layer error.
func NewLedgerError(code Code, message string, cause error) *AnchorClientError {
	return newError("ledger", code, message, cause)
}

// NewObserverError creates an observer layer error (on-chain streaming).
func NewObserverError(code Code, message string, cause error) *AnchorClientError {
	return newError("observer", code, message, cause)
}

// Is checks if the target error is an AnchorClientError with the same code.
func (e *AnchorClientError) Is(target error) bool {
	if target == nil {
		return false
	}
	other, ok := target.(*AnchorClientError)
	if !ok {
		return false
	}
	return e.Code == other.Code
}

// As checks if target is an AnchorClientError and assigns it.
func As(err error, target **AnchorClientError) bool {
	if err == nil {
		return false
	}
	if v, ok := err.(*AnchorClientError); ok {
		*target = v
		return true
	}
	return false
}

// CodeOf returns the code of err when it is an AnchorClientError anywhere in
// its chain, or the empty Code otherwise.
func CodeOf(err error) Code {
	for err != nil {
		if v, ok := err.(*AnchorClientError); ok {
			return v.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
