package domain

import (
	"errors"
	"fmt"
)

var (
	// Common domain errors
	ErrNotFound           = errors.New("entity not found")
	ErrAlreadyExists      = errors.New("entity already exists")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrOperationFailed    = errors.New("operation failed")
	ErrReadDatabaseRow    = errors.New("failed to read database row")
	ErrInvalidExecContext = errors.New("invalid exec context")
	ErrLockNotAcquired    = errors.New("lock not acquired")

	// Payment orchestration errors
	ErrGatewayAuth        = errors.New("gateway authentication failed")
	ErrGatewayRejected    = errors.New("gateway rejected the request")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrInvalidCallback    = errors.New("invalid gateway callback")
	ErrAmountMismatch     = errors.New("settled amount does not match attempt amount")
	ErrDuplicatePurchase  = errors.New("user already holds this entitlement")
	ErrAttemptNotFound    = errors.New("payment attempt not found")
	ErrAttemptTerminal    = errors.New("payment attempt already finalized")
	ErrStorageConflict    = errors.New("unique constraint conflict")
	ErrUnknownGateway     = errors.New("unknown gateway")
	ErrInsufficientTokens = errors.New("insufficient token balance")
	ErrRateLimited        = errors.New("too many requests")
)

// GatewayError is returned by payment adapters. Kind is one of ErrGatewayAuth,
// ErrGatewayRejected or ErrGatewayUnavailable so callers can use errors.Is.
type GatewayError struct {
	Gateway string
	Kind    error
	// Code is a short provider-independent reason such as "invalid_phone".
	Code       string
	StatusCode int
	Message    string
	Err        error
}

func (e *GatewayError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %v", e.Gateway, e.Kind)
	if e.Code != "" {
		msg += " (" + e.Code + ")"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Retryable reports whether the failure belongs to the transient network class.
func (e *GatewayError) Retryable() bool {
	return errors.Is(e.Kind, ErrGatewayUnavailable)
}

func NewGatewayError(gateway string, kind error, code, message string, cause error) *GatewayError {
	return &GatewayError{Gateway: gateway, Kind: kind, Code: code, Message: message, Err: cause}
}

// ErrorCode maps a domain error to the stable code rendered to API callers.
func ErrorCode(err error) string {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) && gwErr.Code != "" && errors.Is(gwErr.Kind, ErrGatewayRejected) {
		return gwErr.Code
	}
	switch {
	case errors.Is(err, ErrGatewayAuth):
		return "gateway_auth"
	case errors.Is(err, ErrGatewayRejected):
		return "gateway_rejected"
	case errors.Is(err, ErrGatewayUnavailable):
		return "gateway_unavailable"
	case errors.Is(err, ErrInvalidCallback):
		return "invalid_callback"
	case errors.Is(err, ErrAmountMismatch):
		return "amount_mismatch"
	case errors.Is(err, ErrDuplicatePurchase):
		return "duplicate_purchase"
	case errors.Is(err, ErrAttemptNotFound), errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAttemptTerminal):
		return "attempt_finalized"
	case errors.Is(err, ErrUnknownGateway):
		return "unknown_gateway"
	case errors.Is(err, ErrInvalidArgument):
		return "invalid_argument"
	case errors.Is(err, ErrInsufficientTokens):
		return "insufficient_tokens"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	default:
		return "internal"
	}
}
