package domain

import (
	"errors"
	"fmt"
)

var (
	ErrValidation         = errors.New("validation failed")
	ErrRecordNotFound     = errors.New("payment record not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrCredentialNotFound = errors.New("gateway credentials not found")
	ErrGatewayInactive    = errors.New("gateway is inactive")
	ErrGatewayUnavailable = errors.New("gateway unavailable")
	ErrUnsupported        = errors.New("operation not supported by gateway")
	ErrPersistence        = errors.New("persistence failure")
	ErrConflict           = errors.New("concurrent modification")
	ErrAlreadyApplied     = errors.New("ledger entry already applied")
	ErrInsufficientFunds  = errors.New("insufficient balance")
	ErrInvalidSignature   = errors.New("invalid webhook signature")
)

// ValidationError describes a rejected input; it unwraps to ErrValidation
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError creates a validation error for field
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}
