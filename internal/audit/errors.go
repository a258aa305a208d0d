package audit

import (
	"errors"
	"fmt"
)

// ErrChainConflict is returned by a store when the chain tail moved between
// reading it and committing an append. The chain engine retries on it.
var ErrChainConflict = errors.New("chain tail conflict")

// ValidationError represents rejected caller input
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Message)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// NewValidationError creates a validation error for a field
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// IsValidation checks if an error is a ValidationError
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// ConflictError represents a lost race to extend a chain tail after the
// configured number of retries
type ConflictError struct {
	OrganizationID string
	ChainKey       string
	Attempts       int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("append conflict on chain %s/%s after %d attempts", e.OrganizationID, e.ChainKey, e.Attempts)
}

// IsConflict checks if an error is a ConflictError
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// NotFoundError represents a resource not found error
type NotFoundError struct {
	Type string // "record", "chain" or "report"
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Type, e.Key)
}

// IsNotFound checks if an error is a NotFoundError
func IsNotFound(err error) bool {
	var nfe *NotFoundError
	return errors.As(err, &nfe)
}

// StoreUnavailableError represents an unreachable or failing persistence layer
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

// IsStoreUnavailable checks if an error is a StoreUnavailableError
func IsStoreUnavailable(err error) bool {
	var se *StoreUnavailableError
	return errors.As(err, &se)
}

// TenantViolationError represents an attempted cross-organization access.
// It signals an internal defect, not a caller mistake, and is never
// silently corrected.
type TenantViolationError struct {
	Op           string
	RequestedOrg string
	ActualOrg    string
}

func (e *TenantViolationError) Error() string {
	return fmt.Sprintf("tenant isolation violation during %s: requested organization %s, got %s", e.Op, e.RequestedOrg, e.ActualOrg)
}

// IsTenantViolation checks if an error is a TenantViolationError
func IsTenantViolation(err error) bool {
	var te *TenantViolationError
	return errors.As(err, &te)
}
