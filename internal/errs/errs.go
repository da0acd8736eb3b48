// Package errs defines the error taxonomy shared by the provisioning saga and its collaborators.
package errs

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrAllocationExhausted = errors.New("username allocation exhausted")
	ErrDuplicateHandle     = errors.New("handle already taken")
	ErrConflict            = errors.New("record conflicts with existing data")
	ErrProviderUnavailable = errors.New("identity provider unavailable")
	ErrStoreUnavailable    = errors.New("datastore unavailable")
	ErrNotFound            = errors.New("not found")
	ErrAlreadyProcessed    = errors.New("approval request already processed")
	ErrPartialFailure      = errors.New("some children could not be provisioned")
	ErrDeliveryFailed      = errors.New("notification delivery failed")
	ErrCanceled            = errors.New("provisioning cancelled before this child started")
)

// FieldError describes one invalid input field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError is returned for input rejected before any write happens.
type ValidationError struct {
	Fields []FieldError
}

func NewValidationError(flds ...FieldError) *ValidationError {
	return &ValidationError{Fields: flds}
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// RollbackError is a compensation step that failed. The resource it names may be orphaned and
// needs an operator.
type RollbackError struct {
	Step       string
	ResourceID string
	Err        error
}

func (e *RollbackError) Error() string {
	return fmt.Sprintf("rollback of %s %s failed: %v", e.Step, e.ResourceID, e.Err)
}

func (e *RollbackError) Unwrap() error { return e.Err }

// PartialFailureError reports how many children of a request failed.
type PartialFailureError struct {
	Failed int
	Total  int
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("%d of %d children could not be provisioned", e.Failed, e.Total)
}

func (e *PartialFailureError) Is(target error) bool { return target == ErrPartialFailure }

// Unavailable reports whether err is a retryable I/O failure of either store.
func Unavailable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrProviderUnavailable)
}
