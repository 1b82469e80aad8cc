package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// ErrorCode represents a Loam error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST" // 400: validation failure, rejected before any local mutation
	ErrNotFound       ErrorCode = "NOT_FOUND"       // 404
	ErrConflict       ErrorCode = "CONFLICT"        // 409
	ErrPartialFailure ErrorCode = "PARTIAL_FAILURE" // 207: batch cascade with per-item failures
	ErrNetworkFailure ErrorCode = "NETWORK_FAILURE" // 502: remote gateway unreachable or errored
	ErrInternal       ErrorCode = "INTERNAL"        // 500
)

// LoamError represents a structured error with code, status, and details.
type LoamError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *LoamError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *LoamError {
	return &LoamError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewNotFound creates a 404 error for when an entity cannot be found.
func NewNotFound(entityType, id string) *LoamError {
	return &LoamError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("%s not found: %s", entityType, id),
		Details: map[string]any{"entity_type": entityType, "id": id},
	}
}

// NewConflict creates a 409 error for general conflicts.
func NewConflict(msg string) *LoamError {
	return &LoamError{
		Code:    ErrConflict,
		Status:  409,
		Message: msg,
	}
}

// NewPartialFailure creates a 207 error for batch operations where some
// items failed. The operation is expected to have continued past each
// failure; itemErrors carries one message per failed item.
func NewPartialFailure(attempted, failed int, itemErrors []string) *LoamError {
	return &LoamError{
		Code:    ErrPartialFailure,
		Status:  207,
		Message: fmt.Sprintf("%d of %d operations failed: %s", failed, attempted, strings.Join(itemErrors, "; ")),
		Details: map[string]any{
			"attempted": attempted,
			"failed":    failed,
			"errors":    itemErrors,
		},
	}
}

// NewNetworkFailure creates a 502 error wrapping a remote transport failure.
func NewNetworkFailure(err error) *LoamError {
	msg := "remote gateway unreachable"
	if err != nil {
		msg = err.Error()
	}
	return &LoamError{
		Code:    ErrNetworkFailure,
		Status:  502,
		Message: msg,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
func NewInternal(err error) *LoamError {
	msg := "internal error"
	if err != nil {
		msg = err.Error()
	}
	return &LoamError{
		Code:    ErrInternal,
		Status:  500,
		Message: msg,
	}
}

// Is checks if an error is a LoamError (possibly wrapped) with the given code.
func Is(err error, code ErrorCode) bool {
	var lErr *LoamError
	if stderrors.As(err, &lErr) {
		return lErr.Code == code
	}
	return false
}

// ItemErrors extracts the per-item error list from a PARTIAL_FAILURE
// error. Returns nil for any other error.
func ItemErrors(err error) []string {
	var lErr *LoamError
	if !stderrors.As(err, &lErr) || lErr.Code != ErrPartialFailure || lErr.Details == nil {
		return nil
	}
	items, _ := lErr.Details["errors"].([]string)
	return items
}
