package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes. Messages are for operators; clients switch on the code.

// Command-path codes.
const (
	CodeValidationFailed       = "VALIDATION_FAILED"
	CodeInvalidStateTransition = "INVALID_STATE_TRANSITION"
	CodeConcurrentModification = "CONCURRENT_MODIFICATION"
	CodeAggregateNotFound      = "AGGREGATE_NOT_FOUND"
	CodeAggregateExists        = "AGGREGATE_ALREADY_EXISTS"
)

// Generic codes.
const (
	CodeNotFound     = "NOT_FOUND"
	CodeBadRequest   = "BAD_REQUEST"
	CodeInternal     = "INTERNAL_ERROR"
	CodeUnknownGroup = "UNKNOWN_PROCESSING_GROUP"

	CodeLegacyProductNotFound = "LEGACY_PRODUCT_NOT_FOUND"
)

// ErrInvalidStateTransition is matched by errors.Is for every guard-clause rejection.
var ErrInvalidStateTransition = errors.New("invalid state transition")

// InvalidStateTransition reports a command that the aggregate's current state does not allow.
func InvalidStateTransition(command, state, reason string) *AppError {
	return &AppError{
		Code:       CodeInvalidStateTransition,
		Message:    fmt.Sprintf("cannot %s: %s", command, reason),
		HTTPStatus: http.StatusConflict,
		Params: map[string]interface{}{
			"command": command,
			"state":   state,
		},
		Err: ErrInvalidStateTransition,
	}
}

// Validation reports a malformed command parameter.
func Validation(field, message string) *AppError {
	return (&AppError{
		Code:       CodeValidationFailed,
		Message:    message,
		HTTPStatus: http.StatusBadRequest,
		Err:        ErrBadRequest,
	}).WithFieldErrors([]FieldError{{Field: field, Code: CodeValidationFailed, Message: message}})
}

// ConcurrentModification wraps an optimistic append collision.
func ConcurrentModification(aggregateID string, err error) *AppError {
	return &AppError{
		Code:       CodeConcurrentModification,
		Message:    "aggregate was modified concurrently; reload and retry",
		HTTPStatus: http.StatusConflict,
		Params:     map[string]interface{}{"aggregate_id": aggregateID},
		Err:        err,
	}
}

// AggregateNotFound reports a command addressed to a stream that has no events.
func AggregateNotFound(aggregateType, aggregateID string) *AppError {
	return &AppError{
		Code:       CodeAggregateNotFound,
		Message:    fmt.Sprintf("%s %s not found", aggregateType, aggregateID),
		HTTPStatus: http.StatusNotFound,
		Params:     map[string]interface{}{"aggregate_id": aggregateID, "aggregate_type": aggregateType},
		Err:        ErrNotFound,
	}
}

// AggregateExists reports a creation command for an identifier that already has history.
func AggregateExists(aggregateType, aggregateID string, err error) *AppError {
	return &AppError{
		Code:       CodeAggregateExists,
		Message:    fmt.Sprintf("%s %s already exists", aggregateType, aggregateID),
		HTTPStatus: http.StatusConflict,
		Params:     map[string]interface{}{"aggregate_id": aggregateID, "aggregate_type": aggregateType},
		Err:        err,
	}
}

// UnknownGroup reports an admin call addressed to a processing group that is
// not registered.
func UnknownGroup(group string, err error) *AppError {
	return &AppError{
		Code:       CodeUnknownGroup,
		Message:    fmt.Sprintf("unknown processing group %q", group),
		HTTPStatus: http.StatusNotFound,
		Params:     map[string]interface{}{"processing_group": group},
		Err:        err,
	}
}

// IsValidation reports whether err is a command rejection (bad input or disallowed transition).
func IsValidation(err error) bool {
	appErr, ok := IsAppError(err)
	if !ok {
		return false
	}
	return appErr.Code == CodeValidationFailed || appErr.Code == CodeInvalidStateTransition
}

// IsConcurrencyConflict reports whether err is an optimistic append collision.
func IsConcurrencyConflict(err error) bool {
	appErr, ok := IsAppError(err)
	return ok && appErr.Code == CodeConcurrentModification
}
