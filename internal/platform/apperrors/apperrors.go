// Package apperrors defines the error taxonomy shared by the case workflow.
// Each category maps to an HTTP status so handlers can translate service
// errors uniformly.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for the workflow error categories.
var (
	ErrStaleState       = errors.New("stale state conflict")
	ErrExternalService  = errors.New("external service failure")
	ErrMissingReference = errors.New("missing reference")
	ErrValidation       = errors.New("validation error")
	ErrForbidden        = errors.New("forbidden")
	ErrNotFound         = errors.New("resource not found")
)

// AppError carries an error category plus request-facing context.
type AppError struct {
	Err        error             `json:"-"`
	Message    string            `json:"message"`
	Code       string            `json:"code"`
	HTTPStatus int               `json:"-"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// StaleStateConflict reports that a compare-and-set guard failed because
// another actor already moved the entity out of the expected status.
func StaleStateConflict(entity, expected, actual string) *AppError {
	return &AppError{
		Err:        ErrStaleState,
		Message:    fmt.Sprintf("%s was modified by another actor", entity),
		Code:       "STALE_STATE_CONFLICT",
		HTTPStatus: http.StatusConflict,
		Details:    map[string]string{"expected_status": expected, "actual_status": actual},
	}
}

// ExternalServiceFailure wraps an unreachable, timed-out, or
// contract-violating response from a collaborator service.
func ExternalServiceFailure(service string, err error) *AppError {
	return &AppError{
		Err:        fmt.Errorf("%w: %w", ErrExternalService, err),
		Message:    fmt.Sprintf("%s service failed", service),
		Code:       "EXTERNAL_SERVICE_FAILURE",
		HTTPStatus: http.StatusBadGateway,
		Details:    map[string]string{"service": service},
	}
}

// MissingReference reports that a linked entity could not be resolved.
func MissingReference(entity, id string) *AppError {
	return &AppError{
		Err:        ErrMissingReference,
		Message:    fmt.Sprintf("%s not found", entity),
		Code:       "MISSING_REFERENCE",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"entity": entity, "id": id},
	}
}

// Validation reports incomplete or malformed actor input.
func Validation(message string) *AppError {
	return &AppError{
		Err:        ErrValidation,
		Message:    message,
		Code:       "VALIDATION_ERROR",
		HTTPStatus: http.StatusBadRequest,
	}
}

// Forbidden reports that the actor's role does not permit the operation.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:        ErrForbidden,
		Message:    message,
		Code:       "FORBIDDEN",
		HTTPStatus: http.StatusForbidden,
	}
}

// NotFound reports that the requested resource does not exist.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:        ErrNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		Code:       "NOT_FOUND",
		HTTPStatus: http.StatusNotFound,
		Details:    map[string]string{"resource": resource, "id": id},
	}
}

// HTTPStatus returns the status code for err, defaulting to 500 for errors
// outside the taxonomy.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
