package domain

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes surfaced to API callers. Each maps to exactly one HTTP
// status; see HTTPStatus.
const (
	ErrCodeValidation          = "VALIDATION_ERROR"
	ErrCodeUnauthorized        = "UNAUTHORIZED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeIdempotencyConflict = "IDEMPOTENCY_CONFLICT"
	ErrCodeDuplicateQueue      = "DUPLICATE_QUEUE"
	ErrCodeSuppressedEmail     = "SUPPRESSED_EMAIL"
	ErrCodeRateLimitExceeded   = "RATE_LIMIT_EXCEEDED"
	ErrCodeQueuePaused         = "QUEUE_PAUSED"
	ErrCodeQueueNotFound       = "QUEUE_NOT_FOUND"
	ErrCodeInvalidSMTPConfig   = "INVALID_SMTP_CONFIG"
	ErrCodeLimitExceeded       = "LIMIT_EXCEEDED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

var errCodeStatus = map[string]int{
	ErrCodeValidation:          http.StatusBadRequest,
	ErrCodeUnauthorized:        http.StatusUnauthorized,
	ErrCodeForbidden:           http.StatusForbidden,
	ErrCodeNotFound:            http.StatusNotFound,
	ErrCodeIdempotencyConflict: http.StatusConflict,
	ErrCodeDuplicateQueue:      http.StatusConflict,
	ErrCodeSuppressedEmail:     http.StatusUnprocessableEntity,
	ErrCodeRateLimitExceeded:   http.StatusTooManyRequests,
	ErrCodeQueuePaused:         http.StatusServiceUnavailable,
	ErrCodeQueueNotFound:       http.StatusNotFound,
	ErrCodeInvalidSMTPConfig:   http.StatusBadRequest,
	ErrCodeLimitExceeded:       http.StatusForbidden,
	ErrCodeInternal:            http.StatusInternalServerError,
}

// Error is the closed error taxonomy carried across service boundaries.
// Details holds code-specific context (validation paths, the existing
// email id on an idempotency conflict, the suppressed address).
type Error struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// HTTPStatus returns the HTTP status pinned to the error code.
func (e *Error) HTTPStatus() int {
	if status, ok := errCodeStatus[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// NewError creates a typed error without details.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// NewErrorWithDetails creates a typed error carrying extra context.
func NewErrorWithDetails(code, message string, details map[string]interface{}) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

// ValidationDetail is a single path+message pair inside a
// VALIDATION_ERROR response.
type ValidationDetail struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// NewValidationError builds a VALIDATION_ERROR from path+message pairs.
func NewValidationError(details []ValidationDetail) *Error {
	msg := "validation failed"
	if len(details) > 0 {
		msg = fmt.Sprintf("%s: %s", details[0].Path, details[0].Message)
	}
	return &Error{
		Code:    ErrCodeValidation,
		Message: msg,
		Details: map[string]interface{}{"errors": details},
	}
}

// NewNotFoundError reports an absent or out-of-tenant entity.
func NewNotFoundError(entity, id string) *Error {
	return &Error{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found: %s", entity, id),
	}
}

// AsError extracts a *Error from an error chain.
func AsError(err error) (*Error, bool) {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr, true
	}
	return nil, false
}

// IsNotFound reports whether err is a NOT_FOUND or QUEUE_NOT_FOUND.
func IsNotFound(err error) bool {
	if domainErr, ok := AsError(err); ok {
		return domainErr.Code == ErrCodeNotFound || domainErr.Code == ErrCodeQueueNotFound
	}
	return false
}
