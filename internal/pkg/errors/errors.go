package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// AppError represents an application error with additional context
type AppError struct {
	Code       string        `json:"code"`
	Message    string        `json:"message"`
	StatusCode int           `json:"-"`
	Internal   error         `json:"-"`
	RetryAfter time.Duration `json:"-"`
	Details    interface{}   `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Internal)
	}
	return e.Message
}

// Unwrap returns the internal error for errors.Is and errors.As
func (e *AppError) Unwrap() error {
	return e.Internal
}

// Error codes
const (
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeBadRequest        = "BAD_REQUEST"
	ErrCodeUnauthorized      = "UNAUTHORIZED"
	ErrCodeTooManyRequests   = "TOO_MANY_REQUESTS"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeConflict          = "CONFLICT"
	ErrCodeValidation        = "VALIDATION_ERROR"
	ErrCodeSourceUnavailable = "SOURCE_UNAVAILABLE"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeNormalization     = "NORMALIZATION_ERROR"
	ErrCodePersistence       = "PERSISTENCE_ERROR"
	ErrCodeEscalation        = "ESCALATION_ERROR"
)

// New creates a new AppError
func New(code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// Wrap wraps an error with an AppError
func Wrap(err error, code, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Internal:   err,
	}
}

// WithDetails adds details to an AppError
func (e *AppError) WithDetails(details interface{}) *AppError {
	e.Details = details
	return e
}

// Internal creates an internal server error
func Internal(message string, err error) *AppError {
	return Wrap(err, ErrCodeInternal, message, http.StatusInternalServerError)
}

// BadRequest creates a bad request error
func BadRequest(message string) *AppError {
	return New(ErrCodeBadRequest, message, http.StatusBadRequest)
}

// Unauthorized creates an unauthorized error
func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

// TooManyRequests is returned to API clients that exceed their request rate
func TooManyRequests(message string) *AppError {
	return New(ErrCodeTooManyRequests, message, http.StatusTooManyRequests)
}

// NotFound creates a not found error
func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

// Conflict creates a conflict error
func Conflict(message string) *AppError {
	return New(ErrCodeConflict, message, http.StatusConflict)
}

// ValidationError creates a validation error
func ValidationError(message string, details interface{}) *AppError {
	return New(ErrCodeValidation, message, http.StatusBadRequest).WithDetails(details)
}

// SourceUnavailable marks a transient network or auth failure talking to a feed
func SourceUnavailable(source string, err error) *AppError {
	return Wrap(err, ErrCodeSourceUnavailable,
		fmt.Sprintf("source %s unavailable", source),
		http.StatusBadGateway)
}

// RateLimited marks a feed refusing requests; retryAfter is zero when the feed gave no hint
func RateLimited(source string, retryAfter time.Duration) *AppError {
	e := New(ErrCodeRateLimited, fmt.Sprintf("source %s rate limited", source), http.StatusTooManyRequests)
	e.RetryAfter = retryAfter
	return e
}

// Normalization marks a single malformed record
func Normalization(message string, err error) *AppError {
	return Wrap(err, ErrCodeNormalization, message, http.StatusUnprocessableEntity)
}

// Persistence marks a failed store write or read
func Persistence(message string, err error) *AppError {
	return Wrap(err, ErrCodePersistence, message, http.StatusInternalServerError)
}

// Escalation marks a failed supervisory notification for an SLA breach
func Escalation(ticketID string, err error) *AppError {
	return Wrap(err, ErrCodeEscalation,
		fmt.Sprintf("failed to escalate ticket %s", ticketID),
		http.StatusInternalServerError)
}

// CodeOf returns the code of the outermost AppError in the chain, or "" if there is none
func CodeOf(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ""
}

// HasCode reports whether any AppError in the chain carries code
func HasCode(err error, code string) bool {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Internal
	}
	return false
}

// RetryAfterOf returns the retry hint of a RateLimited error in the chain
func RetryAfterOf(err error) (time.Duration, bool) {
	for err != nil {
		var appErr *AppError
		if !stderrors.As(err, &appErr) {
			return 0, false
		}
		if appErr.Code == ErrCodeRateLimited {
			return appErr.RetryAfter, appErr.RetryAfter > 0
		}
		err = appErr.Internal
	}
	return 0, false
}

// StatusOf returns the HTTP status for err, defaulting to 500
func StatusOf(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) && appErr.StatusCode != 0 {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}
