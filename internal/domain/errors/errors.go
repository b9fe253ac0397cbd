package errors

import (
	"net/http"

	"keystone/internal/errors"
)

// AppError defines the interface for application-specific errors
type AppError interface {
	error
	HTTPCode() int     // HTTP status code
	ErrorCode() string // Business error code
	Message() string   // User-friendly error message
	Details() string   // Detailed error information (optional)
}

// BaseError is a basic error structure that implements the AppError interface.
// A BaseError created with a parent matches that parent in errors.Is, so
// callers can test for a class (ErrInvalidToken) or a specific case
// (ErrRefreshTokenReused).
type BaseError struct {
	httpCode  int
	errorCode string
	message   string
	details   string
	parent    *BaseError
}

// NewBaseError creates a new base error
func NewBaseError(httpCode int, errorCode, message, details string) *BaseError {
	return &BaseError{
		httpCode:  httpCode,
		errorCode: errorCode,
		message:   message,
		details:   details,
	}
}

func newChildError(parent *BaseError, errorCode, message string) *BaseError {
	return &BaseError{
		httpCode:  parent.httpCode,
		errorCode: errorCode,
		message:   message,
		parent:    parent,
	}
}

// Error implements the error interface
func (e *BaseError) Error() string {
	return e.message
}

// Is reports whether target is this error's class.
func (e *BaseError) Is(target error) bool {
	t, ok := target.(*BaseError)
	if !ok {
		return false
	}
	for p := e.parent; p != nil; p = p.parent {
		if p == t {
			return true
		}
	}

	return false
}

// WrapMessage wraps the error with additional context message
func (e *BaseError) WrapMessage(message string) error {
	return errors.Wrap(e, message)
}

// HTTPCode returns the HTTP status code
func (e *BaseError) HTTPCode() int {
	return e.httpCode
}

// ErrorCode returns the business error code
func (e *BaseError) ErrorCode() string {
	return e.errorCode
}

// Message returns the user-friendly error message
func (e *BaseError) Message() string {
	return e.message
}

// Details returns detailed error information
func (e *BaseError) Details() string {
	return e.details
}

// WithDetails returns a copy carrying details that still matches e in errors.Is.
func (e *BaseError) WithDetails(details string) *BaseError {
	return &BaseError{
		httpCode:  e.httpCode,
		errorCode: e.errorCode,
		message:   e.message,
		details:   details,
		parent:    e,
	}
}

// Error classes. Authentication failures share one generic message so the
// response never tells a caller which check rejected the credential.
var (
	ErrUnauthorized = NewBaseError(
		http.StatusUnauthorized,
		"UNAUTHORIZED",
		"Authentication failed",
		"",
	)

	ErrInvalidCredential = NewBaseError(
		http.StatusUnauthorized,
		"INVALID_CREDENTIAL",
		"Authentication failed",
		"",
	)

	ErrInvalidToken = NewBaseError(
		http.StatusUnauthorized,
		"INVALID_TOKEN",
		"Invalid token",
		"",
	)

	ErrTokenExpired = NewBaseError(
		http.StatusUnauthorized,
		"TOKEN_EXPIRED",
		"Token has expired",
		"",
	)

	ErrSessionRevoked = NewBaseError(
		http.StatusUnauthorized,
		"SESSION_REVOKED",
		"Session has been revoked, please sign in again",
		"",
	)

	ErrNotFound = NewBaseError(
		http.StatusNotFound,
		"NOT_FOUND",
		"Resource not found",
		"",
	)

	ErrConflict = NewBaseError(
		http.StatusConflict,
		"CONFLICT",
		"Resource conflict",
		"",
	)

	ErrValidationFailed = NewBaseError(
		http.StatusBadRequest,
		"VALIDATION_FAILED",
		"Request validation failed",
		"",
	)

	ErrInternalError = NewBaseError(
		http.StatusInternalServerError,
		"INTERNAL_ERROR",
		"Internal server error",
		"",
	)
)

// Specific cases, each matching its class.
var (
	ErrDeviceMismatch = newChildError(ErrUnauthorized, "DEVICE_MISMATCH", "Authentication failed")

	// ErrRefreshTokenReused is an InvalidToken raised when a superseded refresh
	// token is presented. The token family has already been revoked.
	ErrRefreshTokenReused = newChildError(ErrInvalidToken, "SESSION_REVOKED", "Session has been revoked, please sign in again")

	ErrSessionNotFound = newChildError(ErrNotFound, "SESSION_NOT_FOUND", "Session not found")
	ErrUserNotFound    = newChildError(ErrNotFound, "USER_NOT_FOUND", "User not found")

	ErrEmailNotVerified = newChildError(ErrConflict, "EMAIL_NOT_VERIFIED",
		"An account with this email already exists; sign in with the original provider")
	ErrIdentityAlreadyLinked = newChildError(ErrConflict, "IDENTITY_ALREADY_LINKED", "Identity is linked to another account")

	ErrUnsupportedProvider = newChildError(ErrValidationFailed, "UNSUPPORTED_PROVIDER", "Unsupported identity provider")

	ErrIdentityProviderUnavailable = newChildError(ErrInternalError, "IDENTITY_PROVIDER_UNAVAILABLE", "Identity provider is unavailable")
	ErrTransactionFailed           = newChildError(ErrInternalError, "TRANSACTION_FAILED", "Database transaction failed")
)

// DatabaseExecuteError represents a database execution error, implementing the AppError interface
type DatabaseExecuteError struct {
	err     error
	details string
}

// NewDatabaseExecuteError creates a database-related error
func NewDatabaseExecuteError(err error, details string) AppError {
	return &DatabaseExecuteError{
		err:     err,
		details: details,
	}
}

// Error implements the error interface
func (e *DatabaseExecuteError) Error() string {
	return errors.Wrap(e.err, "database execution failed").Error()
}

// Unwrap exposes the driver error.
func (e *DatabaseExecuteError) Unwrap() error {
	return e.err
}

// Is makes a DatabaseExecuteError match ErrInternalError.
func (e *DatabaseExecuteError) Is(target error) bool {
	return target == ErrInternalError
}

// HTTPCode returns the HTTP status code
func (e *DatabaseExecuteError) HTTPCode() int {
	return http.StatusInternalServerError
}

// ErrorCode returns the business error code
func (e *DatabaseExecuteError) ErrorCode() string {
	return "DATABASE_EXECUTE_FAILED"
}

// Message returns the user-friendly error message
func (e *DatabaseExecuteError) Message() string {
	return "Database execution failed"
}

// Details returns detailed error information
func (e *DatabaseExecuteError) Details() string {
	return e.details
}
