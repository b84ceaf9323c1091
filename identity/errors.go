package identity

import (
	"errors"
	"fmt"
)

// ErrorCode identifies why the provider rejected a sign-in.
type ErrorCode string

const (
	CodeUserNotFound       ErrorCode = "auth/user-not-found"
	CodeWrongPassword      ErrorCode = "auth/wrong-password"
	CodeInvalidEmail       ErrorCode = "auth/invalid-email"
	CodeTooManyRequests    ErrorCode = "auth/too-many-requests"
	CodeUserDisabled       ErrorCode = "auth/user-disabled"
	CodeProviderRejected   ErrorCode = "auth/provider-rejected"
	CodeHandshakeInvalid   ErrorCode = "auth/invalid-handshake"
	CodeUnknownProvider    ErrorCode = "auth/unknown-provider"
	CodeSessionUnconfirmed ErrorCode = "auth/session-unconfirmed"
	CodeInternal           ErrorCode = "auth/internal-error"
)

// Error is a sign-in failure reported by the provider.
type Error struct {
	Code    ErrorCode
	Message string // Provider supplied description, may be shown to the user
	Err     error  // Underlying cause, never shown to the user
}

// NewError returns an *Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError returns an *Error with the given code wrapping err.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// CodeOf extracts the ErrorCode from err, or "" when err carries none.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// MessageOf returns the provider supplied message of err, falling back to err.Error().
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
