package errors

import (
	"errors"
	"fmt"
)

// Common error types for the admin console
var (
	// Handshake errors
	ErrEmptyState        = errors.New("state cannot be empty")
	ErrHandshakeNotFound = errors.New("handshake not found")
	ErrHandshakeExpired  = errors.New("handshake expired")
)

// Wrapf wraps an error with context using fmt.Errorf
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf(format+": %w", append(args, err)...)
}

