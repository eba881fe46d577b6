// Package serviceerr carries the "<operation>.<reason>" error codes that
// services attach to failures and the HTTP layer echoes back to clients.
package serviceerr

import (
	"errors"
	"fmt"
)

// Error pairs a stable code with the underlying cause.
type Error struct {
	code string
	err  error
}

func (e *Error) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *Error) Unwrap() error {
	return e.err
}

// Code returns the "<operation>.<reason>" code.
func (e *Error) Code() string {
	return e.code
}

// New builds an Error coded "<operation>.<reason>".
func New(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &Error{code: code, err: cause}
}

// CodeOf extracts the outermost service error code from err.
func CodeOf(err error) (string, bool) {
	var serviceErr *Error
	if errors.As(err, &serviceErr) {
		return serviceErr.code, true
	}
	return "", false
}
