package wire

import (
	"errors"
	"fmt"
)

// Common wire errors
var (
	// ErrFrameTooLarge is returned when a frame length exceeds the configured maximum.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrInvalidHandshake is returned when the engine init message is missing or malformed.
	ErrInvalidHandshake = errors.New("invalid handshake message")
)

// FramingError represents a violation of the length-prefixed wire format.
// It is connection-fatal: the stream position can no longer be trusted.
type FramingError struct {
	// Detail describes what was malformed.
	Detail string
	// Got is the offending bytes, if available.
	Got []byte
}

// Error returns the error message.
func (e *FramingError) Error() string {
	if len(e.Got) > 0 {
		return fmt.Sprintf("framing error: %s (got %q)", e.Detail, e.Got)
	}
	return fmt.Sprintf("framing error: %s", e.Detail)
}

// NewFramingError creates a new framing error.
func NewFramingError(detail string, got []byte) *FramingError {
	return &FramingError{Detail: detail, Got: got}
}

// IsFramingError reports whether err is a FramingError.
func IsFramingError(err error) bool {
	var fe *FramingError
	return errors.As(err, &fe)
}
