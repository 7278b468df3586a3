package bridge

import (
	"errors"
	"fmt"
)

// Sentinel errors for request handling
var (
	// ErrBodyTooLarge indicates the request body exceeded the configured limit
	ErrBodyTooLarge = errors.New("request body too large")

	// ErrInvalidSource indicates the peer address could not be parsed
	ErrInvalidSource = errors.New("invalid source address")
)

// SourceAddressError carries the unparsable remote address
type SourceAddressError struct {
	RemoteAddr string
}

func (e *SourceAddressError) Error() string {
	return fmt.Sprintf("invalid source address: %q", e.RemoteAddr)
}

func (e *SourceAddressError) Is(target error) bool {
	return target == ErrInvalidSource
}

// NotifierError wraps a failing pre-send notifier
type NotifierError struct {
	Notifier string
	Err      error
}

func (e *NotifierError) Error() string {
	return fmt.Sprintf("notifier %s: %v", e.Notifier, e.Err)
}

func (e *NotifierError) Unwrap() error {
	return e.Err
}

// IsInvalidSource checks if the error indicates an unusable peer address
func IsInvalidSource(err error) bool {
	return errors.Is(err, ErrInvalidSource)
}
