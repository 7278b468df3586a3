package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the request pipelines.
var (
	// ErrDomainNotConfigured indicates the bridge is not enabled for the requested domain.
	ErrDomainNotConfigured = errors.New("module not configured for domain")

	// ErrAccessDenied indicates a source, destination or stanza type check failed.
	ErrAccessDenied = errors.New("access denied")

	// ErrMalformedStanza indicates the request body is not a well-formed element.
	ErrMalformedStanza = errors.New("malformed stanza")

	// ErrInvalidStanza indicates a well-formed element that is not a valid stanza.
	ErrInvalidStanza = errors.New("invalid stanza")

	// ErrUnexpected covers failures outside the taxonomy above.
	ErrUnexpected = errors.New("unexpected failure")
)

// ConfigurationError reports that no access policy could be obtained for a domain.
type ConfigurationError struct {
	Domain string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("configuration error for domain %q: %s", e.Domain, e.Reason)
	}
	return fmt.Sprintf("configuration error for domain %q", e.Domain)
}

func (e *ConfigurationError) Is(target error) bool {
	return target == ErrDomainNotConfigured
}

// AccessDeniedError records which check rejected a request. The detail is for logs only;
// callers of the bridge never see it.
type AccessDeniedError struct {
	Check string // "source_ip", "destination" or "stanza_type"
	Value string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied by %s check: %s", e.Check, e.Value)
}

func (e *AccessDeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

// ParseError wraps a failure to parse the request body as an element.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse stanza: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

func (e *ParseError) Is(target error) bool {
	return target == ErrMalformedStanza
}

// DecodeError reports a structurally valid element that cannot be decoded into a stanza.
// Reason is surfaced to the caller.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return e.Reason
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrInvalidStanza
}

// NewDecodeError formats a DecodeError.
func NewDecodeError(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// IsAccessDenied checks if the error indicates a failed access check.
func IsAccessDenied(err error) bool {
	return errors.Is(err, ErrAccessDenied)
}

// IsConfigurationError checks if the error indicates a missing domain policy.
func IsConfigurationError(err error) bool {
	return errors.Is(err, ErrDomainNotConfigured)
}
