package config

import "fmt"

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("configuration error in field '%s' (%v): %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("configuration error in field '%s': %s", e.Field, e.Reason)
}

// NewConfigMissingError reports a required field that is empty.
func NewConfigMissingError(field string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Reason: fmt.Sprintf("required field '%s' is missing", field),
	}
}

// NewConfigValidationError reports a field with an unusable value.
func NewConfigValidationError(field string, value any, reason string) *ConfigError {
	return &ConfigError{
		Field:  field,
		Value:  value,
		Reason: reason,
	}
}
