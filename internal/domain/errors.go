package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the engine error taxonomy. Typed errors below wrap
// them so callers can use errors.Is for classification and errors.As for detail.
var (
	ErrInput                 = errors.New("invalid input")
	ErrCapabilityUnavailable = errors.New("capability unavailable")
	ErrAnalyzerFailure       = errors.New("analyzer failure")
	ErrConfiguration         = errors.New("configuration error")
)

// InputError reports malformed or undecodable media, or missing fields.
type InputError struct {
	Field  string
	Reason string
	Err    error
}

func (e *InputError) Error() string {
	msg := e.Reason
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InputError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInput, e.Err}
	}
	return []error{ErrInput}
}

// NewInputError creates an InputError for a field.
func NewInputError(field, reason string, err error) *InputError {
	return &InputError{Field: field, Reason: reason, Err: err}
}

// CapabilityUnavailable reports that an optional analyzer backend is absent.
type CapabilityUnavailable struct {
	Capability string
}

func (e *CapabilityUnavailable) Error() string {
	return fmt.Sprintf("capability %q is not available", e.Capability)
}

func (e *CapabilityUnavailable) Unwrap() error { return ErrCapabilityUnavailable }

// AnalyzerFailure reports that a single analyzer failed while running.
type AnalyzerFailure struct {
	Analyzer string
	Err      error
}

func (e *AnalyzerFailure) Error() string {
	return fmt.Sprintf("analyzer %s failed: %v", e.Analyzer, e.Err)
}

func (e *AnalyzerFailure) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrAnalyzerFailure, e.Err}
	}
	return []error{ErrAnalyzerFailure}
}

// ConfigurationError reports an unknown or invalid threshold profile.
type ConfigurationError struct {
	Tier   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("profile %q: %s", e.Tier, e.Reason)
	}
	return fmt.Sprintf("unknown profile tier %q", e.Tier)
}

func (e *ConfigurationError) Unwrap() error { return ErrConfiguration }
