package schema

import (
	"errors"
	"fmt"
)

// Error codes for structured error reporting.
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNeedsNotMet   = "NEEDS_NOT_MET"
	ErrCodeConfiguration = "CONFIGURATION_ERROR"
	ErrCodeUnhandled     = "UNHANDLED_ERROR"
	ErrCodeExecution     = "EXECUTION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeStore         = "STORE_ERROR"
	ErrCodeIdentity      = "IDENTITY_ERROR"
	ErrCodeSerialization = "SERIALIZATION_ERROR"
	ErrCodeVault         = "VAULT_ERROR"
)

// PluginError is the fatal-failure signal of a plugin invocation. When a
// plugin returns one, the host reports the failure and its Message to the caller.
type PluginError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
	Plugin  string         `json:"plugin,omitempty"`
	Cause   error          `json:"-"`
}

func (e *PluginError) Error() string {
	if e.Plugin != "" {
		return fmt.Sprintf("[%s] plugin %s: %s", e.Code, e.Plugin, e.Message)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *PluginError) Unwrap() error {
	return e.Cause
}

// NewError creates a new PluginError.
func NewError(code, message string) *PluginError {
	return &PluginError{Code: code, Message: message}
}

// NewErrorf creates a new PluginError with a formatted message.
func NewErrorf(code, format string, args ...any) *PluginError {
	return &PluginError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithPlugin attaches the plugin name to the error.
func (e *PluginError) WithPlugin(name string) *PluginError {
	e.Plugin = name
	return e
}

// WithCause attaches an underlying cause.
func (e *PluginError) WithCause(err error) *PluginError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *PluginError) WithDetails(details map[string]any) *PluginError {
	e.Details = details
	return e
}

// AsPluginError reports whether err is, or wraps, a *PluginError.
func AsPluginError(err error) (*PluginError, bool) {
	var pe *PluginError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// HasCode reports whether err carries a PluginError with the given code.
func HasCode(err error, code string) bool {
	pe, ok := AsPluginError(err)
	return ok && pe.Code == code
}
