package schema

import (
	"fmt"
	"strings"
)

// ValidationSeverity indicates whether an issue rejects the input.
type ValidationSeverity string

const (
	SeverityError   ValidationSeverity = "error"
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue is one problem found in a payload or declaration, located
// by a dotted or slash path.
type ValidationIssue struct {
	Path     string             `json:"path"`
	Rule     string             `json:"rule"`
	Message  string             `json:"message"`
	Severity ValidationSeverity `json:"severity"`
}

func (i ValidationIssue) String() string {
	if i.Path == "" {
		return i.Message
	}
	return i.Path + ": " + i.Message
}

// ValidationResult collects the issues of one validation pass.
type ValidationResult struct {
	Errors   []ValidationIssue `json:"errors,omitempty"`
	Warnings []ValidationIssue `json:"warnings,omitempty"`
}

// Valid reports whether no error-severity issue was found.
func (r *ValidationResult) Valid() bool {
	return r == nil || len(r.Errors) == 0
}

// AddError records an issue that rejects the input.
func (r *ValidationResult) AddError(path, rule, message string) {
	r.Errors = append(r.Errors, ValidationIssue{
		Path: path, Rule: rule, Message: message, Severity: SeverityError,
	})
}

// AddWarning records an issue that is reported but tolerated.
func (r *ValidationResult) AddWarning(path, rule, message string) {
	r.Warnings = append(r.Warnings, ValidationIssue{
		Path: path, Rule: rule, Message: message, Severity: SeverityWarning,
	})
}

// Merge appends the issues of other.
func (r *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	r.Errors = append(r.Errors, other.Errors...)
	r.Warnings = append(r.Warnings, other.Warnings...)
}

// ToError returns nil when valid, otherwise a VALIDATION_ERROR whose message
// lists every error on its own line.
func (r *ValidationResult) ToError() error {
	if r.Valid() {
		return nil
	}

	lines := make([]string, len(r.Errors))
	for i, issue := range r.Errors {
		lines[i] = issue.String()
	}
	msg := lines[0]
	if len(lines) > 1 {
		msg = fmt.Sprintf("%d validation errors:\n%s", len(lines), strings.Join(lines, "\n"))
	}

	return NewError(ErrCodeValidation, msg).
		WithDetails(map[string]any{
			"errors":   r.Errors,
			"warnings": r.Warnings,
		})
}
