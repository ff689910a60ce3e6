package schema

import "time"

// InvocationStatus is the final state of one plugin invocation.
type InvocationStatus string

const (
	// InvocationExecuted means the needs were met and business logic ran to completion.
	InvocationExecuted InvocationStatus = "executed"
	// InvocationSkipped means the needs were not met in non-strict mode.
	// The caller sees a successful, silent no-op.
	InvocationSkipped InvocationStatus = "skipped"
	// InvocationFailed means the invocation ended with a PluginError.
	InvocationFailed InvocationStatus = "failed"
)

// Valid reports whether s is a known status.
func (s InvocationStatus) Valid() bool {
	switch s {
	case InvocationExecuted, InvocationSkipped, InvocationFailed:
		return true
	}
	return false
}

// Gate rule identifiers, in evaluation order.
const (
	RuleMessage    = "message"
	RuleStage      = "stage"
	RuleEntity     = "entity"
	RuleAttributes = "attributes"
	RulePreImage   = "pre_image"
	RulePostImage  = "post_image"
	RuleCondition  = "condition"
)

// Invocation is the journal record of one plugin invocation.
type Invocation struct {
	ID            string           `json:"id"`
	Plugin        string           `json:"plugin"`
	Message       string           `json:"message"`
	Stage         int              `json:"stage"`
	Entity        string           `json:"entity"`
	EntityID      string           `json:"entity_id,omitempty"`
	CorrelationID string           `json:"correlation_id,omitempty"`
	Status        InvocationStatus `json:"status"`
	Diagnostic    string           `json:"diagnostic,omitempty"`
	ErrorCode     string           `json:"error_code,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	Duration      time.Duration    `json:"duration"`
	Trace         []string         `json:"trace,omitempty"`
}
