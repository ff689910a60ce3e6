package streaming

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/rappen/RappSack/pkg/schema"
)

// InvocationEvent announces a finished plugin invocation. It carries the
// journal entry without its trace.
type InvocationEvent struct {
	InvocationID  string                  `json:"invocation_id"`
	Plugin        string                  `json:"plugin"`
	Status        schema.InvocationStatus `json:"status"`
	Message       string                  `json:"message"`
	Stage         int                     `json:"stage"`
	Entity        string                  `json:"entity"`
	EntityID      string                  `json:"entity_id,omitempty"`
	CorrelationID string                  `json:"correlation_id,omitempty"`
	Diagnostic    string                  `json:"diagnostic,omitempty"`
	ErrorCode     string                  `json:"error_code,omitempty"`
	StartedAt     time.Time               `json:"started_at"`
	Duration      time.Duration           `json:"duration"`
}

// EventFrom builds the event for a journal entry.
func EventFrom(inv *schema.Invocation) InvocationEvent {
	return InvocationEvent{
		InvocationID:  inv.ID,
		Plugin:        inv.Plugin,
		Status:        inv.Status,
		Message:       inv.Message,
		Stage:         inv.Stage,
		Entity:        inv.Entity,
		EntityID:      inv.EntityID,
		CorrelationID: inv.CorrelationID,
		Diagnostic:    inv.Diagnostic,
		ErrorCode:     inv.ErrorCode,
		StartedAt:     inv.StartedAt,
		Duration:      inv.Duration,
	}
}

// EventFilter specifies which events a subscriber wants to receive. Empty
// fields match everything.
type EventFilter struct {
	Plugin   string                    `json:"plugin,omitempty"`
	Entity   string                    `json:"entity,omitempty"`
	Statuses []schema.InvocationStatus `json:"statuses,omitempty"`
}

// Match reports whether e passes the filter.
func (f EventFilter) Match(e InvocationEvent) bool {
	if f.Plugin != "" && f.Plugin != e.Plugin {
		return false
	}
	if f.Entity != "" && !strings.EqualFold(f.Entity, e.Entity) {
		return false
	}
	return len(f.Statuses) == 0 || slices.Contains(f.Statuses, e.Status)
}

// EventHub provides pub/sub for finished invocations.
type EventHub interface {
	Publish(ctx context.Context, event InvocationEvent) error
	Subscribe(ctx context.Context, filter EventFilter) (<-chan InvocationEvent, func(), error)
}
