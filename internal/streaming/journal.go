package streaming

import (
	"context"

	"github.com/rappen/RappSack/pkg/schema"
)

// Recorder persists finished invocations. Satisfied by store.Store.
type Recorder interface {
	RecordInvocation(ctx context.Context, inv *schema.Invocation) error
}

// PublishingJournal records each invocation in Next, when set, and then
// announces it on Hub. The event is published even when recording fails.
type PublishingJournal struct {
	Next Recorder
	Hub  EventHub
}

// RecordInvocation satisfies plugin.Journal.
func (j PublishingJournal) RecordInvocation(ctx context.Context, inv *schema.Invocation) error {
	var err error
	if j.Next != nil {
		err = j.Next.RecordInvocation(ctx, inv)
	}
	if j.Hub != nil {
		if perr := j.Hub.Publish(ctx, EventFrom(inv)); err == nil {
			err = perr
		}
	}
	return err
}
