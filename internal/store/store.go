package store

import (
	"context"
	"time"

	"github.com/rappen/RappSack/pkg/schema"
)

// Store defines the persistence layer contract.
// All implementations must be safe for concurrent use.
type Store interface {
	// Invocation journal
	RecordInvocation(ctx context.Context, inv *schema.Invocation) error
	GetInvocation(ctx context.Context, id string) (*schema.Invocation, error)
	ListInvocations(ctx context.Context, filter InvocationFilter) ([]*schema.Invocation, error)
	InvocationStats(ctx context.Context, since time.Time) (*InvocationStats, error)
	PurgeInvocations(ctx context.Context, before time.Time) (int64, error)

	// Environment variables
	SetEnvironmentVariable(ctx context.Context, v *EnvironmentVariable) error
	GetEnvironmentVariable(ctx context.Context, name string) (*EnvironmentVariable, error)
	DeleteEnvironmentVariable(ctx context.Context, name string) error
	ListEnvironmentVariables(ctx context.Context) ([]*EnvironmentVariable, error)

	// Scheduled Jobs
	CreateScheduledJob(ctx context.Context, job *ScheduledJob) error
	GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error)
	UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error
	ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error)
	DeleteScheduledJob(ctx context.Context, id string) error

	// Maintenance
	Migrate(ctx context.Context) error
	Vacuum(ctx context.Context) error

	// Lifecycle
	Close() error
}
