package store

import (
	"encoding/json"
	"time"

	"github.com/rappen/RappSack/pkg/schema"
)

// EnvironmentVariable is a named value plugins read with system rights.
// Secret values are held encrypted; Value is then the ciphertext.
type EnvironmentVariable struct {
	Name      string    `json:"name"`
	Value     []byte    `json:"-"`
	Secret    bool      `json:"secret"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ScheduledJob is a cron-triggered maintenance task.
type ScheduledJob struct {
	ID             string          `json:"id"`
	Task           string          `json:"task"`
	CronExpression string          `json:"cron_expression"`
	Params         json.RawMessage `json:"params,omitempty"`
	Enabled        bool            `json:"enabled"`
	LastRunAt      *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt      *time.Time      `json:"next_run_at,omitempty"`
	LastRunStatus  string          `json:"last_run_status,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// --- Filter and update types ---

// InvocationFilter specifies criteria for listing journaled invocations.
// Results are ordered newest first and carry no trace lines.
type InvocationFilter struct {
	Plugin        string                   `json:"plugin,omitempty"`
	Status        *schema.InvocationStatus `json:"status,omitempty"`
	Entity        string                   `json:"entity,omitempty"`
	CorrelationID string                   `json:"correlation_id,omitempty"`
	Since         *time.Time               `json:"since,omitempty"`
	Limit         int                      `json:"limit,omitempty"`
	Offset        int                      `json:"offset,omitempty"`
}

// InvocationStats counts journaled invocations per status.
type InvocationStats struct {
	Total    int64                             `json:"total"`
	ByStatus map[schema.InvocationStatus]int64 `json:"by_status"`
}

// ScheduledJobUpdate specifies mutable fields of a scheduled job.
type ScheduledJobUpdate struct {
	Enabled       *bool      `json:"enabled,omitempty"`
	LastRunAt     *time.Time `json:"last_run_at,omitempty"`
	NextRunAt     *time.Time `json:"next_run_at,omitempty"`
	LastRunStatus string     `json:"last_run_status,omitempty"`
}

// ScheduledJobFilter specifies criteria for listing scheduled jobs.
type ScheduledJobFilter struct {
	Enabled *bool  `json:"enabled,omitempty"`
	Task    string `json:"task,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}
