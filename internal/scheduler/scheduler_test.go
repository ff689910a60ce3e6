package scheduler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rappen/RappSack/internal/store"
	"github.com/rappen/RappSack/pkg/schema"
)

// mockSchedulerStore satisfies store.Store for scheduler tests.
type mockSchedulerStore struct {
	store.Store
	mu   sync.Mutex
	jobs map[string]*store.ScheduledJob

	purgedBefore []time.Time
	vacuums      int
}

func newMockSchedulerStore() *mockSchedulerStore {
	return &mockSchedulerStore{jobs: make(map[string]*store.ScheduledJob)}
}

func (m *mockSchedulerStore) CreateScheduledJob(_ context.Context, job *store.ScheduledJob) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", job.ID)
	}
	cp := *job
	m.jobs[job.ID] = &cp
	return nil
}

func (m *mockSchedulerStore) GetScheduledJob(_ context.Context, id string) (*store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "scheduled job %q not found", id)
	}
	cp := *j
	return &cp, nil
}

func (m *mockSchedulerStore) UpdateScheduledJob(_ context.Context, id string, update store.ScheduledJobUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return nil
	}
	if update.Enabled != nil {
		j.Enabled = *update.Enabled
	}
	if update.LastRunAt != nil {
		j.LastRunAt = update.LastRunAt
	}
	if update.NextRunAt != nil {
		j.NextRunAt = update.NextRunAt
	}
	if update.LastRunStatus != "" {
		j.LastRunStatus = update.LastRunStatus
	}
	return nil
}

func (m *mockSchedulerStore) ListScheduledJobs(_ context.Context, filter store.ScheduledJobFilter) ([]*store.ScheduledJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var result []*store.ScheduledJob
	for _, j := range m.jobs {
		if filter.Enabled != nil && j.Enabled != *filter.Enabled {
			continue
		}
		if filter.Task != "" && j.Task != filter.Task {
			continue
		}
		cp := *j
		result = append(result, &cp)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockSchedulerStore) PurgeInvocations(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgedBefore = append(m.purgedBefore, before)
	return 3, nil
}

func (m *mockSchedulerStore) Vacuum(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vacuums++
	return nil
}

// recorder is a task that tracks its calls.
type recorder struct {
	mu     sync.Mutex
	params []map[string]any
	err    error
}

func (r *recorder) task(_ context.Context, params map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.params = append(r.params, params)
	return r.err
}

func (r *recorder) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.params)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(s store.Store, tasks map[string]Task) *Scheduler {
	sched := NewScheduler(s, quietLogger())
	for name, task := range tasks {
		sched.RegisterTask(name, task)
	}
	return sched
}

func dueJob(id, task string, next *time.Time) *store.ScheduledJob {
	return &store.ScheduledJob{
		ID:             id,
		Task:           task,
		CronExpression: "0 * * * *",
		Enabled:        true,
		NextRunAt:      next,
	}
}

// --- Tests ---

func TestCalculateNextRun(t *testing.T) {
	sched := newTestScheduler(newMockSchedulerStore(), nil)
	from := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	// Every hour at minute 0.
	next, err := sched.CalculateNextRun("0 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 13, 0, 0, 0, time.UTC), next)

	// Every 15 minutes.
	next, err = sched.CalculateNextRun("*/15 * * * *", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 10, 12, 15, 0, 0, time.UTC), next)

	// Descriptor.
	next, err = sched.CalculateNextRun("@daily", from)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC), next)

	// Invalid expression.
	_, err = sched.CalculateNextRun("invalid cron", from)
	require.Error(t, err)
}

func TestTickRunsDueJobs(t *testing.T) {
	ms := newMockSchedulerStore()
	rec := &recorder{}
	sched := newTestScheduler(ms, map[string]Task{"sweep": rec.task})

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("job-1", "sweep", &past)))

	sched.tick(ctx)

	assert.Equal(t, 1, rec.callCount())
	got, _ := ms.GetScheduledJob(ctx, "job-1")
	assert.NotNil(t, got.LastRunAt)
	assert.NotNil(t, got.NextRunAt)
	assert.Equal(t, StatusSuccess, got.LastRunStatus)
}

func TestTickSkipsNotDueAndDisabledJobs(t *testing.T) {
	ms := newMockSchedulerStore()
	rec := &recorder{}
	sched := newTestScheduler(ms, map[string]Task{"sweep": rec.task})

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	future := time.Now().UTC().Add(time.Hour)
	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("job-future", "sweep", &future)))
	disabled := dueJob("job-disabled", "sweep", &past)
	disabled.Enabled = false
	require.NoError(t, ms.CreateScheduledJob(ctx, disabled))

	sched.tick(ctx)

	assert.Equal(t, 0, rec.callCount())
}

func TestTickPassesParams(t *testing.T) {
	ms := newMockSchedulerStore()
	rec := &recorder{}
	sched := newTestScheduler(ms, map[string]Task{"purge": rec.task})

	ctx := context.Background()
	past := time.Now().UTC().Add(-30 * time.Minute)
	job := dueJob("job-params", "purge", &past)
	job.CronExpression = "*/15 * * * *"
	job.Params = json.RawMessage(`{"retention_days":7}`)
	require.NoError(t, ms.CreateScheduledJob(ctx, job))

	sched.tick(ctx)

	require.Equal(t, 1, rec.callCount())
	assert.Equal(t, float64(7), rec.params[0]["retention_days"])

	got, _ := ms.GetScheduledJob(ctx, "job-params")
	assert.True(t, got.NextRunAt.After(time.Now().UTC().Add(-time.Second)))
}

func TestJobFailures(t *testing.T) {
	tests := []struct {
		name   string
		task   string
		params json.RawMessage
		run    Task
	}{
		{"task error", "t", nil, func(context.Context, map[string]any) error { return assert.AnError }},
		{"task panic", "t", nil, func(context.Context, map[string]any) error { panic("boom") }},
		{"unknown task", "missing", nil, nil},
		{"bad params", "t", json.RawMessage(`[1,2]`), func(context.Context, map[string]any) error { return nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ms := newMockSchedulerStore()
			tasks := map[string]Task{}
			if tt.run != nil {
				tasks["t"] = tt.run
			}
			sched := newTestScheduler(ms, tasks)
			ctx := context.Background()
			past := time.Now().UTC().Add(-time.Hour)
			job := dueJob("job-fail", tt.task, &past)
			job.Params = tt.params
			require.NoError(t, ms.CreateScheduledJob(ctx, job))

			sched.tick(ctx)

			got, _ := ms.GetScheduledJob(ctx, "job-fail")
			assert.Equal(t, StatusError, got.LastRunStatus)
			assert.True(t, got.NextRunAt.After(past))
		})
	}
}

func TestMissedRecovery(t *testing.T) {
	ms := newMockSchedulerStore()
	rec := &recorder{}
	sched := newTestScheduler(ms, map[string]Task{"vacuum": rec.task})

	ctx := context.Background()
	past := time.Now().UTC().Add(-2 * time.Hour)
	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("job-missed", "vacuum", &past)))
	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("job-never-ran", "vacuum", nil)))

	require.NoError(t, sched.RecoverMissed(ctx))

	assert.Equal(t, 1, rec.callCount(), "jobs without a next run are left to the loop")
	got, _ := ms.GetScheduledJob(ctx, "job-missed")
	assert.Equal(t, StatusSuccess, got.LastRunStatus)
	assert.True(t, got.NextRunAt.After(time.Now().UTC()))
}

func TestStartStop(t *testing.T) {
	sched := newTestScheduler(newMockSchedulerStore(), nil)
	ctx := context.Background()

	require.NoError(t, sched.Start(ctx))

	err := sched.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already started")

	require.NoError(t, sched.Stop())
	// Stop again should be a no-op.
	require.NoError(t, sched.Stop())
}

func TestDedupPreventsDoubleRun(t *testing.T) {
	ms := newMockSchedulerStore()
	rec := &recorder{}
	sched := newTestScheduler(ms, map[string]Task{"sweep": rec.task})

	ctx := context.Background()
	past := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, ms.CreateScheduledJob(ctx, dueJob("job-dedup", "sweep", &past)))

	// Pre-acquire the job to simulate an in-flight execution.
	assert.True(t, sched.tryAcquire("job-dedup"))

	sched.tick(ctx)
	assert.Equal(t, 0, rec.callCount())

	sched.releaseJob("job-dedup")
	sched.tick(ctx)
	assert.Equal(t, 1, rec.callCount())
}

func TestEnsure(t *testing.T) {
	ms := newMockSchedulerStore()
	sched := newTestScheduler(ms, map[string]Task{TaskVacuum: Vacuum(ms)})
	ctx := context.Background()

	require.NoError(t, sched.Ensure(ctx, "nightly-vacuum", TaskVacuum, "0 3 * * *", nil))
	got, err := ms.GetScheduledJob(ctx, "nightly-vacuum")
	require.NoError(t, err)
	assert.True(t, got.Enabled)
	require.NotNil(t, got.NextRunAt)
	assert.Equal(t, 3, got.NextRunAt.Hour())

	// Existing jobs keep their state.
	disabled := false
	require.NoError(t, ms.UpdateScheduledJob(ctx, "nightly-vacuum", store.ScheduledJobUpdate{Enabled: &disabled}))
	require.NoError(t, sched.Ensure(ctx, "nightly-vacuum", TaskVacuum, "0 4 * * *", nil))
	got, _ = ms.GetScheduledJob(ctx, "nightly-vacuum")
	assert.False(t, got.Enabled)
	assert.Equal(t, "0 3 * * *", got.CronExpression)

	err = sched.Ensure(ctx, "x", "nope", "@daily", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))
	err = sched.Ensure(ctx, "y", TaskVacuum, "not cron", nil)
	assert.True(t, schema.HasCode(err, schema.ErrCodeConfiguration))
}

func TestTasksSorted(t *testing.T) {
	noop := func(context.Context, map[string]any) error { return nil }
	sched := newTestScheduler(newMockSchedulerStore(), map[string]Task{"b": noop, "a": noop})
	assert.Equal(t, []string{"a", "b"}, sched.Tasks())
}
