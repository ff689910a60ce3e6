package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rappen/RappSack/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/rappsack.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// SchemaVersion returns the highest applied migration.
func (s *LibSQLStore) SchemaVersion(ctx context.Context) (int, error) {
	return schemaVersion(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Invocations ---

// RecordInvocation stores an invocation and its trace lines in one transaction.
func (s *LibSQLStore) RecordInvocation(ctx context.Context, inv *schema.Invocation) error {
	if inv == nil || inv.ID == "" {
		return schema.NewError(schema.ErrCodeValidation, "invocation id is empty")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin invocation tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO invocations (id, plugin, message, stage, entity, entity_id, correlation_id, status, diagnostic, error_code, started_at, duration_us)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Plugin, inv.Message, inv.Stage, inv.Entity,
		nullStr(inv.EntityID), nullStr(inv.CorrelationID), string(inv.Status),
		nullStr(inv.Diagnostic), nullStr(inv.ErrorCode),
		timeOrNow(inv.StartedAt).UTC(), inv.Duration.Microseconds(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return schema.NewErrorf(schema.ErrCodeConflict, "invocation %q already recorded", inv.ID)
		}
		return storeError("insert invocation", err)
	}

	for i, line := range inv.Trace {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO trace_lines (invocation_id, sequence, line) VALUES (?, ?, ?)`,
			inv.ID, i+1, line,
		); err != nil {
			return storeError("insert trace line", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return storeError("commit invocation", err)
	}
	return nil
}

const invocationColumns = `id, plugin, message, stage, entity, entity_id, correlation_id, status, diagnostic, error_code, started_at, duration_us`

// GetInvocation returns one invocation with its trace lines.
func (s *LibSQLStore) GetInvocation(ctx context.Context, id string) (*schema.Invocation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invocationColumns+` FROM invocations WHERE id = ?`, id)
	inv, err := scanInvocation(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("invocation", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT line FROM trace_lines WHERE invocation_id = ? ORDER BY sequence`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return nil, err
		}
		inv.Trace = append(inv.Trace, line)
	}
	return inv, rows.Err()
}

// ListInvocations returns invocations matching filter, newest first.
func (s *LibSQLStore) ListInvocations(ctx context.Context, filter InvocationFilter) ([]*schema.Invocation, error) {
	var where []string
	var args []any

	if filter.Plugin != "" {
		where = append(where, "plugin = ?")
		args = append(args, filter.Plugin)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Entity != "" {
		where = append(where, "entity = ?")
		args = append(args, filter.Entity)
	}
	if filter.CorrelationID != "" {
		where = append(where, "correlation_id = ?")
		args = append(args, filter.CorrelationID)
	}
	if filter.Since != nil {
		where = append(where, "started_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := "SELECT " + invocationColumns + " FROM invocations"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*schema.Invocation
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

// InvocationStats counts invocations started at or after since.
func (s *LibSQLStore) InvocationStats(ctx context.Context, since time.Time) (*InvocationStats, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM invocations WHERE started_at >= ? GROUP BY status`, since.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	stats := &InvocationStats{ByStatus: make(map[schema.InvocationStatus]int64)}
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		stats.ByStatus[schema.InvocationStatus(status)] = n
		stats.Total += n
	}
	return stats, rows.Err()
}

// PurgeInvocations deletes invocations started before the cutoff, with their
// trace lines, and returns how many were removed.
func (s *LibSQLStore) PurgeInvocations(ctx context.Context, before time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin purge tx: %w", err)
	}
	defer tx.Rollback()

	cutoff := before.UTC()
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM trace_lines WHERE invocation_id IN (SELECT id FROM invocations WHERE started_at < ?)`, cutoff,
	); err != nil {
		return 0, storeError("purge trace lines", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM invocations WHERE started_at < ?`, cutoff)
	if err != nil {
		return 0, storeError("purge invocations", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, storeError("commit purge", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvocation(row rowScanner) (*schema.Invocation, error) {
	inv := &schema.Invocation{}
	var (
		entityID, correlationID, diagnostic, errorCode sql.NullString
		status                                         string
		durationUS                                     int64
	)
	if err := row.Scan(&inv.ID, &inv.Plugin, &inv.Message, &inv.Stage, &inv.Entity,
		&entityID, &correlationID, &status, &diagnostic, &errorCode,
		&inv.StartedAt, &durationUS); err != nil {
		return nil, err
	}
	inv.EntityID = entityID.String
	inv.CorrelationID = correlationID.String
	inv.Status = schema.InvocationStatus(status)
	inv.Diagnostic = diagnostic.String
	inv.ErrorCode = errorCode.String
	inv.Duration = time.Duration(durationUS) * time.Microsecond
	return inv, nil
}

// --- Environment variables ---

func (s *LibSQLStore) SetEnvironmentVariable(ctx context.Context, v *EnvironmentVariable) error {
	if v == nil || v.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "environment variable name is empty")
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO environment_variables (name, value, secret, created_at, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		 ON CONFLICT(name) DO UPDATE SET value=excluded.value, secret=excluded.secret, updated_at=CURRENT_TIMESTAMP`,
		v.Name, v.Value, boolToInt(v.Secret),
	)
	if err != nil {
		return storeError("set environment variable", err)
	}
	return nil
}

func (s *LibSQLStore) GetEnvironmentVariable(ctx context.Context, name string) (*EnvironmentVariable, error) {
	v := &EnvironmentVariable{}
	var secret int
	err := s.db.QueryRowContext(ctx,
		`SELECT name, value, secret, created_at, updated_at FROM environment_variables WHERE name = ?`, name,
	).Scan(&v.Name, &v.Value, &secret, &v.CreatedAt, &v.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("environment variable", name)
	}
	if err != nil {
		return nil, err
	}
	v.Secret = secret != 0
	return v, nil
}

func (s *LibSQLStore) DeleteEnvironmentVariable(ctx context.Context, name string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM environment_variables WHERE name = ?`, name)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "environment variable", name)
}

// ListEnvironmentVariables returns every variable sorted by name. Values
// are not loaded.
func (s *LibSQLStore) ListEnvironmentVariables(ctx context.Context) ([]*EnvironmentVariable, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name, secret, created_at, updated_at FROM environment_variables ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*EnvironmentVariable
	for rows.Next() {
		v := &EnvironmentVariable{}
		var secret int
		if err := rows.Scan(&v.Name, &secret, &v.CreatedAt, &v.UpdatedAt); err != nil {
			return nil, err
		}
		v.Secret = secret != 0
		out = append(out, v)
	}
	return out, rows.Err()
}

// --- Scheduled Jobs ---

func (s *LibSQLStore) CreateScheduledJob(ctx context.Context, job *ScheduledJob) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scheduled_jobs (id, task, cron_expression, params, enabled, last_run_at, next_run_at, last_run_status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Task, job.CronExpression, nullRaw(job.Params), boolToInt(job.Enabled),
		nullTime(job.LastRunAt), nullTime(job.NextRunAt), nullStr(job.LastRunStatus), timeOrNow(job.CreatedAt),
	)
	if err != nil && isUniqueViolation(err) {
		return schema.NewErrorf(schema.ErrCodeConflict, "scheduled job %q already exists", job.ID)
	}
	return err
}

const jobColumns = `id, task, cron_expression, params, enabled, last_run_at, next_run_at, last_run_status, created_at`

func (s *LibSQLStore) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("scheduled job", id)
	}
	return job, err
}

func (s *LibSQLStore) UpdateScheduledJob(ctx context.Context, id string, update ScheduledJobUpdate) error {
	var sets []string
	var args []any

	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolToInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, update.LastRunAt.UTC())
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, update.NextRunAt.UTC())
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx,
		"UPDATE scheduled_jobs SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func (s *LibSQLStore) ListScheduledJobs(ctx context.Context, filter ScheduledJobFilter) ([]*ScheduledJob, error) {
	var where []string
	var args []any

	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolToInt(*filter.Enabled))
	}
	if filter.Task != "" {
		where = append(where, "task = ?")
		args = append(args, filter.Task)
	}

	query := "SELECT " + jobColumns + " FROM scheduled_jobs"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*ScheduledJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *LibSQLStore) DeleteScheduledJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "scheduled job", id)
}

func scanJob(row rowScanner) (*ScheduledJob, error) {
	job := &ScheduledJob{}
	var (
		params, lastStatus sql.NullString
		lastRun, nextRun   sql.NullTime
		enabled            int
	)
	if err := row.Scan(&job.ID, &job.Task, &job.CronExpression, &params, &enabled,
		&lastRun, &nextRun, &lastStatus, &job.CreatedAt); err != nil {
		return nil, err
	}
	job.Params = rawOrNil(params)
	job.Enabled = enabled != 0
	job.LastRunStatus = lastStatus.String
	if lastRun.Valid {
		job.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		job.NextRunAt = &nextRun.Time
	}
	return job, nil
}

// --- helpers ---

func storeNotFound(resource, id string) *schema.PluginError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func storeError(op string, err error) *schema.PluginError {
	return schema.NewErrorf(schema.ErrCodeStore, "%s: %s", op, err.Error()).WithCause(err)
}

func isUniqueViolation(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "PRIMARY KEY")
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
