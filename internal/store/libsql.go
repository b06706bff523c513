package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/rendis/skillscript/pkg/schema"
)

// LibSQLJournal implements Journal on an embedded libSQL database.
type LibSQLJournal struct {
	db *sql.DB
}

var _ Journal = (*LibSQLJournal)(nil)

// NewLibSQLJournal opens the database at path. Plain file paths are turned
// into file: URIs.
func NewLibSQLJournal(path string) (*LibSQLJournal, error) {
	dsn := path
	if !strings.HasPrefix(dsn, "file:") && !strings.Contains(dsn, "://") {
		dsn = "file:" + dsn
	}
	db, err := sql.Open("libsql", dsn)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "open libsql: %s", err.Error()).WithCause(err)
	}
	db.SetMaxOpenConns(1)

	// Some PRAGMAs return rows, so they go through QueryRow.
	for _, p := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA temp_store=MEMORY",
	} {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLJournal{db: db}, nil
}

// Close closes the database.
func (j *LibSQLJournal) Close() error { return j.db.Close() }

// Migrate runs all pending migrations.
func (j *LibSQLJournal) Migrate(ctx context.Context) error {
	if _, err := runMigrations(ctx, j.db); err != nil {
		return schema.NewError(schema.ErrCodeStore, err.Error()).WithCause(err)
	}
	return nil
}

// --- Events ---

// AppendEvent stores event with the next per-task sequence number and fills
// in ID, Sequence and Timestamp.
func (j *LibSQLJournal) AppendEvent(ctx context.Context, event *Event) error {
	if event.TaskID == "" || event.Type == "" {
		return schema.NewError(schema.ErrCodeValidation, "event requires task_id and event_type")
	}

	tx, err := j.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE task_id = ?`, event.TaskID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}

	event.Sequence = seq
	event.Timestamp = timeOrNow(event.Timestamp)

	res, err := tx.ExecContext(ctx,
		`INSERT INTO events (task_id, actor_id, step, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		event.TaskID, nullStr(event.ActorID), nullStr(event.Step), event.Type,
		nullRaw(event.Payload), event.Timestamp, seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		event.ID = id
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

// GetEvents returns the events of a task with sequence > since, oldest first.
func (j *LibSQLJournal) GetEvents(ctx context.Context, taskID string, since int64) ([]*Event, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, task_id, actor_id, step, event_type, payload, timestamp, sequence
		 FROM events WHERE task_id = ? AND sequence > ? ORDER BY sequence ASC`,
		taskID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// ListEvents returns events matching filter, newest first.
func (j *LibSQLJournal) ListEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	var where []string
	var args []any

	if filter.TaskID != "" {
		where = append(where, "task_id = ?")
		args = append(args, filter.TaskID)
	}
	if filter.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, filter.ActorID)
	}
	if filter.EventType != "" {
		where = append(where, "event_type = ?")
		args = append(args, filter.EventType)
	}
	if filter.Since != nil {
		where = append(where, "timestamp >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, task_id, actor_id, step, event_type, payload, timestamp, sequence FROM events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

func scanEvents(rows *sql.Rows) ([]*Event, error) {
	var events []*Event
	for rows.Next() {
		e := &Event{}
		var actorID, step, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TaskID, &actorID, &step, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.ActorID = actorID.String
		e.Step = step.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Triggers ---

// CreateTrigger inserts a trigger. TriggerName defaults to schema.DefaultTrigger.
func (j *LibSQLJournal) CreateTrigger(ctx context.Context, t *Trigger) error {
	if t.TriggerName == "" {
		t.TriggerName = schema.DefaultTrigger
	}
	t.CreatedAt = timeOrNow(t.CreatedAt)
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO triggers (id, cron_expression, script, trigger_name, actor_id, enabled, next_run_at, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.CronExpression, t.Script, t.TriggerName, t.ActorID, boolInt(t.Enabled), nullTime(t.NextRunAt), t.CreatedAt,
	)
	if err != nil && strings.Contains(strings.ToLower(err.Error()), "unique") {
		return schema.NewErrorf(schema.ErrCodeConflict, "trigger %q already exists", t.ID).WithCause(err)
	}
	return err
}

const triggerColumns = `id, cron_expression, script, trigger_name, actor_id, enabled, last_run_at, next_run_at, last_run_status, created_at`

// GetTrigger returns one trigger or NOT_FOUND.
func (j *LibSQLJournal) GetTrigger(ctx context.Context, id string) (*Trigger, error) {
	row := j.db.QueryRowContext(ctx, `SELECT `+triggerColumns+` FROM triggers WHERE id = ?`, id)
	t, err := scanTrigger(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("trigger", id)
	}
	return t, err
}

// UpdateTrigger applies the non-nil fields of update.
func (j *LibSQLJournal) UpdateTrigger(ctx context.Context, id string, update TriggerUpdate) error {
	var sets []string
	var args []any
	if update.Enabled != nil {
		sets = append(sets, "enabled = ?")
		args = append(args, boolInt(*update.Enabled))
	}
	if update.LastRunAt != nil {
		sets = append(sets, "last_run_at = ?")
		args = append(args, *update.LastRunAt)
	}
	if update.NextRunAt != nil {
		sets = append(sets, "next_run_at = ?")
		args = append(args, *update.NextRunAt)
	}
	if update.LastRunStatus != "" {
		sets = append(sets, "last_run_status = ?")
		args = append(args, update.LastRunStatus)
	}
	if len(sets) == 0 {
		return nil
	}
	args = append(args, id)
	res, err := j.db.ExecContext(ctx, `UPDATE triggers SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "trigger", id)
}

// ListTriggers returns triggers matching filter, oldest first.
func (j *LibSQLJournal) ListTriggers(ctx context.Context, filter TriggerFilter) ([]*Trigger, error) {
	var where []string
	var args []any
	if filter.Enabled != nil {
		where = append(where, "enabled = ?")
		args = append(args, boolInt(*filter.Enabled))
	}
	if filter.ActorID != "" {
		where = append(where, "actor_id = ?")
		args = append(args, filter.ActorID)
	}

	query := `SELECT ` + triggerColumns + ` FROM triggers`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Trigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// DeleteTrigger removes a trigger or returns NOT_FOUND.
func (j *LibSQLJournal) DeleteTrigger(ctx context.Context, id string) error {
	res, err := j.db.ExecContext(ctx, `DELETE FROM triggers WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "trigger", id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(r rowScanner) (*Trigger, error) {
	t := &Trigger{}
	var enabled int
	var lastRun, nextRun sql.NullTime
	var lastStatus sql.NullString
	if err := r.Scan(&t.ID, &t.CronExpression, &t.Script, &t.TriggerName, &t.ActorID,
		&enabled, &lastRun, &nextRun, &lastStatus, &t.CreatedAt); err != nil {
		return nil, err
	}
	t.Enabled = enabled != 0
	if lastRun.Valid {
		t.LastRunAt = &lastRun.Time
	}
	if nextRun.Valid {
		t.NextRunAt = &nextRun.Time
	}
	t.LastRunStatus = lastStatus.String
	return t, nil
}

// --- helpers ---

func storeNotFound(resource, id string) *schema.ScriptError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
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
	return *t
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

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
