package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tburke/arbiter/internal/model"

	_ "modernc.org/sqlite"
)

const createTasksTable = `
CREATE TABLE IF NOT EXISTS tasks (
    id           TEXT PRIMARY KEY,
    status       TEXT NOT NULL,
    input        BLOB,
    response     TEXT,
    created_at   INTEGER NOT NULL,
    finalized_at INTEGER
)`

const createResponsesTable = `
CREATE TABLE IF NOT EXISTS task_responses (
    id          TEXT PRIMARY KEY,
    task_id     TEXT NOT NULL REFERENCES tasks(id),
    operator_id TEXT NOT NULL,
    response    TEXT NOT NULL,
    signature   TEXT NOT NULL,
    created_at  INTEGER NOT NULL,
    UNIQUE (task_id, operator_id)
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	for _, ddl := range []string{createTasksTable, createResponsesTable} {
		if _, err := db.Exec(ddl); err != nil {
			db.Close()
			return nil, fmt.Errorf("run migration: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateTask inserts a new task record.
func (s *SQLiteStore) CreateTask(ctx context.Context, t *model.Task) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, status, input, response, created_at, finalized_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		t.ID, t.Status, t.Input, t.Response, t.CreatedAt.UnixMilli(), timeMilli(t.FinalizedAt),
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, input, response, created_at, finalized_at
		 FROM tasks WHERE id = ?`, id,
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns a paginated list of tasks ordered by created_at DESC,
// along with the total count of all tasks.
func (s *SQLiteStore) ListTasks(ctx context.Context, limit, offset int) ([]*model.Task, int, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, 0, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	var total int
	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM tasks").Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT id, status, input, response, created_at, finalized_at
		 FROM tasks ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`, limit, offset,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks, err := collectTasks(rows)
	if err != nil {
		return nil, 0, err
	}
	return tasks, total, nil
}

// ListTasksByStatus returns up to limit tasks in the given status, oldest first.
func (s *SQLiteStore) ListTasksByStatus(ctx context.Context, status string, limit int) ([]*model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, status, input, response, created_at, finalized_at
		 FROM tasks WHERE status = ? ORDER BY created_at ASC, id ASC LIMIT ?`, status, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list tasks by status: %w", err)
	}
	defer rows.Close()
	return collectTasks(rows)
}

// NextReadyTask returns the oldest ready task without a response from the
// given operator. Ties on created_at break by id order.
func (s *SQLiteStore) NextReadyTask(ctx context.Context, operatorID string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT t.id, t.status, t.input, t.response, t.created_at, t.finalized_at
		 FROM tasks t
		 WHERE t.status = ?
		   AND NOT EXISTS (
		       SELECT 1 FROM task_responses r
		       WHERE r.task_id = t.id AND r.operator_id = ?
		   )
		 ORDER BY t.created_at ASC, t.id ASC
		 LIMIT 1`,
		model.StatusReady, operatorID,
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("next ready task: %w", err)
	}
	return t, nil
}

// InsertResponse inserts a response unless one already exists for the same
// (task, operator) pair. The conflict target is the uniqueness constraint,
// so concurrent inserts for the same pair yield exactly one success.
func (s *SQLiteStore) InsertResponse(ctx context.Context, r *model.TaskResponse) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO task_responses (id, task_id, operator_id, response, signature, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (task_id, operator_id) DO NOTHING`,
		r.ID, r.TaskID, r.OperatorID, r.Response, r.Signature, r.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert response: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrDuplicateResponse
	}
	return nil
}

// ListResponses returns all responses for a task in admission order.
func (s *SQLiteStore) ListResponses(ctx context.Context, taskID string) ([]*model.TaskResponse, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, operator_id, response, signature, created_at
		 FROM task_responses WHERE task_id = ? ORDER BY created_at ASC, id ASC`, taskID,
	)
	if err != nil {
		return nil, fmt.Errorf("list responses: %w", err)
	}
	defer rows.Close()

	var responses []*model.TaskResponse
	for rows.Next() {
		r := &model.TaskResponse{}
		var createdMs int64
		if err := rows.Scan(&r.ID, &r.TaskID, &r.OperatorID, &r.Response, &r.Signature, &createdMs); err != nil {
			return nil, fmt.Errorf("scan response: %w", err)
		}
		r.CreatedAt = time.UnixMilli(createdMs).UTC()
		responses = append(responses, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate responses: %w", err)
	}
	return responses, nil
}

// CountResponses returns the number of responses stored for a task.
func (s *SQLiteStore) CountResponses(ctx context.Context, taskID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM task_responses WHERE task_id = ?", taskID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count responses: %w", err)
	}
	return n, nil
}

// FinalizeTask transitions a task out of ready. The update is guarded by the
// current status so that a task that is already terminal is never rewritten.
func (s *SQLiteStore) FinalizeTask(ctx context.Context, taskID, status string, response *string) error {
	if !model.ValidTransition(model.StatusReady, status) {
		return ErrInvalidTransition
	}

	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, response = ?, finalized_at = ?
		 WHERE id = ? AND status = ?`,
		status, response, time.Now().UTC().UnixMilli(), taskID, model.StatusReady,
	)
	if err != nil {
		return fmt.Errorf("finalize task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		// Either the task does not exist or it is no longer ready.
		var current string
		err := s.db.QueryRowContext(ctx, "SELECT status FROM tasks WHERE id = ?", taskID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check task status: %w", err)
		}
		return ErrInvalidTransition
	}
	return nil
}

// GetTaskStats computes aggregate task and response statistics.
func (s *SQLiteStore) GetTaskStats(ctx context.Context) (*TaskStats, error) {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("begin read tx: %w", err)
	}
	defer tx.Rollback()

	stats := &TaskStats{CountByStatus: make(map[string]int)}

	rows, err := tx.QueryContext(ctx, "SELECT status, COUNT(*) FROM tasks GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count tasks by status: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		stats.CountByStatus[status] = n
		stats.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}

	if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM task_responses").Scan(&stats.TotalResponses); err != nil {
		return nil, fmt.Errorf("count responses: %w", err)
	}
	if stats.Total > 0 {
		stats.AvgResponses = float64(stats.TotalResponses) / float64(stats.Total)
	}
	return stats, nil
}

// scanner abstracts *sql.Row and *sql.Rows for task scanning.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*model.Task, error) {
	t := &model.Task{}
	var createdMs int64
	var finalizedMs sql.NullInt64
	if err := row.Scan(&t.ID, &t.Status, &t.Input, &t.Response, &createdMs, &finalizedMs); err != nil {
		return nil, err
	}
	t.CreatedAt = time.UnixMilli(createdMs).UTC()
	if finalizedMs.Valid {
		ft := time.UnixMilli(finalizedMs.Int64).UTC()
		t.FinalizedAt = &ft
	}
	return t, nil
}

func collectTasks(rows *sql.Rows) ([]*model.Task, error) {
	var tasks []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

func timeMilli(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}
