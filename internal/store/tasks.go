package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

const DefaultPriority = 5

// Subtask is the unit of work submitted when a swarm session is created.
// The whole value is stored as the task payload. A nil Priority stores
// DefaultPriority; zero is a valid priority.
type Subtask struct {
	Type     string `json:"type"`
	Goal     string `json:"goal"`
	Context  string `json:"context,omitempty"`
	Priority *int   `json:"priority,omitempty"`
}

// Priority returns a pointer for Subtask.Priority.
func Priority(p int) *int {
	return &p
}

// Task is one row of the tasks table.
type Task struct {
	ID          string          `json:"task_id"`
	ParentID    string          `json:"parent_id,omitempty"`
	Status      TaskStatus      `json:"status"`
	Priority    int             `json:"priority"`
	WorkerType  string          `json:"worker_type"`
	Payload     json.RawMessage `json:"payload"`
	Result      json.RawMessage `json:"result,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ClaimedAt   *time.Time      `json:"claimed_at,omitempty"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// Runnable is the decoded view of a pending subtask handed to a worker.
type Runnable struct {
	TaskID     string `json:"task_id"`
	SessionID  string `json:"session_id"`
	WorkerType string `json:"worker_type"`
	Goal       string `json:"goal"`
	Context    string `json:"context,omitempty"`
	Priority   int    `json:"priority"`
}

const taskColumns = `task_id, parent_id, status, priority, worker_type, payload, result, created_at, claimed_at, completed_at`

func scanTask(sc scanner) (*Task, error) {
	t := &Task{}
	var parentID, result sql.NullString
	var payload string
	err := sc.Scan(&t.ID, &parentID, &t.Status, &t.Priority, &t.WorkerType, &payload, &result, &t.CreatedAt, &t.ClaimedAt, &t.CompletedAt)
	if err != nil {
		return nil, err
	}
	t.ParentID = parentID.String
	t.Payload = json.RawMessage(payload)
	if result.Valid {
		t.Result = json.RawMessage(result.String)
	}
	return t, nil
}

func insertTask(ctx context.Context, tx *sql.Tx, parentID *string, st Subtask, now time.Time) (string, error) {
	priority := DefaultPriority
	if st.Priority != nil {
		priority = *st.Priority
	}
	st.Priority = &priority
	payload, err := json.Marshal(st)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	id := uuid.New().String()
	_, err = tx.ExecContext(ctx, `
		INSERT INTO tasks (task_id, parent_id, status, priority, worker_type, payload, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, parentID, TaskPending, priority, st.Type, string(payload), now)
	if err != nil {
		return "", err
	}
	return id, nil
}

// EnqueueTask stores a top-level task that belongs to no swarm session.
func (s *Store) EnqueueTask(ctx context.Context, st Subtask) (string, error) {
	if st.Type == "" {
		return "", fmt.Errorf("enqueue task: worker type is required")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storeErr("begin enqueue task", err)
	}
	defer tx.Rollback()

	id, err := insertTask(ctx, tx, nil, st, time.Now().UTC())
	if err != nil {
		return "", storeErr("insert task", err)
	}
	if err := tx.Commit(); err != nil {
		return "", storeErr("commit enqueue task", err)
	}
	return id, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE task_id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// ListTasks returns every task of a session, highest priority first.
func (s *Store) ListTasks(ctx context.Context, sessionID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM tasks
		WHERE parent_id = ?
		ORDER BY priority DESC, created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, *t)
	}
	return tasks, rows.Err()
}

// GetParallelSubtasks returns the pending subtasks of a session. No order is
// guaranteed; dispatch order is the caller's concern.
func (s *Store) GetParallelSubtasks(ctx context.Context, sessionID string) ([]Runnable, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, worker_type, priority, payload FROM tasks
		WHERE parent_id = ? AND status = ?`, sessionID, TaskPending)
	if err != nil {
		return nil, fmt.Errorf("get parallel subtasks: %w", err)
	}
	defer rows.Close()

	var out []Runnable
	for rows.Next() {
		r, err := scanRunnable(rows, sessionID)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// scanRunnable decodes task_id, worker_type, priority and payload, followed
// by any extra columns.
func scanRunnable(sc scanner, sessionID string, extra ...any) (Runnable, error) {
	r := Runnable{SessionID: sessionID}
	var payload string
	dest := append([]any{&r.TaskID, &r.WorkerType, &r.Priority, &payload}, extra...)
	if err := sc.Scan(dest...); err != nil {
		return r, fmt.Errorf("scan subtask: %w", err)
	}
	var st Subtask
	if err := json.Unmarshal([]byte(payload), &st); err != nil {
		return r, fmt.Errorf("decode payload of task %s: %w", r.TaskID, err)
	}
	r.Goal = st.Goal
	r.Context = st.Context
	return r, nil
}

// ClaimTask moves a pending task to running and stamps the claim time.
func (s *Store) ClaimTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE tasks SET status = ?, claimed_at = ? WHERE task_id = ? AND status = ?`,
		TaskRunning, time.Now().UTC(), id, TaskPending)
	if err != nil {
		return storeErr("claim task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return storeErr("claim task rows affected", err)
	}
	if n == 1 {
		return nil
	}

	t, err := s.GetTask(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("claim task %s in status %s: %w", id, t.Status, ErrInvalidTransition)
}

// CompleteTask marks a task completed, stores its result and counts it
// against the parent session, all in one transaction. A task is counted at
// most once: completing an already completed task is a no-op and reports
// false.
func (s *Store) CompleteTask(ctx context.Context, id string, result any) (bool, error) {
	resultJSON, err := json.Marshal(result)
	if err != nil {
		return false, fmt.Errorf("marshal result: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, storeErr("begin complete task", err)
	}
	defer tx.Rollback()

	var parentID sql.NullString
	var status TaskStatus
	err = tx.QueryRowContext(ctx, `SELECT parent_id, status FROM tasks WHERE task_id = ?`, id).Scan(&parentID, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return false, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return false, storeErr("read task", err)
	}

	switch status {
	case TaskCompleted:
		slog.Debug("task already completed, ignoring duplicate", "task", id)
		return false, nil
	case TaskFailed:
		return false, fmt.Errorf("complete task %s in status %s: %w", id, status, ErrInvalidTransition)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE tasks SET status = ?, result = ?, completed_at = ?
		WHERE task_id = ? AND status IN (?, ?)`,
		TaskCompleted, string(resultJSON), time.Now().UTC(), id, TaskPending, TaskRunning)
	if err != nil {
		return false, storeErr("update task", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return false, storeErr("update task", fmt.Errorf("expected 1 row, got %d (%v)", n, err))
	}

	if parentID.Valid {
		_, err = tx.ExecContext(ctx, `
			UPDATE swarm_sessions
			SET completed_count = completed_count + 1,
			    status = CASE WHEN completed_count + 1 >= subtask_count THEN ? ELSE status END
			WHERE session_id = ? AND completed_count < subtask_count`,
			SessionCompleted, parentID.String)
		if err != nil {
			return false, storeErr("increment session", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, storeErr("commit complete task", err)
	}
	return true, nil
}

// FailTask marks a pending or running task failed. Failed tasks never count
// towards session completion. Failing an already failed task reports false.
func (s *Store) FailTask(ctx context.Context, id string, reason string) (bool, error) {
	resultJSON, _ := json.Marshal(map[string]string{"error": reason})

	res, err := s.db.ExecContext(ctx, `
		UPDATE tasks SET status = ?, result = ?, completed_at = ?
		WHERE task_id = ? AND status IN (?, ?)`,
		TaskFailed, string(resultJSON), time.Now().UTC(), id, TaskPending, TaskRunning)
	if err != nil {
		return false, storeErr("fail task", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, storeErr("fail task rows affected", err)
	}
	if n == 1 {
		return true, nil
	}

	t, err := s.GetTask(ctx, id)
	if err != nil {
		return false, err
	}
	if t.Status == TaskFailed {
		return false, nil
	}
	return false, fmt.Errorf("fail task %s in status %s: %w", id, t.Status, ErrInvalidTransition)
}

// ReclaimStale renews the claim of every running task of a session whose
// claim is older than olderThan and returns those tasks for dispatch. The
// tasks stay running; a task claimed by a coordinator that died before
// dispatching it is handed out again instead of waiting forever. Tasks
// claimed before claim times were recorded count as stale.
func (s *Store) ReclaimStale(ctx context.Context, sessionID string, olderThan time.Duration) ([]Runnable, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin reclaim", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT task_id, worker_type, priority, payload, claimed_at FROM tasks
		WHERE parent_id = ? AND status = ?`, sessionID, TaskRunning)
	if err != nil {
		return nil, storeErr("list running tasks", err)
	}
	var stale []Runnable
	for rows.Next() {
		var claimedAt *time.Time
		r, err := scanRunnable(rows, sessionID, &claimedAt)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if claimedAt == nil || claimedAt.Before(cutoff) {
			stale = append(stale, r)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, storeErr("iterate running tasks", err)
	}

	for _, r := range stale {
		_, err := tx.ExecContext(ctx, `UPDATE tasks SET claimed_at = ? WHERE task_id = ? AND status = ?`,
			now, r.TaskID, TaskRunning)
		if err != nil {
			return nil, storeErr("renew claim", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit reclaim", err)
	}
	return stale, nil
}
