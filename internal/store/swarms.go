package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type SessionStatus string

const (
	SessionRunning   SessionStatus = "running"
	SessionCompleted SessionStatus = "completed"
)

// SwarmSession is the parent record of a fan-out of subtasks.
type SwarmSession struct {
	ID             string        `json:"session_id"`
	MainTask       string        `json:"main_task"`
	SubtaskCount   int           `json:"subtask_count"`
	CompletedCount int           `json:"completed_count"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
}

// Progress counts the tasks of a session by status.
type Progress struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Running   int `json:"running"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
}

// Settled reports whether no task is waiting or in flight.
func (p Progress) Settled() bool {
	return p.Pending == 0 && p.Running == 0
}

const sessionColumns = `session_id, main_task, subtask_count, completed_count, status, created_at`

func scanSession(sc scanner) (*SwarmSession, error) {
	ss := &SwarmSession{}
	err := sc.Scan(&ss.ID, &ss.MainTask, &ss.SubtaskCount, &ss.CompletedCount, &ss.Status, &ss.CreatedAt)
	if err != nil {
		return nil, err
	}
	return ss, nil
}

// CreateSwarmSession writes the session row and one pending task per subtask
// in a single transaction.
func (s *Store) CreateSwarmSession(ctx context.Context, mainTask string, subtasks []Subtask) (string, error) {
	for i, st := range subtasks {
		if st.Type == "" {
			return "", fmt.Errorf("subtask %d: worker type is required", i)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", storeErr("begin create session", err)
	}
	defer tx.Rollback()

	sessionID := uuid.New().String()
	now := time.Now().UTC()

	// An empty fan-out has nothing to wait for.
	status := SessionRunning
	if len(subtasks) == 0 {
		status = SessionCompleted
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO swarm_sessions (session_id, main_task, subtask_count, completed_count, status, created_at)
		VALUES (?, ?, ?, 0, ?, ?)`,
		sessionID, mainTask, len(subtasks), status, now)
	if err != nil {
		return "", storeErr("insert session", err)
	}

	for _, st := range subtasks {
		if _, err := insertTask(ctx, tx, &sessionID, st, now); err != nil {
			return "", storeErr("insert subtask", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", storeErr("commit create session", err)
	}

	slog.Debug("swarm session created", "id", sessionID, "subtasks", len(subtasks))
	return sessionID, nil
}

func (s *Store) GetSwarmSession(ctx context.Context, id string) (*SwarmSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM swarm_sessions WHERE session_id = ?`, id)
	ss, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("swarm session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get swarm session: %w", err)
	}
	return ss, nil
}

func (s *Store) ListSwarmSessions(ctx context.Context) ([]SwarmSession, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM swarm_sessions ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list swarm sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SwarmSession
	for rows.Next() {
		ss, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan swarm session: %w", err)
		}
		sessions = append(sessions, *ss)
	}
	return sessions, rows.Err()
}

func (s *Store) SessionProgress(ctx context.Context, sessionID string) (Progress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status, COUNT(*) FROM tasks
		WHERE parent_id = ?
		GROUP BY status`, sessionID)
	if err != nil {
		return Progress{}, fmt.Errorf("session progress: %w", err)
	}
	defer rows.Close()

	var p Progress
	for rows.Next() {
		var status TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return Progress{}, fmt.Errorf("scan progress: %w", err)
		}
		p.Total += n
		switch status {
		case TaskPending:
			p.Pending = n
		case TaskRunning:
			p.Running = n
		case TaskCompleted:
			p.Completed = n
		case TaskFailed:
			p.Failed = n
		}
	}
	return p, rows.Err()
}

// ReconcileSessions repairs sessions whose completed_count lags behind their
// completed task rows, e.g. rows written by an older coordinator that did not
// update both tables atomically. It returns the number of sessions repaired.
func (s *Store) ReconcileSessions(ctx context.Context) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin reconcile", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT s.session_id, s.subtask_count, s.completed_count,
		       (SELECT COUNT(*) FROM tasks t WHERE t.parent_id = s.session_id AND t.status = ?)
		FROM swarm_sessions s`, TaskCompleted)
	if err != nil {
		return 0, storeErr("scan sessions", err)
	}

	type lag struct {
		id    string
		count int
		total int
	}
	var lagging []lag
	for rows.Next() {
		var id string
		var total, counted, done int
		if err := rows.Scan(&id, &total, &counted, &done); err != nil {
			rows.Close()
			return 0, storeErr("scan session counts", err)
		}
		if done > counted {
			lagging = append(lagging, lag{id: id, count: min(done, total), total: total})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, storeErr("iterate sessions", err)
	}

	for _, l := range lagging {
		status := SessionRunning
		if l.count >= l.total {
			status = SessionCompleted
		}
		_, err := tx.ExecContext(ctx, `UPDATE swarm_sessions SET completed_count = ?, status = ? WHERE session_id = ?`,
			l.count, status, l.id)
		if err != nil {
			return 0, storeErr("repair session", err)
		}
		slog.Info("reconciled swarm session", "id", l.id, "completed", l.count, "total", l.total)
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr("commit reconcile", err)
	}
	return len(lagging), nil
}
