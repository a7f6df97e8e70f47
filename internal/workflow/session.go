package workflow

import (
	"encoding/json"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"
)

type Status string

const (
	StatusCreated   Status = "created"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// StepFailure is the persisted form of a failed step.
type StepFailure struct {
	Step  string `json:"step"`
	Error string `json:"error"`
}

// Session is one run of a workflow definition.
type Session struct {
	ID             string            `json:"id"`
	WorkflowName   string            `json:"workflow_name"`
	Workflow       *Definition       `json:"workflow"`
	Status         Status            `json:"status"`
	StartTime      time.Time         `json:"start_time"`
	EndTime        *time.Time        `json:"end_time,omitempty"`
	StepsCompleted []string          `json:"steps_completed"`
	StepsFailed    []string          `json:"steps_failed"`
	Outputs        map[string]string `json:"outputs"`
	Errors         []StepFailure     `json:"errors"`
}

func newSession(id, name string, def *Definition, now time.Time) *Session {
	return &Session{
		ID:             id,
		WorkflowName:   name,
		Workflow:       def,
		Status:         StatusCreated,
		StartTime:      now,
		StepsCompleted: []string{},
		StepsFailed:    []string{},
		Outputs:        map[string]string{},
		Errors:         []StepFailure{},
	}
}

// clone returns a copy that shares no mutable state with s.
func (s *Session) clone() Session {
	return Session{
		ID:             s.ID,
		WorkflowName:   s.WorkflowName,
		Workflow:       s.Workflow,
		Status:         s.Status,
		StartTime:      s.StartTime,
		EndTime:        s.EndTime,
		StepsCompleted: slices.Clone(s.StepsCompleted),
		StepsFailed:    slices.Clone(s.StepsFailed),
		Outputs:        maps.Clone(s.Outputs),
		Errors:         slices.Clone(s.Errors),
	}
}

func sessionPath(dir, id string) string {
	return filepath.Join(dir, fmt.Sprintf("session-%s.json", id))
}

func saveSession(dir string, s Session) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	path := sessionPath(dir, s.ID)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write session: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename session: %w", err)
	}
	return nil
}

// LoadSessionRecord reads a persisted session from dir.
func LoadSessionRecord(dir, id string) (*Session, error) {
	data, err := os.ReadFile(sessionPath(dir, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session %s: %w", id, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("read session: %w", err)
	}
	var s Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &s, nil
}
