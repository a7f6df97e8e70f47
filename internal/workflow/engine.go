// Package workflow runs named workflow definitions as ordered, fail-fast
// step sequences and records each run as a session.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/conductor/internal/memory"
)

var (
	ErrSessionNotFound  = errors.New("session not found")
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrUnknownAction    = errors.New("unknown action")
	ErrTimeout          = errors.New("timeout")
	ErrActionFailed     = errors.New("action failed")
	ErrSessionStarted   = errors.New("session already executed")
)

// StepError reports the step a workflow stopped on.
type StepError struct {
	StepID string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s failed: %v", e.StepID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// StepResult is the outcome of one step. Err is nil iff Success.
type StepResult struct {
	StepID  string     `json:"step_id"`
	Action  ActionKind `json:"action"`
	Success bool       `json:"success"`
	Output  string     `json:"output,omitempty"`
	Err     error      `json:"-"`
}

// Summary is what ExecuteWorkflow reports to its caller.
type Summary struct {
	Success        bool       `json:"success"`
	SessionID      string     `json:"session_id"`
	Status         Status     `json:"status"`
	StepsCompleted int        `json:"steps_completed"`
	StepsFailed    int        `json:"steps_failed"`
	Failure        *StepError `json:"-"`
	// Reflection is set on failure: a fix recorded for the same error, or
	// advice to analyze it.
	Reflection *memory.Reflection `json:"reflection,omitempty"`
}

// Engine owns workflow sessions for their whole lifetime. Steps of a session
// run strictly in sequence and a running session cannot be cancelled from
// outside; run_command steps are bounded by their own timeout only.
type Engine struct {
	loader    *Loader
	registry  *Registry
	hooks     *Hooks
	memoryDir string
	notes     *memory.Manager
	now       func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewEngine(loader *Loader, registry *Registry, hooks *Hooks, memoryDir string) *Engine {
	if hooks == nil {
		hooks = NewHooks()
	}
	return &Engine{
		loader:    loader,
		registry:  registry,
		hooks:     hooks,
		memoryDir: memoryDir,
		notes:     memory.New(memoryDir),
		now:       time.Now,
		sessions:  make(map[string]*Session),
	}
}

func (e *Engine) Hooks() *Hooks {
	return e.hooks
}

// Memory returns the notes kept next to the session records.
func (e *Engine) Memory() *memory.Manager {
	return e.notes
}

// CreateSession loads the named workflow and registers a new session for it.
func (e *Engine) CreateSession(workflowName string) (string, error) {
	def, err := e.loader.Load(workflowName)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()[:8]
	s := newSession(id, workflowName, def, e.now())

	e.mu.Lock()
	e.sessions[id] = s
	e.mu.Unlock()

	slog.Debug("workflow session created", "id", id, "workflow", workflowName, "steps", len(def.Steps))
	return id, nil
}

// GetSession returns a copy of a live session, falling back to its persisted
// record.
func (e *Engine) GetSession(id string) (*Session, error) {
	e.mu.Lock()
	s, ok := e.sessions[id]
	var c Session
	if ok {
		c = s.clone()
	}
	e.mu.Unlock()

	if ok {
		return &c, nil
	}
	return LoadSessionRecord(e.memoryDir, id)
}

// ExecuteStep runs a single step in the context of a session. Failures,
// including panics of the handler, are reported in the result.
func (e *Engine) ExecuteStep(sessionID string, step Step) StepResult {
	e.mu.Lock()
	_, ok := e.sessions[sessionID]
	e.mu.Unlock()
	if !ok {
		return StepResult{
			StepID: step.ID,
			Action: step.Action,
			Err:    fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound),
		}
	}
	return e.runStep(context.Background(), step)
}

func (e *Engine) runStep(ctx context.Context, step Step) (res StepResult) {
	res = StepResult{StepID: step.ID, Action: step.Action}

	handler, ok := e.registry.Lookup(step.Action)
	if !ok {
		res.Err = fmt.Errorf("%w: %q", ErrUnknownAction, step.Action)
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			res.Success = false
			res.Err = fmt.Errorf("%w: %s panicked: %v", ErrActionFailed, step.Action, r)
		}
	}()

	params := step.Params
	if params == nil {
		params = Params{}
	}
	res.Output, res.Err = handler.Execute(ctx, params)
	res.Success = res.Err == nil
	return res
}

// ExecuteWorkflow runs the steps of a created session in definition order and
// stops at the first failure. The session record is persisted before the
// post_execute hooks run. Only a missing or already executed session is
// returned as an error; step failures are part of the summary.
func (e *Engine) ExecuteWorkflow(sessionID string) (*Summary, error) {
	ctx := context.Background()

	e.mu.Lock()
	s, ok := e.sessions[sessionID]
	if !ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("session %s: %w", sessionID, ErrSessionNotFound)
	}
	if s.Status != StatusCreated {
		status := s.Status
		e.mu.Unlock()
		return nil, fmt.Errorf("session %s is %s: %w", sessionID, status, ErrSessionStarted)
	}
	s.Status = StatusRunning
	steps := s.Workflow.Steps
	e.mu.Unlock()

	slog.Info("executing workflow", "session", sessionID, "workflow", s.WorkflowName, "steps", len(steps))
	e.hooks.fire(ctx, PreExecute, e.snapshot(s))

	var failure *StepError
	for _, step := range steps {
		res := e.runStep(ctx, step)

		if res.Success {
			e.mu.Lock()
			s.StepsCompleted = append(s.StepsCompleted, res.StepID)
			s.Outputs[res.StepID] = res.Output
			e.mu.Unlock()
			slog.Debug("step completed", "session", sessionID, "step", res.StepID, "action", res.Action)
			continue
		}

		failure = &StepError{StepID: res.StepID, Err: res.Err}
		slog.Warn("step failed", "session", sessionID, "step", res.StepID, "action", res.Action, "error", res.Err)

		e.mu.Lock()
		s.StepsFailed = append(s.StepsFailed, res.StepID)
		s.Errors = append(s.Errors, StepFailure{Step: res.StepID, Error: res.Err.Error()})
		if res.Output != "" {
			s.Outputs[res.StepID] = res.Output
		}
		s.Status = StatusFailed
		end := e.now()
		s.EndTime = &end
		e.mu.Unlock()

		e.hooks.fire(ctx, OnError, e.snapshot(s))
		break
	}

	if failure == nil {
		e.mu.Lock()
		s.Status = StatusCompleted
		end := e.now()
		s.EndTime = &end
		e.mu.Unlock()

		e.hooks.fire(ctx, OnSuccess, e.snapshot(s))
	}

	final := e.snapshot(s)
	if err := saveSession(e.memoryDir, final); err != nil {
		slog.Error("persist workflow session failed", "session", sessionID, "error", err)
	}

	e.hooks.fire(ctx, PostExecute, final)

	slog.Info("workflow finished", "session", sessionID, "status", final.Status,
		"completed", len(final.StepsCompleted), "failed", len(final.StepsFailed))

	sum := &Summary{
		Success:        final.Status == StatusCompleted,
		SessionID:      sessionID,
		Status:         final.Status,
		StepsCompleted: len(final.StepsCompleted),
		StepsFailed:    len(final.StepsFailed),
		Failure:        failure,
	}
	if failure != nil {
		ref := e.notes.Reflect(failure.Err.Error())
		sum.Reflection = &ref
	}
	return sum, nil
}

// Run creates a session for the named workflow and executes it.
func (e *Engine) Run(workflowName string) (*Summary, error) {
	id, err := e.CreateSession(workflowName)
	if err != nil {
		return nil, err
	}
	return e.ExecuteWorkflow(id)
}

func (e *Engine) snapshot(s *Session) Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return s.clone()
}
