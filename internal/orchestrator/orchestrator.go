// Package orchestrator decides how a task is executed and drives it: a
// single workflow run for simple tasks, a swarm fan-out for complex ones.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mtzanidakis/conductor/internal/registry"
	"github.com/mtzanidakis/conductor/internal/scenario"
	"github.com/mtzanidakis/conductor/internal/store"
	"github.com/mtzanidakis/conductor/internal/swarm"
	"github.com/mtzanidakis/conductor/internal/workflow"
)

var (
	ErrEmptyTask  = errors.New("task is empty")
	ErrNoWorkflow = errors.New("no workflow for task")
)

// Scorer estimates the complexity of a task and classifies it.
type Scorer interface {
	Score(task string) (complexity int, taskType string)
}

// SkillMatcher ranks reusable skills against a task, best first.
type SkillMatcher interface {
	Match(task, taskType string) []registry.Match
}

// Decomposer splits a task into independent subtasks for a swarm.
type Decomposer interface {
	Decompose(task string, info scenario.Info) []store.Subtask
}

// Confirmer asks whether a scenario that requires confirmation may proceed.
type Confirmer interface {
	Confirm(ctx context.Context, task string, info scenario.Info) (bool, error)
}

type WorkflowRouter interface {
	Route(task string) (string, error)
}

type WorkflowRunner interface {
	Run(workflowName string) (*workflow.Summary, error)
}

// DecisionRecorder keeps a note of each strategy chosen.
type DecisionRecorder interface {
	RecordDecision(decision, reason string, attrs map[string]string) error
}

type SwarmRunner interface {
	Run(ctx context.Context, mainTask string, subtasks []store.Subtask) (*swarm.Result, error)
}

// Outcome records the decision taken for a task and what came of it.
type Outcome struct {
	Task       string          `json:"task"`
	TaskType   string          `json:"task_type"`
	Complexity int             `json:"complexity"`
	Scenario   scenario.Info   `json:"scenario"`
	Skill      *registry.Match `json:"skill,omitempty"`
	// Declined is set when confirmation was refused; nothing was executed.
	Declined bool              `json:"declined"`
	Workflow string            `json:"workflow,omitempty"`
	Summary  *workflow.Summary `json:"summary,omitempty"`
	Swarm    *swarm.Result     `json:"swarm,omitempty"`
}

// Success reports whether the chosen strategy ran to completion.
func (o *Outcome) Success() bool {
	switch {
	case o.Summary != nil:
		return o.Summary.Success
	case o.Swarm != nil:
		return o.Swarm.Complete
	}
	return false
}

type Deps struct {
	Scorer     Scorer
	Skills     SkillMatcher
	Decomposer Decomposer
	Confirmer  Confirmer
	Router     WorkflowRouter
	Workflows  WorkflowRunner
	Swarm      SwarmRunner
	Decisions  DecisionRecorder
}

type Orchestrator struct {
	scorer     Scorer
	skills     SkillMatcher
	decomposer Decomposer
	confirmer  Confirmer
	router     WorkflowRouter
	workflows  WorkflowRunner
	swarm      SwarmRunner
	decisions  DecisionRecorder
}

func New(d Deps) *Orchestrator {
	o := &Orchestrator{
		scorer:     d.Scorer,
		skills:     d.Skills,
		decomposer: d.Decomposer,
		confirmer:  d.Confirmer,
		router:     d.Router,
		workflows:  d.Workflows,
		swarm:      d.Swarm,
		decisions:  d.Decisions,
	}
	if o.confirmer == nil {
		o.confirmer = AutoConfirm{}
	}
	return o
}

// Decide scores the task and selects its scenario without executing it.
func (o *Orchestrator) Decide(task string) (*Outcome, error) {
	task = strings.TrimSpace(task)
	if task == "" {
		return nil, ErrEmptyTask
	}

	raw, taskType := o.scorer.Score(task)
	complexity := scenario.Clamp(raw)

	var best *registry.Match
	if o.skills != nil {
		if matches := o.skills.Match(task, taskType); len(matches) > 0 {
			best = &matches[0]
		}
	}

	info, err := scenario.Select(complexity, task, best != nil)
	if err != nil {
		return nil, fmt.Errorf("select scenario: %w", err)
	}

	slog.Info("task analysed", "type", taskType, "complexity", complexity, "scenario", info.Type, "mode", info.Mode())
	return &Outcome{
		Task:       task,
		TaskType:   taskType,
		Complexity: complexity,
		Scenario:   info,
		Skill:      best,
	}, nil
}

// Run decides on a scenario for task and executes it.
func (o *Orchestrator) Run(ctx context.Context, task string) (*Outcome, error) {
	out, err := o.Decide(task)
	if err != nil {
		return nil, err
	}

	if out.Scenario.RequiresConfirmation {
		ok, err := o.confirmer.Confirm(ctx, out.Task, out.Scenario)
		if err != nil {
			return out, fmt.Errorf("confirm: %w", err)
		}
		if !ok {
			slog.Info("task declined", "scenario", out.Scenario.Type)
			out.Declined = true
			return out, nil
		}
	}

	o.recordDecision(out)

	switch out.Scenario.Mode() {
	case scenario.ModeSwarm:
		err = o.runSwarm(ctx, out)
	default:
		err = o.runWorkflow(out)
	}
	return out, err
}

func (o *Orchestrator) recordDecision(out *Outcome) {
	if o.decisions == nil {
		return
	}
	decision := fmt.Sprintf("run %q as %s (%s)", out.Task, out.Scenario.Mode(), out.Scenario.Type)
	reason := fmt.Sprintf("complexity %d, task type %s", out.Complexity, out.TaskType)
	if out.Skill != nil {
		reason += fmt.Sprintf(", skill %s", out.Skill.Name)
	}
	if err := o.decisions.RecordDecision(decision, reason, map[string]string{"task_type": out.TaskType}); err != nil {
		slog.Warn("record decision failed", "error", err)
	}
}

func (o *Orchestrator) runWorkflow(out *Outcome) error {
	name, err := o.router.Route(out.Task)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrNoWorkflow, err)
	}
	out.Workflow = name

	summary, err := o.workflows.Run(name)
	if err != nil {
		return fmt.Errorf("run workflow %s: %w", name, err)
	}
	out.Summary = summary
	return nil
}

func (o *Orchestrator) runSwarm(ctx context.Context, out *Outcome) error {
	subtasks := o.decomposer.Decompose(out.Task, out.Scenario)
	res, err := o.swarm.Run(ctx, out.Task, subtasks)
	if err != nil {
		return fmt.Errorf("run swarm: %w", err)
	}
	out.Swarm = res
	return nil
}
