package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/mtzanidakis/conductor/internal/analyzer"
	"github.com/mtzanidakis/conductor/internal/orchestrator"
	"github.com/mtzanidakis/conductor/internal/registry"
	"github.com/mtzanidakis/conductor/internal/scenario"
	"github.com/mtzanidakis/conductor/internal/store"
	"github.com/mtzanidakis/conductor/internal/workflow"
)

var errNotCompleted = errors.New("task did not complete")

type runCommand struct {
	Cmd  *kingpin.CmdClause
	root *rootCommand

	task []string
	yes  bool
}

func newRunCommand(root *rootCommand, app *kingpin.Application) *runCommand {
	c := &runCommand{root: root}
	c.Cmd = app.Command("run", "Analyze a task and execute it as a workflow or a swarm.")
	c.Cmd.Arg("task", "Task description.").Required().StringsVar(&c.task)
	c.Cmd.Flag("yes", "Do not ask before running scenarios that require confirmation.").Short('y').BoolVar(&c.yes)
	return c
}

func (c *runCommand) Name() string { return c.Cmd.FullCommand() }

func (c *runCommand) Run(ctx context.Context) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var confirmer orchestrator.Confirmer = orchestrator.NewPromptConfirmer(c.root.Stdin, c.root.Stdout)
	if c.yes || cfg.Orchestrator.AutoConfirm {
		confirmer = orchestrator.AutoConfirm{}
	}

	rt, err := newRuntime(cfg, confirmer, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.coord.Start(ctx); err != nil {
		return fmt.Errorf("start swarm coordinator: %w", err)
	}

	out, err := rt.orch.Run(ctx, strings.Join(c.task, " "))
	if out != nil {
		printOutcome(c.root.Stdout, out)
	}
	if err != nil {
		return err
	}
	if !out.Declined && !out.Success() {
		return errNotCompleted
	}
	return nil
}

type decideCommand struct {
	Cmd  *kingpin.CmdClause
	root *rootCommand

	task []string
}

func newDecideCommand(root *rootCommand, app *kingpin.Application) *decideCommand {
	c := &decideCommand{root: root}
	c.Cmd = app.Command("decide", "Show the scenario a task would run under without executing it.")
	c.Cmd.Arg("task", "Task description.").Required().StringsVar(&c.task)
	return c
}

func (c *decideCommand) Name() string { return c.Cmd.FullCommand() }

func (c *decideCommand) Run(context.Context) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	orch := orchestrator.New(orchestrator.Deps{
		Scorer: analyzer.NewKeywordScorer(cfg.Analyzer),
		Skills: registry.New(cfg.Skills),
	})
	out, err := orch.Decide(strings.Join(c.task, " "))
	if err != nil {
		return err
	}
	printOutcome(c.root.Stdout, out)
	return nil
}

type workflowCommand struct {
	Cmd  *kingpin.CmdClause
	root *rootCommand

	name string
}

func newWorkflowCommand(root *rootCommand, app *kingpin.Application) *workflowCommand {
	c := &workflowCommand{root: root}
	c.Cmd = app.Command("workflow", "Run a workflow by name.")
	c.Cmd.Arg("name", "Workflow name.").Required().StringVar(&c.name)
	return c
}

func (c *workflowCommand) Name() string { return c.Cmd.FullCommand() }

func (c *workflowCommand) Run(ctx context.Context) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	rt, err := newRuntime(cfg, nil, false)
	if err != nil {
		return err
	}
	defer rt.Close()

	sum, err := rt.engine.Run(c.name)
	if err != nil {
		return err
	}
	printSummary(c.root.Stdout, c.name, sum)
	if !sum.Success {
		return errNotCompleted
	}
	return nil
}

type workflowsCommand struct {
	Cmd  *kingpin.CmdClause
	root *rootCommand
}

func newWorkflowsCommand(root *rootCommand, app *kingpin.Application) *workflowsCommand {
	c := &workflowsCommand{root: root}
	c.Cmd = app.Command("workflows", "List workflow definitions.")
	return c
}

func (c *workflowsCommand) Name() string { return c.Cmd.FullCommand() }

func (c *workflowsCommand) Run(context.Context) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	defs, err := workflow.NewLoader(cfg.Workflow.Dir).List()
	if err != nil {
		return err
	}
	if len(defs) == 0 {
		fmt.Fprintln(c.root.Stdout, "No workflows found.")
		return nil
	}
	for _, d := range defs {
		fmt.Fprintf(c.root.Stdout, "  %s  %d steps  %s\n", d.Key, len(d.Steps), d.Description)
	}
	return nil
}

type skillsCommand struct {
	Cmd  *kingpin.CmdClause
	root *rootCommand
}

func newSkillsCommand(root *rootCommand, app *kingpin.Application) *skillsCommand {
	c := &skillsCommand{root: root}
	c.Cmd = app.Command("skills", "List the skill catalog.")
	return c
}

func (c *skillsCommand) Name() string { return c.Cmd.FullCommand() }

func (c *skillsCommand) Run(context.Context) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	catalog := registry.New(cfg.Skills)
	names := catalog.Names()
	if len(names) == 0 {
		fmt.Fprintln(c.root.Stdout, "No skills configured.")
		return nil
	}
	for _, name := range names {
		def, _ := catalog.Get(name)
		fmt.Fprintf(c.root.Stdout, "  %s  %s  [%s]\n", name, def.Description, strings.Join(def.Keywords, ", "))
	}
	return nil
}

type scenariosCommand struct {
	Cmd  *kingpin.CmdClause
	root *rootCommand
}

func newScenariosCommand(root *rootCommand, app *kingpin.Application) *scenariosCommand {
	c := &scenariosCommand{root: root}
	c.Cmd = app.Command("scenarios", "List execution scenarios.")
	return c
}

func (c *scenariosCommand) Name() string { return c.Cmd.FullCommand() }

func (c *scenariosCommand) Run(context.Context) error {
	for _, info := range scenario.All() {
		confirm := ""
		if info.RequiresConfirmation {
			confirm = "  confirm"
		}
		fmt.Fprintf(c.root.Stdout, "  %-18s  %d-%d  %-6s  agents %d  steps %d%s\n",
			info.Type, info.ComplexityRange.Min, info.ComplexityRange.Max, info.Mode(),
			info.MaxAgents, info.EstimatedSteps, confirm)
	}
	return nil
}

type swarmsCommand struct {
	Cmd  *kingpin.CmdClause
	root *rootCommand
}

func newSwarmsCommand(root *rootCommand, app *kingpin.Application) *swarmsCommand {
	c := &swarmsCommand{root: root}
	c.Cmd = app.Command("swarms", "List swarm sessions and their progress.")
	return c
}

func (c *swarmsCommand) Name() string { return c.Cmd.FullCommand() }

func (c *swarmsCommand) Run(ctx context.Context) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer s.Close()

	sessions, err := s.ListSwarmSessions(ctx)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(c.root.Stdout, "No swarm sessions found.")
		return nil
	}
	for _, sess := range sessions {
		p, err := s.SessionProgress(ctx, sess.ID)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.root.Stdout, "  %s  %-9s  %d/%d completed  %d failed  %d pending  %s\n",
			sess.ID, sess.Status, p.Completed, p.Total, p.Failed, p.Pending+p.Running, sess.MainTask)
	}
	return nil
}

type reconcileCommand struct {
	Cmd  *kingpin.CmdClause
	root *rootCommand
}

func newReconcileCommand(root *rootCommand, app *kingpin.Application) *reconcileCommand {
	c := &reconcileCommand{root: root}
	c.Cmd = app.Command("reconcile", "Repair swarm session counters from the task records.")
	return c
}

func (c *reconcileCommand) Name() string { return c.Cmd.FullCommand() }

func (c *reconcileCommand) Run(ctx context.Context) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	s, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer s.Close()

	n, err := s.ReconcileSessions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.root.Stdout, "Reconciled %d sessions.\n", n)
	return nil
}

func printOutcome(w io.Writer, out *orchestrator.Outcome) {
	fmt.Fprintf(w, "Task:       %s\n", out.Task)
	fmt.Fprintf(w, "Type:       %s\n", out.TaskType)
	fmt.Fprintf(w, "Complexity: %d/10\n", out.Complexity)
	fmt.Fprintf(w, "Scenario:   %s (%s)\n", out.Scenario.Name, out.Scenario.Mode())
	if out.Skill != nil {
		fmt.Fprintf(w, "Skill:      %s (%.2f)\n", out.Skill.Name, out.Skill.Score)
	}

	switch {
	case out.Declined:
		fmt.Fprintln(w, "Declined, nothing was executed.")
	case out.Summary != nil:
		printSummary(w, out.Workflow, out.Summary)
	case out.Swarm != nil:
		r := out.Swarm
		fmt.Fprintf(w, "Swarm %s: %d/%d completed, %d failed, %d pending\n",
			r.SessionID, r.Completed, r.Total, r.Failed, r.Pending)
	}
}

func printSummary(w io.Writer, name string, sum *workflow.Summary) {
	fmt.Fprintf(w, "Workflow %s, session %s: %s (%d steps completed, %d failed)\n",
		name, sum.SessionID, sum.Status, sum.StepsCompleted, sum.StepsFailed)
	if sum.Failure != nil {
		fmt.Fprintf(w, "  %v\n", sum.Failure)
	}
	if ref := sum.Reflection; ref != nil {
		if ref.Known() {
			fmt.Fprintf(w, "  Known fix (%s): %s\n", ref.Signature, ref.Fix)
		} else {
			fmt.Fprintf(w, "  No recorded fix for %s\n", ref.Signature)
		}
	}
}
