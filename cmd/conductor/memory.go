package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/alecthomas/kingpin/v2"

	"github.com/mtzanidakis/conductor/internal/memory"
)

type reflectCommand struct {
	Cmd  *kingpin.CmdClause
	root *rootCommand

	message []string
}

func newReflectCommand(root *rootCommand, app *kingpin.Application) *reflectCommand {
	c := &reflectCommand{root: root}
	c.Cmd = app.Command("reflect", "Look up a recorded fix for an error message.")
	c.Cmd.Arg("error", "Error message as reported by a failed step.").Required().StringsVar(&c.message)
	return c
}

func (c *reflectCommand) Name() string { return c.Cmd.FullCommand() }

func (c *reflectCommand) Run(context.Context) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ref := memory.New(cfg.Workflow.MemoryDir).Reflect(strings.Join(c.message, " "))
	fmt.Fprintf(c.root.Stdout, "Signature: %s\nAction:    %s\nSource:    %s\nFix:       %s\n",
		ref.Signature, ref.Action, ref.Source, ref.Fix)
	return nil
}

type recordFixCommand struct {
	Cmd  *kingpin.CmdClause
	root *rootCommand

	message string
	fix     string
}

func newRecordFixCommand(root *rootCommand, app *kingpin.Application) *recordFixCommand {
	c := &recordFixCommand{root: root}
	c.Cmd = app.Command("record-fix", "Remember how an error was fixed.")
	c.Cmd.Arg("error", "Error message as reported by a failed step.").Required().StringVar(&c.message)
	c.Cmd.Arg("fix", "What resolved it.").Required().StringVar(&c.fix)
	return c
}

func (c *recordFixCommand) Name() string { return c.Cmd.FullCommand() }

func (c *recordFixCommand) Run(context.Context) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	sig, err := memory.New(cfg.Workflow.MemoryDir).RecordFix(c.message, c.fix, nil)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.root.Stdout, "Recorded fix for %s.\n", sig)
	return nil
}
