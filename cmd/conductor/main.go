package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/mtzanidakis/conductor/internal/config"
)

var version = "dev"

// command is a conductor subcommand registered on the kingpin application.
type command interface {
	Name() string
	Run(ctx context.Context) error
}

// rootCommand holds the global flags and the resources shared by every
// subcommand.
type rootCommand struct {
	Debug bool

	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// loadConfig is replaced in tests.
	loadConfig func() (*config.Config, error)
}

func newRootCommand(app *kingpin.Application) *rootCommand {
	c := &rootCommand{loadConfig: config.Load}
	app.Flag("debug", "Enable debug logging.").Envar("CONDUCTOR_DEBUG").BoolVar(&c.Debug)
	return c
}

// Run parses args and executes the selected command until it returns or a
// termination signal arrives.
func Run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	app := kingpin.New("conductor", "Runs tasks as workflows or as swarms of external workers.")
	app.UsageWriter(stdout)
	app.ErrorWriter(stderr)
	root := newRootCommand(app)

	cmds := map[string]command{}
	for _, c := range []command{
		newRunCommand(root, app),
		newDecideCommand(root, app),
		newWorkflowCommand(root, app),
		newWorkflowsCommand(root, app),
		newSkillsCommand(root, app),
		newScenariosCommand(root, app),
		newSwarmsCommand(root, app),
		newServeCommand(root, app),
		newEventsCommand(root, app),
		newReconcileCommand(root, app),
		newReflectCommand(root, app),
		newRecordFixCommand(root, app),
		newBackupCommand(root, app),
		newRestoreCommand(root, app),
		newVersionCommand(root, app),
	} {
		cmds[c.Name()] = c
	}

	cmdName, err := app.Parse(args[1:])
	if err != nil {
		return fmt.Errorf("invalid command configuration: %w", err)
	}

	root.Stdin = stdin
	root.Stdout = stdout
	root.Stderr = stderr
	setupLogger(stderr, root.Debug)

	var g run.Group

	// OS signals.
	{
		signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGTERM, syscall.SIGINT)
		defer signalCancel()

		g.Add(
			func() error {
				<-signalCtx.Done()
				slog.Debug("termination signal received")
				return nil
			},
			func(_ error) {
				signalCancel()
			},
		)
	}

	// Selected command.
	{
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		g.Add(
			func() error {
				if err := cmds[cmdName].Run(ctx); err != nil {
					return fmt.Errorf("%q command failed: %w", cmdName, err)
				}
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	return g.Run()
}

func setupLogger(w io.Writer, debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})))
}

type versionCommand struct {
	Cmd  *kingpin.CmdClause
	root *rootCommand
}

func newVersionCommand(root *rootCommand, app *kingpin.Application) *versionCommand {
	c := &versionCommand{root: root}
	c.Cmd = app.Command("version", "Print version.")
	return c
}

func (c *versionCommand) Name() string { return c.Cmd.FullCommand() }

func (c *versionCommand) Run(context.Context) error {
	fmt.Fprintf(c.root.Stdout, "conductor %s\n", version)
	return nil
}

func main() {
	if err := Run(context.Background(), os.Args, os.Stdin, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
