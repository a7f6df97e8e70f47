package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alecthomas/kingpin/v2"
	"github.com/oklog/run"

	"github.com/mtzanidakis/conductor/internal/scheduler"
	"github.com/mtzanidakis/conductor/internal/store"
)

type serveCommand struct {
	Cmd  *kingpin.CmdClause
	root *rootCommand
}

func newServeCommand(root *rootCommand, app *kingpin.Application) *serveCommand {
	c := &serveCommand{root: root}
	c.Cmd = app.Command("serve", "Host the bus, collect worker results and run scheduled workflows.")
	return c
}

func (c *serveCommand) Name() string { return c.Cmd.FullCommand() }

func (c *serveCommand) Run(ctx context.Context) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.Info("starting conductor", "version", version)

	rt, err := newRuntime(cfg, nil, true)
	if err != nil {
		return err
	}
	defer rt.Close()

	n, err := rt.store.ReconcileSessions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile sessions: %w", err)
	}
	if n > 0 {
		slog.Info("reconciled swarm sessions", "count", n)
	}

	sched, err := scheduler.New(cfg.Schedules, rt.engine, rt.client, cfg.Scheduler)
	if err != nil {
		return fmt.Errorf("init scheduler: %w", err)
	}

	var g run.Group

	// Swarm coordinator.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				if err := rt.coord.Start(ctx); err != nil {
					return fmt.Errorf("start swarm coordinator: %w", err)
				}
				var resumes sync.WaitGroup
				resumePending(ctx, rt, &resumes)
				<-ctx.Done()
				resumes.Wait()
				return nil
			},
			func(_ error) {
				cancel()
				rt.coord.Stop()
			},
		)
	}

	// Scheduler.
	{
		ctx, cancel := context.WithCancel(ctx)
		g.Add(
			func() error {
				sched.Start(ctx)
				return nil
			},
			func(_ error) {
				cancel()
			},
		)
	}

	for name, next := range sched.Upcoming() {
		slog.Info("schedule armed", "name", name, "next", next)
	}

	err = g.Run()
	slog.Info("conductor stopped")
	return err
}

// resumePending drives every unsettled session left by a previous process.
// Each session runs in its own goroutine tracked by wg, so the store
// outlives them.
func resumePending(ctx context.Context, rt *runtime, wg *sync.WaitGroup) {
	sessions, err := rt.store.ListSwarmSessions(ctx)
	if err != nil {
		slog.Warn("list swarm sessions failed", "error", err)
		return
	}
	for _, sess := range sessions {
		if sess.Status == store.SessionCompleted {
			continue
		}
		p, err := rt.store.SessionProgress(ctx, sess.ID)
		if err != nil || p.Settled() {
			continue
		}
		slog.Info("resuming swarm session", "id", sess.ID, "pending", p.Pending, "running", p.Running)
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			res, err := rt.coord.Resume(ctx, id)
			if err != nil {
				slog.Warn("resume swarm session failed", "id", id, "error", err)
				return
			}
			slog.Info("resumed swarm session finished", "id", id, "complete", res.Complete)
		}(sess.ID)
	}
}
