package main

import (
	"fmt"
	"log/slog"

	"github.com/mtzanidakis/conductor/internal/analyzer"
	"github.com/mtzanidakis/conductor/internal/config"
	"github.com/mtzanidakis/conductor/internal/natsbus"
	"github.com/mtzanidakis/conductor/internal/orchestrator"
	"github.com/mtzanidakis/conductor/internal/registry"
	"github.com/mtzanidakis/conductor/internal/router"
	"github.com/mtzanidakis/conductor/internal/store"
	"github.com/mtzanidakis/conductor/internal/swarm"
	"github.com/mtzanidakis/conductor/internal/telegram"
	"github.com/mtzanidakis/conductor/internal/workflow"
)

// runtime is the fully wired set of components behind run, workflow and
// serve.
type runtime struct {
	cfg    *config.Config
	store  *store.Store
	bus    *natsbus.Bus
	client *natsbus.Client
	engine *workflow.Engine
	router *router.Router
	coord  *swarm.Coordinator
	orch   *orchestrator.Orchestrator
}

// newRuntime wires every component. With embed set the process hosts the
// NATS server itself; otherwise it first tries to join the bus of a running
// serve process.
func newRuntime(cfg *config.Config, confirmer orchestrator.Confirmer, embed bool) (*runtime, error) {
	rt := &runtime{cfg: cfg}
	ready := false
	defer func() {
		if !ready {
			rt.Close()
		}
	}()

	var err error
	rt.store, err = store.New(cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	slog.Debug("store initialized", "path", cfg.Store.Path)

	rt.bus, rt.client, err = connectBus(cfg.NATS, embed)
	if err != nil {
		return nil, err
	}

	var notifiers []workflow.Notifier
	if cfg.Telegram.Token != "" {
		n, err := telegram.NewNotifier(cfg.Telegram)
		if err != nil {
			return nil, fmt.Errorf("init telegram notifier: %w", err)
		}
		notifiers = append(notifiers, n)
	} else {
		slog.Debug("telegram token not set, notify steps only log")
	}

	loader := workflow.NewLoader(cfg.Workflow.Dir)
	actions := workflow.DefaultRegistry(workflow.ActionOptions{
		CommandTimeout: cfg.Workflow.CommandTimeout,
		OutputDir:      cfg.Workflow.OutputDir,
		Notifiers:      notifiers,
	})
	rt.engine = workflow.NewEngine(loader, actions, nil, cfg.Workflow.MemoryDir)
	if err := orchestrator.PublishWorkflowEvents(rt.engine.Hooks(), rt.client); err != nil {
		return nil, fmt.Errorf("subscribe workflow events: %w", err)
	}
	if err := orchestrator.RecordWorkflowErrors(rt.engine.Hooks(), rt.engine.Memory()); err != nil {
		return nil, fmt.Errorf("subscribe workflow errors: %w", err)
	}

	rt.router = router.New(loader, cfg.Workflow.Default)
	if err := rt.router.Reload(); err != nil {
		return nil, fmt.Errorf("load workflow routes: %w", err)
	}

	rt.coord = swarm.NewCoordinator(rt.store, swarm.NewBusDispatcher(rt.client), rt.client, cfg.Swarm)

	rt.orch = orchestrator.New(orchestrator.Deps{
		Scorer:     analyzer.NewKeywordScorer(cfg.Analyzer),
		Skills:     registry.New(cfg.Skills),
		Decomposer: orchestrator.NewRoleDecomposer(cfg.Swarm.Roles),
		Confirmer:  confirmer,
		Router:     rt.router,
		Workflows:  rt.engine,
		Swarm:      rt.coord,
		Decisions:  rt.engine.Memory(),
	})
	ready = true
	return rt, nil
}

// connectBus returns a client for the configured external server, or for a
// local bus. bus is nil unless this process started the server.
func connectBus(cfg config.NATSConfig, embed bool) (*natsbus.Bus, *natsbus.Client, error) {
	if cfg.URL != "" {
		client, err := natsbus.NewClientFromURL(cfg.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		slog.Debug("nats connected", "url", cfg.URL)
		return nil, client, nil
	}

	if !embed && cfg.Port > 0 {
		url := fmt.Sprintf("nats://127.0.0.1:%d", cfg.Port)
		if client, err := natsbus.NewClientFromURL(url); err == nil {
			slog.Debug("joined running bus", "url", url)
			return nil, client, nil
		}
	}

	bus, err := natsbus.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("init nats: %w", err)
	}
	client, err := natsbus.NewClient(bus)
	if err != nil {
		bus.Close()
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	slog.Debug("nats started", "url", bus.ClientURL())
	return bus, client, nil
}

func (rt *runtime) Close() {
	if rt.coord != nil {
		rt.coord.Stop()
	}
	if rt.client != nil {
		rt.client.Close()
	}
	if rt.bus != nil {
		rt.bus.Close()
	}
	if rt.store != nil {
		rt.store.Close()
	}
}
