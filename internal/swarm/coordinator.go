package swarm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/mtzanidakis/conductor/internal/config"
	"github.com/mtzanidakis/conductor/internal/natsbus"
	"github.com/mtzanidakis/conductor/internal/store"
	"github.com/nats-io/nats.go"
)

// Dispatcher hands an assignment to an external worker. It must not block
// until the work is done.
type Dispatcher interface {
	Dispatch(ctx context.Context, a Assignment) error
}

// BusDispatcher publishes assignments on worker.<worker_type>.input.
type BusDispatcher struct {
	client *natsbus.Client
}

func NewBusDispatcher(client *natsbus.Client) *BusDispatcher {
	return &BusDispatcher{client: client}
}

func (d *BusDispatcher) Dispatch(_ context.Context, a Assignment) error {
	return d.client.PublishJSON(natsbus.TopicWorkerInput(a.WorkerType), a)
}

// Coordinator fans a task out over the swarm queue and waits for its
// workers. The queue is the source of truth; the coordinator keeps no task
// state of its own, so a restarted coordinator can Resume any session.
type Coordinator struct {
	store        *store.Store
	dispatcher   Dispatcher
	client       *natsbus.Client
	waitTimeout  time.Duration
	pollInterval time.Duration
	claimTimeout time.Duration

	mu      sync.Mutex
	waiters map[string]chan struct{}
	subs    []*nats.Subscription
}

// NewCoordinator creates a coordinator. client may be nil, in which case no
// events are published and Start is unavailable.
func NewCoordinator(s *store.Store, d Dispatcher, client *natsbus.Client, cfg config.SwarmConfig) *Coordinator {
	c := &Coordinator{
		store:        s,
		dispatcher:   d,
		client:       client,
		waitTimeout:  cfg.WaitTimeout,
		pollInterval: cfg.PollInterval,
		claimTimeout: cfg.ClaimTimeout,
		waiters:      make(map[string]chan struct{}),
	}
	if c.waitTimeout <= 0 {
		c.waitTimeout = 30 * time.Minute
	}
	if c.pollInterval <= 0 {
		c.pollInterval = 2 * time.Second
	}
	if c.claimTimeout <= 0 {
		c.claimTimeout = 10 * time.Minute
	}
	return c
}

// Run creates a swarm session for mainTask, dispatches its subtasks and waits
// until every subtask has settled, the wait timeout elapses or ctx ends.
func (c *Coordinator) Run(ctx context.Context, mainTask string, subtasks []store.Subtask) (*Result, error) {
	sessionID, err := c.store.CreateSwarmSession(ctx, mainTask, subtasks)
	if err != nil {
		return nil, fmt.Errorf("create swarm session: %w", err)
	}

	slog.Info("swarm started", "session", sessionID, "subtasks", len(subtasks))
	c.publishEvent(sessionID, "swarm_started", map[string]any{
		"main_task": mainTask,
		"subtasks":  len(subtasks),
	})

	return c.drive(ctx, sessionID, nil)
}

// Resume dispatches whatever is still pending in an existing session and
// waits for it like Run does. Running tasks whose claim is older than the
// claim timeout are dispatched again: their worker never reported, or the
// previous coordinator died between claiming and dispatching them.
func (c *Coordinator) Resume(ctx context.Context, sessionID string) (*Result, error) {
	if _, err := c.store.GetSwarmSession(ctx, sessionID); err != nil {
		return nil, err
	}
	stale, err := c.store.ReclaimStale(ctx, sessionID, c.claimTimeout)
	if err != nil {
		return nil, fmt.Errorf("reclaim stale tasks: %w", err)
	}
	slog.Info("resuming swarm", "session", sessionID, "reclaimed", len(stale))
	return c.drive(ctx, sessionID, stale)
}

func (c *Coordinator) drive(ctx context.Context, sessionID string, reclaimed []store.Runnable) (*Result, error) {
	wake := c.register(sessionID)
	defer c.unregister(sessionID)

	for _, r := range reclaimed {
		c.dispatch(ctx, r)
	}
	if err := c.dispatchPending(ctx, sessionID); err != nil {
		return nil, err
	}

	c.wait(ctx, sessionID, wake)

	// The session may have been left because ctx ended; report with a fresh
	// context so the summary still reflects the store.
	res, err := c.result(context.WithoutCancel(ctx), sessionID)
	if err != nil {
		return nil, err
	}

	event := "swarm_completed"
	if !res.Complete {
		event = "swarm_incomplete"
	}
	c.publishEvent(sessionID, event, map[string]any{
		"total":     res.Total,
		"completed": res.Completed,
		"failed":    res.Failed,
	})
	slog.Info("swarm finished", "session", sessionID, "complete", res.Complete,
		"completed", res.Completed, "failed", res.Failed, "total", res.Total)

	return res, nil
}

// dispatchPending claims every pending subtask and hands it to the
// dispatcher, highest priority first. A subtask that cannot be dispatched is
// failed so the session still settles.
func (c *Coordinator) dispatchPending(ctx context.Context, sessionID string) error {
	runnable, err := c.store.GetParallelSubtasks(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("list subtasks: %w", err)
	}
	sort.SliceStable(runnable, func(i, j int) bool {
		return runnable[i].Priority > runnable[j].Priority
	})

	for _, r := range runnable {
		if err := c.store.ClaimTask(ctx, r.TaskID); err != nil {
			if errors.Is(err, store.ErrInvalidTransition) {
				// Another coordinator or a fast worker got there first.
				continue
			}
			return fmt.Errorf("claim task %s: %w", r.TaskID, err)
		}
		c.dispatch(ctx, r)
	}
	return nil
}

// dispatch hands a claimed task to the dispatcher, failing it when that is
// not possible.
func (c *Coordinator) dispatch(ctx context.Context, r store.Runnable) {
	a := Assignment{
		TaskID:     r.TaskID,
		SessionID:  r.SessionID,
		WorkerType: r.WorkerType,
		Goal:       r.Goal,
		Context:    r.Context,
		Priority:   r.Priority,
		ReplyTopic: natsbus.TopicSwarmResults(r.SessionID),
	}
	if err := c.dispatcher.Dispatch(ctx, a); err != nil {
		slog.Error("dispatch failed", "session", r.SessionID, "task", r.TaskID, "worker", r.WorkerType, "error", err)
		if _, ferr := c.store.FailTask(ctx, r.TaskID, "dispatch: "+err.Error()); ferr != nil {
			slog.Error("fail undispatched task", "task", r.TaskID, "error", ferr)
		}
		return
	}

	slog.Debug("task dispatched", "session", r.SessionID, "task", r.TaskID, "worker", r.WorkerType)
	c.publishEvent(r.SessionID, "swarm_task_dispatched", map[string]any{
		"task_id":     r.TaskID,
		"worker_type": r.WorkerType,
	})
}

func (c *Coordinator) wait(ctx context.Context, sessionID string, wake <-chan struct{}) {
	deadline := time.NewTimer(c.waitTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		p, err := c.store.SessionProgress(ctx, sessionID)
		if err != nil {
			slog.Warn("read swarm progress", "session", sessionID, "error", err)
		} else if p.Settled() {
			return
		}

		select {
		case <-wake:
		case <-ticker.C:
		case <-deadline.C:
			slog.Warn("swarm wait timed out", "session", sessionID, "timeout", c.waitTimeout)
			return
		case <-ctx.Done():
			slog.Info("swarm wait cancelled", "session", sessionID)
			return
		}
	}
}

func (c *Coordinator) result(ctx context.Context, sessionID string) (*Result, error) {
	sess, err := c.store.GetSwarmSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	tasks, err := c.store.ListTasks(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	res := &Result{
		SessionID: sessionID,
		Total:     sess.SubtaskCount,
		Complete:  sess.Status == store.SessionCompleted,
		Results:   make(map[string]json.RawMessage, len(tasks)),
	}
	for _, t := range tasks {
		switch t.Status {
		case store.TaskCompleted:
			res.Completed++
		case store.TaskFailed:
			res.Failed++
		default:
			res.Pending++
		}
		if t.Result != nil {
			res.Results[t.ID] = t.Result
		}
	}
	return res, nil
}

// HandleResult applies a worker report to the queue and wakes whoever waits
// on the task's session. A duplicate report is accepted but changes nothing
// and publishes no event.
func (c *Coordinator) HandleResult(ctx context.Context, r WorkerResult) error {
	if r.TaskID == "" {
		return fmt.Errorf("worker result: task_id is required")
	}

	var (
		settled bool
		err     error
	)
	switch r.Status {
	case ResultCompleted:
		var output any
		if len(r.Output) > 0 {
			output = r.Output
		}
		settled, err = c.store.CompleteTask(ctx, r.TaskID, output)
	case ResultFailed:
		settled, err = c.store.FailTask(ctx, r.TaskID, r.Error)
	default:
		return fmt.Errorf("worker result for %s: unknown status %q", r.TaskID, r.Status)
	}
	if err != nil {
		return err
	}
	if !settled {
		slog.Debug("duplicate worker result ignored", "task", r.TaskID, "status", r.Status)
		return nil
	}

	t, err := c.store.GetTask(ctx, r.TaskID)
	if err != nil {
		return err
	}
	if t.ParentID == "" {
		return nil
	}

	c.publishEvent(t.ParentID, "swarm_task_completed", map[string]any{
		"task_id": r.TaskID,
		"status":  r.Status,
	})
	c.notify(t.ParentID)
	return nil
}

func (c *Coordinator) register(sessionID string) <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch, ok := c.waiters[sessionID]
	if !ok {
		ch = make(chan struct{}, 1)
		c.waiters[sessionID] = ch
	}
	return ch
}

func (c *Coordinator) unregister(sessionID string) {
	c.mu.Lock()
	delete(c.waiters, sessionID)
	c.mu.Unlock()
}

func (c *Coordinator) notify(sessionID string) {
	c.mu.Lock()
	ch, ok := c.waiters[sessionID]
	c.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// Start subscribes to worker results and serves swarm IPC on the bus.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.client == nil {
		return fmt.Errorf("swarm coordinator has no nats client")
	}

	resultsSub, err := c.client.Subscribe(natsbus.TopicSwarmResultsAll, func(msg *nats.Msg) {
		var r WorkerResult
		if err := json.Unmarshal(msg.Data, &r); err != nil {
			slog.Warn("invalid worker result", "subject", msg.Subject, "error", err)
			return
		}
		if err := c.HandleResult(ctx, r); err != nil {
			slog.Warn("apply worker result failed", "task", r.TaskID, "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe results: %w", err)
	}

	ipcSub, err := c.client.Subscribe(natsbus.TopicSwarmIPC, func(msg *nats.Msg) {
		c.handleIPC(ctx, msg)
	})
	if err != nil {
		_ = resultsSub.Unsubscribe()
		return fmt.Errorf("subscribe ipc: %w", err)
	}

	c.mu.Lock()
	c.subs = append(c.subs, resultsSub, ipcSub)
	c.mu.Unlock()

	slog.Info("swarm coordinator listening", "results", natsbus.TopicSwarmResultsAll, "ipc", natsbus.TopicSwarmIPC)
	return c.client.Flush()
}

func (c *Coordinator) Stop() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, sub := range subs {
		_ = sub.Unsubscribe()
	}
}

func (c *Coordinator) handleIPC(ctx context.Context, msg *nats.Msg) {
	var cmd IPCCommand
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		slog.Warn("invalid swarm IPC command", "error", err)
		c.respondIPC(msg, IPCResponse{Error: "invalid command"})
		return
	}

	var p IPCPayload
	if len(cmd.Payload) > 0 {
		if err := json.Unmarshal(cmd.Payload, &p); err != nil {
			c.respondIPC(msg, IPCResponse{Error: "invalid payload"})
			return
		}
	}

	slog.Debug("swarm IPC command received", "type", cmd.Type)

	switch cmd.Type {
	case "list":
		if p.SessionID == "" {
			c.respondIPC(msg, IPCResponse{Error: "session_id is required"})
			return
		}
		tasks, err := c.store.ListTasks(ctx, p.SessionID)
		if err != nil {
			c.respondIPC(msg, IPCResponse{Error: fmt.Sprintf("list failed: %v", err)})
			return
		}
		c.respondIPC(msg, IPCResponse{OK: true, Tasks: tasks})

	case "complete", "fail":
		status, reason := ResultCompleted, ""
		if cmd.Type == "fail" {
			status, reason = ResultFailed, p.Error
		}
		err := c.HandleResult(ctx, WorkerResult{TaskID: p.TaskID, Status: status, Output: p.Result, Error: reason})
		if err != nil {
			c.respondIPC(msg, IPCResponse{Error: err.Error()})
			return
		}
		slog.Info("task settled via IPC", "task", p.TaskID, "status", status)
		c.respondIPC(msg, IPCResponse{OK: true})

	case "status":
		if p.SessionID == "" {
			c.respondIPC(msg, IPCResponse{Error: "session_id is required"})
			return
		}
		sess, err := c.store.GetSwarmSession(ctx, p.SessionID)
		if err != nil {
			c.respondIPC(msg, IPCResponse{Error: err.Error()})
			return
		}
		progress, err := c.store.SessionProgress(ctx, p.SessionID)
		if err != nil {
			c.respondIPC(msg, IPCResponse{Error: err.Error()})
			return
		}
		c.respondIPC(msg, IPCResponse{OK: true, Session: sess, Progress: &progress})

	default:
		slog.Warn("unknown swarm IPC command", "type", cmd.Type)
		c.respondIPC(msg, IPCResponse{Error: "unknown command: " + cmd.Type})
	}
}

func (c *Coordinator) respondIPC(msg *nats.Msg, resp IPCResponse) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("failed to marshal IPC response", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error("failed to respond to IPC", "error", err)
	}
}

func (c *Coordinator) publishEvent(sessionID, eventType string, data map[string]any) {
	if c.client == nil {
		return
	}

	event := map[string]any{
		"type":      eventType,
		"swarm_id":  sessionID,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data":      data,
	}
	if err := c.client.PublishJSON(natsbus.TopicEventsSwarmID(sessionID), event); err != nil {
		slog.Debug("publish swarm event failed", "type", eventType, "error", err)
	}
}
