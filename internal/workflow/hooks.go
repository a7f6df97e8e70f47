package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Event is a lifecycle point of a workflow execution.
type Event string

const (
	PreExecute  Event = "pre_execute"
	PostExecute Event = "post_execute"
	OnError     Event = "on_error"
	OnSuccess   Event = "on_success"
)

var events = []Event{PreExecute, PostExecute, OnError, OnSuccess}

// HookFunc observes a session at a lifecycle point. It receives a copy; the
// session's status is decided before hooks run and hooks cannot change it.
type HookFunc func(ctx context.Context, s Session) error

// Hooks fans each event out to its subscribers in registration order.
type Hooks struct {
	mu   sync.RWMutex
	subs map[Event][]HookFunc
}

func NewHooks() *Hooks {
	h := &Hooks{subs: make(map[Event][]HookFunc, len(events))}
	for _, ev := range events {
		h.subs[ev] = nil
	}
	return h
}

func (h *Hooks) Subscribe(ev Event, fn HookFunc) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ev]; !ok {
		return fmt.Errorf("unknown hook event %q", ev)
	}
	h.subs[ev] = append(h.subs[ev], fn)
	return nil
}

func (h *Hooks) fire(ctx context.Context, ev Event, s Session) {
	h.mu.RLock()
	subs := append([]HookFunc(nil), h.subs[ev]...)
	h.mu.RUnlock()

	for i, fn := range subs {
		if err := callHook(ctx, fn, s); err != nil {
			slog.Warn("workflow hook failed", "event", ev, "hook", i, "session", s.ID, "error", err)
		}
	}
}

func callHook(ctx context.Context, fn HookFunc, s Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("hook panicked: %v", r)
		}
	}()
	return fn(ctx, s)
}
