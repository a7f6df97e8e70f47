package workflow

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mtzanidakis/conductor/internal/quality"
)

// ActionKind names what a step does. The set is open: new kinds are added by
// registering a Handler.
type ActionKind string

const (
	ActionRunCommand       ActionKind = "run_command"
	ActionGenerateDocument ActionKind = "generate_document"
	ActionNotify           ActionKind = "notify"
	ActionVerify           ActionKind = "verify"
)

const DefaultCommandTimeout = 60 * time.Second

// Handler executes one action kind. The returned output is recorded even
// when err is non-nil.
type Handler interface {
	Execute(ctx context.Context, params Params) (string, error)
}

type HandlerFunc func(ctx context.Context, params Params) (string, error)

func (f HandlerFunc) Execute(ctx context.Context, params Params) (string, error) {
	return f(ctx, params)
}

// Notifier receives messages emitted by notify steps.
type Notifier interface {
	Notify(ctx context.Context, message string) error
}

// Registry maps action kinds to handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[ActionKind]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[ActionKind]Handler)}
}

// Register adds or replaces the handler for kind.
func (r *Registry) Register(kind ActionKind, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[kind] = h
}

func (r *Registry) Lookup(kind ActionKind) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[kind]
	return h, ok
}

// ActionOptions configures the built-in handlers.
type ActionOptions struct {
	CommandTimeout time.Duration
	OutputDir      string
	Notifiers      []Notifier
	Now            func() time.Time
}

// DefaultRegistry returns a registry with the built-in action kinds.
func DefaultRegistry(opts ActionOptions) *Registry {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "output"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	r := NewRegistry()
	r.Register(ActionRunCommand, &commandAction{timeout: opts.CommandTimeout})
	r.Register(ActionGenerateDocument, &documentAction{outputDir: opts.OutputDir, now: opts.Now})
	r.Register(ActionNotify, &notifyAction{notifiers: opts.Notifiers})
	r.Register(ActionVerify, HandlerFunc(verify))
	return r
}

type commandAction struct {
	timeout time.Duration
}

// Execute runs params.command through the shell. The step succeeds iff the
// command exits with status zero before params.timeout elapses.
func (a *commandAction) Execute(ctx context.Context, params Params) (string, error) {
	command := params.String("command", "")
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("%w: command is required", ErrActionFailed)
	}
	timeout := params.Duration("timeout", a.timeout)

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if dir := params.String("dir", ""); dir != "" {
		cmd.Dir = dir
	}
	// Background children of the shell may hold the pipes open.
	cmd.WaitDelay = time.Second

	err := cmd.Run()
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return stdout.String(), fmt.Errorf("command timed out after %s: %w", timeout, ErrTimeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return stdout.String(), fmt.Errorf("%w: exit code %d: %s", ErrActionFailed, exitErr.ExitCode(), strings.TrimSpace(stderr.String()))
		}
		return stdout.String(), fmt.Errorf("%w: %w", ErrActionFailed, err)
	}
	return stdout.String(), nil
}

type documentAction struct {
	outputDir string
	now       func() time.Time
}

func (a *documentAction) Execute(_ context.Context, params Params) (string, error) {
	path := params.String("output", "")
	if path == "" {
		path = filepath.Join(a.outputDir, fmt.Sprintf("doc-%s.md", a.now().Format("20060102")))
	}
	content := params.String("content", "")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("%w: create output dir: %w", ErrActionFailed, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("%w: write document: %w", ErrActionFailed, err)
	}
	return path, nil
}

type notifyAction struct {
	notifiers []Notifier
}

// Execute logs the message and forwards it to every notifier. Delivery
// failures are logged; the step always succeeds.
func (a *notifyAction) Execute(ctx context.Context, params Params) (string, error) {
	message := params.String("message", "")
	slog.Info("workflow notification", "message", message)

	for _, n := range a.notifiers {
		if err := n.Notify(ctx, message); err != nil {
			slog.Warn("notifier failed", "error", err)
		}
	}
	return message, nil
}

func verify(_ context.Context, params Params) (string, error) {
	switch kind := params.String("type", "file_exists"); kind {
	case "file_exists":
		return verifyExists(params.String("path", ""))
	case "quality":
		return verifyQuality(params.String("path", ""), params.Float("threshold", quality.PassThreshold))
	default:
		slog.Warn("unsupported verify type, skipping check", "type", kind)
		return fmt.Sprintf("verify type %q not checked", kind), nil
	}
}

func verifyExists(path string) (string, error) {
	_, err := os.Stat(path)
	exists := path != "" && err == nil
	output := fmt.Sprintf("file exists: %t", exists)
	if !exists {
		return output, fmt.Errorf("%w: %s does not exist", ErrActionFailed, path)
	}
	return output, nil
}

// verifyQuality fails when the file at path scores below threshold.
func verifyQuality(path string, threshold float64) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: read %s: %v", ErrActionFailed, path, err)
	}

	r := quality.Check(string(data), threshold)
	output := fmt.Sprintf("quality score %.2f (threshold %.2f)", r.Score, r.Threshold)
	for _, rec := range r.Recommendations {
		output += "\n" + rec
	}
	if !r.Passed {
		return output, fmt.Errorf("%w: %s scored %.2f, below %.2f", ErrActionFailed, path, r.Score, r.Threshold)
	}
	return output, nil
}
