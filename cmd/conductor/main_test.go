package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/conductor/internal/config"
	"github.com/mtzanidakis/conductor/internal/natsbus"
)

// testConfig writes a config rooted in a temp dir, points CONDUCTOR_CONFIG at
// it and returns the root.
func testConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	cfg := `
store:
  path: ` + filepath.Join(dir, "data", "swarm.db") + `
nats:
  port: 0
workflow:
  dir: ` + filepath.Join(dir, "workflows") + `
  memory_dir: ` + filepath.Join(dir, "data", "memory") + `
  output_dir: ` + filepath.Join(dir, "output") + `
`
	path := filepath.Join(dir, "conductor.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONDUCTOR_CONFIG", path)
	return dir
}

func writeTestWorkflow(t *testing.T, dir, name, body string) {
	t.Helper()
	wfDir := filepath.Join(dir, "workflows")
	if err := os.MkdirAll(wfDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(wfDir, name+".yaml"), []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
}

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := Run(context.Background(), append([]string{"conductor"}, args...), strings.NewReader(""), &stdout, &stderr)
	return stdout.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := runCLI(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if out != "conductor dev\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestUnknownCommand(t *testing.T) {
	if _, err := runCLI(t, "frobnicate"); err == nil {
		t.Fatal("expected error for unknown command")
	}
}

func TestWorkflowCommand(t *testing.T) {
	dir := testConfig(t)
	doc := filepath.Join(dir, "output", "notes.md")
	writeTestWorkflow(t, dir, "notes", `
name: notes
steps:
  - id: write
    action: generate_document
    params:
      output: `+doc+`
      content: hello
  - id: check
    action: verify
    params:
      path: `+doc+`
`)

	out, err := runCLI(t, "workflow", "notes")
	if err != nil {
		t.Fatalf("workflow: %v", err)
	}
	if !strings.Contains(out, "completed (2 steps completed, 0 failed)") {
		t.Errorf("unexpected output %q", out)
	}
	if data, err := os.ReadFile(doc); err != nil || string(data) != "hello" {
		t.Errorf("document not written: %q, %v", data, err)
	}
}

func TestWorkflowCommandFailure(t *testing.T) {
	dir := testConfig(t)
	writeTestWorkflow(t, dir, "broken", `
name: broken
steps:
  - id: boom
    action: run_command
    params:
      command: exit 3
`)

	out, err := runCLI(t, "workflow", "broken")
	if !errors.Is(err, errNotCompleted) {
		t.Fatalf("expected errNotCompleted, got %v", err)
	}
	if !strings.Contains(out, "step boom failed") {
		t.Errorf("expected failed step in output, got %q", out)
	}
	if !strings.Contains(out, "No recorded fix for") {
		t.Errorf("expected reflection in output, got %q", out)
	}
}

func TestReflectAndRecordFixCommands(t *testing.T) {
	testConfig(t)

	out, err := runCLI(t, "reflect", "disk", "full")
	if err != nil {
		t.Fatalf("reflect: %v", err)
	}
	if !strings.Contains(out, "Action:    analyze") {
		t.Errorf("expected analyze before any fix, got %q", out)
	}

	out, err = runCLI(t, "record-fix", "disk full", "prune old backups")
	if err != nil {
		t.Fatalf("record-fix: %v", err)
	}
	if !strings.HasPrefix(out, "Recorded fix for ") {
		t.Errorf("unexpected output %q", out)
	}

	out, err = runCLI(t, "reflect", "disk", "full")
	if err != nil {
		t.Fatalf("reflect: %v", err)
	}
	if !strings.Contains(out, "Source:    memory") || !strings.Contains(out, "Fix:       prune old backups") {
		t.Errorf("expected the recorded fix, got %q", out)
	}
}

func TestWorkflowsCommand(t *testing.T) {
	dir := testConfig(t)

	out, err := runCLI(t, "workflows")
	if err != nil {
		t.Fatalf("workflows: %v", err)
	}
	if out != "No workflows found.\n" {
		t.Errorf("unexpected output %q", out)
	}

	writeTestWorkflow(t, dir, "deploy", "name: deploy\ndescription: ship it\nsteps:\n  - action: notify\n")
	out, err = runCLI(t, "workflows")
	if err != nil {
		t.Fatalf("workflows: %v", err)
	}
	if !strings.Contains(out, "deploy  1 steps  ship it") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestDecideCommand(t *testing.T) {
	testConfig(t)

	out, err := runCLI(t, "decide", "fix", "a", "typo")
	if err != nil {
		t.Fatalf("decide: %v", err)
	}
	if !strings.Contains(out, "Task:       fix a typo") {
		t.Errorf("task missing from output %q", out)
	}
	if !strings.Contains(out, "Scenario:") {
		t.Errorf("scenario missing from output %q", out)
	}
}

func TestSkillsCommand(t *testing.T) {
	dir := testConfig(t)

	out, err := runCLI(t, "skills")
	if err != nil {
		t.Fatalf("skills: %v", err)
	}
	if out != "No skills configured.\n" {
		t.Errorf("unexpected output %q", out)
	}

	cfg := "skills:\n  tester:\n    description: Writes tests\n    keywords: [Test, QA]\n"
	path := filepath.Join(dir, "skills.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONDUCTOR_CONFIG", path)

	out, err = runCLI(t, "skills")
	if err != nil {
		t.Fatalf("skills: %v", err)
	}
	if out != "  tester  Writes tests  [test, qa]\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestScenariosCommand(t *testing.T) {
	out, err := runCLI(t, "scenarios")
	if err != nil {
		t.Fatalf("scenarios: %v", err)
	}
	if n := strings.Count(out, "\n"); n != 5 {
		t.Errorf("expected 5 scenarios, got %d: %q", n, out)
	}
	if !strings.Contains(out, "composite") || !strings.Contains(out, "confirm") {
		t.Errorf("unexpected output %q", out)
	}
}

func TestRunCommandRoutesToWorkflow(t *testing.T) {
	dir := testConfig(t)
	writeTestWorkflow(t, dir, "digest", `
name: digest
triggers: [weekly digest]
steps:
  - id: say
    action: notify
    params:
      message: digest ready
`)

	out, err := runCLI(t, "run", "-y", "publish the weekly digest")
	if err != nil {
		t.Fatalf("run: %v\n%s", err, out)
	}
	if !strings.Contains(out, "Workflow digest") {
		t.Errorf("expected digest workflow in output %q", out)
	}
}

func TestSwarmsAndReconcileCommands(t *testing.T) {
	testConfig(t)

	out, err := runCLI(t, "swarms")
	if err != nil {
		t.Fatalf("swarms: %v", err)
	}
	if out != "No swarm sessions found.\n" {
		t.Errorf("unexpected output %q", out)
	}

	out, err = runCLI(t, "reconcile")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if out != "Reconciled 0 sessions.\n" {
		t.Errorf("unexpected output %q", out)
	}
}

func TestBackupRestoreCommands(t *testing.T) {
	dir := testConfig(t)
	writeTestWorkflow(t, dir, "deploy", "name: deploy\nsteps: []\n")
	archive := filepath.Join(t.TempDir(), "backup.tar.zst")

	out, err := runCLI(t, "backup", "-f", archive)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if !strings.Contains(out, "Backup complete: 2 files") {
		t.Errorf("unexpected output %q", out)
	}

	if _, err := runCLI(t, "restore", "-f", archive); err == nil {
		t.Fatal("expected restore over existing files to fail")
	}

	if err := os.Remove(filepath.Join(dir, "workflows", "deploy.yaml")); err != nil {
		t.Fatal(err)
	}
	out, err = runCLI(t, "restore", "-f", archive, "--overwrite")
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if out != "Restore complete: 2 files\n" {
		t.Errorf("unexpected output %q", out)
	}
	if _, err := os.Stat(filepath.Join(dir, "workflows", "deploy.yaml")); err != nil {
		t.Errorf("workflow not restored: %v", err)
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestEventsCommand(t *testing.T) {
	bus, err := natsbus.New(config.NATSConfig{})
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(bus.Close)
	t.Setenv("CONDUCTOR_NATS_URL", bus.ClientURL())
	testConfig(t)

	out := &syncBuffer{}
	cmd := &eventsCommand{
		root:  &rootCommand{Stdout: out, loadConfig: config.Load},
		topic: natsbus.TopicEventsAll,
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- cmd.Run(ctx) }()

	client, err := natsbus.NewClient(bus)
	if err != nil {
		t.Fatalf("client: %v", err)
	}
	defer client.Close()

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(out.String(), "events.swarm.s1") {
		if time.Now().After(deadline) {
			t.Fatalf("event not printed, got %q", out.String())
		}
		client.Publish(natsbus.TopicEventsSwarmID("s1"), []byte(`{"type":"swarm_started"}`))
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("events: %v", err)
	}
}
