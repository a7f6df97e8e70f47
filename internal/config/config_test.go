package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Store.Path != "data/swarm.db" {
		t.Errorf("expected store path data/swarm.db, got %s", cfg.Store.Path)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Workflow.Dir != "workflows" {
		t.Errorf("expected workflow dir workflows, got %s", cfg.Workflow.Dir)
	}
	if cfg.Workflow.CommandTimeout != 60*time.Second {
		t.Errorf("expected command timeout 60s, got %v", cfg.Workflow.CommandTimeout)
	}
	if cfg.Swarm.WaitTimeout != 30*time.Minute {
		t.Errorf("expected swarm wait timeout 30m, got %v", cfg.Swarm.WaitTimeout)
	}
	if len(cfg.Swarm.Roles) != 3 {
		t.Errorf("expected 3 default swarm roles, got %d", len(cfg.Swarm.Roles))
	}
	if cfg.Scheduler.PollInterval != 30*time.Second {
		t.Errorf("expected poll interval 30s, got %v", cfg.Scheduler.PollInterval)
	}
	if _, ok := cfg.Analyzer.Patterns["api_development"]; !ok {
		t.Error("expected api_development analyzer pattern")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	t.Setenv("CONDUCTOR_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("CONDUCTOR_STORE_PATH", "/tmp/other.db")
	t.Setenv("CONDUCTOR_NATS_PORT", "4333")
	t.Setenv("CONDUCTOR_COMMAND_TIMEOUT", "5s")
	t.Setenv("CONDUCTOR_TELEGRAM_CHAT_IDS", "1, 2,bad")
	t.Setenv("CONDUCTOR_AUTO_CONFIRM", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Path != "/tmp/other.db" {
		t.Errorf("expected store path override, got %s", cfg.Store.Path)
	}
	if cfg.NATS.Port != 4333 {
		t.Errorf("expected nats port 4333, got %d", cfg.NATS.Port)
	}
	if cfg.Workflow.CommandTimeout != 5*time.Second {
		t.Errorf("expected command timeout 5s, got %v", cfg.Workflow.CommandTimeout)
	}
	if len(cfg.Telegram.ChatIDs) != 2 || cfg.Telegram.ChatIDs[1] != 2 {
		t.Errorf("expected chat ids [1 2], got %v", cfg.Telegram.ChatIDs)
	}
	if !cfg.Orchestrator.AutoConfirm {
		t.Error("expected auto confirm enabled")
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
store:
  path: "${TEST_DATA_DIR}/queue.db"
workflow:
  dir: "/etc/conductor/workflows"
  command_timeout: 2m
  default: "generic"
swarm:
  roles:
    - worker_type: "coder"
      goal: "Write code for {{task}}"
      priority: 0
schedules:
  - name: nightly
    workflow: cleanup
    schedule: "0 3 * * *"
skills:
  api-docs:
    description: "Generate API docs"
    keywords: ["api", "docs"]
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CONDUCTOR_CONFIG", cfgPath)
	t.Setenv("TEST_DATA_DIR", "/var/lib/conductor")
	t.Setenv("CONDUCTOR_STORE_PATH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Store.Path != "/var/lib/conductor/queue.db" {
		t.Errorf("expected expanded store path, got %s", cfg.Store.Path)
	}
	if cfg.Workflow.CommandTimeout != 2*time.Minute {
		t.Errorf("expected command timeout 2m, got %v", cfg.Workflow.CommandTimeout)
	}
	if cfg.Workflow.Default != "generic" {
		t.Errorf("expected default workflow generic, got %s", cfg.Workflow.Default)
	}
	if len(cfg.Swarm.Roles) != 1 || cfg.Swarm.Roles[0].WorkerType != "coder" {
		t.Errorf("expected single coder role, got %+v", cfg.Swarm.Roles)
	}
	if p := cfg.Swarm.Roles[0].Priority; p == nil || *p != 0 {
		t.Errorf("expected explicit priority 0 to be kept, got %v", p)
	}
	if cfg.Swarm.ClaimTimeout != 10*time.Minute {
		t.Errorf("expected default claim timeout 10m, got %v", cfg.Swarm.ClaimTimeout)
	}
	if len(cfg.Schedules) != 1 || cfg.Schedules[0].Schedule != "0 3 * * *" {
		t.Errorf("expected nightly schedule, got %+v", cfg.Schedules)
	}
	if got := cfg.Skills["api-docs"].Keywords; len(got) != 2 {
		t.Errorf("expected 2 skill keywords, got %v", got)
	}
	// Untouched sections keep their defaults.
	if cfg.Workflow.MemoryDir != "data/memory" {
		t.Errorf("expected default memory dir, got %s", cfg.Workflow.MemoryDir)
	}
}
