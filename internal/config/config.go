package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Store        StoreConfig            `yaml:"store"`
	NATS         NATSConfig             `yaml:"nats"`
	Workflow     WorkflowConfig         `yaml:"workflow"`
	Swarm        SwarmConfig            `yaml:"swarm"`
	Scheduler    SchedulerConfig        `yaml:"scheduler"`
	Schedules    []ScheduleEntry        `yaml:"schedules"`
	Skills       map[string]SkillConfig `yaml:"skills"`
	Analyzer     AnalyzerConfig         `yaml:"analyzer"`
	Telegram     TelegramConfig         `yaml:"telegram"`
	Orchestrator OrchestratorConfig     `yaml:"orchestrator"`
}

type StoreConfig struct {
	Path string `yaml:"path"`
}

type NATSConfig struct {
	Port int `yaml:"port"`
	// URL connects to an external server instead of embedding one.
	URL string `yaml:"url"`
}

type WorkflowConfig struct {
	Dir            string        `yaml:"dir"`
	MemoryDir      string        `yaml:"memory_dir"`
	OutputDir      string        `yaml:"output_dir"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	Default        string        `yaml:"default"`
}

type SwarmConfig struct {
	WaitTimeout  time.Duration `yaml:"wait_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
	// ClaimTimeout is how long a running task may go unreported before a
	// resumed session dispatches it again.
	ClaimTimeout time.Duration `yaml:"claim_timeout"`
	Roles        []SwarmRole   `yaml:"roles"`
}

// SwarmRole describes one kind of subtask produced when a task is fanned out.
// Goal may reference the main task with {{task}}. An omitted priority
// leaves the store default; an explicit 0 is kept.
type SwarmRole struct {
	WorkerType string `yaml:"worker_type"`
	Goal       string `yaml:"goal"`
	Priority   *int   `yaml:"priority"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

// ScheduleEntry runs Workflow on Schedule: a cron expression,
// "every <duration>" or "at <RFC3339 time>".
type ScheduleEntry struct {
	Name     string `yaml:"name"`
	Workflow string `yaml:"workflow"`
	Schedule string `yaml:"schedule"`
}

type SkillConfig struct {
	Description string   `yaml:"description"`
	Keywords    []string `yaml:"keywords"`
	TaskTypes   []string `yaml:"task_types"`
}

type AnalyzerConfig struct {
	Patterns map[string]TaskPattern `yaml:"patterns"`
}

type TaskPattern struct {
	Keywords       []string `yaml:"keywords"`
	ComplexityBase int      `yaml:"complexity_base"`
}

type TelegramConfig struct {
	Token   string  `yaml:"token"`
	ChatIDs []int64 `yaml:"chat_ids"`
}

type OrchestratorConfig struct {
	AutoConfirm bool `yaml:"auto_confirm"`
}

func defaults() Config {
	return Config{
		Store: StoreConfig{
			Path: "data/swarm.db",
		},
		NATS: NATSConfig{
			Port: 4222,
		},
		Workflow: WorkflowConfig{
			Dir:            "workflows",
			MemoryDir:      "data/memory",
			OutputDir:      "output",
			CommandTimeout: 60 * time.Second,
		},
		Swarm: SwarmConfig{
			WaitTimeout:  30 * time.Minute,
			PollInterval: 2 * time.Second,
			ClaimTimeout: 10 * time.Minute,
			Roles: []SwarmRole{
				{WorkerType: "planner", Goal: "Break down and plan: {{task}}"},
				{WorkerType: "implementer", Goal: "Implement: {{task}}"},
				{WorkerType: "reviewer", Goal: "Review the result of: {{task}}"},
			},
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
		Analyzer: AnalyzerConfig{
			Patterns: map[string]TaskPattern{
				"web_development":  {Keywords: []string{"website", "frontend", "html", "css", "javascript", "react", "vue", "page", "ui"}, ComplexityBase: 4},
				"api_development":  {Keywords: []string{"api", "endpoint", "backend", "rest", "graphql", "microservice"}, ComplexityBase: 5},
				"data_analysis":    {Keywords: []string{"data analysis", "visualization", "report", "statistics", "crawler", "etl", "excel"}, ComplexityBase: 5},
				"automation":       {Keywords: []string{"automate", "automation", "script", "batch", "cron", "workflow"}, ComplexityBase: 4},
				"content_creation": {Keywords: []string{"novel", "story", "writing", "outline", "article", "blog"}, ComplexityBase: 4},
				"documentation":    {Keywords: []string{"docs", "documentation", "pdf", "wiki", "readme"}, ComplexityBase: 3},
			},
		},
	}
}

func Load() (*Config, error) {
	cfg := defaults()

	path := os.Getenv("CONDUCTOR_CONFIG")
	if path == "" {
		path = "config/conductor.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults + env
	} else {
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("CONDUCTOR_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("CONDUCTOR_NATS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.NATS.Port = port
		}
	}
	if v := os.Getenv("CONDUCTOR_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("CONDUCTOR_WORKFLOW_DIR"); v != "" {
		cfg.Workflow.Dir = v
	}
	if v := os.Getenv("CONDUCTOR_MEMORY_DIR"); v != "" {
		cfg.Workflow.MemoryDir = v
	}
	if v := os.Getenv("CONDUCTOR_COMMAND_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Workflow.CommandTimeout = d
		}
	}
	if v := os.Getenv("CONDUCTOR_DEFAULT_WORKFLOW"); v != "" {
		cfg.Workflow.Default = v
	}
	if v := os.Getenv("CONDUCTOR_TELEGRAM_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("CONDUCTOR_TELEGRAM_CHAT_IDS"); v != "" {
		var ids []int64
		for _, part := range strings.Split(v, ",") {
			if id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64); err == nil {
				ids = append(ids, id)
			}
		}
		cfg.Telegram.ChatIDs = ids
	}
	if v := os.Getenv("CONDUCTOR_AUTO_CONFIRM"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Orchestrator.AutoConfirm = b
		}
	}
}
