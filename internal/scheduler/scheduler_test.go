package scheduler

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mtzanidakis/conductor/internal/config"
	"github.com/mtzanidakis/conductor/internal/workflow"
)

type recordingRunner struct {
	mu   sync.Mutex
	runs []string
	err  error
}

func (r *recordingRunner) Run(name string) (*workflow.Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs = append(r.runs, name)
	if r.err != nil {
		return nil, r.err
	}
	return &workflow.Summary{Success: true, SessionID: "abcd1234", Status: workflow.StatusCompleted}, nil
}

func newTestScheduler(t *testing.T, now time.Time, runner Runner, entries ...config.ScheduleEntry) *Scheduler {
	t.Helper()
	s, err := New(entries, runner, nil, config.SchedulerConfig{PollInterval: time.Minute})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	// recompute against the fixed clock
	for _, j := range s.jobs {
		j.next, j.done = nextRun(j.schedule, now)
	}
	return s
}

func TestPollRunsDueWorkflows(t *testing.T) {
	start := time.Date(2026, 5, 1, 8, 30, 0, 0, time.UTC)
	runner := &recordingRunner{}
	s := newTestScheduler(t, start, runner,
		config.ScheduleEntry{Name: "morning", Workflow: "report", Schedule: "0 9 * * *"},
		config.ScheduleEntry{Name: "often", Workflow: "sync", Schedule: "every 10m"},
	)

	s.poll(start.Add(5 * time.Minute))
	if len(runner.runs) != 0 {
		t.Fatalf("expected nothing due yet, got %v", runner.runs)
	}

	s.poll(start.Add(10 * time.Minute))
	if len(runner.runs) != 1 || runner.runs[0] != "sync" {
		t.Fatalf("expected sync to run, got %v", runner.runs)
	}

	s.poll(start.Add(31 * time.Minute))
	if len(runner.runs) != 3 {
		t.Fatalf("expected report and sync to run, got %v", runner.runs)
	}

	next := s.Upcoming()
	if want := time.Date(2026, 5, 2, 9, 0, 0, 0, time.UTC); !next["morning"].Equal(want) {
		t.Errorf("expected next morning run %v, got %v", want, next["morning"])
	}
}

func TestMissedRunsCollapse(t *testing.T) {
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	runner := &recordingRunner{}
	s := newTestScheduler(t, start, runner,
		config.ScheduleEntry{Name: "often", Workflow: "sync", Schedule: "every 1m"},
	)

	s.poll(start.Add(time.Hour))
	if len(runner.runs) != 1 {
		t.Errorf("expected a single catch-up run, got %d", len(runner.runs))
	}
}

func TestOnceRunsOnce(t *testing.T) {
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	runner := &recordingRunner{}
	s := newTestScheduler(t, start, runner,
		config.ScheduleEntry{Name: "launch", Workflow: "deploy", Schedule: "at 2026-05-01T09:00:00Z"},
	)

	s.poll(start.Add(2 * time.Hour))
	s.poll(start.Add(3 * time.Hour))
	if len(runner.runs) != 1 {
		t.Errorf("expected one run, got %d", len(runner.runs))
	}
	if _, ok := s.Upcoming()["launch"]; ok {
		t.Error("expected finished one-off schedule to be gone")
	}
}

func TestRunnerErrorDoesNotStopSchedule(t *testing.T) {
	start := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	runner := &recordingRunner{err: errors.New("workflow not found")}
	s := newTestScheduler(t, start, runner,
		config.ScheduleEntry{Name: "broken", Workflow: "missing", Schedule: "every 1m"},
	)

	s.poll(start.Add(time.Minute))
	s.poll(start.Add(2 * time.Minute))
	if len(runner.runs) != 2 {
		t.Errorf("expected two attempts, got %d", len(runner.runs))
	}
}

func TestNewRejectsInvalidEntries(t *testing.T) {
	tests := map[string]config.ScheduleEntry{
		"bad schedule":     {Name: "x", Workflow: "w", Schedule: "whenever"},
		"missing workflow": {Name: "x", Schedule: "@hourly"},
	}
	for name, e := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := New([]config.ScheduleEntry{e}, &recordingRunner{}, nil, config.SchedulerConfig{}); err == nil {
				t.Error("expected error")
			}
		})
	}
}
