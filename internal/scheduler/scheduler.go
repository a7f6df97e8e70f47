package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mtzanidakis/conductor/internal/config"
	"github.com/mtzanidakis/conductor/internal/natsbus"
	"github.com/mtzanidakis/conductor/internal/schedule"
	"github.com/mtzanidakis/conductor/internal/workflow"
)

// Runner executes a workflow by name.
type Runner interface {
	Run(workflowName string) (*workflow.Summary, error)
}

type job struct {
	entry    config.ScheduleEntry
	schedule *schedule.Schedule
	next     time.Time
	done     bool
}

// Scheduler runs configured workflows when their schedules come due.
type Scheduler struct {
	runner       Runner
	natsClient   *natsbus.Client
	pollInterval time.Duration
	now          func() time.Time

	mu   sync.Mutex
	jobs []*job
}

func New(entries []config.ScheduleEntry, runner Runner, client *natsbus.Client, cfg config.SchedulerConfig) (*Scheduler, error) {
	s := &Scheduler{
		runner:       runner,
		natsClient:   client,
		pollInterval: cfg.PollInterval,
		now:          time.Now,
	}

	now := s.now()
	for _, e := range entries {
		if e.Workflow == "" {
			return nil, fmt.Errorf("schedule %q: workflow is required", e.Name)
		}
		sched, err := schedule.Parse(e.Schedule)
		if err != nil {
			return nil, fmt.Errorf("schedule %q: %w", e.Name, err)
		}
		j := &job{entry: e, schedule: sched}
		j.next, j.done = nextRun(sched, now)
		s.jobs = append(s.jobs, j)
	}
	return s, nil
}

func nextRun(sched *schedule.Schedule, from time.Time) (time.Time, bool) {
	next, ok := sched.Next(from)
	return next, !ok
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval == 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval, "schedules", len(s.jobs))

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.poll(s.now())
		}
	}
}

// poll runs every job due at now. A job that came due several times since
// the last poll runs once.
func (s *Scheduler) poll(now time.Time) {
	s.mu.Lock()
	var due []*job
	for _, j := range s.jobs {
		if j.done || j.next.After(now) {
			continue
		}
		due = append(due, j)
		j.next, j.done = nextRun(j.schedule, now)
	}
	s.mu.Unlock()

	for _, j := range due {
		s.execute(j.entry)
	}
}

func (s *Scheduler) execute(e config.ScheduleEntry) {
	slog.Info("executing scheduled workflow", "name", e.Name, "workflow", e.Workflow)

	status, session := "success", ""
	summary, err := s.runner.Run(e.Workflow)
	switch {
	case err != nil:
		status = "error"
		slog.Error("scheduled workflow failed to start", "name", e.Name, "error", err)
	case !summary.Success:
		status = "failed"
		session = summary.SessionID
		slog.Warn("scheduled workflow failed", "name", e.Name, "session", summary.SessionID)
	default:
		session = summary.SessionID
	}

	s.publishExecutedEvent(e, status, session)
}

// Upcoming returns the next run of every active schedule.
func (s *Scheduler) Upcoming() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]time.Time, len(s.jobs))
	for _, j := range s.jobs {
		if !j.done {
			out[j.entry.Name] = j.next
		}
	}
	return out
}

func (s *Scheduler) publishExecutedEvent(e config.ScheduleEntry, status, session string) {
	if s.natsClient == nil {
		return
	}

	event := map[string]any{
		"type":      "schedule_executed",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"data": map[string]any{
			"name":     e.Name,
			"workflow": e.Workflow,
			"status":   status,
			"session":  session,
		},
	}
	_ = s.natsClient.PublishJSON(natsbus.TopicEventsSchedule, event)
}
