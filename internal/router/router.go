package router

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/mtzanidakis/conductor/internal/workflow"
)

var ErrNoRoute = errors.New("no workflow matches the task")

const (
	scoreTrigger = 1.0
	scoreName    = 0.8
	// Description matches score descriptionWeight times the share of task
	// words found in the description, once that share exceeds descriptionMin.
	descriptionWeight = 0.6
	descriptionMin    = 0.3
)

type Match struct {
	Workflow string  `json:"workflow"`
	Score    float64 `json:"score"`
}

// entry is keyed by the loader key, since a definition's declared name need
// not resolve.
type entry struct {
	key         string
	name        string
	description string
}

// Router picks the workflow best suited to a free-text task.
type Router struct {
	loader          *workflow.Loader
	defaultWorkflow string

	mu       sync.RWMutex
	triggers map[string][]string
	entries  []entry
}

func New(loader *workflow.Loader, defaultWorkflow string) *Router {
	return &Router{
		loader:          loader,
		defaultWorkflow: defaultWorkflow,
		triggers:        make(map[string][]string),
	}
}

// Reload rebuilds the trigger index from the workflow directory.
func (r *Router) Reload() error {
	defs, err := r.loader.List()
	if err != nil {
		return fmt.Errorf("list workflows: %w", err)
	}

	triggers := make(map[string][]string)
	entries := make([]entry, 0, len(defs))
	for _, def := range defs {
		for _, t := range def.Triggers {
			t = strings.ToLower(strings.TrimSpace(t))
			if t != "" {
				triggers[t] = append(triggers[t], def.Key)
			}
		}
		entries = append(entries, entry{
			key:         def.Key,
			name:        strings.ToLower(def.Name),
			description: strings.ToLower(def.Description),
		})
	}

	r.mu.Lock()
	r.triggers = triggers
	r.entries = entries
	r.mu.Unlock()

	slog.Debug("workflow routes loaded", "workflows", len(entries), "triggers", len(triggers))
	return nil
}

// Match scores every workflow against task, best first. Workflows that do not
// match at all are omitted.
func (r *Router) Match(task string) []Match {
	lower := strings.ToLower(task)
	words := strings.Fields(lower)

	r.mu.RLock()
	defer r.mu.RUnlock()

	best := make(map[string]float64)
	keep := func(name string, score float64) {
		if score > best[name] {
			best[name] = score
		}
	}

	for trigger, names := range r.triggers {
		if strings.Contains(lower, trigger) {
			for _, name := range names {
				keep(name, scoreTrigger)
			}
		}
	}

	for _, e := range r.entries {
		if strings.Contains(lower, strings.ToLower(e.key)) || (e.name != "" && strings.Contains(lower, e.name)) {
			keep(e.key, scoreName)
		}
		if e.description == "" || len(words) == 0 {
			continue
		}
		hits := 0
		for _, w := range words {
			if strings.Contains(e.description, w) {
				hits++
			}
		}
		if ratio := float64(hits) / float64(len(words)); ratio > descriptionMin {
			keep(e.key, ratio*descriptionWeight)
		}
	}

	matches := make([]Match, 0, len(best))
	for name, score := range best {
		matches = append(matches, Match{Workflow: name, Score: score})
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Workflow < matches[j].Workflow
	})
	return matches
}

// Route returns the best matching workflow, falling back to the default one.
func (r *Router) Route(task string) (string, error) {
	if matches := r.Match(task); len(matches) > 0 {
		slog.Info("task routed", "workflow", matches[0].Workflow, "confidence", matches[0].Score)
		return matches[0].Workflow, nil
	}

	if r.defaultWorkflow == "" {
		return "", ErrNoRoute
	}
	slog.Debug("no workflow matched, using default", "workflow", r.defaultWorkflow)
	return r.defaultWorkflow, nil
}
