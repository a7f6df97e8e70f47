package orchestrator

import (
	"fmt"
	"strings"

	"github.com/mtzanidakis/conductor/internal/config"
	"github.com/mtzanidakis/conductor/internal/scenario"
	"github.com/mtzanidakis/conductor/internal/store"
)

// RoleDecomposer produces one subtask per configured role, up to the
// scenario's agent cap.
type RoleDecomposer struct {
	roles []config.SwarmRole
}

func NewRoleDecomposer(roles []config.SwarmRole) *RoleDecomposer {
	return &RoleDecomposer{roles: roles}
}

func (d *RoleDecomposer) Decompose(task string, info scenario.Info) []store.Subtask {
	n := len(d.roles)
	if info.MaxAgents > 0 && info.MaxAgents < n {
		n = info.MaxAgents
	}

	subtasks := make([]store.Subtask, 0, n)
	for _, role := range d.roles[:n] {
		goal := task
		if role.Goal != "" {
			goal = strings.ReplaceAll(role.Goal, "{{task}}", task)
		}
		subtasks = append(subtasks, store.Subtask{
			Type:     role.WorkerType,
			Goal:     goal,
			Context:  fmt.Sprintf("scenario: %s", info.Name),
			Priority: role.Priority,
		})
	}
	return subtasks
}
