package orchestrator

import (
	"context"

	"github.com/mtzanidakis/conductor/internal/memory"
	"github.com/mtzanidakis/conductor/internal/workflow"
)

// RecordWorkflowErrors notes the failing step of every failed workflow run
// under its error signature, so a later fix can be matched to it.
func RecordWorkflowErrors(hooks *workflow.Hooks, notes *memory.Manager) error {
	return hooks.Subscribe(workflow.OnError, func(_ context.Context, s workflow.Session) error {
		if len(s.Errors) == 0 {
			return nil
		}
		last := s.Errors[len(s.Errors)-1]
		_, err := notes.RecordError(last.Error, map[string]string{
			"workflow": s.WorkflowName,
			"session":  s.ID,
			"step":     last.Step,
		})
		return err
	})
}
