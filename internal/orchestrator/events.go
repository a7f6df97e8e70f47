package orchestrator

import (
	"context"
	"time"

	"github.com/mtzanidakis/conductor/internal/natsbus"
	"github.com/mtzanidakis/conductor/internal/workflow"
)

// PublishWorkflowEvents mirrors every workflow lifecycle event onto
// events.workflow.<session>.
func PublishWorkflowEvents(hooks *workflow.Hooks, client *natsbus.Client) error {
	for _, ev := range []workflow.Event{workflow.PreExecute, workflow.OnError, workflow.OnSuccess, workflow.PostExecute} {
		err := hooks.Subscribe(ev, func(_ context.Context, s workflow.Session) error {
			return client.PublishJSON(natsbus.TopicEventsWorkflowID(s.ID), map[string]any{
				"type":      "workflow_" + string(ev),
				"session":   s.ID,
				"workflow":  s.WorkflowName,
				"status":    s.Status,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
				"data": map[string]any{
					"steps_completed": len(s.StepsCompleted),
					"steps_failed":    len(s.StepsFailed),
				},
			})
		})
		if err != nil {
			return err
		}
	}
	return nil
}
