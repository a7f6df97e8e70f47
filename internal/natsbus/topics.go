package natsbus

import "fmt"

// Topic patterns for NATS pub/sub communication.

// TopicWorkerInput carries swarm assignments for one worker type.
func TopicWorkerInput(workerType string) string {
	return fmt.Sprintf("worker.%s.input", workerType)
}

// TopicSwarmResults carries worker reports for a swarm session.
func TopicSwarmResults(sessionID string) string {
	return fmt.Sprintf("swarm.%s.results", sessionID)
}

func TopicEventsSwarmID(sessionID string) string {
	return fmt.Sprintf("events.swarm.%s", sessionID)
}

func TopicEventsWorkflowID(sessionID string) string {
	return fmt.Sprintf("events.workflow.%s", sessionID)
}

const (
	TopicSwarmResultsAll = "swarm.*.results"
	TopicSwarmIPC        = "host.swarm.ipc"

	TopicEventsAll      = "events.>"
	TopicEventsSwarm    = "events.swarm.*"
	TopicEventsSchedule = "events.schedule.executed"
)
