package swarm

import (
	"encoding/json"

	"github.com/mtzanidakis/conductor/internal/store"
)

// Assignment is what a worker receives on worker.<type>.input.
type Assignment struct {
	TaskID     string `json:"task_id"`
	SessionID  string `json:"session_id"`
	WorkerType string `json:"worker_type"`
	Goal       string `json:"goal"`
	Context    string `json:"context,omitempty"`
	Priority   int    `json:"priority"`
	// ReplyTopic is where the worker publishes its WorkerResult.
	ReplyTopic string `json:"reply_topic"`
}

const (
	ResultCompleted = "completed"
	ResultFailed    = "failed"
)

// WorkerResult is a worker's report for one assignment.
type WorkerResult struct {
	TaskID string          `json:"task_id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Result summarises a swarm session once the coordinator stops waiting.
type Result struct {
	SessionID string                     `json:"session_id"`
	Total     int                        `json:"total"`
	Completed int                        `json:"completed"`
	Failed    int                        `json:"failed"`
	Pending   int                        `json:"pending"`
	Complete  bool                       `json:"complete"`
	Results   map[string]json.RawMessage `json:"results"`
}

// IPCCommand is a request received on host.swarm.ipc.
type IPCCommand struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type IPCResponse struct {
	OK       bool                `json:"ok,omitempty"`
	Error    string              `json:"error,omitempty"`
	Tasks    []store.Task        `json:"tasks,omitempty"`
	Session  *store.SwarmSession `json:"session,omitempty"`
	Progress *store.Progress     `json:"progress,omitempty"`
}

// IPCPayload carries the arguments of every IPC command type; each command
// reads only the fields it needs.
type IPCPayload struct {
	SessionID string          `json:"session_id,omitempty"`
	TaskID    string          `json:"task_id,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}
