package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mtzanidakis/conductor/internal/natsbus"
	"github.com/mtzanidakis/conductor/internal/swarm"
)

func sendIPC(natsURL, reqType string, payload swarm.IPCPayload) (*swarm.IPCResponse, error) {
	client, err := natsbus.NewClientFromURL(natsURL)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	var resp swarm.IPCResponse
	if err := client.RequestJSON(natsbus.TopicSwarmIPC, swarm.IPCCommand{Type: reqType, Payload: raw}, &resp, 10*time.Second); err != nil {
		return nil, fmt.Errorf("ipc request: %w", err)
	}
	return &resp, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

// resultJSON passes valid JSON through and encodes anything else as a JSON
// string.
func resultJSON(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	b, _ := json.Marshal(s)
	return b
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  swarmctl list --session "..."`)
	fmt.Fprintln(os.Stderr, `  swarmctl status --session "..."`)
	fmt.Fprintln(os.Stderr, `  swarmctl complete --id "..." [--result "..."]`)
	fmt.Fprintln(os.Stderr, `  swarmctl fail --id "..." --error "..."`)
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// run executes one command and writes its report to w.
func run(w io.Writer, natsURL, command string, args map[string]string) error {
	var (
		payload swarm.IPCPayload
		reqType = command
	)

	switch command {
	case "list", "status":
		if args["session"] == "" {
			return fmt.Errorf("--session is required")
		}
		payload.SessionID = args["session"]
	case "complete":
		if args["id"] == "" {
			return fmt.Errorf("--id is required")
		}
		payload.TaskID = args["id"]
		payload.Result = resultJSON(args["result"])
	case "fail":
		if args["id"] == "" || args["error"] == "" {
			return fmt.Errorf("--id and --error are required")
		}
		payload.TaskID = args["id"]
		payload.Error = args["error"]
	default:
		return fmt.Errorf("unknown command: %s", command)
	}

	resp, err := sendIPC(natsURL, reqType, payload)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return fmt.Errorf("%s", resp.Error)
	}

	switch command {
	case "list":
		if len(resp.Tasks) == 0 {
			fmt.Fprintln(w, "No tasks found.")
			return nil
		}
		for _, t := range resp.Tasks {
			fmt.Fprintf(w, "  %s  %-9s  p%d  %s\n", t.ID, t.Status, t.Priority, t.WorkerType)
		}
	case "status":
		if resp.Session == nil || resp.Progress == nil {
			return fmt.Errorf("empty status response")
		}
		p := resp.Progress
		fmt.Fprintf(w, "Session %s: %s\n", resp.Session.ID, resp.Session.Status)
		fmt.Fprintf(w, "  %d/%d completed, %d failed, %d running, %d pending\n",
			p.Completed, p.Total, p.Failed, p.Running, p.Pending)
	case "complete":
		fmt.Fprintln(w, "Task completed.")
	case "fail":
		fmt.Fprintln(w, "Task marked failed.")
	}
	return nil
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	if err := run(os.Stdout, natsURL, os.Args[1], parseArgs(os.Args[2:])); err != nil {
		fatal("%v", err)
	}
}
