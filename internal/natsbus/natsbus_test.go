package natsbus

import (
	"testing"
	"time"

	"github.com/mtzanidakis/conductor/internal/config"
	"github.com/nats-io/nats.go"
)

func newTestBus(t *testing.T) *Bus {
	t.Helper()
	bus, err := New(config.NATSConfig{Port: 0}) // Random port
	if err != nil {
		t.Fatalf("failed to create bus: %v", err)
	}
	t.Cleanup(bus.Close)
	return bus
}

func TestBusStartStop(t *testing.T) {
	bus := newTestBus(t)

	if url := bus.ClientURL(); url == "" {
		t.Fatal("expected non-empty client URL")
	}
}

func TestBusKeepsNoJetStreamState(t *testing.T) {
	bus := newTestBus(t)

	if bus.server.JetStreamEnabled() {
		t.Fatal("expected jetstream to be disabled")
	}
}

func TestPubSub(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe("test.topic", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.Publish("test.topic", []byte("hello")); err != nil {
		t.Fatalf("publish error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != "hello" {
			t.Errorf("expected 'hello', got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestPublishJSON(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	received := make(chan string, 1)
	_, err = client.Subscribe("test.json", func(msg *nats.Msg) {
		received <- string(msg.Data)
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}

	if err := client.PublishJSON("test.json", map[string]string{"key": "value"}); err != nil {
		t.Fatalf("publish json error: %v", err)
	}
	client.Flush()

	select {
	case data := <-received:
		if data != `{"key":"value"}` {
			t.Errorf("expected json, got '%s'", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for message")
	}
}

func TestRequestJSON(t *testing.T) {
	bus := newTestBus(t)

	client, err := NewClient(bus)
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	defer client.Close()

	_, err = client.Subscribe("test.echo", func(msg *nats.Msg) {
		_ = msg.Respond([]byte(`{"ok":true}`))
	})
	if err != nil {
		t.Fatalf("subscribe error: %v", err)
	}
	client.Flush()

	var resp struct {
		OK bool `json:"ok"`
	}
	if err := client.RequestJSON("test.echo", map[string]string{"type": "ping"}, &resp, 2*time.Second); err != nil {
		t.Fatalf("request error: %v", err)
	}
	if !resp.OK {
		t.Error("expected ok response")
	}
}

func TestTopicNames(t *testing.T) {
	if got := TopicWorkerInput("coder"); got != "worker.coder.input" {
		t.Errorf("expected worker.coder.input, got %s", got)
	}
	if got := TopicSwarmResults("s1"); got != "swarm.s1.results" {
		t.Errorf("expected swarm.s1.results, got %s", got)
	}
	if got := TopicEventsSwarmID("s1"); got != "events.swarm.s1" {
		t.Errorf("expected events.swarm.s1, got %s", got)
	}
	if got := TopicEventsWorkflowID("ab12cd34"); got != "events.workflow.ab12cd34" {
		t.Errorf("expected events.workflow.ab12cd34, got %s", got)
	}
}
