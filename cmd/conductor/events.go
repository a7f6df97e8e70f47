package main

import (
	"context"
	"fmt"

	"github.com/alecthomas/kingpin/v2"
	"github.com/nats-io/nats.go"

	"github.com/mtzanidakis/conductor/internal/natsbus"
)

type eventsCommand struct {
	Cmd  *kingpin.CmdClause
	root *rootCommand

	topic string
}

func newEventsCommand(root *rootCommand, app *kingpin.Application) *eventsCommand {
	c := &eventsCommand{root: root}
	c.Cmd = app.Command("events", "Print workflow, swarm and schedule events from a running serve process.")
	c.Cmd.Flag("topic", "Subject to follow.").Default(natsbus.TopicEventsAll).StringVar(&c.topic)
	return c
}

func (c *eventsCommand) Name() string { return c.Cmd.FullCommand() }

func (c *eventsCommand) Run(ctx context.Context) error {
	cfg, err := c.root.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	url := cfg.NATS.URL
	if url == "" {
		url = fmt.Sprintf("nats://127.0.0.1:%d", cfg.NATS.Port)
	}
	client, err := natsbus.NewClientFromURL(url)
	if err != nil {
		return err
	}
	defer client.Close()

	lines := make(chan string, 64)
	sub, err := client.Subscribe(c.topic, func(msg *nats.Msg) {
		select {
		case lines <- fmt.Sprintf("%s %s", msg.Subject, msg.Data):
		default:
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.topic, err)
	}
	defer sub.Unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line := <-lines:
			fmt.Fprintln(c.root.Stdout, line)
		}
	}
}
