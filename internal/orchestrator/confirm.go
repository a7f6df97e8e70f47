package orchestrator

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mtzanidakis/conductor/internal/scenario"
)

// AutoConfirm approves every scenario.
type AutoConfirm struct{}

func (AutoConfirm) Confirm(context.Context, string, scenario.Info) (bool, error) {
	return true, nil
}

// PromptConfirmer asks on out and reads a yes/no answer from in.
type PromptConfirmer struct {
	in  *bufio.Reader
	out io.Writer
}

func NewPromptConfirmer(in io.Reader, out io.Writer) *PromptConfirmer {
	return &PromptConfirmer{in: bufio.NewReader(in), out: out}
}

func (p *PromptConfirmer) Confirm(ctx context.Context, task string, info scenario.Info) (bool, error) {
	fmt.Fprintf(p.out, "Scenario: %s (%s)\n", info.Name, info.Description)
	fmt.Fprintf(p.out, "Up to %d agents, about %d steps.\n", info.MaxAgents, info.EstimatedSteps)
	fmt.Fprintf(p.out, "Proceed with %q? [y/N] ", task)

	type answer struct {
		line string
		err  error
	}
	ch := make(chan answer, 1)
	go func() {
		line, err := p.in.ReadString('\n')
		ch <- answer{line, err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case a := <-ch:
		if a.err != nil && a.err != io.EOF {
			return false, a.err
		}
		switch strings.ToLower(strings.TrimSpace(a.line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	}
}
