package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"

	"github.com/yungbote/curriculumgen/internal/generation/engine"
)

func stdinIsTerminal() bool {
	fd := os.Stdin.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// defaultOnExhausted asks the operator when one is attached and aborts otherwise.
func defaultOnExhausted(interactive bool) string {
	if interactive {
		return "confirm"
	}
	return "abort"
}

// consoleConfirmer asks on the terminal what to do with an exhausted artifact. Workers
// share it, so prompts are serialized.
type consoleConfirmer struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newConsoleConfirmer(in io.Reader, out io.Writer) *consoleConfirmer {
	return &consoleConfirmer{in: bufio.NewReader(in), out: out}
}

func (c *consoleConfirmer) Confirm(ctx context.Context, ex engine.Exhausted) (engine.Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintf(c.out, "\n%s failed %d attempts.\n", ex.Key, ex.Attempts)
	fmt.Fprintf(c.out, "  last: %s: %s\n", ex.Last.Outcome, ex.Last.Detail)
	for _, ref := range ex.InvalidRefs {
		fmt.Fprintf(c.out, "  rejected: %s\n", ref)
	}
	for {
		if err := ctx.Err(); err != nil {
			return engine.DecisionAbort, err
		}
		fmt.Fprint(c.out, "Write a placeholder and continue? [y]es / [n]o, fail this artifact / [s]top the batch: ")
		line, err := c.in.ReadString('\n')
		if err != nil && line == "" {
			return engine.DecisionAbort, fmt.Errorf("read answer: %w", err)
		}
		if d, ok := parseAnswer(line); ok {
			return d, nil
		}
		fmt.Fprintln(c.out, "Please answer y, n or s.")
	}
}

func parseAnswer(line string) (engine.Decision, bool) {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes", "p", "placeholder":
		return engine.DecisionDegrade, true
	case "n", "no", "a", "abort":
		return engine.DecisionAbort, true
	case "s", "stop", "q", "quit":
		return engine.DecisionAbortBatch, true
	default:
		return engine.DecisionAbort, false
	}
}
