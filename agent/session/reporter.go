package session

import (
	"fmt"
	"io"
	"strings"
	"sync"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
)

const separator = "----------------------------------------"

type Reporter interface {
	Report(outcome contractx.Outcome)
}

// ConsoleReporter prints one block per task: header, result or error, separator.
type ConsoleReporter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{w: w}
}

func (r *ConsoleReporter) Report(outcome contractx.Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s\n", outcome.Mode, outcome.Task.Input)
	fmt.Fprintf(&b, "task_id: %s\n", outcome.Task.ID)
	if outcome.Status == contractx.OutcomeFailed {
		fmt.Fprintf(&b, "error: %s\n", outcome.Error)
		if outcome.Content != "" {
			fmt.Fprintf(&b, "partial result:\n%s\n", outcome.Content)
		}
	} else {
		fmt.Fprintf(&b, "%s\n", outcome.Content)
	}
	b.WriteString(separator + "\n")

	_, _ = io.WriteString(r.w, b.String())
}
