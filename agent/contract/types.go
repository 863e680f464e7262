package contract

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

const (
	AgentResearcher = "researcher"
	AgentSummarizer = "summarizer"
	AgentCoder      = "coder"
	AgentDebugger   = "debugger"
)

// SpeakerTask is the speaker recorded on the seed message of every transcript.
const SpeakerTask = "task"

type ToolOutput struct {
	Tool   string `json:"tool"`
	Output string `json:"output"`
}

type Message struct {
	Role        Role         `json:"role"`
	Speaker     string       `json:"speaker"`
	Content     string       `json:"content"`
	ToolOutputs []ToolOutput `json:"tool_outputs,omitempty"`
}

// ToolOutput returns the last raw output this message recorded for tool.
func (m Message) ToolOutput(tool string) (string, bool) {
	for i := len(m.ToolOutputs) - 1; i >= 0; i-- {
		if m.ToolOutputs[i].Tool == tool {
			return m.ToolOutputs[i].Output, true
		}
	}
	return "", false
}

// Transcript is append-only: Append never writes into the receiver's backing array.
type Transcript []Message

func NewTranscript(task Task) Transcript {
	return Transcript{{
		Role:    RoleUser,
		Speaker: SpeakerTask,
		Content: task.Input,
	}}
}

func (t Transcript) Append(msg Message) Transcript {
	out := make(Transcript, len(t), len(t)+1)
	copy(out, t)
	return append(out, msg)
}

func (t Transcript) Last() (Message, bool) {
	if len(t) == 0 {
		return Message{}, false
	}
	return t[len(t)-1], true
}

func (t Transcript) LastFrom(speaker string) (Message, bool) {
	for i := len(t) - 1; i >= 0; i-- {
		if t[i].Role == RoleAgent && t[i].Speaker == speaker {
			return t[i], true
		}
	}
	return Message{}, false
}

func (t Transcript) AgentTurns() int {
	n := 0
	for _, m := range t {
		if m.Role == RoleAgent {
			n++
		}
	}
	return n
}

type Task struct {
	ID    string `json:"id"`
	Input string `json:"input"`
}

func NewTask(input string) Task {
	return Task{
		ID:    uuid.NewString(),
		Input: strings.TrimSpace(input),
	}
}

type Policy string

const (
	PolicyRotation  Policy = "rotation"
	PolicySelection Policy = "selection"
)

func ParsePolicy(raw string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "rotation", "roundrobin", "round-robin":
		return PolicyRotation, nil
	case "selection", "selector":
		return PolicySelection, nil
	default:
		return "", fmt.Errorf("%w: unknown mode %q", ErrConfiguration, raw)
	}
}

// RunResult is what a run produced. Transcript starts with the seeded task
// message, so it holds Turns+1 entries; the turn ceiling bounds Turns, not
// len(Transcript).
type RunResult struct {
	RunID      string     `json:"run_id"`
	Content    string     `json:"content"`
	Transcript Transcript `json:"transcript"`
	Turns      int        `json:"turns"`
	Stopped    bool       `json:"stopped"`
}

type OutcomeStatus string

const (
	OutcomeCompleted OutcomeStatus = "completed"
	OutcomeFailed    OutcomeStatus = "failed"
)

type Outcome struct {
	RunID      string        `json:"run_id"`
	Flow       string        `json:"flow"`
	Mode       Policy        `json:"mode"`
	Task       Task          `json:"task"`
	Status     OutcomeStatus `json:"status"`
	Content    string        `json:"content,omitempty"`
	Turns      int           `json:"turns"`
	Err        error         `json:"-"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
}
