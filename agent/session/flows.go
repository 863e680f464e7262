package session

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"

	"github.com/tanpawarit/relay-agents/agent/agents/orchestrator"
	"github.com/tanpawarit/relay-agents/agent/agents/participant"
	contractx "github.com/tanpawarit/relay-agents/agent/contract"
	promptx "github.com/tanpawarit/relay-agents/agent/prompt"
	toolx "github.com/tanpawarit/relay-agents/agent/tool"
)

const (
	FlowResearch = "research"
	FlowCoding   = "coding"
)

// Toolbox holds the capabilities shared by every task of a session.
type Toolbox struct {
	Fetch     contractx.Capability
	Summarize contractx.Capability
	Execute   contractx.Capability
	Lint      contractx.Capability
}

// Models resolves the chat model an agent role talks to. All tasks share the same instances.
type Models struct {
	Default einomodel.ToolCallingChatModel
	ByRole  map[string]einomodel.ToolCallingChatModel
}

func (m Models) For(role string) einomodel.ToolCallingChatModel {
	if model, ok := m.ByRole[role]; ok && model != nil {
		return model
	}
	return m.Default
}

// Team is the fresh roster and run rules a flow builds for one task.
type Team struct {
	Roster []contractx.Responder
	Stop   orchestrator.StopPredicate
	Result orchestrator.ResultRule
}

type Flow interface {
	Name() string
	Build(ctx context.Context, models Models) (Team, error)
}

func ParseFlow(raw string, prompts promptx.PromptSet, tools Toolbox, stopToken string) (Flow, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case FlowResearch, "":
		return ResearchFlow{Prompts: prompts, Tools: tools}, nil
	case FlowCoding:
		return CodingFlow{Prompts: prompts, Tools: tools, StopToken: stopToken}, nil
	default:
		return nil, fmt.Errorf("%w: unknown flow %q", contractx.ErrConfiguration, raw)
	}
}

// ResearchFlow fetches a page and then summarizes it.
type ResearchFlow struct {
	Prompts promptx.PromptSet
	Tools   Toolbox
}

func (ResearchFlow) Name() string { return FlowResearch }

func (f ResearchFlow) Build(ctx context.Context, models Models) (Team, error) {
	fetch, err := toolx.NewFetchPage(f.Tools.Fetch)
	if err != nil {
		return Team{}, err
	}
	summarize, err := toolx.NewSummarizeText(f.Tools.Summarize)
	if err != nil {
		return Team{}, err
	}

	researcher, err := newAgent(ctx, participant.Config{
		Name:        contractx.AgentResearcher,
		Description: "Opens the task URL in a browser and returns the page text.",
		Directive:   f.Prompts.Researcher,
		Strategy:    participant.StrategyToolDelegating,
		Model:       models.For(contractx.AgentResearcher),
	}, fetch)
	if err != nil {
		return Team{}, err
	}
	summarizer, err := newAgent(ctx, participant.Config{
		Name:        contractx.AgentSummarizer,
		Description: "Condenses the fetched page into a short summary.",
		Directive:   f.Prompts.Summarizer,
		Strategy:    participant.StrategyToolDelegating,
		Model:       models.For(contractx.AgentSummarizer),
	}, summarize)
	if err != nil {
		return Team{}, err
	}

	return Team{
		Roster: []contractx.Responder{researcher, summarizer},
		Stop:   orchestrator.StopAfterSpeaker(contractx.AgentSummarizer),
		Result: orchestrator.LastFrom(contractx.AgentSummarizer),
	}, nil
}

// CodingFlow pairs a coder with a debugger that lints and runs the code.
type CodingFlow struct {
	Prompts   promptx.PromptSet
	Tools     Toolbox
	StopToken string
}

func (CodingFlow) Name() string { return FlowCoding }

func (f CodingFlow) Build(ctx context.Context, models Models) (Team, error) {
	coderRun, err := toolx.NewRunPython(f.Tools.Execute)
	if err != nil {
		return Team{}, err
	}
	debuggerLint, err := toolx.NewLintPython(f.Tools.Lint)
	if err != nil {
		return Team{}, err
	}
	debuggerRun, err := toolx.NewRunPython(f.Tools.Execute)
	if err != nil {
		return Team{}, err
	}

	coder, err := newAgent(ctx, participant.Config{
		Name:        contractx.AgentCoder,
		Description: "Writes and revises the Python code for the task.",
		Directive:   f.Prompts.Coder,
		Strategy:    participant.StrategyModelDriven,
		Model:       models.For(contractx.AgentCoder),
	}, coderRun)
	if err != nil {
		return Team{}, err
	}
	debugger, err := newAgent(ctx, participant.Config{
		Name:        contractx.AgentDebugger,
		Description: "Lints and runs the latest code and reports problems.",
		Directive:   f.Prompts.Debugger,
		Strategy:    participant.StrategyModelDriven,
		Model:       models.For(contractx.AgentDebugger),
	}, debuggerLint, debuggerRun)
	if err != nil {
		return Team{}, err
	}

	token := strings.TrimSpace(f.StopToken)
	if token == "" {
		token = orchestrator.DefaultStopToken
	}
	return Team{
		Roster: []contractx.Responder{coder, debugger},
		Stop: orchestrator.AnyStop(
			orchestrator.StopOnCleanLint(contractx.AgentDebugger, toolx.ToolLintPython),
			orchestrator.StopOnToken(token),
		),
		Result: orchestrator.CodeWithReport(contractx.AgentCoder, contractx.AgentDebugger),
	}, nil
}

func newAgent(ctx context.Context, cfg participant.Config, tools ...*toolx.Tool) (*participant.Agent, error) {
	set, err := toolx.NewSet(tools...)
	if err != nil {
		return nil, fmt.Errorf("tools for agent=%s: %w", cfg.Name, err)
	}
	cfg.Tools = set
	return participant.New(ctx, cfg)
}
