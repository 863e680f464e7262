package participant

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
	toolx "github.com/tanpawarit/relay-agents/agent/tool"
)

// Strategy picks how an agent turns the transcript into a reply. It is fixed at construction.
type Strategy string

const (
	// StrategyToolDelegating skips the model and hands the latest message to the agent's only tool.
	StrategyToolDelegating Strategy = "tool_delegating"
	// StrategyModelDriven asks the model, allowing one tool round trip per turn.
	StrategyModelDriven Strategy = "model_driven"
)

type Config struct {
	Name        string
	Description string
	Directive   string
	Strategy    Strategy
	Tools       *toolx.Set
	Model       einomodel.ToolCallingChatModel
}

type Agent struct {
	name        string
	description string
	strategy    Strategy
	runner      compose.Runnable[contractx.Transcript, contractx.Message]
}

var _ contractx.Responder = (*Agent)(nil)

func New(ctx context.Context, cfg Config) (*Agent, error) {
	name := strings.TrimSpace(cfg.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: agent name is required", contractx.ErrConfiguration)
	}

	var (
		runner compose.Runnable[contractx.Transcript, contractx.Message]
		err    error
	)
	switch cfg.Strategy {
	case StrategyToolDelegating:
		if cfg.Tools.Len() != 1 {
			return nil, fmt.Errorf("%w: agent=%s delegates to exactly one tool, got %d", contractx.ErrConfiguration, name, cfg.Tools.Len())
		}
		runner, err = compileDelegatingGraph(ctx, name, cfg.Tools.Tools()[0])
	case StrategyModelDriven:
		if cfg.Model == nil {
			return nil, fmt.Errorf("%w: agent=%s needs a model", contractx.ErrConfiguration, name)
		}
		runner, err = compileModelDrivenGraph(ctx, name, cfg.Directive, cfg.Model, cfg.Tools)
	default:
		return nil, fmt.Errorf("%w: agent=%s has unknown strategy %q", contractx.ErrConfiguration, name, cfg.Strategy)
	}
	if err != nil {
		return nil, err
	}

	return &Agent{
		name:        name,
		description: strings.TrimSpace(cfg.Description),
		strategy:    cfg.Strategy,
		runner:      runner,
	}, nil
}

func (a *Agent) Name() string {
	return a.name
}

func (a *Agent) Description() string {
	return a.description
}

func (a *Agent) Strategy() Strategy {
	return a.strategy
}

// Respond produces exactly one reply. Any failure comes back as *contract.AgentError.
func (a *Agent) Respond(ctx context.Context, transcript contractx.Transcript) (contractx.Message, error) {
	msg, err := a.runner.Invoke(ctx, transcript)
	if err != nil {
		return contractx.Message{}, &contractx.AgentError{Agent: a.name, Err: err}
	}
	return msg, nil
}
