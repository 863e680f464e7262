package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	einoprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
)

const selectorQuestion = "Who should speak next? Reply with the agent name only."

// ModelSelector asks the model which roster member should take the next turn.
type ModelSelector struct {
	runner compose.Runnable[map[string]any, string]
}

var _ contractx.Selector = (*ModelSelector)(nil)

func NewModelSelector(ctx context.Context, chatModel einomodel.BaseChatModel, directive string) (*ModelSelector, error) {
	if chatModel == nil {
		return nil, errors.New("selector model is required")
	}
	if strings.TrimSpace(directive) == "" {
		return nil, errors.New("selector directive is required")
	}

	template := einoprompt.FromMessages(
		schema.FString,
		schema.SystemMessage(directive),
		schema.MessagesPlaceholder("history", false),
		schema.UserMessage(selectorQuestion),
	)

	graph := compose.NewGraph[map[string]any, string]()
	if err := graph.AddChatTemplateNode("prompt", template); err != nil {
		return nil, fmt.Errorf("add selector prompt node: %w", err)
	}
	if err := graph.AddChatModelNode("model", chatModel); err != nil {
		return nil, fmt.Errorf("add selector model node: %w", err)
	}
	if err := graph.AddLambdaNode("extract_name",
		compose.InvokableLambda(func(ctx context.Context, msg *schema.Message) (string, error) {
			if msg == nil {
				return "", fmt.Errorf("%w: selector returned no message", contractx.ErrSelection)
			}
			return cleanName(msg.Content), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add selector parse node: %w", err)
	}

	edges := [][2]string{
		{compose.START, "prompt"},
		{"prompt", "model"},
		{"model", "extract_name"},
		{"extract_name", compose.END},
	}
	for _, edge := range edges {
		if err := graph.AddEdge(edge[0], edge[1]); err != nil {
			return nil, fmt.Errorf("add selector edge %s->%s: %w", edge[0], edge[1], err)
		}
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("orchestrator.selector"))
	if err != nil {
		return nil, fmt.Errorf("compile selector graph: %w", err)
	}
	return &ModelSelector{runner: runner}, nil
}

func (s *ModelSelector) Select(ctx context.Context, transcript contractx.Transcript, candidates []contractx.Candidate) (string, error) {
	if len(candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", contractx.ErrSelection)
	}

	var roster strings.Builder
	for _, c := range candidates {
		fmt.Fprintf(&roster, "- %s: %s\n", c.Name, c.Description)
	}

	history := make([]*schema.Message, 0, len(transcript))
	for _, msg := range transcript {
		history = append(history, schema.UserMessage(fmt.Sprintf("[%s]\n%s", msg.Speaker, msg.Content)))
	}

	raw, err := s.runner.Invoke(ctx, map[string]any{
		"roster":  strings.TrimRight(roster.String(), "\n"),
		"history": history,
	})
	if err != nil {
		return "", fmt.Errorf("%w: selector invoke: %w", contractx.ErrModelInvoke, err)
	}

	for _, c := range candidates {
		if strings.EqualFold(c.Name, raw) {
			return c.Name, nil
		}
	}
	return "", fmt.Errorf("%w: %q is not in the roster", contractx.ErrSelection, raw)
}

// cleanName strips the decoration models tend to put around a bare name.
func cleanName(raw string) string {
	name := strings.TrimSpace(raw)
	if i := strings.IndexByte(name, '\n'); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	name = strings.Trim(name, "\"'`*.[] ")
	return strings.TrimSpace(name)
}
