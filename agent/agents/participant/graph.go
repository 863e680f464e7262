package participant

import (
	"context"
	"fmt"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
	toolx "github.com/tanpawarit/relay-agents/agent/tool"
)

const (
	nodeExtractInput  = "extract_input"
	nodeInvokeTool    = "invoke_tool"
	nodePrepare       = "prepare"
	nodeGenerate      = "generate"
	nodeToolRoundTrip = "tool_round_trip"
	nodeFinish        = "finish"
)

func compileDelegatingGraph(ctx context.Context, name string, bound *toolx.Tool) (compose.Runnable[contractx.Transcript, contractx.Message], error) {
	graph := compose.NewGraph[contractx.Transcript, contractx.Message]()

	if err := graph.AddLambdaNode(nodeExtractInput,
		compose.InvokableLambda(func(ctx context.Context, transcript contractx.Transcript) (string, error) {
			last, ok := transcript.Last()
			if !ok {
				return "", fmt.Errorf("%w: transcript is empty", contractx.ErrValidation)
			}
			return strings.TrimSpace(last.Content), nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add delegating extract node: %w", err)
	}

	if err := graph.AddLambdaNode(nodeInvokeTool,
		compose.InvokableLambda(func(ctx context.Context, input string) (contractx.Message, error) {
			out, err := bound.Call(ctx, map[string]any{bound.Primary(): input})
			if err != nil {
				return contractx.Message{}, err
			}
			return contractx.Message{
				Role:        contractx.RoleAgent,
				Speaker:     name,
				Content:     out,
				ToolOutputs: []contractx.ToolOutput{{Tool: bound.Name(), Output: out}},
			}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add delegating invoke node: %w", err)
	}

	if err := graph.AddEdge(compose.START, nodeExtractInput); err != nil {
		return nil, fmt.Errorf("add delegating edge start->extract: %w", err)
	}
	if err := graph.AddEdge(nodeExtractInput, nodeInvokeTool); err != nil {
		return nil, fmt.Errorf("add delegating edge extract->invoke: %w", err)
	}
	if err := graph.AddEdge(nodeInvokeTool, compose.END); err != nil {
		return nil, fmt.Errorf("add delegating edge invoke->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("participant."+name+".delegating"))
	if err != nil {
		return nil, fmt.Errorf("compile delegating graph: %w", err)
	}
	return runner, nil
}

// replyState carries one model-driven turn through the graph.
type replyState struct {
	history     []*schema.Message
	reply       *schema.Message
	toolOutputs []contractx.ToolOutput
}

func compileModelDrivenGraph(
	ctx context.Context,
	name string,
	directive string,
	chatModel einomodel.ToolCallingChatModel,
	tools *toolx.Set,
) (compose.Runnable[contractx.Transcript, contractx.Message], error) {
	toolModel := chatModel
	if tools.Len() > 0 {
		infos, err := tools.Infos(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: describe tools for agent=%s: %v", contractx.ErrConfiguration, name, err)
		}
		toolModel, err = chatModel.WithTools(infos)
		if err != nil {
			return nil, fmt.Errorf("%w: bind tools for agent=%s: %v", contractx.ErrModelInvoke, name, err)
		}
	}

	graph := compose.NewGraph[contractx.Transcript, contractx.Message]()

	if err := graph.AddLambdaNode(nodePrepare,
		compose.InvokableLambda(func(ctx context.Context, transcript contractx.Transcript) (*replyState, error) {
			if len(transcript) == 0 {
				return nil, fmt.Errorf("%w: transcript is empty", contractx.ErrValidation)
			}
			return &replyState{history: renderHistory(name, directive, transcript)}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add model prepare node: %w", err)
	}

	if err := graph.AddLambdaNode(nodeGenerate,
		compose.InvokableLambda(func(ctx context.Context, in *replyState) (*replyState, error) {
			msg, err := toolModel.Generate(ctx, in.history)
			if err != nil {
				return nil, fmt.Errorf("%w: agent=%s generate: %w", contractx.ErrModelInvoke, name, err)
			}
			if msg == nil {
				return nil, fmt.Errorf("%w: agent=%s empty model response", contractx.ErrSchemaViolation, name)
			}
			in.reply = msg
			return in, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add model generate node: %w", err)
	}

	if err := graph.AddLambdaNode(nodeToolRoundTrip,
		compose.InvokableLambda(func(ctx context.Context, in *replyState) (*replyState, error) {
			history := make([]*schema.Message, 0, len(in.history)+1+len(in.reply.ToolCalls))
			history = append(history, in.history...)
			history = append(history, in.reply)
			for _, call := range in.reply.ToolCalls {
				toolName := strings.TrimSpace(call.Function.Name)
				bound, ok := tools.Get(toolName)
				if !ok {
					return nil, fmt.Errorf("%w: agent=%s requested unknown tool %q", contractx.ErrInvalidArgument, name, toolName)
				}
				out, err := bound.InvokableRun(ctx, call.Function.Arguments)
				if err != nil {
					return nil, err
				}
				in.toolOutputs = append(in.toolOutputs, contractx.ToolOutput{Tool: toolName, Output: out})
				history = append(history, schema.ToolMessage(toolOutputForModel(out), call.ID))
			}

			msg, err := toolModel.Generate(ctx, history)
			if err != nil {
				return nil, fmt.Errorf("%w: agent=%s generate after tools: %w", contractx.ErrModelInvoke, name, err)
			}
			if msg == nil {
				return nil, fmt.Errorf("%w: agent=%s empty model response after tools", contractx.ErrSchemaViolation, name)
			}
			if len(msg.ToolCalls) > 0 {
				return nil, fmt.Errorf("%w: agent=%s requested a second tool round trip", contractx.ErrSchemaViolation, name)
			}
			in.history = history
			in.reply = msg
			return in, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add model tool node: %w", err)
	}

	if err := graph.AddLambdaNode(nodeFinish,
		compose.InvokableLambda(func(ctx context.Context, in *replyState) (contractx.Message, error) {
			content := strings.TrimSpace(in.reply.Content)
			if content == "" {
				return contractx.Message{}, fmt.Errorf("%w: agent=%s reply is empty", contractx.ErrSchemaViolation, name)
			}
			return contractx.Message{
				Role:        contractx.RoleAgent,
				Speaker:     name,
				Content:     content,
				ToolOutputs: in.toolOutputs,
			}, nil
		}),
	); err != nil {
		return nil, fmt.Errorf("add model finish node: %w", err)
	}

	branch := compose.NewGraphBranch(
		func(ctx context.Context, in *replyState) (string, error) {
			if len(in.reply.ToolCalls) > 0 {
				return nodeToolRoundTrip, nil
			}
			return nodeFinish, nil
		},
		map[string]bool{
			nodeToolRoundTrip: true,
			nodeFinish:        true,
		},
	)

	if err := graph.AddEdge(compose.START, nodePrepare); err != nil {
		return nil, fmt.Errorf("add model edge start->prepare: %w", err)
	}
	if err := graph.AddEdge(nodePrepare, nodeGenerate); err != nil {
		return nil, fmt.Errorf("add model edge prepare->generate: %w", err)
	}
	if err := graph.AddBranch(nodeGenerate, branch); err != nil {
		return nil, fmt.Errorf("add model branch: %w", err)
	}
	if err := graph.AddEdge(nodeToolRoundTrip, nodeFinish); err != nil {
		return nil, fmt.Errorf("add model edge tools->finish: %w", err)
	}
	if err := graph.AddEdge(nodeFinish, compose.END); err != nil {
		return nil, fmt.Errorf("add model edge finish->end: %w", err)
	}

	runner, err := graph.Compile(ctx, compose.WithGraphName("participant."+name+".model_driven"))
	if err != nil {
		return nil, fmt.Errorf("compile model-driven graph: %w", err)
	}
	return runner, nil
}

// renderHistory shows the agent its own turns as assistant messages and
// everyone else's as user messages tagged with the speaker.
func renderHistory(self, directive string, transcript contractx.Transcript) []*schema.Message {
	history := make([]*schema.Message, 0, len(transcript)+1)
	if d := strings.TrimSpace(directive); d != "" {
		history = append(history, schema.SystemMessage(d))
	}
	for _, msg := range transcript {
		if msg.Role == contractx.RoleAgent && msg.Speaker == self {
			history = append(history, schema.AssistantMessage(msg.Content, nil))
			continue
		}
		history = append(history, schema.UserMessage(fmt.Sprintf("[%s]\n%s", msg.Speaker, msg.Content)))
	}
	return history
}

// toolOutputForModel keeps an empty tool result visible to the model.
func toolOutputForModel(out string) string {
	if strings.TrimSpace(out) != "" {
		return out
	}
	return "(empty result)"
}
