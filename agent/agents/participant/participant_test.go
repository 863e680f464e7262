package participant

import (
	"context"
	"errors"
	"strings"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
	toolx "github.com/tanpawarit/relay-agents/agent/tool"
)

type fakeToolCallingModel struct {
	responses []*schema.Message
	err       error
	idx       int
	inputs    [][]*schema.Message
	bound     []*schema.ToolInfo
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	f.bound = tools
	return f, nil
}

type fakeCapability struct {
	out    string
	err    error
	inputs []string
}

func (f *fakeCapability) Invoke(_ context.Context, input string, _ contractx.Options) (string, error) {
	f.inputs = append(f.inputs, input)
	return f.out, f.err
}

func toolCall(id, name, args string) schema.ToolCall {
	return schema.ToolCall{
		ID:   id,
		Type: "function",
		Function: schema.FunctionCall{
			Name:      name,
			Arguments: args,
		},
	}
}

func mustSet(t *testing.T, tools ...*toolx.Tool) *toolx.Set {
	t.Helper()
	set, err := toolx.NewSet(tools...)
	if err != nil {
		t.Fatalf("NewSet() error = %v", err)
	}
	return set
}

func mustTool(t *testing.T, build func(contractx.Capability) (*toolx.Tool, error), capability contractx.Capability) *toolx.Tool {
	t.Helper()
	tool, err := build(capability)
	if err != nil {
		t.Fatalf("build tool error = %v", err)
	}
	return tool
}

func TestDelegatingAgentReturnsToolOutputVerbatim(t *testing.T) {
	t.Parallel()

	fetch := &fakeCapability{out: "  Example Domain\n"}
	model := &fakeToolCallingModel{}
	agent, err := New(context.Background(), Config{
		Name:     contractx.AgentResearcher,
		Strategy: StrategyToolDelegating,
		Tools:    mustSet(t, mustTool(t, toolx.NewFetchPage, fetch)),
		Model:    model,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	transcript := contractx.NewTranscript(contractx.Task{Input: "  https://example.com \n"})
	msg, err := agent.Respond(context.Background(), transcript)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}

	if msg.Content != "  Example Domain\n" {
		t.Fatalf("Content = %q, want raw tool output", msg.Content)
	}
	if msg.Role != contractx.RoleAgent || msg.Speaker != contractx.AgentResearcher {
		t.Fatalf("message = %+v", msg)
	}
	if out, ok := msg.ToolOutput(toolx.ToolFetchPage); !ok || out != msg.Content {
		t.Fatalf("ToolOutput() = %q, %v", out, ok)
	}
	if len(fetch.inputs) != 1 || fetch.inputs[0] != "https://example.com" {
		t.Fatalf("capability inputs = %q", fetch.inputs)
	}
	if len(model.inputs) != 0 {
		t.Fatal("delegating agent must not call the model")
	}
}

func TestDelegatingAgentRequiresExactlyOneTool(t *testing.T) {
	t.Parallel()

	for _, set := range []*toolx.Set{
		nil,
		mustSet(t,
			mustTool(t, toolx.NewRunPython, &fakeCapability{}),
			mustTool(t, toolx.NewLintPython, &fakeCapability{}),
		),
	} {
		_, err := New(context.Background(), Config{Name: "x", Strategy: StrategyToolDelegating, Tools: set})
		if !errors.Is(err, contractx.ErrConfiguration) {
			t.Fatalf("New() error = %v, want ErrConfiguration", err)
		}
	}
}

func TestDelegatingAgentAnnotatesCapabilityFailure(t *testing.T) {
	t.Parallel()

	cause := errors.Join(contractx.ErrFetch, errors.New("navigation timeout"))
	agent, err := New(context.Background(), Config{
		Name:     contractx.AgentResearcher,
		Strategy: StrategyToolDelegating,
		Tools:    mustSet(t, mustTool(t, toolx.NewFetchPage, &fakeCapability{err: cause})),
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = agent.Respond(context.Background(), contractx.NewTranscript(contractx.Task{Input: "https://slow.example.com"}))
	var agentErr *contractx.AgentError
	if !errors.As(err, &agentErr) {
		t.Fatalf("Respond() error = %v, want *AgentError", err)
	}
	if agentErr.Agent != contractx.AgentResearcher {
		t.Fatalf("AgentError.Agent = %q", agentErr.Agent)
	}
	if !errors.Is(err, contractx.ErrFetch) {
		t.Fatalf("Respond() error = %v, want ErrFetch", err)
	}
}

func TestModelDrivenAgentDirectReply(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{
		responses: []*schema.Message{
			{Role: schema.Assistant, Content: "  ```python\nprint('hi')\n```  "},
		},
	}
	agent, err := New(context.Background(), Config{
		Name:      contractx.AgentCoder,
		Directive: "You write Python.",
		Strategy:  StrategyModelDriven,
		Tools:     mustSet(t, mustTool(t, toolx.NewRunPython, &fakeCapability{})),
		Model:     model,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	msg, err := agent.Respond(context.Background(), contractx.NewTranscript(contractx.Task{Input: "print hi"}))
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if msg.Content != "```python\nprint('hi')\n```" {
		t.Fatalf("Content = %q", msg.Content)
	}
	if len(msg.ToolOutputs) != 0 {
		t.Fatalf("ToolOutputs = %+v, want none", msg.ToolOutputs)
	}
	if len(model.bound) != 1 || model.bound[0].Name != toolx.ToolRunPython {
		t.Fatalf("bound tools = %+v", model.bound)
	}

	input := model.inputs[0]
	if len(input) != 2 || input[0].Role != schema.System || input[0].Content != "You write Python." {
		t.Fatalf("model input = %+v", input)
	}
	if input[1].Role != schema.User || input[1].Content != "[task]\nprint hi" {
		t.Fatalf("task message = %+v", input[1])
	}
}

func TestModelDrivenAgentToolRoundTrip(t *testing.T) {
	t.Parallel()

	lint := &fakeCapability{out: ""}
	model := &fakeToolCallingModel{
		responses: []*schema.Message{
			{Role: schema.Assistant, ToolCalls: []schema.ToolCall{toolCall("call_1", toolx.ToolLintPython, `{"code":"print(1)\n"}`)}},
			{Role: schema.Assistant, Content: "No issues found. TERMINATE"},
		},
	}
	agent, err := New(context.Background(), Config{
		Name:     contractx.AgentDebugger,
		Strategy: StrategyModelDriven,
		Tools:    mustSet(t, mustTool(t, toolx.NewLintPython, lint)),
		Model:    model,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	transcript := contractx.NewTranscript(contractx.Task{Input: "print one"}).Append(contractx.Message{
		Role:    contractx.RoleAgent,
		Speaker: contractx.AgentCoder,
		Content: "print(1)",
	})
	msg, err := agent.Respond(context.Background(), transcript)
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if msg.Content != "No issues found. TERMINATE" {
		t.Fatalf("Content = %q", msg.Content)
	}
	out, ok := msg.ToolOutput(toolx.ToolLintPython)
	if !ok || out != "" {
		t.Fatalf("ToolOutput() = %q, %v, want clean lint recorded", out, ok)
	}
	if len(lint.inputs) != 1 || lint.inputs[0] != "print(1)\n" {
		t.Fatalf("lint inputs = %q", lint.inputs)
	}

	if len(model.inputs) != 2 {
		t.Fatalf("model calls = %d, want 2", len(model.inputs))
	}
	second := model.inputs[1]
	last := second[len(second)-1]
	if last.Role != schema.Tool || last.ToolCallID != "call_1" {
		t.Fatalf("last message of second call = %+v, want tool result", last)
	}
	if !strings.Contains(second[len(second)-3].Content, "[coder]") {
		t.Fatalf("coder message not tagged: %+v", second[len(second)-3])
	}
}

func TestModelDrivenAgentRejectsUnknownTool(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{
		responses: []*schema.Message{
			{Role: schema.Assistant, ToolCalls: []schema.ToolCall{toolCall("call_1", "rm_rf", `{}`)}},
		},
	}
	agent, err := New(context.Background(), Config{
		Name:     contractx.AgentCoder,
		Strategy: StrategyModelDriven,
		Tools:    mustSet(t, mustTool(t, toolx.NewRunPython, &fakeCapability{})),
		Model:    model,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = agent.Respond(context.Background(), contractx.NewTranscript(contractx.Task{Input: "x"}))
	if !errors.Is(err, contractx.ErrInvalidArgument) {
		t.Fatalf("Respond() error = %v, want ErrInvalidArgument", err)
	}
	var agentErr *contractx.AgentError
	if !errors.As(err, &agentErr) || agentErr.Agent != contractx.AgentCoder {
		t.Fatalf("Respond() error = %v, want annotated with coder", err)
	}
}

func TestModelDrivenAgentAllowsOneRoundTrip(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{
		responses: []*schema.Message{
			{Role: schema.Assistant, ToolCalls: []schema.ToolCall{toolCall("call_1", toolx.ToolRunPython, `{"code":"print(1)"}`)}},
			{Role: schema.Assistant, ToolCalls: []schema.ToolCall{toolCall("call_2", toolx.ToolRunPython, `{"code":"print(2)"}`)}},
		},
	}
	run := &fakeCapability{out: "exit_code: 0\nstdout:\n1\n\nstderr:\n"}
	agent, err := New(context.Background(), Config{
		Name:     contractx.AgentCoder,
		Strategy: StrategyModelDriven,
		Tools:    mustSet(t, mustTool(t, toolx.NewRunPython, run)),
		Model:    model,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = agent.Respond(context.Background(), contractx.NewTranscript(contractx.Task{Input: "x"}))
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("Respond() error = %v, want ErrSchemaViolation", err)
	}
	if len(run.inputs) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(run.inputs))
	}
}

func TestModelDrivenAgentEmptyReply(t *testing.T) {
	t.Parallel()

	model := &fakeToolCallingModel{
		responses: []*schema.Message{{Role: schema.Assistant, Content: "   "}},
	}
	agent, err := New(context.Background(), Config{
		Name:     contractx.AgentCoder,
		Strategy: StrategyModelDriven,
		Model:    model,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = agent.Respond(context.Background(), contractx.NewTranscript(contractx.Task{Input: "x"}))
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("Respond() error = %v, want ErrSchemaViolation", err)
	}
}

func TestModelDrivenAgentModelFailure(t *testing.T) {
	t.Parallel()

	agent, err := New(context.Background(), Config{
		Name:     contractx.AgentCoder,
		Strategy: StrategyModelDriven,
		Model:    &fakeToolCallingModel{err: errors.New("429 rate limited")},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = agent.Respond(context.Background(), contractx.NewTranscript(contractx.Task{Input: "x"}))
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("Respond() error = %v, want ErrModelInvoke", err)
	}
}

func TestNewValidation(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), Config{Name: " ", Strategy: StrategyModelDriven, Model: &fakeToolCallingModel{}}); !errors.Is(err, contractx.ErrConfiguration) {
		t.Fatalf("empty name error = %v", err)
	}
	if _, err := New(context.Background(), Config{Name: "a", Strategy: StrategyModelDriven}); !errors.Is(err, contractx.ErrConfiguration) {
		t.Fatalf("missing model error = %v", err)
	}
	if _, err := New(context.Background(), Config{Name: "a", Strategy: "freestyle"}); !errors.Is(err, contractx.ErrConfiguration) {
		t.Fatalf("unknown strategy error = %v", err)
	}
}

func TestRenderHistoryOwnTurnsAsAssistant(t *testing.T) {
	t.Parallel()

	transcript := contractx.NewTranscript(contractx.Task{Input: "task"}).
		Append(contractx.Message{Role: contractx.RoleAgent, Speaker: "coder", Content: "code v1"}).
		Append(contractx.Message{Role: contractx.RoleAgent, Speaker: "debugger", Content: "lint report"})

	history := renderHistory("coder", "", transcript)
	if len(history) != 3 {
		t.Fatalf("history len = %d, want 3 without directive", len(history))
	}
	if history[1].Role != schema.Assistant || history[1].Content != "code v1" {
		t.Fatalf("own turn = %+v", history[1])
	}
	if history[2].Role != schema.User || history[2].Content != "[debugger]\nlint report" {
		t.Fatalf("other turn = %+v", history[2])
	}
}

// bindingModel hands out a separate model once tools are bound so tests can
// tell which one each Generate reached.
type bindingModel struct {
	fakeToolCallingModel
	withTools *fakeToolCallingModel
}

func (b *bindingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	b.withTools.bound = tools
	return b.withTools, nil
}

func TestModelDrivenAgentRegeneratesWithToolsBound(t *testing.T) {
	t.Parallel()

	bound := &fakeToolCallingModel{
		responses: []*schema.Message{
			{Role: schema.Assistant, ToolCalls: []schema.ToolCall{toolCall("call_1", toolx.ToolRunPython, `{"code":"print(1)"}`)}},
			{Role: schema.Assistant, Content: "printed 1"},
		},
	}
	model := &bindingModel{withTools: bound}
	run := &fakeCapability{out: "exit_code: 0\nstdout:\n1\n\nstderr:\n"}
	agent, err := New(context.Background(), Config{
		Name:     contractx.AgentCoder,
		Strategy: StrategyModelDriven,
		Tools:    mustSet(t, mustTool(t, toolx.NewRunPython, run)),
		Model:    model,
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	msg, err := agent.Respond(context.Background(), contractx.NewTranscript(contractx.Task{Input: "x"}))
	if err != nil {
		t.Fatalf("Respond() error = %v", err)
	}
	if msg.Content != "printed 1" {
		t.Fatalf("Content = %q", msg.Content)
	}
	if len(model.inputs) != 0 {
		t.Fatalf("tool-less model calls = %d, want 0", len(model.inputs))
	}
	if len(bound.inputs) != 2 {
		t.Fatalf("tool-bound model calls = %d, want 2", len(bound.inputs))
	}
	if len(bound.bound) != 1 || bound.bound[0].Name != toolx.ToolRunPython {
		t.Fatalf("bound tools = %+v", bound.bound)
	}
}
