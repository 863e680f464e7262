package session

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/tanpawarit/relay-agents/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/relay-agents/agent/contract"
	promptx "github.com/tanpawarit/relay-agents/agent/prompt"
)

type fakeCapability struct {
	mu     sync.Mutex
	out    map[string]string
	errFor map[string]error
	inputs []string
}

func (f *fakeCapability) Invoke(_ context.Context, input string, _ contractx.Options) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inputs = append(f.inputs, input)
	if err, ok := f.errFor[input]; ok {
		return "", err
	}
	if out, ok := f.out[input]; ok {
		return out, nil
	}
	return "echo: " + input, nil
}

type fakeToolCallingModel struct {
	responses []*schema.Message
	idx       int
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
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
	return f, nil
}

type memoryRecorder struct {
	outcomes []contractx.Outcome
	err      error
}

func (m *memoryRecorder) Record(_ context.Context, outcome contractx.Outcome) error {
	m.outcomes = append(m.outcomes, outcome)
	return m.err
}

type namedSelector struct {
	names []string
	calls int
}

func (s *namedSelector) Select(context.Context, contractx.Transcript, []contractx.Candidate) (string, error) {
	name := s.names[s.calls%len(s.names)]
	s.calls++
	return name, nil
}

func researchFlow(fetch, summarize contractx.Capability) Flow {
	return ResearchFlow{
		Prompts: promptx.LoadPromptSet(),
		Tools:   Toolbox{Fetch: fetch, Summarize: summarize},
	}
}

func TestDriverResearchBatch(t *testing.T) {
	t.Parallel()

	fetch := &fakeCapability{
		out:    map[string]string{"https://example.com": "Example Domain page text"},
		errFor: map[string]error{"https://broken.invalid": contractx.ErrFetch},
	}
	summarize := &fakeCapability{out: map[string]string{"Example Domain page text": "A placeholder domain."}}
	recorder := &memoryRecorder{err: errors.New("ledger offline")}
	var out bytes.Buffer

	driver, err := NewDriver(
		Config{Policy: contractx.PolicyRotation, MaxTurns: 4},
		researchFlow(fetch, summarize),
		Models{},
		WithRecorders(recorder, nil),
		WithReporter(NewConsoleReporter(&out)),
	)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}

	outcomes, err := driver.Run(context.Background(), []string{"https://broken.invalid", "https://example.com"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(outcomes) != 2 {
		t.Fatalf("outcomes = %d, want 2", len(outcomes))
	}

	failed := outcomes[0]
	if failed.Status != contractx.OutcomeFailed || !errors.Is(failed.Err, contractx.ErrFetch) {
		t.Fatalf("first outcome = %+v, want fetch failure", failed)
	}
	var agentErr *contractx.AgentError
	if !errors.As(failed.Err, &agentErr) || agentErr.Agent != contractx.AgentResearcher {
		t.Fatalf("first outcome error = %v, want researcher annotation", failed.Err)
	}

	done := outcomes[1]
	if done.Status != contractx.OutcomeCompleted || done.Content != "A placeholder domain." || done.Turns != 2 {
		t.Fatalf("second outcome = %+v", done)
	}
	if done.Flow != FlowResearch || done.Mode != contractx.PolicyRotation || done.RunID == "" {
		t.Fatalf("second outcome metadata = %+v", done)
	}
	if len(recorder.outcomes) != 2 {
		t.Fatalf("recorded = %d, want 2 despite recorder errors", len(recorder.outcomes))
	}

	report := out.String()
	for _, want := range []string{
		"[rotation] https://broken.invalid",
		"error: ",
		"[rotation] https://example.com",
		"A placeholder domain.",
		separator,
	} {
		if !strings.Contains(report, want) {
			t.Fatalf("report missing %q:\n%s", want, report)
		}
	}
	if strings.Count(report, separator) != 2 {
		t.Fatalf("report blocks = %d, want 2", strings.Count(report, separator))
	}
}

func TestDriverBuildsFreshTeamPerTask(t *testing.T) {
	t.Parallel()

	flow := &countingFlow{inner: researchFlow(&fakeCapability{}, &fakeCapability{})}
	driver, err := NewDriver(Config{Policy: contractx.PolicyRotation, MaxTurns: 2}, flow, Models{})
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	if _, err := driver.Run(context.Background(), []string{"https://a.example", "https://b.example", "https://c.example"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if flow.builds != 3 {
		t.Fatalf("builds = %d, want 3", flow.builds)
	}
}

type countingFlow struct {
	inner  Flow
	builds int
}

func (c *countingFlow) Name() string { return c.inner.Name() }

func (c *countingFlow) Build(ctx context.Context, models Models) (Team, error) {
	c.builds++
	return c.inner.Build(ctx, models)
}

func TestDriverSelectionMode(t *testing.T) {
	t.Parallel()

	selector := &namedSelector{names: []string{contractx.AgentResearcher, contractx.AgentSummarizer}}
	driver, err := NewDriver(
		Config{Policy: contractx.PolicySelection, MaxTurns: 3},
		researchFlow(&fakeCapability{}, &fakeCapability{}),
		Models{},
		WithSelector(selector),
	)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}

	outcomes, err := driver.Run(context.Background(), []string{"https://example.com"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if got := outcomes[0]; got.Status != contractx.OutcomeCompleted || got.Content != "echo: echo: https://example.com" {
		t.Fatalf("outcome = %+v", got)
	}
	if selector.calls != 2 {
		t.Fatalf("selector calls = %d, want 2", selector.calls)
	}
}

func TestDriverCodingFlowStopsOnCleanLint(t *testing.T) {
	t.Parallel()

	coder := &fakeToolCallingModel{responses: []*schema.Message{
		schema.AssistantMessage("```python\nprint('hi')\n```", nil),
	}}
	debugger := &fakeToolCallingModel{responses: []*schema.Message{
		{
			Role: schema.Assistant,
			ToolCalls: []schema.ToolCall{{
				ID:       "call_1",
				Type:     "function",
				Function: schema.FunctionCall{Name: "lint_python", Arguments: `{"code":"print('hi')"}`},
			}},
		},
		schema.AssistantMessage("Lint is clean.", nil),
	}}
	lint := &fakeCapability{out: map[string]string{"print('hi')": ""}}

	flow := CodingFlow{
		Prompts: promptx.LoadPromptSet(),
		Tools:   Toolbox{Execute: &fakeCapability{}, Lint: lint},
	}
	models := Models{ByRole: map[string]einomodel.ToolCallingChatModel{
		contractx.AgentCoder:    coder,
		contractx.AgentDebugger: debugger,
	}}
	driver, err := NewDriver(Config{Policy: contractx.PolicyRotation, MaxTurns: 6}, flow, models)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}

	outcomes, err := driver.Run(context.Background(), []string{"print hi"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	got := outcomes[0]
	if got.Status != contractx.OutcomeCompleted || got.Turns != 2 {
		t.Fatalf("outcome = %+v", got)
	}
	if !strings.Contains(got.Content, "print('hi')") || !strings.Contains(got.Content, "--- debugger report ---\nLint is clean.") {
		t.Fatalf("content = %q", got.Content)
	}
	if len(lint.inputs) != 1 {
		t.Fatalf("lint calls = %d, want 1", len(lint.inputs))
	}
}

func TestDriverTaskTimeout(t *testing.T) {
	t.Parallel()

	driver, err := NewDriver(
		Config{Policy: contractx.PolicyRotation, MaxTurns: 2, TaskTimeout: 20 * time.Millisecond},
		researchFlow(blockingCapability{}, &fakeCapability{}),
		Models{},
	)
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}

	outcomes, err := driver.Run(context.Background(), []string{"https://slow.example", "https://slow.example"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for i, got := range outcomes {
		if got.Status != contractx.OutcomeFailed || !errors.Is(got.Err, context.DeadlineExceeded) {
			t.Fatalf("outcome %d = %+v, want timeout failure", i, got)
		}
	}
}

type blockingCapability struct{}

func (blockingCapability) Invoke(ctx context.Context, _ string, _ contractx.Options) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func TestDriverStopsBatchOnCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	driver, err := NewDriver(Config{Policy: contractx.PolicyRotation, MaxTurns: 2}, researchFlow(&fakeCapability{}, &fakeCapability{}), Models{})
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	outcomes, err := driver.Run(ctx, []string{"https://example.com"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Run() error = %v, want context.Canceled", err)
	}
	if len(outcomes) != 0 {
		t.Fatalf("outcomes = %d, want 0", len(outcomes))
	}
}

func TestNewDriverValidation(t *testing.T) {
	t.Parallel()

	flow := researchFlow(&fakeCapability{}, &fakeCapability{})
	cases := []struct {
		name string
		cfg  Config
		flow Flow
	}{
		{"no flow", Config{Policy: contractx.PolicyRotation, MaxTurns: 1}, nil},
		{"zero turns", Config{Policy: contractx.PolicyRotation}, flow},
		{"selection without selector", Config{Policy: contractx.PolicySelection, MaxTurns: 1}, flow},
	}
	for _, tc := range cases {
		if _, err := NewDriver(tc.cfg, tc.flow, Models{}); !errors.Is(err, contractx.ErrConfiguration) {
			t.Fatalf("%s: error = %v, want ErrConfiguration", tc.name, err)
		}
	}
}

func TestParseFlow(t *testing.T) {
	t.Parallel()

	prompts := promptx.LoadPromptSet()
	flow, err := ParseFlow(" Coding ", prompts, Toolbox{}, "")
	if err != nil || flow.Name() != FlowCoding {
		t.Fatalf("ParseFlow(coding) = %v, %v", flow, err)
	}
	if coding, ok := flow.(CodingFlow); !ok || coding.StopToken != "" {
		t.Fatalf("flow = %#v", flow)
	}
	if _, err := ParseFlow("poetry", prompts, Toolbox{}, orchestrator.DefaultStopToken); !errors.Is(err, contractx.ErrConfiguration) {
		t.Fatalf("ParseFlow(poetry) error = %v", err)
	}
	if _, err := (ResearchFlow{Prompts: prompts}).Build(context.Background(), Models{}); !errors.Is(err, contractx.ErrConfiguration) {
		t.Fatalf("Build() without capabilities error = %v, want ErrConfiguration", err)
	}
}
