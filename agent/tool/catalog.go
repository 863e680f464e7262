package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
)

const (
	ToolFetchPage     = "fetch_page"
	ToolSummarizeText = "summarize_text"
	ToolRunPython     = "run_python"
	ToolLintPython    = "lint_python"

	ArgURL      = "url"
	ArgText     = "text"
	ArgMaxWords = "max_words"
	ArgCode     = "code"
)

type Descriptor struct {
	Name        string
	Description string
}

// Tool exposes one capability to agents. It holds no per-call state.
type Tool struct {
	name        string
	description string
	primary     string
	params      map[string]*schema.ParameterInfo
	capability  contractx.Capability
}

var _ einotool.InvokableTool = (*Tool)(nil)

func newTool(name, description, primary string, params map[string]*schema.ParameterInfo, capability contractx.Capability) (*Tool, error) {
	if capability == nil {
		return nil, fmt.Errorf("%w: tool=%s has no capability", contractx.ErrConfiguration, name)
	}
	param, ok := params[primary]
	if !ok || param == nil {
		return nil, fmt.Errorf("%w: tool=%s primary argument %q is not declared", contractx.ErrConfiguration, name, primary)
	}
	if !param.Required || param.Type != schema.String {
		return nil, fmt.Errorf("%w: tool=%s primary argument %q must be a required string", contractx.ErrConfiguration, name, primary)
	}
	return &Tool{
		name:        name,
		description: description,
		primary:     primary,
		params:      params,
		capability:  capability,
	}, nil
}

func NewFetchPage(capability contractx.Capability) (*Tool, error) {
	return newTool(ToolFetchPage,
		"Open a web page in a headless browser and return its visible text.",
		ArgURL,
		map[string]*schema.ParameterInfo{
			ArgURL: {Type: schema.String, Desc: "Absolute http(s) URL of the page", Required: true},
		},
		capability,
	)
}

func NewSummarizeText(capability contractx.Capability) (*Tool, error) {
	return newTool(ToolSummarizeText,
		"Summarize a piece of text concisely.",
		ArgText,
		map[string]*schema.ParameterInfo{
			ArgText:     {Type: schema.String, Desc: "Text to summarize", Required: true},
			ArgMaxWords: {Type: schema.Integer, Desc: "Upper bound on summary length in words"},
		},
		capability,
	)
}

func NewRunPython(capability contractx.Capability) (*Tool, error) {
	return newTool(ToolRunPython,
		"Run a Python program in an isolated sandbox and return its exit code, stdout and stderr.",
		ArgCode,
		map[string]*schema.ParameterInfo{
			ArgCode: {Type: schema.String, Desc: "Complete Python source code", Required: true},
		},
		capability,
	)
}

func NewLintPython(capability contractx.Capability) (*Tool, error) {
	return newTool(ToolLintPython,
		"Lint Python source with pylint. Returns an empty string when no issues are found.",
		ArgCode,
		map[string]*schema.ParameterInfo{
			ArgCode: {Type: schema.String, Desc: "Complete Python source code", Required: true},
		},
		capability,
	)
}

func (t *Tool) Describe() Descriptor {
	return Descriptor{Name: t.name, Description: t.description}
}

func (t *Tool) Name() string {
	return t.name
}

// Primary names the argument that carries the capability's text input.
func (t *Tool) Primary() string {
	return t.primary
}

func (t *Tool) Info(_ context.Context) (*schema.ToolInfo, error) {
	return &schema.ToolInfo{
		Name:        t.name,
		Desc:        t.description,
		ParamsOneOf: schema.NewParamsOneOfByParams(t.params),
	}, nil
}

func (t *Tool) InvokableRun(ctx context.Context, argumentsInJSON string, _ ...einotool.Option) (string, error) {
	args := map[string]any{}
	if raw := strings.TrimSpace(argumentsInJSON); raw != "" {
		if err := json.Unmarshal([]byte(raw), &args); err != nil {
			return "", fmt.Errorf("%w: tool=%s arguments are not a json object: %v", contractx.ErrInvalidArgument, t.name, err)
		}
	}
	return t.Call(ctx, args)
}

// Call validates args against the declared parameters, then hands the primary
// argument to the capability. Capability results and errors pass through unchanged.
func (t *Tool) Call(ctx context.Context, args map[string]any) (string, error) {
	if err := t.validate(args); err != nil {
		return "", err
	}

	input, ok := args[t.primary].(string)
	if !ok {
		return "", fmt.Errorf("%w: tool=%s missing required argument %q", contractx.ErrInvalidArgument, t.name, t.primary)
	}
	var opts contractx.Options
	if raw, ok := args[ArgMaxWords]; ok && raw != nil {
		n, _ := asInt(raw)
		opts.MaxWords = n
	}

	return t.capability.Invoke(ctx, input, opts)
}

func (t *Tool) validate(args map[string]any) error {
	for name, param := range t.params {
		value, ok := args[name]
		if !ok || value == nil {
			if param.Required {
				return fmt.Errorf("%w: tool=%s missing required argument %q", contractx.ErrInvalidArgument, t.name, name)
			}
			continue
		}

		switch param.Type {
		case schema.String:
			if _, ok := value.(string); !ok {
				return fmt.Errorf("%w: tool=%s argument %q must be a string, got %T", contractx.ErrInvalidArgument, t.name, name, value)
			}
		case schema.Integer:
			n, err := asInt(value)
			if err != nil {
				return fmt.Errorf("%w: tool=%s argument %q: %v", contractx.ErrInvalidArgument, t.name, name, err)
			}
			if n <= 0 {
				return fmt.Errorf("%w: tool=%s argument %q must be positive, got %d", contractx.ErrInvalidArgument, t.name, name, n)
			}
		}
	}
	return nil
}

func asInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("expected a whole number, got %v", v)
		}
		return int(v), nil
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, err
		}
		return int(n), nil
	default:
		return 0, errors.New("expected a number")
	}
}
