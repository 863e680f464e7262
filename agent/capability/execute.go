package capability

import (
	"context"
	"fmt"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
)

const scriptName = "main.py"

type containerRunner interface {
	Run(ctx context.Context, spec RunSpec) (RunOutput, error)
}

// Executor runs a Python program in the sandbox and reports its exit code and output.
// A failing program is a normal result; only a sandbox failure is an error.
type Executor struct {
	runner containerRunner
	image  string
}

var _ contractx.Capability = (*Executor)(nil)

func NewExecutor(sandbox *Sandbox) *Executor {
	return &Executor{runner: sandbox, image: sandbox.Config().PythonImage}
}

func (e *Executor) Invoke(ctx context.Context, input string, _ contractx.Options) (string, error) {
	out, err := e.runner.Run(ctx, RunSpec{
		Image: e.image,
		Cmd:   []string{"python", sandboxDir + "/" + scriptName},
		Files: map[string]string{scriptName: sourceFromInput(input)},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", contractx.ErrExecution, err)
	}
	return out.String(), nil
}
