package capability

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
)

// pylint exit status is a bit mask; fatal and usage bits mean no lint happened.
const (
	pylintFatal    = 1
	pylintUsage    = 32
	commandMissing = 127
)

var pylintArgs = []string{"--disable=all", "--enable=E,W,C,R", "--score=n"}

// Linter runs pylint in the sandbox. An empty result means the code is clean.
type Linter struct {
	runner containerRunner
	image  string
}

var _ contractx.Capability = (*Linter)(nil)

func NewLinter(sandbox *Sandbox) *Linter {
	return &Linter{runner: sandbox, image: sandbox.Config().LintImage}
}

func (l *Linter) Invoke(ctx context.Context, input string, _ contractx.Options) (string, error) {
	cmd := append(append([]string{}, pylintArgs...), sandboxDir+"/"+scriptName)
	out, err := l.runner.Run(ctx, RunSpec{
		Image:      l.image,
		Entrypoint: []string{"pylint"},
		Cmd:        cmd,
		Files:      map[string]string{scriptName: sourceFromInput(input)},
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", contractx.ErrLint, err)
	}

	switch {
	case out.TimedOut:
		return "", fmt.Errorf("%w: pylint timed out", contractx.ErrLint)
	case out.ExitCode == commandMissing:
		return "", fmt.Errorf("%w: pylint not found in image %s", contractx.ErrLint, l.image)
	case out.ExitCode&pylintFatal != 0, out.ExitCode&pylintUsage != 0:
		return "", fmt.Errorf("%w: pylint exit_code=%d stderr=%s", contractx.ErrLint, out.ExitCode, strings.TrimSpace(out.Stderr))
	}

	return strings.TrimSpace(out.Stdout), nil
}
