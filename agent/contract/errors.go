package contract

import (
	"errors"
	"fmt"
)

var (
	ErrConfiguration   = errors.New("configuration invalid")
	ErrModelInvoke     = errors.New("model invoke failed")
	ErrSchemaViolation = errors.New("model response violates schema")
	ErrValidation      = errors.New("validation failed")

	ErrCapability = errors.New("capability failed")
	ErrFetch      = fmt.Errorf("%w: fetch", ErrCapability)
	ErrSummarize  = fmt.Errorf("%w: summarize", ErrCapability)
	ErrExecution  = fmt.Errorf("%w: execution", ErrCapability)
	ErrLint       = fmt.Errorf("%w: lint", ErrCapability)

	ErrInvalidArgument    = errors.New("invalid tool argument")
	ErrDuplicateName      = errors.New("duplicate name")
	ErrSelection          = errors.New("selected speaker is not in roster")
	ErrTurnBudgetExceeded = errors.New("turn budget exceeded")
)

// AgentError annotates a failed turn with the agent that produced it.
type AgentError struct {
	Agent string
	Err   error
}

func (e *AgentError) Error() string {
	return fmt.Sprintf("agent=%s: %v", e.Agent, e.Err)
}

func (e *AgentError) Unwrap() error {
	return e.Err
}
