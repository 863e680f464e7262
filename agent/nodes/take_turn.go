package orchestratornode

import (
	"context"
	"errors"
	"fmt"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
)

func TakeTurn(ctx context.Context, in *TurnState) (*TurnState, error) {
	if in == nil || in.Speaker == nil {
		return nil, fmt.Errorf("%w: no speaker picked", contractx.ErrValidation)
	}

	reply, err := in.Speaker.Respond(ctx, in.Transcript)
	if err != nil {
		var agentErr *contractx.AgentError
		if !errors.As(err, &agentErr) {
			err = &contractx.AgentError{Agent: in.Speaker.Name(), Err: err}
		}
		in.Err = err
		return in, nil
	}

	// The speaker owns the reply regardless of what the responder filled in.
	reply.Role = contractx.RoleAgent
	reply.Speaker = in.Speaker.Name()
	in.Reply = reply
	return in, nil
}
