package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
)

type TurnInput struct {
	Turn       int
	Transcript contractx.Transcript
}

// TurnState is threaded through pick_speaker, take_turn and apply_reply.
// A failed step records Err and later steps leave the transcript alone.
type TurnState struct {
	Turn       int
	Transcript contractx.Transcript
	Speaker    contractx.Responder
	Reply      contractx.Message
	Err        error
}

type TurnOutput struct {
	Turn       int
	Speaker    string
	Transcript contractx.Transcript
	Appended   bool
	Err        error
}

func ValidateTurn(in TurnInput, roster []contractx.Responder) (*TurnState, error) {
	if len(roster) == 0 {
		return nil, fmt.Errorf("%w: roster is empty", contractx.ErrValidation)
	}
	if len(in.Transcript) == 0 {
		return nil, fmt.Errorf("%w: transcript has no task message", contractx.ErrValidation)
	}
	if in.Turn < 0 {
		return nil, fmt.Errorf("%w: turn index %d is negative", contractx.ErrValidation, in.Turn)
	}
	return &TurnState{
		Turn:       in.Turn,
		Transcript: in.Transcript,
	}, nil
}
