package orchestratornode

import (
	"fmt"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
)

func ApplyReply(in *TurnState) (TurnOutput, error) {
	if in == nil {
		return TurnOutput{}, fmt.Errorf("%w: turn state is nil", contractx.ErrValidation)
	}

	out := TurnOutput{
		Turn:       in.Turn,
		Transcript: in.Transcript,
		Err:        in.Err,
	}
	if in.Speaker != nil {
		out.Speaker = in.Speaker.Name()
	}
	if in.Err != nil {
		return out, nil
	}

	out.Transcript = in.Transcript.Append(in.Reply)
	out.Appended = true
	return out, nil
}

// NextStep routes a turn straight to apply_reply once a step has failed.
func NextStep(in *TurnState) string {
	if in == nil || in.Err != nil {
		return NodeApplyReply
	}
	return NodeTakeTurn
}

const (
	NodeValidateTurn = "validate_turn"
	NodePickSpeaker  = "pick_speaker"
	NodeTakeTurn     = "take_turn"
	NodeApplyReply   = "apply_reply"
)
