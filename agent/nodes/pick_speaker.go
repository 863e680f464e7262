package orchestratornode

import (
	"context"
	"fmt"
	"strings"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
)

func PickSpeaker(
	ctx context.Context,
	in *TurnState,
	roster []contractx.Responder,
	policy contractx.Policy,
	selector contractx.Selector,
) (*TurnState, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: turn state is nil", contractx.ErrValidation)
	}

	switch policy {
	case contractx.PolicyRotation:
		in.Speaker = roster[in.Turn%len(roster)]
	case contractx.PolicySelection:
		speaker, err := selectSpeaker(ctx, in.Transcript, roster, selector)
		if err != nil {
			in.Err = err
			return in, nil
		}
		in.Speaker = speaker
	default:
		return nil, fmt.Errorf("%w: unknown policy %q", contractx.ErrConfiguration, policy)
	}
	return in, nil
}

func selectSpeaker(
	ctx context.Context,
	transcript contractx.Transcript,
	roster []contractx.Responder,
	selector contractx.Selector,
) (contractx.Responder, error) {
	if selector == nil {
		return nil, fmt.Errorf("%w: selection policy without a selector", contractx.ErrConfiguration)
	}

	candidates := make([]contractx.Candidate, 0, len(roster))
	for _, r := range roster {
		candidates = append(candidates, contractx.Candidate{Name: r.Name(), Description: r.Description()})
	}

	name, err := selector.Select(ctx, transcript, candidates)
	if err != nil {
		return nil, err
	}

	name = strings.TrimSpace(name)
	for _, r := range roster {
		if r.Name() == name {
			return r, nil
		}
	}
	return nil, fmt.Errorf("%w: %q is not in the roster", contractx.ErrSelection, name)
}
