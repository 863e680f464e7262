package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudwego/eino/compose"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
	nodex "github.com/tanpawarit/relay-agents/agent/nodes"
)

type OnTurnError string

const (
	// OnTurnErrorAbort ends the run with the failing turn's error.
	OnTurnErrorAbort OnTurnError = "abort"
	// OnTurnErrorSkip logs the failure, appends nothing and moves to the next turn.
	OnTurnErrorSkip OnTurnError = "skip"
)

func ParseOnTurnError(raw string) (OnTurnError, error) {
	switch OnTurnError(strings.ToLower(strings.TrimSpace(raw))) {
	case "", OnTurnErrorAbort:
		return OnTurnErrorAbort, nil
	case OnTurnErrorSkip:
		return OnTurnErrorSkip, nil
	default:
		return "", fmt.Errorf("%w: unknown turn error policy %q", contractx.ErrConfiguration, raw)
	}
}

type Config struct {
	Policy      contractx.Policy
	MaxTurns    int
	Stop        StopPredicate
	Result      ResultRule
	OnTurnError OnTurnError
}

type Option func(*Orchestrator)

func WithSelector(selector contractx.Selector) Option {
	return func(o *Orchestrator) {
		o.selector = selector
	}
}

func WithRunID(newID func() string) Option {
	return func(o *Orchestrator) {
		if newID != nil {
			o.newRunID = newID
		}
	}
}

// Orchestrator runs one roster of agents over one task at a time, strictly turn by turn.
type Orchestrator struct {
	roster   []contractx.Responder
	cfg      Config
	selector contractx.Selector
	newRunID func() string

	turnRunner compose.Runnable[nodex.TurnInput, nodex.TurnOutput]
}

func New(roster []contractx.Responder, cfg Config, opts ...Option) (*Orchestrator, error) {
	if len(roster) == 0 {
		return nil, fmt.Errorf("%w: roster is empty", contractx.ErrConfiguration)
	}
	seen := make(map[string]struct{}, len(roster))
	for _, r := range roster {
		if r == nil {
			return nil, fmt.Errorf("%w: roster contains a nil agent", contractx.ErrConfiguration)
		}
		if _, dup := seen[r.Name()]; dup {
			return nil, fmt.Errorf("%w: agent=%s", contractx.ErrDuplicateName, r.Name())
		}
		seen[r.Name()] = struct{}{}
	}
	if cfg.MaxTurns <= 0 {
		return nil, fmt.Errorf("%w: max turns must be positive, got %d", contractx.ErrConfiguration, cfg.MaxTurns)
	}
	if cfg.Policy != contractx.PolicyRotation && cfg.Policy != contractx.PolicySelection {
		return nil, fmt.Errorf("%w: unknown policy %q", contractx.ErrConfiguration, cfg.Policy)
	}
	onTurnError, err := ParseOnTurnError(string(cfg.OnTurnError))
	if err != nil {
		return nil, err
	}
	cfg.OnTurnError = onTurnError
	if cfg.Stop == nil {
		cfg.Stop = StopOnToken(DefaultStopToken)
	}
	if cfg.Result == nil {
		cfg.Result = LastMessage()
	}

	o := &Orchestrator{
		roster:   append([]contractx.Responder(nil), roster...),
		cfg:      cfg,
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	if cfg.Policy == contractx.PolicySelection && o.selector == nil {
		return nil, fmt.Errorf("%w: selection policy requires a selector", contractx.ErrConfiguration)
	}

	turnRunner, err := o.compileTurnGraph(context.Background())
	if err != nil {
		return nil, err
	}
	o.turnRunner = turnRunner

	return o, nil
}

// Run drives the task until the stop predicate holds or the turn ceiling is hit.
// On error the result still carries the transcript built so far. MaxTurns caps
// agent turns; the transcript also carries the task message.
func (o *Orchestrator) Run(ctx context.Context, task contractx.Task) (contractx.RunResult, error) {
	runID := o.newRunID()
	logger := log.With().Str("run_id", runID).Str("task_id", task.ID).Str("policy", string(o.cfg.Policy)).Logger()

	transcript := contractx.NewTranscript(task)
	result := func(stopped bool) contractx.RunResult {
		return contractx.RunResult{
			RunID:      runID,
			Content:    o.cfg.Result(transcript),
			Transcript: transcript,
			Turns:      transcript.AgentTurns(),
			Stopped:    stopped,
		}
	}

	for turn := 0; turn < o.cfg.MaxTurns; turn++ {
		if err := ctx.Err(); err != nil {
			return result(false), err
		}

		out, err := o.turnRunner.Invoke(ctx, nodex.TurnInput{Turn: turn, Transcript: transcript})
		if err != nil {
			return result(false), err
		}

		if out.Err != nil {
			if o.skippable(ctx, out.Err) {
				logger.Warn().Err(out.Err).Int("turn", turn).Str("speaker", out.Speaker).Msg("turn failed, skipping")
				continue
			}
			logger.Error().Err(out.Err).Int("turn", turn).Str("speaker", out.Speaker).Msg("turn failed")
			return result(false), out.Err
		}

		transcript = out.Transcript
		logger.Debug().Int("turn", turn).Str("speaker", out.Speaker).Msg("turn complete")

		if o.cfg.Stop(transcript) {
			logger.Info().Int("turns", transcript.AgentTurns()).Msg("run stopped")
			return result(true), nil
		}
	}

	logger.Warn().Int("max_turns", o.cfg.MaxTurns).Msg("turn budget exhausted")
	return result(false), fmt.Errorf("%w: max_turns=%d", contractx.ErrTurnBudgetExceeded, o.cfg.MaxTurns)
}

func (o *Orchestrator) skippable(ctx context.Context, err error) bool {
	if o.cfg.OnTurnError != OnTurnErrorSkip || ctx.Err() != nil {
		return false
	}
	var agentErr *contractx.AgentError
	return errors.As(err, &agentErr)
}
