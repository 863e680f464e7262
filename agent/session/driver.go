package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tanpawarit/relay-agents/agent/agents/orchestrator"
	contractx "github.com/tanpawarit/relay-agents/agent/contract"
)

type Config struct {
	Policy      contractx.Policy
	MaxTurns    int
	TaskTimeout time.Duration
	OnTurnError orchestrator.OnTurnError
}

type DriverOption func(*Driver)

func WithSelector(selector contractx.Selector) DriverOption {
	return func(d *Driver) {
		d.selector = selector
	}
}

func WithRecorders(recorders ...contractx.Recorder) DriverOption {
	return func(d *Driver) {
		for _, r := range recorders {
			if r != nil {
				d.recorders = append(d.recorders, r)
			}
		}
	}
}

func WithReporter(reporter Reporter) DriverOption {
	return func(d *Driver) {
		if reporter != nil {
			d.reporter = reporter
		}
	}
}

func WithClock(now func() time.Time) DriverOption {
	return func(d *Driver) {
		if now != nil {
			d.now = now
		}
	}
}

// Driver runs a batch of tasks one after another, each with a fresh team.
type Driver struct {
	cfg       Config
	flow      Flow
	models    Models
	selector  contractx.Selector
	recorders []contractx.Recorder
	reporter  Reporter
	now       func() time.Time
}

func NewDriver(cfg Config, flow Flow, models Models, opts ...DriverOption) (*Driver, error) {
	if flow == nil {
		return nil, fmt.Errorf("%w: flow is required", contractx.ErrConfiguration)
	}
	if cfg.MaxTurns <= 0 {
		return nil, fmt.Errorf("%w: max turns must be positive", contractx.ErrConfiguration)
	}
	d := &Driver{
		cfg:      cfg,
		flow:     flow,
		models:   models,
		reporter: nopReporter{},
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}
	if cfg.Policy == contractx.PolicySelection && d.selector == nil {
		return nil, fmt.Errorf("%w: selection mode requires a selector", contractx.ErrConfiguration)
	}
	return d, nil
}

// Run processes inputs in order. A failed task is reported and the batch moves on;
// only cancellation of ctx ends the batch early.
func (d *Driver) Run(ctx context.Context, inputs []string) ([]contractx.Outcome, error) {
	outcomes := make([]contractx.Outcome, 0, len(inputs))
	for i, input := range inputs {
		if err := ctx.Err(); err != nil {
			log.Warn().Err(err).Int("remaining", len(inputs)-i).Msg("batch cancelled")
			return outcomes, err
		}
		outcomes = append(outcomes, d.runTask(ctx, input))
	}
	return outcomes, nil
}

func (d *Driver) runTask(ctx context.Context, input string) contractx.Outcome {
	task := contractx.NewTask(input)
	outcome := contractx.Outcome{
		RunID:     task.ID,
		Flow:      d.flow.Name(),
		Mode:      d.cfg.Policy,
		Task:      task,
		StartedAt: d.now().UTC(),
	}
	logger := log.With().Str("task_id", task.ID).Str("flow", outcome.Flow).Str("mode", string(outcome.Mode)).Logger()
	logger.Info().Str("input", task.Input).Msg("task started")

	res, err := d.execute(ctx, task)
	if res.RunID != "" {
		outcome.RunID = res.RunID
	}
	outcome.Content = res.Content
	outcome.Turns = res.Turns
	outcome.FinishedAt = d.now().UTC()
	if err != nil {
		outcome.Status = contractx.OutcomeFailed
		outcome.Err = err
		outcome.Error = err.Error()
		logger.Error().Err(err).Int("turns", res.Turns).Msg("task failed")
	} else {
		outcome.Status = contractx.OutcomeCompleted
		logger.Info().Int("turns", res.Turns).Dur("elapsed", outcome.FinishedAt.Sub(outcome.StartedAt)).Msg("task completed")
	}

	for _, r := range d.recorders {
		if err := r.Record(ctx, outcome); err != nil {
			logger.Warn().Err(err).Msg("record outcome failed")
		}
	}
	d.reporter.Report(outcome)
	return outcome
}

func (d *Driver) execute(ctx context.Context, task contractx.Task) (contractx.RunResult, error) {
	if task.Input == "" {
		return contractx.RunResult{}, fmt.Errorf("%w: task input is empty", contractx.ErrValidation)
	}

	if d.cfg.TaskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.TaskTimeout)
		defer cancel()
	}

	team, err := d.flow.Build(ctx, d.models)
	if err != nil {
		return contractx.RunResult{}, err
	}

	orch, err := orchestrator.New(team.Roster, orchestrator.Config{
		Policy:      d.cfg.Policy,
		MaxTurns:    d.cfg.MaxTurns,
		Stop:        team.Stop,
		Result:      team.Result,
		OnTurnError: d.cfg.OnTurnError,
	}, orchestrator.WithSelector(d.selector))
	if err != nil {
		return contractx.RunResult{}, err
	}

	res, err := orch.Run(ctx, task)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && d.cfg.TaskTimeout > 0 {
		err = fmt.Errorf("task timed out after %s: %w", d.cfg.TaskTimeout, err)
	}
	return res, err
}

type nopReporter struct{}

func (nopReporter) Report(contractx.Outcome) {}
