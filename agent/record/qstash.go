package record

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
	qstashx "github.com/tanpawarit/relay-agents/pkg/qstash"
)

type publisher interface {
	PublishJSON(ctx context.Context, destination string, payload any) (qstashx.PublishResponse, error)
}

// QStashPublisher forwards each outcome as JSON to a webhook through QStash.
type QStashPublisher struct {
	client      publisher
	destination string
}

var _ contractx.Recorder = (*QStashPublisher)(nil)

func NewQStashPublisher(cfg qstashx.Config) (*QStashPublisher, error) {
	destination := strings.TrimSpace(cfg.Destination)
	if destination == "" {
		return nil, fmt.Errorf("%w: qstash destination is required", contractx.ErrConfiguration)
	}
	client, err := qstashx.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", contractx.ErrConfiguration, err)
	}
	return &QStashPublisher{client: client, destination: destination}, nil
}

func (p *QStashPublisher) Record(ctx context.Context, outcome contractx.Outcome) error {
	resp, err := p.client.PublishJSON(context.WithoutCancel(ctx), p.destination, outcome)
	if err != nil {
		return fmt.Errorf("publish outcome run_id=%s: %w", outcome.RunID, err)
	}
	log.Debug().Str("run_id", outcome.RunID).Str("message_id", resp.MessageID).Msg("outcome published")
	return nil
}
