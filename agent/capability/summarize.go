package capability

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"

	contractx "github.com/tanpawarit/relay-agents/agent/contract"
)

const (
	DefaultSummaryWords = 200
	summaryPrompt       = "Please provide a concise summary (max %d words) of the following content:\n\n%s"
)

// Summarizer condenses text with a single completion call.
type Summarizer struct {
	client       *openai.Client
	model        string
	defaultWords int
	maxTokens    int64
	temperature  *float64
}

var _ contractx.Capability = (*Summarizer)(nil)

type SummarizerOption func(*Summarizer)

func WithDefaultWords(words int) SummarizerOption {
	return func(s *Summarizer) {
		if words > 0 {
			s.defaultWords = words
		}
	}
}

func WithMaxTokens(tokens int64) SummarizerOption {
	return func(s *Summarizer) {
		if tokens > 0 {
			s.maxTokens = tokens
		}
	}
}

func WithTemperature(temperature float64) SummarizerOption {
	return func(s *Summarizer) {
		if temperature >= 0 {
			s.temperature = &temperature
		}
	}
}

func NewSummarizer(client *openai.Client, model string, opts ...SummarizerOption) (*Summarizer, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, errors.New("summarizer model is required")
	}
	s := &Summarizer{
		client:       client,
		model:        model,
		defaultWords: DefaultSummaryWords,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *Summarizer) Invoke(ctx context.Context, input string, opts contractx.Options) (string, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return "", fmt.Errorf("%w: input text is empty", contractx.ErrSummarize)
	}

	words := opts.MaxWords
	if words <= 0 {
		words = s.defaultWords
	}

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(s.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(fmt.Sprintf(summaryPrompt, words, text)),
		},
	}
	if s.maxTokens > 0 {
		params.MaxTokens = openai.Int(s.maxTokens)
	}
	if s.temperature != nil {
		params.Temperature = openai.Float(*s.temperature)
	}

	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("%w: completion model=%s: %w", contractx.ErrSummarize, s.model, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: completion returned no choices", contractx.ErrSummarize)
	}

	summary := strings.TrimSpace(resp.Choices[0].Message.Content)
	if summary == "" {
		return "", fmt.Errorf("%w: completion returned empty content", contractx.ErrSummarize)
	}
	return clampWords(summary, words), nil
}

// clampWords keeps the text untouched when it already fits the word budget.
func clampWords(text string, max int) string {
	words := strings.Fields(text)
	if max <= 0 || len(words) <= max {
		return text
	}
	return strings.Join(words[:max], " ")
}
