package contract

import "context"

type Options struct {
	MaxWords int
}

// Capability is one external system behind a text-in, text-out call.
type Capability interface {
	Invoke(ctx context.Context, input string, opts Options) (string, error)
}

type Responder interface {
	Name() string
	Description() string
	Respond(ctx context.Context, transcript Transcript) (Message, error)
}

type Candidate struct {
	Name        string
	Description string
}

type Selector interface {
	Select(ctx context.Context, transcript Transcript, candidates []Candidate) (string, error)
}

type Recorder interface {
	Record(ctx context.Context, outcome Outcome) error
}
