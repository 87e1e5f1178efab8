package llm

import (
	"context"
	"sync"
)

// Scripted is a Provider that replays canned results in order. The last entry repeats
// once the script is exhausted. It is used by tests and dry runs.
type Scripted struct {
	ProviderName string

	mu    sync.Mutex
	steps []ScriptStep
	calls int
	seen  []Request
}

type ScriptStep struct {
	Text       string
	Structured any
	Err        error
}

func NewScripted(steps ...ScriptStep) *Scripted {
	return &Scripted{ProviderName: "scripted", steps: steps}
}

// Texts builds a script of plain text responses.
func Texts(texts ...string) *Scripted {
	steps := make([]ScriptStep, 0, len(texts))
	for _, t := range texts {
		steps = append(steps, ScriptStep{Text: t})
	}
	return NewScripted(steps...)
}

func (s *Scripted) Name() string { return s.ProviderName }

func (s *Scripted) Generate(ctx context.Context, req Request) (Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen = append(s.seen, req)
	s.calls++
	if err := ctx.Err(); err != nil {
		return Response{}, &ProviderError{Provider: s.ProviderName, Err: err}
	}
	if len(s.steps) == 0 {
		return Response{Meta: Metadata{Provider: s.ProviderName, Model: "scripted"}}, nil
	}
	idx := s.calls - 1
	if idx >= len(s.steps) {
		idx = len(s.steps) - 1
	}
	step := s.steps[idx]
	if step.Err != nil {
		return Response{}, AsProviderError(s.ProviderName, step.Err)
	}
	return Response{
		Text:       step.Text,
		Structured: step.Structured,
		Meta:       Metadata{Provider: s.ProviderName, Model: "scripted"},
	}, nil
}

func (s *Scripted) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.seen...)
}
