package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	pkgerrors "github.com/yungbote/curriculumgen/internal/pkg/errors"
)

const (
	DefaultMaxAttempts = 10
	DefaultBackoff     = 2 * time.Second
)

// Policy is fixed for the lifetime of an Engine.
type Policy struct {
	MaxAttempts int
	// Backoff is the fixed pause between attempts.
	Backoff time.Duration
	// Deadline bounds a whole run; zero means none.
	Deadline    time.Duration
	OnExhausted ExhaustedHandler
	// FeedbackViolations appends the previous attempt's problems to the next prompt.
	FeedbackViolations bool
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxAttempts,
		Backoff:     DefaultBackoff,
		OnExhausted: Abort(),
	}
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.Backoff < 0 {
		p.Backoff = 0
	}
	if p.OnExhausted == nil {
		p.OnExhausted = Abort()
	}
	return p
}

type Decision int

const (
	// DecisionAbort fails the key and writes nothing.
	DecisionAbort Decision = iota
	// DecisionDegrade writes the job's placeholder tagged as such.
	DecisionDegrade
	// DecisionAbortBatch fails the key and asks the caller to stop the batch.
	DecisionAbortBatch
)

func (d Decision) String() string {
	switch d {
	case DecisionAbort:
		return "abort"
	case DecisionDegrade:
		return "degrade"
	case DecisionAbortBatch:
		return "abort_batch"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Exhausted describes a key whose attempts all failed.
type Exhausted struct {
	Key         string
	Task        string
	Attempts    int
	Last        AttemptRecord
	InvalidRefs []string
}

type ExhaustedHandler func(ctx context.Context, ex Exhausted) (Decision, error)

// Confirmer asks an operator what to do with an exhausted key.
type Confirmer interface {
	Confirm(ctx context.Context, ex Exhausted) (Decision, error)
}

type ConfirmFunc func(ctx context.Context, ex Exhausted) (Decision, error)

func (f ConfirmFunc) Confirm(ctx context.Context, ex Exhausted) (Decision, error) { return f(ctx, ex) }

func Abort() ExhaustedHandler {
	return func(context.Context, Exhausted) (Decision, error) { return DecisionAbort, nil }
}

func Degrade() ExhaustedHandler {
	return func(context.Context, Exhausted) (Decision, error) { return DecisionDegrade, nil }
}

// Confirm defers to c. A nil Confirmer or a Confirmer error aborts.
func Confirm(c Confirmer) ExhaustedHandler {
	return func(ctx context.Context, ex Exhausted) (Decision, error) {
		if c == nil {
			return DecisionAbort, nil
		}
		d, err := c.Confirm(ctx, ex)
		if err != nil {
			return DecisionAbort, fmt.Errorf("confirm %s: %w", ex.Key, err)
		}
		return d, nil
	}
}

// ParsePolicy maps "abort", "degrade" or "confirm" to a handler. c is used for "confirm".
func ParsePolicy(name string, c Confirmer) (ExhaustedHandler, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "abort":
		return Abort(), nil
	case "degrade", "placeholder":
		return Degrade(), nil
	case "confirm", "ask":
		if c == nil {
			return nil, fmt.Errorf("%w: exhausted policy %q needs a confirmer", pkgerrors.ErrInvalidArgument, name)
		}
		return Confirm(c), nil
	default:
		return nil, fmt.Errorf("%w: unknown exhausted policy %q", pkgerrors.ErrInvalidArgument, name)
	}
}
