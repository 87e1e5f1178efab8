package engine

import (
	"context"
	"time"

	"github.com/yungbote/curriculumgen/internal/generation/contract"
)

// Outcome classifies one attempt.
type Outcome string

const (
	OutcomeProviderError     Outcome = "provider_error"
	OutcomeParseError        Outcome = "parse_error"
	OutcomeValidationFailure Outcome = "validation_failure"
	OutcomeSuccess           Outcome = "success"
)

// AttemptRecord is the audit entry for one attempt. Records for a key are numbered 1..k
// without gaps.
type AttemptRecord struct {
	RunID       string
	Key         string
	Task        string
	Version     string
	Attempt     int
	MaxAttempts int
	Outcome     Outcome
	Detail      string
	Violations  []contract.Violation

	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	LatencyMS        int64

	// InvalidRef points at the raw response saved by the InvalidSink, if any.
	InvalidRef string
	At         time.Time
}

// AttemptLog receives every AttemptRecord. An Append error aborts the run.
type AttemptLog interface {
	Append(ctx context.Context, rec AttemptRecord) error
}

// InvalidSink keeps raw responses that failed to parse or validate.
type InvalidSink interface {
	Save(ctx context.Context, key string, attempt int, raw string) (ref string, err error)
}

type nopLog struct{}

func (nopLog) Append(context.Context, AttemptRecord) error { return nil }

type nopSink struct{}

func (nopSink) Save(context.Context, string, int, string) (string, error) { return "", nil }
