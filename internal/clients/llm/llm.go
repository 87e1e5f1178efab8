package llm

import (
	"context"
	"errors"
	"fmt"
)

// OutputSchema constrains the shape of a structured response.
type OutputSchema struct {
	Name   string
	Schema map[string]any
}

// Request is built once per logical generation and reused across its attempts.
type Request struct {
	System string
	User   string
	Schema *OutputSchema
}

// WithUserSuffix returns a copy of r whose user prompt has suffix appended.
func (r Request) WithUserSuffix(suffix string) Request {
	out := r
	if suffix != "" {
		out.User = r.User + "\n\n" + suffix
	}
	return out
}

type Metadata struct {
	Provider         string
	Model            string
	PromptTokens     int
	CompletionTokens int
	LatencyMS        int64
}

// Response is produced once per attempt. Structured is set only when the provider
// returned an already-decoded value.
type Response struct {
	Text       string
	Structured any
	Meta       Metadata
}

// Provider is the generation capability the pipeline depends on.
type Provider interface {
	Name() string
	Generate(ctx context.Context, req Request) (Response, error)
}

// ProviderError is a transport, auth, or quota failure from a provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s http %d: %s", e.Provider, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s http %d", e.Provider, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	default:
		return e.Provider + ": provider error"
	}
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) HTTPStatusCode() int {
	if e == nil {
		return 0
	}
	return e.StatusCode
}

// AsProviderError wraps any error from name's transport as a *ProviderError.
func AsProviderError(name string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Provider: name, Err: err}
}
