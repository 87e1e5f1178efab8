// Package engine runs the retry-and-repair loop: call the provider, normalize, validate,
// and either store a validated artifact or retry with a fixed backoff until the attempt
// budget is spent.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yungbote/curriculumgen/internal/artifacts"
	"github.com/yungbote/curriculumgen/internal/clients/llm"
	"github.com/yungbote/curriculumgen/internal/generation/contract"
	"github.com/yungbote/curriculumgen/internal/generation/keylock"
	"github.com/yungbote/curriculumgen/internal/generation/normalize"
	"github.com/yungbote/curriculumgen/internal/pkg/httpx"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

const tracerName = "github.com/yungbote/curriculumgen/internal/generation/engine"

type State string

const (
	StateIdle            State = "idle"
	StateAttempting      State = "attempting"
	StateSucceeded       State = "succeeded"
	StateFailedRetryable State = "failed_retryable"
	StateFailedExhausted State = "failed_exhausted"
	StateCanceled        State = "canceled"
)

type Result struct {
	RunID    string
	Key      string
	State    State
	Attempts int
	// Degraded is set when a placeholder was written.
	Degraded    bool
	Artifact    artifacts.Artifact
	Records     []AttemptRecord
	InvalidRefs []string
}

type Deps struct {
	Provider llm.Provider
	Store    artifacts.Store
	Log      AttemptLog
	Invalid  InvalidSink
	Locker   keylock.Locker
	Logger   *logger.Logger

	// Sleep and Now default to a context-aware sleep and time.Now.
	Sleep func(ctx context.Context, d time.Duration) error
	Now   func() time.Time
}

type Engine struct {
	provider llm.Provider
	store    artifacts.Store
	attempts AttemptLog
	invalid  InvalidSink
	locker   keylock.Locker
	log      *logger.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	now      func() time.Time
	policy   Policy
	tracer   trace.Tracer
}

func New(deps Deps, policy Policy) (*Engine, error) {
	if deps.Provider == nil {
		return nil, fmt.Errorf("engine: provider required")
	}
	if deps.Store == nil {
		return nil, fmt.Errorf("engine: artifact store required")
	}
	if deps.Logger == nil {
		deps.Logger = logger.Nop()
	}
	if deps.Log == nil {
		deps.Log = nopLog{}
	}
	if deps.Invalid == nil {
		deps.Invalid = nopSink{}
	}
	if deps.Locker == nil {
		deps.Locker = keylock.NewLocal()
	}
	if deps.Sleep == nil {
		deps.Sleep = httpx.SleepContext
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Engine{
		provider: deps.Provider,
		store:    deps.Store,
		attempts: deps.Log,
		invalid:  deps.Invalid,
		locker:   deps.Locker,
		log:      deps.Logger.With("service", "GenerationEngine"),
		sleep:    deps.Sleep,
		now:      deps.Now,
		policy:   policy.withDefaults(),
		tracer:   otel.Tracer(tracerName),
	}, nil
}

func (e *Engine) Policy() Policy { return e.policy }

// attemptResult is the per-attempt scratch state.
type attemptResult struct {
	value      any
	outcome    Outcome
	detail     string
	violations []contract.Violation
	feedback   []string
	raw        string
	meta       llm.Metadata
}

// Run drives one job to a validated artifact, a placeholder, or an error. Only one Run per
// key is active at a time.
func (e *Engine) Run(ctx context.Context, job Job) (Result, error) {
	key, err := artifacts.CleanKey(job.Key)
	if err != nil {
		return Result{State: StateIdle}, err
	}
	job.Key = key
	if job.Format == "" {
		job.Format = FormatJSON
	}

	res := Result{RunID: uuid.NewString(), Key: key, State: StateIdle}
	ctx, span := e.tracer.Start(ctx, "generation.run", trace.WithAttributes(
		attribute.String("artifact.key", key),
		attribute.String("generation.task", job.Task),
		attribute.Int("generation.max_attempts", e.policy.MaxAttempts),
	))
	defer span.End()

	if e.policy.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.policy.Deadline)
		defer cancel()
	}

	held, release, err := e.locker.Lock(ctx, key)
	if err != nil {
		if ctx.Err() != nil {
			res.State = StateCanceled
			return res, fmt.Errorf("%s: %w: %w", key, ErrCanceled, context.Cause(ctx))
		}
		return res, fmt.Errorf("lock %s: %w", key, err)
	}
	defer release()
	ctx = held

	log := e.log.With("key", key, "task", job.Task, "run_id", res.RunID)
	maxAttempts := e.policy.MaxAttempts
	var feedback []string

	for n := 1; n <= maxAttempts; n++ {
		if ctx.Err() != nil {
			return e.canceled(ctx, span, res)
		}
		res.State = StateAttempting

		a := e.runAttempt(ctx, job, n, feedback)
		// A cancel that lands during the call must not lose the attempt's outcome.
		wctx := context.WithoutCancel(ctx)
		rec := AttemptRecord{
			RunID:            res.RunID,
			Key:              key,
			Task:             job.Task,
			Version:          job.Version,
			Attempt:          n,
			MaxAttempts:      maxAttempts,
			Outcome:          a.outcome,
			Detail:           a.detail,
			Violations:       a.violations,
			Provider:         a.meta.Provider,
			Model:            a.meta.Model,
			PromptTokens:     a.meta.PromptTokens,
			CompletionTokens: a.meta.CompletionTokens,
			LatencyMS:        a.meta.LatencyMS,
			At:               e.now().UTC(),
		}
		if a.outcome == OutcomeParseError || a.outcome == OutcomeValidationFailure {
			ref, sErr := e.invalid.Save(wctx, key, n, a.raw)
			if sErr != nil {
				log.Warn("saving invalid response failed", "attempt", n, "error", sErr)
			} else if ref != "" {
				rec.InvalidRef = ref
				res.InvalidRefs = append(res.InvalidRefs, ref)
			}
		}

		if err := e.attempts.Append(wctx, rec); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "attempt log")
			return res, fmt.Errorf("%s: append attempt %d: %w", key, n, err)
		}
		res.Records = append(res.Records, rec)
		res.Attempts = n

		if a.outcome == OutcomeSuccess {
			if err := lockLost(ctx); err != nil {
				return e.canceled(ctx, span, res)
			}
			art := artifacts.Artifact{Key: key, Status: artifacts.StatusValidated, Kind: job.kind(), Attempts: n, UpdatedAt: rec.At}
			setValue(&art, a.value)
			if err := e.store.Write(wctx, art); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "store")
				return res, fmt.Errorf("%s: store: %w", key, err)
			}
			if n > 1 {
				log.Info("generated after retries", "attempt", n)
			} else {
				log.Debug("generated", "attempt", n)
			}
			res.State = StateSucceeded
			res.Artifact = art
			span.SetAttributes(attribute.Int("generation.attempts", n))
			span.SetStatus(codes.Ok, "")
			return res, nil
		}

		log.Warn("attempt failed", "attempt", n, "max_attempts", maxAttempts, "outcome", a.outcome, "detail", a.detail)
		if a.feedback != nil {
			feedback = a.feedback
		}
		res.State = StateFailedRetryable

		if n < maxAttempts {
			if ctx.Err() != nil {
				return e.canceled(ctx, span, res)
			}
			if err := e.sleep(ctx, e.policy.Backoff); err != nil {
				if ctx.Err() == nil {
					return res, fmt.Errorf("%s: backoff: %w", key, err)
				}
				return e.canceled(ctx, span, res)
			}
		}
	}

	if ctx.Err() != nil {
		return e.canceled(ctx, span, res)
	}
	return e.exhausted(ctx, span, log, job, res)
}

// lockLost reports whether the key lease ended under the run.
func lockLost(ctx context.Context) error {
	if err := context.Cause(ctx); errors.Is(err, keylock.ErrLockLost) {
		return err
	}
	return nil
}

// canceled ends a run whose context is done. A lost key lock is reported as such and is
// not a cancellation of the batch.
func (e *Engine) canceled(ctx context.Context, span trace.Span, res Result) (Result, error) {
	res.State = StateCanceled
	if err := lockLost(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "lock lost")
		return res, fmt.Errorf("%s: stopped after %d attempts: %w", res.Key, res.Attempts, err)
	}
	span.SetStatus(codes.Error, "canceled")
	return res, fmt.Errorf("%s: %w after %d attempts: %w", res.Key, ErrCanceled, res.Attempts, context.Cause(ctx))
}

func (e *Engine) exhausted(ctx context.Context, span trace.Span, log *logger.Logger, job Job, res Result) (Result, error) {
	res.State = StateFailedExhausted
	last := res.Records[len(res.Records)-1]
	ex := Exhausted{Key: res.Key, Task: job.Task, Attempts: res.Attempts, Last: last, InvalidRefs: res.InvalidRefs}

	decision, herr := e.policy.OnExhausted(ctx, ex)
	if herr != nil {
		log.Error("exhausted handler failed", "error", herr)
		decision = DecisionAbort
	}
	log.Warn("retries exhausted", "attempts", res.Attempts, "decision", decision.String())
	span.SetAttributes(attribute.String("generation.exhausted_decision", decision.String()))
	span.SetStatus(codes.Error, "retries exhausted")

	switch decision {
	case DecisionDegrade:
		if err := lockLost(ctx); err != nil {
			return res, fmt.Errorf("%s: store placeholder: %w", res.Key, err)
		}
		art := artifacts.Artifact{Key: res.Key, Status: artifacts.StatusPlaceholder, Kind: job.kind(), Attempts: res.Attempts, UpdatedAt: e.now().UTC()}
		setValue(&art, job.placeholder())
		if err := e.store.Write(context.WithoutCancel(ctx), art); err != nil {
			return res, fmt.Errorf("%s: store placeholder: %w", res.Key, err)
		}
		res.Degraded = true
		res.Artifact = art
		return res, nil
	default:
		exErr := &RetriesExhaustedError{Key: res.Key, Attempts: res.Attempts, Last: last, AbortBatch: decision == DecisionAbortBatch}
		if herr != nil {
			return res, errors.Join(exErr, herr)
		}
		return res, exErr
	}
}

// runAttempt performs one provider call and classifies the result. It never returns an error;
// every failure becomes an Outcome.
func (e *Engine) runAttempt(ctx context.Context, job Job, n int, feedback []string) attemptResult {
	ctx, span := e.tracer.Start(ctx, "generation.attempt", trace.WithAttributes(attribute.Int("generation.attempt", n)))
	defer span.End()

	req := job.Request
	if e.policy.FeedbackViolations && len(feedback) > 0 {
		req = req.WithUserSuffix("VALIDATION_ERRORS_TO_FIX:\n- " + strings.Join(feedback, "\n- "))
	}

	start := e.now()
	resp, err := e.provider.Generate(ctx, req)
	latency := e.now().Sub(start).Milliseconds()
	a := attemptResult{raw: resp.Text, meta: resp.Meta}
	if a.meta.LatencyMS == 0 {
		a.meta.LatencyMS = latency
	}
	if a.meta.Provider == "" {
		a.meta.Provider = e.provider.Name()
	}

	defer func() {
		span.SetAttributes(attribute.String("generation.outcome", string(a.outcome)))
		if a.outcome != OutcomeSuccess {
			span.SetStatus(codes.Error, a.detail)
		}
	}()

	if err != nil {
		a.outcome = OutcomeProviderError
		a.detail = err.Error()
		return a
	}

	value, perr := decodeValue(job, resp)
	if perr != nil {
		a.outcome = OutcomeParseError
		a.detail = perr.Error()
		a.feedback = []string{"invalid_output: " + perr.Error()}
		return a
	}

	out := contract.Validate(value, job.Contract)
	if !out.Valid {
		a.outcome = OutcomeValidationFailure
		a.detail = out.Error()
		a.violations = out.Violations
		a.feedback = make([]string, 0, len(out.Violations))
		for _, v := range out.Violations {
			a.feedback = append(a.feedback, v.String())
		}
		return a
	}

	a.outcome = OutcomeSuccess
	a.value = value
	return a
}

// decodeValue turns a response into the value handed to the contract.
func decodeValue(job Job, resp llm.Response) (any, error) {
	switch job.Format {
	case FormatText:
		text := normalize.Text(resp.Text, resp.Structured, job.TextField)
		if strings.TrimSpace(text) == "" {
			return nil, &normalize.DecodeError{Err: errors.New("empty response")}
		}
		return text, nil
	case FormatMixed:
		if obj, ok := resp.Structured.(map[string]any); ok {
			return obj, nil
		}
		emb, err := normalize.ExtractEmbedded(resp.Text, job.AnchorHint)
		if err != nil {
			return nil, err
		}
		obj, _ := emb.Value.(map[string]any)
		merged := make(map[string]any, len(obj)+1)
		for k, v := range obj {
			merged[k] = v
		}
		// A response that is only the object already carries its prose field.
		if job.ProseKey != "" {
			if _, has := merged[job.ProseKey]; !has || strings.TrimSpace(emb.Prefix) != "" {
				merged[job.ProseKey] = emb.Prefix
			}
		}
		return merged, nil
	default:
		if resp.Structured != nil {
			return resp.Structured, nil
		}
		return normalize.Normalize(resp.Text)
	}
}

func setValue(a *artifacts.Artifact, v any) {
	if a.Kind == artifacts.KindText {
		s, ok := v.(string)
		if !ok && v != nil {
			s = fmt.Sprint(v)
		}
		a.Text = s
		return
	}
	a.Data = v
}
