package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"

	"github.com/yungbote/curriculumgen/internal/artifacts"
	"github.com/yungbote/curriculumgen/internal/clients/llm"
	"github.com/yungbote/curriculumgen/internal/generation/contract"
	"github.com/yungbote/curriculumgen/internal/generation/keylock"
	pkgerrors "github.com/yungbote/curriculumgen/internal/pkg/errors"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type recordingLog struct {
	mu   sync.Mutex
	recs []AttemptRecord
	fail error
}

func (l *recordingLog) Append(ctx context.Context, rec AttemptRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.fail != nil {
		return l.fail
	}
	l.recs = append(l.recs, rec)
	return nil
}

func (l *recordingLog) outcomes() []Outcome {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Outcome, 0, len(l.recs))
	for _, r := range l.recs {
		out = append(out, r.Outcome)
	}
	return out
}

type recordingSink struct {
	mu    sync.Mutex
	saved []string
}

func (s *recordingSink) Save(ctx context.Context, key string, attempt int, raw string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saved = append(s.saved, raw)
	return fmt.Sprintf("%s#v%d", key, attempt), nil
}

type harness struct {
	engine *Engine
	store  *artifacts.MemoryStore
	log    *recordingLog
	sink   *recordingSink
	sleeps []time.Duration
}

func newHarness(t *testing.T, p llm.Provider, policy Policy) *harness {
	t.Helper()
	h := &harness{store: artifacts.NewMemoryStore(), log: &recordingLog{}, sink: &recordingSink{}}
	e, err := New(Deps{
		Provider: p,
		Store:    h.store,
		Log:      h.log,
		Invalid:  h.sink,
		Logger:   logger.Nop(),
		Sleep: func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		},
	}, policy)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	h.engine = e
	return h
}

func classNameContract() *contract.Contract {
	return contract.New("class_name", "class_name").
		Rule("class_name.length", contract.StringLength("class_name", 1, 100))
}

func classJob() Job {
	return Job{
		Key:      "week01/day1/class.json",
		Task:     "class_name",
		Request:  llm.Request{System: "sys", User: "Name the class."},
		Contract: classNameContract(),
		Format:   FormatJSON,
	}
}

func TestScenarioAFencedJSONFirstAttempt(t *testing.T) {
	p := llm.Texts("```json\n{\"class_name\": \"X\"}\n```")
	h := newHarness(t, p, DefaultPolicy())

	res, err := h.engine.Run(context.Background(), classJob())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateSucceeded || res.Attempts != 1 {
		t.Fatalf("state=%s attempts=%d", res.State, res.Attempts)
	}
	if diff := cmp.Diff([]Outcome{OutcomeSuccess}, h.log.outcomes()); diff != "" {
		t.Fatalf("outcomes (-want +got):\n%s", diff)
	}
	got, err := h.store.Read(context.Background(), "week01/day1/class.json")
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.Status != artifacts.StatusValidated {
		t.Fatalf("status = %s", got.Status)
	}
	if diff := cmp.Diff(map[string]any{"class_name": "X"}, got.Data); diff != "" {
		t.Fatalf("data (-want +got):\n%s", diff)
	}
	if len(h.sleeps) != 0 || len(h.sink.saved) != 0 {
		t.Fatalf("sleeps=%v invalid=%v", h.sleeps, h.sink.saved)
	}
}

func TestScenarioBParseErrorsThenSuccess(t *testing.T) {
	p := llm.Texts("not json", "not json", `{"class_name": "X", "summary": "..."}`)
	h := newHarness(t, p, DefaultPolicy())

	res, err := h.engine.Run(context.Background(), classJob())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Attempts != 3 || p.Calls() != 3 {
		t.Fatalf("attempts=%d calls=%d, want 3", res.Attempts, p.Calls())
	}
	want := []Outcome{OutcomeParseError, OutcomeParseError, OutcomeSuccess}
	if diff := cmp.Diff(want, h.log.outcomes()); diff != "" {
		t.Fatalf("outcomes (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]time.Duration{DefaultBackoff, DefaultBackoff}, h.sleeps); diff != "" {
		t.Fatalf("sleeps (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"not json", "not json"}, h.sink.saved); diff != "" {
		t.Fatalf("invalid saves (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"week01/day1/class.json#v1", "week01/day1/class.json#v2"}, res.InvalidRefs); diff != "" {
		t.Fatalf("invalid refs (-want +got):\n%s", diff)
	}
}

func TestScenarioCExhaustedAbortWritesNothing(t *testing.T) {
	p := llm.NewScripted(llm.ScriptStep{Structured: map[string]any{}})
	policy := DefaultPolicy()
	policy.MaxAttempts = 3
	h := newHarness(t, p, policy)

	res, err := h.engine.Run(context.Background(), classJob())
	var ex *RetriesExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want RetriesExhaustedError", err)
	}
	if ex.Attempts != 3 || ex.AbortBatch {
		t.Fatalf("exhausted = %+v", ex)
	}
	if res.State != StateFailedExhausted || p.Calls() != 3 {
		t.Fatalf("state=%s calls=%d", res.State, p.Calls())
	}
	if h.store.Writes() != 0 {
		t.Fatalf("store writes = %d, want 0", h.store.Writes())
	}
	if len(h.sleeps) != 2 {
		t.Fatalf("sleeps = %d, want 2", len(h.sleeps))
	}
	if !strings.Contains(ex.Last.Detail, "required:class_name") {
		t.Fatalf("last detail = %q", ex.Last.Detail)
	}
}

func TestBoundedRetriesNeverExceedMax(t *testing.T) {
	for _, n := range []int{1, 2, 5, 10} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			p := llm.NewScripted(llm.ScriptStep{Structured: map[string]any{"other": 1}})
			policy := DefaultPolicy()
			policy.MaxAttempts = n
			h := newHarness(t, p, policy)
			_, err := h.engine.Run(context.Background(), classJob())
			if err == nil {
				t.Fatalf("Run succeeded against an always-invalid provider")
			}
			if p.Calls() != n || len(h.log.recs) != n {
				t.Fatalf("calls=%d records=%d, want %d", p.Calls(), len(h.log.recs), n)
			}
		})
	}
}

func TestAttemptLogIsGapless(t *testing.T) {
	p := llm.NewScripted(
		llm.ScriptStep{Err: errors.New("connection reset")},
		llm.ScriptStep{Text: "```json\n{\"class_name\": \n```"},
		llm.ScriptStep{Structured: map[string]any{"class_name": ""}},
		llm.ScriptStep{Structured: map[string]any{"class_name": "Latin A"}},
	)
	h := newHarness(t, p, DefaultPolicy())
	res, err := h.engine.Run(context.Background(), classJob())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []Outcome{OutcomeProviderError, OutcomeParseError, OutcomeValidationFailure, OutcomeSuccess}
	if diff := cmp.Diff(want, h.log.outcomes()); diff != "" {
		t.Fatalf("outcomes (-want +got):\n%s", diff)
	}
	for i, rec := range h.log.recs {
		if rec.Attempt != i+1 || rec.MaxAttempts != DefaultMaxAttempts || rec.RunID != res.RunID {
			t.Fatalf("record %d = %+v", i, rec)
		}
	}
	// Provider errors carry no raw response and are not saved as invalid.
	if len(h.sink.saved) != 2 {
		t.Fatalf("invalid saves = %d, want 2", len(h.sink.saved))
	}
}

func TestValidationFailureCarriesAllViolations(t *testing.T) {
	c := contract.New("doc", "metadata", "prior_knowledge_digest", "objectives", "lesson_flow")
	p := llm.NewScripted(llm.ScriptStep{Structured: map[string]any{"metadata": map[string]any{}}})
	policy := DefaultPolicy()
	policy.MaxAttempts = 1
	h := newHarness(t, p, policy)

	_, err := h.engine.Run(context.Background(), Job{Key: "week01/day1/doc.json", Contract: c})
	if err == nil {
		t.Fatalf("expected failure")
	}
	rec := h.log.recs[0]
	if len(rec.Violations) != 3 {
		t.Fatalf("violations = %v, want 3", rec.Violations)
	}
	for _, k := range []string{"prior_knowledge_digest", "objectives", "lesson_flow"} {
		if !strings.Contains(rec.Detail, "required:"+k) {
			t.Fatalf("detail %q missing %s", rec.Detail, k)
		}
	}
}

func TestDegradeWritesMarkedPlaceholder(t *testing.T) {
	p := llm.Texts("nope")
	policy := DefaultPolicy()
	policy.MaxAttempts = 2
	policy.OnExhausted = Degrade()
	h := newHarness(t, p, policy)

	job := classJob()
	job.Placeholder = func() any { return map[string]any{"class_name": "[PLACEHOLDER]"} }
	res, err := h.engine.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.Degraded || res.State != StateFailedExhausted {
		t.Fatalf("result = %+v", res)
	}
	got, err := h.store.Read(context.Background(), job.Key)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !got.IsPlaceholder() || got.Attempts != 2 {
		t.Fatalf("artifact = %+v", got)
	}
}

func TestStoredValuesPassContractOrArePlaceholders(t *testing.T) {
	c := classNameContract()
	scripts := [][]string{
		{`{"class_name": "Latin A"}`},
		{"bad", `{"class_name": ""}`, `{"class_name": "Latin A"}`},
		{"bad"},
		{`{"class_name": ""}`},
	}
	for i, script := range scripts {
		for _, handler := range []ExhaustedHandler{Abort(), Degrade()} {
			policy := Policy{MaxAttempts: 3, OnExhausted: handler}
			h := newHarness(t, llm.Texts(script...), policy)
			job := classJob()
			job.Key = fmt.Sprintf("week01/day1/case%d.json", i)
			_, _ = h.engine.Run(context.Background(), job)

			keys, _ := h.store.List(context.Background(), "")
			for _, k := range keys {
				a, err := h.store.Read(context.Background(), k)
				if err != nil {
					t.Fatalf("Read %s: %v", k, err)
				}
				if !a.IsPlaceholder() && !c.Validate(a.Value()).Valid {
					t.Fatalf("case %d stored unmarked invalid value %v", i, a.Value())
				}
			}
		}
	}
}

func TestConfirmAbortBatch(t *testing.T) {
	var seen Exhausted
	confirmer := ConfirmFunc(func(ctx context.Context, ex Exhausted) (Decision, error) {
		seen = ex
		return DecisionAbortBatch, nil
	})
	policy := DefaultPolicy()
	policy.MaxAttempts = 2
	policy.OnExhausted = Confirm(confirmer)
	h := newHarness(t, llm.Texts("bad"), policy)

	_, err := h.engine.Run(context.Background(), classJob())
	if !IsAbortBatch(err) {
		t.Fatalf("err = %v, want abort batch", err)
	}
	if seen.Attempts != 2 || seen.Last.Attempt != 2 || len(seen.InvalidRefs) != 2 {
		t.Fatalf("confirmer saw %+v", seen)
	}
}

func TestConfirmErrorAborts(t *testing.T) {
	policy := DefaultPolicy()
	policy.MaxAttempts = 1
	policy.OnExhausted = Confirm(ConfirmFunc(func(context.Context, Exhausted) (Decision, error) {
		return DecisionDegrade, errors.New("stdin closed")
	}))
	h := newHarness(t, llm.Texts("bad"), policy)
	_, err := h.engine.Run(context.Background(), classJob())
	var ex *RetriesExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("err = %v, want RetriesExhaustedError", err)
	}
	if h.store.Writes() != 0 {
		t.Fatalf("placeholder written despite confirmer error")
	}
}

func TestCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	p := llm.Texts("bad")
	store := artifacts.NewMemoryStore()
	log := &recordingLog{}
	e, err := New(Deps{
		Provider: p,
		Store:    store,
		Log:      log,
		Sleep: func(ctx context.Context, d time.Duration) error {
			cancel()
			return ctx.Err()
		},
	}, DefaultPolicy())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := e.Run(ctx, classJob())
	if !errors.Is(err, ErrCanceled) || !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want ErrCanceled wrapping context.Canceled", err)
	}
	if res.State != StateCanceled || p.Calls() != 1 || len(log.recs) != 1 {
		t.Fatalf("state=%s calls=%d records=%d", res.State, p.Calls(), len(log.recs))
	}
}

// cancelingProvider cancels the run while its call is in flight.
type cancelingProvider struct {
	cancel context.CancelFunc
	text   string
}

func (p *cancelingProvider) Name() string { return "canceling" }

func (p *cancelingProvider) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	p.cancel()
	if p.text != "" {
		return llm.Response{Text: p.text}, nil
	}
	return llm.Response{}, &llm.ProviderError{Provider: "canceling", Err: ctx.Err()}
}

// liveContextLog rejects a done context the way database-backed logs do.
type liveContextLog struct {
	recordingLog
}

func (l *liveContextLog) Append(ctx context.Context, rec AttemptRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.recordingLog.Append(ctx, rec)
}

func TestCancellationDuringProviderCallIsRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	log := &liveContextLog{}
	e, err := New(Deps{
		Provider: &cancelingProvider{cancel: cancel},
		Store:    artifacts.NewMemoryStore(),
		Log:      log,
	}, DefaultPolicy())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := e.Run(ctx, classJob())
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("err = %v, want ErrCanceled", err)
	}
	if res.State != StateCanceled || res.Attempts != 1 {
		t.Fatalf("state=%s attempts=%d", res.State, res.Attempts)
	}
	if diff := cmp.Diff([]Outcome{OutcomeProviderError}, log.outcomes()); diff != "" {
		t.Fatalf("outcomes (-want +got):\n%s", diff)
	}
}

func TestCancellationDuringSuccessfulCallStoresArtifact(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := artifacts.NewMemoryStore()
	log := &liveContextLog{}
	e, err := New(Deps{
		Provider: &cancelingProvider{cancel: cancel, text: `{"class_name": "Latin A"}`},
		Store:    store,
		Log:      log,
	}, DefaultPolicy())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := e.Run(ctx, classJob())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateSucceeded || store.Writes() != 1 || len(log.outcomes()) != 1 {
		t.Fatalf("state=%s writes=%d records=%d", res.State, store.Writes(), len(log.outcomes()))
	}
}

// losingLocker hands out a held context the test can end with ErrLockLost.
type losingLocker struct {
	lose context.CancelCauseFunc
}

func (l *losingLocker) Lock(ctx context.Context, key string) (context.Context, func(), error) {
	held, lose := context.WithCancelCause(ctx)
	l.lose = lose
	return held, func() { lose(nil) }, nil
}

type funcProvider func(ctx context.Context, req llm.Request) (llm.Response, error)

func (f funcProvider) Name() string { return "func" }

func (f funcProvider) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	return f(ctx, req)
}

func TestLostLockStopsBeforeWrite(t *testing.T) {
	locker := &losingLocker{}
	store := artifacts.NewMemoryStore()
	log := &liveContextLog{}
	p := funcProvider(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		locker.lose(fmt.Errorf("%w: taken over", keylock.ErrLockLost))
		return llm.Response{Text: `{"class_name": "Latin A"}`}, nil
	})
	e, err := New(Deps{Provider: p, Store: store, Log: log, Locker: locker}, DefaultPolicy())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := e.Run(context.Background(), classJob())
	if !errors.Is(err, keylock.ErrLockLost) || errors.Is(err, ErrCanceled) {
		t.Fatalf("err = %v, want ErrLockLost only", err)
	}
	if store.Writes() != 0 {
		t.Fatalf("artifact written after the lock was lost")
	}
	if res.Attempts != 1 || len(log.outcomes()) != 1 {
		t.Fatalf("attempts=%d records=%d", res.Attempts, len(log.outcomes()))
	}
}

func TestCanceledBeforeFirstAttempt(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := llm.Texts(`{"class_name": "X"}`)
	h := newHarness(t, p, DefaultPolicy())
	_, err := h.engine.Run(ctx, classJob())
	if !errors.Is(err, ErrCanceled) {
		t.Fatalf("err = %v, want ErrCanceled", err)
	}
	if p.Calls() != 0 || len(h.log.recs) != 0 {
		t.Fatalf("calls=%d records=%d", p.Calls(), len(h.log.recs))
	}
}

func TestDeadlineEndsRun(t *testing.T) {
	p := llm.Texts("bad")
	e, err := New(Deps{Provider: p, Store: artifacts.NewMemoryStore()}, Policy{
		MaxAttempts: 10,
		Backoff:     time.Hour,
		Deadline:    20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = e.Run(context.Background(), classJob())
	if !errors.Is(err, ErrCanceled) || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want deadline cancellation", err)
	}
	if p.Calls() != 1 {
		t.Fatalf("calls = %d, want 1", p.Calls())
	}
}

func TestFeedbackViolationsDerivesRequest(t *testing.T) {
	p := llm.Texts(`{"class_name": ""}`, `{"class_name": "Latin A"}`)
	policy := DefaultPolicy()
	policy.FeedbackViolations = true
	h := newHarness(t, p, policy)
	job := classJob()

	if _, err := h.engine.Run(context.Background(), job); err != nil {
		t.Fatalf("Run: %v", err)
	}
	reqs := p.Requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %d", len(reqs))
	}
	if reqs[0].User != job.Request.User {
		t.Fatalf("first request modified: %q", reqs[0].User)
	}
	if !strings.Contains(reqs[1].User, "VALIDATION_ERRORS_TO_FIX:\n- class_name.length") {
		t.Fatalf("second request lacks feedback: %q", reqs[1].User)
	}
	if job.Request.User != "Name the class." {
		t.Fatalf("job request mutated")
	}
}

func TestFeedbackDisabledRepeatsRequest(t *testing.T) {
	p := llm.Texts("bad", `{"class_name": "Latin A"}`)
	h := newHarness(t, p, DefaultPolicy())
	if _, err := h.engine.Run(context.Background(), classJob()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	reqs := p.Requests()
	if diff := cmp.Diff(reqs[0], reqs[1]); diff != "" {
		t.Fatalf("requests differ (-first +second):\n%s", diff)
	}
}

func TestAttemptLogFailureAborts(t *testing.T) {
	p := llm.Texts(`{"class_name": "X"}`)
	h := newHarness(t, p, DefaultPolicy())
	h.log.fail = errors.New("disk full")
	_, err := h.engine.Run(context.Background(), classJob())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("err = %v", err)
	}
	if h.store.Writes() != 0 {
		t.Fatalf("artifact written without an attempt record")
	}
}

func TestTextFormatUsesField(t *testing.T) {
	p := llm.Texts("```json\n{\"greeting_text\": \"  Salve, discipuli!  \"}\n```")
	h := newHarness(t, p, DefaultPolicy())
	job := Job{
		Key:       "week01/day1/07_sparkys_greeting.txt",
		Format:    FormatText,
		TextField: "greeting_text",
		Contract:  contract.New("greeting").Rule("greeting.length", contract.StringLength("", 10, 200)),
	}
	res, err := h.engine.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Artifact.Kind != artifacts.KindText || res.Artifact.Text != "Salve, discipuli!" {
		t.Fatalf("artifact = %+v", res.Artifact)
	}
}

func TestEmptyTextIsParseError(t *testing.T) {
	p := llm.Texts("   ", "Salve!")
	h := newHarness(t, p, DefaultPolicy())
	_, err := h.engine.Run(context.Background(), Job{Key: "k.txt", Format: FormatText})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff([]Outcome{OutcomeParseError, OutcomeSuccess}, h.log.outcomes()); diff != "" {
		t.Fatalf("outcomes (-want +got):\n%s", diff)
	}
}

func TestMixedFormatKeepsProse(t *testing.T) {
	p := llm.Texts("Here is the quiz:\n\nQ1...\n\n{\"answer_key\": [1,2,3]}")
	h := newHarness(t, p, DefaultPolicy())
	job := Job{
		Key:        "week01/assets/quiz.json",
		Format:     FormatMixed,
		ProseKey:   "quiz_markdown",
		AnchorHint: "answer_key",
		Contract:   contract.New("quiz", "quiz_markdown", "answer_key"),
	}
	res, err := h.engine.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := map[string]any{
		"quiz_markdown": "Here is the quiz:\n\nQ1...",
		"answer_key":    []any{float64(1), float64(2), float64(3)},
	}
	if diff := cmp.Diff(want, res.Artifact.Data); diff != "" {
		t.Fatalf("data (-want +got):\n%s", diff)
	}
}

func TestMixedFormatWholeObject(t *testing.T) {
	p := llm.Texts(`{"quiz_markdown": "# Week 1 Quiz\n1. Decline puella.", "answer_key": ["puella, puellae"]}`)
	h := newHarness(t, p, DefaultPolicy())
	job := Job{
		Key:        "week01/assets/quiz.json",
		Format:     FormatMixed,
		ProseKey:   "quiz_markdown",
		AnchorHint: "answer_key",
		Contract: contract.New("quiz", "quiz_markdown", "answer_key").
			Rule("quiz.markdown", contract.StringLength("quiz_markdown", 1, 10000)),
	}
	res, err := h.engine.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := map[string]any{
		"quiz_markdown": "# Week 1 Quiz\n1. Decline puella.",
		"answer_key":    []any{"puella, puellae"},
	}
	if diff := cmp.Diff(want, res.Artifact.Data); diff != "" {
		t.Fatalf("data (-want +got):\n%s", diff)
	}
	if res.Attempts != 1 {
		t.Fatalf("attempts = %d", res.Attempts)
	}
}

func TestMixedFormatUsesStructuredResponse(t *testing.T) {
	structured := map[string]any{"quiz_markdown": "# Quiz", "answer_key": []any{"a"}}
	p := llm.NewScripted(llm.ScriptStep{Structured: structured})
	h := newHarness(t, p, DefaultPolicy())
	job := Job{
		Key:      "week01/assets/quiz.json",
		Format:   FormatMixed,
		ProseKey: "quiz_markdown",
		Contract: contract.New("quiz", "quiz_markdown", "answer_key"),
	}
	res, err := h.engine.Run(context.Background(), job)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if diff := cmp.Diff(structured, res.Artifact.Data); diff != "" {
		t.Fatalf("data (-want +got):\n%s", diff)
	}
}

func TestInvalidKeyRejected(t *testing.T) {
	h := newHarness(t, llm.Texts("{}"), DefaultPolicy())
	_, err := h.engine.Run(context.Background(), Job{Key: "../outside.json"})
	if !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("err = %v", err)
	}
}

type slowProvider struct {
	inside, max int32
}

func (p *slowProvider) Name() string { return "slow" }

func (p *slowProvider) Generate(ctx context.Context, req llm.Request) (llm.Response, error) {
	n := atomic.AddInt32(&p.inside, 1)
	for {
		m := atomic.LoadInt32(&p.max)
		if n <= m || atomic.CompareAndSwapInt32(&p.max, m, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	atomic.AddInt32(&p.inside, -1)
	return llm.Response{Text: `{"class_name": "X"}`}, nil
}

func TestSameKeyRunsAreSerialized(t *testing.T) {
	p := &slowProvider{}
	e, err := New(Deps{Provider: p, Store: artifacts.NewMemoryStore()}, DefaultPolicy())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := e.Run(context.Background(), classJob()); err != nil {
				t.Errorf("Run: %v", err)
			}
		}()
	}
	wg.Wait()
	if p.max != 1 {
		t.Fatalf("max concurrent provider calls for one key = %d", p.max)
	}
}

func TestParsePolicy(t *testing.T) {
	c := ConfirmFunc(func(context.Context, Exhausted) (Decision, error) { return DecisionDegrade, nil })
	cases := map[string]Decision{"abort": DecisionAbort, "": DecisionAbort, "degrade": DecisionDegrade, "Confirm": DecisionDegrade}
	for name, want := range cases {
		h, err := ParsePolicy(name, c)
		if err != nil {
			t.Fatalf("ParsePolicy(%q): %v", name, err)
		}
		got, _ := h(context.Background(), Exhausted{})
		if got != want {
			t.Fatalf("ParsePolicy(%q) decided %s, want %s", name, got, want)
		}
	}
	if _, err := ParsePolicy("confirm", nil); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("confirm without confirmer err = %v", err)
	}
	if _, err := ParsePolicy("retry-forever", c); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("unknown policy err = %v", err)
	}
}
