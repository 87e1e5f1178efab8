package curriculum

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/yungbote/curriculumgen/internal/artifacts"
	"github.com/yungbote/curriculumgen/internal/clients/llm"
	"github.com/yungbote/curriculumgen/internal/generation/engine"
	"github.com/yungbote/curriculumgen/internal/generation/keylock"
	"github.com/yungbote/curriculumgen/internal/generation/tasks"
	pkgerrors "github.com/yungbote/curriculumgen/internal/pkg/errors"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

// validValues satisfy every default task contract for any day.
var validValues = map[string]any{
	tasks.ClassName:  "Week 2 Day 1: First Declension Nouns",
	tasks.Summary:    "Today we learn first declension Latin nouns, chant the endings, and practice vocabulary with care.",
	tasks.GradeLevel: "3-5",
	tasks.RoleContext: map[string]any{
		"sparky_role":            "encouraging Latin guide",
		"focus_mode":             "new_content",
		"hints_enabled":          true,
		"spiral_emphasis":        []any{"sum, esse", "week 1 vocabulary"},
		"encouragement_triggers": []any{"first_attempt"},
	},
	tasks.Guidelines: "## Objectives\nStudents chant the first declension endings.\n\n## Flow\n1. Spiral review of prior vocabulary (25% of the lesson).\n2. Chant.\n3. Guided practice.",
	tasks.Document: map[string]any{
		"metadata":               map[string]any{"week": 2},
		"prior_knowledge_digest": "Week 1 vocabulary",
		"objectives":             []any{"Chant first declension endings"},
		"lesson_flow":            []any{map[string]any{"title": "Greeting"}, "Chant"},
	},
	tasks.Greeting: "Salve! Today we chant our first declension endings together.",
	tasks.QuizPacket: map[string]any{
		"quiz_markdown":  "# Week 2 Quiz\n1. Decline puella.",
		"answer_key_min": []any{map[string]any{"q": 1, "answer": "puella, puellae"}},
	},
	tasks.TeacherKey: strings.Repeat("Question 1: puella, puellae. The genitive singular ending -ae marks the first declension. ", 2),
}

type fakeRunner struct {
	store artifacts.Store

	mu      sync.Mutex
	jobs    []engine.Job
	fail    map[string]error
	degrade map[string]bool
}

func newFakeRunner(store artifacts.Store) *fakeRunner {
	return &fakeRunner{store: store, fail: map[string]error{}, degrade: map[string]bool{}}
}

func (r *fakeRunner) Run(ctx context.Context, job engine.Job) (engine.Result, error) {
	r.mu.Lock()
	r.jobs = append(r.jobs, job)
	fail := r.fail[job.Task]
	degrade := r.degrade[job.Task]
	r.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return engine.Result{Key: job.Key, State: engine.StateCanceled}, engine.ErrCanceled
	}
	if fail != nil {
		return engine.Result{Key: job.Key, State: engine.StateFailedExhausted, Attempts: 10}, fail
	}
	a := artifacts.Artifact{Key: job.Key, Status: artifacts.StatusValidated, Attempts: 1}
	value := validValues[job.Task]
	if degrade {
		a.Status = artifacts.StatusPlaceholder
		a.Attempts = 10
		value = job.Placeholder()
	}
	if s, ok := value.(string); ok {
		a.Kind, a.Text = artifacts.KindText, s
	} else {
		a.Kind, a.Data = artifacts.KindStructured, value
	}
	if err := r.store.Write(ctx, a); err != nil {
		return engine.Result{}, err
	}
	return engine.Result{Key: job.Key, State: engine.StateSucceeded, Attempts: a.Attempts, Degraded: degrade, Artifact: a}, nil
}

func (r *fakeRunner) keys() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.jobs))
	for _, j := range r.jobs {
		out = append(out, j.Key)
	}
	return out
}

func (r *fakeRunner) job(task string) (engine.Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, j := range r.jobs {
		if j.Task == task {
			return j, true
		}
	}
	return engine.Job{}, false
}

func newDriver(t *testing.T, workers int) (*Driver, *fakeRunner, *artifacts.MemoryStore) {
	t.Helper()
	store := artifacts.NewMemoryStore()
	runner := newFakeRunner(store)
	return NewDriver(runner, store, tasks.Default(), logger.Nop(), DriverConfig{Workers: workers, InvalidDir: "invalid"}), runner, store
}

func TestParseWeekRange(t *testing.T) {
	cases := []struct {
		in      string
		want    []int
		wantErr bool
	}{
		{in: "1", want: []int{1}},
		{in: "1-3", want: []int{1, 2, 3}},
		{in: "5, 1-2,2", want: []int{1, 2, 5}},
		{in: "34-35", want: []int{34, 35}},
		{in: "3-1", wantErr: true},
		{in: "0", wantErr: true},
		{in: "36", wantErr: true},
		{in: "", wantErr: true},
		{in: "a-b", wantErr: true},
	}
	for _, tc := range cases {
		got, err := ParseWeekRange(tc.in)
		if tc.wantErr {
			if !errors.Is(err, pkgerrors.ErrInvalidArgument) {
				t.Errorf("ParseWeekRange(%q) err = %v, want invalid argument", tc.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseWeekRange(%q): %v", tc.in, err)
			continue
		}
		if diff := cmp.Diff(tc.want, got); diff != "" {
			t.Errorf("ParseWeekRange(%q) (-want +got):\n%s", tc.in, diff)
		}
	}
}

func TestParseDays(t *testing.T) {
	got, err := ParseDays("")
	if err != nil || !cmp.Equal(got, []int{1, 2, 3, 4}) {
		t.Fatalf("ParseDays(\"\") = %v, %v", got, err)
	}
	got, err = ParseDays("4,1-2")
	if err != nil || !cmp.Equal(got, []int{1, 2, 4}) {
		t.Fatalf("ParseDays = %v, %v", got, err)
	}
	for _, bad := range []string{"0", "5", "2-1", "x"} {
		if _, err := ParseDays(bad); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
			t.Errorf("ParseDays(%q) err = %v", bad, err)
		}
	}
}

func TestBaseInputReadsWeekSpec(t *testing.T) {
	spec := map[string]any{
		"metadata":      map[string]any{"title": "First Declension", "virtue": "Patience"},
		"grammar_focus": "1st declension",
		"vocabulary":    []any{map[string]any{"latin": " Puella "}, map[string]any{"english": "no headword"}},
	}
	in := baseInput(3, 2, spec)
	if in.WeekTitle != "First Declension" || in.GrammarFocus != "1st declension" || in.VirtueFocus != "Patience" {
		t.Fatalf("input = %+v", in)
	}
	if diff := cmp.Diff([]string{"puella"}, in.LatinWords); diff != "" {
		t.Fatalf("latin words (-want +got):\n%s", diff)
	}
	if in.DayFocus != tasks.DayFocus(2) {
		t.Fatalf("day focus = %q", in.DayFocus)
	}
}

func TestLoadWeekSpecDefault(t *testing.T) {
	spec, found, err := LoadWeekSpec(context.Background(), artifacts.NewMemoryStore(), 7)
	if err != nil || found {
		t.Fatalf("found=%v err=%v", found, err)
	}
	meta := spec["metadata"].(map[string]any)
	if meta["week"] != 7 || meta["title"] != "Week 7" {
		t.Fatalf("default spec = %v", spec)
	}
}

func TestGenerateDayRunsTasksInOrder(t *testing.T) {
	d, runner, _ := newDriver(t, 1)
	rep, err := d.GenerateDay(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("GenerateDay: %v", err)
	}
	want := make([]string, 0, len(tasks.DayFields))
	for _, f := range tasks.DayFields {
		want = append(want, "week02/day1/"+f)
	}
	if diff := cmp.Diff(want, runner.keys()); diff != "" {
		t.Fatalf("job keys (-want +got):\n%s", diff)
	}
	if rep.Succeeded != 7 || rep.Failed != 0 || rep.Skipped != 0 || rep.InvalidDir != "invalid" {
		t.Fatalf("report = %+v", rep)
	}

	// later prompts see earlier artifacts
	greeting, _ := runner.job(tasks.Greeting)
	if !strings.Contains(greeting.Request.User, "First Declension Nouns") || !strings.Contains(greeting.Request.User, "- Greeting") {
		t.Fatalf("greeting prompt missing prior outputs:\n%s", greeting.Request.User)
	}
}

func TestGenerateDayFourIncludesAssets(t *testing.T) {
	d, runner, store := newDriver(t, 1)
	if _, err := d.GenerateDay(context.Background(), 2, 4); err != nil {
		t.Fatal(err)
	}
	keys := runner.keys()
	if got := keys[len(keys)-2:]; !cmp.Equal(got, []string{"week02/assets/quiz_packet.json", "week02/assets/teacher_key.md"}) {
		t.Fatalf("asset keys = %v", got)
	}
	tk, _ := runner.job(tasks.TeacherKey)
	if !strings.Contains(tk.Request.User, "Decline puella") || !strings.Contains(tk.Request.User, "puella, puellae") {
		t.Fatalf("teacher key prompt missing quiz:\n%s", tk.Request.User)
	}
	if _, err := store.Read(context.Background(), "week02/assets/teacher_key.md"); err != nil {
		t.Fatal(err)
	}
}

func TestGenerateDaySkipsAfterExhaustedTask(t *testing.T) {
	d, runner, _ := newDriver(t, 1)
	runner.fail[tasks.RoleContext] = &engine.RetriesExhaustedError{Key: "week02/day1/04_role_context.json", Attempts: 10}

	rep, err := d.GenerateDay(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("GenerateDay: %v", err)
	}
	if rep.Succeeded != 3 || rep.Failed != 1 || rep.Skipped != 3 {
		t.Fatalf("report = %+v", rep)
	}
	if len(runner.keys()) != 4 {
		t.Fatalf("runner saw %d jobs, want 4", len(runner.keys()))
	}
	var statuses []ItemStatus
	for _, it := range rep.Items {
		statuses = append(statuses, it.Status)
	}
	want := []ItemStatus{ItemSucceeded, ItemSucceeded, ItemSucceeded, ItemFailed, ItemSkipped, ItemSkipped, ItemSkipped}
	if diff := cmp.Diff(want, statuses); diff != "" {
		t.Fatalf("statuses (-want +got):\n%s", diff)
	}
	if rep.Items[3].Attempts != 10 || rep.Items[3].Error == "" {
		t.Fatalf("failed item = %+v", rep.Items[3])
	}
}

func TestGenerateDayLostLockSkipsRestOfDay(t *testing.T) {
	d, runner, _ := newDriver(t, 1)
	runner.fail[tasks.Guidelines] = fmt.Errorf("week02/day1/05_guidelines_for_sparky.md: %w", keylock.ErrLockLost)

	rep, err := d.GenerateDay(context.Background(), 2, 1)
	if err != nil {
		t.Fatalf("GenerateDay: %v", err)
	}
	if rep.Succeeded != 4 || rep.Failed != 1 || rep.Skipped != 2 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestGenerateDayDegradedCountsSeparately(t *testing.T) {
	d, runner, store := newDriver(t, 1)
	runner.degrade[tasks.Guidelines] = true
	rep, err := d.GenerateDay(context.Background(), 2, 1)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Degraded != 1 || rep.Succeeded != 6 {
		t.Fatalf("report = %+v", rep)
	}
	a, err := store.Read(context.Background(), "week02/day1/05_guidelines_for_sparky.md")
	if err != nil || !a.IsPlaceholder() || !strings.HasPrefix(a.Text, "[PLACEHOLDER]") {
		t.Fatalf("guidelines = %+v, %v", a, err)
	}
}

func TestGenerateWeeksStopsOnAbortBatch(t *testing.T) {
	d, runner, _ := newDriver(t, 1)
	runner.fail[tasks.Summary] = &engine.RetriesExhaustedError{Key: "k", Attempts: 10, AbortBatch: true}

	rep, err := d.GenerateWeeks(context.Background(), []int{1, 2, 3}, nil)
	if !engine.IsAbortBatch(err) {
		t.Fatalf("err = %v, want abort batch", err)
	}
	for _, k := range runner.keys() {
		if !strings.HasPrefix(k, "week01/day1/") {
			t.Fatalf("job %s ran after the batch was aborted", k)
		}
	}
	if rep.Failed != 1 {
		t.Fatalf("report = %+v", rep)
	}
}

func TestGenerateWeeksParallel(t *testing.T) {
	d, runner, _ := newDriver(t, 3)
	rep, err := d.GenerateWeeks(context.Background(), []int{1, 2, 3}, []int{1, 4})
	if err != nil {
		t.Fatal(err)
	}
	// each week: 7 tasks on day 1, 9 on day 4
	if got := len(runner.keys()); got != 3*16 {
		t.Fatalf("jobs = %d", got)
	}
	if rep.Succeeded != 48 {
		t.Fatalf("report = %+v", rep)
	}
	if !sort.SliceIsSorted(rep.Items, func(i, j int) bool {
		a, b := rep.Items[i], rep.Items[j]
		return a.Week < b.Week || (a.Week == b.Week && a.Day < b.Day)
	}) {
		t.Fatal("report items not sorted by week and day")
	}
}

func TestGenerateWeeksCanceled(t *testing.T) {
	d, runner, _ := newDriver(t, 2)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.GenerateWeeks(ctx, []int{1, 2}, nil)
	if err == nil {
		t.Fatal("expected an error for a canceled batch")
	}
	if n := len(runner.keys()); n > 2 {
		t.Fatalf("%d jobs ran after cancel", n)
	}
}

func TestGenerateDayRejectsBadInput(t *testing.T) {
	d, _, _ := newDriver(t, 1)
	if _, err := d.GenerateDay(context.Background(), 0, 1); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("week 0 err = %v", err)
	}
	if _, err := d.GenerateDay(context.Background(), 1, 5); !errors.Is(err, pkgerrors.ErrInvalidArgument) {
		t.Fatalf("day 5 err = %v", err)
	}
}

func TestGenerateDayWithEngine(t *testing.T) {
	store := artifacts.NewMemoryStore()
	provider := llm.Texts(
		`{"class_name": "Week 1 Day 1: The Latin Alphabet"}`,
		"```json\n{\"day_summary\": \"Today we meet the Latin alphabet, practice pronunciation, and chant our first vocabulary words.\"}\n```",
		`{"grade_level": "3-5"}`,
		`{"sparky_role": "guide", "focus_mode": "new_content", "hints_enabled": true, "spiral_emphasis": [], "encouragement_triggers": ["first_attempt"]}`,
		"## Objectives\nStudents say every letter of the Latin alphabet.\n\n## Flow\nGreeting, chant, guided practice, and a closing tie to the virtue of the week.",
		`{"metadata": {"week": 1}, "prior_knowledge_digest": "", "objectives": ["Say the alphabet"], "lesson_flow": [{"title": "Chant"}]}`,
		`{"greeting_text": "Salve! Today we sing the Latin alphabet together."}`,
	)
	eng, err := engine.New(engine.Deps{
		Provider: provider,
		Store:    store,
		Logger:   logger.Nop(),
		Sleep:    func(context.Context, time.Duration) error { return nil },
	}, engine.DefaultPolicy())
	if err != nil {
		t.Fatal(err)
	}
	d := NewDriver(eng, store, nil, logger.Nop(), DriverConfig{})

	rep, err := d.GenerateDay(context.Background(), 1, 1)
	if err != nil {
		t.Fatalf("GenerateDay: %v", err)
	}
	if rep.Succeeded != 7 || provider.Calls() != 7 {
		t.Fatalf("report = %+v, calls = %d", rep, provider.Calls())
	}
	a, err := store.Read(context.Background(), "week01/day1/02_summary.md")
	if err != nil {
		t.Fatal(err)
	}
	if a.Status != artifacts.StatusValidated || !strings.HasPrefix(a.Text, "Today we meet") {
		t.Fatalf("summary = %+v", a)
	}
}

func writeWeek(t *testing.T, d *Driver, week int) {
	t.Helper()
	for day := 1; day <= Days; day++ {
		if _, err := d.GenerateDay(context.Background(), week, day); err != nil {
			t.Fatal(err)
		}
	}
}

func TestValidateWeekClean(t *testing.T) {
	d, _, _ := newDriver(t, 1)
	writeWeek(t, d, 2)
	rep, err := d.ValidateWeek(context.Background(), 2)
	if err != nil {
		t.Fatal(err)
	}
	if !rep.Valid() || len(rep.Warnings) != 0 {
		t.Fatalf("report = %+v", rep)
	}
	// only the missing week spec is reported
	if len(rep.Info) != 1 || rep.Info[0].Location != WeekSpecKey(2) {
		t.Fatalf("info = %+v", rep.Info)
	}
}

func TestValidateWeekFindings(t *testing.T) {
	d, runner, store := newDriver(t, 1)
	runner.degrade[tasks.Greeting] = true
	writeWeek(t, d, 3)
	ctx := context.Background()

	// corrupt one artifact and drop the spiral from day 4
	if err := store.Write(ctx, artifacts.Artifact{Key: "week03/day2/03_grade_level.txt", Status: artifacts.StatusValidated, Kind: artifacts.KindText, Text: "third grade"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Write(ctx, artifacts.Artifact{Key: "week03/day4/05_guidelines_for_sparky.md", Status: artifacts.StatusValidated, Kind: artifacts.KindText, Text: strings.Repeat("Chant the endings and practice new words. ", 4)}); err != nil {
		t.Fatal(err)
	}

	rep, err := d.ValidateWeek(ctx, 3)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Valid() || len(rep.Errors) != 1 || rep.Errors[0].Location != "week03/day2/03_grade_level.txt" {
		t.Fatalf("errors = %+v", rep.Errors)
	}
	// four placeholder greetings and the missing spiral
	if len(rep.Warnings) != 5 {
		t.Fatalf("warnings = %+v", rep.Warnings)
	}
	if last := rep.Warnings[len(rep.Warnings)-1]; last.Location != "week03/day4" {
		t.Fatalf("last warning = %+v", last)
	}
	if !strings.Contains(rep.Summary(), "Errors: 1, Warnings: 5") {
		t.Fatalf("summary = %q", rep.Summary())
	}
}

func TestValidateWeekMissingArtifacts(t *testing.T) {
	d, _, _ := newDriver(t, 1)
	rep, err := d.ValidateWeek(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(rep.Errors) != 7*Days {
		t.Fatalf("errors = %d", len(rep.Errors))
	}
	// missing assets are warnings
	if len(rep.Warnings) != 2 {
		t.Fatalf("warnings = %+v", rep.Warnings)
	}
	// default spec plus the week 1 spiral note
	if len(rep.Info) != 2 {
		t.Fatalf("info = %+v", rep.Info)
	}
}

func TestExportWeek(t *testing.T) {
	d, runner, _ := newDriver(t, 1)
	runner.degrade[tasks.TeacherKey] = true
	writeWeek(t, d, 4)

	dir := t.TempDir()
	path, err := d.ExportWeek(context.Background(), 4, dir)
	if err != nil {
		t.Fatalf("ExportWeek: %v", err)
	}
	if path != filepath.Join(dir, "LatinA_Week04.zip") {
		t.Fatalf("path = %s", path)
	}

	zr, err := zip.OpenReader(path)
	if err != nil {
		t.Fatal(err)
	}
	defer zr.Close()
	files := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		if err != nil {
			t.Fatal(err)
		}
		b, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			t.Fatal(err)
		}
		files[f.Name] = string(b)
	}
	// 28 day artifacts, 2 assets and the manifest
	if len(files) != 31 {
		t.Fatalf("zip has %d entries", len(files))
	}
	if got := files["week04/day1/01_class_name.txt"]; got != validValues[tasks.ClassName] {
		t.Fatalf("class name entry = %q", got)
	}
	if !strings.Contains(files["week04/day3/06_document_for_sparky.json"], "\n  \"lesson_flow\"") {
		t.Fatalf("document entry not pretty printed:\n%s", files["week04/day3/06_document_for_sparky.json"])
	}

	var m Manifest
	if err := json.Unmarshal([]byte(files["week04/manifest.json"]), &m); err != nil {
		t.Fatal(err)
	}
	if m.Week != 4 || len(m.Artifacts) != 30 || m.Placeholders != 1 {
		t.Fatalf("manifest = %+v", m)
	}
	for _, e := range m.Artifacts {
		want := artifacts.StatusValidated
		if e.Key == "week04/assets/teacher_key.md" {
			want = artifacts.StatusPlaceholder
		}
		if e.Status != want {
			t.Errorf("%s status = %s, want %s", e.Key, e.Status, want)
		}
	}
}

func TestExportWeekEmpty(t *testing.T) {
	d, _, _ := newDriver(t, 1)
	if _, err := d.ExportWeek(context.Background(), 5, t.TempDir()); !errors.Is(err, pkgerrors.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
