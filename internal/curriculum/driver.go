package curriculum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/yungbote/curriculumgen/internal/artifacts"
	"github.com/yungbote/curriculumgen/internal/generation/engine"
	"github.com/yungbote/curriculumgen/internal/generation/keylock"
	"github.com/yungbote/curriculumgen/internal/generation/tasks"
	"github.com/yungbote/curriculumgen/internal/pkg/logger"
)

// Runner executes one generation job. *engine.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, job engine.Job) (engine.Result, error)
}

type DriverConfig struct {
	// Workers bounds how many weeks generate at once.
	Workers int
	// InvalidDir is reported back so operators know where rejected responses went.
	InvalidDir string
}

type Driver struct {
	runner     Runner
	store      artifacts.Store
	tasks      *tasks.Registry
	log        *logger.Logger
	workers    int
	invalidDir string
}

func NewDriver(runner Runner, store artifacts.Store, reg *tasks.Registry, log *logger.Logger, cfg DriverConfig) *Driver {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if reg == nil {
		reg = tasks.Default()
	}
	return &Driver{
		runner:     runner,
		store:      store,
		tasks:      reg,
		log:        log.With("service", "CurriculumDriver"),
		workers:    cfg.Workers,
		invalidDir: cfg.InvalidDir,
	}
}

func (d *Driver) Tasks() *tasks.Registry { return d.tasks }

type ItemStatus string

const (
	ItemSucceeded ItemStatus = "succeeded"
	ItemDegraded  ItemStatus = "degraded"
	ItemFailed    ItemStatus = "failed"
	// ItemSkipped marks tasks not run because an earlier task of the same day failed.
	ItemSkipped ItemStatus = "skipped"
)

type Item struct {
	Week     int
	Day      int
	Task     string
	Key      string
	Status   ItemStatus
	Attempts int
	Error    string
}

type BatchReport struct {
	Items      []Item
	Succeeded  int
	Degraded   int
	Failed     int
	Skipped    int
	InvalidDir string
}

func (r *BatchReport) add(it Item) {
	r.Items = append(r.Items, it)
	switch it.Status {
	case ItemSucceeded:
		r.Succeeded++
	case ItemDegraded:
		r.Degraded++
	case ItemFailed:
		r.Failed++
	case ItemSkipped:
		r.Skipped++
	}
}

func (r *BatchReport) merge(o BatchReport) {
	for _, it := range o.Items {
		r.add(it)
	}
}

func (r *BatchReport) sort() {
	sort.SliceStable(r.Items, func(i, j int) bool {
		a, b := r.Items[i], r.Items[j]
		if a.Week != b.Week {
			return a.Week < b.Week
		}
		return a.Day < b.Day
	})
}

// GenerateDay runs every task of week/day in order. Later tasks read the artifacts written
// by earlier ones. After a failed task the rest of the day is skipped.
func (d *Driver) GenerateDay(ctx context.Context, week, day int) (BatchReport, error) {
	rep := BatchReport{InvalidDir: d.invalidDir}
	if err := checkWeek(week); err != nil {
		return rep, err
	}
	if err := checkDay(day); err != nil {
		return rep, err
	}
	spec, found, err := LoadWeekSpec(ctx, d.store, week)
	if err != nil {
		return rep, fmt.Errorf("week %d spec: %w", week, err)
	}
	if !found {
		d.log.Warn("week spec not found, using defaults", "week", week)
	}

	in := baseInput(week, day, spec)
	log := d.log.With("week", week, "day", day)
	failed := false
	for _, t := range d.tasks.ForDay(day) {
		it := Item{Week: week, Day: day, Task: t.Name, Key: t.Key(week, day)}
		if failed {
			it.Status = ItemSkipped
			rep.add(it)
			continue
		}

		job, err := t.Job(in)
		if err != nil {
			return rep, err
		}
		res, err := d.runner.Run(ctx, job)
		it.Attempts = res.Attempts
		switch {
		case err == nil && res.Degraded:
			it.Status = ItemDegraded
		case err == nil:
			it.Status = ItemSucceeded
		default:
			it.Status = ItemFailed
			it.Error = err.Error()
		}
		rep.add(it)

		if err != nil {
			if errors.Is(err, engine.ErrCanceled) || engine.IsAbortBatch(err) {
				return rep, err
			}
			var exhausted *engine.RetriesExhaustedError
			if !errors.As(err, &exhausted) && !errors.Is(err, keylock.ErrLockLost) {
				return rep, err
			}
			log.Warn("task failed, skipping the rest of the day", "task", t.Name, "error", err)
			failed = true
			continue
		}
		absorb(&in, t.Name, res.Artifact)
	}
	log.Info("day generated", "succeeded", rep.Succeeded, "degraded", rep.Degraded, "failed", rep.Failed, "skipped", rep.Skipped)
	return rep, nil
}

// GenerateWeek runs the given days of one week (every day when days is empty).
func (d *Driver) GenerateWeek(ctx context.Context, week int, days ...int) (BatchReport, error) {
	if len(days) == 0 {
		days = allDays()
	}
	rep := BatchReport{InvalidDir: d.invalidDir}
	for _, day := range days {
		dr, err := d.GenerateDay(ctx, week, day)
		rep.merge(dr)
		if err != nil {
			return rep, err
		}
	}
	return rep, nil
}

// GenerateWeeks runs weeks on up to Workers goroutines. A canceled context or an abort-batch
// decision stops the remaining weeks.
func (d *Driver) GenerateWeeks(ctx context.Context, weeks []int, days []int) (BatchReport, error) {
	rep := BatchReport{InvalidDir: d.invalidDir}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for _, week := range weeks {
		week := week
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			wr, err := d.GenerateWeek(gctx, week, days...)
			mu.Lock()
			rep.merge(wr)
			mu.Unlock()
			if err != nil {
				return fmt.Errorf("week %d: %w", week, err)
			}
			return nil
		})
	}
	err := g.Wait()
	rep.sort()
	return rep, err
}

// absorb copies a finished artifact into the input of the tasks that follow it.
func absorb(in *tasks.Input, task string, a artifacts.Artifact) {
	switch task {
	case tasks.ClassName:
		in.ClassName = a.Text
	case tasks.Summary:
		in.Summary = a.Text
	case tasks.GradeLevel:
		in.GradeLevel = a.Text
	case tasks.RoleContext:
		in.RoleContextJSON = prettyJSON(a.Data)
	case tasks.Guidelines:
		in.Guidelines = a.Text
	case tasks.Document:
		in.DocumentJSON = prettyJSON(a.Data)
		in.LessonSteps = lessonSteps(a.Data)
	case tasks.QuizPacket:
		obj, _ := a.Data.(map[string]any)
		in.QuizMarkdown, _ = obj["quiz_markdown"].(string)
		in.AnswerKeyJSON = prettyJSON(obj["answer_key_min"])
	}
}

func prettyJSON(v any) string {
	if v == nil {
		return ""
	}
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(b)
}

// lessonSteps flattens the document's lesson flow into a bullet list.
func lessonSteps(doc any) string {
	obj, _ := doc.(map[string]any)
	flow, ok := obj["lesson_flow"]
	if !ok {
		flow = obj["lesson_steps"]
	}
	switch f := flow.(type) {
	case []any:
		lines := make([]string, 0, len(f))
		for _, step := range f {
			switch s := step.(type) {
			case string:
				lines = append(lines, "- "+s)
			case map[string]any:
				if title, ok := s["title"].(string); ok {
					lines = append(lines, "- "+title)
				} else if phase, ok := s["phase"].(string); ok {
					lines = append(lines, "- "+phase)
				} else {
					lines = append(lines, "- "+prettyJSON(s))
				}
			default:
				lines = append(lines, fmt.Sprintf("- %v", s))
			}
		}
		return strings.Join(lines, "\n")
	case string:
		return f
	case nil:
		return ""
	default:
		return prettyJSON(f)
	}
}
