// Package tasks declares the curriculum generation tasks: their prompts, output contracts,
// artifact keys and placeholders.
package tasks

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"github.com/yungbote/curriculumgen/internal/clients/llm"
	"github.com/yungbote/curriculumgen/internal/generation/contract"
	"github.com/yungbote/curriculumgen/internal/generation/engine"
)

type Scope string

const (
	// ScopeDay tasks write weekNN/dayD/<field>.
	ScopeDay Scope = "day"
	// ScopeWeekAssets tasks write weekNN/assets/<field>.
	ScopeWeekAssets Scope = "assets"
)

// Spec is the declaration format; MakeTask compiles it.
type Spec struct {
	Name    string
	Version string
	Field   string
	Scope   Scope
	Format  engine.Format
	// TextField, ProseKey and AnchorHint are passed through to the engine job.
	TextField  string
	ProseKey   string
	AnchorHint string
	// Days limits the task to the listed days; empty means every day.
	Days       []int
	SchemaName string
	Schema     func() map[string]any
	// System and User are text/template sources over Input.
	System      string
	User        string
	Contract    func(in Input) *contract.Contract
	Placeholder func(in Input) any
}

type Task struct {
	Spec
	system *template.Template
	user   *template.Template
}

func MakeTask(s Spec) (Task, error) {
	if strings.TrimSpace(s.Name) == "" {
		return Task{}, fmt.Errorf("missing task name")
	}
	if strings.TrimSpace(s.Field) == "" {
		return Task{}, fmt.Errorf("missing field for %s", s.Name)
	}
	if s.Version == "" {
		s.Version = "v1"
	}
	if s.Scope == "" {
		s.Scope = ScopeDay
	}
	if s.Format == "" {
		s.Format = engine.FormatJSON
	}
	if s.Contract == nil {
		return Task{}, fmt.Errorf("missing contract for %s", s.Name)
	}
	if s.Schema != nil {
		if problems := contract.LintSchema(s.SchemaName, s.Schema()); len(problems) > 0 {
			return Task{}, fmt.Errorf("%s schema: %s", s.Name, strings.Join(problems, "; "))
		}
	}
	sysT, err := template.New("system").Option("missingkey=zero").Parse(s.System)
	if err != nil {
		return Task{}, fmt.Errorf("%s system template parse: %w", s.Name, err)
	}
	userT, err := template.New("user").Option("missingkey=zero").Parse(s.User)
	if err != nil {
		return Task{}, fmt.Errorf("%s user template parse: %w", s.Name, err)
	}
	return Task{Spec: s, system: sysT, user: userT}, nil
}

// RunsOn reports whether the task applies to day.
func (t Task) RunsOn(day int) bool {
	if len(t.Days) == 0 {
		return true
	}
	for _, d := range t.Days {
		if d == day {
			return true
		}
	}
	return false
}

// Key is the artifact key the task writes for week/day.
func (t Task) Key(week, day int) string {
	if t.Scope == ScopeWeekAssets {
		return fmt.Sprintf("week%02d/assets/%s", week, t.Field)
	}
	return fmt.Sprintf("week%02d/day%d/%s", week, day, t.Field)
}

// Build renders the request for in.
func (t Task) Build(in Input) (llm.Request, error) {
	sys, err := render(t.system, in)
	if err != nil {
		return llm.Request{}, fmt.Errorf("%s system: %w", t.Name, err)
	}
	usr, err := render(t.user, in)
	if err != nil {
		return llm.Request{}, fmt.Errorf("%s user: %w", t.Name, err)
	}
	req := llm.Request{System: sys, User: usr}
	if t.Schema != nil {
		req.Schema = &llm.OutputSchema{Name: t.SchemaName, Schema: t.Schema()}
	}
	return req, nil
}

// Job assembles the engine job for week/day.
func (t Task) Job(in Input) (engine.Job, error) {
	req, err := t.Build(in)
	if err != nil {
		return engine.Job{}, err
	}
	job := engine.Job{
		Key:        t.Key(in.Week, in.Day),
		Task:       t.Name,
		Version:    t.Version,
		Request:    req,
		Contract:   t.Contract(in),
		Format:     t.Format,
		TextField:  t.TextField,
		ProseKey:   t.ProseKey,
		AnchorHint: t.AnchorHint,
	}
	if t.Placeholder != nil {
		job.Placeholder = func() any { return t.Placeholder(in) }
	}
	return job, nil
}

func render(t *template.Template, in Input) (string, error) {
	var b bytes.Buffer
	if err := t.Execute(&b, in); err != nil {
		return "", err
	}
	return strings.TrimSpace(b.String()), nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
