package curriculum

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/yungbote/curriculumgen/internal/artifacts"
	"github.com/yungbote/curriculumgen/internal/generation/tasks"
	pkgerrors "github.com/yungbote/curriculumgen/internal/pkg/errors"
)

type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
	SeverityInfo    Severity = "info"
)

type Finding struct {
	Severity Severity
	Location string
	Message  string
}

func (f Finding) String() string {
	return fmt.Sprintf("[%s] %s: %s", strings.ToUpper(string(f.Severity)), f.Location, f.Message)
}

type ValidationReport struct {
	Week     int
	Errors   []Finding
	Warnings []Finding
	Info     []Finding
}

func (r *ValidationReport) add(sev Severity, location, msg string) {
	f := Finding{Severity: sev, Location: location, Message: msg}
	switch sev {
	case SeverityError:
		r.Errors = append(r.Errors, f)
	case SeverityWarning:
		r.Warnings = append(r.Warnings, f)
	default:
		r.Info = append(r.Info, f)
	}
}

// Valid reports whether the week has no errors.
func (r ValidationReport) Valid() bool { return len(r.Errors) == 0 }

func (r ValidationReport) Summary() string {
	return fmt.Sprintf("Errors: %d, Warnings: %d, Info: %d", len(r.Errors), len(r.Warnings), len(r.Info))
}

var spiralKeywords = []string{"spiral", "review", "prior", "previous", "25%"}

// ValidateWeek re-checks every stored artifact of week against its task contract.
// Missing or invalid artifacts are errors; placeholders and untagged artifacts are warnings.
func (d *Driver) ValidateWeek(ctx context.Context, week int) (ValidationReport, error) {
	rep := ValidationReport{Week: week}
	if err := checkWeek(week); err != nil {
		return rep, err
	}
	spec, found, err := LoadWeekSpec(ctx, d.store, week)
	if err != nil {
		return rep, err
	}
	if !found {
		rep.add(SeverityInfo, WeekSpecKey(week), "week spec not found; defaults were used")
	}

	for day := 1; day <= Days; day++ {
		in := baseInput(week, day, spec)
		for _, t := range d.tasks.ForDay(day) {
			if t.Scope == tasks.ScopeWeekAssets {
				continue
			}
			if err := d.checkArtifact(ctx, &rep, t, in, SeverityError); err != nil {
				return rep, err
			}
		}
	}

	in := baseInput(week, Days, spec)
	for _, t := range d.tasks.ForDay(Days) {
		if t.Scope != tasks.ScopeWeekAssets {
			continue
		}
		if err := d.checkArtifact(ctx, &rep, t, in, SeverityWarning); err != nil {
			return rep, err
		}
	}

	d.checkSpiral(ctx, &rep, week)
	return rep, nil
}

func (d *Driver) checkArtifact(ctx context.Context, rep *ValidationReport, t tasks.Task, in tasks.Input, missing Severity) error {
	key := t.Key(in.Week, in.Day)
	a, err := d.store.Read(ctx, key)
	if errors.Is(err, pkgerrors.ErrNotFound) {
		rep.add(missing, key, "artifact missing")
		return nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rep.add(SeverityError, key, "unreadable: "+err.Error())
		return nil
	}

	switch a.Status {
	case artifacts.StatusPlaceholder:
		rep.add(SeverityWarning, key, fmt.Sprintf("placeholder after %d attempts", a.Attempts))
		return nil
	case "":
		rep.add(SeverityWarning, key, "no status tag")
	}
	if out := t.Contract(in).Validate(a.Value()); !out.Valid {
		rep.add(SeverityError, key, out.Error())
	}
	return nil
}

// checkSpiral warns when Day 4 guidelines never mention reviewing prior content.
func (d *Driver) checkSpiral(ctx context.Context, rep *ValidationReport, week int) {
	loc := fmt.Sprintf("week%02d/day4", week)
	if week < 2 {
		rep.add(SeverityInfo, loc, "week 1 does not require spiral content")
		return
	}
	t, err := d.tasks.Get(tasks.Guidelines)
	if err != nil {
		return
	}
	a, err := d.store.Read(ctx, t.Key(week, 4))
	if err != nil || a.IsPlaceholder() {
		return
	}
	text := strings.ToLower(a.Text)
	for _, kw := range spiralKeywords {
		if strings.Contains(text, kw) {
			return
		}
	}
	rep.add(SeverityWarning, loc, "day 4 guidelines should mention spiral review (25% prior content)")
}
