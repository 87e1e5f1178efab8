// Package curriculum drives generation over weeks and days and checks and packages the
// stored result.
package curriculum

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/yungbote/curriculumgen/internal/artifacts"
	"github.com/yungbote/curriculumgen/internal/generation/tasks"
	pkgerrors "github.com/yungbote/curriculumgen/internal/pkg/errors"
)

const (
	MinWeek = 1
	MaxWeek = 35
	Days    = 4
)

// WeekSpecKey is where a week's compiled spec is stored.
func WeekSpecKey(week int) string {
	return fmt.Sprintf("week%02d/spec/99_compiled_week_spec.json", week)
}

// ParseWeekRange accepts "1-3,5,7-9" and returns the sorted, deduplicated weeks.
func ParseWeekRange(s string) ([]int, error) {
	seen := map[int]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		lo, hi := part, part
		if i := strings.Index(part, "-"); i >= 0 {
			lo, hi = strings.TrimSpace(part[:i]), strings.TrimSpace(part[i+1:])
		}
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, fmt.Errorf("%w: week range %q: %v", pkgerrors.ErrInvalidArgument, part, err)
		}
		b, err := strconv.Atoi(hi)
		if err != nil {
			return nil, fmt.Errorf("%w: week range %q: %v", pkgerrors.ErrInvalidArgument, part, err)
		}
		if a > b {
			return nil, fmt.Errorf("%w: week range %q is reversed", pkgerrors.ErrInvalidArgument, part)
		}
		if a < MinWeek || b > MaxWeek {
			return nil, fmt.Errorf("%w: week range %q outside %d-%d", pkgerrors.ErrInvalidArgument, part, MinWeek, MaxWeek)
		}
		for w := a; w <= b; w++ {
			seen[w] = true
		}
	}
	if len(seen) == 0 {
		return nil, fmt.Errorf("%w: empty week range", pkgerrors.ErrInvalidArgument)
	}
	out := make([]int, 0, len(seen))
	for w := range seen {
		out = append(out, w)
	}
	sort.Ints(out)
	return out, nil
}

// ParseDays accepts "1,2,4" or "1-4". Empty means every day.
func ParseDays(s string) ([]int, error) {
	if strings.TrimSpace(s) == "" {
		return allDays(), nil
	}
	var out []int
	seen := map[int]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi := part, part
		if i := strings.Index(part, "-"); i >= 0 {
			lo, hi = part[:i], part[i+1:]
		}
		a, errA := strconv.Atoi(strings.TrimSpace(lo))
		b, errB := strconv.Atoi(strings.TrimSpace(hi))
		if errA != nil || errB != nil || a < 1 || b > Days || a > b {
			return nil, fmt.Errorf("%w: day %q must be within 1-%d", pkgerrors.ErrInvalidArgument, part, Days)
		}
		for d := a; d <= b; d++ {
			if !seen[d] {
				seen[d] = true
				out = append(out, d)
			}
		}
	}
	sort.Ints(out)
	return out, nil
}

func allDays() []int {
	out := make([]int, 0, Days)
	for d := 1; d <= Days; d++ {
		out = append(out, d)
	}
	return out
}

func checkWeek(week int) error {
	if week < MinWeek || week > MaxWeek {
		return fmt.Errorf("%w: week %d outside %d-%d", pkgerrors.ErrInvalidArgument, week, MinWeek, MaxWeek)
	}
	return nil
}

func checkDay(day int) error {
	if day < 1 || day > Days {
		return fmt.Errorf("%w: day %d outside 1-%d", pkgerrors.ErrInvalidArgument, day, Days)
	}
	return nil
}

// LoadWeekSpec reads the week's compiled spec. A missing spec yields the minimal default.
func LoadWeekSpec(ctx context.Context, store artifacts.Store, week int) (map[string]any, bool, error) {
	a, err := store.Read(ctx, WeekSpecKey(week))
	if errors.Is(err, pkgerrors.ErrNotFound) {
		return map[string]any{
			"metadata": map[string]any{"week": week, "title": fmt.Sprintf("Week %d", week)},
		}, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	spec, ok := a.Data.(map[string]any)
	if !ok {
		return nil, false, fmt.Errorf("week %d spec is not an object", week)
	}
	return spec, true, nil
}

// baseInput seeds the prompt input of week/day from its spec.
func baseInput(week, day int, spec map[string]any) tasks.Input {
	meta, _ := spec["metadata"].(map[string]any)
	pick := func(keys ...string) string {
		for _, k := range keys {
			if s, ok := spec[k].(string); ok && s != "" {
				return s
			}
			if s, ok := meta[k].(string); ok && s != "" {
				return s
			}
		}
		return ""
	}
	specJSON, _ := json.MarshalIndent(spec, "", "  ")

	in := tasks.Input{
		Week:         week,
		Day:          day,
		DayFocus:     tasks.DayFocus(day),
		DayIntent:    tasks.DayIntent(day),
		WeekTitle:    pick("title"),
		GrammarFocus: pick("grammar_focus"),
		Chant:        pick("chant"),
		VirtueFocus:  pick("virtue_focus", "virtue"),
		FaithPhrase:  pick("faith_phrase"),
		WeekSpecJSON: string(specJSON),
		LatinWords:   latinWords(spec),
	}
	if in.WeekTitle == "" {
		in.WeekTitle = fmt.Sprintf("Week %d", week)
	}
	return in
}

// latinWords collects the "latin" headword of each vocabulary entry.
func latinWords(spec map[string]any) []string {
	var out []string
	for _, key := range []string{"vocabulary", "03_vocabulary.json"} {
		list, _ := spec[key].([]any)
		for _, item := range list {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			if w, ok := entry["latin"].(string); ok && strings.TrimSpace(w) != "" {
				out = append(out, strings.ToLower(strings.TrimSpace(w)))
			}
		}
	}
	return out
}
