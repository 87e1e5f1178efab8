package contract

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Lookup resolves a dotted path inside a decoded value. An empty path is the value itself.
func Lookup(value any, path string) (any, bool) {
	if path == "" {
		return value, true
	}
	cur := value
	for _, part := range strings.Split(path, ".") {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func fieldLabel(field string) string {
	if field == "" {
		return "value"
	}
	return field
}

func stringAt(value any, field string) (string, error) {
	v, ok := Lookup(value, field)
	if !ok {
		return "", fmt.Errorf("%s is missing", fieldLabel(field))
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string, got %s", fieldLabel(field), typeName(v))
	}
	return s, nil
}

// StringLength bounds the rune length of a trimmed string. max <= 0 means unbounded.
func StringLength(field string, min, max int) Check {
	return func(value any) error {
		s, err := stringAt(value, field)
		if err != nil {
			return err
		}
		n := utf8.RuneCountInString(strings.TrimSpace(s))
		if n < min {
			return fmt.Errorf("%s has %d characters, need at least %d", fieldLabel(field), n, min)
		}
		if max > 0 && n > max {
			return fmt.Errorf("%s has %d characters, allowed at most %d", fieldLabel(field), n, max)
		}
		return nil
	}
}

func NonEmpty(field string) Check {
	return func(value any) error {
		v, ok := Lookup(value, field)
		if !ok {
			return fmt.Errorf("%s is missing", fieldLabel(field))
		}
		switch t := v.(type) {
		case string:
			if strings.TrimSpace(t) == "" {
				return fmt.Errorf("%s is empty", fieldLabel(field))
			}
		case []any:
			if len(t) == 0 {
				return fmt.Errorf("%s is empty", fieldLabel(field))
			}
		case map[string]any:
			if len(t) == 0 {
				return fmt.Errorf("%s is empty", fieldLabel(field))
			}
		case nil:
			return fmt.Errorf("%s is null", fieldLabel(field))
		}
		return nil
	}
}

func MatchesPattern(field string, re *regexp.Regexp) Check {
	return func(value any) error {
		s, err := stringAt(value, field)
		if err != nil {
			return err
		}
		if !re.MatchString(strings.TrimSpace(s)) {
			return fmt.Errorf("%s %q does not match %s", fieldLabel(field), s, re.String())
		}
		return nil
	}
}

func MinItems(field string, n int) Check {
	return func(value any) error {
		v, ok := Lookup(value, field)
		if !ok {
			return fmt.Errorf("%s is missing", fieldLabel(field))
		}
		arr, ok := v.([]any)
		if !ok {
			return fmt.Errorf("%s must be an array, got %s", fieldLabel(field), typeName(v))
		}
		if len(arr) < n {
			return fmt.Errorf("%s has %d entries, need at least %d", fieldLabel(field), len(arr), n)
		}
		return nil
	}
}

// ForbidKeywords fails when the text contains any of words (case-insensitive substring).
func ForbidKeywords(field string, words []string) Check {
	return func(value any) error {
		s, err := stringAt(value, field)
		if err != nil {
			return err
		}
		lower := strings.ToLower(s)
		var hits []string
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" && strings.Contains(lower, w) {
				hits = append(hits, w)
			}
		}
		if len(hits) > 0 {
			return fmt.Errorf("%s contains disallowed keywords %v", fieldLabel(field), hits)
		}
		return nil
	}
}

// RequireAnyKeyword fails unless the text contains at least one of words.
func RequireAnyKeyword(field string, words []string) Check {
	return func(value any) error {
		s, err := stringAt(value, field)
		if err != nil {
			return err
		}
		lower := strings.ToLower(s)
		for _, w := range words {
			w = strings.ToLower(strings.TrimSpace(w))
			if w != "" && strings.Contains(lower, w) {
				return nil
			}
		}
		return fmt.Errorf("%s contains none of the required keywords", fieldLabel(field))
	}
}

// When applies check only if cond holds for the value.
func When(cond func(value any) bool, check Check) Check {
	return func(value any) error {
		if cond == nil || !cond(value) {
			return nil
		}
		return check(value)
	}
}
