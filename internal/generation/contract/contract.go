// Package contract is the validation gate between decoded provider output and the artifact
// store. A Contract is data: required keys plus named predicate rules.
package contract

import (
	"fmt"
	"strings"
)

type Violation struct {
	RuleID  string `json:"rule_id"`
	Message string `json:"message"`
}

func (v Violation) String() string { return v.RuleID + ": " + v.Message }

// Outcome is derived per attempt and never stored on its own.
type Outcome struct {
	Valid      bool
	Violations []Violation
}

// Error joins the violations into one line per rule, or "" when valid.
func (o Outcome) Error() string {
	if o.Valid {
		return ""
	}
	lines := make([]string, 0, len(o.Violations))
	for _, v := range o.Violations {
		lines = append(lines, v.String())
	}
	return strings.Join(lines, "; ")
}

// Check returns nil when value satisfies the rule.
type Check func(value any) error

type Rule struct {
	ID    string
	Check Check
}

type Contract struct {
	Name     string
	Version  string
	Required []string
	Rules    []Rule
}

func New(name string, required ...string) *Contract {
	return &Contract{Name: name, Version: "v1", Required: append([]string(nil), required...)}
}

// Rule registers a predicate. Rules run in registration order.
func (c *Contract) Rule(id string, check Check) *Contract {
	c.Rules = append(c.Rules, Rule{ID: id, Check: check})
	return c
}

func (c *Contract) WithVersion(v string) *Contract {
	c.Version = v
	return c
}

// Validate evaluates every requirement and returns all violations. It never short-circuits
// and depends only on its inputs.
func Validate(value any, c *Contract) Outcome {
	if c == nil {
		return Outcome{Valid: true}
	}
	return c.Validate(value)
}

func (c *Contract) Validate(value any) Outcome {
	out := Outcome{Violations: []Violation{}}

	if len(c.Required) > 0 {
		obj, ok := value.(map[string]any)
		if !ok {
			out.Violations = append(out.Violations, Violation{
				RuleID:  "type:object",
				Message: fmt.Sprintf("expected an object with keys %v, got %s", c.Required, typeName(value)),
			})
		} else {
			for _, k := range c.Required {
				if _, present := obj[k]; !present {
					out.Violations = append(out.Violations, Violation{
						RuleID:  "required:" + k,
						Message: fmt.Sprintf("missing required key %q", k),
					})
				}
			}
		}
	}

	for _, r := range c.Rules {
		if err := runCheck(r, value); err != nil {
			out.Violations = append(out.Violations, Violation{RuleID: r.ID, Message: err.Error()})
		}
	}

	out.Valid = len(out.Violations) == 0
	return out
}

func runCheck(r Rule, value any) (err error) {
	if r.Check == nil {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("rule panicked: %v", rec)
		}
	}()
	return r.Check(value)
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case float64, int, int64:
		return "number"
	case bool:
		return "boolean"
	default:
		return fmt.Sprintf("%T", v)
	}
}
