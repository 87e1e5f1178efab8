package tasks

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/yungbote/curriculumgen/internal/generation/contract"
	"github.com/yungbote/curriculumgen/internal/generation/engine"
)

const (
	ClassName   = "class_name"
	Summary     = "summary"
	GradeLevel  = "grade_level"
	RoleContext = "role_context"
	Guidelines  = "guidelines"
	Document    = "document"
	Greeting    = "greeting"
	QuizPacket  = "quiz_packet"
	TeacherKey  = "teacher_key"
)

// DayFields are the seven per-day artifact files in field order.
var DayFields = []string{
	"01_class_name.txt",
	"02_summary.md",
	"03_grade_level.txt",
	"04_role_context.json",
	"05_guidelines_for_sparky.md",
	"06_document_for_sparky.json",
	"07_sparkys_greeting.txt",
}

// OffTopicKeywords mark a summary that drifted away from Latin.
var OffTopicKeywords = []string{
	"ecosystem", "ecosystems", "organism", "biology", "ecology",
	"fraction", "fractions", "numerator", "denominator", "division",
	"geometry", "algebra", "multiplication", "equation",
	"chemistry", "physics", "atom", "molecule",
	"photosynthesis", "habitat", "species",
	"perimeter", "area", "volume", "angle",
}

// LatinKeywords are generic signs that a summary is about Latin.
var LatinKeywords = []string{
	"latin", "declension", "conjugation", "vocabulary",
	"pronunciation", "grammar", "alphabet", "translate",
	"noun", "verb", "adjective", "case", "gender",
}

var gradeLevelPattern = regexp.MustCompile(`^\d{1,2}-\d{1,2}$`)

const sparkySystem = `You are the curriculum writer for Latin A (Grammar Stage), a classical Latin course for grades 3-5.
Sparky is the encouraging AI tutor who teaches every lesson. Write for children aged 8-10: concrete, warm, and precise.
Stay strictly on Latin: grammar, vocabulary, chants, pronunciation, and the week's virtue and faith focus.`

const weekContext = `Week {{.Week}} Day {{.Day}}: {{.WeekTitle}}
Day focus: {{.DayFocus}}
Day intent: {{.DayIntent}}
Grammar focus: {{.GrammarFocus}}
Chant: {{.Chant}}
Virtue focus: {{.VirtueFocus}}
Faith phrase: {{.FaithPhrase}}`

// Default returns the curriculum task set in run order.
func Default() *Registry {
	r := NewRegistry()
	for _, s := range curriculumSpecs() {
		r.MustRegister(s)
	}
	return r
}

func curriculumSpecs() []Spec {
	return []Spec{
		{
			Name:       ClassName,
			Field:      DayFields[0],
			Format:     engine.FormatText,
			TextField:  "class_name",
			SchemaName: "class_name_v1",
			Schema:     singleString("class_name"),
			System:     sparkySystem,
			User: weekContext + `

Write the student-facing lesson title for this day.
Format it as "Week {{.Week}} Day {{.Day}}: <Topic>". Title Case, no trailing punctuation, no emojis, at most 100 characters.
Return JSON: {"class_name": "..."}`,
			Contract: func(Input) *contract.Contract {
				return contract.New(ClassName).
					Rule("class_name.length", contract.StringLength("", 1, 100))
			},
			Placeholder: textPlaceholder(ClassName),
		},
		{
			Name:       Summary,
			Field:      DayFields[1],
			Format:     engine.FormatText,
			TextField:  "day_summary",
			SchemaName: "day_summary_v1",
			Schema:     singleString("day_summary"),
			System:     sparkySystem,
			User: weekContext + `
Class name: {{.ClassName}}

Write the day summary in markdown: the objective, the focus for today (grammar, chant, vocabulary), and the virtue connection.
Keep it between 50 and 500 characters. The lesson is about Latin only.
Week vocabulary: {{range $i, $w := .LatinWords}}{{if $i}}, {{end}}{{$w}}{{end}}
Return JSON: {"day_summary": "..."}`,
			Contract: func(in Input) *contract.Contract {
				allowed := append(append([]string(nil), LatinKeywords...), in.LatinWords...)
				return contract.New(Summary).
					Rule("summary.length", contract.StringLength("", 50, 500)).
					Rule("summary.off_topic", contract.ForbidKeywords("", OffTopicKeywords)).
					Rule("summary.latin", contract.RequireAnyKeyword("", allowed))
			},
			Placeholder: textPlaceholder(Summary),
		},
		{
			Name:       GradeLevel,
			Field:      DayFields[2],
			Format:     engine.FormatText,
			TextField:  "grade_level",
			SchemaName: "grade_level_v1",
			Schema:     singleString("grade_level"),
			System:     sparkySystem,
			User: `Week {{.Week}} Day {{.Day}}: {{.ClassName}}

State the target grade range for this lesson as "N-M" (for example "3-5").
Return JSON: {"grade_level": "..."}`,
			Contract: func(Input) *contract.Contract {
				return contract.New(GradeLevel).
					Rule("grade_level.format", contract.MatchesPattern("", gradeLevelPattern))
			},
			Placeholder: func(Input) any { return "3-5" },
		},
		{
			Name:       RoleContext,
			Field:      DayFields[3],
			Format:     engine.FormatJSON,
			SchemaName: "role_context_v1",
			Schema:     roleContextSchema,
			System: sparkySystem + `
Return JSON only. No markdown.`,
			User: weekContext + `
Class name: {{.ClassName}}
Summary:
{{.Summary}}

Week spec:
{{.WeekSpecJSON}}

Describe how Sparky should coach this day.
- sparky_role: one phrase
- focus_mode: "{{.DayFocus}}" expressed as a snake_case label
- hints_enabled, max_hints, wait_time_seconds
- spiral_emphasis: prior-week vocabulary and grammar to revisit{{if eq .Day 4}} (at least two entries; Day 4 spirals 25% prior content){{end}}
- encouragement_triggers: moments Sparky should praise`,
			Contract: func(in Input) *contract.Contract {
				c := contract.New(RoleContext, "sparky_role", "focus_mode", "hints_enabled", "spiral_emphasis", "encouragement_triggers").
					Rule("role_context.sparky_role", contract.NonEmpty("sparky_role"))
				if in.Day == 4 {
					c.Rule("role_context.spiral_emphasis", contract.MinItems("spiral_emphasis", 2))
				}
				return c
			},
			Placeholder: func(in Input) any {
				return map[string]any{
					"sparky_role":            "encouraging Latin guide",
					"focus_mode":             FocusMode(in.Day),
					"hints_enabled":          true,
					"spiral_emphasis":        []any{},
					"encouragement_triggers": []any{"first_attempt"},
					"max_hints":              3,
					"wait_time_seconds":      5,
				}
			},
		},
		{
			Name:   Guidelines,
			Field:  DayFields[4],
			Format: engine.FormatText,
			System: sparkySystem,
			User: weekContext + `
Class name: {{.ClassName}}

Role context:
{{.RoleContextJSON}}

Write Sparky's teaching guidelines for this day in markdown:
objectives and success criteria, materials, a minute-by-minute flow (greeting and spiral review,
chant, grammar instruction, guided practice, closure with the virtue tie-in), coaching notes,
and assessment checkpoints. Output markdown only.`,
			Contract: func(Input) *contract.Contract {
				return contract.New(Guidelines).
					Rule("guidelines.length", contract.StringLength("", 100, 0))
			},
			Placeholder: textPlaceholder(Guidelines),
		},
		{
			Name:   Document,
			Field:  DayFields[5],
			Format: engine.FormatJSON,
			System: sparkySystem + `
Return one JSON object only.`,
			User: `Generate Day {{.Day}} document_for_sparky JSON: the complete lesson plan Sparky follows.

Week spec:
{{.WeekSpecJSON}}

Role context:
{{.RoleContextJSON}}

Guidelines:
{{.Guidelines}}

Required top-level keys: metadata, prior_knowledge_digest, objectives, lesson_flow.`,
			Contract: func(Input) *contract.Contract {
				return contract.New(Document, "metadata", "prior_knowledge_digest", "objectives", "lesson_flow").
					Rule("document.objectives", contract.MinItems("objectives", 1))
			},
			Placeholder: func(Input) any { return map[string]any{} },
		},
		{
			Name:       Greeting,
			Field:      DayFields[6],
			Format:     engine.FormatText,
			TextField:  "greeting_text",
			SchemaName: "greeting_v1",
			Schema:     singleString("greeting_text"),
			System:     sparkySystem,
			User: `Week {{.Week}} Day {{.Day}}: {{.ClassName}}
Virtue focus: {{.VirtueFocus}}
Faith phrase: {{.FaithPhrase}}

Role context:
{{.RoleContextJSON}}

Lesson steps:
{{.LessonSteps}}

Write Sparky's opening greeting to the student: one or two warm sentences that name today's topic, 10 to 200 characters.
Return JSON: {"greeting_text": "..."}`,
			Contract: func(Input) *contract.Contract {
				return contract.New(Greeting).
					Rule("greeting.length", contract.StringLength("", 10, 200))
			},
			Placeholder: textPlaceholder(Greeting),
		},
		{
			Name:       QuizPacket,
			Field:      "quiz_packet.json",
			Scope:      ScopeWeekAssets,
			Format:     engine.FormatMixed,
			ProseKey:   "quiz_markdown",
			AnchorHint: "answer_key_min",
			Days:       []int{4},
			System:     sparkySystem,
			User: `Write the Week {{.Week}} quiz packet (20 points): vocabulary (5), grammar and chant (5), translation (5), virtue reflection (5).
At least 25% of the questions revisit prior weeks.
Virtue focus: {{.VirtueFocus}}
Faith phrase: {{.FaithPhrase}}

Week spec:
{{.WeekSpecJSON}}

Day 4 document:
{{.DocumentJSON}}

Day 4 guidelines:
{{.Guidelines}}

Output the quiz as markdown, then end with one JSON object: {"answer_key_min": [{"q": 1, "answer": "..."}]}`,
			Contract: func(Input) *contract.Contract {
				return contract.New(QuizPacket, "quiz_markdown", "answer_key_min").
					Rule("quiz.markdown", contract.NonEmpty("quiz_markdown")).
					Rule("quiz.answer_key", contract.MinItems("answer_key_min", 1))
			},
			Placeholder: func(Input) any {
				return map[string]any{"quiz_markdown": "", "answer_key_min": []any{}}
			},
		},
		{
			Name:   TeacherKey,
			Field:  "teacher_key.md",
			Scope:  ScopeWeekAssets,
			Format: engine.FormatText,
			Days:   []int{4},
			System: sparkySystem,
			User: `Expand the Week {{.Week}} quiz answer key for the teacher.
For each question give the answer, a one or two sentence grammatical rationale, chant references with pronunciation tips,
literal and idiomatic translations, and sample virtue reflection responses.
Virtue focus: {{.VirtueFocus}}
Faith phrase: {{.FaithPhrase}}

Quiz:
{{.QuizMarkdown}}

Minimal answer key:
{{.AnswerKeyJSON}}

Output markdown only.`,
			Contract: func(Input) *contract.Contract {
				return contract.New(TeacherKey).
					Rule("teacher_key.length", contract.StringLength("", 100, 0))
			},
			Placeholder: textPlaceholder(TeacherKey),
		},
	}
}

func textPlaceholder(task string) func(in Input) any {
	return func(in Input) any {
		return fmt.Sprintf("[PLACEHOLDER] %s for Week %d Day %d was not generated.", strings.ReplaceAll(task, "_", " "), in.Week, in.Day)
	}
}
