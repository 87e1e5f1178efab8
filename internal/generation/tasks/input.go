package tasks

// Input is a superset of what any curriculum prompt reads. Missing fields render empty
// (templates use missingkey=zero).
type Input struct {
	Week      int
	Day       int
	DayFocus  string
	DayIntent string

	// Week spec
	WeekTitle    string
	GrammarFocus string
	Chant        string
	VirtueFocus  string
	FaithPhrase  string
	WeekSpecJSON string
	// LatinWords are the week's vocabulary headwords.
	LatinWords []string

	// Earlier fields of the same day
	ClassName       string
	Summary         string
	GradeLevel      string
	RoleContextJSON string
	Guidelines      string
	DocumentJSON    string
	LessonSteps     string

	// Day 4 assessment
	QuizMarkdown  string
	AnswerKeyJSON string
}

var dayFocus = map[int]string{
	1: "Introduction and exploration",
	2: "Practice and reinforcement",
	3: "Application and extension",
	4: "Review and spiral (25% prior content)",
}

var dayIntent = map[int]string{
	1: "Learn: introduce new grammar, vocabulary, and chant.",
	2: "Practice: review, translate, and recite.",
	3: "Review: answer questions and reinforce mastery.",
	4: "Quiz: assess learning and reflect on progress.",
}

// focusMode is the machine label Sparky's role context uses for a day.
var focusMode = map[int]string{
	1: "introduction_and_exploration",
	2: "practice_and_reinforcement",
	3: "application_and_extension",
	4: "review_and_spiral_25pct",
}

func DayFocus(day int) string {
	if s, ok := dayFocus[day]; ok {
		return s
	}
	return "General instruction"
}

func DayIntent(day int) string {
	if s, ok := dayIntent[day]; ok {
		return s
	}
	return dayIntent[1]
}

func FocusMode(day int) string {
	if s, ok := focusMode[day]; ok {
		return s
	}
	return "general"
}
