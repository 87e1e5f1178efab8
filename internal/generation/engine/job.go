package engine

import (
	"github.com/yungbote/curriculumgen/internal/artifacts"
	"github.com/yungbote/curriculumgen/internal/clients/llm"
	"github.com/yungbote/curriculumgen/internal/generation/contract"
)

// Format says how a response becomes the value that is validated and stored.
type Format string

const (
	// FormatJSON decodes the (fence-stripped) response as one object.
	FormatJSON Format = "json"
	// FormatText keeps the response as text, optionally lifted out of a JSON field.
	FormatText Format = "text"
	// FormatMixed splits prose from a trailing embedded object.
	FormatMixed Format = "mixed"
)

// Job is one logical generation for one artifact key.
type Job struct {
	Key     string
	Task    string
	Version string
	Request llm.Request
	// Contract may be nil, in which case any decodable value passes.
	Contract *contract.Contract
	Format   Format
	// TextField names the object member holding the text of a FormatText job.
	TextField string
	// ProseKey receives the prose of a FormatMixed job inside the stored object.
	ProseKey string
	// AnchorHint picks the embedded block of a FormatMixed job.
	AnchorHint  string
	Placeholder func() any
}

func (j Job) kind() artifacts.Kind {
	if j.Format == FormatText {
		return artifacts.KindText
	}
	return artifacts.KindStructured
}

func (j Job) placeholder() any {
	if j.Placeholder != nil {
		return j.Placeholder()
	}
	if j.Format == FormatText {
		return ""
	}
	return map[string]any{}
}
