// Package normalize turns raw provider text into candidate structured values.
//
// Every failure is returned as a *DecodeError; nothing here panics on malformed input.
package normalize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

const fence = "```"

// ErrNotFound means no decodable structured block exists in the text.
var ErrNotFound = errors.New("no structured block found")

type DecodeError struct {
	Offset  int64
	Snippet string
	Err     error
}

func (e *DecodeError) Error() string {
	if e.Snippet == "" {
		return fmt.Sprintf("decode: %v", e.Err)
	}
	return fmt.Sprintf("decode at offset %d near %q: %v", e.Offset, e.Snippet, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StripFences removes fenced code block wrappers (```lang ... ```) that enclose the whole
// text and trims surrounding whitespace. Text that is not a complete wrapper is only trimmed.
// The result is a fixed point, so StripFences(StripFences(x)) == StripFences(x).
func StripFences(text string) string {
	t := strings.TrimSpace(text)
	for {
		inner, ok := unwrapFence(t)
		if !ok {
			return t
		}
		t = inner
	}
}

func unwrapFence(t string) (string, bool) {
	if !strings.HasPrefix(t, fence) {
		return "", false
	}
	nl := strings.IndexByte(t, '\n')
	if nl < 0 {
		return "", false
	}
	// The info string ("json", "JSON", "") may not contain backticks.
	if strings.Contains(t[len(fence):nl], "`") {
		return "", false
	}
	rest := strings.TrimRight(t[nl+1:], " \t\r\n")
	if !strings.HasSuffix(rest, fence) {
		return "", false
	}
	return strings.TrimSpace(strings.TrimSuffix(rest, fence)), true
}

// Decode parses text as a single JSON value. Trailing content is an error.
func Decode(text string) (any, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, &DecodeError{Err: errors.New("empty response")}
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, newDecodeError(trimmed, err)
	}
	var extra any
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		off := dec.InputOffset()
		return nil, &DecodeError{Offset: off, Snippet: snippet(trimmed, off), Err: errors.New("unexpected trailing content")}
	}
	return v, nil
}

func newDecodeError(text string, err error) *DecodeError {
	var off int64
	var syn *json.SyntaxError
	if errors.As(err, &syn) {
		off = syn.Offset
	}
	var typ *json.UnmarshalTypeError
	if errors.As(err, &typ) {
		off = typ.Offset
	}
	return &DecodeError{Offset: off, Snippet: snippet(text, off), Err: err}
}

func snippet(text string, off int64) string {
	start := int(off) - 20
	if start < 0 {
		start = 0
	}
	end := int(off) + 20
	if end > len(text) {
		end = len(text)
	}
	if start >= end {
		return ""
	}
	return text[start:end]
}

// Normalize is the repair step run on every provider response: strip fences and decode,
// then fall back to extracting an embedded object from mixed prose.
func Normalize(text string) (any, error) {
	v, err := Decode(StripFences(text))
	if err == nil {
		return v, nil
	}
	if emb, eErr := ExtractEmbedded(text, ""); eErr == nil {
		return emb.Value, nil
	}
	return nil, err
}

// Text picks the payload of a text artifact. When field names a string member of an object
// (provider-decoded or decodable from the text) that member wins; otherwise the fence-stripped
// text is returned.
func Text(raw string, structured any, field string) string {
	if field != "" {
		if s, ok := stringField(structured, field); ok {
			return strings.TrimSpace(s)
		}
		if v, err := Decode(StripFences(raw)); err == nil {
			if s, ok := stringField(v, field); ok {
				return strings.TrimSpace(s)
			}
		}
	}
	return StripFences(raw)
}

func stringField(v any, field string) (string, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return "", false
	}
	s, ok := obj[field].(string)
	return s, ok
}

// Pretty renders a decoded value the way artifacts are written to disk.
func Pretty(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
