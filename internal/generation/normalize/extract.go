package normalize

import (
	"strings"
)

// Embedded is a structured block found inside prose.
type Embedded struct {
	Prefix string
	Block  string
	Value  any
	Suffix string
	Start  int
	End    int
}

// ExtractEmbedded locates the trailing structured block in mixed text.
//
// Each '{' is a candidate start. From a candidate the scanner tracks nesting depth, skips
// braces inside JSON string literals (honoring backslash escapes), and stops at the matching
// '}'. A candidate counts only if the block decodes to an object. Without a hint the last
// top-level block wins; with anchorHint it is the last top-level block containing the quoted
// hint key.
func ExtractEmbedded(text, anchorHint string) (Embedded, error) {
	blocks := topLevelBlocks(text)
	if len(blocks) == 0 {
		return Embedded{}, &DecodeError{Err: ErrNotFound}
	}

	pick := -1
	if hint := strings.TrimSpace(anchorHint); hint != "" {
		quoted := `"` + hint + `"`
		for i := len(blocks) - 1; i >= 0; i-- {
			if strings.Contains(blocks[i].Block, quoted) {
				pick = i
				break
			}
		}
		if pick < 0 {
			return Embedded{}, &DecodeError{Err: ErrNotFound, Snippet: hint}
		}
	} else {
		pick = len(blocks) - 1
	}

	b := blocks[pick]
	b.Prefix = trimFenceOpener(strings.TrimSpace(text[:b.Start]))
	b.Suffix = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text[b.End:]), fence))
	return b, nil
}

func topLevelBlocks(text string) []Embedded {
	var out []Embedded
	ends := map[int]int{}
	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}
		end, seen := ends[i]
		if !seen {
			scanBraces(text, i, ends)
			end = ends[i]
		}
		if end < 0 {
			continue
		}
		v, err := Decode(text[i:end])
		if err != nil {
			continue
		}
		if _, isObj := v.(map[string]any); !isObj {
			continue
		}
		out = append(out, Embedded{Block: text[i:end], Value: v, Start: i, End: end})
		i = end - 1
	}
	return out
}

// scanBraces walks s from start and records in ends, for every '{' it meets outside a
// string literal, the index just past its matching '}' or -1 when none closes it. A scan
// started at any of those braces would see the same string state, so their entries are
// final. Only braces that sat inside a string literal need a scan of their own, which keeps
// prose full of stray braces from rescanning the tail once per brace.
func scanBraces(s string, start int, ends map[int]int) {
	var open []int
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			open = append(open, i)
		case '}':
			if len(open) > 0 {
				ends[open[len(open)-1]] = i + 1
				open = open[:len(open)-1]
			}
		}
	}
	for _, p := range open {
		ends[p] = -1
	}
}

func trimFenceOpener(prefix string) string {
	idx := strings.LastIndex(prefix, fence)
	if idx < 0 {
		return prefix
	}
	tail := prefix[idx+len(fence):]
	if strings.ContainsAny(tail, "\n`") {
		return prefix
	}
	return strings.TrimSpace(prefix[:idx])
}
