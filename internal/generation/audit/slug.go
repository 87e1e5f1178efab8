// Package audit stores what every generation attempt did: retry logs, the generation_run
// table, and the raw responses that failed.
package audit

import (
	"path"
	"strings"
)

// KeySlug flattens an artifact key into a file name stem:
// "week05/day2/06_document_for_sparky.json" becomes "week05_day2_06_document_for_sparky".
func KeySlug(key string) string {
	k := strings.TrimSuffix(key, path.Ext(key))
	var b strings.Builder
	b.Grow(len(k))
	for _, r := range k {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := strings.Trim(b.String(), "_")
	if s == "" {
		return "artifact"
	}
	return s
}
