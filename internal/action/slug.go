package action

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// EmptySlug is what Slugify returns when nothing usable is left of a name.
// Build rejects it.
const EmptySlug = "_"

// Slugify creates a topic-safe slug from a display name.
//
// Diacritics are stripped ("Käse" -> "kase"), letters are lowercased, and
// every run of characters outside [a-z0-9] becomes a single underscore.
// Leading and trailing underscores are trimmed. The result is deterministic
// and never empty: a name without any usable character yields EmptySlug.
func Slugify(name string) string {
	folded, _, err := transform.String(stripMarks(), name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	b.Grow(len(folded))
	pendingSep := false
	for _, r := range folded {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if pendingSep && b.Len() > 0 {
				b.WriteByte('_')
			}
			pendingSep = false
			b.WriteRune(r)
			continue
		}
		pendingSep = true
	}

	if b.Len() == 0 {
		return EmptySlug
	}
	return b.String()
}

// stripMarks decomposes runes and drops the combining marks.
// A transformer carries state, so each call gets its own chain.
func stripMarks() transform.Transformer {
	return transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
}
