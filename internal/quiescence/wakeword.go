package quiescence

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// defaultFuzzyThreshold is the minimum Jaro-Winkler score for a token to
// count as a wake-word match when the phonetic codes do not align.
const defaultFuzzyThreshold = 0.88

// WakeWord returns a hotness predicate that reports whether text contains the
// agent's name. Matching is tolerant of speech-to-text spelling drift: a token
// matches when it equals the name, shares a Double Metaphone code with it, or
// scores above the fuzzy threshold on Jaro-Winkler similarity. "Charley" and
// "Sharlie" both wake an agent named "Charlie".
func WakeWord(name string) func(string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	primary, secondary := matchr.DoubleMetaphone(lower)

	return func(text string) bool {
		for _, token := range strings.Fields(strings.ToLower(text)) {
			token = strings.Trim(token, ".,!?;:'\"")
			if token == "" {
				continue
			}
			if token == lower {
				return true
			}
			p, s := matchr.DoubleMetaphone(token)
			if p != "" && (p == primary || p == secondary) {
				return true
			}
			if s != "" && (s == primary || s == secondary) {
				return true
			}
			if matchr.JaroWinkler(token, lower, false) >= defaultFuzzyThreshold {
				return true
			}
		}
		return false
	}
}
