package dispatch

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// digitRunGap matches a digit immediately followed by a character that is
// neither whitespace, another digit, nor punctuation. Speech synthesis reads
// "have2apples" badly; "have2 apples" comes out right.
var digitRunGap = regexp.MustCompile(`(\d)([^\d\s\p{P}])`)

// selfPrefixes caches the per-agent-name prefix patterns. Models like to
// open replies with "Charlie: ..." or "Charlie Bot: ..."; spoken aloud that
// sounds absurd, so the prefix is stripped before synthesis.
var selfPrefixes sync.Map // string → *regexp.Regexp

func selfPrefix(agentName string) *regexp.Regexp {
	if re, ok := selfPrefixes.Load(agentName); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(fmt.Sprintf(`(?i)^%s[^:]*:\s*`, regexp.QuoteMeta(agentName)))
	selfPrefixes.Store(agentName, re)
	return re
}

// normalizeSegment prepares raw generated text for synthesis: it trims
// whitespace, strips a leading self-identification prefix (the agent name,
// optionally followed by a qualifier, then a colon), and inserts a space
// between a digit run and an immediately following word character.
//
// Returns "" when nothing speakable remains; callers treat that as a no-op.
func normalizeSegment(agentName, text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	if agentName != "" {
		text = selfPrefix(agentName).ReplaceAllString(text, "")
	}

	text = digitRunGap.ReplaceAllString(text, "$1 $2")

	return strings.TrimSpace(text)
}
