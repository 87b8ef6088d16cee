// Package action enforces the reply contract on raw model text and extracts
// the structured game action from it.
package action

import (
	"strings"
)

// Tag prefixes, compared against lower-cased, trimmed lines.
const (
	tagMove     = "move:"
	tagNothing  = "nothing:"
	tagConverse = "converse:"
)

// Rejection reasons recorded in validation_failure log entries.
const (
	ReasonInsufficientReasoning = "insufficient reasoning"
	ReasonMalformedFinalLine    = "malformed final line"
)

// Fallback texts substituted for rejected replies. Both parse as NOTHING.
const (
	FallbackInsufficientReasoning = "Your response is invalid. You must provide at least one sentence of reasoning.\nNOTHING: do nothing"
	FallbackMalformedFinalLine    = "Your final line did not start with MOVE:, NOTHING:, or CONVERSE:. Invalid response.\nNOTHING: do nothing"
)

// Validation is the outcome of checking one raw reply.
type Validation struct {
	// Text is the raw reply when accepted, or the fallback when rejected.
	Text     string
	Rejected bool
	Reason   string
}

// Validate checks that raw holds at least one reasoning line followed by a
// final line starting with an action tag. A rejected reply is replaced by a
// canned fallback; the model is never asked again.
func Validate(raw string) Validation {
	lines := strings.Split(strings.TrimSpace(raw), "\n")
	if len(lines) < 2 {
		return Validation{
			Text:     FallbackInsufficientReasoning,
			Rejected: true,
			Reason:   ReasonInsufficientReasoning,
		}
	}
	if _, ok := matchTag(lines[len(lines)-1]); !ok {
		return Validation{
			Text:     FallbackMalformedFinalLine,
			Rejected: true,
			Reason:   ReasonMalformedFinalLine,
		}
	}
	return Validation{Text: raw}
}

// matchTag returns the tag a line starts with, ignoring case and surrounding
// whitespace.
func matchTag(line string) (string, bool) {
	l := strings.ToLower(strings.TrimSpace(line))
	for _, tag := range [...]string{tagMove, tagNothing, tagConverse} {
		if strings.HasPrefix(l, tag) {
			return tag, true
		}
	}
	return "", false
}
