package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/simuverse/internal/model"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		rejected bool
		reason   string
		text     string
	}{
		{"single line", "MOVE: library", true, ReasonInsufficientReasoning, FallbackInsufficientReasoning},
		{"blank padding does not count as reasoning", "\n\n  MOVE: library  \n\n", true, ReasonInsufficientReasoning, FallbackInsufficientReasoning},
		{"empty", "", true, ReasonInsufficientReasoning, FallbackInsufficientReasoning},
		{"untagged final line", "I will go.\nHeading to library.", true, ReasonMalformedFinalLine, FallbackMalformedFinalLine},
		{"tag not at line start", "Thinking.\nI choose MOVE: library", true, ReasonMalformedFinalLine, FallbackMalformedFinalLine},
		{"valid move", "I will go.\nMOVE: Library", false, "", "I will go.\nMOVE: Library"},
		{"valid lower-case converse with indentation", "Let me talk.\n   converse: Agent3", false, "", "Let me talk.\n   converse: Agent3"},
		{"trailing whitespace keeps raw unchanged", "Resting.\nNOTHING: rest\n\n", false, "", "Resting.\nNOTHING: rest\n\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := Validate(tt.raw)
			assert.Equal(t, tt.rejected, v.Rejected)
			assert.Equal(t, tt.reason, v.Reason)
			assert.Equal(t, tt.text, v.Text)
		})
	}
}

func TestFallbacksAreThemselvesValid(t *testing.T) {
	for _, fb := range []string{FallbackInsufficientReasoning, FallbackMalformedFinalLine} {
		v := Validate(fb)
		assert.False(t, v.Rejected, fb)
		assert.Equal(t, model.Action{Kind: model.ActionNothing}, Parse(fb, CasingMixed))
	}
}

func TestParse_MixedPolicy(t *testing.T) {
	tests := []struct {
		name string
		text string
		want model.Action
	}{
		{"move lower-cased", "I will go.\nMOVE: Library", model.Action{Kind: model.ActionMove, Target: "library"}},
		{"converse preserves agent id", "Thinking...\nCONVERSE: Agent7", model.Action{Kind: model.ActionConverse, Target: "Agent7"}},
		{"nothing has no target", "Tired.\nNOTHING: sleep", model.Action{Kind: model.ActionNothing}},
		{"no tag", "Just some unrelated text.\nMore text.", model.Action{Kind: model.ActionNone}},
		{"first match wins", "MOVE: Park\nThinking more.\nCONVERSE: Agent3", model.Action{Kind: model.ActionMove, Target: "park"}},
		{"only first colon splits", "Go.\nMOVE: Town Hall: East Wing", model.Action{Kind: model.ActionMove, Target: "town hall: east wing"}},
		{"case-insensitive tag", "Hmm.\n  cOnVeRsE:   Agent9  ", model.Action{Kind: model.ActionConverse, Target: "Agent9"}},
		{"converse with empty target", "Hmm.\nCONVERSE:", model.Action{Kind: model.ActionConverse}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Parse(tt.text, CasingMixed))
		})
	}
}

func TestParse_Policies(t *testing.T) {
	text := "Thinking...\nCONVERSE: Agent7"
	assert.Equal(t, "agent7", Parse(text, CasingLower).Target)
	assert.Equal(t, "Agent7", Parse(text, CasingPreserve).Target)

	move := "Go.\nMOVE: Library"
	assert.Equal(t, "library", Parse(move, CasingLower).Target)
	assert.Equal(t, "Library", Parse(move, CasingPreserve).Target)
}

func TestParseCasingPolicy(t *testing.T) {
	p, err := ParseCasingPolicy("")
	require.NoError(t, err)
	assert.Equal(t, CasingMixed, p)

	p, err = ParseCasingPolicy(" LOWER ")
	require.NoError(t, err)
	assert.Equal(t, CasingLower, p)

	_, err = ParseCasingPolicy("upper")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upper")
}
