// Package prompt renders a session history into the single prompt string
// sent to the completion provider.
package prompt

import (
	"strings"

	"github.com/ashita-ai/simuverse/internal/model"
)

const (
	contextHeader = "Conversation Context:"
	historyHeader = "Conversation History:"
	assistantCue  = "Assistant:"

	// Instruction is the fixed reminder appended after the assistant cue.
	Instruction = "Remember: Provide at least one sentence of reasoning and end with a final line that starts with MOVE:, NOTHING:, or CONVERSE: (with no extra text)."
)

// Build flattens messages into a prompt. Forwarded messages from other agents
// are hoisted, verbatim, under a context header; every other message follows
// under a history header as "Role: content" in its original order. Headers are
// omitted when their group is empty. Build is pure.
func Build(messages []model.Message) string {
	var forwarded, history []string
	for _, m := range messages {
		if m.Role == model.RoleUser && model.IsForwarded(m.Content) {
			forwarded = append(forwarded, m.Content)
			continue
		}
		history = append(history, m.Role.Title()+": "+m.Content)
	}

	lines := make([]string, 0, len(forwarded)+len(history)+4)
	if len(forwarded) > 0 {
		lines = append(lines, contextHeader)
		lines = append(lines, forwarded...)
	}
	if len(history) > 0 {
		lines = append(lines, historyHeader)
		lines = append(lines, history...)
	}
	lines = append(lines, assistantCue, Instruction)
	return strings.Join(lines, "\n")
}
