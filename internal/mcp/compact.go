package mcp

import (
	"github.com/ashita-ai/simuverse/internal/model"
)

// maxCompactDetail bounds string detail values in compact log entries.
const maxCompactDetail = 200

// compactEntry returns a log entry for MCP responses. Unless full is set,
// long string details (the rendered prompt, raw model replies) are truncated
// so a long session does not flood the client's context.
func compactEntry(e model.LogEntry, full bool) map[string]any {
	details := make(map[string]any, len(e.Details))
	for k, v := range e.Details {
		if s, ok := v.(string); ok && !full {
			v = truncate(s, maxCompactDetail)
		}
		details[k] = v
	}
	return map[string]any{
		"timestamp": e.Timestamp,
		"type":      e.Type,
		"details":   details,
	}
}

// truncate shortens s to at most maxRunes runes, marking the cut with "...".
func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "..."
}
