package model

import (
	"strings"
)

// Role identifies the speaker of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Title returns the role name with its first letter upper-cased ("User").
func (r Role) Title() string {
	if r == "" {
		return ""
	}
	return strings.ToUpper(string(r[:1])) + string(r[1:])
}

// Message is one turn of an agent's conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// forwardedPrefix marks a user message delivered by another agent's CONVERSE
// action. The sender's id sits between the prefix and forwardedSuffix.
const (
	forwardedPrefix = "[CONVERSE from "
	forwardedSuffix = "]: "
)

// ForwardedContent builds the content of a forwarded message from sender.
func ForwardedContent(sender, text string) string {
	return forwardedPrefix + sender + forwardedSuffix + text
}

// IsForwarded reports whether content carries the forwarded-message marker.
func IsForwarded(content string) bool {
	_, ok := ForwardedSender(content)
	return ok
}

// ForwardedSender returns the sending agent id of a forwarded message.
func ForwardedSender(content string) (string, bool) {
	rest, ok := strings.CutPrefix(content, forwardedPrefix)
	if !ok {
		return "", false
	}
	sender, _, ok := strings.Cut(rest, forwardedSuffix)
	if !ok || sender == "" {
		return "", false
	}
	return sender, true
}
