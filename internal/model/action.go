package model

// ActionKind is the game action chosen by the model for one turn.
type ActionKind string

const (
	ActionMove     ActionKind = "move"
	ActionNothing  ActionKind = "nothing"
	ActionConverse ActionKind = "converse"

	// ActionNone means no tag line was found. It is a legitimate outcome and
	// callers treat it as "take no game action".
	ActionNone ActionKind = "none"
)

// Action is the structured result of parsing an assistant turn.
// Target is a location for move, an agent id for converse, and empty otherwise.
type Action struct {
	Kind   ActionKind `json:"kind"`
	Target string     `json:"target"`
}

// IsDelivery reports whether the action should be routed to another agent.
func (a Action) IsDelivery() bool {
	return a.Kind == ActionConverse && a.Target != ""
}
