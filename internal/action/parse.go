package action

import (
	"fmt"
	"strings"

	"github.com/ashita-ai/simuverse/internal/model"
)

// CasingPolicy controls how parsed targets are normalized.
type CasingPolicy string

const (
	// CasingMixed lower-cases move locations and keeps agent ids as written.
	CasingMixed    CasingPolicy = "mixed"
	// CasingLower lower-cases every target. For CONVERSE this changes only
	// the reported location; the conversation service still delivers to the
	// agent id as written.
	CasingLower    CasingPolicy = "lower"
	CasingPreserve CasingPolicy = "preserve"
)

// ParseCasingPolicy converts a config string into a CasingPolicy.
// An empty string selects CasingMixed.
func ParseCasingPolicy(s string) (CasingPolicy, error) {
	switch p := CasingPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return CasingMixed, nil
	case CasingMixed, CasingLower, CasingPreserve:
		return p, nil
	default:
		return "", fmt.Errorf("action: unknown casing policy %q (want mixed, lower, or preserve)", s)
	}
}

// Parse scans text top to bottom and returns the action named by the first
// line that starts with a tag. Later tag lines are ignored. Text with no tag
// line yields ActionNone, which is not an error.
func Parse(text string, policy CasingPolicy) model.Action {
	for line := range strings.SplitSeq(text, "\n") {
		tag, ok := matchTag(line)
		if !ok {
			continue
		}
		switch tag {
		case tagNothing:
			return model.Action{Kind: model.ActionNothing}
		case tagMove:
			return model.Action{Kind: model.ActionMove, Target: policy.apply(model.ActionMove, remainder(line))}
		case tagConverse:
			return model.Action{Kind: model.ActionConverse, Target: policy.apply(model.ActionConverse, remainder(line))}
		}
	}
	return model.Action{Kind: model.ActionNone}
}

// remainder returns everything after the first colon, trimmed.
func remainder(line string) string {
	_, rest, _ := strings.Cut(line, ":")
	return strings.TrimSpace(rest)
}

func (p CasingPolicy) apply(kind model.ActionKind, target string) string {
	switch p {
	case CasingPreserve:
		return target
	case CasingLower:
		return strings.ToLower(target)
	default:
		if kind == model.ActionMove {
			return strings.ToLower(target)
		}
		return target
	}
}
