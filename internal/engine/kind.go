package engine

import "fmt"

// Kind identifies a content kind. Each kind has its own version table but
// the row shape and operation semantics are identical. Widgets are the
// linear variant: no branches, no suggestions, no merge.
type Kind string

const (
	KindTool     Kind = "tool"
	KindWorkflow Kind = "workflow"
	KindWidget   Kind = "widget"
)

func ParseKind(value string) (Kind, error) {
	switch Kind(value) {
	case KindTool, KindWorkflow, KindWidget:
		return Kind(value), nil
	default:
		return "", fmt.Errorf("unknown content kind %q", value)
	}
}

// Linear reports whether the kind uses the straight-line version chain only.
func (k Kind) Linear() bool {
	return k == KindWidget
}

func (k Kind) IDPrefix() string {
	switch k {
	case KindTool:
		return "tool"
	case KindWorkflow:
		return "wf"
	case KindWidget:
		return "wdg"
	default:
		return "obj"
	}
}

// BranchType classifies the lineage a version row belongs to.
type BranchType string

const (
	BranchPublished  BranchType = "published"
	BranchDraft      BranchType = "draft"
	BranchSuggestion BranchType = "suggestion"
)

func ParseBranchType(value string) (BranchType, error) {
	switch BranchType(value) {
	case BranchPublished, BranchDraft, BranchSuggestion:
		return BranchType(value), nil
	default:
		return "", fmt.Errorf("unknown branch type %q", value)
	}
}
