package engine

import (
	"context"
	"fmt"
)

// updateCase is the resolved shape of an Update call. Exactly one case
// applies per call; dispatch is an exhaustive switch in Engine.Update.
type updateCase int

const (
	// editInPlace supersedes the head of its own lineage, keeping the
	// branch type.
	editInPlace updateCase = iota
	// forkFromPublished opens a new draft or suggestion branch off a
	// published head. The published row stays latest.
	forkFromPublished
	// retypeBranch changes the branch type of a draft/suggestion lineage
	// while staying on the same branch id.
	retypeBranch
)

type updatePlan struct {
	kase   updateCase
	target BranchType
}

// lineage is the read side every operation consults before writing. It runs
// inside the operation's transaction so the heads it reports cannot change
// underneath the subsequent writes.
type lineage struct {
	kind Kind
	tx   Tx
}

// head fetches a row and rejects it unless it is the editable head of its
// lineage. This is the optimistic-concurrency guard: callers act on the id
// they last read, and the engine re-checks it here. Branch rows are checked
// against the branchId+isLatest lookup: a different latest row on the
// branch means the targeted row was superseded.
func (l lineage) head(ctx context.Context, id int64) (VersionRow, error) {
	row, err := l.tx.Get(ctx, id)
	if err != nil {
		if err == ErrVersionNotFound {
			return VersionRow{}, &StaleHeadError{Kind: l.kind, ID: id}
		}
		return VersionRow{}, fmt.Errorf("read version %d: %w", id, err)
	}
	if row.BranchID != nil {
		current, err := l.tx.BranchHead(ctx, *row.BranchID)
		if err != nil {
			return VersionRow{}, fmt.Errorf("read branch head %s: %w", *row.BranchID, err)
		}
		if current == nil || current.ID != row.ID || row.IsArchived {
			return VersionRow{}, &StaleHeadError{Kind: l.kind, ID: id}
		}
		return row, nil
	}
	if !row.Head() {
		return VersionRow{}, &StaleHeadError{Kind: l.kind, ID: id}
	}
	return row, nil
}

// checkSuggestionSlot enforces the single-pending-suggestion rule for a
// staticId. ownBranch excludes the caller's own lineage so retyping a
// suggestion in place does not trip over itself.
func (l lineage) checkSuggestionSlot(ctx context.Context, staticID string, ownBranch *string) error {
	existing, err := l.tx.ActiveSuggestion(ctx, staticID)
	if err != nil {
		return fmt.Errorf("read active suggestion for %s: %w", staticID, err)
	}
	if existing == nil {
		return nil
	}
	if ownBranch != nil && existing.BranchID != nil && *existing.BranchID == *ownBranch {
		return nil
	}
	return &DuplicateSuggestionError{Kind: l.kind, StaticID: staticID}
}

// classifyUpdate resolves which Update case applies for a head row and the
// requested branch type. target equals the row's own branch type when the
// caller asked for no change.
func (l lineage) classifyUpdate(row VersionRow, target BranchType) (updatePlan, error) {
	if l.kind.Linear() && target != BranchPublished {
		return updatePlan{}, &ValidationError{Field: "branchType", Message: "widgets do not support branches"}
	}
	switch {
	case row.BranchType == target:
		return updatePlan{kase: editInPlace, target: target}, nil
	case row.BranchType == BranchPublished:
		return updatePlan{kase: forkFromPublished, target: target}, nil
	case target == BranchPublished:
		return updatePlan{}, &ValidationError{Field: "branchType", Message: "a draft or suggestion is published by merging, not by update"}
	default:
		return updatePlan{kase: retypeBranch, target: target}, nil
	}
}
