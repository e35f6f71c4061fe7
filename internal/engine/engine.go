// Package engine implements the versioned-content branching and merge
// engine shared by Tools, Workflows and Widgets. Every state transition is
// a new row appended to the version store; the only mutation applied to an
// existing row is flipping is_latest when it is superseded, inside the same
// transaction as the insert that supersedes it.
package engine

import (
	"context"
	"fmt"
	"time"

	"toolshed/api/internal/util"
)

type Engine struct {
	store   Store
	emitter Emitter
	mintID  func(prefix string) string
}

func New(store Store, emitter Emitter) *Engine {
	if emitter == nil {
		emitter = LogEmitter{}
	}
	return &Engine{
		store:   store,
		emitter: emitter,
		mintID:  util.NewID,
	}
}

// MergeResult carries the two rows a merge writes: the new published head
// and the terminal row that closes the merged branch.
type MergeResult struct {
	Published VersionRow
	Closed    VersionRow
}

// Create mints a new object. Published objects are immediately the
// published head; drafts open a fresh branch with no fork point.
func (e *Engine) Create(ctx context.Context, kind Kind, in CreateInput) (VersionRow, error) {
	if kind.Linear() {
		in.BranchType = BranchPublished
	}
	if err := in.validate(kind); err != nil {
		return VersionRow{}, err
	}

	row := VersionRow{
		StaticID:               e.mintID(kind.IDPrefix()),
		BranchType:             in.BranchType,
		IsLatest:               true,
		Name:                   in.Name,
		Description:            in.Description,
		Doc:                    in.Doc,
		MajorChangeDescription: in.MajorChangeDescription,
		CollectionID:           in.CollectionID,
		CreatedBy:              in.AuthorID,
	}
	if in.BranchType == BranchDraft {
		branchID := e.mintID("br")
		row.BranchID = &branchID
	}

	var created VersionRow
	err := e.store.RunTx(ctx, kind, func(tx Tx) error {
		var err error
		created, err = tx.Insert(ctx, row)
		return err
	})
	if err != nil {
		return VersionRow{}, err
	}

	e.emitter.Emit(ctx, MutationEvent{Kind: kind, StaticID: created.StaticID, RowID: created.ID, Action: ActionCreate})
	return created, nil
}

// Update supersedes a lineage head with a new row. branchChange, when set,
// requests a branch-type transition; the resulting case is resolved once by
// the lineage view and dispatched exhaustively:
//
//   - same branch type: edit in place, the old head is superseded
//   - published -> draft/suggestion: a new branch is forked off the
//     published row, which stays the published head
//   - draft <-> suggestion: the lineage keeps its branch id and changes
//     type; promoting into suggestion is gated by the one-pending rule
//
// Publishing a branch is not an update; that is what Merge is for.
func (e *Engine) Update(ctx context.Context, kind Kind, id int64, payload Payload, branchChange *BranchType, authorID string) (VersionRow, error) {
	if authorID == "" {
		return VersionRow{}, &ValidationError{Field: "authorId", Message: "author is required"}
	}

	var updated VersionRow
	err := e.store.RunTx(ctx, kind, func(tx Tx) error {
		lin := lineage{kind: kind, tx: tx}
		row, err := lin.head(ctx, id)
		if err != nil {
			return err
		}

		target := row.BranchType
		if branchChange != nil {
			target = *branchChange
		}
		plan, err := lin.classifyUpdate(row, target)
		if err != nil {
			return err
		}

		next := payload.applyTo(row)
		next.ID = 0
		next.CreatedAt = time.Time{}
		next.CreatedBy = authorID
		next.IsLatest = true
		next.IsArchived = false
		next.PreviousVersionID = &row.ID

		switch plan.kase {
		case editInPlace:
			if err := lin.clear(ctx, row.ID); err != nil {
				return err
			}
		case forkFromPublished:
			if plan.target == BranchSuggestion {
				if err := lin.checkSuggestionSlot(ctx, row.StaticID, nil); err != nil {
					return err
				}
			}
			branchID := e.mintID("br")
			next.BranchType = plan.target
			next.BranchID = &branchID
			next.BranchedFromID = &row.ID
			// The published row stays latest; a pending branch does not
			// supersede the published state.
		case retypeBranch:
			if plan.target == BranchSuggestion {
				if err := lin.checkSuggestionSlot(ctx, row.StaticID, row.BranchID); err != nil {
					return err
				}
			}
			next.BranchType = plan.target
			if err := lin.clear(ctx, row.ID); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unhandled update case %d", plan.kase)
		}

		updated, err = tx.Insert(ctx, next)
		return err
	})
	if err != nil {
		return VersionRow{}, err
	}

	e.emitter.Emit(ctx, MutationEvent{Kind: kind, StaticID: updated.StaticID, RowID: updated.ID, Action: ActionUpdate})
	return updated, nil
}

// Merge publishes a draft or suggestion head and closes its branch, in that
// order, inside one transaction. toID is the published head the caller last
// saw; it must still be the published head, and it must be given whenever
// the object has one, so a raced publish always surfaces instead of being
// silently overwritten.
func (e *Engine) Merge(ctx context.Context, kind Kind, fromID int64, toID *int64, payload Payload, authorID string) (MergeResult, error) {
	if kind.Linear() {
		return MergeResult{}, &ValidationError{Field: "kind", Message: "widgets do not support merging"}
	}
	if authorID == "" {
		return MergeResult{}, &ValidationError{Field: "authorId", Message: "author is required"}
	}

	var result MergeResult
	var superseded bool
	err := e.store.RunTx(ctx, kind, func(tx Tx) error {
		lin := lineage{kind: kind, tx: tx}
		from, err := lin.head(ctx, fromID)
		if err != nil {
			return err
		}
		if from.BranchType == BranchPublished {
			return &ValidationError{Field: "fromId", Message: "only a draft or suggestion can be merged"}
		}

		head, err := tx.PublishedHead(ctx, from.StaticID)
		if err != nil {
			return fmt.Errorf("read published head for %s: %w", from.StaticID, err)
		}
		// A deleted object does not come back through a merge, not even
		// when the caller names the archived row as the target.
		if head != nil && head.IsArchived {
			return &ValidationError{Field: "toId", Message: "the published object has been deleted"}
		}
		switch {
		case toID != nil && head == nil:
			return &StaleMergeTargetError{Kind: kind, ToID: *toID, HasToID: true, StaticID: from.StaticID}
		case toID != nil && head.ID != *toID:
			return &StaleMergeTargetError{Kind: kind, ToID: *toID, HeadID: head.ID, HasToID: true, HasHead: true, StaticID: from.StaticID}
		case toID == nil && head != nil:
			return &StaleMergeTargetError{Kind: kind, StaticID: from.StaticID}
		}
		superseded = head != nil

		merged := payload.applyTo(from)

		// Publish step. branched_from_id carries the fork point the
		// lineage was opened with, absent for from-scratch drafts.
		publish := merged
		publish.ID = 0
		publish.CreatedAt = time.Time{}
		publish.CreatedBy = authorID
		publish.BranchType = BranchPublished
		publish.BranchID = nil
		publish.PreviousVersionID = toID
		publish.BranchedFromID = from.BranchedFromID
		publish.IsLatest = true
		publish.IsArchived = false

		if head != nil {
			if err := lin.clear(ctx, head.ID); err != nil {
				return err
			}
		}
		if result.Published, err = tx.Insert(ctx, publish); err != nil {
			return err
		}

		// Close-branch step: the terminal archived row of the merged
		// lineage, written strictly after the publish row.
		closed := merged
		closed.ID = 0
		closed.CreatedAt = time.Time{}
		closed.CreatedBy = authorID
		closed.BranchType = from.BranchType
		closed.BranchID = from.BranchID
		closed.PreviousVersionID = &from.ID
		closed.BranchedFromID = from.BranchedFromID
		closed.IsLatest = true
		closed.IsArchived = true

		if err := lin.clear(ctx, from.ID); err != nil {
			return err
		}
		result.Closed, err = tx.Insert(ctx, closed)
		return err
	})
	if err != nil {
		return MergeResult{}, err
	}

	action := ActionCreate
	if superseded {
		action = ActionUpdate
	}
	e.emitter.Emit(ctx, MutationEvent{Kind: kind, StaticID: result.Published.StaticID, RowID: result.Published.ID, Action: action})
	return result, nil
}

// Archive closes a lineage with a terminal row. On a published head this
// deletes the object (history retained); on a draft or suggestion head it
// discards the branch without merging.
func (e *Engine) Archive(ctx context.Context, kind Kind, id int64, authorID string) (VersionRow, error) {
	if authorID == "" {
		return VersionRow{}, &ValidationError{Field: "authorId", Message: "author is required"}
	}

	var archived VersionRow
	var wasPublished bool
	err := e.store.RunTx(ctx, kind, func(tx Tx) error {
		lin := lineage{kind: kind, tx: tx}
		row, err := lin.head(ctx, id)
		if err != nil {
			return err
		}
		wasPublished = row.BranchType == BranchPublished

		next := row
		next.ID = 0
		next.CreatedAt = time.Time{}
		next.CreatedBy = authorID
		next.PreviousVersionID = &row.ID
		next.IsLatest = true
		next.IsArchived = true

		if err := lin.clear(ctx, row.ID); err != nil {
			return err
		}
		archived, err = tx.Insert(ctx, next)
		return err
	})
	if err != nil {
		return VersionRow{}, err
	}

	action := ActionUpdate
	if wasPublished {
		action = ActionDelete
	}
	e.emitter.Emit(ctx, MutationEvent{Kind: kind, StaticID: archived.StaticID, RowID: archived.ID, Action: action})
	return archived, nil
}

// clear flips is_latest on a superseded row; a failed compare-and-swap
// means another writer got there first.
func (l lineage) clear(ctx context.Context, id int64) error {
	if err := l.tx.ClearLatest(ctx, id); err != nil {
		if err == ErrVersionNotFound {
			return &StaleHeadError{Kind: l.kind, ID: id}
		}
		return fmt.Errorf("supersede version %d: %w", id, err)
	}
	return nil
}
