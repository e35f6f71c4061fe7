package engine

import "context"

// Store is the transactional version store the engine writes through. RunTx
// must execute fn inside one serializable transaction: either every write fn
// makes is visible, or none are. Implementations may retry fn on transient
// storage failures, so fn must be safe to re-run from a clean read state.
type Store interface {
	RunTx(ctx context.Context, kind Kind, fn func(tx Tx) error) error
}

// Tx is the view the engine gets inside one transaction. All lookups see the
// transaction's own uncommitted writes.
type Tx interface {
	// Get returns the row with the given id, or ErrVersionNotFound.
	Get(ctx context.Context, id int64) (VersionRow, error)

	// PublishedHead returns the row with branchType=published and
	// isLatest=true for staticID, or nil if the object was never published.
	PublishedHead(ctx context.Context, staticID string) (*VersionRow, error)

	// BranchHead returns the isLatest row of a branch lineage, or nil.
	BranchHead(ctx context.Context, branchID string) (*VersionRow, error)

	// ActiveSuggestion returns the pending suggestion head for staticID
	// (suggestion, isLatest, not archived), or nil.
	ActiveSuggestion(ctx context.Context, staticID string) (*VersionRow, error)

	// Insert appends a row and returns it with its assigned id and
	// creation timestamp.
	Insert(ctx context.Context, row VersionRow) (VersionRow, error)

	// ClearLatest flips is_latest to false on the given row. It must be a
	// compare-and-swap: if the row is not currently latest the flip fails
	// and ErrVersionNotFound is returned, which the engine surfaces as a
	// stale head.
	ClearLatest(ctx context.Context, id int64) error
}
