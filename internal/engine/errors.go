package engine

import "fmt"

// ValidationError rejects a malformed operation input before anything is
// written.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StaleHeadError means the row an operation targeted is no longer the head
// of its lineage. The caller must re-read the current head and retry; the
// engine never retries on its own.
type StaleHeadError struct {
	Kind Kind
	ID   int64
}

func (e *StaleHeadError) Error() string {
	return fmt.Sprintf("%s version %d is not the latest version", e.Kind, e.ID)
}

// StaleMergeTargetError means the expected published head passed to Merge
// no longer matches the actual published head; another publish raced ahead.
type StaleMergeTargetError struct {
	Kind     Kind
	ToID     int64
	HeadID   int64
	HasToID  bool
	HasHead  bool
	StaticID string
}

func (e *StaleMergeTargetError) Error() string {
	if !e.HasToID {
		return fmt.Sprintf("%s %s already has a published version; pass its id to merge", e.Kind, e.StaticID)
	}
	if !e.HasHead {
		return fmt.Sprintf("%s version %d is no longer published", e.Kind, e.ToID)
	}
	return fmt.Sprintf("%s version %d is not the current published version (now %d)", e.Kind, e.ToID, e.HeadID)
}

// DuplicateSuggestionError guards the single-pending-suggestion rule.
type DuplicateSuggestionError struct {
	Kind     Kind
	StaticID string
}

func (e *DuplicateSuggestionError) Error() string {
	return fmt.Sprintf("%s %s already has a pending suggestion; you can only have one pending suggestion at a time", e.Kind, e.StaticID)
}

// ErrVersionNotFound is returned by Tx lookups when no row has the given id.
var ErrVersionNotFound = fmt.Errorf("version not found")
