package engine

import (
	"encoding/json"
	"strings"
	"time"
)

// VersionRow is one immutable row in a content object's version history.
// Rows are only ever appended; the sole post-insert mutation the store
// permits is flipping IsLatest when a row is superseded.
type VersionRow struct {
	ID                int64
	StaticID          string
	BranchType        BranchType
	BranchID          *string
	PreviousVersionID *int64
	BranchedFromID    *int64
	IsLatest          bool
	IsArchived        bool

	Name                   string
	Description            string
	Doc                    json.RawMessage
	MajorChangeDescription json.RawMessage

	CollectionID string
	CreatedAt    time.Time
	CreatedBy    string
}

// Head reports whether this row is an editable lineage head.
func (r VersionRow) Head() bool {
	return r.IsLatest && !r.IsArchived
}

// Payload is a partial content update. Nil fields carry over from the row
// being superseded. MajorChange is tri-state: nil means "not mentioned,
// carry over"; a non-nil value with a nil Doc means "explicitly cleared".
type Payload struct {
	Name        *string
	Description *string
	Doc         json.RawMessage
	MajorChange *MajorChange
}

type MajorChange struct {
	Doc json.RawMessage
}

// applyTo copies base's content fields and overlays the payload on top.
func (p Payload) applyTo(base VersionRow) VersionRow {
	next := base
	if p.Name != nil {
		next.Name = *p.Name
	}
	if p.Description != nil {
		next.Description = *p.Description
	}
	if p.Doc != nil {
		next.Doc = p.Doc
	}
	if p.MajorChange != nil {
		next.MajorChangeDescription = p.MajorChange.Doc
	}
	return next
}

// CreateInput is the payload for a brand-new object.
type CreateInput struct {
	Name                   string
	Description            string
	Doc                    json.RawMessage
	MajorChangeDescription json.RawMessage
	BranchType             BranchType
	CollectionID           string
	AuthorID               string
}

func (in CreateInput) validate(kind Kind) error {
	if strings.TrimSpace(in.Name) == "" {
		return &ValidationError{Field: "name", Message: "name is required"}
	}
	if in.AuthorID == "" {
		return &ValidationError{Field: "authorId", Message: "author is required"}
	}
	switch in.BranchType {
	case BranchPublished:
	case BranchDraft:
		if kind.Linear() {
			return &ValidationError{Field: "branchType", Message: "widgets do not support drafts"}
		}
	default:
		return &ValidationError{Field: "branchType", Message: "new objects must be published or draft"}
	}
	return nil
}
