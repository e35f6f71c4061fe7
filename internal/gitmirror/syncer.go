package gitmirror

import (
	"context"
	"fmt"
	"log"

	"toolshed/api/internal/engine"
)

type headReader interface {
	PublishedHead(ctx context.Context, kind engine.Kind, staticID string) (*engine.VersionRow, error)
}

// Syncer mirrors published heads into git after each mutation. Only the
// published branch is mirrored; drafts and suggestions stay out of the
// repos until they land.
type Syncer struct {
	store headReader
	svc   *Service
}

func NewSyncer(store headReader, svc *Service) *Syncer {
	return &Syncer{store: store, svc: svc}
}

func (s *Syncer) Emit(ctx context.Context, event engine.MutationEvent) {
	head, err := s.store.PublishedHead(ctx, event.Kind, event.StaticID)
	if err != nil {
		log.Printf("git mirror: head for %s: %v", event.StaticID, err)
		return
	}
	if head == nil {
		return
	}

	content := Content{
		Name:        head.Name,
		Description: head.Description,
		Doc:         head.Doc,
		VersionID:   head.ID,
	}
	message := fmt.Sprintf("Publish %s (version %d)", head.Name, head.ID)
	if err := s.svc.RecordPublish(string(event.Kind), event.StaticID, content, head.CreatedBy, message); err != nil {
		log.Printf("git mirror: record publish %s: %v", event.StaticID, err)
	}
}
