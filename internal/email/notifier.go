package email

import (
	"context"
	"log"
	"net/url"

	"toolshed/api/internal/engine"
)

// Notifier builds links for account emails. When SMTP is not configured
// it degrades to a no-op so local development works without a mail server.
type Notifier struct {
	svc     *Service
	baseURL string
}

func NewNotifier(svc *Service, baseURL string) *Notifier {
	return &Notifier{svc: svc, baseURL: baseURL}
}

func (n *Notifier) SendVerificationEmail(to, token string) error {
	if !n.svc.IsConfigured() {
		log.Printf("email: verification token for %s: %s (smtp not configured)", to, token)
		return nil
	}
	return n.svc.SendVerificationEmail(to, n.baseURL+"/verify-email?token="+url.QueryEscape(token))
}

func (n *Notifier) SendPasswordResetEmail(to, token string) error {
	if !n.svc.IsConfigured() {
		log.Printf("email: password reset token for %s: %s (smtp not configured)", to, token)
		return nil
	}
	return n.svc.SendPasswordResetEmail(to, n.baseURL+"/reset-password?token="+url.QueryEscape(token))
}

// SuggestionStore is the storage surface the suggestion watcher reads.
type SuggestionStore interface {
	GetVersion(ctx context.Context, kind engine.Kind, id int64) (engine.VersionRow, error)
	CollectionAdminEmails(ctx context.Context, collectionID string) ([]string, error)
}

// SuggestionWatcher emails collection admins when a suggestion is opened
// against one of their objects, or updated while pending. It consumes engine mutation events after
// commit; delivery failures are logged and never fail the operation.
type SuggestionWatcher struct {
	store   SuggestionStore
	svc     *Service
	baseURL string
}

func NewSuggestionWatcher(store SuggestionStore, svc *Service, baseURL string) *SuggestionWatcher {
	return &SuggestionWatcher{store: store, svc: svc, baseURL: baseURL}
}

func (w *SuggestionWatcher) Emit(ctx context.Context, event engine.MutationEvent) {
	if event.Action == engine.ActionDelete {
		return
	}
	row, err := w.store.GetVersion(ctx, event.Kind, event.RowID)
	if err != nil {
		log.Printf("suggestion watcher: load row %d: %v", event.RowID, err)
		return
	}
	// Re-read at fire time: a suggestion that was archived or superseded
	// before delivery stays quiet.
	if row.BranchType != engine.BranchSuggestion || !row.Head() {
		return
	}
	if row.CollectionID == "" {
		return
	}
	admins, err := w.store.CollectionAdminEmails(ctx, row.CollectionID)
	if err != nil {
		log.Printf("suggestion watcher: admins for %s: %v", row.CollectionID, err)
		return
	}
	if len(admins) == 0 || !w.svc.IsConfigured() {
		return
	}
	reviewURL := w.baseURL + "/" + string(event.Kind) + "s/" + url.PathEscape(row.StaticID) + "/suggestion"
	if err := w.svc.SendSuggestionOpenedEmail(admins, row.Name, string(event.Kind), row.CreatedBy, reviewURL); err != nil {
		log.Printf("suggestion watcher: send for %s: %v", row.StaticID, err)
	}
}
