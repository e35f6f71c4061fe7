package email

import (
	"context"
	"strings"
	"testing"
	"time"

	"toolshed/api/internal/engine"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "noreply@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "noreply@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderVerificationTemplate(t *testing.T) {
	html, err := renderTemplate(verificationEmailTemplate, verificationData{
		AppName:         "Toolshed",
		VerificationURL: "https://example.com/verify?token=abc123",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Toolshed") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "https://example.com/verify?token=abc123") {
		t.Error("template should contain verification URL")
	}
}

func TestRenderPasswordResetTemplate(t *testing.T) {
	html, err := renderTemplate(passwordResetEmailTemplate, passwordResetData{
		AppName:  "Toolshed",
		ResetURL: "https://example.com/reset?token=xyz789",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "https://example.com/reset?token=xyz789") {
		t.Error("template should contain reset URL")
	}
	if !strings.Contains(html, "1 hour") {
		t.Error("template should mention expiration time")
	}
}

func TestRenderSuggestionTemplate(t *testing.T) {
	html, err := renderTemplate(suggestionEmailTemplate, suggestionData{
		AppName:    "Toolshed",
		ObjectName: "Retry Helper",
		ObjectKind: "tool",
		AuthorName: "usr_abc",
		ReviewURL:  "https://example.com/tools/tool_1/suggestion",
	})
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Retry Helper") {
		t.Error("template should contain object name")
	}
	if !strings.Contains(html, "https://example.com/tools/tool_1/suggestion") {
		t.Error("template should contain review URL")
	}
}

type fakeSuggestionStore struct {
	rows        map[int64]engine.VersionRow
	adminCalls  []string
	adminEmails []string
}

func (f *fakeSuggestionStore) GetVersion(_ context.Context, _ engine.Kind, id int64) (engine.VersionRow, error) {
	row, ok := f.rows[id]
	if !ok {
		return engine.VersionRow{}, engine.ErrVersionNotFound
	}
	return row, nil
}

func (f *fakeSuggestionStore) CollectionAdminEmails(_ context.Context, collectionID string) ([]string, error) {
	f.adminCalls = append(f.adminCalls, collectionID)
	return f.adminEmails, nil
}

func TestSuggestionWatcherIgnoresNonSuggestions(t *testing.T) {
	branch := "br_1"
	fake := &fakeSuggestionStore{
		rows: map[int64]engine.VersionRow{
			1: {ID: 1, StaticID: "tool_1", BranchType: engine.BranchPublished, IsLatest: true, CollectionID: "col_1", CreatedAt: time.Now()},
			2: {ID: 2, StaticID: "tool_1", BranchType: engine.BranchDraft, BranchID: &branch, IsLatest: true, CollectionID: "col_1"},
		},
		adminEmails: []string{"admin@example.com"},
	}
	watcher := NewSuggestionWatcher(fake, NewService(Config{}), "https://toolshed.example.com")

	watcher.Emit(context.Background(), engine.MutationEvent{Kind: engine.KindTool, StaticID: "tool_1", RowID: 1, Action: engine.ActionCreate})
	watcher.Emit(context.Background(), engine.MutationEvent{Kind: engine.KindTool, StaticID: "tool_1", RowID: 2, Action: engine.ActionUpdate})

	if len(fake.adminCalls) != 0 {
		t.Fatalf("admin lookup called for non-suggestion rows: %v", fake.adminCalls)
	}
}

func TestSuggestionWatcherIgnoresSupersededSuggestion(t *testing.T) {
	branch := "br_2"
	prev := int64(5)
	fake := &fakeSuggestionStore{
		rows: map[int64]engine.VersionRow{
			6: {ID: 6, StaticID: "tool_1", BranchType: engine.BranchSuggestion, BranchID: &branch, PreviousVersionID: &prev, IsLatest: false, CollectionID: "col_1"},
			7: {ID: 7, StaticID: "tool_1", BranchType: engine.BranchSuggestion, BranchID: &branch, PreviousVersionID: &prev, IsLatest: true, IsArchived: true, CollectionID: "col_1"},
		},
		adminEmails: []string{"admin@example.com"},
	}
	watcher := NewSuggestionWatcher(fake, NewService(Config{}), "https://toolshed.example.com")

	watcher.Emit(context.Background(), engine.MutationEvent{Kind: engine.KindTool, StaticID: "tool_1", RowID: 6, Action: engine.ActionUpdate})
	watcher.Emit(context.Background(), engine.MutationEvent{Kind: engine.KindTool, StaticID: "tool_1", RowID: 7, Action: engine.ActionUpdate})

	if len(fake.adminCalls) != 0 {
		t.Fatal("superseded or archived suggestion rows should not notify")
	}
}

func TestSuggestionWatcherNotifiesOnPendingUpdate(t *testing.T) {
	branch := "br_2"
	prev := int64(5)
	fake := &fakeSuggestionStore{
		rows: map[int64]engine.VersionRow{
			6: {ID: 6, StaticID: "tool_1", Name: "Retry Helper", BranchType: engine.BranchSuggestion, BranchID: &branch, PreviousVersionID: &prev, IsLatest: true, CollectionID: "col_1", CreatedBy: "usr_2"},
		},
		adminEmails: []string{"admin@example.com"},
	}
	watcher := NewSuggestionWatcher(fake, NewService(Config{}), "https://toolshed.example.com")

	watcher.Emit(context.Background(), engine.MutationEvent{Kind: engine.KindTool, StaticID: "tool_1", RowID: 6, Action: engine.ActionUpdate})

	if len(fake.adminCalls) != 1 || fake.adminCalls[0] != "col_1" {
		t.Fatalf("admin lookup calls = %v, want [col_1]", fake.adminCalls)
	}
}

func TestSuggestionWatcherLooksUpAdmins(t *testing.T) {
	branch := "br_3"
	fake := &fakeSuggestionStore{
		rows: map[int64]engine.VersionRow{
			9: {ID: 9, StaticID: "wf_1", Name: "Release Playbook", BranchType: engine.BranchSuggestion, BranchID: &branch, IsLatest: true, CollectionID: "col_2", CreatedBy: "usr_9"},
		},
		adminEmails: []string{"admin@example.com"},
	}
	watcher := NewSuggestionWatcher(fake, NewService(Config{}), "https://toolshed.example.com")

	watcher.Emit(context.Background(), engine.MutationEvent{Kind: engine.KindWorkflow, StaticID: "wf_1", RowID: 9, Action: engine.ActionUpdate})

	if len(fake.adminCalls) != 1 || fake.adminCalls[0] != "col_2" {
		t.Fatalf("admin lookup calls = %v, want [col_2]", fake.adminCalls)
	}
}
