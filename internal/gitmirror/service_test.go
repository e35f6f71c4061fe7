package gitmirror

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"toolshed/api/internal/engine"
)

func TestRecordPublishAndHistory(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	first := Content{
		Name:        "Retry Helper",
		Description: "retries transient failures",
		Doc:         json.RawMessage(`{"type":"doc","content":[{"type":"text","text":"backoff"}]}`),
		VersionID:   1,
	}
	if err := svc.RecordPublish("tool", "tool_1", first, "Avery", "Publish Retry Helper (version 1)"); err != nil {
		t.Fatalf("RecordPublish() error = %v", err)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "tool", "tool_1")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	second := first
	second.Description = "retries transient failures with a jittered delay"
	second.VersionID = 4
	if err := svc.RecordPublish("tool", "tool_1", second, "Blair", "Publish Retry Helper (version 4)"); err != nil {
		t.Fatalf("RecordPublish() error = %v", err)
	}

	history, err := svc.History("tool", "tool_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
	if history[0].Author != "Blair" || history[1].Author != "Avery" {
		t.Fatalf("unexpected authors: %+v", history)
	}

	content, err := svc.ContentAt("tool", "tool_1", history[0].Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if content.VersionID != 4 {
		t.Fatalf("unexpected content at head: %+v", content)
	}
}

func TestRecordPublishIgnoresUnchangedContent(t *testing.T) {
	svc := New(t.TempDir())

	content := Content{Name: "Probe", VersionID: 2}
	if err := svc.RecordPublish("tool", "tool_2", content, "Avery", "Publish Probe (version 2)"); err != nil {
		t.Fatalf("RecordPublish() error = %v", err)
	}
	// Same bytes again: replayed event, not a new commit.
	if err := svc.RecordPublish("tool", "tool_2", content, "Avery", "Publish Probe (version 2)"); err != nil {
		t.Fatalf("RecordPublish() replay error = %v", err)
	}

	history, err := svc.History("tool", "tool_2", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 commit after replay, got %d", len(history))
	}
}

func TestHistoryForUnknownObjectIsEmpty(t *testing.T) {
	svc := New(t.TempDir())

	history, err := svc.History("tool", "tool_missing", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected empty history, got %d entries", len(history))
	}
}

func TestConcurrentPublishesSameObject(t *testing.T) {
	svc := New(t.TempDir())

	const writers = 12
	var wg sync.WaitGroup
	errCh := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			content := Content{
				Name:      "Workbench",
				Doc:       json.RawMessage(fmt.Sprintf(`{"rev":%d}`, idx)),
				VersionID: int64(idx + 1),
			}
			if err := svc.RecordPublish("widget", "wdg_1", content, "Avery", fmt.Sprintf("Publish Workbench (version %d)", idx+1)); err != nil {
				errCh <- err
			}
		}(i)
	}
	wg.Wait()
	close(errCh)

	for err := range errCh {
		if err != nil {
			t.Fatalf("RecordPublish() concurrent error = %v", err)
		}
	}

	history, err := svc.History("widget", "wdg_1", 100)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != writers {
		t.Fatalf("expected %d commits, got %d", writers, len(history))
	}
}

type fakeHeadReader struct {
	heads map[string]*engine.VersionRow
}

func (f *fakeHeadReader) PublishedHead(_ context.Context, _ engine.Kind, staticID string) (*engine.VersionRow, error) {
	return f.heads[staticID], nil
}

func TestSyncerMirrorsPublishedHead(t *testing.T) {
	svc := New(t.TempDir())
	heads := &fakeHeadReader{heads: map[string]*engine.VersionRow{
		"tool_1": {
			ID:        9,
			StaticID:  "tool_1",
			Name:      "Retry Helper",
			Doc:       json.RawMessage(`{"type":"doc"}`),
			CreatedBy: "usr_1",
		},
	}}
	syncer := NewSyncer(heads, svc)

	syncer.Emit(context.Background(), engine.MutationEvent{Kind: engine.KindTool, StaticID: "tool_1", RowID: 9, Action: engine.ActionUpdate})

	history, err := svc.History("tool", "tool_1", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 1 {
		t.Fatalf("expected 1 commit, got %d", len(history))
	}
	if history[0].Message != "Publish Retry Helper (version 9)" {
		t.Fatalf("unexpected message: %q", history[0].Message)
	}
}

func TestSyncerSkipsUnpublishedObjects(t *testing.T) {
	svc := New(t.TempDir())
	syncer := NewSyncer(&fakeHeadReader{heads: map[string]*engine.VersionRow{}}, svc)

	syncer.Emit(context.Background(), engine.MutationEvent{Kind: engine.KindTool, StaticID: "tool_draft", RowID: 1, Action: engine.ActionCreate})

	history, err := svc.History("tool", "tool_draft", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 0 {
		t.Fatalf("expected no commits, got %d", len(history))
	}
}
