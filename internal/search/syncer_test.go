package search

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"toolshed/api/internal/engine"
)

type fakeSink struct {
	indexed []Record
	deleted []string
}

func (f *fakeSink) IndexRecord(record Record)          { f.indexed = append(f.indexed, record) }
func (f *fakeSink) DeleteRecord(kind, staticID string) { f.deleted = append(f.deleted, staticID) }

type fakeHeads struct {
	heads map[string]*engine.VersionRow
}

func (f *fakeHeads) PublishedHead(_ context.Context, _ engine.Kind, staticID string) (*engine.VersionRow, error) {
	return f.heads[staticID], nil
}

func (f *fakeHeads) ListPublishedHeads(_ context.Context, kind engine.Kind) ([]engine.VersionRow, error) {
	var rows []engine.VersionRow
	for staticID, row := range f.heads {
		if strings.HasPrefix(staticID, kind.IDPrefix()+"_") {
			rows = append(rows, *row)
		}
	}
	return rows, nil
}

func TestDocText(t *testing.T) {
	doc := json.RawMessage(`{
		"type": "doc",
		"content": [
			{"type": "paragraph", "content": [{"type": "text", "text": "Retry with backoff"}]},
			{"type": "paragraph", "content": [{"type": "text", "text": "until the call succeeds"}]}
		]
	}`)
	got := DocText(doc)
	if got != "Retry with backoff until the call succeeds" {
		t.Fatalf("DocText = %q", got)
	}

	if got := DocText(nil); got != "" {
		t.Fatalf("DocText(nil) = %q, want empty", got)
	}
}

func TestSyncerIndexesPublishedHead(t *testing.T) {
	sink := &fakeSink{}
	heads := &fakeHeads{heads: map[string]*engine.VersionRow{
		"tool_1": {
			StaticID:     "tool_1",
			Name:         "Retry Helper",
			Description:  "retries transient failures",
			Doc:          json.RawMessage(`{"type":"doc","content":[{"type":"text","text":"exponential backoff"}]}`),
			CollectionID: "col_1",
			CreatedBy:    "usr_1",
		},
	}}
	syncer := NewSyncer(heads, sink)

	syncer.Emit(context.Background(), engine.MutationEvent{Kind: engine.KindTool, StaticID: "tool_1", RowID: 1, Action: engine.ActionCreate})

	if len(sink.indexed) != 1 {
		t.Fatalf("indexed %d records, want 1", len(sink.indexed))
	}
	record := sink.indexed[0]
	if record.Kind != "tool" || record.Name != "Retry Helper" {
		t.Fatalf("record = %+v", record)
	}
	if record.Body != "exponential backoff" {
		t.Fatalf("body = %q", record.Body)
	}
}

func TestSyncerDeletesWhenNoPublishedHead(t *testing.T) {
	sink := &fakeSink{}
	syncer := NewSyncer(&fakeHeads{heads: map[string]*engine.VersionRow{}}, sink)

	syncer.Emit(context.Background(), engine.MutationEvent{Kind: engine.KindTool, StaticID: "tool_gone", RowID: 7, Action: engine.ActionDelete})

	if len(sink.deleted) != 1 || sink.deleted[0] != "tool_gone" {
		t.Fatalf("deleted = %v", sink.deleted)
	}
	if len(sink.indexed) != 0 {
		t.Fatalf("unexpected index calls: %v", sink.indexed)
	}
}

func TestSyncerExpandsWorkflowRefs(t *testing.T) {
	sink := &fakeSink{}
	heads := &fakeHeads{heads: map[string]*engine.VersionRow{
		"wf_1": {
			StaticID: "wf_1",
			Name:     "Release",
			Doc: json.RawMessage(`{"type":"doc","content":[
				{"type":"toolRef","attrs":{"staticId":"tool_1"}},
				{"type":"workflowRef","attrs":{"staticId":"wf_2"}}
			]}`),
		},
		"wf_2": {
			StaticID: "wf_2",
			Name:     "Smoke Tests",
			Doc:      json.RawMessage(`{"type":"doc","content":[{"type":"toolRef","attrs":{"staticId":"tool_2"}}]}`),
		},
		"tool_1": {StaticID: "tool_1", Name: "Build Runner"},
		"tool_2": {StaticID: "tool_2", Name: "Probe"},
	}}
	syncer := NewSyncer(heads, sink)

	syncer.Emit(context.Background(), engine.MutationEvent{Kind: engine.KindWorkflow, StaticID: "wf_1", RowID: 3, Action: engine.ActionUpdate})

	if len(sink.indexed) != 1 {
		t.Fatalf("indexed %d records, want 1", len(sink.indexed))
	}
	body := sink.indexed[0].Body
	for _, want := range []string{"Build Runner", "Smoke Tests", "Probe"} {
		if !strings.Contains(body, want) {
			t.Fatalf("body %q missing %q", body, want)
		}
	}
}

func TestSyncerCutsWorkflowRefCycles(t *testing.T) {
	sink := &fakeSink{}
	heads := &fakeHeads{heads: map[string]*engine.VersionRow{
		"wf_a": {
			StaticID: "wf_a",
			Name:     "A",
			Doc:      json.RawMessage(`{"type":"doc","content":[{"type":"workflowRef","attrs":{"staticId":"wf_b"}}]}`),
		},
		"wf_b": {
			StaticID: "wf_b",
			Name:     "B",
			Doc:      json.RawMessage(`{"type":"doc","content":[{"type":"workflowRef","attrs":{"staticId":"wf_a"}}]}`),
		},
	}}
	syncer := NewSyncer(heads, sink)

	// Must terminate despite the A <-> B cycle. B embeds A, so it is
	// re-indexed alongside A itself.
	syncer.Emit(context.Background(), engine.MutationEvent{Kind: engine.KindWorkflow, StaticID: "wf_a", RowID: 1, Action: engine.ActionUpdate})

	if len(sink.indexed) != 2 {
		t.Fatalf("indexed %d records, want 2", len(sink.indexed))
	}
	if sink.indexed[0].StaticID != "wf_a" {
		t.Fatalf("first record = %q, want wf_a", sink.indexed[0].StaticID)
	}
	if !strings.Contains(sink.indexed[0].Body, "B") {
		t.Fatalf("body %q missing referenced workflow name", sink.indexed[0].Body)
	}
	if sink.indexed[1].StaticID != "wf_b" {
		t.Fatalf("second record = %q, want embedding workflow wf_b", sink.indexed[1].StaticID)
	}
}

func TestSyncerReindexesEmbeddingWorkflows(t *testing.T) {
	sink := &fakeSink{}
	heads := &fakeHeads{heads: map[string]*engine.VersionRow{
		"wf_leaf": {StaticID: "wf_leaf", Name: "Probe Hosts"},
		"wf_mid": {
			StaticID: "wf_mid",
			Name:     "Verify",
			Doc:      json.RawMessage(`{"type":"doc","content":[{"type":"workflowRef","attrs":{"staticId":"wf_leaf"}}]}`),
		},
		"wf_top": {
			StaticID: "wf_top",
			Name:     "Release",
			Doc:      json.RawMessage(`{"type":"doc","content":[{"type":"workflowRef","attrs":{"staticId":"wf_mid"}}]}`),
		},
		"wf_other": {StaticID: "wf_other", Name: "Unrelated"},
	}}
	syncer := NewSyncer(heads, sink)

	syncer.Emit(context.Background(), engine.MutationEvent{Kind: engine.KindWorkflow, StaticID: "wf_leaf", RowID: 2, Action: engine.ActionUpdate})

	indexed := make(map[string]bool)
	for _, record := range sink.indexed {
		indexed[record.StaticID] = true
	}
	for _, want := range []string{"wf_leaf", "wf_mid", "wf_top"} {
		if !indexed[want] {
			t.Fatalf("indexed %v, missing %s", indexed, want)
		}
	}
	if indexed["wf_other"] {
		t.Fatal("unrelated workflow should not be re-indexed")
	}
	if len(sink.indexed) != 3 {
		t.Fatalf("indexed %d records, want 3", len(sink.indexed))
	}
}

func TestSyncerToolChangeDoesNotFanOut(t *testing.T) {
	sink := &fakeSink{}
	heads := &fakeHeads{heads: map[string]*engine.VersionRow{
		"tool_1": {StaticID: "tool_1", Name: "Build Runner"},
		"wf_1": {
			StaticID: "wf_1",
			Name:     "Release",
			Doc:      json.RawMessage(`{"type":"doc","content":[{"type":"toolRef","attrs":{"staticId":"tool_1"}}]}`),
		},
	}}
	syncer := NewSyncer(heads, sink)

	syncer.Emit(context.Background(), engine.MutationEvent{Kind: engine.KindTool, StaticID: "tool_1", RowID: 1, Action: engine.ActionUpdate})

	if len(sink.indexed) != 1 || sink.indexed[0].StaticID != "tool_1" {
		t.Fatalf("indexed = %+v, want only tool_1", sink.indexed)
	}
}
