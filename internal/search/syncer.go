package search

import (
	"context"
	"encoding/json"
	"log"
	"strings"

	"toolshed/api/internal/engine"
)

// indexSink is the subset of Service the syncer drives. Split out so tests
// can observe index traffic without a Meilisearch server.
type indexSink interface {
	IndexRecord(record Record)
	DeleteRecord(kind, staticID string)
}

// headReader loads published heads for the syncer.
type headReader interface {
	PublishedHead(ctx context.Context, kind engine.Kind, staticID string) (*engine.VersionRow, error)
	ListPublishedHeads(ctx context.Context, kind engine.Kind) ([]engine.VersionRow, error)
}

// Syncer keeps the search index in step with published content. It
// consumes engine mutation events after commit: whatever the event was,
// the object's current published head decides whether it is indexed or
// removed, so replays and out-of-order deliveries converge.
type Syncer struct {
	store headReader
	sink  indexSink
}

func NewSyncer(store headReader, sink indexSink) *Syncer {
	return &Syncer{store: store, sink: sink}
}

func (s *Syncer) Emit(ctx context.Context, event engine.MutationEvent) {
	head, err := s.store.PublishedHead(ctx, event.Kind, event.StaticID)
	if err != nil {
		log.Printf("search sync: head for %s: %v", event.StaticID, err)
		return
	}
	if head == nil {
		s.sink.DeleteRecord(string(event.Kind), event.StaticID)
	} else {
		s.sink.IndexRecord(s.recordFor(ctx, *head, event.Kind))
	}

	// Workflow records carry the names of the objects they embed, so a
	// workflow change fans out to published workflows that reference it.
	if event.Kind == engine.KindWorkflow {
		s.reindexEmbedders(ctx, event.StaticID)
	}
}

// reindexEmbedders refreshes every published workflow whose record text
// depends on the changed workflow, including transitive embedders. The
// affected set grows to a fixpoint, which also terminates on embed cycles.
func (s *Syncer) reindexEmbedders(ctx context.Context, staticID string) {
	heads, err := s.store.ListPublishedHeads(ctx, engine.KindWorkflow)
	if err != nil {
		log.Printf("search sync: list workflows embedding %s: %v", staticID, err)
		return
	}

	affected := map[string]bool{staticID: true}
	for changed := true; changed; {
		changed = false
		for _, head := range heads {
			if affected[head.StaticID] {
				continue
			}
			for _, ref := range docRefs(head.Doc) {
				if ref.workflow && affected[ref.staticID] {
					affected[head.StaticID] = true
					changed = true
					break
				}
			}
		}
	}

	for _, head := range heads {
		if head.StaticID == staticID || !affected[head.StaticID] {
			continue
		}
		s.sink.IndexRecord(s.recordFor(ctx, head, engine.KindWorkflow))
	}
}

func (s *Syncer) recordFor(ctx context.Context, row engine.VersionRow, kind engine.Kind) Record {
	record := Record{
		StaticID:     row.StaticID,
		Kind:         string(kind),
		Name:         row.Name,
		Description:  row.Description,
		Body:         DocText(row.Doc),
		CollectionID: row.CollectionID,
		UpdatedBy:    row.CreatedBy,
	}
	if kind == engine.KindWorkflow {
		if embedded := s.embeddedText(ctx, row.Doc); embedded != "" {
			record.Body = strings.TrimSpace(record.Body + " " + embedded)
		}
	}
	return record
}

const maxEmbedDepth = 5

// embeddedText resolves tool and workflow references inside a workflow doc
// to their published names, so a workflow is findable by the names of the
// steps it runs. Reference cycles between workflows are cut by a visited
// set and a depth cap.
func (s *Syncer) embeddedText(ctx context.Context, doc json.RawMessage) string {
	visited := make(map[string]bool)
	var parts []string
	s.collectRefs(ctx, doc, visited, 0, &parts)
	return strings.Join(parts, " ")
}

func (s *Syncer) collectRefs(ctx context.Context, doc json.RawMessage, visited map[string]bool, depth int, parts *[]string) {
	if depth >= maxEmbedDepth || len(doc) == 0 {
		return
	}
	for _, ref := range docRefs(doc) {
		if visited[ref.staticID] {
			continue
		}
		visited[ref.staticID] = true

		kind := engine.KindTool
		if ref.workflow {
			kind = engine.KindWorkflow
		}
		head, err := s.store.PublishedHead(ctx, kind, ref.staticID)
		if err != nil {
			log.Printf("search sync: resolve ref %s: %v", ref.staticID, err)
			continue
		}
		if head == nil {
			continue
		}
		*parts = append(*parts, head.Name)
		if ref.workflow {
			s.collectRefs(ctx, head.Doc, visited, depth+1, parts)
		}
	}
}

type docRef struct {
	staticID string
	workflow bool
}

// docRefs walks a document tree and collects toolRef/workflowRef nodes.
func docRefs(doc json.RawMessage) []docRef {
	var node map[string]json.RawMessage
	if err := json.Unmarshal(doc, &node); err != nil {
		var list []json.RawMessage
		if err := json.Unmarshal(doc, &list); err != nil {
			return nil
		}
		var refs []docRef
		for _, item := range list {
			refs = append(refs, docRefs(item)...)
		}
		return refs
	}

	var refs []docRef
	var nodeType string
	_ = json.Unmarshal(node["type"], &nodeType)
	if nodeType == "toolRef" || nodeType == "workflowRef" {
		var attrs struct {
			StaticID string `json:"staticId"`
		}
		if err := json.Unmarshal(node["attrs"], &attrs); err == nil && attrs.StaticID != "" {
			refs = append(refs, docRef{staticID: attrs.StaticID, workflow: nodeType == "workflowRef"})
		}
	}
	if content, ok := node["content"]; ok {
		refs = append(refs, docRefs(content)...)
	}
	return refs
}

// DocText flattens a document tree to its visible text for indexing.
func DocText(doc json.RawMessage) string {
	var parts []string
	collectText(doc, &parts)
	return strings.Join(parts, " ")
}

func collectText(doc json.RawMessage, parts *[]string) {
	if len(doc) == 0 {
		return
	}
	var node map[string]json.RawMessage
	if err := json.Unmarshal(doc, &node); err != nil {
		var list []json.RawMessage
		if err := json.Unmarshal(doc, &list); err != nil {
			return
		}
		for _, item := range list {
			collectText(item, parts)
		}
		return
	}
	if raw, ok := node["text"]; ok {
		var text string
		if err := json.Unmarshal(raw, &text); err == nil && strings.TrimSpace(text) != "" {
			*parts = append(*parts, text)
		}
	}
	if content, ok := node["content"]; ok {
		collectText(content, parts)
	}
}
