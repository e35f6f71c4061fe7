// Package search indexes published content heads and serves full-text
// queries. Meilisearch is the primary backend; PostgreSQL FTS is the
// always-available fallback.
package search

// Result is a single search hit returned to the caller.
type Result struct {
	Kind         string `json:"kind"`
	StaticID     string `json:"staticId"`
	Name         string `json:"name"`
	Snippet      string `json:"snippet"`
	CollectionID string `json:"collectionId,omitempty"`
}

// Query describes a search request.
type Query struct {
	Text         string
	Kind         string // empty = all kinds
	CollectionID string
	Limit        int
	Offset       int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Record is the data indexed per published object. StaticID is the
// primary key, so re-indexing after a new publish overwrites in place.
type Record struct {
	StaticID     string `json:"staticId"`
	Kind         string `json:"kind"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Body         string `json:"body"`
	CollectionID string `json:"collectionId"`
	UpdatedBy    string `json:"updatedBy"`
}

var indexedKinds = []string{"tool", "workflow", "widget"}
