package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a
// fallback. It queries the published head rows directly, so it is always
// consistent with the store.
type PgFTS struct {
	db *sql.DB
}

func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true — if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

var versionTableByKind = map[string]string{
	"tool":     "tool_versions",
	"workflow": "workflow_versions",
	"widget":   "widget_versions",
}

// Search executes a UNION ALL query across the published heads of all
// version tables using plainto_tsquery and ts_rank, with ts_headline for
// snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string
	for _, kind := range indexedKinds {
		if q.Kind != "" && q.Kind != kind {
			continue
		}
		table := versionTableByKind[kind]
		where := fmt.Sprintf(
			"v.fts @@ %s AND v.branch_type = 'published' AND v.is_latest AND NOT v.is_archived",
			tsQuery,
		)
		if q.CollectionID != "" {
			where += fmt.Sprintf(" AND v.collection_id = $%d", argN)
			args = append(args, q.CollectionID)
			argN++
		}
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT '%s'::text AS kind, v.static_id, v.name,
				ts_headline('english', coalesce(v.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				coalesce(v.collection_id, '') AS collection_id,
				ts_rank(v.fts, %s) AS rank
			FROM %s v
			WHERE %s`, kind, tsQuery, tsQuery, table, where))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	dataSQL := fmt.Sprintf(`SELECT kind, static_id, name, snippet, collection_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		if err := rows.Scan(&r.Kind, &r.StaticID, &r.Name, &r.Snippet, &r.CollectionID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns every published head as an index record, for full
// reindexing into Meilisearch.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]Record, error) {
	records := make([]Record, 0)
	for _, kind := range indexedKinds {
		table := versionTableByKind[kind]
		rows, err := p.db.QueryContext(ctx, fmt.Sprintf(`
			SELECT static_id, name, coalesce(description, ''), coalesce(doc::text, ''), coalesce(collection_id, ''), created_by_user_id
			FROM %s
			WHERE branch_type = 'published' AND is_latest AND NOT is_archived
		`, table))
		if err != nil {
			return nil, fmt.Errorf("load %s records: %w", kind, err)
		}
		for rows.Next() {
			record := Record{Kind: kind}
			var rawDoc string
			if err := rows.Scan(&record.StaticID, &record.Name, &record.Description, &rawDoc, &record.CollectionID, &record.UpdatedBy); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan %s record: %w", kind, err)
			}
			record.Body = DocText([]byte(rawDoc))
			records = append(records, record)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("iterate %s records: %w", kind, err)
		}
		rows.Close()
	}
	return records, nil
}
