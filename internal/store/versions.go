package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"toolshed/api/internal/engine"
)

// PostgresStore is the durable version store. One table per content kind,
// identical shape; version tables are append-only, enforced by a trigger
// that rejects DELETE and any UPDATE beyond the is_latest flip.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

var versionTables = map[engine.Kind]string{
	engine.KindTool:     "tool_versions",
	engine.KindWorkflow: "workflow_versions",
	engine.KindWidget:   "widget_versions",
}

func tableFor(kind engine.Kind) (string, error) {
	table, ok := versionTables[kind]
	if !ok {
		return "", fmt.Errorf("no version table for kind %q", kind)
	}
	return table, nil
}

const versionColumns = `id, static_id, branch_type, branch_id, previous_version_id, branched_from_id,
	is_latest, is_archived, name, description, doc, major_change_description,
	collection_id, created_at, created_by_user_id`

// RunTx implements engine.Store. fn runs inside a serializable transaction
// and is retried a bounded number of times, with jittered backoff, when the
// store reports a transient failure (serialization conflict, deadlock,
// dropped connection). Domain errors from fn are never retried.
func (s *PostgresStore) RunTx(ctx context.Context, kind engine.Kind, fn func(tx engine.Tx) error) error {
	table, err := tableFor(kind)
	if err != nil {
		return err
	}

	return withRetry(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
		if err != nil {
			return fmt.Errorf("begin version tx: %w", err)
		}
		if err := fn(&versionTx{tx: tx, table: table}); err != nil {
			_ = tx.Rollback()
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit version tx: %w", err)
		}
		return nil
	})
}

type versionTx struct {
	tx    *sql.Tx
	table string
}

func (t *versionTx) Get(ctx context.Context, id int64) (engine.VersionRow, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1`, versionColumns, t.table)
	row, err := scanVersion(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return engine.VersionRow{}, engine.ErrVersionNotFound
	}
	if err != nil {
		return engine.VersionRow{}, fmt.Errorf("get version: %w", err)
	}
	return row, nil
}

func (t *versionTx) PublishedHead(ctx context.Context, staticID string) (*engine.VersionRow, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE static_id=$1 AND branch_type='published' AND is_latest
	`, versionColumns, t.table)
	return scanOptionalVersion(t.tx.QueryRowContext(ctx, query, staticID), "published head")
}

func (t *versionTx) BranchHead(ctx context.Context, branchID string) (*engine.VersionRow, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE branch_id=$1 AND is_latest
	`, versionColumns, t.table)
	return scanOptionalVersion(t.tx.QueryRowContext(ctx, query, branchID), "branch head")
}

func (t *versionTx) ActiveSuggestion(ctx context.Context, staticID string) (*engine.VersionRow, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE static_id=$1 AND branch_type='suggestion' AND is_latest AND NOT is_archived
	`, versionColumns, t.table)
	return scanOptionalVersion(t.tx.QueryRowContext(ctx, query, staticID), "active suggestion")
}

func (t *versionTx) Insert(ctx context.Context, row engine.VersionRow) (engine.VersionRow, error) {
	query := fmt.Sprintf(`
		INSERT INTO %s (static_id, branch_type, branch_id, previous_version_id, branched_from_id,
			is_latest, is_archived, name, description, doc, major_change_description,
			collection_id, created_by_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at
	`, t.table)
	err := t.tx.QueryRowContext(ctx, query,
		row.StaticID,
		string(row.BranchType),
		row.BranchID,
		row.PreviousVersionID,
		row.BranchedFromID,
		row.IsLatest,
		row.IsArchived,
		row.Name,
		row.Description,
		nullableJSON(row.Doc),
		nullableJSON(row.MajorChangeDescription),
		nullIfEmpty(row.CollectionID),
		row.CreatedBy,
	).Scan(&row.ID, &row.CreatedAt)
	if err != nil {
		return engine.VersionRow{}, fmt.Errorf("insert version: %w", err)
	}
	return row, nil
}

func (t *versionTx) ClearLatest(ctx context.Context, id int64) error {
	query := fmt.Sprintf(`UPDATE %s SET is_latest=FALSE WHERE id=$1 AND is_latest`, t.table)
	result, err := t.tx.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("clear latest: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("clear latest rows: %w", err)
	}
	if affected == 0 {
		return engine.ErrVersionNotFound
	}
	return nil
}

// Read side, outside any engine transaction. Used by the HTTP layer, the
// search synchronizer and the notifier.

func (s *PostgresStore) GetVersion(ctx context.Context, kind engine.Kind, id int64) (engine.VersionRow, error) {
	table, err := tableFor(kind)
	if err != nil {
		return engine.VersionRow{}, err
	}
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id=$1`, versionColumns, table)
	row, err := scanVersion(s.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return engine.VersionRow{}, engine.ErrVersionNotFound
	}
	if err != nil {
		return engine.VersionRow{}, fmt.Errorf("get version: %w", err)
	}
	return row, nil
}

func (s *PostgresStore) PublishedHead(ctx context.Context, kind engine.Kind, staticID string) (*engine.VersionRow, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE static_id=$1 AND branch_type='published' AND is_latest
	`, versionColumns, table)
	return scanOptionalVersion(s.db.QueryRowContext(ctx, query, staticID), "published head")
}

func (s *PostgresStore) ActiveSuggestion(ctx context.Context, kind engine.Kind, staticID string) (*engine.VersionRow, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE static_id=$1 AND branch_type='suggestion' AND is_latest AND NOT is_archived
	`, versionColumns, table)
	return scanOptionalVersion(s.db.QueryRowContext(ctx, query, staticID), "active suggestion")
}

// History returns every row ever written for an object, oldest first. Row
// ids are monotone, so id order is insertion order.
func (s *PostgresStore) History(ctx context.Context, kind engine.Kind, staticID string) ([]engine.VersionRow, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE static_id=$1
		ORDER BY id ASC
	`, versionColumns, table)
	rows, err := s.db.QueryContext(ctx, query, staticID)
	if err != nil {
		return nil, fmt.Errorf("list history: %w", err)
	}
	defer rows.Close()

	items := make([]engine.VersionRow, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history row: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return items, nil
}

// ListPublishedHeads returns the current published, unarchived heads for a
// kind, newest first. Used for listings and search reindexing.
func (s *PostgresStore) ListPublishedHeads(ctx context.Context, kind engine.Kind) ([]engine.VersionRow, error) {
	table, err := tableFor(kind)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		SELECT %s FROM %s
		WHERE branch_type='published' AND is_latest AND NOT is_archived
		ORDER BY created_at DESC
	`, versionColumns, table)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list published heads: %w", err)
	}
	defer rows.Close()

	items := make([]engine.VersionRow, 0)
	for rows.Next() {
		item, err := scanVersion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan published head: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate published heads: %w", err)
	}
	return items, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVersion(scanner rowScanner) (engine.VersionRow, error) {
	var (
		row         engine.VersionRow
		branchType  string
		branchID    sql.NullString
		previousID  sql.NullInt64
		branchedID  sql.NullInt64
		doc         []byte
		majorChange []byte
		collection  sql.NullString
	)
	err := scanner.Scan(
		&row.ID,
		&row.StaticID,
		&branchType,
		&branchID,
		&previousID,
		&branchedID,
		&row.IsLatest,
		&row.IsArchived,
		&row.Name,
		&row.Description,
		&doc,
		&majorChange,
		&collection,
		&row.CreatedAt,
		&row.CreatedBy,
	)
	if err != nil {
		return engine.VersionRow{}, err
	}
	row.BranchType = engine.BranchType(branchType)
	if branchID.Valid {
		row.BranchID = &branchID.String
	}
	if previousID.Valid {
		row.PreviousVersionID = &previousID.Int64
	}
	if branchedID.Valid {
		row.BranchedFromID = &branchedID.Int64
	}
	if doc != nil {
		row.Doc = json.RawMessage(doc)
	}
	if majorChange != nil {
		row.MajorChangeDescription = json.RawMessage(majorChange)
	}
	if collection.Valid {
		row.CollectionID = collection.String
	}
	return row, nil
}

func scanOptionalVersion(scanner rowScanner, what string) (*engine.VersionRow, error) {
	row, err := scanVersion(scanner)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", what, err)
	}
	return &row, nil
}

func nullableJSON(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return []byte(raw)
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
