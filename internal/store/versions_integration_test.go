package store

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"toolshed/api/internal/engine"
)

func getTestDatabaseURL(t *testing.T) string {
	t.Helper()
	databaseURL := os.Getenv("TOOLSHED_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("TOOLSHED_TEST_DATABASE_URL not set; skipping integration test")
	}
	return databaseURL
}

func openTestStore(t *testing.T) *PostgresStore {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	db, err := Open(ctx, getTestDatabaseURL(t))
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := ApplyMigrations(ctx, db, "../../db/migrations"); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return NewPostgresStore(db)
}

// TestVersionRowImmutabilityBlocksContentUpdate verifies the trigger
// rejects any UPDATE beyond the is_latest flip with SQLSTATE 55000.
func TestVersionRowImmutabilityBlocksContentUpdate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tool_versions (static_id, branch_type, name, created_by_user_id)
		VALUES ('tool_immutability_update', 'published', 'Original', 'user-test')
		RETURNING id
	`).Scan(&id)
	if err != nil {
		t.Fatalf("insert version row: %v", err)
	}

	_, err = s.db.ExecContext(ctx, `UPDATE tool_versions SET name='Tampered' WHERE id=$1`, id)
	if err == nil {
		t.Fatal("expected content UPDATE to be blocked, but it succeeded")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		t.Fatalf("expected a PostgreSQL error, got: %v", err)
	}
	if pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000, got: %s", pgErr.SQLState())
	}

	// The is_latest flip is the one permitted mutation.
	if _, err := s.db.ExecContext(ctx, `UPDATE tool_versions SET is_latest=FALSE WHERE id=$1`, id); err != nil {
		t.Fatalf("is_latest flip must be allowed: %v", err)
	}

	// ...but never back to latest.
	_, err = s.db.ExecContext(ctx, `UPDATE tool_versions SET is_latest=TRUE WHERE id=$1`, id)
	if !errors.As(err, &pgErr) || pgErr.SQLState() != "55000" {
		t.Fatalf("expected un-supersede to be blocked with 55000, got: %v", err)
	}
}

func TestVersionRowImmutabilityBlocksDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO tool_versions (static_id, branch_type, name, created_by_user_id)
		VALUES ('tool_immutability_delete', 'published', 'Keep me', 'user-test')
		RETURNING id
	`).Scan(&id)
	if err != nil {
		t.Fatalf("insert version row: %v", err)
	}

	_, err = s.db.ExecContext(ctx, `DELETE FROM tool_versions WHERE id=$1`, id)
	if err == nil {
		t.Fatal("expected DELETE to be blocked, but it succeeded")
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.SQLState() != "55000" {
		t.Fatalf("expected SQLSTATE 55000, got: %v", err)
	}
}

// TestPublishedHeadUniqueness verifies the partial unique index behind the
// single-published-head invariant.
func TestPublishedHeadUniqueness(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_versions (static_id, branch_type, name, created_by_user_id)
		VALUES ('tool_unique_head', 'published', 'First', 'user-test')
	`)
	if err != nil {
		t.Fatalf("insert first head: %v", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tool_versions (static_id, branch_type, name, created_by_user_id)
		VALUES ('tool_unique_head', 'published', 'Second', 'user-test')
	`)
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.SQLState() != "23505" {
		t.Fatalf("expected unique violation for a second published head, got: %v", err)
	}
}

// TestEngineLifecycleAgainstPostgres drives the engine end to end against
// the real store: draft, edit, merge, archive.
func TestEngineLifecycleAgainstPostgres(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	eng := engine.New(s, engine.NopEmitter{})

	draft, err := eng.Create(ctx, engine.KindTool, engine.CreateInput{
		Name:       "pg draft",
		BranchType: engine.BranchDraft,
		AuthorID:   "user-test",
	})
	if err != nil {
		t.Fatalf("create draft: %v", err)
	}

	name := "pg draft v2"
	edited, err := eng.Update(ctx, engine.KindTool, draft.ID, engine.Payload{Name: &name}, nil, "user-test")
	if err != nil {
		t.Fatalf("update draft: %v", err)
	}

	result, err := eng.Merge(ctx, engine.KindTool, edited.ID, nil, engine.Payload{}, "user-test")
	if err != nil {
		t.Fatalf("merge draft: %v", err)
	}
	if result.Published.ID >= result.Closed.ID {
		t.Fatalf("publish row must precede the close row: %d >= %d", result.Published.ID, result.Closed.ID)
	}

	history, err := s.History(ctx, engine.KindTool, draft.StaticID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("expected 4 history rows, got %d", len(history))
	}
	for i := 1; i < len(history); i++ {
		if history[i].ID <= history[i-1].ID {
			t.Fatalf("history must be ordered by id ascending")
		}
	}

	if _, err := eng.Archive(ctx, engine.KindTool, result.Published.ID, "user-test"); err != nil {
		t.Fatalf("archive: %v", err)
	}
	head, err := s.PublishedHead(ctx, engine.KindTool, draft.StaticID)
	if err != nil {
		t.Fatalf("published head: %v", err)
	}
	if head == nil || !head.IsArchived {
		t.Fatalf("expected an archived published head, got %+v", head)
	}

	// A stale edit against the pre-archive head is rejected by the store's
	// compare-and-swap.
	var stale *engine.StaleHeadError
	if _, err := eng.Update(ctx, engine.KindTool, result.Published.ID, engine.Payload{}, nil, "user-test"); !errors.As(err, &stale) {
		t.Fatalf("expected stale head, got %v", err)
	}
}
