package store

import (
	"context"
	"fmt"
)

func (s *PostgresStore) InsertCollection(ctx context.Context, collection Collection) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (id, name, slug, description)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, collection.ID, collection.Name, collection.Slug, collection.Description)
	if err != nil {
		return fmt.Errorf("insert collection: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCollection(ctx context.Context, collectionID string) (Collection, error) {
	var item Collection
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, slug, description, created_at, updated_at
		FROM collections
		WHERE id=$1
	`, collectionID).Scan(&item.ID, &item.Name, &item.Slug, &item.Description, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Collection{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListCollections(ctx context.Context) ([]Collection, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, slug, description, created_at, updated_at
		FROM collections
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list collections: %w", err)
	}
	defer rows.Close()

	items := make([]Collection, 0)
	for rows.Next() {
		var item Collection
		if err := rows.Scan(&item.ID, &item.Name, &item.Slug, &item.Description, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate collections: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpsertCollectionMember(ctx context.Context, member CollectionMember) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collection_members (collection_id, user_id, role)
		VALUES ($1, $2, $3)
		ON CONFLICT (collection_id, user_id) DO UPDATE SET role=EXCLUDED.role
	`, member.CollectionID, member.UserID, member.Role)
	if err != nil {
		return fmt.Errorf("upsert collection member: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCollectionRole(ctx context.Context, collectionID, userID string) (string, error) {
	var role string
	err := s.db.QueryRowContext(ctx, `
		SELECT role FROM collection_members WHERE collection_id=$1 AND user_id=$2
	`, collectionID, userID).Scan(&role)
	if err != nil {
		return "", err
	}
	return role, nil
}

// CollectionAdminEmails returns the verified email addresses of a
// collection's admins. The suggestion notifier sends to these.
func (s *PostgresStore) CollectionAdminEmails(ctx context.Context, collectionID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.email
		FROM collection_members cm
		JOIN users u ON u.id = cm.user_id
		WHERE cm.collection_id=$1 AND cm.role='admin' AND u.is_email_verified
		ORDER BY u.email ASC
	`, collectionID)
	if err != nil {
		return nil, fmt.Errorf("list collection admin emails: %w", err)
	}
	defer rows.Close()

	emails := make([]string, 0)
	for rows.Next() {
		var email string
		if err := rows.Scan(&email); err != nil {
			return nil, fmt.Errorf("scan admin email: %w", err)
		}
		emails = append(emails, email)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate admin emails: %w", err)
	}
	return emails, nil
}
