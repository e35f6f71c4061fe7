package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Collection is the owning container of content objects. Admins of a
// collection are notified when suggestions are opened against its objects.
type Collection struct {
	ID          string
	Name        string
	Slug        string
	Description string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type CollectionMember struct {
	CollectionID string
	UserID       string
	Role         string
	CreatedAt    time.Time
}
