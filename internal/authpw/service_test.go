package authpw

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"toolshed/api/internal/store"
)

type passwordReset struct {
	userID    string
	expiresAt time.Time
	used      bool
}

// memUserStore is an in-memory UserStore for wiring the full sign-up /
// verify / reset flows without Postgres.
type memUserStore struct {
	users            map[string]store.User
	byEmail          map[string]string
	verifications    map[string]string // token -> userID
	resets           map[string]passwordReset
	markResetUsedErr error
}

func newMemUserStore() *memUserStore {
	return &memUserStore{
		users:         make(map[string]store.User),
		byEmail:       make(map[string]string),
		verifications: make(map[string]string),
		resets:        make(map[string]passwordReset),
	}
}

func (m *memUserStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	if id, ok := m.byEmail[email]; ok {
		return m.users[id], nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *memUserStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	if user, ok := m.users[id]; ok {
		return user, nil
	}
	return store.User{}, errors.New("user not found")
}

func (m *memUserStore) CreateUser(_ context.Context, user store.User) error {
	m.users[user.ID] = user
	m.byEmail[user.Email] = user.ID
	return nil
}

func (m *memUserStore) UpdateUserVerificationToken(_ context.Context, userID, token string, expiresAt time.Time) error {
	if user, ok := m.users[userID]; ok {
		user.VerificationToken = token
		user.VerificationExpiresAt = &expiresAt
		m.users[userID] = user
		m.verifications[token] = userID
	}
	return nil
}

func (m *memUserStore) VerifyUserEmail(_ context.Context, token string) error {
	userID, ok := m.verifications[token]
	if !ok {
		return errors.New("invalid token")
	}
	user := m.users[userID]
	user.IsEmailVerified = true
	m.users[userID] = user
	return nil
}

func (m *memUserStore) UpdateUserPassword(_ context.Context, userID, passwordHash string) error {
	user, ok := m.users[userID]
	if !ok {
		return errors.New("user not found")
	}
	user.PasswordHash = passwordHash
	m.users[userID] = user
	return nil
}

func (m *memUserStore) CreatePasswordReset(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.resets[token] = passwordReset{userID: userID, expiresAt: expiresAt}
	return nil
}

func (m *memUserStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	reset, ok := m.resets[token]
	if !ok || reset.used || time.Now().After(reset.expiresAt) {
		return "", errors.New("invalid or expired token")
	}
	return reset.userID, nil
}

func (m *memUserStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	if m.markResetUsedErr != nil {
		return m.markResetUsedErr
	}
	if reset, ok := m.resets[token]; ok {
		reset.used = true
		m.resets[token] = reset
	}
	return nil
}

func signUpVerified(t *testing.T, svc *Service, email string) *SignUpResponse {
	t.Helper()
	resp, err := svc.SignUp(context.Background(), SignUpRequest{
		Email:       email,
		Password:    "password123",
		DisplayName: "Avery",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}
	if err := svc.VerifyEmail(context.Background(), resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}
	return resp
}

func TestSignUp(t *testing.T) {
	ctx := context.Background()
	users := newMemUserStore()
	svc := NewService(users)

	t.Run("creates an unverified member account", func(t *testing.T) {
		resp, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "avery@example.com",
			Password:    "password123",
			DisplayName: "Avery",
		})
		if err != nil {
			t.Fatalf("SignUp() error = %v", err)
		}
		if !strings.HasPrefix(resp.UserID, "usr_") {
			t.Errorf("UserID = %q, want usr_ prefix", resp.UserID)
		}
		if resp.VerificationToken == "" {
			t.Error("expected a verification token")
		}
		if !resp.RequiresEmailVerify {
			t.Error("new accounts must require email verification")
		}
		user := users.users[resp.UserID]
		if user.Role != "member" {
			t.Errorf("role = %q, want member", user.Role)
		}
		if user.PasswordHash == "password123" || user.PasswordHash == "" {
			t.Error("password must be stored hashed")
		}
	})

	t.Run("rejects an already registered email", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "avery@example.com",
			Password:    "password123",
			DisplayName: "Imposter",
		})
		if err == nil {
			t.Fatal("expected error for duplicate email")
		}
	})

	t.Run("rejects a short password", func(t *testing.T) {
		_, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "blair@example.com",
			Password:    "short",
			DisplayName: "Blair",
		})
		if err == nil {
			t.Fatal("expected error for short password")
		}
	})

	t.Run("rejects missing fields", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{}); err == nil {
			t.Fatal("expected error for missing fields")
		}
	})
}

func TestSignIn(t *testing.T) {
	ctx := context.Background()
	users := newMemUserStore()
	svc := NewService(users)
	signUpVerified(t, svc, "avery@example.com")

	t.Run("verified account with correct password", func(t *testing.T) {
		resp, err := svc.SignIn(ctx, SignInRequest{Email: "avery@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("SignIn() error = %v", err)
		}
		if resp.RequiresVerify {
			t.Error("verified account should not require verification")
		}
		if resp.User.Email != "avery@example.com" {
			t.Errorf("user email = %q", resp.User.Email)
		}
	})

	t.Run("wrong password", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "avery@example.com", Password: "nope-nope"}); err == nil {
			t.Fatal("expected error for wrong password")
		}
	})

	t.Run("unknown email", func(t *testing.T) {
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "ghost@example.com", Password: "password123"}); err == nil {
			t.Fatal("expected error for unknown email")
		}
	})

	t.Run("unverified account flags RequiresVerify", func(t *testing.T) {
		if _, err := svc.SignUp(ctx, SignUpRequest{
			Email:       "blair@example.com",
			Password:    "password123",
			DisplayName: "Blair",
		}); err != nil {
			t.Fatalf("SignUp() error = %v", err)
		}
		resp, err := svc.SignIn(ctx, SignInRequest{Email: "blair@example.com", Password: "password123"})
		if err != nil {
			t.Fatalf("SignIn() error = %v", err)
		}
		if !resp.RequiresVerify {
			t.Error("unverified account must flag RequiresVerify")
		}
	})
}

func TestVerifyEmail(t *testing.T) {
	ctx := context.Background()
	users := newMemUserStore()
	svc := NewService(users)
	resp, err := svc.SignUp(ctx, SignUpRequest{
		Email:       "avery@example.com",
		Password:    "password123",
		DisplayName: "Avery",
	})
	if err != nil {
		t.Fatalf("SignUp() error = %v", err)
	}

	if err := svc.VerifyEmail(ctx, resp.VerificationToken); err != nil {
		t.Fatalf("VerifyEmail() error = %v", err)
	}
	user, _ := users.GetUserByID(ctx, resp.UserID)
	if !user.IsEmailVerified {
		t.Error("expected user to be verified")
	}

	if err := svc.VerifyEmail(ctx, "bogus-token"); err == nil {
		t.Fatal("expected error for unknown token")
	}
	if err := svc.VerifyEmail(ctx, ""); err == nil {
		t.Fatal("expected error for empty token")
	}
}

func TestPasswordReset(t *testing.T) {
	ctx := context.Background()
	users := newMemUserStore()
	svc := NewService(users)
	signUpVerified(t, svc, "avery@example.com")

	t.Run("unknown email yields empty token and no error", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "ghost@example.com")
		if err != nil {
			t.Fatalf("RequestPasswordReset() error = %v", err)
		}
		if token != "" {
			t.Errorf("token = %q, want empty for unknown email", token)
		}
	})

	t.Run("reset replaces the password", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "avery@example.com")
		if err != nil {
			t.Fatalf("RequestPasswordReset() error = %v", err)
		}
		if token == "" {
			t.Fatal("expected a reset token")
		}

		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "rotated-pass"}); err != nil {
			t.Fatalf("ResetPassword() error = %v", err)
		}
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "avery@example.com", Password: "password123"}); err == nil {
			t.Error("old password must stop working")
		}
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "avery@example.com", Password: "rotated-pass"}); err != nil {
			t.Errorf("new password rejected: %v", err)
		}

		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "another-pass"}); err == nil {
			t.Error("used token must not be accepted again")
		}
	})

	t.Run("reset succeeds when marking the token used fails", func(t *testing.T) {
		token, err := svc.RequestPasswordReset(ctx, "avery@example.com")
		if err != nil {
			t.Fatalf("RequestPasswordReset() error = %v", err)
		}
		users.markResetUsedErr = errors.New("reset table unavailable")
		defer func() { users.markResetUsedErr = nil }()

		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: token, NewPassword: "rotated-again"}); err != nil {
			t.Fatalf("ResetPassword() error = %v, want nil when only the mark step fails", err)
		}
		if _, err := svc.SignIn(ctx, SignInRequest{Email: "avery@example.com", Password: "rotated-again"}); err != nil {
			t.Errorf("new password rejected: %v", err)
		}
	})

	t.Run("invalid token", func(t *testing.T) {
		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: "bogus", NewPassword: "rotated-pass"}); err == nil {
			t.Fatal("expected error for invalid token")
		}
	})

	t.Run("short replacement password", func(t *testing.T) {
		if err := svc.ResetPassword(ctx, ResetPasswordRequest{Token: "whatever", NewPassword: "short"}); err == nil {
			t.Fatal("expected error for short password")
		}
	})
}
