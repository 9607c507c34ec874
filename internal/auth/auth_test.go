package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pollbox/pollbox/internal/models"
	"github.com/pollbox/pollbox/internal/testutil"
)

func TestPasswordHashing(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}
	if hash == "correct horse battery staple" {
		t.Fatal("Hash must not equal the plaintext")
	}
	if !CheckPassword(hash, "correct horse battery staple") {
		t.Error("Expected the right password to verify")
	}
	if CheckPassword(hash, "wrong password") {
		t.Error("Expected the wrong password to fail")
	}
}

func TestGenerateToken(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		token, err := GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken failed: %v", err)
		}
		if len(token) < 30 {
			t.Fatalf("Token too short: %q", token)
		}
		if seen[token] {
			t.Fatalf("Duplicate token generated: %q", token)
		}
		seen[token] = true
	}
}

func TestHashIP(t *testing.T) {
	a := HashIP("203.0.113.7", "salt-one")
	b := HashIP("203.0.113.7", "salt-one")
	if a != b {
		t.Error("Same input and salt must hash identically")
	}
	if HashIP("203.0.113.7", "salt-two") == a {
		t.Error("Different salts must produce different hashes")
	}
	if HashIP("203.0.113.8", "salt-one") == a {
		t.Error("Different IPs must produce different hashes")
	}
	if a == "203.0.113.7" {
		t.Error("Hash must not contain the raw address")
	}
}

func TestRegisterAndLogin(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := NewService(db, time.Hour)
	ctx := context.Background()

	user, err := svc.Register(ctx, "Ana@Example.com", "Ana", "a very long password")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if user.Email != "ana@example.com" {
		t.Errorf("Expected normalized email, got %q", user.Email)
	}
	if user.PasswordHash == "a very long password" {
		t.Error("Password stored in plaintext")
	}

	session, logged, err := svc.Login(ctx, "ana@example.com", "a very long password")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if logged.ID != user.ID {
		t.Errorf("Logged in as wrong user: %s", logged.ID)
	}

	resolved, err := svc.UserForToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("UserForToken failed: %v", err)
	}
	if resolved.ID != user.ID {
		t.Errorf("Token resolved to wrong user: %s", resolved.ID)
	}
}

func TestRegisterValidation(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := NewService(db, time.Hour)
	ctx := context.Background()

	tests := []struct {
		name     string
		email    string
		userName string
		password string
	}{
		{"empty email", "", "Ana", "a very long password"},
		{"not an email", "not-an-email", "Ana", "a very long password"},
		{"empty name", "ana@example.com", " ", "a very long password"},
		{"short password", "ana@example.com", "Ana", "short"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Register(ctx, tt.email, tt.userName, tt.password); !errors.Is(err, ErrBadRegistration) {
				t.Errorf("Expected ErrBadRegistration, got %v", err)
			}
		})
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := NewService(db, time.Hour)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ana@example.com", "Ana", "a very long password"); err != nil {
		t.Fatalf("First registration failed: %v", err)
	}
	_, err := svc.Register(ctx, "ana@example.com", "Other Ana", "another long password")
	if !errors.Is(err, ErrEmailTaken) {
		t.Errorf("Expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginWrongPassword(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := NewService(db, time.Hour)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ana@example.com", "Ana", "a very long password"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, _, err := svc.Login(ctx, "ana@example.com", "wrong password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "a very long password"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("Expected ErrInvalidCredentials for unknown email, got %v", err)
	}
}

func TestExpiredSessionRejected(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := NewService(db, time.Hour)
	ctx := context.Background()

	user := testutil.CreateUser(t, db, "ana@example.com")
	session := models.Session{
		Token:     "expired-token",
		UserID:    user.ID,
		ExpiresAt: time.Now().Add(-time.Minute),
	}
	if err := db.Create(&session).Error; err != nil {
		t.Fatalf("Failed to seed session: %v", err)
	}

	if _, err := svc.UserForToken(ctx, "expired-token"); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Expected ErrInvalidSession, got %v", err)
	}

	// The expired session is removed on sight.
	var n int64
	db.Model(&models.Session{}).Where("token = ?", "expired-token").Count(&n)
	if n != 0 {
		t.Error("Expected the expired session to be deleted")
	}
}

func TestLogout(t *testing.T) {
	db := testutil.OpenDB(t)
	svc := NewService(db, time.Hour)
	ctx := context.Background()

	if _, err := svc.Register(ctx, "ana@example.com", "Ana", "a very long password"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	session, _, err := svc.Login(ctx, "ana@example.com", "a very long password")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}

	if err := svc.Logout(ctx, session.Token); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := svc.UserForToken(ctx, session.Token); !errors.Is(err, ErrInvalidSession) {
		t.Errorf("Expected ErrInvalidSession after logout, got %v", err)
	}
}
