package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"studyquiz/internal/db/dbtest"

	"github.com/jackc/pgx/v5/pgconn"
	"golang.org/x/crypto/bcrypt"
)

func TestTruncateRunes(t *testing.T) {
	if got := truncateRunes("short", 64); got != "short" {
		t.Fatalf("got %q", got)
	}
	long := strings.Repeat("猫", 70)
	got := truncateRunes(long, 64)
	if utf8.RuneCountInString(got) != 64 || !utf8.ValidString(got) {
		t.Fatalf("expected 64 valid runes, got %d", utf8.RuneCountInString(got))
	}
}

func TestIsUniqueViolation(t *testing.T) {
	wrapped := fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})
	if !isUniqueViolation(wrapped) {
		t.Fatalf("wrapped 23505 should be a unique violation")
	}
	if isUniqueViolation(&pgconn.PgError{Code: "23503"}) || isUniqueViolation(errors.New("23505")) {
		t.Fatalf("only pg 23505 counts")
	}
}

func TestHashTokenIsStable(t *testing.T) {
	a, b := hashToken("abc"), hashToken("abc")
	if a != b || len(a) != 64 || a == hashToken("abd") {
		t.Fatalf("unexpected hashes %q %q", a, b)
	}
}

func TestGenerateTokenUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 50; i++ {
		tok, err := generateToken(32)
		if err != nil {
			t.Fatalf("generate token: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate token %q", tok)
		}
		seen[tok] = true
	}
}

func TestRegisterRejectsEmptyFields(t *testing.T) {
	svc := NewService(nil, ServiceConfig{})
	if _, err := svc.Register(context.Background(), "  ", "pw"); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.Register(context.Background(), "alice", ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	if _, err := svc.GetSessionUser(context.Background(), ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestServiceSessionLifecycleIntegration(t *testing.T) {
	sqldb := dbtest.Open(t)
	ctx := context.Background()
	svc := NewService(sqldb, ServiceConfig{BcryptCost: bcrypt.MinCost})

	u, err := svc.Register(ctx, "alice", "secret")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.Register(ctx, "alice", "other"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	if _, err := svc.AuthenticatePassword(ctx, "alice", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.AuthenticatePassword(ctx, "alice", "secret"); err != nil {
		t.Fatalf("authenticate: %v", err)
	}

	token, _, err := svc.CreateSession(ctx, u.ID, "127.0.0.1", "test")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	got, err := svc.GetSessionUser(ctx, token)
	if err != nil || got.ID != u.ID {
		t.Fatalf("session user: %+v err=%v", got, err)
	}

	long := strings.Repeat("a", 80)
	updated, err := svc.UpdateAvatarSeed(ctx, u.ID, "  "+long+"  ")
	if err != nil || updated.AvatarSeed == nil || len(*updated.AvatarSeed) != 64 {
		t.Fatalf("avatar seed: %+v err=%v", updated, err)
	}
	cleared, err := svc.UpdateAvatarSeed(ctx, u.ID, "   ")
	if err != nil || cleared.AvatarSeed != nil {
		t.Fatalf("clear avatar seed: %+v err=%v", cleared, err)
	}

	p, err := svc.Profile(ctx, u.ID)
	if err != nil || p.CreatedQuestionsCount != 0 || p.Name != "alice" {
		t.Fatalf("profile: %+v err=%v", p, err)
	}

	if err := svc.RevokeSession(ctx, token); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := svc.GetSessionUser(ctx, token); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("revoked session should be unauthorized, got %v", err)
	}
}
