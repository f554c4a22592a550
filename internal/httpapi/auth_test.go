package httpapi

import (
	"context"
	"testing"
	"time"

	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/domain"
	"github.com/michel-mokbel/ets-system-fashion-sub006/internal/store/memory"
)

func TestLoginAndParseToken(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager(repo, "test-secret", time.Hour)

	resp, err := auth.Login(context.Background(), "Admin ", "admin123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if resp.Role != "admin" {
		t.Fatalf("role = %q, want admin", resp.Role)
	}

	actor, err := auth.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if actor.Username != "admin" || actor.Role != "admin" {
		t.Fatalf("actor = %+v", actor)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	repo := memory.NewSeeded()
	issuer := NewAuthManager(repo, "secret-a", time.Hour)
	verifier := NewAuthManager(repo, "secret-b", time.Hour)

	resp, err := issuer.Login(context.Background(), "admin", "admin123")
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if _, err := verifier.ParseToken(resp.AccessToken); err == nil {
		t.Fatal("token signed with another secret must be rejected")
	}
}

func TestLoginRejectsInactiveUser(t *testing.T) {
	repo := memory.New()
	hashed, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	repo.AddUser(domain.UserAccount{Username: "ghost", Password: hashed, Role: "cashier", Active: false})

	auth := NewAuthManager(repo, "test-secret", time.Hour)
	if _, err := auth.Login(context.Background(), "ghost", "pw"); err == nil {
		t.Fatal("inactive user must not log in")
	}
}

func TestVerifyManagerPassword(t *testing.T) {
	repo := memory.NewSeeded()
	auth := NewAuthManager(repo, "test-secret", time.Hour)

	allowed, err := auth.VerifyManagerPassword(context.Background(), "admin", "9999")
	if err != nil {
		t.Fatalf("VerifyManagerPassword: %v", err)
	}
	if !allowed {
		t.Fatal("correct manager password denied")
	}

	allowed, err = auth.VerifyManagerPassword(context.Background(), "admin", "1234")
	if err != nil {
		t.Fatalf("VerifyManagerPassword: %v", err)
	}
	if allowed {
		t.Fatal("wrong manager password allowed")
	}

	allowed, err = auth.VerifyManagerPassword(context.Background(), "nobody", "9999")
	if err != nil {
		t.Fatalf("VerifyManagerPassword: %v", err)
	}
	if allowed {
		t.Fatal("unknown user allowed")
	}
}

func TestEnsureUsersCreatesDefaultAdmin(t *testing.T) {
	repo := memory.New()

	if err := EnsureUsers(context.Background(), repo, "boot-pass", "boot-9999"); err != nil {
		t.Fatalf("EnsureUsers: %v", err)
	}

	auth := NewAuthManager(repo, "test-secret", time.Hour)
	resp, err := auth.Login(context.Background(), "admin", "boot-pass")
	if err != nil {
		t.Fatalf("Login after bootstrap: %v", err)
	}
	if resp.Role != "admin" {
		t.Fatalf("role = %q, want admin", resp.Role)
	}

	allowed, err := auth.VerifyManagerPassword(context.Background(), "admin", "boot-9999")
	if err != nil {
		t.Fatalf("VerifyManagerPassword: %v", err)
	}
	if !allowed {
		t.Fatal("bootstrap manager password denied")
	}
}

func TestEnsureUsersIsIdempotent(t *testing.T) {
	repo := memory.New()

	if err := EnsureUsers(context.Background(), repo, "first-pass", "9999"); err != nil {
		t.Fatalf("EnsureUsers: %v", err)
	}
	if err := EnsureUsers(context.Background(), repo, "second-pass", "0000"); err != nil {
		t.Fatalf("second EnsureUsers: %v", err)
	}

	users, err := repo.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("users = %d, want 1", len(users))
	}

	auth := NewAuthManager(repo, "test-secret", time.Hour)
	if _, err := auth.Login(context.Background(), "admin", "first-pass"); err != nil {
		t.Fatalf("original password must survive a re-run: %v", err)
	}
}

func TestEnsureUsersUpgradesPlaintextPasswords(t *testing.T) {
	repo := memory.New()
	repo.AddUser(domain.UserAccount{
		Username: "legacy",
		Password: "imported-plain",
		Role:     "cashier",
		Active:   true,
	})

	if err := EnsureUsers(context.Background(), repo, "admin123", "9999"); err != nil {
		t.Fatalf("EnsureUsers: %v", err)
	}

	user, err := repo.GetUser(context.Background(), "legacy")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if user.Password == "imported-plain" {
		t.Fatal("plaintext password not upgraded")
	}

	auth := NewAuthManager(repo, "test-secret", time.Hour)
	if _, err := auth.Login(context.Background(), "legacy", "imported-plain"); err != nil {
		t.Fatalf("Login with original password after upgrade: %v", err)
	}
}

func TestVerifyManagerPasswordWithoutHashDenied(t *testing.T) {
	repo := memory.New()
	hashed, err := HashPassword("pw")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	repo.AddUser(domain.UserAccount{Username: "clerk", Password: hashed, Role: "cashier", Active: true})

	auth := NewAuthManager(repo, "test-secret", time.Hour)
	allowed, err := auth.VerifyManagerPassword(context.Background(), "clerk", "anything")
	if err != nil {
		t.Fatalf("VerifyManagerPassword: %v", err)
	}
	if allowed {
		t.Fatal("user without manager password must be denied")
	}
}
