package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/keyrelay/internal/config"
	"github.com/keyrelay/internal/models"
	"github.com/keyrelay/internal/repository"
)

func setupAuthServiceTest(t *testing.T) (*AuthService, *models.Admin) {
	t.Helper()
	db := setupServiceTestDB(t, "auth_service")
	cfg := &config.Config{JWT: config.JWTConfig{SecretKey: "test-secret", ExpireHours: 1}}
	svc := NewAuthService(cfg, repository.NewAdminRepository(db))

	if err := svc.EnsureAdmin(context.Background(), "root", "initial-pass"); err != nil {
		t.Fatalf("ensure admin failed: %v", err)
	}
	admin, err := repository.NewAdminRepository(db).GetByUsername(context.Background(), "root")
	if err != nil || admin == nil {
		t.Fatalf("load admin failed: %v", err)
	}
	return svc, admin
}

func TestAuthServiceLoginAndAuthenticate(t *testing.T) {
	svc, admin := setupAuthServiceTest(t)
	ctx := context.Background()

	if _, _, _, err := svc.Login(ctx, "root", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials, got %v", err)
	}
	if _, _, _, err := svc.Login(ctx, "nobody", "initial-pass"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected invalid credentials for unknown user, got %v", err)
	}

	logged, token, expiresAt, err := svc.Login(ctx, " root ", "initial-pass")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if logged.ID != admin.ID || token == "" || expiresAt.IsZero() || logged.LastLoginAt == nil {
		t.Fatalf("unexpected login result: admin=%+v token=%q", logged, token)
	}

	authed, err := svc.Authenticate(ctx, token)
	if err != nil || authed.ID != admin.ID {
		t.Fatalf("authenticate failed: admin=%+v err=%v", authed, err)
	}
	if authed.LastLoginAt == nil {
		t.Fatalf("last login should be persisted")
	}
	if _, err := svc.Authenticate(ctx, token+"x"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("tampered token must be rejected, got %v", err)
	}
}

func TestAuthServiceRejectsExpiredAndForeignTokens(t *testing.T) {
	svc, admin := setupAuthServiceTest(t)
	ctx := context.Background()

	token, _, err := svc.GenerateJWT(admin)
	if err != nil {
		t.Fatalf("generate token failed: %v", err)
	}
	svc.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := svc.Authenticate(ctx, token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expired token must be rejected, got %v", err)
	}
	svc.now = time.Now

	other := NewAuthService(&config.Config{JWT: config.JWTConfig{SecretKey: "other-secret"}}, nil)
	foreign, _, err := other.GenerateJWT(admin)
	if err != nil {
		t.Fatalf("generate foreign token failed: %v", err)
	}
	if _, err := svc.Authenticate(ctx, foreign); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("token signed with another key must be rejected, got %v", err)
	}
}

func TestAuthServiceChangePasswordRevokesTokens(t *testing.T) {
	svc, admin := setupAuthServiceTest(t)
	ctx := context.Background()
	_, token, _, err := svc.Login(ctx, "root", "initial-pass")
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if err := svc.ChangePassword(ctx, admin.ID, "wrong", "another-pass"); !errors.Is(err, ErrInvalidPassword) {
		t.Fatalf("expected invalid password, got %v", err)
	}
	if err := svc.ChangePassword(ctx, admin.ID, "initial-pass", "short"); !errors.Is(err, ErrWeakPassword) {
		t.Fatalf("expected weak password, got %v", err)
	}
	if err := svc.ChangePassword(ctx, 9999, "initial-pass", "another-pass"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := svc.ChangePassword(ctx, admin.ID, "initial-pass", "another-pass"); err != nil {
		t.Fatalf("change password failed: %v", err)
	}

	if _, err := svc.Authenticate(ctx, token); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old token must be revoked, got %v", err)
	}
	if _, _, _, err := svc.Login(ctx, "root", "another-pass"); err != nil {
		t.Fatalf("login with new password failed: %v", err)
	}
}

func TestAuthServiceEnsureAdminIsIdempotent(t *testing.T) {
	svc, _ := setupAuthServiceTest(t)
	ctx := context.Background()

	if err := svc.EnsureAdmin(ctx, "second", "second-pass"); err != nil {
		t.Fatalf("ensure admin failed: %v", err)
	}
	count, err := svc.adminRepo.Count(ctx)
	if err != nil {
		t.Fatalf("count admins failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("existing admin should prevent bootstrap, got %d admins", count)
	}
}
