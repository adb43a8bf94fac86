package auth

import (
	"context"
	"errors"
	"testing"
)

func TestSignAndVerifySession(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	token, err := SignSession("google:sub-1", "alice@example.com", "Alice", "https://pic")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	claims, err := VerifySession(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "google:sub-1" {
		t.Fatalf("expected subject google:sub-1, got %q", claims.Subject)
	}
	if claims.Email != "alice@example.com" || claims.Name != "Alice" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifySessionRejectsTamperedToken(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	token, err := SignSession("google:sub-1", "", "", "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	if _, err := VerifySession(token + "x"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifySessionRejectsWrongSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "first-secret")
	token, err := SignSession("google:sub-1", "", "", "")
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	t.Setenv("JWT_SECRET", "second-secret")
	if _, err := VerifySession(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestSignSessionRequiresSecretAndIdentity(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := SignSession("google:sub-1", "", "", ""); err == nil {
		t.Fatalf("expected error without secret")
	}

	t.Setenv("JWT_SECRET", "test-secret")
	if _, err := SignSession("", "", "", ""); err == nil {
		t.Fatalf("expected error without identity")
	}
}

func TestIdentityContextRoundTrip(t *testing.T) {
	ctx := WithIdentity(context.Background(), "google:sub-1")
	if got := IdentityFromContext(ctx); got != "google:sub-1" {
		t.Fatalf("expected identity in context, got %q", got)
	}
	if got := IdentityFromContext(context.Background()); got != "" {
		t.Fatalf("expected empty identity, got %q", got)
	}
}
