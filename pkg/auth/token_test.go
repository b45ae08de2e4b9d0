package auth

import (
	"errors"
	"testing"
	"time"

	"studyshare/pkg/domain"
)

func TestIssueAndVerifyRoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	token, err := issuer.Issue("user-1", domain.RoleStudent)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" {
		t.Fatalf("subject = %q, want user-1", claims.Subject)
	}
	if claims.Role != domain.RoleStudent {
		t.Fatalf("role = %q, want student", claims.Role)
	}
}

func TestVerifyCarriesAdminRole(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	token, err := issuer.Issue("admin", domain.RoleAdmin)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Role != domain.RoleAdmin {
		t.Fatalf("role = %q, want admin", claims.Role)
	}
}

func TestVerifyRejectsForeignSecret(t *testing.T) {
	issuer, err := NewTokenIssuer("secret-a", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	other, err := NewTokenIssuer("secret-b", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	token, err := other.Issue("user-1", domain.RoleStudent)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := issuer.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	issuer, err := NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new issuer: %v", err)
	}
	if _, err := issuer.Verify("not.a.token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestNewTokenIssuerRequiresSecret(t *testing.T) {
	if _, err := NewTokenIssuer("", time.Hour); err == nil {
		t.Fatalf("expected constructor error for empty secret")
	}
}
