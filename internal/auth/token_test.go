package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestTokenIssueAndVerify(t *testing.T) {
	v, err := NewTokenVerifier("test-secret", WithIssuer("test-issuer"))
	if err != nil {
		t.Fatalf("NewTokenVerifier: %v", err)
	}
	token, exp, err := v.Issue(Claims{
		Subject: "user-42",
		Email:   "chef@example.com",
		Roles:   []string{"Staff", "admin", "staff"},
	}, 30*time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if time.Until(exp) <= 0 {
		t.Fatalf("expected future expiration, got %v", exp)
	}

	claims, err := v.Verify(token)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.Subject != "user-42" || claims.Email != "chef@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if len(claims.Roles) != 2 || claims.Roles[0] != "staff" || claims.Roles[1] != "admin" {
		t.Fatalf("roles should be normalized in order: %v", claims.Roles)
	}
	if PrimaryRole(claims) != RoleStaff {
		t.Fatalf("primary role = %s", PrimaryRole(claims))
	}
}

func TestTokenVerifyRejects(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	v, _ := NewTokenVerifier("test-secret", WithClock(func() time.Time { return now }))

	expired, _, err := v.Issue(Claims{Subject: "u1"}, time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	later, _ := NewTokenVerifier("test-secret", WithClock(func() time.Time { return now.Add(time.Hour) }))
	if _, err := later.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired token: expected ErrInvalidToken, got %v", err)
	}

	other, _ := NewTokenVerifier("other-secret", WithClock(func() time.Time { return now }))
	if _, err := other.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: expected ErrInvalidToken, got %v", err)
	}

	foreign, _ := NewTokenVerifier("test-secret", WithIssuer("someone-else"), WithClock(func() time.Time { return now }))
	if _, err := foreign.Verify(expired); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong issuer: expected ErrInvalidToken, got %v", err)
	}

	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{Subject: "u1", Issuer: defaultIssuer})
	unsigned, _ := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if _, err := v.Verify(unsigned); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("alg none: expected ErrInvalidToken, got %v", err)
	}

	if _, err := v.Verify("  "); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("blank token: expected ErrInvalidToken, got %v", err)
	}
}

func TestIssueRequiresSubject(t *testing.T) {
	v, _ := NewTokenVerifier("test-secret")
	if _, _, err := v.Issue(Claims{}, time.Minute); !errors.Is(err, ErrAuthenticationRequired) {
		t.Fatalf("expected ErrAuthenticationRequired, got %v", err)
	}
	if _, err := NewTokenVerifier(" "); err == nil {
		t.Fatal("expected error for empty secret")
	}
}

func TestClaimsContext(t *testing.T) {
	ctx := context.Background()
	if ClaimsFromContext(ctx) != nil {
		t.Fatal("expected no claims")
	}
	c := &Claims{Subject: "user-7", Roles: []string{"admin"}}
	ctx = ContextWithClaims(ctx, c)
	if got := ClaimsFromContext(ctx); got == nil || got.Subject != "user-7" {
		t.Fatalf("unexpected claims from context: %+v", got)
	}
}
