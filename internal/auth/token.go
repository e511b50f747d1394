package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const defaultIssuer = "ristoro"

// tokenClaims is the JWT body issued by the identity provider.
type tokenClaims struct {
	Email   string   `json:"email,omitempty"`
	Name    string   `json:"name,omitempty"`
	Picture string   `json:"picture,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	jwt.RegisteredClaims
}

// TokenVerifier turns verified HS256 bearer tokens into Claims.
type TokenVerifier struct {
	secret []byte
	issuer string
	skew   time.Duration
	now    func() time.Time
}

// VerifierOption configures TokenVerifier.
type VerifierOption func(*TokenVerifier)

// WithIssuer overrides the expected iss claim.
func WithIssuer(issuer string) VerifierOption {
	return func(v *TokenVerifier) {
		if s := strings.TrimSpace(issuer); s != "" {
			v.issuer = s
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) VerifierOption {
	return func(v *TokenVerifier) {
		if fn != nil {
			v.now = fn
		}
	}
}

// NewTokenVerifier constructs a verifier for tokens signed with secret.
func NewTokenVerifier(secret string, opts ...VerifierOption) (*TokenVerifier, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errors.New("auth secret is not configured")
	}
	v := &TokenVerifier{
		secret: []byte(secret),
		issuer: defaultIssuer,
		skew:   5 * time.Second,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Issue signs a token for claims valid for ttl. Used by dev tooling and tests;
// production tokens come from the external identity provider.
func (v *TokenVerifier) Issue(c Claims, ttl time.Duration) (string, time.Time, error) {
	if !c.Valid() {
		return "", time.Time{}, ErrAuthenticationRequired
	}
	if ttl <= 0 {
		return "", time.Time{}, errors.New("ttl must be greater than zero")
	}
	now := v.now().UTC()
	exp := now.Add(ttl)
	body := tokenClaims{
		Email:   c.Email,
		Name:    c.Name,
		Picture: c.Picture,
		Roles:   c.Roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    v.issuer,
			Subject:   strings.TrimSpace(c.Subject),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, body).SignedString(v.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, issuer and timestamps and returns the claims.
// Roles keep their order: the first entry is the primary role.
func (v *TokenVerifier) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &tokenClaims{}, func(t *jwt.Token) (any, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return v.secret, nil
	},
		jwt.WithIssuer(v.issuer),
		jwt.WithLeeway(v.skew),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	)
	if err != nil {
		return nil, ErrInvalidToken
	}
	body, ok := parsed.Claims.(*tokenClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(body.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return &Claims{
		Subject: body.Subject,
		Email:   body.Email,
		Name:    body.Name,
		Picture: body.Picture,
		Roles:   normalizeRoles(body.Roles),
	}, nil
}

// normalizeRoles lower-cases and drops blanks and duplicates while keeping
// the first occurrence in place.
func normalizeRoles(roles []string) []string {
	if len(roles) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(roles))
	var out []string
	for _, role := range roles {
		role = strings.TrimSpace(strings.ToLower(role))
		if role == "" {
			continue
		}
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		out = append(out, role)
	}
	return out
}
