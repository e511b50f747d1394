package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"ristoro.dev/internal/audit"
	"ristoro.dev/internal/auth"
	"ristoro.dev/internal/ids"
)

// ErrBlocked is returned when a blocked user attempts any operation.
var ErrBlocked = fmt.Errorf("%w: user is blocked", auth.ErrInsufficientPermissions)

// User is the persisted account row keyed by the identity provider subject.
type User struct {
	ID          string     `json:"id"`
	Subject     string     `json:"subject"`
	Email       string     `json:"email,omitempty"`
	Name        string     `json:"name,omitempty"`
	Avatar      string     `json:"avatar,omitempty"`
	Role        auth.Role  `json:"role"`
	IsActive    bool       `json:"is_active"`
	IsBlocked   bool       `json:"is_blocked"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type ctxKey struct{}

// ContextWithUser attaches the resolved caller so later Resolve calls in the
// same request skip the store.
func ContextWithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the caller attached by ContextWithUser.
func FromContext(ctx context.Context) (User, bool) {
	if ctx == nil {
		return User{}, false
	}
	u, ok := ctx.Value(ctxKey{}).(User)
	return u, ok
}

// Profile is a user with permissions derived from the stored role.
type Profile struct {
	User        User     `json:"user"`
	Permissions []string `json:"permissions"`
}

// Store persists users. InsertIfAbsent must be atomic with respect to
// Subject: concurrent callers for one subject observe a single row.
type Store interface {
	InsertIfAbsent(ctx context.Context, u *User) (User, bool, error)
	FindBySubject(ctx context.Context, subject string) (User, error)
	FindByID(ctx context.Context, id string) (User, error)
	List(ctx context.Context) ([]User, error)
	UpdateRole(ctx context.Context, id string, role auth.Role) (User, error)
	SetBlocked(ctx context.Context, id string, blocked bool) (User, error)
	TouchLogin(ctx context.Context, id string, at time.Time) error
}

// Service provisions users and applies admin changes to them.
type Service struct {
	store Store
	audit *audit.Logger
	now   func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService constructs Service. auditLog may be nil.
func NewService(store Store, auditLog *audit.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("user store is required")
	}
	s := &Service{store: store, audit: auditLog, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// GetOrCreate returns the row for claims.Subject, creating it with the
// primary role of claims on first contact. An existing row keeps its stored
// role whatever the claims say now.
func (s *Service) GetOrCreate(ctx context.Context, claims *auth.Claims) (Profile, error) {
	if !claims.Valid() {
		return Profile{}, auth.ErrAuthenticationRequired
	}
	now := s.now().UTC()
	candidate := &User{
		ID:        ids.New(),
		Subject:   strings.TrimSpace(claims.Subject),
		Email:     strings.TrimSpace(strings.ToLower(claims.Email)),
		Name:      strings.TrimSpace(claims.Name),
		Avatar:    strings.TrimSpace(claims.Picture),
		Role:      auth.PrimaryRole(claims),
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	user, created, err := s.store.InsertIfAbsent(ctx, candidate)
	if err != nil {
		return Profile{}, fmt.Errorf("provision user: %w", err)
	}
	if user.IsBlocked {
		return Profile{}, ErrBlocked
	}
	if created {
		s.audit.Record(ctx, audit.Entry{
			UserID:     user.ID,
			Action:     "user.provision",
			Resource:   "user",
			ResourceID: user.ID,
			Details:    map[string]string{"role": string(user.Role)},
		})
	}
	if err := s.store.TouchLogin(ctx, user.ID, now); err == nil {
		user.LastLoginAt = &now
	}
	return profileOf(user), nil
}

// Resolve maps claims to the persisted user, provisioning if needed. A user
// already attached to ctx for the same subject is returned as is.
func (s *Service) Resolve(ctx context.Context, claims *auth.Claims) (User, error) {
	if !claims.Valid() {
		return User{}, auth.ErrAuthenticationRequired
	}
	if u, ok := FromContext(ctx); ok && u.Subject == strings.TrimSpace(claims.Subject) {
		return u, nil
	}
	p, err := s.GetOrCreate(ctx, claims)
	if err != nil {
		return User{}, err
	}
	return p.User, nil
}

// Me is the caller's own profile.
func (s *Service) Me(ctx context.Context, claims *auth.Claims) (Profile, error) {
	u, err := s.Resolve(ctx, claims)
	if err != nil {
		return Profile{}, err
	}
	return profileOf(u), nil
}

// Get returns a user by id. Requires users:read.
func (s *Service) Get(ctx context.Context, claims *auth.Claims, id string) (Profile, error) {
	if err := auth.RequirePermission(claims, auth.PermUsersRead); err != nil {
		return Profile{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Profile{}, fmt.Errorf("%w: user_id is required", auth.ErrInvalidInput)
	}
	u, err := s.store.FindByID(ctx, id)
	if err != nil {
		return Profile{}, err
	}
	return profileOf(u), nil
}

// List returns all users. Requires users:read.
func (s *Service) List(ctx context.Context, claims *auth.Claims) ([]User, error) {
	if err := auth.RequirePermission(claims, auth.PermUsersRead); err != nil {
		return nil, err
	}
	return s.store.List(ctx)
}

// UpdateRole is the only path that changes a stored role. Requires users:write.
func (s *Service) UpdateRole(ctx context.Context, claims *auth.Claims, id string, raw string) (User, error) {
	if err := auth.RequirePermission(claims, auth.PermUsersWrite); err != nil {
		return User{}, err
	}
	role, ok := auth.ParseRole(raw)
	if !ok {
		return User{}, fmt.Errorf("%w: unsupported role %q", auth.ErrInvalidInput, raw)
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user_id is required", auth.ErrInvalidInput)
	}
	actor, err := s.Resolve(ctx, claims)
	if err != nil {
		return User{}, err
	}
	before, err := s.store.FindByID(ctx, id)
	if err != nil {
		return User{}, err
	}
	updated, err := s.store.UpdateRole(ctx, id, role)
	if err != nil {
		return User{}, err
	}
	s.audit.Record(ctx, audit.Entry{
		UserID:     actor.ID,
		Action:     "user.role.update",
		Resource:   "user",
		ResourceID: id,
		Details:    map[string]string{"from": string(before.Role), "to": string(role)},
	})
	return updated, nil
}

// SetBlocked blocks or unblocks a user. Requires users:write.
func (s *Service) SetBlocked(ctx context.Context, claims *auth.Claims, id string, blocked bool) (User, error) {
	if err := auth.RequirePermission(claims, auth.PermUsersWrite); err != nil {
		return User{}, err
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return User{}, fmt.Errorf("%w: user_id is required", auth.ErrInvalidInput)
	}
	actor, err := s.Resolve(ctx, claims)
	if err != nil {
		return User{}, err
	}
	updated, err := s.store.SetBlocked(ctx, id, blocked)
	if err != nil {
		return User{}, err
	}
	action := "user.unblock"
	if blocked {
		action = "user.block"
	}
	s.audit.Record(ctx, audit.Entry{
		UserID:     actor.ID,
		Action:     action,
		Resource:   "user",
		ResourceID: id,
	})
	return updated, nil
}

func profileOf(u User) Profile {
	return Profile{User: u, Permissions: auth.PermissionsFor(u.Role)}
}
