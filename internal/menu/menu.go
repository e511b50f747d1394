// Package menu manages the public catalog: categories and the meals in them.
// Reads are public; every mutation is permission-checked and audited.
package menu

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"

	"ristoro.dev/internal/audit"
	"ristoro.dev/internal/auth"
	"ristoro.dev/internal/ids"
	"ristoro.dev/internal/users"
)

// Extra is an optional priced add-on offered with a meal.
type Extra struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Category groups meals on the menu.
type Category struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	SortOrder int       `json:"sort_order"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Meal is a menu item.
type Meal struct {
	ID          string          `json:"id"`
	CategoryID  string          `json:"category_id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url,omitempty"`
	IsAvailable bool            `json:"is_available"`
	Toppings    []Extra         `json:"toppings,omitempty"`
	Sides       []Extra         `json:"sides,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// MealFilter narrows ListMeals.
type MealFilter struct {
	CategoryID    string
	AvailableOnly bool
}

// Store persists the catalog. DeleteCategory fails with auth.ErrConflict
// while meals still reference the category.
type Store interface {
	ListCategories(ctx context.Context, activeOnly bool) ([]Category, error)
	GetCategory(ctx context.Context, id string) (Category, error)
	CreateCategory(ctx context.Context, c *Category) error
	UpdateCategory(ctx context.Context, c *Category) error
	DeleteCategory(ctx context.Context, id string) error
	ListMeals(ctx context.Context, filter MealFilter) ([]Meal, error)
	GetMeal(ctx context.Context, id string) (Meal, error)
	CreateMeal(ctx context.Context, m *Meal) error
	UpdateMeal(ctx context.Context, m *Meal) error
	DeleteMeal(ctx context.Context, id string) error
}

// MealInput is the writable part of a meal. A nil Available means true on
// create and unchanged on update.
type MealInput struct {
	CategoryID  string          `json:"category_id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Price       decimal.Decimal `json:"price"`
	ImageURL    string          `json:"image_url"`
	Available   *bool           `json:"is_available"`
	Toppings    []Extra         `json:"toppings"`
	Sides       []Extra         `json:"sides"`
}

// CategoryInput is the writable part of a category.
type CategoryInput struct {
	Name      string `json:"name"`
	Slug      string `json:"slug"`
	SortOrder int    `json:"sort_order"`
	Active    *bool  `json:"is_active"`
}

// UserResolver maps claims to the provisioned user row.
type UserResolver interface {
	Resolve(ctx context.Context, claims *auth.Claims) (users.User, error)
}

// Service is the catalog API.
type Service struct {
	store Store
	users UserResolver
	audit *audit.Logger
	now   func() time.Time
}

// NewService constructs Service. auditLog may be nil.
func NewService(store Store, resolver UserResolver, auditLog *audit.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("menu store is required")
	}
	if resolver == nil {
		return nil, errors.New("user resolver is required")
	}
	return &Service{store: store, users: resolver, audit: auditLog, now: time.Now}, nil
}

// ListMeals works without claims. Callers who cannot edit meals only see
// available ones.
func (s *Service) ListMeals(ctx context.Context, claims *auth.Claims, filter MealFilter) ([]Meal, error) {
	if claims.Valid() {
		if err := auth.RequirePermission(claims, auth.PermMealsRead); err != nil {
			return nil, err
		}
	}
	if !auth.HasPermission(claims, auth.PermMealsWrite) {
		filter.AvailableOnly = true
	}
	return s.store.ListMeals(ctx, filter)
}

// ListCategories works without claims. Inactive categories are hidden from
// callers who cannot manage them.
func (s *Service) ListCategories(ctx context.Context, claims *auth.Claims) ([]Category, error) {
	return s.store.ListCategories(ctx, !auth.HasPermission(claims, auth.PermCategoriesWrite))
}

// CreateMeal needs meals:write and the CreateMeals capability; staff hold the
// token for editing but may not add meals.
func (s *Service) CreateMeal(ctx context.Context, claims *auth.Claims, in MealInput) (Meal, error) {
	if err := auth.RequirePermission(claims, auth.PermMealsWrite); err != nil {
		return Meal{}, err
	}
	if err := auth.RequireCapability(claims, "meals:create", func(c auth.Capabilities) bool { return c.CreateMeals }); err != nil {
		return Meal{}, err
	}
	actor, err := s.users.Resolve(ctx, claims)
	if err != nil {
		return Meal{}, err
	}
	if err := s.validateMeal(ctx, in); err != nil {
		return Meal{}, err
	}
	now := s.now().UTC()
	m := &Meal{
		ID:          ids.NewAt(now),
		CategoryID:  strings.TrimSpace(in.CategoryID),
		Name:        strings.TrimSpace(in.Name),
		Description: strings.TrimSpace(in.Description),
		Price:       in.Price,
		ImageURL:    strings.TrimSpace(in.ImageURL),
		IsAvailable: in.Available == nil || *in.Available,
		Toppings:    in.Toppings,
		Sides:       in.Sides,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateMeal(ctx, m); err != nil {
		return Meal{}, err
	}
	s.record(ctx, actor.ID, "meal.create", "meal", m.ID, map[string]string{"name": m.Name, "price": m.Price.StringFixed(2)})
	return *m, nil
}

// UpdateMeal replaces the writable fields of a meal.
func (s *Service) UpdateMeal(ctx context.Context, claims *auth.Claims, id string, in MealInput) (Meal, error) {
	if err := auth.RequirePermission(claims, auth.PermMealsWrite); err != nil {
		return Meal{}, err
	}
	actor, err := s.users.Resolve(ctx, claims)
	if err != nil {
		return Meal{}, err
	}
	m, err := s.store.GetMeal(ctx, strings.TrimSpace(id))
	if err != nil {
		return Meal{}, err
	}
	if err := s.validateMeal(ctx, in); err != nil {
		return Meal{}, err
	}
	m.CategoryID = strings.TrimSpace(in.CategoryID)
	m.Name = strings.TrimSpace(in.Name)
	m.Description = strings.TrimSpace(in.Description)
	m.Price = in.Price
	m.ImageURL = strings.TrimSpace(in.ImageURL)
	if in.Available != nil {
		m.IsAvailable = *in.Available
	}
	m.Toppings = in.Toppings
	m.Sides = in.Sides
	m.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateMeal(ctx, &m); err != nil {
		return Meal{}, err
	}
	s.record(ctx, actor.ID, "meal.update", "meal", m.ID, map[string]string{"name": m.Name, "price": m.Price.StringFixed(2)})
	return m, nil
}

// DeleteMeal removes a meal. Requires meals:delete.
func (s *Service) DeleteMeal(ctx context.Context, claims *auth.Claims, id string) error {
	if err := auth.RequirePermission(claims, auth.PermMealsDelete); err != nil {
		return err
	}
	actor, err := s.users.Resolve(ctx, claims)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.store.DeleteMeal(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor.ID, "meal.delete", "meal", id, nil)
	return nil
}

func (s *Service) CreateCategory(ctx context.Context, claims *auth.Claims, in CategoryInput) (Category, error) {
	if err := auth.RequirePermission(claims, auth.PermCategoriesWrite); err != nil {
		return Category{}, err
	}
	actor, err := s.users.Resolve(ctx, claims)
	if err != nil {
		return Category{}, err
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Category{}, fmt.Errorf("%w: name is required", auth.ErrInvalidInput)
	}
	now := s.now().UTC()
	c := &Category{
		ID:        ids.NewAt(now),
		Name:      name,
		Slug:      slugOr(in.Slug, name),
		SortOrder: in.SortOrder,
		IsActive:  in.Active == nil || *in.Active,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if c.Slug == "" {
		return Category{}, fmt.Errorf("%w: slug is required", auth.ErrInvalidInput)
	}
	if err := s.store.CreateCategory(ctx, c); err != nil {
		return Category{}, err
	}
	s.record(ctx, actor.ID, "category.create", "category", c.ID, map[string]string{"slug": c.Slug})
	return *c, nil
}

func (s *Service) UpdateCategory(ctx context.Context, claims *auth.Claims, id string, in CategoryInput) (Category, error) {
	if err := auth.RequirePermission(claims, auth.PermCategoriesWrite); err != nil {
		return Category{}, err
	}
	actor, err := s.users.Resolve(ctx, claims)
	if err != nil {
		return Category{}, err
	}
	c, err := s.store.GetCategory(ctx, strings.TrimSpace(id))
	if err != nil {
		return Category{}, err
	}
	if name := strings.TrimSpace(in.Name); name != "" {
		c.Name = name
	}
	if strings.TrimSpace(in.Slug) != "" {
		c.Slug = slugOr(in.Slug, c.Name)
	}
	c.SortOrder = in.SortOrder
	if in.Active != nil {
		c.IsActive = *in.Active
	}
	c.UpdatedAt = s.now().UTC()
	if err := s.store.UpdateCategory(ctx, &c); err != nil {
		return Category{}, err
	}
	s.record(ctx, actor.ID, "category.update", "category", c.ID, map[string]string{"slug": c.Slug})
	return c, nil
}

func (s *Service) DeleteCategory(ctx context.Context, claims *auth.Claims, id string) error {
	if err := auth.RequirePermission(claims, auth.PermCategoriesWrite); err != nil {
		return err
	}
	actor, err := s.users.Resolve(ctx, claims)
	if err != nil {
		return err
	}
	id = strings.TrimSpace(id)
	if err := s.store.DeleteCategory(ctx, id); err != nil {
		return err
	}
	s.record(ctx, actor.ID, "category.delete", "category", id, nil)
	return nil
}

func (s *Service) validateMeal(ctx context.Context, in MealInput) error {
	if strings.TrimSpace(in.Name) == "" {
		return fmt.Errorf("%w: name is required", auth.ErrInvalidInput)
	}
	if in.Price.IsNegative() {
		return fmt.Errorf("%w: price must not be negative", auth.ErrInvalidInput)
	}
	for _, group := range [][]Extra{in.Toppings, in.Sides} {
		for _, e := range group {
			if strings.TrimSpace(e.Name) == "" || e.Price.IsNegative() {
				return fmt.Errorf("%w: extras need a name and a non-negative price", auth.ErrInvalidInput)
			}
		}
	}
	categoryID := strings.TrimSpace(in.CategoryID)
	if categoryID == "" {
		return fmt.Errorf("%w: category_id is required", auth.ErrInvalidInput)
	}
	if _, err := s.store.GetCategory(ctx, categoryID); err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return fmt.Errorf("%w: unknown category %q", auth.ErrInvalidInput, categoryID)
		}
		return err
	}
	return nil
}

func (s *Service) record(ctx context.Context, actorID, action, resource, id string, details map[string]string) {
	s.audit.Record(ctx, audit.Entry{
		UserID:     actorID,
		Action:     action,
		Resource:   resource,
		ResourceID: id,
		Details:    details,
	})
}

// slugOr returns the slug form of raw, falling back to name when raw is blank.
func slugOr(raw, name string) string {
	src := strings.TrimSpace(raw)
	if src == "" {
		src = name
	}
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(src) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
