// Package memory holds in-process stores used in development mode and tests.
// Every store is safe for concurrent use and returns copies.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"ristoro.dev/internal/audit"
	"ristoro.dev/internal/auth"
	"ristoro.dev/internal/menu"
	"ristoro.dev/internal/orders"
	"ristoro.dev/internal/users"
)

// Users implements users.Store.
type Users struct {
	mu        sync.RWMutex
	byID      map[string]*users.User
	bySubject map[string]string
}

func NewUsers() *Users {
	return &Users{byID: make(map[string]*users.User), bySubject: make(map[string]string)}
}

func (s *Users) InsertIfAbsent(_ context.Context, u *users.User) (users.User, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.bySubject[u.Subject]; ok {
		return *s.byID[id], false, nil
	}
	row := *u
	s.byID[row.ID] = &row
	s.bySubject[row.Subject] = row.ID
	return row, true, nil
}

func (s *Users) FindBySubject(_ context.Context, subject string) (users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySubject[subject]
	if !ok {
		return users.User{}, auth.ErrNotFound
	}
	return *s.byID[id], nil
}

func (s *Users) FindByID(_ context.Context, id string) (users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.byID[id]
	if !ok {
		return users.User{}, auth.ErrNotFound
	}
	return *u, nil
}

func (s *Users) List(_ context.Context) ([]users.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]users.User, 0, len(s.byID))
	for _, u := range s.byID {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Users) UpdateRole(_ context.Context, id string, role auth.Role) (users.User, error) {
	return s.mutate(id, func(u *users.User) { u.Role = role })
}

func (s *Users) SetBlocked(_ context.Context, id string, blocked bool) (users.User, error) {
	return s.mutate(id, func(u *users.User) { u.IsBlocked = blocked })
}

func (s *Users) TouchLogin(_ context.Context, id string, at time.Time) error {
	_, err := s.mutate(id, func(u *users.User) {
		t := at
		u.LastLoginAt = &t
	})
	return err
}

func (s *Users) mutate(id string, fn func(*users.User)) (users.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.byID[id]
	if !ok {
		return users.User{}, auth.ErrNotFound
	}
	fn(u)
	u.UpdatedAt = time.Now().UTC()
	return *u, nil
}

// Orders implements orders.Store.
type Orders struct {
	mu   sync.Mutex
	rows map[string]orders.Order
}

func NewOrders() *Orders {
	return &Orders{rows: make(map[string]orders.Order)}
}

func (s *Orders) Create(_ context.Context, o *orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[o.ID]; ok {
		return fmt.Errorf("%w: order %s exists", auth.ErrConflict, o.ID)
	}
	s.rows[o.ID] = cloneOrder(*o)
	return nil
}

func (s *Orders) Get(_ context.Context, id string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.rows[id]
	if !ok {
		return orders.Order{}, auth.ErrNotFound
	}
	return cloneOrder(o), nil
}

// List returns matches newest first. A zero Limit means no limit.
func (s *Orders) List(_ context.Context, f orders.Filter) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]orders.Order, 0, len(s.rows))
	for _, o := range s.rows {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if !f.Since.IsZero() && o.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// Update holds the store lock while fn runs, so updates of one order are
// serialized. fn errors leave the row untouched.
func (s *Orders) Update(_ context.Context, id string, fn func(*orders.Order) error) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.rows[id]
	if !ok {
		return orders.Order{}, auth.ErrNotFound
	}
	next := cloneOrder(cur)
	if err := fn(&next); err != nil {
		return orders.Order{}, err
	}
	s.rows[id] = cloneOrder(next)
	return next, nil
}

func cloneOrder(o orders.Order) orders.Order {
	o.Items = slices.Clone(o.Items)
	if o.CompletedAt != nil {
		t := *o.CompletedAt
		o.CompletedAt = &t
	}
	return o
}

// Menu implements menu.Store.
type Menu struct {
	mu         sync.RWMutex
	categories map[string]menu.Category
	meals      map[string]menu.Meal
}

func NewMenu() *Menu {
	return &Menu{categories: make(map[string]menu.Category), meals: make(map[string]menu.Meal)}
}

func (s *Menu) ListCategories(_ context.Context, activeOnly bool) ([]menu.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]menu.Category, 0, len(s.categories))
	for _, c := range s.categories {
		if activeOnly && !c.IsActive {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SortOrder == out[j].SortOrder {
			return out[i].Name < out[j].Name
		}
		return out[i].SortOrder < out[j].SortOrder
	})
	return out, nil
}

func (s *Menu) GetCategory(_ context.Context, id string) (menu.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.categories[id]
	if !ok {
		return menu.Category{}, auth.ErrNotFound
	}
	return c, nil
}

func (s *Menu) CreateCategory(_ context.Context, c *menu.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.slugTaken(c.Slug, c.ID) {
		return fmt.Errorf("%w: slug %q is taken", auth.ErrConflict, c.Slug)
	}
	s.categories[c.ID] = *c
	return nil
}

func (s *Menu) UpdateCategory(_ context.Context, c *menu.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[c.ID]; !ok {
		return auth.ErrNotFound
	}
	if s.slugTaken(c.Slug, c.ID) {
		return fmt.Errorf("%w: slug %q is taken", auth.ErrConflict, c.Slug)
	}
	s.categories[c.ID] = *c
	return nil
}

func (s *Menu) slugTaken(slug, exceptID string) bool {
	for id, c := range s.categories {
		if id != exceptID && strings.EqualFold(c.Slug, slug) {
			return true
		}
	}
	return false
}

func (s *Menu) DeleteCategory(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[id]; !ok {
		return auth.ErrNotFound
	}
	for _, m := range s.meals {
		if m.CategoryID == id {
			return fmt.Errorf("%w: category %s still has meals", auth.ErrConflict, id)
		}
	}
	delete(s.categories, id)
	return nil
}

func (s *Menu) ListMeals(_ context.Context, f menu.MealFilter) ([]menu.Meal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]menu.Meal, 0, len(s.meals))
	for _, m := range s.meals {
		if f.CategoryID != "" && m.CategoryID != f.CategoryID {
			continue
		}
		if f.AvailableOnly && !m.IsAvailable {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Menu) GetMeal(_ context.Context, id string) (menu.Meal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.meals[id]
	if !ok {
		return menu.Meal{}, auth.ErrNotFound
	}
	return m, nil
}

func (s *Menu) CreateMeal(_ context.Context, m *menu.Meal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.categories[m.CategoryID]; !ok {
		return fmt.Errorf("%w: unknown category %q", auth.ErrInvalidInput, m.CategoryID)
	}
	s.meals[m.ID] = *m
	return nil
}

func (s *Menu) UpdateMeal(_ context.Context, m *menu.Meal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meals[m.ID]; !ok {
		return auth.ErrNotFound
	}
	s.meals[m.ID] = *m
	return nil
}

func (s *Menu) DeleteMeal(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.meals[id]; !ok {
		return auth.ErrNotFound
	}
	delete(s.meals, id)
	return nil
}

// Audit implements audit.Store.
type Audit struct {
	mu      sync.RWMutex
	entries []audit.Entry
}

func NewAudit() *Audit { return &Audit{} }

func (s *Audit) Append(_ context.Context, e *audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *e)
	return nil
}

// List returns matches newest first.
func (s *Audit) List(_ context.Context, f audit.Filter) ([]audit.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []audit.Entry
	for i := len(s.entries) - 1; i >= 0; i-- {
		e := s.entries[i]
		if f.UserID != "" && e.UserID != f.UserID {
			continue
		}
		if f.Resource != "" && e.Resource != f.Resource {
			continue
		}
		out = append(out, e)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}
