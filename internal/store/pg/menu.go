package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ristoro.dev/internal/auth"
	"ristoro.dev/internal/menu"
)

// Menu implements menu.Store on the categories and meals tables.
type Menu struct {
	db *sql.DB
}

var _ menu.Store = (*Menu)(nil)

const (
	categoryColumns = `id, name, slug, sort_order, is_active, created_at, updated_at`
	mealColumns     = `id, category_id, name, coalesce(description,''), price, coalesce(image_url,''), is_available, toppings, sides, created_at, updated_at`
)

func scanCategory(row rowScanner) (menu.Category, error) {
	var c menu.Category
	err := row.Scan(&c.ID, &c.Name, &c.Slug, &c.SortOrder, &c.IsActive, &c.CreatedAt, &c.UpdatedAt)
	return c, err
}

func scanMeal(row rowScanner) (menu.Meal, error) {
	var (
		m               menu.Meal
		toppings, sides []byte
	)
	if err := row.Scan(&m.ID, &m.CategoryID, &m.Name, &m.Description, &m.Price, &m.ImageURL, &m.IsAvailable,
		&toppings, &sides, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return menu.Meal{}, err
	}
	for _, f := range []struct {
		raw []byte
		dst *[]menu.Extra
	}{{toppings, &m.Toppings}, {sides, &m.Sides}} {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.dst); err != nil {
			return menu.Meal{}, fmt.Errorf("decode extras: %w", err)
		}
	}
	return m, nil
}

func marshalExtras(extras []menu.Extra) ([]byte, error) {
	if extras == nil {
		extras = []menu.Extra{}
	}
	return json.Marshal(extras)
}

func (s *Menu) ListCategories(ctx context.Context, activeOnly bool) ([]menu.Category, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	query := `select ` + categoryColumns + ` from categories`
	if activeOnly {
		query += ` where is_active`
	}
	query += ` order by sort_order, name`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []menu.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Menu) GetCategory(ctx context.Context, id string) (menu.Category, error) {
	if s.db == nil {
		return menu.Category{}, errNoDB
	}
	c, err := scanCategory(s.db.QueryRowContext(ctx, `select `+categoryColumns+` from categories where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return menu.Category{}, auth.ErrNotFound
	}
	return c, err
}

func (s *Menu) CreateCategory(ctx context.Context, c *menu.Category) error {
	if s.db == nil {
		return errNoDB
	}
	_, err := s.db.ExecContext(ctx, `
		insert into categories (id, name, slug, sort_order, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, c.ID, c.Name, c.Slug, c.SortOrder, c.IsActive, c.CreatedAt, c.UpdatedAt)
	if isCode(err, pgErrUniqueViolation) {
		return fmt.Errorf("%w: slug %q is taken", auth.ErrConflict, c.Slug)
	}
	return err
}

func (s *Menu) UpdateCategory(ctx context.Context, c *menu.Category) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		update categories set name = $2, slug = $3, sort_order = $4, is_active = $5, updated_at = $6
		where id = $1
	`, c.ID, c.Name, c.Slug, c.SortOrder, c.IsActive, c.UpdatedAt)
	if isCode(err, pgErrUniqueViolation) {
		return fmt.Errorf("%w: slug %q is taken", auth.ErrConflict, c.Slug)
	}
	return affectedOne(res, err)
}

func (s *Menu) DeleteCategory(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from categories where id = $1`, id)
	if isCode(err, pgErrForeignKeyViolation) {
		return fmt.Errorf("%w: category %s still has meals", auth.ErrConflict, id)
	}
	return affectedOne(res, err)
}

func (s *Menu) ListMeals(ctx context.Context, f menu.MealFilter) ([]menu.Meal, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var (
		where []string
		args  []any
	)
	if f.CategoryID != "" {
		args = append(args, f.CategoryID)
		where = append(where, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if f.AvailableOnly {
		where = append(where, "is_available")
	}
	query := `select ` + mealColumns + ` from meals`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by name`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []menu.Meal
	for rows.Next() {
		m, err := scanMeal(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Menu) GetMeal(ctx context.Context, id string) (menu.Meal, error) {
	if s.db == nil {
		return menu.Meal{}, errNoDB
	}
	m, err := scanMeal(s.db.QueryRowContext(ctx, `select `+mealColumns+` from meals where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return menu.Meal{}, auth.ErrNotFound
	}
	return m, err
}

func (s *Menu) CreateMeal(ctx context.Context, m *menu.Meal) error {
	if s.db == nil {
		return errNoDB
	}
	toppings, err := marshalExtras(m.Toppings)
	if err != nil {
		return err
	}
	sides, err := marshalExtras(m.Sides)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		insert into meals (id, category_id, name, description, price, image_url, is_available, toppings, sides, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, m.ID, m.CategoryID, m.Name, nullIfEmpty(m.Description), m.Price, nullIfEmpty(m.ImageURL), m.IsAvailable,
		toppings, sides, m.CreatedAt, m.UpdatedAt)
	if isCode(err, pgErrForeignKeyViolation) {
		return fmt.Errorf("%w: unknown category %q", auth.ErrInvalidInput, m.CategoryID)
	}
	return err
}

func (s *Menu) UpdateMeal(ctx context.Context, m *menu.Meal) error {
	if s.db == nil {
		return errNoDB
	}
	toppings, err := marshalExtras(m.Toppings)
	if err != nil {
		return err
	}
	sides, err := marshalExtras(m.Sides)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		update meals set category_id = $2, name = $3, description = $4, price = $5, image_url = $6,
			is_available = $7, toppings = $8, sides = $9, updated_at = $10
		where id = $1
	`, m.ID, m.CategoryID, m.Name, nullIfEmpty(m.Description), m.Price, nullIfEmpty(m.ImageURL),
		m.IsAvailable, toppings, sides, m.UpdatedAt)
	if isCode(err, pgErrForeignKeyViolation) {
		return fmt.Errorf("%w: unknown category %q", auth.ErrInvalidInput, m.CategoryID)
	}
	return affectedOne(res, err)
}

func (s *Menu) DeleteMeal(ctx context.Context, id string) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `delete from meals where id = $1`, id)
	return affectedOne(res, err)
}

func affectedOne(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if aff == 0 {
		return auth.ErrNotFound
	}
	return nil
}
