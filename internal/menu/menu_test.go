package menu_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ristoro.dev/internal/audit"
	"ristoro.dev/internal/auth"
	"ristoro.dev/internal/menu"
	"ristoro.dev/internal/store/memory"
	"ristoro.dev/internal/users"
)

var (
	manager = &auth.Claims{Subject: "mgr-1", Roles: []string{"manager"}}
	staff   = &auth.Claims{Subject: "staff-1", Roles: []string{"staff"}}
	shopper = &auth.Claims{Subject: "cust-1", Roles: []string{"customer"}}
)

func newService(t *testing.T) (*menu.Service, *memory.Audit) {
	t.Helper()
	svc, _, log := newServiceWithUsers(t)
	return svc, log
}

func newServiceWithUsers(t *testing.T) (*menu.Service, *users.Service, *memory.Audit) {
	t.Helper()
	log := memory.NewAudit()
	logger := audit.NewLogger(log)
	userSvc, err := users.NewService(memory.NewUsers(), logger)
	require.NoError(t, err)
	svc, err := menu.NewService(memory.NewMenu(), userSvc, logger)
	require.NoError(t, err)
	return svc, userSvc, log
}

func seed(t *testing.T, svc *menu.Service) menu.Category {
	t.Helper()
	c, err := svc.CreateCategory(context.Background(), manager, menu.CategoryInput{Name: "Wood-fired Pizza"})
	require.NoError(t, err)
	return c
}

func TestCreateCategorySlug(t *testing.T) {
	svc, _ := newService(t)
	c := seed(t, svc)
	assert.Equal(t, "wood-fired-pizza", c.Slug)
	assert.True(t, c.IsActive)

	_, err := svc.CreateCategory(context.Background(), manager, menu.CategoryInput{Name: "Pizza", Slug: "Wood Fired Pizza!"})
	assert.ErrorIs(t, err, auth.ErrConflict)

	_, err = svc.CreateCategory(context.Background(), staff, menu.CategoryInput{Name: "Desserts"})
	assert.ErrorIs(t, err, auth.ErrInsufficientPermissions)
}

func TestCreateMealRequiresCreateCapability(t *testing.T) {
	svc, userSvc, log := newServiceWithUsers(t)
	ctx := context.Background()
	c := seed(t, svc)
	in := menu.MealInput{CategoryID: c.ID, Name: "Margherita", Price: decimal.RequireFromString("9.50")}

	_, err := svc.CreateMeal(ctx, staff, in)
	require.ErrorIs(t, err, auth.ErrInsufficientPermissions)
	var pe *auth.PermissionError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "meals:create", pe.Permission)

	m, err := svc.CreateMeal(ctx, manager, in)
	require.NoError(t, err)
	assert.True(t, m.IsAvailable)

	in.Price = decimal.RequireFromString("10.00")
	updated, err := svc.UpdateMeal(ctx, staff, m.ID, in)
	require.NoError(t, err, "staff may edit existing meals")
	assert.True(t, updated.Price.Equal(decimal.NewFromInt(10)))

	staffUser, err := userSvc.Resolve(ctx, staff)
	require.NoError(t, err)
	entries, err := log.List(ctx, audit.Filter{Resource: "meal"})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "meal.update", entries[0].Action)
	assert.Equal(t, staffUser.ID, entries[0].UserID, "audit records the user row id")
}

func TestMealValidation(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	c := seed(t, svc)

	_, err := svc.CreateMeal(ctx, manager, menu.MealInput{CategoryID: c.ID, Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	_, err = svc.CreateMeal(ctx, manager, menu.MealInput{CategoryID: c.ID, Name: "X", Price: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
	_, err = svc.CreateMeal(ctx, manager, menu.MealInput{CategoryID: "nope", Name: "X", Price: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, auth.ErrInvalidInput)
}

func TestListMealsHidesUnavailableFromCustomers(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	c := seed(t, svc)
	off := false
	_, err := svc.CreateMeal(ctx, manager, menu.MealInput{CategoryID: c.ID, Name: "Calzone", Price: decimal.NewFromInt(11), Available: &off})
	require.NoError(t, err)
	_, err = svc.CreateMeal(ctx, manager, menu.MealInput{CategoryID: c.ID, Name: "Diavola", Price: decimal.NewFromInt(12)})
	require.NoError(t, err)

	public, err := svc.ListMeals(ctx, nil, menu.MealFilter{})
	require.NoError(t, err)
	require.Len(t, public, 1)
	assert.Equal(t, "Diavola", public[0].Name)

	mine, err := svc.ListMeals(ctx, shopper, menu.MealFilter{})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	back, err := svc.ListMeals(ctx, staff, menu.MealFilter{})
	require.NoError(t, err)
	assert.Len(t, back, 2)
}

func TestDeleteMealAndCategory(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	c := seed(t, svc)
	m, err := svc.CreateMeal(ctx, manager, menu.MealInput{CategoryID: c.ID, Name: "Marinara", Price: decimal.NewFromInt(8)})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteMeal(ctx, staff, m.ID), auth.ErrInsufficientPermissions)
	assert.ErrorIs(t, svc.DeleteCategory(ctx, manager, c.ID), auth.ErrConflict)
	require.NoError(t, svc.DeleteMeal(ctx, manager, m.ID))
	require.NoError(t, svc.DeleteCategory(ctx, manager, c.ID))
	assert.ErrorIs(t, svc.DeleteMeal(ctx, manager, m.ID), auth.ErrNotFound)
}

func TestListCategoriesHidesInactive(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	c := seed(t, svc)
	off := false
	_, err := svc.UpdateCategory(ctx, manager, c.ID, menu.CategoryInput{Active: &off})
	require.NoError(t, err)

	public, err := svc.ListCategories(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, public)

	all, err := svc.ListCategories(ctx, manager)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}
