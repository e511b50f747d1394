package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"ristoro.dev/internal/auth"
	"ristoro.dev/internal/menu"
	"ristoro.dev/internal/orders"
	"ristoro.dev/internal/users"
)

func TestInsertIfAbsentConcurrent(t *testing.T) {
	s := NewUsers()
	ctx := context.Background()

	var wg sync.WaitGroup
	created := make(chan string, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			u := &users.User{ID: string(rune('a' + i)), Subject: "sub-1", Role: auth.RoleCustomer}
			row, ok, err := s.InsertIfAbsent(ctx, u)
			if err != nil {
				t.Errorf("insert: %v", err)
				return
			}
			if ok {
				created <- row.ID
			}
		}(i)
	}
	wg.Wait()
	close(created)

	var n int
	for range created {
		n++
	}
	if n != 1 {
		t.Fatalf("expected exactly one creation, got %d", n)
	}
	list, _ := s.List(ctx)
	if len(list) != 1 {
		t.Fatalf("expected one row, got %d", len(list))
	}
}

func TestOrdersUpdateIsAtomic(t *testing.T) {
	s := NewOrders()
	ctx := context.Background()
	if err := s.Create(ctx, &orders.Order{ID: "o1", Status: orders.StatusPending}); err != nil {
		t.Fatal(err)
	}
	boom := errors.New("boom")
	if _, err := s.Update(ctx, "o1", func(o *orders.Order) error {
		o.Status = orders.StatusReady
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}
	got, _ := s.Get(ctx, "o1")
	if got.Status != orders.StatusPending {
		t.Fatalf("failed update must not persist, got %s", got.Status)
	}
	if _, err := s.Update(ctx, "missing", func(*orders.Order) error { return nil }); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestOrdersListFilters(t *testing.T) {
	s := NewOrders()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	_ = s.Create(ctx, &orders.Order{ID: "o1", UserID: "u1", Status: orders.StatusPending, CreatedAt: base})
	_ = s.Create(ctx, &orders.Order{ID: "o2", UserID: "u2", Status: orders.StatusReady, CreatedAt: base.Add(time.Hour)})
	_ = s.Create(ctx, &orders.Order{ID: "o3", UserID: "u1", Status: orders.StatusReady, CreatedAt: base.Add(2 * time.Hour)})

	all, _ := s.List(ctx, orders.Filter{})
	if len(all) != 3 || all[0].ID != "o3" {
		t.Fatalf("expected newest first, got %+v", all)
	}
	mine, _ := s.List(ctx, orders.Filter{UserID: "u1", Status: orders.StatusReady})
	if len(mine) != 1 || mine[0].ID != "o3" {
		t.Fatalf("unexpected filtered list %+v", mine)
	}
	recent, _ := s.List(ctx, orders.Filter{Since: base.Add(30 * time.Minute), Limit: 1})
	if len(recent) != 1 || recent[0].ID != "o3" {
		t.Fatalf("unexpected since/limit result %+v", recent)
	}
}

func TestDeleteCategoryWithMeals(t *testing.T) {
	s := NewMenu()
	ctx := context.Background()
	_ = s.CreateCategory(ctx, &menu.Category{ID: "c1", Name: "Pizza", Slug: "pizza", IsActive: true})
	if err := s.CreateCategory(ctx, &menu.Category{ID: "c2", Name: "Pizza", Slug: "PIZZA"}); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected slug conflict, got %v", err)
	}
	_ = s.CreateMeal(ctx, &menu.Meal{ID: "m1", CategoryID: "c1", Name: "Margherita"})
	if err := s.DeleteCategory(ctx, "c1"); !errors.Is(err, auth.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	_ = s.DeleteMeal(ctx, "m1")
	if err := s.DeleteCategory(ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
