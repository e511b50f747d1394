package orders

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// Extra is a priced add-on: a topping, side or beverage.
type Extra struct {
	Name  string          `json:"name"`
	Price decimal.Decimal `json:"price"`
}

// Item is one cart line.
type Item struct {
	MealID    string          `json:"meal_id"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Toppings  []Extra         `json:"toppings,omitempty"`
	Sides     []Extra         `json:"sides,omitempty"`
	Beverages []Extra         `json:"beverages,omitempty"`
}

// LineTotal is quantity * (unit price + extras).
func (it Item) LineTotal() decimal.Decimal {
	unit := it.UnitPrice
	for _, group := range [][]Extra{it.Toppings, it.Sides, it.Beverages} {
		for _, e := range group {
			unit = unit.Add(e.Price)
		}
	}
	return unit.Mul(decimal.NewFromInt(int64(it.Quantity)))
}

// Customer is the contact captured at checkout.
type Customer struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone,omitempty"`
}

// Order is a pickup order. Orders are never deleted.
type Order struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Status           Status          `json:"status"`
	PaymentStatus    PaymentStatus   `json:"payment_status"`
	Total            decimal.Decimal `json:"total"`
	RefundedAmount   decimal.Decimal `json:"refunded_amount"`
	Items            []Item          `json:"items"`
	Customer         Customer        `json:"customer"`
	Notes            string          `json:"notes,omitempty"`
	PickupTime       time.Time       `json:"pickup_time"`
	AssignedTo       string          `json:"assigned_to,omitempty"`
	PaymentURL       string          `json:"payment_url,omitempty"`
	PaymentReference string          `json:"payment_reference,omitempty"`
	CancelReason     string          `json:"cancel_reason,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
}

// Filter narrows List. Zero values match everything.
type Filter struct {
	UserID string
	Status Status
	Since  time.Time
	Limit  int
}

// Store persists orders. Update must apply fn to the current row and write
// the result atomically, serializing concurrent updates of one order.
type Store interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (Order, error)
	List(ctx context.Context, filter Filter) ([]Order, error)
	Update(ctx context.Context, id string, fn func(*Order) error) (Order, error)
}

// Stats is the dashboard summary of orders.
type Stats struct {
	Since    time.Time       `json:"since"`
	Total    int             `json:"total"`
	ByStatus map[Status]int  `json:"by_status"`
	Revenue  decimal.Decimal `json:"revenue"`
	Refunded decimal.Decimal `json:"refunded"`
}
