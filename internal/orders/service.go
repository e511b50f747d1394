package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ristoro.dev/internal/audit"
	"ristoro.dev/internal/auth"
	"ristoro.dev/internal/ids"
	"ristoro.dev/internal/obs"
	"ristoro.dev/internal/payment"
	"ristoro.dev/internal/stream"
	"ristoro.dev/internal/users"
)

// UserResolver maps claims to the provisioned user row.
type UserResolver interface {
	Resolve(ctx context.Context, claims *auth.Claims) (users.User, error)
}

// PaymentActor is the audit user id recorded for gateway callbacks.
const PaymentActor = "system:payment"

// CheckoutRequest is the cart submitted by a customer.
type CheckoutRequest struct {
	Items      []Item    `json:"items"`
	Customer   Customer  `json:"customer"`
	Notes      string    `json:"notes,omitempty"`
	PickupTime time.Time `json:"pickup_time"`
}

// Service applies order operations with permission checks and auditing.
type Service struct {
	store   Store
	users   UserResolver
	gateway payment.Gateway
	audit   *audit.Logger
	events  Publisher
	now     func() time.Time
}

// Publisher receives an event after every committed order change.
type Publisher interface {
	Publish(evt stream.Event)
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

// WithEvents publishes order changes to p.
func WithEvents(p Publisher) Option {
	return func(s *Service) { s.events = p }
}

// NewService constructs Service. auditLog may be nil.
func NewService(store Store, resolver UserResolver, gateway payment.Gateway, auditLog *audit.Logger, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("order store is required")
	}
	if resolver == nil {
		return nil, errors.New("user resolver is required")
	}
	if gateway == nil {
		return nil, errors.New("payment gateway is required")
	}
	s := &Service{store: store, users: resolver, gateway: gateway, audit: auditLog, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Checkout creates a pending order for the caller and initializes payment.
// On gateway failure the order is kept with payment failed and the returned
// error wraps ErrPaymentFailed.
func (s *Service) Checkout(ctx context.Context, claims *auth.Claims, req CheckoutRequest) (Order, error) {
	if !claims.Valid() {
		return Order{}, auth.ErrAuthenticationRequired
	}
	now := s.now().UTC()
	total, err := validateCheckout(req, now)
	if err != nil {
		return Order{}, err
	}
	user, err := s.users.Resolve(ctx, claims)
	if err != nil {
		return Order{}, err
	}
	customer := req.Customer
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Email = strings.TrimSpace(strings.ToLower(customer.Email))
	customer.Phone = strings.TrimSpace(customer.Phone)
	if customer.Email == "" {
		customer.Email = user.Email
	}
	if customer.Name == "" {
		customer.Name = user.Name
	}

	o := &Order{
		ID:             ids.NewAt(now),
		UserID:         user.ID,
		Status:         StatusPending,
		PaymentStatus:  PaymentPending,
		Total:          total,
		RefundedAmount: decimal.Zero,
		Items:          req.Items,
		Customer:       customer,
		Notes:          strings.TrimSpace(req.Notes),
		PickupTime:     req.PickupTime.UTC(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, o); err != nil {
		return Order{}, fmt.Errorf("create order: %w", err)
	}
	s.audit.Record(ctx, audit.Entry{
		UserID:     user.ID,
		Action:     "order.checkout",
		Resource:   "order",
		ResourceID: o.ID,
		Details:    map[string]string{"total": total.StringFixed(2)},
	})

	res, payErr := s.gateway.Initialize(ctx, paymentRequest(*o))
	updated, err := s.store.Update(ctx, o.ID, func(cur *Order) error {
		cur.UpdatedAt = s.now().UTC()
		if payErr != nil {
			cur.PaymentStatus = PaymentFailed
			return nil
		}
		cur.PaymentURL = res.AuthorizationURL
		cur.PaymentReference = res.Reference
		return nil
	})
	if err != nil {
		return *o, fmt.Errorf("record payment: %w", err)
	}
	if payErr != nil {
		obs.Error("payment_initialize_failed", payErr, map[string]any{"order_id": o.ID})
		s.publish("order.checkout", updated)
		return updated, fmt.Errorf("%w: %v", ErrPaymentFailed, payErr)
	}
	s.publish("order.checkout", updated)
	return updated, nil
}

func (s *Service) publish(kind string, o Order) {
	if s.events == nil {
		return
	}
	s.events.Publish(stream.Event{
		Type:          kind,
		OrderID:       o.ID,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		Timestamp:     s.now().UTC(),
	})
}

func validateCheckout(req CheckoutRequest, now time.Time) (decimal.Decimal, error) {
	if len(req.Items) == 0 {
		return decimal.Zero, fmt.Errorf("%w: at least one item is required", auth.ErrInvalidInput)
	}
	total := decimal.Zero
	for i, it := range req.Items {
		if strings.TrimSpace(it.Name) == "" {
			return decimal.Zero, fmt.Errorf("%w: item %d: name is required", auth.ErrInvalidInput, i)
		}
		if it.Quantity < 1 {
			return decimal.Zero, fmt.Errorf("%w: item %d: quantity must be at least 1", auth.ErrInvalidInput, i)
		}
		if it.UnitPrice.IsNegative() {
			return decimal.Zero, fmt.Errorf("%w: item %d: price must not be negative", auth.ErrInvalidInput, i)
		}
		for _, group := range [][]Extra{it.Toppings, it.Sides, it.Beverages} {
			for _, e := range group {
				if e.Price.IsNegative() {
					return decimal.Zero, fmt.Errorf("%w: item %d: extra %q has a negative price", auth.ErrInvalidInput, i, e.Name)
				}
			}
		}
		total = total.Add(it.LineTotal())
	}
	if !total.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: order total must be greater than zero", auth.ErrInvalidInput)
	}
	if req.PickupTime.IsZero() || !req.PickupTime.After(now) {
		return decimal.Zero, fmt.Errorf("%w: pickup_time must be in the future", auth.ErrInvalidInput)
	}
	return total, nil
}

func paymentRequest(o Order) payment.Request {
	items := make([]payment.LineItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, payment.LineItem{Name: it.Name, Quantity: it.Quantity, Amount: it.LineTotal()})
	}
	return payment.Request{
		OrderID:    o.ID,
		Amount:     o.Total,
		Customer:   payment.Customer{Name: o.Customer.Name, Email: o.Customer.Email, Phone: o.Customer.Phone},
		Items:      items,
		PickupTime: o.PickupTime,
	}
}

// MarkPaid records a confirmed payment reported by the gateway callback.
// Only pending or failed payments move to paid. Repeated callbacks for a
// paid or refunded order return it unchanged.
func (s *Service) MarkPaid(ctx context.Context, orderID, reference string) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, fmt.Errorf("%w: reference is required", auth.ErrInvalidInput)
	}
	changed := false
	o, err := s.store.Update(ctx, orderID, func(cur *Order) error {
		switch cur.PaymentStatus {
		case PaymentPaid, PaymentRefunded, PaymentPartiallyRefunded:
			return nil
		}
		if cur.Status == StatusCancelled {
			return &TransitionError{From: cur.Status, To: cur.Status}
		}
		cur.PaymentStatus = PaymentPaid
		if ref := strings.TrimSpace(reference); ref != "" {
			cur.PaymentReference = ref
		}
		cur.UpdatedAt = s.now().UTC()
		changed = true
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	if changed {
		s.audit.Record(ctx, audit.Entry{
			UserID:     PaymentActor,
			Action:     "order.payment.paid",
			Resource:   "order",
			ResourceID: o.ID,
			Details:    map[string]string{"reference": o.PaymentReference},
		})
		s.publish("order.payment.paid", o)
	}
	return o, nil
}

// customerScoped reports whether claims may only see their own orders.
func customerScoped(claims *auth.Claims) bool {
	return auth.PrimaryRole(claims) == auth.RoleCustomer
}

// Get returns an order. Customers see only their own; anything else is
// reported as not found.
func (s *Service) Get(ctx context.Context, claims *auth.Claims, id string) (Order, error) {
	if err := auth.RequirePermission(claims, auth.PermOrdersRead); err != nil {
		return Order{}, err
	}
	return s.visible(ctx, claims, id)
}

func (s *Service) visible(ctx context.Context, claims *auth.Claims, id string) (Order, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Order{}, fmt.Errorf("%w: order_id is required", auth.ErrInvalidInput)
	}
	o, err := s.store.Get(ctx, id)
	if err != nil {
		return Order{}, err
	}
	if customerScoped(claims) {
		user, err := s.users.Resolve(ctx, claims)
		if err != nil {
			return Order{}, err
		}
		if o.UserID != user.ID {
			return Order{}, auth.ErrNotFound
		}
	}
	return o, nil
}

// List returns orders newest first. Customers are restricted to their own.
func (s *Service) List(ctx context.Context, claims *auth.Claims, filter Filter) ([]Order, error) {
	if err := auth.RequirePermission(claims, auth.PermOrdersRead); err != nil {
		return nil, err
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", auth.ErrInvalidInput, filter.Status)
	}
	if customerScoped(claims) {
		user, err := s.users.Resolve(ctx, claims)
		if err != nil {
			return nil, err
		}
		filter.UserID = user.ID
	}
	if filter.Limit <= 0 || filter.Limit > 200 {
		filter.Limit = 50
	}
	return s.store.List(ctx, filter)
}

// GetActions returns the order with the actions the caller may offer on it.
func (s *Service) GetActions(ctx context.Context, claims *auth.Claims, id string) ([]Action, error) {
	o, err := s.Get(ctx, claims, id)
	if err != nil {
		return nil, err
	}
	var out []Action
	for _, a := range Actions(o) {
		switch a.Name {
		case "cancel":
			if auth.HasPermission(claims, auth.PermOrdersDelete) {
				out = append(out, a)
			}
		case "refund":
			if auth.HasPermission(claims, auth.PermOrdersRefund) {
				out = append(out, a)
			}
		default:
			if auth.HasPermission(claims, auth.PermOrdersWrite) {
				out = append(out, a)
			}
		}
	}
	return out, nil
}

// UpdateStatus moves an order forward along the transition table.
// Cancellation goes through Cancel.
func (s *Service) UpdateStatus(ctx context.Context, claims *auth.Claims, id string, to Status) (Order, error) {
	if err := auth.RequirePermission(claims, auth.PermOrdersWrite); err != nil {
		return Order{}, err
	}
	if !to.Valid() {
		return Order{}, fmt.Errorf("%w: unknown status %q", auth.ErrInvalidInput, to)
	}
	if to == StatusCancelled {
		return s.Cancel(ctx, claims, id, "")
	}
	actor, err := s.users.Resolve(ctx, claims)
	if err != nil {
		return Order{}, err
	}
	var from Status
	o, err := s.store.Update(ctx, strings.TrimSpace(id), func(cur *Order) error {
		if !CanTransition(cur.Status, to) {
			return &TransitionError{From: cur.Status, To: to}
		}
		from = cur.Status
		now := s.now().UTC()
		cur.Status = to
		cur.UpdatedAt = now
		if to == StatusCompleted {
			cur.CompletedAt = &now
		}
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	obs.OrderTransition(string(from), string(to))
	s.audit.Record(ctx, audit.Entry{
		UserID:     actor.ID,
		Action:     "order.status.update",
		Resource:   "order",
		ResourceID: o.ID,
		Details:    map[string]string{"from": string(from), "to": string(to)},
	})
	s.publish("order.status.update", o)
	return o, nil
}

// Cancel cancels any non-terminal order. Customers may cancel only their own.
func (s *Service) Cancel(ctx context.Context, claims *auth.Claims, id, reason string) (Order, error) {
	if err := auth.RequirePermission(claims, auth.PermOrdersDelete); err != nil {
		return Order{}, err
	}
	actor, err := s.users.Resolve(ctx, claims)
	if err != nil {
		return Order{}, err
	}
	current, err := s.visible(users.ContextWithUser(ctx, actor), claims, id)
	if err != nil {
		return Order{}, err
	}
	var from Status
	o, err := s.store.Update(ctx, current.ID, func(cur *Order) error {
		if !CanCancel(cur.Status) {
			return &TransitionError{From: cur.Status, To: StatusCancelled}
		}
		from = cur.Status
		cur.Status = StatusCancelled
		cur.CancelReason = strings.TrimSpace(reason)
		cur.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	obs.OrderTransition(string(from), string(StatusCancelled))
	details := map[string]string{"from": string(from)}
	if o.CancelReason != "" {
		details["reason"] = o.CancelReason
	}
	s.audit.Record(ctx, audit.Entry{
		UserID:     actor.ID,
		Action:     "order.cancel",
		Resource:   "order",
		ResourceID: o.ID,
		Details:    details,
	})
	s.publish("order.cancel", o)
	return o, nil
}

// Refund records a full or partial refund. The order status is unchanged.
func (s *Service) Refund(ctx context.Context, claims *auth.Claims, id string, amount decimal.Decimal, reason string) (Order, error) {
	if err := auth.RequirePermission(claims, auth.PermOrdersRefund); err != nil {
		return Order{}, err
	}
	actor, err := s.users.Resolve(ctx, claims)
	if err != nil {
		return Order{}, err
	}
	o, err := s.store.Update(ctx, strings.TrimSpace(id), func(cur *Order) error {
		if err := ValidateRefund(*cur, amount); err != nil {
			return err
		}
		cur.RefundedAmount = amount
		if amount.Equal(cur.Total) {
			cur.PaymentStatus = PaymentRefunded
		} else {
			cur.PaymentStatus = PaymentPartiallyRefunded
		}
		cur.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	details := map[string]string{"amount": amount.StringFixed(2), "payment_status": string(o.PaymentStatus)}
	if r := strings.TrimSpace(reason); r != "" {
		details["reason"] = r
	}
	s.audit.Record(ctx, audit.Entry{
		UserID:     actor.ID,
		Action:     "order.refund",
		Resource:   "order",
		ResourceID: o.ID,
		Details:    details,
	})
	s.publish("order.refund", o)
	return o, nil
}

// Assign hands an order to a staff member.
func (s *Service) Assign(ctx context.Context, claims *auth.Claims, id, staffUserID string) (Order, error) {
	if err := auth.RequireCapability(claims, "orders:assign", func(c auth.Capabilities) bool { return c.AssignOrders }); err != nil {
		return Order{}, err
	}
	staffUserID = strings.TrimSpace(staffUserID)
	if staffUserID == "" {
		return Order{}, fmt.Errorf("%w: assignee is required", auth.ErrInvalidInput)
	}
	actor, err := s.users.Resolve(ctx, claims)
	if err != nil {
		return Order{}, err
	}
	o, err := s.store.Update(ctx, strings.TrimSpace(id), func(cur *Order) error {
		if cur.Status.Terminal() {
			return fmt.Errorf("%w: order is %s", ErrInvalidTransition, cur.Status)
		}
		cur.AssignedTo = staffUserID
		cur.UpdatedAt = s.now().UTC()
		return nil
	})
	if err != nil {
		return Order{}, err
	}
	s.audit.Record(ctx, audit.Entry{
		UserID:     actor.ID,
		Action:     "order.assign",
		Resource:   "order",
		ResourceID: o.ID,
		Details:    map[string]string{"assignee": staffUserID},
	})
	s.publish("order.assign", o)
	return o, nil
}

// Stats summarizes orders created since the given time. Revenue counts
// completed orders net of refunds.
func (s *Service) Stats(ctx context.Context, claims *auth.Claims, since time.Time) (Stats, error) {
	if err := auth.RequirePermission(claims, auth.PermAnalyticsRead); err != nil {
		return Stats{}, err
	}
	list, err := s.store.List(ctx, Filter{Since: since})
	if err != nil {
		return Stats{}, err
	}
	st := Stats{Since: since, ByStatus: make(map[Status]int, len(transitions)), Revenue: decimal.Zero, Refunded: decimal.Zero}
	for _, status := range Statuses() {
		st.ByStatus[status] = 0
	}
	for _, o := range list {
		st.Total++
		st.ByStatus[o.Status]++
		st.Refunded = st.Refunded.Add(o.RefundedAmount)
		if o.Status == StatusCompleted {
			st.Revenue = st.Revenue.Add(o.Total.Sub(o.RefundedAmount))
		}
	}
	return st, nil
}
