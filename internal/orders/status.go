package orders

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"ristoro.dev/internal/auth"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusPreparing Status = "preparing"
	StatusReady     Status = "ready"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// PaymentStatus tracks the payment of an order independently of Status.
type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

var (
	ErrInvalidTransition = errors.New("invalid transition")
	ErrPaymentFailed     = errors.New("payment initialization failed")
)

// TransitionError describes a rejected status change.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("invalid transition: %s -> %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// transitions is the forward graph. Cancellation is listed where the graph
// allows it but is also granted separately by CanCancel.
var transitions = map[Status][]Status{
	StatusPending:   {StatusConfirmed, StatusCancelled},
	StatusConfirmed: {StatusPreparing, StatusCancelled},
	StatusPreparing: {StatusReady, StatusCancelled},
	StatusReady:     {StatusCompleted},
	StatusCompleted: {},
	StatusCancelled: {},
}

// Statuses lists every status in lifecycle order.
func Statuses() []Status {
	return []Status{StatusPending, StatusConfirmed, StatusPreparing, StatusReady, StatusCompleted, StatusCancelled}
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// Terminal reports whether s has no outgoing transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// NextStatuses returns the legal next states of s from the table.
func NextStatuses(s Status) []Status {
	next := transitions[s]
	out := make([]Status, len(next))
	copy(out, next)
	return out
}

// CanTransition reports whether the table allows from -> to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CanCancel is the cancellation escape hatch: any non-terminal order may be
// cancelled, whatever the forward table says.
func CanCancel(s Status) bool {
	return s.Valid() && !s.Terminal()
}

// CanRefund reports whether o is eligible for a refund. Refunds never change
// the order status.
func CanRefund(o Order) bool {
	return o.Status == StatusCompleted && o.PaymentStatus == PaymentPaid
}

// ValidateRefund checks eligibility and 0 < amount <= total.
func ValidateRefund(o Order, amount decimal.Decimal) error {
	if !CanRefund(o) {
		return fmt.Errorf("%w: refund requires a completed, paid order (status %s, payment %s)",
			ErrInvalidTransition, o.Status, o.PaymentStatus)
	}
	if !amount.IsPositive() {
		return fmt.Errorf("%w: refund amount must be greater than zero", auth.ErrInvalidInput)
	}
	if amount.GreaterThan(o.Total) {
		return fmt.Errorf("%w: refund amount %s exceeds order total %s", auth.ErrInvalidInput, amount, o.Total)
	}
	return nil
}

// Action is an operation the back office may offer for an order.
type Action struct {
	Name   string `json:"name"`
	Target Status `json:"target,omitempty"`
}

// Actions enumerates the legal actions for o: one mark action per forward
// transition, cancel while not terminal, refund when eligible.
func Actions(o Order) []Action {
	var out []Action
	for _, next := range transitions[o.Status] {
		if next == StatusCancelled {
			continue
		}
		out = append(out, Action{Name: "mark_" + string(next), Target: next})
	}
	if CanCancel(o.Status) {
		out = append(out, Action{Name: "cancel", Target: StatusCancelled})
	}
	if CanRefund(o) {
		out = append(out, Action{Name: "refund"})
	}
	return out
}
