package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"ristoro.dev/internal/auth"
	"ristoro.dev/internal/orders"
)

// Orders implements orders.Store. Items are kept as a jsonb column.
type Orders struct {
	db *sql.DB
}

var _ orders.Store = (*Orders)(nil)

const orderColumns = `id, user_id, status, payment_status, total, refunded_amount, items,
	customer_name, customer_email, coalesce(customer_phone,''), coalesce(notes,''), pickup_time,
	coalesce(assigned_to,''), coalesce(payment_url,''), coalesce(payment_reference,''), coalesce(cancel_reason,''),
	created_at, updated_at, completed_at`

func scanOrder(row rowScanner) (orders.Order, error) {
	var (
		o         orders.Order
		status    string
		payStatus string
		rawItems  []byte
		completed sql.NullTime
	)
	if err := row.Scan(&o.ID, &o.UserID, &status, &payStatus, &o.Total, &o.RefundedAmount, &rawItems,
		&o.Customer.Name, &o.Customer.Email, &o.Customer.Phone, &o.Notes, &o.PickupTime,
		&o.AssignedTo, &o.PaymentURL, &o.PaymentReference, &o.CancelReason,
		&o.CreatedAt, &o.UpdatedAt, &completed); err != nil {
		return orders.Order{}, err
	}
	o.Status = orders.Status(status)
	o.PaymentStatus = orders.PaymentStatus(payStatus)
	o.CompletedAt = timePtr(completed)
	if len(rawItems) > 0 {
		if err := json.Unmarshal(rawItems, &o.Items); err != nil {
			return orders.Order{}, fmt.Errorf("decode items: %w", err)
		}
	}
	return o, nil
}

func (s *Orders) Create(ctx context.Context, o *orders.Order) error {
	if s.db == nil {
		return errNoDB
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		insert into orders (id, user_id, status, payment_status, total, refunded_amount, items,
			customer_name, customer_email, customer_phone, notes, pickup_time, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, o.ID, o.UserID, string(o.Status), string(o.PaymentStatus), o.Total, o.RefundedAmount, items,
		o.Customer.Name, o.Customer.Email, nullIfEmpty(o.Customer.Phone), nullIfEmpty(o.Notes), o.PickupTime,
		o.CreatedAt, o.UpdatedAt)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return auth.ErrConflict
			case pgErrForeignKeyViolation:
				return fmt.Errorf("%w: unknown user", auth.ErrInvalidInput)
			}
		}
		return err
	}
	return nil
}

func (s *Orders) Get(ctx context.Context, id string) (orders.Order, error) {
	if s.db == nil {
		return orders.Order{}, errNoDB
	}
	o, err := scanOrder(s.db.QueryRowContext(ctx, `select `+orderColumns+` from orders where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, auth.ErrNotFound
	}
	return o, err
}

// List returns matches newest first. A zero Limit means no limit.
func (s *Orders) List(ctx context.Context, f orders.Filter) ([]orders.Order, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var (
		where []string
		args  []any
		idx   = 1
	)
	if f.UserID != "" {
		where = append(where, fmt.Sprintf("user_id = $%d", idx))
		args = append(args, f.UserID)
		idx++
	}
	if f.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, string(f.Status))
		idx++
	}
	if !f.Since.IsZero() {
		where = append(where, fmt.Sprintf("created_at >= $%d", idx))
		args = append(args, f.Since)
		idx++
	}
	query := `select ` + orderColumns + ` from orders`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by created_at desc, id desc`
	if f.Limit > 0 {
		query += fmt.Sprintf(` limit $%d`, idx)
		args = append(args, f.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Update locks the row for the duration of fn so concurrent updates of one
// order are serialized.
func (s *Orders) Update(ctx context.Context, id string, fn func(*orders.Order) error) (orders.Order, error) {
	if s.db == nil {
		return orders.Order{}, errNoDB
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return orders.Order{}, err
	}
	defer func() { _ = tx.Rollback() }()

	o, err := scanOrder(tx.QueryRowContext(ctx, `select `+orderColumns+` from orders where id = $1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return orders.Order{}, auth.ErrNotFound
	}
	if err != nil {
		return orders.Order{}, err
	}
	if err := fn(&o); err != nil {
		return orders.Order{}, err
	}
	if _, err := tx.ExecContext(ctx, `
		update orders set status = $2, payment_status = $3, refunded_amount = $4, assigned_to = $5,
			payment_url = $6, payment_reference = $7, cancel_reason = $8, updated_at = $9, completed_at = $10
		where id = $1
	`, o.ID, string(o.Status), string(o.PaymentStatus), o.RefundedAmount, nullIfEmpty(o.AssignedTo),
		nullIfEmpty(o.PaymentURL), nullIfEmpty(o.PaymentReference), nullIfEmpty(o.CancelReason),
		o.UpdatedAt, nullTime(o.CompletedAt)); err != nil {
		return orders.Order{}, err
	}
	if err := tx.Commit(); err != nil {
		return orders.Order{}, err
	}
	return o, nil
}
