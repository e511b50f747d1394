package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"

	"ristoro.dev/internal/audit"
)

// Audit implements audit.Store on the append-only audit_logs table.
type Audit struct {
	db *sql.DB
}

var _ audit.Store = (*Audit)(nil)

func (s *Audit) Append(ctx context.Context, e *audit.Entry) error {
	if s.db == nil {
		return errNoDB
	}
	details := []byte("{}")
	if len(e.Details) > 0 {
		bytes, err := json.Marshal(e.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = bytes
	}
	_, err := s.db.ExecContext(ctx, `
		insert into audit_logs (id, user_id, action, resource, resource_id, details, created_at)
		values ($1, $2, $3, $4, $5, $6, $7)
	`, e.ID, e.UserID, e.Action, e.Resource, nullIfEmpty(e.ResourceID), details, e.Timestamp)
	return err
}

func (s *Audit) List(ctx context.Context, f audit.Filter) ([]audit.Entry, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	var (
		where []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Resource != "" {
		args = append(args, f.Resource)
		where = append(where, fmt.Sprintf("resource = $%d", len(args)))
	}
	query := `select id, user_id, action, resource, coalesce(resource_id,''), details, created_at from audit_logs`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	query += ` order by created_at desc, id desc`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(` limit $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []audit.Entry
	for rows.Next() {
		var (
			e   audit.Entry
			raw []byte
		)
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Resource, &e.ResourceID, &raw, &e.Timestamp); err != nil {
			return nil, err
		}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Details); err != nil {
				return nil, fmt.Errorf("decode details: %w", err)
			}
		}
		if len(e.Details) == 0 {
			e.Details = nil
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
