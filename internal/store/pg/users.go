package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"ristoro.dev/internal/auth"
	"ristoro.dev/internal/users"
)

// Users implements users.Store on the users table.
type Users struct {
	db *sql.DB
}

var _ users.Store = (*Users)(nil)

const userColumns = `id, subject, coalesce(email,''), coalesce(name,''), coalesce(avatar,''), role, is_active, is_blocked, last_login_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (users.User, error) {
	var (
		u         users.User
		role      string
		lastLogin sql.NullTime
	)
	if err := row.Scan(&u.ID, &u.Subject, &u.Email, &u.Name, &u.Avatar, &role, &u.IsActive, &u.IsBlocked, &lastLogin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return users.User{}, err
	}
	u.Role = auth.Role(role)
	u.LastLoginAt = timePtr(lastLogin)
	return u, nil
}

// InsertIfAbsent relies on the unique subject index: the insert is a no-op
// when a row exists and the follow-up select returns whichever row won.
func (s *Users) InsertIfAbsent(ctx context.Context, u *users.User) (users.User, bool, error) {
	if s.db == nil {
		return users.User{}, false, errNoDB
	}
	res, err := s.db.ExecContext(ctx, `
		insert into users (id, subject, email, name, avatar, role, is_active, is_blocked, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, false, $8, $9)
		on conflict (subject) do nothing
	`, u.ID, u.Subject, nullIfEmpty(u.Email), nullIfEmpty(u.Name), nullIfEmpty(u.Avatar), string(u.Role), u.IsActive, u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return users.User{}, false, err
	}
	aff, err := res.RowsAffected()
	if err != nil {
		return users.User{}, false, err
	}
	row, err := s.FindBySubject(ctx, u.Subject)
	if err != nil {
		return users.User{}, false, err
	}
	return row, aff == 1, nil
}

func (s *Users) FindBySubject(ctx context.Context, subject string) (users.User, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where subject = $1`, subject)
}

func (s *Users) FindByID(ctx context.Context, id string) (users.User, error) {
	return s.findOne(ctx, `select `+userColumns+` from users where id = $1`, id)
}

func (s *Users) findOne(ctx context.Context, query string, args ...any) (users.User, error) {
	if s.db == nil {
		return users.User{}, errNoDB
	}
	u, err := scanUser(s.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return users.User{}, auth.ErrNotFound
	}
	return u, err
}

func (s *Users) List(ctx context.Context) ([]users.User, error) {
	if s.db == nil {
		return nil, errNoDB
	}
	rows, err := s.db.QueryContext(ctx, `select `+userColumns+` from users order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []users.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Users) UpdateRole(ctx context.Context, id string, role auth.Role) (users.User, error) {
	return s.findOne(ctx, `
		update users set role = $2, updated_at = now()
		where id = $1
		returning `+userColumns, id, string(role))
}

func (s *Users) SetBlocked(ctx context.Context, id string, blocked bool) (users.User, error) {
	return s.findOne(ctx, `
		update users set is_blocked = $2, updated_at = now()
		where id = $1
		returning `+userColumns, id, blocked)
}

func (s *Users) TouchLogin(ctx context.Context, id string, at time.Time) error {
	if s.db == nil {
		return errNoDB
	}
	res, err := s.db.ExecContext(ctx, `update users set last_login_at = $2 where id = $1`, id, at)
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
