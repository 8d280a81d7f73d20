package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/AdguardTeam/golibs/errors"
)

// UserStore exposes CRUD on User, the contents of users.db.
type UserStore struct {
	db *sql.DB
}

// CreateUser inserts a new account. password must already be hashed (see
// internal/credential).
func (us *UserStore) CreateUser(ctx context.Context, u User) error {
	return execRetry(ctx, us.db, `
		INSERT INTO users (username, password, role) VALUES (?, ?, ?)
	`, u.Username, u.Password, u.Role)
}

// UpdateUser replaces an existing account's password/role.
func (us *UserStore) UpdateUser(ctx context.Context, u User) error {
	return execRetry(ctx, us.db, `
		UPDATE users SET password = ?, role = ? WHERE username = ?
	`, u.Password, u.Role, u.Username)
}

// DeleteUser removes an account.
func (us *UserStore) DeleteUser(ctx context.Context, username string) error {
	return execRetry(ctx, us.db, `DELETE FROM users WHERE username = ?`, username)
}

// UserByUsername looks up a single account.
func (us *UserStore) UserByUsername(ctx context.Context, username string) (u User, err error) {
	row := us.db.QueryRowContext(ctx, `SELECT username, password, role FROM users WHERE username = ?`, username)
	if err = row.Scan(&u.Username, &u.Password, &u.Role); err != nil {
		return User{}, fmt.Errorf("looking up user %q: %w", username, err)
	}

	return u, nil
}

// AnyUserExists reports whether users.db has at least one account, used by
// the install bootstrap to decide whether to create the default admin.
func (us *UserStore) AnyUserExists(ctx context.Context) (ok bool, err error) {
	row := us.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM users)`)
	if err = row.Scan(&ok); err != nil {
		return false, fmt.Errorf("checking for existing users: %w", err)
	}

	return ok, nil
}

// Users returns every account.
func (us *UserStore) Users(ctx context.Context) (users []User, err error) {
	rows, err := us.db.QueryContext(ctx, `SELECT username, password, role FROM users`)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer func() { err = errors.WithDeferred(err, rows.Close()) }()

	for rows.Next() {
		var u User
		if err = rows.Scan(&u.Username, &u.Password, &u.Role); err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}

		users = append(users, u)
	}

	return users, rows.Err()
}
