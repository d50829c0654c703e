package workout

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/myrjola/struggle/internal/errors"
	"github.com/myrjola/struggle/internal/progression"
)

type sqliteUserRepository struct {
	baseRepository
}

// Create inserts a new free-tier user.
func (r *sqliteUserRepository) Create(ctx context.Context) (User, error) {
	var (
		u         User
		createdAt string
	)
	if err := r.db.ReadWrite.QueryRowContext(ctx, `
		INSERT INTO users DEFAULT VALUES
		RETURNING id, tier, created_at`).Scan(&u.ID, &u.Tier, &createdAt); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	var err error
	if u.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return User{}, err
	}
	return u, nil
}

func (r *sqliteUserRepository) Get(ctx context.Context, id int64) (User, error) {
	var (
		u         User
		createdAt string
	)
	err := r.db.ReadOnly.QueryRowContext(ctx, `
		SELECT id, tier, created_at
		FROM users
		WHERE id = ?`, id).Scan(&u.ID, &u.Tier, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, errors.Wrap(ErrNotFound, "user", slog.Int64("user_id", id))
	}
	if err != nil {
		return User{}, fmt.Errorf("query user: %w", err)
	}
	if u.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return User{}, err
	}
	return u, nil
}

func (r *sqliteUserRepository) SetTier(ctx context.Context, id int64, tier progression.Tier) error {
	res, err := r.db.ReadWrite.ExecContext(ctx, `UPDATE users SET tier = ? WHERE id = ?`, tier, id)
	if err != nil {
		return fmt.Errorf("update tier: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return errors.Wrap(ErrNotFound, "user", slog.Int64("user_id", id))
	}
	return nil
}
