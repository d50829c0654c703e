package workout

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/myrjola/struggle/internal/errors"
	"github.com/myrjola/struggle/internal/progression"
)

type sqliteQuotaRepository struct {
	baseRepository
}

func (r *sqliteQuotaRepository) load(ctx context.Context, q querier, userID int64) (progression.Quota, error) {
	var (
		quota progression.Quota
		date  sql.NullString
	)
	err := q.QueryRowContext(ctx, `
		SELECT used, quota_date
		FROM generation_quotas
		WHERE user_id = ?`, userID).Scan(&quota.Used, &date)
	if errors.Is(err, sql.ErrNoRows) {
		return progression.Quota{}, nil
	}
	if err != nil {
		return progression.Quota{}, fmt.Errorf("query quota: %w", err)
	}
	if quota.Date, err = parseDate(date); err != nil {
		return progression.Quota{}, err
	}
	return quota, nil
}

func (r *sqliteQuotaRepository) save(ctx context.Context, tx *sql.Tx, userID int64, quota progression.Quota) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO generation_quotas (user_id, used, quota_date)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			used = excluded.used,
			quota_date = excluded.quota_date`,
		userID, quota.Used, formatDate(quota.Date)); err != nil {
		return fmt.Errorf("upsert quota: %w", err)
	}
	return nil
}
