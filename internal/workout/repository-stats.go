package workout

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/myrjola/struggle/internal/errors"
)

type sqliteStatsRepository struct {
	baseRepository
}

// record adds one completion to the fingerprint's aggregate in a single atomic statement.
func (r *sqliteStatsRepository) record(ctx context.Context, fingerprint string, actualSeconds float64) (GlobalStats, error) {
	var (
		st    = GlobalStats{Fingerprint: fingerprint, Completions: 0, AverageSeconds: 0, FastestSeconds: 0}
		total float64
	)
	if err := r.db.ReadWrite.QueryRowContext(ctx, `
		INSERT INTO global_stats (fingerprint, completions, total_seconds, fastest_seconds)
		VALUES (?, 1, ?, ?)
		ON CONFLICT (fingerprint) DO UPDATE SET
			completions = completions + 1,
			total_seconds = total_seconds + excluded.total_seconds,
			fastest_seconds = MIN(fastest_seconds, excluded.fastest_seconds)
		RETURNING completions, total_seconds, fastest_seconds`,
		fingerprint, actualSeconds, actualSeconds).Scan(&st.Completions, &total, &st.FastestSeconds); err != nil {
		return GlobalStats{}, fmt.Errorf("upsert global stats: %w", err)
	}
	st.AverageSeconds = total / float64(st.Completions)
	return st, nil
}

func (r *sqliteStatsRepository) load(ctx context.Context, fingerprint string) (GlobalStats, error) {
	var (
		st    = GlobalStats{Fingerprint: fingerprint, Completions: 0, AverageSeconds: 0, FastestSeconds: 0}
		total float64
	)
	err := r.db.ReadOnly.QueryRowContext(ctx, `
		SELECT completions, total_seconds, fastest_seconds
		FROM global_stats
		WHERE fingerprint = ?`, fingerprint).Scan(&st.Completions, &total, &st.FastestSeconds)
	if errors.Is(err, sql.ErrNoRows) {
		return GlobalStats{}, errors.Wrap(ErrNotFound, "global stats", slog.String("fingerprint", fingerprint))
	}
	if err != nil {
		return GlobalStats{}, fmt.Errorf("query global stats: %w", err)
	}
	st.AverageSeconds = total / float64(st.Completions)
	return st, nil
}
