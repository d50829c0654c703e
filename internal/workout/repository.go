package workout

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/myrjola/struggle/internal/sqlite"
)

const timestampFormat = "2006-01-02T15:04:05.000Z"
const dateFormat = time.DateOnly

// querier is satisfied by *sql.DB and *sql.Tx so reads can join a surrounding transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type baseRepository struct {
	db     *sqlite.Database
	logger *slog.Logger
}

func newBaseRepository(db *sqlite.Database, logger *slog.Logger) baseRepository {
	return baseRepository{db: db, logger: logger}
}

// repository groups the SQLite repositories used by Service.
type repository struct {
	users    *sqliteUserRepository
	progress *sqliteProgressRepository
	quotas   *sqliteQuotaRepository
	workouts *sqliteWorkoutRepository
	stats    *sqliteStatsRepository
}

func newRepository(db *sqlite.Database, logger *slog.Logger) *repository {
	base := newBaseRepository(db, logger)
	return &repository{
		users:    &sqliteUserRepository{baseRepository: base},
		progress: &sqliteProgressRepository{baseRepository: base},
		quotas:   &sqliteQuotaRepository{baseRepository: base},
		workouts: &sqliteWorkoutRepository{baseRepository: base},
		stats:    &sqliteStatsRepository{baseRepository: base},
	}
}

func formatDate(t time.Time) string {
	return t.Format(dateFormat)
}

func parseDate(s sql.NullString) (time.Time, error) {
	if !s.Valid {
		return time.Time{}, nil
	}
	d, err := time.Parse(dateFormat, s.String)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", s.String, err)
	}
	return d, nil
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampFormat, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
