package sqlite

import (
	"context"
	"log/slog"
	"time"

	"github.com/myrjola/struggle/internal/errors"
)

// startOptimizer runs PRAGMA optimize every interval until ctx is done.
// See https://www.sqlite.org/pragma.html#pragma_optimize.
func (db *Database) startOptimizer(ctx context.Context, interval time.Duration) {
	query := "PRAGMA optimize = 0x10002;"
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		start := time.Now()
		if _, err := db.ReadWrite.ExecContext(ctx, query); err != nil {
			if ctx.Err() != nil {
				return
			}
			db.logger.LogAttrs(ctx, slog.LevelError, "failed to optimize database", errors.SlogError(err))
		} else {
			db.logger.LogAttrs(ctx, slog.LevelDebug, "optimized database", slog.Duration("duration", time.Since(start)))
		}
		query = "PRAGMA optimize;"
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
