package workout

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/myrjola/struggle/internal/errors"
)

type sqliteProgressRepository struct {
	baseRepository
}

// load returns the user's progress. Users without completions get the zero value.
func (r *sqliteProgressRepository) load(ctx context.Context, q querier, userID int64) (_ Progress, err error) {
	var (
		p        Progress
		lastDate sql.NullString
	)
	err = q.QueryRowContext(ctx, `
		SELECT current_streak, longest_streak, last_workout_date, total_workouts, reward_balance
		FROM progression
		WHERE user_id = ?`, userID).Scan(
		&p.CurrentStreak, &p.LongestStreak, &lastDate, &p.TotalWorkouts, &p.RewardBalance)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Progress{}, fmt.Errorf("query progression: %w", err)
	}
	if p.LastWorkoutDate, err = parseDate(lastDate); err != nil {
		return Progress{}, err
	}

	rows, err := q.QueryContext(ctx, `
		SELECT feature
		FROM unlocks
		WHERE user_id = ?
		ORDER BY feature`, userID)
	if err != nil {
		return Progress{}, fmt.Errorf("query unlocks: %w", err)
	}
	defer func() {
		err = errors.Join(err, rows.Close())
	}()
	for rows.Next() {
		var feature string
		if err = rows.Scan(&feature); err != nil {
			return Progress{}, fmt.Errorf("scan unlock: %w", err)
		}
		p.Unlocked = append(p.Unlocked, feature)
	}
	if err = rows.Err(); err != nil {
		return Progress{}, fmt.Errorf("iterate unlocks: %w", err)
	}
	return p, nil
}

// save writes p and adds newlyUnlocked to the unlock set. It must run inside the transaction that loaded p.
func (r *sqliteProgressRepository) save(
	ctx context.Context,
	tx *sql.Tx,
	userID int64,
	p Progress,
	newlyUnlocked []string,
) error {
	var lastDate sql.NullString
	if !p.LastWorkoutDate.IsZero() {
		lastDate = sql.NullString{String: formatDate(p.LastWorkoutDate), Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO progression (user_id, current_streak, longest_streak, last_workout_date, total_workouts,
		                         reward_balance)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			current_streak = excluded.current_streak,
			longest_streak = excluded.longest_streak,
			last_workout_date = excluded.last_workout_date,
			total_workouts = excluded.total_workouts,
			reward_balance = excluded.reward_balance`,
		userID, p.CurrentStreak, p.LongestStreak, lastDate, p.TotalWorkouts, p.RewardBalance); err != nil {
		return fmt.Errorf("upsert progression: %w", err)
	}
	for _, feature := range newlyUnlocked {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO unlocks (user_id, feature)
			VALUES (?, ?)
			ON CONFLICT DO NOTHING`, userID, feature); err != nil {
			return fmt.Errorf("insert unlock %s: %w", feature, err)
		}
	}
	return nil
}
