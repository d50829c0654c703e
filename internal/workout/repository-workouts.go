package workout

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/myrjola/struggle/internal/errors"
	"github.com/myrjola/struggle/internal/struggle"
)

type sqliteWorkoutRepository struct {
	baseRepository
}

// setCurrent replaces the user's current workout.
func (r *sqliteWorkoutRepository) setCurrent(ctx context.Context, tx *sql.Tx, userID int64, w CurrentWorkout) error {
	data, err := json.Marshal(w.GeneratedWorkout)
	if err != nil {
		return fmt.Errorf("marshal workout: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `
		INSERT INTO current_workouts (user_id, id, fingerprint, workout, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			id = excluded.id,
			fingerprint = excluded.fingerprint,
			workout = excluded.workout,
			created_at = excluded.created_at`,
		userID, w.ID, w.Fingerprint, string(data), w.CreatedAt.UTC().Format(timestampFormat)); err != nil {
		return fmt.Errorf("upsert current workout: %w", err)
	}
	return nil
}

func (r *sqliteWorkoutRepository) current(ctx context.Context, q querier, userID int64) (CurrentWorkout, error) {
	var (
		w         CurrentWorkout
		data      string
		createdAt string
	)
	err := q.QueryRowContext(ctx, `
		SELECT id, workout, created_at
		FROM current_workouts
		WHERE user_id = ?`, userID).Scan(&w.ID, &data, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return CurrentWorkout{}, errors.Wrap(ErrNotFound, "current workout", slog.Int64("user_id", userID))
	}
	if err != nil {
		return CurrentWorkout{}, fmt.Errorf("query current workout: %w", err)
	}
	var generated struggle.GeneratedWorkout
	if err = json.Unmarshal([]byte(data), &generated); err != nil {
		return CurrentWorkout{}, fmt.Errorf("unmarshal workout %s: %w", w.ID, err)
	}
	w.GeneratedWorkout = generated
	if w.CreatedAt, err = parseTimestamp(createdAt); err != nil {
		return CurrentWorkout{}, err
	}
	return w, nil
}

// completed reports whether the user has already recorded a completion of workoutID.
func (r *sqliteWorkoutRepository) completed(ctx context.Context, q querier, userID int64, workoutID string) (bool,
	error) {
	var done bool
	if err := q.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM completed_workouts WHERE user_id = ? AND workout_id = ?)`,
		userID, workoutID).Scan(&done); err != nil {
		return false, fmt.Errorf("query completed workout: %w", err)
	}
	return done, nil
}

func (r *sqliteWorkoutRepository) recordCompletion(
	ctx context.Context,
	tx *sql.Tx,
	userID int64,
	c completedWorkout,
) error {
	var feeling sql.NullString
	if c.Feeling != "" {
		feeling = sql.NullString{String: c.Feeling, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO completed_workouts (user_id, workout_id, protocol_id, fingerprint, actual_seconds,
		                                target_seconds, feeling, reward, completed_on)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		userID, c.WorkoutID, c.ProtocolID, c.Fingerprint, c.ActualSeconds, c.TargetSeconds, feeling, c.Reward,
		formatDate(c.CompletedOn)); err != nil {
		return fmt.Errorf("insert completed workout: %w", err)
	}
	return nil
}

// countCompletions returns how many completions the user has recorded.
func (r *sqliteWorkoutRepository) countCompletions(ctx context.Context, userID int64) (int, error) {
	var n int
	if err := r.db.ReadOnly.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM completed_workouts
		WHERE user_id = ?`, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count completions: %w", err)
	}
	return n, nil
}
