// Command stresstest runs concurrent users against a server and checks that racing completions count exactly once.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/myrjola/struggle/internal/e2etest"
	"github.com/myrjola/struggle/internal/errors"
	"github.com/myrjola/struggle/internal/logging"
	"github.com/myrjola/struggle/internal/workout"
	"golang.org/x/sync/errgroup"
)

const (
	numUsers             = 20
	racingCompletions    = 25
	maxConcurrency       = 10
	scenarioTimeout      = 30 * time.Second
	successRateThreshold = 95.0
	percentageMultiplier = 100
	expectedArgsCount    = 2
)

var protocols = []string{"steady", "explosive"}

// userScenario generates and completes one workout per allowed protocol as a new user.
func userScenario(ctx context.Context, base *e2etest.Client, index int) error {
	client, err := base.Clone()
	if err != nil {
		return fmt.Errorf("clone client: %w", err)
	}
	protocol := protocols[index%len(protocols)]
	var w workout.CurrentWorkout
	if err = client.JSON(ctx, http.MethodPost, "/api/workouts/generate",
		map[string]any{"protocol": protocol}, http.StatusCreated, &w); err != nil {
		return fmt.Errorf("generate %s: %w", protocol, err)
	}
	// Alternate between fast and slow finishes so every reward tier is exercised.
	actual := float64(w.TargetSeconds) * (0.6 + 0.1*float64(index%7)) //nolint:mnd // spread over the tiers.
	var c workout.Completion
	if err = client.JSON(ctx, http.MethodPost, "/api/workouts/"+w.ID+"/complete",
		map[string]any{"actual_seconds": actual}, http.StatusOK, &c); err != nil {
		return fmt.Errorf("complete: %w", err)
	}
	if !c.Saved {
		return errors.New("completion was not saved")
	}
	return nil
}

func runUsers(ctx context.Context, client *e2etest.Client, logger *slog.Logger) error {
	var (
		g            errgroup.Group
		successCount atomic.Int64
	)
	g.SetLimit(maxConcurrency)
	for i := range numUsers {
		g.Go(func() error {
			scenarioCtx, cancel := context.WithTimeout(ctx, scenarioTimeout)
			defer cancel()
			if err := userScenario(scenarioCtx, client, i); err != nil {
				logger.LogAttrs(scenarioCtx, slog.LevelWarn, "scenario failed",
					slog.Int("user_index", i), errors.SlogError(err))
				return nil
			}
			successCount.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	successRate := float64(successCount.Load()) / numUsers * percentageMultiplier
	logger.LogAttrs(ctx, slog.LevelInfo, "user scenarios completed",
		slog.Int64("successful", successCount.Load()), slog.Float64("success_rate", successRate))
	if successRate < successRateThreshold {
		return fmt.Errorf("success rate %.1f%% below threshold", successRate)
	}
	return nil
}

// raceCompletions completes the same workout concurrently and verifies that exactly one completion was counted.
func raceCompletions(ctx context.Context, base *e2etest.Client, logger *slog.Logger) error {
	client, err := base.Clone()
	if err != nil {
		return fmt.Errorf("clone client: %w", err)
	}
	var w workout.CurrentWorkout
	if err = client.JSON(ctx, http.MethodPost, "/api/workouts/generate",
		map[string]any{"protocol": "steady"}, http.StatusCreated, &w); err != nil {
		return fmt.Errorf("generate: %w", err)
	}

	var (
		g, gctx  = errgroup.WithContext(ctx)
		accepted atomic.Int64
	)
	for range racingCompletions {
		g.Go(func() error {
			var c workout.Completion
			cerr := client.JSON(gctx, http.MethodPost, "/api/workouts/"+w.ID+"/complete",
				map[string]any{"actual_seconds": w.TargetSeconds}, http.StatusOK, &c)
			var se *e2etest.StatusError
			if errors.As(cerr, &se) && se.StatusCode == http.StatusConflict {
				return nil
			}
			if cerr != nil {
				return cerr
			}
			if !c.Saved {
				return errors.New("completion was not saved")
			}
			accepted.Add(1)
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return fmt.Errorf("racing completion: %w", err)
	}
	if n := accepted.Load(); n != 1 {
		return errors.New("racing completions accepted", slog.Int64("accepted", n), slog.Int("want", 1))
	}

	var p workout.Progress
	if err = client.JSON(ctx, http.MethodGet, "/api/progression", nil, http.StatusOK, &p); err != nil {
		return fmt.Errorf("progression: %w", err)
	}
	if p.TotalWorkouts != 1 {
		return errors.New("completion counted more than once",
			slog.Int("total_workouts", p.TotalWorkouts), slog.Int("want", 1))
	}
	logger.LogAttrs(ctx, slog.LevelInfo, "racing completions verified", slog.Int("completions", p.TotalWorkouts))
	return nil
}

func main() {
	ctx := context.Background()
	logger, _ := logging.New(os.Stdout, "text", "info")

	if len(os.Args) != expectedArgsCount {
		logger.LogAttrs(ctx, slog.LevelError, "usage: stresstest <hostname>")
		os.Exit(1)
	}

	var (
		hostname = os.Args[1]
		start    = time.Now()
	)
	ctx = logging.WithAttrs(ctx, slog.String("hostname", hostname))
	url := "https://" + hostname
	if strings.Contains(hostname, "localhost") {
		url = "http://" + hostname
	}

	client, err := e2etest.NewClient(url)
	if err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error creating client", errors.SlogError(err))
		os.Exit(1)
	}
	if err = client.WaitForReady(ctx, "/api/healthy"); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "server not ready in time", errors.SlogError(err))
		os.Exit(1)
	}
	if err = raceCompletions(ctx, client, logger); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "race test failed", errors.SlogError(err))
		os.Exit(1)
	}
	if err = runUsers(ctx, client, logger); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "load test failed", errors.SlogError(err))
		os.Exit(1)
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "Stress test completed successfully 🙌",
		slog.Duration("total_duration", time.Since(start)))
}
