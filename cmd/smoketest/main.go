package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/myrjola/struggle/internal/e2etest"
	"github.com/myrjola/struggle/internal/errors"
	"github.com/myrjola/struggle/internal/logging"
	"github.com/myrjola/struggle/internal/workout"
)

// generateAndComplete runs one workout as a fresh anonymous user.
func generateAndComplete(ctx context.Context, client *e2etest.Client) (workout.Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second) //nolint:mnd // 10 seconds
	defer cancel()

	var w workout.CurrentWorkout
	if err := client.JSON(ctx, http.MethodPost, "/api/workouts/generate",
		map[string]any{"protocol": "steady"}, http.StatusCreated, &w); err != nil {
		return workout.Completion{}, fmt.Errorf("generate: %w", err)
	}
	var c workout.Completion
	if err := client.JSON(ctx, http.MethodPost, "/api/workouts/"+w.ID+"/complete",
		map[string]any{"actual_seconds": w.TargetSeconds}, http.StatusOK, &c); err != nil {
		return workout.Completion{}, fmt.Errorf("complete: %w", err)
	}
	if !c.Saved {
		return c, errors.New("completion was not saved")
	}
	return c, nil
}

func main() {
	ctx := context.Background()
	logger, _ := logging.New(os.Stdout, "text", "debug")

	if len(os.Args) != 2 { //nolint:mnd // we expect only hostname to be passed as argument.
		logger.LogAttrs(ctx, slog.LevelError, "usage: smoketest <hostname>")
		os.Exit(1)
	}

	var (
		hostname = os.Args[1]
		client   *e2etest.Client
		err      error
		start    = time.Now()
	)
	ctx = logging.WithAttrs(ctx, slog.String("hostname", hostname))
	url := "https://" + hostname
	if strings.Contains(hostname, "localhost") {
		url = "http://" + hostname
	}

	if client, err = e2etest.NewClient(url); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error creating client", errors.SlogError(err))
		os.Exit(1)
	}
	if err = client.WaitForReady(ctx, "/api/healthy"); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "server not ready in time", errors.SlogError(err))
		os.Exit(1)
	}
	c, err := generateAndComplete(ctx, client)
	if err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "error running workout", errors.SlogError(err))
		os.Exit(1)
	}

	logger.LogAttrs(ctx, slog.LevelInfo, "Smoke test successful 🙌",
		slog.String("tier", string(c.Reward.Tier)), slog.Duration("duration", time.Since(start)))
	os.Exit(0)
}
