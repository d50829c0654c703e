package workout_test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/go-cmp/cmp"
	"github.com/myrjola/struggle/internal/cache"
	"github.com/myrjola/struggle/internal/contexthelpers"
	"github.com/myrjola/struggle/internal/errors"
	"github.com/myrjola/struggle/internal/insight"
	"github.com/myrjola/struggle/internal/progression"
	"github.com/myrjola/struggle/internal/sqlite"
	"github.com/myrjola/struggle/internal/struggle"
	"github.com/myrjola/struggle/internal/testhelpers"
	"github.com/myrjola/struggle/internal/workout"
	"golang.org/x/sync/errgroup"
)

// firstRand picks the smallest count and keeps catalog order.
type firstRand struct{}

func (firstRand) IntN(int) int { return 0 }
func (firstRand) Shuffle(int, func(i, j int)) {}

type fakeInsight struct {
	mu       sync.Mutex
	text     string
	err      error
	requests []insight.Request
}

func (f *fakeInsight) Insight(_ context.Context, req insight.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.text, f.err
}

func (f *fakeInsight) Chat(_ context.Context, req insight.ChatRequest) (string, error) {
	return "Echo: " + req.Message, f.err
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	svc     *workout.Service
	db      *sqlite.Database
	clock   *clock
	insight *fakeInsight
}

func newFixture(t *testing.T, dbURL string, c workout.Cache) fixture {
	t.Helper()
	logger := testhelpers.NewLogger(testhelpers.NewWriter(t))
	db, err := sqlite.NewDatabase(t.Context(), dbURL, logger)
	if err != nil {
		t.Fatalf("NewDatabase() error = %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})
	clk := &clock{now: time.Date(2024, 1, 5, 7, 30, 0, 0, time.UTC)}
	fake := &fakeInsight{text: "Strong **finish**."}
	svc, err := workout.NewService(db, logger, workout.Options{
		Catalog:          nil,
		Policy:           nil,
		Insight:          fake,
		Cache:            c,
		Metrics:          nil,
		DailyGenerations: 3,
		InsightTimeout:   time.Second,
		Now:              clk.Now,
		NewRand:          func() struggle.RandSource { return firstRand{} },
	})
	if err != nil {
		t.Fatalf("NewService() error = %v", err)
	}
	return fixture{svc: svc, db: db, clock: clk, insight: fake}
}

func (f fixture) user(t *testing.T, tier progression.Tier) context.Context {
	t.Helper()
	u, err := f.svc.CreateUser(t.Context())
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if tier != progression.TierFree {
		if err = f.svc.SetTier(t.Context(), u.ID, tier); err != nil {
			t.Fatalf("SetTier() error = %v", err)
		}
	}
	return contexthelpers.WithUser(t.Context(), u.ID, string(tier))
}

var legacyCore = workout.GenerateRequest{ProtocolID: "steady", PackageID: "core", Legacy: true}

func TestService_GenerateAndComplete(t *testing.T) {
	f := newFixture(t, ":memory:", nil)
	ctx := f.user(t, progression.TierFree)

	w, err := f.svc.Generate(ctx, legacyCore)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if w.TargetSeconds != 269 {
		t.Errorf("TargetSeconds = %d, want 269", w.TargetSeconds)
	}
	if want := "steady/core:hollow-hold,plank-hold,sit-ups"; w.Fingerprint != want {
		t.Errorf("Fingerprint = %q, want %q", w.Fingerprint, want)
	}

	current, err := f.svc.Current(ctx)
	if err != nil {
		t.Fatalf("Current() error = %v", err)
	}
	if diff := cmp.Diff(w, current); diff != "" {
		t.Errorf("Current() mismatch (-want +got):\n%s", diff)
	}

	got, err := f.svc.Complete(ctx, w.ID, workout.CompleteRequest{ActualSeconds: 200, Feeling: "tough"})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	want := workout.Completion{
		Reward: struggle.Reward{Tier: struggle.TierCrushed, Base: 75, Amount: 75},
		Progress: workout.Progress{
			State: progression.State{
				CurrentStreak:   1,
				LongestStreak:   1,
				LastWorkoutDate: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
				TotalWorkouts:   1,
				Unlocked:        nil,
			},
			RewardBalance: 75,
		},
		NewlyUnlocked: []string{},
		GlobalStats: &workout.GlobalStats{
			Fingerprint:    w.Fingerprint,
			Completions:    1,
			AverageSeconds: 200,
			FastestSeconds: 200,
		},
		InsightHTML: "<p>Strong <strong>finish</strong>.</p>\n",
		Saved:       true,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Complete() mismatch (-want +got):\n%s", diff)
	}

	if _, err = f.svc.Complete(ctx, w.ID, workout.CompleteRequest{ActualSeconds: 150, Feeling: ""}); !errors.Is(
		err, workout.ErrAlreadyCompleted) {
		t.Errorf("second Complete() error = %v, want ErrAlreadyCompleted", err)
	}
	stored, err := f.svc.Progress(ctx)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if diff := cmp.Diff(want.Progress, stored); diff != "" {
		t.Errorf("Progress() mismatch (-want +got):\n%s", diff)
	}

	if len(f.insight.requests) != 1 {
		t.Fatalf("insight requests = %d, want 1", len(f.insight.requests))
	}
	if diff := cmp.Diff(map[string]float64{
		"actual_seconds": 200,
		"target_seconds": 269,
		"reward":         75,
		"streak":         1,
	}, f.insight.requests[0].Metrics); diff != "" {
		t.Errorf("insight metrics mismatch (-want +got):\n%s", diff)
	}
}

func TestService_Complete_errors(t *testing.T) {
	f := newFixture(t, ":memory:", nil)
	ctx := f.user(t, progression.TierFree)

	if _, err := f.svc.Complete(ctx, "missing", workout.CompleteRequest{ActualSeconds: 10, Feeling: ""}); !errors.Is(
		err, workout.ErrNotFound) {
		t.Errorf("Complete() without workout error = %v, want ErrNotFound", err)
	}
	w, err := f.svc.Generate(ctx, legacyCore)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err = f.svc.Complete(ctx, "other", workout.CompleteRequest{ActualSeconds: 10, Feeling: ""}); !errors.Is(
		err, workout.ErrNotFound) {
		t.Errorf("Complete() with stale id error = %v, want ErrNotFound", err)
	}
	for _, actual := range []float64{0, -5} {
		if _, err = f.svc.Complete(ctx, w.ID, workout.CompleteRequest{ActualSeconds: actual, Feeling: ""}); !errors.Is(
			err, struggle.ErrInput) {
			t.Errorf("Complete(%v) error = %v, want ErrInput", actual, err)
		}
	}
	p, err := f.svc.Progress(ctx)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if p.TotalWorkouts != 0 {
		t.Errorf("TotalWorkouts = %d after rejected completions, want 0", p.TotalWorkouts)
	}
}

func TestService_Streak(t *testing.T) {
	f := newFixture(t, ":memory:", nil)
	ctx := f.user(t, progression.TierFree)

	complete := func() workout.Completion {
		t.Helper()
		w, err := f.svc.Generate(ctx, legacyCore)
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		c, err := f.svc.Complete(ctx, w.ID, workout.CompleteRequest{ActualSeconds: 300, Feeling: ""})
		if err != nil {
			t.Fatalf("Complete() error = %v", err)
		}
		return c
	}

	for day := 1; day <= 7; day++ {
		c := complete()
		if c.Progress.CurrentStreak != day {
			t.Errorf("day %d: CurrentStreak = %d", day, c.Progress.CurrentStreak)
		}
		if day == 7 {
			if diff := cmp.Diff([]string{"streak_7"}, c.NewlyUnlocked); diff != "" {
				t.Errorf("NewlyUnlocked mismatch (-want +got):\n%s", diff)
			}
		}
		f.clock.advance(24 * time.Hour)
	}

	// The gated protocol is now available to the free user.
	if _, err := f.svc.Generate(ctx, workout.GenerateRequest{ProtocolID: "inferno", PackageID: "", Legacy: false}); err != nil {
		t.Errorf("Generate(inferno) after unlock error = %v", err)
	}

	f.clock.advance(48 * time.Hour)
	c := complete()
	if c.Progress.CurrentStreak != 1 || c.Progress.LongestStreak != 7 {
		t.Errorf("after gap streak = %d longest = %d, want 1 and 7", c.Progress.CurrentStreak, c.Progress.LongestStreak)
	}
	if diff := cmp.Diff([]string{"streak_7"}, c.Progress.Unlocked); diff != "" {
		t.Errorf("Unlocked mismatch (-want +got):\n%s", diff)
	}
}

func TestService_Quota(t *testing.T) {
	f := newFixture(t, ":memory:", nil)
	ctx := f.user(t, progression.TierFree)

	for i := range 3 {
		if _, err := f.svc.Generate(ctx, legacyCore); err != nil {
			t.Fatalf("Generate() #%d error = %v", i+1, err)
		}
	}
	if _, err := f.svc.Generate(ctx, legacyCore); !errors.Is(err, workout.ErrQuotaExhausted) {
		t.Errorf("Generate() #4 error = %v, want ErrQuotaExhausted", err)
	}
	status, err := f.svc.Quota(ctx)
	if err != nil {
		t.Fatalf("Quota() error = %v", err)
	}
	if status.Unlimited || status.Limit == nil || *status.Limit != 3 || status.Remaining == nil || *status.Remaining != 0 {
		t.Errorf("Quota() = %+v, want limit 3 remaining 0", status)
	}

	f.clock.advance(24 * time.Hour)
	if _, err = f.svc.Generate(ctx, legacyCore); err != nil {
		t.Errorf("Generate() on the next day error = %v", err)
	}

	unlimited := f.user(t, progression.TierUnlimited)
	for i := range 5 {
		if _, err = f.svc.Generate(unlimited, legacyCore); err != nil {
			t.Fatalf("unlimited Generate() #%d error = %v", i+1, err)
		}
	}
	status, err = f.svc.Quota(unlimited)
	if err != nil {
		t.Fatalf("Quota() error = %v", err)
	}
	if diff := cmp.Diff(progression.QuotaStatus{Unlimited: true, Limit: nil, Remaining: nil}, status); diff != "" {
		t.Errorf("unlimited Quota() mismatch (-want +got):\n%s", diff)
	}
}

func TestService_Generate_access(t *testing.T) {
	f := newFixture(t, ":memory:", nil)
	free := f.user(t, progression.TierFree)
	inferno := workout.GenerateRequest{ProtocolID: "inferno", PackageID: "", Legacy: false}

	if _, err := f.svc.Generate(free, inferno); !errors.Is(err, workout.ErrProtocolLocked) {
		t.Errorf("Generate(inferno) error = %v, want ErrProtocolLocked", err)
	}
	if _, err := f.svc.Generate(free, workout.GenerateRequest{ProtocolID: "nope", PackageID: "", Legacy: false}); !errors.Is(
		err, struggle.ErrInput) {
		t.Errorf("Generate(unknown) error = %v, want ErrInput", err)
	}
	if _, err := f.svc.Generate(free, workout.GenerateRequest{ProtocolID: "steady", PackageID: "nope", Legacy: false}); !errors.Is(
		err, struggle.ErrConfiguration) {
		t.Errorf("Generate(unknown package) error = %v, want ErrConfiguration", err)
	}
	q, err := f.svc.Quota(free)
	if err != nil {
		t.Fatalf("Quota() error = %v", err)
	}
	if *q.Remaining != 3 {
		t.Errorf("Remaining = %d after rejected requests, want 3", *q.Remaining)
	}

	protocols, err := f.svc.Protocols(free)
	if err != nil {
		t.Fatalf("Protocols() error = %v", err)
	}
	accessible := map[string]bool{}
	for _, p := range protocols {
		accessible[p.ID] = p.Accessible
	}
	if diff := cmp.Diff(map[string]bool{"steady": true, "explosive": true, "inferno": false}, accessible); diff != "" {
		t.Errorf("Protocols() mismatch (-want +got):\n%s", diff)
	}

	unlimited := f.user(t, progression.TierUnlimited)
	w, err := f.svc.Generate(unlimited, inferno)
	if err != nil {
		t.Fatalf("unlimited Generate(inferno) error = %v", err)
	}
	if n := len(w.Exercises); n < 4 || n > 6 {
		t.Errorf("daily workout has %d exercises, want 4 to 6", n)
	}
}

func TestService_Complete_unsaved(t *testing.T) {
	f := newFixture(t, ":memory:", nil)
	ctx := f.user(t, progression.TierFree)
	w, err := f.svc.Generate(ctx, legacyCore)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err = f.db.ReadWrite.ExecContext(t.Context(), "DROP TABLE completed_workouts"); err != nil {
		t.Fatalf("drop table: %v", err)
	}
	f.insight.err = &insight.Error{Kind: insight.KindRateLimit, StatusCode: 429, Err: errors.New("slow down")}

	got, err := f.svc.Complete(ctx, w.ID, workout.CompleteRequest{ActualSeconds: 250, Feeling: ""})
	if err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if got.Saved {
		t.Error("Saved = true, want false")
	}
	if got.Reward.Tier != struggle.TierBeat || got.Progress.CurrentStreak != 1 || got.Progress.RewardBalance != 50 {
		t.Errorf("Complete() = %+v, want beat tier with streak 1 and balance 50", got)
	}
	if got.InsightHTML != "" {
		t.Errorf("InsightHTML = %q, want empty when the collaborator fails", got.InsightHTML)
	}
	stored, err := f.svc.Progress(ctx)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if stored.TotalWorkouts != 0 {
		t.Errorf("stored TotalWorkouts = %d, want 0 after rolled back completion", stored.TotalWorkouts)
	}
}

func TestService_GlobalStats(t *testing.T) {
	mr := miniredis.RunT(t)
	rc, err := cache.Connect(t.Context(), "redis://"+mr.Addr(), "test:", time.Minute)
	if err != nil {
		t.Fatalf("cache.Connect() error = %v", err)
	}
	t.Cleanup(func() {
		_ = rc.Close()
	})
	f := newFixture(t, ":memory:", rc)

	if _, err = f.svc.GlobalStats(t.Context(), "steady/core:x"); !errors.Is(err, workout.ErrNotFound) {
		t.Errorf("GlobalStats() before completions error = %v, want ErrNotFound", err)
	}

	var fingerprint string
	for i, actual := range []float64{300, 200} {
		ctx := f.user(t, progression.TierFree)
		w, gerr := f.svc.Generate(ctx, legacyCore)
		if gerr != nil {
			t.Fatalf("Generate() error = %v", gerr)
		}
		fingerprint = w.Fingerprint
		c, cerr := f.svc.Complete(ctx, w.ID, workout.CompleteRequest{ActualSeconds: actual, Feeling: ""})
		if cerr != nil {
			t.Fatalf("Complete() error = %v", cerr)
		}
		if c.GlobalStats == nil || c.GlobalStats.Completions != i+1 {
			t.Errorf("completion %d GlobalStats = %+v", i+1, c.GlobalStats)
		}
		if mr.Exists("test:stats:" + fingerprint) {
			t.Errorf("completion %d left cached stats behind", i+1)
		}
		// Reading caches the fresh row, which the next completion must invalidate.
		st, serr := f.svc.GlobalStats(t.Context(), fingerprint)
		if serr != nil {
			t.Fatalf("GlobalStats() error = %v", serr)
		}
		if st.Completions != i+1 {
			t.Errorf("GlobalStats() after completion %d = %+v, want %d completions", i+1, st, i+1)
		}
	}

	want := workout.GlobalStats{Fingerprint: fingerprint, Completions: 2, AverageSeconds: 250, FastestSeconds: 200}
	if !mr.Exists("test:stats:" + fingerprint) {
		t.Error("stats were not cached on read")
	}
	// Served from the cache even when SQLite no longer has the row.
	if _, err = f.db.ReadWrite.ExecContext(t.Context(), "DELETE FROM global_stats"); err != nil {
		t.Fatalf("delete stats: %v", err)
	}
	got, err := f.svc.GlobalStats(t.Context(), fingerprint)
	if err != nil {
		t.Fatalf("GlobalStats() error = %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GlobalStats() mismatch (-want +got):\n%s", diff)
	}

	// A broken cache falls back to SQLite.
	mr.Close()
	if _, err = f.svc.GlobalStats(t.Context(), fingerprint); !errors.Is(err, workout.ErrNotFound) {
		t.Errorf("GlobalStats() with cache down error = %v, want ErrNotFound from SQLite", err)
	}
}

func TestService_Complete_concurrent(t *testing.T) {
	f := newFixture(t, filepath.Join(t.TempDir(), "struggle.sqlite3"), nil)
	ctx := f.user(t, progression.TierUnlimited)
	w, err := f.svc.Generate(ctx, legacyCore)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	const n = 20
	var (
		g        errgroup.Group
		mu       sync.Mutex
		accepted int
		rejected int
	)
	for range n {
		g.Go(func() error {
			c, cerr := f.svc.Complete(ctx, w.ID, workout.CompleteRequest{ActualSeconds: 240, Feeling: ""})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(cerr, workout.ErrAlreadyCompleted):
				rejected++
			case cerr != nil:
				return cerr
			case !c.Saved:
				return errors.New("completion not saved")
			default:
				accepted++
			}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if accepted != 1 || rejected != n-1 {
		t.Errorf("accepted %d and rejected %d completions, want 1 and %d", accepted, rejected, n-1)
	}

	p, err := f.svc.Progress(ctx)
	if err != nil {
		t.Fatalf("Progress() error = %v", err)
	}
	if p.TotalWorkouts != 1 || p.CurrentStreak != 1 || p.RewardBalance != 50 {
		t.Errorf("Progress() = %+v, want 1 workout, streak 1 and balance 50", p)
	}
	count, err := f.svc.CompletionCount(ctx)
	if err != nil {
		t.Fatalf("CompletionCount() error = %v", err)
	}
	if count != 1 {
		t.Errorf("CompletionCount() = %d, want 1", count)
	}
	st, err := f.svc.GlobalStats(t.Context(), w.Fingerprint)
	if err != nil {
		t.Fatalf("GlobalStats() error = %v", err)
	}
	if st.Completions != 1 {
		t.Errorf("Completions = %d, want 1", st.Completions)
	}
}

func TestService_Users(t *testing.T) {
	f := newFixture(t, ":memory:", nil)
	u, err := f.svc.CreateUser(t.Context())
	if err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	if u.Tier != progression.TierFree {
		t.Errorf("Tier = %q, want free", u.Tier)
	}
	if err = f.svc.SetTier(t.Context(), u.ID, "gold"); !errors.Is(err, struggle.ErrInput) {
		t.Errorf("SetTier(gold) error = %v, want ErrInput", err)
	}
	if err = f.svc.SetTier(t.Context(), u.ID+100, progression.TierUnlimited); !errors.Is(err, workout.ErrNotFound) {
		t.Errorf("SetTier(missing) error = %v, want ErrNotFound", err)
	}
	if err = f.svc.SetTier(t.Context(), u.ID, progression.TierUnlimited); err != nil {
		t.Fatalf("SetTier() error = %v", err)
	}
	got, err := f.svc.GetUser(t.Context(), u.ID)
	if err != nil {
		t.Fatalf("GetUser() error = %v", err)
	}
	if got.Tier != progression.TierUnlimited || !got.CreatedAt.Equal(u.CreatedAt) {
		t.Errorf("GetUser() = %+v, want unlimited user created at %v", got, u.CreatedAt)
	}
}

func TestService_Chat(t *testing.T) {
	f := newFixture(t, ":memory:", nil)
	ctx := f.user(t, progression.TierFree)

	reply, err := f.svc.Chat(ctx, "  how many burpees?  ")
	if err != nil {
		t.Fatalf("Chat() error = %v", err)
	}
	if reply.Reply != "Echo: how many burpees?" {
		t.Errorf("Reply = %q", reply.Reply)
	}
	if _, err = f.svc.Chat(ctx, " "); !errors.Is(err, struggle.ErrInput) {
		t.Errorf("Chat(blank) error = %v, want ErrInput", err)
	}
	f.insight.err = insight.ErrDisabled
	if _, err = f.svc.Chat(ctx, "hello"); !errors.Is(err, workout.ErrUnavailable) {
		t.Errorf("Chat() with disabled collaborator error = %v, want ErrUnavailable", err)
	}
}
