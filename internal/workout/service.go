package workout

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/myrjola/struggle/internal/contexthelpers"
	"github.com/myrjola/struggle/internal/errors"
	"github.com/myrjola/struggle/internal/insight"
	"github.com/myrjola/struggle/internal/metrics"
	"github.com/myrjola/struggle/internal/progression"
	"github.com/myrjola/struggle/internal/sqlite"
	"github.com/myrjola/struggle/internal/struggle"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultDailyGenerations = 3
	DefaultInsightTimeout   = 15 * time.Second
	maxFeelingLength        = 500
	maxChatLength           = 2000
)

// Cache stores global statistics. *cache.Redis satisfies it.
type Cache interface {
	Get(ctx context.Context, key string, v any) (bool, error)
	Set(ctx context.Context, key string, v any) error
	Delete(ctx context.Context, key string) error
}

// Options configures a Service. Zero values fall back to defaults.
type Options struct {
	Catalog *struggle.Catalog
	Policy  *progression.Policy
	Insight insight.Client
	// Cache is optional. Global statistics are read from SQLite when nil.
	Cache            Cache
	Metrics          *metrics.Manager
	DailyGenerations int
	InsightTimeout   time.Duration
	Now              func() time.Time
	NewRand          func() struggle.RandSource
}

// Service runs the workout engine for the authenticated user found in the context.
type Service struct {
	db             *sqlite.Database
	repo           *repository
	logger         *slog.Logger
	catalog        *struggle.Catalog
	policy         progression.Policy
	insight        insight.Client
	cache          Cache
	metrics        *metrics.Manager
	dailyLimit     int
	insightTimeout time.Duration
	now            func() time.Time
	newRand        func() struggle.RandSource
	statsGroup     singleflight.Group
}

// NewService creates a new workout service.
func NewService(db *sqlite.Database, logger *slog.Logger, opts Options) (*Service, error) {
	s := &Service{
		db:             db,
		repo:           newRepository(db, logger),
		logger:         logger,
		catalog:        opts.Catalog,
		policy:         progression.DefaultPolicy(),
		insight:        opts.Insight,
		cache:          opts.Cache,
		metrics:        opts.Metrics,
		dailyLimit:     opts.DailyGenerations,
		insightTimeout: opts.InsightTimeout,
		now:            opts.Now,
		newRand:        opts.NewRand,
		statsGroup:     singleflight.Group{},
	}
	if s.catalog == nil {
		c, err := struggle.DefaultCatalog()
		if err != nil {
			return nil, fmt.Errorf("load default catalog: %w", err)
		}
		s.catalog = c
	}
	if opts.Policy != nil {
		s.policy = *opts.Policy
	}
	if s.insight == nil {
		s.insight = insight.Disabled{}
	}
	if s.metrics == nil {
		s.metrics = metrics.NewTestManager()
	}
	if s.dailyLimit <= 0 {
		s.dailyLimit = DefaultDailyGenerations
	}
	if s.insightTimeout <= 0 {
		s.insightTimeout = DefaultInsightTimeout
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.newRand == nil {
		s.newRand = func() struggle.RandSource {
			return rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())) //nolint:gosec // not security sensitive.
		}
	}
	return s, nil
}

func (s *Service) Catalog() *struggle.Catalog {
	return s.catalog
}

func (s *Service) today() time.Time {
	return progression.Date(s.now())
}

func userTier(ctx context.Context) progression.Tier {
	return progression.Tier(contexthelpers.UserTier(ctx))
}

// CreateUser registers a new anonymous free-tier user.
func (s *Service) CreateUser(ctx context.Context) (User, error) {
	u, err := s.repo.users.Create(ctx)
	if err != nil {
		return User{}, fmt.Errorf("create user: %w", err)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "user created", slog.Int64("user_id", u.ID))
	return u, nil
}

func (s *Service) GetUser(ctx context.Context, id int64) (User, error) {
	u, err := s.repo.users.Get(ctx, id)
	if err != nil {
		return User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

// SetTier changes the user's tier. Used by administrators.
func (s *Service) SetTier(ctx context.Context, id int64, tier progression.Tier) error {
	if !tier.Valid() {
		return errors.Wrap(struggle.ErrInput, "invalid tier", slog.String("tier", string(tier)))
	}
	if err := s.repo.users.SetTier(ctx, id, tier); err != nil {
		return fmt.Errorf("set tier: %w", err)
	}
	s.logger.LogAttrs(ctx, slog.LevelInfo, "tier changed",
		slog.Int64("user_id", id), slog.String("tier", string(tier)))
	return nil
}

// Protocols lists every protocol with whether the current user may generate it.
func (s *Service) Protocols(ctx context.Context) ([]ProtocolAccess, error) {
	p, err := s.repo.progress.load(ctx, s.db.ReadOnly, contexthelpers.AuthenticatedUserID(ctx))
	if err != nil {
		return nil, fmt.Errorf("load progression: %w", err)
	}
	unlimited := userTier(ctx) == progression.TierUnlimited
	protocols := s.catalog.Protocols()
	out := make([]ProtocolAccess, len(protocols))
	for i, protocol := range protocols {
		out[i] = ProtocolAccess{Protocol: protocol, Accessible: unlimited || protocol.AccessibleWith(p.Unlocked)}
	}
	return out, nil
}

// Generate creates a workout and stores it as the user's current one. Free users consume one daily generation.
func (s *Service) Generate(ctx context.Context, req GenerateRequest) (CurrentWorkout, error) {
	userID := contexthelpers.AuthenticatedUserID(ctx)
	tier := userTier(ctx)

	protocol, ok := s.catalog.Protocol(req.ProtocolID)
	if !ok {
		return CurrentWorkout{}, errors.Wrap(struggle.ErrInput, "unknown protocol",
			slog.String("protocol", req.ProtocolID))
	}
	if tier != progression.TierUnlimited && protocol.Access == struggle.AccessGated {
		p, err := s.repo.progress.load(ctx, s.db.ReadOnly, userID)
		if err != nil {
			return CurrentWorkout{}, fmt.Errorf("load progression: %w", err)
		}
		if !protocol.AccessibleWith(p.Unlocked) {
			return CurrentWorkout{}, errors.Wrap(ErrProtocolLocked, "generate",
				slog.String("protocol", protocol.ID), slog.String("unlocked_by", protocol.UnlockedBy))
		}
	}

	opts := struggle.Options{Count: struggle.DailyRange, PackageID: req.PackageID}
	mode := "daily"
	if req.Legacy {
		opts.Count = struggle.LegacyRange
		mode = "legacy"
	}
	generated, err := struggle.NewGenerator(s.catalog, s.newRand()).Generate(protocol, opts)
	if err != nil {
		return CurrentWorkout{}, fmt.Errorf("generate workout: %w", err)
	}
	w := CurrentWorkout{
		ID:               uuid.NewString(),
		CreatedAt:        s.now().UTC().Truncate(time.Millisecond),
		GeneratedWorkout: generated,
	}

	today := s.today()
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if tier != progression.TierUnlimited {
			quota, qerr := s.repo.quotas.load(ctx, tx, userID)
			if qerr != nil {
				return qerr
			}
			if quota.Remaining(today, s.dailyLimit) == 0 {
				return errors.Wrap(ErrQuotaExhausted, "generate",
					slog.Int("limit", s.dailyLimit), slog.Int("used", quota.UsedOn(today)))
			}
			if qerr = s.repo.quotas.save(ctx, tx, userID, quota.Consume(today)); qerr != nil {
				return qerr
			}
		}
		return s.repo.workouts.setCurrent(ctx, tx, userID, w)
	})
	if errors.Is(err, ErrQuotaExhausted) {
		s.metrics.CounterQuotaRejections.Inc()
		return CurrentWorkout{}, err
	}
	if err != nil {
		return CurrentWorkout{}, fmt.Errorf("store generated workout: %w", err)
	}

	s.metrics.CounterGenerations.WithLabelValues(protocol.ID, mode).Inc()
	s.logger.LogAttrs(ctx, slog.LevelInfo, "workout generated",
		slog.String("workout_id", w.ID),
		slog.String("fingerprint", w.Fingerprint),
		slog.Int("target_seconds", w.TargetSeconds))
	return w, nil
}

// Current returns the user's current workout.
func (s *Service) Current(ctx context.Context) (CurrentWorkout, error) {
	w, err := s.repo.workouts.current(ctx, s.db.ReadOnly, contexthelpers.AuthenticatedUserID(ctx))
	if err != nil {
		return CurrentWorkout{}, fmt.Errorf("get current workout: %w", err)
	}
	return w, nil
}

// Complete scores the current workout and advances the user's progression.
//
// A failing write does not fail the call. The result is returned with Saved set to false. Global statistics and the
// insight text are best-effort and left empty when their collaborators fail. Each workout can be completed once;
// a repeat returns ErrAlreadyCompleted.
func (s *Service) Complete(ctx context.Context, workoutID string, req CompleteRequest) (Completion, error) {
	userID := contexthelpers.AuthenticatedUserID(ctx)
	if utf8.RuneCountInString(req.Feeling) > maxFeelingLength {
		return Completion{}, errors.Wrap(struggle.ErrInput, "feeling too long", slog.Int("max", maxFeelingLength))
	}
	w, err := s.Current(ctx)
	if err != nil {
		return Completion{}, err
	}
	if w.ID != workoutID {
		return Completion{}, errors.Wrap(ErrNotFound, "workout is not current", slog.String("workout_id", workoutID))
	}
	reward, err := struggle.Score(req.ActualSeconds, float64(w.TargetSeconds), w.Protocol)
	if err != nil {
		return Completion{}, fmt.Errorf("score: %w", err)
	}

	today := s.today()
	var (
		transition progression.Transition
		progress   Progress
		saved      = true
	)
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		done, lerr := s.repo.workouts.completed(ctx, tx, userID, w.ID)
		if lerr != nil {
			return lerr
		}
		if done {
			return errors.Wrap(ErrAlreadyCompleted, "complete", slog.String("workout_id", w.ID))
		}
		p, lerr := s.repo.progress.load(ctx, tx, userID)
		if lerr != nil {
			return lerr
		}
		transition = s.policy.Apply(p.State, today)
		progress = Progress{State: transition.State, RewardBalance: p.RewardBalance + reward.Amount}
		if lerr = s.repo.progress.save(ctx, tx, userID, progress, transition.NewlyUnlocked); lerr != nil {
			return lerr
		}
		return s.repo.workouts.recordCompletion(ctx, tx, userID, completedWorkout{
			WorkoutID:     w.ID,
			ProtocolID:    w.Protocol.ID,
			Fingerprint:   w.Fingerprint,
			ActualSeconds: req.ActualSeconds,
			TargetSeconds: w.TargetSeconds,
			Feeling:       req.Feeling,
			Reward:        reward.Amount,
			CompletedOn:   today,
		})
	})
	if errors.Is(err, ErrAlreadyCompleted) {
		return Completion{}, err
	}
	if err != nil {
		saved = false
		s.metrics.CounterPersistFailures.WithLabelValues("complete").Inc()
		s.logger.LogAttrs(ctx, slog.LevelWarn, "completion not saved, continuing unsaved", errors.SlogError(err))
		p, lerr := s.repo.progress.load(ctx, s.db.ReadOnly, userID)
		if lerr != nil {
			p = Progress{} //nolint:exhaustruct // start from scratch when nothing can be read.
		}
		transition = s.policy.Apply(p.State, today)
		progress = Progress{State: transition.State, RewardBalance: p.RewardBalance + reward.Amount}
	}

	var (
		stats       *GlobalStats
		insightHTML string
		g           errgroup.Group
	)
	g.Go(func() error {
		st, serr := s.recordGlobalStats(ctx, w.Fingerprint, req.ActualSeconds)
		if serr != nil {
			s.metrics.CounterCollaboratorErrs.WithLabelValues("global_stats", "write").Inc()
			s.logger.LogAttrs(ctx, slog.LevelWarn, "global stats not recorded", errors.SlogError(serr))
			return nil
		}
		stats = &st
		return nil
	})
	g.Go(func() error {
		insightHTML = s.workoutInsight(ctx, w, req, reward, transition.State)
		return nil
	})
	_ = g.Wait()

	s.metrics.CounterCompletions.WithLabelValues(w.Protocol.ID, string(reward.Tier)).Inc()
	s.metrics.CounterRewards.WithLabelValues(w.Protocol.ID).Add(float64(reward.Amount))
	s.logger.LogAttrs(ctx, slog.LevelInfo, "workout completed",
		slog.String("workout_id", w.ID),
		slog.String("tier", string(reward.Tier)),
		slog.Int("reward", reward.Amount),
		slog.Int("streak", transition.State.CurrentStreak),
		slog.Bool("saved", saved))

	return Completion{
		Reward:        reward,
		Progress:      progress,
		NewlyUnlocked: transition.NewlyUnlocked,
		GlobalStats:   stats,
		InsightHTML:   insightHTML,
		Saved:         saved,
	}, nil
}

func statsKey(fingerprint string) string {
	return "stats:" + fingerprint
}

func (s *Service) recordGlobalStats(ctx context.Context, fingerprint string, actualSeconds float64) (GlobalStats, error) {
	st, err := s.repo.stats.record(ctx, fingerprint, actualSeconds)
	if err != nil {
		return GlobalStats{}, err
	}
	// The next read repopulates the cache from SQLite.
	if s.cache != nil {
		if err = s.cache.Delete(ctx, statsKey(fingerprint)); err != nil {
			s.metrics.CounterCollaboratorErrs.WithLabelValues("cache", "delete").Inc()
			s.logger.LogAttrs(ctx, slog.LevelWarn, "invalidate cached global stats", errors.SlogError(err))
		}
	}
	return st, nil
}

func (s *Service) cacheStats(ctx context.Context, st GlobalStats) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, statsKey(st.Fingerprint), st); err != nil {
		s.metrics.CounterCollaboratorErrs.WithLabelValues("cache", "write").Inc()
		s.logger.LogAttrs(ctx, slog.LevelWarn, "cache global stats", errors.SlogError(err))
	}
}

// GlobalStats returns completion statistics of a workout fingerprint across all users.
func (s *Service) GlobalStats(ctx context.Context, fingerprint string) (GlobalStats, error) {
	if fingerprint == "" {
		return GlobalStats{}, errors.Wrap(struggle.ErrInput, "fingerprint required")
	}
	v, err, _ := s.statsGroup.Do(fingerprint, func() (any, error) {
		if s.cache != nil {
			var st GlobalStats
			found, cerr := s.cache.Get(ctx, statsKey(fingerprint), &st)
			if cerr != nil {
				s.metrics.CounterCollaboratorErrs.WithLabelValues("cache", "read").Inc()
				s.logger.LogAttrs(ctx, slog.LevelWarn, "read cached global stats", errors.SlogError(cerr))
			} else if found {
				return st, nil
			}
		}
		st, lerr := s.repo.stats.load(ctx, fingerprint)
		if lerr != nil {
			return GlobalStats{}, lerr
		}
		s.cacheStats(ctx, st)
		return st, nil
	})
	if err != nil {
		return GlobalStats{}, fmt.Errorf("global stats: %w", err)
	}
	st, _ := v.(GlobalStats)
	return st, nil
}

func (s *Service) workoutInsight(
	ctx context.Context,
	w CurrentWorkout,
	req CompleteRequest,
	reward struggle.Reward,
	state progression.State,
) string {
	ctx, cancel := context.WithTimeout(ctx, s.insightTimeout)
	defer cancel()

	var b strings.Builder
	fmt.Fprintf(&b, "Protocol %s. Exercises: ", w.Protocol.Name)
	for i, e := range w.Exercises {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%d %s of %s", e.Value, e.Measurement, e.Name)
	}
	fmt.Fprintf(&b, ". Result tier %s.", reward.Tier)
	if req.Feeling != "" {
		fmt.Fprintf(&b, " The user said: %q.", req.Feeling)
	}

	start := time.Now()
	text, err := s.insight.Insight(ctx, insight.Request{
		Context: b.String(),
		Metrics: map[string]float64{
			"actual_seconds": req.ActualSeconds,
			"target_seconds": float64(w.TargetSeconds),
			"reward":         float64(reward.Amount),
			"streak":         float64(state.CurrentStreak),
		},
	})
	s.metrics.HistogramInsightDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		kind := insight.KindOf(err)
		if kind != insight.KindDisabled {
			s.metrics.CounterCollaboratorErrs.WithLabelValues("insight", string(kind)).Inc()
			s.logger.LogAttrs(ctx, slog.LevelWarn, "insight unavailable",
				slog.String("kind", string(kind)), errors.SlogError(err))
		}
		return ""
	}
	html, err := insight.RenderHTML(text)
	if err != nil {
		s.logger.LogAttrs(ctx, slog.LevelWarn, "render insight", errors.SlogError(err))
		return ""
	}
	return html
}

// Progress returns the user's progression.
func (s *Service) Progress(ctx context.Context) (Progress, error) {
	p, err := s.repo.progress.load(ctx, s.db.ReadOnly, contexthelpers.AuthenticatedUserID(ctx))
	if err != nil {
		return Progress{}, fmt.Errorf("load progression: %w", err)
	}
	return p, nil
}

// Quota returns the user's generation quota for today.
func (s *Service) Quota(ctx context.Context) (progression.QuotaStatus, error) {
	q, err := s.repo.quotas.load(ctx, s.db.ReadOnly, contexthelpers.AuthenticatedUserID(ctx))
	if err != nil {
		return progression.QuotaStatus{}, fmt.Errorf("load quota: %w", err)
	}
	return q.Status(s.today(), s.dailyLimit, userTier(ctx)), nil
}

// ChatReply is a coach reply in markdown and rendered HTML.
type ChatReply struct {
	Reply     string `json:"reply"`
	ReplyHTML string `json:"reply_html"`
}

// Chat forwards a message to the coach. Unlike insights, failures are reported as ErrUnavailable.
func (s *Service) Chat(ctx context.Context, message string) (ChatReply, error) {
	message = strings.TrimSpace(message)
	if message == "" || utf8.RuneCountInString(message) > maxChatLength {
		return ChatReply{}, errors.Wrap(struggle.ErrInput, "message must be between 1 and "+
			strconv.Itoa(maxChatLength)+" characters")
	}
	var chatContext string
	if p, err := s.Progress(ctx); err == nil {
		chatContext = fmt.Sprintf("Current streak %d days, longest %d, %d workouts completed.",
			p.CurrentStreak, p.LongestStreak, p.TotalWorkouts)
	}
	reply, err := s.insight.Chat(ctx, insight.ChatRequest{Message: message, Context: chatContext})
	if err != nil {
		kind := insight.KindOf(err)
		s.metrics.CounterCollaboratorErrs.WithLabelValues("chat", string(kind)).Inc()
		return ChatReply{}, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	html, err := insight.RenderHTML(reply)
	if err != nil {
		return ChatReply{}, fmt.Errorf("render reply: %w", err)
	}
	return ChatReply{Reply: reply, ReplyHTML: html}, nil
}

// CompletionCount returns how many completions the user has recorded.
func (s *Service) CompletionCount(ctx context.Context) (int, error) {
	n, err := s.repo.workouts.countCompletions(ctx, contexthelpers.AuthenticatedUserID(ctx))
	if err != nil {
		return 0, fmt.Errorf("count completions: %w", err)
	}
	return n, nil
}
