package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexedwards/scs/sqlite3store"
	"github.com/alexedwards/scs/v2"
	"github.com/myrjola/struggle/internal/cache"
	"github.com/myrjola/struggle/internal/envstruct"
	"github.com/myrjola/struggle/internal/errors"
	"github.com/myrjola/struggle/internal/flightrecorder"
	"github.com/myrjola/struggle/internal/insight"
	"github.com/myrjola/struggle/internal/logging"
	"github.com/myrjola/struggle/internal/metrics"
	"github.com/myrjola/struggle/internal/sqlite"
	"github.com/myrjola/struggle/internal/struggle"
	"github.com/myrjola/struggle/internal/workout"
)

type application struct {
	logger         *slog.Logger
	sessionManager *scs.SessionManager
	workoutService *workout.Service
	metrics        *metrics.Manager
	flightRecorder *flightrecorder.Recorder
	adminToken     string
}

type config struct {
	// Addr is the address to listen on. It's possible to choose the address dynamically with localhost:0.
	Addr string `env:"STRUGGLE_ADDR" envDefault:"localhost:8081"`
	// SqliteURL is the URL to the SQLite database. You can use ":memory:" for an ethereal in-memory database.
	SqliteURL string `env:"STRUGGLE_SQLITE_URL" envDefault:"./struggle.sqlite3"`
	// CatalogPath optionally replaces the embedded exercise catalog with a YAML file.
	CatalogPath string `env:"STRUGGLE_CATALOG_PATH" envDefault:""`
	// DailyGenerations is the number of workouts a free user may generate per day.
	DailyGenerations int `env:"STRUGGLE_DAILY_GENERATIONS" envDefault:"3"`
	// OpenAIAPIKey enables insights and chat. Both are disabled when empty.
	OpenAIAPIKey   string        `env:"STRUGGLE_OPENAI_API_KEY" envDefault:""`
	OpenAIBaseURL  string        `env:"STRUGGLE_OPENAI_BASE_URL" envDefault:""`
	OpenAIModel    string        `env:"STRUGGLE_OPENAI_MODEL" envDefault:""`
	InsightTimeout time.Duration `env:"STRUGGLE_INSIGHT_TIMEOUT" envDefault:"1s"`
	// RedisURL enables the global statistics cache, e.g. redis://localhost:6379/0.
	RedisURL string        `env:"STRUGGLE_REDIS_URL" envDefault:""`
	CacheTTL time.Duration `env:"STRUGGLE_CACHE_TTL" envDefault:"5m"`
	// AdminToken is the bearer token for /admin routes. Admin routes are disabled when empty.
	AdminToken string `env:"STRUGGLE_ADMIN_TOKEN" envDefault:""`
	// SecureCookies marks the session cookie Secure. Disable only for plain HTTP development.
	SecureCookies bool `env:"STRUGGLE_SECURE_COOKIES" envDefault:"true"`
	// TracesDir enables the flight recorder, which writes a trace there when a request times out.
	TracesDir string `env:"STRUGGLE_TRACES_DIR" envDefault:""`
}

type loggingConfig struct {
	Format string `env:"STRUGGLE_LOG_FORMAT" envDefault:"text"`
	Level  string `env:"STRUGGLE_LOG_LEVEL" envDefault:"debug"`
}

func run(ctx context.Context, logger *slog.Logger, lookupEnv func(string) (string, bool)) error {
	var (
		cancel context.CancelFunc
		err    error
	)

	ctx, cancel = signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var cfg config
	if err = envstruct.Populate(&cfg, lookupEnv); err != nil {
		return errors.Wrap(err, "populate config")
	}

	catalog, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return errors.Wrap(err, "load catalog", slog.String("path", cfg.CatalogPath))
	}

	db, err := sqlite.NewDatabase(ctx, cfg.SqliteURL, logger)
	if err != nil {
		return errors.Wrap(err, "open db", slog.String("url", cfg.SqliteURL))
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.LogAttrs(ctx, slog.LevelError, "close db", errors.SlogError(closeErr))
		}
	}()
	logger.LogAttrs(ctx, slog.LevelInfo, "connected to db")

	m := metrics.NewProcessManager("struggle", "web")

	var statsCache workout.Cache
	if cfg.RedisURL != "" {
		var rc *cache.Redis
		if rc, err = cache.Connect(ctx, cfg.RedisURL, "struggle:", cfg.CacheTTL); err != nil {
			return errors.Wrap(err, "connect redis")
		}
		defer func() {
			_ = rc.Close()
		}()
		statsCache = rc
		logger.LogAttrs(ctx, slog.LevelInfo, "connected to redis")
	}

	var insightClient insight.Client = insight.Disabled{}
	if cfg.OpenAIAPIKey != "" {
		insightClient = insight.NewOpenAIClient(insight.Config{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.OpenAIModel,
		}, logger)
	} else {
		logger.LogAttrs(ctx, slog.LevelInfo, "no OpenAI API key, insights disabled")
	}

	svc, err := workout.NewService(db, logger, workout.Options{
		Catalog:          catalog,
		Policy:           nil,
		Insight:          insightClient,
		Cache:            statsCache,
		Metrics:          m,
		DailyGenerations: cfg.DailyGenerations,
		InsightTimeout:   cfg.InsightTimeout,
		Now:              nil,
		NewRand:          nil,
	})
	if err != nil {
		return errors.Wrap(err, "new workout service")
	}

	var recorder *flightrecorder.Recorder
	if cfg.TracesDir != "" {
		if recorder, err = flightrecorder.New(flightrecorder.Config{
			Directory: cfg.TracesDir,
			MinAge:    0,
			MaxBytes:  0,
			Cooldown:  0,
		}, logger); err != nil {
			return errors.Wrap(err, "new flight recorder")
		}
		if err = recorder.Start(ctx); err != nil {
			return errors.Wrap(err, "start flight recorder")
		}
		defer recorder.Stop(context.WithoutCancel(ctx))
	}

	app := application{
		logger:         logger,
		sessionManager: initializeSessionManager(db, cfg.SecureCookies),
		workoutService: svc,
		metrics:        m,
		flightRecorder: recorder,
		adminToken:     cfg.AdminToken,
	}

	if err = app.configureAndStartServer(ctx, cfg.Addr, app.routes()); err != nil {
		return errors.Wrap(err, "start server")
	}
	return nil
}

func loadCatalog(path string) (*struggle.Catalog, error) {
	if path == "" {
		return struggle.DefaultCatalog()
	}
	return struggle.LoadCatalog(path)
}

func initializeSessionManager(dbs *sqlite.Database, secure bool) *scs.SessionManager {
	sessionManager := scs.New()
	sessionManager.Store = sqlite3store.NewWithCleanupInterval(dbs.ReadWrite, 24*time.Hour) //nolint:mnd // day
	sessionManager.Lifetime = 30 * 24 * time.Hour                                           //nolint:mnd // a month
	sessionManager.Cookie.Name = "struggle_session"
	sessionManager.Cookie.Persist = true
	sessionManager.Cookie.Secure = secure
	sessionManager.Cookie.HttpOnly = true
	sessionManager.Cookie.SameSite = http.SameSiteLaxMode
	return sessionManager
}

func main() {
	ctx := context.Background()
	var lc loggingConfig
	if err := envstruct.Populate(&lc, os.LookupEnv); err != nil {
		slog.Default().LogAttrs(ctx, slog.LevelError, "invalid logging config", errors.SlogError(err))
		os.Exit(1)
	}
	logger, err := logging.New(os.Stdout, lc.Format, lc.Level)
	if err != nil {
		slog.Default().LogAttrs(ctx, slog.LevelError, "invalid logging config", errors.SlogError(err))
		os.Exit(1)
	}
	if err = run(ctx, logger, os.LookupEnv); err != nil {
		logger.LogAttrs(ctx, slog.LevelError, "failure starting application", errors.SlogError(err))
		os.Exit(1)
	}
}
