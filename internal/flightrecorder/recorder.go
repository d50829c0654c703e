// Package flightrecorder keeps a rolling execution trace and dumps it to disk when something was slow.
package flightrecorder

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/trace"
	"strings"
	"sync/atomic"
	"time"

	"github.com/myrjola/struggle/internal/errors"
)

const (
	defaultMinAge   = 5 * time.Minute
	defaultMaxBytes = 64 * 1024 * 1024
	// DefaultCooldown is the minimum time between two captures.
	DefaultCooldown = 30 * time.Minute
)

var ErrInvalidConfig = errors.NewSentinel("invalid flight recorder config")

type Config struct {
	// Directory receives the trace files. It is created when missing.
	Directory string
	MinAge    time.Duration
	MaxBytes  uint64
	Cooldown  time.Duration
}

// Recorder wraps [trace.FlightRecorder] with a capture cooldown.
type Recorder struct {
	logger      *slog.Logger
	fr          *trace.FlightRecorder
	dir         string
	cooldown    time.Duration
	lastCapture atomic.Int64
	now         func() time.Time
}

func New(cfg Config, logger *slog.Logger) (*Recorder, error) {
	if cfg.Directory == "" {
		return nil, errors.Wrap(ErrInvalidConfig, "directory is required")
	}
	if stat, err := os.Stat(cfg.Directory); err != nil {
		if err = os.MkdirAll(cfg.Directory, 0o700); err != nil { //nolint:mnd // owner only.
			return nil, errors.Wrap(err, "create traces directory", slog.String("dir", cfg.Directory))
		}
	} else if !stat.IsDir() {
		return nil, errors.Wrap(ErrInvalidConfig, "not a directory", slog.String("dir", cfg.Directory))
	}
	if cfg.MinAge <= 0 {
		cfg.MinAge = defaultMinAge
	}
	if cfg.MaxBytes == 0 {
		cfg.MaxBytes = defaultMaxBytes
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	return &Recorder{
		logger:      logger,
		fr:          trace.NewFlightRecorder(trace.FlightRecorderConfig{MinAge: cfg.MinAge, MaxBytes: cfg.MaxBytes}),
		dir:         cfg.Directory,
		cooldown:    cfg.Cooldown,
		lastCapture: atomic.Int64{},
		now:         time.Now,
	}, nil
}

func (r *Recorder) Start(ctx context.Context) error {
	if err := r.fr.Start(); err != nil {
		return errors.Wrap(err, "start flight recorder")
	}
	r.logger.LogAttrs(ctx, slog.LevelInfo, "flight recorder started",
		slog.String("dir", r.dir), slog.Duration("cooldown", r.cooldown))
	return nil
}

func (r *Recorder) Stop(ctx context.Context) {
	r.fr.Stop()
	r.logger.LogAttrs(ctx, slog.LevelInfo, "flight recorder stopped")
}

// Capture writes the buffered trace to <reason>-<timestamp>.trace unless a capture happened within the cooldown.
// It returns the file path, or "" when nothing was written.
func (r *Recorder) Capture(ctx context.Context, reason string) string {
	now := r.now()
	last := r.lastCapture.Load()
	if last != 0 && now.Sub(time.Unix(0, last)) < r.cooldown {
		r.logger.LogAttrs(ctx, slog.LevelDebug, "trace capture in cooldown", slog.String("reason", reason))
		return ""
	}
	if !r.lastCapture.CompareAndSwap(last, now.UnixNano()) {
		return ""
	}

	name := fmt.Sprintf("%s-%s.trace", sanitize(reason), now.UTC().Format("20060102-150405"))
	path := filepath.Join(r.dir, name)
	n, err := r.write(path)
	if err != nil {
		r.logger.LogAttrs(ctx, slog.LevelError, "capture trace", errors.SlogError(err))
		return ""
	}
	r.logger.LogAttrs(ctx, slog.LevelWarn, "captured trace",
		slog.String("reason", reason), slog.String("file", path), slog.Int64("bytes", n))
	return path
}

func (r *Recorder) write(path string) (_ int64, err error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrap(err, "create trace file", slog.String("file", path))
	}
	defer func() {
		err = errors.Join(err, f.Close())
	}()
	n, err := r.fr.WriteTo(f)
	if err != nil {
		return 0, errors.Wrap(err, "write trace", slog.String("file", path))
	}
	return n, nil
}

func sanitize(reason string) string {
	s := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, reason)
	if s == "" {
		return "trace"
	}
	return s
}
