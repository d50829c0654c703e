package flightrecorder

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/myrjola/struggle/internal/errors"
	"github.com/myrjola/struggle/internal/testhelpers"
)

func newTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := New(Config{Directory: t.TempDir(), MinAge: 0, MaxBytes: 0, Cooldown: time.Minute},
		testhelpers.NewLogger(testhelpers.NewWriter(t)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err = r.Start(t.Context()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		r.Stop(t.Context())
	})
	return r
}

func TestRecorder_Capture(t *testing.T) {
	r := newTestRecorder(t)
	now := time.Date(2024, 1, 5, 12, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return now }

	path := r.Capture(t.Context(), "HTTP timeout")
	if want := filepath.Join(r.dir, "http_timeout-20240105-120000.trace"); path != want {
		t.Fatalf("Capture() = %q, want %q", path, want)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("trace file missing: %v", err)
	}

	now = now.Add(30 * time.Second)
	if got := r.Capture(t.Context(), "timeout"); got != "" {
		t.Errorf("Capture() in cooldown = %q, want empty", got)
	}

	now = now.Add(time.Minute)
	if got := r.Capture(t.Context(), "timeout"); !strings.HasPrefix(filepath.Base(got), "timeout-") {
		t.Errorf("Capture() after cooldown = %q", got)
	}
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("got %d trace files, want 2", len(entries))
	}
}

func TestNew_invalid(t *testing.T) {
	logger := testhelpers.NewLogger(testhelpers.NewWriter(t))
	if _, err := New(Config{Directory: "", MinAge: 0, MaxBytes: 0, Cooldown: 0}, logger); !errors.Is(
		err, ErrInvalidConfig) {
		t.Errorf("New() without directory error = %v, want ErrInvalidConfig", err)
	}
	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := New(Config{Directory: file, MinAge: 0, MaxBytes: 0, Cooldown: 0}, logger); !errors.Is(
		err, ErrInvalidConfig) {
		t.Errorf("New() with file error = %v, want ErrInvalidConfig", err)
	}
}
