package metrics_test

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/myrjola/struggle/internal/metrics"
)

func TestManager_Handler(t *testing.T) {
	m := metrics.NewTestManager()
	m.CounterGenerations.WithLabelValues("steady", "daily").Inc()
	m.CounterGenerations.WithLabelValues("steady", "daily").Inc()
	m.CounterRewards.WithLabelValues("inferno").Add(150)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body := rec.Body.String()
	for _, want := range []string{
		`struggle_test_workouts_generated_total{mode="daily",protocol="steady"} 2`,
		`struggle_test_reward_points_total{protocol="inferno"} 150`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("exposition missing %q:\n%s", want, body)
		}
	}
}

func TestNewProcessManager(t *testing.T) {
	m := metrics.NewProcessManager("struggle", "web")
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Error("expected Go runtime collector output")
	}
}
