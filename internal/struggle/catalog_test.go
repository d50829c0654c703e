package struggle_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/myrjola/struggle/internal/errors"
	"github.com/myrjola/struggle/internal/struggle"
)

func TestDefaultCatalog(t *testing.T) {
	c := mustDefaultCatalog(t)
	if got := len(c.Exercises()); got < 6 {
		t.Errorf("expected a usable catalog, got %d exercises", got)
	}
	var ids []string
	for _, p := range c.Protocols() {
		ids = append(ids, p.ID)
	}
	if diff := cmp.Diff([]string{"steady", "explosive", "inferno"}, ids); diff != "" {
		t.Errorf("protocols mismatch (-want +got):\n%s", diff)
	}
	if w := c.Weights().Weight("Bear Crawl"); w != struggle.DefaultWeight {
		t.Errorf("unmapped weight = %v, want %v", w, struggle.DefaultWeight)
	}
	if _, err := c.Pool("nope"); !errors.Is(err, struggle.ErrConfiguration) {
		t.Errorf("Pool(nope) error = %v, want %v", err, struggle.ErrConfiguration)
	}
}

func TestParseCatalog_DefaultsProtocols(t *testing.T) {
	c, err := struggle.ParseCatalog([]byte(`
exercises:
  - {id: a, name: A, category: core, measurement: seconds, min: 10, max: 20}
`))
	if err != nil {
		t.Fatalf("ParseCatalog: %v", err)
	}
	if diff := cmp.Diff(struggle.DefaultProtocols(), c.Protocols()); diff != "" {
		t.Errorf("protocols mismatch (-want +got):\n%s", diff)
	}
}

func TestParseCatalog_Rejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		want error
	}{
		{
			name: "min above max",
			doc:  "exercises:\n  - {id: a, name: A, measurement: reps, min: 20, max: 10}\n",
			want: struggle.ErrIntegrity,
		},
		{
			name: "unknown measurement",
			doc:  "exercises:\n  - {id: a, name: A, measurement: meters, min: 1, max: 10}\n",
			want: struggle.ErrIntegrity,
		},
		{
			name: "zero bound",
			doc:  "exercises:\n  - {id: a, name: A, measurement: reps, min: 0, max: 10}\n",
			want: struggle.ErrIntegrity,
		},
		{
			name: "duplicate exercise",
			doc: "exercises:\n  - {id: a, name: A, measurement: reps, min: 1, max: 10}\n" +
				"  - {id: a, name: B, measurement: reps, min: 1, max: 10}\n",
			want: struggle.ErrIntegrity,
		},
		{
			name: "non-positive weight",
			doc:  "exercises:\n  - {id: a, name: A, measurement: reps, min: 1, max: 10}\nweights:\n  A: 0\n",
			want: struggle.ErrIntegrity,
		},
		{
			name: "package references unknown exercise",
			doc: "exercises:\n  - {id: a, name: A, measurement: reps, min: 1, max: 10}\n" +
				"packages:\n  - {id: p, name: P, exercises: [a, b]}\n",
			want: struggle.ErrIntegrity,
		},
		{
			name: "unknown field",
			doc:  "exercises:\n  - {id: a, name: A, measurement: reps, min: 1, max: 10, colour: red}\n",
			want: struggle.ErrIntegrity,
		},
		{
			name: "empty catalog",
			doc:  "exercises: []\n",
			want: struggle.ErrConfiguration,
		},
		{
			name: "protocol without budget",
			doc: "exercises:\n  - {id: a, name: A, measurement: reps, min: 1, max: 10}\n" +
				"protocols:\n  - {id: p, name: P, budget: 0, access: free, reward_multiplier: 1}\n",
			want: struggle.ErrConfiguration,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := struggle.ParseCatalog([]byte(tt.doc)); !errors.Is(err, tt.want) {
				t.Errorf("ParseCatalog() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestLoadCatalog(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	doc := "exercises:\n  - {id: a, name: A, measurement: reps, min: 1, max: 10, seconds_per_unit: 4}\n"
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write catalog: %v", err)
	}
	c, err := struggle.LoadCatalog(path)
	if err != nil {
		t.Fatalf("LoadCatalog: %v", err)
	}
	e, ok := c.Exercise("a")
	if !ok {
		t.Fatal("exercise a not found")
	}
	if got := e.EstimateSeconds(5); got != 20 {
		t.Errorf("EstimateSeconds(5) = %d, want 20", got)
	}
	if _, err = struggle.LoadCatalog(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestProtocol_AccessibleWith(t *testing.T) {
	protocols := struggle.DefaultProtocols()
	inferno := protocols[2]
	if !protocols[0].AccessibleWith(nil) {
		t.Error("free protocol must be accessible")
	}
	if inferno.AccessibleWith([]string{"total_10"}) {
		t.Error("inferno accessible without streak_7")
	}
	if !inferno.AccessibleWith([]string{"streak_7"}) {
		t.Error("inferno not accessible with streak_7")
	}
}
