package struggle

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"math"
	"os"
	"slices"

	"github.com/myrjola/struggle/internal/errors"
	"gopkg.in/yaml.v3"
)

type Measurement string

const (
	MeasurementReps    Measurement = "reps"
	MeasurementSeconds Measurement = "seconds"
)

// DefaultSecondsPerRep is used for rep-based exercises that do not declare a per-unit time.
const DefaultSecondsPerRep = 2.0

// AllPackageID is the implicit package containing the whole catalog.
const AllPackageID = "all"

type Category string

const (
	CategoryCardio   Category = "cardio"
	CategoryStrength Category = "strength"
	CategoryCore     Category = "core"
	CategoryMobility Category = "mobility"
)

// Exercise is a static exercise definition.
type Exercise struct {
	ID          string      `json:"id"          yaml:"id"`
	Name        string      `json:"name"        yaml:"name"`
	Category    Category    `json:"category"    yaml:"category"`
	Equipment   []string    `json:"equipment"   yaml:"equipment"`
	Measurement Measurement `json:"measurement" yaml:"measurement"`
	Min         int         `json:"min"         yaml:"min"`
	Max         int         `json:"max"         yaml:"max"`
	// SecondsPerUnit is the estimated time of a single rep. Zero means DefaultSecondsPerRep.
	// Seconds-measured exercises always take one second per unit.
	SecondsPerUnit float64 `json:"seconds_per_unit,omitempty" yaml:"seconds_per_unit"`
}

// Validate rejects definitions the allocator cannot work with.
func (e Exercise) Validate() error {
	attrs := []slog.Attr{slog.String("exercise", e.ID)}
	switch {
	case e.ID == "" || e.Name == "":
		return errors.Wrap(ErrIntegrity, "exercise id and name are required", attrs...)
	case e.Measurement != MeasurementReps && e.Measurement != MeasurementSeconds:
		return errors.Wrap(ErrIntegrity, "measurement has no duration estimate",
			append(attrs, slog.String("measurement", string(e.Measurement)))...)
	case e.Min <= 0 || e.Max <= 0:
		return errors.Wrap(ErrIntegrity, "bounds must be positive",
			append(attrs, slog.Int("min", e.Min), slog.Int("max", e.Max))...)
	case e.Min > e.Max:
		return errors.Wrap(ErrIntegrity, "min exceeds max",
			append(attrs, slog.Int("min", e.Min), slog.Int("max", e.Max))...)
	case e.SecondsPerUnit < 0 || math.IsNaN(e.SecondsPerUnit) || math.IsInf(e.SecondsPerUnit, 0):
		return errors.Wrap(ErrIntegrity, "seconds per unit must be a non-negative number",
			append(attrs, slog.Float64("seconds_per_unit", e.SecondsPerUnit))...)
	}
	return nil
}

// EstimateSeconds projects how long value units of the exercise take.
func (e Exercise) EstimateSeconds(value int) int {
	if e.Measurement == MeasurementSeconds {
		return value
	}
	perRep := e.SecondsPerUnit
	if perRep == 0 {
		perRep = DefaultSecondsPerRep
	}
	return int(math.Round(float64(value) * perRep))
}

// Package is a named exercise pool.
type Package struct {
	ID          string   `json:"id"           yaml:"id"`
	Name        string   `json:"name"         yaml:"name"`
	ExerciseIDs []string `json:"exercise_ids" yaml:"exercises"`
}

// Catalog is the immutable set of exercises, weights, protocols and packages the engine works with.
type Catalog struct {
	exercises []Exercise
	byID      map[string]Exercise
	weights   WeightTable
	protocols []Protocol
	packages  []Package
}

//go:embed catalog.yaml
var defaultCatalog []byte

type catalogFile struct {
	Exercises []Exercise         `yaml:"exercises"`
	Weights   map[string]float64 `yaml:"weights"`
	Protocols []Protocol         `yaml:"protocols"`
	Packages  []Package          `yaml:"packages"`
}

// DefaultCatalog parses the built-in catalog.
func DefaultCatalog() (*Catalog, error) {
	return ParseCatalog(defaultCatalog)
}

// LoadCatalog reads a YAML catalog from path.
func LoadCatalog(path string) (*Catalog, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return ParseCatalog(b)
}

// ParseCatalog decodes a YAML catalog. Protocols default to DefaultProtocols when the document lists none.
func ParseCatalog(b []byte) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, errors.Join(ErrIntegrity, fmt.Errorf("decode catalog: %w", err))
	}
	if len(f.Protocols) == 0 {
		f.Protocols = DefaultProtocols()
	}
	weights, err := NewWeightTable(f.Weights)
	if err != nil {
		return nil, err
	}
	return NewCatalog(f.Exercises, weights, f.Protocols, f.Packages)
}

// NewCatalog validates and assembles a catalog.
func NewCatalog(exercises []Exercise, weights WeightTable, protocols []Protocol, packages []Package) (*Catalog, error) {
	c := &Catalog{
		exercises: slices.Clone(exercises),
		byID:      make(map[string]Exercise, len(exercises)),
		weights:   weights,
		protocols: slices.Clone(protocols),
		packages:  slices.Clone(packages),
	}
	if len(exercises) == 0 {
		return nil, errors.Wrap(ErrConfiguration, "catalog has no exercises")
	}
	for _, e := range exercises {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, errors.Wrap(ErrIntegrity, "duplicate exercise", slog.String("exercise", e.ID))
		}
		c.byID[e.ID] = e
	}

	seen := make(map[string]bool, len(protocols))
	for _, p := range protocols {
		if err := p.Validate(); err != nil {
			return nil, err
		}
		if seen[p.ID] {
			return nil, errors.Wrap(ErrIntegrity, "duplicate protocol", slog.String("protocol", p.ID))
		}
		seen[p.ID] = true
	}

	clear(seen)
	for _, p := range packages {
		attrs := []slog.Attr{slog.String("package", p.ID)}
		if p.ID == "" || p.ID == AllPackageID || seen[p.ID] {
			return nil, errors.Wrap(ErrIntegrity, "invalid or duplicate package id", attrs...)
		}
		seen[p.ID] = true
		for _, id := range p.ExerciseIDs {
			if _, ok := c.byID[id]; !ok {
				return nil, errors.Wrap(ErrIntegrity, "package references unknown exercise",
					append(attrs, slog.String("exercise", id))...)
			}
		}
	}
	return c, nil
}

// Exercises returns every exercise in catalog order.
func (c *Catalog) Exercises() []Exercise {
	return slices.Clone(c.exercises)
}

func (c *Catalog) Exercise(id string) (Exercise, bool) {
	e, ok := c.byID[id]
	return e, ok
}

func (c *Catalog) Weights() WeightTable {
	return c.weights
}

func (c *Catalog) Protocols() []Protocol {
	return slices.Clone(c.protocols)
}

// Protocol looks up a protocol by id.
func (c *Catalog) Protocol(id string) (Protocol, bool) {
	for _, p := range c.protocols {
		if p.ID == id {
			return p, true
		}
	}
	return Protocol{}, false
}

func (c *Catalog) Packages() []Package {
	return slices.Clone(c.packages)
}

// Pool returns the exercises of a package. An empty id or AllPackageID selects the whole catalog.
func (c *Catalog) Pool(packageID string) ([]Exercise, error) {
	if packageID == "" || packageID == AllPackageID {
		return c.Exercises(), nil
	}
	for _, p := range c.packages {
		if p.ID != packageID {
			continue
		}
		pool := make([]Exercise, 0, len(p.ExerciseIDs))
		for _, id := range p.ExerciseIDs {
			pool = append(pool, c.byID[id])
		}
		return pool, nil
	}
	return nil, errors.Wrap(ErrConfiguration, "unknown package", slog.String("package", packageID))
}
