package struggle

import "github.com/myrjola/struggle/internal/errors"

// Error classes reported by the engine. Callers tell them apart with errors.Is.
var (
	// ErrConfiguration is returned for calls that cannot be satisfied with the given setup, such as a
	// non-positive budget or an empty exercise pool.
	ErrConfiguration = errors.NewSentinel("configuration error")
	// ErrIntegrity is returned when catalog data is malformed. It is only reported while loading a catalog.
	ErrIntegrity = errors.NewSentinel("data integrity error")
	// ErrInput is returned for invalid caller-provided values such as a non-positive completion time.
	ErrInput = errors.NewSentinel("input error")
)
