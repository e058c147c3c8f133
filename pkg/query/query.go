// Package query describes the series a histogram session aggregates.
package query

import (
	"errors"
	"fmt"
	"slices"
)

// Mode is the aggregation mode of a query.
type Mode string

// Aggregation modes.
const (
	// ModeCount sums per-bucket event counts.
	ModeCount Mode = "count"
	// ModeValues samples a numeric field; the last sample in a bucket wins.
	ModeValues Mode = "values"
)

// Sentinel validation errors.
var (
	ErrInvalidMode               = errors.New("invalid aggregation mode")
	ErrMissingFieldConfiguration = errors.New("value field must be specified in values mode")
	ErrDuplicateID               = errors.New("duplicate query id")
	ErrEmptyID                   = errors.New("query id is required")
	ErrNoQueries                 = errors.New("at least one query is required")
)

// ParseMode converts a configuration string into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeCount, ModeValues:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// Descriptor identifies one displayed series. ID must be stable for the whole
// fetch session.
type Descriptor struct {
	ID         string
	Alias      string
	Color      string
	Mode       Mode
	TimeField  string
	ValueField string

	// Match restricts the records a source returns to those whose fields equal the given values.
	Match map[string]string
}

// Label returns the alias, falling back to the id.
func (d Descriptor) Label() string {
	if d.Alias != "" {
		return d.Alias
	}

	return d.ID
}

// Validate checks a single descriptor.
func (d Descriptor) Validate() error {
	if d.ID == "" {
		return ErrEmptyID
	}

	switch d.Mode {
	case ModeCount:
	case ModeValues:
		if d.ValueField == "" {
			return fmt.Errorf("%w: query %s", ErrMissingFieldConfiguration, d.ID)
		}
	default:
		return fmt.Errorf("%w: query %s: %q", ErrInvalidMode, d.ID, d.Mode)
	}

	return nil
}

// ValidateAll checks every descriptor and rejects duplicate ids.
func ValidateAll(queries []Descriptor) error {
	if len(queries) == 0 {
		return ErrNoQueries
	}

	seen := make(map[string]struct{}, len(queries))

	for _, q := range queries {
		err := q.Validate()
		if err != nil {
			return err
		}

		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateID, q.ID)
		}

		seen[q.ID] = struct{}{}
	}

	return nil
}

// IDs returns the descriptor ids in order.
func IDs(queries []Descriptor) []string {
	ids := make([]string, len(queries))

	for i, q := range queries {
		ids[i] = q.ID
	}

	return ids
}

// SameSet reports whether a and b hold the same ids, ignoring order.
func SameSet(a, b []Descriptor) bool {
	if len(a) != len(b) {
		return false
	}

	left, right := IDs(a), IDs(b)
	slices.Sort(left)
	slices.Sort(right)

	return slices.Equal(left, right)
}
