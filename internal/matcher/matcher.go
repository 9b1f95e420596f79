// Package matcher implements nearest-descriptor identity matching with a
// rejection threshold. Candidate sets are scanned linearly, which is adequate
// for classroom-sized rosters; larger enrollments would need an ANN index.
package matcher

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultThreshold is the Euclidean distance under which two face-api.js
// descriptors are considered the same person.
const DefaultThreshold = 0.5

var ErrInvalidThreshold = errors.New("threshold must be a non-negative number")

// CheckThreshold rejects negative and NaN thresholds. A NaN threshold would
// make every comparison false.
func CheckThreshold(threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 {
		return ErrInvalidThreshold
	}
	return nil
}

// Candidate is an enrolled identity within one scope.
type Candidate struct {
	IdentityID uint
	Embedding  Embedding
}

// Result is the outcome of Identify. Matched is false for NoMatch.
type Result struct {
	Matched    bool
	IdentityID uint
	Distance   float64
}

// Distance returns the Euclidean distance between a and b.
func Distance(a, b Embedding) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d != %d", ErrDimensionMismatch, len(a), len(b))
	}
	if len(a) == 0 {
		return 0, nil
	}
	return floats.Distance(a, b, 2), nil
}

// FindDuplicate returns the first candidate whose distance to query is below
// threshold. Scanning stops at the first hit.
func FindDuplicate(query Embedding, candidates []Candidate, threshold float64) (Candidate, bool, error) {
	if err := CheckThreshold(threshold); err != nil {
		return Candidate{}, false, err
	}
	for _, c := range candidates {
		d, err := Distance(query, c.Embedding)
		if err != nil {
			return Candidate{}, false, fmt.Errorf("candidate %d: %w", c.IdentityID, err)
		}
		if d < threshold {
			return c, true, nil
		}
	}
	return Candidate{}, false, nil
}

// IsDuplicate reports whether any candidate lies within threshold of query.
func IsDuplicate(query Embedding, candidates []Candidate, threshold float64) (bool, error) {
	_, found, err := FindDuplicate(query, candidates, threshold)
	return found, err
}

// Identify returns the globally nearest candidate if its distance is below
// threshold. Exact ties at the minimum resolve to the lowest IdentityID, so the
// result does not depend on candidate order.
func Identify(query Embedding, candidates []Candidate, threshold float64) (Result, error) {
	if err := CheckThreshold(threshold); err != nil {
		return Result{}, err
	}

	var (
		best  Result
		found bool
	)
	for _, c := range candidates {
		d, err := Distance(query, c.Embedding)
		if err != nil {
			return Result{}, fmt.Errorf("candidate %d: %w", c.IdentityID, err)
		}
		if !found || d < best.Distance || (d == best.Distance && c.IdentityID < best.IdentityID) {
			best = Result{IdentityID: c.IdentityID, Distance: d}
			found = true
		}
	}

	if !found || best.Distance >= threshold {
		return Result{}, nil
	}
	best.Matched = true
	return best, nil
}

// Options configures a Matcher.
type Options struct {
	// Threshold is used by Identify.
	Threshold float64
	// DuplicateThreshold is used by IsDuplicate.
	DuplicateThreshold float64
	// Dimension is the expected embedding length; zero disables the check.
	Dimension int
}

// Matcher binds thresholds and the expected descriptor dimension.
type Matcher struct {
	opts Options
}

// New validates opts and returns a Matcher.
func New(opts Options) (*Matcher, error) {
	if err := CheckThreshold(opts.Threshold); err != nil {
		return nil, err
	}
	if err := CheckThreshold(opts.DuplicateThreshold); err != nil {
		return nil, err
	}
	if opts.Dimension < 0 {
		return nil, fmt.Errorf("dimension must not be negative, got %d", opts.Dimension)
	}
	return &Matcher{opts: opts}, nil
}

// Options returns the matcher configuration.
func (m *Matcher) Options() Options {
	return m.opts
}

// Validate checks an incoming embedding against the configured dimension.
func (m *Matcher) Validate(e Embedding) error {
	return e.Validate(m.opts.Dimension)
}

// FindDuplicate is FindDuplicate with the configured duplicate threshold.
func (m *Matcher) FindDuplicate(query Embedding, candidates []Candidate) (Candidate, bool, error) {
	if err := m.Validate(query); err != nil {
		return Candidate{}, false, err
	}
	return FindDuplicate(query, candidates, m.opts.DuplicateThreshold)
}

// IsDuplicate is IsDuplicate with the configured duplicate threshold.
func (m *Matcher) IsDuplicate(query Embedding, candidates []Candidate) (bool, error) {
	_, found, err := m.FindDuplicate(query, candidates)
	return found, err
}

// Identify is Identify with the configured threshold.
func (m *Matcher) Identify(query Embedding, candidates []Candidate) (Result, error) {
	if err := m.Validate(query); err != nil {
		return Result{}, err
	}
	return Identify(query, candidates, m.opts.Threshold)
}
