package gradebook

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Reason codes surfaced in reports and API responses.
const (
	ReasonWeightsNot100   = "weights-not-100"
	ReasonNegativeWeight  = "negative-weight"
	ReasonNonFiniteWeight = "non-finite-weight"
	ReasonBadAverage      = "non-finite-average"
	ReasonNoScores        = "no-scores"
	ReasonPersistence     = "persistence-failure"
	ReasonStorageRead     = "storage-read-failure"
	ReasonUnknownCategory = "unknown-category"
)

var (
	ErrInvalidWeights = errors.New("invalid weights")
	ErrNoData         = errors.New("no scores for category")
	ErrNoScores       = errors.New("no weighted category has scores")
	ErrPersistence    = errors.New("persistence failure")
)

// InvalidWeightsError describes why a section's weight table was rejected.
type InvalidWeightsError struct {
	SectionID string
	Sum       float64
	Deviation float64 // Sum - 100
	Negative  []Category
	NonFinite []Category
}

func (e *InvalidWeightsError) Reason() string {
	if len(e.NonFinite) > 0 {
		return ReasonNonFiniteWeight
	}
	if len(e.Negative) > 0 {
		return ReasonNegativeWeight
	}
	return ReasonWeightsNot100
}

func (e *InvalidWeightsError) Error() string {
	if len(e.NonFinite) > 0 {
		return fmt.Sprintf("section %s: weight is not a finite number for %s", e.SectionID, joinCategories(e.NonFinite))
	}
	if len(e.Negative) > 0 {
		return fmt.Sprintf("section %s: negative weight for %s", e.SectionID, joinCategories(e.Negative))
	}
	return fmt.Sprintf("section %s: weights sum to %.2f, must sum to 100 (deviation %+.2f)", e.SectionID, e.Sum, e.Deviation)
}

func joinCategories(cs []Category) string {
	names := make([]string, len(cs))
	for i, c := range cs {
		names[i] = string(c)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func (e *InvalidWeightsError) Is(target error) bool { return target == ErrInvalidWeights }

// InvalidError is the Invalid(reason) outcome of composing a grade.
type InvalidError struct {
	Reason string
	Err    error
}

func (e *InvalidError) Error() string {
	if e.Err == nil {
		return e.Reason
	}
	return e.Reason + ": " + e.Err.Error()
}

func (e *InvalidError) Unwrap() error { return e.Err }

// ReasonOf maps an engine error to its reason code.
func ReasonOf(err error) string {
	var inv *InvalidError
	if errors.As(err, &inv) {
		return inv.Reason
	}
	var iw *InvalidWeightsError
	if errors.As(err, &iw) {
		return iw.Reason()
	}
	switch {
	case errors.Is(err, ErrNoScores):
		return ReasonNoScores
	case errors.Is(err, ErrPersistence):
		return ReasonPersistence
	}
	return ReasonStorageRead
}
