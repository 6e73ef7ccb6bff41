package gradebook

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// MissingPolicy decides what a weighted category without any score contributes.
type MissingPolicy int

const (
	// Renormalize drops the category and rescales the remaining weights to 100.
	Renormalize MissingPolicy = iota
	// TreatAsZero keeps the category's weight with an average of 0.
	TreatAsZero
)

// MissingCategoryPolicy is the one policy every computation uses.
const MissingCategoryPolicy = Renormalize

// GradeScale is the divisor from the 0-100 composite to the 0-20 grade.
const GradeScale = 5

// Composition is a computed grade together with the inputs that produced it.
type Composition struct {
	Grade      FinalGrade        `json:"grade"`
	Composite  float64           `json:"composite"` // 0-100, unrounded
	Categories []CategoryAverage `json:"categories"`
	Missing    []Category        `json:"missing,omitempty"`
}

// Compose folds per-category averages through a weight table into a final grade.
// An invalid table yields an *InvalidError without computing anything.
func Compose(enrollmentID string, weights WeightTable, averages map[Category]CategoryAverage, now time.Time) (Composition, error) {
	return compose(enrollmentID, weights, averages, now, MissingCategoryPolicy)
}

// ComposeScores aggregates raw scores and composes them in one step.
func ComposeScores(enrollmentID string, weights WeightTable, scores []RawScore, now time.Time) (Composition, error) {
	if err := weights.Validate(); err != nil {
		return Composition{}, invalid(err)
	}
	return Compose(enrollmentID, weights, Averages(enrollmentID, weights, scores), now)
}

func compose(enrollmentID string, weights WeightTable, averages map[Category]CategoryAverage, now time.Time, policy MissingPolicy) (Composition, error) {
	if err := weights.Validate(); err != nil {
		return Composition{}, invalid(err)
	}

	out := Composition{}
	weighted := new(big.Rat)
	present := new(big.Rat)
	for _, c := range weights.Categories() {
		w := new(big.Rat).SetFloat64(weights.Weights[c])
		avg, ok := averages[c]
		if !ok {
			out.Missing = append(out.Missing, c)
			if policy == TreatAsZero {
				present.Add(present, w)
			}
			continue
		}
		a, ok := avg.rat()
		if !ok {
			return Composition{}, &InvalidError{
				Reason: ReasonBadAverage,
				Err:    fmt.Errorf("category %s average %v is not a finite number", c, avg.Average),
			}
		}
		out.Categories = append(out.Categories, avg)
		weighted.Add(weighted, new(big.Rat).Mul(w, a))
		present.Add(present, w)
	}

	var composite *big.Rat
	switch {
	case len(out.Missing) == 0 || policy == TreatAsZero:
		composite = new(big.Rat).Quo(weighted, hundred)
	case present.Sign() == 0:
		return Composition{}, &InvalidError{Reason: ReasonNoScores, Err: ErrNoScores}
	default:
		composite = new(big.Rat).Quo(weighted, present)
	}

	grade := roundHalfUp(new(big.Rat).Quo(composite, big.NewRat(GradeScale, 1)), 2)
	out.Composite, _ = composite.Float64()
	out.Grade = FinalGrade{
		EnrollmentID: enrollmentID,
		SectionID:    weights.SectionID,
		ComputedAt:   now,
	}
	out.Grade.Grade, _ = grade.Float64()
	return out, nil
}

// roundHalfUp rounds to the given number of decimal places, ties away from zero.
func roundHalfUp(r *big.Rat, places int) *big.Rat {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(places)), nil)
	scaled := new(big.Rat).Mul(new(big.Rat).Abs(r), new(big.Rat).SetInt(scale))
	scaled.Add(scaled, big.NewRat(1, 2))
	q := new(big.Int).Quo(scaled.Num(), scaled.Denom())
	if r.Sign() < 0 {
		q.Neg(q)
	}
	return new(big.Rat).SetFrac(q, scale)
}

func invalid(err error) error {
	var iw *InvalidWeightsError
	if errors.As(err, &iw) {
		return &InvalidError{Reason: iw.Reason(), Err: iw}
	}
	return err
}
