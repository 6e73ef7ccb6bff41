package gradebook

import (
	"math"
	"math/big"
)

var hundred = big.NewRat(100, 1)

// AverageFor computes the mean normalised score (0-100) of one category for an
// enrollment in a section. Each score counts as points/max*100; scores whose
// activity has max_points <= 0 are excluded rather than counted as zero.
// Returns ErrNoData when nothing usable remains.
//
// The mean is kept as an exact rational so the composer can round the final
// grade without float drift.
func AverageFor(enrollmentID, sectionID string, category Category, scores []RawScore) (CategoryAverage, error) {
	avg := CategoryAverage{EnrollmentID: enrollmentID, SectionID: sectionID, Category: category}
	sum := new(big.Rat)
	for _, s := range scores {
		if s.EnrollmentID != enrollmentID || s.SectionID != sectionID || s.Category != category {
			continue
		}
		if s.MaxPoints <= 0 || !finite(s.MaxPoints) || !finite(s.PointsObtained) {
			avg.Excluded++
			continue
		}
		ratio := new(big.Rat).Quo(new(big.Rat).SetFloat64(s.PointsObtained), new(big.Rat).SetFloat64(s.MaxPoints))
		sum.Add(sum, ratio.Mul(ratio, hundred))
		avg.Count++
	}
	if avg.Count == 0 {
		return avg, ErrNoData
	}
	avg.exact = sum.Quo(sum, big.NewRat(int64(avg.Count), 1))
	avg.Average, _ = avg.exact.Float64()
	return avg, nil
}

// Averages runs AverageFor for every category of the weight table.
// Categories without data are simply absent from the result.
func Averages(enrollmentID string, weights WeightTable, scores []RawScore) map[Category]CategoryAverage {
	out := make(map[Category]CategoryAverage, len(weights.Weights))
	for _, c := range weights.Categories() {
		avg, err := AverageFor(enrollmentID, weights.SectionID, c, scores)
		if err != nil {
			continue
		}
		out[c] = avg
	}
	return out
}

// rat reports false for a NaN or infinite Average.
func (a CategoryAverage) rat() (*big.Rat, bool) {
	if a.exact != nil {
		return a.exact, true
	}
	if !finite(a.Average) {
		return nil, false
	}
	return new(big.Rat).SetFloat64(a.Average), true
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }
