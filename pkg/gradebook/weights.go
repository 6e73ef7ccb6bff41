package gradebook

import (
	"math"
	"sort"
)

// WeightTolerance is the allowed distance of a section's weight sum from 100.
const WeightTolerance = 0.01

// WeightTable holds one section's category weights in percent.
// It is fetched per computation and passed by value; nothing caches it.
type WeightTable struct {
	SectionID string
	Weights   map[Category]float64
}

// NewWeightTable builds a table from stored entries. A repeated category keeps the last value.
func NewWeightTable(sectionID string, entries []WeightEntry) WeightTable {
	w := make(map[Category]float64, len(entries))
	for _, e := range entries {
		w[e.Category] = e.WeightPercent
	}
	return WeightTable{SectionID: sectionID, Weights: w}
}

// Categories returns the table's categories in a stable order.
// Float sums depend on order, so every loop over weights goes through here.
func (t WeightTable) Categories() []Category {
	out := make([]Category, 0, len(t.Weights))
	for c := range t.Weights {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (t WeightTable) Sum() float64 {
	var sum float64
	for _, c := range t.Categories() {
		sum += t.Weights[c]
	}
	return sum
}

// Entries returns the table as storage rows, ordered by category.
func (t WeightTable) Entries() []WeightEntry {
	cats := t.Categories()
	out := make([]WeightEntry, 0, len(cats))
	for _, c := range cats {
		out = append(out, WeightEntry{SectionID: t.SectionID, Category: c, WeightPercent: t.Weights[c]})
	}
	return out
}

// Validate checks that weights are finite, non-negative and sum to 100 within WeightTolerance.
func (t WeightTable) Validate() error {
	var negative, nonFinite []Category
	sum := 0.0
	for _, c := range t.Categories() {
		w := t.Weights[c]
		switch {
		case !finite(w):
			nonFinite = append(nonFinite, c)
			continue
		case w < 0:
			negative = append(negative, c)
		}
		sum += w
	}
	if len(nonFinite) > 0 || len(negative) > 0 || math.Abs(sum-100) > WeightTolerance {
		// Sum covers finite weights only so diagnostics stay encodable.
		return &InvalidWeightsError{
			SectionID: t.SectionID,
			Sum:       sum,
			Deviation: sum - 100,
			Negative:  negative,
			NonFinite: nonFinite,
		}
	}
	return nil
}

// WeightDiagnostic reports one section whose weights cannot be used.
type WeightDiagnostic struct {
	SectionID string  `json:"section_id"`
	Sum       float64 `json:"sum"`
	Deviation float64 `json:"deviation"`
	Reason    string  `json:"reason"`
	Message   string  `json:"message"`
}

// Diagnose returns a diagnostic for every invalid table, ordered by section.
func Diagnose(tables []WeightTable) []WeightDiagnostic {
	var out []WeightDiagnostic
	for _, t := range tables {
		err := t.Validate()
		if err == nil {
			continue
		}
		iw := err.(*InvalidWeightsError)
		out = append(out, WeightDiagnostic{
			SectionID: t.SectionID,
			Sum:       iw.Sum,
			Deviation: iw.Deviation,
			Reason:    iw.Reason(),
			Message:   iw.Error(),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SectionID < out[j].SectionID })
	return out
}
