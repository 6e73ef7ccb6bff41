// pkg/gradebook/types.go
package gradebook

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"
)

// Category is an evaluation kind. It is the join key between weights and scores.
type Category string

const (
	CategoryPractice  Category = "practice"
	CategoryQuiz      Category = "quiz"
	CategoryExam      Category = "exam"
	CategoryProject   Category = "project"
	CategoryFinalExam Category = "final-exam"
)

// Categories lists the fixed set in display order.
var Categories = []Category{
	CategoryPractice,
	CategoryQuiz,
	CategoryExam,
	CategoryProject,
	CategoryFinalExam,
}

// ParseCategory accepts only the known categories.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, nil
		}
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func (c Category) String() string { return string(c) }

type Activity struct {
	ID        string
	SectionID string
	Category  Category
	MaxPoints float64
}

// RawScore is one recorded result, denormalised with its activity.
type RawScore struct {
	EnrollmentID   string
	ActivityID     string
	SectionID      string
	Category       Category
	PointsObtained float64
	MaxPoints      float64
}

type WeightEntry struct {
	SectionID     string
	Category      Category
	WeightPercent float64
}

// CategoryAverage is derived on every computation and never stored.
type CategoryAverage struct {
	EnrollmentID string   `json:"enrollment_id"`
	SectionID    string   `json:"section_id"`
	Category     Category `json:"category"`
	Average      float64  `json:"average"`  // 0-100
	Count        int      `json:"count"`    // scores that contributed
	Excluded     int      `json:"excluded"` // scores dropped because max_points was 0

	exact *big.Rat
}

type FinalGrade struct {
	EnrollmentID string    `json:"enrollment_id"`
	SectionID    string    `json:"section_id"`
	Grade        float64   `json:"final_grade_0_20"`
	ComputedAt   time.Time `json:"computed_at"`
}

type Enrollment struct {
	ID        string
	SectionID string
	StudentID string
}

// Store is the storage collaborator. Weights and scores are read-only here;
// SaveFinalGrade is the only write and must replace the (enrollment, section) row atomically.
type Store interface {
	WeightsFor(ctx context.Context, sectionID string) (WeightTable, error)
	// ScoresFor returns every score the enrollment has in the section, read in one snapshot.
	ScoresFor(ctx context.Context, enrollmentID, sectionID string) ([]RawScore, error)
	EnrollmentsInSection(ctx context.Context, sectionID string) ([]string, error)
	SaveFinalGrade(ctx context.Context, g FinalGrade) error
}

type Clock func() time.Time
