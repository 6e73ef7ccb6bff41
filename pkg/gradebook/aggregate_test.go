package gradebook_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
)

func score(enrollment, activity string, cat gradebook.Category, pts, max float64) gradebook.RawScore {
	return gradebook.RawScore{
		EnrollmentID:   enrollment,
		ActivityID:     activity,
		SectionID:      "s1",
		Category:       cat,
		PointsObtained: pts,
		MaxPoints:      max,
	}
}

func TestAverageFor_SingleScoreNormalises(t *testing.T) {
	avg, err := gradebook.AverageFor("e1", "s1", gradebook.CategoryPractice, []gradebook.RawScore{
		score("e1", "a1", gradebook.CategoryPractice, 8, 10),
	})
	require.NoError(t, err)
	assert.Equal(t, 80.0, avg.Average)
	assert.Equal(t, 1, avg.Count)
}

func TestAverageFor_MeanOfNormalisedScores(t *testing.T) {
	avg, err := gradebook.AverageFor("e1", "s1", gradebook.CategoryPractice, []gradebook.RawScore{
		score("e1", "a1", gradebook.CategoryPractice, 7, 10),
		score("e1", "a2", gradebook.CategoryPractice, 9, 10),
		score("e1", "a3", gradebook.CategoryExam, 1, 20),     // other category
		score("e2", "a1", gradebook.CategoryPractice, 0, 10), // other enrollment
	})
	require.NoError(t, err)
	assert.Equal(t, 80.0, avg.Average)
	assert.Equal(t, 2, avg.Count)
}

func TestAverageFor_ZeroMaxPointsExcluded(t *testing.T) {
	avg, err := gradebook.AverageFor("e1", "s1", gradebook.CategoryExam, []gradebook.RawScore{
		score("e1", "a1", gradebook.CategoryExam, 15, 20),
		score("e1", "a2", gradebook.CategoryExam, 5, 0),
	})
	require.NoError(t, err)
	assert.Equal(t, 75.0, avg.Average)
	assert.Equal(t, 1, avg.Count)
	assert.Equal(t, 1, avg.Excluded)
}

func TestAverageFor_OnlyZeroMaxIsNoData(t *testing.T) {
	avg, err := gradebook.AverageFor("e1", "s1", gradebook.CategoryExam, []gradebook.RawScore{
		score("e1", "a1", gradebook.CategoryExam, 0, 0),
	})
	assert.True(t, errors.Is(err, gradebook.ErrNoData))
	assert.Equal(t, 1, avg.Excluded)
}

func TestAverageFor_OtherSectionIgnored(t *testing.T) {
	s := score("e1", "a1", gradebook.CategoryExam, 10, 10)
	s.SectionID = "s2"
	_, err := gradebook.AverageFor("e1", "s1", gradebook.CategoryExam, []gradebook.RawScore{s})
	assert.ErrorIs(t, err, gradebook.ErrNoData)
}

func TestAverages_SkipsCategoriesWithoutData(t *testing.T) {
	wt := table("s1", map[gradebook.Category]float64{"practice": 50, "exam": 50})
	got := gradebook.Averages("e1", wt, []gradebook.RawScore{
		score("e1", "a1", gradebook.CategoryPractice, 5, 10),
	})
	require.Len(t, got, 1)
	assert.Equal(t, 50.0, got[gradebook.CategoryPractice].Average)
}
