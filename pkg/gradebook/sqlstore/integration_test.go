package sqlstore_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-grading/internal/db"
	syncx "github.com/mind-engage/mindengage-grading/internal/sync"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook/sqlstore"
)

func newStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	conn, err := db.Open(context.Background(), db.DriverSQLite, "file:"+t.Name()+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return sqlstore.New(conn, "test")
}

// seed builds section s1 with the practice/exam/final-exam layout and two enrollments.
func seed(t *testing.T, s *sqlstore.Store) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertSection(ctx, "s1", "c1", "Algebra I"))
	require.NoError(t, s.UpsertSection(ctx, "s2", "c1", "Algebra II"))
	for _, a := range []gradebook.Activity{
		{ID: "p1", SectionID: "s1", Category: gradebook.CategoryPractice, MaxPoints: 10},
		{ID: "p2", SectionID: "s1", Category: gradebook.CategoryPractice, MaxPoints: 10},
		{ID: "x1", SectionID: "s1", Category: gradebook.CategoryExam, MaxPoints: 20},
		{ID: "f1", SectionID: "s1", Category: gradebook.CategoryFinalExam, MaxPoints: 20},
		{ID: "o1", SectionID: "s2", Category: gradebook.CategoryExam, MaxPoints: 10},
	} {
		require.NoError(t, s.UpsertActivity(ctx, a))
	}
	require.NoError(t, s.UpsertEnrollment(ctx, gradebook.Enrollment{ID: "e1", SectionID: "s1", StudentID: "u1"}))
	require.NoError(t, s.UpsertEnrollment(ctx, gradebook.Enrollment{ID: "e2", SectionID: "s1", StudentID: "u2"}))
	require.NoError(t, s.UpsertEnrollment(ctx, gradebook.Enrollment{ID: "e9", SectionID: "s2", StudentID: "u1"}))

	require.NoError(t, s.ReplaceWeights(ctx, gradebook.WeightTable{SectionID: "s1", Weights: map[gradebook.Category]float64{
		gradebook.CategoryPractice:  12.5,
		gradebook.CategoryExam:      37.5,
		gradebook.CategoryFinalExam: 50,
	}}))
	for _, sc := range []struct {
		e, a string
		pts  float64
	}{
		{"e1", "p1", 7}, {"e1", "p2", 9}, {"e1", "x1", 15}, {"e1", "f1", 18},
		{"e2", "x1", 20},
	} {
		_, err := s.UpsertScore(ctx, sc.e, sc.a, sc.pts)
		require.NoError(t, err)
	}
}

func TestStore_ReadsWeightsAndScores(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	wt, err := s.WeightsFor(ctx, "s1")
	require.NoError(t, err)
	require.NoError(t, wt.Validate())
	assert.Equal(t, 50.0, wt.Weights[gradebook.CategoryFinalExam])

	scores, err := s.ScoresFor(ctx, "e1", "s1")
	require.NoError(t, err)
	require.Len(t, scores, 4)
	assert.Equal(t, "f1", scores[0].ActivityID)
	assert.Equal(t, gradebook.CategoryFinalExam, scores[0].Category)
	assert.Equal(t, 20.0, scores[0].MaxPoints)

	ids, err := s.EnrollmentsInSection(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1", "e2"}, ids)

	_, err = s.WeightsFor(ctx, "nope")
	assert.ErrorIs(t, err, sqlstore.ErrNotFound)
}

func TestStore_UpsertScoreOverwritesAndChecksSection(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	section, err := s.UpsertScore(ctx, "e1", "x1", 19)
	require.NoError(t, err)
	assert.Equal(t, "s1", section)

	scores, err := s.ScoresFor(ctx, "e1", "s1")
	require.NoError(t, err)
	for _, sc := range scores {
		if sc.ActivityID == "x1" {
			assert.Equal(t, 19.0, sc.PointsObtained)
		}
	}

	_, err = s.UpsertScore(ctx, "e1", "o1", 5)
	assert.ErrorIs(t, err, sqlstore.ErrSectionMismatch)
	_, err = s.UpsertScore(ctx, "e1", "missing", 5)
	assert.ErrorIs(t, err, sqlstore.ErrNotFound)
	_, err = s.UpsertScore(ctx, "e1", "x1", -1)
	assert.ErrorIs(t, err, sqlstore.ErrInvalidPoints)
}

func TestStore_ReplaceWeightsRefusesInvalidTable(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	err := s.ReplaceWeights(ctx, gradebook.WeightTable{SectionID: "s1", Weights: map[gradebook.Category]float64{
		gradebook.CategoryExam: 80,
	}})
	assert.ErrorIs(t, err, gradebook.ErrInvalidWeights)

	wt, err := s.WeightsFor(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, wt.Weights, 3, "old table must survive a refused replace")

	err = s.ReplaceWeights(ctx, gradebook.WeightTable{SectionID: "ghost", Weights: map[gradebook.Category]float64{
		gradebook.CategoryExam: 100,
	}})
	assert.ErrorIs(t, err, sqlstore.ErrNotFound)
}

func TestStore_AllWeightTablesIncludesEmptySections(t *testing.T) {
	s := newStore(t)
	seed(t, s)

	tables, err := s.AllWeightTables(context.Background())
	require.NoError(t, err)
	require.Len(t, tables, 2)
	assert.Equal(t, "s1", tables[0].SectionID)
	assert.Len(t, tables[0].Weights, 3)
	assert.Equal(t, "s2", tables[1].SectionID)
	assert.Empty(t, tables[1].Weights)

	diags := gradebook.Diagnose(tables)
	require.Len(t, diags, 1)
	assert.Equal(t, "s2", diags[0].SectionID)
}

func TestStore_RecalculateSectionEndToEnd(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	r := gradebook.New(s, func() time.Time { return now })
	report, err := r.RecalculateSection(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, report.Succeeded, 2)
	assert.Empty(t, report.Failed)

	g, err := s.GetFinalGrade(ctx, "e1", "s1")
	require.NoError(t, err)
	assert.Equal(t, 16.63, g.Grade)
	assert.True(t, now.Equal(g.ComputedAt))

	// e2 only has the exam: 100 renormalised over the exam weight.
	g, err = s.GetFinalGrade(ctx, "e2", "s1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, g.Grade)

	// recomputing replaces rather than duplicates
	_, err = r.RecalculateSection(ctx, "s1")
	require.NoError(t, err)
	grades, err := s.ListFinalGrades(ctx, "s1")
	require.NoError(t, err)
	assert.Len(t, grades, 2)

	events, err := s.Events.Since(ctx, 0, 100)
	require.NoError(t, err)
	var computed int
	for _, e := range events {
		if e.Type == syncx.TypeFinalGradeComputed {
			computed++
		}
	}
	assert.Equal(t, 4, computed)
	assert.Equal(t, syncx.TypeWeightsReplaced, events[0].Type)
}

func TestStore_DroppedEnrollmentLeavesSection(t *testing.T) {
	s := newStore(t)
	seed(t, s)
	ctx := context.Background()

	require.NoError(t, s.DropEnrollment(ctx, "e2"))
	ids, err := s.EnrollmentsInSection(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, []string{"e1"}, ids)

	assert.ErrorIs(t, s.DropEnrollment(ctx, "nobody"), sqlstore.ErrNotFound)
}

func TestStore_GetFinalGradeNotFound(t *testing.T) {
	s := newStore(t)
	_, err := s.GetFinalGrade(context.Background(), "e1", "s1")
	assert.ErrorIs(t, err, sqlstore.ErrNotFound)
}
