package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/mind-engage/mindengage-grading/internal/db"
	syncx "github.com/mind-engage/mindengage-grading/internal/sync"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrSectionMismatch = errors.New("activity and enrollment belong to different sections")
	ErrInvalidPoints   = errors.New("points must be a finite, non-negative number")
)

// Store is the database/sql implementation of gradebook.Store plus the
// administrative writes that feed it.
type Store struct {
	DB     *sql.DB
	Events *syncx.EventRepo
}

func New(sqlDB *sql.DB, siteID string) *Store {
	return &Store{DB: sqlDB, Events: syncx.NewEventRepo(sqlDB, siteID)}
}

var _ gradebook.Store = (*Store)(nil)

func (s *Store) WeightsFor(ctx context.Context, sectionID string) (gradebook.WeightTable, error) {
	if err := s.sectionExists(ctx, sectionID); err != nil {
		return gradebook.WeightTable{}, err
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT category, weight_percent FROM weight_entries WHERE section_id=$1`, sectionID)
	if err != nil {
		return gradebook.WeightTable{}, err
	}
	defer rows.Close()

	wt := gradebook.WeightTable{SectionID: sectionID, Weights: map[gradebook.Category]float64{}}
	for rows.Next() {
		var cat string
		var w float64
		if err := rows.Scan(&cat, &w); err != nil {
			return gradebook.WeightTable{}, err
		}
		c, err := gradebook.ParseCategory(cat)
		if err != nil {
			return gradebook.WeightTable{}, err
		}
		wt.Weights[c] = w
	}
	return wt, rows.Err()
}

// ScoresFor reads every score with its activity in a single statement, so a
// concurrent score write is seen entirely or not at all.
func (s *Store) ScoresFor(ctx context.Context, enrollmentID, sectionID string) ([]gradebook.RawScore, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT rs.enrollment_id, rs.activity_id, a.section_id, a.category, rs.points_obtained, a.max_points
		  FROM raw_scores rs
		  JOIN activities a ON a.id = rs.activity_id
		 WHERE rs.enrollment_id=$1 AND a.section_id=$2
		 ORDER BY rs.activity_id`, enrollmentID, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gradebook.RawScore
	for rows.Next() {
		var rs gradebook.RawScore
		var cat string
		if err := rows.Scan(&rs.EnrollmentID, &rs.ActivityID, &rs.SectionID, &cat, &rs.PointsObtained, &rs.MaxPoints); err != nil {
			return nil, err
		}
		rs.Category = gradebook.Category(cat)
		out = append(out, rs)
	}
	return out, rows.Err()
}

func (s *Store) EnrollmentsInSection(ctx context.Context, sectionID string) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id FROM enrollments WHERE section_id=$1 AND status='active' ORDER BY id`, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// SaveFinalGrade replaces the (enrollment, section) row and appends a
// FinalGradeComputed event in the same transaction.
func (s *Store) SaveFinalGrade(ctx context.Context, g gradebook.FinalGrade) error {
	return db.WithTx(ctx, s.DB, nil, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO final_grades (enrollment_id, section_id, final_grade, computed_at)
			VALUES ($1,$2,$3,$4)
			ON CONFLICT (enrollment_id, section_id)
			DO UPDATE SET final_grade=EXCLUDED.final_grade, computed_at=EXCLUDED.computed_at`,
			g.EnrollmentID, g.SectionID, g.Grade, g.ComputedAt.UnixMilli()); err != nil {
			return err
		}
		return s.Events.Append(ctx, tx, syncx.TypeFinalGradeComputed, g.EnrollmentID+"|"+g.SectionID, g)
	})
}

func (s *Store) GetFinalGrade(ctx context.Context, enrollmentID, sectionID string) (gradebook.FinalGrade, error) {
	g := gradebook.FinalGrade{EnrollmentID: enrollmentID, SectionID: sectionID}
	var ms int64
	err := s.DB.QueryRowContext(ctx,
		`SELECT final_grade, computed_at FROM final_grades WHERE enrollment_id=$1 AND section_id=$2`,
		enrollmentID, sectionID).Scan(&g.Grade, &ms)
	if errors.Is(err, sql.ErrNoRows) {
		return gradebook.FinalGrade{}, ErrNotFound
	}
	if err != nil {
		return gradebook.FinalGrade{}, err
	}
	g.ComputedAt = time.UnixMilli(ms).UTC()
	return g, nil
}

func (s *Store) ListFinalGrades(ctx context.Context, sectionID string) ([]gradebook.FinalGrade, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT enrollment_id, section_id, final_grade, computed_at
		  FROM final_grades WHERE section_id=$1 ORDER BY enrollment_id`, sectionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []gradebook.FinalGrade{}
	for rows.Next() {
		var g gradebook.FinalGrade
		var ms int64
		if err := rows.Scan(&g.EnrollmentID, &g.SectionID, &g.Grade, &ms); err != nil {
			return nil, err
		}
		g.ComputedAt = time.UnixMilli(ms).UTC()
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) ListSections(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id FROM sections ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AllWeightTables returns one table per section; a section with no weight
// rows yields an empty table.
func (s *Store) AllWeightTables(ctx context.Context) ([]gradebook.WeightTable, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT s.id, w.category, w.weight_percent
		  FROM sections s
		  LEFT JOIN weight_entries w ON w.section_id = s.id
		 ORDER BY s.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gradebook.WeightTable
	for rows.Next() {
		var id string
		var cat sql.NullString
		var w sql.NullFloat64
		if err := rows.Scan(&id, &cat, &w); err != nil {
			return nil, err
		}
		if len(out) == 0 || out[len(out)-1].SectionID != id {
			out = append(out, gradebook.WeightTable{SectionID: id, Weights: map[gradebook.Category]float64{}})
		}
		if cat.Valid {
			out[len(out)-1].Weights[gradebook.Category(cat.String)] = w.Float64
		}
	}
	return out, rows.Err()
}

// ReplaceWeights swaps a section's whole weight table. Tables that do not
// validate are refused before anything is written.
func (s *Store) ReplaceWeights(ctx context.Context, wt gradebook.WeightTable) error {
	if err := wt.Validate(); err != nil {
		return err
	}
	return db.WithTx(ctx, s.DB, nil, func(tx *sql.Tx) error {
		var one int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM sections WHERE id=$1`, wt.SectionID).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("section %s: %w", wt.SectionID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM weight_entries WHERE section_id=$1`, wt.SectionID); err != nil {
			return err
		}
		for _, e := range wt.Entries() {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO weight_entries (section_id, category, weight_percent) VALUES ($1,$2,$3)`,
				e.SectionID, string(e.Category), e.WeightPercent); err != nil {
				return err
			}
		}
		return s.Events.Append(ctx, tx, syncx.TypeWeightsReplaced, wt.SectionID, wt.Entries())
	})
}

func (s *Store) UpsertSection(ctx context.Context, id, courseID, title string) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO sections (id, course_id, title) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET course_id=EXCLUDED.course_id, title=EXCLUDED.title`,
		id, courseID, title)
	return err
}

func (s *Store) UpsertActivity(ctx context.Context, a gradebook.Activity) error {
	if _, err := gradebook.ParseCategory(string(a.Category)); err != nil {
		return err
	}
	if a.MaxPoints < 0 || math.IsNaN(a.MaxPoints) || math.IsInf(a.MaxPoints, 0) {
		return fmt.Errorf("activity %s: max points must be a finite, non-negative number", a.ID)
	}
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO activities (id, section_id, category, max_points) VALUES ($1,$2,$3,$4)
		ON CONFLICT (id) DO UPDATE SET
			section_id=EXCLUDED.section_id,
			category=EXCLUDED.category,
			max_points=EXCLUDED.max_points,
			updated_at=CURRENT_TIMESTAMP`,
		a.ID, a.SectionID, string(a.Category), a.MaxPoints)
	return err
}

func (s *Store) UpsertEnrollment(ctx context.Context, e gradebook.Enrollment) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO enrollments (id, section_id, student_id) VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET section_id=EXCLUDED.section_id, student_id=EXCLUDED.student_id, status='active'`,
		e.ID, e.SectionID, e.StudentID)
	return err
}

// DropEnrollment keeps the row but removes it from section recalculations.
func (s *Store) DropEnrollment(ctx context.Context, enrollmentID string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE enrollments SET status='dropped' WHERE id=$1`, enrollmentID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertScore records points for an activity and returns the section it
// belongs to, so the caller can trigger a recalculation there.
func (s *Store) UpsertScore(ctx context.Context, enrollmentID, activityID string, points float64) (string, error) {
	if points < 0 || math.IsNaN(points) || math.IsInf(points, 0) {
		return "", ErrInvalidPoints
	}
	var sectionID string
	err := db.WithTx(ctx, s.DB, nil, func(tx *sql.Tx) error {
		var activitySection, enrollmentSection string
		err := tx.QueryRowContext(ctx, `
			SELECT a.section_id, e.section_id
			  FROM activities a, enrollments e
			 WHERE a.id=$1 AND e.id=$2`, activityID, enrollmentID).Scan(&activitySection, &enrollmentSection)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if activitySection != enrollmentSection {
			return ErrSectionMismatch
		}
		sectionID = activitySection
		_, err = tx.ExecContext(ctx, `
			INSERT INTO raw_scores (enrollment_id, activity_id, points_obtained) VALUES ($1,$2,$3)
			ON CONFLICT (enrollment_id, activity_id)
			DO UPDATE SET points_obtained=EXCLUDED.points_obtained, updated_at=CURRENT_TIMESTAMP`,
			enrollmentID, activityID, points)
		return err
	})
	if err != nil {
		return "", err
	}
	return sectionID, nil
}

func (s *Store) sectionExists(ctx context.Context, sectionID string) error {
	var one int
	err := s.DB.QueryRowContext(ctx, `SELECT 1 FROM sections WHERE id=$1`, sectionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("section %s: %w", sectionID, ErrNotFound)
	}
	return err
}
