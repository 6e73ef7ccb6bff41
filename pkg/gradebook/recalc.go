// pkg/gradebook/recalc.go
package gradebook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Stage is a step of one enrollment's recalculation.
type Stage string

const (
	StageSelecting   Stage = "selecting"
	StageAggregating Stage = "aggregating"
	StageComposing   Stage = "composing"
	StagePersisting  Stage = "persisting"
	StageDone        Stage = "done"
)

// maxPersistAttempts bounds SaveFinalGrade calls per enrollment per run (one retry).
const maxPersistAttempts = 2

// DefaultConcurrency is used when no WithConcurrency option is given.
const DefaultConcurrency = 4

// Outcome is the result of one enrollment. Stage is where it stopped.
type Outcome struct {
	EnrollmentID string
	SectionID    string
	Stage        Stage
	Composition  Composition
	Attempts     int
	Err          error
	// Omitted is set when the context ended before the grade was committed.
	Omitted bool
}

func (o Outcome) Failed() bool { return o.Err != nil && !o.Omitted }

type Failure struct {
	EnrollmentID string `json:"enrollment_id"`
	Stage        Stage  `json:"stage"`
	Reason       string `json:"reason"`
	Detail       string `json:"detail,omitempty"`
}

// RecalcReport lists per-enrollment results of one section run.
// Partial failure is a normal outcome; callers inspect Failed.
type RecalcReport struct {
	JobID        string            `json:"job_id"`
	SectionID    string            `json:"section_id"`
	StartedAt    time.Time         `json:"started_at"`
	FinishedAt   time.Time         `json:"finished_at"`
	Succeeded    []FinalGrade      `json:"succeeded"`
	Failed       []Failure         `json:"failed"`
	WeightsError *WeightDiagnostic `json:"weights_error,omitempty"`
	Canceled     bool              `json:"canceled,omitempty"`
}

// Observer receives results after the fact. Logging and metrics hang off it.
type Observer interface {
	EnrollmentDone(o Outcome)
	SectionDone(r RecalcReport)
}

// Observers fans results out to several observers in order.
type Observers []Observer

func (obs Observers) EnrollmentDone(o Outcome) {
	for _, ob := range obs {
		ob.EnrollmentDone(o)
	}
}

func (obs Observers) SectionDone(r RecalcReport) {
	for _, ob := range obs {
		ob.SectionDone(r)
	}
}

type Option func(*Recalculator)

// WithConcurrency bounds parallel enrollments per section run. Keep it at or
// below the storage pool size.
func WithConcurrency(n int) Option {
	return func(r *Recalculator) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

func WithObserver(o Observer) Option { return func(r *Recalculator) { r.observer = o } }

// Recalculator recomputes final grades from raw scores. It keeps no state
// between calls; every run reads weights and scores afresh.
type Recalculator struct {
	Store Store
	Now   Clock

	concurrency int
	observer    Observer
}

func New(store Store, now Clock, opts ...Option) *Recalculator {
	if now == nil {
		now = time.Now
	}
	r := &Recalculator{Store: store, Now: now, concurrency: DefaultConcurrency}
	for _, o := range opts {
		o(r)
	}
	return r
}

// RecalculateEnrollment recomputes and persists one enrollment's grade.
// Invalid weights or missing scores come back as *InvalidError.
func (r *Recalculator) RecalculateEnrollment(ctx context.Context, enrollmentID, sectionID string) (FinalGrade, error) {
	weights, err := r.Store.WeightsFor(ctx, sectionID)
	if err != nil {
		return FinalGrade{}, fmt.Errorf("weights for %s: %w", sectionID, err)
	}
	out := r.run(ctx, enrollmentID, weights)
	r.notify(out)
	if out.Omitted {
		return FinalGrade{}, ctx.Err()
	}
	if out.Err != nil {
		return FinalGrade{}, out.Err
	}
	return out.Composition.Grade, nil
}

// RecalculateSection recomputes every enrollment of a section. One enrollment
// failing never stops the others. When ctx ends early the partial report is
// returned with ctx.Err(); enrollments not yet committed are left out of it.
func (r *Recalculator) RecalculateSection(ctx context.Context, sectionID string) (RecalcReport, error) {
	report := RecalcReport{
		JobID:     uuid.NewString(),
		SectionID: sectionID,
		StartedAt: r.Now(),
		Succeeded: []FinalGrade{},
		Failed:    []Failure{},
	}

	weights, err := r.Store.WeightsFor(ctx, sectionID)
	if err != nil {
		return report, fmt.Errorf("weights for %s: %w", sectionID, err)
	}
	ids, err := r.Store.EnrollmentsInSection(ctx, sectionID)
	if err != nil {
		return report, fmt.Errorf("enrollments in %s: %w", sectionID, err)
	}

	if diag := Diagnose([]WeightTable{weights}); len(diag) > 0 {
		report.WeightsError = &diag[0]
	}

	var (
		mu       sync.Mutex
		outcomes = make([]Outcome, 0, len(ids))
		g        errgroup.Group
	)
	g.SetLimit(r.concurrency)
	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			out := r.run(ctx, id, weights)
			r.notify(out)
			mu.Lock()
			outcomes = append(outcomes, out)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		switch {
		case o.Omitted:
		case o.Err != nil:
			report.Failed = append(report.Failed, Failure{
				EnrollmentID: o.EnrollmentID,
				Stage:        o.Stage,
				Reason:       ReasonOf(o.Err),
				Detail:       o.Err.Error(),
			})
		default:
			report.Succeeded = append(report.Succeeded, o.Composition.Grade)
		}
	}
	sort.Slice(report.Succeeded, func(i, j int) bool { return report.Succeeded[i].EnrollmentID < report.Succeeded[j].EnrollmentID })
	sort.Slice(report.Failed, func(i, j int) bool { return report.Failed[i].EnrollmentID < report.Failed[j].EnrollmentID })

	report.FinishedAt = r.Now()
	report.Canceled = ctx.Err() != nil
	if r.observer != nil {
		r.observer.SectionDone(report)
	}
	if report.Canceled {
		return report, ctx.Err()
	}
	return report, nil
}

// run drives one enrollment through Selecting → Aggregating → Composing →
// Persisting → Done. Any stage can fail; a canceled context marks it omitted.
func (r *Recalculator) run(ctx context.Context, enrollmentID string, weights WeightTable) Outcome {
	out := Outcome{EnrollmentID: enrollmentID, SectionID: weights.SectionID, Stage: StageSelecting}
	fail := func(err error) Outcome {
		out.Err = err
		return out
	}
	omit := func() Outcome {
		out.Err = ctx.Err()
		out.Omitted = true
		return out
	}
	if ctx.Err() != nil {
		return omit()
	}

	// An invalid table blocks the computation before any score is read.
	if err := weights.Validate(); err != nil {
		out.Stage = StageComposing
		return fail(invalid(err))
	}

	out.Stage = StageAggregating
	scores, err := r.Store.ScoresFor(ctx, enrollmentID, weights.SectionID)
	if err != nil {
		if ctx.Err() != nil {
			return omit()
		}
		return fail(fmt.Errorf("scores for %s: %w", enrollmentID, err))
	}
	averages := Averages(enrollmentID, weights, scores)

	out.Stage = StageComposing
	comp, err := Compose(enrollmentID, weights, averages, r.Now().UTC())
	if err != nil {
		return fail(err)
	}
	out.Composition = comp

	out.Stage = StagePersisting
	for out.Attempts < maxPersistAttempts {
		if ctx.Err() != nil {
			return omit()
		}
		out.Attempts++
		err = r.Store.SaveFinalGrade(ctx, comp.Grade)
		if err == nil {
			out.Stage = StageDone
			return out
		}
		if ctx.Err() != nil {
			return omit()
		}
	}
	return fail(fmt.Errorf("%w: %v", ErrPersistence, err))
}

func (r *Recalculator) notify(o Outcome) {
	if r.observer != nil {
		r.observer.EnrollmentDone(o)
	}
}

// IsInvalid reports whether err is an Invalid(reason) outcome rather than an
// infrastructure failure.
func IsInvalid(err error) bool {
	var inv *InvalidError
	return errors.As(err, &inv)
}
