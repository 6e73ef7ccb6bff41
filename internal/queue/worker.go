package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
)

type Source interface {
	Pop(ctx context.Context) (Trigger, error)
}

type Sink interface {
	Push(ctx context.Context, t Trigger) error
}

// Recalculator is the part of *gradebook.Recalculator the worker drives.
type Recalculator interface {
	RecalculateEnrollment(ctx context.Context, enrollmentID, sectionID string) (gradebook.FinalGrade, error)
	RecalculateSection(ctx context.Context, sectionID string) (gradebook.RecalcReport, error)
}

// Handle runs the recalculation a trigger asks for. Invalid outcomes for a
// single enrollment are results, not errors.
func Handle(ctx context.Context, r Recalculator, t Trigger) error {
	if err := t.Validate(); err != nil {
		return err
	}
	switch t.Kind {
	case KindScore:
		_, err := r.RecalculateEnrollment(ctx, t.EnrollmentID, t.SectionID)
		if err != nil && !gradebook.IsInvalid(err) {
			return err
		}
		return nil
	default:
		_, err := r.RecalculateSection(ctx, t.SectionID)
		return err
	}
}

// Worker pops triggers and runs them one at a time. Section runs fan out
// internally, bounded by the recalculator's concurrency.
type Worker struct {
	Source Source
	Recalc Recalculator
	Log    *zap.Logger
	// OnHandled is called after every trigger, e.g. for metrics.
	OnHandled func(kind string, err error)
	// Requeue receives triggers cut short by shutdown. NewWorker sets it to
	// Source when Source is also a Sink.
	Requeue Sink

	backoff time.Duration
}

const requeueTimeout = 5 * time.Second

func NewWorker(src Source, r Recalculator, log *zap.Logger) *Worker {
	w := &Worker{Source: src, Recalc: r, Log: log.Named("worker"), backoff: time.Second}
	if sink, ok := src.(Sink); ok {
		w.Requeue = sink
	}
	return w
}

// Run loops until ctx is done and returns nil on a clean shutdown.
func (w *Worker) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		t, err := w.Source.Pop(ctx)
		switch {
		case err == nil:
		case errors.Is(err, ErrEmpty):
			continue
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrBadTrigger):
			w.Log.Warn("dropping bad trigger", zap.Error(err))
			continue
		default:
			w.Log.Error("pop failed", zap.Error(err))
			if !sleep(ctx, w.backoff) {
				return nil
			}
			continue
		}

		err = Handle(ctx, w.Recalc, t)
		if w.OnHandled != nil {
			w.OnHandled(string(t.Kind), err)
		}
		if err != nil && ctx.Err() != nil {
			w.requeue(ctx, t)
			return nil
		}
		if err != nil {
			w.Log.Error("trigger failed",
				zap.String("kind", string(t.Kind)),
				zap.String("section_id", t.SectionID),
				zap.String("enrollment_id", t.EnrollmentID),
				zap.Error(err),
			)
		}
	}
}

// requeue puts back a trigger that was popped but not finished, so the
// next worker picks it up. Recalculation is idempotent.
func (w *Worker) requeue(ctx context.Context, t Trigger) {
	fields := []zap.Field{
		zap.String("kind", string(t.Kind)),
		zap.String("section_id", t.SectionID),
		zap.String("enrollment_id", t.EnrollmentID),
	}
	if w.Requeue == nil {
		w.Log.Warn("trigger interrupted and not requeued", fields...)
		return
	}
	pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()
	if err := w.Requeue.Push(pctx, t); err != nil {
		w.Log.Error("requeue failed", append(fields, zap.Error(err))...)
		return
	}
	w.Log.Info("requeued interrupted trigger", fields...)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Inline is a Sink that runs triggers immediately on the caller's goroutine.
// It is used when no Redis queue is configured.
type Inline struct {
	Recalc Recalculator
}

func (i Inline) Push(ctx context.Context, t Trigger) error {
	if err := Handle(ctx, i.Recalc, t); err != nil {
		return fmt.Errorf("%s trigger for %s: %w", t.Kind, t.SectionID, err)
	}
	return nil
}
