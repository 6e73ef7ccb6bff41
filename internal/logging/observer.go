package logging

import (
	"go.uber.org/zap"

	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
)

// ReportObserver logs failed enrollments and one summary line per section run.
type ReportObserver struct {
	Log *zap.Logger
}

var _ gradebook.Observer = (*ReportObserver)(nil)

func NewReportObserver(log *zap.Logger) *ReportObserver {
	return &ReportObserver{Log: log.Named("recalc")}
}

func (o *ReportObserver) EnrollmentDone(out gradebook.Outcome) {
	if !out.Failed() {
		o.Log.Debug("enrollment recalculated",
			zap.String("enrollment_id", out.EnrollmentID),
			zap.String("section_id", out.SectionID),
			zap.String("stage", string(out.Stage)),
		)
		return
	}
	fields := []zap.Field{
		zap.String("enrollment_id", out.EnrollmentID),
		zap.String("section_id", out.SectionID),
		zap.String("stage", string(out.Stage)),
		zap.String("reason", gradebook.ReasonOf(out.Err)),
		zap.Int("attempts", out.Attempts),
		zap.Error(out.Err),
	}
	// invalid data is an expected outcome; storage trouble is not
	if gradebook.IsInvalid(out.Err) {
		o.Log.Warn("enrollment not graded", fields...)
		return
	}
	o.Log.Error("enrollment recalculation failed", fields...)
}

func (o *ReportObserver) SectionDone(r gradebook.RecalcReport) {
	fields := []zap.Field{
		zap.String("job_id", r.JobID),
		zap.String("section_id", r.SectionID),
		zap.Int("succeeded", len(r.Succeeded)),
		zap.Int("failed", len(r.Failed)),
		zap.Duration("took", r.FinishedAt.Sub(r.StartedAt)),
		zap.Bool("canceled", r.Canceled),
	}
	if r.WeightsError != nil {
		o.Log.Warn("section weights invalid",
			zap.String("section_id", r.SectionID),
			zap.Float64("sum", r.WeightsError.Sum),
			zap.Float64("deviation", r.WeightsError.Deviation),
		)
	}
	o.Log.Info("section recalculated", fields...)
}
