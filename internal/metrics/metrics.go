package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
)

// Recorder turns recalculation results into Prometheus series.
type Recorder struct {
	reg *prometheus.Registry

	enrollments     *prometheus.CounterVec
	persistAttempts prometheus.Histogram
	sections        *prometheus.CounterVec
	sectionDuration prometheus.Histogram
	invalidWeights  prometheus.Counter
	triggers        *prometheus.CounterVec
}

var _ gradebook.Observer = (*Recorder)(nil)

func New() *Recorder {
	r := &Recorder{
		reg: prometheus.NewRegistry(),
		enrollments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_enrollments_total",
			Help: "Enrollment recalculations by outcome and reason.",
		}, []string{"outcome", "reason"}),
		persistAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grading_persist_attempts",
			Help:    "Save attempts per enrollment that reached persisting.",
			Buckets: []float64{1, 2},
		}),
		sections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_section_runs_total",
			Help: "Section recalculation runs by result.",
		}, []string{"result"}),
		sectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "grading_section_duration_seconds",
			Help:    "Wall time of section recalculation runs.",
			Buckets: prometheus.DefBuckets,
		}),
		invalidWeights: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "grading_invalid_weight_runs_total",
			Help: "Section runs refused because the weight table was invalid.",
		}),
		triggers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "grading_triggers_total",
			Help: "Recalculation triggers handled, by kind and result.",
		}, []string{"kind", "result"}),
	}
	r.reg.MustRegister(
		r.enrollments, r.persistAttempts, r.sections, r.sectionDuration, r.invalidWeights, r.triggers,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return r
}

func (r *Recorder) Registry() *prometheus.Registry { return r.reg }

func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{Registry: r.reg})
}

func (r *Recorder) EnrollmentDone(o gradebook.Outcome) {
	switch {
	case o.Omitted:
		r.enrollments.WithLabelValues("omitted", "").Inc()
	case o.Err != nil:
		r.enrollments.WithLabelValues("failed", gradebook.ReasonOf(o.Err)).Inc()
	default:
		r.enrollments.WithLabelValues("succeeded", "").Inc()
	}
	if o.Attempts > 0 {
		r.persistAttempts.Observe(float64(o.Attempts))
	}
}

func (r *Recorder) SectionDone(rep gradebook.RecalcReport) {
	result := "ok"
	switch {
	case rep.Canceled:
		result = "canceled"
	case len(rep.Failed) > 0:
		result = "partial"
	}
	r.sections.WithLabelValues(result).Inc()
	r.sectionDuration.Observe(rep.FinishedAt.Sub(rep.StartedAt).Seconds())
	if rep.WeightsError != nil {
		r.invalidWeights.Inc()
	}
}

// Trigger counts one handled queue trigger.
func (r *Recorder) Trigger(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	r.triggers.WithLabelValues(kind, result).Inc()
}
