package http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	authmw "github.com/mind-engage/mindengage-grading/internal/auth/middleware"
	"github.com/mind-engage/mindengage-grading/internal/queue"
	"github.com/mind-engage/mindengage-grading/internal/rbac"
	"github.com/mind-engage/mindengage-grading/internal/storage"
	syncx "github.com/mind-engage/mindengage-grading/internal/sync"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
)

// GradeStore is what the handlers need from storage. *sqlstore.Store satisfies it.
type GradeStore interface {
	gradebook.Store
	GetFinalGrade(ctx context.Context, enrollmentID, sectionID string) (gradebook.FinalGrade, error)
	ListFinalGrades(ctx context.Context, sectionID string) ([]gradebook.FinalGrade, error)
	ListSections(ctx context.Context) ([]string, error)
	AllWeightTables(ctx context.Context) ([]gradebook.WeightTable, error)
	ReplaceWeights(ctx context.Context, wt gradebook.WeightTable) error
	UpsertScore(ctx context.Context, enrollmentID, activityID string, points float64) (string, error)
	UpsertSection(ctx context.Context, id, courseID, title string) error
	UpsertActivity(ctx context.Context, a gradebook.Activity) error
	UpsertEnrollment(ctx context.Context, e gradebook.Enrollment) error
	DropEnrollment(ctx context.Context, enrollmentID string) error
}

type EventLister interface {
	Since(ctx context.Context, after int64, limit int) ([]syncx.Event, error)
}

type Deps struct {
	Store    GradeStore
	Events   EventLister
	Recalc   *gradebook.Recalculator
	Triggers queue.Sink // queue.Inline when no Redis is configured
	Blobs    storage.BlobStore
	Auth     *authmw.AuthService
	Metrics  http.Handler
	Ready    func(ctx context.Context) error
	Now      func() time.Time
}

// NewRouter mounts the grading API. Global middleware (request IDs, CORS,
// access logs) is the caller's business.
func NewRouter(d Deps) chi.Router {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Triggers == nil {
		d.Triggers = queue.Inline{Recalc: d.Recalc}
	}

	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if d.Ready != nil {
			if err := d.Ready(r.Context()); err != nil {
				http.Error(w, "not ready: "+err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		_, _ = w.Write([]byte("ok"))
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Group(func(pr chi.Router) {
		pr.Use(authmw.JWTMiddleware(d.Auth))

		pr.With(rbac.Require(rbac.PermGradesView)).Get("/sections/{sectionID}/grades", ListSectionGradesHandler(d.Store))
		pr.With(rbac.Require(rbac.PermGradesView)).Get("/sections/{sectionID}/enrollments/{enrollmentID}/grade", GetEnrollmentGradeHandler(d.Store))
		pr.With(rbac.Require(rbac.PermGradesExport)).Get("/sections/{sectionID}/grades/export.xlsx", ExportSectionGradesHandler(d.Store, d.Blobs, d.Now))
		pr.With(rbac.Require(rbac.PermGradesRecalc)).Post("/sections/{sectionID}/recalculate", RecalculateSectionHandler(d.Store, d.Recalc, d.Triggers, d.Now))
		pr.With(rbac.Require(rbac.PermGradesRecalc)).Post("/sections/{sectionID}/enrollments/{enrollmentID}/recalculate", RecalculateEnrollmentHandler(d.Recalc))
		pr.Get("/me", MeHandler())
		pr.With(rbac.RequireAny(rbac.PermWeightsView, rbac.PermWeightsEdit)).Get("/sections/{sectionID}/weights", GetWeightsHandler(d.Store))
		pr.With(rbac.Require(rbac.PermScoresWrite)).Put("/scores", UpsertScoreHandler(d.Store, d.Triggers, d.Now))
		if d.Events != nil {
			pr.With(rbac.Require(rbac.PermEventsRead)).Get("/events", ListEventsHandler(d.Events))
		}

		pr.Route("/admin", func(ar chi.Router) {
			ar.With(rbac.Require(rbac.PermWeightsEdit)).Put("/sections/{sectionID}/weights", ReplaceWeightsHandler(d.Store, d.Triggers, d.Now))
			ar.With(rbac.Require(rbac.PermWeightsDiagnose)).Get("/weights/diagnostics", WeightDiagnosticsHandler(d.Store))
			ar.With(rbac.Require(rbac.PermRosterEdit)).Put("/sections/{sectionID}", UpsertSectionHandler(d.Store))
			ar.With(rbac.Require(rbac.PermRosterEdit)).Put("/activities/{activityID}", UpsertActivityHandler(d.Store))
			ar.With(rbac.Require(rbac.PermRosterEdit)).Put("/enrollments/{enrollmentID}", UpsertEnrollmentHandler(d.Store))
			ar.With(rbac.Require(rbac.PermRosterEdit)).Delete("/enrollments/{enrollmentID}", DropEnrollmentHandler(d.Store))
		})
	})
	return r
}
