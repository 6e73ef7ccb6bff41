package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-grading/internal/queue"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
)

// POST /sections/{sectionID}/recalculate[?async=1]
// Synchronous runs answer with the report; async runs are queued and answer 202.
func RecalculateSectionHandler(store GradeStore, rec *gradebook.Recalculator, triggers queue.Sink, clock func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sectionID := strings.TrimSpace(chi.URLParam(r, "sectionID"))
		if sectionID == "" {
			respondError(w, badRequest("sectionID required"))
			return
		}
		if r.URL.Query().Get("async") == "1" && triggers != nil {
			if _, err := store.WeightsFor(r.Context(), sectionID); err != nil {
				respondError(w, err)
				return
			}
			t := queue.Trigger{Kind: queue.KindMigration, SectionID: sectionID, RequestedAt: clock()}
			if err := triggers.Push(r.Context(), t); err != nil {
				respondError(w, err)
				return
			}
			respondJSON(w, http.StatusAccepted, map[string]string{"status": "queued", "section_id": sectionID})
			return
		}

		report, err := rec.RecalculateSection(r.Context(), sectionID)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, report)
	}
}

// POST /sections/{sectionID}/enrollments/{enrollmentID}/recalculate
func RecalculateEnrollmentHandler(rec *gradebook.Recalculator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sectionID := strings.TrimSpace(chi.URLParam(r, "sectionID"))
		enrollmentID := strings.TrimSpace(chi.URLParam(r, "enrollmentID"))
		if sectionID == "" || enrollmentID == "" {
			respondError(w, badRequest("sectionID and enrollmentID required"))
			return
		}
		g, err := rec.RecalculateEnrollment(r.Context(), enrollmentID, sectionID)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, g)
	}
}
