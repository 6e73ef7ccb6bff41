package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-grading/internal/queue"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
)

type upsertScoreReq struct {
	EnrollmentID   string   `json:"enrollment_id" validate:"required"`
	ActivityID     string   `json:"activity_id" validate:"required"`
	PointsObtained *float64 `json:"points_obtained" validate:"required,gte=0"`
}

// PUT /scores
// Records one score and triggers a recalculation of that enrollment.
func UpsertScoreHandler(store GradeStore, triggers queue.Sink, clock func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req upsertScoreReq
		if err := decodeAndValidate(r, &req); err != nil {
			respondError(w, err)
			return
		}
		sectionID, err := store.UpsertScore(r.Context(), req.EnrollmentID, req.ActivityID, *req.PointsObtained)
		if err != nil {
			respondError(w, err)
			return
		}

		resp := map[string]any{"section_id": sectionID, "recalculation": "done"}
		if _, inline := triggers.(queue.Inline); !inline {
			resp["recalculation"] = "queued"
		}
		t := queue.Trigger{Kind: queue.KindScore, SectionID: sectionID, EnrollmentID: req.EnrollmentID, RequestedAt: clock()}
		if err := triggers.Push(r.Context(), t); err != nil {
			resp["recalculation"] = "failed"
			resp["recalculation_error"] = err.Error()
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

type upsertSectionReq struct {
	CourseID string `json:"course_id"`
	Title    string `json:"title" validate:"max=200"`
}

// PUT /admin/sections/{sectionID}
func UpsertSectionHandler(store GradeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sectionID := strings.TrimSpace(chi.URLParam(r, "sectionID"))
		var req upsertSectionReq
		if err := decodeAndValidate(r, &req); err != nil {
			respondError(w, err)
			return
		}
		if err := store.UpsertSection(r.Context(), sectionID, req.CourseID, req.Title); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"section_id": sectionID})
	}
}

type upsertActivityReq struct {
	SectionID string  `json:"section_id" validate:"required"`
	Category  string  `json:"category" validate:"required,category"`
	MaxPoints float64 `json:"max_points" validate:"gte=0"`
}

// PUT /admin/activities/{activityID}
func UpsertActivityHandler(store GradeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		activityID := strings.TrimSpace(chi.URLParam(r, "activityID"))
		var req upsertActivityReq
		if err := decodeAndValidate(r, &req); err != nil {
			respondError(w, err)
			return
		}
		c, _ := gradebook.ParseCategory(req.Category)
		a := gradebook.Activity{ID: activityID, SectionID: req.SectionID, Category: c, MaxPoints: req.MaxPoints}
		if err := store.UpsertActivity(r.Context(), a); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, a)
	}
}

type upsertEnrollmentReq struct {
	SectionID string `json:"section_id" validate:"required"`
	StudentID string `json:"student_id" validate:"required"`
}

// PUT /admin/enrollments/{enrollmentID}
func UpsertEnrollmentHandler(store GradeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		enrollmentID := strings.TrimSpace(chi.URLParam(r, "enrollmentID"))
		var req upsertEnrollmentReq
		if err := decodeAndValidate(r, &req); err != nil {
			respondError(w, err)
			return
		}
		e := gradebook.Enrollment{ID: enrollmentID, SectionID: req.SectionID, StudentID: req.StudentID}
		if err := store.UpsertEnrollment(r.Context(), e); err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, e)
	}
}

// DELETE /admin/enrollments/{enrollmentID}
func DropEnrollmentHandler(store GradeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.DropEnrollment(r.Context(), strings.TrimSpace(chi.URLParam(r, "enrollmentID"))); err != nil {
			respondError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
