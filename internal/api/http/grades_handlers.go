package http

import (
	"bytes"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-grading/internal/report"
	"github.com/mind-engage/mindengage-grading/internal/storage"
)

// GET /sections/{sectionID}/grades
func ListSectionGradesHandler(store GradeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sectionID := strings.TrimSpace(chi.URLParam(r, "sectionID"))
		if _, err := store.WeightsFor(r.Context(), sectionID); err != nil {
			respondError(w, err)
			return
		}
		grades, err := store.ListFinalGrades(r.Context(), sectionID)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"section_id": sectionID, "grades": grades})
	}
}

// GET /sections/{sectionID}/enrollments/{enrollmentID}/grade
func GetEnrollmentGradeHandler(store GradeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, err := store.GetFinalGrade(r.Context(),
			strings.TrimSpace(chi.URLParam(r, "enrollmentID")),
			strings.TrimSpace(chi.URLParam(r, "sectionID")))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, g)
	}
}

// GET /sections/{sectionID}/grades/export.xlsx[?archive=1]
// With archive=1 the workbook is also kept in the blob store and its key is
// returned in the X-Archive-Key header.
func ExportSectionGradesHandler(store GradeStore, blobs storage.BlobStore, clock func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sectionID := strings.TrimSpace(chi.URLParam(r, "sectionID"))
		weights, err := store.WeightsFor(r.Context(), sectionID)
		if err != nil {
			respondError(w, err)
			return
		}
		grades, err := store.ListFinalGrades(r.Context(), sectionID)
		if err != nil {
			respondError(w, err)
			return
		}
		b, err := report.SectionWorkbook(report.SectionData{SectionID: sectionID, Weights: weights, Grades: grades})
		if err != nil {
			respondError(w, err)
			return
		}
		if r.URL.Query().Get("archive") == "1" && blobs != nil {
			key, err := blobs.Put(r.Context(), report.Key(sectionID, clock()), bytes.NewReader(b))
			if err != nil {
				respondError(w, err)
				return
			}
			w.Header().Set("X-Archive-Key", key)
		}
		w.Header().Set("Content-Type", report.ContentType)
		w.Header().Set("Content-Disposition", `attachment; filename="`+sectionID+`-grades.xlsx"`)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(b)
	}
}
