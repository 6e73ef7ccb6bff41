package http

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mind-engage/mindengage-grading/internal/queue"
	"github.com/mind-engage/mindengage-grading/pkg/gradebook"
)

type weightItem struct {
	Category      string  `json:"category" validate:"required,category"`
	WeightPercent float64 `json:"weight_percent" validate:"gte=0,lte=100"`
}

type replaceWeightsReq struct {
	Weights []weightItem `json:"weights" validate:"required,min=1,unique=Category,dive"`
}

type weightsResp struct {
	SectionID string       `json:"section_id"`
	Weights   []weightItem `json:"weights"`
	Sum       float64      `json:"sum"`
	Valid     bool         `json:"valid"`
	Message   string       `json:"message,omitempty"`
}

func toWeightsResp(wt gradebook.WeightTable) weightsResp {
	resp := weightsResp{SectionID: wt.SectionID, Weights: []weightItem{}, Sum: wt.Sum(), Valid: true}
	for _, e := range wt.Entries() {
		resp.Weights = append(resp.Weights, weightItem{Category: string(e.Category), WeightPercent: e.WeightPercent})
	}
	if err := wt.Validate(); err != nil {
		resp.Valid = false
		resp.Message = err.Error()
	}
	return resp
}

// GET /sections/{sectionID}/weights
func GetWeightsHandler(store GradeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		wt, err := store.WeightsFor(r.Context(), strings.TrimSpace(chi.URLParam(r, "sectionID")))
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, toWeightsResp(wt))
	}
}

// PUT /admin/sections/{sectionID}/weights
// The whole table is replaced. A table that does not sum to 100 is refused
// with 422 and nothing changes; on success the section is recalculated.
func ReplaceWeightsHandler(store GradeStore, triggers queue.Sink, clock func() time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sectionID := strings.TrimSpace(chi.URLParam(r, "sectionID"))
		var req replaceWeightsReq
		if err := decodeAndValidate(r, &req); err != nil {
			respondError(w, err)
			return
		}
		wt, err := weightTableFrom(sectionID, req.Weights)
		if err != nil {
			respondError(w, err)
			return
		}
		if err := store.ReplaceWeights(r.Context(), wt); err != nil {
			respondError(w, err)
			return
		}

		resp := map[string]any{"weights": toWeightsResp(wt), "recalculation": "done"}
		t := queue.Trigger{Kind: queue.KindWeights, SectionID: sectionID, RequestedAt: clock()}
		if _, inline := triggers.(queue.Inline); !inline {
			resp["recalculation"] = "queued"
		}
		if err := triggers.Push(r.Context(), t); err != nil {
			resp["recalculation"] = "failed"
			resp["recalculation_error"] = err.Error()
		}
		respondJSON(w, http.StatusOK, resp)
	}
}

// weightTableFrom refuses categories that repeat once normalised ("Exam", "exam"),
// so the table validated is the table submitted.
func weightTableFrom(sectionID string, items []weightItem) (gradebook.WeightTable, error) {
	wt := gradebook.WeightTable{SectionID: sectionID, Weights: make(map[gradebook.Category]float64, len(items))}
	for i, it := range items {
		c, err := gradebook.ParseCategory(it.Category)
		if err != nil {
			return gradebook.WeightTable{}, badRequest(fmt.Sprintf("weights[%d].category: %v", i, err))
		}
		if _, dup := wt.Weights[c]; dup {
			return gradebook.WeightTable{}, badRequest(fmt.Sprintf("weights[%d].category: duplicate category %q", i, c))
		}
		wt.Weights[c] = it.WeightPercent
	}
	return wt, nil
}

// GET /admin/weights/diagnostics
// Lists every section whose weight table would block grading.
func WeightDiagnosticsHandler(store GradeStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tables, err := store.AllWeightTables(r.Context())
		if err != nil {
			respondError(w, err)
			return
		}
		diags := gradebook.Diagnose(tables)
		if diags == nil {
			diags = []gradebook.WeightDiagnostic{}
		}
		respondJSON(w, http.StatusOK, map[string]any{"checked": len(tables), "invalid": diags})
	}
}
