package http

import (
	"net/http"
	"strconv"

	syncx "github.com/mind-engage/mindengage-grading/internal/sync"
)

// GET /events?after=<seq>&limit=<n>
// Transcript consumers page through FinalGradeComputed events with this.
func ListEventsHandler(events EventLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		after, err := parseInt64Default(r.URL.Query().Get("after"), 0)
		if err != nil || after < 0 {
			respondError(w, badRequest("after must be a non-negative integer"))
			return
		}
		limit, err := parseInt64Default(r.URL.Query().Get("limit"), 100)
		if err != nil || limit < 1 {
			respondError(w, badRequest("limit must be a positive integer"))
			return
		}
		list, err := events.Since(r.Context(), after, int(limit))
		if err != nil {
			respondError(w, err)
			return
		}
		if list == nil {
			list = []syncx.Event{}
		}
		next := after
		if n := len(list); n > 0 {
			next = list[n-1].Seq
		}
		respondJSON(w, http.StatusOK, map[string]any{"events": list, "next": next})
	}
}

func parseInt64Default(s string, def int64) (int64, error) {
	if s == "" {
		return def, nil
	}
	return strconv.ParseInt(s, 10, 64)
}
