package http

import (
	"net/http"

	authmw "github.com/mind-engage/mindengage-grading/internal/auth/middleware"
	"github.com/mind-engage/mindengage-grading/internal/rbac"
)

type meResp struct {
	authmw.Principal
	Permissions []string `json:"permissions"`
}

// GET /me
// Echoes the caller's token so operators can check what gradectl minted.
func MeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := authmw.PrincipalFromContext(r.Context())
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		respondJSON(w, http.StatusOK, meResp{Principal: p, Permissions: rbac.Granted(p.Role)})
	}
}
