package httpapi

import (
	"net/http"
	"strings"

	"ristoro.dev/internal/audit"
	"ristoro.dev/internal/auth"
)

type listAuditResponse struct {
	Items []audit.Entry `json:"items"`
}

func (a *API) handleAudit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.deps.Audit == nil {
		handleServiceError(w, r, auth.ErrNotFound)
		return
	}
	q := r.URL.Query()
	limit, err := parsePositiveInt(q.Get("limit"), 100, 1, 500)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	list, err := a.deps.Audit.List(r.Context(), claimsOf(r), audit.Filter{
		UserID:   strings.TrimSpace(q.Get("user_id")),
		Resource: strings.TrimSpace(q.Get("resource")),
		Limit:    limit,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, listAuditResponse{Items: list})
}
