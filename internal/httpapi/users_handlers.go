package httpapi

import (
	"net/http"

	"ristoro.dev/internal/users"
)

type updateRoleRequest struct {
	Role string `json:"role"`
}

type setBlockedRequest struct {
	Blocked bool `json:"blocked"`
}

type listUsersResponse struct {
	Items []users.User `json:"items"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	profile, err := a.deps.Users.Me(r.Context(), claimsOf(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}

func (a *API) handleUsersCollection(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	list, err := a.deps.Users.List(r.Context(), claimsOf(r))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []users.User{}
	}
	writeJSON(w, http.StatusOK, listUsersResponse{Items: list})
}

func (a *API) handleUserResource(w http.ResponseWriter, r *http.Request) {
	id, action := splitResource(r.URL.Path, "/v1/users/")
	if id == "" {
		writeError(w, r, http.StatusNotFound, "user not found")
		return
	}
	switch action {
	case "":
		if r.Method != http.MethodGet {
			methodNotAllowed(w, r, http.MethodGet)
			return
		}
		profile, err := a.deps.Users.Get(r.Context(), claimsOf(r), id)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, profile)
	case "role":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		var req updateRoleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		u, err := a.deps.Users.UpdateRole(r.Context(), claimsOf(r), id, req.Role)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	case "blocked":
		if r.Method != http.MethodPut {
			methodNotAllowed(w, r, http.MethodPut)
			return
		}
		var req setBlockedRequest
		if err := decodeJSON(w, r, &req); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		u, err := a.deps.Users.SetBlocked(r.Context(), claimsOf(r), id, req.Blocked)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, u)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
	}
}
