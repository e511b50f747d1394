package httpapi

import (
	"net/http"
	"strings"

	"ristoro.dev/internal/menu"
)

type listMealsResponse struct {
	Items []menu.Meal `json:"items"`
}

type listCategoriesResponse struct {
	Items []menu.Category `json:"items"`
}

func (a *API) handleMealsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		filter := menu.MealFilter{CategoryID: strings.TrimSpace(r.URL.Query().Get("category_id"))}
		list, err := a.deps.Menu.ListMeals(r.Context(), claimsOf(r), filter)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if list == nil {
			list = []menu.Meal{}
		}
		writeJSON(w, http.StatusOK, listMealsResponse{Items: list})
	case http.MethodPost:
		var in menu.MealInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		m, err := a.deps.Menu.CreateMeal(r.Context(), claimsOf(r), in)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, m)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleMealResource(w http.ResponseWriter, r *http.Request) {
	id, action := splitResource(r.URL.Path, "/v1/menu/meals/")
	if id == "" || action != "" {
		writeError(w, r, http.StatusNotFound, "meal not found")
		return
	}
	switch r.Method {
	case http.MethodPut:
		var in menu.MealInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		m, err := a.deps.Menu.UpdateMeal(r.Context(), claimsOf(r), id, in)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, m)
	case http.MethodDelete:
		if err := a.deps.Menu.DeleteMeal(r.Context(), claimsOf(r), id); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}

func (a *API) handleCategoriesCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		list, err := a.deps.Menu.ListCategories(r.Context(), claimsOf(r))
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		if list == nil {
			list = []menu.Category{}
		}
		writeJSON(w, http.StatusOK, listCategoriesResponse{Items: list})
	case http.MethodPost:
		var in menu.CategoryInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		c, err := a.deps.Menu.CreateCategory(r.Context(), claimsOf(r), in)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, c)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleCategoryResource(w http.ResponseWriter, r *http.Request) {
	id, action := splitResource(r.URL.Path, "/v1/menu/categories/")
	if id == "" || action != "" {
		writeError(w, r, http.StatusNotFound, "category not found")
		return
	}
	switch r.Method {
	case http.MethodPut:
		var in menu.CategoryInput
		if err := decodeJSON(w, r, &in); err != nil {
			writeError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		c, err := a.deps.Menu.UpdateCategory(r.Context(), claimsOf(r), id, in)
		if err != nil {
			handleServiceError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodDelete:
		if err := a.deps.Menu.DeleteCategory(r.Context(), claimsOf(r), id); err != nil {
			handleServiceError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w, r, http.MethodPut, http.MethodDelete)
	}
}
