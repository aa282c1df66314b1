package httpx

import (
	"net/http"
	"strings"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/researcher"
)

type researcherPayload struct {
	Name       *string `json:"name"`
	Email      *string `json:"email"`
	Department *string `json:"department"`
}

func (p researcherPayload) input() researcher.Input {
	return researcher.Input{Name: p.Name, Email: p.Email, Department: p.Department}
}

func (r *Router) handleResearchers(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		q := req.URL.Query()
		verr := &domain.ValidationError{}
		filter := repository.ResearcherFilter{
			Search: strings.TrimSpace(q.Get("search")),
			Sort:   parseSort(q, verr, repository.ResearcherSortKeys, false),
			Page:   r.parsePage(q, verr, r.pageSize),
		}
		if err := verr.Err(); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		researchers, total, err := r.researchers.List(req.Context(), filter)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		out := make([]researcherResponse, 0, len(researchers))
		for _, res := range researchers {
			out = append(out, newResearcherResponse(res))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"researchers": out,
			"total":       total,
			"pagination":  newPagination(filter.Page, total),
		})
	case http.MethodPost:
		var payload researcherPayload
		if !decodeJSON(w, req, &payload) {
			return
		}
		created, err := r.researchers.Create(req.Context(), payload.input())
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, newResearcherResponse(*created))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleResearcher(w http.ResponseWriter, req *http.Request) {
	parts := pathSegments(req.URL.Path, "/researchers/")
	if len(parts) == 0 {
		r.handleResearchers(w, req)
		return
	}
	if len(parts) != 1 {
		r.notFound(w)
		return
	}
	id := parts[0]
	switch req.Method {
	case http.MethodGet:
		found, err := r.researchers.Get(req.Context(), id)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, newResearcherResponse(*found))
	case http.MethodPut, http.MethodPatch:
		var payload researcherPayload
		if !decodeJSON(w, req, &payload) {
			return
		}
		updated, err := r.researchers.Update(req.Context(), id, payload.input())
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, newResearcherResponse(*updated))
	case http.MethodDelete:
		deleted, err := r.researchers.Delete(req.Context(), id)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message":    "Researcher deleted successfully",
			"researcher": newResearcherResponse(*deleted),
		})
	default:
		r.methodNotAllowed(w)
	}
}
