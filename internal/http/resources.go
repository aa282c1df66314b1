package httpx

import (
	"net/http"
	"strings"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

func (r *Router) handleResources(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.listResources(w, req)
	case http.MethodPost:
		var payload resourcePayload
		if !decodeJSON(w, req, &payload) {
			return
		}
		input, err := payload.input()
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		created, err := r.resources.Create(req.Context(), input)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, newResourceResponse(*created))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) listResources(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	verr := &domain.ValidationError{}
	filter := repository.ResourceFilter{
		Search: strings.TrimSpace(q.Get("search")),
		Sort:   parseSort(q, verr, repository.ResourceSortKeys, false),
		Page:   r.parsePage(q, verr, r.pageSize),
	}
	if err := verr.Err(); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	resources, total, err := r.resources.List(req.Context(), filter)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if !parseBool(q.Get("includeAvailability")) {
		out := make([]resourceResponse, 0, len(resources))
		for _, res := range resources {
			out = append(out, newResourceResponse(res))
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"resources":  out,
			"pagination": newPagination(filter.Page, total),
		})
		return
	}
	items, summary, err := r.resources.Availability(req.Context(), resources)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"resources":  newAvailabilityResponses(items),
		"pagination": newPagination(filter.Page, total),
		"summary": availabilitySummaryResponse{
			Total:         summary.Total,
			Active:        summary.Active,
			Idle:          summary.Idle,
			OverAllocated: summary.OverAllocated,
		},
	})
}

func (r *Router) handleResource(w http.ResponseWriter, req *http.Request) {
	parts := pathSegments(req.URL.Path, "/resources/")
	if len(parts) == 0 {
		r.handleResources(w, req)
		return
	}
	if len(parts) != 1 {
		r.notFound(w)
		return
	}
	id := parts[0]
	switch req.Method {
	case http.MethodGet:
		found, err := r.resources.Get(req.Context(), id)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, newResourceResponse(*found))
	case http.MethodPut, http.MethodPatch:
		var payload resourcePayload
		if !decodeJSON(w, req, &payload) {
			return
		}
		input, err := payload.input()
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		updated, err := r.resources.Update(req.Context(), id, input)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, newResourceResponse(*updated))
	case http.MethodDelete:
		deletion, err := r.resources.Delete(req.Context(), id)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"message": "Resource deleted successfully",
			"details": map[string]any{
				"deletedResource":               deletion.Resource.Name,
				"totalExperimentsUsingResource": deletion.TotalExperiments,
			},
		})
	default:
		r.methodNotAllowed(w)
	}
}
