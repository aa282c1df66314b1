package httpx

import "net/http"

func (r *Router) handleTags(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		tags, err := r.tags.List(req.Context(), req.URL.Query().Get("category"))
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		out := make([]tagResponse, 0, len(tags))
		for _, t := range tags {
			out = append(out, newTagResponse(t))
		}
		writeJSON(w, http.StatusOK, map[string]any{"tags": out})
	case http.MethodPost:
		var payload struct {
			Name     string `json:"name"`
			Category string `json:"category"`
		}
		if !decodeJSON(w, req, &payload) {
			return
		}
		created, err := r.tags.Create(req.Context(), payload.Name, payload.Category)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, newTagResponse(*created))
	default:
		r.methodNotAllowed(w)
	}
}
