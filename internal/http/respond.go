package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/access"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/researcher"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/resource"
)

// writeJSON writes JSON response with status code.
func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// writeError sends an error message.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeErrorDetails(w http.ResponseWriter, status int, msg string, details any) {
	writeJSON(w, status, map[string]any{"error": msg, "details": details})
}

type fieldErrorResponse struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func writeValidation(w http.ResponseWriter, verr *domain.ValidationError) {
	details := make([]fieldErrorResponse, 0, len(verr.Fields))
	for _, f := range verr.Fields {
		details = append(details, fieldErrorResponse{Field: f.Field, Message: f.Message})
	}
	writeErrorDetails(w, http.StatusBadRequest, "validation failed", details)
}

// writeServiceError maps service and repository errors onto the HTTP error taxonomy.
func (r *Router) writeServiceError(w http.ResponseWriter, req *http.Request, err error) {
	var (
		verr      *domain.ValidationError
		inUse     *resource.InUseError
		hasExps   *researcher.HasExperimentsError
		notFound  = errors.Is(err, repository.ErrNotFound)
		forbidden = errors.Is(err, access.ErrAccessDenied) || errors.Is(err, access.ErrNotAuthorized)
	)
	switch {
	case errors.As(err, &verr):
		writeValidation(w, verr)
	case notFound:
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, repository.ErrConflict):
		writeError(w, http.StatusConflict, "resource already exists")
	case errors.Is(err, repository.ErrInvalidReference):
		writeError(w, http.StatusBadRequest, "referenced record does not exist")
	case errors.Is(err, repository.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "invalid value")
	case errors.As(err, &inUse):
		writeErrorDetails(w, http.StatusBadRequest, resource.ErrResourceInUse.Error(), map[string]any{
			"activeExperimentCount": inUse.ActiveExperimentCount,
			"message":               "Complete or cancel active experiments before deleting this resource",
		})
	case errors.As(err, &hasExps):
		writeErrorDetails(w, http.StatusBadRequest, researcher.ErrHasExperiments.Error(), map[string]any{
			"experimentCount": hasExps.ExperimentCount,
		})
	case errors.Is(err, access.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "authentication required")
	case forbidden:
		writeError(w, http.StatusForbidden, err.Error())
	default:
		r.logger.Error("request failed", "method", req.Method, "path", req.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
