package httpx

import (
	"net/http"
	"strings"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/schedule"
)

func (r *Router) handleExperiments(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		r.listExperiments(w, req)
	case http.MethodPost:
		var payload experimentPayload
		if !decodeJSON(w, req, &payload) {
			return
		}
		input, err := payload.input()
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		created, err := r.experiments.Create(req.Context(), input)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, newExperimentResponse(*created))
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) listExperiments(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	verr := &domain.ValidationError{}
	filter := repository.ExperimentFilter{
		Search:     strings.TrimSpace(q.Get("search")),
		Status:     domain.ExperimentStatus(strings.TrimSpace(q.Get("status"))),
		ResourceID: strings.TrimSpace(q.Get("resource")),
		Researcher: strings.TrimSpace(q.Get("researcher")),
		Tags:       splitList(q.Get("tags")),
		Sort:       parseSort(q, verr, repository.ExperimentSortKeys, true),
		Page:       r.parsePage(q, verr, r.pageSize),
	}
	if err := verr.Err(); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	experiments, total, err := r.experiments.List(req.Context(), filter)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"experiments": newExperimentResponses(experiments),
		"pagination":  newPagination(filter.Page, total),
	})
}

// handleExperimentSubroutes dispatches /experiments/{id}[/logs[/stream]] and
// /experiments/schedule[/conflicts].
func (r *Router) handleExperimentSubroutes(w http.ResponseWriter, req *http.Request) {
	parts := pathSegments(req.URL.Path, "/experiments/")
	switch {
	case len(parts) == 0:
		r.handleExperiments(w, req)
	case parts[0] == "schedule":
		r.handleSchedule(w, req, parts[1:])
	case len(parts) == 1:
		r.handleExperiment(w, req, parts[0])
	case len(parts) == 2 && parts[1] == "logs":
		r.handleExperimentLogs(w, req, parts[0])
	case len(parts) == 3 && parts[1] == "logs" && parts[2] == "stream":
		r.handleExperimentLogStream(w, req, parts[0])
	default:
		r.notFound(w)
	}
}

func (r *Router) handleExperiment(w http.ResponseWriter, req *http.Request, id string) {
	switch req.Method {
	case http.MethodGet:
		found, err := r.experiments.Get(req.Context(), id)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, newExperimentResponse(*found))
	case http.MethodPut, http.MethodPatch:
		var payload experimentPayload
		if !decodeJSON(w, req, &payload) {
			return
		}
		input, err := payload.input()
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		updated, err := r.experiments.Update(req.Context(), id, input)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, newExperimentResponse(*updated))
	case http.MethodDelete:
		if err := r.experiments.Delete(req.Context(), id); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Experiment deleted successfully"})
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleSchedule(w http.ResponseWriter, req *http.Request, rest []string) {
	switch {
	case len(rest) == 0 && req.Method == http.MethodGet:
		r.handleCalendar(w, req)
	case len(rest) == 0 && req.Method == http.MethodPost:
		r.handleConflicts(w, req)
	case len(rest) == 1 && rest[0] == "conflicts" && req.Method == http.MethodPost:
		r.handleConflicts(w, req)
	case len(rest) == 0 || (len(rest) == 1 && rest[0] == "conflicts"):
		r.methodNotAllowed(w)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleCalendar(w http.ResponseWriter, req *http.Request) {
	q := req.URL.Query()
	cal, err := r.schedule.Calendar(req.Context(), schedule.CalendarQuery{
		StartDate:  q.Get("startDate"),
		EndDate:    q.Get("endDate"),
		ResourceID: q.Get("resource"),
		Tags:       splitList(q.Get("tags")),
	})
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	byDate := make(map[string][]experimentSummaryResponse, len(cal.ExperimentsByDate))
	for day, experiments := range cal.ExperimentsByDate {
		byDate[day] = newExperimentSummaries(experiments)
	}
	byStatus := make(map[string]int, len(cal.Summary.ByStatus))
	for status, n := range cal.Summary.ByStatus {
		byStatus[string(status)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"experiments":       newExperimentSummaries(cal.Experiments),
		"experimentsByDate": byDate,
		"summary": map[string]any{
			"total":      cal.Summary.Total,
			"byStatus":   byStatus,
			"byResource": cal.Summary.ByResource,
		},
	})
}

func (r *Router) handleConflicts(w http.ResponseWriter, req *http.Request) {
	var payload conflictPayload
	if !decodeJSON(w, req, &payload) {
		return
	}
	input, err := payload.input()
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	report, err := r.schedule.CheckConflicts(req.Context(), input)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	r.recordConflictCheck(report.UtilizationOverLimit, report.HasConflicts)
	writeJSON(w, http.StatusOK, map[string]any{
		"hasConflicts":           report.HasConflicts,
		"utilizationOverLimit":   report.UtilizationOverLimit,
		"totalUtilization":       report.TotalUtilization,
		"conflictingExperiments": newExperimentSummaries(report.ConflictingExperiments),
		"recommendations": map[string]any{
			"canProceed": report.Recommendations.CanProceed,
			"warning":    report.Recommendations.Warning,
			"suggestion": report.Recommendations.Suggestion,
		},
	})
}
