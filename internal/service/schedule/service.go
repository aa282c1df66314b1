package schedule

import (
	"context"
	"strings"

	"log/slog"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

// Recommendation texts returned with a conflict report.
const (
	WarningAllocated = "Resource is already allocated during this time period"
	SuggestionReduce = "Consider reducing resource utilization or choosing a different time slot"
	SuggestionReview = "Review conflicting experiments and their resource requirements"
	SuggestionSafe   = "No conflicts detected - safe to proceed"
)

const utilizationCeiling = 100

// ConflictInput describes a candidate booking.
type ConflictInput struct {
	StartDate           string
	EndDate             string
	AssignedResource    string
	ResourceUtilization *int
	ExcludeExperimentID string
}

// Recommendations summarises whether a booking may proceed.
type Recommendations struct {
	CanProceed bool
	Warning    *string
	Suggestion string
}

// ConflictReport is the outcome of a conflict check.
type ConflictReport struct {
	HasConflicts           bool
	TotalUtilization       int
	UtilizationOverLimit   bool
	ConflictingExperiments []domain.Experiment
	Recommendations        Recommendations
}

// CalendarQuery narrows the calendar view.
type CalendarQuery struct {
	StartDate  string
	EndDate    string
	ResourceID string
	Tags       []string
}

// Summary aggregates a calendar.
type Summary struct {
	Total      int
	ByStatus   map[domain.ExperimentStatus]int
	ByResource map[string]int
}

// Calendar is the dated experiment view.
type Calendar struct {
	Experiments       []domain.Experiment
	ExperimentsByDate map[string][]domain.Experiment
	Summary           Summary
}

// Service answers scheduling questions.
type Service struct {
	experiments repository.ExperimentRepository
	logger      *slog.Logger
}

// New returns a schedule service.
func New(experiments repository.ExperimentRepository, logger *slog.Logger) Service {
	return Service{experiments: experiments, logger: logger}
}

// CheckConflicts finds experiments on the same resource whose dates overlap
// the candidate and sums their utilization. The check is advisory.
func (s Service) CheckConflicts(ctx context.Context, input ConflictInput) (ConflictReport, error) {
	verr := &domain.ValidationError{}
	window := domain.DateRange{}
	if strings.TrimSpace(input.StartDate) == "" {
		verr.Add("startDate", "is required")
	} else if start, err := domain.ParseDate(input.StartDate); err != nil {
		verr.Add("startDate", "must be a date in YYYY-MM-DD format")
	} else {
		window.Start = &start
	}
	if strings.TrimSpace(input.EndDate) == "" {
		verr.Add("endDate", "is required")
	} else if end, err := domain.ParseDate(input.EndDate); err != nil {
		verr.Add("endDate", "must be a date in YYYY-MM-DD format")
	} else {
		window.End = &end
	}
	if !window.Ordered() {
		verr.Add("endDate", "must not be before startDate")
	}
	resourceID := strings.TrimSpace(input.AssignedResource)
	if resourceID == "" {
		verr.Add("assignedResource", "is required")
	}
	candidate := 0
	if input.ResourceUtilization != nil {
		candidate = *input.ResourceUtilization
		if candidate < 0 || candidate > utilizationCeiling {
			verr.Add("resourceUtilization", "must be between 0 and 100")
		}
	}
	if err := verr.Err(); err != nil {
		return ConflictReport{}, err
	}

	overlapping, err := s.experiments.FindOverlappingExperiments(ctx, repository.OverlapQuery{
		ResourceID: resourceID,
		Window:     window,
		ExcludeID:  strings.TrimSpace(input.ExcludeExperimentID),
	})
	if err != nil {
		return ConflictReport{}, err
	}
	report := Evaluate(candidate, overlapping)
	if report.HasConflicts {
		s.logger.Info("schedule conflict detected", "resource_id", resourceID, "conflicts", len(overlapping), "total_utilization", report.TotalUtilization)
	}
	return report, nil
}

// Evaluate builds a report from the candidate utilization and the overlapping
// experiments. Every overlap counts at its full utilization.
func Evaluate(candidate int, overlapping []domain.Experiment) ConflictReport {
	total := candidate
	for _, e := range overlapping {
		total += e.Utilization
	}
	report := ConflictReport{
		HasConflicts:           len(overlapping) > 0,
		TotalUtilization:       total,
		UtilizationOverLimit:   total > utilizationCeiling,
		ConflictingExperiments: overlapping,
	}
	if report.ConflictingExperiments == nil {
		report.ConflictingExperiments = []domain.Experiment{}
	}
	report.Recommendations.CanProceed = !report.UtilizationOverLimit
	if report.HasConflicts {
		warning := WarningAllocated
		report.Recommendations.Warning = &warning
	}
	switch {
	case report.UtilizationOverLimit:
		report.Recommendations.Suggestion = SuggestionReduce
	case report.HasConflicts:
		report.Recommendations.Suggestion = SuggestionReview
	default:
		report.Recommendations.Suggestion = SuggestionSafe
	}
	return report
}

// Calendar lists dated experiments grouped by start day.
func (s Service) Calendar(ctx context.Context, query CalendarQuery) (Calendar, error) {
	verr := &domain.ValidationError{}
	window := domain.DateRange{}
	if strings.TrimSpace(query.StartDate) != "" {
		if start, err := domain.ParseDate(query.StartDate); err != nil {
			verr.Add("startDate", "must be a date in YYYY-MM-DD format")
		} else {
			window.Start = &start
		}
	}
	if strings.TrimSpace(query.EndDate) != "" {
		if end, err := domain.ParseDate(query.EndDate); err != nil {
			verr.Add("endDate", "must be a date in YYYY-MM-DD format")
		} else {
			window.End = &end
		}
	}
	if !window.Ordered() {
		verr.Add("endDate", "must not be before startDate")
	}
	if err := verr.Err(); err != nil {
		return Calendar{}, err
	}
	// the date filter only applies when both bounds are given.
	if window.Start == nil || window.End == nil {
		window = domain.DateRange{}
	}

	experiments, err := s.experiments.ListScheduledExperiments(ctx, repository.ScheduleFilter{
		Window:     window,
		ResourceID: strings.TrimSpace(query.ResourceID),
		Tags:       query.Tags,
	})
	if err != nil {
		return Calendar{}, err
	}
	return Group(experiments), nil
}

// Group buckets experiments by the day they start, or end when no start is set.
func Group(experiments []domain.Experiment) Calendar {
	cal := Calendar{
		Experiments:       experiments,
		ExperimentsByDate: make(map[string][]domain.Experiment),
		Summary: Summary{
			Total:      len(experiments),
			ByStatus:   make(map[domain.ExperimentStatus]int),
			ByResource: make(map[string]int),
		},
	}
	if cal.Experiments == nil {
		cal.Experiments = []domain.Experiment{}
	}
	for _, e := range experiments {
		if start, _, ok := e.Schedule.Bounds(); ok {
			key := start.Format(domain.DateLayout)
			cal.ExperimentsByDate[key] = append(cal.ExperimentsByDate[key], e)
		}
		cal.Summary.ByStatus[e.Status]++
		if key := e.ResourceKey(); key != "" {
			cal.Summary.ByResource[key]++
		}
	}
	return cal
}
