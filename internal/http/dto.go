package httpx

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/experiment"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/resource"
	"github.com/GarthBrooksFan/experiment-tracker/internal/service/schedule"
)

const maxBodyBytes = 1 << 20

// decodeJSON reads a single JSON document into dst and reports a 400 on failure.
func decodeJSON(w http.ResponseWriter, req *http.Request, dst any) bool {
	req.Body = http.MaxBytesReader(w, req.Body, maxBodyBytes)
	if err := json.NewDecoder(req.Body).Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// flexNumber accepts a JSON number or a string holding one. Interpretation is
// left to the service so range errors are reported per field.
type flexNumber string

func (n *flexNumber) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '"' {
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return err
		}
		*n = flexNumber(strings.TrimSpace(s))
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(trimmed, &num); err != nil {
		return fmt.Errorf("expected number or string: %w", err)
	}
	*n = flexNumber(num.String())
	return nil
}

func (n *flexNumber) stringPtr() *string {
	if n == nil {
		return nil
	}
	s := string(*n)
	return &s
}

// intPtr converts an optional whole number, recording a field error when the
// value is not one. An empty string counts as zero.
func (n *flexNumber) intPtr(verr *domain.ValidationError, field string) *int {
	if n == nil {
		return nil
	}
	raw := strings.TrimSpace(string(*n))
	if raw == "" {
		zero := 0
		return &zero
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		verr.Add(field, "must be a whole number")
		return nil
	}
	return &v
}

type experimentPayload struct {
	Name                 *string     `json:"name"`
	Description          *string     `json:"description"`
	Researcher           *string     `json:"researcher"`
	Hypothesis           *string     `json:"hypothesis"`
	Methodology          *string     `json:"methodology"`
	ExpectedDuration     *flexNumber `json:"expectedDuration"`
	DurationUnit         *string     `json:"durationUnit"`
	StartDate            *string     `json:"startDate"`
	EndDate              *string     `json:"endDate"`
	AssignedResource     *string     `json:"assignedResource"`
	ResourceUtilization  *flexNumber `json:"resourceUtilization"`
	Status               *string     `json:"status"`
	Priority             *string     `json:"priority"`
	DatasetPath          *string     `json:"datasetPath"`
	ModelConfig          *string     `json:"modelConfig"`
	HardwareRequirements *string     `json:"hardwareRequirements"`
	Dependencies         *string     `json:"dependencies"`
	Notes                *string     `json:"notes"`
	TrainingTask         *string     `json:"trainingTask"`
	TrainingBatchSize    *flexNumber `json:"trainingBatchSize"`
	EpisodeLength        *flexNumber `json:"episodeLength"`
	LearningRate         *flexNumber `json:"learningRate"`
	StepsTrainedFor      *flexNumber `json:"stepsTrainedFor"`
	EpochsTrainedFor     *flexNumber `json:"epochsTrainedFor"`
	EpisodesInDataset    *flexNumber `json:"episodesInDataset"`
	TaskHoursInDataset   *flexNumber `json:"taskHoursInDataset"`
	FramesInDataset      *flexNumber `json:"framesInDataset"`
	Scoring              *string     `json:"scoring"`
	EnableMonitoring     *bool       `json:"enableMonitoring"`
	AutoBackup           *bool       `json:"autoBackup"`
	NotifyOnCompletion   *bool       `json:"notifyOnCompletion"`
	Tags                 *[]string   `json:"tags"`
}

func (p experimentPayload) input() (experiment.Input, error) {
	verr := &domain.ValidationError{}
	in := experiment.Input{
		Name:                 p.Name,
		Description:          p.Description,
		Researcher:           p.Researcher,
		Hypothesis:           p.Hypothesis,
		Methodology:          p.Methodology,
		ExpectedDuration:     p.ExpectedDuration.stringPtr(),
		DurationUnit:         p.DurationUnit,
		StartDate:            p.StartDate,
		EndDate:              p.EndDate,
		AssignedResource:     p.AssignedResource,
		ResourceUtilization:  p.ResourceUtilization.intPtr(verr, "resourceUtilization"),
		Status:               p.Status,
		Priority:             p.Priority,
		DatasetPath:          p.DatasetPath,
		ModelConfig:          p.ModelConfig,
		HardwareRequirements: p.HardwareRequirements,
		Dependencies:         p.Dependencies,
		Notes:                p.Notes,
		TrainingTask:         p.TrainingTask,
		TrainingBatchSize:    p.TrainingBatchSize.stringPtr(),
		EpisodeLength:        p.EpisodeLength.stringPtr(),
		LearningRate:         p.LearningRate.stringPtr(),
		StepsTrainedFor:      p.StepsTrainedFor.stringPtr(),
		EpochsTrainedFor:     p.EpochsTrainedFor.stringPtr(),
		EpisodesInDataset:    p.EpisodesInDataset.stringPtr(),
		TaskHoursInDataset:   p.TaskHoursInDataset.stringPtr(),
		FramesInDataset:      p.FramesInDataset.stringPtr(),
		Scoring:              p.Scoring,
		EnableMonitoring:     p.EnableMonitoring,
		AutoBackup:           p.AutoBackup,
		NotifyOnCompletion:   p.NotifyOnCompletion,
		Tags:                 p.Tags,
	}
	return in, verr.Err()
}

type resourcePayload struct {
	ResourceID   *string     `json:"resourceId"`
	Name         *string     `json:"name"`
	Type         *string     `json:"type"`
	Description  *string     `json:"description"`
	Location     *string     `json:"location"`
	TotalUnits   *flexNumber `json:"totalUnits"`
	Status       *string     `json:"status"`
	CurrentUsage *flexNumber `json:"currentUsage"`
}

func (p resourcePayload) input() (resource.Input, error) {
	verr := &domain.ValidationError{}
	in := resource.Input{
		ResourceID:   p.ResourceID,
		Name:         p.Name,
		Type:         p.Type,
		Description:  p.Description,
		Location:     p.Location,
		TotalUnits:   p.TotalUnits.stringPtr(),
		Status:       p.Status,
		CurrentUsage: p.CurrentUsage.intPtr(verr, "currentUsage"),
	}
	return in, verr.Err()
}

type conflictPayload struct {
	StartDate           string      `json:"startDate"`
	EndDate             string      `json:"endDate"`
	AssignedResource    string      `json:"assignedResource"`
	ResourceUtilization *flexNumber `json:"resourceUtilization"`
	ExcludeExperimentID string      `json:"excludeExperimentId"`
}

func (p conflictPayload) input() (schedule.ConflictInput, error) {
	verr := &domain.ValidationError{}
	in := schedule.ConflictInput{
		StartDate:           p.StartDate,
		EndDate:             p.EndDate,
		AssignedResource:    p.AssignedResource,
		ResourceUtilization: p.ResourceUtilization.intPtr(verr, "resourceUtilization"),
		ExcludeExperimentID: p.ExcludeExperimentID,
	}
	return in, verr.Err()
}

type logResponse struct {
	ID           int64              `json:"id"`
	ExperimentID string             `json:"experimentId"`
	Level        domain.LogLevel    `json:"level"`
	Message      string             `json:"message"`
	Metadata     domain.LogMetadata `json:"metadata"`
	Timestamp    time.Time          `json:"timestamp"`
}

func newLogResponse(entry domain.ExperimentLog) logResponse {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = domain.LogMetadata{}
	}
	return logResponse{
		ID:           entry.ID,
		ExperimentID: entry.ExperimentID,
		Level:        entry.Level,
		Message:      entry.Message,
		Metadata:     metadata,
		Timestamp:    entry.Timestamp,
	}
}

type experimentRefResponse struct {
	ID         string                  `json:"id"`
	Name       string                  `json:"name"`
	Researcher string                  `json:"researcher"`
	Status     domain.ExperimentStatus `json:"status"`
}

type globalLogResponse struct {
	logResponse
	Experiment experimentRefResponse `json:"experiment"`
}

func newGlobalLogResponses(entries []domain.LogWithExperiment) []globalLogResponse {
	out := make([]globalLogResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, globalLogResponse{
			logResponse: newLogResponse(e.ExperimentLog),
			Experiment: experimentRefResponse{
				ID:         e.Experiment.ID,
				Name:       e.Experiment.Name,
				Researcher: e.Experiment.Researcher,
				Status:     e.Experiment.Status,
			},
		})
	}
	return out
}

func newLogResponses(entries []domain.LogWithExperiment) []logResponse {
	out := make([]logResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, newLogResponse(e.ExperimentLog))
	}
	return out
}

type experimentResponse struct {
	ID                   string                  `json:"id"`
	Name                 string                  `json:"name"`
	Description          string                  `json:"description"`
	Researcher           string                  `json:"researcher"`
	Hypothesis           string                  `json:"hypothesis"`
	Methodology          string                  `json:"methodology"`
	ExpectedDuration     string                  `json:"expectedDuration"`
	DurationUnit         domain.DurationUnit     `json:"durationUnit"`
	StartDate            *string                 `json:"startDate"`
	EndDate              *string                 `json:"endDate"`
	AssignedResource     *string                 `json:"assignedResource"`
	ResourceUtilization  int                     `json:"resourceUtilization"`
	Status               domain.ExperimentStatus `json:"status"`
	Priority             domain.Priority         `json:"priority"`
	DatasetPath          string                  `json:"datasetPath"`
	ModelConfig          string                  `json:"modelConfig"`
	HardwareRequirements string                  `json:"hardwareRequirements"`
	Dependencies         string                  `json:"dependencies"`
	Notes                string                  `json:"notes"`
	TrainingTask         string                  `json:"trainingTask"`
	TrainingBatchSize    *int                    `json:"trainingBatchSize"`
	EpisodeLength        *int                    `json:"episodeLength"`
	LearningRate         *json.Number            `json:"learningRate"`
	StepsTrainedFor      *int64                  `json:"stepsTrainedFor"`
	EpochsTrainedFor     *int64                  `json:"epochsTrainedFor"`
	EpisodesInDataset    *int64                  `json:"episodesInDataset"`
	TaskHoursInDataset   *json.Number            `json:"taskHoursInDataset"`
	FramesInDataset      *int64                  `json:"framesInDataset"`
	Scoring              string                  `json:"scoring"`
	EnableMonitoring     bool                    `json:"enableMonitoring"`
	AutoBackup           bool                    `json:"autoBackup"`
	NotifyOnCompletion   bool                    `json:"notifyOnCompletion"`
	Tags                 []string                `json:"tags"`
	Logs                 []logResponse           `json:"logs"`
	CreatedAt            time.Time               `json:"createdAt"`
	UpdatedAt            time.Time               `json:"updatedAt"`
}

func newExperimentResponse(e domain.Experiment) experimentResponse {
	logs := make([]logResponse, 0, len(e.RecentLogs))
	for _, l := range e.RecentLogs {
		logs = append(logs, newLogResponse(l))
	}
	t := e.Training
	return experimentResponse{
		ID:                   e.ID,
		Name:                 e.Name,
		Description:          e.Description,
		Researcher:           e.Researcher,
		Hypothesis:           e.Hypothesis,
		Methodology:          e.Methodology,
		ExpectedDuration:     e.ExpectedDuration,
		DurationUnit:         e.DurationUnit,
		StartDate:            formatDate(e.Schedule.Start),
		EndDate:              formatDate(e.Schedule.End),
		AssignedResource:     e.ResourceID,
		ResourceUtilization:  e.Utilization,
		Status:               e.Status,
		Priority:             e.Priority,
		DatasetPath:          e.DatasetPath,
		ModelConfig:          e.ModelConfig,
		HardwareRequirements: e.HardwareRequirements,
		Dependencies:         e.Dependencies,
		Notes:                e.Notes,
		TrainingTask:         t.Task,
		TrainingBatchSize:    t.BatchSize,
		EpisodeLength:        t.EpisodeLength,
		LearningRate:         decimalNumber(t.LearningRate),
		StepsTrainedFor:      t.StepsTrainedFor,
		EpochsTrainedFor:     t.EpochsTrainedFor,
		EpisodesInDataset:    t.EpisodesInDataset,
		TaskHoursInDataset:   decimalNumber(t.TaskHoursInDataset),
		FramesInDataset:      t.FramesInDataset,
		Scoring:              t.Scoring,
		EnableMonitoring:     e.EnableMonitoring,
		AutoBackup:           e.AutoBackup,
		NotifyOnCompletion:   e.NotifyOnCompletion,
		Tags:                 e.Tags.Clone(),
		Logs:                 logs,
		CreatedAt:            e.CreatedAt,
		UpdatedAt:            e.UpdatedAt,
	}
}

func newExperimentResponses(experiments []domain.Experiment) []experimentResponse {
	out := make([]experimentResponse, 0, len(experiments))
	for _, e := range experiments {
		out = append(out, newExperimentResponse(e))
	}
	return out
}

// experimentSummaryResponse is the slim view used by the calendar, conflict
// reports and resource availability.
type experimentSummaryResponse struct {
	ID                  string                  `json:"id"`
	Name                string                  `json:"name"`
	Researcher          string                  `json:"researcher"`
	Status              domain.ExperimentStatus `json:"status"`
	Priority            domain.Priority         `json:"priority,omitempty"`
	StartDate           *string                 `json:"startDate"`
	EndDate             *string                 `json:"endDate"`
	AssignedResource    *string                 `json:"assignedResource"`
	ResourceUtilization int                     `json:"resourceUtilization"`
	Tags                []string                `json:"tags"`
}

func newExperimentSummary(e domain.Experiment) experimentSummaryResponse {
	return experimentSummaryResponse{
		ID:                  e.ID,
		Name:                e.Name,
		Researcher:          e.Researcher,
		Status:              e.Status,
		Priority:            e.Priority,
		StartDate:           formatDate(e.Schedule.Start),
		EndDate:             formatDate(e.Schedule.End),
		AssignedResource:    e.ResourceID,
		ResourceUtilization: e.Utilization,
		Tags:                e.Tags.Clone(),
	}
}

func newExperimentSummaries(experiments []domain.Experiment) []experimentSummaryResponse {
	out := make([]experimentSummaryResponse, 0, len(experiments))
	for _, e := range experiments {
		out = append(out, newExperimentSummary(e))
	}
	return out
}

type resourceResponse struct {
	ID           string                `json:"id"`
	ResourceID   string                `json:"resourceId"`
	Name         string                `json:"name"`
	Type         string                `json:"type"`
	Description  string                `json:"description"`
	Location     string                `json:"location"`
	TotalUnits   string                `json:"totalUnits"`
	Status       domain.ResourceStatus `json:"status"`
	CurrentUsage int                   `json:"currentUsage"`
	CreatedAt    time.Time             `json:"createdAt"`
	UpdatedAt    time.Time             `json:"updatedAt"`
}

func newResourceResponse(r domain.Resource) resourceResponse {
	return resourceResponse{
		ID:           r.ID,
		ResourceID:   r.ResourceID,
		Name:         r.Name,
		Type:         r.Type,
		Description:  r.Description,
		Location:     r.Location,
		TotalUnits:   r.TotalUnits,
		Status:       r.Status,
		CurrentUsage: r.CurrentUsage,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
}

type availabilityResponse struct {
	resourceResponse
	CalculatedUsage   int                         `json:"calculatedUsage"`
	AvailableCapacity int                         `json:"availableCapacity"`
	ActiveExperiments int                         `json:"activeExperiments"`
	Experiments       []experimentSummaryResponse `json:"experiments"`
	DerivedStatus     domain.ResourceStatus       `json:"derivedStatus"`
	OverAllocated     bool                        `json:"overAllocated"`
}

type availabilitySummaryResponse struct {
	Total         int `json:"total"`
	Active        int `json:"active"`
	Idle          int `json:"idle"`
	OverAllocated int `json:"overAllocated"`
}

func newAvailabilityResponses(items []domain.ResourceAvailability) []availabilityResponse {
	out := make([]availabilityResponse, 0, len(items))
	for _, a := range items {
		out = append(out, availabilityResponse{
			resourceResponse:  newResourceResponse(a.Resource),
			CalculatedUsage:   a.CalculatedUsage,
			AvailableCapacity: a.AvailableCapacity,
			ActiveExperiments: a.ActiveExperiments,
			Experiments:       newExperimentSummaries(a.Experiments),
			DerivedStatus:     a.DerivedStatus,
			OverAllocated:     a.OverAllocated,
		})
	}
	return out
}

type researcherResponse struct {
	ID                string    `json:"id"`
	Name              string    `json:"name"`
	Email             string    `json:"email"`
	Department        string    `json:"department"`
	ActiveExperiments int       `json:"activeExperiments"`
	TotalExperiments  int       `json:"totalExperiments"`
	CreatedAt         time.Time `json:"createdAt"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

func newResearcherResponse(r domain.Researcher) researcherResponse {
	return researcherResponse{
		ID:                r.ID,
		Name:              r.Name,
		Email:             r.Email,
		Department:        r.Department,
		ActiveExperiments: r.ActiveExperiments,
		TotalExperiments:  r.TotalExperiments,
		CreatedAt:         r.CreatedAt,
		UpdatedAt:         r.UpdatedAt,
	}
}

type tagResponse struct {
	ID        string             `json:"id"`
	Name      string             `json:"name"`
	Category  domain.TagCategory `json:"category"`
	IsCustom  bool               `json:"isCustom"`
	CreatedAt time.Time          `json:"createdAt"`
}

func newTagResponse(t domain.Tag) tagResponse {
	return tagResponse{ID: t.ID, Name: t.Name, Category: t.Category, IsCustom: t.IsCustom, CreatedAt: t.CreatedAt}
}

type userResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Email          string     `json:"email"`
	GithubUsername string     `json:"githubUsername"`
	IsAuthorized   bool       `json:"isAuthorized"`
	IsAdmin        bool       `json:"isAdmin"`
	LastSignInAt   *time.Time `json:"lastSignInAt"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

func newUserResponse(u domain.User) userResponse {
	return userResponse{
		ID:             u.ID,
		Name:           u.Name,
		Email:          u.Email,
		GithubUsername: u.GithubUsername,
		IsAuthorized:   u.IsAuthorized,
		IsAdmin:        u.IsAdmin,
		LastSignInAt:   u.LastSignInAt,
		CreatedAt:      u.CreatedAt,
		UpdatedAt:      u.UpdatedAt,
	}
}

func formatDate(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := domain.Day(*t).Format(domain.DateLayout)
	return &s
}

func decimalNumber(d *decimal.Decimal) *json.Number {
	if d == nil {
		return nil
	}
	n := json.Number(d.String())
	return &n
}
