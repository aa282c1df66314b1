package experiment

import (
	"context"
	"errors"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

const (
	// ListLogLimit is the number of recent logs attached to each listed experiment.
	ListLogLimit = 5
	// DetailLogLimit is the number of recent logs attached to a single experiment.
	DetailLogLimit = 50
)

// Input carries experiment attributes. Nil fields are left unchanged on update
// and take their defaults on create. An empty string clears optional fields.
type Input struct {
	Name                 *string
	Description          *string
	Researcher           *string
	Hypothesis           *string
	Methodology          *string
	ExpectedDuration     *string
	DurationUnit         *string
	StartDate            *string
	EndDate              *string
	AssignedResource     *string
	ResourceUtilization  *int
	Status               *string
	Priority             *string
	DatasetPath          *string
	ModelConfig          *string
	HardwareRequirements *string
	Dependencies         *string
	Notes                *string
	TrainingTask         *string
	TrainingBatchSize    *string
	EpisodeLength        *string
	LearningRate         *string
	StepsTrainedFor      *string
	EpochsTrainedFor     *string
	EpisodesInDataset    *string
	TaskHoursInDataset   *string
	FramesInDataset      *string
	Scoring              *string
	EnableMonitoring     *bool
	AutoBackup           *bool
	NotifyOnCompletion   *bool
	Tags                 *[]string
}

// Service orchestrates experiment management.
type Service struct {
	experiments repository.ExperimentRepository
	resources   repository.ResourceRepository
	logs        repository.LogRepository
	logger      *slog.Logger
}

// New returns an experiment service.
func New(experiments repository.ExperimentRepository, resources repository.ResourceRepository, logs repository.LogRepository, logger *slog.Logger) Service {
	return Service{experiments: experiments, resources: resources, logs: logs, logger: logger}
}

// Create validates input, applies defaults and stores a new experiment.
func (s Service) Create(ctx context.Context, input Input) (*domain.Experiment, error) {
	experiment := &domain.Experiment{
		ID:                 uuid.NewString(),
		DurationUnit:       domain.DurationHours,
		Status:             domain.ExperimentStatusPlanned,
		Priority:           domain.PriorityMedium,
		EnableMonitoring:   true,
		AutoBackup:         true,
		NotifyOnCompletion: true,
		Tags:               domain.Tags{},
		CreatedAt:          time.Now().UTC(),
	}
	if input.Name == nil {
		input.Name = new(string)
	}
	if input.Researcher == nil {
		input.Researcher = new(string)
	}
	if err := s.apply(ctx, experiment, input); err != nil {
		return nil, err
	}
	if err := s.experiments.CreateExperiment(ctx, experiment); err != nil {
		return nil, mapWriteError(err)
	}
	experiment.RecentLogs = []domain.ExperimentLog{}
	s.logger.Info("experiment created", "experiment_id", experiment.ID, "researcher", experiment.Researcher)
	return experiment, nil
}

// Get returns an experiment with its latest logs.
func (s Service) Get(ctx context.Context, id string) (*domain.Experiment, error) {
	experiment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.attachLogs(ctx, []*domain.Experiment{experiment}, DetailLogLimit); err != nil {
		return nil, err
	}
	return experiment, nil
}

// Update applies a partial update.
func (s Service) Update(ctx context.Context, id string, input Input) (*domain.Experiment, error) {
	experiment, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, experiment, input); err != nil {
		return nil, err
	}
	if err := s.experiments.UpdateExperiment(ctx, experiment); err != nil {
		return nil, mapWriteError(err)
	}
	if err := s.attachLogs(ctx, []*domain.Experiment{experiment}, DetailLogLimit); err != nil {
		return nil, err
	}
	s.logger.Info("experiment updated", "experiment_id", experiment.ID)
	return experiment, nil
}

// Delete removes an experiment and, through the store, its logs.
func (s Service) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(strings.TrimSpace(id)); err != nil {
		return repository.ErrNotFound
	}
	if err := s.experiments.DeleteExperiment(ctx, strings.TrimSpace(id)); err != nil {
		return err
	}
	s.logger.Info("experiment deleted", "experiment_id", id)
	return nil
}

// List returns a page of experiments, each carrying its latest logs.
func (s Service) List(ctx context.Context, filter repository.ExperimentFilter) ([]domain.Experiment, int, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, 0, domain.Invalid("status", "unknown status")
	}
	experiments, total, err := s.experiments.ListExperiments(ctx, filter)
	if err != nil {
		return nil, 0, err
	}
	refs := make([]*domain.Experiment, 0, len(experiments))
	for i := range experiments {
		refs = append(refs, &experiments[i])
	}
	if err := s.attachLogs(ctx, refs, ListLogLimit); err != nil {
		return nil, 0, err
	}
	return experiments, total, nil
}

func (s Service) load(ctx context.Context, id string) (*domain.Experiment, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	return s.experiments.GetExperiment(ctx, id)
}

func (s Service) attachLogs(ctx context.Context, experiments []*domain.Experiment, limit int) error {
	if len(experiments) == 0 {
		return nil
	}
	ids := make([]string, 0, len(experiments))
	for _, e := range experiments {
		ids = append(ids, e.ID)
	}
	recent, err := s.logs.ListRecentLogs(ctx, ids, limit)
	if err != nil {
		return err
	}
	for _, e := range experiments {
		e.RecentLogs = recent[e.ID]
		if e.RecentLogs == nil {
			e.RecentLogs = []domain.ExperimentLog{}
		}
	}
	return nil
}

// apply validates input and copies it onto experiment. All field problems are
// reported together.
func (s Service) apply(ctx context.Context, e *domain.Experiment, in Input) error {
	verr := &domain.ValidationError{}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if n := len([]rune(name)); n < 3 || n > 100 {
			verr.Add("name", "must be between 3 and 100 characters")
		}
		e.Name = name
	}
	if in.Researcher != nil {
		researcher := strings.TrimSpace(*in.Researcher)
		if researcher == "" {
			verr.Add("researcher", "is required")
		}
		e.Researcher = researcher
	}
	setText(&e.Description, in.Description)
	setText(&e.Hypothesis, in.Hypothesis)
	setText(&e.Methodology, in.Methodology)
	setText(&e.ExpectedDuration, in.ExpectedDuration)
	setText(&e.DatasetPath, in.DatasetPath)
	setText(&e.ModelConfig, in.ModelConfig)
	setText(&e.HardwareRequirements, in.HardwareRequirements)
	setText(&e.Dependencies, in.Dependencies)
	setText(&e.Notes, in.Notes)
	setText(&e.Training.Task, in.TrainingTask)
	setText(&e.Training.Scoring, in.Scoring)

	if in.DurationUnit != nil {
		unit := domain.DurationUnit(strings.TrimSpace(*in.DurationUnit))
		if !unit.Valid() {
			verr.Add("durationUnit", "must be one of minutes, hours, days, weeks")
		}
		e.DurationUnit = unit
	}
	if in.Status != nil {
		status := domain.ExperimentStatus(strings.TrimSpace(*in.Status))
		if !status.Valid() {
			verr.Add("status", "must be one of planned, in-progress, completed, failed, paused")
		}
		e.Status = status
	}
	if in.Priority != nil {
		priority := domain.Priority(strings.TrimSpace(*in.Priority))
		if !priority.Valid() {
			verr.Add("priority", "must be one of low, medium, high")
		}
		e.Priority = priority
	}
	if in.ResourceUtilization != nil {
		if *in.ResourceUtilization < 0 || *in.ResourceUtilization > 100 {
			verr.Add("resourceUtilization", "must be between 0 and 100")
		}
		e.Utilization = *in.ResourceUtilization
	}

	if in.StartDate != nil {
		e.Schedule.Start = parseOptionalDate(verr, "startDate", *in.StartDate)
	}
	if in.EndDate != nil {
		e.Schedule.End = parseOptionalDate(verr, "endDate", *in.EndDate)
	}
	if !e.Schedule.Ordered() {
		verr.Add("endDate", "must not be before startDate")
	}

	if in.AssignedResource != nil {
		key := strings.TrimSpace(*in.AssignedResource)
		if key == "" {
			e.ResourceID = nil
		} else {
			if _, err := s.resources.GetResourceByKey(ctx, key); err != nil {
				if !errors.Is(err, repository.ErrNotFound) {
					return err
				}
				verr.Add("assignedResource", "unknown resource")
			}
			e.ResourceID = &key
		}
	}

	applyTraining(verr, &e.Training, in)

	if in.Tags != nil {
		tags := make(domain.Tags, 0, len(*in.Tags))
		for _, tag := range *in.Tags {
			if strings.TrimSpace(tag) == "" {
				verr.Add("tags", "must not contain blank tags")
				break
			}
			tags = append(tags, tag)
		}
		e.Tags = tags
	}

	if in.EnableMonitoring != nil {
		e.EnableMonitoring = *in.EnableMonitoring
	}
	if in.AutoBackup != nil {
		e.AutoBackup = *in.AutoBackup
	}
	if in.NotifyOnCompletion != nil {
		e.NotifyOnCompletion = *in.NotifyOnCompletion
	}
	return verr.Err()
}

func setText(dst *string, value *string) {
	if value != nil {
		*dst = strings.TrimSpace(*value)
	}
}

func parseOptionalDate(verr *domain.ValidationError, field, value string) *time.Time {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	day, err := domain.ParseDate(value)
	if err != nil {
		verr.Add(field, "must be a date in YYYY-MM-DD format")
		return nil
	}
	return &day
}

// mapWriteError turns store rejections into field errors where the field is known.
func mapWriteError(err error) error {
	switch {
	case errors.Is(err, repository.ErrInvalidReference):
		return domain.Invalid("assignedResource", "unknown resource")
	case errors.Is(err, repository.ErrInvalidArgument):
		return domain.Invalid("experiment", "rejected by store constraints")
	}
	return err
}
