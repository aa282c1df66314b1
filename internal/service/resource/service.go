package resource

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

// ErrResourceInUse indicates active experiments still reference the resource.
var ErrResourceInUse = errors.New("cannot delete resource with active experiments")

// InUseError carries the number of active experiments blocking a deletion.
type InUseError struct {
	ActiveExperimentCount int
}

func (e *InUseError) Error() string {
	return fmt.Sprintf("%s (%d active)", ErrResourceInUse.Error(), e.ActiveExperimentCount)
}

// Is matches ErrResourceInUse.
func (e *InUseError) Is(target error) bool {
	return target == ErrResourceInUse
}

// Input carries resource attributes. Nil fields are left unchanged on update.
type Input struct {
	ResourceID   *string
	Name         *string
	Type         *string
	Description  *string
	Location     *string
	TotalUnits   *string
	Status       *string
	CurrentUsage *int
}

// Service orchestrates resource management.
type Service struct {
	resources   repository.ResourceRepository
	experiments repository.ExperimentRepository
	logger      *slog.Logger
}

// New returns a resource service.
func New(resources repository.ResourceRepository, experiments repository.ExperimentRepository, logger *slog.Logger) Service {
	return Service{resources: resources, experiments: experiments, logger: logger}
}

// Create stores a resource. The key defaults to a slug of the name.
func (s Service) Create(ctx context.Context, input Input) (*domain.Resource, error) {
	res := &domain.Resource{
		ID:        uuid.NewString(),
		Status:    domain.ResourceStatusActive,
		CreatedAt: time.Now().UTC(),
	}
	input.Name = required(input.Name)
	input.Type = required(input.Type)
	input.TotalUnits = required(input.TotalUnits)
	if input.ResourceID == nil || strings.TrimSpace(*input.ResourceID) == "" {
		key := slug.Make(strings.TrimSpace(*input.Name))
		input.ResourceID = &key
	}
	if err := apply(res, input); err != nil {
		return nil, err
	}
	if err := s.resources.CreateResource(ctx, res); err != nil {
		return nil, err
	}
	s.logger.Info("resource created", "resource_id", res.ResourceID, "id", res.ID)
	return res, nil
}

// Get returns a resource by identifier.
func (s Service) Get(ctx context.Context, id string) (*domain.Resource, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	return s.resources.GetResource(ctx, id)
}

// Update applies a partial update. A changed key cascades to experiments.
func (s Service) Update(ctx context.Context, id string, input Input) (*domain.Resource, error) {
	res, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := apply(res, input); err != nil {
		return nil, err
	}
	if err := s.resources.UpdateResource(ctx, res); err != nil {
		return nil, err
	}
	s.logger.Info("resource updated", "resource_id", res.ResourceID, "id", res.ID)
	return res, nil
}

// Delete removes a resource that no active experiment holds.
func (s Service) Delete(ctx context.Context, id string) (domain.ResourceDeletion, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return domain.ResourceDeletion{}, repository.ErrNotFound
	}
	deletion, err := s.resources.DeleteResource(ctx, id)
	if err != nil {
		var inUse *repository.InUseError
		if errors.As(err, &inUse) {
			return domain.ResourceDeletion{}, &InUseError{ActiveExperimentCount: inUse.Count}
		}
		return domain.ResourceDeletion{}, err
	}
	s.logger.Info("resource deleted", "resource_id", deletion.Resource.ResourceID, "detached_experiments", deletion.TotalExperiments)
	return deletion, nil
}

// List returns a page of resources.
func (s Service) List(ctx context.Context, filter repository.ResourceFilter) ([]domain.Resource, int, error) {
	return s.resources.ListResources(ctx, filter)
}

// Availability annotates resources with the load of their active experiments.
func (s Service) Availability(ctx context.Context, resources []domain.Resource) ([]domain.ResourceAvailability, AvailabilitySummary, error) {
	active, err := s.experiments.ListActiveExperimentsByResource(ctx)
	if err != nil {
		return nil, AvailabilitySummary{}, err
	}
	items, summary := Aggregate(resources, active)
	return items, summary, nil
}

// required turns an absent create field into an empty one so it fails validation.
func required(v *string) *string {
	if v == nil {
		return new(string)
	}
	return v
}

func apply(res *domain.Resource, in Input) error {
	verr := &domain.ValidationError{}
	if in.ResourceID != nil {
		key := strings.TrimSpace(*in.ResourceID)
		if key == "" {
			verr.Add("resourceId", "is required")
		}
		res.ResourceID = key
	}
	if in.Name != nil {
		res.Name = strings.TrimSpace(*in.Name)
		if res.Name == "" {
			verr.Add("name", "is required")
		}
	}
	if in.Type != nil {
		res.Type = strings.TrimSpace(*in.Type)
		if res.Type == "" {
			verr.Add("type", "is required")
		}
	}
	if in.TotalUnits != nil {
		res.TotalUnits = strings.TrimSpace(*in.TotalUnits)
		if res.TotalUnits == "" {
			verr.Add("totalUnits", "is required")
		}
	}
	if in.Description != nil {
		res.Description = strings.TrimSpace(*in.Description)
	}
	if in.Location != nil {
		res.Location = strings.TrimSpace(*in.Location)
	}
	if in.Status != nil {
		status := domain.ResourceStatus(strings.TrimSpace(*in.Status))
		if !status.Valid() {
			verr.Add("status", "must be one of active, idle, maintenance")
		}
		res.Status = status
	}
	if in.CurrentUsage != nil {
		if *in.CurrentUsage < 0 || *in.CurrentUsage > 100 {
			verr.Add("currentUsage", "must be between 0 and 100")
		}
		res.CurrentUsage = *in.CurrentUsage
	}
	return verr.Err()
}
