package researcher

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

// ErrHasExperiments indicates experiments still name the researcher.
var ErrHasExperiments = errors.New("cannot delete researcher with existing experiments")

// HasExperimentsError carries the number of experiments blocking a deletion.
type HasExperimentsError struct {
	ExperimentCount int
}

func (e *HasExperimentsError) Error() string {
	return fmt.Sprintf("%s (%d)", ErrHasExperiments.Error(), e.ExperimentCount)
}

// Is matches ErrHasExperiments.
func (e *HasExperimentsError) Is(target error) bool {
	return target == ErrHasExperiments
}

// Input carries researcher attributes. Nil fields are left unchanged on update.
type Input struct {
	Name       *string
	Email      *string
	Department *string
}

// Service orchestrates researcher management.
type Service struct {
	researchers repository.ResearcherRepository
	experiments repository.ExperimentRepository
	logger      *slog.Logger
}

// New returns a researcher service.
func New(researchers repository.ResearcherRepository, experiments repository.ExperimentRepository, logger *slog.Logger) Service {
	return Service{researchers: researchers, experiments: experiments, logger: logger}
}

// Create stores a researcher.
func (s Service) Create(ctx context.Context, input Input) (*domain.Researcher, error) {
	if input.Name == nil {
		input.Name = new(string)
	}
	r := &domain.Researcher{ID: uuid.NewString(), CreatedAt: time.Now().UTC()}
	if err := apply(r, input); err != nil {
		return nil, err
	}
	if err := s.researchers.CreateResearcher(ctx, r); err != nil {
		return nil, err
	}
	s.logger.Info("researcher created", "researcher_id", r.ID)
	return r, nil
}

// Get returns a researcher with experiment counts.
func (s Service) Get(ctx context.Context, id string) (*domain.Researcher, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return nil, repository.ErrNotFound
	}
	return s.researchers.GetResearcher(ctx, id)
}

// List returns a page of researchers.
func (s Service) List(ctx context.Context, filter repository.ResearcherFilter) ([]domain.Researcher, int, error) {
	return s.researchers.ListResearchers(ctx, filter)
}

// Update applies a partial update; a rename is carried over to experiments.
func (s Service) Update(ctx context.Context, id string, input Input) (*domain.Researcher, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	previous := r.Name
	if err := apply(r, input); err != nil {
		return nil, err
	}
	if err := s.researchers.UpdateResearcher(ctx, r, previous); err != nil {
		return nil, err
	}
	if previous != r.Name {
		s.logger.Info("researcher renamed", "researcher_id", r.ID, "from", previous, "to", r.Name)
	}
	return r, nil
}

// Delete removes a researcher no experiment names.
func (s Service) Delete(ctx context.Context, id string) (*domain.Researcher, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	count, err := s.experiments.CountExperimentsByResearcher(ctx, r.Name)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, &HasExperimentsError{ExperimentCount: count}
	}
	if err := s.researchers.DeleteResearcher(ctx, r.ID); err != nil {
		return nil, err
	}
	s.logger.Info("researcher deleted", "researcher_id", r.ID)
	return r, nil
}

func apply(r *domain.Researcher, in Input) error {
	verr := &domain.ValidationError{}
	if in.Name != nil {
		r.Name = strings.TrimSpace(*in.Name)
		if r.Name == "" {
			verr.Add("name", "is required")
		}
	}
	if in.Email != nil {
		r.Email = strings.TrimSpace(*in.Email)
		if r.Email != "" {
			if _, err := mail.ParseAddress(r.Email); err != nil {
				verr.Add("email", "must be a valid email address")
			}
		}
	}
	if in.Department != nil {
		r.Department = strings.TrimSpace(*in.Department)
	}
	return verr.Err()
}
