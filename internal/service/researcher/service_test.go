package researcher

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

const researcherID = "2b8e3a1c-4d5f-4e6a-9b7c-8d9e0f1a2b3c"

type stubResearcherRepository struct {
	repository.ResearcherRepository
	byID         map[string]domain.Researcher
	previousName string
	deleted      []string
}

func (s *stubResearcherRepository) GetResearcher(ctx context.Context, id string) (*domain.Researcher, error) {
	if r, ok := s.byID[id]; ok {
		return &r, nil
	}
	return nil, repository.ErrNotFound
}

func (s *stubResearcherRepository) UpdateResearcher(ctx context.Context, r *domain.Researcher, previousName string) error {
	s.previousName = previousName
	s.byID[r.ID] = *r
	return nil
}

func (s *stubResearcherRepository) DeleteResearcher(ctx context.Context, id string) error {
	s.deleted = append(s.deleted, id)
	return nil
}

type countingExperiments struct {
	repository.ExperimentRepository
	counts map[string]int
}

func (c countingExperiments) CountExperimentsByResearcher(ctx context.Context, name string) (int, error) {
	return c.counts[name], nil
}

func newService(repo *stubResearcherRepository, counts map[string]int) Service {
	return New(repo, countingExperiments{counts: counts}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestUpdatePassesPreviousNameForRename(t *testing.T) {
	repo := &stubResearcherRepository{byID: map[string]domain.Researcher{researcherID: {ID: researcherID, Name: "Ada"}}}
	name := "Ada Lovelace"

	r, err := newService(repo, nil).Update(context.Background(), researcherID, Input{Name: &name})
	if err != nil {
		t.Fatalf("Update returned error: %v", err)
	}
	if r.Name != name || repo.previousName != "Ada" {
		t.Fatalf("unexpected rename: name=%q previous=%q", r.Name, repo.previousName)
	}
}

func TestDeleteBlockedByExperiments(t *testing.T) {
	repo := &stubResearcherRepository{byID: map[string]domain.Researcher{researcherID: {ID: researcherID, Name: "Ada"}}}

	_, err := newService(repo, map[string]int{"Ada": 4}).Delete(context.Background(), researcherID)
	var blocked *HasExperimentsError
	if !errors.As(err, &blocked) || blocked.ExperimentCount != 4 {
		t.Fatalf("expected HasExperimentsError with 4, got %v", err)
	}
	if !errors.Is(err, ErrHasExperiments) {
		t.Fatalf("expected ErrHasExperiments, got %v", err)
	}
	if len(repo.deleted) != 0 {
		t.Fatalf("researcher must survive")
	}

	if _, err := newService(repo, nil).Delete(context.Background(), researcherID); err != nil {
		t.Fatalf("Delete returned error: %v", err)
	}
	if len(repo.deleted) != 1 {
		t.Fatalf("expected deletion")
	}
}

func TestCreateValidation(t *testing.T) {
	email := "not-an-email"
	_, err := newService(&stubResearcherRepository{}, nil).Create(context.Background(), Input{Email: &email})
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 2 {
		t.Fatalf("expected name and email errors, got %v", err)
	}
}

func TestGetMalformedIDIsNotFound(t *testing.T) {
	if _, err := newService(&stubResearcherRepository{}, nil).Get(context.Background(), "ada"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
