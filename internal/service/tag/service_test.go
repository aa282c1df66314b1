package tag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

type memoryTags struct {
	tags []domain.Tag
}

func (m *memoryTags) ListTags(ctx context.Context, category domain.TagCategory) ([]domain.Tag, error) {
	out := []domain.Tag{}
	for _, t := range m.tags {
		if category == "" || t.Category == category {
			out = append(out, t)
		}
	}
	return out, nil
}

func (m *memoryTags) CreateTag(ctx context.Context, tag *domain.Tag) error {
	for _, t := range m.tags {
		if t.Name == tag.Name {
			return repository.ErrConflict
		}
	}
	m.tags = append(m.tags, *tag)
	return nil
}

func TestCreateNormalisesName(t *testing.T) {
	repo := &memoryTags{}
	svc := New(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tag, err := svc.Create(context.Background(), "  Sim To Real ", "")
	if err != nil {
		t.Fatalf("Create returned error: %v", err)
	}
	if tag.Name != "sim-to-real" || tag.Category != domain.TagCategoryCustom || !tag.IsCustom {
		t.Fatalf("unexpected tag: %+v", tag)
	}

	if _, err := svc.Create(context.Background(), "sim to real", ""); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	_, err = svc.Create(context.Background(), "   ", "")
	var verr *domain.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestListFiltersCategory(t *testing.T) {
	repo := &memoryTags{tags: []domain.Tag{
		{Name: "robotics", Category: domain.TagCategoryExperimentType},
		{Name: "gpu-intensive", Category: domain.TagCategoryHardwareRequirements},
	}}
	svc := New(repo, slog.New(slog.NewTextHandler(io.Discard, nil)))

	tags, err := svc.List(context.Background(), "experiment-type")
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if len(tags) != 1 || tags[0].Name != "robotics" {
		t.Fatalf("unexpected tags: %+v", tags)
	}

	if _, err := svc.List(context.Background(), "colour"); err == nil {
		t.Fatalf("expected error for unknown category")
	}
}
