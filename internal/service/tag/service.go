package tag

import (
	"context"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

// Service manages reusable tags.
type Service struct {
	tags   repository.TagRepository
	logger *slog.Logger
}

// New returns a tag service.
func New(tags repository.TagRepository, logger *slog.Logger) Service {
	return Service{tags: tags, logger: logger}
}

// List returns tags, optionally for one category.
func (s Service) List(ctx context.Context, category string) ([]domain.Tag, error) {
	c := domain.TagCategory(strings.TrimSpace(category))
	if c != "" && !c.Valid() {
		return nil, domain.Invalid("category", "unknown category")
	}
	return s.tags.ListTags(ctx, c)
}

// Create registers a custom tag. Names are normalised to lowercase slugs.
func (s Service) Create(ctx context.Context, name, category string) (*domain.Tag, error) {
	normalized := slug.Make(strings.TrimSpace(name))
	if normalized == "" {
		return nil, domain.Invalid("name", "is required")
	}
	c := domain.TagCategory(strings.TrimSpace(category))
	if c == "" {
		c = domain.TagCategoryCustom
	}
	if !c.Valid() {
		return nil, domain.Invalid("category", "unknown category")
	}
	tag := &domain.Tag{
		ID:        uuid.NewString(),
		Name:      normalized,
		Category:  c,
		IsCustom:  true,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.tags.CreateTag(ctx, tag); err != nil {
		return nil, err
	}
	s.logger.Info("tag created", "tag", tag.Name, "category", tag.Category)
	return tag, nil
}
