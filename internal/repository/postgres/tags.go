package postgres

import (
	"context"
	"fmt"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
)

// ListTags returns tags ordered by category then name, optionally restricted to a category.
func (r *Repository) ListTags(ctx context.Context, category domain.TagCategory) ([]domain.Tag, error) {
	w := newWhere()
	if category != "" {
		w.add(`category = ?`, string(category))
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, category, is_custom, created_at FROM tags`+w.clause()+
		` ORDER BY category ASC, name ASC`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	tags := make([]domain.Tag, 0)
	for rows.Next() {
		var (
			tag      domain.Tag
			category string
		)
		if err := rows.Scan(&tag.ID, &tag.Name, &category, &tag.IsCustom, &tag.CreatedAt); err != nil {
			return nil, mapError(err)
		}
		tag.Category = domain.TagCategory(category)
		tags = append(tags, tag)
	}
	return tags, mapError(rows.Err())
}

// CreateTag inserts a tag.
func (r *Repository) CreateTag(ctx context.Context, tag *domain.Tag) error {
	if tag == nil {
		return fmt.Errorf("tag required")
	}
	const query = `INSERT INTO tags (id, name, category, is_custom, created_at) VALUES ($1, $2, $3, $4, $5)`
	_, err := r.pool.Exec(ctx, query, tag.ID, tag.Name, string(tag.Category), tag.IsCustom, tag.CreatedAt)
	return mapError(err)
}
