package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

const resourceColumns = `id, resource_id, name, type, COALESCE(description, ''), COALESCE(location, ''),
	total_units, status, current_usage, created_at, updated_at`

var resourceSortColumns = map[string]string{
	"createdAt":    "created_at",
	"name":         "name",
	"type":         "type",
	"status":       "status",
	"resourceId":   "resource_id",
	"currentUsage": "current_usage",
}

func scanResource(row pgx.Row) (domain.Resource, error) {
	var (
		res    domain.Resource
		status string
	)
	if err := row.Scan(&res.ID, &res.ResourceID, &res.Name, &res.Type, &res.Description, &res.Location,
		&res.TotalUnits, &status, &res.CurrentUsage, &res.CreatedAt, &res.UpdatedAt); err != nil {
		return domain.Resource{}, err
	}
	res.Status = domain.ResourceStatus(status)
	return res, nil
}

// CreateResource inserts a resource.
func (r *Repository) CreateResource(ctx context.Context, resource *domain.Resource) error {
	if resource == nil {
		return fmt.Errorf("resource required")
	}
	const query = `INSERT INTO resources (id, resource_id, name, type, description, location, total_units, status, current_usage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)`
	_, err := r.pool.Exec(ctx, query,
		resource.ID,
		resource.ResourceID,
		resource.Name,
		resource.Type,
		nilIfEmpty(resource.Description),
		nilIfEmpty(resource.Location),
		resource.TotalUnits,
		string(resource.Status),
		resource.CurrentUsage,
		resource.CreatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	resource.UpdatedAt = resource.CreatedAt
	return nil
}

// GetResource fetches a resource by primary key.
func (r *Repository) GetResource(ctx context.Context, id string) (*domain.Resource, error) {
	res, err := scanResource(r.pool.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1`, id))
	if err != nil {
		return nil, mapError(err)
	}
	return &res, nil
}

// GetResourceByKey fetches a resource by its human-readable key.
func (r *Repository) GetResourceByKey(ctx context.Context, resourceID string) (*domain.Resource, error) {
	res, err := scanResource(r.pool.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE resource_id = $1`, resourceID))
	if err != nil {
		return nil, mapError(err)
	}
	return &res, nil
}

// ListResources returns one page of resources and the total match count.
func (r *Repository) ListResources(ctx context.Context, filter repository.ResourceFilter) ([]domain.Resource, int, error) {
	w := newWhere()
	if filter.Search != "" {
		w.add(`(name ILIKE ? OR resource_id ILIKE ? OR type ILIKE ? OR location ILIKE ?)`, likePattern(filter.Search))
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM resources`+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	query := `SELECT ` + resourceColumns + ` FROM resources` + w.clause() +
		orderBy(resourceSortColumns, filter.Sort, "type ASC, name ASC") + `, id`
	query += ` LIMIT ` + w.next(filter.Page.Limit) + ` OFFSET ` + w.next(filter.Page.Offset())
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	resources := make([]domain.Resource, 0)
	for rows.Next() {
		res, err := scanResource(rows)
		if err != nil {
			return nil, 0, mapError(err)
		}
		resources = append(resources, res)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError(err)
	}
	return resources, total, nil
}

// UpdateResource replaces the mutable fields of a resource. A changed key
// cascades to referencing experiments.
func (r *Repository) UpdateResource(ctx context.Context, resource *domain.Resource) error {
	if resource == nil {
		return fmt.Errorf("resource required")
	}
	const query = `UPDATE resources SET resource_id = $2, name = $3, type = $4, description = $5, location = $6,
			total_units = $7, status = $8, current_usage = $9, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query,
		resource.ID,
		resource.ResourceID,
		resource.Name,
		resource.Type,
		nilIfEmpty(resource.Description),
		nilIfEmpty(resource.Location),
		resource.TotalUnits,
		string(resource.Status),
		resource.CurrentUsage,
	).Scan(&resource.UpdatedAt)
	return mapError(err)
}

// DeleteResource removes a resource once no active experiment holds it.
// Inactive experiments are detached in the same transaction.
func (r *Repository) DeleteResource(ctx context.Context, id string) (domain.ResourceDeletion, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.ResourceDeletion{}, err
	}
	defer tx.Rollback(ctx)

	res, err := scanResource(tx.QueryRow(ctx, `SELECT `+resourceColumns+` FROM resources WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return domain.ResourceDeletion{}, mapError(err)
	}

	var active, total int
	const countQuery = `SELECT COUNT(1) FILTER (WHERE status = ANY($2)), COUNT(1) FROM experiments WHERE resource_id = $1`
	if err := tx.QueryRow(ctx, countQuery, res.ResourceID, statusStrings(domain.ActiveExperimentStatuses)).Scan(&active, &total); err != nil {
		return domain.ResourceDeletion{}, mapError(err)
	}
	if active > 0 {
		return domain.ResourceDeletion{}, &repository.InUseError{Count: active}
	}

	if _, err := tx.Exec(ctx, `UPDATE experiments SET resource_id = NULL, updated_at = NOW() WHERE resource_id = $1`, res.ResourceID); err != nil {
		return domain.ResourceDeletion{}, mapError(err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM resources WHERE id = $1`, id); err != nil {
		if mapped := mapError(err); errors.Is(mapped, repository.ErrInvalidReference) {
			return domain.ResourceDeletion{}, &repository.InUseError{Count: total}
		}
		return domain.ResourceDeletion{}, mapError(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.ResourceDeletion{}, err
	}
	return domain.ResourceDeletion{Resource: res, TotalExperiments: total}, nil
}
