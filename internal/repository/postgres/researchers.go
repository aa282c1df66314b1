package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

var researcherSortColumns = map[string]string{
	"createdAt":  "r.created_at",
	"name":       "r.name",
	"email":      "r.email",
	"department": "r.department",
}

// researcher rows carry experiment counts joined on name.
const researcherSelect = `SELECT r.id, r.name, COALESCE(r.email, ''), COALESCE(r.department, ''),
		COUNT(e.id) FILTER (WHERE e.status = ANY($1)), COUNT(e.id), r.created_at, r.updated_at
	FROM researchers r
	LEFT JOIN experiments e ON e.researcher = r.name`

const researcherGroup = ` GROUP BY r.id`

func scanResearcher(row pgx.Row) (domain.Researcher, error) {
	var res domain.Researcher
	err := row.Scan(&res.ID, &res.Name, &res.Email, &res.Department,
		&res.ActiveExperiments, &res.TotalExperiments, &res.CreatedAt, &res.UpdatedAt)
	return res, err
}

// CreateResearcher inserts a researcher.
func (r *Repository) CreateResearcher(ctx context.Context, researcher *domain.Researcher) error {
	if researcher == nil {
		return fmt.Errorf("researcher required")
	}
	const query = `INSERT INTO researchers (id, name, email, department, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)`
	_, err := r.pool.Exec(ctx, query,
		researcher.ID,
		researcher.Name,
		nilIfEmpty(researcher.Email),
		nilIfEmpty(researcher.Department),
		researcher.CreatedAt,
	)
	if err != nil {
		return mapError(err)
	}
	researcher.UpdatedAt = researcher.CreatedAt
	return nil
}

// GetResearcher fetches a researcher with experiment counts.
func (r *Repository) GetResearcher(ctx context.Context, id string) (*domain.Researcher, error) {
	query := researcherSelect + ` WHERE r.id = $2` + researcherGroup
	res, err := scanResearcher(r.pool.QueryRow(ctx, query, statusStrings(domain.ActiveExperimentStatuses), id))
	if err != nil {
		return nil, mapError(err)
	}
	return &res, nil
}

// ListResearchers returns one page of researchers and the total match count.
func (r *Repository) ListResearchers(ctx context.Context, filter repository.ResearcherFilter) ([]domain.Researcher, int, error) {
	w := newWhere(statusStrings(domain.ActiveExperimentStatuses))
	if filter.Search != "" {
		w.add(`(r.name ILIKE ? OR r.email ILIKE ? OR r.department ILIKE ?)`, likePattern(filter.Search))
	}

	var total int
	// the count query has no status argument; rebind its predicates from $1.
	count := newWhere()
	if filter.Search != "" {
		count.add(`(r.name ILIKE ? OR r.email ILIKE ? OR r.department ILIKE ?)`, likePattern(filter.Search))
	}
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM researchers r`+count.clause(), count.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	query := researcherSelect + w.clause() + researcherGroup +
		orderBy(researcherSortColumns, filter.Sort, "r.name ASC") + `, r.id`
	query += ` LIMIT ` + w.next(filter.Page.Limit) + ` OFFSET ` + w.next(filter.Page.Offset())
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	researchers := make([]domain.Researcher, 0)
	for rows.Next() {
		res, err := scanResearcher(rows)
		if err != nil {
			return nil, 0, mapError(err)
		}
		researchers = append(researchers, res)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError(err)
	}
	return researchers, total, nil
}

// UpdateResearcher updates a researcher and, when renamed, the experiments that name them.
func (r *Repository) UpdateResearcher(ctx context.Context, researcher *domain.Researcher, previousName string) error {
	if researcher == nil {
		return fmt.Errorf("researcher required")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const query = `UPDATE researchers SET name = $2, email = $3, department = $4, updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`
	err = tx.QueryRow(ctx, query,
		researcher.ID,
		researcher.Name,
		nilIfEmpty(researcher.Email),
		nilIfEmpty(researcher.Department),
	).Scan(&researcher.UpdatedAt)
	if err != nil {
		return mapError(err)
	}
	if previousName != "" && previousName != researcher.Name {
		if _, err := tx.Exec(ctx, `UPDATE experiments SET researcher = $2, updated_at = NOW() WHERE researcher = $1`, previousName, researcher.Name); err != nil {
			return mapError(err)
		}
	}
	return tx.Commit(ctx)
}

// DeleteResearcher removes a researcher row.
func (r *Repository) DeleteResearcher(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM researchers WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}
