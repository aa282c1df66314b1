package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

const experimentColumns = `e.id, e.name, COALESCE(e.description, ''), e.researcher, COALESCE(e.hypothesis, ''),
	COALESCE(e.methodology, ''), COALESCE(e.expected_duration, ''), e.duration_unit, e.start_date, e.end_date,
	e.resource_id, e.resource_utilization, e.status, e.priority, COALESCE(e.dataset_path, ''),
	COALESCE(e.model_config, ''), COALESCE(e.hardware_requirements, ''), COALESCE(e.dependencies, ''),
	COALESCE(e.notes, ''), COALESCE(e.training_task, ''), e.training_batch_size, e.episode_length,
	e.learning_rate::text, e.steps_trained_for, e.epochs_trained_for, e.episodes_in_dataset,
	e.task_hours_in_dataset::text, e.frames_in_dataset, COALESCE(e.scoring, ''), e.enable_monitoring,
	e.auto_backup, e.notify_on_completion, e.tags, e.created_at, e.updated_at`

// effective interval of an experiment; a single date occupies one day.
const (
	experimentStartExpr = `COALESCE(e.start_date, e.end_date)`
	experimentEndExpr   = `COALESCE(e.end_date, e.start_date)`
)

var experimentSortColumns = map[string]string{
	"createdAt":           "e.created_at",
	"updatedAt":           "e.updated_at",
	"name":                "e.name",
	"status":              "e.status",
	"researcher":          "e.researcher",
	"priority":            "e.priority",
	"startDate":           "e.start_date",
	"endDate":             "e.end_date",
	"date":                "e.start_date",
	"resourceUtilization": "e.resource_utilization",
}

func scanExperiment(row pgx.Row) (domain.Experiment, error) {
	var (
		e                          domain.Experiment
		durationUnit, status, prio string
		learningRate, taskHours    *string
		tags                       []string
	)
	err := row.Scan(
		&e.ID, &e.Name, &e.Description, &e.Researcher, &e.Hypothesis,
		&e.Methodology, &e.ExpectedDuration, &durationUnit, &e.Schedule.Start, &e.Schedule.End,
		&e.ResourceID, &e.Utilization, &status, &prio, &e.DatasetPath,
		&e.ModelConfig, &e.HardwareRequirements, &e.Dependencies,
		&e.Notes, &e.Training.Task, &e.Training.BatchSize, &e.Training.EpisodeLength,
		&learningRate, &e.Training.StepsTrainedFor, &e.Training.EpochsTrainedFor, &e.Training.EpisodesInDataset,
		&taskHours, &e.Training.FramesInDataset, &e.Training.Scoring, &e.EnableMonitoring,
		&e.AutoBackup, &e.NotifyOnCompletion, &tags, &e.CreatedAt, &e.UpdatedAt,
	)
	if err != nil {
		return domain.Experiment{}, err
	}
	e.DurationUnit = domain.DurationUnit(durationUnit)
	e.Status = domain.ExperimentStatus(status)
	e.Priority = domain.Priority(prio)
	e.Tags = domain.Tags(tags).Clone()
	if e.Training.LearningRate, err = parseDecimal(learningRate); err != nil {
		return domain.Experiment{}, fmt.Errorf("decode learning_rate: %w", err)
	}
	if e.Training.TaskHoursInDataset, err = parseDecimal(taskHours); err != nil {
		return domain.Experiment{}, fmt.Errorf("decode task_hours_in_dataset: %w", err)
	}
	return e, nil
}

func collectExperiments(rows pgx.Rows) ([]domain.Experiment, error) {
	defer rows.Close()
	experiments := make([]domain.Experiment, 0)
	for rows.Next() {
		e, err := scanExperiment(rows)
		if err != nil {
			return nil, err
		}
		experiments = append(experiments, e)
	}
	return experiments, rows.Err()
}

func experimentArgs(e *domain.Experiment) []any {
	return []any{
		e.ID,
		e.Name,
		nilIfEmpty(e.Description),
		e.Researcher,
		nilIfEmpty(e.Hypothesis),
		nilIfEmpty(e.Methodology),
		nilIfEmpty(e.ExpectedDuration),
		string(e.DurationUnit),
		timePtrToNil(e.Schedule.Start),
		timePtrToNil(e.Schedule.End),
		stringPtrToNil(e.ResourceID),
		e.Utilization,
		string(e.Status),
		string(e.Priority),
		nilIfEmpty(e.DatasetPath),
		nilIfEmpty(e.ModelConfig),
		nilIfEmpty(e.HardwareRequirements),
		nilIfEmpty(e.Dependencies),
		nilIfEmpty(e.Notes),
		nilIfEmpty(e.Training.Task),
		intPtrToNil(e.Training.BatchSize),
		intPtrToNil(e.Training.EpisodeLength),
		decimalToNil(e.Training.LearningRate),
		int64PtrToNil(e.Training.StepsTrainedFor),
		int64PtrToNil(e.Training.EpochsTrainedFor),
		int64PtrToNil(e.Training.EpisodesInDataset),
		decimalToNil(e.Training.TaskHoursInDataset),
		int64PtrToNil(e.Training.FramesInDataset),
		nilIfEmpty(e.Training.Scoring),
		e.EnableMonitoring,
		e.AutoBackup,
		e.NotifyOnCompletion,
		[]string(e.Tags.Clone()),
	}
}

// CreateExperiment inserts an experiment.
func (r *Repository) CreateExperiment(ctx context.Context, experiment *domain.Experiment) error {
	if experiment == nil {
		return fmt.Errorf("experiment required")
	}
	const query = `INSERT INTO experiments (id, name, description, researcher, hypothesis, methodology,
		expected_duration, duration_unit, start_date, end_date, resource_id, resource_utilization, status, priority,
		dataset_path, model_config, hardware_requirements, dependencies, notes, training_task, training_batch_size,
		episode_length, learning_rate, steps_trained_for, epochs_trained_for, episodes_in_dataset,
		task_hours_in_dataset, frames_in_dataset, scoring, enable_monitoring, auto_backup, notify_on_completion,
		tags, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21,
		$22, $23::text::numeric, $24, $25, $26, $27::text::numeric, $28, $29, $30, $31, $32, $33, $34, $34)`
	args := append(experimentArgs(experiment), experiment.CreatedAt)
	if _, err := r.pool.Exec(ctx, query, args...); err != nil {
		return mapError(err)
	}
	experiment.UpdatedAt = experiment.CreatedAt
	return nil
}

// GetExperiment fetches an experiment by identifier.
func (r *Repository) GetExperiment(ctx context.Context, id string) (*domain.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments e WHERE e.id = $1`
	e, err := scanExperiment(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, mapError(err)
	}
	return &e, nil
}

// UpdateExperiment replaces the mutable fields of an experiment.
func (r *Repository) UpdateExperiment(ctx context.Context, experiment *domain.Experiment) error {
	if experiment == nil {
		return fmt.Errorf("experiment required")
	}
	const query = `UPDATE experiments SET
			name = $2, description = $3, researcher = $4, hypothesis = $5, methodology = $6,
			expected_duration = $7, duration_unit = $8, start_date = $9, end_date = $10, resource_id = $11,
			resource_utilization = $12, status = $13, priority = $14, dataset_path = $15, model_config = $16,
			hardware_requirements = $17, dependencies = $18, notes = $19, training_task = $20,
			training_batch_size = $21, episode_length = $22, learning_rate = $23::text::numeric,
			steps_trained_for = $24, epochs_trained_for = $25, episodes_in_dataset = $26,
			task_hours_in_dataset = $27::text::numeric, frames_in_dataset = $28, scoring = $29,
			enable_monitoring = $30, auto_backup = $31, notify_on_completion = $32, tags = $33,
			updated_at = NOW()
		WHERE id = $1 RETURNING updated_at`
	var updatedAt time.Time
	if err := r.pool.QueryRow(ctx, query, experimentArgs(experiment)...).Scan(&updatedAt); err != nil {
		return mapError(err)
	}
	experiment.UpdatedAt = updatedAt
	return nil
}

// DeleteExperiment removes an experiment; its logs cascade.
func (r *Repository) DeleteExperiment(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM experiments WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ListExperiments returns one page of experiments and the total match count.
func (r *Repository) ListExperiments(ctx context.Context, filter repository.ExperimentFilter) ([]domain.Experiment, int, error) {
	w := newWhere()
	if filter.Search != "" {
		w.add(`(e.name ILIKE ? OR e.description ILIKE ? OR e.id::text ILIKE ? OR e.researcher ILIKE ?)`, likePattern(filter.Search))
	}
	if filter.Status != "" {
		w.add(`e.status = ?`, string(filter.Status))
	}
	if filter.ResourceID != "" {
		w.add(`e.resource_id = ?`, filter.ResourceID)
	}
	if filter.Researcher != "" {
		w.add(`e.researcher = ?`, filter.Researcher)
	}
	if len(filter.Tags) > 0 {
		w.add(`e.tags && ?::text[]`, filter.Tags)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM experiments e`+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	query := `SELECT ` + experimentColumns + ` FROM experiments e` + w.clause() +
		orderBy(experimentSortColumns, filter.Sort, "e.created_at DESC") + `, e.id`
	query += ` LIMIT ` + w.next(filter.Page.Limit) + ` OFFSET ` + w.next(filter.Page.Offset())
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	experiments, err := collectExperiments(rows)
	if err != nil {
		return nil, 0, mapError(err)
	}
	return experiments, total, nil
}

func addOverlap(w *where, window domain.DateRange) {
	start, end, ok := window.Bounds()
	if !ok {
		return
	}
	s := w.next(start)
	en := w.next(end)
	w.addRaw(`((` + experimentStartExpr + ` BETWEEN ` + s + ` AND ` + en + `)
		OR (` + experimentEndExpr + ` BETWEEN ` + s + ` AND ` + en + `)
		OR (` + experimentStartExpr + ` <= ` + s + ` AND ` + experimentEndExpr + ` >= ` + en + `))`)
}

// ListScheduledExperiments returns dated experiments for the calendar view.
func (r *Repository) ListScheduledExperiments(ctx context.Context, filter repository.ScheduleFilter) ([]domain.Experiment, error) {
	w := newWhere()
	w.addRaw(`(e.start_date IS NOT NULL OR e.end_date IS NOT NULL)`)
	addOverlap(w, filter.Window)
	if filter.ResourceID != "" {
		w.add(`e.resource_id = ?`, filter.ResourceID)
	}
	if len(filter.Tags) > 0 {
		w.add(`e.tags && ?::text[]`, filter.Tags)
	}
	query := `SELECT ` + experimentColumns + ` FROM experiments e` + w.clause() +
		` ORDER BY e.start_date ASC NULLS LAST, e.created_at ASC`
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	experiments, err := collectExperiments(rows)
	return experiments, mapError(err)
}

// FindOverlappingExperiments returns experiments on a resource whose dates overlap the window.
func (r *Repository) FindOverlappingExperiments(ctx context.Context, q repository.OverlapQuery) ([]domain.Experiment, error) {
	if _, _, ok := q.Window.Bounds(); !ok {
		return []domain.Experiment{}, nil
	}
	w := newWhere()
	w.add(`e.resource_id = ?`, q.ResourceID)
	if q.ExcludeID != "" {
		w.add(`e.id::text <> ?`, q.ExcludeID)
	}
	addOverlap(w, q.Window)
	query := `SELECT ` + experimentColumns + ` FROM experiments e` + w.clause() +
		` ORDER BY ` + experimentStartExpr + ` ASC, e.created_at ASC`
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	experiments, err := collectExperiments(rows)
	return experiments, mapError(err)
}

// ListActiveExperimentsByResource groups planned and in-progress experiments by resource key.
func (r *Repository) ListActiveExperimentsByResource(ctx context.Context) (map[string][]domain.Experiment, error) {
	query := `SELECT ` + experimentColumns + ` FROM experiments e
		WHERE e.resource_id IS NOT NULL AND e.status = ANY($1)
		ORDER BY e.resource_id, e.start_date ASC NULLS LAST, e.created_at ASC`
	rows, err := r.pool.Query(ctx, query, statusStrings(domain.ActiveExperimentStatuses))
	if err != nil {
		return nil, mapError(err)
	}
	experiments, err := collectExperiments(rows)
	if err != nil {
		return nil, mapError(err)
	}
	grouped := make(map[string][]domain.Experiment)
	for _, e := range experiments {
		key := e.ResourceKey()
		grouped[key] = append(grouped[key], e)
	}
	return grouped, nil
}

// CountExperimentsByResource counts experiments on a resource, optionally restricted to statuses.
func (r *Repository) CountExperimentsByResource(ctx context.Context, resourceID string, statuses []domain.ExperimentStatus) (int, error) {
	w := newWhere()
	w.add(`resource_id = ?`, resourceID)
	if len(statuses) > 0 {
		w.add(`status = ANY(?)`, statusStrings(statuses))
	}
	var count int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM experiments`+w.clause(), w.args...).Scan(&count); err != nil {
		return 0, mapError(err)
	}
	return count, nil
}

// CountExperimentsByResearcher counts experiments naming the researcher.
func (r *Repository) CountExperimentsByResearcher(ctx context.Context, name string) (int, error) {
	const query = `SELECT COUNT(1) FROM experiments WHERE researcher = $1`
	var count int
	if err := r.pool.QueryRow(ctx, query, name).Scan(&count); err != nil {
		return 0, mapError(err)
	}
	return count, nil
}
