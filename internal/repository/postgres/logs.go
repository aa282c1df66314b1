package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

func encodeMetadata(meta domain.LogMetadata) ([]byte, error) {
	if meta == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(meta)
}

func decodeMetadata(raw []byte) (domain.LogMetadata, error) {
	meta := domain.LogMetadata{}
	if len(raw) == 0 {
		return meta, nil
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

// AppendExperimentLog stores a log entry and fills its identifier and timestamp.
func (r *Repository) AppendExperimentLog(ctx context.Context, entry *domain.ExperimentLog) error {
	if entry == nil {
		return fmt.Errorf("log entry required")
	}
	meta, err := encodeMetadata(entry.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	const query = `INSERT INTO experiment_logs (experiment_id, level, message, metadata, logged_at)
		VALUES ($1, $2, $3, $4, COALESCE($5, NOW()))
		RETURNING id, logged_at`
	var at any
	if !entry.Timestamp.IsZero() {
		at = entry.Timestamp.UTC()
	}
	if err := r.pool.QueryRow(ctx, query, entry.ExperimentID, string(entry.Level), entry.Message, meta, at).
		Scan(&entry.ID, &entry.Timestamp); err != nil {
		return mapError(err)
	}
	return nil
}

func logFilterWhere(filter repository.LogFilter) *where {
	w := newWhere()
	if filter.ExperimentID != "" {
		w.add(`l.experiment_id = ?`, filter.ExperimentID)
	}
	if filter.Level != "" {
		w.add(`l.level = ?`, string(filter.Level))
	}
	if filter.Search != "" {
		w.add(`l.message ILIKE ?`, likePattern(filter.Search))
	}
	return w
}

// ListExperimentLogs returns one page of logs joined with their experiment.
func (r *Repository) ListExperimentLogs(ctx context.Context, filter repository.LogFilter) ([]domain.LogWithExperiment, int, error) {
	w := logFilterWhere(filter)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(1) FROM experiment_logs l`+w.clause(), w.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	dir := "ASC"
	if filter.Desc {
		dir = "DESC"
	}
	query := `SELECT l.id, l.experiment_id, l.level, l.message, l.metadata, l.logged_at,
			e.id, e.name, e.researcher, e.status
		FROM experiment_logs l
		JOIN experiments e ON e.id = l.experiment_id` + w.clause() +
		` ORDER BY l.logged_at ` + dir + `, l.id ` + dir
	query += ` LIMIT ` + w.next(filter.Page.Limit) + ` OFFSET ` + w.next(filter.Page.Offset())
	rows, err := r.pool.Query(ctx, query, w.args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	logs := make([]domain.LogWithExperiment, 0)
	for rows.Next() {
		var (
			entry         domain.LogWithExperiment
			level, status string
			meta          []byte
		)
		if err := rows.Scan(&entry.ID, &entry.ExperimentID, &level, &entry.Message, &meta, &entry.Timestamp,
			&entry.Experiment.ID, &entry.Experiment.Name, &entry.Experiment.Researcher, &status); err != nil {
			return nil, 0, mapError(err)
		}
		entry.Level = domain.LogLevel(level)
		entry.Experiment.Status = domain.ExperimentStatus(status)
		if entry.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, 0, fmt.Errorf("decode metadata: %w", err)
		}
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, mapError(err)
	}
	return logs, total, nil
}

// CountLogLevels counts matching logs per level, ignoring the level filter itself.
func (r *Repository) CountLogLevels(ctx context.Context, filter repository.LogFilter) (map[domain.LogLevel]int, error) {
	filter.Level = ""
	w := logFilterWhere(filter)
	rows, err := r.pool.Query(ctx, `SELECT l.level, COUNT(1) FROM experiment_logs l`+w.clause()+` GROUP BY l.level`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	counts := map[domain.LogLevel]int{
		domain.LogLevelInfo:    0,
		domain.LogLevelWarning: 0,
		domain.LogLevelError:   0,
		domain.LogLevelSuccess: 0,
	}
	for rows.Next() {
		var (
			level string
			n     int
		)
		if err := rows.Scan(&level, &n); err != nil {
			return nil, mapError(err)
		}
		counts[domain.LogLevel(level)] = n
	}
	return counts, mapError(rows.Err())
}

// ListRecentLogs returns up to perExperiment newest logs for each experiment.
func (r *Repository) ListRecentLogs(ctx context.Context, experimentIDs []string, perExperiment int) (map[string][]domain.ExperimentLog, error) {
	out := make(map[string][]domain.ExperimentLog, len(experimentIDs))
	if len(experimentIDs) == 0 || perExperiment <= 0 {
		return out, nil
	}
	const query = `SELECT id, experiment_id, level, message, metadata, logged_at FROM (
			SELECT l.*, ROW_NUMBER() OVER (PARTITION BY l.experiment_id ORDER BY l.logged_at DESC, l.id DESC) AS rn
			FROM experiment_logs l
			WHERE l.experiment_id = ANY($1::text[]::uuid[])
		) ranked
		WHERE rn <= $2
		ORDER BY experiment_id, logged_at DESC, id DESC`
	rows, err := r.pool.Query(ctx, query, experimentIDs, perExperiment)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			entry domain.ExperimentLog
			level string
			meta  []byte
		)
		if err := rows.Scan(&entry.ID, &entry.ExperimentID, &level, &entry.Message, &meta, &entry.Timestamp); err != nil {
			return nil, mapError(err)
		}
		entry.Level = domain.LogLevel(level)
		if entry.Metadata, err = decodeMetadata(meta); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		out[entry.ExperimentID] = append(out[entry.ExperimentID], entry)
	}
	return out, mapError(rows.Err())
}
