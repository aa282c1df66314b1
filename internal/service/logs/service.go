package logs

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"time"

	"log/slog"

	"github.com/google/uuid"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
	"github.com/GarthBrooksFan/experiment-tracker/internal/ws"
)

// AppendInput describes a new log entry. Metadata must be a JSON object when present.
type AppendInput struct {
	Level    string
	Message  string
	Metadata json.RawMessage
}

// Page is one page of log entries plus per-level totals for the whole filter.
type Page struct {
	Logs        []domain.LogWithExperiment
	Total       int
	LevelCounts map[domain.LogLevel]int
}

// Service handles log persistence and streaming.
type Service struct {
	repo        repository.LogRepository
	experiments repository.ExperimentRepository
	hub         *ws.Hub
	logger      *slog.Logger
}

// New constructs a log service.
func New(repo repository.LogRepository, experiments repository.ExperimentRepository, hub *ws.Hub, logger *slog.Logger) Service {
	return Service{repo: repo, experiments: experiments, hub: hub, logger: logger}
}

// Append stores a log entry on an existing experiment and broadcasts it.
func (s Service) Append(ctx context.Context, experimentID string, input AppendInput) (*domain.ExperimentLog, error) {
	experimentID, err := s.requireExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	verr := &domain.ValidationError{}
	message := strings.TrimSpace(input.Message)
	if message == "" {
		verr.Add("message", "is required")
	}
	level := domain.LogLevelInfo
	if strings.TrimSpace(input.Level) != "" {
		level = domain.LogLevel(strings.TrimSpace(input.Level))
		if !level.Valid() {
			verr.Add("level", "must be one of info, warning, error, success")
		}
	}
	metadata, ok := decodeMetadata(input.Metadata)
	if !ok {
		verr.Add("metadata", "must be a JSON object")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	entry := &domain.ExperimentLog{
		ExperimentID: experimentID,
		Level:        level,
		Message:      message,
		Metadata:     metadata,
		Timestamp:    time.Now().UTC(),
	}
	if err := s.repo.AppendExperimentLog(ctx, entry); err != nil {
		return nil, err
	}
	s.broadcast(*entry)
	return entry, nil
}

// ListForExperiment returns one page of an experiment's logs.
func (s Service) ListForExperiment(ctx context.Context, filter repository.LogFilter) ([]domain.LogWithExperiment, int, error) {
	id, err := s.requireExperiment(ctx, filter.ExperimentID)
	if err != nil {
		return nil, 0, err
	}
	filter.ExperimentID = id
	if filter.Level != "" && !filter.Level.Valid() {
		return nil, 0, domain.Invalid("level", "must be one of info, warning, error, success")
	}
	return s.repo.ListExperimentLogs(ctx, filter)
}

// List returns logs across experiments with per-level counts.
func (s Service) List(ctx context.Context, filter repository.LogFilter) (Page, error) {
	if filter.Level != "" && !filter.Level.Valid() {
		return Page{}, domain.Invalid("level", "must be one of info, warning, error, success")
	}
	if filter.ExperimentID != "" {
		if _, err := uuid.Parse(filter.ExperimentID); err != nil {
			return Page{}, domain.Invalid("experimentId", "must be a valid id")
		}
	}
	entries, total, err := s.repo.ListExperimentLogs(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	counts, err := s.repo.CountLogLevels(ctx, filter)
	if err != nil {
		return Page{}, err
	}
	return Page{Logs: entries, Total: total, LevelCounts: counts}, nil
}

// Subscribe attaches a streaming client to an experiment after checking it exists.
// The returned function detaches it.
func (s Service) Subscribe(ctx context.Context, experimentID string, client ws.Subscriber) (func(), error) {
	id, err := s.requireExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	s.hub.Register(id, client)
	return func() { s.hub.Unregister(id, client) }, nil
}

func (s Service) requireExperiment(ctx context.Context, id string) (string, error) {
	id = strings.TrimSpace(id)
	if _, err := uuid.Parse(id); err != nil {
		return "", repository.ErrNotFound
	}
	if _, err := s.experiments.GetExperiment(ctx, id); err != nil {
		return "", err
	}
	return id, nil
}

func (s Service) broadcast(entry domain.ExperimentLog) {
	data, err := MarshalEntry(entry)
	if err != nil {
		s.logger.Warn("failed to marshal log payload", "error", err)
		return
	}
	s.hub.Broadcast(entry.ExperimentID, data)
}

// MarshalEntry formats a log entry for streaming payloads.
func MarshalEntry(entry domain.ExperimentLog) ([]byte, error) {
	metadata := entry.Metadata
	if metadata == nil {
		metadata = domain.LogMetadata{}
	}
	payload := map[string]any{
		"id":           entry.ID,
		"experimentId": entry.ExperimentID,
		"level":        entry.Level,
		"message":      entry.Message,
		"metadata":     metadata,
		"timestamp":    entry.Timestamp.Format(time.RFC3339Nano),
	}
	return json.Marshal(payload)
}

func decodeMetadata(raw json.RawMessage) (domain.LogMetadata, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return domain.LogMetadata{}, true
	}
	if trimmed[0] != '{' {
		return nil, false
	}
	meta := domain.LogMetadata{}
	if err := json.Unmarshal(trimmed, &meta); err != nil {
		return nil, false
	}
	return meta, true
}
