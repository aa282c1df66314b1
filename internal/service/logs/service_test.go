package logs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
	"github.com/GarthBrooksFan/experiment-tracker/internal/ws"
)

const experimentID = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"

type memoryLogRepository struct {
	repository.LogRepository
	entries []domain.ExperimentLog
}

func (m *memoryLogRepository) AppendExperimentLog(ctx context.Context, entry *domain.ExperimentLog) error {
	entry.ID = int64(len(m.entries) + 1)
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *memoryLogRepository) ListExperimentLogs(ctx context.Context, filter repository.LogFilter) ([]domain.LogWithExperiment, int, error) {
	out := []domain.LogWithExperiment{}
	for _, e := range m.entries {
		if filter.Level != "" && e.Level != filter.Level {
			continue
		}
		out = append(out, domain.LogWithExperiment{ExperimentLog: e})
	}
	return out, len(out), nil
}

func (m *memoryLogRepository) CountLogLevels(ctx context.Context, filter repository.LogFilter) (map[domain.LogLevel]int, error) {
	counts := map[domain.LogLevel]int{}
	for _, e := range m.entries {
		counts[e.Level]++
	}
	return counts, nil
}

type knownExperiments struct {
	repository.ExperimentRepository
}

func (knownExperiments) GetExperiment(ctx context.Context, id string) (*domain.Experiment, error) {
	if id == experimentID {
		return &domain.Experiment{ID: id}, nil
	}
	return nil, repository.ErrNotFound
}

type channelSubscriber struct {
	once sync.Once
	ch   chan []byte
}

func (c *channelSubscriber) Send(p []byte) error {
	c.ch <- p
	return nil
}

func (c *channelSubscriber) Close() { c.once.Do(func() { close(c.ch) }) }

func newService(repo *memoryLogRepository) Service {
	return New(repo, knownExperiments{}, ws.NewHub(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAppendDefaultsAndBroadcasts(t *testing.T) {
	repo := &memoryLogRepository{}
	svc := newService(repo)
	sub := &channelSubscriber{ch: make(chan []byte, 1)}
	detach, err := svc.Subscribe(context.Background(), experimentID, sub)
	if err != nil {
		t.Fatalf("Subscribe returned error: %v", err)
	}
	defer detach()

	entry, err := svc.Append(context.Background(), experimentID, AppendInput{Message: "  epoch 1 done "})
	if err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	if entry.Level != domain.LogLevelInfo || entry.Message != "epoch 1 done" {
		t.Fatalf("unexpected entry: %+v", entry)
	}
	if entry.Metadata == nil {
		t.Fatalf("metadata should default to an empty object")
	}

	select {
	case payload := <-sub.ch:
		var decoded map[string]any
		if err := json.Unmarshal(payload, &decoded); err != nil {
			t.Fatalf("invalid payload: %v", err)
		}
		if decoded["experimentId"] != experimentID || decoded["message"] != "epoch 1 done" {
			t.Fatalf("unexpected payload: %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast not received")
	}
}

func TestAppendRejectsNonObjectMetadata(t *testing.T) {
	svc := newService(&memoryLogRepository{})
	for _, raw := range []string{`[1,2]`, `"text"`, `42`} {
		_, err := svc.Append(context.Background(), experimentID, AppendInput{Message: "m", Metadata: json.RawMessage(raw)})
		var verr *domain.ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("expected validation error for %s, got %v", raw, err)
		}
	}
	entry, err := svc.Append(context.Background(), experimentID, AppendInput{Message: "m", Level: "success", Metadata: json.RawMessage(`{"loss":0.12}`)})
	if err != nil {
		t.Fatalf("Append returned error: %v", err)
	}
	if entry.Metadata["loss"] != 0.12 {
		t.Fatalf("metadata not decoded: %+v", entry.Metadata)
	}
}

func TestAppendUnknownExperiment(t *testing.T) {
	svc := newService(&memoryLogRepository{})
	_, err := svc.Append(context.Background(), "1a2b3c4d-0000-4000-8000-000000000000", AppendInput{Message: "m"})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListIncludesLevelCounts(t *testing.T) {
	repo := &memoryLogRepository{entries: []domain.ExperimentLog{
		{Level: domain.LogLevelError}, {Level: domain.LogLevelInfo}, {Level: domain.LogLevelError},
	}}
	page, err := newService(repo).List(context.Background(), repository.LogFilter{Level: domain.LogLevelError})
	if err != nil {
		t.Fatalf("List returned error: %v", err)
	}
	if page.Total != 2 || page.LevelCounts[domain.LogLevelError] != 2 || page.LevelCounts[domain.LogLevelInfo] != 1 {
		t.Fatalf("unexpected page: %+v", page)
	}
	if _, err := newService(repo).List(context.Background(), repository.LogFilter{Level: "debug"}); err == nil {
		t.Fatalf("expected invalid level to be rejected")
	}
}
