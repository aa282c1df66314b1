package postgres

import (
	"context"
	"io"
	"log/slog"
	"math"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GarthBrooksFan/experiment-tracker/internal/app/migrate"
	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
	"github.com/GarthBrooksFan/experiment-tracker/internal/repository"
)

// openTestRepository connects to DATABASE_URL and applies the schema. Tests
// using it are skipped when no database is configured.
func openTestRepository(t *testing.T) *Repository {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	runner, err := migrate.New(pool, "../../../db/migrations", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	_, err = runner.Ensure(ctx)
	require.NoError(t, err)
	return New(pool)
}

func createTestResource(t *testing.T, repo *Repository) domain.Resource {
	t.Helper()
	res := domain.Resource{
		ID:         uuid.NewString(),
		ResourceID: "it-" + uuid.NewString(),
		Name:       "Integration GPU",
		Type:       "compute",
		TotalUnits: "8",
		Status:     domain.ResourceStatusActive,
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.CreateResource(context.Background(), &res))
	t.Cleanup(func() {
		_, _ = repo.pool.Exec(context.Background(), `DELETE FROM experiments WHERE resource_id = $1`, res.ResourceID)
		_, _ = repo.pool.Exec(context.Background(), `DELETE FROM resources WHERE id = $1`, res.ID)
	})
	return res
}

func createTestExperiment(t *testing.T, repo *Repository, resourceKey string, start, end time.Time, utilization int, tags ...string) domain.Experiment {
	t.Helper()
	e := domain.Experiment{
		ID:           uuid.NewString(),
		Name:         "Integration run",
		Researcher:   "Ada",
		DurationUnit: domain.DurationHours,
		Schedule:     domain.DateRange{Start: domain.DatePtr(start), End: domain.DatePtr(end)},
		ResourceID:   &resourceKey,
		Utilization:  utilization,
		Status:       domain.ExperimentStatusPlanned,
		Priority:     domain.PriorityMedium,
		Tags:         domain.Tags(tags),
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, repo.CreateExperiment(context.Background(), &e))
	t.Cleanup(func() {
		_, _ = repo.pool.Exec(context.Background(), `DELETE FROM experiments WHERE id = $1`, e.ID)
	})
	return e
}

func experimentIDs(experiments []domain.Experiment) []string {
	ids := make([]string, 0, len(experiments))
	for _, e := range experiments {
		ids = append(ids, e.ID)
	}
	return ids
}

func TestIntegrationOverlapQuery(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()
	res := createTestResource(t, repo)
	day := time.Date(2031, 6, 10, 0, 0, 0, 0, time.UTC)

	sameDay := createTestExperiment(t, repo, res.ResourceID, day, day, 60)
	before := createTestExperiment(t, repo, res.ResourceID, day.AddDate(0, 0, -3), day.AddDate(0, 0, -1), 20)
	spanning := createTestExperiment(t, repo, res.ResourceID, day.AddDate(0, 0, -5), day.AddDate(0, 0, 5), 10)

	found, err := repo.FindOverlappingExperiments(ctx, repository.OverlapQuery{
		ResourceID: res.ResourceID,
		Window:     domain.DateRange{Start: domain.DatePtr(day), End: domain.DatePtr(day)},
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{sameDay.ID, spanning.ID}, experimentIDs(found))

	// Querying from the spanning experiment's range finds the others in return.
	found, err = repo.FindOverlappingExperiments(ctx, repository.OverlapQuery{
		ResourceID: res.ResourceID,
		Window:     spanning.Schedule,
		ExcludeID:  spanning.ID,
	})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{sameDay.ID, before.ID}, experimentIDs(found))

	found, err = repo.FindOverlappingExperiments(ctx, repository.OverlapQuery{
		ResourceID: res.ResourceID,
		Window:     domain.DateRange{Start: domain.DatePtr(day.AddDate(0, 0, 6)), End: domain.DatePtr(day.AddDate(0, 0, 8))},
	})
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestIntegrationTagsRoundTrip(t *testing.T) {
	repo := openTestRepository(t)
	res := createTestResource(t, repo)
	day := time.Date(2031, 7, 1, 0, 0, 0, 0, time.UTC)

	created := createTestExperiment(t, repo, res.ResourceID, day, day, 10, "robotics", "vision", "robotics")
	got, err := repo.GetExperiment(context.Background(), created.ID)
	require.NoError(t, err)
	assert.True(t, got.Tags.SameSet(domain.Tags{"vision", "robotics", "robotics"}), "tags: %v", got.Tags)
}

func TestIntegrationDeleteResourceInUseKeepsResource(t *testing.T) {
	repo := openTestRepository(t)
	ctx := context.Background()
	res := createTestResource(t, repo)
	day := time.Date(2031, 8, 1, 0, 0, 0, 0, time.UTC)
	exp := createTestExperiment(t, repo, res.ResourceID, day, day, 40)

	_, err := repo.DeleteResource(ctx, res.ID)
	var inUse *repository.InUseError
	require.ErrorAs(t, err, &inUse)
	assert.Equal(t, 1, inUse.Count)

	kept, err := repo.GetResource(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, res.ResourceID, kept.ResourceID)

	exp.Status = domain.ExperimentStatusCompleted
	require.NoError(t, repo.UpdateExperiment(ctx, &exp))

	deletion, err := repo.DeleteResource(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, deletion.TotalExperiments)

	_, err = repo.GetResource(ctx, res.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	detached, err := repo.GetExperiment(ctx, exp.ID)
	require.NoError(t, err)
	assert.Nil(t, detached.ResourceID)
}

func TestIntegrationListSaturatesHugePage(t *testing.T) {
	repo := openTestRepository(t)

	experiments, _, err := repo.ListExperiments(context.Background(), repository.ExperimentFilter{
		Page: repository.Page{Number: math.MaxInt, Limit: 50},
	})
	require.NoError(t, err)
	assert.Empty(t, experiments)
}
