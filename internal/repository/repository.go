package repository

import (
	"context"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
)

// ExperimentRepository persists experiments.
type ExperimentRepository interface {
	CreateExperiment(ctx context.Context, experiment *domain.Experiment) error
	GetExperiment(ctx context.Context, id string) (*domain.Experiment, error)
	UpdateExperiment(ctx context.Context, experiment *domain.Experiment) error
	DeleteExperiment(ctx context.Context, id string) error
	ListExperiments(ctx context.Context, filter ExperimentFilter) ([]domain.Experiment, int, error)
	ListScheduledExperiments(ctx context.Context, filter ScheduleFilter) ([]domain.Experiment, error)
	FindOverlappingExperiments(ctx context.Context, query OverlapQuery) ([]domain.Experiment, error)
	ListActiveExperimentsByResource(ctx context.Context) (map[string][]domain.Experiment, error)
	CountExperimentsByResource(ctx context.Context, resourceID string, statuses []domain.ExperimentStatus) (int, error)
	CountExperimentsByResearcher(ctx context.Context, name string) (int, error)
}

// ResourceRepository persists shared resources.
type ResourceRepository interface {
	CreateResource(ctx context.Context, resource *domain.Resource) error
	GetResource(ctx context.Context, id string) (*domain.Resource, error)
	GetResourceByKey(ctx context.Context, resourceID string) (*domain.Resource, error)
	ListResources(ctx context.Context, filter ResourceFilter) ([]domain.Resource, int, error)
	UpdateResource(ctx context.Context, resource *domain.Resource) error
	// DeleteResource detaches inactive experiments and removes the resource in one
	// transaction. It fails with an *InUseError when active experiments remain.
	DeleteResource(ctx context.Context, id string) (domain.ResourceDeletion, error)
}

// ResearcherRepository persists researchers.
type ResearcherRepository interface {
	CreateResearcher(ctx context.Context, researcher *domain.Researcher) error
	GetResearcher(ctx context.Context, id string) (*domain.Researcher, error)
	ListResearchers(ctx context.Context, filter ResearcherFilter) ([]domain.Researcher, int, error)
	// UpdateResearcher also renames experiment references when the name changes.
	UpdateResearcher(ctx context.Context, researcher *domain.Researcher, previousName string) error
	DeleteResearcher(ctx context.Context, id string) error
}

// LogRepository persists experiment logs.
type LogRepository interface {
	AppendExperimentLog(ctx context.Context, entry *domain.ExperimentLog) error
	ListExperimentLogs(ctx context.Context, filter LogFilter) ([]domain.LogWithExperiment, int, error)
	CountLogLevels(ctx context.Context, filter LogFilter) (map[domain.LogLevel]int, error)
	ListRecentLogs(ctx context.Context, experimentIDs []string, perExperiment int) (map[string][]domain.ExperimentLog, error)
}

// TagRepository persists reusable tags.
type TagRepository interface {
	ListTags(ctx context.Context, category domain.TagCategory) ([]domain.Tag, error)
	CreateTag(ctx context.Context, tag *domain.Tag) error
}

// UserRepository persists allow-list entries.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByGithubUsername(ctx context.Context, username string) (*domain.User, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	UpsertUserAuthorization(ctx context.Context, grant AuthorizationGrant) (*domain.User, error)
	RecordSignIn(ctx context.Context, signIn SignIn) error
}
