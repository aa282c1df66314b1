package repository

import (
	"math"
	"time"

	"github.com/GarthBrooksFan/experiment-tracker/internal/domain"
)

// Page selects a window of a sorted result set.
type Page struct {
	Number int
	Limit  int
}

// MaxOffset bounds the rows a page may skip.
const MaxOffset = math.MaxInt32

// Offset returns the number of rows to skip, saturating at MaxOffset.
func (p Page) Offset() int {
	if p.Number <= 1 || p.Limit <= 0 {
		return 0
	}
	if p.Number-1 > MaxOffset/p.Limit {
		return MaxOffset
	}
	return (p.Number - 1) * p.Limit
}

// Sort names a whitelisted column key and direction.
type Sort struct {
	Key  string
	Desc bool
}

// ExperimentFilter narrows experiment listings.
type ExperimentFilter struct {
	Search     string
	Status     domain.ExperimentStatus
	ResourceID string
	Researcher string
	Tags       []string
	Sort       Sort
	Page       Page
}

// ScheduleFilter narrows the calendar view.
type ScheduleFilter struct {
	Window     domain.DateRange
	ResourceID string
	Tags       []string
}

// OverlapQuery selects experiments on a resource overlapping a window.
type OverlapQuery struct {
	ResourceID string
	Window     domain.DateRange
	ExcludeID  string
}

// ResourceFilter narrows resource listings.
type ResourceFilter struct {
	Search string
	Sort   Sort
	Page   Page
}

// ResearcherFilter narrows researcher listings.
type ResearcherFilter struct {
	Search string
	Sort   Sort
	Page   Page
}

// LogFilter narrows experiment log listings.
type LogFilter struct {
	ExperimentID string
	Level        domain.LogLevel
	Search       string
	Desc         bool
	Page         Page
}

// AuthorizationGrant creates or updates an allow-list row keyed by GitHub
// username or, when that is empty, by email.
type AuthorizationGrant struct {
	NewID          string
	GithubUsername string
	Email          string
	Name           string
	Authorize      bool
	Admin          *bool
	At             time.Time
}

// SignIn records a successful sign-in.
type SignIn struct {
	UserID string
	Name   string
	Email  string
	At     time.Time
}

// Sort keys accepted by each listing.
var (
	ExperimentSortKeys = []string{"createdAt", "updatedAt", "name", "status", "researcher", "priority", "startDate", "endDate", "date", "resourceUtilization"}
	ResourceSortKeys   = []string{"createdAt", "name", "type", "status", "resourceId", "currentUsage"}
	ResearcherSortKeys = []string{"createdAt", "name", "email", "department"}
)
