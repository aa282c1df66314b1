package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ExperimentStatus tracks the lifecycle of an experiment.
type ExperimentStatus string

const (
	ExperimentStatusPlanned    ExperimentStatus = "planned"
	ExperimentStatusInProgress ExperimentStatus = "in-progress"
	ExperimentStatusCompleted  ExperimentStatus = "completed"
	ExperimentStatusFailed     ExperimentStatus = "failed"
	ExperimentStatusPaused     ExperimentStatus = "paused"
)

// ActiveExperimentStatuses are the statuses that hold a claim on a resource.
var ActiveExperimentStatuses = []ExperimentStatus{ExperimentStatusInProgress, ExperimentStatusPlanned}

// Valid reports whether s is a known status.
func (s ExperimentStatus) Valid() bool {
	switch s {
	case ExperimentStatusPlanned, ExperimentStatusInProgress, ExperimentStatusCompleted, ExperimentStatusFailed, ExperimentStatusPaused:
		return true
	}
	return false
}

// Active reports whether the status counts against resource capacity.
func (s ExperimentStatus) Active() bool {
	return s == ExperimentStatusInProgress || s == ExperimentStatusPlanned
}

// DurationUnit qualifies ExpectedDuration.
type DurationUnit string

const (
	DurationMinutes DurationUnit = "minutes"
	DurationHours   DurationUnit = "hours"
	DurationDays    DurationUnit = "days"
	DurationWeeks   DurationUnit = "weeks"
)

// Valid reports whether u is a known unit.
func (u DurationUnit) Valid() bool {
	switch u {
	case DurationMinutes, DurationHours, DurationDays, DurationWeeks:
		return true
	}
	return false
}

// Priority ranks experiments competing for attention.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	return p == PriorityLow || p == PriorityMedium || p == PriorityHigh
}

// TrainingParams captures the ML training configuration recorded with an experiment.
type TrainingParams struct {
	Task               string
	BatchSize          *int
	EpisodeLength      *int
	LearningRate       *decimal.Decimal
	StepsTrainedFor    *int64
	EpochsTrainedFor   *int64
	EpisodesInDataset  *int64
	TaskHoursInDataset *decimal.Decimal
	FramesInDataset    *int64
	Scoring            string
}

// Experiment is a tracked research trial.
type Experiment struct {
	ID                   string
	Name                 string
	Description          string
	Researcher           string
	Hypothesis           string
	Methodology          string
	ExpectedDuration     string
	DurationUnit         DurationUnit
	Schedule             DateRange
	ResourceID           *string
	Utilization          int
	Status               ExperimentStatus
	Priority             Priority
	DatasetPath          string
	ModelConfig          string
	HardwareRequirements string
	Dependencies         string
	Notes                string
	Training             TrainingParams
	EnableMonitoring     bool
	AutoBackup           bool
	NotifyOnCompletion   bool
	Tags                 Tags
	RecentLogs           []ExperimentLog
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ResourceKey returns the assigned resource key or an empty string.
func (e Experiment) ResourceKey() string {
	if e.ResourceID == nil {
		return ""
	}
	return *e.ResourceID
}
