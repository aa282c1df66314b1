package domain

import "time"

// LogLevel classifies an experiment log entry.
type LogLevel string

const (
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
	LogLevelSuccess LogLevel = "success"
)

// Valid reports whether l is a known level.
func (l LogLevel) Valid() bool {
	switch l {
	case LogLevelInfo, LogLevelWarning, LogLevelError, LogLevelSuccess:
		return true
	}
	return false
}

// LogMetadata is the structured payload attached to a log entry.
type LogMetadata map[string]any

// ExperimentLog is an append-only progress entry owned by an experiment.
type ExperimentLog struct {
	ID           int64
	ExperimentID string
	Level        LogLevel
	Message      string
	Metadata     LogMetadata
	Timestamp    time.Time
}

// ExperimentRef is the slim experiment view embedded in cross-experiment log listings.
type ExperimentRef struct {
	ID         string
	Name       string
	Researcher string
	Status     ExperimentStatus
}

// LogWithExperiment pairs a log entry with its owning experiment.
type LogWithExperiment struct {
	ExperimentLog
	Experiment ExperimentRef
}
