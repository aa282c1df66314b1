package domain

import "time"

// ResourceStatus is the persisted operational state of a resource.
type ResourceStatus string

const (
	ResourceStatusActive      ResourceStatus = "active"
	ResourceStatusIdle        ResourceStatus = "idle"
	ResourceStatusMaintenance ResourceStatus = "maintenance"
)

// Valid reports whether s is a known status.
func (s ResourceStatus) Valid() bool {
	return s == ResourceStatusActive || s == ResourceStatusIdle || s == ResourceStatusMaintenance
}

// Resource is a shared compute, lab or storage asset.
type Resource struct {
	ID           string
	ResourceID   string
	Name         string
	Type         string
	Description  string
	Location     string
	TotalUnits   string
	Status       ResourceStatus
	CurrentUsage int
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ResourceAvailability is a resource annotated with the load placed on it by
// active experiments.
type ResourceAvailability struct {
	Resource          Resource
	CalculatedUsage   int
	AvailableCapacity int
	ActiveExperiments int
	Experiments       []Experiment
	DerivedStatus     ResourceStatus
	OverAllocated     bool
}

// ResourceDeletion summarises a completed resource deletion.
type ResourceDeletion struct {
	Resource         Resource
	TotalExperiments int
}
