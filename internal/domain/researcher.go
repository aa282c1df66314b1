package domain

import "time"

// Researcher is a person who runs experiments.
type Researcher struct {
	ID                string
	Name              string
	Email             string
	Department        string
	ActiveExperiments int
	TotalExperiments  int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
