package resource

import "github.com/GarthBrooksFan/experiment-tracker/internal/domain"

// AvailabilitySummary counts resources by derived state.
type AvailabilitySummary struct {
	Total         int
	Active        int
	Idle          int
	OverAllocated int
}

// Aggregate derives usage for each resource from the active experiments keyed
// by resource key. Persisted status and usage are not consulted.
func Aggregate(resources []domain.Resource, active map[string][]domain.Experiment) ([]domain.ResourceAvailability, AvailabilitySummary) {
	items := make([]domain.ResourceAvailability, 0, len(resources))
	summary := AvailabilitySummary{Total: len(resources)}
	for _, res := range resources {
		experiments := active[res.ResourceID]
		sum := 0
		for _, e := range experiments {
			sum += e.Utilization
		}
		usage := clamp(sum, 0, 100)
		item := domain.ResourceAvailability{
			Resource:          res,
			CalculatedUsage:   usage,
			AvailableCapacity: 100 - usage,
			ActiveExperiments: len(experiments),
			Experiments:       experiments,
			DerivedStatus:     domain.ResourceStatusIdle,
			OverAllocated:     sum > 100,
		}
		if item.Experiments == nil {
			item.Experiments = []domain.Experiment{}
		}
		if sum > 0 {
			item.DerivedStatus = domain.ResourceStatusActive
			summary.Active++
		} else {
			summary.Idle++
		}
		if item.OverAllocated {
			summary.OverAllocated++
		}
		items = append(items, item)
	}
	return items, summary
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
