package domain

import (
	"sort"
	"time"
)

// TagCategory groups predefined tags.
type TagCategory string

const (
	TagCategoryExperimentType       TagCategory = "experiment-type"
	TagCategoryHardwareRequirements TagCategory = "hardware-requirements"
	TagCategoryResearchDomain       TagCategory = "research-domain"
	TagCategoryScale                TagCategory = "scale"
	TagCategoryCustom               TagCategory = "custom"
)

// Valid reports whether c is a known category.
func (c TagCategory) Valid() bool {
	switch c {
	case TagCategoryExperimentType, TagCategoryHardwareRequirements, TagCategoryResearchDomain, TagCategoryScale, TagCategoryCustom:
		return true
	}
	return false
}

// Tag is a reusable label.
type Tag struct {
	ID        string
	Name      string
	Category  TagCategory
	IsCustom  bool
	CreatedAt time.Time
}

// Tags is the ordered list of labels attached to an experiment.
type Tags []string

// Clone returns an independent copy that is never nil.
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	copy(out, t)
	return out
}

// SameSet reports whether t and other hold the same labels with the same
// multiplicity, ignoring order.
func (t Tags) SameSet(other Tags) bool {
	if len(t) != len(other) {
		return false
	}
	a := append([]string(nil), t...)
	b := append([]string(nil), other...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
