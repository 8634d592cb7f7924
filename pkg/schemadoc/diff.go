package schemadoc

import "sort"

// PropertyChange holds both definitions of a property that changed.
type PropertyChange struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Diff is the property-level difference between two schema documents.
type Diff struct {
	Added   map[string]any            `json:"added"`
	Removed []string                  `json:"removed"`
	Changed map[string]PropertyChange `json:"changed"`
}

// IsEmpty reports whether the diff records no change.
func (d Diff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// ComputeDiff compares the "properties" of previous and current. Property
// definitions are compared on their canonical serialized form. Removed
// names are sorted.
func ComputeDiff(previous, current Document) Diff {
	prevProps := Properties(previous)
	currProps := Properties(current)

	diff := Diff{
		Added:   map[string]any{},
		Removed: []string{},
		Changed: map[string]PropertyChange{},
	}

	for name, def := range currProps {
		old, existed := prevProps[name]
		if !existed {
			diff.Added[name] = Clone(def)
			continue
		}
		if !Equal(old, def) {
			diff.Changed[name] = PropertyChange{Old: Clone(old), New: Clone(def)}
		}
	}

	for name := range prevProps {
		if _, still := currProps[name]; !still {
			diff.Removed = append(diff.Removed, name)
		}
	}
	sort.Strings(diff.Removed)

	return diff
}
