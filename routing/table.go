package routing

import "sort"

// Table maps routing group names to their rings.
type Table map[string]Ring

// ScanForUpdates returns the names that are new, changed or removed in next
// compared to current, sorted.
func ScanForUpdates(current, next Table) []string {
	var updated []string
	for name, ring := range next {
		if old, ok := current[name]; !ok || !old.Equal(ring) {
			updated = append(updated, name)
		}
	}

	for name := range current {
		if _, ok := next[name]; !ok {
			updated = append(updated, name)
		}
	}

	sort.Strings(updated)
	return updated
}
