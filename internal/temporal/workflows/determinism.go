package workflows

import (
	"cmp"
	"slices"
)

// SortedMapKeys returns the keys of m in ascending order. Workflow code must
// never range over a map directly: iteration order differs between replays.
func SortedMapKeys[K cmp.Ordered, V any](m map[K]V) []K {
	keys := make([]K, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
