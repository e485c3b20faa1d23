package cache

import (
	"fmt"
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Key identifies a cached query result.
type Key struct {
	// Namespace is the query family (e.g., "search", "authors", "collab")
	Namespace string

	// Params are scalar query parameters (e.g., {"year_min": "2020"})
	Params map[string]string

	// IDs is an identifier set the result depends on. Order and duplicates
	// do not matter.
	IDs []string
}

// String generates a deterministic cache key string.
// Format: namespace:param1=val1:param2=val2:ids=<count>.<digest>
//
// Example:
//
//	search:limit=500:year_max=2024:year_min=2020
//	collab:ids=130.9f0c2e6a1b7d4c38
//
// Params are sorted by name. IDs are deduplicated, sorted, and folded into a
// 64-bit xxhash digest so large sets keep keys short.
func (k Key) String() string {
	parts := []string{k.Namespace}

	if len(k.Params) > 0 {
		names := make([]string, 0, len(k.Params))
		for name := range k.Params {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s=%s", name, k.Params[name]))
		}
	}

	if len(k.IDs) > 0 {
		ids := sortedSet(k.IDs)
		parts = append(parts, fmt.Sprintf("ids=%d.%s", len(ids), Digest(ids)))
	}

	return strings.Join(parts, ":")
}

// Digest returns the hex xxhash of ids in the given order.
func Digest(ids []string) string {
	d := xxhash.New()
	for _, id := range ids {
		_, _ = d.WriteString(id)
		_, _ = d.Write([]byte{0})
	}
	return fmt.Sprintf("%016x", d.Sum64())
}

func sortedSet(ids []string) []string {
	out := append([]string(nil), ids...)
	sort.Strings(out)
	n := 0
	for i, id := range out {
		if i > 0 && id == out[n-1] {
			continue
		}
		out[n] = id
		n++
	}
	return out[:n]
}
