// Package tags normalizes prompt tag sets and folds them into counts.
//
// Tags are display strings whose uniqueness is case-insensitive: two tags
// differing only in case collapse to the first-seen casing.
package tags

import (
	"sort"
	"strings"
)

// Parse trims and deduplicates raw tag inputs, preserving original order and
// first-seen casing. Blank entries are dropped.
func Parse(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	var normalized []string

	for _, tag := range raw {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" {
			continue
		}
		key := strings.ToLower(trimmed)
		if seen[key] {
			continue
		}
		seen[key] = true
		normalized = append(normalized, trimmed)
	}

	return normalized
}

// Contains reports whether the tag set contains name, comparing
// case-insensitively after trimming.
func Contains(set []string, name string) bool {
	want := strings.ToLower(strings.TrimSpace(name))
	for _, tag := range set {
		if strings.ToLower(tag) == want {
			return true
		}
	}
	return false
}

// Count is one entry of the derived tag index.
type Count struct {
	Name  string `json:"name"`
	Count int64  `json:"count"`
}

// Fold accumulates the tag sets of all live prompts into per-tag counts,
// case-insensitively, keeping the first-seen casing as the canonical name.
// Results are ordered by descending count, then by name ascending.
func Fold(sets [][]string) []Count {
	canonical := make(map[string]string)
	counts := make(map[string]int64)
	for _, set := range sets {
		for _, tag := range set {
			key := strings.ToLower(tag)
			if _, ok := canonical[key]; !ok {
				canonical[key] = tag
			}
			counts[key]++
		}
	}

	result := make([]Count, 0, len(counts))
	for key, n := range counts {
		result = append(result, Count{Name: canonical[key], Count: n})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Count != result[j].Count {
			return result[i].Count > result[j].Count
		}
		return result[i].Name < result[j].Name
	})
	return result
}
