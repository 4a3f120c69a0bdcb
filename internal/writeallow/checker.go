// Package writeallow checks a set of changed file paths against glob
// allowlists (spec.md §4.3). Globs use standard shell `*`/`**`
// semantics, matched with doublestar rather than a hand-rolled
// matcher — the same library AbdelazizMoustafa10m-Raven depends on for
// path-glob matching.
package writeallow

import (
	"github.com/bmatcuk/doublestar/v4"
)

// Check returns the subset of changedPaths that does not match any
// glob in allowGlobs.
func Check(changedPaths []string, allowGlobs []string) []string {
	var violations []string
	for _, p := range changedPaths {
		if !matchesAny(p, allowGlobs) {
			violations = append(violations, p)
		}
	}
	return violations
}

func matchesAny(path string, globs []string) bool {
	for _, g := range globs {
		if ok, err := doublestar.Match(g, path); err == nil && ok {
			return true
		}
	}
	return false
}
