// Package levenshtein computes edit distances, used to suggest the closest
// valid value for a mistyped option.
package levenshtein

import (
	"fmt"
	"strings"
)

// Distance returns the minimum number of single rune insertions, deletions
// or substitutions turning a into b.
func Distance(a, b string) int {
	src, dst := []rune(a), []rune(b)
	if len(src) < len(dst) {
		src, dst = dst, src
	}

	prev := make([]int, len(dst)+1)
	for col := range prev {
		prev[col] = col
	}

	cur := make([]int, len(dst)+1)

	for row, sr := range src {
		cur[0] = row + 1

		for col, dr := range dst {
			cost := 1
			if sr == dr {
				cost = 0
			}

			cur[col+1] = min(prev[col+1]+1, cur[col]+1, prev[col]+cost)
		}

		prev, cur = cur, prev
	}

	return prev[len(dst)]
}

// Closest returns the candidate nearest to value, ignoring case. Candidates
// further than maxDistance edits away are not suggested.
func Closest(value string, candidates []string, maxDistance int) (string, bool) {
	best, bestDist := "", maxDistance+1
	lowered := strings.ToLower(value)

	for _, candidate := range candidates {
		dist := Distance(lowered, strings.ToLower(candidate))
		if dist < bestDist {
			best, bestDist = candidate, dist
		}
	}

	return best, best != ""
}

// Suggest formats a "did you mean" hint, or returns "" when nothing is close.
func Suggest(value string, candidates []string) string {
	const maxDistance = 2

	match, ok := Closest(value, candidates, maxDistance)
	if !ok {
		return ""
	}

	return fmt.Sprintf(" (did you mean %q?)", match)
}
