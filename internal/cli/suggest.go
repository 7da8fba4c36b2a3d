// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// suggest.go - "Did you mean" hints for mistyped commands.
package cli

import (
	"strings"
)

// validCommands are the command words ParseArgs accepts, aliases included.
var validCommands = []string{
	"tui", "ask", "chat", "session", "sessions", "config", "version", "help",
}

// SuggestCommand returns the command closest to input, or "".
func SuggestCommand(input string) string {
	return Suggest(input, validCommands)
}

// Suggest returns the candidate within a small edit distance of input.
// Short inputs tolerate one edit, longer ones two or three.
func Suggest(input string, candidates []string) string {
	input = strings.ToLower(input)
	if len(input) < 2 {
		return ""
	}

	maxDistance := 1
	if len(input) >= 4 {
		maxDistance = 2
	}
	if len(input) > 8 {
		maxDistance = 3
	}

	best, bestDistance := "", maxDistance+1
	for _, c := range candidates {
		d := levenshteinDistance(input, c)
		if d == 0 {
			return ""
		}
		if d < bestDistance {
			best, bestDistance = c, d
		}
	}
	return best
}

// levenshteinDistance is the number of single-byte edits between s1 and s2.
func levenshteinDistance(s1, s2 string) int {
	if len(s1) == 0 {
		return len(s2)
	}
	if len(s2) == 0 {
		return len(s1)
	}

	prev := make([]int, len(s2)+1)
	curr := make([]int, len(s2)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(s1); i++ {
		curr[0] = i
		for j := 1; j <= len(s2); j++ {
			cost := 1
			if s1[i-1] == s2[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(s2)]
}
