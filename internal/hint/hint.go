// Package hint extracts and rewrites the Oracle PARALLEL(n) degree embedded
// in a vendor SQL hint comment, e.g. "/*+ PARALLEL(8) FULL(A) */".
//
// Grounded on the original Python hint_parser.py; all three operations are
// pure functions with no shared state.
package hint

import (
	"fmt"
	"regexp"
	"strconv"
)

var parallelRe = regexp.MustCompile(`(?i)PARALLEL\s*\(\s*(\d+)\s*\)`)

// Parse locates the first case-insensitive PARALLEL(n) lexeme, tolerating
// whitespace inside the parentheses, and returns n. Returns defaultValue if
// hint is empty or no such lexeme is present.
func Parse(hintStr string, defaultValue int) int {
	if hintStr == "" {
		return defaultValue
	}
	m := parallelRe.FindStringSubmatch(hintStr)
	if m == nil {
		return defaultValue
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return defaultValue
	}
	return n
}

// Build synthesizes a fresh hint string for the given parallel degree.
func Build(parallel int, includeFull bool) string {
	if includeFull {
		return fmt.Sprintf("/*+ PARALLEL(%d) FULL(A) */", parallel)
	}
	return fmt.Sprintf("/*+ PARALLEL(%d) */", parallel)
}

// Adjust replaces the first PARALLEL(n) lexeme in originalHint with
// newParallel, preserving every other token. If originalHint contains no
// such lexeme, a fresh hint is synthesized via Build.
func Adjust(originalHint string, newParallel int) string {
	if originalHint == "" {
		return Build(newParallel, true)
	}
	loc := parallelRe.FindStringIndex(originalHint)
	if loc == nil {
		return Build(newParallel, true)
	}
	return originalHint[:loc[0]] + fmt.Sprintf("PARALLEL(%d)", newParallel) + originalHint[loc[1]:]
}
