//go:build test

package testutils

import (
	"fmt"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
)

// TestingT is the part of testing.T the asserters use.
type TestingT interface {
	Helper()
	Errorf(format string, args ...any)
}

// AssertText fails t with a unified diff when actual differs from expected.
// Surrounding blank space and trailing whitespace on each line are ignored.
func AssertText(t TestingT, actual, expected string) bool {
	t.Helper()
	want, got := normalizeText(expected), normalizeText(actual)
	if want == got {
		return true
	}
	edits := myers.ComputeEdits("", want, got)
	t.Errorf("text mismatch:\n%s", fmt.Sprint(gotextdiff.ToUnified("expected", "actual", want, edits)))
	return false
}

func normalizeText(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.Join(lines, "\n")
}
