package errors

import (
	"fmt"
	"strings"
)

// RowCollector gathers per-row problems found while ingesting a file.
// Rows are never rejected for a bad amount or date; those become warnings
// and the value is treated as absent.
type RowCollector struct {
	file     string
	problems []*ReconcilerError
	limit    int
	dropped  int
}

// NewRowCollector creates a collector that keeps at most limit problems.
// A non-positive limit keeps everything.
func NewRowCollector(file string, limit int) *RowCollector {
	return &RowCollector{file: file, limit: limit}
}

// Add records a problem. Problems beyond the limit are counted but not kept.
func (c *RowCollector) Add(err *ReconcilerError) {
	if err == nil {
		return
	}
	if c.limit > 0 && len(c.problems) >= c.limit {
		c.dropped++
		return
	}
	c.problems = append(c.problems, err)
}

// InvalidValue records an unparseable value in a column.
func (c *RowCollector) InvalidValue(line int, column, value string) {
	c.Add(ParseError(CodeInvalidData, c.file, line, column, value, nil))
}

// Count returns the total number of problems seen, kept or not.
func (c *RowCollector) Count() int {
	return len(c.problems) + c.dropped
}

// Problems returns the kept problems in the order they were added.
func (c *RowCollector) Problems() []*ReconcilerError {
	return c.problems
}

// Summary returns an ErrorSummary over the kept problems.
func (c *RowCollector) Summary() *ErrorSummary {
	return NewErrorSummary(c.problems)
}

// FindMissingColumns returns the expected columns absent from actual,
// compared case-insensitively.
func FindMissingColumns(expected, actual []string) []string {
	actualSet := make(map[string]bool, len(actual))
	for _, col := range actual {
		actualSet[strings.ToLower(strings.TrimSpace(col))] = true
	}

	var missing []string
	for _, col := range expected {
		if !actualSet[strings.ToLower(strings.TrimSpace(col))] {
			missing = append(missing, col)
		}
	}
	return missing
}

// FormatProblems renders collected problems for terminal output.
func FormatProblems(problems []*ReconcilerError, max int) string {
	if len(problems) == 0 {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d row problem(s):\n", len(problems))
	for i, p := range problems {
		if max > 0 && i >= max {
			fmt.Fprintf(&b, "  ... and %d more\n", len(problems)-max)
			break
		}
		fmt.Fprintf(&b, "  - %s\n", p.Message)
	}
	return b.String()
}
