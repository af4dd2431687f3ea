package dataset

import (
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const (
	dateLayout     = "2006-01-02"
	dateTimeLayout = "2006-01-02 15:04:05"
)

// ParseDate parses an ISO-like or common calendar date. Values without an offset
// are read as UTC; values with one keep their own wall clock, so the calendar day
// written back is the one in the cell. The second result is false for empty or
// unparseable input; callers store that as null.
func ParseDate(cell string) (time.Time, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return time.Time{}, false
	}
	ts, err := dateparse.ParseIn(cell, time.UTC)
	if err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// NormalizeDates rewrites column so every cell is either a normalized date or
// empty (null). When all parsed values fall on midnight the column is written as
// dates only, otherwise as date and time. It returns how many non-empty cells
// failed to parse and were nulled.
func (t *Table) NormalizeDates(column string) (int, error) {
	if err := t.Require(column); err != nil {
		return 0, err
	}
	idx := t.Column(column)

	parsed := make([]time.Time, len(t.Rows))
	valid := make([]bool, len(t.Rows))
	dateOnly := true
	nulled := 0
	for i, row := range t.Rows {
		ts, ok := ParseDate(row[idx])
		if !ok {
			if strings.TrimSpace(row[idx]) != "" {
				nulled++
			}
			continue
		}
		parsed[i], valid[i] = ts, true
		if !isMidnight(ts) {
			dateOnly = false
		}
	}

	layout := dateTimeLayout
	if dateOnly {
		layout = dateLayout
	}
	for i, row := range t.Rows {
		if valid[i] {
			row[idx] = parsed[i].Format(layout)
		} else {
			row[idx] = ""
		}
	}
	return nulled, nil
}

func isMidnight(ts time.Time) bool {
	h, m, sec := ts.Clock()
	return h == 0 && m == 0 && sec == 0 && ts.Nanosecond() == 0
}
