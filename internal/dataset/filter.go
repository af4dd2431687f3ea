package dataset

import (
	"math"
	"strconv"
	"strings"
)

// ParseNumber parses a plain decimal or scientific numeric cell. Empty cells,
// non-numeric text, NaN, infinities and Go literal forms (underscores, hex) are
// missing.
func ParseNumber(cell string) (float64, bool) {
	cell = strings.TrimSpace(cell)
	if cell == "" || strings.IndexFunc(cell, notNumeric) >= 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func notNumeric(r rune) bool {
	switch {
	case r >= '0' && r <= '9':
		return false
	case r == '.', r == '+', r == '-', r == 'e', r == 'E':
		return false
	}
	return true
}

// FilterRange keeps rows whose column value lies in [min, max] and returns how
// many rows were dropped. Missing values never match. The filter runs in place
// and preserves row order; a min greater than max leaves no rows.
func (t *Table) FilterRange(column string, min, max float64) (int, error) {
	if err := t.Require(column); err != nil {
		return 0, err
	}
	idx := t.Column(column)

	kept := t.Rows[:0]
	for _, row := range t.Rows {
		v, ok := ParseNumber(row[idx])
		if ok && v >= min && v <= max {
			kept = append(kept, row)
		}
	}
	dropped := len(t.Rows) - len(kept)
	for i := len(kept); i < len(t.Rows); i++ {
		t.Rows[i] = nil
	}
	t.Rows = kept
	return dropped, nil
}
