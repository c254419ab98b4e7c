package sheet

// convert.go turns raw cell text into typed record fields.
//
// Spreadsheet data is messy: positions arrive as "3", "3.0" or "three",
// dates as date serials or a handful of text layouts, booleans as
// true/false, yes/no or 1/0. Invalid optional values downgrade to "unset"
// rather than failing the row.

import (
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"
)

// Date layouts tried, in order, for text date cells.
var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02",
	"1/2/2006",
	"01/02/2006",
	"Jan 2, 2006",
	"2 Jan 2006",
	"20060102",
}

// maxDateSerial is one past the serial of 9999-12-31. Larger numbers are
// compact text dates such as 20240115, not serials.
const maxDateSerial = 2958466

// cleanCell trims whitespace and a leading formula-text wrapper (="...").
func cleanCell(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") && len(s) >= 3 {
		s = strings.TrimSpace(s[2 : len(s)-1])
	}
	return s
}

// parsePosition parses a non-negative integer position.
// Integral floats ("2.0", as numeric cells are often stored) are accepted.
func parsePosition(s string) *int {
	s = cleanCell(s)
	if s == "" {
		return nil
	}
	if n, err := strconv.Atoi(s); err == nil {
		if n < 0 {
			return nil
		}
		return &n
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) || f > math.MaxInt32 {
		return nil
	}
	n := int(f)
	return &n
}

// parseDate parses a due date cell. Numeric values are treated as
// spreadsheet date serials; anything else is tried against dateLayouts.
// The result is normalised to UTC.
func parseDate(s string, date1904 bool) *time.Time {
	s = cleanCell(s)
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f < maxDateSerial {
		if f <= 0 {
			return nil
		}
		t, err := excelize.ExcelDateToTime(f, date1904)
		if err != nil {
			return nil
		}
		t = t.UTC()
		return &t
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			t = t.UTC()
			return &t
		}
	}
	return nil
}

// parseBool accepts true/false, yes/no, t/f, y/n, x and 1/0.
// Anything else, including blank, is false.
func parseBool(s string) bool {
	switch strings.ToLower(cleanCell(s)) {
	case "true", "t", "yes", "y", "1", "x":
		return true
	default:
		return false
	}
}

// splitList splits a semicolon-separated cell, dropping blank entries.
func splitList(s string) []string {
	s = cleanCell(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ListSeparator)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// splitStates splits a checklist-states cell. Unlike splitList, blank
// entries are kept (as unchecked) so states stay aligned with their items.
func splitStates(s string) []bool {
	s = cleanCell(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ListSeparator)
	out := make([]bool, len(parts))
	for i, p := range parts {
		out[i] = parseBool(p)
	}
	return out
}

// dedupeFold removes case-insensitive duplicates, keeping the first spelling.
func dedupeFold(items []string) []string {
	if len(items) < 2 {
		return items
	}
	seen := make(map[string]bool, len(items))
	out := items[:0]
	for _, it := range items {
		k := strings.ToLower(it)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, it)
	}
	return out
}

// FormatDate renders a due date for export.
func FormatDate(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// FormatStates renders checklist states for export.
func FormatStates(states []bool) string {
	parts := make([]string, len(states))
	for i, b := range states {
		parts[i] = strconv.FormatBool(b)
	}
	return strings.Join(parts, ListSeparator)
}
