// Package sheet reads and writes board spreadsheets.
//
// Both directions share one fixed 12-column layout so an exported workbook
// can be imported again unchanged:
//
//	Column Name | Column Position | Card Title | Card Position | Description |
//	Labels | Assignee Email | Due Date | Checklist Items | Checklist States |
//	Priority | Parent Card Title
//
// Multi-valued cells (labels, checklist items and states) are separated by
// semicolons. Due dates are written as UTC RFC 3339 timestamps and read from
// either spreadsheet date serials or plain date strings.
package sheet

import "strings"

// Field identifies one of the schema columns.
type Field int

const (
	FieldColumnName Field = iota
	FieldColumnPosition
	FieldCardTitle
	FieldCardPosition
	FieldDescription
	FieldLabels
	FieldAssigneeEmail
	FieldDueDate
	FieldChecklistItems
	FieldChecklistStates
	FieldPriority
	FieldParentCardTitle

	fieldCount
)

// Headers are the schema column titles in export order.
var Headers = []string{
	FieldColumnName:      "Column Name",
	FieldColumnPosition:  "Column Position",
	FieldCardTitle:       "Card Title",
	FieldCardPosition:    "Card Position",
	FieldDescription:     "Description",
	FieldLabels:          "Labels",
	FieldAssigneeEmail:   "Assignee Email",
	FieldDueDate:         "Due Date",
	FieldChecklistItems:  "Checklist Items",
	FieldChecklistStates: "Checklist States",
	FieldPriority:        "Priority",
	FieldParentCardTitle: "Parent Card Title",
}

// ListSeparator joins multi-valued cells.
const ListSeparator = ";"

// headerAliases accepts the decorated titles some users keep from older
// templates, e.g. "Labels (semicolon-separated)".
var headerAliases = map[string]Field{
	"labels (semicolon-separated)":                      FieldLabels,
	"due date (utc iso-8601)":                           FieldDueDate,
	"checklist items (semicolon-separated)":             FieldChecklistItems,
	"checklist states (semicolon-separated)":            FieldChecklistStates,
	"checklist states (semicolon-separated true/false)": FieldChecklistStates,
}

func (f Field) String() string {
	if f < 0 || f >= fieldCount {
		return "unknown"
	}
	return Headers[f]
}

// lookupField matches a header cell against the schema.
// Matching ignores case and surrounding/internal whitespace runs.
func lookupField(header string) (Field, bool) {
	key := normalizeHeader(header)
	if key == "" {
		return 0, false
	}
	for i, h := range Headers {
		if normalizeHeader(h) == key {
			return Field(i), true
		}
	}
	f, ok := headerAliases[key]
	return f, ok
}

func normalizeHeader(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(cleanCell(s)), " "))
}

// HeaderIndex maps spreadsheet column index to schema field.
type HeaderIndex map[int]Field

// MakeHeaderIndex builds a HeaderIndex from the header row.
// Unrecognised headers are ignored; the first occurrence of a field wins.
func MakeHeaderIndex(header []string) HeaderIndex {
	idx := make(HeaderIndex, len(header))
	seen := make(map[Field]bool, len(header))
	for i, h := range header {
		f, ok := lookupField(h)
		if !ok || seen[f] {
			continue
		}
		seen[f] = true
		idx[i] = f
	}
	return idx
}

// Has reports whether the header carries field f.
func (h HeaderIndex) Has(f Field) bool {
	for _, v := range h {
		if v == f {
			return true
		}
	}
	return false
}
