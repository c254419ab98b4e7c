package sheet

import "time"

// RowRecord is one normalized spreadsheet data row.
//
// RowIndex is the 0-based sheet row index; the header is row 0, so the first
// data row is 1. Optional numeric and date cells are nil when blank or
// unparseable.
type RowRecord struct {
	RowIndex        int
	ColumnName      string
	ColumnPosition  *int
	CardTitle       string
	CardPosition    *int
	Description     string
	Labels          []string
	AssigneeEmail   string
	DueDate         *time.Time
	ChecklistItems  []string
	ChecklistStates []bool
	Priority        string
	ParentCardTitle string
}

// HasCardFields reports whether any card-related cell is populated.
// A row without card fields only declares its column.
func (r RowRecord) HasCardFields() bool {
	return r.CardTitle != "" ||
		r.CardPosition != nil ||
		r.Description != "" ||
		len(r.Labels) > 0 ||
		r.AssigneeEmail != "" ||
		r.DueDate != nil ||
		len(r.ChecklistItems) > 0 ||
		len(r.ChecklistStates) > 0 ||
		r.Priority != "" ||
		r.ParentCardTitle != ""
}
