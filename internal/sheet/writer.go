package sheet

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// SheetName is the worksheet name used for exports.
const SheetName = "Board"

// ExportRow is one exported line. Empty columns are exported as a row with
// only the column fields set.
type ExportRow struct {
	ColumnName      string
	ColumnPosition  int
	CardTitle       string
	CardPosition    *int
	Description     string
	Labels          []string
	AssigneeEmail   string
	DueDate         string
	ChecklistItems  []string
	ChecklistStates []bool
	Priority        string
	ParentCardTitle string
}

// Writer streams rows into an .xlsx workbook.
//
// Rows go through excelize's StreamWriter, which keeps a bounded buffer in
// memory and spills to a temporary file beyond it, so exporting a large board
// does not hold the whole sheet in memory. Close must always be called.
type Writer struct {
	file   *excelize.File
	stream *excelize.StreamWriter
	row    int
}

var columnWidths = []float64{
	FieldColumnName:      22,
	FieldColumnPosition:  10,
	FieldCardTitle:       36,
	FieldCardPosition:    10,
	FieldDescription:     48,
	FieldLabels:          24,
	FieldAssigneeEmail:   28,
	FieldDueDate:         22,
	FieldChecklistItems:  36,
	FieldChecklistStates: 20,
	FieldPriority:        10,
	FieldParentCardTitle: 30,
}

// NewWriter creates a workbook with a styled header row.
func NewWriter() (*Writer, error) {
	f := excelize.NewFile()

	if err := f.SetSheetName(f.GetSheetName(0), SheetName); err != nil {
		f.Close()
		return nil, fmt.Errorf("rename sheet: %w", err)
	}

	sw, err := f.NewStreamWriter(SheetName)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stream writer: %w", err)
	}

	// Widths must be set before the first row is written.
	for i, width := range columnWidths {
		if err := sw.SetColWidth(i+1, i+1, width); err != nil {
			f.Close()
			return nil, fmt.Errorf("column width: %w", err)
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("header style: %w", err)
	}

	w := &Writer{file: f, stream: sw}

	header := make([]interface{}, len(Headers))
	for i, h := range Headers {
		header[i] = excelize.Cell{StyleID: bold, Value: h}
	}
	if err := w.writeRow(header); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Write appends one row.
func (w *Writer) Write(r ExportRow) error {
	values := make([]interface{}, fieldCount)
	values[FieldColumnName] = r.ColumnName
	values[FieldColumnPosition] = r.ColumnPosition
	values[FieldCardTitle] = r.CardTitle
	if r.CardPosition != nil {
		values[FieldCardPosition] = *r.CardPosition
	} else {
		values[FieldCardPosition] = ""
	}
	values[FieldDescription] = r.Description
	values[FieldLabels] = strings.Join(r.Labels, ListSeparator)
	values[FieldAssigneeEmail] = r.AssigneeEmail
	values[FieldDueDate] = r.DueDate
	values[FieldChecklistItems] = strings.Join(r.ChecklistItems, ListSeparator)
	values[FieldChecklistStates] = FormatStates(r.ChecklistStates)
	values[FieldPriority] = r.Priority
	values[FieldParentCardTitle] = r.ParentCardTitle
	return w.writeRow(values)
}

// Rows returns the number of data rows written so far.
func (w *Writer) Rows() int {
	if w.row == 0 {
		return 0
	}
	return w.row - 1
}

func (w *Writer) writeRow(values []interface{}) error {
	w.row++
	cell, err := excelize.CoordinatesToCellName(1, w.row)
	if err != nil {
		return err
	}
	if err := w.stream.SetRow(cell, values); err != nil {
		return fmt.Errorf("write row %d: %w", w.row, err)
	}
	return nil
}

// WriteTo flushes the stream and writes the finished workbook to out.
func (w *Writer) WriteTo(out io.Writer) (int64, error) {
	if err := w.stream.Flush(); err != nil {
		return 0, fmt.Errorf("flush sheet: %w", err)
	}
	cw := &countingWriter{w: out}
	if err := w.file.Write(cw); err != nil {
		return cw.n, fmt.Errorf("write workbook: %w", err)
	}
	return cw.n, nil
}

// Close releases the workbook and any temporary files.
func (w *Writer) Close() error {
	return w.file.Close()
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
