package sheet

// parser.go streams rows out of an .xlsx workbook.
//
// The workbook is read through excelize's row iterator, which decodes the
// worksheet XML token by token and resolves text cells against the
// workbook's shared-strings table. Only the current row is held in memory,
// so a multi-megabyte sheet never materialises as a DOM.
//
// The first row is the header. Its cells are matched against the schema to
// build a column-index -> field map, which lets users reorder or add columns
// freely. Entirely blank rows are skipped.

import (
	"errors"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
)

var (
	// ErrNoSheet is returned for a workbook without worksheets.
	ErrNoSheet = errors.New("workbook has no sheets")

	// ErrMissingHeader is returned when the header row lacks the Column Name column.
	ErrMissingHeader = errors.New("missing required column \"Column Name\" in header row")
)

// DefaultUnzipSizeLimit caps the decompressed size of a workbook (zip bomb guard).
const DefaultUnzipSizeLimit int64 = 1 << 30

// RowFunc receives each parsed data row. Returning an error stops the parse
// and the error is returned from Parse.
type RowFunc func(RowRecord) error

// Parser reads board spreadsheets row by row.
type Parser struct {
	// UnzipSizeLimit caps the total decompressed workbook size.
	// Zero uses DefaultUnzipSizeLimit.
	UnzipSizeLimit int64
}

// NewParser creates a parser with the given decompression limit.
func NewParser(unzipSizeLimit int64) *Parser {
	return &Parser{UnzipSizeLimit: unzipSizeLimit}
}

// Parse streams the workbook at path and calls fn for every data row.
func (p *Parser) Parse(path string, fn RowFunc) error {
	return p.walk(path, func(rowIndex int, cells []string, hdr HeaderIndex, date1904 bool) error {
		return fn(buildRecord(rowIndex, cells, hdr, date1904))
	})
}

// Count returns the number of data rows Parse would emit.
func (p *Parser) Count(path string) (int, error) {
	n := 0
	err := p.walk(path, func(int, []string, HeaderIndex, bool) error {
		n++
		return nil
	})
	return n, err
}

type visitFunc func(rowIndex int, cells []string, hdr HeaderIndex, date1904 bool) error

func (p *Parser) walk(path string, visit visitFunc) error {
	limit := p.UnzipSizeLimit
	if limit <= 0 {
		limit = DefaultUnzipSizeLimit
	}

	f, err := excelize.OpenFile(path, excelize.Options{
		RawCellValue:   true,
		UnzipSizeLimit: limit,
	})
	if err != nil {
		return fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return ErrNoSheet
	}

	date1904 := false
	if props, err := f.GetWorkbookProps(); err == nil && props.Date1904 != nil {
		date1904 = *props.Date1904
	}

	rows, err := f.Rows(sheets[0])
	if err != nil {
		return fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	defer rows.Close()

	var hdr HeaderIndex
	for rowIndex := 0; rows.Next(); rowIndex++ {
		cells, err := rows.Columns(excelize.Options{RawCellValue: true})
		if err != nil {
			return fmt.Errorf("read row %d: %w", rowIndex+1, err)
		}

		if rowIndex == 0 {
			hdr = MakeHeaderIndex(cells)
			if !hdr.Has(FieldColumnName) {
				return ErrMissingHeader
			}
			continue
		}

		if isBlankRow(cells) {
			continue
		}

		if err := visit(rowIndex, cells, hdr, date1904); err != nil {
			return err
		}
	}
	if err := rows.Error(); err != nil {
		return fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	if hdr == nil {
		return ErrMissingHeader
	}
	return nil
}

func buildRecord(rowIndex int, cells []string, hdr HeaderIndex, date1904 bool) RowRecord {
	var raw [fieldCount]string
	for i, f := range hdr {
		if i < len(cells) {
			raw[f] = cells[i]
		}
	}

	rec := RowRecord{
		RowIndex:        rowIndex,
		ColumnName:      cleanCell(raw[FieldColumnName]),
		ColumnPosition:  parsePosition(raw[FieldColumnPosition]),
		CardTitle:       cleanCell(raw[FieldCardTitle]),
		CardPosition:    parsePosition(raw[FieldCardPosition]),
		Description:     strings.TrimSpace(raw[FieldDescription]),
		Labels:          dedupeFold(splitList(raw[FieldLabels])),
		AssigneeEmail:   strings.ToLower(cleanCell(raw[FieldAssigneeEmail])),
		DueDate:         parseDate(raw[FieldDueDate], date1904),
		ChecklistItems:  splitList(raw[FieldChecklistItems]),
		ChecklistStates: splitStates(raw[FieldChecklistStates]),
		Priority:        cleanCell(raw[FieldPriority]),
		ParentCardTitle: cleanCell(raw[FieldParentCardTitle]),
	}
	return rec
}

func isBlankRow(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
