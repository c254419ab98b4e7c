package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/boardsheet/internal/board"
	"github.com/JonMunkholm/boardsheet/internal/logging"
	"github.com/JonMunkholm/boardsheet/internal/metrics"
	"github.com/JonMunkholm/boardsheet/internal/sheet"
)

// Export is a built workbook waiting to be streamed. Close must be called.
type Export struct {
	Filename string
	Rows     int

	writer  *sheet.Writer
	started time.Time
}

// WriteTo streams the workbook to w.
func (e *Export) WriteTo(w io.Writer) (int64, error) {
	n, err := e.writer.WriteTo(w)
	if err == nil {
		metrics.ExportFinished(e.Rows, time.Since(e.started))
	}
	return n, err
}

// Close releases the workbook and its spill files.
func (e *Export) Close() error {
	return e.writer.Close()
}

// ExportBoard builds a workbook of the board's live cards in the same
// layout the importer reads. Columns are walked by position and cards by
// position within each column; a column without cards still gets one row.
func (s *Service) ExportBoard(ctx context.Context, boardID uuid.UUID, actor board.Actor) (*Export, error) {
	b, err := s.authorize(ctx, boardID, actor, board.RoleViewer)
	if err != nil {
		return nil, err
	}

	w, err := sheet.NewWriter()
	if err != nil {
		return nil, err
	}

	exp := &Export{
		Filename: fmt.Sprintf("board-%s-%s.xlsx", b.ID, time.Now().UTC().Format("20060102")),
		writer:   w,
		started:  time.Now(),
	}

	err = s.store.View(ctx, func(tx board.Tx) error {
		return writeBoard(ctx, tx, b.ID, w)
	})
	if err != nil {
		w.Close()
		return nil, fmt.Errorf("export board %s: %w", b.ID, err)
	}
	exp.Rows = w.Rows()

	logging.WithFields(ctx, "board_id", b.ID, "actor", actor.UserID).
		Info("export built", "rows", exp.Rows)
	return exp, nil
}

func writeBoard(ctx context.Context, tx board.Tx, boardID uuid.UUID, w *sheet.Writer) error {
	cols, err := tx.ListColumns(ctx, boardID)
	if err != nil {
		return fmt.Errorf("list columns: %w", err)
	}
	sort.SliceStable(cols, func(i, j int) bool { return cols[i].Position < cols[j].Position })

	emails := make(map[uuid.UUID]string)
	titles := make(map[uuid.UUID]string)

	for _, col := range cols {
		cards, err := tx.ListCards(ctx, col.ID)
		if err != nil {
			return fmt.Errorf("list cards: %w", err)
		}
		sort.SliceStable(cards, func(i, j int) bool { return cards[i].Position < cards[j].Position })

		if len(cards) == 0 {
			if err := w.Write(sheet.ExportRow{ColumnName: col.Name, ColumnPosition: col.Position}); err != nil {
				return err
			}
			continue
		}

		for _, c := range cards {
			row, err := exportRow(ctx, tx, col, c, emails, titles)
			if err != nil {
				return err
			}
			if err := w.Write(row); err != nil {
				return err
			}
		}
	}
	return nil
}

func exportRow(ctx context.Context, tx board.Tx, col board.Column, c board.Card, emails, titles map[uuid.UUID]string) (sheet.ExportRow, error) {
	pos := c.Position
	row := sheet.ExportRow{
		ColumnName:     col.Name,
		ColumnPosition: col.Position,
		CardTitle:      c.Title,
		CardPosition:   &pos,
		Description:    c.Description,
		DueDate:        sheet.FormatDate(c.DueDate),
		Priority:       c.Priority,
	}

	labels, err := tx.CardLabels(ctx, c.ID)
	if err != nil {
		return row, fmt.Errorf("card labels: %w", err)
	}
	sort.SliceStable(labels, func(i, j int) bool { return labels[i].DisplayOrder < labels[j].DisplayOrder })
	for _, l := range labels {
		row.Labels = append(row.Labels, l.Name)
	}

	if c.AssigneeID != nil {
		email, ok := emails[*c.AssigneeID]
		if !ok {
			u, err := tx.GetUser(ctx, *c.AssigneeID)
			if err != nil && !errors.Is(err, board.ErrNotFound) {
				return row, fmt.Errorf("get assignee: %w", err)
			}
			email = u.Email
			emails[*c.AssigneeID] = email
		}
		row.AssigneeEmail = email
	}

	items, err := tx.Checklist(ctx, c.ID)
	if err != nil {
		return row, fmt.Errorf("checklist: %w", err)
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Position < items[j].Position })
	for _, it := range items {
		row.ChecklistItems = append(row.ChecklistItems, it.Text)
		row.ChecklistStates = append(row.ChecklistStates, it.Checked)
	}

	if c.ParentID != nil {
		title, ok := titles[*c.ParentID]
		if !ok {
			p, err := tx.GetCard(ctx, *c.ParentID)
			if err != nil && !errors.Is(err, board.ErrNotFound) {
				return row, fmt.Errorf("get parent card: %w", err)
			}
			title = p.Title
			titles[*c.ParentID] = title
		}
		row.ParentCardTitle = title
	}
	return row, nil
}
