package core

// persist.go applies parsed rows to a board inside one chunk transaction.
//
// An importer lives for one job. Its caches hold columns and labels by
// lowercased name, the next label display order, and the columns whose cards
// were already archived. They are only mutated from the worker goroutine and
// only ever reflect committed state, because a failed chunk fails the whole
// job.

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/boardsheet/internal/board"
	"github.com/JonMunkholm/boardsheet/internal/sheet"
)

// Row error messages reported back to the uploader.
const (
	msgBlankColumn      = "column name is blank"
	msgBlankTitle       = "card title is blank"
	msgAssigneeNotFound = "assignee not found: "
)

type chunkResult struct {
	success int
	errors  []RowError
}

type importer struct {
	boardID   uuid.UUID
	mode      ImportMode
	actor     board.Actor
	sanitizer board.Sanitizer
	now       func() time.Time

	columnsLoaded bool
	columns       map[string]*board.Column
	existing      []*board.Column
	columnCount   int

	labels         map[string]board.Label
	labelOrderSet  bool
	nextLabelOrder int

	archived map[uuid.UUID]bool

	// unlinked holds cards whose parent was not written yet when they were.
	unlinked []unlinkedCard

	// events are collected during a chunk and published after it commits.
	events []board.Event
}

type unlinkedCard struct {
	cardID   uuid.UUID
	columnID uuid.UUID
	parent   string
}

func newImporter(boardID uuid.UUID, mode ImportMode, actor board.Actor, sanitizer board.Sanitizer) *importer {
	return &importer{
		boardID:   boardID,
		mode:      mode,
		actor:     actor,
		sanitizer: sanitizer,
		now:       time.Now,
		columns:   make(map[string]*board.Column),
		labels:    make(map[string]board.Label),
		archived:  make(map[uuid.UUID]bool),
	}
}

func (im *importer) drainEvents() []board.Event {
	evts := im.events
	im.events = nil
	return evts
}

func (im *importer) emit(t board.EventType, id uuid.UUID) {
	im.events = append(im.events, board.Event{
		Type:     t,
		BoardID:  im.boardID,
		EntityID: id,
		ActorID:  im.actor.UserID,
		At:       im.now().UTC(),
	})
}

// archiveExisting archives the live cards of every column the board has
// before any row is applied, including columns whose names differ only by
// case. Used by overwrite mode.
func (im *importer) archiveExisting(ctx context.Context, tx board.Tx) error {
	if err := im.loadColumns(ctx, tx); err != nil {
		return err
	}
	for _, col := range im.existing {
		if err := im.archiveColumn(ctx, tx, col.ID); err != nil {
			return err
		}
	}
	return nil
}

func (im *importer) persistChunk(ctx context.Context, tx board.Tx, rows []sheet.RowRecord) (chunkResult, error) {
	var res chunkResult
	if err := im.loadColumns(ctx, tx); err != nil {
		return res, err
	}

	for _, r := range rows {
		msg, err := im.applyRow(ctx, tx, r)
		if err != nil {
			return res, fmt.Errorf("row %d: %w", r.RowIndex, err)
		}
		if msg != "" {
			res.errors = append(res.errors, RowError{RowNumber: r.RowIndex, Message: msg})
			continue
		}
		res.success++
	}
	return res, nil
}

// applyRow writes one row. A non-empty message means the row was skipped;
// validation happens before the first write so a skipped row leaves no trace.
func (im *importer) applyRow(ctx context.Context, tx board.Tx, r sheet.RowRecord) (string, error) {
	if strings.TrimSpace(r.ColumnName) == "" {
		return msgBlankColumn, nil
	}
	hasCard := r.HasCardFields()
	if hasCard && strings.TrimSpace(r.CardTitle) == "" {
		return msgBlankTitle, nil
	}

	var assignee *uuid.UUID
	if hasCard && r.AssigneeEmail != "" {
		u, err := tx.FindUserByEmail(ctx, r.AssigneeEmail)
		if err != nil {
			return "", fmt.Errorf("find assignee: %w", err)
		}
		if u == nil {
			return msgAssigneeNotFound + r.AssigneeEmail, nil
		}
		id := u.ID
		assignee = &id
	}

	col, err := im.resolveColumn(ctx, tx, r.ColumnName, r.ColumnPosition)
	if err != nil {
		return "", err
	}
	if !hasCard {
		return "", nil
	}

	if im.mode == ModeOverwrite {
		if err := im.archiveColumn(ctx, tx, col.ID); err != nil {
			return "", err
		}
	}

	card, err := im.upsertCard(ctx, tx, col, r, assignee)
	if err != nil {
		return "", err
	}

	if err := im.applyLabels(ctx, tx, card.ID, r.Labels); err != nil {
		return "", err
	}
	if err := tx.ReplaceChecklist(ctx, card.ID, checklist(card.ID, r.ChecklistItems, r.ChecklistStates)); err != nil {
		return "", fmt.Errorf("replace checklist: %w", err)
	}
	return "", nil
}

func (im *importer) loadColumns(ctx context.Context, tx board.Tx) error {
	if im.columnsLoaded {
		return nil
	}
	cols, err := tx.ListColumns(ctx, im.boardID)
	if err != nil {
		return fmt.Errorf("list columns: %w", err)
	}
	for i := range cols {
		c := &cols[i]
		im.existing = append(im.existing, c)
		key := strings.ToLower(c.Name)
		if _, dup := im.columns[key]; !dup {
			im.columns[key] = c
		}
	}
	im.columnCount = len(cols)
	im.columnsLoaded = true
	return nil
}

func (im *importer) resolveColumn(ctx context.Context, tx board.Tx, name string, pos *int) (*board.Column, error) {
	key := strings.ToLower(name)

	col, ok := im.columns[key]
	if !ok {
		col = &board.Column{
			ID:       uuid.New(),
			BoardID:  im.boardID,
			Name:     name,
			Position: im.columnCount,
		}
		if err := tx.CreateColumn(ctx, col); err != nil {
			return nil, fmt.Errorf("create column %q: %w", name, err)
		}
		im.columns[key] = col
		im.columnCount++
		// A column born in this job has nothing to archive.
		im.archived[col.ID] = true
		im.emit(board.EventColumnCreated, col.ID)
	}

	if pos != nil && *pos != col.Position {
		if err := tx.UpdateColumnPosition(ctx, col.ID, *pos); err != nil {
			return nil, fmt.Errorf("move column %q: %w", name, err)
		}
		col.Position = *pos
		im.emit(board.EventColumnMoved, col.ID)
	}
	return col, nil
}

// archiveColumn soft-deletes a column's live cards once per job.
func (im *importer) archiveColumn(ctx context.Context, tx board.Tx, columnID uuid.UUID) error {
	if im.archived[columnID] {
		return nil
	}
	cards, err := tx.ListCards(ctx, columnID)
	if err != nil {
		return fmt.Errorf("list cards: %w", err)
	}
	for _, c := range cards {
		if c.Archived {
			continue
		}
		if err := tx.ArchiveCard(ctx, c.ID, im.actor.UserID); err != nil {
			return fmt.Errorf("archive card %s: %w", c.ID, err)
		}
		im.emit(board.EventCardArchived, c.ID)
	}
	im.archived[columnID] = true
	return nil
}

func (im *importer) upsertCard(ctx context.Context, tx board.Tx, col *board.Column, r sheet.RowRecord, assignee *uuid.UUID) (*board.Card, error) {
	existing, err := tx.FindCardInColumn(ctx, col.ID, r.CardTitle)
	if err != nil {
		return nil, fmt.Errorf("find card: %w", err)
	}

	card := existing
	if card == nil {
		pos := 0
		if r.CardPosition != nil {
			pos = *r.CardPosition
		} else if pos, err = tx.NextCardPosition(ctx, col.ID); err != nil {
			return nil, fmt.Errorf("next card position: %w", err)
		}
		card = &board.Card{
			ID:        uuid.New(),
			BoardID:   im.boardID,
			ColumnID:  col.ID,
			Title:     r.CardTitle,
			Position:  pos,
			CreatedBy: im.actor.UserID,
		}
	} else if r.CardPosition != nil {
		card.Position = *r.CardPosition
	}

	card.Description = im.sanitizer.Sanitize(r.Description)
	card.AssigneeID = assignee
	card.DueDate = r.DueDate
	card.Priority = r.Priority
	card.UpdatedBy = im.actor.UserID

	if existing == nil {
		if err := tx.CreateCard(ctx, card); err != nil {
			return nil, fmt.Errorf("create card %q: %w", r.CardTitle, err)
		}
		im.emit(board.EventCardCreated, card.ID)
	}

	parent, err := im.findParent(ctx, tx, col.ID, card.ID, r.ParentCardTitle)
	if err != nil {
		return nil, err
	}
	card.ParentID = parent
	if parent == nil && r.ParentCardTitle != "" {
		im.unlinked = append(im.unlinked, unlinkedCard{cardID: card.ID, columnID: col.ID, parent: r.ParentCardTitle})
	}

	// New cards are written again only when a parent was linked.
	if existing != nil || parent != nil {
		if err := tx.UpdateCard(ctx, card); err != nil {
			return nil, fmt.Errorf("update card %q: %w", r.CardTitle, err)
		}
	}
	if existing != nil {
		im.emit(board.EventCardUpdated, card.ID)
	}
	return card, nil
}

// findParent looks for the parent in the same column first, then anywhere
// on the board.
func (im *importer) findParent(ctx context.Context, tx board.Tx, columnID, self uuid.UUID, title string) (*uuid.UUID, error) {
	if title == "" {
		return nil, nil
	}

	p, err := tx.FindCardInColumn(ctx, columnID, title)
	if err != nil {
		return nil, fmt.Errorf("find parent: %w", err)
	}
	if p == nil || p.ID == self {
		if p, err = tx.FindCardOnBoard(ctx, im.boardID, title); err != nil {
			return nil, fmt.Errorf("find parent: %w", err)
		}
	}
	if p == nil || p.ID == self {
		return nil, nil
	}
	id := p.ID
	return &id, nil
}

// linkParents retries parent lookups for cards written before their parent
// once every chunk has committed. A parent that is still missing leaves the
// card unlinked. Returns the number of cards linked.
func (im *importer) linkParents(ctx context.Context, tx board.Tx) (int, error) {
	linked := 0
	for _, u := range im.unlinked {
		parent, err := im.findParent(ctx, tx, u.columnID, u.cardID, u.parent)
		if err != nil {
			return linked, err
		}
		if parent == nil {
			slog.Debug("parent card not found", "board_id", im.boardID, "title", u.parent)
			continue
		}
		card, err := tx.GetCard(ctx, u.cardID)
		if err != nil {
			return linked, fmt.Errorf("get card %s: %w", u.cardID, err)
		}
		card.ParentID = parent
		card.UpdatedBy = im.actor.UserID
		if err := tx.UpdateCard(ctx, &card); err != nil {
			return linked, fmt.Errorf("link parent of %s: %w", u.cardID, err)
		}
		im.emit(board.EventCardUpdated, card.ID)
		linked++
	}
	return linked, nil
}

// applyLabels resolves names through the cache, one batched lookup for the
// misses, and creation for what is still unknown, then replaces the card's
// label set.
func (im *importer) applyLabels(ctx context.Context, tx board.Tx, cardID uuid.UUID, names []string) error {
	ids := make([]uuid.UUID, 0, len(names))
	var misses []string
	for _, n := range names {
		if l, ok := im.labels[strings.ToLower(n)]; ok {
			ids = append(ids, l.ID)
			continue
		}
		misses = append(misses, n)
	}

	if len(misses) > 0 {
		found, err := tx.FindLabelsByName(ctx, im.boardID, misses)
		if err != nil {
			return fmt.Errorf("find labels: %w", err)
		}
		for _, l := range found {
			im.labels[strings.ToLower(l.Name)] = l
		}

		for _, n := range misses {
			key := strings.ToLower(n)
			l, ok := im.labels[key]
			if !ok {
				created, err := im.createLabel(ctx, tx, n)
				if err != nil {
					return err
				}
				l = created
			}
			ids = append(ids, l.ID)
		}
	}

	if err := tx.SetCardLabels(ctx, cardID, ids); err != nil {
		return fmt.Errorf("set card labels: %w", err)
	}
	return nil
}

func (im *importer) createLabel(ctx context.Context, tx board.Tx, name string) (board.Label, error) {
	if !im.labelOrderSet {
		max, err := tx.MaxLabelOrder(ctx, im.boardID)
		if err != nil {
			return board.Label{}, fmt.Errorf("max label order: %w", err)
		}
		im.nextLabelOrder = max + 1
		im.labelOrderSet = true
	}

	l := board.Label{
		ID:           uuid.New(),
		BoardID:      im.boardID,
		Name:         name,
		DisplayOrder: im.nextLabelOrder,
	}
	if err := tx.CreateLabel(ctx, &l); err != nil {
		return board.Label{}, fmt.Errorf("create label %q: %w", name, err)
	}
	im.nextLabelOrder++
	im.labels[strings.ToLower(name)] = l
	im.emit(board.EventLabelCreated, l.ID)
	return l, nil
}

// checklist pairs items with states by position; missing states are unchecked.
func checklist(cardID uuid.UUID, items []string, states []bool) []board.ChecklistItem {
	out := make([]board.ChecklistItem, 0, len(items))
	for i, text := range items {
		out = append(out, board.ChecklistItem{
			ID:       uuid.New(),
			CardID:   cardID,
			Text:     text,
			Checked:  i < len(states) && states[i],
			Position: i,
		})
	}
	return out
}
