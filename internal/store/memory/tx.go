package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/JonMunkholm/boardsheet/internal/board"
)

// ErrReadOnly is returned by writes attempted inside View.
var ErrReadOnly = errors.New("memory: write in read-only transaction")

type tx struct {
	data     *state
	fault    FaultFunc
	readOnly bool
}

func (t *tx) write(op string) error {
	if t.readOnly {
		return ErrReadOnly
	}
	if t.fault != nil {
		if err := t.fault(op); err != nil {
			return err
		}
	}
	return nil
}

func (t *tx) ListColumns(_ context.Context, boardID uuid.UUID) ([]board.Column, error) {
	return t.data.listColumns(boardID), nil
}

func (t *tx) CreateColumn(_ context.Context, col *board.Column) error {
	if err := t.write("CreateColumn"); err != nil {
		return err
	}
	if col.ID == uuid.Nil {
		col.ID = uuid.New()
	}
	t.data.columns[col.ID] = *col
	return nil
}

func (t *tx) UpdateColumnPosition(_ context.Context, columnID uuid.UUID, position int) error {
	if err := t.write("UpdateColumnPosition"); err != nil {
		return err
	}
	c, ok := t.data.columns[columnID]
	if !ok {
		return fmt.Errorf("column %s: %w", columnID, board.ErrNotFound)
	}
	c.Position = position
	t.data.columns[columnID] = c
	return nil
}

func (t *tx) ListCards(_ context.Context, columnID uuid.UUID) ([]board.Card, error) {
	return t.data.liveCards(columnID), nil
}

func (t *tx) GetCard(_ context.Context, id uuid.UUID) (board.Card, error) {
	c, ok := t.data.cards[id]
	if !ok {
		return board.Card{}, fmt.Errorf("card %s: %w", id, board.ErrNotFound)
	}
	return c, nil
}

func (t *tx) FindCardInColumn(_ context.Context, columnID uuid.UUID, title string) (*board.Card, error) {
	for _, c := range t.data.liveCards(columnID) {
		if strings.EqualFold(c.Title, title) {
			return &c, nil
		}
	}
	return nil, nil
}

func (t *tx) FindCardOnBoard(_ context.Context, boardID uuid.UUID, title string) (*board.Card, error) {
	for _, col := range t.data.listColumns(boardID) {
		for _, c := range t.data.liveCards(col.ID) {
			if strings.EqualFold(c.Title, title) {
				return &c, nil
			}
		}
	}
	return nil, nil
}

func (t *tx) NextCardPosition(_ context.Context, columnID uuid.UUID) (int, error) {
	next := 0
	for _, c := range t.data.liveCards(columnID) {
		if c.Position >= next {
			next = c.Position + 1
		}
	}
	return next, nil
}

func (t *tx) CreateCard(_ context.Context, card *board.Card) error {
	if err := t.write("CreateCard"); err != nil {
		return err
	}
	if card.ID == uuid.Nil {
		card.ID = uuid.New()
	}
	t.data.cards[card.ID] = *card
	return nil
}

func (t *tx) UpdateCard(_ context.Context, card *board.Card) error {
	if err := t.write("UpdateCard"); err != nil {
		return err
	}
	if _, ok := t.data.cards[card.ID]; !ok {
		return fmt.Errorf("card %s: %w", card.ID, board.ErrNotFound)
	}
	t.data.cards[card.ID] = *card
	return nil
}

func (t *tx) ArchiveCard(_ context.Context, cardID uuid.UUID, by uuid.UUID) error {
	if err := t.write("ArchiveCard"); err != nil {
		return err
	}
	c, ok := t.data.cards[cardID]
	if !ok {
		return fmt.Errorf("card %s: %w", cardID, board.ErrNotFound)
	}
	if c.Archived {
		return nil
	}
	c.Archived = true
	c.ArchivedBy = &by
	t.data.cards[cardID] = c
	return nil
}

func (t *tx) FindUserByEmail(_ context.Context, email string) (*board.User, error) {
	for _, u := range t.data.users {
		if strings.EqualFold(u.Email, email) {
			return &u, nil
		}
	}
	return nil, nil
}

func (t *tx) GetUser(_ context.Context, id uuid.UUID) (board.User, error) {
	u, ok := t.data.users[id]
	if !ok {
		return board.User{}, fmt.Errorf("user %s: %w", id, board.ErrNotFound)
	}
	return u, nil
}

func (t *tx) FindLabelsByName(_ context.Context, boardID uuid.UUID, names []string) ([]board.Label, error) {
	want := make(map[string]bool, len(names))
	for _, n := range names {
		want[strings.ToLower(n)] = true
	}
	out := make([]board.Label, 0)
	for _, l := range t.data.labels {
		if l.BoardID == boardID && want[strings.ToLower(l.Name)] {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *tx) MaxLabelOrder(_ context.Context, boardID uuid.UUID) (int, error) {
	max := 0
	for _, l := range t.data.labels {
		if l.BoardID == boardID && l.DisplayOrder > max {
			max = l.DisplayOrder
		}
	}
	return max, nil
}

func (t *tx) CreateLabel(_ context.Context, label *board.Label) error {
	if err := t.write("CreateLabel"); err != nil {
		return err
	}
	for _, l := range t.data.labels {
		if l.BoardID == label.BoardID && strings.EqualFold(l.Name, label.Name) {
			return fmt.Errorf("label %q: duplicate key", label.Name)
		}
	}
	if label.ID == uuid.Nil {
		label.ID = uuid.New()
	}
	t.data.labels[label.ID] = *label
	return nil
}

func (t *tx) CardLabels(_ context.Context, cardID uuid.UUID) ([]board.Label, error) {
	out := make([]board.Label, 0)
	for _, id := range t.data.cardLabels[cardID] {
		if l, ok := t.data.labels[id]; ok {
			out = append(out, l)
		}
	}
	return out, nil
}

func (t *tx) SetCardLabels(_ context.Context, cardID uuid.UUID, labelIDs []uuid.UUID) error {
	if err := t.write("SetCardLabels"); err != nil {
		return err
	}
	if len(labelIDs) == 0 {
		delete(t.data.cardLabels, cardID)
		return nil
	}
	t.data.cardLabels[cardID] = append([]uuid.UUID(nil), labelIDs...)
	return nil
}

func (t *tx) Checklist(_ context.Context, cardID uuid.UUID) ([]board.ChecklistItem, error) {
	return append([]board.ChecklistItem(nil), t.data.checklists[cardID]...), nil
}

func (t *tx) ReplaceChecklist(_ context.Context, cardID uuid.UUID, items []board.ChecklistItem) error {
	if err := t.write("ReplaceChecklist"); err != nil {
		return err
	}
	if len(items) == 0 {
		delete(t.data.checklists, cardID)
		return nil
	}
	t.data.checklists[cardID] = append([]board.ChecklistItem(nil), items...)
	return nil
}
