package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/JonMunkholm/boardsheet/internal/board"
)

const uniqueViolation = "23505"

// tx implements board.Tx on a pgx transaction.
type tx struct {
	q pgx.Tx
}

const cardColumns = `id, board_id, column_id, title, description, position,
	assignee_id, due_date, priority, parent_id, archived, created_by, updated_by, archived_by`

func scanCard(row pgx.CollectableRow) (board.Card, error) {
	var c board.Card
	err := row.Scan(&c.ID, &c.BoardID, &c.ColumnID, &c.Title, &c.Description, &c.Position,
		&c.AssigneeID, &c.DueDate, &c.Priority, &c.ParentID, &c.Archived,
		&c.CreatedBy, &c.UpdatedBy, &c.ArchivedBy)
	return c, err
}

func scanColumn(row pgx.CollectableRow) (board.Column, error) {
	var c board.Column
	err := row.Scan(&c.ID, &c.BoardID, &c.Name, &c.Position)
	return c, err
}

func scanLabel(row pgx.CollectableRow) (board.Label, error) {
	var l board.Label
	err := row.Scan(&l.ID, &l.BoardID, &l.Name, &l.DisplayOrder)
	return l, err
}

// oneCard returns the first card of the query, or nil when there is none.
func (t *tx) oneCard(ctx context.Context, sql string, args ...any) (*board.Card, error) {
	rows, err := t.q.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	c, err := pgx.CollectOneRow(rows, scanCard)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (t *tx) ListColumns(ctx context.Context, boardID uuid.UUID) ([]board.Column, error) {
	rows, err := t.q.Query(ctx,
		`SELECT id, board_id, name, position FROM board_columns
		 WHERE board_id = $1 ORDER BY position, lower(name)`, boardID)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	cols, err := pgx.CollectRows(rows, scanColumn)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	return cols, nil
}

func (t *tx) CreateColumn(ctx context.Context, col *board.Column) error {
	if col.ID == uuid.Nil {
		col.ID = uuid.New()
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO board_columns (id, board_id, name, position) VALUES ($1, $2, $3, $4)`,
		col.ID, col.BoardID, col.Name, col.Position)
	if err != nil {
		return fmt.Errorf("create column %q: %w", col.Name, err)
	}
	return nil
}

func (t *tx) UpdateColumnPosition(ctx context.Context, columnID uuid.UUID, position int) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE board_columns SET position = $2 WHERE id = $1`, columnID, position)
	if err != nil {
		return fmt.Errorf("move column: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("column %s: %w", columnID, board.ErrNotFound)
	}
	return nil
}

func (t *tx) ListCards(ctx context.Context, columnID uuid.UUID) ([]board.Card, error) {
	rows, err := t.q.Query(ctx,
		`SELECT `+cardColumns+` FROM cards
		 WHERE column_id = $1 AND NOT archived ORDER BY position, id`, columnID)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	cards, err := pgx.CollectRows(rows, scanCard)
	if err != nil {
		return nil, fmt.Errorf("list cards: %w", err)
	}
	return cards, nil
}

func (t *tx) GetCard(ctx context.Context, id uuid.UUID) (board.Card, error) {
	c, err := t.oneCard(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = $1`, id)
	if err != nil {
		return board.Card{}, fmt.Errorf("get card: %w", err)
	}
	if c == nil {
		return board.Card{}, fmt.Errorf("card %s: %w", id, board.ErrNotFound)
	}
	return *c, nil
}

func (t *tx) FindCardInColumn(ctx context.Context, columnID uuid.UUID, title string) (*board.Card, error) {
	c, err := t.oneCard(ctx,
		`SELECT `+cardColumns+` FROM cards
		 WHERE column_id = $1 AND lower(title) = lower($2) AND NOT archived
		 ORDER BY position, id LIMIT 1`, columnID, title)
	if err != nil {
		return nil, fmt.Errorf("find card in column: %w", err)
	}
	return c, nil
}

func (t *tx) FindCardOnBoard(ctx context.Context, boardID uuid.UUID, title string) (*board.Card, error) {
	c, err := t.oneCard(ctx,
		`SELECT c.id, c.board_id, c.column_id, c.title, c.description, c.position,
		        c.assignee_id, c.due_date, c.priority, c.parent_id, c.archived,
		        c.created_by, c.updated_by, c.archived_by
		 FROM cards c JOIN board_columns col ON col.id = c.column_id
		 WHERE c.board_id = $1 AND lower(c.title) = lower($2) AND NOT c.archived
		 ORDER BY col.position, c.position, c.id LIMIT 1`, boardID, title)
	if err != nil {
		return nil, fmt.Errorf("find card on board: %w", err)
	}
	return c, nil
}

func (t *tx) NextCardPosition(ctx context.Context, columnID uuid.UUID) (int, error) {
	var next int
	err := t.q.QueryRow(ctx,
		`SELECT COALESCE(MAX(position) + 1, 0) FROM cards WHERE column_id = $1 AND NOT archived`,
		columnID).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("next card position: %w", err)
	}
	return next, nil
}

func (t *tx) CreateCard(ctx context.Context, c *board.Card) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO cards (`+cardColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		c.ID, c.BoardID, c.ColumnID, c.Title, c.Description, c.Position,
		c.AssigneeID, c.DueDate, c.Priority, c.ParentID, c.Archived,
		c.CreatedBy, c.UpdatedBy, c.ArchivedBy)
	if err != nil {
		return fmt.Errorf("create card %q: %w", c.Title, err)
	}
	return nil
}

func (t *tx) UpdateCard(ctx context.Context, c *board.Card) error {
	tag, err := t.q.Exec(ctx,
		`UPDATE cards SET column_id = $2, title = $3, description = $4, position = $5,
		        assignee_id = $6, due_date = $7, priority = $8, parent_id = $9,
		        updated_by = $10, updated_at = now()
		 WHERE id = $1`,
		c.ID, c.ColumnID, c.Title, c.Description, c.Position,
		c.AssigneeID, c.DueDate, c.Priority, c.ParentID, c.UpdatedBy)
	if err != nil {
		return fmt.Errorf("update card %q: %w", c.Title, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("card %s: %w", c.ID, board.ErrNotFound)
	}
	return nil
}

func (t *tx) ArchiveCard(ctx context.Context, cardID uuid.UUID, by uuid.UUID) error {
	var archived bool
	err := t.q.QueryRow(ctx,
		`SELECT archived FROM cards WHERE id = $1 FOR UPDATE`, cardID).Scan(&archived)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("card %s: %w", cardID, board.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("archive card: %w", err)
	}
	if archived {
		return nil
	}

	_, err = t.q.Exec(ctx,
		`UPDATE cards SET archived = TRUE, archived_by = $2, updated_by = $2, updated_at = now()
		 WHERE id = $1`, cardID, by)
	if err != nil {
		return fmt.Errorf("archive card: %w", err)
	}
	return nil
}

func (t *tx) FindUserByEmail(ctx context.Context, email string) (*board.User, error) {
	var u board.User
	err := t.q.QueryRow(ctx,
		`SELECT id, email FROM users WHERE lower(email) = lower($1)`, email,
	).Scan(&u.ID, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

func (t *tx) GetUser(ctx context.Context, id uuid.UUID) (board.User, error) {
	var u board.User
	err := t.q.QueryRow(ctx, `SELECT id, email FROM users WHERE id = $1`, id).Scan(&u.ID, &u.Email)
	if errors.Is(err, pgx.ErrNoRows) {
		return board.User{}, fmt.Errorf("user %s: %w", id, board.ErrNotFound)
	}
	if err != nil {
		return board.User{}, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func (t *tx) FindLabelsByName(ctx context.Context, boardID uuid.UUID, names []string) ([]board.Label, error) {
	if len(names) == 0 {
		return []board.Label{}, nil
	}
	lowered := make([]string, len(names))
	for i, n := range names {
		lowered[i] = strings.ToLower(n)
	}

	rows, err := t.q.Query(ctx,
		`SELECT id, board_id, name, display_order FROM labels
		 WHERE board_id = $1 AND lower(name) = ANY($2)`, boardID, lowered)
	if err != nil {
		return nil, fmt.Errorf("find labels: %w", err)
	}
	labels, err := pgx.CollectRows(rows, scanLabel)
	if err != nil {
		return nil, fmt.Errorf("find labels: %w", err)
	}
	return labels, nil
}

func (t *tx) MaxLabelOrder(ctx context.Context, boardID uuid.UUID) (int, error) {
	var max int
	err := t.q.QueryRow(ctx,
		`SELECT COALESCE(MAX(display_order), 0) FROM labels WHERE board_id = $1`, boardID,
	).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max label order: %w", err)
	}
	return max, nil
}

func (t *tx) CreateLabel(ctx context.Context, l *board.Label) error {
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	_, err := t.q.Exec(ctx,
		`INSERT INTO labels (id, board_id, name, display_order) VALUES ($1, $2, $3, $4)`,
		l.ID, l.BoardID, l.Name, l.DisplayOrder)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("label %q: duplicate key: %w", l.Name, err)
	}
	if err != nil {
		return fmt.Errorf("create label %q: %w", l.Name, err)
	}
	return nil
}

func (t *tx) CardLabels(ctx context.Context, cardID uuid.UUID) ([]board.Label, error) {
	rows, err := t.q.Query(ctx,
		`SELECT l.id, l.board_id, l.name, l.display_order
		 FROM card_labels cl JOIN labels l ON l.id = cl.label_id
		 WHERE cl.card_id = $1 ORDER BY cl.position`, cardID)
	if err != nil {
		return nil, fmt.Errorf("card labels: %w", err)
	}
	labels, err := pgx.CollectRows(rows, scanLabel)
	if err != nil {
		return nil, fmt.Errorf("card labels: %w", err)
	}
	return labels, nil
}

func (t *tx) SetCardLabels(ctx context.Context, cardID uuid.UUID, labelIDs []uuid.UUID) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM card_labels WHERE card_id = $1`, cardID); err != nil {
		return fmt.Errorf("clear card labels: %w", err)
	}
	if len(labelIDs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for i, id := range labelIDs {
		batch.Queue(`INSERT INTO card_labels (card_id, label_id, position) VALUES ($1, $2, $3)`,
			cardID, id, i)
	}
	if err := t.q.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("set card labels: %w", err)
	}
	return nil
}

func (t *tx) Checklist(ctx context.Context, cardID uuid.UUID) ([]board.ChecklistItem, error) {
	rows, err := t.q.Query(ctx,
		`SELECT id, card_id, text, checked, position FROM checklist_items
		 WHERE card_id = $1 ORDER BY position`, cardID)
	if err != nil {
		return nil, fmt.Errorf("checklist: %w", err)
	}
	items, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (board.ChecklistItem, error) {
		var it board.ChecklistItem
		err := row.Scan(&it.ID, &it.CardID, &it.Text, &it.Checked, &it.Position)
		return it, err
	})
	if err != nil {
		return nil, fmt.Errorf("checklist: %w", err)
	}
	return items, nil
}

func (t *tx) ReplaceChecklist(ctx context.Context, cardID uuid.UUID, items []board.ChecklistItem) error {
	if _, err := t.q.Exec(ctx, `DELETE FROM checklist_items WHERE card_id = $1`, cardID); err != nil {
		return fmt.Errorf("clear checklist: %w", err)
	}
	if len(items) == 0 {
		return nil
	}

	rows := make([][]any, len(items))
	for i, it := range items {
		id := it.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		rows[i] = []any{id, cardID, it.Text, it.Checked, it.Position}
	}
	_, err := t.q.CopyFrom(ctx,
		pgx.Identifier{"checklist_items"},
		[]string{"id", "card_id", "text", "checked", "position"},
		pgx.CopyFromRows(rows))
	if err != nil {
		return fmt.Errorf("replace checklist: %w", err)
	}
	return nil
}
