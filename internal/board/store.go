package board

import (
	"context"

	"github.com/google/uuid"
)

// Store is the persistence collaborator for boards and their contents.
type Store interface {
	// GetBoard returns ErrNotFound when the board does not exist.
	GetBoard(ctx context.Context, id uuid.UUID) (Board, error)

	// InTx runs fn inside a brand-new transaction, never joining one that
	// may already be associated with ctx. fn's error rolls the transaction
	// back; a nil return commits it.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// View runs fn with a read-only view of the store.
	View(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the set of reads and writes available inside a transaction.
// Title and name lookups are case-insensitive. Card lookups and listings
// only see live (non-archived) cards.
type Tx interface {
	ListColumns(ctx context.Context, boardID uuid.UUID) ([]Column, error)
	CreateColumn(ctx context.Context, col *Column) error
	UpdateColumnPosition(ctx context.Context, columnID uuid.UUID, position int) error

	ListCards(ctx context.Context, columnID uuid.UUID) ([]Card, error)
	GetCard(ctx context.Context, id uuid.UUID) (Card, error)
	FindCardInColumn(ctx context.Context, columnID uuid.UUID, title string) (*Card, error)
	FindCardOnBoard(ctx context.Context, boardID uuid.UUID, title string) (*Card, error)
	NextCardPosition(ctx context.Context, columnID uuid.UUID) (int, error)
	CreateCard(ctx context.Context, card *Card) error
	UpdateCard(ctx context.Context, card *Card) error
	ArchiveCard(ctx context.Context, cardID uuid.UUID, by uuid.UUID) error

	FindUserByEmail(ctx context.Context, email string) (*User, error)
	GetUser(ctx context.Context, id uuid.UUID) (User, error)

	FindLabelsByName(ctx context.Context, boardID uuid.UUID, names []string) ([]Label, error)
	MaxLabelOrder(ctx context.Context, boardID uuid.UUID) (int, error)
	CreateLabel(ctx context.Context, label *Label) error
	CardLabels(ctx context.Context, cardID uuid.UUID) ([]Label, error)
	SetCardLabels(ctx context.Context, cardID uuid.UUID, labelIDs []uuid.UUID) error

	Checklist(ctx context.Context, cardID uuid.UUID) ([]ChecklistItem, error)
	ReplaceChecklist(ctx context.Context, cardID uuid.UUID, items []ChecklistItem) error
}

// Permissions resolves an actor's role on a board.
type Permissions interface {
	BoardRole(ctx context.Context, actor Actor, boardID uuid.UUID) (Role, error)
}

// Sanitizer cleans user-supplied rich text before it is stored.
type Sanitizer interface {
	Sanitize(s string) string
}

// Publisher delivers messages to topic subscribers. Delivery is best effort;
// subscribers must tolerate duplicates.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}
