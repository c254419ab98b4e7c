package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/boardsheet/internal/board"
)

func seed(t *testing.T) (*Store, board.Board, board.Column) {
	t.Helper()
	s := New()
	b := board.Board{ID: uuid.New(), WorkspaceID: uuid.New(), Name: "Roadmap"}
	col := board.Column{ID: uuid.New(), BoardID: b.ID, Name: "To Do", Position: 0}
	s.AddBoard(b)
	s.AddColumn(col)
	return s, b, col
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	s, b, col := seed(t)
	ctx := context.Background()

	err := s.InTx(ctx, func(tx board.Tx) error {
		return tx.CreateCard(ctx, &board.Card{BoardID: b.ID, ColumnID: col.ID, Title: "A"})
	})
	require.NoError(t, err)
	assert.Len(t, s.Cards(b.ID), 1)
	assert.Equal(t, 1, s.Transactions())
}

func TestInTx_RollsBackOnError(t *testing.T) {
	s, b, col := seed(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(tx board.Tx) error {
		if err := tx.CreateCard(ctx, &board.Card{BoardID: b.ID, ColumnID: col.ID, Title: "A"}); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, s.Cards(b.ID))
	assert.Zero(t, s.Transactions())
}

func TestFault_AbortsWrite(t *testing.T) {
	s, b, _ := seed(t)
	ctx := context.Background()
	boom := errors.New("disk full")
	s.SetFault(func(op string) error {
		if op == "CreateColumn" {
			return boom
		}
		return nil
	})

	err := s.InTx(ctx, func(tx board.Tx) error {
		return tx.CreateColumn(ctx, &board.Column{BoardID: b.ID, Name: "Done"})
	})
	assert.ErrorIs(t, err, boom)
	assert.Len(t, s.Columns(b.ID), 1)
}

func TestView_IsReadOnly(t *testing.T) {
	s, b, _ := seed(t)
	ctx := context.Background()

	err := s.View(ctx, func(tx board.Tx) error {
		return tx.CreateColumn(ctx, &board.Column{BoardID: b.ID, Name: "Done"})
	})
	assert.ErrorIs(t, err, ErrReadOnly)
}

func TestLookups_AreCaseInsensitiveAndSkipArchived(t *testing.T) {
	s, b, col := seed(t)
	ctx := context.Background()
	live := board.Card{ID: uuid.New(), BoardID: b.ID, ColumnID: col.ID, Title: "Ship It", Position: 0}
	gone := board.Card{ID: uuid.New(), BoardID: b.ID, ColumnID: col.ID, Title: "old", Position: 1, Archived: true}
	s.AddCard(live)
	s.AddCard(gone)
	s.AddUser(board.User{ID: uuid.New(), Email: "Dev@Example.com"})
	s.AddLabel(board.Label{ID: uuid.New(), BoardID: b.ID, Name: "Bug", DisplayOrder: 3})

	err := s.View(ctx, func(tx board.Tx) error {
		c, err := tx.FindCardInColumn(ctx, col.ID, "ship it")
		require.NoError(t, err)
		require.NotNil(t, c)
		assert.Equal(t, live.ID, c.ID)

		c, err = tx.FindCardOnBoard(ctx, b.ID, "OLD")
		require.NoError(t, err)
		assert.Nil(t, c)

		u, err := tx.FindUserByEmail(ctx, "dev@example.com")
		require.NoError(t, err)
		assert.NotNil(t, u)

		labels, err := tx.FindLabelsByName(ctx, b.ID, []string{"BUG", "feature"})
		require.NoError(t, err)
		assert.Len(t, labels, 1)

		max, err := tx.MaxLabelOrder(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, 3, max)

		next, err := tx.NextCardPosition(ctx, col.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, next)
		return nil
	})
	require.NoError(t, err)
}

func TestBoardRole(t *testing.T) {
	s, b, _ := seed(t)
	user := uuid.New()

	role, err := s.BoardRole(context.Background(), board.Actor{UserID: user}, b.ID)
	require.NoError(t, err)
	assert.Equal(t, board.RoleNone, role)

	s.SetRole(user, b.ID, board.RoleEditor)
	role, err = s.BoardRole(context.Background(), board.Actor{UserID: user}, b.ID)
	require.NoError(t, err)
	assert.Equal(t, board.RoleEditor, role)
}

func TestGetBoard_NotFound(t *testing.T) {
	_, err := New().GetBoard(context.Background(), uuid.New())
	assert.ErrorIs(t, err, board.ErrNotFound)
}
