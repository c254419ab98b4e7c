package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/boardsheet/internal/board"
	"github.com/JonMunkholm/boardsheet/internal/core"
)

// openTestStore connects to TEST_DATABASE_URL or skips.
func openTestStore(t *testing.T) (*Store, *pgxpool.Pool) {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, url)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	s := New(pool)
	require.NoError(t, s.EnsureSchema(ctx))
	return s, pool
}

func seedBoard(t *testing.T, pool *pgxpool.Pool, role string) (board.Board, board.Actor) {
	t.Helper()
	ctx := context.Background()
	b := board.Board{ID: uuid.New(), WorkspaceID: uuid.New(), Name: "Roadmap"}
	actor := board.Actor{UserID: uuid.New(), Email: uuid.NewString() + "@example.com"}

	_, err := pool.Exec(ctx, `INSERT INTO boards (id, workspace_id, name) VALUES ($1, $2, $3)`,
		b.ID, b.WorkspaceID, b.Name)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO users (id, email) VALUES ($1, $2)`, actor.UserID, actor.Email)
	require.NoError(t, err)
	_, err = pool.Exec(ctx, `INSERT INTO board_members (board_id, user_id, role) VALUES ($1, $2, $3)`,
		b.ID, actor.UserID, role)
	require.NoError(t, err)
	return b, actor
}

func TestStore_RoleAndBoard(t *testing.T) {
	s, pool := openTestStore(t)
	b, actor := seedBoard(t, pool, "editor")
	ctx := context.Background()

	got, err := s.GetBoard(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b.Name, got.Name)

	_, err = s.GetBoard(ctx, uuid.New())
	assert.ErrorIs(t, err, board.ErrNotFound)

	role, err := s.BoardRole(ctx, actor, b.ID)
	require.NoError(t, err)
	assert.Equal(t, board.RoleEditor, role)

	role, err = s.BoardRole(ctx, board.Actor{UserID: uuid.New()}, b.ID)
	require.NoError(t, err)
	assert.Equal(t, board.RoleNone, role)
}

func TestStore_RollbackOnError(t *testing.T) {
	s, pool := openTestStore(t)
	b, _ := seedBoard(t, pool, "editor")
	ctx := context.Background()

	err := s.InTx(ctx, func(tx board.Tx) error {
		if err := tx.CreateColumn(ctx, &board.Column{BoardID: b.ID, Name: "Doomed"}); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	err = s.View(ctx, func(tx board.Tx) error {
		cols, err := tx.ListColumns(ctx, b.ID)
		require.NoError(t, err)
		assert.Empty(t, cols)
		return nil
	})
	require.NoError(t, err)
}

func TestStore_DuplicateLabelMapsToDB001(t *testing.T) {
	s, pool := openTestStore(t)
	b, _ := seedBoard(t, pool, "editor")
	ctx := context.Background()

	require.NoError(t, s.InTx(ctx, func(tx board.Tx) error {
		return tx.CreateLabel(ctx, &board.Label{BoardID: b.ID, Name: "Bug", DisplayOrder: 1})
	}))

	err := s.InTx(ctx, func(tx board.Tx) error {
		return tx.CreateLabel(ctx, &board.Label{BoardID: b.ID, Name: "BUG", DisplayOrder: 2})
	})
	require.Error(t, err)
	assert.Equal(t, "DB001", core.MapError(err).Code)
}

func TestStore_CardLifecycle(t *testing.T) {
	s, pool := openTestStore(t)
	b, actor := seedBoard(t, pool, "owner")
	ctx := context.Background()

	col := board.Column{BoardID: b.ID, Name: "To Do"}
	card := board.Card{BoardID: b.ID, Title: "Ship It", CreatedBy: actor.UserID, UpdatedBy: actor.UserID, AssigneeID: &actor.UserID}

	require.NoError(t, s.InTx(ctx, func(tx board.Tx) error {
		if err := tx.CreateColumn(ctx, &col); err != nil {
			return err
		}
		card.ColumnID = col.ID
		if err := tx.CreateCard(ctx, &card); err != nil {
			return err
		}
		label := board.Label{BoardID: b.ID, Name: "Feature", DisplayOrder: 1}
		if err := tx.CreateLabel(ctx, &label); err != nil {
			return err
		}
		if err := tx.SetCardLabels(ctx, card.ID, []uuid.UUID{label.ID}); err != nil {
			return err
		}
		return tx.ReplaceChecklist(ctx, card.ID, []board.ChecklistItem{
			{Text: "write", Checked: true, Position: 0},
			{Text: "test", Position: 1},
		})
	}))

	require.NoError(t, s.View(ctx, func(tx board.Tx) error {
		found, err := tx.FindCardInColumn(ctx, col.ID, "ship it")
		require.NoError(t, err)
		require.NotNil(t, found)
		assert.Equal(t, card.ID, found.ID)
		require.NotNil(t, found.AssigneeID)
		assert.Equal(t, actor.UserID, *found.AssigneeID)

		labels, err := tx.CardLabels(ctx, card.ID)
		require.NoError(t, err)
		require.Len(t, labels, 1)
		assert.Equal(t, "Feature", labels[0].Name)

		items, err := tx.Checklist(ctx, card.ID)
		require.NoError(t, err)
		require.Len(t, items, 2)
		assert.True(t, items[0].Checked)

		next, err := tx.NextCardPosition(ctx, col.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, next)
		return nil
	}))

	require.NoError(t, s.InTx(ctx, func(tx board.Tx) error {
		return tx.ArchiveCard(ctx, card.ID, actor.UserID)
	}))

	require.NoError(t, s.View(ctx, func(tx board.Tx) error {
		found, err := tx.FindCardOnBoard(ctx, b.ID, "Ship It")
		require.NoError(t, err)
		assert.Nil(t, found)

		got, err := tx.GetCard(ctx, card.ID)
		require.NoError(t, err)
		assert.True(t, got.Archived)
		return nil
	}))
}
