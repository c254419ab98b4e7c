// Package postgres implements board.Store and board.Permissions on top of a
// pgx connection pool. Every InTx call begins a fresh transaction on the
// pool, so chunks committed by an import never share a transaction.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/boardsheet/internal/board"
)

//go:embed schema.sql
var schemaSQL string

// Store is the Postgres store.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// EnsureSchema creates the tables the pipeline needs if they are missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Ping checks the pool can reach the database.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// GetBoard implements board.Store.
func (s *Store) GetBoard(ctx context.Context, id uuid.UUID) (board.Board, error) {
	var b board.Board
	err := s.pool.QueryRow(ctx,
		`SELECT id, workspace_id, name FROM boards WHERE id = $1`, id,
	).Scan(&b.ID, &b.WorkspaceID, &b.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return board.Board{}, board.ErrNotFound
	}
	if err != nil {
		return board.Board{}, fmt.Errorf("get board %s: %w", id, err)
	}
	return b, nil
}

// InTx implements board.Store.
func (s *Store) InTx(ctx context.Context, fn func(board.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{}, fn)
}

// View implements board.Store with a read-only transaction.
func (s *Store) View(ctx context.Context, fn func(board.Tx) error) error {
	return s.run(ctx, pgx.TxOptions{AccessMode: pgx.ReadOnly}, fn)
}

func (s *Store) run(ctx context.Context, opts pgx.TxOptions, fn func(board.Tx) error) error {
	pgtx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer pgtx.Rollback(ctx) // No-op if already committed

	if err := fn(&tx{q: pgtx}); err != nil {
		return err
	}

	if err := pgtx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// BoardRole implements board.Permissions. Non-members get RoleNone.
func (s *Store) BoardRole(ctx context.Context, actor board.Actor, boardID uuid.UUID) (board.Role, error) {
	var role string
	err := s.pool.QueryRow(ctx,
		`SELECT role FROM board_members WHERE board_id = $1 AND user_id = $2`,
		boardID, actor.UserID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return board.RoleNone, nil
	}
	if err != nil {
		return board.RoleNone, fmt.Errorf("board role: %w", err)
	}
	return board.ParseRole(role), nil
}
