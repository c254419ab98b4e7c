// Package memory is an in-process implementation of board.Store and
// board.Permissions. Transactions work on a copy of the data that replaces
// the live state on commit, so a failed transaction leaves nothing behind.
// Transactions are serialized by a single mutex.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/boardsheet/internal/board"
)

type roleKey struct {
	user  uuid.UUID
	board uuid.UUID
}

type state struct {
	boards     map[uuid.UUID]board.Board
	columns    map[uuid.UUID]board.Column
	cards      map[uuid.UUID]board.Card
	labels     map[uuid.UUID]board.Label
	cardLabels map[uuid.UUID][]uuid.UUID
	checklists map[uuid.UUID][]board.ChecklistItem
	users      map[uuid.UUID]board.User
	roles      map[roleKey]board.Role
}

func newState() *state {
	return &state{
		boards:     make(map[uuid.UUID]board.Board),
		columns:    make(map[uuid.UUID]board.Column),
		cards:      make(map[uuid.UUID]board.Card),
		labels:     make(map[uuid.UUID]board.Label),
		cardLabels: make(map[uuid.UUID][]uuid.UUID),
		checklists: make(map[uuid.UUID][]board.ChecklistItem),
		users:      make(map[uuid.UUID]board.User),
		roles:      make(map[roleKey]board.Role),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.boards {
		c.boards[k] = v
	}
	for k, v := range s.columns {
		c.columns[k] = v
	}
	for k, v := range s.cards {
		c.cards[k] = v
	}
	for k, v := range s.labels {
		c.labels[k] = v
	}
	for k, v := range s.cardLabels {
		c.cardLabels[k] = append([]uuid.UUID(nil), v...)
	}
	for k, v := range s.checklists {
		c.checklists[k] = append([]board.ChecklistItem(nil), v...)
	}
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.roles {
		c.roles[k] = v
	}
	return c
}

// FaultFunc is consulted before every write; a non-nil error aborts the
// write and, with it, the transaction. Used by tests.
type FaultFunc func(op string) error

// Store is the in-memory store.
type Store struct {
	mu    sync.Mutex
	data  *state
	fault FaultFunc
	txs   int
}

// New creates an empty store.
func New() *Store {
	return &Store{data: newState()}
}

// SetFault installs fn as the write fault hook. Nil removes it.
func (s *Store) SetFault(fn FaultFunc) {
	s.mu.Lock()
	s.fault = fn
	s.mu.Unlock()
}

// Transactions returns how many write transactions were committed.
func (s *Store) Transactions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.txs
}

// GetBoard implements board.Store.
func (s *Store) GetBoard(_ context.Context, id uuid.UUID) (board.Board, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.data.boards[id]
	if !ok {
		return board.Board{}, board.ErrNotFound
	}
	return b, nil
}

// InTx implements board.Store.
func (s *Store) InTx(_ context.Context, fn func(board.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.data.clone()
	if err := fn(&tx{data: work, fault: s.fault}); err != nil {
		return err
	}
	s.data = work
	s.txs++
	return nil
}

// View implements board.Store. Writes inside View fail.
func (s *Store) View(_ context.Context, fn func(board.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return fn(&tx{data: s.data, readOnly: true})
}

// BoardRole implements board.Permissions.
func (s *Store) BoardRole(_ context.Context, actor board.Actor, boardID uuid.UUID) (board.Role, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.roles[roleKey{user: actor.UserID, board: boardID}], nil
}

// Seeding helpers. They write straight to the live state.

// AddBoard stores a board.
func (s *Store) AddBoard(b board.Board) {
	s.mu.Lock()
	s.data.boards[b.ID] = b
	s.mu.Unlock()
}

// AddUser stores a user.
func (s *Store) AddUser(u board.User) {
	s.mu.Lock()
	s.data.users[u.ID] = u
	s.mu.Unlock()
}

// SetRole grants userID a role on boardID.
func (s *Store) SetRole(userID, boardID uuid.UUID, role board.Role) {
	s.mu.Lock()
	s.data.roles[roleKey{user: userID, board: boardID}] = role
	s.mu.Unlock()
}

// AddColumn stores a column.
func (s *Store) AddColumn(c board.Column) {
	s.mu.Lock()
	s.data.columns[c.ID] = c
	s.mu.Unlock()
}

// AddCard stores a card.
func (s *Store) AddCard(c board.Card) {
	s.mu.Lock()
	s.data.cards[c.ID] = c
	s.mu.Unlock()
}

// AddLabel stores a label.
func (s *Store) AddLabel(l board.Label) {
	s.mu.Lock()
	s.data.labels[l.ID] = l
	s.mu.Unlock()
}

// Inspection helpers for tests and the demo server.

// Columns returns the board's columns ordered by position.
func (s *Store) Columns(boardID uuid.UUID) []board.Column {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.listColumns(boardID)
}

// Cards returns every card on the board, archived ones included.
func (s *Store) Cards(boardID uuid.UUID) []board.Card {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]board.Card, 0)
	for _, c := range s.data.cards {
		if c.BoardID == boardID {
			out = append(out, c)
		}
	}
	sortCards(out)
	return out
}

// Labels returns the board's labels ordered by display order.
func (s *Store) Labels(boardID uuid.UUID) []board.Label {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]board.Label, 0)
	for _, l := range s.data.labels {
		if l.BoardID == boardID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DisplayOrder < out[j].DisplayOrder })
	return out
}

// CardLabelNames returns the names of a card's labels.
func (s *Store) CardLabelNames(cardID uuid.UUID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0)
	for _, id := range s.data.cardLabels[cardID] {
		names = append(names, s.data.labels[id].Name)
	}
	return names
}

// ChecklistOf returns a card's checklist.
func (s *Store) ChecklistOf(cardID uuid.UUID) []board.ChecklistItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]board.ChecklistItem(nil), s.data.checklists[cardID]...)
}

func (s *state) listColumns(boardID uuid.UUID) []board.Column {
	out := make([]board.Column, 0)
	for _, c := range s.columns {
		if c.BoardID == boardID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

func (s *state) liveCards(columnID uuid.UUID) []board.Card {
	out := make([]board.Card, 0)
	for _, c := range s.cards {
		if c.ColumnID == columnID && !c.Archived {
			out = append(out, c)
		}
	}
	sortCards(out)
	return out
}

func sortCards(cards []board.Card) {
	sort.Slice(cards, func(i, j int) bool {
		if cards[i].Position != cards[j].Position {
			return cards[i].Position < cards[j].Position
		}
		return cards[i].ID.String() < cards[j].ID.String()
	})
}
