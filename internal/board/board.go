// Package board defines the project-board entities touched by spreadsheet
// import and export, and the collaborator interfaces the pipeline consumes.
//
// Persistence, permissions, sanitization and event fan-out live behind the
// interfaces in this package so the import pipeline can run against Postgres
// in production and an in-memory store in tests.
package board

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by stores when a looked-up entity does not exist.
var ErrNotFound = errors.New("not found")

// Board is the container of columns. Only the fields the pipeline needs.
type Board struct {
	ID          uuid.UUID
	WorkspaceID uuid.UUID
	Name        string
}

// Column is an ordered lane on a board.
type Column struct {
	ID       uuid.UUID
	BoardID  uuid.UUID
	Name     string
	Position int
}

// Card is a work item inside a column. Archived cards are soft-deleted.
type Card struct {
	ID          uuid.UUID
	BoardID     uuid.UUID
	ColumnID    uuid.UUID
	Title       string
	Description string
	Position    int
	AssigneeID  *uuid.UUID
	DueDate     *time.Time
	Priority    string
	ParentID    *uuid.UUID
	Archived    bool
	CreatedBy   uuid.UUID
	UpdatedBy   uuid.UUID
	ArchivedBy  *uuid.UUID
}

// Label is a board-scoped tag. Names are unique per board, case-insensitively.
type Label struct {
	ID           uuid.UUID
	BoardID      uuid.UUID
	Name         string
	DisplayOrder int
}

// ChecklistItem is one entry of a card's checklist.
type ChecklistItem struct {
	ID       uuid.UUID
	CardID   uuid.UUID
	Text     string
	Checked  bool
	Position int
}

// User is the minimal user projection used for assignee resolution.
type User struct {
	ID    uuid.UUID
	Email string
}

// Actor is the authenticated identity on whose behalf an operation runs.
// It is used for permission checks and for attribution of writes.
type Actor struct {
	UserID uuid.UUID
	Email  string
}

// IsZero reports whether no identity was attached.
func (a Actor) IsZero() bool {
	return a.UserID == uuid.Nil
}

// Role is a member's role on a board, ordered from least to most privileged.
type Role int

const (
	RoleNone Role = iota
	RoleViewer
	RoleEditor
	RoleAdmin
	RoleOwner
)

// ParseRole converts a stored role name into a Role.
// Unknown names map to RoleNone.
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "viewer":
		return RoleViewer
	case "editor":
		return RoleEditor
	case "admin":
		return RoleAdmin
	case "owner":
		return RoleOwner
	default:
		return RoleNone
	}
}

func (r Role) String() string {
	switch r {
	case RoleViewer:
		return "viewer"
	case RoleEditor:
		return "editor"
	case RoleAdmin:
		return "admin"
	case RoleOwner:
		return "owner"
	default:
		return "none"
	}
}

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}
