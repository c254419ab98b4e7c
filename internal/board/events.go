package board

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType names a board change for downstream notification.
type EventType string

const (
	EventColumnCreated EventType = "column.created"
	EventColumnMoved   EventType = "column.moved"
	EventCardCreated   EventType = "card.created"
	EventCardUpdated   EventType = "card.updated"
	EventCardArchived  EventType = "card.archived"
	EventLabelCreated  EventType = "label.created"
)

// Event is a board change notification.
type Event struct {
	Type     EventType `json:"type"`
	BoardID  uuid.UUID `json:"boardId"`
	EntityID uuid.UUID `json:"entityId"`
	ActorID  uuid.UUID `json:"actorId"`
	At       time.Time `json:"at"`
}

// BoardTopic is the topic carrying change events for a board.
func BoardTopic(boardID uuid.UUID) string {
	return fmt.Sprintf("/topic/boards/%s", boardID)
}

// ImportTopic is the topic carrying progress snapshots for one import job.
func ImportTopic(boardID uuid.UUID, jobID string) string {
	return fmt.Sprintf("/topic/boards/%s/imports/%s", boardID, jobID)
}
