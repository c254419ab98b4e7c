package core

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ImportMode controls how existing cards are treated during an import.
type ImportMode string

const (
	// ModeMerge upserts cards by (column, case-insensitive title).
	ModeMerge ImportMode = "merge"
	// ModeOverwrite archives every live card on the board before the first
	// chunk, then behaves like merge.
	ModeOverwrite ImportMode = "overwrite"
)

// ParseImportMode parses the mode form value. Blank means merge.
func ParseImportMode(s string) (ImportMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", string(ModeMerge):
		return ModeMerge, nil
	case string(ModeOverwrite):
		return ModeOverwrite, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidMode, s)
	}
}

// JobState is the import job lifecycle state.
type JobState string

const (
	StatePending    JobState = "PENDING"
	StateInProgress JobState = "IN_PROGRESS"
	StateCompleted  JobState = "COMPLETED"
	StateFailed     JobState = "FAILED"
)

// rank orders states so transitions can be checked for monotonicity.
func (s JobState) rank() int {
	switch s {
	case StatePending:
		return 0
	case StateInProgress:
		return 1
	case StateCompleted, StateFailed:
		return 2
	default:
		return -1
	}
}

// Before reports whether s comes earlier in the lifecycle than o.
func (s JobState) Before(o JobState) bool {
	return s.rank() < o.rank()
}

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// RowError records a row that was skipped.
type RowError struct {
	RowNumber int    `json:"rowNumber"`
	Message   string `json:"message"`
}

// JobStatus is the externally visible state of an import job.
type JobStatus struct {
	JobID           string     `json:"jobId"`
	WorkspaceID     uuid.UUID  `json:"workspaceId"`
	BoardID         uuid.UUID  `json:"boardId"`
	Mode            ImportMode `json:"mode"`
	State           JobState   `json:"state"`
	TotalRows       int        `json:"totalRows"`
	ProcessedRows   int        `json:"processedRows"`
	SuccessCount    int        `json:"successCount"`
	FailureCount    int        `json:"failureCount"`
	Errors          []RowError `json:"errors"`
	ErrorsTruncated int        `json:"errorsTruncated,omitempty"`
	Filename        string     `json:"filename"`
	CreatedAt       time.Time  `json:"createdAt"`
	StartedAt       *time.Time `json:"startedAt,omitempty"`
	FinishedAt      *time.Time `json:"finishedAt,omitempty"`
	Message         string     `json:"message,omitempty"`
}

// Percent returns processed rows as a percentage of the total (0-100).
func (j JobStatus) Percent() int {
	if j.TotalRows <= 0 {
		if j.State.Terminal() {
			return 100
		}
		return 0
	}
	return j.ProcessedRows * 100 / j.TotalRows
}

// clone returns a deep copy safe to hand to other goroutines.
func (j *JobStatus) clone() JobStatus {
	c := *j
	c.Errors = make([]RowError, len(j.Errors))
	copy(c.Errors, j.Errors)
	if j.StartedAt != nil {
		t := *j.StartedAt
		c.StartedAt = &t
	}
	if j.FinishedAt != nil {
		t := *j.FinishedAt
		c.FinishedAt = &t
	}
	return c
}

// ImportRequest describes an uploaded workbook.
type ImportRequest struct {
	BoardID  uuid.UUID
	Filename string
	// Size is the size declared by the client; the spooler re-checks it.
	Size int64
	Body io.Reader
	Mode ImportMode
}
