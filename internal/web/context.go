package web

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/JonMunkholm/boardsheet/internal/core"
)

// boardParam parses the {boardID} URL parameter. A malformed id cannot name
// a board, so it is reported as not found.
func boardParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "boardID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %q", core.ErrBoardNotFound, raw)
	}
	return id, nil
}

// jobForBoard loads a job the caller can see and checks it belongs to the
// board in the URL.
func (s *Server) jobForBoard(r *http.Request) (core.JobStatus, error) {
	boardID, err := boardParam(r)
	if err != nil {
		return core.JobStatus{}, err
	}
	jobID := chi.URLParam(r, "jobID")

	job, err := s.service.Job(r.Context(), jobID, core.ActorFromContext(r.Context()))
	if err != nil {
		return core.JobStatus{}, err
	}
	if job.BoardID != boardID {
		return core.JobStatus{}, fmt.Errorf("%w: %s on board %s", core.ErrJobNotFound, jobID, boardID)
	}
	return job, nil
}
