package web

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/boardsheet/internal/core"
)

// multipartOverhead is headroom over the file cap for form boundaries and fields.
const multipartOverhead = 1 << 20

// formMemory is how much of the multipart form is held in memory before
// the file part spills to disk.
const formMemory = 8 << 20

// startImportResponse is the 202 body of an accepted upload.
type startImportResponse struct {
	JobID    string          `json:"jobId"`
	Mode     core.ImportMode `json:"mode"`
	State    core.JobState   `json:"state"`
	Filename string          `json:"filename"`
}

// jobResponse adds the derived percentage to a snapshot.
type jobResponse struct {
	core.JobStatus
	Percent int `json:"percent"`
}

func toJobResponse(job core.JobStatus) jobResponse {
	return jobResponse{JobStatus: job, Percent: job.Percent()}
}

// handleStartImport accepts a multipart upload with a "file" part and an
// optional "mode" field (merge or overwrite) and starts a background job.
func (s *Server) handleStartImport(w http.ResponseWriter, r *http.Request) {
	boardID, err := boardParam(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.service.MaxFileSize()+multipartOverhead)
	if err := r.ParseMultipartForm(formMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			fail(w, r, err)
			return
		}
		respondError(w, r, fmt.Errorf("invalid multipart form: %w", err), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	// Mode and file problems are left to the service so that authorization
	// is checked first.
	raw := r.FormValue("mode")
	req := core.ImportRequest{BoardID: boardID, Mode: core.ImportMode(raw)}
	if mode, err := core.ParseImportMode(raw); err == nil {
		req.Mode = mode
	}
	if file, header, err := r.FormFile("file"); err == nil {
		defer file.Close()
		req.Body, req.Filename, req.Size = file, header.Filename, header.Size
	}

	job, err := s.service.StartImport(r.Context(), req, core.ActorFromContext(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/imports/"+job.JobID)
	writeJSON(w, http.StatusAccepted, startImportResponse{
		JobID:    job.JobID,
		Mode:     job.Mode,
		State:    job.State,
		Filename: job.Filename,
	})
}

// handleGetJob returns one job snapshot.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.service.Job(r.Context(), chi.URLParam(r, "jobID"), core.ActorFromContext(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

// handleListJobs returns the board's jobs, newest first.
func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	boardID, err := boardParam(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	jobs, err := s.service.Jobs(r.Context(), boardID, core.ActorFromContext(r.Context()))
	if err != nil {
		fail(w, r, err)
		return
	}

	out := make([]jobResponse, len(jobs))
	for i, j := range jobs {
		out[i] = toJobResponse(j)
	}
	writeJSON(w, http.StatusOK, out)
}
