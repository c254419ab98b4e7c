package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/boardsheet/internal/board"
	"github.com/JonMunkholm/boardsheet/internal/logging"
	"github.com/JonMunkholm/boardsheet/internal/metrics"
	"github.com/JonMunkholm/boardsheet/internal/sheet"
)

const (
	// DefaultChunkSize is the number of rows committed per transaction.
	DefaultChunkSize = 200

	// DefaultMaxFileSize is the upload cap (25 MiB).
	DefaultMaxFileSize int64 = 25 << 20
)

// Options tunes the import pipeline. Zero values fall back to defaults.
type Options struct {
	ChunkSize      int
	MaxFileSize    int64
	TempDir        string
	UnzipSizeLimit int64
	MaxConcurrent  int
	MaxWait        time.Duration
	MaxRowErrors   int
}

// Deps are the collaborators the service calls out to.
type Deps struct {
	Store       board.Store
	Permissions board.Permissions
	Sanitizer   board.Sanitizer
	Publisher   board.Publisher
}

// Service runs spreadsheet imports and exports for boards.
type Service struct {
	store     board.Store
	perms     board.Permissions
	sanitizer board.Sanitizer
	publisher board.Publisher

	parser   *sheet.Parser
	registry *Registry
	limiter  *ImportLimiter
	opts     Options

	// workers tracks background jobs so tests and shutdown can wait on them.
	workers sync.WaitGroup
}

// NewService wires a service. Store and Permissions are required.
func NewService(deps Deps, opts Options) (*Service, error) {
	if deps.Store == nil || deps.Permissions == nil {
		return nil, errors.New("core: store and permissions are required")
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = DefaultChunkSize
	}
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = DefaultMaxFileSize
	}
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}

	s := &Service{
		store:     deps.Store,
		perms:     deps.Permissions,
		sanitizer: deps.Sanitizer,
		publisher: deps.Publisher,
		parser:    sheet.NewParser(opts.UnzipSizeLimit),
		registry:  NewRegistry(opts.MaxRowErrors),
		limiter:   NewImportLimiter(opts.MaxConcurrent, opts.MaxWait),
		opts:      opts,
	}
	if s.sanitizer == nil {
		s.sanitizer = passthrough{}
	}
	if s.publisher == nil {
		s.publisher = discard{}
	}
	return s, nil
}

// Limiter exposes the import limiter for health reporting and drain.
func (s *Service) Limiter() *ImportLimiter { return s.limiter }

// MaxFileSize returns the effective upload cap.
func (s *Service) MaxFileSize() int64 { return s.opts.MaxFileSize }

// StartImport validates an upload, spools it to disk and starts a background
// job. On any synchronous rejection no job is created and no temp file is
// left behind. The returned snapshot is PENDING.
func (s *Service) StartImport(ctx context.Context, req ImportRequest, actor board.Actor) (JobStatus, error) {
	job, err := s.startImport(ctx, req, actor)
	if err != nil {
		metrics.UploadRejected(MapError(err).Code)
		return JobStatus{}, err
	}
	return job, nil
}

func (s *Service) startImport(ctx context.Context, req ImportRequest, actor board.Actor) (JobStatus, error) {
	b, err := s.authorize(ctx, req.BoardID, actor, board.RoleEditor)
	if err != nil {
		return JobStatus{}, err
	}
	if req.Mode == "" {
		req.Mode = ModeMerge
	}
	if req.Mode != ModeMerge && req.Mode != ModeOverwrite {
		return JobStatus{}, fmt.Errorf("%w: %q", ErrInvalidMode, req.Mode)
	}
	if req.Body == nil || req.Size == 0 {
		return JobStatus{}, ErrEmptyFile
	}
	if req.Size > s.opts.MaxFileSize {
		return JobStatus{}, fmt.Errorf("%w: %d bytes exceeds %d", ErrFileTooLarge, req.Size, s.opts.MaxFileSize)
	}

	path, size, err := spoolUpload(req.Body, s.opts.TempDir, s.opts.MaxFileSize)
	if err != nil {
		return JobStatus{}, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		os.Remove(path)
		return JobStatus{}, err
	}

	job := s.registry.Create(b.WorkspaceID, b.ID, req.Mode, req.Filename)

	log := logging.WithFields(ctx,
		"job_id", job.JobID,
		"board_id", b.ID,
		"mode", job.Mode,
		"actor", actor.UserID,
	)
	log.Info("import accepted", "filename", req.Filename, "bytes", size, "client_ip", IPAddressFromContext(ctx))

	s.workers.Add(1)
	go s.runImport(job, path, actor, log)

	return job, nil
}

// authorize resolves the board and checks the actor's role on it.
func (s *Service) authorize(ctx context.Context, boardID uuid.UUID, actor board.Actor, min board.Role) (board.Board, error) {
	if actor.IsZero() {
		return board.Board{}, ErrUnauthenticated
	}

	b, err := s.store.GetBoard(ctx, boardID)
	if errors.Is(err, board.ErrNotFound) {
		return board.Board{}, fmt.Errorf("%w: %s", ErrBoardNotFound, boardID)
	}
	if err != nil {
		return board.Board{}, fmt.Errorf("get board: %w", err)
	}

	role, err := s.perms.BoardRole(ctx, actor, boardID)
	if err != nil {
		return board.Board{}, fmt.Errorf("resolve role: %w", err)
	}
	if !role.AtLeast(min) {
		return board.Board{}, fmt.Errorf("%w: %s role on board %s, need %s", ErrForbidden, role, boardID, min)
	}
	return b, nil
}

// Job returns a job snapshot if the actor can view its board.
func (s *Service) Job(ctx context.Context, jobID string, actor board.Actor) (JobStatus, error) {
	if actor.IsZero() {
		return JobStatus{}, ErrUnauthenticated
	}
	job, ok := s.registry.Get(jobID)
	if !ok {
		return JobStatus{}, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	if _, err := s.authorize(ctx, job.BoardID, actor, board.RoleViewer); err != nil {
		return JobStatus{}, err
	}
	return job, nil
}

// Jobs lists the board's jobs, newest first.
func (s *Service) Jobs(ctx context.Context, boardID uuid.UUID, actor board.Actor) ([]JobStatus, error) {
	if _, err := s.authorize(ctx, boardID, actor, board.RoleViewer); err != nil {
		return nil, err
	}
	return s.registry.List(boardID), nil
}

// Wait blocks until every background job has finished or ctx is done.
func (s *Service) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.workers.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runImport is the background worker. Jobs are detached from the request
// context and carry no deadline.
func (s *Service) runImport(job JobStatus, path string, actor board.Actor, log *slog.Logger) {
	defer s.workers.Done()
	defer s.limiter.Release()
	defer func() {
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("remove temp file", "path", path, "error", err)
		}
	}()

	ctx := context.Background()
	start := time.Now()
	metrics.JobStarted()

	defer func() {
		if r := recover(); r != nil {
			log.Error("panic in import", "panic", r)
			s.fail(ctx, job, fmt.Errorf("internal error: %v", r), log)
		}
		final, _ := s.registry.Get(job.JobID)
		metrics.JobFinished(string(job.Mode), string(final.State), time.Since(start))
	}()

	if err := s.processImport(ctx, job, path, actor, log); err != nil {
		s.fail(ctx, job, err, log)
	}
}

func (s *Service) fail(ctx context.Context, job JobStatus, cause error, log *slog.Logger) {
	snap, err := s.registry.Fail(job.JobID, cause.Error())
	if err != nil {
		log.Error("mark job failed", "error", err, "cause", cause)
		return
	}
	log.Error("import failed",
		"error", cause,
		"processed", snap.ProcessedRows,
		"total", snap.TotalRows,
	)
	s.publishProgress(ctx, snap, log)
}

func (s *Service) publishProgress(ctx context.Context, snap JobStatus, log *slog.Logger) {
	if err := s.publisher.Publish(ctx, board.ImportTopic(snap.BoardID, snap.JobID), snap); err != nil {
		log.Warn("publish progress", "error", err)
	}
}

func (s *Service) publishEvents(ctx context.Context, boardID uuid.UUID, evts []board.Event, log *slog.Logger) {
	topic := board.BoardTopic(boardID)
	for _, e := range evts {
		if err := s.publisher.Publish(ctx, topic, e); err != nil {
			log.Warn("publish board event", "type", e.Type, "error", err)
		}
	}
}

type passthrough struct{}

func (passthrough) Sanitize(s string) string { return s }

type discard struct{}

func (discard) Publish(context.Context, string, any) error { return nil }
