package core

// import.go is the background half of an import: the count pass, the
// optional upfront archive, the parse pass that buffers rows into
// fixed-size chunks, and a final pass linking parents that appeared later. Each chunk commits in its own transaction, so a failure
// halfway through leaves earlier chunks in place and marks the job FAILED.

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/JonMunkholm/boardsheet/internal/board"
	"github.com/JonMunkholm/boardsheet/internal/metrics"
	"github.com/JonMunkholm/boardsheet/internal/sheet"
)

func (s *Service) processImport(ctx context.Context, job JobStatus, path string, actor board.Actor, log *slog.Logger) error {
	total, err := s.parser.Count(path)
	if err != nil {
		return fmt.Errorf("count rows: %w", err)
	}

	snap, err := s.registry.Start(job.JobID, total)
	if err != nil {
		return err
	}
	log.Info("import started", "total_rows", total)
	s.publishProgress(ctx, snap, log)

	imp := newImporter(job.BoardID, job.Mode, actor, s.sanitizer)

	if job.Mode == ModeOverwrite {
		err := s.store.InTx(ctx, func(tx board.Tx) error {
			return imp.archiveExisting(ctx, tx)
		})
		if err != nil {
			return fmt.Errorf("archive existing cards: %w", err)
		}
		log.Info("archived existing cards", "cards", len(imp.events))
		s.publishEvents(ctx, job.BoardID, imp.drainEvents(), log)
	}

	var (
		chunk     = make([]sheet.RowRecord, 0, s.opts.ChunkSize)
		chunkNo   int
		processed int
		success   int
		failure   int
	)

	flush := func() error {
		chunkNo++
		started := time.Now()

		var res chunkResult
		err := s.store.InTx(ctx, func(tx board.Tx) error {
			var err error
			res, err = imp.persistChunk(ctx, tx, chunk)
			return err
		})
		if err != nil {
			return fmt.Errorf("chunk %d: %w", chunkNo, err)
		}
		metrics.ChunkPersisted(time.Since(started))
		metrics.RowsProcessed(res.success, len(res.errors))

		processed += len(chunk)
		success += res.success
		failure += len(res.errors)
		chunk = chunk[:0]

		if err := s.registry.AppendErrors(job.JobID, res.errors...); err != nil {
			return err
		}
		snap, err := s.registry.UpdateProgress(job.JobID, processed, success, failure)
		if err != nil {
			return err
		}

		log.Debug("chunk committed",
			"chunk", chunkNo,
			"processed", processed,
			"failed", len(res.errors),
			"duration", time.Since(started),
		)
		s.publishProgress(ctx, snap, log)
		s.publishEvents(ctx, job.BoardID, imp.drainEvents(), log)
		return nil
	}

	err = s.parser.Parse(path, func(r sheet.RowRecord) error {
		chunk = append(chunk, r)
		if len(chunk) >= s.opts.ChunkSize {
			return flush()
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("parse workbook: %w", err)
	}
	if len(chunk) > 0 {
		if err := flush(); err != nil {
			return err
		}
	}

	if len(imp.unlinked) > 0 {
		var linked int
		err := s.store.InTx(ctx, func(tx board.Tx) error {
			var err error
			linked, err = imp.linkParents(ctx, tx)
			return err
		})
		if err != nil {
			return fmt.Errorf("link parents: %w", err)
		}
		log.Debug("linked forward parents", "pending", len(imp.unlinked), "linked", linked)
		s.publishEvents(ctx, job.BoardID, imp.drainEvents(), log)
	}

	msg := fmt.Sprintf("imported %d of %d rows (%d failed)", success, total, failure)
	snap, err = s.registry.Complete(job.JobID, msg)
	if err != nil {
		return err
	}
	log.Info("import completed",
		"total_rows", total,
		"succeeded", success,
		"failed", failure,
		"chunks", chunkNo,
	)
	s.publishProgress(ctx, snap, log)
	return nil
}
