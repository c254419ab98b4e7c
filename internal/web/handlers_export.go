package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/JonMunkholm/boardsheet/internal/core"
	"github.com/JonMunkholm/boardsheet/internal/logging"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// handleExport streams the board as an xlsx workbook in the import layout.
func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	boardID, err := boardParam(r)
	if err != nil {
		fail(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.Export.Timeout)
	defer cancel()

	exp, err := s.service.ExportBoard(ctx, boardID, core.ActorFromContext(ctx))
	if err != nil {
		fail(w, r, err)
		return
	}
	defer exp.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", exp.Filename))
	w.Header().Set("Cache-Control", "no-store")

	// Headers are out once the first byte is written, so a failure here can only be logged.
	if _, err := exp.WriteTo(w); err != nil {
		logging.FromContext(r.Context()).Error("export stream failed", "board_id", boardID, "error", err)
	}
}
