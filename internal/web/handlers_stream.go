package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/JonMunkholm/boardsheet/internal/board"
	"github.com/JonMunkholm/boardsheet/internal/core"
	"github.com/JonMunkholm/boardsheet/internal/events"
	"github.com/JonMunkholm/boardsheet/internal/logging"
	"github.com/JonMunkholm/boardsheet/internal/metrics"
)

const wsWriteWait = 10 * time.Second

// progressFeed yields the snapshots a stream client should see: the current
// snapshot first, then every published one, until the job is terminal.
// A snapshot is sent when it moves the job to a later state or past the
// `after` row count; terminal snapshots are always sent.
type progressFeed struct {
	sub   *events.Subscription
	first core.JobStatus
	after int
	state core.JobState
}

// openFeed subscribes before reading the current snapshot so nothing
// published in between is lost.
func (s *Server) openFeed(r *http.Request, after int) (*progressFeed, error) {
	boardID, err := boardParam(r)
	if err != nil {
		return nil, err
	}
	sub := s.hub.Subscribe(board.ImportTopic(boardID, chi.URLParam(r, "jobID")))

	job, err := s.jobForBoard(r)
	if err != nil {
		sub.Close()
		return nil, err
	}
	return newProgressFeed(sub, job, after), nil
}

// newProgressFeed seeds the cursor. A client resuming past row 0 has
// already seen the job running.
func newProgressFeed(sub *events.Subscription, first core.JobStatus, after int) *progressFeed {
	f := &progressFeed{sub: sub, first: first, after: after}
	switch {
	case after > 0:
		f.state = core.StateInProgress
	case after == 0:
		f.state = core.StatePending
	}
	return f
}

func (f *progressFeed) close() { f.sub.Close() }

// wanted reports whether snap should be sent and advances the cursor.
func (f *progressFeed) wanted(snap core.JobStatus) bool {
	advanced := f.state.Before(snap.State)
	if !advanced && snap.ProcessedRows <= f.after && !snap.State.Terminal() {
		return false
	}
	if advanced {
		f.state = snap.State
	}
	if snap.ProcessedRows > f.after {
		f.after = snap.ProcessedRows
	}
	return true
}

// next blocks for the next snapshot. ok is false when the hub closed.
func (f *progressFeed) next(ctx context.Context, keepAlive <-chan time.Time) (snap core.JobStatus, tick, ok bool) {
	for {
		select {
		case <-ctx.Done():
			return core.JobStatus{}, false, false
		case <-keepAlive:
			return core.JobStatus{}, true, true
		case msg, open := <-f.sub.C():
			if !open {
				return core.JobStatus{}, false, false
			}
			snap, isJob := msg.Payload.(core.JobStatus)
			if !isJob {
				continue
			}
			return snap, false, true
		}
	}
}

// lastEventID reads the SSE resume cursor from the header or query.
func lastEventID(r *http.Request) int {
	raw := r.Header.Get("Last-Event-ID")
	if raw == "" {
		raw = r.URL.Query().Get("lastEventId")
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return -1
	}
	return n
}

// handleImportEvents streams job snapshots as Server-Sent Events. The event
// id is the processed row count, so a reconnecting client resumes with
// Last-Event-ID and skips what it has already seen.
func (s *Server) handleImportEvents(w http.ResponseWriter, r *http.Request) {
	feed, err := s.openFeed(r, lastEventID(r))
	if err != nil {
		fail(w, r, err)
		return
	}
	defer feed.close()
	defer metrics.StreamOpened("sse")()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	rc := http.NewResponseController(w)
	send := func(snap core.JobStatus) error {
		data, err := json.Marshal(toJobResponse(snap))
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "id: %d\nevent: progress\ndata: %s\n\n", snap.ProcessedRows, data); err != nil {
			return err
		}
		return rc.Flush()
	}
	finish := func() {
		fmt.Fprint(w, "event: complete\ndata: {}\n\n")
		rc.Flush()
	}

	if feed.wanted(feed.first) {
		if err := send(feed.first); err != nil {
			return
		}
	}
	if feed.first.State.Terminal() {
		finish()
		return
	}

	ticker := time.NewTicker(s.cfg.Events.KeepAlive)
	defer ticker.Stop()

	for {
		snap, tick, ok := feed.next(r.Context(), ticker.C)
		if !ok {
			return
		}
		if tick {
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			rc.Flush()
			continue
		}
		if !feed.wanted(snap) {
			continue
		}
		if err := send(snap); err != nil {
			logging.FromContext(r.Context()).Debug("sse client gone", "error", err)
			return
		}
		if snap.State.Terminal() {
			finish()
			return
		}
	}
}

// handleImportSocket streams job snapshots over a WebSocket. Each text
// message is one JSON snapshot; the server closes normally after the
// terminal snapshot.
func (s *Server) handleImportSocket(w http.ResponseWriter, r *http.Request) {
	feed, err := s.openFeed(r, -1)
	if err != nil {
		fail(w, r, err)
		return
	}
	defer feed.close()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logging.FromContext(r.Context()).Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()
	defer metrics.StreamOpened("websocket")()

	// The read pump only watches for the client going away.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	send := func(snap core.JobStatus) error {
		conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		return conn.WriteJSON(toJobResponse(snap))
	}
	closeNormal := func(state core.JobState) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(state))
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	}

	feed.wanted(feed.first)
	if err := send(feed.first); err != nil {
		return
	}
	if feed.first.State.Terminal() {
		closeNormal(feed.first.State)
		return
	}

	ticker := time.NewTicker(s.cfg.Events.KeepAlive)
	defer ticker.Stop()

	for {
		snap, tick, ok := feed.next(ctx, ticker.C)
		if !ok {
			return
		}
		if tick {
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			continue
		}
		if !feed.wanted(snap) {
			continue
		}
		if err := send(snap); err != nil {
			return
		}
		if snap.State.Terminal() {
			closeNormal(snap.State)
			return
		}
	}
}
