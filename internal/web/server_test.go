package web

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/JonMunkholm/boardsheet/internal/board"
	"github.com/JonMunkholm/boardsheet/internal/config"
	"github.com/JonMunkholm/boardsheet/internal/core"
	"github.com/JonMunkholm/boardsheet/internal/events"
	"github.com/JonMunkholm/boardsheet/internal/sheet"
	"github.com/JonMunkholm/boardsheet/internal/store/memory"
	mw "github.com/JonMunkholm/boardsheet/internal/web/middleware"
)

type testEnv struct {
	srv     *Server
	svc     *core.Service
	store   *memory.Store
	hub     *events.Hub
	board   board.Board
	editor  board.Actor
	viewer  board.Actor
	gate    *gate
	checks  []HealthCheck
	cfg     *config.Config
	options core.Options
}

type envOption func(e *testEnv)

func withRate(perMin, upload int) envOption {
	return func(e *testEnv) {
		e.cfg.Rate = config.RateLimitConfig{Enabled: true, RequestsPerMinute: perMin, UploadLimit: upload}
	}
}

func withGate() envOption {
	return func(e *testEnv) { e.gate = newGate() }
}

func withCheck(name string, err error) envOption {
	return func(e *testEnv) {
		e.checks = append(e.checks, HealthCheck{Name: name, Check: func(context.Context) error { return err }})
	}
}

func withMaxFileSize(n int64) envOption {
	return func(e *testEnv) { e.options.MaxFileSize = n }
}

func newEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	e := &testEnv{
		store: memory.New(),
		hub:   events.NewHub(64),
		cfg: &config.Config{
			Server: config.ServerConfig{Port: 8080, ShutdownTimeout: time.Second},
			Export: config.ExportConfig{Timeout: 10 * time.Second},
			Events: config.EventsConfig{Buffer: 64, KeepAlive: time.Hour},
		},
		options: core.Options{TempDir: t.TempDir()},
	}
	for _, o := range opts {
		o(e)
	}

	e.board = board.Board{ID: uuid.New(), WorkspaceID: uuid.New(), Name: "Roadmap"}
	e.store.AddBoard(e.board)
	e.editor = board.Actor{UserID: uuid.New(), Email: "editor@example.com"}
	e.viewer = board.Actor{UserID: uuid.New(), Email: "viewer@example.com"}
	e.store.AddUser(board.User{ID: e.editor.UserID, Email: e.editor.Email})
	e.store.AddUser(board.User{ID: e.viewer.UserID, Email: e.viewer.Email})
	e.store.SetRole(e.editor.UserID, e.board.ID, board.RoleEditor)
	e.store.SetRole(e.viewer.UserID, e.board.ID, board.RoleViewer)

	var pub board.Publisher = e.hub
	if e.gate != nil {
		e.gate.next = e.hub
		pub = e.gate
	}

	svc, err := core.NewService(core.Deps{Store: e.store, Permissions: e.store, Publisher: pub}, e.options)
	require.NoError(t, err)
	e.svc = svc
	e.srv = NewServer(svc, e.hub, e.cfg, e.checks...)

	t.Cleanup(func() {
		if e.gate != nil {
			e.gate.open()
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		svc.Wait(ctx)
		e.hub.Close()
		e.srv.Shutdown(ctx)
	})
	return e
}

// gate holds the first mid-import progress snapshot until opened.
type gate struct {
	next    board.Publisher
	once    sync.Once
	blocked chan struct{}
	release chan struct{}
	opened  sync.Once
}

func newGate() *gate {
	return &gate{blocked: make(chan struct{}), release: make(chan struct{})}
}

func (g *gate) Publish(ctx context.Context, topic string, payload any) error {
	if snap, ok := payload.(core.JobStatus); ok && snap.State == core.StateInProgress && snap.ProcessedRows > 0 {
		g.once.Do(func() {
			close(g.blocked)
			<-g.release
		})
	}
	return g.next.Publish(ctx, topic, payload)
}

func (g *gate) open() { g.opened.Do(func() { close(g.release) }) }

// xlsx renders a header plus rows into workbook bytes.
func xlsx(t *testing.T, rows ...[]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	header := make([]interface{}, len(sheet.Headers))
	for i, h := range sheet.Headers {
		header[i] = h
	}
	name := f.GetSheetName(0)
	for i, row := range append([][]interface{}{header}, rows...) {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(name, cell, &row))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func (e *testEnv) uploadRequest(t *testing.T, actor board.Actor, boardID string, data []byte, mode string) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mpw := multipart.NewWriter(&body)
	if mode != "" {
		require.NoError(t, mpw.WriteField("mode", mode))
	}
	if data != nil {
		part, err := mpw.CreateFormFile("file", "board.xlsx")
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mpw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/boards/"+boardID+"/imports", &body)
	req.Header.Set("Content-Type", mpw.FormDataContentType())
	authenticate(req, actor)
	return req
}

func authenticate(req *http.Request, actor board.Actor) {
	if actor.IsZero() {
		return
	}
	req.Header.Set(mw.HeaderUserID, actor.UserID.String())
	req.Header.Set(mw.HeaderUserEmail, actor.Email)
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) get(actor board.Actor, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	authenticate(req, actor)
	return e.do(req)
}

func (e *testEnv) wait(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, e.svc.Wait(ctx))
}

func (e *testEnv) startImport(t *testing.T, data []byte) string {
	t.Helper()
	rec := e.do(e.uploadRequest(t, e.editor, e.board.ID.String(), data, "merge"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp startImportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.JobID
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestStartImport_AcceptedThenCompleted(t *testing.T) {
	e := newEnv(t)
	data := xlsx(t,
		[]interface{}{"To Do", 0, "Card A", 0},
		[]interface{}{"To Do", 0, "", 0},
	)

	rec := e.do(e.uploadRequest(t, e.editor, e.board.ID.String(), data, "MERGE"))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var accepted startImportResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	assert.NotEmpty(t, accepted.JobID)
	assert.Equal(t, core.ModeMerge, accepted.Mode)
	assert.Equal(t, core.StatePending, accepted.State)
	assert.Equal(t, "board.xlsx", accepted.Filename)
	assert.Equal(t, "/api/imports/"+accepted.JobID, rec.Header().Get("Location"))

	e.wait(t)

	rec = e.get(e.viewer, "/api/imports/"+accepted.JobID)
	require.Equal(t, http.StatusOK, rec.Code)

	var job jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &job))
	assert.Equal(t, core.StateCompleted, job.State)
	assert.Equal(t, 2, job.TotalRows)
	assert.Equal(t, 1, job.SuccessCount)
	assert.Equal(t, 1, job.FailureCount)
	assert.Equal(t, 100, job.Percent)
	require.Len(t, job.Errors, 1)
	assert.Equal(t, 2, job.Errors[0].RowNumber)
	assert.Equal(t, "card title is blank", job.Errors[0].Message)

	rec = e.get(e.viewer, "/api/boards/"+e.board.ID.String()+"/imports")
	require.Equal(t, http.StatusOK, rec.Code)
	var list []jobResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, accepted.JobID, list[0].JobID)
}

func TestStartImport_Rejections(t *testing.T) {
	valid := []interface{}{"To Do", 0, "Card A"}

	tests := []struct {
		name       string
		opts       []envOption
		actor      func(e *testEnv) board.Actor
		boardID    func(e *testEnv) string
		data       func(t *testing.T) []byte
		mode       string
		wantStatus int
		wantCode   string
	}{
		{
			name:       "anonymous",
			actor:      func(*testEnv) board.Actor { return board.Actor{} },
			wantStatus: http.StatusUnauthorized,
			wantCode:   "AUTH001",
		},
		{
			name:       "viewer",
			actor:      func(e *testEnv) board.Actor { return e.viewer },
			wantStatus: http.StatusForbidden,
			wantCode:   "AUTH002",
		},
		{
			name:       "malformed board id",
			boardID:    func(*testEnv) string { return "not-a-board" },
			wantStatus: http.StatusNotFound,
			wantCode:   "BRD001",
		},
		{
			name:       "unknown board",
			boardID:    func(*testEnv) string { return uuid.NewString() },
			wantStatus: http.StatusNotFound,
			wantCode:   "BRD001",
		},
		{
			name:       "no file part",
			data:       func(*testing.T) []byte { return nil },
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE001",
		},
		{
			name:       "not a workbook",
			data:       func(*testing.T) []byte { return []byte("Column Name,Card Title\nTo Do,A\n") },
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE003",
		},
		{
			name:       "too large",
			opts:       []envOption{withMaxFileSize(512)},
			wantStatus: http.StatusBadRequest,
			wantCode:   "FILE002",
		},
		{
			name:       "bad mode",
			mode:       "replace",
			wantStatus: http.StatusBadRequest,
			wantCode:   "IMP001",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t, tt.opts...)
			actor, boardID := e.editor, e.board.ID.String()
			if tt.actor != nil {
				actor = tt.actor(e)
			}
			if tt.boardID != nil {
				boardID = tt.boardID(e)
			}
			data := xlsx(t, valid)
			if tt.data != nil {
				data = tt.data(t)
			}

			rec := e.do(e.uploadRequest(t, actor, boardID, data, tt.mode))
			assert.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())
			assert.Equal(t, tt.wantCode, decodeError(t, rec).Code)

			rec = e.get(e.editor, "/api/boards/"+e.board.ID.String()+"/imports")
			require.Equal(t, http.StatusOK, rec.Code)
			assert.JSONEq(t, "[]", rec.Body.String(), "no job may be created")
		})
	}
}

func TestGetJob_NotFoundAndWrongBoard(t *testing.T) {
	e := newEnv(t)
	jobID := e.startImport(t, xlsx(t, []interface{}{"To Do", 0, "A"}))
	e.wait(t)

	rec := e.get(e.editor, "/api/imports/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "BRD002", decodeError(t, rec).Code)

	other := board.Board{ID: uuid.New(), WorkspaceID: uuid.New(), Name: "Other"}
	e.store.AddBoard(other)
	e.store.SetRole(e.editor.UserID, other.ID, board.RoleEditor)

	rec = e.get(e.editor, "/api/boards/"+other.ID.String()+"/imports/"+jobID+"/events")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// readSSE collects progress payloads until the complete event or EOF.
func readSSE(t *testing.T, body io.Reader, onFirst func()) (snaps []jobResponse, ids []string, completed bool) {
	t.Helper()
	sc := bufio.NewScanner(body)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)

	event := ""
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "id: "):
			ids = append(ids, strings.TrimPrefix(line, "id: "))
		case strings.HasPrefix(line, "event: "):
			event = strings.TrimPrefix(line, "event: ")
			if event == "complete" {
				return snaps, ids, true
			}
		case strings.HasPrefix(line, "data: ") && event == "progress":
			var snap jobResponse
			require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &snap))
			snaps = append(snaps, snap)
			if len(snaps) == 1 && onFirst != nil {
				onFirst()
			}
		}
	}
	return snaps, ids, false
}

func TestImportEvents_FinishedJobSendsSnapshotAndCompletes(t *testing.T) {
	e := newEnv(t)
	jobID := e.startImport(t, xlsx(t, []interface{}{"To Do", 0, "A"}, []interface{}{"To Do", 0, "B"}))
	e.wait(t)

	ts := httptest.NewServer(e.srv.Router())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/boards/"+e.board.ID.String()+"/imports/"+jobID+"/events", nil)
	require.NoError(t, err)
	authenticate(req, e.viewer)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	snaps, ids, completed := readSSE(t, resp.Body, nil)
	assert.True(t, completed)
	require.Len(t, snaps, 1)
	assert.Equal(t, core.StateCompleted, snaps[0].State)
	assert.Equal(t, []string{"2"}, ids)
}

func TestImportEvents_StreamsLiveProgress(t *testing.T) {
	e := newEnv(t, withGate())
	jobID := e.startImport(t, xlsx(t,
		[]interface{}{"To Do", 0, "A"},
		[]interface{}{"To Do", 0, "B"},
		[]interface{}{"Done", 1, "C"},
	))

	select {
	case <-e.gate.blocked:
	case <-time.After(10 * time.Second):
		t.Fatal("import never reported progress")
	}

	ts := httptest.NewServer(e.srv.Router())
	defer ts.Close()

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/boards/"+e.board.ID.String()+"/imports/"+jobID+"/events", nil)
	require.NoError(t, err)
	authenticate(req, e.viewer)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	snaps, _, completed := readSSE(t, resp.Body, e.gate.open)
	require.True(t, completed)
	require.GreaterOrEqual(t, len(snaps), 2)

	assert.Equal(t, core.StateInProgress, snaps[0].State)
	assert.Equal(t, 3, snaps[0].ProcessedRows)
	last := snaps[len(snaps)-1]
	assert.Equal(t, core.StateCompleted, last.State)
	assert.Equal(t, 3, last.SuccessCount)
	for i := 1; i < len(snaps); i++ {
		assert.GreaterOrEqual(t, snaps[i].ProcessedRows, snaps[i-1].ProcessedRows)
	}
}

func TestImportEvents_ResumeSkipsSeenProgress(t *testing.T) {
	e := newEnv(t)
	jobID := e.startImport(t, xlsx(t, []interface{}{"To Do", 0, "A"}))
	e.wait(t)

	rec := e.do(func() *http.Request {
		req := httptest.NewRequest(http.MethodGet, "/api/boards/"+e.board.ID.String()+"/imports/"+jobID+"/events", nil)
		req.Header.Set("Last-Event-ID", "1")
		authenticate(req, e.viewer)
		return req
	}())

	require.Equal(t, http.StatusOK, rec.Code)
	snaps, _, completed := readSSE(t, rec.Body, nil)
	assert.True(t, completed)
	require.Len(t, snaps, 1, "terminal snapshots are always sent")
	assert.Equal(t, core.StateCompleted, snaps[0].State)
}

func TestImportSocket_SendsTerminalSnapshotAndCloses(t *testing.T) {
	e := newEnv(t)
	jobID := e.startImport(t, xlsx(t, []interface{}{"To Do", 0, "A"}))
	e.wait(t)

	ts := httptest.NewServer(e.srv.Router())
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/boards/" + e.board.ID.String() + "/imports/" + jobID + "/ws"
	header := http.Header{}
	header.Set(mw.HeaderUserID, e.viewer.UserID.String())

	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	var snap jobResponse
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, core.StateCompleted, snap.State)
	assert.Equal(t, 1, snap.SuccessCount)

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.True(t, errors.As(err, &closeErr), "expected close frame, got %v", err)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestImportSocket_RequiresViewer(t *testing.T) {
	e := newEnv(t)
	jobID := e.startImport(t, xlsx(t, []interface{}{"To Do", 0, "A"}))
	e.wait(t)

	rec := e.get(board.Actor{UserID: uuid.New()}, "/api/boards/"+e.board.ID.String()+"/imports/"+jobID+"/ws")
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestExport_StreamsWorkbook(t *testing.T) {
	e := newEnv(t)
	e.startImport(t, xlsx(t,
		[]interface{}{"To Do", 0, "Card A", 0, "", "Bug"},
		[]interface{}{"Done", 1, "Card B", 0},
	))
	e.wait(t)

	rec := e.get(e.viewer, "/api/boards/"+e.board.ID.String()+"/export")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, xlsxContentType, rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "board-"+e.board.ID.String())

	f, err := excelize.OpenReader(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, sheet.Headers[0], rows[0][0])
	assert.Equal(t, "Card A", rows[1][2])
	assert.Equal(t, "Bug", rows[1][5])
	assert.Equal(t, "Card B", rows[2][2])
}

func TestExport_Unauthenticated(t *testing.T) {
	e := newEnv(t)
	rec := e.get(board.Actor{}, "/api/boards/"+e.board.ID.String()+"/export")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "AUTH001", decodeError(t, rec).Code)
}

func TestRateLimit_UploadTier(t *testing.T) {
	e := newEnv(t, withRate(100, 1))

	rec := e.get(e.viewer, "/api/boards/"+e.board.ID.String()+"/export")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = e.get(e.viewer, "/api/boards/"+e.board.ID.String()+"/export")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "RATE001", decodeError(t, rec).Code)

	// Reads have their own budget.
	rec = e.get(e.viewer, "/api/boards/"+e.board.ID.String()+"/imports")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	e := newEnv(t, withCheck("store", nil))
	rec := e.get(board.Actor{}, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)

	var body healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "ok", body.Checks["store"])
	assert.Equal(t, core.DefaultMaxConcurrentImports, body.Imports.MaxConcurrent)

	e = newEnv(t, withCheck("redis", errors.New("connection refused")))
	rec = e.get(board.Actor{}, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.get(e.viewer, "/api/boards/"+e.board.ID.String()+"/imports")

	rec := e.get(board.Actor{}, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "boardsheet_http_request_duration_seconds")
}

func TestSecurityHeadersAndRequestID(t *testing.T) {
	e := newEnv(t)
	rec := e.get(board.Actor{}, "/api/imports/x")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.NotEmpty(t, decodeError(t, rec).RequestID)
}
