package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/analysis"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/config"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/device"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/dto"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/encoder"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/pipeline"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/service"
)

var mp4Header = []byte("\x00\x00\x00\x18ftypisom\x00\x00\x02\x00isomiso2")

type testServer struct {
	*httptest.Server
	acquirer *device.Acquirer
}

// newTestServer wires the full stack against a fake Analysis Service.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.URL.Path == "/analyze-frame":
			io.WriteString(w, `{"feedback":{"posture":"bad","reason":"slouching"}}`)
		case r.URL.Query().Get("mode") == "summary":
			io.WriteString(w, `{"feedback":{"accuracy":87,"bad_posture_frames":12}}`)
		default:
			io.WriteString(w, `{"feedback":[]}`)
		}
	}))
	t.Cleanup(backend.Close)
	base, err := url.Parse(backend.URL)
	require.NoError(t, err)

	cfg := &config.Config{
		BackendURL:     base,
		TmpDir:         t.TempDir(),
		MaxUploadSize:  4096,
		VideoFieldName: "file",
		CameraWidth:    32,
		CameraHeight:   24,
		CameraFacing:   "user",
		SessionTTL:     time.Minute,
	}
	logger := hclog.NewNullLogger()
	enc := encoder.New(80)
	acquirer := device.NewAcquirer(&device.SyntheticCamera{}, logger, time.Second)
	client := analysis.NewClient(analysis.Options{BaseURL: base, VideoTimeout: time.Second, FrameTimeout: time.Second}, logger)
	sessions := service.NewSessionService(cfg, acquirer, enc, client, nil, logger)
	t.Cleanup(sessions.Shutdown)

	srv := httptest.NewServer(SetupRoutes(NewHandler(sessions, enc, cfg, logger), logger))
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, acquirer: acquirer}
}

func (s *testServer) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, s.URL+path, body)
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (s *testServer) createSession(t *testing.T) string {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/posture/sessions", nil, "")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created dto.CreateSessionResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&created))
	require.NotEmpty(t, created.SessionID)
	return created.SessionID
}

func (s *testServer) state(t *testing.T, id string) SessionStateResponse {
	t.Helper()
	resp := s.do(t, http.MethodGet, "/api/posture/sessions/"+id+"/state", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var state SessionStateResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&state))
	return state
}

func multipartBody(t *testing.T, field, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	w := multipart.NewWriter(buf)
	part, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf, w.FormDataContentType()
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)
	s.createSession(t)

	resp := s.do(t, http.MethodGet, "/api/posture/health", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health dto.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "healthy", health.Status)
	assert.Equal(t, 1, health.Sessions)
	assert.True(t, strings.HasPrefix(health.Backend, "http://127.0.0.1"))
}

func TestLiveFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)
	base := "/api/posture/sessions/" + id + "/live/"

	resp := s.do(t, http.MethodPost, base+"capture", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = s.do(t, http.MethodPost, base+"start", nil, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return s.state(t, id).Live.State == pipeline.StateReady },
		2*time.Second, 10*time.Millisecond)

	resp = s.do(t, http.MethodGet, base+"preview", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/jpeg", resp.Header.Get("Content-Type"))

	resp = s.do(t, http.MethodPost, base+"capture", nil, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return s.state(t, id).Live.Result != nil }, 2*time.Second, 10*time.Millisecond)

	live := s.state(t, id).Live
	assert.Equal(t, pipeline.StateReady, live.State)
	assert.Equal(t, "slouching", live.Result.Single.Reason)
	assert.Equal(t, "Bad posture: slouching", live.Status)

	resp = s.do(t, http.MethodPost, base+"stop", nil, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.EqualValues(t, 0, s.acquirer.ActiveTracks())
}

func TestUploadFlow(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)
	base := "/api/posture/sessions/" + id + "/upload/"

	resp := s.do(t, http.MethodPost, base+"submit", nil, "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	body, ct := multipartBody(t, "file", "posture.mp4", mp4Header)
	resp = s.do(t, http.MethodPost, base+"file", body, ct)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var selected dto.SelectFileResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&selected))
	assert.Equal(t, "posture.mp4", selected.FileName)
	assert.Equal(t, pipeline.StateFileSelected, s.state(t, id).Upload.State)

	resp = s.do(t, http.MethodPost, base+"mode", strings.NewReader(`{"mode":"sideways"}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp = s.do(t, http.MethodPost, base+"mode", strings.NewReader(`{"mode":"summary"}`), "application/json")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp = s.do(t, http.MethodPost, base+"submit", nil, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Eventually(t, func() bool { return s.state(t, id).Upload.State == pipeline.StateRendered },
		2*time.Second, 10*time.Millisecond)

	upload := s.state(t, id).Upload
	require.NotNil(t, upload.Result.Summary)
	assert.Equal(t, 87.0, upload.Result.Summary.AccuracyPercent)
	assert.Empty(t, upload.Result.Summary.TopIssue)
}

func TestUploadRejections(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)
	path := "/api/posture/sessions/" + id + "/upload/file"

	body, ct := multipartBody(t, "file", "notes.txt", []byte("plain text notes"))
	resp := s.do(t, http.MethodPost, path, body, ct)
	assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)

	big := append(append([]byte{}, mp4Header...), make([]byte, 8192)...)
	body, ct = multipartBody(t, "file", "big.mp4", big)
	resp = s.do(t, http.MethodPost, path, body, ct)
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	body, ct = multipartBody(t, "video", "clip.mp4", mp4Header)
	resp = s.do(t, http.MethodPost, path, body, ct)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	assert.Equal(t, pipeline.StateIdle, s.state(t, id).Upload.State)
}

func TestUnknownAndDeletedSessions(t *testing.T) {
	s := newTestServer(t)

	resp := s.do(t, http.MethodGet, "/api/posture/sessions/nope/state", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	var errResp dto.ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
	assert.Equal(t, http.StatusNotFound, errResp.Code)

	id := s.createSession(t)
	resp = s.do(t, http.MethodDelete, "/api/posture/sessions/"+id, nil, "")
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = s.do(t, http.MethodPost, "/api/posture/sessions/"+id+"/live/start", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStreamState(t *testing.T) {
	s := newTestServer(t)
	id := s.createSession(t)

	wsURL := "ws" + strings.TrimPrefix(s.URL, "http") + "/api/posture/sessions/" + id + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var state SessionStateResponse
	require.NoError(t, conn.ReadJSON(&state))
	assert.Equal(t, id, state.SessionID)
	assert.Equal(t, pipeline.StateIdle, state.Live.State)

	resp := s.do(t, http.MethodPost, "/api/posture/sessions/"+id+"/live/start", nil, "")
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for state.Live.State != pipeline.StateReady {
		require.NoError(t, conn.ReadJSON(&state))
	}
}

func TestMiddleware(t *testing.T) {
	logger := hclog.NewNullLogger()
	h := CORSMiddleware(RecoveryMiddleware(logger)(LoggingMiddleware(logger)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { panic("boom") }))))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/x", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}
