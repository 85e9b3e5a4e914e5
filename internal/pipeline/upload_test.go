package pipeline

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/analysis"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
)

func newUpload(t *testing.T, dispatcher VideoDispatcher, mutate ...func(*UploadOptions)) *Upload {
	t.Helper()
	opts := UploadOptions{Dispatcher: dispatcher, MaxUploadSize: 1 << 20}
	for _, m := range mutate {
		m(&opts)
	}
	p := NewUpload(opts)
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func testVideo(t *testing.T) *models.VideoFile {
	t.Helper()
	path := filepath.Join(t.TempDir(), "desk.mp4")
	require.NoError(t, os.WriteFile(path, []byte("video bytes"), 0o600))
	return &models.VideoFile{Path: path, Name: "desk.mp4", Size: 11, ContentType: "video/mp4"}
}

func backendClient(t *testing.T, body string) *analysis.Client {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	base, err := url.Parse(srv.URL)
	require.NoError(t, err)
	return analysis.NewClient(analysis.Options{BaseURL: base, VideoTimeout: time.Second}, nil)
}

func TestUpload_SummaryWithoutTopIssue(t *testing.T) {
	p := newUpload(t, backendClient(t, `{"feedback":{"accuracy":87,"bad_posture_frames":12}}`))

	require.NoError(t, p.SetMode(models.ModeSummary))
	require.NoError(t, p.SelectFile(testVideo(t)))
	require.NoError(t, p.Submit())
	waitForState(t, p, StateRendered)

	view := p.View()
	require.NotNil(t, view.Result)
	assert.Equal(t, models.ModeSummary, view.Result.Mode)
	require.NotNil(t, view.Result.Summary)
	assert.Equal(t, 87.0, view.Result.Summary.AccuracyPercent)
	assert.Equal(t, 12, view.Result.Summary.BadPostureFrameCount)
	assert.Empty(t, view.Result.Summary.TopIssue)
	assert.Equal(t, "Accuracy 87.0%, 12 frames with bad posture.", view.Status)
	assert.True(t, view.CanSubmit)
}

func TestUpload_EmptyFrameListIsDistinctFromIdle(t *testing.T) {
	p := newUpload(t, backendClient(t, `{"feedback":[]}`))
	idle := p.View()
	assert.Equal(t, StateIdle, idle.State)
	assert.Nil(t, idle.Result)

	require.NoError(t, p.SelectFile(testVideo(t)))
	require.NoError(t, p.Submit())
	waitForState(t, p, StateRendered)

	view := p.View()
	require.NotNil(t, view.Result)
	assert.Equal(t, models.ModeFrame, view.Result.Mode)
	assert.NotNil(t, view.Result.Frames)
	assert.Len(t, view.Result.Frames, 0)
	assert.NotEqual(t, idle.Status, view.Status)
	assert.Equal(t, "No posture issues detected.", view.Status)

	data, err := json.Marshal(view)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"frames":[]`)
}

func TestUpload_FrameListCountsBadFrames(t *testing.T) {
	p := newUpload(t, backendClient(t, `{"feedback":[{"frame":0,"posture":"bad","reason":"Back angle > 20°"},{"frame":1,"posture":"good"}]}`))

	require.NoError(t, p.SelectFile(testVideo(t)))
	require.NoError(t, p.Submit())
	waitForState(t, p, StateRendered)
	assert.Equal(t, "Analyzed 2 frames: 1 with bad posture.", p.View().Status)
}

func TestUpload_OneRequestInFlight(t *testing.T) {
	d := &fakeDispatcher{hold: make(chan struct{})}
	p := newUpload(t, d)

	require.NoError(t, p.SelectFile(testVideo(t)))
	require.NoError(t, p.Submit())
	waitForState(t, p, StateSubmitting)

	view := p.View()
	assert.False(t, view.CanSubmit)
	assert.False(t, view.CanSelectFile)
	assert.ErrorIs(t, p.Submit(), models.ErrBusy)
	assert.ErrorIs(t, p.SelectFile(testVideo(t)), models.ErrBusy)
	assert.ErrorIs(t, p.SetMode(models.ModeSummary), models.ErrBusy)

	close(d.hold)
	waitForState(t, p, StateRendered)
	assert.Equal(t, 1, d.Calls())
}

func TestUpload_TransportFailureThenRetry(t *testing.T) {
	d := &fakeDispatcher{}
	d.setRespond(unreachable)
	p := newUpload(t, d)

	require.NoError(t, p.SelectFile(testVideo(t)))
	require.NoError(t, p.Submit())
	waitForState(t, p, StateFailed)

	view := p.View()
	assert.Equal(t, models.KindTransport, view.ErrorKind)
	assert.True(t, view.CanRetry)
	assert.True(t, view.CanSubmit)

	require.NoError(t, p.Retry())
	assert.Equal(t, StateFileSelected, p.View().State)
	assert.Empty(t, p.View().Error)

	d.setRespond(func(req *models.AnalysisRequest) (*models.AnalysisResult, error) {
		return &models.AnalysisResult{RequestID: req.ID, Mode: req.Mode, Frames: []models.FrameVerdict{}}, nil
	})
	d.hold = make(chan struct{})
	require.NoError(t, p.Submit())
	waitForState(t, p, StateSubmitting)
	close(d.hold)
	waitForState(t, p, StateRendered)
	assert.Equal(t, 2, d.Calls())
}

func TestUpload_SubmitStraightFromFailed(t *testing.T) {
	d := &fakeDispatcher{}
	d.setRespond(unreachable)
	p := newUpload(t, d)

	require.NoError(t, p.SelectFile(testVideo(t)))
	require.NoError(t, p.Submit())
	waitForState(t, p, StateFailed)

	d.setRespond(nil)
	require.NoError(t, p.Submit())
	waitForState(t, p, StateRendered)
	assert.Equal(t, 2, d.Calls())
}

func TestUpload_ModeIsSentWithRequest(t *testing.T) {
	d := &fakeDispatcher{}
	p := newUpload(t, d, func(o *UploadOptions) { o.DefaultMode = models.ModeSummary })
	assert.Equal(t, models.ModeSummary, p.View().Mode)

	assert.ErrorIs(t, p.SetMode(models.ModeLive), models.ErrInvalidMode)
	assert.ErrorIs(t, p.SetMode("bogus"), models.ErrInvalidMode)

	require.NoError(t, p.SetMode(models.ModeFrame))
	require.NoError(t, p.SelectFile(testVideo(t)))
	require.NoError(t, p.Submit())
	require.Eventually(t, func() bool { return d.Calls() == 1 }, waitTimeout, 5*time.Millisecond)

	req := d.lastRequest()
	assert.Equal(t, models.ModeFrame, req.Mode)
	assert.Equal(t, "desk.mp4", req.Video.Name)
	assert.NotEmpty(t, req.ID)
}

func TestUpload_CommandRejections(t *testing.T) {
	p := newUpload(t, &fakeDispatcher{})

	assert.ErrorIs(t, p.Submit(), models.ErrNoFile)
	assert.ErrorIs(t, p.Retry(), models.ErrNotReady)
	assert.ErrorIs(t, p.SelectFile(nil), models.ErrNoFile)

	big := testVideo(t)
	big.Size = 2 << 20
	assert.ErrorIs(t, p.SelectFile(big), models.ErrFileTooLarge)
	assert.Equal(t, StateIdle, p.View().State)
	assert.Equal(t, "Select a video file to analyze.", p.View().Status)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, p.SelectFile(testVideo(t)), models.ErrClosed)
	assert.False(t, p.View().CanSelectFile)
}

func TestUpload_DiscardsReplacedFiles(t *testing.T) {
	var (
		mu        sync.Mutex
		discarded []string
	)
	p := newUpload(t, &fakeDispatcher{}, func(o *UploadOptions) {
		o.OnDiscard = func(f *models.VideoFile) {
			mu.Lock()
			discarded = append(discarded, f.Path)
			mu.Unlock()
		}
	})

	first, second := testVideo(t), testVideo(t)
	require.NoError(t, p.SelectFile(first))
	require.NoError(t, p.SelectFile(second))
	assert.Equal(t, "desk.mp4", p.View().File.Name)
	require.NoError(t, p.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{first.Path, second.Path}, discarded)
}

func TestUpload_CloseWhileSubmittingDiscardsResult(t *testing.T) {
	d := &fakeDispatcher{hold: make(chan struct{})}
	var applied bool
	p := newUpload(t, d, func(o *UploadOptions) {
		o.OnResult = func(*models.AnalysisResult) { applied = true }
	})

	require.NoError(t, p.SelectFile(testVideo(t)))
	require.NoError(t, p.Submit())
	waitForState(t, p, StateSubmitting)
	require.NoError(t, p.Close())

	close(d.hold)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, StateClosed, p.View().State)
	assert.Nil(t, p.View().Result)
	assert.False(t, applied)
}
