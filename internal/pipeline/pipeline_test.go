package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
)

const waitTimeout = 2 * time.Second

// fakeDispatcher answers both frame and video submissions. When hold is
// set every call blocks until a value is sent on it.
type fakeDispatcher struct {
	mu      sync.Mutex
	calls   int
	reqs    []*models.AnalysisRequest
	hold    chan struct{}
	respond func(req *models.AnalysisRequest) (*models.AnalysisResult, error)
}

func (d *fakeDispatcher) submit(req *models.AnalysisRequest) (*models.AnalysisResult, error) {
	d.mu.Lock()
	d.calls++
	d.reqs = append(d.reqs, req)
	hold, respond := d.hold, d.respond
	d.mu.Unlock()

	if hold != nil {
		<-hold
	}
	if respond == nil {
		return &models.AnalysisResult{RequestID: req.ID, Mode: req.Mode,
			Single: &models.SingleFrameResult{Posture: models.PostureGood}}, nil
	}
	return respond(req)
}

func (d *fakeDispatcher) SubmitFrame(_ context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error) {
	return d.submit(req)
}

func (d *fakeDispatcher) SubmitVideo(_ context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error) {
	return d.submit(req)
}

func (d *fakeDispatcher) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func (d *fakeDispatcher) setRespond(fn func(req *models.AnalysisRequest) (*models.AnalysisResult, error)) {
	d.mu.Lock()
	d.respond = fn
	d.mu.Unlock()
}

func (d *fakeDispatcher) lastRequest() *models.AnalysisRequest {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.reqs) == 0 {
		return nil
	}
	return d.reqs[len(d.reqs)-1]
}

func unreachable(*models.AnalysisRequest) (*models.AnalysisResult, error) {
	return nil, &models.TransportError{Cause: errors.New("dial tcp 127.0.0.1:8000: connect: connection refused")}
}

type viewer interface {
	currentState() State
}

func (p *Live) currentState() State   { return p.View().State }
func (p *Upload) currentState() State { return p.View().State }

// waitForState waits for the pipeline to reach expected.
func waitForState(t *testing.T, p viewer, expected State) {
	t.Helper()
	require.Eventually(t, func() bool { return p.currentState() == expected },
		waitTimeout, 5*time.Millisecond, "timeout waiting for state %s (got %s)", expected, p.currentState())
}

// stateRecorder records every published state.
type stateRecorder struct {
	mu  sync.Mutex
	seq []State
}

func (r *stateRecorder) record(s State) {
	r.mu.Lock()
	r.seq = append(r.seq, s)
	r.mu.Unlock()
}

func (r *stateRecorder) states() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.seq...)
}
