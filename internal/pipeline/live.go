package pipeline

import (
	"context"
	"errors"
	"image"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/device"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/encoder"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
)

// Acquirer hands out exclusively owned camera sessions.
type Acquirer interface {
	Acquire(ctx context.Context, constraints models.Constraints) (*device.Session, error)
	Release(s *device.Session)
}

// FrameEncoder encodes one raw frame.
type FrameEncoder interface {
	Encode(img image.Image, capturedAt time.Time) (*models.FramePayload, error)
}

// LiveOptions configure a Live pipeline.
type LiveOptions struct {
	Constraints models.Constraints
	Acquirer    Acquirer
	Encoder     FrameEncoder
	Dispatcher  FrameDispatcher
	Logger      hclog.Logger
	OnResult    ResultHook
}

// LiveView is the rendered state of a Live pipeline.
type LiveView struct {
	State      State                  `json:"state"`
	Status     string                 `json:"status"`
	Result     *models.AnalysisResult `json:"result,omitempty"`
	Error      string                 `json:"error,omitempty"`
	ErrorKind  string                 `json:"error_kind,omitempty"`
	CanCapture bool                   `json:"can_capture"`
	CanRetry   bool                   `json:"can_retry"`
	Camera     *models.SessionInfo    `json:"camera,omitempty"`
	UpdatedAt  time.Time              `json:"updated_at"`
}

// task outcomes
type (
	evtAcquired struct {
		gen     uint64
		session *device.Session
		err     error
	}
	evtEncoded struct {
		gen     uint64
		payload *models.FramePayload
		err     error
	}
	evtAnalyzed struct {
		gen    uint64
		result *models.AnalysisResult
		err    error
	}
)

// Live is the camera pipeline: Idle → Acquiring → Ready → Capturing →
// Submitting → (Ready | Failed).
type Live struct {
	opts   LiveOptions
	logger hclog.Logger
	loop   *loop
	view   atomic.Pointer[LiveView]
	subs   broadcaster[LiveView]

	// Owned by the loop goroutine.
	state         State
	session       *device.Session
	camera        *models.SessionInfo
	result        *models.AnalysisResult
	err           error
	gen           uint64
	inFlight      bool
	cancelAcquire context.CancelFunc
}

// NewLive creates a Live pipeline in Idle and starts its loop.
func NewLive(opts LiveOptions) *Live {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	p := &Live{
		opts:   opts,
		logger: logger,
		loop:   newLoop("live", logger),
		state:  StateIdle,
	}
	p.loop.handle = p.handle
	p.loop.onPanic = func(v any) { p.fail(internalError(v)) }
	p.publish()
	go p.loop.run()
	return p
}

// View returns the current rendered state.
func (p *Live) View() LiveView { return *p.view.Load() }

// Subscribe registers fn for every state change and returns an unsubscribe
// func. fn runs on the pipeline loop and must not block.
func (p *Live) Subscribe(fn func(LiveView)) func() { return p.subs.subscribe(fn) }

// Done is closed once the pipeline is closed.
func (p *Live) Done() <-chan struct{} { return p.loop.done }

// Start activates the pipeline and begins acquiring the camera.
func (p *Live) Start() error {
	return p.loop.do(func() error {
		if p.state != StateIdle {
			return models.ErrNotReady
		}
		p.startAcquire()
		return nil
	})
}

// Capture snapshots the current frame and submits it. Rejected with
// ErrBusy while a request is in flight.
func (p *Live) Capture() error {
	return p.loop.do(func() error {
		switch {
		case p.inFlight || p.state == StateCapturing || p.state == StateSubmitting:
			return models.ErrBusy
		case p.session == nil:
			return models.ErrNotReady
		case p.state != StateReady && p.state != StateFailed:
			return models.ErrNotReady
		}
		p.capture()
		return nil
	})
}

// Retry leaves Failed: a device failure or a dead stream re-enters
// Acquiring, anything else returns to Ready.
func (p *Live) Retry() error {
	return p.loop.do(func() error {
		if p.state != StateFailed {
			return models.ErrNotReady
		}
		var devErr *models.DeviceError
		if p.session == nil || errors.As(p.err, &devErr) || p.streamEnded() {
			p.releaseCamera()
			p.startAcquire()
			return nil
		}
		p.err = nil
		p.transition(StateReady)
		return nil
	})
}

// Stop releases the camera and returns to Idle. A request in flight
// resolves into a discarded state.
func (p *Live) Stop() error {
	return p.loop.do(func() error {
		p.gen++
		p.releaseCamera()
		p.err = nil
		p.transition(StateIdle)
		return nil
	})
}

// Close tears the pipeline down. The camera is released on every path,
// including mid-acquisition. Close is idempotent.
func (p *Live) Close() error {
	err := p.loop.do(func() error {
		p.gen++
		p.releaseCamera()
		p.transition(StateClosed)
		p.loop.stop()
		return nil
	})
	if errors.Is(err, models.ErrClosed) {
		return nil
	}
	return err
}

// Preview returns the frame currently visible on the camera.
func (p *Live) Preview() (image.Image, error) {
	var session *device.Session
	err := p.loop.do(func() error {
		if p.session == nil {
			return models.ErrNotReady
		}
		session = p.session
		return nil
	})
	if err != nil {
		return nil, err
	}
	return session.Frame()
}

func (p *Live) handle(ev any) {
	switch e := ev.(type) {
	case evtAcquired:
		p.onAcquired(e)
	case evtEncoded:
		p.onEncoded(e)
	case evtAnalyzed:
		p.onAnalyzed(e)
	}
}

func (p *Live) startAcquire() {
	p.gen++
	gen := p.gen
	ctx, cancel := context.WithCancel(context.Background())
	p.cancelAcquire = cancel
	p.err = nil
	p.transition(StateAcquiring)

	constraints := p.opts.Constraints
	go func() {
		session, err := p.opts.Acquirer.Acquire(ctx, constraints)
		if !p.loop.post(evtAcquired{gen: gen, session: session, err: err}) && session != nil {
			p.opts.Acquirer.Release(session)
		}
	}()
}

func (p *Live) onAcquired(e evtAcquired) {
	if e.gen != p.gen || p.state != StateAcquiring {
		if e.session != nil {
			p.opts.Acquirer.Release(e.session)
		}
		p.logger.Debug("discarding stale acquisition", "gen", e.gen)
		return
	}
	p.cancelAcquire = nil
	if e.err != nil {
		p.logger.Warn("camera acquisition failed", "error", e.err)
		p.fail(e.err)
		return
	}
	p.session = e.session
	info := e.session.Info()
	p.camera = &info
	p.logger.Info("camera acquired", "session", info.ID, "width", info.Width, "height", info.Height)
	p.transition(StateReady)
}

// capture grabs the frame on the loop so it is the one visible when the
// user acted; only encoding happens off the loop.
func (p *Live) capture() {
	p.err = nil
	p.transition(StateCapturing)

	img, capturedAt, err := encoder.Grab(p.session)
	if err != nil {
		p.logger.Warn("frame grab failed", "error", err)
		p.fail(err)
		return
	}

	gen := p.gen
	go func() {
		payload, err := p.opts.Encoder.Encode(img, capturedAt)
		p.loop.post(evtEncoded{gen: gen, payload: payload, err: err})
	}()
}

func (p *Live) onEncoded(e evtEncoded) {
	if e.gen != p.gen || p.state != StateCapturing {
		return
	}
	if e.err != nil {
		p.logger.Warn("frame encoding failed", "error", e.err)
		p.fail(e.err)
		return
	}

	req := &models.AnalysisRequest{
		ID:          uuid.NewString(),
		Mode:        models.ModeLive,
		SubmittedAt: time.Now(),
		Frame:       e.payload,
	}
	p.inFlight = true
	p.transition(StateSubmitting)
	p.logger.Debug("submitting frame", "request", req.ID, "bytes", len(e.payload.Data))

	gen := p.gen
	go func() {
		result, err := p.opts.Dispatcher.SubmitFrame(context.Background(), req)
		p.loop.post(evtAnalyzed{gen: gen, result: result, err: err})
	}()
}

func (p *Live) onAnalyzed(e evtAnalyzed) {
	p.inFlight = false
	if e.gen != p.gen || p.state != StateSubmitting {
		p.logger.Debug("discarding result for a stopped pipeline", "gen", e.gen)
		p.publish()
		return
	}
	if e.err != nil {
		p.fail(e.err)
		return
	}
	p.result = e.result
	p.err = nil
	p.transition(StateReady)
	if p.opts.OnResult != nil {
		p.opts.OnResult(e.result)
	}
}

// streamEnded reports whether the held session can no longer deliver frames.
func (p *Live) streamEnded() bool {
	_, err := p.session.Frame()
	return errors.Is(err, device.ErrStreamEnded) || errors.Is(err, device.ErrReleased)
}

func (p *Live) releaseCamera() {
	if p.cancelAcquire != nil {
		p.cancelAcquire()
		p.cancelAcquire = nil
	}
	if p.session != nil {
		p.opts.Acquirer.Release(p.session)
		p.session = nil
		p.camera = nil
	}
}

func (p *Live) fail(err error) {
	p.err = err
	p.transition(StateFailed)
}

func (p *Live) transition(next State) {
	prev := p.state
	p.state = next
	if prev != next {
		p.logger.Debug("live state transition", "from", prev, "to", next)
	}
	p.publish()
}

func (p *Live) publish() {
	v := LiveView{
		State:      p.state,
		Status:     p.status(),
		Result:     p.result,
		Error:      errorText(p.err),
		ErrorKind:  models.ErrorKind(p.err),
		CanCapture: !p.inFlight && p.session != nil && (p.state == StateReady || p.state == StateFailed),
		CanRetry:   p.state == StateFailed,
		Camera:     p.camera,
		UpdatedAt:  time.Now(),
	}
	p.view.Store(&v)
	p.subs.notify(v)
}

func (p *Live) status() string {
	switch p.state {
	case StateIdle:
		return "Camera is off."
	case StateAcquiring:
		return "Starting camera..."
	case StateReady:
		if p.result != nil {
			return describeResult(p.result)
		}
		return "Camera ready. Capture a frame to analyze your posture."
	case StateCapturing:
		return "Capturing frame..."
	case StateSubmitting:
		return "Capturing and analyzing..."
	case StateFailed:
		return describeError(p.err)
	case StateClosed:
		return "Camera closed."
	}
	return string(p.state)
}
