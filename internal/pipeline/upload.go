package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
)

// UploadOptions configure an Upload pipeline.
type UploadOptions struct {
	Dispatcher    VideoDispatcher
	DefaultMode   models.Mode
	MaxUploadSize int64
	Logger        hclog.Logger
	OnResult      ResultHook
	// OnDiscard is called for a file that is replaced or left behind at
	// close. The file is no longer referenced by the pipeline.
	OnDiscard func(file *models.VideoFile)
}

// UploadView is the rendered state of an Upload pipeline.
type UploadView struct {
	State         State                  `json:"state"`
	Status        string                 `json:"status"`
	Mode          models.Mode            `json:"mode"`
	File          *models.VideoFile      `json:"file,omitempty"`
	Result        *models.AnalysisResult `json:"result,omitempty"`
	Error         string                 `json:"error,omitempty"`
	ErrorKind     string                 `json:"error_kind,omitempty"`
	CanSubmit     bool                   `json:"can_submit"`
	CanSelectFile bool                   `json:"can_select_file"`
	CanRetry      bool                   `json:"can_retry"`
	UpdatedAt     time.Time              `json:"updated_at"`
}

// Upload is the file pipeline: Idle → FileSelected → Submitting →
// (Rendered | Failed).
type Upload struct {
	opts   UploadOptions
	logger hclog.Logger
	loop   *loop
	view   atomic.Pointer[UploadView]
	subs   broadcaster[UploadView]

	// Owned by the loop goroutine.
	state    State
	mode     models.Mode
	file     *models.VideoFile
	result   *models.AnalysisResult
	err      error
	gen      uint64
	inFlight bool
}

// NewUpload creates an Upload pipeline in Idle and starts its loop.
func NewUpload(opts UploadOptions) *Upload {
	logger := opts.Logger
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	mode := opts.DefaultMode
	if mode != models.ModeSummary {
		mode = models.ModeFrame
	}
	p := &Upload{
		opts:   opts,
		logger: logger,
		loop:   newLoop("upload", logger),
		state:  StateIdle,
		mode:   mode,
	}
	p.loop.handle = p.handle
	p.loop.onPanic = func(v any) { p.fail(internalError(v)) }
	p.publish()
	go p.loop.run()
	return p
}

// View returns the current rendered state.
func (p *Upload) View() UploadView { return *p.view.Load() }

// Subscribe registers fn for every state change and returns an unsubscribe
// func. fn runs on the pipeline loop and must not block.
func (p *Upload) Subscribe(fn func(UploadView)) func() { return p.subs.subscribe(fn) }

// Done is closed once the pipeline is closed.
func (p *Upload) Done() <-chan struct{} { return p.loop.done }

// SelectFile makes file the one the next submit sends. Not permitted while
// Submitting.
func (p *Upload) SelectFile(file *models.VideoFile) error {
	if file == nil {
		return models.ErrNoFile
	}
	if p.opts.MaxUploadSize > 0 && file.Size > p.opts.MaxUploadSize {
		return fmt.Errorf("%w: %d bytes, limit %d", models.ErrFileTooLarge, file.Size, p.opts.MaxUploadSize)
	}
	return p.loop.do(func() error {
		if p.inFlight || p.state == StateSubmitting {
			return models.ErrBusy
		}
		if p.file != nil && p.opts.OnDiscard != nil {
			p.opts.OnDiscard(p.file)
		}
		p.file = file
		p.err = nil
		p.logger.Debug("file selected", "name", file.Name, "size", file.Size)
		p.transition(StateFileSelected)
		return nil
	})
}

// SetMode chooses the response shape for the next submit.
func (p *Upload) SetMode(mode models.Mode) error {
	if _, err := models.ParseVideoMode(string(mode)); err != nil {
		return err
	}
	return p.loop.do(func() error {
		if p.inFlight || p.state == StateSubmitting {
			return models.ErrBusy
		}
		p.mode = mode
		p.publish()
		return nil
	})
}

// Submit sends the selected file. There is no auto-submit on selection.
func (p *Upload) Submit() error {
	return p.loop.do(func() error {
		switch {
		case p.inFlight || p.state == StateSubmitting:
			return models.ErrBusy
		case p.file == nil:
			return models.ErrNoFile
		case p.state != StateFileSelected && p.state != StateRendered && p.state != StateFailed:
			return models.ErrNotReady
		}
		p.submit()
		return nil
	})
}

// Retry leaves Failed and returns to FileSelected.
func (p *Upload) Retry() error {
	return p.loop.do(func() error {
		if p.state != StateFailed {
			return models.ErrNotReady
		}
		p.err = nil
		if p.file == nil {
			p.transition(StateIdle)
			return nil
		}
		p.transition(StateFileSelected)
		return nil
	})
}

// Close tears the pipeline down. A request in flight resolves into a
// discarded state. Close is idempotent.
func (p *Upload) Close() error {
	err := p.loop.do(func() error {
		p.gen++
		if p.file != nil && p.opts.OnDiscard != nil {
			p.opts.OnDiscard(p.file)
		}
		p.transition(StateClosed)
		p.loop.stop()
		return nil
	})
	if errors.Is(err, models.ErrClosed) {
		return nil
	}
	return err
}

func (p *Upload) handle(ev any) {
	if e, ok := ev.(evtAnalyzed); ok {
		p.onAnalyzed(e)
	}
}

func (p *Upload) submit() {
	req := &models.AnalysisRequest{
		ID:          uuid.NewString(),
		Mode:        p.mode,
		SubmittedAt: time.Now(),
		Video:       p.file,
	}
	p.inFlight = true
	p.err = nil
	p.transition(StateSubmitting)
	p.logger.Info("submitting video", "request", req.ID, "name", p.file.Name, "mode", p.mode)

	gen := p.gen
	go func() {
		result, err := p.opts.Dispatcher.SubmitVideo(context.Background(), req)
		p.loop.post(evtAnalyzed{gen: gen, result: result, err: err})
	}()
}

func (p *Upload) onAnalyzed(e evtAnalyzed) {
	p.inFlight = false
	if e.gen != p.gen || p.state != StateSubmitting {
		p.publish()
		return
	}
	if e.err != nil {
		p.logger.Warn("video analysis failed", "error", e.err)
		p.fail(e.err)
		return
	}
	p.result = e.result
	p.transition(StateRendered)
	if p.opts.OnResult != nil {
		p.opts.OnResult(e.result)
	}
}

func (p *Upload) fail(err error) {
	p.err = err
	p.transition(StateFailed)
}

func (p *Upload) transition(next State) {
	prev := p.state
	p.state = next
	if prev != next {
		p.logger.Debug("upload state transition", "from", prev, "to", next)
	}
	p.publish()
}

func (p *Upload) publish() {
	busy := p.inFlight || p.state == StateSubmitting
	v := UploadView{
		State:         p.state,
		Status:        p.status(),
		Mode:          p.mode,
		File:          p.file,
		Result:        p.result,
		Error:         errorText(p.err),
		ErrorKind:     models.ErrorKind(p.err),
		CanSubmit:     !busy && p.file != nil && p.state != StateClosed,
		CanSelectFile: !busy && p.state != StateClosed,
		CanRetry:      p.state == StateFailed,
		UpdatedAt:     time.Now(),
	}
	p.view.Store(&v)
	p.subs.notify(v)
}

func (p *Upload) status() string {
	switch p.state {
	case StateIdle:
		return "Select a video file to analyze."
	case StateFileSelected:
		return fmt.Sprintf("Ready to analyze %s in %s mode.", p.file.Name, p.mode)
	case StateSubmitting:
		return fmt.Sprintf("Uploading and analyzing %s...", p.file.Name)
	case StateRendered:
		return describeResult(p.result)
	case StateFailed:
		return describeError(p.err)
	case StateClosed:
		return "Closed."
	}
	return string(p.state)
}
