// Package pipeline implements the live-capture and upload analysis
// pipelines.
//
// Each pipeline instance runs one event loop goroutine that exclusively
// owns its state. Commands and task completions are events on the loop's
// channel; the slow steps (stream acquisition, encoding, the network
// request) run as tasks that post their outcome back to the loop. A
// generation counter ties every task to the activation that started it so
// results arriving after a stop or close are discarded instead of applied.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
)

// State is a pipeline state-machine state.
type State string

const (
	StateIdle         State = "idle"
	StateAcquiring    State = "acquiring"
	StateReady        State = "ready"
	StateCapturing    State = "capturing"
	StateSubmitting   State = "submitting"
	StateFailed       State = "failed"
	StateFileSelected State = "file_selected"
	StateRendered     State = "rendered"
	StateClosed       State = "closed"
)

// FrameDispatcher submits one encoded camera frame.
type FrameDispatcher interface {
	SubmitFrame(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error)
}

// VideoDispatcher submits a whole video file.
type VideoDispatcher interface {
	SubmitVideo(ctx context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error)
}

// ResultHook observes every result a pipeline applies.
type ResultHook func(result *models.AnalysisResult)

// command is a user action routed through the loop. The loop answers on
// reply exactly once.
type command struct {
	apply func() error
	reply chan error
}

// loop is the event loop shared by both pipelines.
type loop struct {
	name    string
	logger  hclog.Logger
	events  chan any
	done    chan struct{}
	handle  func(ev any)
	onPanic func(v any)

	closeOnce sync.Once
}

func newLoop(name string, logger hclog.Logger) *loop {
	return &loop{
		name:   name,
		logger: logger,
		events: make(chan any),
		done:   make(chan struct{}),
	}
}

// run owns the pipeline state until stop. events is unbuffered and done
// is only closed here, so a send that succeeds always reaches dispatch.
func (l *loop) run() {
	for {
		select {
		case <-l.done:
			return
		default:
		}
		select {
		case ev := <-l.events:
			l.dispatch(ev)
		case <-l.done:
			return
		}
	}
}

func (l *loop) dispatch(ev any) {
	cmd, isCmd := ev.(command)
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("pipeline panic", "pipeline", l.name, "error", r, "stack", string(debug.Stack()))
			if l.onPanic != nil {
				l.onPanic(r)
			}
			if isCmd {
				cmd.reply <- internalError(r)
			}
		}
	}()
	if isCmd {
		cmd.reply <- cmd.apply()
		return
	}
	l.handle(ev)
}

// do runs fn on the loop and waits for its answer.
func (l *loop) do(fn func() error) error {
	cmd := command{apply: fn, reply: make(chan error, 1)}
	select {
	case l.events <- cmd:
	case <-l.done:
		return models.ErrClosed
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-l.done:
		// The command may have been the one that closed the loop.
		select {
		case err := <-cmd.reply:
			return err
		default:
			return models.ErrClosed
		}
	}
}

// post delivers a task outcome. It reports false once the loop has stopped,
// in which case the event was not delivered and the caller owns it.
func (l *loop) post(ev any) bool {
	select {
	case l.events <- ev:
		return true
	case <-l.done:
		return false
	}
}

// stop ends the loop. Only called from the loop goroutine.
func (l *loop) stop() {
	l.closeOnce.Do(func() { close(l.done) })
}

// broadcaster fans views out to subscribers. Callbacks run on the loop
// goroutine and must not block.
type broadcaster[V any] struct {
	mu        sync.Mutex
	next      uint64
	listeners map[uint64]func(V)
}

func (b *broadcaster[V]) subscribe(fn func(V)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.listeners == nil {
		b.listeners = make(map[uint64]func(V))
	}
	id := b.next
	b.next++
	b.listeners[id] = fn
	return func() {
		b.mu.Lock()
		delete(b.listeners, id)
		b.mu.Unlock()
	}
}

func (b *broadcaster[V]) notify(v V) {
	b.mu.Lock()
	fns := make([]func(V), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(v)
	}
}

// internalError wraps a recovered panic so it lands in Failed.
func internalError(v any) error {
	return fmt.Errorf("internal error: %v", v)
}

// describeError renders err for the status line with enough detail to
// diagnose the cause.
func describeError(err error) string {
	var (
		devErr  *models.DeviceError
		encErr  *models.EncodeError
		netErr  *models.TransportError
		respErr *models.ResponseError
	)
	switch {
	case errors.As(err, &devErr):
		return fmt.Sprintf("Camera unavailable (%s): %s", devErr.Code, devErr.Description)
	case errors.As(err, &encErr):
		return "Could not capture a usable frame: " + encErr.Reason
	case errors.As(err, &netErr):
		return fmt.Sprintf("Could not reach the analysis service: %v", netErr.Cause)
	case errors.As(err, &respErr):
		if respErr.Detail != "" {
			return fmt.Sprintf("Analysis failed (HTTP %d): %s", respErr.StatusCode, respErr.Detail)
		}
		return fmt.Sprintf("Analysis failed (HTTP %d)", respErr.StatusCode)
	}
	return "Something went wrong: " + err.Error()
}

func describeVerdict(posture models.Posture, reason string) string {
	switch posture {
	case models.PostureGood:
		if reason != "" {
			return "Good posture: " + reason
		}
		return "Good posture."
	case models.PostureBad:
		if reason != "" {
			return "Bad posture: " + reason
		}
		return "Bad posture."
	case models.PostureUndetected:
		if reason != "" {
			return "No person detected: " + reason
		}
		return "No person detected."
	}
	return string(posture)
}

func describeResult(r *models.AnalysisResult) string {
	switch r.Mode {
	case models.ModeLive:
		return describeVerdict(r.Single.Posture, r.Single.Reason)
	case models.ModeFrame:
		if len(r.Frames) == 0 {
			return "No posture issues detected."
		}
		return fmt.Sprintf("Analyzed %d frames: %d with bad posture.", len(r.Frames), r.BadFrames())
	case models.ModeSummary:
		s := r.Summary
		msg := fmt.Sprintf("Accuracy %.1f%%, %d frames with bad posture.", s.AccuracyPercent, s.BadPostureFrameCount)
		if s.TopIssue != "" {
			msg += " Top issue: " + s.TopIssue
		}
		return msg
	}
	return "Analysis complete."
}

func errorText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
