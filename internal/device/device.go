// Package device acquires and releases live camera streams.
//
// An Acquirer opens a Camera with the requested constraints and hands out a
// Session that exclusively owns the underlying stream. Every Session must be
// released exactly once; Release is idempotent so teardown paths can call it
// unconditionally.
package device

import (
	"context"
	"errors"
	"image"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
)

// Camera opens live streams.
type Camera interface {
	Open(ctx context.Context, constraints models.Constraints) (Stream, error)
}

// Stream is an open camera stream. Frame returns the most recent decoded
// frame; the returned image must not be modified by the caller.
type Stream interface {
	Frame() (image.Image, error)
	Stop() error
}

// Session is an active camera acquisition.
type Session struct {
	id          string
	constraints models.Constraints
	stream      Stream
	acquiredAt  time.Time
	status      atomic.Value // models.SessionStatus

	releaseOnce sync.Once
	onRelease   func()
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Status returns the current lifecycle status.
func (s *Session) Status() models.SessionStatus {
	return s.status.Load().(models.SessionStatus)
}

// Frame returns the frame visible at the moment of the call.
func (s *Session) Frame() (image.Image, error) {
	if s.Status() != models.StatusReady {
		return nil, ErrReleased
	}
	return s.stream.Frame()
}

// Info describes the session. Width and Height are the native dimensions of
// the latest frame when one is available.
func (s *Session) Info() models.SessionInfo {
	info := models.SessionInfo{
		ID:          s.id,
		Constraints: s.constraints,
		Status:      s.Status(),
		Width:       s.constraints.Width,
		Height:      s.constraints.Height,
		AcquiredAt:  s.acquiredAt,
	}
	if img, err := s.Frame(); err == nil && img != nil {
		b := img.Bounds()
		info.Width, info.Height = b.Dx(), b.Dy()
	}
	return info
}

// Release stops every track opened for the session. Releasing an already
// released session is a no-op.
func (s *Session) Release() {
	if s == nil {
		return
	}
	s.releaseOnce.Do(func() {
		s.status.Store(models.StatusReleased)
		_ = s.stream.Stop()
		if s.onRelease != nil {
			s.onRelease()
		}
	})
}

var (
	// ErrReleased is returned when reading frames from a released session.
	ErrReleased = errors.New("capture session released")
	// ErrStreamEnded is returned once the underlying stream has died.
	ErrStreamEnded = errors.New("camera stream ended")
)

// Acquirer performs device acquisition and keeps the acquire/release balance.
type Acquirer struct {
	camera  Camera
	logger  hclog.Logger
	timeout time.Duration

	active   atomic.Int64
	acquired atomic.Uint64
	released atomic.Uint64
}

// NewAcquirer creates an Acquirer. A zero timeout means acquisition is only
// bounded by the caller's context.
func NewAcquirer(camera Camera, logger hclog.Logger, timeout time.Duration) *Acquirer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Acquirer{camera: camera, logger: logger, timeout: timeout}
}

// Acquire opens a camera stream matching constraints. Failures are always
// *models.DeviceError.
func (a *Acquirer) Acquire(ctx context.Context, constraints models.Constraints) (*Session, error) {
	if err := constraints.Validate(); err != nil {
		return nil, &models.DeviceError{Code: "OverconstrainedError", Description: err.Error()}
	}

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	start := time.Now()
	stream, err := a.camera.Open(ctx, constraints)
	if err != nil {
		return nil, toDeviceError(ctx, err)
	}
	// Teardown may have raced with a successful open.
	if ctxErr := ctx.Err(); ctxErr != nil {
		_ = stream.Stop()
		return nil, toDeviceError(ctx, ctxErr)
	}

	s := &Session{
		id:          uuid.NewString(),
		constraints: constraints,
		stream:      stream,
		acquiredAt:  time.Now(),
	}
	s.status.Store(models.StatusReady)
	s.onRelease = func() {
		a.active.Add(-1)
		a.released.Add(1)
		a.logger.Debug("capture session released", "session", s.id)
	}
	a.active.Add(1)
	a.acquired.Add(1)

	a.logger.Info("capture session ready",
		"session", s.id,
		"resolution", constraints.Resolution(),
		"facing", constraints.Facing,
		"elapsed", time.Since(start))
	return s, nil
}

// Release releases s; nil and already released sessions are ignored.
func (a *Acquirer) Release(s *Session) {
	s.Release()
}

// ActiveTracks reports sessions acquired and not yet released.
func (a *Acquirer) ActiveTracks() int64 { return a.active.Load() }

// Stats reports lifetime acquire and release counts.
func (a *Acquirer) Stats() (acquired, released uint64) {
	return a.acquired.Load(), a.released.Load()
}

func toDeviceError(ctx context.Context, err error) error {
	var devErr *models.DeviceError
	if errors.As(err, &devErr) {
		return devErr
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &models.DeviceError{Code: "TimeoutError", Description: "camera did not deliver a frame in time", Cause: err}
	case errors.Is(err, context.Canceled):
		return &models.DeviceError{Code: "AbortError", Description: "acquisition aborted", Cause: err}
	}
	return &models.DeviceError{Code: "UnknownError", Description: "camera could not be opened", Cause: err}
}
