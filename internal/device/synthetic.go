package device

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
)

// SyntheticCamera produces a moving test pattern instead of reading a
// device. It backs CAMERA_DRIVER=synthetic and device-free tests.
type SyntheticCamera struct {
	// OpenDelay simulates a slow permission prompt or device warm-up.
	OpenDelay time.Duration
	// OpenErr, when set, is returned by every Open.
	OpenErr error
	// Blank makes every frame zero-sized.
	Blank bool

	opened  atomic.Int64
	stopped atomic.Int64
	// streams numbered up to endedUpTo behave as if the device went away.
	endedUpTo atomic.Int64
}

// Open waits OpenDelay (or until ctx is done) and starts a stream.
func (c *SyntheticCamera) Open(ctx context.Context, constraints models.Constraints) (Stream, error) {
	if c.OpenDelay > 0 {
		timer := time.NewTimer(c.OpenDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	return &syntheticStream{
		camera: c,
		seq:    c.opened.Add(1),
		width:  constraints.Width,
		height: constraints.Height,
		start:  time.Now(),
	}, nil
}

// EndStreams makes every stream opened so far report ErrStreamEnded, as
// when the device is unplugged. Streams opened afterwards are unaffected.
func (c *SyntheticCamera) EndStreams() {
	c.endedUpTo.Store(c.opened.Load())
}

// OpenStreams reports streams opened and not yet stopped.
func (c *SyntheticCamera) OpenStreams() int64 {
	return c.opened.Load() - c.stopped.Load()
}

type syntheticStream struct {
	camera        *SyntheticCamera
	seq           int64
	width, height int
	start         time.Time
	stopOnce      sync.Once
	stopped       atomic.Bool
}

func (s *syntheticStream) Frame() (image.Image, error) {
	if s.stopped.Load() {
		return nil, ErrReleased
	}
	if s.seq <= s.camera.endedUpTo.Load() {
		return nil, ErrStreamEnded
	}
	if s.camera.Blank {
		return image.NewRGBA(image.Rectangle{}), nil
	}
	return testPattern(s.width, s.height, int(time.Since(s.start)/(40*time.Millisecond))), nil
}

func (s *syntheticStream) Stop() error {
	s.stopOnce.Do(func() {
		s.stopped.Store(true)
		s.camera.stopped.Add(1)
	})
	return nil
}

// testPattern draws diagonal color bands shifted by tick.
func testPattern(width, height, tick int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8((x + y + tick) % 256)
			img.SetRGBA(x, y, color.RGBA{R: v, G: 255 - v, B: uint8(y % 256), A: 0xff})
		}
	}
	return img
}
