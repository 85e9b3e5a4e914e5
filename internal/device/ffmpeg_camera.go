package device

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/go-hclog"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
	"github.com/sunilravulapati/Bad-Posture-Detection/pkg/ffmpeg"
)

const stderrLimit = 4096

// FFmpegCamera streams a V4L2 device through an ffmpeg subprocess.
type FFmpegCamera struct {
	deviceFor func(models.FacingMode) string
	fps       int
	logger    hclog.Logger
}

// NewFFmpegCamera creates a camera. deviceFor maps a facing mode to a device path.
func NewFFmpegCamera(deviceFor func(models.FacingMode) string, fps int, logger hclog.Logger) *FFmpegCamera {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	if fps <= 0 {
		fps = 15
	}
	return &FFmpegCamera{deviceFor: deviceFor, fps: fps, logger: logger}
}

func (c *FFmpegCamera) Open(ctx context.Context, constraints models.Constraints) (Stream, error) {
	dev := c.deviceFor(constraints.Facing)
	fps := constraints.FPS
	if fps <= 0 {
		fps = c.fps
	}

	// The process outlives the acquisition context; Stop cancels it.
	procCtx, cancel := context.WithCancel(context.Background())
	cmd := ffmpeg.CameraCommand(procCtx, dev, constraints.Width, constraints.Height, fps)

	stderr := &tailBuffer{limit: stderrLimit}
	cmd.Stderr = stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to open ffmpeg stdout: %w", err)
	}

	if err := cmd.Start(); err != nil {
		cancel()
		if errors.Is(err, exec.ErrNotFound) {
			return nil, &models.DeviceError{Code: "NotSupportedError", Description: "ffmpeg is not installed or not in PATH", Cause: err}
		}
		return nil, &models.DeviceError{Code: "UnknownError", Description: "failed to start ffmpeg", Cause: err}
	}

	s := &ffmpegStream{
		width:  constraints.Width,
		height: constraints.Height,
		cancel: cancel,
		ready:  make(chan struct{}),
		exited: make(chan struct{}),
		logger: c.logger.With("device", dev),
	}
	go s.readLoop(stdout)
	go func() {
		s.exitErr = cmd.Wait()
		close(s.exited)
	}()

	select {
	case <-s.ready:
		c.logger.Debug("camera streaming", "device", dev, "resolution", constraints.Resolution(), "fps", fps)
		return s, nil
	case <-s.exited:
		cancel()
		return nil, classifyFFmpegError(stderr.String(), s.exitErr)
	case <-ctx.Done():
		_ = s.Stop()
		return nil, ctx.Err()
	}
}

type ffmpegStream struct {
	width, height int
	cancel        context.CancelFunc
	latest        atomic.Pointer[image.RGBA]
	ready         chan struct{}
	readyOnce     sync.Once
	exited        chan struct{}
	exitErr       error
	stopOnce      sync.Once
	logger        hclog.Logger
}

// readLoop decodes fixed-size rgb24 frames from ffmpeg stdout.
func (s *ffmpegStream) readLoop(r io.Reader) {
	buf := make([]byte, s.width*s.height*3)
	for {
		if _, err := io.ReadFull(r, buf); err != nil {
			return
		}
		s.latest.Store(rgb24ToRGBA(buf, s.width, s.height))
		s.readyOnce.Do(func() { close(s.ready) })
	}
}

func (s *ffmpegStream) Frame() (image.Image, error) {
	select {
	case <-s.exited:
		return nil, fmt.Errorf("%w: %v", ErrStreamEnded, s.exitErr)
	default:
	}
	img := s.latest.Load()
	if img == nil {
		return nil, errors.New("no frame decoded yet")
	}
	return img, nil
}

func (s *ffmpegStream) Stop() error {
	s.stopOnce.Do(func() {
		s.cancel()
		<-s.exited
		s.logger.Debug("camera stream stopped")
	})
	return nil
}

func rgb24ToRGBA(src []byte, width, height int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i, j := 0, 0; i+2 < len(src); i, j = i+3, j+4 {
		img.Pix[j] = src[i]
		img.Pix[j+1] = src[i+1]
		img.Pix[j+2] = src[i+2]
		img.Pix[j+3] = 0xff
	}
	return img
}

// classifyFFmpegError maps ffmpeg diagnostics to platform error names.
func classifyFFmpegError(stderr string, exitErr error) *models.DeviceError {
	msg := strings.ToLower(stderr)
	desc := lastLine(stderr)
	if desc == "" {
		desc = "camera stream ended before the first frame"
	}

	code := "UnknownError"
	switch {
	case strings.Contains(msg, "permission denied"):
		code = "NotAllowedError"
	case strings.Contains(msg, "device or resource busy"):
		code = "NotReadableError"
	case strings.Contains(msg, "no such file or directory"),
		strings.Contains(msg, "no such device"),
		strings.Contains(msg, "cannot open video device"):
		code = "NotFoundError"
	case strings.Contains(msg, "invalid argument"),
		strings.Contains(msg, "not supported"),
		strings.Contains(msg, "unsupported"):
		code = "OverconstrainedError"
	}
	return &models.DeviceError{Code: code, Description: desc, Cause: exitErr}
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	return strings.TrimSpace(lines[len(lines)-1])
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
