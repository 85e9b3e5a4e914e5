package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// Binaries can be overridden for tests or non-standard installs.
var (
	FFmpegBin  = "ffmpeg"
	FFprobeBin = "ffprobe"
)

// CheckInstallation verifies if FFmpeg is installed and accessible
func CheckInstallation() error {
	cmd := exec.Command(FFmpegBin, "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg is not installed or not in PATH: %w", err)
	}
	return nil
}

// VideoInfo is the subset of ffprobe output used for upload previews.
type VideoInfo struct {
	Duration  time.Duration
	Width     int
	Height    int
	CodecName string
	FrameRate string
}

type probeOutput struct {
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
	Streams []struct {
		CodecType  string `json:"codec_type"`
		CodecName  string `json:"codec_name"`
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
}

// ProbeVideo retrieves duration and dimensions of the first video stream
func ProbeVideo(ctx context.Context, videoPath string) (*VideoInfo, error) {
	cmd := exec.CommandContext(ctx, FFprobeBin,
		"-v", "error",
		"-show_entries", "format=duration",
		"-show_entries", "stream=codec_type,codec_name,width,height,r_frame_rate",
		"-of", "json",
		videoPath,
	)

	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("failed to get video metadata: %w", err)
	}
	return parseProbe(output)
}

func parseProbe(output []byte) (*VideoInfo, error) {
	var probe probeOutput
	if err := json.Unmarshal(output, &probe); err != nil {
		return nil, fmt.Errorf("failed to parse ffprobe output: %w", err)
	}

	info := &VideoInfo{}
	if secs, err := strconv.ParseFloat(strings.TrimSpace(probe.Format.Duration), 64); err == nil {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	for _, s := range probe.Streams {
		if s.CodecType != "video" {
			continue
		}
		info.Width = s.Width
		info.Height = s.Height
		info.CodecName = s.CodecName
		info.FrameRate = s.RFrameRate
		return info, nil
	}
	return nil, fmt.Errorf("no video stream found")
}

// CameraArgs builds the arguments that stream raw RGB24 frames of exactly
// width x height from a V4L2 device to stdout.
func CameraArgs(device string, width, height, fps int) []string {
	return []string{
		"-hide_banner",
		"-loglevel", "error",
		"-f", "v4l2",
		"-framerate", strconv.Itoa(fps),
		"-video_size", fmt.Sprintf("%dx%d", width, height),
		"-i", device,
		"-f", "rawvideo",
		"-pix_fmt", "rgb24",
		"-",
	}
}

// CameraCommand returns an unstarted ffmpeg process for CameraArgs.
func CameraCommand(ctx context.Context, device string, width, height, fps int) *exec.Cmd {
	return exec.CommandContext(ctx, FFmpegBin, CameraArgs(device, width, height, fps)...)
}
