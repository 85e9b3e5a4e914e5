package service

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
	"github.com/sunilravulapati/Bad-Posture-Detection/pkg/ffmpeg"
)

const probeTimeout = 10 * time.Second

// SaveUpload stores src in the session directory, checks that it is a video
// within MAX_UPLOAD_SIZE and probes its metadata for the preview. The caller
// owns the returned file until it is handed to the upload pipeline.
func (s *SessionService) SaveUpload(ctx context.Context, ps *PageSession, src io.Reader, filename string) (*models.VideoFile, error) {
	name := filepath.Base(filepath.Clean("/" + filename))
	if name == "/" || name == "." {
		name = "upload"
	}
	path := filepath.Join(ps.tmpDir, uuid.NewString()+strings.ToLower(filepath.Ext(name)))

	dst, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}

	limit := s.config.MaxUploadSize
	written, err := io.Copy(dst, io.LimitReader(src, limit+1))
	closeErr := dst.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to save file: %w", err)
	}
	if written > limit {
		os.Remove(path)
		return nil, fmt.Errorf("%w: limit is %d bytes", models.ErrFileTooLarge, limit)
	}

	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to detect file type: %w", err)
	}
	if !isVideo(mtype) {
		os.Remove(path)
		return nil, fmt.Errorf("%w: detected %s", models.ErrUnsupportedFile, mtype.String())
	}

	video := &models.VideoFile{
		Path:        path,
		Name:        name,
		Size:        written,
		ContentType: mtype.String(),
	}

	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if info, err := ffmpeg.ProbeVideo(probeCtx, path); err != nil {
		s.logger.Debug("video probe failed", "file", name, "error", err)
	} else {
		video.Duration, video.Width, video.Height = info.Duration, info.Width, info.Height
	}

	s.logger.Info("video stored", "session", ps.ID, "file", name, "size", written, "type", video.ContentType)
	return video, nil
}

// SelectUpload stores src and makes it the session's selected file.
func (s *SessionService) SelectUpload(ctx context.Context, ps *PageSession, src io.Reader, filename string) (*models.VideoFile, error) {
	video, err := s.SaveUpload(ctx, ps, src, filename)
	if err != nil {
		return nil, err
	}
	if err := ps.Upload.SelectFile(video); err != nil {
		os.Remove(video.Path)
		return nil, err
	}
	return video, nil
}

func isVideo(m *mimetype.MIME) bool {
	for ; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return true
		}
	}
	return false
}
