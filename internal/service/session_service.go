package service

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/config"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/pipeline"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/publisher"
)

// ErrSessionNotFound is returned for unknown or expired page sessions.
var ErrSessionNotFound = errors.New("session not found")

// Dispatcher submits both frames and videos.
type Dispatcher interface {
	pipeline.FrameDispatcher
	pipeline.VideoDispatcher
}

// PageSession is one page load: exactly one live and one upload pipeline.
type PageSession struct {
	ID        string
	CreatedAt time.Time
	Live      *pipeline.Live
	Upload    *pipeline.Upload

	tmpDir   string
	lastSeen atomic.Int64
}

// Touch marks the session as in use.
func (ps *PageSession) Touch() { ps.lastSeen.Store(time.Now().UnixNano()) }

// LastSeen returns when the session was last used.
func (ps *PageSession) LastSeen() time.Time { return time.Unix(0, ps.lastSeen.Load()) }

// TmpDir is where the session's uploads are stored.
func (ps *PageSession) TmpDir() string { return ps.tmpDir }

func (ps *PageSession) close() {
	_ = ps.Live.Close()
	_ = ps.Upload.Close()
	_ = os.RemoveAll(ps.tmpDir)
}

type SessionService struct {
	sessions   map[string]*PageSession
	mu         sync.RWMutex
	config     *config.Config
	acquirer   pipeline.Acquirer
	encoder    pipeline.FrameEncoder
	dispatcher Dispatcher
	sink       publisher.Sink
	logger     hclog.Logger
}

func NewSessionService(cfg *config.Config, acquirer pipeline.Acquirer, enc pipeline.FrameEncoder,
	dispatcher Dispatcher, sink publisher.Sink, logger hclog.Logger) *SessionService {
	if sink == nil {
		sink = publisher.Nop{}
	}
	return &SessionService{
		sessions:   make(map[string]*PageSession),
		config:     cfg,
		acquirer:   acquirer,
		encoder:    enc,
		dispatcher: dispatcher,
		sink:       sink,
		logger:     logger.Named("sessions"),
	}
}

// Create starts a page session. The live pipeline stays Idle until started.
func (s *SessionService) Create() (*PageSession, error) {
	id := uuid.NewString()
	tmpDir := filepath.Join(s.config.TmpDir, id)
	if err := os.MkdirAll(tmpDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	logger := s.logger.With("session", id)
	ps := &PageSession{ID: id, CreatedAt: time.Now(), tmpDir: tmpDir}
	ps.Touch()

	ps.Live = pipeline.NewLive(pipeline.LiveOptions{
		Constraints: s.constraints(),
		Acquirer:    s.acquirer,
		Encoder:     s.encoder,
		Dispatcher:  s.dispatcher,
		Logger:      logger.Named("live"),
		OnResult:    func(r *models.AnalysisResult) { s.sink.Publish(id, "live", r) },
	})
	ps.Upload = pipeline.NewUpload(pipeline.UploadOptions{
		Dispatcher:    s.dispatcher,
		DefaultMode:   models.ModeFrame,
		MaxUploadSize: s.config.MaxUploadSize,
		Logger:        logger.Named("upload"),
		OnResult:      func(r *models.AnalysisResult) { s.sink.Publish(id, "upload", r) },
		OnDiscard: func(f *models.VideoFile) {
			if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
				logger.Warn("failed to remove upload", "path", f.Path, "error", err)
			}
		},
	})

	s.mu.Lock()
	s.sessions[id] = ps
	s.mu.Unlock()

	logger.Info("page session created")
	return ps, nil
}

// Get returns the session and marks it as in use.
func (s *SessionService) Get(id string) (*PageSession, error) {
	s.mu.RLock()
	ps, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	ps.Touch()
	return ps, nil
}

// Delete tears the session down, releasing its camera.
func (s *SessionService) Delete(id string) error {
	s.mu.Lock()
	ps, ok := s.sessions[id]
	delete(s.sessions, id)
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	ps.close()
	s.logger.Info("page session closed", "session", id)
	return nil
}

// Count reports live page sessions.
func (s *SessionService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ExpireIdle tears down sessions unused since before now-SessionTTL.
func (s *SessionService) ExpireIdle(now time.Time) int {
	cutoff := now.Add(-s.config.SessionTTL)

	s.mu.Lock()
	var expired []*PageSession
	for id, ps := range s.sessions {
		if ps.LastSeen().Before(cutoff) {
			expired = append(expired, ps)
			delete(s.sessions, id)
		}
	}
	s.mu.Unlock()

	for _, ps := range expired {
		ps.close()
		s.logger.Info("page session expired", "session", ps.ID, "last_seen", ps.LastSeen())
	}
	return len(expired)
}

// Shutdown closes every session.
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	sessions := s.sessions
	s.sessions = make(map[string]*PageSession)
	s.mu.Unlock()

	for _, ps := range sessions {
		ps.close()
	}
	s.logger.Info("all page sessions closed", "count", len(sessions))
}

func (s *SessionService) constraints() models.Constraints {
	return models.Constraints{
		Width:  s.config.CameraWidth,
		Height: s.config.CameraHeight,
		Facing: models.FacingMode(s.config.CameraFacing),
		FPS:    s.config.CameraFPS,
	}
}
