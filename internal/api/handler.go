package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/config"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/dto"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/encoder"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/models"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/service"
)

const (
	version = "1.0.0"

	previewMaxWidth  = 640
	previewMaxHeight = 480
	// Room for multipart headers on top of MAX_UPLOAD_SIZE.
	multipartOverhead = 1 << 20
)

type Handler struct {
	sessionService *service.SessionService
	encoder        *encoder.Encoder
	config         *config.Config
	logger         hclog.Logger
	wsUpgrader     websocket.Upgrader
}

// Constructor for Handler
func NewHandler(sessionService *service.SessionService, enc *encoder.Encoder, cfg *config.Config, logger hclog.Logger) *Handler {
	return &Handler{
		sessionService: sessionService,
		encoder:        enc,
		config:         cfg,
		logger:         logger.Named("api"),
		wsUpgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (handler *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response := dto.HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Version:   version,
		Backend:   handler.config.BackendURL.String(),
		Sessions:  handler.sessionService.Count(),
	}
	handler.respondJSON(w, http.StatusOK, response)
}

// CreateSession opens a page session with an idle live pipeline and an
// empty upload pipeline.
func (handler *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	ps, err := handler.sessionService.Create()
	if err != nil {
		handler.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	handler.respondJSON(w, http.StatusCreated, dto.CreateSessionResponse{
		SessionID: ps.ID,
		CreatedAt: ps.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// DeleteSession tears the page session down and releases its camera.
func (handler *Handler) DeleteSession(w http.ResponseWriter, r *http.Request) {
	if err := handler.sessionService.Delete(r.PathValue("session_id")); err != nil {
		handler.respondCommandError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (handler *Handler) GetState(w http.ResponseWriter, r *http.Request) {
	ps, ok := handler.session(w, r)
	if !ok {
		return
	}
	handler.respondJSON(w, http.StatusOK, sessionState(ps))
}

func (handler *Handler) StartLive(w http.ResponseWriter, r *http.Request) {
	handler.command(w, r, func(ps *service.PageSession) error { return ps.Live.Start() })
}

func (handler *Handler) CaptureLive(w http.ResponseWriter, r *http.Request) {
	handler.command(w, r, func(ps *service.PageSession) error { return ps.Live.Capture() })
}

func (handler *Handler) RetryLive(w http.ResponseWriter, r *http.Request) {
	handler.command(w, r, func(ps *service.PageSession) error { return ps.Live.Retry() })
}

func (handler *Handler) StopLive(w http.ResponseWriter, r *http.Request) {
	handler.command(w, r, func(ps *service.PageSession) error { return ps.Live.Stop() })
}

// PreviewLive serves the frame currently visible on the camera as a JPEG.
func (handler *Handler) PreviewLive(w http.ResponseWriter, r *http.Request) {
	ps, ok := handler.session(w, r)
	if !ok {
		return
	}
	img, err := ps.Live.Preview()
	if err != nil {
		handler.respondCommandError(w, err)
		return
	}
	payload, err := handler.encoder.Thumbnail(img, previewMaxWidth, previewMaxHeight)
	if err != nil {
		handler.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", payload.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload.Data)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(payload.Data)
}

// SelectFile streams the multipart field "file" into the session and makes
// it the selected video. It does not submit.
func (handler *Handler) SelectFile(w http.ResponseWriter, r *http.Request) {
	ps, ok := handler.session(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, handler.config.MaxUploadSize+multipartOverhead)
	reader, err := r.MultipartReader()
	if err != nil {
		handler.respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to parse form: %v", err))
		return
	}

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			handler.respondError(w, http.StatusBadRequest, "Failed to get video file: missing field \"file\"")
			return
		}
		if err != nil {
			handler.respondUploadError(w, err)
			return
		}
		if part.FormName() != handler.config.VideoFieldName || part.FileName() == "" {
			part.Close()
			continue
		}

		video, err := handler.sessionService.SelectUpload(r.Context(), ps, part, part.FileName())
		part.Close()
		if err != nil {
			handler.respondUploadError(w, err)
			return
		}

		handler.respondJSON(w, http.StatusOK, dto.SelectFileResponse{
			Message:   "Video selected",
			SessionID: ps.ID,
			FileName:  video.Name,
			Size:      video.Size,
		})
		return
	}
}

func (handler *Handler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req dto.SetModeRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		handler.respondError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request body: %v", err))
		return
	}
	handler.command(w, r, func(ps *service.PageSession) error {
		return ps.Upload.SetMode(models.Mode(req.Mode))
	})
}

func (handler *Handler) SubmitUpload(w http.ResponseWriter, r *http.Request) {
	handler.command(w, r, func(ps *service.PageSession) error { return ps.Upload.Submit() })
}

func (handler *Handler) RetryUpload(w http.ResponseWriter, r *http.Request) {
	handler.command(w, r, func(ps *service.PageSession) error { return ps.Upload.Retry() })
}

// command applies fn to the addressed session and answers with the
// resulting state. Rejected commands answer 409.
func (handler *Handler) command(w http.ResponseWriter, r *http.Request, fn func(ps *service.PageSession) error) {
	ps, ok := handler.session(w, r)
	if !ok {
		return
	}
	if err := fn(ps); err != nil {
		handler.respondCommandError(w, err)
		return
	}
	handler.respondJSON(w, http.StatusAccepted, sessionState(ps))
}

func (handler *Handler) session(w http.ResponseWriter, r *http.Request) (*service.PageSession, bool) {
	ps, err := handler.sessionService.Get(r.PathValue("session_id"))
	if err != nil {
		handler.respondCommandError(w, err)
		return nil, false
	}
	return ps, true
}

func (handler *Handler) respondCommandError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrSessionNotFound):
		handler.respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, models.ErrInvalidMode):
		handler.respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, models.ErrNotReady), errors.Is(err, models.ErrBusy),
		errors.Is(err, models.ErrClosed), errors.Is(err, models.ErrNoFile):
		handler.respondError(w, http.StatusConflict, err.Error())
	default:
		handler.logger.Error("command failed", "error", err)
		handler.respondError(w, http.StatusInternalServerError, err.Error())
	}
}

func (handler *Handler) respondUploadError(w http.ResponseWriter, err error) {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr), errors.Is(err, models.ErrFileTooLarge):
		handler.respondError(w, http.StatusRequestEntityTooLarge, models.ErrFileTooLarge.Error())
	case errors.Is(err, models.ErrUnsupportedFile):
		handler.respondError(w, http.StatusUnsupportedMediaType, err.Error())
	default:
		handler.respondCommandError(w, err)
	}
}

func (handler *Handler) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		handler.logger.Error("failed to encode response", "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}

func (handler *Handler) respondError(w http.ResponseWriter, status int, message string) {
	handler.respondJSON(w, status, dto.ErrorResponse{
		Error:   http.StatusText(status),
		Message: message,
		Code:    status,
	})
}
