package api

import (
	"net/http"

	"github.com/hashicorp/go-hclog"
)

func SetupRoutes(sessionHandler *Handler, logger hclog.Logger) http.Handler {
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /api/posture/health", sessionHandler.HealthCheck)

	// Page sessions
	mux.HandleFunc("POST /api/posture/sessions", sessionHandler.CreateSession)
	mux.HandleFunc("DELETE /api/posture/sessions/{session_id}", sessionHandler.DeleteSession)
	mux.HandleFunc("GET /api/posture/sessions/{session_id}/state", sessionHandler.GetState)
	mux.HandleFunc("GET /api/posture/sessions/{session_id}/ws", sessionHandler.StreamState)

	// Live pipeline
	mux.HandleFunc("POST /api/posture/sessions/{session_id}/live/start", sessionHandler.StartLive)
	mux.HandleFunc("POST /api/posture/sessions/{session_id}/live/capture", sessionHandler.CaptureLive)
	mux.HandleFunc("POST /api/posture/sessions/{session_id}/live/retry", sessionHandler.RetryLive)
	mux.HandleFunc("POST /api/posture/sessions/{session_id}/live/stop", sessionHandler.StopLive)
	mux.HandleFunc("GET /api/posture/sessions/{session_id}/live/preview", sessionHandler.PreviewLive)

	// Upload pipeline
	mux.HandleFunc("POST /api/posture/sessions/{session_id}/upload/file", sessionHandler.SelectFile)
	mux.HandleFunc("POST /api/posture/sessions/{session_id}/upload/mode", sessionHandler.SetMode)
	mux.HandleFunc("POST /api/posture/sessions/{session_id}/upload/submit", sessionHandler.SubmitUpload)
	mux.HandleFunc("POST /api/posture/sessions/{session_id}/upload/retry", sessionHandler.RetryUpload)

	// Apply middleware
	handler := LoggingMiddleware(logger)(mux)
	handler = RecoveryMiddleware(logger)(handler)
	handler = CORSMiddleware(handler)

	return handler
}
