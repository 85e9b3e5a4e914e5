package api

import (
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/pipeline"
	"github.com/sunilravulapati/Bad-Posture-Detection/internal/service"
)

// SessionStateResponse is the rendered state of both pipelines of a page
// session. It is also the websocket message body.
type SessionStateResponse struct {
	SessionID string              `json:"session_id"`
	Live      pipeline.LiveView   `json:"live"`
	Upload    pipeline.UploadView `json:"upload"`
}

func sessionState(ps *service.PageSession) SessionStateResponse {
	return SessionStateResponse{
		SessionID: ps.ID,
		Live:      ps.Live.View(),
		Upload:    ps.Upload.View(),
	}
}
