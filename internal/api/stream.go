package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sunilravulapati/Bad-Posture-Detection/internal/pipeline"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// StreamState pushes a state snapshot of both pipelines on every change.
// Changes are coalesced; a slow client only ever sees the latest state.
func (handler *Handler) StreamState(w http.ResponseWriter, r *http.Request) {
	ps, ok := handler.session(w, r)
	if !ok {
		return
	}

	conn, err := handler.wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request.
		handler.logger.Warn("websocket upgrade failed", "session", ps.ID, "error", err)
		return
	}
	defer conn.Close()

	changed := make(chan struct{}, 1)
	notify := func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	}
	unsubscribeLive := ps.Live.Subscribe(func(pipeline.LiveView) { notify() })
	defer unsubscribeLive()
	unsubscribeUpload := ps.Upload.Subscribe(func(pipeline.UploadView) { notify() })
	defer unsubscribeUpload()

	// Reads only detect disconnects and keep pongs flowing.
	gone := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	handler.logger.Debug("websocket client connected", "session", ps.ID)
	notify()
	for {
		select {
		case <-changed:
			ps.Touch()
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(sessionState(ps)); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ps.Live.Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteJSON(sessionState(ps))
			handler.sendClose(conn, "session closed")
			return
		case <-gone:
			handler.logger.Debug("websocket client disconnected", "session", ps.ID)
			return
		}
	}
}

func (handler *Handler) sendClose(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
