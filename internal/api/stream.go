package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MikeSquared-Agency/ragdesk/internal/events"
)

const (
	streamBuffer     = 64
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API only listens for the local UI.
	CheckOrigin: func(*http.Request) bool { return true },
}

// streamEvents handles GET /api/v1/events/stream. It upgrades to a
// websocket and pushes every event as one JSON text frame, filtered by the
// optional ?type= and ?session_id= parameters.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.Live == nil {
		writeError(w, http.StatusServiceUnavailable, "live events are not configured")
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		slog.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	typ := r.URL.Query().Get("type")
	sessionID := r.URL.Query().Get("session_id")

	ch, unsubscribe := s.deps.Live.Subscribe(streamBuffer)
	defer unsubscribe()

	// Reads only serve to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	slog.Debug("event stream connected", "type", typ, "session_id", sessionID)

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case e, ok := <-ch:
			if !ok {
				return
			}
			if !matchEvent(e, typ, sessionID) {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				slog.Debug("event stream closed", "error", err)
				return
			}
		}
	}
}

func matchEvent(e events.Event, typ, sessionID string) bool {
	if typ != "" && e.Type != typ {
		return false
	}
	if sessionID != "" && e.SessionID != sessionID {
		return false
	}
	return true
}
