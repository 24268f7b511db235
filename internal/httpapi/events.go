package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/websocket"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second
)

var eventUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleEvents streams WorkspaceSynced events for one workspace over a
// websocket. Clients re-read state from the API on each event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	log := logr.FromContextOrDiscard(r.Context()).WithName("http")

	workspaceID, err := strconv.ParseInt(r.URL.Query().Get("workspaceId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "workspaceId is required")
		return
	}
	if _, err := s.Store.GetWorkspace(r.Context(), workspaceID); err != nil {
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}

	conn, err := eventUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error(err, "event stream upgrade failed", "remote", r.RemoteAddr)
		return
	}
	defer conn.Close()

	sub := s.Broadcaster.Subscribe(workspaceID)
	defer sub.Close()

	// Reads are discarded; the read loop only notices the client going
	// away.
	clientGone := make(chan struct{})
	go func() {
		defer close(clientGone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-clientGone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
