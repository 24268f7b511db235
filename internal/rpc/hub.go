/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package rpc

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/graymoon-build/graymoon/internal/protocol"
)

// SyncHandler receives sync frames pushed by the agent outside of any
// request/response exchange.
type SyncHandler interface {
	HandleSync(ctx context.Context, sync *protocol.SyncCommand)
}

// SyncHandlerFunc adapts a function to SyncHandler.
type SyncHandlerFunc func(ctx context.Context, sync *protocol.SyncCommand)

// HandleSync implements SyncHandler.
func (f SyncHandlerFunc) HandleSync(ctx context.Context, sync *protocol.SyncCommand) {
	f(ctx, sync)
}

type agentConn struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (a *agentConn) writeJSON(v any) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()
	return a.conn.WriteJSON(v)
}

// Hub is the server end of the agent channel. At most one agent connection
// is current at a time: a newly accepted connection supplants the previous
// one, which is closed. Response frames are routed to the correlator, sync
// frames to the sync handler, and semver frames update the reported agent
// version.
type Hub struct {
	Correlator *Correlator
	Sync       SyncHandler

	// Secret, when non-empty, requires a bearer JWT signed with it on
	// every incoming agent connection.
	Secret string

	upgrader websocket.Upgrader

	mu      sync.Mutex
	current *agentConn
	version string
}

// NewHub creates a hub routing responses into correlator and sync frames
// into sync.
func NewHub(correlator *Correlator, sync SyncHandler) *Hub {
	return &Hub{
		Correlator: correlator,
		Sync:       sync,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}
}

// IsAgentConnected reports whether an agent connection is current.
func (h *Hub) IsAgentConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil
}

// AgentVersion returns the semantic version the current agent reported on
// connect, or "" when no agent has connected yet.
func (h *Hub) AgentVersion() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version
}

// ServeHTTP upgrades an agent connection and runs its read loop until the
// socket drops or a newer agent supplants it.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	log := logr.FromContextOrDiscard(r.Context()).WithName("rpc-hub")

	if err := h.authorize(r); err != nil {
		log.Info("rejected agent connection", "reason", err.Error(), "remote", r.RemoteAddr)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error(err, "websocket upgrade failed", "remote", r.RemoteAddr)
		return
	}

	ac := &agentConn{id: uuid.NewString(), conn: conn}
	h.adopt(ac, log)

	h.readLoop(r.Context(), ac, log)

	// Only the connection that is still current tears down shared state;
	// a supplanted connection exits quietly.
	if h.release(ac) {
		log.Info("agent disconnected", "connection", ac.id)
		h.Correlator.FailAll(ErrAgentDisconnected)
	}
	conn.Close()
}

func (h *Hub) authorize(r *http.Request) error {
	if h.Secret == "" {
		return nil
	}
	header := r.Header.Get("Authorization")
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return fmt.Errorf("missing bearer token")
	}
	_, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return []byte(h.Secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return fmt.Errorf("invalid token: %w", err)
	}
	return nil
}

func (h *Hub) adopt(ac *agentConn, log logr.Logger) {
	h.mu.Lock()
	previous := h.current
	h.current = ac
	h.version = ""
	h.mu.Unlock()

	if previous != nil {
		log.Info("agent reconnected, closing previous connection",
			"previous", previous.id, "connection", ac.id)
		previous.conn.Close()
	} else {
		log.Info("agent connected", "connection", ac.id)
	}
}

// release clears the current connection when ac still holds it. Returns
// whether ac was current.
func (h *Hub) release(ac *agentConn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.current != ac {
		return false
	}
	h.current = nil
	return true
}

func (h *Hub) readLoop(ctx context.Context, ac *agentConn, log logr.Logger) {
	for {
		var env protocol.Envelope
		if err := ac.conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Info("agent read failed", "connection", ac.id, "error", err.Error())
			}
			return
		}

		switch env.Type {
		case protocol.FrameResponse:
			if env.Response == nil {
				log.Info("dropping response frame without body", "connection", ac.id)
				continue
			}
			if !h.Correlator.Deliver(env.Response) {
				log.V(1).Info("discarding uncorrelated response", "requestId", env.Response.RequestID)
			}
			agentResponsesTotal.Inc()
		case protocol.FrameSync:
			if env.Sync == nil {
				log.Info("dropping sync frame without body", "connection", ac.id)
				continue
			}
			if h.Sync != nil {
				h.Sync.HandleSync(ctx, env.Sync)
			}
			agentSyncFramesTotal.Inc()
		case protocol.FrameSemVer:
			if env.SemVer == nil {
				continue
			}
			h.mu.Lock()
			if h.current == ac {
				h.version = env.SemVer.Version
			}
			h.mu.Unlock()
			log.Info("agent reported version", "connection", ac.id, "version", env.SemVer.Version)
		default:
			log.Info("dropping frame of unknown type", "type", env.Type, "connection", ac.id)
		}
	}
}

// SendRequest writes a request frame to the current agent connection.
func (h *Hub) SendRequest(req *protocol.RequestCommand) error {
	h.mu.Lock()
	ac := h.current
	h.mu.Unlock()

	if ac == nil {
		return ErrAgentDisconnected
	}
	env := protocol.Envelope{Type: protocol.FrameRequest, Request: req}
	if err := ac.writeJSON(env); err != nil {
		return fmt.Errorf("sending request %q: %w", req.Command, err)
	}
	return nil
}
