package agent

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/graymoon-build/graymoon/internal/protocol"
)

// ErrLinkDown is returned when a send is attempted without a connection.
var ErrLinkDown = errors.New("rpc link is not connected")

const (
	reconnectBase   = 1 * time.Second
	reconnectCap    = 30 * time.Second
	reconnectJitter = 0.2
)

// Link is the agent side of the persistent bidirectional channel. It
// receives RequestCommand frames and enqueues them as Command jobs, and
// sends ResponseCommand / SyncCommand / ReportSemVer frames back. On any
// transport failure it reconnects forever with capped exponential backoff.
type Link struct {
	HubURL string
	Secret string
	Queue  *Queue
	SemVer string

	writeMu   sync.Mutex
	conn      *websocket.Conn
	connected atomic.Bool
}

// IsConnected reports whether the channel is currently up.
func (l *Link) IsConnected() bool {
	return l.connected.Load()
}

// Run dials the hub and pumps frames until ctx is cancelled.
func (l *Link) Run(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx).WithName("rpc-link")

	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := l.dial(ctx)
		if err != nil {
			delay := backoffDelay(attempt)
			attempt++
			log.Info("dial failed, retrying", "error", err.Error(), "delay", delay, "attempt", attempt)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		l.setConn(conn)
		log.Info("connected to hub", "url", l.HubURL)

		// Report our version on every connect.
		if err := l.send(&protocol.Envelope{
			Type:   protocol.FrameSemVer,
			SemVer: &protocol.ReportSemVer{Version: l.SemVer},
		}); err != nil {
			log.Error(err, "failed to report version")
		}

		l.readLoop(ctx, conn, log)

		l.setConn(nil)
		log.Info("disconnected from hub")
	}
}

func (l *Link) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if l.Secret != "" {
		token, err := l.signToken()
		if err != nil {
			return nil, fmt.Errorf("signing channel token: %w", err)
		}
		header.Set("Authorization", "Bearer "+token)
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, resp, err := websocket.DefaultDialer.DialContext(dialCtx, l.HubURL, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dialing hub: %w (status %d)", err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dialing hub: %w", err)
	}
	return conn, nil
}

// signToken builds a short-lived HS256 token identifying this agent.
func (l *Link) signToken() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "graymoon-agent",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(l.Secret))
}

func (l *Link) readLoop(ctx context.Context, conn *websocket.Conn, log logr.Logger) {
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	for {
		var env protocol.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if ctx.Err() == nil {
				log.V(1).Info("read failed", "error", err.Error())
			}
			return
		}

		if env.Type != protocol.FrameRequest || env.Request == nil {
			log.V(1).Info("ignoring unexpected frame", "type", env.Type)
			continue
		}

		// Blocking enqueue: a full queue back-pressures the hub via the
		// stalled read loop.
		job := JobEnvelope{Kind: JobCommand, Request: env.Request}
		if err := l.Queue.Enqueue(ctx, job); err != nil {
			log.Info("dropping request, queue closed", "requestId", env.Request.RequestID)
			return
		}
	}
}

func (l *Link) setConn(conn *websocket.Conn) {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if l.conn != nil && conn == nil {
		_ = l.conn.Close()
	}
	l.conn = conn
	l.connected.Store(conn != nil)
}

func (l *Link) send(env *protocol.Envelope) error {
	l.writeMu.Lock()
	defer l.writeMu.Unlock()
	if l.conn == nil {
		return ErrLinkDown
	}
	if err := l.conn.WriteJSON(env); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}

// SendResponse implements Responder.
func (l *Link) SendResponse(resp *protocol.ResponseCommand) error {
	return l.send(&protocol.Envelope{Type: protocol.FrameResponse, Response: resp})
}

// SendSync implements SyncSender.
func (l *Link) SendSync(sync *protocol.SyncCommand) error {
	return l.send(&protocol.Envelope{Type: protocol.FrameSync, Sync: sync})
}

// backoffDelay computes the capped exponential delay with ±20% jitter.
func backoffDelay(attempt int) time.Duration {
	delay := reconnectCap
	if attempt < 6 { // 2^5 s = 32 s already exceeds the cap
		delay = reconnectBase << attempt
		if delay > reconnectCap {
			delay = reconnectCap
		}
	}
	jitter := 1 + reconnectJitter*(2*rand.Float64()-1)
	return time.Duration(float64(delay) * jitter)
}
