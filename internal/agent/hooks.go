package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
)

const maxHookPayloadBytes = 1 << 16 // 64 KiB

// hookPayload is the body of POST /notify, written by the templated
// post-commit hook scripts.
type hookPayload struct {
	RepositoryID   int64  `json:"repositoryId"`
	WorkspaceID    int64  `json:"workspaceId"`
	RepositoryPath string `json:"repositoryPath"`
}

// HookListener is the loopback HTTP endpoint VCS hooks post to. It is
// bound to 127.0.0.1 only and carries nothing but ids, so it requires no
// authentication.
type HookListener struct {
	Queue *Queue
	Port  int

	shuttingDown atomic.Bool
	server       *http.Server
}

// NewHookListener creates a listener on 127.0.0.1:<port>.
func NewHookListener(queue *Queue, port int) *HookListener {
	hl := &HookListener{Queue: queue, Port: port}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /notify", hl.handleNotify)

	hl.server = &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return hl
}

// Start serves hook notifications. Blocks until ctx is cancelled.
func (hl *HookListener) Start(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx).WithName("hook-listener")

	hl.server.BaseContext = func(_ net.Listener) context.Context { return ctx }

	go func() {
		<-ctx.Done()
		hl.shuttingDown.Store(true)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = hl.server.Shutdown(shutdownCtx)
	}()

	log.Info("starting hook listener", "addr", hl.server.Addr)
	if err := hl.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("hook listener error: %w", err)
	}
	return nil
}

func (hl *HookListener) handleNotify(w http.ResponseWriter, r *http.Request) {
	log := logr.FromContextOrDiscard(r.Context()).WithName("hook-listener")

	if hl.shuttingDown.Load() {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxHookPayloadBytes))
	if err != nil {
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	var payload hookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}
	if payload.RepositoryID == 0 || payload.WorkspaceID == 0 || payload.RepositoryPath == "" {
		http.Error(w, "repositoryId, workspaceId and repositoryPath are required", http.StatusBadRequest)
		return
	}

	env := JobEnvelope{
		Kind: JobNotify,
		Notify: &NotifyJob{
			RepositoryID:   payload.RepositoryID,
			WorkspaceID:    payload.WorkspaceID,
			RepositoryPath: payload.RepositoryPath,
		},
	}

	// Blocking enqueue: hooks back-pressure along with everything else.
	if err := hl.Queue.Enqueue(r.Context(), env); err != nil {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	log.V(1).Info("notify enqueued", "workspaceId", payload.WorkspaceID, "repositoryId", payload.RepositoryID)
	w.WriteHeader(http.StatusAccepted)
}
