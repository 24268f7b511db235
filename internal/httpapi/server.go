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

// Package httpapi is the control service's HTTP surface: the REST API,
// the agent RPC endpoint, the realtime event stream, and metrics.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"

	"github.com/graymoon-build/graymoon/internal/broadcast"
	"github.com/graymoon-build/graymoon/internal/metrics"
	"github.com/graymoon-build/graymoon/internal/push"
	"github.com/graymoon-build/graymoon/internal/rpc"
	"github.com/graymoon-build/graymoon/internal/store"
	"github.com/graymoon-build/graymoon/internal/syncqueue"
)

// Server hosts the control API on one listener.
type Server struct {
	Addr string

	Store       store.Store
	Hub         *rpc.Hub
	Bridge      rpc.AgentCaller
	Queue       *syncqueue.Queue
	Scheduler   *push.Scheduler
	Broadcaster *broadcast.Broadcaster

	// HookBaseURL and HookPort template the post-commit hook scripts
	// served to agents.
	HookBaseURL string
	HookPort    int
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/api/sync", s.handleSync).Methods(http.MethodPost)
	r.HandleFunc("/api/sync/queue", s.handleSyncQueue).Methods(http.MethodGet)
	r.HandleFunc("/api/commitsync", s.handleCommitSync).Methods(http.MethodPost)
	r.HandleFunc("/api/pullpush", s.handlePullPush).Methods(http.MethodPost)
	r.HandleFunc("/api/branches/checkout", s.handleBranch(branchCheckout)).Methods(http.MethodPost)
	r.HandleFunc("/api/branches/create", s.handleBranch(branchCreate)).Methods(http.MethodPost)
	r.HandleFunc("/api/branches/syncdefault", s.handleBranch(branchSyncDefault)).Methods(http.MethodPost)
	r.HandleFunc("/api/branches/refresh", s.handleRefreshBranches).Methods(http.MethodPost)
	r.HandleFunc("/api/agent/status", s.handleAgentStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/hookscript", s.handleHookScript).Methods(http.MethodGet)

	r.Handle("/rpc/agent", s.Hub).Methods(http.MethodGet)
	r.HandleFunc("/rpc/events", s.handleEvents).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx).WithName("http")

	srv := &http.Server{
		Addr:        s.Addr,
		Handler:     s.Router(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("control API listening", "addr", s.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("control API server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down control API: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
