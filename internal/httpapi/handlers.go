package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/graymoon-build/graymoon/internal/protocol"
	"github.com/graymoon-build/graymoon/internal/push"
	"github.com/graymoon-build/graymoon/internal/rpc"
	"github.com/graymoon-build/graymoon/internal/store"
	"github.com/graymoon-build/graymoon/internal/syncqueue"
	"github.com/graymoon-build/graymoon/pkg/types"
)

// maxBodyBytes bounds API request bodies.
const maxBodyBytes = 1 << 20

type repoRequest struct {
	WorkspaceID  int64  `json:"workspaceId"`
	RepositoryID int64  `json:"repositoryId"`
	Branch       string `json:"branch,omitempty"`
}

func decodeBody(w http.ResponseWriter, r *http.Request, into any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(into); err != nil {
		writeError(w, http.StatusBadRequest, "malformed request body")
		return false
	}
	return true
}

func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req repoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := s.Store.GetLink(r.Context(), req.WorkspaceID, req.RepositoryID); err != nil {
		writeError(w, http.StatusNotFound, "repository is not in the workspace")
		return
	}

	switch s.Queue.Enqueue(syncqueue.Request{
		WorkspaceID:  req.WorkspaceID,
		RepositoryID: req.RepositoryID,
		Trigger:      syncqueue.TriggerUI,
	}) {
	case syncqueue.Accepted:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
	case syncqueue.DroppedDuplicate:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "duplicate"})
	default:
		writeError(w, http.StatusServiceUnavailable, "sync queue unavailable")
	}
}

func (s *Server) handleSyncQueue(w http.ResponseWriter, _ *http.Request) {
	depth := s.Queue.Depth()
	msg := "idle"
	if depth > 0 {
		msg = "syncing"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"queueDepth": depth,
		"message":    msg,
	})
}

func (s *Server) handleCommitSync(w http.ResponseWriter, r *http.Request) {
	var req repoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ws, repo, link, ok := s.loadLink(w, r, req)
	if !ok {
		return
	}

	result, err := rpc.Call[protocol.CommitSyncRepositoryResult](r.Context(), s.Bridge, protocol.CommandCommitSyncRepository, protocol.CommitSyncRepositoryArgs{
		WorkspaceName:  ws.Name,
		RepositoryName: repo.Name,
		Token:          s.connectorToken(r.Context(), repo.ConnectorID),
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	switch {
	case result.Conflict:
		link.SyncStatus = types.SyncStatusError
		link.LastError = "merge conflict; resolve manually"
	case result.Success:
		link.GitVersion = result.Version
		link.CurrentBranch = result.Branch
		link.SyncStatus = types.SyncStatusInSync
		link.LastError = ""
		now := time.Now().UTC()
		link.LastSyncedAt = &now
	default:
		link.SyncStatus = types.SyncStatusError
		link.LastError = result.ErrorMessage
	}
	s.persistLink(r.Context(), link)
	s.Broadcaster.Publish(req.WorkspaceID)

	status := http.StatusOK
	if result.Conflict {
		status = http.StatusConflict
	}
	writeJSON(w, status, result)
}

type pullPushRequest struct {
	WorkspaceID   int64   `json:"workspaceId"`
	RepositoryIDs []int64 `json:"repositoryIds,omitempty"`
}

func (s *Server) handlePullPush(w http.ResponseWriter, r *http.Request) {
	var req pullPushRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if _, err := s.Store.GetWorkspace(r.Context(), req.WorkspaceID); err != nil {
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}
	if !s.Bridge.IsAgentConnected() {
		writeError(w, http.StatusServiceUnavailable, rpc.AgentNotConnectedMessage)
		return
	}

	log := logr.FromContextOrDiscard(r.Context()).WithName("http")
	runCtx := context.WithoutCancel(r.Context())
	go func() {
		err := s.Scheduler.Push(runCtx, push.Options{
			WorkspaceID: req.WorkspaceID,
			RepoIDs:     req.RepositoryIDs,
			Progress: func(msg string) {
				log.Info("push progress", "workspaceId", req.WorkspaceID, "message", msg)
			},
			RepoError: func(repoID int64, msg string) {
				log.Info("push repository failed", "workspaceId", req.WorkspaceID, "repositoryId", repoID, "error", msg)
			},
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Error(err, "push run failed", "workspaceId", req.WorkspaceID)
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "started"})
}

type branchOp int

const (
	branchCheckout branchOp = iota
	branchCreate
	branchSyncDefault
)

func (op branchOp) command() string {
	switch op {
	case branchCreate:
		return protocol.CommandCreateBranch
	case branchSyncDefault:
		return protocol.CommandSyncToDefaultBranch
	default:
		return protocol.CommandCheckoutBranch
	}
}

func (s *Server) handleBranch(op branchOp) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req repoRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if op != branchSyncDefault && req.Branch == "" {
			writeError(w, http.StatusBadRequest, "branch is required")
			return
		}
		ws, repo, link, ok := s.loadLink(w, r, req)
		if !ok {
			return
		}

		result, err := rpc.Call[protocol.BranchResult](r.Context(), s.Bridge, op.command(), protocol.BranchArgs{
			WorkspaceName:  ws.Name,
			RepositoryName: repo.Name,
			Branch:         req.Branch,
			Token:          s.connectorToken(r.Context(), repo.ConnectorID),
		})
		if err != nil {
			writeError(w, http.StatusBadGateway, err.Error())
			return
		}

		if result.Success {
			link.CurrentBranch = result.Branch
			if result.Version != "" {
				link.GitVersion = result.Version
			}
			link.LastError = ""
		} else {
			link.LastError = result.ErrorMessage
		}
		s.persistLink(r.Context(), link)
		s.Broadcaster.Publish(req.WorkspaceID)
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Server) handleRefreshBranches(w http.ResponseWriter, r *http.Request) {
	var req repoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ws, repo, link, ok := s.loadLink(w, r, req)
	if !ok {
		return
	}

	result, err := rpc.Call[protocol.RefreshBranchesResult](r.Context(), s.Bridge, protocol.CommandRefreshBranches, protocol.RefreshBranchesArgs{
		WorkspaceName:  ws.Name,
		RepositoryName: repo.Name,
	})
	if err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	now := time.Now().UTC()
	branches := make([]*store.RepositoryBranch, 0, len(result.Branches))
	for _, b := range result.Branches {
		branches = append(branches, &store.RepositoryBranch{
			LinkID:     link.ID,
			Name:       b.Name,
			IsRemote:   b.IsRemote,
			IsDefault:  b.IsDefault,
			LastSeenAt: now,
		})
	}
	if err := s.Store.ReplaceBranches(r.Context(), link.ID, branches); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAgentStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"connected": s.Hub.IsAgentConnected(),
		"version":   s.Hub.AgentVersion(),
	})
}

func (s *Server) loadLink(w http.ResponseWriter, r *http.Request, req repoRequest) (*store.Workspace, *store.Repository, *store.WorkspaceRepositoryLink, bool) {
	ws, err := s.Store.GetWorkspace(r.Context(), req.WorkspaceID)
	if err != nil {
		writeError(w, http.StatusNotFound, "workspace not found")
		return nil, nil, nil, false
	}
	link, err := s.Store.GetLink(r.Context(), req.WorkspaceID, req.RepositoryID)
	if err != nil {
		writeError(w, http.StatusNotFound, "repository is not in the workspace")
		return nil, nil, nil, false
	}
	repo, err := s.Store.GetRepository(r.Context(), req.RepositoryID)
	if err != nil {
		writeError(w, http.StatusNotFound, "repository not found")
		return nil, nil, nil, false
	}
	return ws, repo, link, true
}

func (s *Server) connectorToken(ctx context.Context, connectorID int64) string {
	conn, err := s.Store.GetConnector(ctx, connectorID)
	if err != nil {
		return ""
	}
	return conn.Token
}

func (s *Server) persistLink(ctx context.Context, link *store.WorkspaceRepositoryLink) {
	if err := s.Store.UpdateLink(ctx, link); err != nil {
		logr.FromContextOrDiscard(ctx).WithName("http").Error(err, "persisting link state", "linkId", link.ID)
	}
}
