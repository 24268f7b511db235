package httpapi

import (
	"net/http"
	"strconv"
	"text/template"
)

// hookScriptTemplate is the post-commit hook installed into agent
// working copies. It reports the commit to the agent's local hook
// listener and never fails the commit.
var hookScriptTemplate = template.Must(template.New("hook").Parse(`#!/bin/sh
# Installed by graymoon. Notifies the local agent after each commit.
curl -s -m 5 -X POST "{{.BaseURL}}:{{.Port}}/notify" \
  -H "Content-Type: application/json" \
  -d '{"repositoryId":{{.RepositoryID}},"workspaceId":{{.WorkspaceID}},"repositoryPath":"'"$(git rev-parse --show-toplevel)"'"}' \
  >/dev/null 2>&1 || true
`))

type hookScriptData struct {
	BaseURL      string
	Port         int
	WorkspaceID  int64
	RepositoryID int64
}

// handleHookScript renders the post-commit hook script for one
// repository link.
func (s *Server) handleHookScript(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	workspaceID, err := strconv.ParseInt(q.Get("workspaceId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "workspaceId is required")
		return
	}
	repositoryID, err := strconv.ParseInt(q.Get("repositoryId"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "repositoryId is required")
		return
	}
	if _, err := s.Store.GetLink(r.Context(), workspaceID, repositoryID); err != nil {
		writeError(w, http.StatusNotFound, "repository is not in the workspace")
		return
	}

	base := s.HookBaseURL
	if base == "" {
		base = "http://127.0.0.1"
	}
	port := s.HookPort
	if port == 0 {
		port = 9191
	}

	w.Header().Set("Content-Type", "text/x-shellscript")
	_ = hookScriptTemplate.Execute(w, hookScriptData{
		BaseURL:      base,
		Port:         port,
		WorkspaceID:  workspaceID,
		RepositoryID: repositoryID,
	})
}
