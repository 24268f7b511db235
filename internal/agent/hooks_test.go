package agent

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHookNotifyEnqueues(t *testing.T) {
	q := NewQueue(2)
	hl := NewHookListener(q, 0)
	srv := httptest.NewServer(hl.server.Handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/notify", "application/json",
		strings.NewReader(`{"repositoryId":7,"workspaceId":3,"repositoryPath":"/w/repoA"}`))
	if err != nil {
		t.Fatalf("POST /notify: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}

	env, ok := q.Dequeue(t.Context())
	if !ok {
		t.Fatalf("expected a queued job")
	}
	if env.Kind != JobNotify {
		t.Fatalf("expected notify job, got kind %d", env.Kind)
	}
	if env.Notify.RepositoryID != 7 || env.Notify.WorkspaceID != 3 || env.Notify.RepositoryPath != "/w/repoA" {
		t.Errorf("notify payload mismatch: %+v", env.Notify)
	}
}

func TestHookNotifyRejectsMalformed(t *testing.T) {
	q := NewQueue(2)
	hl := NewHookListener(q, 0)
	srv := httptest.NewServer(hl.server.Handler)
	defer srv.Close()

	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"missing path", `{"repositoryId":7,"workspaceId":3}`},
		{"zero ids", `{"repositoryId":0,"workspaceId":0,"repositoryPath":"/w/r"}`},
	}
	for _, tt := range tests {
		resp, err := http.Post(srv.URL+"/notify", "application/json", strings.NewReader(tt.body))
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", tt.name, resp.StatusCode)
		}
	}
	if q.Depth() != 0 {
		t.Errorf("expected empty queue, depth %d", q.Depth())
	}
}

func TestHookNotifyDuringShutdown(t *testing.T) {
	q := NewQueue(2)
	hl := NewHookListener(q, 0)
	hl.shuttingDown.Store(true)
	srv := httptest.NewServer(hl.server.Handler)
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/notify", "application/json",
		strings.NewReader(`{"repositoryId":7,"workspaceId":3,"repositoryPath":"/w/repoA"}`))
	if err != nil {
		t.Fatalf("POST /notify: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestHookNotifyMethodNotAllowed(t *testing.T) {
	q := NewQueue(2)
	hl := NewHookListener(q, 0)
	srv := httptest.NewServer(hl.server.Handler)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/notify")
	if err != nil {
		t.Fatalf("GET /notify: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
