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

// Package syncqueue runs per-repository sync requests in the background.
// Requests from hooks and the UI are de-duplicated against an in-flight
// set so a repository is synced at most once at a time.
package syncqueue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/graymoon-build/graymoon/internal/broadcast"
	"github.com/graymoon-build/graymoon/internal/protocol"
	"github.com/graymoon-build/graymoon/internal/rpc"
	"github.com/graymoon-build/graymoon/internal/store"
	"github.com/graymoon-build/graymoon/pkg/types"
)

// DefaultMaxConcurrency is the worker count when none is configured.
const DefaultMaxConcurrency = 8

// Trigger records where a sync request originated.
type Trigger string

const (
	TriggerHook      Trigger = "hook"
	TriggerUI        Trigger = "ui"
	TriggerScheduler Trigger = "scheduler"
)

// Request asks for one repository to be synced within one workspace.
type Request struct {
	WorkspaceID  int64
	RepositoryID int64
	Trigger      Trigger
}

// EnqueueStatus is the admission outcome of an enqueue.
type EnqueueStatus int

const (
	// Accepted means the request was queued.
	Accepted EnqueueStatus = iota
	// DroppedDuplicate means an equal request was already queued or
	// being processed.
	DroppedDuplicate
	// Rejected means the queue is shut down.
	Rejected
)

type requestKey struct {
	workspaceID  int64
	repositoryID int64
}

// Queue is the background sync pipeline. Capacity is unbounded; the
// in-flight set is the only admission gate.
type Queue struct {
	Store       store.Store
	Bridge      rpc.CommandSender
	Broadcaster *broadcast.Broadcaster

	// MaxConcurrency is the worker count. Zero means
	// DefaultMaxConcurrency.
	MaxConcurrency int

	// Deduplicate enables the in-flight admission gate. When disabled
	// every request is accepted.
	Deduplicate bool

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []Request
	inflight map[requestKey]struct{}
	closed   bool
}

// New creates a sync queue with de-duplication enabled.
func New(st store.Store, bridge rpc.CommandSender, bc *broadcast.Broadcaster) *Queue {
	q := &Queue{
		Store:       st,
		Bridge:      bridge,
		Broadcaster: bc,
		Deduplicate: true,
		inflight:    make(map[requestKey]struct{}),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Enqueue admits a sync request. With de-duplication on, a request whose
// (workspace, repository) key is already queued or being processed is
// dropped.
func (q *Queue) Enqueue(req Request) EnqueueStatus {
	key := requestKey{req.WorkspaceID, req.RepositoryID}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Rejected
	}
	if q.Deduplicate {
		if _, dup := q.inflight[key]; dup {
			syncDroppedTotal.Inc()
			return DroppedDuplicate
		}
	}
	q.inflight[key] = struct{}{}
	q.pending = append(q.pending, req)
	syncAcceptedTotal.WithLabelValues(string(req.Trigger)).Inc()
	q.cond.Signal()
	return Accepted
}

// Depth reports the number of requests waiting for a worker. Requests
// being processed are not counted.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Run processes requests until ctx is cancelled. It blocks; callers run
// it in a goroutine. Workers finish their current request before exiting.
func (q *Queue) Run(ctx context.Context) {
	workers := q.MaxConcurrency
	if workers <= 0 {
		workers = DefaultMaxConcurrency
	}

	// Wake the pop waiters when the context dies.
	go func() {
		<-ctx.Done()
		q.mu.Lock()
		q.closed = true
		q.cond.Broadcast()
		q.mu.Unlock()
	}()

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.worker(ctx)
		}()
	}
	wg.Wait()
}

func (q *Queue) worker(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx).WithName("sync-queue")
	for {
		req, ok := q.pop()
		if !ok {
			return
		}
		if err := q.process(ctx, req); err != nil {
			log.Error(err, "sync failed",
				"workspaceId", req.WorkspaceID,
				"repositoryId", req.RepositoryID,
				"trigger", req.Trigger)
		}
		q.finish(req)
	}
}

func (q *Queue) pop() (Request, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.pending) == 0 {
		return Request{}, false
	}
	req := q.pending[0]
	q.pending = q.pending[1:]
	return req, true
}

// finish clears the in-flight marker. It runs even after a failed sync so
// the next request for the same repository is admitted.
func (q *Queue) finish(req Request) {
	q.mu.Lock()
	delete(q.inflight, requestKey{req.WorkspaceID, req.RepositoryID})
	q.mu.Unlock()
}

func (q *Queue) process(ctx context.Context, req Request) error {
	ws, err := q.Store.GetWorkspace(ctx, req.WorkspaceID)
	if err != nil {
		return fmt.Errorf("loading workspace %d: %w", req.WorkspaceID, err)
	}
	link, err := q.Store.GetLink(ctx, req.WorkspaceID, req.RepositoryID)
	if err != nil {
		return fmt.Errorf("repository %d is not in workspace %q: %w", req.RepositoryID, ws.Name, err)
	}
	repo, err := q.Store.GetRepository(ctx, req.RepositoryID)
	if err != nil {
		return fmt.Errorf("loading repository %d: %w", req.RepositoryID, err)
	}

	if link.SyncStatus == types.SyncStatusNotCloned || link.GitVersion == "" {
		err = q.cloneAndSync(ctx, ws, repo, link)
	} else {
		err = q.refresh(ctx, ws, repo, link)
	}

	if err != nil {
		link.SyncStatus = types.SyncStatusError
		link.LastError = err.Error()
		if storeErr := q.Store.UpdateLink(ctx, link); storeErr != nil {
			return fmt.Errorf("persisting sync failure: %w", storeErr)
		}
		q.Broadcaster.Publish(req.WorkspaceID)
		return err
	}

	q.Broadcaster.Publish(req.WorkspaceID)
	return nil
}

func (q *Queue) cloneAndSync(ctx context.Context, ws *store.Workspace, repo *store.Repository, link *store.WorkspaceRepositoryLink) error {
	var token string
	if conn, err := q.Store.GetConnector(ctx, repo.ConnectorID); err == nil {
		token = conn.Token
	}

	result, err := rpc.Call[protocol.SyncRepositoryResult](ctx, q.Bridge, protocol.CommandSyncRepository, protocol.SyncRepositoryArgs{
		WorkspaceName:  ws.Name,
		WorkspaceID:    ws.ID,
		WorkspaceRoot:  ws.RootPath,
		RepositoryID:   repo.ID,
		RepositoryName: repo.Name,
		CloneURL:       repo.CloneURL,
		Token:          token,
	})
	if err != nil {
		return err
	}

	if err := q.applyProjects(ctx, link, result.Projects); err != nil {
		return err
	}
	count := len(result.Projects)
	link.ProjectCount = &count
	return q.applyState(ctx, link, result.Version, result.Branch, result.Ahead, result.Behind, result.HasUpstream)
}

func (q *Queue) refresh(ctx context.Context, ws *store.Workspace, repo *store.Repository, link *store.WorkspaceRepositoryLink) error {
	result, err := rpc.Call[protocol.RefreshRepositoryVersionResult](ctx, q.Bridge, protocol.CommandRefreshRepositoryVersion, protocol.RefreshRepositoryVersionArgs{
		WorkspaceName:  ws.Name,
		RepositoryName: repo.Name,
	})
	if err != nil {
		return err
	}
	return q.applyState(ctx, link, result.Version, result.Branch, result.Ahead, result.Behind, result.HasUpstream)
}

func (q *Queue) applyProjects(ctx context.Context, link *store.WorkspaceRepositoryLink, infos []protocol.ProjectInfo) error {
	projects := make([]*store.WorkspaceProject, 0, len(infos))
	for _, p := range infos {
		refs := make([]store.PackageRef, 0, len(p.PackageReferences))
		for _, r := range p.PackageReferences {
			refs = append(refs, store.PackageRef{PackageID: r.ID, Version: r.Version})
		}
		projects = append(projects, &store.WorkspaceProject{
			WorkspaceID:       link.WorkspaceID,
			RepositoryID:      link.RepositoryID,
			Name:              p.Name,
			Kind:              p.Kind,
			RelativePath:      p.RelativePath,
			TargetFramework:   p.TargetFramework,
			PackageID:         p.PackageID,
			PackageReferences: refs,
		})
	}
	return q.Store.MergeProjects(ctx, link.WorkspaceID, link.RepositoryID, projects)
}

func (q *Queue) applyState(ctx context.Context, link *store.WorkspaceRepositoryLink, version, branch string, ahead, behind int, hasUpstream bool) error {
	now := time.Now().UTC()
	link.GitVersion = version
	link.CurrentBranch = branch
	link.Ahead = &ahead
	link.Behind = &behind
	link.HasUpstream = &hasUpstream
	link.LastError = ""
	link.LastSyncedAt = &now
	if ahead > 0 || behind > 0 {
		link.SyncStatus = types.SyncStatusNeedsSync
	} else {
		link.SyncStatus = types.SyncStatusInSync
	}
	return q.Store.UpdateLink(ctx, link)
}
