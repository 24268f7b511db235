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

// Package push implements the dependency-ordered, registry-synchronised
// push scheduler. Repositories are pushed level by level; before each
// level the scheduler waits for the packages that level requires to
// appear in their registries.
package push

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/graymoon-build/graymoon/internal/broadcast"
	"github.com/graymoon-build/graymoon/internal/depgraph"
	"github.com/graymoon-build/graymoon/internal/protocol"
	"github.com/graymoon-build/graymoon/internal/registry"
	"github.com/graymoon-build/graymoon/internal/rpc"
	"github.com/graymoon-build/graymoon/internal/store"
	"github.com/graymoon-build/graymoon/pkg/types"
)

const (
	// DefaultMaxConcurrentGitOperations bounds one push batch.
	DefaultMaxConcurrentGitOperations = 8

	// DefaultTimeoutPerDependency is the wait budget contributed by each
	// distinct required package at a level.
	DefaultTimeoutPerDependency = time.Minute

	// DefaultPollInterval is the registry polling cadence during the
	// wait phase.
	DefaultPollInterval = 5 * time.Second
)

// DependencyError reports a required package that never appeared in its
// registry within the wait budget.
type DependencyError struct {
	PackageID string
	Version   string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("dependency %s@%s not in registry", e.PackageID, e.Version)
}

// Bridge is the slice of the agent bridge the scheduler uses.
type Bridge interface {
	IsAgentConnected() bool
	SendCommand(ctx context.Context, command string, args any) (*rpc.AgentCommandResponse, error)
}

// Options parameterise one scheduler run.
type Options struct {
	WorkspaceID int64

	// RepoIDs restricts the push to a subset of the workspace's
	// repositories. Empty means all.
	RepoIDs []int64

	// Progress receives human-readable status lines.
	Progress func(message string)

	// RepoError receives per-repository failures. The run continues for
	// unaffected repositories.
	RepoError func(repoID int64, message string)
}

func (o *Options) progress(msg string) {
	if o.Progress != nil {
		o.Progress(msg)
	}
}

func (o *Options) repoError(repoID int64, msg string) {
	if o.RepoError != nil {
		o.RepoError(repoID, msg)
	}
}

// Scheduler pushes a workspace's repositories in dependency order.
type Scheduler struct {
	Store       store.Store
	Bridge      Bridge
	Solver      *depgraph.Solver
	Broadcaster *broadcast.Broadcaster

	// Prober, when nil, disables registry synchronisation and every run
	// falls back to a single non-synchronised batch.
	Prober registry.Prober

	// MaxConcurrentGitOperations bounds each push batch. Zero means
	// DefaultMaxConcurrentGitOperations.
	MaxConcurrentGitOperations int

	// TimeoutPerDependency scales the per-level wait budget. Zero means
	// DefaultTimeoutPerDependency.
	TimeoutPerDependency time.Duration

	// PollInterval overrides the wait-phase polling cadence in tests.
	PollInterval time.Duration
}

// Push runs one dependency-ordered push over the workspace. It returns
// nil when at least one repository pushed or there was nothing to do;
// individual failures surface through Options.RepoError.
func (s *Scheduler) Push(ctx context.Context, opts Options) error {
	log := logr.FromContextOrDiscard(ctx).WithName("push-scheduler")

	if !s.Bridge.IsAgentConnected() {
		return rpc.ErrAgentDisconnected
	}

	if _, err := s.Solver.Solve(ctx, opts.WorkspaceID); err != nil {
		return fmt.Errorf("solving dependencies: %w", err)
	}
	if s.Prober != nil {
		if err := s.refreshMatchedConnectors(ctx, opts.WorkspaceID); err != nil {
			return fmt.Errorf("refreshing matched connectors: %w", err)
		}
	}

	p, err := s.buildPlan(ctx, opts.WorkspaceID, opts.RepoIDs)
	if err != nil {
		return err
	}
	if len(p.payloads) == 0 {
		opts.progress("nothing to push")
		return nil
	}

	synchronised := s.Prober != nil && allMatched(p.payloads)
	log.Info("starting push",
		"workspace", p.workspace.Name,
		"repositories", len(p.payloads),
		"synchronised", synchronised)

	var run *runState
	if synchronised {
		run, err = s.pushSynchronised(ctx, p, &opts)
	} else {
		run, err = s.pushUnsynchronised(ctx, p, &opts)
	}
	if run != nil {
		s.Broadcaster.Publish(opts.WorkspaceID)
		pushesTotal.WithLabelValues(outcomeLabel(run, err)).Inc()
	}
	if err != nil {
		return err
	}
	if run.pushed == 0 {
		return fmt.Errorf("no repository pushed (%d failed)", run.failedCount())
	}
	return nil
}

func allMatched(payloads []*RepoPayload) bool {
	for _, pl := range payloads {
		for _, req := range pl.Required {
			if req.ConnectorID == nil {
				return false
			}
		}
	}
	return true
}

// runState tracks per-run outcomes across levels.
type runState struct {
	pushed int
	failed map[int64]struct{}
}

func newRunState() *runState {
	return &runState{failed: make(map[int64]struct{})}
}

func (r *runState) failedCount() int { return len(r.failed) }

func (r *runState) dependsOnFailed(pl *RepoPayload) bool {
	for _, id := range pl.DependsOn {
		if _, bad := r.failed[id]; bad {
			return true
		}
	}
	return false
}

func outcomeLabel(run *runState, err error) string {
	switch {
	case err != nil:
		return "aborted"
	case run.failedCount() > 0:
		return "partial"
	default:
		return "success"
	}
}

func (s *Scheduler) pushSynchronised(ctx context.Context, p *plan, opts *Options) (*runState, error) {
	run := newRunState()

	byLevel := make(map[int][]*RepoPayload)
	var levels []int
	for _, pl := range p.payloads {
		if _, seen := byLevel[pl.Level]; !seen {
			levels = append(levels, pl.Level)
		}
		byLevel[pl.Level] = append(byLevel[pl.Level], pl)
	}
	sort.Ints(levels)

	for _, level := range levels {
		if err := ctx.Err(); err != nil {
			return run, err
		}
		batch := byLevel[level]

		if unsatisfied, err := s.waitForPackages(ctx, batch, opts); err != nil {
			return run, err
		} else if unsatisfied != nil {
			// Dependency wait timed out: every repository at this level
			// fails and no higher level is pushed.
			for _, pl := range batch {
				msg := unsatisfied.Error()
				opts.repoError(pl.RepoID, msg)
				s.markFailed(ctx, p, pl.RepoID, msg)
				run.failed[pl.RepoID] = struct{}{}
			}
			return run, unsatisfied
		}

		s.pushBatch(ctx, p, batch, opts, run)
		s.refreshPushed(ctx, p, batch, run)
		s.Broadcaster.Publish(p.workspace.ID)
	}
	return run, nil
}

func (s *Scheduler) pushUnsynchronised(ctx context.Context, p *plan, opts *Options) (*runState, error) {
	run := newRunState()
	s.pushBatch(ctx, p, p.payloads, opts, run)
	s.refreshPushed(ctx, p, p.payloads, run)
	return run, nil
}

// waitForPackages polls until every distinct package required at a level
// is present in its registry. Returns a DependencyError when the budget
// runs out, or a context error on cancellation. Both nils mean satisfied.
func (s *Scheduler) waitForPackages(ctx context.Context, batch []*RepoPayload, opts *Options) (*DependencyError, error) {
	pending := make(map[string]RequiredPackage)
	for _, pl := range batch {
		for _, req := range pl.Required {
			pending[req.key()] = req
		}
	}
	total := len(pending)
	if total == 0 {
		return nil, nil
	}

	perDep := s.TimeoutPerDependency
	if perDep <= 0 {
		perDep = DefaultTimeoutPerDependency
	}
	interval := s.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	deadline := time.Now().Add(time.Duration(total) * perDep)

	connectors := make(map[int64]*store.Connector)
	lookup := func(id int64) (*store.Connector, error) {
		if c, ok := connectors[id]; ok {
			return c, nil
		}
		c, err := s.Store.GetConnector(ctx, id)
		if err != nil {
			return nil, err
		}
		connectors[id] = c
		return c, nil
	}

	log := logr.FromContextOrDiscard(ctx).WithName("push-scheduler")
	for {
		for key, req := range pending {
			conn, err := lookup(*req.ConnectorID)
			if err != nil {
				log.Error(err, "loading registry connector", "package", req.PackageID)
				continue
			}
			exists, probeErr := s.Prober.PackageVersionExists(ctx, conn, req.PackageID, req.Version)
			if probeErr != nil {
				log.V(1).Info("registry probe failed", "package", req.PackageID, "version", req.Version, "error", probeErr.Error())
			}
			if exists {
				delete(pending, key)
			}
		}
		if len(pending) == 0 {
			return nil, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			for _, req := range pending {
				return &DependencyError{PackageID: req.PackageID, Version: req.Version}, nil
			}
		}
		opts.progress(fmt.Sprintf("waiting for %d of %d dependencies; %d seconds remaining",
			len(pending), total, int(remaining.Seconds())))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}

// pushBatch pushes the payloads in parallel, bounded by
// MaxConcurrentGitOperations. Cancellation prevents new pushes but does
// not abort ones already in flight.
func (s *Scheduler) pushBatch(ctx context.Context, p *plan, batch []*RepoPayload, opts *Options, run *runState) {
	limit := s.MaxConcurrentGitOperations
	if limit <= 0 {
		limit = DefaultMaxConcurrentGitOperations
	}
	sem := make(chan struct{}, limit)

	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, pl := range batch {
		if ctx.Err() != nil {
			break
		}
		// run.failed is written by the push goroutines; hold mu across
		// the gating read too.
		mu.Lock()
		gated := run.dependsOnFailed(pl)
		if gated {
			run.failed[pl.RepoID] = struct{}{}
		}
		mu.Unlock()
		if gated {
			msg := "skipped: a repository it depends on failed to push"
			opts.repoError(pl.RepoID, msg)
			s.markFailed(ctx, p, pl.RepoID, msg)
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(pl *RepoPayload) {
			defer wg.Done()
			defer func() { <-sem }()

			err := s.pushOne(ctx, p, pl)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				opts.repoError(pl.RepoID, err.Error())
				run.failed[pl.RepoID] = struct{}{}
				return
			}
			run.pushed++
		}(pl)
	}
	wg.Wait()
}

func (s *Scheduler) pushOne(ctx context.Context, p *plan, pl *RepoPayload) error {
	resp, err := s.Bridge.SendCommand(ctx, protocol.CommandPushRepository, protocol.PushRepositoryArgs{
		WorkspaceName:  p.workspace.Name,
		RepositoryID:   pl.RepoID,
		RepositoryName: pl.RepoName,
		Token:          pl.Token,
		Branch:         pl.Branch,
	})
	if err != nil {
		s.markFailed(ctx, p, pl.RepoID, err.Error())
		return err
	}
	if !resp.Success {
		s.markFailed(ctx, p, pl.RepoID, resp.Error)
		return fmt.Errorf("%s", resp.Error)
	}
	var result protocol.PushRepositoryResult
	if decodeErr := protocol.Decode(resp.Data, &result); decodeErr == nil && !result.Success {
		s.markFailed(ctx, p, pl.RepoID, result.ErrorMessage)
		return fmt.Errorf("%s", result.ErrorMessage)
	}
	return nil
}

// refreshPushed refreshes version state for every repository that pushed
// in this batch and persists it.
func (s *Scheduler) refreshPushed(ctx context.Context, p *plan, batch []*RepoPayload, run *runState) {
	log := logr.FromContextOrDiscard(ctx).WithName("push-scheduler")
	for _, pl := range batch {
		if _, bad := run.failed[pl.RepoID]; bad {
			continue
		}
		resp, err := s.Bridge.SendCommand(ctx, protocol.CommandRefreshRepositoryVersion, protocol.RefreshRepositoryVersionArgs{
			WorkspaceName:  p.workspace.Name,
			RepositoryName: pl.RepoName,
		})
		if err != nil || !resp.Success {
			log.Info("version refresh after push failed", "repository", pl.RepoName)
			continue
		}
		var result protocol.RefreshRepositoryVersionResult
		if err := protocol.Decode(resp.Data, &result); err != nil {
			log.Error(err, "decoding version refresh", "repository", pl.RepoName)
			continue
		}

		link, ok := p.links[pl.RepoID]
		if !ok {
			continue
		}
		now := time.Now().UTC()
		link.GitVersion = result.Version
		link.CurrentBranch = result.Branch
		link.Ahead = &result.Ahead
		link.Behind = &result.Behind
		link.HasUpstream = &result.HasUpstream
		link.LastError = ""
		link.LastSyncedAt = &now
		if result.Ahead > 0 || result.Behind > 0 {
			link.SyncStatus = types.SyncStatusNeedsSync
		} else {
			link.SyncStatus = types.SyncStatusInSync
		}
		if err := s.Store.UpdateLink(ctx, link); err != nil {
			log.Error(err, "persisting refreshed state", "repository", pl.RepoName)
		}
	}
}

// markFailed persists Error status and the failure text on a link.
func (s *Scheduler) markFailed(ctx context.Context, p *plan, repoID int64, msg string) {
	link, ok := p.links[repoID]
	if !ok {
		return
	}
	link.SyncStatus = types.SyncStatusError
	link.LastError = msg
	if err := s.Store.UpdateLink(ctx, link); err != nil {
		logr.FromContextOrDiscard(ctx).WithName("push-scheduler").
			Error(err, "persisting push failure", "repositoryId", repoID)
	}
}
