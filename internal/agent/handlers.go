package agent

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-logr/logr"

	"github.com/graymoon-build/graymoon/internal/project"
	"github.com/graymoon-build/graymoon/internal/protocol"
	"github.com/graymoon-build/graymoon/internal/vcs"
)

// Handlers implements every dispatcher command on top of the VCS executor
// and the project parser. Handlers are idempotent where their name implies
// it and tolerate repeated invocation from retries.
type Handlers struct {
	Config *Config
	Exec   vcs.Executor
}

// NewHandlers wires handlers over the default go-git executor.
func NewHandlers(cfg *Config) *Handlers {
	return &Handlers{Config: cfg, Exec: &vcs.GoGitExecutor{}}
}

// workspacePath resolves a workspace directory: an explicit root override
// wins, otherwise the workspace lives under the configured root.
func (h *Handlers) workspacePath(name, rootOverride string) string {
	if rootOverride != "" {
		return rootOverride
	}
	return filepath.Join(h.Config.WorkspacesRoot, name)
}

func (h *Handlers) repoPath(workspaceName, rootOverride, repoName string) string {
	return filepath.Join(h.workspacePath(workspaceName, rootOverride), repoName)
}

// auth prefers the per-request token (from the repository's connector) and
// falls back to the agent's mounted credential files.
func (h *Handlers) auth(token string) (transport.AuthMethod, error) {
	if token != "" {
		return vcs.TokenAuth(token), nil
	}
	return vcs.FileAuth(h.Config.GitSSHKeyFile, h.Config.GitTokenFile, h.Config.GitKnownHostsFile)
}

func (h *Handlers) SyncRepository(ctx context.Context, req protocol.SyncRepositoryArgs) (any, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("sync-repository")

	wsPath := h.workspacePath(req.WorkspaceName, req.WorkspaceRoot)
	if _, err := vcs.EnsureWorkspaceDir(wsPath); err != nil {
		return nil, err
	}
	repoPath := filepath.Join(wsPath, req.RepositoryName)

	auth, err := h.auth(req.Token)
	if err != nil {
		return nil, err
	}

	result := protocol.SyncRepositoryResult{}

	if !h.Exec.IsCloned(repoPath) {
		if req.CloneURL == "" {
			return nil, fmt.Errorf("repository %s is not cloned and no clone URL was provided", req.RepositoryName)
		}
		log.Info("cloning repository", "repo", req.RepositoryName, "url", vcs.SanitizeURL(req.CloneURL))
		if _, err := h.Exec.Clone(ctx, req.CloneURL, repoPath, auth); err != nil {
			return nil, err
		}
		result.WasCloned = true
	} else {
		if err := h.Exec.Fetch(ctx, repoPath, auth); err != nil {
			return nil, err
		}
	}

	state, err := h.Exec.State(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	result.Branch = state.Branch
	result.Ahead = state.Ahead
	result.Behind = state.Behind
	result.HasUpstream = state.HasUpstream

	version, err := vcs.CalculateVersion(repoPath)
	if err != nil {
		return nil, err
	}
	result.Version = version

	projects, err := project.Discover(repoPath)
	if err != nil {
		return nil, err
	}
	result.Projects = projects

	branches, err := h.Exec.Branches(repoPath)
	if err != nil {
		return nil, err
	}
	for _, b := range branches {
		info := branchInfo(b)
		if b.IsRemote {
			result.RemoteBranches = append(result.RemoteBranches, info)
		} else {
			result.LocalBranches = append(result.LocalBranches, info)
		}
	}

	log.Info("repository synced",
		"repo", req.RepositoryName,
		"version", version,
		"branch", state.Branch,
		"projects", len(projects),
		"wasCloned", result.WasCloned,
	)
	return result, nil
}

func (h *Handlers) RefreshRepositoryVersion(ctx context.Context, req protocol.RefreshRepositoryVersionArgs) (any, error) {
	repoPath := h.repoPath(req.WorkspaceName, "", req.RepositoryName)

	auth, err := h.auth("")
	if err != nil {
		return nil, err
	}
	if err := h.Exec.Fetch(ctx, repoPath, auth); err != nil {
		return nil, err
	}

	state, err := h.Exec.State(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	version, err := vcs.CalculateVersion(repoPath)
	if err != nil {
		return nil, err
	}
	branches, err := h.Exec.Branches(repoPath)
	if err != nil {
		return nil, err
	}

	return protocol.RefreshRepositoryVersionResult{
		Version:     version,
		Branch:      state.Branch,
		Ahead:       state.Ahead,
		Behind:      state.Behind,
		HasUpstream: state.HasUpstream,
		Branches:    branchInfos(branches),
	}, nil
}

func (h *Handlers) RefreshRepositoryProjects(_ context.Context, req protocol.RefreshRepositoryProjectsArgs) (any, error) {
	repoPath := h.repoPath(req.WorkspaceName, "", req.RepositoryName)
	projects, err := project.Discover(repoPath)
	if err != nil {
		return nil, err
	}
	return protocol.RefreshRepositoryProjectsResult{Projects: projects}, nil
}

func (h *Handlers) EnsureWorkspace(_ context.Context, req protocol.EnsureWorkspaceArgs) (any, error) {
	path, err := vcs.EnsureWorkspaceDir(h.workspacePath(req.WorkspaceName, req.WorkspaceRoot))
	if err != nil {
		return nil, err
	}
	return protocol.EnsureWorkspaceResult{Path: path}, nil
}

func (h *Handlers) GetWorkspaceRepositories(_ context.Context, req protocol.GetWorkspaceRepositoriesArgs) (any, error) {
	names, origins, err := vcs.ListWorkspaceRepositories(h.workspacePath(req.WorkspaceName, ""))
	if err != nil {
		return nil, err
	}
	result := protocol.GetWorkspaceRepositoriesResult{}
	for i := range names {
		result.Repositories = append(result.Repositories, protocol.WorkspaceRepository{
			Name:      names[i],
			OriginURL: origins[i],
		})
	}
	return result, nil
}

func (h *Handlers) GetWorkspaceExists(_ context.Context, req protocol.GetWorkspaceExistsArgs) (any, error) {
	exists := vcs.WorkspaceExists(h.workspacePath(req.WorkspaceName, ""))
	return protocol.GetWorkspaceExistsResult{Exists: exists}, nil
}

func (h *Handlers) GetRepositoryVersion(ctx context.Context, req protocol.GetRepositoryVersionArgs) (any, error) {
	repoPath := h.repoPath(req.WorkspaceName, "", req.RepositoryName)
	if !h.Exec.IsCloned(repoPath) {
		return protocol.GetRepositoryVersionResult{Exists: false}, nil
	}

	state, err := h.Exec.State(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	version, err := vcs.CalculateVersion(repoPath)
	if err != nil {
		return nil, err
	}
	return protocol.GetRepositoryVersionResult{
		Exists:  true,
		Version: version,
		Branch:  state.Branch,
	}, nil
}

func (h *Handlers) PushRepository(ctx context.Context, req protocol.PushRepositoryArgs) (any, error) {
	repoPath := h.repoPath(req.WorkspaceName, "", req.RepositoryName)

	auth, err := h.auth(req.Token)
	if err != nil {
		return protocol.PushRepositoryResult{ErrorMessage: err.Error()}, nil
	}

	// Push outcomes are part of the result contract so the scheduler can
	// gate dependent levels on them.
	if err := h.Exec.Push(ctx, repoPath, req.Branch, auth); err != nil {
		return protocol.PushRepositoryResult{ErrorMessage: err.Error()}, nil
	}
	return protocol.PushRepositoryResult{Success: true}, nil
}

func (h *Handlers) CommitSyncRepository(ctx context.Context, req protocol.CommitSyncRepositoryArgs) (any, error) {
	repoPath := h.repoPath(req.WorkspaceName, "", req.RepositoryName)

	auth, err := h.auth(req.Token)
	if err != nil {
		return protocol.CommitSyncRepositoryResult{ErrorMessage: err.Error()}, nil
	}

	if err := h.Exec.Fetch(ctx, repoPath, auth); err != nil {
		return protocol.CommitSyncRepositoryResult{ErrorMessage: err.Error()}, nil
	}

	conflict, err := h.Exec.Integrate(ctx, repoPath, auth)
	if err != nil {
		return protocol.CommitSyncRepositoryResult{ErrorMessage: err.Error()}, nil
	}
	if conflict {
		return protocol.CommitSyncRepositoryResult{
			Conflict:     true,
			ErrorMessage: "merge conflict: upstream has diverged",
		}, nil
	}

	state, err := h.Exec.State(ctx, repoPath)
	if err != nil {
		return protocol.CommitSyncRepositoryResult{ErrorMessage: err.Error()}, nil
	}
	version, err := vcs.CalculateVersion(repoPath)
	if err != nil {
		return protocol.CommitSyncRepositoryResult{ErrorMessage: err.Error()}, nil
	}

	return protocol.CommitSyncRepositoryResult{
		Success: true,
		Version: version,
		Branch:  state.Branch,
	}, nil
}

func (h *Handlers) SyncRepositoryDependencies(_ context.Context, req protocol.SyncRepositoryDependenciesArgs) (any, error) {
	repoPath := h.repoPath(req.WorkspaceName, "", req.RepositoryName)
	updated, err := project.ApplyUpdates(repoPath, req.Updates)
	if err != nil {
		return nil, err
	}
	return protocol.SyncRepositoryDependenciesResult{UpdatedCount: updated}, nil
}

func (h *Handlers) CheckoutBranch(ctx context.Context, req protocol.BranchArgs) (any, error) {
	repoPath := h.repoPath(req.WorkspaceName, "", req.RepositoryName)
	if err := h.Exec.CheckoutBranch(repoPath, req.Branch); err != nil {
		return protocol.BranchResult{ErrorMessage: err.Error()}, nil
	}
	return h.branchOutcome(ctx, repoPath)
}

func (h *Handlers) CreateBranch(ctx context.Context, req protocol.BranchArgs) (any, error) {
	repoPath := h.repoPath(req.WorkspaceName, "", req.RepositoryName)
	if err := h.Exec.CreateBranch(repoPath, req.Branch); err != nil {
		return protocol.BranchResult{ErrorMessage: err.Error()}, nil
	}
	return h.branchOutcome(ctx, repoPath)
}

func (h *Handlers) SyncToDefaultBranch(ctx context.Context, req protocol.BranchArgs) (any, error) {
	repoPath := h.repoPath(req.WorkspaceName, "", req.RepositoryName)

	auth, err := h.auth(req.Token)
	if err != nil {
		return protocol.BranchResult{ErrorMessage: err.Error()}, nil
	}
	if err := h.Exec.Fetch(ctx, repoPath, auth); err != nil {
		return protocol.BranchResult{ErrorMessage: err.Error()}, nil
	}

	defaultBranch, err := h.Exec.DefaultBranch(repoPath)
	if err != nil {
		return protocol.BranchResult{ErrorMessage: err.Error()}, nil
	}
	if err := h.Exec.CheckoutBranch(repoPath, defaultBranch); err != nil {
		return protocol.BranchResult{ErrorMessage: err.Error()}, nil
	}
	if _, err := h.Exec.Integrate(ctx, repoPath, auth); err != nil {
		return protocol.BranchResult{ErrorMessage: err.Error()}, nil
	}
	return h.branchOutcome(ctx, repoPath)
}

func (h *Handlers) RefreshBranches(ctx context.Context, req protocol.RefreshBranchesArgs) (any, error) {
	repoPath := h.repoPath(req.WorkspaceName, "", req.RepositoryName)

	auth, err := h.auth("")
	if err != nil {
		return nil, err
	}
	if err := h.Exec.Fetch(ctx, repoPath, auth); err != nil {
		return nil, err
	}

	branches, err := h.Exec.Branches(repoPath)
	if err != nil {
		return nil, err
	}
	return protocol.RefreshBranchesResult{Branches: branchInfos(branches)}, nil
}

func (h *Handlers) AddSafeDirectory(_ context.Context, req protocol.AddSafeDirectoryArgs) (any, error) {
	added, err := vcs.AddSafeDirectory(req.Path)
	if err != nil {
		return nil, err
	}
	return protocol.AddSafeDirectoryResult{Added: added}, nil
}

// branchOutcome builds the shared result of the branch-mutating commands.
func (h *Handlers) branchOutcome(ctx context.Context, repoPath string) (any, error) {
	state, err := h.Exec.State(ctx, repoPath)
	if err != nil {
		return protocol.BranchResult{ErrorMessage: err.Error()}, nil
	}
	version, err := vcs.CalculateVersion(repoPath)
	if err != nil {
		return protocol.BranchResult{ErrorMessage: err.Error()}, nil
	}
	return protocol.BranchResult{
		Success: true,
		Branch:  state.Branch,
		Version: version,
	}, nil
}

func branchInfo(b vcs.BranchEntry) protocol.BranchInfo {
	return protocol.BranchInfo{Name: b.Name, IsRemote: b.IsRemote, IsDefault: b.IsDefault}
}

func branchInfos(bs []vcs.BranchEntry) []protocol.BranchInfo {
	out := make([]protocol.BranchInfo, len(bs))
	for i, b := range bs {
		out[i] = branchInfo(b)
	}
	return out
}
