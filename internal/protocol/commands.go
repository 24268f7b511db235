package protocol

import "github.com/graymoon-build/graymoon/pkg/types"

// Command names understood by the agent dispatcher. The string values are
// the wire contract; renaming one is a breaking protocol change.
const (
	CommandSyncRepository             = "SyncRepository"
	CommandRefreshRepositoryVersion   = "RefreshRepositoryVersion"
	CommandRefreshRepositoryProjects  = "RefreshRepositoryProjects"
	CommandEnsureWorkspace            = "EnsureWorkspace"
	CommandGetWorkspaceRepositories   = "GetWorkspaceRepositories"
	CommandGetWorkspaceExists         = "GetWorkspaceExists"
	CommandGetRepositoryVersion       = "GetRepositoryVersion"
	CommandPushRepository             = "PushRepository"
	CommandCommitSyncRepository       = "CommitSyncRepository"
	CommandSyncRepositoryDependencies = "SyncRepositoryDependencies"
	CommandCheckoutBranch             = "CheckoutBranch"
	CommandCreateBranch               = "CreateBranch"
	CommandSyncToDefaultBranch        = "SyncToDefaultBranch"
	CommandRefreshBranches            = "RefreshBranches"
	CommandAddSafeDirectory           = "AddSafeDirectory"
)

// PackageReference is one declared package dependency of a project.
type PackageReference struct {
	ID      string `json:"id"`
	Version string `json:"version"`
}

// ProjectInfo describes one project descriptor found in a repository.
type ProjectInfo struct {
	Name              string             `json:"name"`
	Kind              types.ProjectKind  `json:"kind"`
	RelativePath      string             `json:"relativePath"`
	TargetFramework   string             `json:"targetFramework,omitempty"`
	PackageID         string             `json:"packageId,omitempty"`
	PackageReferences []PackageReference `json:"packageReferences,omitempty"`
}

// BranchInfo describes one branch of a working copy.
type BranchInfo struct {
	Name      string `json:"name"`
	IsRemote  bool   `json:"isRemote"`
	IsDefault bool   `json:"isDefault"`
}

// WorkspaceRepository pairs a repository directory name with its origin URL.
type WorkspaceRepository struct {
	Name      string `json:"name"`
	OriginURL string `json:"originUrl"`
}

type SyncRepositoryArgs struct {
	WorkspaceName  string `json:"workspaceName"`
	WorkspaceID    int64  `json:"workspaceId"`
	WorkspaceRoot  string `json:"workspaceRoot,omitempty"`
	RepositoryID   int64  `json:"repositoryId"`
	RepositoryName string `json:"repositoryName"`
	CloneURL       string `json:"cloneUrl,omitempty"`
	Token          string `json:"token,omitempty"`
}

type SyncRepositoryResult struct {
	Version        string        `json:"version"`
	Branch         string        `json:"branch"`
	WasCloned      bool          `json:"wasCloned"`
	Projects       []ProjectInfo `json:"projects"`
	Ahead          int           `json:"ahead"`
	Behind         int           `json:"behind"`
	HasUpstream    bool          `json:"hasUpstream"`
	LocalBranches  []BranchInfo  `json:"localBranches,omitempty"`
	RemoteBranches []BranchInfo  `json:"remoteBranches,omitempty"`
}

type RefreshRepositoryVersionArgs struct {
	WorkspaceName  string `json:"workspaceName"`
	RepositoryName string `json:"repositoryName"`
}

type RefreshRepositoryVersionResult struct {
	Version     string       `json:"version"`
	Branch      string       `json:"branch"`
	Ahead       int          `json:"ahead"`
	Behind      int          `json:"behind"`
	HasUpstream bool         `json:"hasUpstream"`
	Branches    []BranchInfo `json:"branches,omitempty"`
}

type RefreshRepositoryProjectsArgs struct {
	WorkspaceName  string `json:"workspaceName"`
	RepositoryName string `json:"repositoryName"`
}

type RefreshRepositoryProjectsResult struct {
	Projects []ProjectInfo `json:"projects"`
}

type EnsureWorkspaceArgs struct {
	WorkspaceName string `json:"workspaceName"`
	WorkspaceRoot string `json:"workspaceRoot,omitempty"`
}

type EnsureWorkspaceResult struct {
	Path string `json:"path"`
}

type GetWorkspaceRepositoriesArgs struct {
	WorkspaceName string `json:"workspaceName"`
}

type GetWorkspaceRepositoriesResult struct {
	Repositories []WorkspaceRepository `json:"repositories"`
}

type GetWorkspaceExistsArgs struct {
	WorkspaceName string `json:"workspaceName"`
}

type GetWorkspaceExistsResult struct {
	Exists bool `json:"exists"`
}

type GetRepositoryVersionArgs struct {
	WorkspaceName  string `json:"workspaceName"`
	RepositoryName string `json:"repositoryName"`
}

type GetRepositoryVersionResult struct {
	Exists  bool   `json:"exists"`
	Version string `json:"version,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

type PushRepositoryArgs struct {
	WorkspaceName  string `json:"workspaceName"`
	RepositoryID   int64  `json:"repositoryId"`
	RepositoryName string `json:"repositoryName"`
	Token          string `json:"token,omitempty"`
	Branch         string `json:"branch,omitempty"`
}

type PushRepositoryResult struct {
	Success      bool   `json:"success"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type CommitSyncRepositoryArgs struct {
	WorkspaceName  string `json:"workspaceName"`
	RepositoryName string `json:"repositoryName"`
	Token          string `json:"token,omitempty"`
}

type CommitSyncRepositoryResult struct {
	Success      bool   `json:"success"`
	Conflict     bool   `json:"conflict"`
	Version      string `json:"version,omitempty"`
	Branch       string `json:"branch,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// DependencyUpdate is one package-version rewrite for a project descriptor.
type DependencyUpdate struct {
	ProjectName string `json:"projectName"`
	PackageID   string `json:"packageId"`
	Version     string `json:"version"`
}

type SyncRepositoryDependenciesArgs struct {
	WorkspaceName  string             `json:"workspaceName"`
	RepositoryName string             `json:"repositoryName"`
	Updates        []DependencyUpdate `json:"updates"`
}

type SyncRepositoryDependenciesResult struct {
	UpdatedCount int `json:"updatedCount"`
}

type BranchArgs struct {
	WorkspaceName  string `json:"workspaceName"`
	RepositoryName string `json:"repositoryName"`
	Branch         string `json:"branch,omitempty"`
	Token          string `json:"token,omitempty"`
}

type BranchResult struct {
	Success      bool   `json:"success"`
	Branch       string `json:"branch,omitempty"`
	Version      string `json:"version,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

type RefreshBranchesArgs struct {
	WorkspaceName  string `json:"workspaceName"`
	RepositoryName string `json:"repositoryName"`
}

type RefreshBranchesResult struct {
	Branches []BranchInfo `json:"branches"`
}

type AddSafeDirectoryArgs struct {
	Path string `json:"path"`
}

type AddSafeDirectoryResult struct {
	Added bool `json:"added"`
}
