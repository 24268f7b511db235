package store

import (
	"context"
	"errors"
	"time"

	"github.com/graymoon-build/graymoon/pkg/types"
)

var (
	// ErrNotFound indicates the requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicate indicates a uniqueness invariant would be violated.
	ErrDuplicate = errors.New("duplicate")
)

// Connector holds credentials and the endpoint for one external system.
// Tokens are stored in cleartext by contract; anything derived from them
// must be sanitized before logging.
type Connector struct {
	ID        int64                 `json:"id"`
	Name      string                `json:"name"`
	Kind      types.ConnectorKind   `json:"kind"`
	BaseURL   string                `json:"baseUrl"`
	UserName  string                `json:"userName,omitempty"`
	Token     string                `json:"token,omitempty"`
	Status    types.ConnectorStatus `json:"status"`
	Active    bool                  `json:"active"`
	LastError string                `json:"lastError,omitempty"`
	// Ordinal fixes the probe order across PackageRegistry connectors.
	Ordinal int `json:"ordinal"`
}

// Repository is a VCS repository known to the system.
type Repository struct {
	ID          int64  `json:"id"`
	ConnectorID int64  `json:"connectorId"`
	Org         string `json:"org"`
	Name        string `json:"name"`
	Visibility  string `json:"visibility,omitempty"`
	CloneURL    string `json:"cloneUrl"`
}

// Workspace is a named grouping of repositories bound to a host root path.
type Workspace struct {
	ID           int64      `json:"id"`
	Name         string     `json:"name"`
	LastSyncedAt *time.Time `json:"lastSyncedAt,omitempty"`
	IsInSync     bool       `json:"isInSync"`
	RootPath     string     `json:"rootPath,omitempty"`
	IsDefault    bool       `json:"isDefault"`
}

// WorkspaceRepositoryLink is a repository's membership in a workspace with
// per-workspace mutable state. Numeric fields are pointers so a fresh link
// distinguishes "never measured" from zero.
type WorkspaceRepositoryLink struct {
	ID              int64            `json:"id"`
	WorkspaceID     int64            `json:"workspaceId"`
	RepositoryID    int64            `json:"repositoryId"`
	GitVersion      string           `json:"gitVersion,omitempty"`
	CurrentBranch   string           `json:"currentBranch,omitempty"`
	ProjectCount    *int             `json:"projectCount,omitempty"`
	Ahead           *int             `json:"ahead,omitempty"`
	Behind          *int             `json:"behind,omitempty"`
	HasUpstream     *bool            `json:"hasUpstream,omitempty"`
	SyncStatus      types.SyncStatus `json:"syncStatus"`
	DependencyLevel *int             `json:"dependencyLevel,omitempty"`
	Dependencies    *int             `json:"dependencies,omitempty"`
	UnmatchedDeps   *int             `json:"unmatchedDeps,omitempty"`
	LastError       string           `json:"lastError,omitempty"`
	LastSyncedAt    *time.Time       `json:"lastSyncedAt,omitempty"`
}

// RepositoryBranch is a per-link branch record.
type RepositoryBranch struct {
	ID         int64     `json:"id"`
	LinkID     int64     `json:"linkId"`
	Name       string    `json:"name"`
	IsRemote   bool      `json:"isRemote"`
	IsDefault  bool      `json:"isDefault"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// PackageRef is one package reference a project declares.
type PackageRef struct {
	PackageID string `json:"packageId"`
	Version   string `json:"version"`
}

// WorkspaceProject is a project descriptor found in a repository within a
// workspace. Merge key: (workspace, repository, project name).
type WorkspaceProject struct {
	ID                 int64             `json:"id"`
	WorkspaceID        int64             `json:"workspaceId"`
	RepositoryID       int64             `json:"repositoryId"`
	Name               string            `json:"name"`
	Kind               types.ProjectKind `json:"kind"`
	RelativePath       string            `json:"relativePath"`
	TargetFramework    string            `json:"targetFramework,omitempty"`
	PackageID          string            `json:"packageId,omitempty"`
	PackageReferences  []PackageRef      `json:"packageReferences,omitempty"`
	MatchedConnectorID *int64            `json:"matchedConnectorId,omitempty"`
}

// ExportedPackageID is the package id this project exports: the declared
// packageId, falling back to the project name.
func (p *WorkspaceProject) ExportedPackageID() string {
	if p.PackageID != "" {
		return p.PackageID
	}
	return p.Name
}

// ProjectDependency is a directed edge from a dependent project to a
// referenced project, with the declared version string. Only edges whose
// both endpoints are workspace projects are persisted.
type ProjectDependency struct {
	ID                  int64  `json:"id"`
	WorkspaceID         int64  `json:"workspaceId"`
	DependentProjectID  int64  `json:"dependentProjectId"`
	ReferencedProjectID int64  `json:"referencedProjectId"`
	Version             string `json:"version"`
}

// Store owns all persistent entities. Implementations serialize access per
// entity row; cross-row consistency is not required.
type Store interface {
	// Connectors. Name is unique.
	CreateConnector(ctx context.Context, c *Connector) error
	GetConnector(ctx context.Context, id int64) (*Connector, error)
	GetConnectorByName(ctx context.Context, name string) (*Connector, error)
	ListConnectors(ctx context.Context) ([]*Connector, error)
	UpdateConnector(ctx context.Context, c *Connector) error
	DeleteConnector(ctx context.Context, id int64) error

	// Repositories. Unique per (connector, org, name).
	CreateRepository(ctx context.Context, r *Repository) error
	GetRepository(ctx context.Context, id int64) (*Repository, error)
	ListRepositories(ctx context.Context) ([]*Repository, error)

	// Workspaces. Name is unique; at most one default.
	CreateWorkspace(ctx context.Context, w *Workspace) error
	GetWorkspace(ctx context.Context, id int64) (*Workspace, error)
	GetWorkspaceByName(ctx context.Context, name string) (*Workspace, error)
	ListWorkspaces(ctx context.Context) ([]*Workspace, error)
	UpdateWorkspace(ctx context.Context, w *Workspace) error

	// Links. Unique on (workspace, repository). New links default to
	// SyncStatusNeedsSync with all numeric fields nil.
	CreateLink(ctx context.Context, l *WorkspaceRepositoryLink) error
	GetLink(ctx context.Context, workspaceID, repositoryID int64) (*WorkspaceRepositoryLink, error)
	ListLinks(ctx context.Context, workspaceID int64) ([]*WorkspaceRepositoryLink, error)
	UpdateLink(ctx context.Context, l *WorkspaceRepositoryLink) error

	// Branches. ReplaceBranches swaps the full branch set for a link.
	ReplaceBranches(ctx context.Context, linkID int64, branches []*RepositoryBranch) error
	ListBranches(ctx context.Context, linkID int64) ([]*RepositoryBranch, error)

	// Projects. MergeProjects upserts on (workspace, repository, name) and
	// removes rows for projects no longer present; matched connector ids of
	// surviving rows are preserved.
	MergeProjects(ctx context.Context, workspaceID, repositoryID int64, projects []*WorkspaceProject) error
	ListProjects(ctx context.Context, workspaceID int64) ([]*WorkspaceProject, error)
	ListRepositoryProjects(ctx context.Context, workspaceID, repositoryID int64) ([]*WorkspaceProject, error)
	SetProjectMatchedConnector(ctx context.Context, projectID int64, connectorID *int64) error

	// Dependencies. ReplaceDependencies swaps the workspace edge list.
	ReplaceDependencies(ctx context.Context, workspaceID int64, deps []*ProjectDependency) error
	ListDependencies(ctx context.Context, workspaceID int64) ([]*ProjectDependency, error)
}
