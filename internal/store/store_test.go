package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/graymoon-build/graymoon/pkg/types"
)

// Both backends are held to the same contract.
func backends(t *testing.T) map[string]Store {
	t.Helper()
	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "graymoon.db"))
	if err != nil {
		t.Fatalf("opening bolt store: %v", err)
	}
	t.Cleanup(func() { bolt.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   bolt,
	}
}

func seedWorkspace(t *testing.T, st Store) (*Workspace, *Repository, *WorkspaceRepositoryLink) {
	t.Helper()
	ctx := context.Background()

	conn := &Connector{Name: "hub", Kind: types.ConnectorKindVcsHost, BaseURL: "https://git.example.com", Active: true}
	if err := st.CreateConnector(ctx, conn); err != nil {
		t.Fatalf("CreateConnector: %v", err)
	}
	repo := &Repository{ConnectorID: conn.ID, Org: "acme", Name: "lib", CloneURL: "https://git.example.com/acme/lib.git"}
	if err := st.CreateRepository(ctx, repo); err != nil {
		t.Fatalf("CreateRepository: %v", err)
	}
	ws := &Workspace{Name: "main", IsDefault: true}
	if err := st.CreateWorkspace(ctx, ws); err != nil {
		t.Fatalf("CreateWorkspace: %v", err)
	}
	link := &WorkspaceRepositoryLink{WorkspaceID: ws.ID, RepositoryID: repo.ID}
	if err := st.CreateLink(ctx, link); err != nil {
		t.Fatalf("CreateLink: %v", err)
	}
	return ws, repo, link
}

func TestConnectorUniqueness(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := &Connector{Name: "hub", Kind: types.ConnectorKindVcsHost, BaseURL: "https://a"}
			if err := st.CreateConnector(ctx, c); err != nil {
				t.Fatalf("CreateConnector: %v", err)
			}
			dup := &Connector{Name: "hub", Kind: types.ConnectorKindVcsHost, BaseURL: "https://b"}
			if err := st.CreateConnector(ctx, dup); !errors.Is(err, ErrDuplicate) {
				t.Fatalf("expected ErrDuplicate, got %v", err)
			}

			got, err := st.GetConnectorByName(ctx, "hub")
			if err != nil {
				t.Fatalf("GetConnectorByName: %v", err)
			}
			if got.BaseURL != "https://a" {
				t.Errorf("expected original row, got %+v", got)
			}
		})
	}
}

func TestNewLinkDefaults(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ws, repo, _ := seedWorkspace(t, st)

			link, err := st.GetLink(context.Background(), ws.ID, repo.ID)
			if err != nil {
				t.Fatalf("GetLink: %v", err)
			}
			if link.SyncStatus != types.SyncStatusNeedsSync {
				t.Errorf("expected NeedsSync default, got %q", link.SyncStatus)
			}
			if link.Ahead != nil || link.Behind != nil || link.ProjectCount != nil ||
				link.DependencyLevel != nil || link.Dependencies != nil || link.UnmatchedDeps != nil {
				t.Errorf("expected nil numeric fields on a fresh link: %+v", link)
			}
		})
	}
}

func TestLinkUniqueness(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ws, repo, _ := seedWorkspace(t, st)
			dup := &WorkspaceRepositoryLink{WorkspaceID: ws.ID, RepositoryID: repo.ID}
			if err := st.CreateLink(context.Background(), dup); !errors.Is(err, ErrDuplicate) {
				t.Fatalf("expected ErrDuplicate, got %v", err)
			}
		})
	}
}

func TestLinkRoundTrip(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ws, repo, link := seedWorkspace(t, st)

			ahead, behind := 2, 0
			upstream := true
			link.GitVersion = "1.2.3"
			link.CurrentBranch = "main"
			link.Ahead = &ahead
			link.Behind = &behind
			link.HasUpstream = &upstream
			link.SyncStatus = types.SyncStatusNeedsSync
			if err := st.UpdateLink(ctx, link); err != nil {
				t.Fatalf("UpdateLink: %v", err)
			}

			got, err := st.GetLink(ctx, ws.ID, repo.ID)
			if err != nil {
				t.Fatalf("GetLink: %v", err)
			}
			if got.GitVersion != "1.2.3" || got.CurrentBranch != "main" {
				t.Errorf("state mismatch: %+v", got)
			}
			if got.Ahead == nil || *got.Ahead != 2 {
				t.Errorf("expected ahead 2, got %v", got.Ahead)
			}
			if got.HasUpstream == nil || !*got.HasUpstream {
				t.Errorf("expected upstream true")
			}
		})
	}
}

func TestMergeProjectsPreservesMatchedConnector(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ws, repo, _ := seedWorkspace(t, st)

			initial := []*WorkspaceProject{
				{Name: "Lib", Kind: types.ProjectKindPackage, RelativePath: "src/Lib", PackageID: "Acme.Lib"},
				{Name: "Lib.Tests", Kind: types.ProjectKindTest, RelativePath: "test/Lib.Tests"},
			}
			if err := st.MergeProjects(ctx, ws.ID, repo.ID, initial); err != nil {
				t.Fatalf("MergeProjects: %v", err)
			}

			projects, err := st.ListProjects(ctx, ws.ID)
			if err != nil {
				t.Fatalf("ListProjects: %v", err)
			}
			if len(projects) != 2 {
				t.Fatalf("expected 2 projects, got %d", len(projects))
			}

			var libID int64
			for _, p := range projects {
				if p.Name == "Lib" {
					libID = p.ID
				}
			}
			connID := int64(42)
			if err := st.SetProjectMatchedConnector(ctx, libID, &connID); err != nil {
				t.Fatalf("SetProjectMatchedConnector: %v", err)
			}

			// Re-merge: Lib survives with a new path, Lib.Tests is gone,
			// App is new.
			second := []*WorkspaceProject{
				{Name: "Lib", Kind: types.ProjectKindPackage, RelativePath: "lib/Lib", PackageID: "Acme.Lib"},
				{Name: "App", Kind: types.ProjectKindExecutable, RelativePath: "src/App"},
			}
			if err := st.MergeProjects(ctx, ws.ID, repo.ID, second); err != nil {
				t.Fatalf("second MergeProjects: %v", err)
			}

			projects, err = st.ListProjects(ctx, ws.ID)
			if err != nil {
				t.Fatalf("ListProjects: %v", err)
			}
			byName := make(map[string]*WorkspaceProject)
			for _, p := range projects {
				byName[p.Name] = p
			}
			if len(byName) != 2 || byName["Lib.Tests"] != nil {
				t.Fatalf("expected Lib and App only, got %v", byName)
			}
			lib := byName["Lib"]
			if lib.ID != libID {
				t.Errorf("surviving project changed id: %d != %d", lib.ID, libID)
			}
			if lib.RelativePath != "lib/Lib" {
				t.Errorf("expected refreshed path, got %q", lib.RelativePath)
			}
			if lib.MatchedConnectorID == nil || *lib.MatchedConnectorID != connID {
				t.Errorf("matched connector not preserved: %v", lib.MatchedConnectorID)
			}
		})
	}
}

func TestReplaceDependenciesSkipsSelfEdges(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			ws, repo, _ := seedWorkspace(t, st)

			if err := st.MergeProjects(ctx, ws.ID, repo.ID, []*WorkspaceProject{
				{Name: "A"}, {Name: "B"},
			}); err != nil {
				t.Fatalf("MergeProjects: %v", err)
			}
			projects, _ := st.ListProjects(ctx, ws.ID)
			var a, b int64
			for _, p := range projects {
				switch p.Name {
				case "A":
					a = p.ID
				case "B":
					b = p.ID
				}
			}

			deps := []*ProjectDependency{
				{WorkspaceID: ws.ID, DependentProjectID: a, ReferencedProjectID: b, Version: "1.0.0"},
				{WorkspaceID: ws.ID, DependentProjectID: a, ReferencedProjectID: a, Version: "1.0.0"},
			}
			if err := st.ReplaceDependencies(ctx, ws.ID, deps); err != nil {
				t.Fatalf("ReplaceDependencies: %v", err)
			}

			got, err := st.ListDependencies(ctx, ws.ID)
			if err != nil {
				t.Fatalf("ListDependencies: %v", err)
			}
			if len(got) != 1 {
				t.Fatalf("expected the self-edge to be dropped, got %d edges", len(got))
			}
			if got[0].DependentProjectID != a || got[0].ReferencedProjectID != b {
				t.Errorf("edge mismatch: %+v", got[0])
			}
		})
	}
}

func TestReplaceBranches(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			_, _, link := seedWorkspace(t, st)

			if err := st.ReplaceBranches(ctx, link.ID, []*RepositoryBranch{
				{LinkID: link.ID, Name: "main", IsDefault: true},
				{LinkID: link.ID, Name: "feature/x", IsRemote: true},
			}); err != nil {
				t.Fatalf("ReplaceBranches: %v", err)
			}

			if err := st.ReplaceBranches(ctx, link.ID, []*RepositoryBranch{
				{LinkID: link.ID, Name: "main", IsDefault: true},
			}); err != nil {
				t.Fatalf("second ReplaceBranches: %v", err)
			}

			branches, err := st.ListBranches(ctx, link.ID)
			if err != nil {
				t.Fatalf("ListBranches: %v", err)
			}
			if len(branches) != 1 || branches[0].Name != "main" {
				t.Errorf("expected the replaced set, got %+v", branches)
			}
		})
	}
}

func TestGetMissingReturnsNotFound(t *testing.T) {
	for name, st := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := st.GetWorkspace(ctx, 999); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetWorkspace: expected ErrNotFound, got %v", err)
			}
			if _, err := st.GetLink(ctx, 1, 999); !errors.Is(err, ErrNotFound) {
				t.Errorf("GetLink: expected ErrNotFound, got %v", err)
			}
		})
	}
}
