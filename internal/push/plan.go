package push

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-logr/logr"

	"github.com/graymoon-build/graymoon/internal/store"
	"github.com/graymoon-build/graymoon/pkg/types"
)

// RequiredPackage is one package a repository needs present in its
// registry before it can be pushed.
type RequiredPackage struct {
	PackageID   string
	Version     string
	ConnectorID *int64
}

func (p RequiredPackage) key() string {
	return strings.ToLower(p.PackageID) + "@" + p.Version
}

// RepoPayload is the per-repository push plan entry.
type RepoPayload struct {
	RepoID   int64
	RepoName string
	Level    int
	Required []RequiredPackage

	// DependsOn lists lower-level repositories this one transitively
	// depends on, for downstream failure gating.
	DependsOn []int64

	Token  string
	Branch string
}

// plan is the computed push plan for one scheduler run.
type plan struct {
	workspace *store.Workspace
	payloads  []*RepoPayload
	links     map[int64]*store.WorkspaceRepositoryLink
}

// refreshMatchedConnectors probes every active PackageRegistry connector,
// in ordinal order, for each distinct workspace package id and records
// the first match (or clears it) on each exporting project.
func (s *Scheduler) refreshMatchedConnectors(ctx context.Context, workspaceID int64) error {
	log := logr.FromContextOrDiscard(ctx).WithName("push-scheduler")

	projects, err := s.Store.ListProjects(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("listing projects: %w", err)
	}
	connectors, err := s.registryConnectors(ctx)
	if err != nil {
		return err
	}

	// One probe pass per distinct package id, shared across exporters.
	matches := make(map[string]*int64)
	for _, p := range projects {
		pkg := strings.ToLower(p.ExportedPackageID())
		match, probed := matches[pkg]
		if !probed {
			match = nil
			for _, conn := range connectors {
				exists, probeErr := s.Prober.PackageExists(ctx, conn, p.ExportedPackageID())
				if probeErr != nil {
					log.V(1).Info("registry probe failed", "package", pkg, "connector", conn.Name, "error", probeErr.Error())
				}
				if exists {
					id := conn.ID
					match = &id
					break
				}
			}
			matches[pkg] = match
		}
		if err := s.Store.SetProjectMatchedConnector(ctx, p.ID, match); err != nil {
			return fmt.Errorf("recording matched connector for project %q: %w", p.Name, err)
		}
	}
	return nil
}

// registryConnectors returns the active PackageRegistry connectors in
// probe order.
func (s *Scheduler) registryConnectors(ctx context.Context) ([]*store.Connector, error) {
	all, err := s.Store.ListConnectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing connectors: %w", err)
	}
	var out []*store.Connector
	for _, c := range all {
		if c.Kind == types.ConnectorKindPackageRegistry && c.Active {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

// buildPlan assembles push payloads for a workspace: per repository its
// level, the packages exported by lower-level repositories it
// transitively depends on, its connector token, and its current branch.
// Repositories without a level (cyclic) are excluded.
func (s *Scheduler) buildPlan(ctx context.Context, workspaceID int64, subset []int64) (*plan, error) {
	ws, err := s.Store.GetWorkspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("loading workspace %d: %w", workspaceID, err)
	}
	links, err := s.Store.ListLinks(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing links: %w", err)
	}
	projects, err := s.Store.ListProjects(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}
	deps, err := s.Store.ListDependencies(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing dependencies: %w", err)
	}
	repos, err := s.Store.ListRepositories(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing repositories: %w", err)
	}

	repoByID := make(map[int64]*store.Repository, len(repos))
	for _, r := range repos {
		repoByID[r.ID] = r
	}
	linkByRepo := make(map[int64]*store.WorkspaceRepositoryLink, len(links))
	for _, l := range links {
		linkByRepo[l.RepositoryID] = l
	}
	projByID := make(map[int64]*store.WorkspaceProject, len(projects))
	for _, p := range projects {
		projByID[p.ID] = p
	}

	// Project-level adjacency for the transitive walk.
	adjacency := make(map[int64][]int64)
	for _, d := range deps {
		adjacency[d.DependentProjectID] = append(adjacency[d.DependentProjectID], d.ReferencedProjectID)
	}
	versionOf := make(map[[2]int64]string, len(deps))
	for _, d := range deps {
		versionOf[[2]int64{d.DependentProjectID, d.ReferencedProjectID}] = d.Version
	}

	include := func(repoID int64) bool { return true }
	if len(subset) > 0 {
		set := make(map[int64]struct{}, len(subset))
		for _, id := range subset {
			set[id] = struct{}{}
		}
		include = func(repoID int64) bool {
			_, ok := set[repoID]
			return ok
		}
	}

	tokens := make(map[int64]string)
	p := &plan{workspace: ws, links: linkByRepo}
	for _, link := range links {
		if link.DependencyLevel == nil || !include(link.RepositoryID) {
			continue
		}
		if link.Ahead == nil || *link.Ahead <= 0 {
			continue
		}
		repo, ok := repoByID[link.RepositoryID]
		if !ok {
			continue
		}

		required, dependsOn := requiredFor(link, projects, projByID, linkByRepo, adjacency)

		token, loaded := tokens[repo.ConnectorID]
		if !loaded {
			if conn, err := s.Store.GetConnector(ctx, repo.ConnectorID); err == nil {
				token = conn.Token
			}
			tokens[repo.ConnectorID] = token
		}

		p.payloads = append(p.payloads, &RepoPayload{
			RepoID:    repo.ID,
			RepoName:  repo.Name,
			Level:     *link.DependencyLevel,
			Required:  required,
			DependsOn: dependsOn,
			Token:     token,
			Branch:    link.CurrentBranch,
		})
	}

	sort.Slice(p.payloads, func(i, j int) bool {
		if p.payloads[i].Level != p.payloads[j].Level {
			return p.payloads[i].Level < p.payloads[j].Level
		}
		return p.payloads[i].RepoName < p.payloads[j].RepoName
	})
	return p, nil
}

// requiredFor walks the project dependency graph from one repository's
// projects and collects the packages exported by reachable projects in
// lower-level repositories. Duplicates by (packageId, version) collapse.
func requiredFor(
	link *store.WorkspaceRepositoryLink,
	projects []*store.WorkspaceProject,
	projByID map[int64]*store.WorkspaceProject,
	linkByRepo map[int64]*store.WorkspaceRepositoryLink,
	adjacency map[int64][]int64,
) ([]RequiredPackage, []int64) {
	level := 0
	if link.DependencyLevel != nil {
		level = *link.DependencyLevel
	}

	visited := make(map[int64]struct{})
	var queue []int64
	for _, p := range projects {
		if p.RepositoryID == link.RepositoryID {
			visited[p.ID] = struct{}{}
			queue = append(queue, p.ID)
		}
	}

	seen := make(map[string]struct{})
	repoSeen := make(map[int64]struct{})
	var required []RequiredPackage
	var dependsOn []int64

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range adjacency[cur] {
			if _, done := visited[next]; done {
				continue
			}
			visited[next] = struct{}{}
			queue = append(queue, next)

			target, ok := projByID[next]
			if !ok || target.RepositoryID == link.RepositoryID {
				continue
			}
			targetLink, ok := linkByRepo[target.RepositoryID]
			if !ok || targetLink.DependencyLevel == nil || *targetLink.DependencyLevel >= level {
				continue
			}
			if _, dup := repoSeen[target.RepositoryID]; !dup {
				repoSeen[target.RepositoryID] = struct{}{}
				dependsOn = append(dependsOn, target.RepositoryID)
			}
			pkg := RequiredPackage{
				PackageID:   target.ExportedPackageID(),
				Version:     targetLink.GitVersion,
				ConnectorID: target.MatchedConnectorID,
			}
			if _, dup := seen[pkg.key()]; dup {
				continue
			}
			seen[pkg.key()] = struct{}{}
			required = append(required, pkg)
		}
	}

	sort.Slice(required, func(i, j int) bool { return required[i].key() < required[j].key() })
	sort.Slice(dependsOn, func(i, j int) bool { return dependsOn[i] < dependsOn[j] })
	return required, dependsOn
}
