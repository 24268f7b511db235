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

// Package depgraph builds the workspace-local project dependency graph,
// condenses it to a repository-level DAG, and assigns dependency levels.
package depgraph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/go-logr/logr"

	"github.com/graymoon-build/graymoon/internal/store"
)

// CycleError reports repositories caught in a dependency cycle. The
// solver still levels the rest of the workspace.
type CycleError struct {
	RepoIDs []int64
}

func (e *CycleError) Error() string {
	ids := make([]string, len(e.RepoIDs))
	for i, id := range e.RepoIDs {
		ids[i] = fmt.Sprintf("%d", id)
	}
	return "dependency cycle across repositories " + strings.Join(ids, ", ")
}

// repoEdge is one repository-level dependency with the versions its
// project edges declared.
type repoEdge struct {
	from, to int64
	versions []string
}

// Result is one solver pass over a workspace.
type Result struct {
	// Levels maps repository id to its dependency level. Repositories
	// caught in a cycle are absent.
	Levels map[int64]int

	// Dependencies and UnmatchedDeps count repository-level edges per
	// dependent repository.
	Dependencies  map[int64]int
	UnmatchedDeps map[int64]int

	// Cycle is non-nil when a dependency cycle was found.
	Cycle *CycleError
}

// Level returns a repository's level, or nil when it is cyclic or
// unknown.
func (r *Result) Level(repoID int64) *int {
	if l, ok := r.Levels[repoID]; ok {
		return &l
	}
	return nil
}

// Solver computes and persists workspace dependency state.
type Solver struct {
	Store store.Store
}

// Solve rebuilds the workspace's project dependency edges, condenses them
// to repository level, assigns levels, and persists the results onto the
// workspace's links. A cycle is reported in the result, not as an error.
func (s *Solver) Solve(ctx context.Context, workspaceID int64) (*Result, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("dep-solver")

	projects, err := s.Store.ListProjects(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing workspace %d projects: %w", workspaceID, err)
	}
	links, err := s.Store.ListLinks(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("listing workspace %d links: %w", workspaceID, err)
	}

	projectEdges := projectEdges(workspaceID, projects)
	if err := s.Store.ReplaceDependencies(ctx, workspaceID, projectEdges); err != nil {
		return nil, fmt.Errorf("persisting dependency edges: %w", err)
	}

	byID := make(map[int64]*store.WorkspaceProject, len(projects))
	for _, p := range projects {
		byID[p.ID] = p
	}
	versionByRepo := make(map[int64]string, len(links))
	for _, l := range links {
		versionByRepo[l.RepositoryID] = l.GitVersion
	}

	edges := condense(projectEdges, byID)

	result := &Result{
		Levels:        make(map[int64]int),
		Dependencies:  make(map[int64]int),
		UnmatchedDeps: make(map[int64]int),
	}

	adjacency := make(map[int64][]int64)
	for _, e := range edges {
		adjacency[e.from] = append(adjacency[e.from], e.to)
		result.Dependencies[e.from]++
		for _, v := range e.versions {
			if v != versionByRepo[e.to] {
				result.UnmatchedDeps[e.from]++
				break
			}
		}
	}

	repoIDs := make([]int64, 0, len(links))
	for _, l := range links {
		repoIDs = append(repoIDs, l.RepositoryID)
	}
	sort.Slice(repoIDs, func(i, j int) bool { return repoIDs[i] < repoIDs[j] })

	cyclic := findCyclic(repoIDs, adjacency)
	if len(cyclic) > 0 {
		ids := make([]int64, 0, len(cyclic))
		for id := range cyclic {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		result.Cycle = &CycleError{RepoIDs: ids}
		log.Info("dependency cycle detected", "workspaceId", workspaceID, "repositories", ids)
	}

	assignLevels(repoIDs, adjacency, cyclic, result.Levels)

	for _, link := range links {
		link.DependencyLevel = result.Level(link.RepositoryID)
		deps := result.Dependencies[link.RepositoryID]
		unmatched := result.UnmatchedDeps[link.RepositoryID]
		link.Dependencies = &deps
		link.UnmatchedDeps = &unmatched
		if err := s.Store.UpdateLink(ctx, link); err != nil {
			return nil, fmt.Errorf("persisting dependency state for repository %d: %w", link.RepositoryID, err)
		}
	}
	return result, nil
}

// projectEdges builds the persisted project-level edge list. Only edges
// whose referenced package is exported by another workspace project are
// recorded; self-edges are skipped.
func projectEdges(workspaceID int64, projects []*store.WorkspaceProject) []*store.ProjectDependency {
	exporters := make(map[string]*store.WorkspaceProject, len(projects))
	for _, p := range projects {
		exporters[strings.ToLower(p.ExportedPackageID())] = p
	}

	var edges []*store.ProjectDependency
	seen := make(map[[2]int64]struct{})
	for _, p := range projects {
		for _, ref := range p.PackageReferences {
			target, ok := exporters[strings.ToLower(ref.PackageID)]
			if !ok || target.ID == p.ID {
				continue
			}
			key := [2]int64{p.ID, target.ID}
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			edges = append(edges, &store.ProjectDependency{
				WorkspaceID:         workspaceID,
				DependentProjectID:  p.ID,
				ReferencedProjectID: target.ID,
				Version:             ref.Version,
			})
		}
	}
	return edges
}

// condense collapses project edges onto repository vertices, dropping
// intra-repository edges and merging parallel ones.
func condense(edges []*store.ProjectDependency, byID map[int64]*store.WorkspaceProject) []repoEdge {
	merged := make(map[[2]int64]*repoEdge)
	for _, e := range edges {
		from, okF := byID[e.DependentProjectID]
		to, okT := byID[e.ReferencedProjectID]
		if !okF || !okT || from.RepositoryID == to.RepositoryID {
			continue
		}
		key := [2]int64{from.RepositoryID, to.RepositoryID}
		re, ok := merged[key]
		if !ok {
			re = &repoEdge{from: from.RepositoryID, to: to.RepositoryID}
			merged[key] = re
		}
		re.versions = append(re.versions, e.Version)
	}

	out := make([]repoEdge, 0, len(merged))
	for _, re := range merged {
		out = append(out, *re)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].from != out[j].from {
			return out[i].from < out[j].from
		}
		return out[i].to < out[j].to
	})
	return out
}

// findCyclic returns the set of repositories on at least one cycle, via
// iterative three-color depth-first search.
func findCyclic(repoIDs []int64, adjacency map[int64][]int64) map[int64]struct{} {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[int64]int, len(repoIDs))
	onCycle := make(map[int64]struct{})

	var stack []int64
	var visit func(id int64)
	visit = func(id int64) {
		color[id] = gray
		stack = append(stack, id)
		for _, next := range adjacency[id] {
			switch color[next] {
			case white:
				visit(next)
			case gray:
				// Everything on the stack from next onwards closes the
				// cycle.
				for i := len(stack) - 1; i >= 0; i-- {
					onCycle[stack[i]] = struct{}{}
					if stack[i] == next {
						break
					}
				}
			}
		}
		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, id := range repoIDs {
		if color[id] == white {
			visit(id)
		}
	}

	// Anything that can reach a cyclic repository has no well-defined
	// level either: close over predecessors transitively.
	for changed := true; changed; {
		changed = false
		for from, succs := range adjacency {
			if _, tainted := onCycle[from]; tainted {
				continue
			}
			for _, to := range succs {
				if _, bad := onCycle[to]; bad {
					onCycle[from] = struct{}{}
					changed = true
					break
				}
			}
		}
	}
	return onCycle
}

// assignLevels computes longest-path-to-sink levels over the acyclic
// part: a sink is level 0, every other repository is one more than its
// deepest dependency.
func assignLevels(repoIDs []int64, adjacency map[int64][]int64, cyclic map[int64]struct{}, levels map[int64]int) {
	var depth func(id int64) int
	depth = func(id int64) int {
		if l, ok := levels[id]; ok {
			return l
		}
		level := 0
		for _, next := range adjacency[id] {
			if _, bad := cyclic[next]; bad {
				continue
			}
			if d := depth(next) + 1; d > level {
				level = d
			}
		}
		levels[id] = level
		return level
	}

	for _, id := range repoIDs {
		if _, bad := cyclic[id]; bad {
			continue
		}
		depth(id)
	}
}
