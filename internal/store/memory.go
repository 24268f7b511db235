package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/graymoon-build/graymoon/pkg/types"
)

// MemoryStore is an in-process Store used by tests and by the control
// service when no data file is configured.
type MemoryStore struct {
	mu sync.Mutex

	nextID     int64
	connectors map[int64]*Connector
	repos      map[int64]*Repository
	workspaces map[int64]*Workspace
	links      map[int64]*WorkspaceRepositoryLink
	branches   map[int64]*RepositoryBranch
	projects   map[int64]*WorkspaceProject
	deps       map[int64]*ProjectDependency
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		connectors: make(map[int64]*Connector),
		repos:      make(map[int64]*Repository),
		workspaces: make(map[int64]*Workspace),
		links:      make(map[int64]*WorkspaceRepositoryLink),
		branches:   make(map[int64]*RepositoryBranch),
		projects:   make(map[int64]*WorkspaceProject),
		deps:       make(map[int64]*ProjectDependency),
	}
}

func (s *MemoryStore) nextSeq() int64 {
	s.nextID++
	return s.nextID
}

func (s *MemoryStore) CreateConnector(_ context.Context, c *Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.connectors {
		if existing.Name == c.Name {
			return fmt.Errorf("connector %q: %w", c.Name, ErrDuplicate)
		}
	}
	c.ID = s.nextSeq()
	if c.Status == "" {
		c.Status = types.ConnectorStatusUnknown
	}
	cp := *c
	s.connectors[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetConnector(_ context.Context, id int64) (*Connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.connectors[id]
	if !ok {
		return nil, fmt.Errorf("connector %d: %w", id, ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetConnectorByName(_ context.Context, name string) (*Connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.connectors {
		if c.Name == name {
			cp := *c
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("connector %q: %w", name, ErrNotFound)
}

func (s *MemoryStore) ListConnectors(_ context.Context) ([]*Connector, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Connector, 0, len(s.connectors))
	for _, c := range s.connectors {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) UpdateConnector(_ context.Context, c *Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connectors[c.ID]; !ok {
		return fmt.Errorf("connector %d: %w", c.ID, ErrNotFound)
	}
	cp := *c
	s.connectors[c.ID] = &cp
	return nil
}

func (s *MemoryStore) DeleteConnector(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.connectors[id]; !ok {
		return fmt.Errorf("connector %d: %w", id, ErrNotFound)
	}
	delete(s.connectors, id)
	return nil
}

func (s *MemoryStore) CreateRepository(_ context.Context, r *Repository) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.repos {
		if existing.ConnectorID == r.ConnectorID && existing.Org == r.Org && existing.Name == r.Name {
			return fmt.Errorf("repository %s/%s: %w", r.Org, r.Name, ErrDuplicate)
		}
	}
	r.ID = s.nextSeq()
	cp := *r
	s.repos[r.ID] = &cp
	return nil
}

func (s *MemoryStore) GetRepository(_ context.Context, id int64) (*Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.repos[id]
	if !ok {
		return nil, fmt.Errorf("repository %d: %w", id, ErrNotFound)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRepositories(_ context.Context) ([]*Repository, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Repository, 0, len(s.repos))
	for _, r := range s.repos {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) CreateWorkspace(_ context.Context, w *Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.workspaces {
		if existing.Name == w.Name {
			return fmt.Errorf("workspace %q: %w", w.Name, ErrDuplicate)
		}
	}
	w.ID = s.nextSeq()
	cp := *w
	s.workspaces[w.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWorkspace(_ context.Context, id int64) (*Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workspaces[id]
	if !ok {
		return nil, fmt.Errorf("workspace %d: %w", id, ErrNotFound)
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) GetWorkspaceByName(_ context.Context, name string) (*Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workspaces {
		if w.Name == name {
			cp := *w
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("workspace %q: %w", name, ErrNotFound)
}

func (s *MemoryStore) ListWorkspaces(_ context.Context) ([]*Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Workspace, 0, len(s.workspaces))
	for _, w := range s.workspaces {
		cp := *w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateWorkspace(_ context.Context, w *Workspace) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workspaces[w.ID]; !ok {
		return fmt.Errorf("workspace %d: %w", w.ID, ErrNotFound)
	}
	cp := *w
	s.workspaces[w.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateLink(_ context.Context, l *WorkspaceRepositoryLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.links {
		if existing.WorkspaceID == l.WorkspaceID && existing.RepositoryID == l.RepositoryID {
			return fmt.Errorf("link (%d,%d): %w", l.WorkspaceID, l.RepositoryID, ErrDuplicate)
		}
	}
	l.ID = s.nextSeq()
	if l.SyncStatus == "" {
		l.SyncStatus = types.SyncStatusNeedsSync
	}
	cp := *l
	s.links[l.ID] = &cp
	return nil
}

func (s *MemoryStore) GetLink(_ context.Context, workspaceID, repositoryID int64) (*WorkspaceRepositoryLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range s.links {
		if l.WorkspaceID == workspaceID && l.RepositoryID == repositoryID {
			cp := *l
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("link (%d,%d): %w", workspaceID, repositoryID, ErrNotFound)
}

func (s *MemoryStore) ListLinks(_ context.Context, workspaceID int64) ([]*WorkspaceRepositoryLink, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*WorkspaceRepositoryLink
	for _, l := range s.links {
		if l.WorkspaceID == workspaceID {
			cp := *l
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateLink(_ context.Context, l *WorkspaceRepositoryLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.links[l.ID]; !ok {
		return fmt.Errorf("link %d: %w", l.ID, ErrNotFound)
	}
	cp := *l
	s.links[l.ID] = &cp
	return nil
}

func (s *MemoryStore) ReplaceBranches(_ context.Context, linkID int64, branches []*RepositoryBranch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, b := range s.branches {
		if b.LinkID == linkID {
			delete(s.branches, id)
		}
	}
	for _, b := range branches {
		b.ID = s.nextSeq()
		b.LinkID = linkID
		cp := *b
		s.branches[b.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) ListBranches(_ context.Context, linkID int64) ([]*RepositoryBranch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*RepositoryBranch
	for _, b := range s.branches {
		if b.LinkID == linkID {
			cp := *b
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) MergeProjects(_ context.Context, workspaceID, repositoryID int64, projects []*WorkspaceProject) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing := make(map[string]*WorkspaceProject)
	for _, p := range s.projects {
		if p.WorkspaceID == workspaceID && p.RepositoryID == repositoryID {
			existing[p.Name] = p
		}
	}

	seen := make(map[string]bool, len(projects))
	for _, p := range projects {
		seen[p.Name] = true
		if old, ok := existing[p.Name]; ok {
			old.Kind = p.Kind
			old.RelativePath = p.RelativePath
			old.TargetFramework = p.TargetFramework
			old.PackageID = p.PackageID
			old.PackageReferences = append([]PackageRef(nil), p.PackageReferences...)
			p.ID = old.ID
			continue
		}
		p.ID = s.nextSeq()
		p.WorkspaceID = workspaceID
		p.RepositoryID = repositoryID
		cp := *p
		s.projects[p.ID] = &cp
	}

	for name, old := range existing {
		if !seen[name] {
			delete(s.projects, old.ID)
		}
	}
	return nil
}

func (s *MemoryStore) ListProjects(_ context.Context, workspaceID int64) ([]*WorkspaceProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*WorkspaceProject
	for _, p := range s.projects {
		if p.WorkspaceID == workspaceID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ListRepositoryProjects(_ context.Context, workspaceID, repositoryID int64) ([]*WorkspaceProject, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*WorkspaceProject
	for _, p := range s.projects {
		if p.WorkspaceID == workspaceID && p.RepositoryID == repositoryID {
			cp := *p
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SetProjectMatchedConnector(_ context.Context, projectID int64, connectorID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.projects[projectID]
	if !ok {
		return fmt.Errorf("project %d: %w", projectID, ErrNotFound)
	}
	p.MatchedConnectorID = connectorID
	return nil
}

func (s *MemoryStore) ReplaceDependencies(_ context.Context, workspaceID int64, deps []*ProjectDependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, d := range s.deps {
		if d.WorkspaceID == workspaceID {
			delete(s.deps, id)
		}
	}
	for _, d := range deps {
		if d.DependentProjectID == d.ReferencedProjectID {
			continue // no self-edges
		}
		d.ID = s.nextSeq()
		d.WorkspaceID = workspaceID
		cp := *d
		s.deps[d.ID] = &cp
	}
	return nil
}

func (s *MemoryStore) ListDependencies(_ context.Context, workspaceID int64) ([]*ProjectDependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ProjectDependency
	for _, d := range s.deps {
		if d.WorkspaceID == workspaceID {
			cp := *d
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
