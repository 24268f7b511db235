package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/graymoon-build/graymoon/pkg/types"
)

var (
	bucketConnectors = []byte("connectors")
	bucketRepos      = []byte("repositories")
	bucketWorkspaces = []byte("workspaces")
	bucketLinks      = []byte("links")
	bucketBranches   = []byte("branches")
	bucketProjects   = []byte("projects")
	bucketDeps       = []byte("dependencies")
)

// BoltStore persists entities as JSON values in per-entity bbolt buckets.
// Row ids come from the bucket sequence. Uniqueness invariants are checked
// by scanning inside the update transaction; entity counts are small
// (workspaces of tens of repositories), so indexes are not worth carrying.
type BoltStore struct {
	db *bolt.DB
}

var _ Store = (*BoltStore)(nil)

// OpenBolt opens (creating if necessary) the store file at path.
func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", path, err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			bucketConnectors, bucketRepos, bucketWorkspaces,
			bucketLinks, bucketBranches, bucketProjects, bucketDeps,
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("creating bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying database file.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func itob(id int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(id))
	return b
}

func putJSON(b *bolt.Bucket, id int64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding row: %w", err)
	}
	return b.Put(itob(id), data)
}

func nextID(b *bolt.Bucket) (int64, error) {
	seq, err := b.NextSequence()
	if err != nil {
		return 0, fmt.Errorf("allocating id: %w", err)
	}
	return int64(seq), nil
}

// forEach decodes every row of a bucket into a fresh T and passes it to fn;
// fn returning false stops the scan.
func forEach[T any](b *bolt.Bucket, fn func(*T) bool) error {
	return b.ForEach(func(_, v []byte) error {
		var row T
		if err := json.Unmarshal(v, &row); err != nil {
			return fmt.Errorf("decoding row: %w", err)
		}
		if !fn(&row) {
			return errStopScan
		}
		return nil
	})
}

var errStopScan = fmt.Errorf("stop scan")

func swallowStop(err error) error {
	if err == errStopScan {
		return nil
	}
	return err
}

func (s *BoltStore) CreateConnector(_ context.Context, c *Connector) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConnectors)
		var dup bool
		if err := swallowStop(forEach(b, func(row *Connector) bool {
			if row.Name == c.Name {
				dup = true
				return false
			}
			return true
		})); err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("connector %q: %w", c.Name, ErrDuplicate)
		}
		id, err := nextID(b)
		if err != nil {
			return err
		}
		c.ID = id
		if c.Status == "" {
			c.Status = types.ConnectorStatusUnknown
		}
		return putJSON(b, id, c)
	})
}

func (s *BoltStore) GetConnector(_ context.Context, id int64) (*Connector, error) {
	var out *Connector
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketConnectors).Get(itob(id))
		if v == nil {
			return fmt.Errorf("connector %d: %w", id, ErrNotFound)
		}
		out = &Connector{}
		return json.Unmarshal(v, out)
	})
	return out, err
}

func (s *BoltStore) GetConnectorByName(_ context.Context, name string) (*Connector, error) {
	var out *Connector
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := swallowStop(forEach(tx.Bucket(bucketConnectors), func(row *Connector) bool {
			if row.Name == name {
				out = row
				return false
			}
			return true
		})); err != nil {
			return err
		}
		if out == nil {
			return fmt.Errorf("connector %q: %w", name, ErrNotFound)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) ListConnectors(_ context.Context) ([]*Connector, error) {
	var out []*Connector
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEach(tx.Bucket(bucketConnectors), func(row *Connector) bool {
			out = append(out, row)
			return true
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Ordinal != out[j].Ordinal {
			return out[i].Ordinal < out[j].Ordinal
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *BoltStore) UpdateConnector(_ context.Context, c *Connector) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConnectors)
		if b.Get(itob(c.ID)) == nil {
			return fmt.Errorf("connector %d: %w", c.ID, ErrNotFound)
		}
		return putJSON(b, c.ID, c)
	})
}

func (s *BoltStore) DeleteConnector(_ context.Context, id int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketConnectors)
		if b.Get(itob(id)) == nil {
			return fmt.Errorf("connector %d: %w", id, ErrNotFound)
		}
		return b.Delete(itob(id))
	})
}

func (s *BoltStore) CreateRepository(_ context.Context, r *Repository) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRepos)
		var dup bool
		if err := swallowStop(forEach(b, func(row *Repository) bool {
			if row.ConnectorID == r.ConnectorID && row.Org == r.Org && row.Name == r.Name {
				dup = true
				return false
			}
			return true
		})); err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("repository %s/%s: %w", r.Org, r.Name, ErrDuplicate)
		}
		id, err := nextID(b)
		if err != nil {
			return err
		}
		r.ID = id
		return putJSON(b, id, r)
	})
}

func (s *BoltStore) GetRepository(_ context.Context, id int64) (*Repository, error) {
	var out *Repository
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketRepos).Get(itob(id))
		if v == nil {
			return fmt.Errorf("repository %d: %w", id, ErrNotFound)
		}
		out = &Repository{}
		return json.Unmarshal(v, out)
	})
	return out, err
}

func (s *BoltStore) ListRepositories(_ context.Context) ([]*Repository, error) {
	var out []*Repository
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEach(tx.Bucket(bucketRepos), func(row *Repository) bool {
			out = append(out, row)
			return true
		})
	})
	return out, err
}

func (s *BoltStore) CreateWorkspace(_ context.Context, w *Workspace) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkspaces)
		var dup bool
		if err := swallowStop(forEach(b, func(row *Workspace) bool {
			if row.Name == w.Name {
				dup = true
				return false
			}
			return true
		})); err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("workspace %q: %w", w.Name, ErrDuplicate)
		}
		id, err := nextID(b)
		if err != nil {
			return err
		}
		w.ID = id
		return putJSON(b, id, w)
	})
}

func (s *BoltStore) GetWorkspace(_ context.Context, id int64) (*Workspace, error) {
	var out *Workspace
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketWorkspaces).Get(itob(id))
		if v == nil {
			return fmt.Errorf("workspace %d: %w", id, ErrNotFound)
		}
		out = &Workspace{}
		return json.Unmarshal(v, out)
	})
	return out, err
}

func (s *BoltStore) GetWorkspaceByName(_ context.Context, name string) (*Workspace, error) {
	var out *Workspace
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := swallowStop(forEach(tx.Bucket(bucketWorkspaces), func(row *Workspace) bool {
			if row.Name == name {
				out = row
				return false
			}
			return true
		})); err != nil {
			return err
		}
		if out == nil {
			return fmt.Errorf("workspace %q: %w", name, ErrNotFound)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) ListWorkspaces(_ context.Context) ([]*Workspace, error) {
	var out []*Workspace
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEach(tx.Bucket(bucketWorkspaces), func(row *Workspace) bool {
			out = append(out, row)
			return true
		})
	})
	return out, err
}

func (s *BoltStore) UpdateWorkspace(_ context.Context, w *Workspace) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketWorkspaces)
		if b.Get(itob(w.ID)) == nil {
			return fmt.Errorf("workspace %d: %w", w.ID, ErrNotFound)
		}
		return putJSON(b, w.ID, w)
	})
}

func (s *BoltStore) CreateLink(_ context.Context, l *WorkspaceRepositoryLink) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLinks)
		var dup bool
		if err := swallowStop(forEach(b, func(row *WorkspaceRepositoryLink) bool {
			if row.WorkspaceID == l.WorkspaceID && row.RepositoryID == l.RepositoryID {
				dup = true
				return false
			}
			return true
		})); err != nil {
			return err
		}
		if dup {
			return fmt.Errorf("link (%d,%d): %w", l.WorkspaceID, l.RepositoryID, ErrDuplicate)
		}
		id, err := nextID(b)
		if err != nil {
			return err
		}
		l.ID = id
		if l.SyncStatus == "" {
			l.SyncStatus = types.SyncStatusNeedsSync
		}
		return putJSON(b, id, l)
	})
}

func (s *BoltStore) GetLink(_ context.Context, workspaceID, repositoryID int64) (*WorkspaceRepositoryLink, error) {
	var out *WorkspaceRepositoryLink
	err := s.db.View(func(tx *bolt.Tx) error {
		if err := swallowStop(forEach(tx.Bucket(bucketLinks), func(row *WorkspaceRepositoryLink) bool {
			if row.WorkspaceID == workspaceID && row.RepositoryID == repositoryID {
				out = row
				return false
			}
			return true
		})); err != nil {
			return err
		}
		if out == nil {
			return fmt.Errorf("link (%d,%d): %w", workspaceID, repositoryID, ErrNotFound)
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) ListLinks(_ context.Context, workspaceID int64) ([]*WorkspaceRepositoryLink, error) {
	var out []*WorkspaceRepositoryLink
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEach(tx.Bucket(bucketLinks), func(row *WorkspaceRepositoryLink) bool {
			if row.WorkspaceID == workspaceID {
				out = append(out, row)
			}
			return true
		})
	})
	return out, err
}

func (s *BoltStore) UpdateLink(_ context.Context, l *WorkspaceRepositoryLink) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLinks)
		if b.Get(itob(l.ID)) == nil {
			return fmt.Errorf("link %d: %w", l.ID, ErrNotFound)
		}
		return putJSON(b, l.ID, l)
	})
}

func (s *BoltStore) ReplaceBranches(_ context.Context, linkID int64, branches []*RepositoryBranch) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketBranches)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var row RepositoryBranch
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.LinkID == linkID {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		for _, br := range branches {
			id, err := nextID(b)
			if err != nil {
				return err
			}
			br.ID = id
			br.LinkID = linkID
			if err := putJSON(b, id, br); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListBranches(_ context.Context, linkID int64) ([]*RepositoryBranch, error) {
	var out []*RepositoryBranch
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEach(tx.Bucket(bucketBranches), func(row *RepositoryBranch) bool {
			if row.LinkID == linkID {
				out = append(out, row)
			}
			return true
		})
	})
	return out, err
}

func (s *BoltStore) MergeProjects(_ context.Context, workspaceID, repositoryID int64, projects []*WorkspaceProject) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)

		existing := make(map[string]*WorkspaceProject)
		if err := forEach(b, func(row *WorkspaceProject) bool {
			if row.WorkspaceID == workspaceID && row.RepositoryID == repositoryID {
				existing[row.Name] = row
			}
			return true
		}); err != nil {
			return err
		}

		seen := make(map[string]bool, len(projects))
		for _, p := range projects {
			seen[p.Name] = true
			if old, ok := existing[p.Name]; ok {
				old.Kind = p.Kind
				old.RelativePath = p.RelativePath
				old.TargetFramework = p.TargetFramework
				old.PackageID = p.PackageID
				old.PackageReferences = p.PackageReferences
				p.ID = old.ID
				if err := putJSON(b, old.ID, old); err != nil {
					return err
				}
				continue
			}
			id, err := nextID(b)
			if err != nil {
				return err
			}
			p.ID = id
			p.WorkspaceID = workspaceID
			p.RepositoryID = repositoryID
			if err := putJSON(b, id, p); err != nil {
				return err
			}
		}

		for name, old := range existing {
			if !seen[name] {
				if err := b.Delete(itob(old.ID)); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func (s *BoltStore) ListProjects(_ context.Context, workspaceID int64) ([]*WorkspaceProject, error) {
	var out []*WorkspaceProject
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEach(tx.Bucket(bucketProjects), func(row *WorkspaceProject) bool {
			if row.WorkspaceID == workspaceID {
				out = append(out, row)
			}
			return true
		})
	})
	return out, err
}

func (s *BoltStore) ListRepositoryProjects(_ context.Context, workspaceID, repositoryID int64) ([]*WorkspaceProject, error) {
	var out []*WorkspaceProject
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEach(tx.Bucket(bucketProjects), func(row *WorkspaceProject) bool {
			if row.WorkspaceID == workspaceID && row.RepositoryID == repositoryID {
				out = append(out, row)
			}
			return true
		})
	})
	return out, err
}

func (s *BoltStore) SetProjectMatchedConnector(_ context.Context, projectID int64, connectorID *int64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketProjects)
		v := b.Get(itob(projectID))
		if v == nil {
			return fmt.Errorf("project %d: %w", projectID, ErrNotFound)
		}
		var row WorkspaceProject
		if err := json.Unmarshal(v, &row); err != nil {
			return err
		}
		row.MatchedConnectorID = connectorID
		return putJSON(b, projectID, &row)
	})
}

func (s *BoltStore) ReplaceDependencies(_ context.Context, workspaceID int64, deps []*ProjectDependency) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDeps)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var row ProjectDependency
			if err := json.Unmarshal(v, &row); err != nil {
				return err
			}
			if row.WorkspaceID == workspaceID {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		for _, d := range deps {
			if d.DependentProjectID == d.ReferencedProjectID {
				continue // no self-edges
			}
			id, err := nextID(b)
			if err != nil {
				return err
			}
			d.ID = id
			d.WorkspaceID = workspaceID
			if err := putJSON(b, id, d); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) ListDependencies(_ context.Context, workspaceID int64) ([]*ProjectDependency, error) {
	var out []*ProjectDependency
	err := s.db.View(func(tx *bolt.Tx) error {
		return forEach(tx.Bucket(bucketDeps), func(row *ProjectDependency) bool {
			if row.WorkspaceID == workspaceID {
				out = append(out, row)
			}
			return true
		})
	})
	return out, err
}
