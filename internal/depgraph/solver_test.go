package depgraph

import (
	"context"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/graymoon-build/graymoon/internal/store"
	"github.com/graymoon-build/graymoon/pkg/types"
)

// fixture builds a workspace where each repository holds one project
// exporting a package named after the repository.
type fixture struct {
	st    store.Store
	ws    *store.Workspace
	repos map[string]*store.Repository
}

func newFixture(repoNames ...string) *fixture {
	ctx := context.Background()
	st := store.NewMemoryStore()

	conn := &store.Connector{Name: "hub", Kind: types.ConnectorKindVcsHost, BaseURL: "https://git.example.com"}
	Expect(st.CreateConnector(ctx, conn)).To(Succeed())

	ws := &store.Workspace{Name: "main"}
	Expect(st.CreateWorkspace(ctx, ws)).To(Succeed())

	f := &fixture{st: st, ws: ws, repos: make(map[string]*store.Repository)}
	for _, name := range repoNames {
		repo := &store.Repository{ConnectorID: conn.ID, Org: "acme", Name: name, CloneURL: "https://git.example.com/acme/" + name + ".git"}
		Expect(st.CreateRepository(ctx, repo)).To(Succeed())
		f.repos[name] = repo

		link := &store.WorkspaceRepositoryLink{WorkspaceID: ws.ID, RepositoryID: repo.ID}
		Expect(st.CreateLink(ctx, link)).To(Succeed())
		link.GitVersion = "1.0.0"
		Expect(st.UpdateLink(ctx, link)).To(Succeed())

		Expect(st.MergeProjects(ctx, ws.ID, repo.ID, []*store.WorkspaceProject{{
			Name:      name,
			Kind:      types.ProjectKindPackage,
			PackageID: "Acme." + name,
		}})).To(Succeed())
	}
	return f
}

// depend declares that repo from references repo to's package at version.
func (f *fixture) depend(from, to, version string) {
	ctx := context.Background()
	projects, err := f.st.ListRepositoryProjects(ctx, f.ws.ID, f.repos[from].ID)
	Expect(err).NotTo(HaveOccurred())
	Expect(projects).NotTo(BeEmpty())

	p := projects[0]
	p.PackageReferences = append(p.PackageReferences, store.PackageRef{
		PackageID: "Acme." + to,
		Version:   version,
	})
	Expect(f.st.MergeProjects(ctx, f.ws.ID, f.repos[from].ID, projects)).To(Succeed())
}

func (f *fixture) link(name string) *store.WorkspaceRepositoryLink {
	link, err := f.st.GetLink(context.Background(), f.ws.ID, f.repos[name].ID)
	Expect(err).NotTo(HaveOccurred())
	return link
}

var _ = Describe("Solver", func() {
	var (
		f      *fixture
		solver *Solver
	)

	solve := func() *Result {
		result, err := solver.Solve(context.Background(), f.ws.ID)
		Expect(err).NotTo(HaveOccurred())
		return result
	}

	Describe("a linear chain", func() {
		BeforeEach(func() {
			f = newFixture("app", "lib", "core")
			solver = &Solver{Store: f.st}
			f.depend("app", "lib", "1.0.0")
			f.depend("lib", "core", "1.0.0")
		})

		It("assigns longest-path-to-sink levels", func() {
			result := solve()
			Expect(result.Cycle).To(BeNil())
			Expect(result.Levels).To(HaveKeyWithValue(f.repos["core"].ID, 0))
			Expect(result.Levels).To(HaveKeyWithValue(f.repos["lib"].ID, 1))
			Expect(result.Levels).To(HaveKeyWithValue(f.repos["app"].ID, 2))
		})

		It("persists levels and counts on the links", func() {
			solve()
			app := f.link("app")
			Expect(app.DependencyLevel).To(HaveValue(Equal(2)))
			Expect(app.Dependencies).To(HaveValue(Equal(1)))
			Expect(app.UnmatchedDeps).To(HaveValue(Equal(0)))

			core := f.link("core")
			Expect(core.DependencyLevel).To(HaveValue(Equal(0)))
			Expect(core.Dependencies).To(HaveValue(Equal(0)))
		})

		It("persists the project edge list", func() {
			solve()
			deps, err := f.st.ListDependencies(context.Background(), f.ws.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(deps).To(HaveLen(2))
		})
	})

	Describe("a diamond", func() {
		BeforeEach(func() {
			f = newFixture("app", "left", "right", "core")
			solver = &Solver{Store: f.st}
			f.depend("app", "left", "1.0.0")
			f.depend("app", "right", "1.0.0")
			f.depend("left", "core", "1.0.0")
			f.depend("right", "core", "1.0.0")
		})

		It("levels by the deepest path", func() {
			result := solve()
			Expect(result.Levels).To(HaveKeyWithValue(f.repos["core"].ID, 0))
			Expect(result.Levels).To(HaveKeyWithValue(f.repos["left"].ID, 1))
			Expect(result.Levels).To(HaveKeyWithValue(f.repos["right"].ID, 1))
			Expect(result.Levels).To(HaveKeyWithValue(f.repos["app"].ID, 2))
		})

		It("counts distinct repository dependencies", func() {
			result := solve()
			Expect(result.Dependencies[f.repos["app"].ID]).To(Equal(2))
		})
	})

	Describe("version mismatches", func() {
		BeforeEach(func() {
			f = newFixture("app", "lib")
			solver = &Solver{Store: f.st}
			f.depend("app", "lib", "0.9.0") // lib's link records 1.0.0
		})

		It("counts the edge as unmatched", func() {
			result := solve()
			Expect(result.UnmatchedDeps[f.repos["app"].ID]).To(Equal(1))
			Expect(f.link("app").UnmatchedDeps).To(HaveValue(Equal(1)))
		})
	})

	Describe("a cycle", func() {
		BeforeEach(func() {
			f = newFixture("a", "b", "c", "standalone", "onramp")
			solver = &Solver{Store: f.st}
			f.depend("a", "b", "1.0.0")
			f.depend("b", "c", "1.0.0")
			f.depend("c", "a", "1.0.0")
			f.depend("onramp", "a", "1.0.0")
		})

		It("reports the cycle members", func() {
			result := solve()
			Expect(result.Cycle).NotTo(BeNil())
			Expect(result.Cycle.RepoIDs).To(ConsistOf(
				f.repos["a"].ID, f.repos["b"].ID, f.repos["c"].ID,
			))
		})

		It("leaves cyclic repositories and their dependents unleveled", func() {
			result := solve()
			Expect(result.Levels).NotTo(HaveKey(f.repos["a"].ID))
			Expect(result.Levels).NotTo(HaveKey(f.repos["b"].ID))
			Expect(result.Levels).NotTo(HaveKey(f.repos["c"].ID))
			// onramp depends on the cycle, so it has no level either.
			Expect(result.Levels).NotTo(HaveKey(f.repos["onramp"].ID))
			Expect(f.link("a").DependencyLevel).To(BeNil())
			Expect(f.link("onramp").DependencyLevel).To(BeNil())
		})

		It("still levels the rest of the workspace", func() {
			result := solve()
			Expect(result.Levels).To(HaveKeyWithValue(f.repos["standalone"].ID, 0))
		})
	})

	Describe("intra-repository references", func() {
		BeforeEach(func() {
			f = newFixture("app")
			solver = &Solver{Store: f.st}
			Expect(f.st.MergeProjects(context.Background(), f.ws.ID, f.repos["app"].ID, []*store.WorkspaceProject{
				{Name: "app", Kind: types.ProjectKindPackage, PackageID: "Acme.app"},
				{Name: "app.cli", Kind: types.ProjectKindExecutable, PackageReferences: []store.PackageRef{
					{PackageID: "acme.APP", Version: "1.0.0"}, // matching is case-insensitive
				}},
			})).To(Succeed())
		})

		It("drops them during condensation but keeps the project edge", func() {
			result := solve()
			Expect(result.Dependencies[f.repos["app"].ID]).To(BeZero())
			Expect(result.Levels).To(HaveKeyWithValue(f.repos["app"].ID, 0))

			deps, err := f.st.ListDependencies(context.Background(), f.ws.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(deps).To(HaveLen(1))
		})
	})

	Describe("repeated solves", func() {
		It("is deterministic", func() {
			f = newFixture("app", "lib", "core")
			solver = &Solver{Store: f.st}
			f.depend("app", "lib", "1.0.0")
			f.depend("lib", "core", "1.0.0")

			first := solve()
			second := solve()
			Expect(second.Levels).To(Equal(first.Levels))
			Expect(second.Dependencies).To(Equal(first.Dependencies))
		})
	})
})
