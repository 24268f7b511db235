package push

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/graymoon-build/graymoon/internal/broadcast"
	"github.com/graymoon-build/graymoon/internal/depgraph"
	"github.com/graymoon-build/graymoon/internal/protocol"
	"github.com/graymoon-build/graymoon/internal/rpc"
	"github.com/graymoon-build/graymoon/internal/store"
	"github.com/graymoon-build/graymoon/pkg/types"
)

// fakeBridge plays the agent: pushes succeed unless listed in failPush,
// and every successful push can feed the fake registry via onPush.
type fakeBridge struct {
	mu        sync.Mutex
	connected bool
	pushed    []string
	failPush  map[string]string
	onPush    func(repoName string)
}

func (f *fakeBridge) IsAgentConnected() bool { return f.connected }

func (f *fakeBridge) SendCommand(_ context.Context, command string, args any) (*rpc.AgentCommandResponse, error) {
	switch command {
	case protocol.CommandPushRepository:
		push := args.(protocol.PushRepositoryArgs)
		f.mu.Lock()
		msg, bad := f.failPush[push.RepositoryName]
		if !bad {
			f.pushed = append(f.pushed, push.RepositoryName)
		}
		f.mu.Unlock()
		if bad {
			return &rpc.AgentCommandResponse{Success: false, Error: msg}, nil
		}
		if f.onPush != nil {
			f.onPush(push.RepositoryName)
		}
		data, _ := json.Marshal(protocol.PushRepositoryResult{Success: true})
		return &rpc.AgentCommandResponse{Success: true, Data: data}, nil
	case protocol.CommandRefreshRepositoryVersion:
		data, _ := json.Marshal(protocol.RefreshRepositoryVersionResult{
			Version: "9.9.9", Branch: "main", Ahead: 0, Behind: 0, HasUpstream: true,
		})
		return &rpc.AgentCommandResponse{Success: true, Data: data}, nil
	default:
		return &rpc.AgentCommandResponse{Success: true, Data: json.RawMessage(`{}`)}, nil
	}
}

func (f *fakeBridge) pushOrder() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.pushed...)
}

// fakeProber answers catalog probes from in-memory sets.
type fakeProber struct {
	mu       sync.Mutex
	packages map[string]bool
	versions map[string]bool
}

func newFakeProber() *fakeProber {
	return &fakeProber{packages: make(map[string]bool), versions: make(map[string]bool)}
}

func (f *fakeProber) addPackage(id string) {
	f.mu.Lock()
	f.packages[strings.ToLower(id)] = true
	f.mu.Unlock()
}

func (f *fakeProber) addVersion(id, version string) {
	f.mu.Lock()
	f.versions[strings.ToLower(id)+"@"+version] = true
	f.mu.Unlock()
}

func (f *fakeProber) PackageExists(_ context.Context, _ *store.Connector, packageID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.packages[strings.ToLower(packageID)], nil
}

func (f *fakeProber) PackageVersionExists(_ context.Context, _ *store.Connector, packageID, version string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.versions[strings.ToLower(packageID)+"@"+version], nil
}

// fixture is a two-repository workspace: app depends on core's package.
type fixture struct {
	st       store.Store
	ws       *store.Workspace
	core     *store.Repository
	app      *store.Repository
	registry *store.Connector
}

func newFixture() *fixture {
	ctx := context.Background()
	st := store.NewMemoryStore()

	vcsConn := &store.Connector{Name: "hub", Kind: types.ConnectorKindVcsHost, BaseURL: "https://git.example.com", Token: "vcstok", Active: true}
	Expect(st.CreateConnector(ctx, vcsConn)).To(Succeed())
	feed := &store.Connector{Name: "feed", Kind: types.ConnectorKindPackageRegistry, BaseURL: "https://feed.example.com", Active: true}
	Expect(st.CreateConnector(ctx, feed)).To(Succeed())

	ws := &store.Workspace{Name: "main"}
	Expect(st.CreateWorkspace(ctx, ws)).To(Succeed())

	f := &fixture{st: st, ws: ws, registry: feed}
	f.core = f.addRepo(vcsConn.ID, "core", "1.1.0")
	f.app = f.addRepo(vcsConn.ID, "app", "2.0.0")

	Expect(st.MergeProjects(ctx, ws.ID, f.core.ID, []*store.WorkspaceProject{{
		Name: "Core", Kind: types.ProjectKindPackage, PackageID: "Acme.Core",
	}})).To(Succeed())
	Expect(st.MergeProjects(ctx, ws.ID, f.app.ID, []*store.WorkspaceProject{{
		Name: "App", Kind: types.ProjectKindExecutable,
		PackageReferences: []store.PackageRef{{PackageID: "Acme.Core", Version: "1.1.0"}},
	}})).To(Succeed())
	return f
}

func (f *fixture) addRepo(connectorID int64, name, version string) *store.Repository {
	ctx := context.Background()
	repo := &store.Repository{ConnectorID: connectorID, Org: "acme", Name: name, CloneURL: "https://git.example.com/acme/" + name + ".git"}
	Expect(f.st.CreateRepository(ctx, repo)).To(Succeed())
	link := &store.WorkspaceRepositoryLink{WorkspaceID: f.ws.ID, RepositoryID: repo.ID}
	Expect(f.st.CreateLink(ctx, link)).To(Succeed())
	ahead := 1
	link.GitVersion = version
	link.CurrentBranch = "main"
	link.Ahead = &ahead
	Expect(f.st.UpdateLink(ctx, link)).To(Succeed())
	return repo
}

func (f *fixture) linkOf(repo *store.Repository) *store.WorkspaceRepositoryLink {
	link, err := f.st.GetLink(context.Background(), f.ws.ID, repo.ID)
	Expect(err).NotTo(HaveOccurred())
	return link
}

var _ = Describe("Scheduler", func() {
	var (
		f      *fixture
		bridge *fakeBridge
		prober *fakeProber
		bc     *broadcast.Broadcaster
		sub    *broadcast.Subscription
		s      *Scheduler
	)

	BeforeEach(func() {
		f = newFixture()
		bridge = &fakeBridge{connected: true, failPush: map[string]string{}}
		prober = newFakeProber()
		prober.addPackage("Acme.Core")
		bc = broadcast.New()
		sub = bc.Subscribe(f.ws.ID)
		DeferCleanup(sub.Close)
		s = &Scheduler{
			Store:                f.st,
			Bridge:               bridge,
			Solver:               &depgraph.Solver{Store: f.st},
			Broadcaster:          bc,
			Prober:               prober,
			TimeoutPerDependency: 200 * time.Millisecond,
			PollInterval:         10 * time.Millisecond,
		}
	})

	drainEvents := func() int {
		n := 0
		for {
			select {
			case <-sub.Events():
				n++
			default:
				return n
			}
		}
	}

	Describe("a synchronised run", func() {
		It("pushes level by level once dependencies appear in the registry", func() {
			// The pushed package shows up in the registry, as CI would
			// publish it.
			bridge.onPush = func(repoName string) {
				if repoName == "core" {
					prober.addVersion("Acme.Core", "1.1.0")
				}
			}

			err := s.Push(context.Background(), Options{WorkspaceID: f.ws.ID})
			Expect(err).NotTo(HaveOccurred())

			Expect(bridge.pushOrder()).To(Equal([]string{"core", "app"}))
			Expect(drainEvents()).To(BeNumerically(">=", 2))

			for _, repo := range []*store.Repository{f.core, f.app} {
				link := f.linkOf(repo)
				Expect(link.SyncStatus).To(Equal(types.SyncStatusInSync))
				Expect(link.GitVersion).To(Equal("9.9.9"))
				Expect(link.LastError).To(BeEmpty())
			}
		})

		It("aborts a level when a dependency never reaches the registry", func() {
			var failures []int64
			err := s.Push(context.Background(), Options{
				WorkspaceID: f.ws.ID,
				RepoError:   func(repoID int64, _ string) { failures = append(failures, repoID) },
			})

			var depErr *DependencyError
			Expect(errors.As(err, &depErr)).To(BeTrue())
			Expect(err.Error()).To(Equal("dependency Acme.Core@1.1.0 not in registry"))

			// The lower level pushed; the blocked level did not.
			Expect(bridge.pushOrder()).To(Equal([]string{"core"}))
			Expect(failures).To(ConsistOf(f.app.ID))

			appLink := f.linkOf(f.app)
			Expect(appLink.SyncStatus).To(Equal(types.SyncStatusError))
			Expect(appLink.LastError).To(ContainSubstring("not in registry"))
		})

		It("reports wait progress", func() {
			var messages []string
			var mu sync.Mutex
			_ = s.Push(context.Background(), Options{
				WorkspaceID: f.ws.ID,
				Progress: func(msg string) {
					mu.Lock()
					messages = append(messages, msg)
					mu.Unlock()
				},
			})
			mu.Lock()
			defer mu.Unlock()
			Expect(messages).To(ContainElement(ContainSubstring("waiting for 1 of 1 dependencies")))
		})

		It("skips repositories whose dependency failed to push", func() {
			prober.addVersion("Acme.Core", "1.1.0")
			bridge.failPush["core"] = "push rejected"

			var failed map[int64]string
			err := s.Push(context.Background(), Options{
				WorkspaceID: f.ws.ID,
				RepoError: func(repoID int64, msg string) {
					if failed == nil {
						failed = make(map[int64]string)
					}
					failed[repoID] = msg
				},
			})
			Expect(err).To(MatchError(ContainSubstring("no repository pushed")))

			Expect(bridge.pushOrder()).To(BeEmpty())
			Expect(failed[f.core.ID]).To(Equal("push rejected"))
			Expect(failed[f.app.ID]).To(ContainSubstring("depends on failed to push"))
			Expect(f.linkOf(f.app).SyncStatus).To(Equal(types.SyncStatusError))
		})

		It("stops waiting when the context is cancelled", func() {
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				time.Sleep(30 * time.Millisecond)
				cancel()
			}()
			err := s.Push(ctx, Options{WorkspaceID: f.ws.ID})
			Expect(err).To(MatchError(context.Canceled))
			// Only the dependency-free level got out before cancellation.
			Expect(bridge.pushOrder()).To(Equal([]string{"core"}))
		})
	})

	Describe("an unsynchronised run", func() {
		It("falls back to one batch when no prober is configured", func() {
			s.Prober = nil

			err := s.Push(context.Background(), Options{WorkspaceID: f.ws.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(bridge.pushOrder()).To(ConsistOf("core", "app"))
		})

		It("falls back when a required package has no matched connector", func() {
			// The registry has never seen the package, so matching clears.
			prober.packages = map[string]bool{}

			err := s.Push(context.Background(), Options{WorkspaceID: f.ws.ID})
			Expect(err).NotTo(HaveOccurred())
			Expect(bridge.pushOrder()).To(ConsistOf("core", "app"))
		})
	})

	Describe("selection", func() {
		It("does nothing when no repository is ahead", func() {
			for _, repo := range []*store.Repository{f.core, f.app} {
				link := f.linkOf(repo)
				ahead := 0
				link.Ahead = &ahead
				Expect(f.st.UpdateLink(context.Background(), link)).To(Succeed())
			}

			var messages []string
			err := s.Push(context.Background(), Options{
				WorkspaceID: f.ws.ID,
				Progress:    func(msg string) { messages = append(messages, msg) },
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(bridge.pushOrder()).To(BeEmpty())
			Expect(messages).To(ContainElement("nothing to push"))
		})

		It("honours a repository subset", func() {
			prober.addVersion("Acme.Core", "1.1.0")

			err := s.Push(context.Background(), Options{
				WorkspaceID: f.ws.ID,
				RepoIDs:     []int64{f.core.ID},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(bridge.pushOrder()).To(Equal([]string{"core"}))
		})
	})

	Describe("a batch with failures", func() {
		It("gates dependents while other pushes are still in flight", func() {
			// Half the batch fails to push, the other half depends on a
			// failing repository. The gating read in the producer loop
			// runs concurrently with the failure writes from the push
			// goroutines. Limit 1 keeps the check at most one push
			// behind the in-flight goroutine, so every dependent refers
			// to a failure that is already committed.
			s.MaxConcurrentGitOperations = 1

			var batch []*RepoPayload
			var failingIDs []int64
			for i := 0; i < 16; i++ {
				id := int64(1000 + i)
				name := fmt.Sprintf("flaky-%d", i)
				bridge.failPush[name] = "push rejected"
				failingIDs = append(failingIDs, id)
				batch = append(batch, &RepoPayload{RepoID: id, RepoName: name})
			}
			for i := 0; i < 16; i++ {
				batch = append(batch, &RepoPayload{
					RepoID:    int64(2000 + i),
					RepoName:  fmt.Sprintf("dependent-%d", i),
					DependsOn: []int64{failingIDs[i%8]},
				})
			}

			run := newRunState()
			p := &plan{workspace: f.ws, links: map[int64]*store.WorkspaceRepositoryLink{}}
			var failed sync.Map
			opts := &Options{
				WorkspaceID: f.ws.ID,
				RepoError:   func(repoID int64, msg string) { failed.Store(repoID, msg) },
			}

			s.pushBatch(context.Background(), p, batch, opts, run)

			Expect(run.pushed).To(BeZero())
			Expect(run.failedCount()).To(Equal(32))
			Expect(bridge.pushOrder()).To(BeEmpty())
			for i := 0; i < 16; i++ {
				msg, ok := failed.Load(int64(2000 + i))
				Expect(ok).To(BeTrue())
				Expect(msg).To(ContainSubstring("depends on failed to push"))
			}
		})
	})

	Describe("preconditions", func() {
		It("refuses to run without a connected agent", func() {
			bridge.connected = false
			err := s.Push(context.Background(), Options{WorkspaceID: f.ws.ID})
			Expect(err).To(MatchError(rpc.ErrAgentDisconnected))
		})
	})
})
