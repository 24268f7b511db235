package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-logr/logr"

	"github.com/graymoon-build/graymoon/internal/vcs"
)

// Version is reported to the control service on every connect.
const Version = "0.1.0"

// Agent wires the job queue, worker pool, RPC link, and hook listener.
type Agent struct {
	Config  *Config
	Queue   *Queue
	Link    *Link
	Pool    *Pool
	Hooks   *HookListener
	Metrics *Metrics
}

// New creates an Agent with all dependencies wired.
func New(cfg *Config) *Agent {
	queue := NewQueue(cfg.MaxConcurrentCommands)

	link := &Link{
		HubURL: cfg.AppHubURL,
		Secret: cfg.Secret(),
		Queue:  queue,
		SemVer: Version,
	}

	handlers := NewHandlers(cfg)
	exec := &vcs.GoGitExecutor{}

	pool := &Pool{
		Queue:      queue,
		Dispatcher: NewDispatcher(handlers),
		Notify:     &NotifyHandler{Config: cfg, Exec: exec, Sender: link},
		Responder:  link,
		Workers:    cfg.MaxConcurrentCommands,
	}

	metrics := NewMetrics(queue, link)
	pool.Metrics = metrics

	return &Agent{
		Config:  cfg,
		Queue:   queue,
		Link:    link,
		Pool:    pool,
		Hooks:   NewHookListener(queue, cfg.ListenPort),
		Metrics: metrics,
	}
}

// Run starts every component and blocks until ctx is cancelled. Shutdown
// order: close the queue, drain the workers, then the link and listeners
// stop with the context.
func (a *Agent) Run(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx).WithName("agent")

	log.Info("starting agent",
		"version", Version,
		"hub", a.Config.AppHubURL,
		"listenPort", a.Config.ListenPort,
		"workers", a.Config.MaxConcurrentCommands,
		"workspacesRoot", a.Config.WorkspacesRoot,
	)

	go a.Link.Run(ctx)

	hookErr := make(chan error, 1)
	go func() { hookErr <- a.Hooks.Start(ctx) }()

	if a.Config.MetricsPort > 0 {
		go a.serveMetrics(ctx)
	}

	// Workers get a context that survives cancellation of ctx so queued
	// jobs can drain on shutdown; the drain wait below bounds it.
	poolCtx, poolCancel := context.WithCancel(context.WithoutCancel(ctx))
	defer poolCancel()

	poolDone := make(chan struct{})
	go func() {
		a.Pool.Run(poolCtx)
		close(poolDone)
	}()

	select {
	case err := <-hookErr:
		if err != nil {
			a.Queue.Close()
			<-poolDone
			return fmt.Errorf("hook listener: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down, draining job queue")
	a.Queue.Close()

	select {
	case <-poolDone:
	case <-time.After(30 * time.Second):
		log.Info("worker drain timed out")
		poolCancel()
	}
	return nil
}

func (a *Agent) serveMetrics(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx).WithName("metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", a.Metrics.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.MetricsPort),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		_ = server.Close()
	}()

	log.Info("metrics server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error(err, "metrics server error")
	}
}
