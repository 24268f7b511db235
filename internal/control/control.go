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

// Package control wires the control service: store, RPC plane, sync
// queue, dependency solver, push scheduler, and the HTTP surface.
package control

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/graymoon-build/graymoon/internal/broadcast"
	"github.com/graymoon-build/graymoon/internal/depgraph"
	"github.com/graymoon-build/graymoon/internal/httpapi"
	"github.com/graymoon-build/graymoon/internal/push"
	"github.com/graymoon-build/graymoon/internal/registry"
	"github.com/graymoon-build/graymoon/internal/rpc"
	"github.com/graymoon-build/graymoon/internal/store"
	"github.com/graymoon-build/graymoon/internal/syncqueue"
)

// Control is the assembled control service.
type Control struct {
	Config *Config

	Store       store.Store
	Broadcaster *broadcast.Broadcaster
	Hub         *rpc.Hub
	Bridge      *rpc.Bridge
	Queue       *syncqueue.Queue
	Scheduler   *push.Scheduler
	Server      *httpapi.Server

	closeStore func() error
}

// New builds a control service from configuration.
func New(cfg *Config) (*Control, error) {
	c := &Control{Config: cfg}

	if cfg.StorePath != "" {
		bs, err := store.OpenBolt(cfg.StorePath)
		if err != nil {
			return nil, fmt.Errorf("opening store %q: %w", cfg.StorePath, err)
		}
		c.Store = bs
		c.closeStore = bs.Close
	} else {
		c.Store = store.NewMemoryStore()
	}

	c.Broadcaster = broadcast.New()

	applier := &syncqueue.Applier{Store: c.Store, Broadcaster: c.Broadcaster}
	c.Hub = rpc.NewHub(rpc.NewCorrelator(), applier)
	c.Hub.Secret = cfg.Secret()
	c.Bridge = rpc.NewBridge(c.Hub)

	c.Queue = syncqueue.New(c.Store, c.Bridge, c.Broadcaster)
	c.Queue.MaxConcurrency = cfg.Sync.MaxConcurrency
	c.Queue.Deduplicate = cfg.Sync.EnableDeduplication
	syncqueue.RegisterDepthGauge(c.Queue)

	solver := &depgraph.Solver{Store: c.Store}
	c.Scheduler = &push.Scheduler{
		Store:                      c.Store,
		Bridge:                     c.Bridge,
		Solver:                     solver,
		Broadcaster:                c.Broadcaster,
		Prober:                     registry.NewHTTPProber(),
		MaxConcurrentGitOperations: cfg.Workspace.MaxConcurrentGitOperations,
		TimeoutPerDependency:       cfg.TimeoutPerDependency(),
	}

	c.Server = &httpapi.Server{
		Addr:        cfg.ListenAddr,
		Store:       c.Store,
		Hub:         c.Hub,
		Bridge:      c.Bridge,
		Queue:       c.Queue,
		Scheduler:   c.Scheduler,
		Broadcaster: c.Broadcaster,
		HookBaseURL: cfg.Workspace.PostCommitHookBaseURL,
		HookPort:    cfg.Workspace.PostCommitHookPort,
	}
	return c, nil
}

// Run serves until ctx is cancelled.
func (c *Control) Run(ctx context.Context) error {
	log := logr.FromContextOrDiscard(ctx).WithName("control")
	log.Info("starting control service", "listen", c.Config.ListenAddr)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.Queue.Run(ctx)
	}()

	err := c.Server.Run(ctx)

	wg.Wait()
	if c.closeStore != nil {
		if closeErr := c.closeStore(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing store: %w", closeErr)
		}
	}
	return err
}
