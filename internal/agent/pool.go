package agent

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/graymoon-build/graymoon/internal/protocol"
)

// Responder sends command responses back to the control service.
type Responder interface {
	SendResponse(resp *protocol.ResponseCommand) error
}

// Pool runs MaxConcurrentCommands identical workers draining the job
// queue. Command jobs go through the dispatcher and always produce a
// ResponseCommand; notify jobs go through the notify handler and produce
// nothing. Both kinds share the pool, so a burst of hooks cannot starve
// commands beyond one job per worker.
type Pool struct {
	Queue      *Queue
	Dispatcher *Dispatcher
	Notify     *NotifyHandler
	Responder  Responder
	Workers    int
	Metrics    *Metrics // may be nil
}

// Run starts the workers and blocks until the queue closes (or ctx is
// cancelled) and all workers have drained.
func (p *Pool) Run(ctx context.Context) {
	log := logr.FromContextOrDiscard(ctx).WithName("worker-pool")
	log.Info("starting workers", "count", p.Workers)

	var wg sync.WaitGroup
	for i := 0; i < p.Workers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			p.worker(ctx, id)
		}(i)
	}
	wg.Wait()
	log.Info("all workers drained")
}

func (p *Pool) worker(ctx context.Context, id int) {
	log := logr.FromContextOrDiscard(ctx).WithName("worker").WithValues("worker", id)

	for {
		env, ok := p.Queue.Dequeue(ctx)
		if !ok {
			return
		}

		switch env.Kind {
		case JobCommand:
			p.runCommand(ctx, env.Request)
		case JobNotify:
			// Fire-and-forget: errors are logged, never propagated.
			if err := p.Notify.Handle(ctx, env.Notify); err != nil {
				log.Error(err, "notify job failed",
					"workspaceId", env.Notify.WorkspaceID,
					"repositoryId", env.Notify.RepositoryID,
				)
				p.count("notify", "error")
			} else {
				p.count("notify", "ok")
			}
		}
	}
}

func (p *Pool) runCommand(ctx context.Context, req *protocol.RequestCommand) {
	log := logr.FromContextOrDiscard(ctx).WithName("worker").WithValues("requestId", req.RequestID, "command", req.Command)

	start := time.Now()
	data, err := p.Dispatcher.Dispatch(ctx, req.Command, req.Args)
	if p.Metrics != nil {
		p.Metrics.CommandSeconds.WithLabelValues(req.Command).Observe(time.Since(start).Seconds())
	}

	resp := &protocol.ResponseCommand{RequestID: req.RequestID}
	if err != nil {
		resp.Error = err.Error()
		log.Info("command failed", "error", err.Error())
		p.count("command", "error")
	} else {
		resp.Success = true
		resp.Data = data
		p.count("command", "ok")
	}

	if sendErr := p.Responder.SendResponse(resp); sendErr != nil {
		// The link dropped while the command ran; the control side fails
		// the waiter with AgentDisconnected, so there is nothing to retry.
		log.Error(sendErr, "failed to send response")
	}
}

func (p *Pool) count(kind, result string) {
	if p.Metrics != nil {
		p.Metrics.JobsTotal.WithLabelValues(kind, result).Inc()
	}
}
