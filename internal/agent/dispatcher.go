package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/graymoon-build/graymoon/internal/protocol"
)

// ErrUnknownCommand is returned when no handler is registered for a
// command name.
var ErrUnknownCommand = errors.New("unknown command")

// Dispatcher maps a command name to a handler accepting a typed request.
// JSON is deserialized once at this edge; handlers never see raw JSON.
type Dispatcher struct {
	handlers map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, args json.RawMessage) (any, error)

// typed adapts a typed handler into the raw edge signature, decoding the
// args exactly once.
func typed[Req any](fn func(ctx context.Context, req Req) (any, error)) handlerFunc {
	return func(ctx context.Context, args json.RawMessage) (any, error) {
		var req Req
		if err := protocol.Decode(args, &req); err != nil {
			return nil, err
		}
		return fn(ctx, req)
	}
}

// NewDispatcher builds the static command table over the given handlers.
func NewDispatcher(h *Handlers) *Dispatcher {
	return &Dispatcher{handlers: map[string]handlerFunc{
		protocol.CommandSyncRepository:             typed(h.SyncRepository),
		protocol.CommandRefreshRepositoryVersion:   typed(h.RefreshRepositoryVersion),
		protocol.CommandRefreshRepositoryProjects:  typed(h.RefreshRepositoryProjects),
		protocol.CommandEnsureWorkspace:            typed(h.EnsureWorkspace),
		protocol.CommandGetWorkspaceRepositories:   typed(h.GetWorkspaceRepositories),
		protocol.CommandGetWorkspaceExists:         typed(h.GetWorkspaceExists),
		protocol.CommandGetRepositoryVersion:       typed(h.GetRepositoryVersion),
		protocol.CommandPushRepository:             typed(h.PushRepository),
		protocol.CommandCommitSyncRepository:       typed(h.CommitSyncRepository),
		protocol.CommandSyncRepositoryDependencies: typed(h.SyncRepositoryDependencies),
		protocol.CommandCheckoutBranch:             typed(h.CheckoutBranch),
		protocol.CommandCreateBranch:               typed(h.CreateBranch),
		protocol.CommandSyncToDefaultBranch:        typed(h.SyncToDefaultBranch),
		protocol.CommandRefreshBranches:            typed(h.RefreshBranches),
		protocol.CommandAddSafeDirectory:           typed(h.AddSafeDirectory),
	}}
}

// Dispatch runs the handler for a command and returns the encoded result.
func (d *Dispatcher) Dispatch(ctx context.Context, command string, args json.RawMessage) (json.RawMessage, error) {
	fn, ok := d.handlers[command]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, command)
	}

	result, err := fn(ctx, args)
	if err != nil {
		return nil, err
	}
	return protocol.Encode(result)
}

// Commands lists the registered command names; used by tests.
func (d *Dispatcher) Commands() []string {
	out := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		out = append(out, name)
	}
	return out
}
