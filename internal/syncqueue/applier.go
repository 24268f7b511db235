package syncqueue

import (
	"context"
	"time"

	"github.com/go-logr/logr"

	"github.com/graymoon-build/graymoon/internal/broadcast"
	"github.com/graymoon-build/graymoon/internal/protocol"
	"github.com/graymoon-build/graymoon/internal/store"
	"github.com/graymoon-build/graymoon/pkg/types"
)

// Applier persists hook-driven sync frames pushed by the agent and fans
// the change out to subscribers. It implements rpc.SyncHandler.
type Applier struct {
	Store       store.Store
	Broadcaster *broadcast.Broadcaster
}

// HandleSync applies one agent-pushed repository state update.
func (a *Applier) HandleSync(ctx context.Context, sync *protocol.SyncCommand) {
	log := logr.FromContextOrDiscard(ctx).WithName("sync-applier")

	link, err := a.Store.GetLink(ctx, sync.WorkspaceID, sync.RepositoryID)
	if err != nil {
		log.Error(err, "dropping sync frame for unknown link",
			"workspaceId", sync.WorkspaceID, "repositoryId", sync.RepositoryID)
		return
	}

	now := time.Now().UTC()
	link.GitVersion = sync.Version
	link.CurrentBranch = sync.Branch
	if sync.Outgoing != nil {
		link.Ahead = sync.Outgoing
	}
	if sync.Incoming != nil {
		link.Behind = sync.Incoming
	}
	if sync.HasUpstream != nil {
		link.HasUpstream = sync.HasUpstream
	}
	link.LastError = ""
	link.LastSyncedAt = &now

	if deref(link.Ahead) > 0 || deref(link.Behind) > 0 {
		link.SyncStatus = types.SyncStatusNeedsSync
	} else {
		link.SyncStatus = types.SyncStatusInSync
	}

	if err := a.Store.UpdateLink(ctx, link); err != nil {
		log.Error(err, "persisting sync frame failed",
			"workspaceId", sync.WorkspaceID, "repositoryId", sync.RepositoryID)
		return
	}
	a.Broadcaster.Publish(sync.WorkspaceID)
}

func deref(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
