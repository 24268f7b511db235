package syncqueue

import (
	"context"
	"testing"
	"time"

	"github.com/graymoon-build/graymoon/internal/broadcast"
	"github.com/graymoon-build/graymoon/internal/protocol"
	"github.com/graymoon-build/graymoon/internal/store"
	"github.com/graymoon-build/graymoon/pkg/types"
)

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

func TestHandleSyncAppliesFrame(t *testing.T) {
	st := store.NewMemoryStore()
	ws, repo := seedLink(t, st, types.SyncStatusInSync, "1.0.0")

	bc := broadcast.New()
	sub := bc.Subscribe(ws.ID)
	defer sub.Close()

	a := &Applier{Store: st, Broadcaster: bc}
	a.HandleSync(context.Background(), &protocol.SyncCommand{
		WorkspaceID:  ws.ID,
		RepositoryID: repo.ID,
		Version:      "1.1.0-dev.2",
		Branch:       "feature/x",
		Outgoing:     intPtr(2),
		Incoming:     intPtr(0),
		HasUpstream:  boolPtr(true),
	})

	select {
	case <-sub.Events():
	case <-time.After(time.Second):
		t.Fatal("no workspace event published")
	}

	link, err := st.GetLink(context.Background(), ws.ID, repo.ID)
	if err != nil {
		t.Fatalf("GetLink: %v", err)
	}
	if link.GitVersion != "1.1.0-dev.2" || link.CurrentBranch != "feature/x" {
		t.Errorf("frame not applied: %+v", link)
	}
	if link.SyncStatus != types.SyncStatusNeedsSync {
		t.Errorf("outgoing>0 should mark NeedsSync, got %q", link.SyncStatus)
	}
	if link.LastSyncedAt == nil {
		t.Error("expected LastSyncedAt to be set")
	}
}

func TestHandleSyncKeepsCountsWhenOmitted(t *testing.T) {
	st := store.NewMemoryStore()
	ws, repo := seedLink(t, st, types.SyncStatusInSync, "1.0.0")

	link, _ := st.GetLink(context.Background(), ws.ID, repo.ID)
	link.Ahead = intPtr(3)
	if err := st.UpdateLink(context.Background(), link); err != nil {
		t.Fatalf("UpdateLink: %v", err)
	}

	a := &Applier{Store: st, Broadcaster: broadcast.New()}
	a.HandleSync(context.Background(), &protocol.SyncCommand{
		WorkspaceID:  ws.ID,
		RepositoryID: repo.ID,
		Version:      "1.0.0",
		Branch:       "main",
	})

	got, _ := st.GetLink(context.Background(), ws.ID, repo.ID)
	if got.Ahead == nil || *got.Ahead != 3 {
		t.Errorf("omitted counts must not clear stored values: %v", got.Ahead)
	}
	if got.SyncStatus != types.SyncStatusNeedsSync {
		t.Errorf("stored ahead>0 keeps NeedsSync, got %q", got.SyncStatus)
	}
}

func TestHandleSyncDropsUnknownLink(t *testing.T) {
	st := store.NewMemoryStore()
	a := &Applier{Store: st, Broadcaster: broadcast.New()}
	// Must not panic or create rows.
	a.HandleSync(context.Background(), &protocol.SyncCommand{WorkspaceID: 99, RepositoryID: 42})
}
