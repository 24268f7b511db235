package agent

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/graymoon-build/graymoon/internal/protocol"
	"github.com/graymoon-build/graymoon/internal/vcs"
)

// NotifyHandler turns a hook notification into a SyncCommand: calculate
// the version, fetch including tags, compute ahead/behind against the
// upstream, and report the lot to the control service. Notifies are
// fire-and-forget; any failure is logged and never propagates to other
// jobs.
type NotifyHandler struct {
	Config *Config
	Exec   vcs.Executor
	Sender SyncSender
}

// SyncSender delivers fire-and-forget notifications to the control side.
type SyncSender interface {
	SendSync(sync *protocol.SyncCommand) error
}

// Handle runs one notify job to completion.
func (n *NotifyHandler) Handle(ctx context.Context, job *NotifyJob) error {
	log := logr.FromContextOrDiscard(ctx).WithName("notify")

	auth, err := vcs.FileAuth(n.Config.GitSSHKeyFile, n.Config.GitTokenFile, n.Config.GitKnownHostsFile)
	if err != nil {
		return fmt.Errorf("resolving auth: %w", err)
	}

	if err := n.Exec.Fetch(ctx, job.RepositoryPath, auth); err != nil {
		return fmt.Errorf("fetching %s: %w", job.RepositoryPath, err)
	}

	state, err := n.Exec.State(ctx, job.RepositoryPath)
	if err != nil {
		return fmt.Errorf("reading state of %s: %w", job.RepositoryPath, err)
	}

	version, err := vcs.CalculateVersion(job.RepositoryPath)
	if err != nil {
		return fmt.Errorf("calculating version of %s: %w", job.RepositoryPath, err)
	}

	sync := &protocol.SyncCommand{
		WorkspaceID:  job.WorkspaceID,
		RepositoryID: job.RepositoryID,
		Version:      version,
		Branch:       state.Branch,
		Outgoing:     &state.Ahead,
		Incoming:     &state.Behind,
		HasUpstream:  &state.HasUpstream,
	}
	if err := n.Sender.SendSync(sync); err != nil {
		return fmt.Errorf("sending sync command: %w", err)
	}

	log.Info("notify processed",
		"workspaceId", job.WorkspaceID,
		"repositoryId", job.RepositoryID,
		"version", version,
		"branch", state.Branch,
	)
	return nil
}
