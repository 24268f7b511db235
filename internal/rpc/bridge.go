package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/graymoon-build/graymoon/internal/protocol"
)

// DefaultCommandTimeout bounds a single agent command exchange when the
// caller's context carries no earlier deadline.
const DefaultCommandTimeout = 5 * time.Minute

// AgentNotConnectedMessage is returned to callers when no agent channel is
// up. The wording surfaces directly in API responses.
const AgentNotConnectedMessage = "Agent not connected. Start the host agent to sync repositories."

// AgentCommandResponse is the outcome of one command exchange with the
// agent. Error carries the failure text when Success is false.
type AgentCommandResponse struct {
	Success bool
	Data    json.RawMessage
	Error   string
}

// CommandSender issues one command exchange with the agent.
type CommandSender interface {
	SendCommand(ctx context.Context, command string, args any) (*AgentCommandResponse, error)
}

// AgentCaller is the full bridge surface higher-level services consume.
type AgentCaller interface {
	CommandSender
	IsAgentConnected() bool
	AgentVersion() string
}

// Bridge issues commands over the hub and correlates the responses. It is
// the only way control-side components talk to the agent.
type Bridge struct {
	Hub        *Hub
	Correlator *Correlator

	// Timeout overrides DefaultCommandTimeout when positive.
	Timeout time.Duration
}

// NewBridge creates a bridge over hub and its correlator.
func NewBridge(hub *Hub) *Bridge {
	return &Bridge{Hub: hub, Correlator: hub.Correlator}
}

// IsAgentConnected reports whether a command could currently be sent.
func (b *Bridge) IsAgentConnected() bool {
	return b.Hub.IsAgentConnected()
}

// AgentVersion returns the connected agent's reported version.
func (b *Bridge) AgentVersion() string {
	return b.Hub.AgentVersion()
}

// SendCommand sends one command to the agent and waits for its response.
// When no agent is connected it fails fast without sending. A transport or
// decode failure is returned as err; a command the agent executed and
// reported as failed comes back with Success false and a nil err.
func (b *Bridge) SendCommand(ctx context.Context, command string, args any) (*AgentCommandResponse, error) {
	log := logr.FromContextOrDiscard(ctx).WithName("rpc-bridge")

	if !b.Hub.IsAgentConnected() {
		return &AgentCommandResponse{Success: false, Error: AgentNotConnectedMessage}, nil
	}

	encoded, err := protocol.Encode(args)
	if err != nil {
		return nil, fmt.Errorf("encoding args for %q: %w", command, err)
	}

	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := &protocol.RequestCommand{
		RequestID: uuid.NewString(),
		Command:   command,
		Args:      encoded,
	}
	outcome := b.Correlator.Register(req.RequestID)

	start := time.Now()
	if err := b.Hub.SendRequest(req); err != nil {
		b.Correlator.Cancel(req.RequestID)
		return &AgentCommandResponse{Success: false, Error: AgentNotConnectedMessage}, nil
	}
	agentCommandsTotal.WithLabelValues(command).Inc()

	select {
	case out := <-outcome:
		agentCommandSeconds.WithLabelValues(command).Observe(time.Since(start).Seconds())
		if out.Err != nil {
			return &AgentCommandResponse{Success: false, Error: out.Err.Error()}, nil
		}
		return &AgentCommandResponse{
			Success: out.Response.Success,
			Data:    out.Response.Data,
			Error:   out.Response.Error,
		}, nil
	case <-ctx.Done():
		b.Correlator.Cancel(req.RequestID)
		if ctx.Err() == context.DeadlineExceeded {
			log.Info("agent command timed out", "command", command, "requestId", req.RequestID)
			return &AgentCommandResponse{Success: false, Error: ErrAgentTimeout.Error()}, nil
		}
		return nil, ctx.Err()
	}
}

// Call sends command and decodes a successful response's data into result.
// A failed response is returned as an error carrying the agent's message.
func Call[T any](ctx context.Context, b CommandSender, command string, args any) (T, error) {
	var result T
	resp, err := b.SendCommand(ctx, command, args)
	if err != nil {
		return result, err
	}
	if !resp.Success {
		return result, fmt.Errorf("%s: %s", command, resp.Error)
	}
	if err := protocol.Decode(resp.Data, &result); err != nil {
		return result, fmt.Errorf("decoding %s response: %w", command, err)
	}
	return result, nil
}
