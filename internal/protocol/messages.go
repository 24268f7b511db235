package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Frame type discriminators for the agent channel. Every message on the
// wire is a self-contained JSON Envelope; receivers must tolerate unknown
// fields so the two sides can evolve independently.
const (
	FrameRequest  = "request"
	FrameResponse = "response"
	FrameSync     = "sync"
	FrameSemVer   = "semver"
)

// ErrInvalidArgs is returned when a command payload cannot be decoded
// into the handler's typed request.
var ErrInvalidArgs = errors.New("invalid command arguments")

// Envelope is the wire framing for the agent channel. Exactly one of the
// typed payloads is set, selected by Type.
type Envelope struct {
	Type     string           `json:"type"`
	Request  *RequestCommand  `json:"request,omitempty"`
	Response *ResponseCommand `json:"response,omitempty"`
	Sync     *SyncCommand     `json:"sync,omitempty"`
	SemVer   *ReportSemVer    `json:"semVer,omitempty"`
}

// RequestCommand is a server-to-agent invocation. Args is deserialized
// into the handler's typed request at the dispatch edge; handlers never
// see raw JSON.
type RequestCommand struct {
	RequestID string          `json:"requestId"`
	Command   string          `json:"command"`
	Args      json.RawMessage `json:"args,omitempty"`
}

// ResponseCommand is the agent's reply to a RequestCommand.
type ResponseCommand struct {
	RequestID string          `json:"requestId"`
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// SyncCommand is a fire-and-forget agent-to-server notification carrying
// the outcome of a hook-triggered version refresh.
type SyncCommand struct {
	WorkspaceID  int64  `json:"workspaceId"`
	RepositoryID int64  `json:"repositoryId"`
	Version      string `json:"version"`
	Branch       string `json:"branch"`
	Outgoing     *int   `json:"outgoing,omitempty"`
	Incoming     *int   `json:"incoming,omitempty"`
	HasUpstream  *bool  `json:"hasUpstream,omitempty"`
}

// ReportSemVer announces the agent's own version; sent on every connect.
type ReportSemVer struct {
	Version string `json:"semVer"`
}

// Decode unmarshals raw args into a typed value, mapping decode failures
// to ErrInvalidArgs.
func Decode(raw json.RawMessage, into any) error {
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	if err := json.Unmarshal(raw, into); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArgs, err)
	}
	return nil
}

// Encode marshals a typed value into a raw JSON payload.
func Encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return data, nil
}
