package rpc

import (
	"errors"
	"sync"

	"github.com/graymoon-build/graymoon/internal/protocol"
)

var (
	// ErrAgentDisconnected fails pending waits when the channel drops.
	ErrAgentDisconnected = errors.New("agent disconnected")

	// ErrAgentTimeout fails a wait that outlived the command timeout.
	ErrAgentTimeout = errors.New("agent command timed out")
)

// Outcome is what a waiter receives: a response or a terminal error.
type Outcome struct {
	Response *protocol.ResponseCommand
	Err      error
}

// Correlator maps in-flight request ids to completion handles. Each id is
// completed at most once: delivery, cancellation, and disconnect all
// unregister it, and anything arriving afterwards for that id is
// discarded.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]chan Outcome
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]chan Outcome)}
}

// Register adds a completion handle for a fresh request id.
func (c *Correlator) Register(requestID string) <-chan Outcome {
	ch := make(chan Outcome, 1)
	c.mu.Lock()
	c.pending[requestID] = ch
	c.mu.Unlock()
	return ch
}

// Deliver completes the wait for a response's request id. Returns false
// when the id is unknown (cancelled or already completed); the response is
// then discarded.
func (c *Correlator) Deliver(resp *protocol.ResponseCommand) bool {
	c.mu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- Outcome{Response: resp}
	return true
}

// Cancel unregisters a request id without completing it. A late response
// for the id is discarded.
func (c *Correlator) Cancel(requestID string) {
	c.mu.Lock()
	delete(c.pending, requestID)
	c.mu.Unlock()
}

// FailAll completes every pending wait with err. Called on disconnect.
func (c *Correlator) FailAll(err error) {
	c.mu.Lock()
	pending := c.pending
	c.pending = make(map[string]chan Outcome)
	c.mu.Unlock()

	for _, ch := range pending {
		ch <- Outcome{Err: err}
	}
}

// PendingCount reports the number of in-flight request ids.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
