package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/graymoon-build/graymoon/internal/protocol"
)

func commandJob(id string) JobEnvelope {
	return JobEnvelope{
		Kind:    JobCommand,
		Request: &protocol.RequestCommand{RequestID: id, Command: protocol.CommandGetWorkspaceExists},
	}
}

func TestQueueCapacity(t *testing.T) {
	tests := []struct {
		workers int
		want    int
	}{
		{1, 64},
		{8, 64},
		{32, 64},
		{40, 80},
		{100, 200},
	}
	for _, tt := range tests {
		if got := QueueCapacity(tt.workers); got != tt.want {
			t.Errorf("QueueCapacity(%d) = %d, want %d", tt.workers, got, tt.want)
		}
	}
}

func TestQueueFIFO(t *testing.T) {
	q := NewQueue(8)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := q.Enqueue(ctx, commandJob(id)); err != nil {
			t.Fatalf("Enqueue(%s): %v", id, err)
		}
	}
	if q.Depth() != 3 {
		t.Fatalf("expected depth 3, got %d", q.Depth())
	}

	for _, want := range []string{"a", "b", "c"} {
		env, ok := q.Dequeue(ctx)
		if !ok {
			t.Fatalf("Dequeue returned closed")
		}
		if env.Request.RequestID != want {
			t.Errorf("expected %s, got %s", want, env.Request.RequestID)
		}
	}
}

func TestQueueEnqueueBlocksWhenFull(t *testing.T) {
	// One worker yields the minimum capacity of 64.
	q := NewQueue(1)
	ctx := context.Background()

	for i := 0; i < QueueCapacity(1); i++ {
		if err := q.Enqueue(ctx, commandJob("fill")); err != nil {
			t.Fatalf("fill enqueue: %v", err)
		}
	}

	blocked := make(chan error, 1)
	go func() {
		blocked <- q.Enqueue(ctx, commandJob("overflow"))
	}()

	select {
	case err := <-blocked:
		t.Fatalf("enqueue on a full queue returned early: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	// Freeing one slot unblocks the producer.
	if _, ok := q.Dequeue(ctx); !ok {
		t.Fatalf("Dequeue returned closed")
	}
	select {
	case err := <-blocked:
		if err != nil {
			t.Fatalf("unblocked enqueue: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("producer stayed blocked after a slot freed")
	}
}

func TestQueueEnqueueHonorsContext(t *testing.T) {
	q := NewQueue(1)
	for i := 0; i < QueueCapacity(1); i++ {
		if err := q.Enqueue(context.Background(), commandJob("fill")); err != nil {
			t.Fatalf("fill enqueue: %v", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Enqueue(ctx, commandJob("late")); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestQueueCloseDrains(t *testing.T) {
	q := NewQueue(8)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := q.Enqueue(ctx, commandJob("queued")); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	q.Close()

	if err := q.Enqueue(ctx, commandJob("rejected")); !errors.Is(err, ErrQueueClosed) {
		t.Fatalf("expected ErrQueueClosed, got %v", err)
	}

	// Pending jobs remain consumable after close.
	for i := 0; i < 3; i++ {
		if _, ok := q.Dequeue(ctx); !ok {
			t.Fatalf("expected queued job %d after close", i)
		}
	}
	if _, ok := q.Dequeue(ctx); ok {
		t.Fatalf("expected closed signal after drain")
	}
}

func TestQueueCloseIdempotent(t *testing.T) {
	q := NewQueue(8)
	q.Close()
	q.Close()
}
