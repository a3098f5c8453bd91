package session

import (
	"testing"
	"time"

	"github.com/MrWong99/voxgate/internal/protocol"
)

func TestEventQueueOrder(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	kinds := []protocol.Kind{protocol.KindSessionStart, protocol.KindPromptStart, protocol.KindContentStart}
	q.push(protocol.Event{Kind: kinds[0]})
	q.push(protocol.Event{Kind: kinds[1]})
	q.push(protocol.Event{Kind: kinds[2]})

	if q.len() != 3 {
		t.Fatalf("len = %d, want 3", q.len())
	}

	closed := make(chan struct{})
	for i, want := range kinds {
		ev, ok := q.next(closed)
		if !ok || ev.Kind != want {
			t.Fatalf("event[%d] = %v (ok=%v), want %v", i, ev.Kind, ok, want)
		}
	}
}

func TestEventQueueBlocksUntilPush(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	closed := make(chan struct{})
	got := make(chan protocol.Event, 1)

	go func() {
		ev, ok := q.next(closed)
		if ok {
			got <- ev
		}
	}()

	time.Sleep(5 * time.Millisecond)
	q.push(protocol.Event{Kind: protocol.KindTextInput})

	select {
	case ev := <-got:
		if ev.Kind != protocol.KindTextInput {
			t.Errorf("Kind = %v", ev.Kind)
		}
	case <-time.After(time.Second):
		t.Fatal("consumer never woke")
	}
}

func TestEventQueueDrainsAfterClose(t *testing.T) {
	t.Parallel()

	q := newEventQueue()
	closed := make(chan struct{})
	close(closed)

	// Events already queued when the close signal fires must still drain.
	q.push(protocol.Event{Kind: protocol.KindContentEnd})
	q.push(protocol.Event{Kind: protocol.KindPromptEnd})
	q.push(protocol.Event{Kind: protocol.KindSessionEnd})

	for _, want := range []protocol.Kind{protocol.KindContentEnd, protocol.KindPromptEnd, protocol.KindSessionEnd} {
		ev, ok := q.next(closed)
		if !ok || ev.Kind != want {
			t.Fatalf("drain got %v (ok=%v), want %v", ev.Kind, ok, want)
		}
	}

	if _, ok := q.next(closed); ok {
		t.Error("next returned true on empty closed queue")
	}
}

func TestAudioQueueDropsOldestOnOverflow(t *testing.T) {
	t.Parallel()

	q := newAudioQueue()
	for i := range audioQueueCapacity {
		if dropped := q.push([]byte{byte(i)}); dropped {
			t.Fatalf("drop at %d below capacity", i)
		}
	}
	if q.depth() != audioQueueCapacity {
		t.Fatalf("depth = %d, want %d", q.depth(), audioQueueCapacity)
	}

	if dropped := q.push([]byte{0xFF}); !dropped {
		t.Fatal("no drop reported at capacity")
	}
	if q.depth() != audioQueueCapacity {
		t.Errorf("depth = %d after overflow, want %d", q.depth(), audioQueueCapacity)
	}
	if q.droppedCount() != 1 {
		t.Errorf("droppedCount = %d, want 1", q.droppedCount())
	}

	// The head must now be the second-oldest chunk.
	closed := make(chan struct{})
	batch, ok := q.nextBatch(closed)
	if !ok || len(batch) == 0 {
		t.Fatal("nextBatch returned nothing")
	}
	if batch[0][0] != 1 {
		t.Errorf("head chunk = %d, want 1 (oldest dropped)", batch[0][0])
	}
}

func TestAudioQueueBatchSize(t *testing.T) {
	t.Parallel()

	q := newAudioQueue()
	for i := range audioBatchSize * 2 {
		q.push([]byte{byte(i)})
	}

	closed := make(chan struct{})
	batch, ok := q.nextBatch(closed)
	if !ok {
		t.Fatal("nextBatch returned false")
	}
	if len(batch) != audioBatchSize {
		t.Errorf("batch size = %d, want %d", len(batch), audioBatchSize)
	}
	if q.depth() != audioBatchSize {
		t.Errorf("depth = %d, want %d", q.depth(), audioBatchSize)
	}
}

func TestAudioQueueFinalDrain(t *testing.T) {
	t.Parallel()

	q := newAudioQueue()
	q.push([]byte{1})
	closed := make(chan struct{})
	close(closed)

	batch, ok := q.nextBatch(closed)
	if !ok || len(batch) != 1 {
		t.Fatalf("final drain = %v (ok=%v)", batch, ok)
	}
	if _, ok := q.nextBatch(closed); ok {
		t.Error("nextBatch returned true on empty closed queue")
	}
}
