package session

import "sync"

const (
	// audioQueueCapacity bounds buffered microphone chunks per session. On
	// overflow the oldest chunk is dropped: under load the most recent
	// speech is the speech worth keeping.
	audioQueueCapacity = 200

	// audioBatchSize is how many chunks the drainer serialises per slice
	// before checking the close signal again, so one chatty microphone
	// cannot monopolise the session's goroutines.
	audioBatchSize = 5
)

// audioQueue decouples the socket receive rate from the upstream serialiser:
// raw PCM buffers land here and a single drainer goroutine converts them to
// audioInput events in batches.
type audioQueue struct {
	mu      sync.Mutex
	chunks  [][]byte
	dropped uint64

	wake chan struct{}
}

func newAudioQueue() *audioQueue {
	return &audioQueue{wake: make(chan struct{}, 1)}
}

// push appends chunk, dropping the oldest buffered chunk when full.
// It reports whether a chunk was dropped.
func (q *audioQueue) push(chunk []byte) (droppedOldest bool) {
	q.mu.Lock()
	if len(q.chunks) >= audioQueueCapacity {
		q.chunks = q.chunks[1:]
		q.dropped++
		droppedOldest = true
	}
	q.chunks = append(q.chunks, chunk)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return droppedOldest
}

// nextBatch blocks until chunks are available or closed fires, then returns
// up to audioBatchSize chunks. Returns ok=false only after the close signal
// with nothing left to drain.
func (q *audioQueue) nextBatch(closed <-chan struct{}) ([][]byte, bool) {
	for {
		if batch := q.take(); len(batch) > 0 {
			return batch, true
		}
		select {
		case <-q.wake:
		case <-closed:
			if batch := q.take(); len(batch) > 0 {
				return batch, true
			}
			return nil, false
		}
	}
}

func (q *audioQueue) take() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.chunks)
	if n == 0 {
		return nil
	}
	if n > audioBatchSize {
		n = audioBatchSize
	}
	batch := q.chunks[:n]
	q.chunks = q.chunks[n:]
	return batch
}

// depth reports the number of buffered chunks.
func (q *audioQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.chunks)
}

// droppedCount reports the total chunks discarded by drop-oldest.
func (q *audioQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
