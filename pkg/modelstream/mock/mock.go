// Package mock provides scripted modelstream implementations for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxgate/pkg/modelstream"
)

// Stream is a scripted modelstream.Stream. Sent payloads are captured for
// inspection; response frames are pushed by the test via Emit and the stream
// is finished with Finish.
type Stream struct {
	mu     sync.Mutex
	sent   [][]byte
	closed bool
	errVal error

	frames chan []byte

	// SendErr, when non-nil, is returned by every Send call.
	SendErr error

	// BlockSend, when non-nil, makes Send wait until the channel is closed
	// (or ctx expires). Used to simulate a hung model service.
	BlockSend chan struct{}

	finishOnce sync.Once
}

var _ modelstream.Stream = (*Stream)(nil)

// NewStream returns an open scripted stream.
func NewStream() *Stream {
	return &Stream{frames: make(chan []byte, 256)}
}

// Send records the payload.
func (s *Stream) Send(ctx context.Context, payload []byte) error {
	if s.BlockSend != nil {
		select {
		case <-s.BlockSend:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	s.mu.Lock()
	s.sent = append(s.sent, cp)
	s.mu.Unlock()
	return nil
}

// Sent returns a copy of all payloads written so far.
func (s *Stream) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Emit delivers one response frame to the reader.
func (s *Stream) Emit(frame []byte) {
	s.frames <- frame
}

// Finish ends the response side, optionally with a terminal error.
func (s *Stream) Finish(err error) {
	s.finishOnce.Do(func() {
		s.mu.Lock()
		s.errVal = err
		s.mu.Unlock()
		close(s.frames)
	})
}

func (s *Stream) CloseSend() error      { return nil }
func (s *Stream) Frames() <-chan []byte { return s.frames }

func (s *Stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close marks the stream closed and finishes the response side.
func (s *Stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.Finish(nil)
	return nil
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Client is a modelstream.Client that hands out pre-arranged streams.
type Client struct {
	mu      sync.Mutex
	streams []*Stream
	opened  int

	// OpenErr, when non-nil, is returned by OpenStream.
	OpenErr error
}

var _ modelstream.Client = (*Client)(nil)

// NewClient returns a client that serves the given streams in order. When the
// list is exhausted, fresh streams are created on demand.
func NewClient(streams ...*Stream) *Client {
	return &Client{streams: streams}
}

// OpenStream returns the next scripted stream.
func (c *Client) OpenStream(ctx context.Context, modelID string) (modelstream.Stream, error) {
	if c.OpenErr != nil {
		return nil, c.OpenErr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.opened < len(c.streams) {
		s := c.streams[c.opened]
		c.opened++
		return s, nil
	}
	s := NewStream()
	c.streams = append(c.streams, s)
	c.opened++
	return s, nil
}

// Opened reports how many streams have been handed out.
func (c *Client) Opened() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opened
}
