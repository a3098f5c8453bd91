// Package modelstream abstracts the bidirectional byte stream to the remote
// speech-to-speech model service.
//
// A [Stream] is one duplex exchange: the gateway writes serialised protocol
// envelopes with Send while concurrently draining Frames for the model's
// serialised responses. Implementations live in subpackages; production uses
// the Amazon Bedrock bidirectional invocation (see the bedrock subpackage)
// and tests use the scripted mock.
//
// Clients are expensive (credential resolution, HTTP/2 connection pools) and
// region-scoped, so the process keeps one per region in a [Registry] and
// creates them lazily.
package modelstream

import (
	"context"
	"sync"
)

// Stream is an open bidirectional exchange with the model service.
//
// Frames is closed when the service finishes or the stream fails; after it
// closes, Err reports whether the stream ended cleanly. Implementations must
// be safe for one concurrent sender and one concurrent reader.
type Stream interface {
	// Send writes one serialised event envelope to the service.
	Send(ctx context.Context, payload []byte) error

	// CloseSend signals end-of-input to the service. Frames keeps delivering
	// until the service closes its side.
	CloseSend() error

	// Frames returns the channel of serialised response envelopes.
	Frames() <-chan []byte

	// Err returns the error that terminated the stream, or nil.
	Err() error

	// Close tears the stream down. Idempotent.
	Close() error
}

// Client opens streams against one regional model-service endpoint.
type Client interface {
	OpenStream(ctx context.Context, modelID string) (Stream, error)
}

// DialFunc creates a Client for a region.
type DialFunc func(ctx context.Context, region string) (Client, error)

// Registry is the process-wide set of region-scoped clients. Clients are
// created lazily on first use and retained for the process lifetime.
type Registry struct {
	dial DialFunc

	mu      sync.Mutex
	clients map[string]Client
}

// NewRegistry creates a Registry that builds missing clients with dial.
func NewRegistry(dial DialFunc) *Registry {
	return &Registry{
		dial:    dial,
		clients: make(map[string]Client),
	}
}

// Client returns the client for region, creating it if needed.
func (r *Registry) Client(ctx context.Context, region string) (Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.clients[region]; ok {
		return c, nil
	}
	c, err := r.dial(ctx, region)
	if err != nil {
		return nil, err
	}
	r.clients[region] = c
	return c, nil
}

// Regions returns the regions with an instantiated client.
func (r *Registry) Regions() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	regions := make([]string, 0, len(r.clients))
	for region := range r.clients {
		regions = append(regions, region)
	}
	return regions
}
