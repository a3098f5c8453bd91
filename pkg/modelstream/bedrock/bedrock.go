// Package bedrock implements modelstream.Client over the Amazon Bedrock
// bidirectional invocation API (InvokeModelWithBidirectionalStream).
//
// Event envelopes are opaque at this layer: the gateway serialises protocol
// events to bytes, this package wraps them in eventstream chunks, and the
// service's response chunks are surfaced as raw byte frames. Authentication
// follows the default AWS credential chain unless static credentials are
// supplied.
package bedrock

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"
	"golang.org/x/net/http2"

	"github.com/MrWong99/voxgate/pkg/modelstream"
)

// Compile-time assertions against the modelstream interfaces.
var _ modelstream.Client = (*Client)(nil)
var _ modelstream.Stream = (*stream)(nil)

const (
	// connTimeout bounds both the HTTP request and the model session; the
	// service itself enforces a lower per-connection ceiling.
	connTimeout = 300 * time.Second

	// frameBuf is the buffer depth of the response frame channel.
	frameBuf = 64
)

// Option is a functional option for configuring a Client.
type Option func(*Client)

// WithStaticCredentials bypasses the default credential chain.
func WithStaticCredentials(accessKeyID, secretAccessKey, sessionToken string) Option {
	return func(c *Client) {
		c.staticCreds = credentials.NewStaticCredentialsProvider(accessKeyID, secretAccessKey, sessionToken)
		c.useStatic = true
	}
}

// Client opens bidirectional model streams in one AWS region.
type Client struct {
	region      string
	rt          *bedrockruntime.Client
	staticCreds aws.CredentialsProvider
	useStatic   bool
}

// New creates a Client for region using the default credential chain (or
// static credentials via [WithStaticCredentials]). The underlying HTTP client
// is tuned for long-lived HTTP/2 duplex streams.
func New(ctx context.Context, region string, opts ...Option) (*Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	c := &Client{region: region}
	for _, o := range opts {
		o(c)
	}

	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(region),
		awsconfig.WithHTTPClient(newHTTP2Client()),
	}
	if c.useStatic {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(c.staticCreds))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("bedrock: load aws config for %s: %w", region, err)
	}

	c.rt = bedrockruntime.NewFromConfig(awsCfg)
	return c, nil
}

// newHTTP2Client builds an HTTP client that forces HTTP/2, keeps idle duplex
// connections alive, and caps concurrent streams.
func newHTTP2Client() *http.Client {
	transport := &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, cfg *tls.Config) (net.Conn, error) {
			d := &tls.Dialer{Config: cfg, NetDialer: &net.Dialer{Timeout: 10 * time.Second}}
			return d.DialContext(ctx, network, addr)
		},
		ReadIdleTimeout: 30 * time.Second,
		PingTimeout:     15 * time.Second,
		// Honour the server's SETTINGS_MAX_CONCURRENT_STREAMS instead of
		// opening extra connections per regional client.
		StrictMaxConcurrentStreams: true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   connTimeout,
	}
}

// OpenStream starts a bidirectional invocation of modelID. The returned
// stream is ready to accept payloads immediately; response frames arrive on
// Frames until the service finishes its side.
func (c *Client) OpenStream(ctx context.Context, modelID string) (modelstream.Stream, error) {
	out, err := c.rt.InvokeModelWithBidirectionalStream(ctx, &bedrockruntime.InvokeModelWithBidirectionalStreamInput{
		ModelId: aws.String(modelID),
	})
	if err != nil {
		return nil, fmt.Errorf("bedrock: open stream for %q in %s: %w", modelID, c.region, err)
	}

	s := &stream{
		es:     out.GetStream(),
		frames: make(chan []byte, frameBuf),
	}
	go s.receiveLoop()
	return s, nil
}

// stream adapts the SDK event stream to modelstream.Stream.
type stream struct {
	es     *bedrockruntime.InvokeModelWithBidirectionalStreamEventStream
	frames chan []byte

	mu     sync.Mutex
	errVal error
	closed bool

	closeOnce sync.Once
}

// receiveLoop owns the frames channel: it forwards response chunks and closes
// the channel when the event stream ends.
func (s *stream) receiveLoop() {
	defer close(s.frames)

	for event := range s.es.Events() {
		chunk, ok := event.(*types.InvokeModelWithBidirectionalStreamOutputMemberChunk)
		if !ok || chunk.Value.Bytes == nil {
			continue
		}
		s.frames <- chunk.Value.Bytes
	}

	if err := s.es.Err(); err != nil {
		s.setErr(err)
	}
}

func (s *stream) Send(ctx context.Context, payload []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("bedrock: stream closed")
	}
	s.mu.Unlock()

	err := s.es.Send(ctx, &types.InvokeModelWithBidirectionalStreamInputMemberChunk{
		Value: types.BidirectionalInputPayloadPart{Bytes: payload},
	})
	if err != nil {
		s.setErr(err)
		return fmt.Errorf("bedrock: send: %w", err)
	}
	return nil
}

func (s *stream) CloseSend() error {
	// The SDK has no half-close for bidirectional streams; Close tears down
	// the write side and the read loop drains what remains.
	return nil
}

func (s *stream) Frames() <-chan []byte { return s.frames }

func (s *stream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

func (s *stream) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	var err error
	s.closeOnce.Do(func() {
		err = s.es.Close()
	})
	return err
}

func (s *stream) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil && !errors.Is(err, context.Canceled) {
		s.errVal = err
	}
}

// ErrorKind classifies a stream error into the protocol's transport error
// kinds. Unrecognised errors map to an internal server exception.
func ErrorKind(err error) string {
	var modelErr *types.ModelStreamErrorException
	if errors.As(err, &modelErr) {
		return "modelStreamErrorException"
	}
	var validationErr *types.ValidationException
	if errors.As(err, &validationErr) {
		return "validationException"
	}
	var throttleErr *types.ThrottlingException
	if errors.As(err, &throttleErr) {
		return "throttlingException"
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) && apiErr.ErrorCode() != "" {
		return apiErr.ErrorCode()
	}
	return "internalServerException"
}
