// Package gateway implements the client-facing WebSocket server: one
// connection per client, one model session per connection, typed JSON
// messages in both directions.
//
// Incoming messages drive the session lifecycle (initializeConnection,
// promptStart, systemPrompt, audioStart, audioInput, textInput, stopAudio,
// startNewChat); downstream model events are relayed back with the same
// payload shape the model service produced.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/protocol"
	"github.com/MrWong99/voxgate/internal/session"
	"github.com/MrWong99/voxgate/pkg/tool"
)

const (
	// stopAudioTimeout bounds the graceful close triggered by a stopAudio
	// message before escalating to force close.
	stopAudioTimeout = 5 * time.Second

	// disconnectTimeout bounds the close sequence after the socket drops.
	disconnectTimeout = 3 * time.Second

	// writeTimeout bounds a single outbound socket write.
	writeTimeout = 10 * time.Second
)

// Defaults are the per-session settings applied when a client's
// initializeConnection omits them.
type Defaults struct {
	Region           string
	ModelID          string
	Inference        protocol.InferenceConfig
	Endpointing      string
	VoiceID          string
	OutputSampleRate int
	InputSampleRate  int
	SystemPrompt     string
	EnabledTools     []string
}

// Option configures a Server.
type Option func(*Server)

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// Server accepts WebSocket clients and multiplexes them onto model sessions.
type Server struct {
	manager  *session.Manager
	tools    *tool.Registry
	defaults Defaults
	metrics  *observe.Metrics

	conns atomic.Int64
}

// NewServer wires a gateway over the session manager and tool catalogue.
func NewServer(manager *session.Manager, tools *tool.Registry, defaults Defaults, opts ...Option) *Server {
	s := &Server{
		manager:  manager,
		tools:    tools,
		defaults: defaults,
		metrics:  observe.DefaultMetrics(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP upgrades the request to a WebSocket and runs the connection
// loop until the client disconnects.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		return
	}

	s.conns.Add(1)
	s.metrics.SocketConnections.Add(r.Context(), 1)
	defer func() {
		s.conns.Add(-1)
		s.metrics.SocketConnections.Add(context.Background(), -1)
	}()

	c := newConnection(s, ws)
	c.run(r.Context())
}

// ToolsHandler serves GET /api/tools with the registered tool catalogue.
func (s *Server) ToolsHandler(w http.ResponseWriter, _ *http.Request) {
	type toolInfo struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	specs := s.tools.Specs(nil)
	out := struct {
		Tools []toolInfo `json:"tools"`
	}{Tools: make([]toolInfo, 0, len(specs))}
	for _, sp := range specs {
		out.Tools = append(out.Tools, toolInfo{Name: sp.Name, Description: sp.Description})
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	_ = json.NewEncoder(w).Encode(out)
}

// SessionCount reports the number of live model sessions.
func (s *Server) SessionCount() int { return s.manager.Count() }

// ConnectionCount reports the number of connected WebSocket clients.
func (s *Server) ConnectionCount() int { return int(s.conns.Load()) }
