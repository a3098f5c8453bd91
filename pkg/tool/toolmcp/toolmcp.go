// Package toolmcp bridges external MCP (Model Context Protocol) servers into
// the tool registry. Each remote tool is wrapped as a [tool.Tool] under the
// name "<server>_<tool>", so the model calls it exactly like a built-in.
//
// Connections use the official MCP Go SDK over stdio or streamable-HTTP
// transports.
package toolmcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxgate/pkg/tool"
)

// Transport selects how to reach an MCP server.
type Transport string

const (
	// TransportStdio launches the server as a child process and speaks MCP
	// over its stdin/stdout.
	TransportStdio Transport = "stdio"

	// TransportStreamableHTTP connects to a server's streamable-HTTP endpoint.
	TransportStreamableHTTP Transport = "streamable-http"
)

// ServerConfig describes one MCP server to import tools from.
type ServerConfig struct {
	// Name prefixes every imported tool, so two servers exposing a "search"
	// tool do not collide.
	Name string

	Transport Transport

	// Command is the child-process command line for stdio transport, split on
	// whitespace into executable and arguments.
	Command string

	// URL is the endpoint for streamable-HTTP transport.
	URL string

	// Token, when set, is sent as a bearer token on streamable-HTTP requests.
	Token string

	// Env holds extra environment variables for stdio child processes.
	Env map[string]string
}

// Bridge owns the client sessions to all imported MCP servers. Close it on
// shutdown to terminate child processes and HTTP sessions.
type Bridge struct {
	client *mcpsdk.Client

	mu       sync.Mutex
	sessions []*mcpsdk.ClientSession
}

// NewBridge creates an empty bridge.
func NewBridge() *Bridge {
	return &Bridge{
		client: mcpsdk.NewClient(
			&mcpsdk.Implementation{Name: "voxgate", Version: "1.0.0"},
			nil,
		),
	}
}

// Import connects to the server described by cfg, discovers its tool
// catalogue, and registers every tool into reg under the prefixed name.
// Returns the number of tools imported.
func (b *Bridge) Import(ctx context.Context, cfg ServerConfig, reg *tool.Registry) (int, error) {
	if cfg.Name == "" {
		return 0, fmt.Errorf("toolmcp: server config must have a non-empty name")
	}

	var transport mcpsdk.Transport
	switch cfg.Transport {
	case TransportStdio:
		cmd, err := stdioCommand(ctx, cfg)
		if err != nil {
			return 0, err
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}

	case TransportStreamableHTTP:
		if cfg.URL == "" {
			return 0, fmt.Errorf("toolmcp: streamable-http server %q requires a non-empty URL", cfg.Name)
		}
		t := &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
		if cfg.Token != "" {
			t.HTTPClient = &http.Client{Transport: bearerTransport{token: cfg.Token}}
		}
		transport = t

	default:
		return 0, fmt.Errorf("toolmcp: unknown transport %q for server %q", cfg.Transport, cfg.Name)
	}

	session, err := b.client.Connect(ctx, transport, nil)
	if err != nil {
		return 0, fmt.Errorf("toolmcp: connect to server %q: %w", cfg.Name, err)
	}

	count := 0
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return 0, fmt.Errorf("toolmcp: list tools for server %q: %w", cfg.Name, err)
		}
		reg.Register(&remoteTool{
			session:     session,
			remoteName:  t.Name,
			name:        cfg.Name + "_" + t.Name,
			description: t.Description,
			schema:      schemaToMap(t.InputSchema),
		})
		count++
	}

	b.mu.Lock()
	b.sessions = append(b.sessions, session)
	b.mu.Unlock()

	return count, nil
}

// Close terminates every imported server session. The first error wins.
func (b *Bridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var firstErr error
	for _, s := range b.sessions {
		if err := s.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("toolmcp: close session: %w", err)
		}
	}
	b.sessions = nil
	return firstErr
}

// stdioCommand builds the child process for a stdio server. Extra env vars are
// appended to a copy of the parent environment; exec.Cmd inherits the parent
// env only while Env stays nil, so the extras must not start from an empty
// slice.
func stdioCommand(ctx context.Context, cfg ServerConfig) (*exec.Cmd, error) {
	fields := strings.Fields(cfg.Command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("toolmcp: stdio server %q requires a non-empty command", cfg.Name)
	}
	cmd := exec.CommandContext(ctx, fields[0], fields[1:]...)
	if len(cfg.Env) > 0 {
		env := os.Environ()
		for k, v := range cfg.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}
	return cmd, nil
}

// remoteTool adapts one discovered MCP tool to the [tool.Tool] contract.
type remoteTool struct {
	session     *mcpsdk.ClientSession
	remoteName  string
	name        string
	description string
	schema      map[string]any
}

var _ tool.Tool = (*remoteTool)(nil)

func (t *remoteTool) Name() string                { return t.name }
func (t *remoteTool) Description() string         { return t.description }
func (t *remoteTool) InputSchema() map[string]any { return t.schema }

// Execute forwards the call over the session. Protocol failures surface as Go
// errors; a result flagged IsError by the server becomes a business-level
// error result.
func (t *remoteTool) Execute(ctx context.Context, params any, _ tool.Context) (any, error) {
	args, ok := params.(map[string]any)
	if !ok && params != nil {
		return nil, fmt.Errorf("toolmcp: tool %q expects object parameters, got %T", t.name, params)
	}

	res, err := t.session.CallTool(ctx, &mcpsdk.CallToolParams{
		Name:      t.remoteName,
		Arguments: args,
	})
	if err != nil {
		return nil, fmt.Errorf("toolmcp: call tool %q: %w", t.name, err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	text := sb.String()

	if res.IsError {
		return tool.ErrorResult(text), nil
	}

	// Pass structured output through when the server returned JSON.
	var structured any
	if err := json.Unmarshal([]byte(text), &structured); err == nil {
		return structured, nil
	}
	return map[string]any{"content": text}, nil
}

// schemaToMap normalises whatever schema representation the SDK hands back
// into a plain map.
func schemaToMap(schema any) map[string]any {
	if schema == nil {
		return map[string]any{"type": "object"}
	}
	if m, ok := schema.(map[string]any); ok {
		return m
	}
	data, err := json.Marshal(schema)
	if err != nil {
		return map[string]any{"type": "object"}
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return map[string]any{"type": "object"}
	}
	return m
}

// bearerTransport injects an Authorization header on every request.
type bearerTransport struct {
	token string
}

func (t bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.token)
	return http.DefaultTransport.RoundTrip(clone)
}
