// Package tool defines the uniform contract for tools the model may invoke
// mid-conversation, and the name-indexed registry the gateway dispatches
// through.
//
// A tool exposes a stable name (matched case-insensitively), a description,
// and a JSON-Schema input descriptor; it executes against parsed parameters
// plus a per-invocation [Context] carrying the calling session's inference
// settings so a tool may forward those knobs to a downstream LLM call.
//
// Two failure modes are distinguished:
//
//   - Execute returning a non-nil error — the invocation itself failed.
//   - Execute returning a value shaped like {"error": true, "message": …} —
//     a business-level failure the model should relay conversationally.
//
// All implementations must be safe for concurrent use; the dispatcher runs
// tools from detached goroutines.
package tool

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownTool is returned by [Registry.Execute] and [Registry.Get] when no
// tool is registered under the requested name.
var ErrUnknownTool = errors.New("tool: unknown tool")

// Context carries per-invocation session settings into a tool.
type Context struct {
	// SessionID identifies the invoking session, for logging.
	SessionID string

	// MaxTokens, TopP and Temperature mirror the session's inference
	// configuration so tools that call a downstream LLM can reuse them.
	MaxTokens   int
	TopP        float64
	Temperature float64
}

// Tool is a single callable capability offered to the model.
type Tool interface {
	// Name is the stable identifier the model calls the tool by. Lookup is
	// case-insensitive.
	Name() string

	// Description is the human-readable summary injected into the model's
	// tool catalogue.
	Description() string

	// InputSchema is the JSON-Schema descriptor of the tool's parameters.
	InputSchema() map[string]any

	// Execute runs the tool. params is the decoded JSON parameter value —
	// usually a map, but tools must tolerate any JSON value. The returned
	// value must be JSON-serialisable.
	Execute(ctx context.Context, params any, tc Context) (any, error)
}

// ErrorResult builds the business-level failure value the dispatcher and
// tools use to signal a recoverable error to the model.
func ErrorResult(message string) map[string]any {
	return map[string]any{"error": true, "message": message}
}

// IsErrorResult reports whether v carries the explicit error marker.
func IsErrorResult(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	b, ok := m["error"].(bool)
	return ok && b
}

// Func adapts a plain function into a [Tool]. Useful for small built-ins and
// tests.
type Func struct {
	ToolName        string
	ToolDescription string
	Schema          map[string]any
	Fn              func(ctx context.Context, params any, tc Context) (any, error)
}

func (f Func) Name() string                { return f.ToolName }
func (f Func) Description() string         { return f.ToolDescription }
func (f Func) InputSchema() map[string]any { return f.Schema }

func (f Func) Execute(ctx context.Context, params any, tc Context) (any, error) {
	if f.Fn == nil {
		return nil, fmt.Errorf("tool %q: no function bound", f.ToolName)
	}
	return f.Fn(ctx, params, tc)
}

// ObjectSchema is a shorthand for a JSON-Schema object with the given
// properties and required field names.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}
