package session

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/MrWong99/voxgate/internal/protocol"
	"github.com/MrWong99/voxgate/pkg/tool"
)

// runTool executes one tool request on its own goroutine so slow tools never
// stall the demux loop. Results are delivered whenever they finish; the
// toolUseId in the upstream triple lets the model pair out-of-order results
// with their requests.
func (s *Session) runTool(tc toolContext) {
	start := time.Now()

	result := s.executeTool(tc)
	elapsed := time.Since(start)

	isErr := tool.IsErrorResult(result)
	status := "ok"
	if isErr {
		status = "error"
	}
	s.metrics.RecordToolExecution(s.ctx, tc.name, elapsed)
	s.metrics.RecordToolCall(s.ctx, tc.name, status)
	slog.Debug("tool finished",
		"session_id", s.id, "tool", tc.name, "tool_use_id", tc.id,
		"duration", elapsed, "error", isErr)

	// Feed the result back to the model only while the conversation is still
	// live; a session mid-close must not reopen content blocks.
	if s.State() == StateActive {
		s.sendToolResult(tc.id, result)
	}

	// Local observers always hear the outcome, even after close started.
	s.dispatch(protocol.Synthetic(protocol.KindToolResult, &protocol.ToolResultEvent{
		ToolUseID:       tc.id,
		Result:          result,
		ExecutionTimeMs: elapsed.Milliseconds(),
		Error:           isErr,
	}))
}

// executeTool resolves and runs the named tool, converting every failure mode
// into a structured error result so the model always receives something to
// speak about.
func (s *Session) executeTool(tc toolContext) any {
	t, err := s.tools.Get(tc.name)
	if err != nil {
		return tool.ErrorResult("Tool not supported")
	}

	params := parseParams(tc.content)

	res, err := t.Execute(s.ctx, params, tool.Context{
		SessionID:   s.id,
		MaxTokens:   s.cfg.Inference.MaxTokens,
		TopP:        s.cfg.Inference.TopP,
		Temperature: s.cfg.Inference.Temperature,
	})
	if err != nil {
		slog.Warn("tool execution failed", "session_id", s.id, "tool", tc.name, "err", err)
		return tool.ErrorResult(err.Error())
	}
	return res
}

// parseParams decodes the accumulated tool input. The model sends a JSON
// string; input that fails to parse is passed through under a content key so
// the tool can still inspect it.
func parseParams(content string) any {
	if content == "" {
		return map[string]any{}
	}
	var parsed any
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return map[string]any{"content": content}
	}
	return parsed
}

// sendToolResult enqueues the TOOL content triple carrying the sanitised
// result. The short pauses between events keep the serialiser from bunching
// the triple into one flush, which the model service tolerates poorly.
func (s *Session) sendToolResult(toolUseID string, result any) {
	payload, err := json.Marshal(result)
	if err != nil {
		payload, _ = json.Marshal(tool.ErrorResult("result not serialisable"))
	}
	text := protocol.SanitizeToolResult(string(payload))

	contentName := s.promptName + "-tool-" + toolUseID

	s.enqueue(protocol.ToolContentStart(s.promptName, contentName, toolUseID), false)
	if !s.pause(s.tm.ToolEventPause) {
		return
	}
	s.enqueue(protocol.ToolResultInput(s.promptName, contentName, text), false)
	if !s.pause(s.tm.ToolEventPause) {
		return
	}
	s.enqueue(protocol.ContentEnd(s.promptName, contentName), false)
	s.pause(s.tm.ToolFinishPause)
}

// pause sleeps for d unless the session closes first. Reports whether the
// dispatcher should continue.
func (s *Session) pause(d time.Duration) bool {
	if d <= 0 {
		return true
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-s.closeCh:
		return false
	}
}
