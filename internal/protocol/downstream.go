package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ContentStartOutput is a downstream contentStart payload. Only the fields the
// gateway inspects are decoded; Raw on the enclosing event preserves the rest.
type ContentStartOutput struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
	ContentID   string `json:"contentId"`
	Type        string `json:"type"`
	Role        string `json:"role"`
}

// TextOutput is an incremental transcript or text reply from the model.
type TextOutput struct {
	Role                  string `json:"role"`
	Content               string `json:"content"`
	AdditionalModelFields string `json:"additionalModelFields,omitempty"`
}

// AudioOutput carries one base64-encoded PCM16 chunk of synthesised speech.
type AudioOutput struct {
	Content string `json:"content"`
}

// ToolUse is the model's request to invoke a named tool.
type ToolUse struct {
	ToolUseID string `json:"toolUseId"`
	ToolName  string `json:"toolName"`
	Content   string `json:"content"`
}

// ContentEndOutput closes a downstream content block. Type TOOL signals that
// the preceding toolUse event is complete and the tool should run.
type ContentEndOutput struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
	Type        string `json:"type"`
	StopReason  string `json:"stopReason"`
}

// ErrorOutput is raised for transport-level error frames and demux failures.
type ErrorOutput struct {
	Type    string `json:"type"`
	Source  string `json:"source"`
	Details string `json:"details"`
}

// StreamComplete is raised once when the downstream channel reaches
// end-of-stream.
type StreamComplete struct {
	Timestamp time.Time `json:"timestamp"`
}

// BargeIn is raised when the model signals a user interruption in-band.
type BargeIn struct {
	Interrupted bool `json:"interrupted"`
}

// ToolResultEvent is synthesised locally when a dispatched tool finishes, so
// the gateway can show the outcome without waiting for the model's reply.
type ToolResultEvent struct {
	ToolUseID       string `json:"toolUseId"`
	Result          any    `json:"result"`
	ExecutionTimeMs int64  `json:"executionTimeMs"`
	Error           bool   `json:"error,omitempty"`
}

// DownstreamEvent is the tagged-variant result of parsing one downstream
// frame. Kind selects which payload pointer is non-nil; Raw holds the
// undecoded payload for verbatim relay to clients.
type DownstreamEvent struct {
	Kind Kind
	Raw  json.RawMessage

	ContentStart *ContentStartOutput
	TextOutput   *TextOutput
	AudioOutput  *AudioOutput
	ToolUse      *ToolUse
	ContentEnd   *ContentEndOutput
	Error        *ErrorOutput
	Complete     *StreamComplete
	BargeIn      *BargeIn
	ToolResult   *ToolResultEvent
}

// Synthetic builds a locally raised event with Raw populated from payload so
// relays see the same shape as wire events.
func Synthetic(kind Kind, payload any) DownstreamEvent {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = []byte("{}")
	}
	ev := DownstreamEvent{Kind: kind, Raw: raw}
	switch p := payload.(type) {
	case *ErrorOutput:
		ev.Error = p
	case *StreamComplete:
		ev.Complete = p
	case *BargeIn:
		ev.BargeIn = p
	case *ToolResultEvent:
		ev.ToolResult = p
	}
	return ev
}

// transport-level error kinds surfaced as error events rather than dispatched
// by name.
const (
	errKindModelStream    = "modelStreamErrorException"
	errKindInternalServer = "internalServerException"
)

// ParseFrame decodes one downstream envelope. Frames with no recognisable
// top-level kind yield a KindUnknown event rather than an error so a single
// malformed frame never kills the demux loop; a non-nil error is returned only
// when the envelope itself is not valid JSON.
func ParseFrame(data []byte) (DownstreamEvent, error) {
	var env struct {
		Event map[string]json.RawMessage `json:"event"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return DownstreamEvent{}, fmt.Errorf("protocol: decode frame: %w", err)
	}
	if len(env.Event) == 0 {
		return DownstreamEvent{Kind: KindUnknown, Raw: data}, nil
	}

	// Exactly one top-level kind is expected; take the first.
	var kind string
	var raw json.RawMessage
	for k, v := range env.Event {
		kind, raw = k, v
		break
	}

	ev := DownstreamEvent{Kind: Kind(kind), Raw: raw}
	switch ev.Kind {
	case KindContentStart:
		ev.ContentStart = &ContentStartOutput{}
		return ev, unmarshalPayload(raw, ev.ContentStart)
	case KindTextOutput:
		ev.TextOutput = &TextOutput{}
		return ev, unmarshalPayload(raw, ev.TextOutput)
	case KindAudioOutput:
		ev.AudioOutput = &AudioOutput{}
		return ev, unmarshalPayload(raw, ev.AudioOutput)
	case KindToolUse:
		ev.ToolUse = &ToolUse{}
		return ev, unmarshalPayload(raw, ev.ToolUse)
	case KindContentEnd:
		ev.ContentEnd = &ContentEndOutput{}
		return ev, unmarshalPayload(raw, ev.ContentEnd)
	case KindCompletionStart, KindUsageEvent:
		return ev, nil
	default:
	}

	switch kind {
	case errKindModelStream, errKindInternalServer:
		ev.Kind = KindError
		ev.Error = &ErrorOutput{Type: kind, Source: "responseStream", Details: string(raw)}
		return ev, nil
	}

	ev.Kind = KindUnknown
	return ev, nil
}

func unmarshalPayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("protocol: decode payload: %w", err)
	}
	return nil
}

// interruptionMarker is the in-band barge-in signal the model embeds in
// textOutput content.
const interruptionMarker = `{"interrupted":true}`

// IsInterruptionMarker reports whether a textOutput content string carries the
// barge-in marker, ignoring whitespace.
func IsInterruptionMarker(content string) bool {
	if !strings.Contains(content, "interrupted") {
		return false
	}
	var b strings.Builder
	b.Grow(len(content))
	for _, r := range content {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			b.WriteRune(r)
		}
	}
	return strings.Contains(b.String(), interruptionMarker)
}
