// Package protocol defines the wire protocol spoken with the speech-to-speech
// model service.
//
// Every frame — upstream and downstream — is a UTF-8 JSON envelope of shape
//
//	{"event": {"<kind>": <payload>}}
//
// Upstream events are built with the constructors in this file and serialised
// by [Event.MarshalJSON]. Downstream frames are decoded with [ParseFrame] into
// a tagged [Event] whose Kind selects which payload pointer is populated, so
// dispatch is an exhaustive switch rather than a string-keyed handler map.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Kind identifies the single top-level event kind inside an envelope.
type Kind string

// Upstream event kinds.
const (
	KindSessionStart Kind = "sessionStart"
	KindPromptStart  Kind = "promptStart"
	KindContentStart Kind = "contentStart"
	KindTextInput    Kind = "textInput"
	KindAudioInput   Kind = "audioInput"
	KindToolResult   Kind = "toolResult"
	KindContentEnd   Kind = "contentEnd"
	KindPromptEnd    Kind = "promptEnd"
	KindSessionEnd   Kind = "sessionEnd"
)

// Downstream event kinds. KindToolResult and KindContentStart/KindContentEnd
// appear in both directions.
const (
	KindTextOutput      Kind = "textOutput"
	KindAudioOutput     Kind = "audioOutput"
	KindToolUse         Kind = "toolUse"
	KindCompletionStart Kind = "completionStart"
	KindUsageEvent      Kind = "usageEvent"
)

// Synthetic kinds raised locally by the demultiplexer, never carried on the
// wire in this form.
const (
	KindBargeIn        Kind = "bargeIn"
	KindStreamComplete Kind = "streamComplete"
	KindError          Kind = "error"
	KindUnknown        Kind = "unknown"
)

// Content block types and roles.
const (
	ContentTypeText  = "TEXT"
	ContentTypeAudio = "AUDIO"
	ContentTypeTool  = "TOOL"

	RoleSystem    = "SYSTEM"
	RoleUser      = "USER"
	RoleAssistant = "ASSISTANT"
	RoleTool      = "TOOL"
)

// Stop reasons carried on downstream contentEnd events.
const (
	StopEndTurn     = "END_TURN"
	StopInterrupted = "INTERRUPTED"
	StopMaxTokens   = "MAX_TOKENS"
	StopToolUse     = "TOOL_USE"
)

// InferenceConfig holds the model sampling knobs for a session.
type InferenceConfig struct {
	MaxTokens   int     `json:"maxTokens"`
	TopP        float64 `json:"topP"`
	Temperature float64 `json:"temperature"`
}

// TurnDetectionConfig tunes the model's endpointing behaviour.
// Sensitivity is one of "HIGH", "MEDIUM", "LOW".
type TurnDetectionConfig struct {
	EndpointingSensitivity string `json:"endpointingSensitivity"`
}

// ToolChoice selects how the model may pick tools: automatic, forced to any
// tool, or forced to one specific tool. The zero value means auto.
type ToolChoice struct {
	mode string
	name string
}

// ToolChoiceAuto lets the model decide whether to call a tool.
func ToolChoiceAuto() ToolChoice { return ToolChoice{mode: "auto"} }

// ToolChoiceAny forces the model to call some tool.
func ToolChoiceAny() ToolChoice { return ToolChoice{mode: "any"} }

// ToolChoiceTool forces the model to call the named tool.
func ToolChoiceTool(name string) ToolChoice { return ToolChoice{mode: "tool", name: name} }

// MarshalJSON emits the service's tagged-object form, e.g. {"auto":{}} or
// {"tool":{"name":"lookup"}}.
func (tc ToolChoice) MarshalJSON() ([]byte, error) {
	switch tc.mode {
	case "", "auto":
		return []byte(`{"auto":{}}`), nil
	case "any":
		return []byte(`{"any":{}}`), nil
	case "tool":
		return json.Marshal(map[string]any{"tool": map[string]string{"name": tc.name}})
	default:
		return nil, fmt.Errorf("protocol: unknown tool choice mode %q", tc.mode)
	}
}

// ToolSpec is one tool offered to the model in the promptStart event. The
// input schema travels as a JSON string, not a nested object.
type ToolSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema struct {
		JSON string `json:"json"`
	} `json:"inputSchema"`
}

// NewToolSpec builds a ToolSpec with the schema pre-serialised.
func NewToolSpec(name, description, schemaJSON string) ToolSpec {
	ts := ToolSpec{Name: name, Description: description}
	ts.InputSchema.JSON = schemaJSON
	return ts
}

type mediaConfig struct {
	MediaType string `json:"mediaType"`
}

type audioOutputConfig struct {
	MediaType       string `json:"mediaType"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	SampleSizeBits  int    `json:"sampleSizeBits"`
	ChannelCount    int    `json:"channelCount"`
	VoiceID         string `json:"voiceId"`
	Encoding        string `json:"encoding,omitempty"`
	AudioType       string `json:"audioType,omitempty"`
}

type audioInputConfig struct {
	MediaType       string `json:"mediaType"`
	SampleRateHertz int    `json:"sampleRateHertz"`
	SampleSizeBits  int    `json:"sampleSizeBits"`
	ChannelCount    int    `json:"channelCount"`
	AudioType       string `json:"audioType"`
	Encoding        string `json:"encoding"`
}

type toolResultInputConfig struct {
	ToolUseID              string      `json:"toolUseId"`
	Type                   string      `json:"type"`
	TextInputConfiguration mediaConfig `json:"textInputConfiguration"`
}

type toolConfiguration struct {
	Tools      []map[string]ToolSpec `json:"tools"`
	ToolChoice ToolChoice            `json:"toolChoice"`
}

// Event is a single protocol event: one kind and its payload. Upstream events
// are constructed with the builders below; downstream events come out of
// [ParseFrame].
type Event struct {
	Kind    Kind
	Payload any
}

// MarshalJSON wraps the payload in the service envelope.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]map[string]any{
		"event": {string(e.Kind): e.Payload},
	})
}

// ── Upstream builders ──────────────────────────────────────────────────────────

type sessionStartPayload struct {
	InferenceConfiguration     InferenceConfig      `json:"inferenceConfiguration"`
	TurnDetectionConfiguration *TurnDetectionConfig `json:"turnDetectionConfiguration,omitempty"`
}

// SessionStart builds the first event of every session.
func SessionStart(inference InferenceConfig, turn *TurnDetectionConfig) Event {
	return Event{Kind: KindSessionStart, Payload: sessionStartPayload{
		InferenceConfiguration:     inference,
		TurnDetectionConfiguration: turn,
	}}
}

type promptStartPayload struct {
	PromptName                 string             `json:"promptName"`
	TextOutputConfiguration    mediaConfig        `json:"textOutputConfiguration"`
	AudioOutputConfiguration   audioOutputConfig  `json:"audioOutputConfiguration"`
	ToolUseOutputConfiguration mediaConfig        `json:"toolUseOutputConfiguration"`
	ToolConfiguration          *toolConfiguration `json:"toolConfiguration,omitempty"`
}

// PromptStart declares the prompt, its output formats, and the tool catalogue.
func PromptStart(promptName, voiceID string, outputSampleRate int, tools []ToolSpec, choice ToolChoice) Event {
	p := promptStartPayload{
		PromptName:              promptName,
		TextOutputConfiguration: mediaConfig{MediaType: "text/plain"},
		AudioOutputConfiguration: audioOutputConfig{
			MediaType:       "audio/lpcm",
			SampleRateHertz: outputSampleRate,
			SampleSizeBits:  16,
			ChannelCount:    1,
			VoiceID:         voiceID,
			Encoding:        "base64",
			AudioType:       "SPEECH",
		},
		ToolUseOutputConfiguration: mediaConfig{MediaType: "application/json"},
	}
	if len(tools) > 0 {
		tc := &toolConfiguration{ToolChoice: choice}
		for _, t := range tools {
			tc.Tools = append(tc.Tools, map[string]ToolSpec{"toolSpec": t})
		}
		p.ToolConfiguration = tc
	}
	return Event{Kind: KindPromptStart, Payload: p}
}

type contentStartPayload struct {
	PromptName                  string                 `json:"promptName"`
	ContentName                 string                 `json:"contentName"`
	Type                        string                 `json:"type"`
	Role                        string                 `json:"role"`
	Interactive                 *bool                  `json:"interactive,omitempty"`
	TextInputConfiguration      *mediaConfig           `json:"textInputConfiguration,omitempty"`
	AudioInputConfiguration     *audioInputConfig      `json:"audioInputConfiguration,omitempty"`
	ToolResultInputConfiguration *toolResultInputConfig `json:"toolResultInputConfiguration,omitempty"`
}

// TextContentStart opens a TEXT content block with the given role.
func TextContentStart(promptName, contentName, role string) Event {
	interactive := true
	return Event{Kind: KindContentStart, Payload: contentStartPayload{
		PromptName:             promptName,
		ContentName:            contentName,
		Type:                   ContentTypeText,
		Role:                   role,
		Interactive:            &interactive,
		TextInputConfiguration: &mediaConfig{MediaType: "text/plain"},
	}}
}

// AudioContentStart opens the user-audio content block. The sample rate is
// the microphone input rate, normally 16000.
func AudioContentStart(promptName, contentName string, sampleRateHertz int) Event {
	interactive := true
	return Event{Kind: KindContentStart, Payload: contentStartPayload{
		PromptName:  promptName,
		ContentName: contentName,
		Type:        ContentTypeAudio,
		Role:        RoleUser,
		Interactive: &interactive,
		AudioInputConfiguration: &audioInputConfig{
			MediaType:       "audio/lpcm",
			SampleRateHertz: sampleRateHertz,
			SampleSizeBits:  16,
			ChannelCount:    1,
			AudioType:       "SPEECH",
			Encoding:        "base64",
		},
	}}
}

// ToolContentStart opens the TOOL content block carrying a tool result for
// the given toolUseId.
func ToolContentStart(promptName, contentName, toolUseID string) Event {
	interactive := false
	return Event{Kind: KindContentStart, Payload: contentStartPayload{
		PromptName:  promptName,
		ContentName: contentName,
		Type:        ContentTypeTool,
		Role:        RoleTool,
		Interactive: &interactive,
		ToolResultInputConfiguration: &toolResultInputConfig{
			ToolUseID:              toolUseID,
			Type:                   ContentTypeText,
			TextInputConfiguration: mediaConfig{MediaType: "text/plain"},
		},
	}}
}

type textInputPayload struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
	Content     string `json:"content"`
}

// TextInput carries text content inside an open TEXT block.
func TextInput(promptName, contentName, content string) Event {
	return Event{Kind: KindTextInput, Payload: textInputPayload{
		PromptName: promptName, ContentName: contentName, Content: content,
	}}
}

// AudioInput carries one PCM16 chunk, base64-encoded, inside the open AUDIO
// block.
func AudioInput(promptName, contentName string, pcm []byte) Event {
	return Event{Kind: KindAudioInput, Payload: textInputPayload{
		PromptName:  promptName,
		ContentName: contentName,
		Content:     base64.StdEncoding.EncodeToString(pcm),
	}}
}

// ToolResultInput carries a stringified tool result inside an open TOOL block.
// The caller is responsible for sanitising content first (see [SanitizeToolResult]).
func ToolResultInput(promptName, contentName, content string) Event {
	return Event{Kind: KindToolResult, Payload: textInputPayload{
		PromptName: promptName, ContentName: contentName, Content: content,
	}}
}

type contentEndPayload struct {
	PromptName  string `json:"promptName"`
	ContentName string `json:"contentName"`
}

// ContentEnd closes a content block.
func ContentEnd(promptName, contentName string) Event {
	return Event{Kind: KindContentEnd, Payload: contentEndPayload{
		PromptName: promptName, ContentName: contentName,
	}}
}

// PromptEnd closes the prompt.
func PromptEnd(promptName string) Event {
	return Event{Kind: KindPromptEnd, Payload: map[string]string{"promptName": promptName}}
}

// SessionEnd is the terminal event of every session.
func SessionEnd() Event {
	return Event{Kind: KindSessionEnd, Payload: struct{}{}}
}
