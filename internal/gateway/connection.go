package gateway

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/voxgate/internal/protocol"
	"github.com/MrWong99/voxgate/internal/session"
)

// clientMessage is the envelope of every message a client sends.
type clientMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// initPayload configures a new session. Omitted fields fall back to the
// server defaults.
type initPayload struct {
	Region              string                        `json:"region"`
	InferenceConfig     *protocol.InferenceConfig     `json:"inferenceConfig"`
	TurnDetectionConfig *protocol.TurnDetectionConfig `json:"turnDetectionConfig"`
	EnabledTools        []string                      `json:"enabledTools"`
}

type promptStartPayload struct {
	VoiceID          string `json:"voiceId"`
	OutputSampleRate int    `json:"outputSampleRate"`
}

type systemPromptPayload struct {
	Content string `json:"content"`
	VoiceID string `json:"voiceId"`
}

type textInputPayload struct {
	Content string `json:"content"`
}

// ackPayload is the response to initializeConnection and startNewChat.
type ackPayload struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// connection is one client socket and the session it drives. All socket
// writes go through writeMu so relayed model events and command replies never
// interleave mid-frame.
type connection struct {
	srv *Server
	ws  *websocket.Conn

	writeMu sync.Mutex

	mu               sync.Mutex
	sess             *session.Session
	systemPromptSent bool
	history          []chatTurn

	// ctx is the connection's lifetime; relays bound writes to it because
	// the triggering request context is gone by the time events arrive.
	ctx    context.Context
	cancel context.CancelFunc
}

func newConnection(srv *Server, ws *websocket.Conn) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{srv: srv, ws: ws, ctx: ctx, cancel: cancel}
}

// run reads client messages until the socket drops, then tears the session
// down on the disconnect path.
func (c *connection) run(ctx context.Context) {
	defer c.onDisconnect()

	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return
		}

		// Binary frames are raw PCM16 microphone audio; everything else is
		// a typed JSON message.
		if typ == websocket.MessageBinary {
			c.streamAudio(data)
			continue
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError("invalid message", err.Error())
			continue
		}
		c.route(ctx, msg)
	}
}

func (c *connection) route(ctx context.Context, msg clientMessage) {
	switch msg.Type {
	case "initializeConnection":
		c.handleInit(ctx, msg.Payload)
	case "promptStart":
		c.handlePromptStart(msg.Payload)
	case "systemPrompt":
		c.handleSystemPrompt(msg.Payload)
	case "audioStart":
		c.handleAudioStart(ctx)
	case "audioInput":
		c.handleAudioInput(msg.Payload)
	case "textInput":
		c.handleTextInput(ctx, msg.Payload)
	case "stopAudio":
		c.handleStopAudio()
	case "startNewChat":
		c.handleStartNewChat(ctx, msg.Payload)
	default:
		c.sendError("unknown message type", msg.Type)
	}
}

// ── Message handlers ───────────────────────────────────────────────────────────

func (c *connection) handleInit(ctx context.Context, payload json.RawMessage) {
	var p initPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			c.sendAck("connectionInitialized", false, "invalid payload: "+err.Error())
			return
		}
	}

	c.mu.Lock()
	existing := c.sess
	c.mu.Unlock()
	if existing != nil {
		c.sendAck("connectionInitialized", false, "connection already initialized")
		return
	}

	sess, err := c.createSession(ctx, p)
	if err != nil {
		c.sendAck("connectionInitialized", false, err.Error())
		return
	}

	c.mu.Lock()
	c.sess = sess
	c.systemPromptSent = false
	c.mu.Unlock()

	c.sendAck("connectionInitialized", true, "")
}

// createSession builds a session from the client's config merged over the
// server defaults and registers the relay.
func (c *connection) createSession(ctx context.Context, p initPayload) (*session.Session, error) {
	d := c.srv.defaults

	cfg := session.Config{
		Region:           d.Region,
		ModelID:          d.ModelID,
		Inference:        d.Inference,
		ToolChoice:       protocol.ToolChoiceAuto(),
		EnabledTools:     d.EnabledTools,
		VoiceID:          d.VoiceID,
		OutputSampleRate: d.OutputSampleRate,
		InputSampleRate:  d.InputSampleRate,
	}
	if p.Region != "" {
		cfg.Region = p.Region
	}
	if p.InferenceConfig != nil {
		cfg.Inference = *p.InferenceConfig
	}
	if p.TurnDetectionConfig != nil {
		cfg.TurnDetection = p.TurnDetectionConfig
	} else if d.Endpointing != "" {
		cfg.TurnDetection = &protocol.TurnDetectionConfig{EndpointingSensitivity: d.Endpointing}
	}
	if len(p.EnabledTools) > 0 {
		cfg.EnabledTools = p.EnabledTools
	}

	sess, err := c.srv.manager.Create(ctx, cfg)
	if err != nil {
		return nil, err
	}
	sess.HandleAny(c.relay)
	return sess, nil
}

func (c *connection) handlePromptStart(payload json.RawMessage) {
	sess := c.session()
	if sess == nil {
		c.sendError("promptStart before initializeConnection", "")
		return
	}
	var p promptStartPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			c.sendError("invalid promptStart payload", err.Error())
			return
		}
	}
	if err := sess.SetupPromptStart(p.VoiceID, p.OutputSampleRate); err != nil {
		c.sendError("promptStart failed", err.Error())
	}
}

func (c *connection) handleSystemPrompt(payload json.RawMessage) {
	sess := c.session()
	if sess == nil {
		c.sendError("systemPrompt before initializeConnection", "")
		return
	}
	var p systemPromptPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			c.sendError("invalid systemPrompt payload", err.Error())
			return
		}
	}
	if err := sess.SetupSystemPrompt(p.Content); err != nil {
		c.sendError("systemPrompt failed", err.Error())
		return
	}
	c.mu.Lock()
	c.systemPromptSent = true
	c.mu.Unlock()
}

func (c *connection) handleAudioStart(ctx context.Context) {
	sess := c.session()
	if sess == nil {
		c.sendError("audioStart before initializeConnection", "")
		return
	}

	// A client that never supplied its own system prompt still gets one; the
	// model misbehaves on an empty preamble.
	c.mu.Lock()
	needPrompt := !c.systemPromptSent && c.srv.defaults.SystemPrompt != ""
	c.mu.Unlock()
	if needPrompt {
		if err := sess.SetupSystemPrompt(c.srv.defaults.SystemPrompt); err == nil {
			c.mu.Lock()
			c.systemPromptSent = true
			c.mu.Unlock()
		}
	}

	if err := sess.SetupStartAudio(); err != nil {
		c.sendError("audioStart failed", err.Error())
		return
	}
	if err := sess.InitiateStreaming(ctx); err != nil {
		c.sendError("streaming failed", err.Error())
		return
	}
	c.writeEvent("audioReady", struct{}{})
}

func (c *connection) handleAudioInput(payload json.RawMessage) {
	buf, err := decodeAudio(payload)
	if err != nil {
		c.sendError("invalid audioInput payload", err.Error())
		return
	}
	c.streamAudio(buf)
}

func (c *connection) streamAudio(buf []byte) {
	sess := c.session()
	if sess == nil {
		return
	}
	if dropped := sess.StreamAudio(buf); dropped {
		c.srv.metrics.AudioChunksDropped.Add(c.ctx, 1)
	}
}

func (c *connection) handleTextInput(ctx context.Context, payload json.RawMessage) {
	sess := c.session()
	if sess == nil {
		c.sendError("textInput before initializeConnection", "")
		return
	}
	var p textInputPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		c.sendError("invalid textInput payload", err.Error())
		return
	}
	if err := sess.SendTextInput(ctx, p.Content); err != nil {
		c.sendError("textInput failed", err.Error())
		return
	}
	c.mu.Lock()
	c.appendTurn(protocol.RoleUser, p.Content)
	c.mu.Unlock()
}

func (c *connection) handleStopAudio() {
	c.closeSession(stopAudioTimeout, "graceful")
}

func (c *connection) handleStartNewChat(ctx context.Context, payload json.RawMessage) {
	c.closeSession(stopAudioTimeout, "graceful")

	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()

	var p initPayload
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &p); err != nil {
			c.sendAck("connectionInitialized", false, "invalid payload: "+err.Error())
			return
		}
	}
	sess, err := c.createSession(ctx, p)
	if err != nil {
		c.sendAck("connectionInitialized", false, err.Error())
		return
	}

	c.mu.Lock()
	c.sess = sess
	c.systemPromptSent = false
	c.mu.Unlock()

	c.sendAck("connectionInitialized", true, "")
}

// ── Close paths ────────────────────────────────────────────────────────────────

// closeSession runs the graceful close sequence bounded by timeout, escalates
// to force close on failure, and always tells the client the session is gone.
func (c *connection) closeSession(timeout time.Duration, reason string) {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()
	if sess == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := sess.Shutdown(ctx); err != nil {
		slog.Warn("graceful close failed, forcing", "session_id", sess.ID(), "err", err)
		sess.ForceClose()
		reason = "forced"
	}
	c.srv.metrics.RecordSessionClose(context.Background(), reason)
	c.writeEvent("sessionClosed", struct{}{})
}

// onDisconnect tears down the session after the socket drops. The close
// sequence still runs so the model service sees a clean end of session.
func (c *connection) onDisconnect() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.mu.Unlock()

	if sess != nil {
		ctx, cancel := context.WithTimeout(context.Background(), disconnectTimeout)
		defer cancel()
		if err := sess.Shutdown(ctx); err != nil {
			sess.ForceClose()
			c.srv.metrics.RecordSessionClose(context.Background(), "forced")
		} else {
			c.srv.metrics.RecordSessionClose(context.Background(), "disconnect")
		}
	}

	c.cancel()
	_ = c.ws.CloseNow()
}

// ── Downstream relay ───────────────────────────────────────────────────────────

// relay forwards one downstream event to the client with the payload shape
// the model service produced, and keeps the chat history current.
func (c *connection) relay(ev protocol.DownstreamEvent) {
	switch ev.Kind {
	case protocol.KindUnknown:
		return

	case protocol.KindBargeIn:
		c.mu.Lock()
		c.markInterrupted()
		c.mu.Unlock()
		c.srv.metrics.BargeIns.Add(c.ctx, 1)
		c.writeRaw(string(protocol.KindBargeIn), ev.Raw)
		c.writeEvent("streamInterrupted", struct{}{})
		return

	case protocol.KindTextOutput:
		if ev.TextOutput != nil && !protocol.IsInterruptionMarker(ev.TextOutput.Content) {
			c.mu.Lock()
			c.appendTurn(ev.TextOutput.Role, ev.TextOutput.Content)
			c.mu.Unlock()
		}

	case protocol.KindError:
		if ev.Error != nil {
			c.srv.metrics.RecordStreamError(c.ctx, ev.Error.Type)
		}
	}

	c.writeRaw(string(ev.Kind), ev.Raw)
}

// ── Socket writes ──────────────────────────────────────────────────────────────

func (c *connection) sendAck(kind string, success bool, errMsg string) {
	c.writeEvent(kind, ackPayload{Success: success, Error: errMsg})
}

func (c *connection) sendError(message, details string) {
	c.writeEvent("error", map[string]string{
		"message": message,
		"details": details,
	})
}

func (c *connection) writeEvent(kind string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	c.writeRaw(kind, raw)
}

// writeRaw sends one {"event":{kind:payload}} frame. Write failures are
// terminal for the socket, so they are logged and otherwise ignored; the read
// loop observes the broken socket and runs the disconnect path.
func (c *connection) writeRaw(kind string, payload json.RawMessage) {
	frame, err := json.Marshal(map[string]map[string]json.RawMessage{
		"event": {kind: payload},
	})
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(c.ctx, writeTimeout)
	defer cancel()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.ws.Write(ctx, websocket.MessageText, frame); err != nil && c.ctx.Err() == nil {
		slog.Debug("client write failed", "kind", kind, "err", err)
	}
}

func (c *connection) session() *session.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sess
}

// decodeAudio accepts the two audioInput payload forms: a base64 JSON string
// or an object carrying base64 under audioData.
func decodeAudio(payload json.RawMessage) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("empty payload")
	}

	var s string
	if err := json.Unmarshal(payload, &s); err == nil {
		return decodeBase64(s)
	}

	var obj struct {
		AudioData string `json:"audioData"`
	}
	if err := json.Unmarshal(payload, &obj); err != nil || obj.AudioData == "" {
		return nil, fmt.Errorf("expected base64 string or {audioData}")
	}
	return decodeBase64(obj.AudioData)
}

func decodeBase64(s string) ([]byte, error) {
	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode base64 audio: %w", err)
	}
	return buf, nil
}
