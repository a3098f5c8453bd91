// Package session implements the per-session bidirectional streaming
// orchestrator: the ordered upstream event queue, the downstream
// demultiplexer, the lifecycle state machine, the audio input pipeline, and
// the detached tool dispatcher.
//
// Every session owns four logical tasks once streaming starts: the writer
// loop serialising queued events onto the model stream, the demux loop
// reading response frames, the audio drainer converting buffered microphone
// chunks into audioInput events, and zero or more detached tool executions.
// All per-session state mutations go through the session mutex; downstream
// events are dispatched one at a time in arrival order.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/protocol"
	"github.com/MrWong99/voxgate/pkg/modelstream"
	"github.com/MrWong99/voxgate/pkg/tool"
)

// State is the lifecycle state of a session.
type State int

const (
	StateClosed State = iota
	StateInitializing
	StateReady
	StateActive
	StateClosing
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Sentinel errors for state-machine violations.
var (
	// ErrEmptyPrompt is returned when a blank system prompt is supplied.
	ErrEmptyPrompt = errors.New("session: system prompt must not be blank")

	// ErrInvalidState is returned when an operation arrives out of order.
	ErrInvalidState = errors.New("session: operation not valid in current state")

	// ErrClosed is returned for operations on a closed or removed session.
	ErrClosed = errors.New("session: closed")
)

// Config is the per-session configuration fixed at creation.
type Config struct {
	Region           string
	ModelID          string
	Inference        protocol.InferenceConfig
	TurnDetection    *protocol.TurnDetectionConfig
	ToolChoice       protocol.ToolChoice
	EnabledTools     []string
	VoiceID          string
	OutputSampleRate int
	InputSampleRate  int
}

// Handler consumes one downstream event.
type Handler func(protocol.DownstreamEvent)

// toolContext caches the most recent toolUse event until its closing
// contentEnd(TOOL) marker arrives.
type toolContext struct {
	id      string
	name    string
	content string
}

// Session is one client conversation bound to at most one model stream.
type Session struct {
	id             string
	promptName     string
	audioContentID string

	cfg       Config
	tools     *tool.Registry
	client    modelstream.Client
	tm        Timings
	metrics   *observe.Metrics
	createdAt time.Time

	mu                    sync.Mutex
	state                 State
	promptStartSent       bool
	audioContentStartSent bool
	audioContentEnded     bool
	promptEnded           bool
	cleanupInProgress     bool
	lastActivity          time.Time
	activeTool            *toolContext
	stream                modelstream.Stream
	handlers              map[protocol.Kind]Handler
	anyHandler            Handler

	queue   *eventQueue
	audioIn *audioQueue

	// closeCh is the session's close signal: the writer, drainer, and any
	// graceful wait observe it. Fired exactly once.
	closeCh   chan struct{}
	closeOnce sync.Once

	// ctx bounds all stream I/O; cancelled together with closeCh.
	ctx    context.Context
	cancel context.CancelFunc

	// errKind classifies transport errors into protocol error type names.
	errKind func(error) string

	// onRemove detaches the session from the manager's indices. Set once by
	// the manager; invoked from sendSessionEnd and forceClose.
	onRemove func()

	// onDispatch observes dispatched events for metrics. May be nil.
	onDispatch func(protocol.DownstreamEvent)
}

func newSession(cfg Config, tools *tool.Registry, client modelstream.Client, tm Timings, errKind func(error) string, met *observe.Metrics) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		id:             uuid.NewString(),
		promptName:     uuid.NewString(),
		audioContentID: uuid.NewString(),
		cfg:            cfg,
		tools:          tools,
		client:         client,
		tm:             tm,
		metrics:        met,
		createdAt:      time.Now(),
		state:          StateInitializing,
		lastActivity:   time.Now(),
		handlers:       make(map[protocol.Kind]Handler),
		queue:          newEventQueue(),
		audioIn:        newAudioQueue(),
		closeCh:        make(chan struct{}),
		ctx:            ctx,
		cancel:         cancel,
		errKind:        errKind,
	}
}

// ID returns the opaque session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastActivity returns the time of the last upstream enqueue or downstream
// receive.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// Handle registers the handler for one event kind, replacing any previous
// one. Register handlers before InitiateStreaming.
func (s *Session) Handle(kind protocol.Kind, h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[kind] = h
}

// HandleAny registers the wildcard handler invoked for every dispatched
// event in addition to its kind-specific handler.
func (s *Session) HandleAny(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.anyHandler = h
}

// touch stamps lastActivity.
func (s *Session) touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// enqueue appends ev to the upstream queue if the session still accepts
// events. Once Closing, only the terminal trio passes; after Closed nothing
// does. Per the queue contract this fails silently.
func (s *Session) enqueue(ev protocol.Event, terminal bool) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return
	case StateClosing:
		if !terminal {
			s.mu.Unlock()
			return
		}
	}
	s.lastActivity = time.Now()
	s.mu.Unlock()

	s.queue.push(ev)
}

// ── Setup sequence ─────────────────────────────────────────────────────────────

// SetupPromptStart enqueues sessionStart followed by promptStart carrying the
// session's tool catalogue. A non-empty voiceID or non-zero outputSampleRate
// overrides the session default before the prompt is declared.
func (s *Session) SetupPromptStart(voiceID string, outputSampleRate int) error {
	s.mu.Lock()
	if s.state != StateInitializing || s.promptStartSent {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: promptStart in %s", ErrInvalidState, st)
	}
	if voiceID != "" {
		s.cfg.VoiceID = voiceID
	}
	if outputSampleRate > 0 {
		s.cfg.OutputSampleRate = outputSampleRate
	}
	s.promptStartSent = true
	s.mu.Unlock()

	specs := s.tools.Specs(s.cfg.EnabledTools)
	toolSpecs := make([]protocol.ToolSpec, 0, len(specs))
	for _, sp := range specs {
		toolSpecs = append(toolSpecs, protocol.NewToolSpec(sp.Name, sp.Description, sp.SchemaJSON))
	}

	s.enqueue(protocol.SessionStart(s.cfg.Inference, s.cfg.TurnDetection), false)
	s.enqueue(protocol.PromptStart(s.promptName, s.cfg.VoiceID, s.cfg.OutputSampleRate, toolSpecs, s.cfg.ToolChoice), false)
	return nil
}

// SetupSystemPrompt enqueues the SYSTEM TEXT content triple. The prompt text
// must be non-blank.
func (s *Session) SetupSystemPrompt(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyPrompt
	}
	s.mu.Lock()
	if s.state != StateInitializing || !s.promptStartSent {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: systemPrompt in %s", ErrInvalidState, st)
	}
	s.mu.Unlock()

	contentName := uuid.NewString()
	s.enqueue(protocol.TextContentStart(s.promptName, contentName, protocol.RoleSystem), false)
	s.enqueue(protocol.TextInput(s.promptName, contentName, text), false)
	s.enqueue(protocol.ContentEnd(s.promptName, contentName), false)
	return nil
}

// SetupStartAudio opens the user-audio content block and moves the session to
// Ready. It must follow SetupPromptStart.
func (s *Session) SetupStartAudio() error {
	s.mu.Lock()
	if s.state != StateInitializing {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: audioStart in %s", ErrInvalidState, st)
	}
	if !s.promptStartSent {
		s.mu.Unlock()
		return fmt.Errorf("%w: audioStart before promptStart", ErrInvalidState)
	}
	s.audioContentStartSent = true
	s.state = StateReady
	s.mu.Unlock()

	rate := s.cfg.InputSampleRate
	if rate == 0 {
		rate = 16000
	}
	s.enqueue(protocol.AudioContentStart(s.promptName, s.audioContentID, rate), false)
	return nil
}

// InitiateStreaming opens the duplex stream to the model service and starts
// the writer, demux, and audio drainer loops. The preamble enqueued during
// setup is flushed first because the writer drains strictly in order.
func (s *Session) InitiateStreaming(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateReady {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: initiateStreaming in %s", ErrInvalidState, st)
	}
	s.mu.Unlock()

	stream, err := s.client.OpenStream(ctx, s.cfg.ModelID)
	if err != nil {
		s.failSetup(err)
		return fmt.Errorf("session %s: open model stream: %w", s.id, err)
	}

	s.mu.Lock()
	if s.state != StateReady {
		// Closed while dialling.
		s.mu.Unlock()
		_ = stream.Close()
		return ErrClosed
	}
	s.stream = stream
	s.state = StateActive
	s.mu.Unlock()

	go s.writerLoop(stream)
	go s.demuxLoop(stream)
	go s.audioLoop()

	slog.Debug("session streaming", "session_id", s.id, "model", s.cfg.ModelID, "region", s.cfg.Region)
	return nil
}

// failSetup moves the session to Closing and raises an error event. Used
// when any setup step fails mid-sequence.
func (s *Session) failSetup(err error) {
	s.mu.Lock()
	if s.state != StateClosed {
		s.state = StateClosing
	}
	s.mu.Unlock()

	s.dispatch(protocol.Synthetic(protocol.KindError, &protocol.ErrorOutput{
		Type:    "setupFailure",
		Details: err.Error(),
	}))
}

// ── Live input ─────────────────────────────────────────────────────────────────

// StreamAudio buffers one PCM16 chunk for upstream delivery. Chunks arriving
// while the session is not Active, or before the audio content block opened,
// are dropped silently. Reports whether the backpressure queue discarded an
// older chunk to make room.
func (s *Session) StreamAudio(buf []byte) (dropped bool) {
	s.mu.Lock()
	ok := s.state == StateActive && s.audioContentStartSent && !s.audioContentEnded
	s.mu.Unlock()
	if !ok {
		return false
	}
	return s.audioIn.push(buf)
}

// SendTextInput enqueues a fresh USER TEXT content triple. When the session
// is still Ready (streaming not yet initiated), streaming is started lazily
// so a pure-text conversation needs no audio preamble.
func (s *Session) SendTextInput(ctx context.Context, text string) error {
	if s.State() == StateReady {
		if err := s.InitiateStreaming(ctx); err != nil {
			return err
		}
	}
	if s.State() != StateActive {
		return fmt.Errorf("%w: textInput in %s", ErrInvalidState, s.State())
	}

	contentName := uuid.NewString()
	s.enqueue(protocol.TextContentStart(s.promptName, contentName, protocol.RoleUser), false)
	s.enqueue(protocol.TextInput(s.promptName, contentName, text), false)
	s.enqueue(protocol.ContentEnd(s.promptName, contentName), false)
	return nil
}

// ── Graceful close sequence ────────────────────────────────────────────────────

// EndAudioContent closes the user-audio content block, then waits briefly so
// the serialiser can drain. A no-op when the block never opened or already
// closed, keeping the at-most-one-contentEnd invariant.
func (s *Session) EndAudioContent(ctx context.Context) error {
	s.mu.Lock()
	if !s.audioContentStartSent || s.audioContentEnded {
		s.mu.Unlock()
		return nil
	}
	s.audioContentEnded = true
	s.mu.Unlock()

	s.enqueue(protocol.ContentEnd(s.promptName, s.audioContentID), true)
	return s.wait(ctx, s.tm.AudioDrainWait)
}

// EndPrompt closes the prompt if promptStart was sent.
func (s *Session) EndPrompt(ctx context.Context) error {
	s.mu.Lock()
	if !s.promptStartSent || s.promptEnded {
		s.mu.Unlock()
		return nil
	}
	s.promptEnded = true
	s.mu.Unlock()

	s.enqueue(protocol.PromptEnd(s.promptName), true)
	return s.wait(ctx, s.tm.PromptDrainWait)
}

// SendSessionEnd enqueues the terminal sessionEnd event, waits for drain,
// fires the close signal, and removes the session from all indices.
func (s *Session) SendSessionEnd(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosing
	s.mu.Unlock()

	s.enqueue(protocol.SessionEnd(), true)
	err := s.wait(ctx, s.tm.SessionDrainWait)
	s.teardown()
	return err
}

// Shutdown runs the full graceful close sequence bounded by ctx:
// endAudioContent, endPrompt, sessionEnd. On ctx expiry the caller should
// escalate to ForceClose.
func (s *Session) Shutdown(ctx context.Context) error {
	if err := s.EndAudioContent(ctx); err != nil {
		return err
	}
	if err := s.EndPrompt(ctx); err != nil {
		return err
	}
	return s.SendSessionEnd(ctx)
}

// ForceClose immediately deactivates the session: no upstream emission, close
// signal fired, stream torn down, indices cleaned. Idempotent — a second call
// is a no-op.
func (s *Session) ForceClose() {
	s.mu.Lock()
	if s.cleanupInProgress {
		s.mu.Unlock()
		return
	}
	s.cleanupInProgress = true
	s.mu.Unlock()

	slog.Debug("session force close", "session_id", s.id)
	s.teardown()
}

// teardown is the single exit path shared by graceful and forced close. It
// marks the session Closed, fires the close signal, closes the stream, and
// removes the session from the manager's indices in one step so late
// callbacks observing removal can short-circuit.
func (s *Session) teardown() {
	s.mu.Lock()
	s.state = StateClosed
	stream := s.stream
	s.stream = nil
	remove := s.onRemove
	s.onRemove = nil
	s.mu.Unlock()

	s.closeOnce.Do(func() {
		close(s.closeCh)
		s.cancel()
		s.metrics.SessionDuration.Record(context.Background(), time.Since(s.createdAt).Seconds())
	})
	if stream != nil {
		_ = stream.Close()
	}
	if remove != nil {
		remove()
	}
}

// wait sleeps for d or until ctx/close interrupts. The drain waits in the
// close sequence are best-effort pacing, so interruption is not an error
// unless the caller's deadline expired.
func (s *Session) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-s.closeCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ── Background loops ───────────────────────────────────────────────────────────

// writerLoop drains the upstream queue onto the model stream in strict FIFO
// order. It terminates when the close signal fires and the queue is empty, or
// when a send fails.
func (s *Session) writerLoop(stream modelstream.Stream) {
	for {
		ev, ok := s.queue.next(s.closeCh)
		if !ok {
			_ = stream.CloseSend()
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			slog.Error("serialise upstream event", "session_id", s.id, "kind", ev.Kind, "err", err)
			continue
		}
		if err := stream.Send(s.ctx, data); err != nil {
			if s.ctx.Err() == nil {
				slog.Warn("upstream send failed", "session_id", s.id, "kind", ev.Kind, "err", err)
				s.dispatch(protocol.Synthetic(protocol.KindError, &protocol.ErrorOutput{
					Type:    s.classify(err),
					Source:  "requestStream",
					Details: err.Error(),
				}))
			}
			return
		}
		s.metrics.RecordUpstreamEvent(s.ctx, string(ev.Kind))
	}
}

// audioLoop drains buffered microphone chunks in small batches and enqueues
// them as audioInput events referencing the session's audio content block.
func (s *Session) audioLoop() {
	for {
		batch, ok := s.audioIn.nextBatch(s.closeCh)
		if !ok {
			return
		}
		for _, chunk := range batch {
			s.enqueue(protocol.AudioInput(s.promptName, s.audioContentID, chunk), false)
		}
	}
}

func (s *Session) classify(err error) string {
	if s.errKind != nil {
		return s.errKind(err)
	}
	return "internalServerException"
}
