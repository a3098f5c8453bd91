package session

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/voxgate/internal/protocol"
	"github.com/MrWong99/voxgate/pkg/modelstream"
	"github.com/MrWong99/voxgate/pkg/modelstream/mock"
	"github.com/MrWong99/voxgate/pkg/tool"
)

// testTimings shrinks all pacing delays so suites stay fast.
func testTimings() Timings {
	return Timings{
		AudioDrainWait:   time.Millisecond,
		PromptDrainWait:  time.Millisecond,
		SessionDrainWait: time.Millisecond,
		ToolEventPause:   time.Millisecond,
		ToolFinishPause:  time.Millisecond,
	}
}

// newTestManager builds a manager over a mock client serving the given
// streams in order.
func newTestManager(tools *tool.Registry, client *mock.Client, opts ...Option) *Manager {
	if tools == nil {
		tools = tool.NewRegistry()
	}
	models := modelstream.NewRegistry(func(_ context.Context, _ string) (modelstream.Client, error) {
		return client, nil
	})
	opts = append([]Option{WithTimings(testTimings())}, opts...)
	return NewManager(tools, models, opts...)
}

func testConfig() Config {
	return Config{
		Region:           "us-east-1",
		ModelID:          "amazon.nova-sonic-v1:0",
		Inference:        protocol.InferenceConfig{MaxTokens: 1024, TopP: 0.9, Temperature: 0.7},
		TurnDetection:    &protocol.TurnDetectionConfig{EndpointingSensitivity: "MEDIUM"},
		ToolChoice:       protocol.ToolChoiceAuto(),
		VoiceID:          "matthew",
		OutputSampleRate: 24000,
		InputSampleRate:  16000,
	}
}

// recorder captures dispatched events in arrival order.
type recorder struct {
	mu     sync.Mutex
	events []protocol.DownstreamEvent
}

func (r *recorder) handle(ev protocol.DownstreamEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) kinds() []protocol.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]protocol.Kind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}

func (r *recorder) find(kind protocol.Kind) (protocol.DownstreamEvent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, ev := range r.events {
		if ev.Kind == kind {
			return ev, true
		}
	}
	return protocol.DownstreamEvent{}, false
}

// waitFor polls cond until it holds or the deadline expires.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

// sentKinds decodes the envelope kind of every payload written to the stream.
func sentKinds(t *testing.T, stream *mock.Stream) []string {
	t.Helper()
	var kinds []string
	for _, payload := range stream.Sent() {
		var env map[string]map[string]json.RawMessage
		if err := json.Unmarshal(payload, &env); err != nil {
			t.Fatalf("sent payload not an envelope: %v\n%s", err, payload)
		}
		for k := range env["event"] {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// startActiveSession runs the full setup sequence against one mock stream and
// returns the streaming session.
func startActiveSession(t *testing.T, m *Manager, stream *mock.Stream) *Session {
	t.Helper()
	s, err := m.Create(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetupPromptStart("", 0); err != nil {
		t.Fatalf("SetupPromptStart: %v", err)
	}
	if err := s.SetupSystemPrompt("You are a helpful assistant."); err != nil {
		t.Fatalf("SetupSystemPrompt: %v", err)
	}
	if err := s.SetupStartAudio(); err != nil {
		t.Fatalf("SetupStartAudio: %v", err)
	}
	if err := s.InitiateStreaming(context.Background()); err != nil {
		t.Fatalf("InitiateStreaming: %v", err)
	}
	waitFor(t, func() bool { return len(stream.Sent()) >= 6 }, "setup preamble flush")
	return s
}

func TestSetupSequenceOrdersPreamble(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream()
	m := newTestManager(nil, mock.NewClient(stream))
	s := startActiveSession(t, m, stream)
	defer s.ForceClose()

	if got := s.State(); got != StateActive {
		t.Errorf("state = %v, want active", got)
	}

	want := []string{"sessionStart", "promptStart", "contentStart", "textInput", "contentEnd", "contentStart"}
	kinds := sentKinds(t, stream)
	if len(kinds) < len(want) {
		t.Fatalf("sent %v, want at least %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("event[%d] = %q, want %q (full: %v)", i, kinds[i], want[i], kinds)
		}
	}
}

func TestSetupRejectsOutOfOrderOperations(t *testing.T) {
	t.Parallel()

	m := newTestManager(nil, mock.NewClient())
	s, err := m.Create(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.ForceClose()

	if err := s.SetupSystemPrompt("hi"); !errors.Is(err, ErrInvalidState) {
		t.Errorf("systemPrompt before promptStart = %v, want ErrInvalidState", err)
	}
	if err := s.SetupStartAudio(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("audioStart before promptStart = %v, want ErrInvalidState", err)
	}
	if err := s.InitiateStreaming(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("initiateStreaming in initializing = %v, want ErrInvalidState", err)
	}

	if err := s.SetupPromptStart("", 0); err != nil {
		t.Fatalf("SetupPromptStart: %v", err)
	}
	if err := s.SetupSystemPrompt("   \n "); !errors.Is(err, ErrEmptyPrompt) {
		t.Errorf("blank prompt = %v, want ErrEmptyPrompt", err)
	}
	if err := s.SetupPromptStart("", 0); !errors.Is(err, ErrInvalidState) {
		t.Errorf("second promptStart = %v, want ErrInvalidState", err)
	}
}

func TestDuplicatePromptStartDoesNotRepeatPreamble(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream()
	m := newTestManager(nil, mock.NewClient(stream))
	s, err := m.Create(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.ForceClose()

	if err := s.SetupPromptStart("", 0); err != nil {
		t.Fatalf("SetupPromptStart: %v", err)
	}
	if err := s.SetupPromptStart("", 0); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second promptStart = %v, want ErrInvalidState", err)
	}
	if err := s.SetupStartAudio(); err != nil {
		t.Fatalf("SetupStartAudio: %v", err)
	}
	if err := s.InitiateStreaming(context.Background()); err != nil {
		t.Fatalf("InitiateStreaming: %v", err)
	}
	waitFor(t, func() bool { return len(stream.Sent()) >= 3 }, "preamble flush")

	counts := map[string]int{}
	for _, k := range sentKinds(t, stream) {
		counts[k]++
	}
	if counts["sessionStart"] != 1 || counts["promptStart"] != 1 {
		t.Errorf("sessionStart/promptStart sent %d/%d times, want 1/1 (kinds: %v)",
			counts["sessionStart"], counts["promptStart"], sentKinds(t, stream))
	}
}

func TestPromptStartOverrides(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream()
	m := newTestManager(nil, mock.NewClient(stream))
	s, err := m.Create(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.ForceClose()

	if err := s.SetupPromptStart("kiara", 8000); err != nil {
		t.Fatalf("SetupPromptStart: %v", err)
	}
	if err := s.SetupStartAudio(); err != nil {
		t.Fatalf("SetupStartAudio: %v", err)
	}
	if err := s.InitiateStreaming(context.Background()); err != nil {
		t.Fatalf("InitiateStreaming: %v", err)
	}
	waitFor(t, func() bool { return len(stream.Sent()) >= 2 }, "promptStart flush")

	var env struct {
		Event struct {
			PromptStart struct {
				AudioOutputConfiguration struct {
					VoiceID         string `json:"voiceId"`
					SampleRateHertz int    `json:"sampleRateHertz"`
				} `json:"audioOutputConfiguration"`
			} `json:"promptStart"`
		} `json:"event"`
	}
	if err := json.Unmarshal(stream.Sent()[1], &env); err != nil {
		t.Fatalf("decode promptStart: %v", err)
	}
	if env.Event.PromptStart.AudioOutputConfiguration.VoiceID != "kiara" {
		t.Errorf("voiceId = %q, want kiara", env.Event.PromptStart.AudioOutputConfiguration.VoiceID)
	}
	if env.Event.PromptStart.AudioOutputConfiguration.SampleRateHertz != 8000 {
		t.Errorf("sampleRateHertz = %d, want 8000", env.Event.PromptStart.AudioOutputConfiguration.SampleRateHertz)
	}
}

func TestToolRoundTrip(t *testing.T) {
	t.Parallel()

	tools := tool.NewRegistry()
	tools.Register(tool.Func{
		ToolName:        "search_knowledge_base",
		ToolDescription: "KB search",
		Schema:          tool.ObjectSchema(map[string]any{"query": map[string]any{"type": "string"}}, "query"),
		Fn: func(_ context.Context, params any, tc tool.Context) (any, error) {
			if q := tool.StringParam(params, "query"); q != "borewell pump" {
				return nil, errors.New("unexpected query " + q)
			}
			if tc.MaxTokens != 1024 {
				return nil, errors.New("inference settings not forwarded")
			}
			return map[string]any{"answer": "KS7, KS9, KP3S", "fromKnowledgeBase": true}, nil
		},
	})

	stream := mock.NewStream()
	m := newTestManager(tools, mock.NewClient(stream))
	s := startActiveSession(t, m, stream)
	defer s.ForceClose()

	rec := &recorder{}
	s.HandleAny(rec.handle)

	stream.Emit([]byte(`{"event":{"toolUse":{"toolUseId":"t-1","toolName":"search_knowledge_base","content":"{\"query\":\"borewell pump\"}"}}}`))
	stream.Emit([]byte(`{"event":{"contentEnd":{"type":"TOOL","stopReason":"TOOL_USE"}}}`))

	waitFor(t, func() bool {
		_, ok := rec.find(protocol.KindToolResult)
		return ok
	}, "tool result dispatch")

	ev, _ := rec.find(protocol.KindToolResult)
	if ev.ToolResult.ToolUseID != "t-1" {
		t.Errorf("ToolUseID = %q", ev.ToolResult.ToolUseID)
	}
	if ev.ToolResult.Error {
		t.Errorf("unexpected error result: %+v", ev.ToolResult.Result)
	}
	if ev.ToolResult.ExecutionTimeMs < 0 {
		t.Errorf("ExecutionTimeMs = %d", ev.ToolResult.ExecutionTimeMs)
	}

	// The upstream triple follows: contentStart(TOOL), toolResult, contentEnd.
	waitFor(t, func() bool {
		kinds := sentKinds(t, stream)
		for i, k := range kinds {
			if k == "toolResult" && i > 0 && kinds[i-1] == "contentStart" &&
				i+1 < len(kinds) && kinds[i+1] == "contentEnd" {
				return true
			}
		}
		return false
	}, "upstream tool result triple")

	// The toolResult payload must carry the sanitised JSON and the toolUseId
	// must ride on the triple's contentStart.
	var sawToolUseID bool
	for _, payload := range stream.Sent() {
		if strings.Contains(string(payload), `"toolUseId":"t-1"`) {
			sawToolUseID = true
		}
	}
	if !sawToolUseID {
		t.Error("tool result triple does not reference toolUseId t-1")
	}
}

func TestUnknownToolYieldsErrorResult(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream()
	m := newTestManager(nil, mock.NewClient(stream))
	s := startActiveSession(t, m, stream)
	defer s.ForceClose()

	rec := &recorder{}
	s.HandleAny(rec.handle)

	stream.Emit([]byte(`{"event":{"toolUse":{"toolUseId":"t-9","toolName":"not_a_tool","content":"{}"}}}`))
	stream.Emit([]byte(`{"event":{"contentEnd":{"type":"TOOL"}}}`))

	waitFor(t, func() bool {
		_, ok := rec.find(protocol.KindToolResult)
		return ok
	}, "tool result dispatch")

	ev, _ := rec.find(protocol.KindToolResult)
	if !ev.ToolResult.Error {
		t.Fatalf("expected error result, got %+v", ev.ToolResult)
	}
	res, ok := ev.ToolResult.Result.(map[string]any)
	if !ok || res["message"] != "Tool not supported" {
		t.Errorf("result = %+v", ev.ToolResult.Result)
	}
}

func TestBargeInPrecedesCarryingText(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream()
	m := newTestManager(nil, mock.NewClient(stream))
	s := startActiveSession(t, m, stream)
	defer s.ForceClose()

	rec := &recorder{}
	s.HandleAny(rec.handle)

	stream.Emit([]byte(`{"event":{"textOutput":{"role":"ASSISTANT","content":"{\"interrupted\":true}"}}}`))

	waitFor(t, func() bool {
		_, ok := rec.find(protocol.KindTextOutput)
		return ok
	}, "text dispatch")

	kinds := rec.kinds()
	bargeIdx, textIdx := -1, -1
	for i, k := range kinds {
		switch k {
		case protocol.KindBargeIn:
			if bargeIdx == -1 {
				bargeIdx = i
			}
		case protocol.KindTextOutput:
			if textIdx == -1 {
				textIdx = i
			}
		}
	}
	if bargeIdx == -1 {
		t.Fatalf("no bargeIn dispatched: %v", kinds)
	}
	if bargeIdx > textIdx {
		t.Errorf("bargeIn at %d after textOutput at %d", bargeIdx, textIdx)
	}
	if got := s.State(); got != StateActive {
		t.Errorf("state after barge-in = %v, want active", got)
	}
}

func TestStreamAudioOnlyWhileActive(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream()
	m := newTestManager(nil, mock.NewClient(stream))
	s, err := m.Create(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.ForceClose()

	// Before setup: silently ignored.
	if dropped := s.StreamAudio([]byte{1, 2}); dropped {
		t.Error("drop reported while inactive")
	}
	if s.audioIn.depth() != 0 {
		t.Errorf("chunk buffered while inactive, depth = %d", s.audioIn.depth())
	}

	if err := s.SetupPromptStart("", 0); err != nil {
		t.Fatalf("SetupPromptStart: %v", err)
	}
	if err := s.SetupStartAudio(); err != nil {
		t.Fatalf("SetupStartAudio: %v", err)
	}
	if err := s.InitiateStreaming(context.Background()); err != nil {
		t.Fatalf("InitiateStreaming: %v", err)
	}

	s.StreamAudio([]byte{3, 4})
	waitFor(t, func() bool {
		for _, k := range sentKinds(t, stream) {
			if k == "audioInput" {
				return true
			}
		}
		return false
	}, "audioInput emission")
}

func TestLazyTextStreaming(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream()
	m := newTestManager(nil, mock.NewClient(stream))
	s, err := m.Create(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.ForceClose()

	if err := s.SetupPromptStart("", 0); err != nil {
		t.Fatalf("SetupPromptStart: %v", err)
	}
	if err := s.SetupStartAudio(); err != nil {
		t.Fatalf("SetupStartAudio: %v", err)
	}

	// Streaming not initiated: SendTextInput starts it lazily.
	if err := s.SendTextInput(context.Background(), "hello"); err != nil {
		t.Fatalf("SendTextInput: %v", err)
	}
	if got := s.State(); got != StateActive {
		t.Errorf("state = %v, want active", got)
	}

	waitFor(t, func() bool {
		kinds := sentKinds(t, stream)
		n := 0
		for _, k := range kinds {
			if k == "textInput" {
				n++
			}
		}
		return n >= 1
	}, "text triple flush")
}

func TestShutdownRunsTerminalSequence(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream()
	m := newTestManager(nil, mock.NewClient(stream))
	s := startActiveSession(t, m, stream)

	if err := s.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	if got := s.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	waitFor(t, func() bool { return m.Count() == 0 }, "manager removal")
	waitFor(t, stream.Closed, "stream close")

	// The tail must close the audio block, the prompt, and the session in
	// order. The writer may still be flushing the final drain, so poll.
	terminalTail := func() []string {
		var tail []string
		for _, k := range sentKinds(t, stream) {
			switch k {
			case "contentEnd", "promptEnd", "sessionEnd":
				tail = append(tail, k)
			}
		}
		return tail
	}
	waitFor(t, func() bool {
		tail := terminalTail()
		return len(tail) >= 3 && tail[len(tail)-1] == "sessionEnd"
	}, "terminal event flush")
	tail := terminalTail()
	last3 := tail[len(tail)-3:]
	if last3[0] != "contentEnd" || last3[1] != "promptEnd" || last3[2] != "sessionEnd" {
		t.Errorf("terminal order = %v", last3)
	}

	// Post-close operations are inert.
	if dropped := s.StreamAudio([]byte{1}); dropped {
		t.Error("StreamAudio reported drop after close")
	}
	if err := s.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown = %v, want nil", err)
	}
}

func TestForceCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream()
	m := newTestManager(nil, mock.NewClient(stream))
	s := startActiveSession(t, m, stream)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.ForceClose()
		}()
	}
	wg.Wait()

	if got := s.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
	waitFor(t, func() bool { return m.Count() == 0 }, "manager removal")
	if !stream.Closed() {
		t.Error("stream not closed")
	}
}

func TestOpenStreamFailureFailsSetup(t *testing.T) {
	t.Parallel()

	client := mock.NewClient()
	client.OpenErr = errors.New("dial refused")
	m := newTestManager(nil, client)
	s, err := m.Create(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.ForceClose()

	rec := &recorder{}
	s.HandleAny(rec.handle)

	if err := s.SetupPromptStart("", 0); err != nil {
		t.Fatalf("SetupPromptStart: %v", err)
	}
	if err := s.SetupStartAudio(); err != nil {
		t.Fatalf("SetupStartAudio: %v", err)
	}
	if err := s.InitiateStreaming(context.Background()); err == nil {
		t.Fatal("expected error from InitiateStreaming")
	}

	if got := s.State(); got != StateClosing {
		t.Errorf("state = %v, want closing", got)
	}
	ev, ok := rec.find(protocol.KindError)
	if !ok {
		t.Fatal("no error event dispatched")
	}
	if ev.Error.Type != "setupFailure" {
		t.Errorf("error type = %q", ev.Error.Type)
	}
}

func TestStreamErrorSurfacesBeforeCompletion(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream()
	m := newTestManager(nil, mock.NewClient(stream), WithErrorClassifier(func(error) string {
		return "modelStreamErrorException"
	}))
	s := startActiveSession(t, m, stream)
	defer s.ForceClose()

	rec := &recorder{}
	s.HandleAny(rec.handle)

	stream.Finish(errors.New("connection reset"))

	waitFor(t, func() bool {
		_, ok := rec.find(protocol.KindStreamComplete)
		return ok
	}, "stream completion")

	kinds := rec.kinds()
	errIdx, doneIdx := -1, -1
	for i, k := range kinds {
		switch k {
		case protocol.KindError:
			errIdx = i
		case protocol.KindStreamComplete:
			doneIdx = i
		}
	}
	if errIdx == -1 {
		t.Fatalf("no error event: %v", kinds)
	}
	if errIdx > doneIdx {
		t.Errorf("error at %d after completion at %d", errIdx, doneIdx)
	}
	ev, _ := rec.find(protocol.KindError)
	if ev.Error.Source != "responseStream" {
		t.Errorf("error source = %q", ev.Error.Source)
	}
	if ev.Error.Type != "modelStreamErrorException" {
		t.Errorf("error type = %q", ev.Error.Type)
	}
}

func TestSendFailureRaisesRequestStreamError(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream()
	stream.SendErr = errors.New("broken pipe")
	client := mock.NewClient(stream)
	m := newTestManager(nil, client)

	s, err := m.Create(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.ForceClose()

	rec := &recorder{}
	s.HandleAny(rec.handle)

	if err := s.SetupPromptStart("", 0); err != nil {
		t.Fatalf("SetupPromptStart: %v", err)
	}
	if err := s.SetupStartAudio(); err != nil {
		t.Fatalf("SetupStartAudio: %v", err)
	}
	if err := s.InitiateStreaming(context.Background()); err != nil {
		t.Fatalf("InitiateStreaming: %v", err)
	}

	waitFor(t, func() bool {
		ev, ok := rec.find(protocol.KindError)
		return ok && ev.Error.Source == "requestStream"
	}, "request stream error")
}

func TestSweeperForceClosesIdleSessions(t *testing.T) {
	t.Parallel()

	stream := mock.NewStream()
	m := newTestManager(nil, mock.NewClient(stream),
		WithSweepInterval(5*time.Millisecond),
		WithIdleTimeout(10*time.Millisecond),
	)
	s := startActiveSession(t, m, stream)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	waitFor(t, func() bool { return m.Count() == 0 }, "idle sweep")
	if got := s.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

func TestCloseAllWithHungService(t *testing.T) {
	t.Parallel()

	hung := mock.NewStream()
	hung.BlockSend = make(chan struct{})
	m := newTestManager(nil, mock.NewClient(hung))
	s := startActiveSessionNoFlush(t, m)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = m.CloseAll(ctx)

	waitFor(t, func() bool { return m.Count() == 0 }, "close all drain")
	if got := s.State(); got != StateClosed {
		t.Errorf("state = %v, want closed", got)
	}
}

// startActiveSessionNoFlush runs the setup sequence without waiting for the
// preamble to reach the stream, for hung-service scenarios.
func startActiveSessionNoFlush(t *testing.T, m *Manager) *Session {
	t.Helper()
	s, err := m.Create(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SetupPromptStart("", 0); err != nil {
		t.Fatalf("SetupPromptStart: %v", err)
	}
	if err := s.SetupStartAudio(); err != nil {
		t.Fatalf("SetupStartAudio: %v", err)
	}
	if err := s.InitiateStreaming(context.Background()); err != nil {
		t.Fatalf("InitiateStreaming: %v", err)
	}
	return s
}

func TestDispatchObserverSeesEveryEvent(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	seen := make(map[protocol.Kind]int)
	stream := mock.NewStream()
	m := newTestManager(nil, mock.NewClient(stream),
		WithDispatchObserver(func(_ string, ev protocol.DownstreamEvent) {
			mu.Lock()
			seen[ev.Kind]++
			mu.Unlock()
		}),
	)
	s := startActiveSession(t, m, stream)
	defer s.ForceClose()

	stream.Emit([]byte(`{"event":{"textOutput":{"role":"ASSISTANT","content":"hi"}}}`))
	stream.Finish(nil)

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return seen[protocol.KindStreamComplete] > 0
	}, "observer completion")

	mu.Lock()
	defer mu.Unlock()
	if seen[protocol.KindTextOutput] == 0 {
		t.Errorf("observer missed textOutput: %v", seen)
	}
}
