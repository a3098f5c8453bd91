package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxgate/internal/observe"
	"github.com/MrWong99/voxgate/internal/protocol"
	"github.com/MrWong99/voxgate/pkg/modelstream"
	"github.com/MrWong99/voxgate/pkg/tool"
)

const (
	defaultSweepInterval = time.Minute
	defaultIdleTimeout   = 5 * time.Minute

	// closeAllTimeout bounds the graceful close of every live session during
	// process shutdown before falling back to force close.
	closeAllTimeout = 5 * time.Second
)

// Timings groups the pacing delays of the session pipeline. Tests shrink
// these to keep suites fast.
type Timings struct {
	// AudioDrainWait follows the audio contentEnd so in-flight chunks flush.
	AudioDrainWait time.Duration
	// PromptDrainWait follows promptEnd.
	PromptDrainWait time.Duration
	// SessionDrainWait follows sessionEnd before teardown.
	SessionDrainWait time.Duration
	// ToolEventPause separates the events of a tool-result triple.
	ToolEventPause time.Duration
	// ToolFinishPause follows the triple's contentEnd.
	ToolFinishPause time.Duration
}

// DefaultTimings are the production pacing delays.
func DefaultTimings() Timings {
	return Timings{
		AudioDrainWait:   500 * time.Millisecond,
		PromptDrainWait:  300 * time.Millisecond,
		SessionDrainWait: 300 * time.Millisecond,
		ToolEventPause:   50 * time.Millisecond,
		ToolFinishPause:  100 * time.Millisecond,
	}
}

// Option configures a Manager.
type Option func(*Manager)

// WithSweepInterval overrides how often the idle sweeper runs.
func WithSweepInterval(d time.Duration) Option {
	return func(m *Manager) { m.sweepInterval = d }
}

// WithIdleTimeout overrides how long a session may sit without activity
// before the sweeper force-closes it.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

// WithTimings overrides the pipeline pacing delays.
func WithTimings(tm Timings) Option {
	return func(m *Manager) { m.timings = tm }
}

// WithErrorClassifier sets the function mapping transport errors to protocol
// error type names.
func WithErrorClassifier(fn func(error) string) Option {
	return func(m *Manager) { m.errKind = fn }
}

// WithDispatchObserver registers a callback invoked for every downstream
// event dispatched by any session. Used for metrics.
func WithDispatchObserver(fn func(sessionID string, ev protocol.DownstreamEvent)) Option {
	return func(m *Manager) { m.onDispatch = fn }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(met *observe.Metrics) Option {
	return func(m *Manager) { m.metrics = met }
}

// Manager owns every live session: creation, lookup, single-step removal,
// idle sweeping, and shutdown.
type Manager struct {
	tools  *tool.Registry
	models *modelstream.Registry

	sweepInterval time.Duration
	idleTimeout   time.Duration
	timings       Timings
	errKind       func(error) string
	onDispatch    func(sessionID string, ev protocol.DownstreamEvent)
	metrics       *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager wires a manager over the given tool catalogue and per-region
// model clients.
func NewManager(tools *tool.Registry, models *modelstream.Registry, opts ...Option) *Manager {
	m := &Manager{
		tools:         tools,
		models:        models,
		sweepInterval: defaultSweepInterval,
		idleTimeout:   defaultIdleTimeout,
		timings:       DefaultTimings(),
		metrics:       observe.DefaultMetrics(),
		sessions:      make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create builds a new session in the Initializing state, bound to the model
// client for its region.
func (m *Manager) Create(ctx context.Context, cfg Config) (*Session, error) {
	client, err := m.models.Client(ctx, cfg.Region)
	if err != nil {
		return nil, fmt.Errorf("session: resolve model client for region %q: %w", cfg.Region, err)
	}

	s := newSession(cfg, m.tools, client, m.timings, m.errKind, m.metrics)
	s.onRemove = func() { m.remove(s.id) }
	if m.onDispatch != nil {
		obs := m.onDispatch
		id := s.id
		s.onDispatch = func(ev protocol.DownstreamEvent) { obs(id, ev) }
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	n := len(m.sessions)
	m.mu.Unlock()

	m.metrics.ActiveSessions.Add(ctx, 1)
	slog.Info("session created", "session_id", s.id, "region", cfg.Region, "model", cfg.ModelID, "active", n)
	return s, nil
}

// Get returns the session with the given id, if live.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Count reports the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// remove detaches one session from the index. Removal happens in a single
// step so a concurrent lookup either sees the live session or nothing.
func (m *Manager) remove(id string) {
	m.mu.Lock()
	_, ok := m.sessions[id]
	delete(m.sessions, id)
	n := len(m.sessions)
	m.mu.Unlock()
	if ok {
		m.metrics.ActiveSessions.Add(context.Background(), -1)
		slog.Info("session removed", "session_id", id, "active", n)
	}
}

// Run drives the idle sweeper until ctx is cancelled. Sessions without
// activity past the idle timeout are force-closed; the sweep never blocks on
// a slow teardown.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

func (m *Manager) sweep() {
	cutoff := time.Now().Add(-m.idleTimeout)

	m.mu.Lock()
	var stale []*Session
	for _, s := range m.sessions {
		if s.LastActivity().Before(cutoff) {
			stale = append(stale, s)
		}
	}
	m.mu.Unlock()

	for _, s := range stale {
		slog.Warn("closing idle session", "session_id", s.id, "idle_since", s.LastActivity())
		go s.ForceClose()
	}
}

// CloseAll gracefully closes every live session, bounded by ctx and the
// close-all timeout. Sessions that do not finish in time are force-closed.
func (m *Manager) CloseAll(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	if len(all) == 0 {
		return nil
	}
	slog.Info("closing all sessions", "count", len(all))

	gctx, cancel := context.WithTimeout(ctx, closeAllTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(gctx)
	for _, s := range all {
		g.Go(func() error {
			if err := s.Shutdown(gctx); err != nil {
				s.ForceClose()
				return fmt.Errorf("session %s: %w", s.id, err)
			}
			return nil
		})
	}
	err := g.Wait()

	// Whatever survived the graceful pass goes down hard.
	m.mu.Lock()
	leftover := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		leftover = append(leftover, s)
	}
	m.mu.Unlock()
	for _, s := range leftover {
		s.ForceClose()
	}
	return err
}
