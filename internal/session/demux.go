package session

import (
	"log/slog"
	"time"

	"github.com/MrWong99/voxgate/internal/protocol"
	"github.com/MrWong99/voxgate/pkg/modelstream"
)

// demuxLoop reads response frames until the downstream channel closes,
// parsing each into a tagged event and dispatching it. Events are dispatched
// strictly in arrival order; barge-in markers are surfaced before the text
// frame that carried them so clients can halt playback first.
func (s *Session) demuxLoop(stream modelstream.Stream) {
	for frame := range stream.Frames() {
		s.touch()

		ev, err := protocol.ParseFrame(frame)
		if err != nil {
			slog.Warn("undecodable downstream frame", "session_id", s.id, "err", err)
			continue
		}
		s.handleDownstream(ev)
	}

	// End of stream. A transport error becomes an error event; either way the
	// completion marker is the last event clients see from this stream.
	if err := stream.Err(); err != nil {
		s.dispatch(protocol.Synthetic(protocol.KindError, &protocol.ErrorOutput{
			Type:    s.classify(err),
			Source:  "responseStream",
			Details: err.Error(),
		}))
	}
	s.dispatch(protocol.Synthetic(protocol.KindStreamComplete, &protocol.StreamComplete{
		Timestamp: time.Now().UTC(),
	}))
}

// handleDownstream routes one parsed event. The switch is exhaustive over the
// kinds ParseFrame produces; anything else lands in the unknown arm and is
// still offered to the wildcard handler.
func (s *Session) handleDownstream(ev protocol.DownstreamEvent) {
	switch ev.Kind {
	case protocol.KindTextOutput:
		if protocol.IsInterruptionMarker(ev.TextOutput.Content) {
			s.dispatch(protocol.Synthetic(protocol.KindBargeIn, &protocol.BargeIn{Interrupted: true}))
		}
		s.dispatch(ev)

	case protocol.KindToolUse:
		s.mu.Lock()
		s.activeTool = &toolContext{
			id:      ev.ToolUse.ToolUseID,
			name:    ev.ToolUse.ToolName,
			content: ev.ToolUse.Content,
		}
		s.mu.Unlock()
		s.dispatch(ev)

	case protocol.KindContentEnd:
		if ev.ContentEnd.Type == string(protocol.ContentTypeTool) {
			s.mu.Lock()
			tc := s.activeTool
			s.activeTool = nil
			s.mu.Unlock()
			if tc != nil {
				go s.runTool(*tc)
			} else {
				slog.Warn("tool content end without pending tool use", "session_id", s.id)
			}
		}
		s.dispatch(ev)

	case protocol.KindError:
		// Errors are surfaced, never acted on: the owning connection decides
		// whether to close or retry.
		slog.Warn("model stream error event",
			"session_id", s.id, "type", ev.Error.Type, "details", ev.Error.Details)
		s.dispatch(ev)

	case protocol.KindContentStart, protocol.KindAudioOutput,
		protocol.KindCompletionStart, protocol.KindUsageEvent:
		s.dispatch(ev)

	case protocol.KindUnknown:
		s.dispatch(ev)

	default:
		s.dispatch(ev)
	}
}

// dispatch invokes the kind-specific handler and then the wildcard handler.
// Handlers run on the demux goroutine, preserving arrival order.
func (s *Session) dispatch(ev protocol.DownstreamEvent) {
	s.mu.Lock()
	h := s.handlers[ev.Kind]
	wild := s.anyHandler
	obs := s.onDispatch
	s.mu.Unlock()

	if obs != nil {
		obs(ev)
	}
	if h != nil {
		h(ev)
	}
	if wild != nil {
		wild(ev)
	}
}
