// Package agentruntime hosts one specialist agent: it accepts gateway
// WebSocket connections (one connection per session), drives the voice
// bridge, executes tools, and emits transcripts and handoff requests.
//
// Session lifecycle: a connection starts Idle, becomes Configured when the
// gateway's session_init arrives (prompt composed, bridge configured),
// Streaming once the model stream opens, and Ended when either side closes
// or the bridge fails fatally. Teardown of the bridge is guaranteed on
// every exit path.
package agentruntime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/coder/websocket"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/voicemesh/voicemesh/internal/config"
	"github.com/voicemesh/voicemesh/internal/memory"
	"github.com/voicemesh/voicemesh/internal/observe"
	"github.com/voicemesh/voicemesh/internal/tools"
	"github.com/voicemesh/voicemesh/internal/workflow"
	"github.com/voicemesh/voicemesh/pkg/audio"
	"github.com/voicemesh/voicemesh/pkg/frame"
	"github.com/voicemesh/voicemesh/pkg/voice"
)

// readLimit bounds one inbound WebSocket frame. Audio chunks top out around
// 16 KiB (8192 samples); control frames are far smaller.
const readLimit = 1 << 20

// RuntimeConfig wires one agent process.
type RuntimeConfig struct {
	// AgentID is this agent's registry identifier.
	AgentID string

	// Mode selects voice, text, or hybrid conversation.
	Mode config.Mode

	// Persona is the agent's system prompt body. Falls back to the workflow
	// metadata persona when empty.
	Persona string

	// VoiceID selects the synthesis voice; the workflow's voiceId wins when
	// this is empty.
	VoiceID string

	// RuntimeARN optionally names a remote runtime for delegated tools.
	RuntimeARN string

	// Workflow is the agent's conversation graph. Required.
	Workflow *workflow.Definition

	// ToolDefs are the loaded tool definitions offered to the model.
	ToolDefs []tools.Definition

	// Executor runs tool invocations. Required.
	Executor *tools.Executor

	// NewBridge constructs one voice bridge per session. Required.
	NewBridge func() voice.Bridge

	// PhantomPatterns overrides the built-in phantom commitment table.
	PhantomPatterns []PhantomPattern

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Runtime hosts the agent's sessions. Safe for concurrent use.
type Runtime struct {
	cfg      RuntimeConfig
	persona  string
	voiceID  string
	patterns []PhantomPattern
	metrics  *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*session
}

// New validates cfg and creates a [Runtime].
func New(cfg RuntimeConfig) (*Runtime, error) {
	if cfg.AgentID == "" {
		return nil, errors.New("agentruntime: AgentID is required")
	}
	if cfg.Workflow == nil {
		return nil, errors.New("agentruntime: Workflow is required")
	}
	if cfg.Executor == nil {
		return nil, errors.New("agentruntime: Executor is required")
	}
	if cfg.NewBridge == nil {
		return nil, errors.New("agentruntime: NewBridge is required")
	}

	persona := cfg.Persona
	if persona == "" {
		persona = cfg.Workflow.Metadata.Persona
	}
	voiceID := cfg.VoiceID
	if voiceID == "" {
		voiceID = cfg.Workflow.VoiceID
	}
	patterns := cfg.PhantomPatterns
	if patterns == nil {
		patterns = defaultPhantomPatterns
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	return &Runtime{
		cfg:      cfg,
		persona:  persona,
		voiceID:  voiceID,
		patterns: patterns,
		metrics:  metrics,
		sessions: make(map[string]*session),
	}, nil
}

// NotifyMemoryUpdate implements [tools.MemoryNotifier]: tool side effects
// become update_memory frames on the owning session's gateway connection.
func (rt *Runtime) NotifyMemoryUpdate(sessionID string, fields map[string]any) {
	rt.mu.Lock()
	s := rt.sessions[sessionID]
	rt.mu.Unlock()
	if s == nil {
		slog.Warn("memory update for unknown session", "session_id", sessionID)
		return
	}
	s.sendControl(frame.Control{
		Type:      frame.TypeUpdateMemory,
		SessionID: sessionID,
		Memory:    fields,
		Timestamp: frame.Now(),
	})
}

// ServeHTTP upgrades the gateway connection and runs the session to
// completion. One connection carries exactly one session.
func (rt *Runtime) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		slog.Error("websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	if err := rt.handleConn(r.Context(), conn); err != nil &&
		websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
		slog.Error("session ended with error", "agent_id", rt.cfg.AgentID, "error", err)
		conn.Close(websocket.StatusInternalError, "session error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "session ended")
}

// handleConn waits for session_init, builds the session, and runs its pumps.
func (rt *Runtime) handleConn(ctx context.Context, conn *websocket.Conn) error {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return fmt.Errorf("read session_init: %w", err)
	}
	if typ != websocket.MessageText {
		return errors.New("first frame must be a session_init control frame")
	}
	init, err := frame.Decode(data)
	if err != nil || init.Type != frame.TypeSessionInit || init.SessionID == "" {
		writeControl(ctx, conn, frame.ErrorFrame("expected session_init with sessionId", ""))
		return errors.New("invalid session_init")
	}

	s := rt.newSession(init, conn)

	// A session id is held by at most one live connection.
	rt.mu.Lock()
	if _, live := rt.sessions[s.id]; live {
		rt.mu.Unlock()
		writeControl(ctx, conn, frame.ErrorFrame("session already active", s.id))
		return fmt.Errorf("duplicate session_init for session %s", s.id)
	}
	rt.sessions[s.id] = s
	rt.mu.Unlock()
	defer func() {
		rt.mu.Lock()
		delete(rt.sessions, s.id)
		rt.mu.Unlock()
	}()

	return s.run(ctx)
}

// newSession builds per-session state from the init frame's memory bag.
func (rt *Runtime) newSession(init frame.Control, conn *websocket.Conn) *session {
	bag := init.Memory
	eng := workflow.NewEngine(rt.cfg.Workflow)

	state := &tools.Session{
		AgentID:         rt.cfg.AgentID,
		UserIntent:      memory.StringField(bag, memory.KeyUserIntent),
		Verified:        memory.Verified(bag),
		UserName:        memory.StringField(bag, memory.KeyUserName),
		Account:         memory.StringField(bag, memory.KeyAccount),
		SortCode:        memory.StringField(bag, memory.KeySortCode),
		LastUserMessage: memory.StringField(bag, memory.KeyLastUserMessage),
	}
	if gs, ok := bag[memory.KeyGraphState].(map[string]any); ok {
		state.GraphState = gs
		if node, ok := gs["node"].(string); ok {
			eng.Restore(node)
		}
	}

	return &session{
		id:      init.SessionID,
		traceID: init.TraceID,
		rt:      rt,
		conn:    conn,
		bag:     bag,
		state:   state,
		engine:  eng,
		watcher: NewPhantomWatcher(rt.patterns),
	}
}

// session is one live conversation held by this agent.
type session struct {
	id      string
	traceID string
	rt      *Runtime
	conn    *websocket.Conn
	bridge  voice.Bridge
	bag     map[string]any
	state   *tools.Session
	engine  *workflow.Engine
	watcher *PhantomWatcher

	writeMu sync.Mutex
	cancel  context.CancelFunc
}

// run configures and starts the bridge, then pumps both directions until
// either side ends. The bridge is stopped on every exit path.
func (s *session) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.cancel = cancel

	rt := s.rt
	s.bridge = rt.cfg.NewBridge()

	prompt := ComposePrompt(s.bag, rt.persona, rt.cfg.ToolDefs, s.engine)
	if err := s.bridge.SetConfig(voice.Config{
		SystemPrompt: prompt,
		Tools:        tools.Specs(rt.cfg.ToolDefs),
		VoiceID:      rt.voiceID,
		RuntimeARN:   rt.cfg.RuntimeARN,
	}); err != nil {
		return fmt.Errorf("configure bridge: %w", err)
	}

	events, err := s.bridge.Start(ctx, s.id)
	if err != nil {
		s.sendControl(frame.ErrorFrame("voice stream unavailable", err.Error()))
		return fmt.Errorf("start bridge: %w", err)
	}
	defer s.bridge.Stop()

	rt.metrics.ActiveBridges.Add(ctx, 1)
	defer rt.metrics.ActiveBridges.Add(ctx, -1)

	slog.Info("session started",
		"agent_id", rt.cfg.AgentID,
		"session_id", s.id,
		"trace_id", s.traceID,
		"verified", s.state.Verified)

	// Inherited state is primed as a text turn: the model does not reread
	// the system prompt once the stream is open.
	if priming := PrimingMessage(s.bag); priming != "" {
		if err := s.bridge.SendText(priming); err != nil {
			slog.Warn("priming message failed", "session_id", s.id, "error", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.clientLoop(ctx) })
	g.Go(func() error { return s.modelLoop(ctx, events) })
	err = g.Wait()

	slog.Info("session ended", "agent_id", rt.cfg.AgentID, "session_id", s.id)
	if errors.Is(err, errSessionEnded) {
		return nil
	}
	return err
}

// errSessionEnded signals a clean, gateway-initiated end.
var errSessionEnded = errors.New("session ended")

// clientLoop pumps gateway frames into the bridge.
func (s *session) clientLoop(ctx context.Context) error {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("client read: %w", err)
		}

		if typ == websocket.MessageBinary {
			if s.rt.cfg.Mode == config.ModeText {
				continue
			}
			if err := s.bridge.SendAudio(audio.PadEven(data)); err != nil {
				return fmt.Errorf("forward audio: %w", err)
			}
			s.rt.metrics.AudioChunks.Add(ctx, 1,
				metric.WithAttributes(attribute.String("direction", "upstream")))
			continue
		}

		ctrl, err := frame.Decode(data)
		if err != nil {
			s.sendControl(frame.ErrorFrame("malformed control frame", err.Error()))
			continue
		}
		if !ctrl.Type.Known() {
			slog.Debug("ignoring unknown frame type", "type", ctrl.Type, "session_id", s.id)
			continue
		}

		switch ctrl.Type {
		case frame.TypeUserInput:
			if ctrl.Text == "" {
				continue
			}
			s.state.LastUserMessage = ctrl.Text
			if err := s.bridge.SendText(ctrl.Text); err != nil {
				return fmt.Errorf("forward text: %w", err)
			}
		case frame.TypeEndOfSpeech:
			if err := s.bridge.EndAudioInput(); err != nil {
				return fmt.Errorf("end audio input: %w", err)
			}
		case frame.TypePing:
			s.sendControl(frame.Control{Type: frame.TypePong, Timestamp: frame.Now()})
		case frame.TypeEndSession:
			return errSessionEnded
		default:
			slog.Debug("unexpected frame on agent connection", "type", ctrl.Type, "session_id", s.id)
		}
	}
}

// modelLoop translates bridge events into client frames and tool execution.
func (s *session) modelLoop(ctx context.Context, events <-chan voice.Event) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				return errSessionEnded
			}
			if err := s.handleEvent(ctx, evt); err != nil {
				return err
			}
		}
	}
}

// handleEvent processes one bridge event.
func (s *session) handleEvent(ctx context.Context, evt voice.Event) error {
	switch evt.Kind {
	case voice.EventAudio:
		if err := s.sendBinary(ctx, audio.PadEven(evt.Audio)); err != nil {
			return fmt.Errorf("forward downstream audio: %w", err)
		}
		s.rt.metrics.AudioChunks.Add(ctx, 1,
			metric.WithAttributes(attribute.String("direction", "downstream")))

	case voice.EventTranscript:
		t := evt.Transcript
		if t == nil {
			return nil
		}
		// Internal control turns never reach the client.
		if strings.HasPrefix(t.Text, "[SYSTEM:") {
			return nil
		}
		if t.Role == "user" && t.Final {
			s.state.LastUserMessage = t.Text
		}
		if t.Role == "assistant" {
			s.watcher.ObserveTranscript(t.Text)
		}
		s.sendControl(frame.Control{
			Type:      frame.TypeTranscript,
			SessionID: s.id,
			Role:      t.Role,
			Text:      t.Text,
			IsFinal:   frame.Bool(t.Final),
			Timestamp: frame.Now(),
		})

	case voice.EventToolUse:
		if evt.ToolUse != nil {
			s.handleToolUse(ctx, *evt.ToolUse)
		}

	case voice.EventMetadata:
		s.sendControl(frame.Control{
			Type:      frame.TypeMetadata,
			SessionID: s.id,
			Metadata:  evt.Metadata,
			Timestamp: frame.Now(),
		})

	case voice.EventInterruption:
		s.sendControl(frame.Control{
			Type:      frame.TypeInterruption,
			SessionID: s.id,
			Metadata:  evt.Metadata,
			Timestamp: frame.Now(),
		})

	case voice.EventUsage:
		if evt.Usage != nil {
			s.rt.metrics.RecordUsage(ctx, evt.Usage.InputTokens, evt.Usage.OutputTokens)
			s.sendControl(frame.Control{
				Type:         frame.TypeUsage,
				SessionID:    s.id,
				InputTokens:  evt.Usage.InputTokens,
				OutputTokens: evt.Usage.OutputTokens,
				TotalTokens:  evt.Usage.TotalTokens,
				Timestamp:    frame.Now(),
			})
		}

	case voice.EventSessionStart:
		s.sendControl(frame.Control{Type: frame.TypeSessionStart, SessionID: s.id, Timestamp: frame.Now()})
	case voice.EventContentStart:
		s.sendControl(frame.Control{Type: frame.TypeContentStart, SessionID: s.id, Timestamp: frame.Now()})
	case voice.EventContentEnd:
		s.sendControl(frame.Control{Type: frame.TypeContentEnd, SessionID: s.id, Timestamp: frame.Now()})

	case voice.EventTurnEnd:
		s.sendControl(frame.Control{Type: frame.TypeTurnEnd, SessionID: s.id, Timestamp: frame.Now()})
		if override, tool := s.watcher.EndTurn(); override != "" {
			slog.Warn("phantom action detected",
				"agent_id", s.rt.cfg.AgentID,
				"session_id", s.id,
				"expected_tool", tool)
			s.rt.metrics.RecordPhantomAction(ctx, s.rt.cfg.AgentID, tool)
			if err := s.bridge.SendText(override); err != nil {
				slog.Warn("phantom correction failed", "session_id", s.id, "error", err)
			}
		}

	case voice.EventError:
		msg := "voice stream error"
		if evt.Err != nil {
			msg = evt.Err.Error()
		}
		s.sendControl(frame.ErrorFrame(msg, ""))
		if evt.Fatal {
			return fmt.Errorf("fatal voice stream error: %s", msg)
		}
	}
	return nil
}

// handleToolUse executes one tool invocation and reports it everywhere it
// must go: tool_use and tool_result to the client, the result back to the
// model, and any handoff request to the gateway. Failures surface as
// tool_result{success:false}; the session continues.
func (s *session) handleToolUse(ctx context.Context, use voice.ToolUse) {
	s.watcher.ObserveToolUse(use.ToolName)
	s.advanceWorkflow(use.ToolName)

	s.sendControl(frame.Control{
		Type:      frame.TypeToolUse,
		SessionID: s.id,
		ToolName:  use.ToolName,
		ToolUseID: use.ToolUseID,
		Input:     use.Input,
		Timestamp: frame.Now(),
	})

	res := s.rt.cfg.Executor.Execute(ctx, tools.Request{
		SessionID: s.id,
		ToolName:  use.ToolName,
		ToolUseID: use.ToolUseID,
		Input:     use.Input,
		Session:   s.state,
	})

	status := "success"
	if !res.Success {
		status = "failure"
	}
	s.rt.metrics.RecordToolCall(ctx, use.ToolName, status)

	s.sendControl(frame.Control{
		Type:      frame.TypeToolResult,
		SessionID: s.id,
		ToolName:  use.ToolName,
		ToolUseID: use.ToolUseID,
		Success:   frame.Bool(res.Success),
		Result:    res.Result,
		Error:     res.Error,
		Timestamp: frame.Now(),
	})

	if hr := handoffRequestIn(res); hr != nil {
		s.sendControl(frame.Control{
			Type:          frame.TypeHandoffRequest,
			SessionID:     s.id,
			TargetAgentID: hr.TargetAgentID,
			Context:       hr.Context,
			GraphState:    hr.GraphState,
			Timestamp:     frame.Now(),
		})
	}

	payload := res.Result
	if !res.Success {
		payload = map[string]any{"error": res.Error}
	}
	if err := s.bridge.SendToolResult(use.ToolUseID, payload, !res.Success); err != nil {
		slog.Warn("tool result delivery to model failed",
			"session_id", s.id, "tool", use.ToolName, "error", err)
	}
}

// advanceWorkflow moves the graph position to the tool node matching the
// invoked tool, when the workflow declares one. Invalid transitions are
// logged, not enforced.
func (s *session) advanceWorkflow(toolName string) {
	for _, n := range s.rt.cfg.Workflow.Nodes {
		if n.Type != workflow.NodeTool || n.ToolName != toolName {
			continue
		}
		tr := s.engine.Transition(n.ID)
		if !tr.Valid {
			slog.Debug("workflow transition off the declared edges",
				"session_id", s.id, "from", tr.Previous, "to", tr.Current)
		}
		s.state.GraphState = map[string]any{"node": tr.Current}
		return
	}
}

// handoffRequestIn extracts a handoff request from a tool result, if any.
func handoffRequestIn(res tools.Result) *tools.HandoffRequest {
	if !res.Success {
		return nil
	}
	m, ok := res.Result.(map[string]any)
	if !ok {
		return nil
	}
	hr, ok := m["handoffRequest"].(tools.HandoffRequest)
	if !ok {
		return nil
	}
	return &hr
}

// sendControl writes one control frame to the gateway connection. Write
// failures are logged, not propagated — the read side notices the dead
// connection and ends the session.
func (s *session) sendControl(c frame.Control) {
	data, err := frame.Encode(c)
	if err != nil {
		slog.Error("encode control frame", "type", c.Type, "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.Write(context.Background(), websocket.MessageText, data); err != nil {
		slog.Debug("control frame write failed", "type", c.Type, "session_id", s.id, "error", err)
	}
}

// sendBinary writes one PCM16 frame to the gateway connection.
func (s *session) sendBinary(ctx context.Context, pcm []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.Write(ctx, websocket.MessageBinary, pcm)
}

// writeControl is the pre-session variant of sendControl.
func writeControl(ctx context.Context, conn *websocket.Conn, c frame.Control) {
	if data, err := frame.Encode(c); err == nil {
		_ = conn.Write(ctx, websocket.MessageText, data)
	}
}
