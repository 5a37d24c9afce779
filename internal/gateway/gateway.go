// Package gateway implements the session router: it terminates client
// WebSockets, binds each session to a specialist agent, proxies frames
// bidirectionally, owns the session memory store, and executes the handoff
// protocol that moves a live session between agents.
//
// The gateway is the sole writer to session memory; agents request updates
// by sending update_memory frames, which are merged here and never
// forwarded to the client.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/voicemesh/voicemesh/internal/memory"
	"github.com/voicemesh/voicemesh/internal/observe"
	"github.com/voicemesh/voicemesh/internal/registry"
	"github.com/voicemesh/voicemesh/pkg/audio"
	"github.com/voicemesh/voicemesh/pkg/frame"
)

// readLimit bounds one inbound WebSocket frame.
const readLimit = 1 << 20

// Config holds gateway tuning knobs. Zero values select the defaults.
type Config struct {
	// DefaultWorkflowID is bound when the client never sends
	// select_workflow. Default: "triage".
	DefaultWorkflowID string

	// KeepaliveIdle is how long a session may be silent before the gateway
	// pings the client. Default: 90s.
	KeepaliveIdle time.Duration

	// KeepaliveGrace is how long after the ping the gateway waits for any
	// client traffic before ending the session. Default: 30s.
	KeepaliveGrace time.Duration

	// DrainTimeout caps the handoff drain phase. Default: 2s.
	DrainTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if c.DefaultWorkflowID == "" {
		c.DefaultWorkflowID = "triage"
	}
	if c.KeepaliveIdle <= 0 {
		c.KeepaliveIdle = 90 * time.Second
	}
	if c.KeepaliveGrace <= 0 {
		c.KeepaliveGrace = 30 * time.Second
	}
	if c.DrainTimeout <= 0 {
		c.DrainTimeout = 2 * time.Second
	}
}

// Archiver receives conversation history for durable audit storage.
// [github.com/voicemesh/voicemesh/internal/archive.Store] satisfies it.
// Archive failures are logged and never interrupt a session.
type Archiver interface {
	RecordTranscript(ctx context.Context, sessionID, agentID, role, text string) error
	RecordHandoff(ctx context.Context, sessionID, from, to, reason string) error
}

// Dialer opens a WebSocket to an agent address. Replaceable in tests.
type Dialer func(ctx context.Context, addr string) (*websocket.Conn, error)

// defaultDialer dials the agent's session endpoint.
func defaultDialer(ctx context.Context, addr string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, "ws://"+addr+"/session", nil)
	return conn, err
}

// Server is the gateway router. Safe for concurrent use; sessions are
// independent and never block each other.
type Server struct {
	cfg      Config
	registry *registry.Registry
	store    memory.Store
	metrics  *observe.Metrics
	dial     Dialer
	arch     Archiver
}

// Option configures a [Server].
type Option func(*Server)

// WithDialer replaces the agent dialer.
func WithDialer(d Dialer) Option {
	return func(s *Server) { s.dial = d }
}

// WithMetrics replaces the default metrics instance.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithArchiver enables durable conversation archival.
func WithArchiver(a Archiver) Option {
	return func(s *Server) { s.arch = a }
}

// New creates a gateway [Server] over the given registry and memory store.
func New(reg *registry.Registry, store memory.Store, cfg Config, opts ...Option) *Server {
	cfg.applyDefaults()
	s := &Server{
		cfg:      cfg,
		registry: reg,
		store:    store,
		dial:     defaultDialer,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Registry returns the gateway-owned agent registry.
func (s *Server) Registry() *registry.Registry { return s.registry }

// ServeHTTP upgrades a client connection and runs the session until either
// side ends it.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("client websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(readLimit)

	sess := &proxySession{
		id:     uuid.NewString(),
		gw:     s,
		client: conn,
	}
	sess.touch()

	if err := sess.run(r.Context()); err != nil &&
		websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
		slog.Warn("session ended with error", "session_id", sess.id, "error", err)
		conn.Close(websocket.StatusInternalError, "session error")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "session ended")
}

// proxySession is one client conversation routed through the gateway.
type proxySession struct {
	id string
	gw *Server

	client        *websocket.Conn
	clientWriteMu sync.Mutex

	// agentMu guards the agent connection; held for the whole handoff so
	// client-side forwarding serialises against the swap.
	agentMu sync.Mutex
	agent   *websocket.Conn
	agentID string

	lastActivity atomic.Int64 // unix milliseconds
	pingedAt     atomic.Int64 // unix milliseconds, 0 when no ping pending
}

func (p *proxySession) touch() {
	p.lastActivity.Store(time.Now().UnixMilli())
	p.pingedAt.Store(0)
}

// run binds the session to its initial agent and pumps both directions.
func (p *proxySession) run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.sendClient(ctx, frame.Control{
		Type:      frame.TypeConnected,
		SessionID: p.id,
		Timestamp: frame.Now(),
	})

	workflowID, replay, err := p.awaitBinding(ctx)
	if err != nil {
		return err
	}

	agentID, ok := p.gw.registry.ResolveAlias(workflowID)
	if !ok || !p.gw.registry.IsAvailable(agentID) {
		p.sendClient(ctx, frame.ErrorFrame(
			fmt.Sprintf("no available agent for workflow %q", workflowID), ""))
		return fmt.Errorf("no available agent for workflow %q", workflowID)
	}
	if err := p.openAgent(ctx, agentID); err != nil {
		p.sendClient(ctx, frame.ErrorFrame("agent connection failed", err.Error()))
		return fmt.Errorf("open agent %s: %w", agentID, err)
	}
	defer p.closeAgent()

	p.gw.metrics.ActiveSessions.Add(ctx, 1)
	defer p.gw.metrics.ActiveSessions.Add(ctx, -1)

	slog.Info("session bound",
		"session_id", p.id, "workflow_id", workflowID, "agent_id", agentID)

	// Frames read during binding are forwarded before regular pumping,
	// through the same interception as the live client loop.
	for _, raw := range replay {
		data := raw.data
		if raw.typ == websocket.MessageBinary {
			data = audio.PadEven(data)
		} else if ctrl, err := frame.Decode(data); err == nil && ctrl.Type == frame.TypeUserInput {
			p.persistUserText(ctx, ctrl.Text)
		}
		if err := p.forwardToAgent(ctx, raw.typ, data); err != nil {
			return err
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.clientLoop(ctx) })
	g.Go(func() error { return p.agentLoop(ctx) })
	g.Go(func() error { return p.keepaliveLoop(ctx) })

	err = g.Wait()
	p.gw.store.Touch(context.Background(), p.id) // memory outlives the session until TTL
	slog.Info("session closed", "session_id", p.id)
	if errors.Is(err, errSessionDone) {
		return nil
	}
	return err
}

// errSessionDone marks a clean end from any side.
var errSessionDone = errors.New("session done")

// rawFrame is a frame buffered during the binding phase.
type rawFrame struct {
	typ  websocket.MessageType
	data []byte
}

// awaitBinding reads client frames until the initial agent can be resolved:
// select_workflow names the workflow, session_init adopts an explicit
// session id and seed memory, and anything else binds the default workflow
// with the frame replayed to the agent afterwards.
func (p *proxySession) awaitBinding(ctx context.Context) (string, []rawFrame, error) {
	for {
		typ, data, err := p.client.Read(ctx)
		if err != nil {
			return "", nil, fmt.Errorf("client read during binding: %w", err)
		}
		p.touch()

		if typ == websocket.MessageBinary {
			return p.gw.cfg.DefaultWorkflowID, []rawFrame{{typ, data}}, nil
		}

		ctrl, err := frame.Decode(data)
		if err != nil {
			p.sendClient(ctx, frame.ErrorFrame("malformed control frame", err.Error()))
			continue
		}
		switch ctrl.Type {
		case frame.TypeSelectWorkflow:
			if ctrl.WorkflowID == "" {
				p.sendClient(ctx, frame.ErrorFrame("select_workflow requires workflowId", ""))
				continue
			}
			return ctrl.WorkflowID, nil, nil
		case frame.TypeSessionInit:
			if ctrl.SessionID != "" {
				p.id = ctrl.SessionID
			}
			if len(ctrl.Memory) > 0 {
				p.putMemory(ctx, ctrl.Memory)
			}
			return p.gw.cfg.DefaultWorkflowID, nil, nil
		case frame.TypePing:
			p.sendClient(ctx, frame.Control{Type: frame.TypePong, Timestamp: frame.Now()})
		default:
			return p.gw.cfg.DefaultWorkflowID, []rawFrame{{typ, data}}, nil
		}
	}
}

// openAgent dials the agent and sends session_init with the session's full
// memory. Memory-store outages degrade to an empty bag.
func (p *proxySession) openAgent(ctx context.Context, agentID string) error {
	info, err := p.gw.registry.Lookup(agentID)
	if err != nil {
		return err
	}
	conn, err := p.gw.dial(ctx, info.Addr)
	if err != nil {
		return err
	}
	conn.SetReadLimit(readLimit)

	bag := p.getMemory(ctx)
	init, err := frame.Encode(frame.Control{
		Type:      frame.TypeSessionInit,
		SessionID: p.id,
		Memory:    bag,
		TraceID:   observe.CorrelationID(ctx),
		Timestamp: frame.Now(),
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encode failed")
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, init); err != nil {
		conn.Close(websocket.StatusInternalError, "init failed")
		return fmt.Errorf("send session_init: %w", err)
	}

	p.agentMu.Lock()
	p.agent = conn
	p.agentID = agentID
	p.agentMu.Unlock()
	return nil
}

func (p *proxySession) closeAgent() {
	p.agentMu.Lock()
	defer p.agentMu.Unlock()
	if p.agent != nil {
		p.agent.Close(websocket.StatusNormalClosure, "session ended")
		p.agent = nil
	}
}

// clientLoop pumps client frames to the current agent, intercepting the
// gateway-directed ones.
func (p *proxySession) clientLoop(ctx context.Context) error {
	for {
		typ, data, err := p.client.Read(ctx)
		if err != nil {
			return fmt.Errorf("client read: %w", err)
		}
		p.touch()

		if typ == websocket.MessageBinary {
			p.gw.metrics.AudioChunks.Add(ctx, 1,
				metric.WithAttributes(attribute.String("direction", "upstream")))
			if err := p.forwardToAgent(ctx, typ, audio.PadEven(data)); err != nil {
				return err
			}
			continue
		}

		ctrl, err := frame.Decode(data)
		if err != nil {
			p.sendClient(ctx, frame.ErrorFrame("malformed control frame", err.Error()))
			continue
		}
		if !ctrl.Type.Known() {
			slog.Debug("ignoring unknown frame type", "type", ctrl.Type, "session_id", p.id)
			continue
		}

		switch ctrl.Type {
		case frame.TypePing:
			p.sendClient(ctx, frame.Control{Type: frame.TypePong, Timestamp: frame.Now()})
		case frame.TypePong:
			// Keepalive answer; activity already recorded.
		case frame.TypeSelectWorkflow:
			slog.Debug("select_workflow after binding ignored", "session_id", p.id)
		case frame.TypeEndSession:
			return errSessionDone
		case frame.TypeUserInput:
			p.persistUserText(ctx, ctrl.Text)
			if err := p.forwardToAgent(ctx, typ, data); err != nil {
				return err
			}
		default:
			if err := p.forwardToAgent(ctx, typ, data); err != nil {
				return err
			}
		}
	}
}

// agentLoop pumps agent frames to the client, intercepting update_memory
// and handoff_request. Handoffs swap the agent connection in place.
func (p *proxySession) agentLoop(ctx context.Context) error {
	for {
		p.agentMu.Lock()
		conn := p.agent
		p.agentMu.Unlock()
		if conn == nil {
			return errSessionDone
		}

		typ, data, err := conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("agent read: %w", err)
		}

		if typ == websocket.MessageBinary {
			p.gw.metrics.AudioChunks.Add(ctx, 1,
				metric.WithAttributes(attribute.String("direction", "downstream")))
			if err := p.sendClientBinary(ctx, audio.PadEven(data)); err != nil {
				return err
			}
			continue
		}

		ctrl, err := frame.Decode(data)
		if err != nil {
			slog.Warn("malformed frame from agent", "session_id", p.id, "error", err)
			continue
		}

		switch ctrl.Type {
		case frame.TypeUpdateMemory:
			p.putMemory(ctx, ctrl.Memory)
		case frame.TypeHandoffRequest:
			if err := p.handleHandoff(ctx, ctrl); err != nil {
				return err
			}
		case frame.TypeTranscript:
			if ctrl.Role == "user" && frameFinal(ctrl) {
				p.persistUserText(ctx, ctrl.Text)
			}
			if frameFinal(ctrl) {
				p.archiveTranscript(ctx, ctrl.Role, ctrl.Text)
			}
			p.sendClientRaw(ctx, data)
		default:
			p.sendClientRaw(ctx, data)
		}
	}
}

// keepaliveLoop pings an idle client and ends the session when the grace
// window passes without any traffic.
func (p *proxySession) keepaliveLoop(ctx context.Context) error {
	tick := p.gw.cfg.KeepaliveIdle / 4
	if tick > time.Second {
		tick = time.Second
	}
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			idle := time.Duration(time.Now().UnixMilli()-p.lastActivity.Load()) * time.Millisecond
			pinged := p.pingedAt.Load()
			switch {
			case pinged != 0:
				grace := time.Duration(time.Now().UnixMilli()-pinged) * time.Millisecond
				if grace >= p.gw.cfg.KeepaliveGrace {
					slog.Info("keepalive expired, ending session", "session_id", p.id)
					return errSessionDone
				}
			case idle >= p.gw.cfg.KeepaliveIdle:
				p.pingedAt.Store(time.Now().UnixMilli())
				p.sendClient(ctx, frame.Control{Type: frame.TypePing, Timestamp: frame.Now()})
			}
		}
	}
}

// handleHandoff executes the handoff protocol. A refused handoff keeps the
// current agent active and emits an error to the client; only a failure to
// reach the validated successor ends the session.
func (p *proxySession) handleHandoff(ctx context.Context, req frame.Control) error {
	start := time.Now()
	from := p.agentID

	targetID, ok := p.gw.registry.ResolveAlias(req.TargetAgentID)
	if !ok || !p.gw.registry.IsAvailable(targetID) {
		slog.Warn("handoff refused",
			"session_id", p.id, "target", req.TargetAgentID, "resolved", targetID)
		p.gw.metrics.HandoffFailures.Add(ctx, 1,
			metric.WithAttributes(attribute.String("reason", "target_unavailable")))
		p.sendClient(ctx, frame.ErrorFrame(
			fmt.Sprintf("handoff target %q is not available", req.TargetAgentID), ""))
		return nil
	}

	// Memory is written before the successor's session_init is sent.
	p.putMemory(ctx, handoffMemoryPatch(from, req))

	p.agentMu.Lock()
	defer p.agentMu.Unlock()

	p.drainAgent(p.agent)
	p.agent = nil

	info, err := p.gw.registry.Lookup(targetID)
	if err != nil {
		p.sendClient(ctx, frame.ErrorFrame("handoff target vanished", err.Error()))
		return fmt.Errorf("handoff lookup %s: %w", targetID, err)
	}
	conn, err := p.gw.dial(ctx, info.Addr)
	if err != nil {
		p.sendClient(ctx, frame.ErrorFrame("handoff connection failed", err.Error()))
		return fmt.Errorf("handoff dial %s: %w", targetID, err)
	}
	conn.SetReadLimit(readLimit)

	init, err := frame.Encode(frame.Control{
		Type:      frame.TypeSessionInit,
		SessionID: p.id,
		Memory:    p.getMemory(ctx),
		TraceID:   observe.CorrelationID(ctx),
		Timestamp: frame.Now(),
	})
	if err != nil {
		conn.Close(websocket.StatusInternalError, "encode failed")
		return err
	}
	if err := conn.Write(ctx, websocket.MessageText, init); err != nil {
		conn.Close(websocket.StatusInternalError, "init failed")
		p.sendClient(ctx, frame.ErrorFrame("handoff initialisation failed", err.Error()))
		return fmt.Errorf("handoff session_init %s: %w", targetID, err)
	}

	p.agent = conn
	p.agentID = targetID

	p.sendClient(ctx, frame.Control{
		Type:      frame.TypeHandoffEvent,
		SessionID: p.id,
		From:      from,
		To:        targetID,
		Timestamp: frame.Now(),
	})
	p.gw.metrics.RecordHandoff(ctx, from, targetID)
	p.gw.metrics.HandoffDuration.Record(ctx, time.Since(start).Seconds())
	if p.gw.arch != nil {
		reason, _ := req.Context["reason"].(string)
		if err := p.gw.arch.RecordHandoff(ctx, p.id, from, targetID, reason); err != nil {
			slog.Warn("handoff archive dropped", "session_id", p.id, "error", err)
		}
	}
	slog.Info("handoff completed", "session_id", p.id, "from", from, "to", targetID)
	return nil
}

// archiveTranscript records a final transcript line when archival is on.
func (p *proxySession) archiveTranscript(ctx context.Context, role, text string) {
	if p.gw.arch == nil || text == "" {
		return
	}
	if err := p.gw.arch.RecordTranscript(ctx, p.id, p.agentID, role, text); err != nil {
		slog.Warn("transcript archive dropped", "session_id", p.id, "error", err)
	}
}

// drainAgent tells the old agent the session is over, forwards its last
// frames to the client for at most the drain timeout, and closes it.
func (p *proxySession) drainAgent(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), p.gw.cfg.DrainTimeout)
	defer cancel()

	if data, err := frame.Encode(frame.Control{
		Type:      frame.TypeEndSession,
		SessionID: p.id,
		Timestamp: frame.Now(),
	}); err == nil {
		_ = conn.Write(ctx, websocket.MessageText, data)
	}

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			break
		}
		if typ == websocket.MessageBinary {
			_ = p.sendClientBinary(ctx, audio.PadEven(data))
			continue
		}
		// Memory updates still land during the drain; the rest is dropped.
		if ctrl, err := frame.Decode(data); err == nil && ctrl.Type == frame.TypeUpdateMemory {
			p.putMemory(ctx, ctrl.Memory)
		}
	}
	conn.Close(websocket.StatusNormalClosure, "handed off")
}

// handoffMemoryPatch builds the memory write from a handoff request's
// context: the verified-user triple, routing breadcrumbs, and any partial
// credentials found in free-form fields.
func handoffMemoryPatch(fromAgent string, req frame.Control) map[string]any {
	patch := map[string]any{
		memory.KeyLastAgent: fromAgent,
	}
	ctxMap := req.Context
	if v, ok := ctxMap["verified"].(bool); ok && v {
		patch[memory.KeyVerified] = true
		for _, key := range []string{memory.KeyUserName, memory.KeyAccount, memory.KeySortCode} {
			if s, ok := ctxMap[key].(string); ok && s != "" {
				patch[key] = s
			}
		}
	}
	if reason, ok := ctxMap["reason"].(string); ok && reason != "" {
		patch[memory.KeyUserIntent] = reason
	}
	if summary, ok := ctxMap["summary"].(string); ok && summary != "" {
		patch["summary"] = summary
	}
	last, _ := ctxMap["lastUserMessage"].(string)
	if last != "" {
		patch[memory.KeyLastUserMessage] = last
	}
	if len(req.GraphState) > 0 {
		patch[memory.KeyGraphState] = req.GraphState
	}

	// Partial-credential carry-forward: free-form fields may hold one
	// credential even when verification never completed.
	scan := last
	if vars, ok := req.GraphState["variables"].(map[string]any); ok {
		for _, v := range vars {
			if s, ok := v.(string); ok {
				scan += " " + s
			}
		}
	}
	account, sortCode := scanCredentials(scan)
	if account != "" && patch[memory.KeyAccount] == nil {
		patch[memory.KeyAccount] = account
	}
	if sortCode != "" && patch[memory.KeySortCode] == nil {
		patch[memory.KeySortCode] = sortCode
	}
	return patch
}

// persistUserText stores the user's latest message and any credentials
// spotted in it.
func (p *proxySession) persistUserText(ctx context.Context, text string) {
	if text == "" {
		return
	}
	patch := map[string]any{memory.KeyLastUserMessage: text}
	if account, sortCode := scanCredentials(text); account != "" || sortCode != "" {
		if account != "" {
			patch[memory.KeyAccount] = account
		}
		if sortCode != "" {
			patch[memory.KeySortCode] = sortCode
		}
		slog.Info("credentials captured from user text", "session_id", p.id,
			"account_present", account != "", "sort_code_present", sortCode != "")
	}
	p.putMemory(ctx, patch)
}

// putMemory merges a patch, degrading with a warning when the store is
// unreachable.
func (p *proxySession) putMemory(ctx context.Context, patch map[string]any) {
	if len(patch) == 0 {
		return
	}
	if err := p.gw.store.Put(ctx, p.id, patch); err != nil {
		slog.Warn("session memory write dropped", "session_id", p.id, "error", err)
		p.gw.metrics.MemoryErrors.Add(ctx, 1)
	}
}

// getMemory reads the session bag, degrading to empty when the store is
// unreachable.
func (p *proxySession) getMemory(ctx context.Context) map[string]any {
	bag, err := p.gw.store.Get(ctx, p.id)
	if err != nil {
		slog.Warn("session memory read degraded to empty", "session_id", p.id, "error", err)
		p.gw.metrics.MemoryErrors.Add(ctx, 1)
		return map[string]any{}
	}
	return bag
}

// forwardToAgent writes one frame to the current agent connection.
func (p *proxySession) forwardToAgent(ctx context.Context, typ websocket.MessageType, data []byte) error {
	p.agentMu.Lock()
	conn := p.agent
	p.agentMu.Unlock()
	if conn == nil {
		return errSessionDone
	}
	if err := conn.Write(ctx, typ, data); err != nil {
		return fmt.Errorf("agent write: %w", err)
	}
	return nil
}

// sendClient writes one control frame to the client. Failures are logged;
// the read side notices a dead client.
func (p *proxySession) sendClient(ctx context.Context, c frame.Control) {
	data, err := frame.Encode(c)
	if err != nil {
		slog.Error("encode control frame", "type", c.Type, "error", err)
		return
	}
	p.sendClientRaw(ctx, data)
}

func (p *proxySession) sendClientRaw(ctx context.Context, data []byte) {
	p.clientWriteMu.Lock()
	defer p.clientWriteMu.Unlock()
	if err := p.client.Write(ctx, websocket.MessageText, data); err != nil {
		slog.Debug("client write failed", "session_id", p.id, "error", err)
	}
}

func (p *proxySession) sendClientBinary(ctx context.Context, pcm []byte) error {
	p.clientWriteMu.Lock()
	defer p.clientWriteMu.Unlock()
	return p.client.Write(ctx, websocket.MessageBinary, pcm)
}

// frameFinal reads the optional isFinal flag.
func frameFinal(c frame.Control) bool {
	return c.IsFinal != nil && *c.IsFinal
}
