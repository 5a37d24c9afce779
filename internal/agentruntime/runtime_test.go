package agentruntime_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/voicemesh/voicemesh/internal/agentruntime"
	"github.com/voicemesh/voicemesh/internal/config"
	"github.com/voicemesh/voicemesh/internal/memory"
	"github.com/voicemesh/voicemesh/internal/observe"
	"github.com/voicemesh/voicemesh/internal/tools"
	"github.com/voicemesh/voicemesh/internal/workflow"
	"github.com/voicemesh/voicemesh/pkg/frame"
	"github.com/voicemesh/voicemesh/pkg/voice"
	voicemock "github.com/voicemesh/voicemesh/pkg/voice/mock"
)

const bankingWorkflowJSON = `{
	"id": "banking", "name": "Banking",
	"nodes": [
		{"id": "n0", "type": "start", "label": "Greet"},
		{"id": "n1", "type": "tool", "label": "Balance", "toolName": "agentcore_balance"},
		{"id": "n2", "type": "end", "label": "Done", "outcome": "served"}
	],
	"edges": [
		{"from": "n0", "to": "n1"},
		{"from": "n1", "to": "n2"}
	],
	"voiceId": "matthew",
	"metadata": {"persona": "You are the banking specialist. Use the section above."}
}`

// testHarness bundles a running runtime, its mock bridge, and a connected
// gateway-side WebSocket.
type testHarness struct {
	bridge *voicemock.Bridge
	conn   *websocket.Conn
}

func newHarness(t *testing.T, init frame.Control) *testHarness {
	t.Helper()

	def, err := workflow.Parse([]byte(bankingWorkflowJSON))
	if err != nil {
		t.Fatal(err)
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(sdkmetric.NewManualReader()))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatal(err)
	}

	bridge := voicemock.New()
	rt, err := agentruntime.New(agentruntime.RuntimeConfig{
		AgentID:   "persona-SimpleBanking",
		Mode:      config.ModeVoice,
		Workflow:  def,
		Executor:  tools.NewExecutor("persona-SimpleBanking", "http://unused", nil),
		NewBridge: func() voice.Bridge { return bridge },
		Metrics:   metrics,
	})
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewServer(rt)
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "test done") })

	h := &testHarness{bridge: bridge, conn: conn}
	h.sendControl(t, init)
	return h
}

func (h *testHarness) sendControl(t *testing.T, c frame.Control) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	data, err := frame.Encode(c)
	if err != nil {
		t.Fatal(err)
	}
	if err := h.conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatalf("write control: %v", err)
	}
}

// readControl reads frames until a control frame arrives.
func (h *testHarness) readControl(t *testing.T) frame.Control {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		typ, data, err := h.conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		c, err := frame.Decode(data)
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		return c
	}
}

// readBinary reads frames until a binary frame arrives.
func (h *testHarness) readBinary(t *testing.T) []byte {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		typ, data, err := h.conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if typ == websocket.MessageBinary {
			return data
		}
	}
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestSessionInit_ConfiguresAndPrimes(t *testing.T) {
	t.Parallel()
	h := newHarness(t, frame.Control{
		Type:      frame.TypeSessionInit,
		SessionID: "s-1",
		Memory: map[string]any{
			memory.KeyVerified:   true,
			memory.KeyUserName:   "Sarah Johnson",
			memory.KeyUserIntent: "check balance",
		},
	})

	waitFor(t, func() bool {
		return h.bridge.Config().SystemPrompt != ""
	}, "bridge never configured")

	cfg := h.bridge.Config()
	if !strings.Contains(cfg.SystemPrompt, "banking specialist") {
		t.Errorf("persona missing from prompt")
	}
	if !strings.Contains(cfg.SystemPrompt, "Sarah Johnson") {
		t.Errorf("context block missing from prompt")
	}
	if strings.Index(cfg.SystemPrompt, "Sarah Johnson") > strings.Index(cfg.SystemPrompt, "banking specialist") {
		t.Error("context block must precede the persona")
	}
	if cfg.VoiceID != "matthew" {
		t.Errorf("voice id = %q, want workflow voiceId", cfg.VoiceID)
	}

	waitFor(t, func() bool {
		return len(h.bridge.SentTexts()) > 0
	}, "priming message never sent")
	priming := h.bridge.SentTexts()[0]
	if !strings.HasPrefix(priming, "[SYSTEM CONTEXT] ") || !strings.Contains(priming, "check balance") {
		t.Errorf("priming = %q", priming)
	}
}

func TestClientAudio_PaddedAndForwarded(t *testing.T) {
	t.Parallel()
	h := newHarness(t, frame.Control{Type: frame.TypeSessionInit, SessionID: "s-2"})
	waitFor(t, func() bool { return h.bridge.Config().SystemPrompt != "" }, "bridge never configured")

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := h.conn.Write(ctx, websocket.MessageBinary, make([]byte, 321)); err != nil {
		t.Fatal(err)
	}

	waitFor(t, func() bool { return len(h.bridge.SentAudio()) > 0 }, "audio never forwarded")
	if got := len(h.bridge.SentAudio()[0]); got != 322 {
		t.Errorf("forwarded %d bytes, want padded 322", got)
	}
}

func TestTextInputAndEndOfSpeech(t *testing.T) {
	t.Parallel()
	h := newHarness(t, frame.Control{Type: frame.TypeSessionInit, SessionID: "s-3"})
	waitFor(t, func() bool { return h.bridge.Config().SystemPrompt != "" }, "bridge never configured")

	h.sendControl(t, frame.Control{Type: frame.TypeUserInput, Text: "what is my balance"})
	h.sendControl(t, frame.Control{Type: frame.TypeUserInput, Text: ""}) // ignored
	h.sendControl(t, frame.Control{Type: frame.TypeEndOfSpeech})

	waitFor(t, func() bool { return h.bridge.AudioEnds() > 0 }, "end of speech never forwarded")
	texts := h.bridge.SentTexts()
	if len(texts) != 1 || texts[0] != "what is my balance" {
		t.Errorf("texts = %v", texts)
	}
}

func TestModelAudio_PaddedDownstream(t *testing.T) {
	t.Parallel()
	h := newHarness(t, frame.Control{Type: frame.TypeSessionInit, SessionID: "s-4"})
	waitFor(t, func() bool { return h.bridge.Config().SystemPrompt != "" }, "bridge never configured")

	h.bridge.Emit(voice.Event{Kind: voice.EventAudio, Audio: make([]byte, 2049)})
	if got := len(h.readBinary(t)); got != 2050 {
		t.Errorf("client received %d bytes, want 2050", got)
	}
}

func TestTranscripts_ForwardedAndFiltered(t *testing.T) {
	t.Parallel()
	h := newHarness(t, frame.Control{Type: frame.TypeSessionInit, SessionID: "s-5"})
	waitFor(t, func() bool { return h.bridge.Config().SystemPrompt != "" }, "bridge never configured")

	h.bridge.Emit(voice.Event{Kind: voice.EventTranscript, Transcript: &voice.Transcript{
		Role: "user", Text: "[SYSTEM: internal marker]", Final: true,
	}})
	h.bridge.Emit(voice.Event{Kind: voice.EventTranscript, Transcript: &voice.Transcript{
		Role: "assistant", Text: "Hello Sarah!", Final: true,
	}})

	c := h.readControl(t)
	if c.Type != frame.TypeTranscript || c.Text != "Hello Sarah!" {
		t.Errorf("first visible frame = %+v, system-marked transcript must be filtered", c)
	}
	if c.Role != "assistant" || c.IsFinal == nil || !*c.IsFinal {
		t.Errorf("transcript frame = %+v", c)
	}
}

func TestToolUse_HandoffFlow(t *testing.T) {
	t.Parallel()
	h := newHarness(t, frame.Control{
		Type:      frame.TypeSessionInit,
		SessionID: "s-6",
		Memory:    map[string]any{memory.KeyUserIntent: "check balance"},
	})
	waitFor(t, func() bool { return h.bridge.Config().SystemPrompt != "" }, "bridge never configured")

	h.bridge.Emit(voice.Event{Kind: voice.EventToolUse, ToolUse: &voice.ToolUse{
		ToolName:  "transfer_to_banking",
		ToolUseID: "u-1",
		Input:     map[string]any{"reason": "balance enquiry"},
	}})

	use := h.readControl(t)
	if use.Type != frame.TypeToolUse || use.ToolName != "transfer_to_banking" || use.ToolUseID != "u-1" {
		t.Fatalf("tool_use frame = %+v", use)
	}

	result := h.readControl(t)
	if result.Type != frame.TypeToolResult || result.ToolUseID != "u-1" {
		t.Fatalf("tool_result frame = %+v", result)
	}
	if result.Success == nil || !*result.Success {
		t.Errorf("tool_result success = %+v", result.Success)
	}

	handoff := h.readControl(t)
	if handoff.Type != frame.TypeHandoffRequest {
		t.Fatalf("expected handoff_request, got %+v", handoff)
	}
	if handoff.TargetAgentID != "banking" {
		t.Errorf("target = %q", handoff.TargetAgentID)
	}
	if handoff.Context["reason"] != "balance enquiry" {
		t.Errorf("context = %+v", handoff.Context)
	}

	waitFor(t, func() bool { return len(h.bridge.ToolResults()) > 0 }, "model never got the tool result")
	tr := h.bridge.ToolResults()[0]
	if tr.ToolUseID != "u-1" || tr.IsError {
		t.Errorf("model tool result = %+v", tr)
	}
}

func TestToolUse_FailureKeepsSessionAlive(t *testing.T) {
	t.Parallel()
	h := newHarness(t, frame.Control{Type: frame.TypeSessionInit, SessionID: "s-7"})
	waitFor(t, func() bool { return h.bridge.Config().SystemPrompt != "" }, "bridge never configured")

	// return_to_triage without taskCompleted is invalid input.
	h.bridge.Emit(voice.Event{Kind: voice.EventToolUse, ToolUse: &voice.ToolUse{
		ToolName:  "return_to_triage",
		ToolUseID: "u-2",
		Input:     map[string]any{},
	}})

	use := h.readControl(t)
	if use.Type != frame.TypeToolUse {
		t.Fatalf("expected tool_use, got %+v", use)
	}
	result := h.readControl(t)
	if result.Type != frame.TypeToolResult || result.Success == nil || *result.Success {
		t.Fatalf("expected failed tool_result, got %+v", result)
	}
	if !strings.Contains(result.Error, "taskCompleted") {
		t.Errorf("error = %q", result.Error)
	}

	// Session still alive: a later transcript still flows.
	h.bridge.Emit(voice.Event{Kind: voice.EventTranscript, Transcript: &voice.Transcript{
		Role: "assistant", Text: "Could you confirm the task status?", Final: true,
	}})
	if c := h.readControl(t); c.Type != frame.TypeTranscript {
		t.Errorf("session did not continue: %+v", c)
	}

	waitFor(t, func() bool { return len(h.bridge.ToolResults()) > 0 }, "model never got the failure")
	if tr := h.bridge.ToolResults()[0]; !tr.IsError {
		t.Error("model should see the failure as an error result")
	}
}

func TestPhantomCorrection(t *testing.T) {
	t.Parallel()
	h := newHarness(t, frame.Control{Type: frame.TypeSessionInit, SessionID: "s-8"})
	waitFor(t, func() bool { return h.bridge.Config().SystemPrompt != "" }, "bridge never configured")

	h.bridge.Emit(voice.Event{Kind: voice.EventTranscript, Transcript: &voice.Transcript{
		Role: "assistant", Text: "Sure, let me check your balance.", Final: true,
	}})
	h.bridge.Emit(voice.Event{Kind: voice.EventTurnEnd})

	waitFor(t, func() bool {
		for _, text := range h.bridge.SentTexts() {
			if strings.Contains(text, "SYSTEM OVERRIDE") && strings.Contains(text, "agentcore_balance") {
				return true
			}
		}
		return false
	}, "phantom correction never sent")
}

func TestUsageAndLifecycleForwarded(t *testing.T) {
	t.Parallel()
	h := newHarness(t, frame.Control{Type: frame.TypeSessionInit, SessionID: "s-9"})
	waitFor(t, func() bool { return h.bridge.Config().SystemPrompt != "" }, "bridge never configured")

	h.bridge.Emit(voice.Event{Kind: voice.EventUsage, Usage: &voice.Usage{
		InputTokens: 10, OutputTokens: 20, TotalTokens: 30,
	}})
	c := h.readControl(t)
	if c.Type != frame.TypeUsage || c.TotalTokens != 30 {
		t.Errorf("usage frame = %+v", c)
	}

	h.bridge.Emit(voice.Event{Kind: voice.EventInterruption, Metadata: map[string]any{"cause": "barge-in"}})
	c = h.readControl(t)
	if c.Type != frame.TypeInterruption {
		t.Errorf("interruption frame = %+v", c)
	}
}

func TestFatalError_EndsSession(t *testing.T) {
	t.Parallel()
	h := newHarness(t, frame.Control{Type: frame.TypeSessionInit, SessionID: "s-10"})
	waitFor(t, func() bool { return h.bridge.Config().SystemPrompt != "" }, "bridge never configured")

	h.bridge.Emit(voice.Event{Kind: voice.EventError, Err: errFatalStream, Fatal: true})

	c := h.readControl(t)
	if c.Type != frame.TypeError {
		t.Fatalf("expected error frame, got %+v", c)
	}

	// The server closes the connection after a fatal stream error.
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	for {
		if _, _, err := h.conn.Read(ctx); err != nil {
			break
		}
	}
	waitFor(t, h.bridge.Stopped, "bridge never stopped")
}

var errFatalStream = errFatal{}

type errFatal struct{}

func (errFatal) Error() string { return "stream permanently failed" }

func TestInvalidSessionInit_Rejected(t *testing.T) {
	t.Parallel()
	def, err := workflow.Parse([]byte(bankingWorkflowJSON))
	if err != nil {
		t.Fatal(err)
	}
	rt, err := agentruntime.New(agentruntime.RuntimeConfig{
		AgentID:   "persona-SimpleBanking",
		Workflow:  def,
		Executor:  tools.NewExecutor("persona-SimpleBanking", "http://unused", nil),
		NewBridge: func() voice.Bridge { return voicemock.New() },
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(rt)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// user_input before session_init is a protocol violation.
	data, _ := json.Marshal(map[string]any{"type": "user_input", "text": "hi"})
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		t.Fatal(err)
	}

	_, payload, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("expected error frame before close: %v", err)
	}
	c, err := frame.Decode(payload)
	if err != nil || c.Type != frame.TypeError {
		t.Errorf("frame = %+v, err = %v", c, err)
	}
}

func TestDuplicateSessionInit_Rejected(t *testing.T) {
	t.Parallel()
	def, err := workflow.Parse([]byte(bankingWorkflowJSON))
	if err != nil {
		t.Fatal(err)
	}
	bridges := make(chan *voicemock.Bridge, 2)
	rt, err := agentruntime.New(agentruntime.RuntimeConfig{
		AgentID:  "persona-SimpleBanking",
		Workflow: def,
		Executor: tools.NewExecutor("persona-SimpleBanking", "http://unused", nil),
		NewBridge: func() voice.Bridge {
			b := voicemock.New()
			bridges <- b
			return b
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(rt)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	dial := func() *websocket.Conn {
		conn, _, err := websocket.Dial(ctx, "ws"+strings.TrimPrefix(srv.URL, "http"), nil)
		if err != nil {
			t.Fatal(err)
		}
		return conn
	}
	init, err := frame.Encode(frame.Control{Type: frame.TypeSessionInit, SessionID: "s-dup"})
	if err != nil {
		t.Fatal(err)
	}

	first := dial()
	defer first.Close(websocket.StatusNormalClosure, "done")
	if err := first.Write(ctx, websocket.MessageText, init); err != nil {
		t.Fatal(err)
	}
	var bridge *voicemock.Bridge
	select {
	case bridge = <-bridges:
	case <-time.After(3 * time.Second):
		t.Fatal("first session never started")
	}
	waitFor(t, func() bool { return bridge.Config().SystemPrompt != "" }, "bridge never configured")

	// A second connection reusing the live session id is refused.
	second := dial()
	defer second.Close(websocket.StatusNormalClosure, "done")
	if err := second.Write(ctx, websocket.MessageText, init); err != nil {
		t.Fatal(err)
	}
	_, payload, err := second.Read(ctx)
	if err != nil {
		t.Fatalf("expected error frame before close: %v", err)
	}
	c, err := frame.Decode(payload)
	if err != nil || c.Type != frame.TypeError || !strings.Contains(c.Message, "already active") {
		t.Errorf("frame = %+v, err = %v", c, err)
	}

	// The first session keeps serving.
	text, err := frame.Encode(frame.Control{Type: frame.TypeUserInput, Text: "still here"})
	if err != nil {
		t.Fatal(err)
	}
	if err := first.Write(ctx, websocket.MessageText, text); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool {
		for _, s := range bridge.SentTexts() {
			if s == "still here" {
				return true
			}
		}
		return false
	}, "first session stopped serving after duplicate init")
}
