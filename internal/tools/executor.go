package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/voicemesh/voicemesh/internal/memory"
	"github.com/voicemesh/voicemesh/internal/resilience"
)

// DefaultTimeout bounds one remote tool dispatch, both attempts included.
const DefaultTimeout = 10 * time.Second

// MemoryNotifier receives memory-update intents produced as tool side
// effects (identity verification). The agent runtime implements it by
// sending an update_memory frame to the gateway.
type MemoryNotifier interface {
	NotifyMemoryUpdate(sessionID string, fields map[string]any)
}

// Request carries one tool invocation from the voice model.
type Request struct {
	SessionID string
	ToolName  string
	ToolUseID string
	Input     map[string]any

	// Session is the runtime's live session view. May be nil in tests;
	// handoff context composition then omits session-derived fields.
	Session *Session
}

// Executor classifies and runs tool invocations for one agent process.
// Safe for concurrent use across sessions.
type Executor struct {
	agentID  string
	endpoint string
	client   *http.Client
	timeout  time.Duration
	breaker  *resilience.Breaker
	defs     map[string]Definition
	notify   MemoryNotifier
}

// Option configures an [Executor].
type Option func(*Executor)

// WithHTTPClient replaces the transport used for remote dispatch.
func WithHTTPClient(client *http.Client) Option {
	return func(e *Executor) { e.client = client }
}

// WithTimeout overrides [DefaultTimeout] for remote dispatch.
func WithTimeout(d time.Duration) Option {
	return func(e *Executor) { e.timeout = d }
}

// WithBreaker replaces the circuit breaker protecting remote dispatch.
func WithBreaker(b *resilience.Breaker) Option {
	return func(e *Executor) { e.breaker = b }
}

// WithMemoryNotifier wires the sink for memory-update side effects.
func WithMemoryNotifier(n MemoryNotifier) Option {
	return func(e *Executor) { e.notify = n }
}

// NewExecutor creates an [Executor] for the named agent. endpoint is the
// base URL of the local tool service; defs are the loaded tool definitions
// (names the model invokes without a definition are still classified and
// dispatched, just without schema validation).
func NewExecutor(agentID, endpoint string, defs []Definition, opts ...Option) *Executor {
	e := &Executor{
		agentID:  agentID,
		endpoint: endpoint,
		client:   &http.Client{},
		timeout:  DefaultTimeout,
		breaker:  resilience.New(resilience.Config{Name: "tool-dispatch"}),
		defs:     make(map[string]Definition, len(defs)),
	}
	for _, def := range defs {
		e.defs[def.Name] = def
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Definitions returns the loaded definitions keyed by name. Load order is
// not preserved; callers wanting prompt ordering keep the [LoadDir] slice.
func (e *Executor) Definitions() map[string]Definition { return e.defs }

// Execute runs one tool invocation and returns the normalised result.
// Transport and validation failures are reported in the result, never as a
// panic or a dropped turn; the session always continues.
func (e *Executor) Execute(ctx context.Context, req Request) Result {
	if req.ToolName == "" {
		return Result{Success: false, Error: "field toolName is required"}
	}

	kind := Classify(req.ToolName)
	var def *Definition
	if d, ok := e.defs[req.ToolName]; ok {
		def = &d
		kind = d.Kind
		if err := d.ValidateInput(req.Input); err != nil {
			return Result{Success: false, Error: err.Error()}
		}
	}

	start := time.Now()
	var res Result
	switch kind {
	case KindHandoff:
		res = e.composeHandoff(req, def)
	case KindKnowledgeBase:
		query, _ := req.Input["query"].(string)
		if query == "" {
			res = Result{Success: false, Error: "field query is required"}
		} else {
			res = e.dispatch(ctx, req.ToolName, req.Input)
		}
	default:
		res = e.dispatch(ctx, req.ToolName, req.Input)
	}

	if res.Success && req.ToolName == idvTool {
		e.applyVerification(req, res)
	}

	slog.Info("tool executed",
		"tool", req.ToolName,
		"kind", kind.String(),
		"session_id", req.SessionID,
		"tool_use_id", req.ToolUseID,
		"success", res.Success,
		"duration_ms", time.Since(start).Milliseconds())
	return res
}

// composeHandoff builds the handoff request for transfer_to_* and
// return_to_triage. The target id may be an alias; the gateway resolves it.
func (e *Executor) composeHandoff(req Request, def *Definition) Result {
	sess := req.Session

	handoffCtx := map[string]any{
		"fromAgent": e.agentID,
	}

	reason, _ := req.Input["reason"].(string)
	if reason == "" && sess != nil {
		reason = sess.UserIntent
	}
	if reason == "" {
		reason = "User needs specialist assistance"
	}
	handoffCtx["reason"] = reason

	if sess != nil && sess.Verified {
		handoffCtx["verified"] = true
		handoffCtx["userName"] = sess.UserName
		handoffCtx["account"] = sess.Account
		handoffCtx["sortCode"] = sess.SortCode
	}
	if sess != nil && sess.LastUserMessage != "" {
		handoffCtx["lastUserMessage"] = sess.LastUserMessage
	}

	if req.ToolName == returnTool {
		completed, _ := req.Input["taskCompleted"].(string)
		if completed == "" {
			return Result{Success: false, Error: "field taskCompleted is required"}
		}
		handoffCtx["taskCompleted"] = completed
		if summary, ok := req.Input["summary"].(string); ok && summary != "" {
			handoffCtx["summary"] = summary
		}
		handoffCtx["isReturn"] = true
	}

	target := HandoffTarget(req.ToolName)
	if def != nil && def.GatewayTarget != "" {
		target = def.GatewayTarget
	}

	hr := HandoffRequest{
		TargetAgentID: target,
		Context:       handoffCtx,
	}
	if sess != nil && len(sess.GraphState) > 0 {
		hr.GraphState = sess.GraphState
	}
	return Result{Success: true, Result: map[string]any{"handoffRequest": hr}}
}

// remoteResponse matches the local tool service response body.
type remoteResponse struct {
	Success *bool  `json:"success,omitempty"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// dispatch posts the invocation to the local tool service. Transport
// failures retry once; both attempts run inside the circuit breaker and the
// configured timeout.
func (e *Executor) dispatch(ctx context.Context, toolName string, input map[string]any) Result {
	body, err := json.Marshal(map[string]any{"tool": toolName, "input": input})
	if err != nil {
		return Result{Success: false, Error: fmt.Sprintf("encode input: %v", err)}
	}

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var res Result
	err = e.breaker.Do(func() error {
		var attemptErr error
		for attempt := range 2 {
			res, attemptErr = e.post(ctx, body)
			if attemptErr == nil {
				return nil
			}
			if ctx.Err() != nil {
				break
			}
			if attempt == 0 {
				slog.Warn("tool dispatch failed, retrying once",
					"tool", toolName, "error", attemptErr)
			}
		}
		return attemptErr
	})
	if err != nil {
		return Result{Success: false, Error: err.Error()}
	}
	return res
}

// post performs one HTTP attempt against the tool service.
func (e *Executor) post(ctx context.Context, body []byte) (Result, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.endpoint+"/tools/execute", bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return Result{}, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return Result{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("tool service returned status %d", resp.StatusCode)
	}

	var remote remoteResponse
	if err := json.Unmarshal(data, &remote); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}
	// Downstream failures pass through verbatim; they do not trip the breaker.
	if remote.Success != nil && !*remote.Success {
		return Result{Success: false, Result: remote.Result, Error: remote.Error}, nil
	}
	return Result{Success: true, Result: remote.Result}, nil
}

// applyVerification inspects a successful IDV result and, when the check
// came back VERIFIED, updates the live session and emits a memory-update
// intent so the gateway persists the verified-user triple.
func (e *Executor) applyVerification(req Request, res Result) {
	resultMap, ok := res.Result.(map[string]any)
	if !ok {
		return
	}
	status, _ := resultMap["auth_status"].(string)
	if status != "VERIFIED" {
		return
	}

	name, _ := resultMap["customer_name"].(string)
	account, _ := req.Input["account_number"].(string)
	sortCode, _ := req.Input["sort_code"].(string)

	if req.Session != nil {
		req.Session.Verified = true
		if name != "" {
			req.Session.UserName = name
		}
		if account != "" {
			req.Session.Account = account
		}
		if sortCode != "" {
			req.Session.SortCode = sortCode
		}
	}

	if e.notify == nil {
		return
	}
	fields := map[string]any{memory.KeyVerified: true}
	if name != "" {
		fields[memory.KeyUserName] = name
	}
	if account != "" {
		fields[memory.KeyAccount] = account
	}
	if sortCode != "" {
		fields[memory.KeySortCode] = sortCode
	}
	e.notify.NotifyMemoryUpdate(req.SessionID, fields)
	slog.Info("identity verified", "session_id", req.SessionID, "user_name", name)
}
