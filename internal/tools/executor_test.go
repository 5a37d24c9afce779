package tools_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/voicemesh/voicemesh/internal/memory"
	"github.com/voicemesh/voicemesh/internal/tools"
)

func TestClassify(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		want tools.Kind
	}{
		{"transfer_to_banking", tools.KindHandoff},
		{"transfer_to_idv", tools.KindHandoff},
		{"return_to_triage", tools.KindHandoff},
		{"perform_idv_check", tools.KindLocalRuntime},
		{"agentcore_balance", tools.KindLocalRuntime},
		{"get_account_transactions", tools.KindLocalRuntime},
		{"create_dispute_case", tools.KindLocalRuntime},
		{"lookup_merchant_alias", tools.KindLocalRuntime},
		{"search_knowledge_base", tools.KindKnowledgeBase},
		{"something_else", tools.KindRemote},
	}
	for _, tc := range cases {
		if got := tools.Classify(tc.name); got != tc.want {
			t.Errorf("Classify(%q) = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestHandoffTarget(t *testing.T) {
	t.Parallel()
	if got := tools.HandoffTarget("transfer_to_banking"); got != "banking" {
		t.Errorf("got %q, want banking", got)
	}
	if got := tools.HandoffTarget("return_to_triage"); got != "triage" {
		t.Errorf("got %q, want triage", got)
	}
}

func handoffRequestOf(t *testing.T, res tools.Result) tools.HandoffRequest {
	t.Helper()
	m, ok := res.Result.(map[string]any)
	if !ok {
		t.Fatalf("result is %T, want map", res.Result)
	}
	hr, ok := m["handoffRequest"].(tools.HandoffRequest)
	if !ok {
		t.Fatalf("handoffRequest is %T", m["handoffRequest"])
	}
	return hr
}

func TestExecute_HandoffComposition(t *testing.T) {
	t.Parallel()
	e := tools.NewExecutor("persona-idv", "http://unused", nil)

	sess := &tools.Session{
		AgentID:         "persona-idv",
		Verified:        true,
		UserName:        "Sarah Johnson",
		Account:         "12345678",
		SortCode:        "112233",
		LastUserMessage: "I want my balance",
		GraphState:      map[string]any{"node": "n3"},
	}
	res := e.Execute(context.Background(), tools.Request{
		SessionID: "s-1",
		ToolName:  "transfer_to_banking",
		Input:     map[string]any{"reason": "balance enquiry"},
		Session:   sess,
	})
	if !res.Success {
		t.Fatalf("handoff failed: %s", res.Error)
	}
	hr := handoffRequestOf(t, res)
	if hr.TargetAgentID != "banking" {
		t.Errorf("target = %q, want banking", hr.TargetAgentID)
	}
	if hr.Context["fromAgent"] != "persona-idv" {
		t.Errorf("fromAgent = %v", hr.Context["fromAgent"])
	}
	if hr.Context["reason"] != "balance enquiry" {
		t.Errorf("reason = %v", hr.Context["reason"])
	}
	if hr.Context["verified"] != true || hr.Context["userName"] != "Sarah Johnson" {
		t.Errorf("verified triple not copied: %+v", hr.Context)
	}
	if hr.Context["lastUserMessage"] != "I want my balance" {
		t.Errorf("lastUserMessage = %v", hr.Context["lastUserMessage"])
	}
	if hr.GraphState["node"] != "n3" {
		t.Errorf("graphState not carried: %+v", hr.GraphState)
	}
}

func TestExecute_HandoffReasonFallback(t *testing.T) {
	t.Parallel()
	e := tools.NewExecutor("persona-triage", "http://unused", nil)

	// No reason in input: falls back to the session intent.
	res := e.Execute(context.Background(), tools.Request{
		ToolName: "transfer_to_banking",
		Input:    map[string]any{},
		Session:  &tools.Session{UserIntent: "check balance"},
	})
	if hr := handoffRequestOf(t, res); hr.Context["reason"] != "check balance" {
		t.Errorf("reason = %v, want userIntent fallback", hr.Context["reason"])
	}

	// No intent either: fixed default.
	res = e.Execute(context.Background(), tools.Request{
		ToolName: "transfer_to_mortgage",
		Session:  &tools.Session{},
	})
	if hr := handoffRequestOf(t, res); hr.Context["reason"] != "User needs specialist assistance" {
		t.Errorf("reason = %v, want fixed default", hr.Context["reason"])
	}
}

func TestExecute_ReturnToTriageRequiresTaskCompleted(t *testing.T) {
	t.Parallel()
	e := tools.NewExecutor("persona-SimpleBanking", "http://unused", nil)

	res := e.Execute(context.Background(), tools.Request{
		ToolName: "return_to_triage",
		Input:    map[string]any{"summary": "done"},
		Session:  &tools.Session{},
	})
	if res.Success {
		t.Fatal("return without taskCompleted should fail")
	}
	if !strings.Contains(res.Error, "taskCompleted") {
		t.Errorf("error = %q, want mention of taskCompleted", res.Error)
	}

	res = e.Execute(context.Background(), tools.Request{
		ToolName: "return_to_triage",
		Input:    map[string]any{"taskCompleted": "balance_check", "summary": "balance given"},
		Session:  &tools.Session{},
	})
	if !res.Success {
		t.Fatalf("return failed: %s", res.Error)
	}
	hr := handoffRequestOf(t, res)
	if hr.TargetAgentID != "triage" {
		t.Errorf("target = %q, want triage", hr.TargetAgentID)
	}
	if hr.Context["isReturn"] != true {
		t.Error("isReturn not set")
	}
	if hr.Context["taskCompleted"] != "balance_check" || hr.Context["summary"] != "balance given" {
		t.Errorf("context = %+v", hr.Context)
	}
}

func TestExecute_RemoteDispatch(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tools/execute" {
			t.Errorf("path = %s", r.URL.Path)
		}
		var req struct {
			Tool  string         `json:"tool"`
			Input map[string]any `json:"input"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		if req.Tool != "agentcore_balance" {
			t.Errorf("tool = %s", req.Tool)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"balance": "£1,234.56"},
		})
	}))
	defer srv.Close()

	e := tools.NewExecutor("persona-SimpleBanking", srv.URL, nil)
	res := e.Execute(context.Background(), tools.Request{
		ToolName: "agentcore_balance",
		Input:    map[string]any{"account": "12345678"},
	})
	if !res.Success {
		t.Fatalf("dispatch failed: %s", res.Error)
	}
	m, _ := res.Result.(map[string]any)
	if m["balance"] != "£1,234.56" {
		t.Errorf("result = %+v", res.Result)
	}
}

func TestExecute_DownstreamFailurePassedThrough(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": false,
			"error":   "account not found",
		})
	}))
	defer srv.Close()

	e := tools.NewExecutor("a", srv.URL, nil)
	res := e.Execute(context.Background(), tools.Request{ToolName: "agentcore_balance"})
	if res.Success {
		t.Fatal("expected downstream failure")
	}
	if res.Error != "account not found" {
		t.Errorf("error = %q, want verbatim downstream message", res.Error)
	}
}

func TestExecute_TransportRetriesOnce(t *testing.T) {
	t.Parallel()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			// First attempt fails at the HTTP layer.
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"result": "ok"})
	}))
	defer srv.Close()

	e := tools.NewExecutor("a", srv.URL, nil)
	res := e.Execute(context.Background(), tools.Request{ToolName: "lookup_merchant_alias"})
	if !res.Success {
		t.Fatalf("expected retry to succeed: %s", res.Error)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestExecute_TransportFailureReported(t *testing.T) {
	t.Parallel()
	e := tools.NewExecutor("a", "http://127.0.0.1:1", nil,
		tools.WithTimeout(500*time.Millisecond))
	res := e.Execute(context.Background(), tools.Request{ToolName: "agentcore_balance"})
	if res.Success {
		t.Fatal("expected transport failure")
	}
	if res.Error == "" {
		t.Error("transport error message missing")
	}
}

func TestExecute_KnowledgeBaseRequiresQuery(t *testing.T) {
	t.Parallel()
	e := tools.NewExecutor("a", "http://unused", nil)
	res := e.Execute(context.Background(), tools.Request{
		ToolName: "search_knowledge_base",
		Input:    map[string]any{},
	})
	if res.Success || !strings.Contains(res.Error, "query") {
		t.Errorf("expected query-required error, got %+v", res)
	}
}

type memorySink struct {
	mu     sync.Mutex
	sid    string
	fields map[string]any
}

func (m *memorySink) NotifyMemoryUpdate(sessionID string, fields map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sid = sessionID
	m.fields = fields
}

func TestExecute_IDVVerificationSideEffect(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{
				"auth_status":   "VERIFIED",
				"customer_name": "Sarah Johnson",
			},
		})
	}))
	defer srv.Close()

	sink := &memorySink{}
	e := tools.NewExecutor("persona-idv", srv.URL, nil, tools.WithMemoryNotifier(sink))

	sess := &tools.Session{AgentID: "persona-idv"}
	res := e.Execute(context.Background(), tools.Request{
		SessionID: "s-42",
		ToolName:  "perform_idv_check",
		Input:     map[string]any{"account_number": "12345678", "sort_code": "112233"},
		Session:   sess,
	})
	if !res.Success {
		t.Fatalf("idv failed: %s", res.Error)
	}

	if !sess.Verified || sess.UserName != "Sarah Johnson" || sess.Account != "12345678" || sess.SortCode != "112233" {
		t.Errorf("session not updated: %+v", sess)
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.sid != "s-42" {
		t.Errorf("notify session = %q", sink.sid)
	}
	if sink.fields[memory.KeyVerified] != true ||
		sink.fields[memory.KeyUserName] != "Sarah Johnson" ||
		sink.fields[memory.KeyAccount] != "12345678" ||
		sink.fields[memory.KeySortCode] != "112233" {
		t.Errorf("notify fields = %+v", sink.fields)
	}
}

func TestExecute_IDVNotVerifiedNoSideEffect(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"result": map[string]any{"auth_status": "FAILED"},
		})
	}))
	defer srv.Close()

	sink := &memorySink{}
	e := tools.NewExecutor("persona-idv", srv.URL, nil, tools.WithMemoryNotifier(sink))
	sess := &tools.Session{}
	e.Execute(context.Background(), tools.Request{
		ToolName: "perform_idv_check",
		Session:  sess,
	})
	if sess.Verified {
		t.Error("session should not be verified")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.fields != nil {
		t.Errorf("unexpected memory update: %+v", sink.fields)
	}
}

func TestExecute_EmptyToolName(t *testing.T) {
	t.Parallel()
	e := tools.NewExecutor("a", "http://unused", nil)
	res := e.Execute(context.Background(), tools.Request{})
	if res.Success || !strings.Contains(res.Error, "toolName") {
		t.Errorf("expected toolName-required error, got %+v", res)
	}
}
