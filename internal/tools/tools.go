// Package tools classifies, validates, and executes the tools the voice
// model invokes mid-conversation.
//
// Every tool name resolves to exactly one [Kind] at load time: handoffs
// (transfer_to_* and return_to_triage) are synthesised locally into a
// handoff request, knowledge-base lookups and banking-runtime tools are
// dispatched over HTTP to the local tool service, and anything else falls
// through to the same remote dispatch. The [Executor] owns the HTTP
// transport, its timeout, and the circuit breaker protecting it.
package tools

import "strings"

// Kind is the closed classification of a tool name. Assigned once at load
// (or on first sight of an undeclared name); the executor switches on it.
type Kind int

const (
	// KindRemote is the default: dispatch over HTTP to the local tool service.
	KindRemote Kind = iota

	// KindLocalRuntime marks tools on the banking-runtime allow-list. They
	// share the remote dispatch path but are classified ahead of the default.
	KindLocalRuntime

	// KindKnowledgeBase is search_knowledge_base; requires a non-empty query.
	KindKnowledgeBase

	// KindHandoff covers transfer_to_<X> and return_to_triage. Executed
	// locally by composing a handoff request; never leaves the process.
	KindHandoff
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindRemote:
		return "remote"
	case KindLocalRuntime:
		return "local-runtime"
	case KindKnowledgeBase:
		return "knowledge-base"
	case KindHandoff:
		return "handoff"
	default:
		return "unknown"
	}
}

const (
	handoffPrefix     = "transfer_to_"
	returnTool        = "return_to_triage"
	knowledgeBaseTool = "search_knowledge_base"
	idvTool           = "perform_idv_check"
)

// runtimeTools is the deterministic allow-list of banking-runtime tools.
var runtimeTools = map[string]bool{
	idvTool:                    true,
	"agentcore_balance":        true,
	"get_account_transactions": true,
	"create_dispute_case":      true,
	"lookup_merchant_alias":    true,
}

// Classify resolves a tool name to its [Kind]. First match wins: handoff,
// then the runtime allow-list, then knowledge base, then remote.
func Classify(name string) Kind {
	switch {
	case strings.HasPrefix(name, handoffPrefix) || name == returnTool:
		return KindHandoff
	case runtimeTools[name]:
		return KindLocalRuntime
	case name == knowledgeBaseTool:
		return KindKnowledgeBase
	default:
		return KindRemote
	}
}

// HandoffTarget derives the target agent id from a handoff tool name.
// transfer_to_<X> yields X; return_to_triage yields "triage". The returned
// id may be an alias — the gateway resolves it against the registry.
func HandoffTarget(name string) string {
	if name == returnTool {
		return "triage"
	}
	return strings.TrimPrefix(name, handoffPrefix)
}

// Result is the normalised outcome of one tool execution.
type Result struct {
	Success bool   `json:"success"`
	Result  any    `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HandoffRequest is embedded in a handoff tool's result under the
// "handoffRequest" key. The agent runtime forwards it to the gateway.
type HandoffRequest struct {
	TargetAgentID string         `json:"targetAgentId"`
	Context       map[string]any `json:"context"`
	GraphState    map[string]any `json:"graphState,omitempty"`
}

// Session is the executor's view of the owning session's conversational
// state. The agent runtime passes a pointer; the executor mutates it only
// on successful identity verification.
type Session struct {
	// AgentID is the id of the agent currently holding the session.
	AgentID string

	// UserIntent is the classified intent carried across handoffs.
	UserIntent string

	// Verified-user triple, populated after a successful IDV check.
	Verified bool
	UserName string
	Account  string
	SortCode string

	// LastUserMessage is the most recent final user transcript.
	LastUserMessage string

	// GraphState is the workflow engine's serialised position, carried
	// through handoffs so the successor can restore it.
	GraphState map[string]any
}
