// Package frame defines the wire vocabulary of the voicemesh session fabric.
//
// A fabric connection carries an interleaved sequence of binary and text
// WebSocket frames. Binary frames are raw PCM16 little-endian mono 16 kHz
// audio and must have even byte length ([github.com/voicemesh/voicemesh/pkg/audio.PadEven]
// restores the invariant on odd spans). Text frames are JSON control
// messages tagged by a required "type" field drawn from the closed set below.
//
// The same vocabulary is spoken on both legs of the fabric (client ⇄ gateway
// and gateway ⇄ agent); a handful of types are gateway-directed and are
// intercepted by the gateway rather than proxied.
package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrMalformed is returned by [Decode] when the payload is not a JSON object
// or lacks the required "type" field. Unknown but well-formed types do NOT
// produce this error; the fabric ignores those (see [Type.Known]).
var ErrMalformed = errors.New("frame: malformed control frame")

// Type tags a JSON control frame.
type Type string

// Client → server.
const (
	TypeSelectWorkflow Type = "select_workflow"
	TypeSessionInit    Type = "session_init"
	TypeUserInput      Type = "user_input"
	TypeEndOfSpeech    Type = "end_of_speech"
	TypePing           Type = "ping"
)

// Server → client.
const (
	TypeConnected      Type = "connected"
	TypeTranscript     Type = "transcript"
	TypeToolUse        Type = "tool_use"
	TypeToolResult     Type = "tool_result"
	TypeHandoffRequest Type = "handoff_request"
	TypeHandoffEvent   Type = "handoff_event"
	TypeMetadata       Type = "metadata"
	TypeInterruption   Type = "interruption"
	TypeUsage          Type = "usage"
	TypeError          Type = "error"
	TypeSessionStart   Type = "session_start"
	TypeContentStart   Type = "contentStart"
	TypeContentEnd     Type = "contentEnd"
	TypeTurnEnd        Type = "interactionTurnEnd"
	TypePong           Type = "pong"
)

// Gateway-directed (agent → gateway, or gateway → agent).
const (
	TypeUpdateMemory Type = "update_memory"
	TypeEndSession   Type = "end_session"
)

// known is the closed set of frame types the fabric understands.
var known = map[Type]bool{
	TypeSelectWorkflow: true, TypeSessionInit: true, TypeUserInput: true,
	TypeEndOfSpeech: true, TypePing: true,
	TypeConnected: true, TypeTranscript: true, TypeToolUse: true,
	TypeToolResult: true, TypeHandoffRequest: true, TypeHandoffEvent: true,
	TypeMetadata: true, TypeInterruption: true, TypeUsage: true,
	TypeError: true, TypeSessionStart: true, TypeContentStart: true,
	TypeContentEnd: true, TypeTurnEnd: true, TypePong: true,
	TypeUpdateMemory: true, TypeEndSession: true,
}

// Known reports whether t belongs to the closed frame vocabulary.
func (t Type) Known() bool { return known[t] }

// Control is a JSON control frame. Only Type is always present; the
// remaining fields are populated per frame type and omitted from the wire
// encoding when empty, so encoding then decoding any Control is the identity.
type Control struct {
	Type Type `json:"type"`

	// connected / session_init / transcript
	SessionID string `json:"sessionId,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"` // unix milliseconds

	// select_workflow
	WorkflowID string `json:"workflowId,omitempty"`

	// user_input / transcript
	Text    string `json:"text,omitempty"`
	Role    string `json:"role,omitempty"`
	IsFinal *bool  `json:"isFinal,omitempty"`
	ID      string `json:"id,omitempty"`

	// tool_use / tool_result
	ToolName  string         `json:"toolName,omitempty"`
	ToolUseID string         `json:"toolUseId,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Success   *bool          `json:"success,omitempty"`
	Result    any            `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`

	// handoff_request / handoff_event
	TargetAgentID string         `json:"targetAgentId,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	GraphState    map[string]any `json:"graphState,omitempty"`
	From          string         `json:"from,omitempty"`
	To            string         `json:"to,omitempty"`

	// update_memory / session_init
	Memory  map[string]any `json:"memory,omitempty"`
	TraceID string         `json:"traceId,omitempty"`

	// metadata / interruption
	Metadata map[string]any `json:"metadata,omitempty"`

	// usage
	InputTokens  int64 `json:"inputTokens,omitempty"`
	OutputTokens int64 `json:"outputTokens,omitempty"`
	TotalTokens  int64 `json:"totalTokens,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Details string `json:"details,omitempty"`
}

// Encode marshals c to its JSON wire form.
func Encode(c Control) ([]byte, error) {
	if c.Type == "" {
		return nil, fmt.Errorf("frame: encode: missing type")
	}
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("frame: encode %s: %w", c.Type, err)
	}
	return data, nil
}

// Decode parses a JSON control frame. It returns [ErrMalformed] for
// non-object payloads or a missing "type" field. A frame whose type is
// outside the closed vocabulary decodes successfully; callers use
// [Type.Known] to decide whether to ignore it.
func Decode(data []byte) (Control, error) {
	var c Control
	if err := json.Unmarshal(data, &c); err != nil {
		return Control{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if c.Type == "" {
		return Control{}, fmt.Errorf("%w: missing type field", ErrMalformed)
	}
	return c, nil
}

// Bool returns a pointer to b, for the optional IsFinal / Success fields.
func Bool(b bool) *bool { return &b }

// Now returns the current time as unix milliseconds, the fabric's
// timestamp convention.
func Now() int64 { return time.Now().UnixMilli() }

// ErrorFrame builds an error control frame with the given message and
// optional details.
func ErrorFrame(message, details string) Control {
	return Control{
		Type:      TypeError,
		Message:   message,
		Details:   details,
		Timestamp: Now(),
	}
}
