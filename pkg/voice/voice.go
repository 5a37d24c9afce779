// Package voice defines the Bridge interface wrapping one bidirectional
// streaming session with the speech-to-speech voice model.
//
// A Bridge is bound 1:1 to an agent-runtime session. Configuration is
// applied before Start — once the model stream is open the system prompt is
// never reread, which is why inherited session state must additionally be
// primed with a text turn after Start (see the agent runtime). All events
// for a session are delivered in emission order on a single channel; the
// bridge never interleaves the bytes of one PCM frame with another.
//
// Implementations must be safe for concurrent use. Callers must call Stop
// on every exit path; Stop is idempotent.
package voice

import "context"

// EventKind tags a bridge event. The set is closed.
type EventKind string

const (
	EventAudio        EventKind = "audio"
	EventTranscript   EventKind = "transcript"
	EventToolUse      EventKind = "toolUse"
	EventMetadata     EventKind = "metadata"
	EventInterruption EventKind = "interruption"
	EventUsage        EventKind = "usageEvent"
	EventContentStart EventKind = "contentStart"
	EventContentEnd   EventKind = "contentEnd"
	EventTurnEnd      EventKind = "interactionTurnEnd"
	EventSessionStart EventKind = "session_start"
	EventError        EventKind = "error"
)

// Transcript is the payload of an [EventTranscript] event.
type Transcript struct {
	// Role is "user" or "assistant".
	Role string

	// Text is the recognised or generated text.
	Text string

	// Final reports whether this is the definitive text for the utterance.
	Final bool
}

// ToolUse is the payload of an [EventToolUse] event.
type ToolUse struct {
	ToolName  string
	ToolUseID string
	Input     map[string]any
}

// Usage is the payload of an [EventUsage] event.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
}

// Event is one tagged event emitted by the bridge. Exactly the fields for
// its Kind are populated.
type Event struct {
	Kind EventKind

	// Audio is downstream PCM16 (EventAudio). Even byte length guaranteed.
	Audio []byte

	Transcript *Transcript    // EventTranscript
	ToolUse    *ToolUse       // EventToolUse
	Usage      *Usage         // EventUsage
	Metadata   map[string]any // EventMetadata, EventInterruption

	// Err is set for EventError. Fatal reports whether the stream is gone.
	Err   error
	Fatal bool
}

// ToolSpec describes one tool offered to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Config is the pre-start bridge configuration.
type Config struct {
	// SystemPrompt is the fully composed system prompt. Section order is
	// semantically significant and owned by the caller.
	SystemPrompt string

	// Tools is the tool set offered to the model.
	Tools []ToolSpec

	// VoiceID selects the synthesis voice.
	VoiceID string

	// RuntimeARN optionally identifies a remote agent runtime the model may
	// delegate tool execution to.
	RuntimeARN string

	// Inference knobs. Zero values select the model defaults.
	MaxTokens   int
	TopP        float64
	Temperature float64

	// Endpointing tunes end-of-utterance sensitivity ("low", "medium", "high").
	Endpointing string
}

// Bridge wraps one streaming voice-model session.
type Bridge interface {
	// SetConfig stores the session configuration. Must be called before
	// Start; calls after Start return an error.
	SetConfig(cfg Config) error

	// Start opens the model stream and returns the session's event channel.
	// The channel is closed when the stream ends for any reason; a terminal
	// EventError with Fatal set precedes the close on abnormal ends.
	Start(ctx context.Context, sessionID string) (<-chan Event, error)

	// SendAudio pushes a PCM16 chunk upstream. Odd-length chunks are padded
	// before transmission.
	SendAudio(pcm []byte) error

	// SendText injects a user-role text turn (text mode, hybrid
	// interjections, and the post-start context priming message).
	SendText(text string) error

	// SendToolResult returns a tool invocation result to the model so it can
	// continue the turn.
	SendToolResult(toolUseID string, result any, isError bool) error

	// EndAudioInput marks end-of-user-utterance.
	EndAudioInput() error

	// Stop closes the stream. Idempotent.
	Stop() error
}
