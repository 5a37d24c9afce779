// Package realtime implements [voice.Bridge] over a bidirectional WebSocket
// to a realtime speech-to-speech model endpoint.
//
// The wire protocol exchanges JSON events; audio travels as base64-encoded
// PCM16 chunks. Downstream audio is padded to even length and resampled to
// the fabric's 16 kHz session rate before it is surfaced, so consumers never
// see a malformed PCM span regardless of what the model emits.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/voicemesh/voicemesh/pkg/audio"
	"github.com/voicemesh/voicemesh/pkg/voice"
)

// Compile-time assertion that Bridge satisfies voice.Bridge.
var _ voice.Bridge = (*Bridge)(nil)

const (
	defaultModelRate = 24000
	defaultEventBuf  = 64
)

// Option is a functional option for configuring a Bridge.
type Option func(*Bridge)

// WithModelRate sets the PCM sample rate the model emits. Downstream audio
// is resampled from this rate to 16 kHz. The default is 24000.
func WithModelRate(rate int) Option {
	return func(b *Bridge) { b.modelRate = rate }
}

// WithModel sets the model identifier sent as a query parameter on dial.
func WithModel(model string) Option {
	return func(b *Bridge) { b.model = model }
}

// Bridge is a WebSocket-backed voice bridge. Create one per session with
// [New]; it is not reusable after Stop.
type Bridge struct {
	endpoint  string
	apiKey    string
	model     string
	modelRate int

	mu      sync.Mutex
	cfg     voice.Config
	started bool
	stopped bool
	conn    *websocket.Conn

	events chan voice.Event
	norm   *audio.Normalizer

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// New creates an unstarted Bridge for the given realtime endpoint.
func New(endpoint, apiKey string, opts ...Option) *Bridge {
	b := &Bridge{
		endpoint:  endpoint,
		apiKey:    apiKey,
		modelRate: defaultModelRate,
		events:    make(chan voice.Event, defaultEventBuf),
	}
	for _, o := range opts {
		o(b)
	}
	b.norm = &audio.Normalizer{SourceRate: b.modelRate, TargetRate: audio.SessionRate}
	return b
}

// ── Protocol message types ─────────────────────────────────────────────────

type configureMessage struct {
	Type        string         `json:"type"`
	SessionID   string         `json:"sessionId"`
	Prompt      string         `json:"prompt,omitempty"`
	Voice       string         `json:"voice,omitempty"`
	Tools       []protocolTool `json:"tools,omitempty"`
	RuntimeARN  string         `json:"runtimeArn,omitempty"`
	Inference   inferenceCfg   `json:"inference"`
	AudioFormat string         `json:"audioFormat"`
}

type protocolTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"inputSchema,omitempty"`
}

type inferenceCfg struct {
	MaxTokens   int     `json:"maxTokens,omitempty"`
	TopP        float64 `json:"topP,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	Endpointing string  `json:"endpointing,omitempty"`
}

type appendAudioMessage struct {
	Type  string `json:"type"`
	Audio string `json:"audio"` // base64 PCM16
}

type textInputMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolResultMessage struct {
	Type      string `json:"type"`
	ToolUseID string `json:"toolUseId"`
	Result    any    `json:"result"`
	IsError   bool   `json:"isError,omitempty"`
}

type serverEvent struct {
	Type string `json:"type"`

	// audio.delta
	Delta string `json:"delta,omitempty"`

	// transcript
	Role  string `json:"role,omitempty"`
	Text  string `json:"text,omitempty"`
	Final bool   `json:"final,omitempty"`

	// tool.use
	ToolName  string         `json:"toolName,omitempty"`
	ToolUseID string         `json:"toolUseId,omitempty"`
	Input     map[string]any `json:"input,omitempty"`

	// metadata / interruption
	Metadata map[string]any `json:"metadata,omitempty"`

	// usage
	InputTokens  int64 `json:"inputTokens,omitempty"`
	OutputTokens int64 `json:"outputTokens,omitempty"`
	TotalTokens  int64 `json:"totalTokens,omitempty"`

	// error
	Message string `json:"message,omitempty"`
	Fatal   bool   `json:"fatal,omitempty"`
}

// ── Bridge methods ─────────────────────────────────────────────────────────

// SetConfig implements [voice.Bridge]. It must be called before Start.
func (b *Bridge) SetConfig(cfg voice.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("realtime: session already started, config is immutable")
	}
	b.cfg = cfg
	return nil
}

// Start implements [voice.Bridge]. It dials the endpoint, sends the
// session configuration, and begins translating server events.
func (b *Bridge) Start(ctx context.Context, sessionID string) (<-chan voice.Event, error) {
	b.mu.Lock()
	if b.started {
		b.mu.Unlock()
		return nil, fmt.Errorf("realtime: already started")
	}
	if b.stopped {
		b.mu.Unlock()
		return nil, fmt.Errorf("realtime: bridge is stopped")
	}
	cfg := b.cfg
	b.mu.Unlock()

	wsURL := b.endpoint
	if b.model != "" {
		wsURL = fmt.Sprintf("%s?model=%s", b.endpoint, b.model)
	}
	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Authorization": []string{"Bearer " + b.apiKey},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("realtime: dial: %w", err)
	}
	// Model audio deltas can be large; raise the frame cap.
	conn.SetReadLimit(1 << 20)

	sessCtx, cancel := context.WithCancel(context.Background())

	b.mu.Lock()
	b.conn = conn
	b.ctx = sessCtx
	b.cancel = cancel
	b.started = true
	b.mu.Unlock()

	tools := make([]protocolTool, len(cfg.Tools))
	for i, t := range cfg.Tools {
		tools[i] = protocolTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema}
	}
	err = b.writeJSON(configureMessage{
		Type:       "session.configure",
		SessionID:  sessionID,
		Prompt:     cfg.SystemPrompt,
		Voice:      cfg.VoiceID,
		Tools:      tools,
		RuntimeARN: cfg.RuntimeARN,
		Inference: inferenceCfg{
			MaxTokens:   cfg.MaxTokens,
			TopP:        cfg.TopP,
			Temperature: cfg.Temperature,
			Endpointing: cfg.Endpointing,
		},
		AudioFormat: "pcm16",
	})
	if err != nil {
		cancel()
		conn.Close(websocket.StatusInternalError, "configure failed")
		return nil, fmt.Errorf("realtime: configure: %w", err)
	}

	go b.receiveLoop()

	return b.events, nil
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (b *Bridge) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("realtime: marshal: %w", err)
	}
	b.mu.Lock()
	conn, ctx := b.conn, b.ctx
	b.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("realtime: not connected")
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

// receiveLoop owns b.events: it translates server events until the stream
// ends, emits a terminal fatal error for abnormal ends, and closes the
// channel on exit.
func (b *Bridge) receiveLoop() {
	defer b.closeOnce.Do(func() { close(b.events) })

	for {
		_, data, err := b.conn.Read(b.ctx)
		if err != nil {
			if b.ctx.Err() != nil {
				return
			}
			b.emit(voice.Event{
				Kind:  voice.EventError,
				Err:   fmt.Errorf("realtime: stream read: %w", err),
				Fatal: true,
			})
			return
		}

		var evt serverEvent
		if err := json.Unmarshal(data, &evt); err != nil {
			continue
		}
		b.handleServerEvent(&evt)
	}
}

func (b *Bridge) handleServerEvent(evt *serverEvent) {
	switch evt.Type {
	case "audio.delta":
		if evt.Delta == "" {
			return
		}
		pcm, err := base64.StdEncoding.DecodeString(evt.Delta)
		if err != nil || len(pcm) == 0 {
			return
		}
		b.emit(voice.Event{Kind: voice.EventAudio, Audio: b.norm.Normalize(pcm)})

	case "transcript":
		if evt.Text == "" {
			return
		}
		b.emit(voice.Event{Kind: voice.EventTranscript, Transcript: &voice.Transcript{
			Role:  evt.Role,
			Text:  evt.Text,
			Final: evt.Final,
		}})

	case "tool.use":
		b.emit(voice.Event{Kind: voice.EventToolUse, ToolUse: &voice.ToolUse{
			ToolName:  evt.ToolName,
			ToolUseID: evt.ToolUseID,
			Input:     evt.Input,
		}})

	case "metadata":
		b.emit(voice.Event{Kind: voice.EventMetadata, Metadata: evt.Metadata})

	case "interruption":
		b.emit(voice.Event{Kind: voice.EventInterruption, Metadata: evt.Metadata})

	case "usage":
		b.emit(voice.Event{Kind: voice.EventUsage, Usage: &voice.Usage{
			InputTokens:  evt.InputTokens,
			OutputTokens: evt.OutputTokens,
			TotalTokens:  evt.TotalTokens,
		}})

	case "session.start":
		b.emit(voice.Event{Kind: voice.EventSessionStart})

	case "content.start":
		b.emit(voice.Event{Kind: voice.EventContentStart})

	case "content.end":
		b.emit(voice.Event{Kind: voice.EventContentEnd})

	case "turn.end":
		b.emit(voice.Event{Kind: voice.EventTurnEnd})

	case "error":
		b.emit(voice.Event{
			Kind:  voice.EventError,
			Err:   fmt.Errorf("realtime: %s", evt.Message),
			Fatal: evt.Fatal,
		})
	}
}

// emit delivers an event unless the session has been cancelled.
func (b *Bridge) emit(evt voice.Event) {
	select {
	case b.events <- evt:
	case <-b.ctx.Done():
	}
}

// SendAudio implements [voice.Bridge]. Odd-length chunks are padded before
// encoding — defence in depth against a misbehaving capture path.
func (b *Bridge) SendAudio(pcm []byte) error {
	if len(pcm) == 0 {
		return nil
	}
	return b.writeJSON(appendAudioMessage{
		Type:  "audio.append",
		Audio: base64.StdEncoding.EncodeToString(audio.PadEven(pcm)),
	})
}

// SendText implements [voice.Bridge]. Empty text is ignored.
func (b *Bridge) SendText(text string) error {
	if text == "" {
		return nil
	}
	return b.writeJSON(textInputMessage{Type: "text.input", Text: text})
}

// SendToolResult implements [voice.Bridge].
func (b *Bridge) SendToolResult(toolUseID string, result any, isError bool) error {
	return b.writeJSON(toolResultMessage{
		Type:      "tool.result",
		ToolUseID: toolUseID,
		Result:    result,
		IsError:   isError,
	})
}

// EndAudioInput implements [voice.Bridge].
func (b *Bridge) EndAudioInput() error {
	return b.writeJSON(map[string]string{"type": "audio.end"})
}

// Stop implements [voice.Bridge]. Safe to call on any exit path, any number
// of times, including before Start.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return nil
	}
	b.stopped = true
	conn, cancel, started := b.conn, b.cancel, b.started
	b.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close(websocket.StatusNormalClosure, "session ended")
	}
	// When the receive loop is running it owns the event channel and closes
	// it on exit (the cancel above unblocks it). Close here only when Stop
	// arrives before Start.
	if !started {
		b.closeOnce.Do(func() { close(b.events) })
	}
	return nil
}
