// Package mock provides a scriptable [voice.Bridge] for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/voicemesh/voicemesh/pkg/voice"
)

// Compile-time assertion that Bridge satisfies voice.Bridge.
var _ voice.Bridge = (*Bridge)(nil)

// SentToolResult records one SendToolResult call.
type SentToolResult struct {
	ToolUseID string
	Result    any
	IsError   bool
}

// Bridge is a test double. Tests push events with [Bridge.Emit] and inspect
// what the runtime sent with the accessor methods. Safe for concurrent use.
type Bridge struct {
	mu          sync.Mutex
	cfg         voice.Config
	started     bool
	stopped     bool
	audio       [][]byte
	texts       []string
	toolResults []SentToolResult
	audioEnds   int

	events chan voice.Event

	// StartErr, when set, is returned by Start.
	StartErr error
}

// New creates a mock bridge with a buffered event channel.
func New() *Bridge {
	return &Bridge{events: make(chan voice.Event, 256)}
}

// SetConfig implements [voice.Bridge].
func (b *Bridge) SetConfig(cfg voice.Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return fmt.Errorf("mock: already started")
	}
	b.cfg = cfg
	return nil
}

// Start implements [voice.Bridge].
func (b *Bridge) Start(_ context.Context, _ string) (<-chan voice.Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.StartErr != nil {
		return nil, b.StartErr
	}
	b.started = true
	return b.events, nil
}

// SendAudio implements [voice.Bridge].
func (b *Bridge) SendAudio(pcm []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make([]byte, len(pcm))
	copy(cp, pcm)
	b.audio = append(b.audio, cp)
	return nil
}

// SendText implements [voice.Bridge].
func (b *Bridge) SendText(text string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.texts = append(b.texts, text)
	return nil
}

// SendToolResult implements [voice.Bridge].
func (b *Bridge) SendToolResult(toolUseID string, result any, isError bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.toolResults = append(b.toolResults, SentToolResult{toolUseID, result, isError})
	return nil
}

// EndAudioInput implements [voice.Bridge].
func (b *Bridge) EndAudioInput() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.audioEnds++
	return nil
}

// Stop implements [voice.Bridge]. Idempotent; closes the event channel.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return nil
	}
	b.stopped = true
	close(b.events)
	return nil
}

// Emit pushes an event to the runtime as if the model produced it.
// Panics if called after Stop — a test sequencing bug.
func (b *Bridge) Emit(evt voice.Event) { b.events <- evt }

// Config returns the configuration applied via SetConfig.
func (b *Bridge) Config() voice.Config {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cfg
}

// SentAudio returns copies of all audio chunks sent upstream.
func (b *Bridge) SentAudio() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.audio))
	copy(out, b.audio)
	return out
}

// SentTexts returns all text turns sent upstream.
func (b *Bridge) SentTexts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.texts))
	copy(out, b.texts)
	return out
}

// ToolResults returns all tool results sent upstream.
func (b *Bridge) ToolResults() []SentToolResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SentToolResult, len(b.toolResults))
	copy(out, b.toolResults)
	return out
}

// AudioEnds returns how many times EndAudioInput was called.
func (b *Bridge) AudioEnds() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.audioEnds
}

// Stopped reports whether Stop has been called.
func (b *Bridge) Stopped() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stopped
}
