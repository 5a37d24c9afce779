package agentruntime

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// PhantomPattern maps a spoken commitment to the tool the assistant is
// expected to call in the same turn. Phrase matching is case-insensitive
// substring matching over the turn's assistant transcript.
type PhantomPattern struct {
	Phrase string `yaml:"phrase"`
	Tool   string `yaml:"tool"`
}

// defaultPhantomPatterns is the built-in commitment table. A config file
// can replace it wholesale via [LoadPhantomPatterns].
var defaultPhantomPatterns = []PhantomPattern{
	{Phrase: "check your balance", Tool: "agentcore_balance"},
	{Phrase: "look up your balance", Tool: "agentcore_balance"},
	{Phrase: "check your transactions", Tool: "get_account_transactions"},
	{Phrase: "look at your transactions", Tool: "get_account_transactions"},
	{Phrase: "pull up your transactions", Tool: "get_account_transactions"},
	{Phrase: "verify your identity", Tool: "perform_idv_check"},
	{Phrase: "run a quick security check", Tool: "perform_idv_check"},
	{Phrase: "raise a dispute", Tool: "create_dispute_case"},
	{Phrase: "open a dispute", Tool: "create_dispute_case"},
	{Phrase: "look that up for you", Tool: "search_knowledge_base"},
}

// LoadPhantomPatterns reads a YAML pattern file of the form:
//
//	patterns:
//	  - phrase: "check your balance"
//	    tool: agentcore_balance
//
// An empty path returns the built-in table.
func LoadPhantomPatterns(path string) ([]PhantomPattern, error) {
	if path == "" {
		return defaultPhantomPatterns, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("agentruntime: read phantom patterns %q: %w", path, err)
	}
	var file struct {
		Patterns []PhantomPattern `yaml:"patterns"`
	}
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("agentruntime: decode phantom patterns %q: %w", path, err)
	}
	for i, p := range file.Patterns {
		if p.Phrase == "" || p.Tool == "" {
			return nil, fmt.Errorf("agentruntime: phantom pattern %d missing phrase or tool", i)
		}
	}
	return file.Patterns, nil
}

// PhantomWatcher detects phantom actions: assistant turns that commit to a
// tool ("let me check your balance") without invoking it. One watcher is
// created per session. Safe for concurrent use.
type PhantomWatcher struct {
	patterns []PhantomPattern

	mu        sync.Mutex
	turnText  strings.Builder
	turnTools map[string]bool
}

// NewPhantomWatcher creates a watcher over the given pattern table.
func NewPhantomWatcher(patterns []PhantomPattern) *PhantomWatcher {
	return &PhantomWatcher{
		patterns:  patterns,
		turnTools: make(map[string]bool),
	}
}

// ObserveTranscript accumulates assistant speech for the current turn.
func (w *PhantomWatcher) ObserveTranscript(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turnText.WriteString(strings.ToLower(text))
	w.turnText.WriteByte(' ')
}

// ObserveToolUse records a tool invoked in the current turn.
func (w *PhantomWatcher) ObserveToolUse(toolName string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.turnTools[toolName] = true
}

// EndTurn closes the current turn and returns the corrective override text,
// or "" when the turn was clean. At most one correction is produced per
// turn: the first matching pattern wins and the turn state is reset.
func (w *PhantomWatcher) EndTurn() (override string, tool string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	spoken := w.turnText.String()
	defer func() {
		w.turnText.Reset()
		w.turnTools = make(map[string]bool)
	}()

	for _, p := range w.patterns {
		if !strings.Contains(spoken, strings.ToLower(p.Phrase)) {
			continue
		}
		if w.turnTools[p.Tool] {
			continue
		}
		return fmt.Sprintf(
			"SYSTEM OVERRIDE: you said %q but did not call %s. Call it now.",
			strings.TrimSpace(p.Phrase), p.Tool), p.Tool
	}
	return "", ""
}
