package agentruntime

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestPhantomWatcher_DetectsMissedCommitment(t *testing.T) {
	t.Parallel()
	w := NewPhantomWatcher(defaultPhantomPatterns)

	w.ObserveTranscript("Of course, let me check your balance right away.")
	override, tool := w.EndTurn()
	if override == "" {
		t.Fatal("expected a correction")
	}
	if tool != "agentcore_balance" {
		t.Errorf("tool = %q", tool)
	}
	if !strings.Contains(override, "SYSTEM OVERRIDE") || !strings.Contains(override, "agentcore_balance") {
		t.Errorf("override = %q", override)
	}
}

func TestPhantomWatcher_ToolCalledNoCorrection(t *testing.T) {
	t.Parallel()
	w := NewPhantomWatcher(defaultPhantomPatterns)

	w.ObserveTranscript("Let me check your balance.")
	w.ObserveToolUse("agentcore_balance")
	if override, _ := w.EndTurn(); override != "" {
		t.Errorf("unexpected correction: %q", override)
	}
}

func TestPhantomWatcher_AtMostOnePerTurn(t *testing.T) {
	t.Parallel()
	w := NewPhantomWatcher(defaultPhantomPatterns)

	// Two missed commitments in one turn still yield one correction.
	w.ObserveTranscript("I'll check your balance and look at your transactions.")
	if override, _ := w.EndTurn(); override == "" {
		t.Fatal("expected a correction")
	}

	// Turn state resets; a clean next turn yields nothing.
	w.ObserveTranscript("Anything else I can help with?")
	if override, _ := w.EndTurn(); override != "" {
		t.Errorf("unexpected correction: %q", override)
	}
}

func TestPhantomWatcher_CaseInsensitive(t *testing.T) {
	t.Parallel()
	w := NewPhantomWatcher(defaultPhantomPatterns)
	w.ObserveTranscript("LET ME CHECK YOUR BALANCE")
	if override, _ := w.EndTurn(); override == "" {
		t.Error("expected case-insensitive match")
	}
}

func TestLoadPhantomPatterns_Default(t *testing.T) {
	t.Parallel()
	patterns, err := LoadPhantomPatterns("")
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) == 0 {
		t.Error("default table empty")
	}
}

func TestLoadPhantomPatterns_File(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	err := os.WriteFile(path, []byte(
		"patterns:\n  - phrase: \"freeze your card\"\n    tool: freeze_card\n"), 0o644)
	if err != nil {
		t.Fatal(err)
	}

	patterns, err := LoadPhantomPatterns(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(patterns) != 1 || patterns[0].Tool != "freeze_card" {
		t.Errorf("patterns = %+v", patterns)
	}
}

func TestLoadPhantomPatterns_Invalid(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "patterns.yaml")
	if err := os.WriteFile(path, []byte("patterns:\n  - phrase: \"x\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadPhantomPatterns(path); err == nil {
		t.Error("pattern without tool should be rejected")
	}
}
