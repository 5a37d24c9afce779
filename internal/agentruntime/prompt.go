package agentruntime

import (
	"fmt"
	"strings"

	"github.com/voicemesh/voicemesh/internal/memory"
	"github.com/voicemesh/voicemesh/internal/tools"
	"github.com/voicemesh/voicemesh/internal/workflow"
)

// ComposePrompt builds the system prompt for one session. Section order is
// semantically significant and must not change: the persona body references
// "the section above", so the context block always comes first, then the
// persona, then handoff tool instructions, then the workflow rendering.
func ComposePrompt(bag map[string]any, persona string, defs []tools.Definition, eng *workflow.Engine) string {
	var b strings.Builder

	if ctx := contextBlock(bag); ctx != "" {
		b.WriteString(ctx)
		b.WriteString("\n\n")
	}

	b.WriteString(strings.TrimSpace(persona))

	if instructions := handoffInstructions(defs); instructions != "" {
		b.WriteString("\n\n")
		b.WriteString(instructions)
	}

	if eng != nil {
		b.WriteString("\n\n")
		b.WriteString(eng.Describe())
	}

	return b.String()
}

// contextBlock renders inherited session memory into the prompt header.
// Empty memory produces no block.
func contextBlock(bag map[string]any) string {
	if len(bag) == 0 {
		return ""
	}

	var lines []string
	if memory.Verified(bag) {
		line := "The user has already passed identity verification."
		if name := memory.StringField(bag, memory.KeyUserName); name != "" {
			line += fmt.Sprintf(" Their name is %s; greet them by first name.", name)
		}
		lines = append(lines, line)
		if account := memory.StringField(bag, memory.KeyAccount); account != "" {
			lines = append(lines, fmt.Sprintf("Account number on file: %s.", account))
		}
		if sortCode := memory.StringField(bag, memory.KeySortCode); sortCode != "" {
			lines = append(lines, fmt.Sprintf("Sort code on file: %s.", sortCode))
		}
	} else {
		// Partial credentials carried forward: prompt only for what's missing.
		if account := memory.StringField(bag, memory.KeyAccount); account != "" {
			lines = append(lines, fmt.Sprintf("The user already provided account number %s. Do not ask for it again.", account))
		}
		if sortCode := memory.StringField(bag, memory.KeySortCode); sortCode != "" {
			lines = append(lines, fmt.Sprintf("The user already provided sort code %s. Do not ask for it again.", sortCode))
		}
	}
	if intent := memory.StringField(bag, memory.KeyUserIntent); intent != "" {
		lines = append(lines, fmt.Sprintf("The user's intent: %s.", intent))
	}
	if last := memory.StringField(bag, memory.KeyLastUserMessage); last != "" {
		lines = append(lines, fmt.Sprintf("Their last message was: %q.", last))
	}
	if from := memory.StringField(bag, memory.KeyLastAgent); from != "" {
		lines = append(lines, fmt.Sprintf("The session was handed to you by agent %s.", from))
	}

	if len(lines) == 0 {
		return ""
	}
	return "## Session context\n" + strings.Join(lines, "\n")
}

// handoffInstructions renders usage guidance for handoff tools. Definitions
// with an explicit Instruction use it verbatim; the rest get a generated
// line.
func handoffInstructions(defs []tools.Definition) string {
	var lines []string
	for _, def := range defs {
		if def.Kind != tools.KindHandoff {
			continue
		}
		if def.Instruction != "" {
			lines = append(lines, def.Instruction)
			continue
		}
		target := tools.HandoffTarget(def.Name)
		if def.GatewayTarget != "" {
			target = def.GatewayTarget
		}
		lines = append(lines, fmt.Sprintf(
			"Call %s to transfer the session to the %s specialist. Always include a reason.",
			def.Name, target))
	}
	if len(lines) == 0 {
		return ""
	}
	return "## Handoffs\n" + strings.Join(lines, "\n")
}

// PrimingMessage builds the post-start context priming text. The voice model
// never rereads the system prompt after the stream opens, so inherited state
// must additionally arrive as a user-role turn. Returns "" when the memory
// carries nothing worth priming.
func PrimingMessage(bag map[string]any) string {
	intent := memory.StringField(bag, memory.KeyUserIntent)
	verified := memory.Verified(bag)
	if intent == "" && !verified {
		return ""
	}

	var parts []string
	if verified {
		line := "The user is identity-verified"
		if name := memory.StringField(bag, memory.KeyUserName); name != "" {
			line += " as " + name
		}
		parts = append(parts, line+".")
	}
	if intent != "" {
		parts = append(parts, "They want to: "+intent+".")
	}
	return "[SYSTEM CONTEXT] " + strings.Join(parts, " ") + "\nAct on the user request immediately."
}
