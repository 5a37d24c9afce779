// Package workflow interprets the directed conversation graphs that guide a
// specialist agent through its stages. A workflow file declares nodes
// (start, message, decision, tool, end, process) and labelled edges; the
// engine tracks the current node, reports transition validity, and renders
// the graph into the flat textual form injected into the voice-model system
// prompt.
package workflow

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// NodeType classifies a workflow node.
type NodeType string

const (
	NodeStart    NodeType = "start"
	NodeMessage  NodeType = "message"
	NodeDecision NodeType = "decision"
	NodeTool     NodeType = "tool"
	NodeEnd      NodeType = "end"
	NodeProcess  NodeType = "process"
)

// IsValid reports whether t is a recognised node type.
func (t NodeType) IsValid() bool {
	switch t {
	case NodeStart, NodeMessage, NodeDecision, NodeTool, NodeEnd, NodeProcess:
		return true
	}
	return false
}

// Node is one stage of a workflow.
type Node struct {
	ID         string   `json:"id"`
	Type       NodeType `json:"type"`
	Label      string   `json:"label"`
	Message    string   `json:"message,omitempty"`
	ToolName   string   `json:"toolName,omitempty"`
	Outcome    string   `json:"outcome,omitempty"`
	WorkflowID string   `json:"workflowId,omitempty"`
}

// Edge is a directed transition between two nodes.
type Edge struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Label string `json:"label,omitempty"`
}

// Metadata carries optional authoring extras.
type Metadata struct {
	Persona  string `json:"persona,omitempty"`
	Language string `json:"language,omitempty"`
}

// Definition is a parsed workflow file.
type Definition struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	Nodes      []Node         `json:"nodes"`
	Edges      []Edge         `json:"edges"`
	VoiceID    string         `json:"voiceId,omitempty"`
	Metadata   Metadata       `json:"metadata,omitempty"`
	TestConfig map[string]any `json:"testConfig,omitempty"`
}

// Load reads and validates a workflow definition from a JSON file.
func Load(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("workflow: read %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes and validates a workflow definition.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("workflow: decode: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks structural invariants: exactly one start node, known node
// types, edges referencing declared nodes, and terminal nodes typed end.
// All violations are reported in a single joined error.
func (d *Definition) Validate() error {
	var errs []error

	if d.ID == "" {
		errs = append(errs, errors.New("workflow: id is required"))
	}

	ids := make(map[string]*Node, len(d.Nodes))
	startCount := 0
	for i := range d.Nodes {
		n := &d.Nodes[i]
		if n.ID == "" {
			errs = append(errs, fmt.Errorf("workflow: nodes[%d] has no id", i))
			continue
		}
		if _, dup := ids[n.ID]; dup {
			errs = append(errs, fmt.Errorf("workflow: duplicate node id %q", n.ID))
		}
		ids[n.ID] = n
		if !n.Type.IsValid() {
			errs = append(errs, fmt.Errorf("workflow: node %q has invalid type %q", n.ID, n.Type))
		}
		if n.Type == NodeStart {
			startCount++
		}
	}
	if startCount != 1 {
		errs = append(errs, fmt.Errorf("workflow: exactly one start node required, found %d", startCount))
	}

	hasOutgoing := make(map[string]bool, len(d.Nodes))
	for i, e := range d.Edges {
		if _, ok := ids[e.From]; !ok {
			errs = append(errs, fmt.Errorf("workflow: edges[%d].from references unknown node %q", i, e.From))
		}
		if _, ok := ids[e.To]; !ok {
			errs = append(errs, fmt.Errorf("workflow: edges[%d].to references unknown node %q", i, e.To))
		}
		hasOutgoing[e.From] = true
	}

	// Terminal nodes (no outgoing edges) must be typed end.
	for id, n := range ids {
		if !hasOutgoing[id] && n.Type != NodeEnd {
			errs = append(errs, fmt.Errorf("workflow: terminal node %q must be typed end, is %q", id, n.Type))
		}
	}

	return errors.Join(errs...)
}

// start returns the start node id. Validate guarantees exactly one exists.
func (d *Definition) start() string {
	for _, n := range d.Nodes {
		if n.Type == NodeStart {
			return n.ID
		}
	}
	return ""
}

// Transition is the result of an [Engine.Transition] call. Invalid
// transitions are reported, not raised — the caller decides enforcement.
type Transition struct {
	Previous string
	Current  string
	Valid    bool
}

// Engine tracks the current node of one session's walk through a workflow.
// Safe for concurrent use.
type Engine struct {
	def *Definition

	mu      sync.Mutex
	current string

	edges map[string]map[string]bool // from → to set
	nodes map[string]Node
}

// NewEngine creates an engine positioned at the workflow's start node.
func NewEngine(def *Definition) *Engine {
	edges := make(map[string]map[string]bool, len(def.Nodes))
	for _, e := range def.Edges {
		set, ok := edges[e.From]
		if !ok {
			set = make(map[string]bool)
			edges[e.From] = set
		}
		set[e.To] = true
	}
	nodes := make(map[string]Node, len(def.Nodes))
	for _, n := range def.Nodes {
		nodes[n.ID] = n
	}
	return &Engine{
		def:     def,
		current: def.start(),
		edges:   edges,
		nodes:   nodes,
	}
}

// Current returns the node the session is on.
func (e *Engine) Current() Node {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.nodes[e.current]
}

// Transition moves to toNodeID and reports whether an edge permitted the
// move. Re-initialising to the start node is always valid. Unknown target
// ids leave the position unchanged and report invalid.
func (e *Engine) Transition(toNodeID string) Transition {
	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.current
	if _, ok := e.nodes[toNodeID]; !ok {
		return Transition{Previous: prev, Current: prev, Valid: false}
	}

	valid := toNodeID == e.def.start() || e.edges[prev][toNodeID]
	e.current = toNodeID
	return Transition{Previous: prev, Current: toNodeID, Valid: valid}
}

// Restore positions the engine at nodeID without validity checking. Used
// when resuming a handed-off session from persisted graph state.
func (e *Engine) Restore(nodeID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.nodes[nodeID]; ok {
		e.current = nodeID
	}
}

// Describe renders the workflow as the flat text block injected into the
// voice-model system prompt: one line per node with its label and payload,
// then one line per edge.
func (e *Engine) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Workflow: %s\n", e.def.Name)
	fmt.Fprintf(&b, "Stages:\n")
	for _, n := range e.def.Nodes {
		fmt.Fprintf(&b, "- [%s] %s (%s)", n.ID, n.Label, n.Type)
		switch {
		case n.Message != "":
			fmt.Fprintf(&b, ": say %q", n.Message)
		case n.ToolName != "":
			fmt.Fprintf(&b, ": call tool %s", n.ToolName)
		case n.Outcome != "":
			fmt.Fprintf(&b, ": outcome %s", n.Outcome)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Transitions:\n")
	for _, edge := range e.def.Edges {
		if edge.Label != "" {
			fmt.Fprintf(&b, "- %s -> %s when %s\n", edge.From, edge.To, edge.Label)
		} else {
			fmt.Fprintf(&b, "- %s -> %s\n", edge.From, edge.To)
		}
	}
	return b.String()
}
