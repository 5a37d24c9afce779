package tools

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/voicemesh/voicemesh/pkg/voice"
)

// Definition is one loaded tool record. Tool files in the wild carry their
// JSON Schema under input_schema, inputSchema, or parameters; the loader
// normalises all three to InputSchema and compiles it once.
type Definition struct {
	Name        string
	Description string
	InputSchema map[string]any

	// Instruction is an optional prompt fragment describing when the model
	// should call this tool. Appended to the system prompt by the runtime.
	Instruction string

	// AgentPrompt optionally overrides the persona body for agents whose
	// primary job is this tool.
	AgentPrompt string

	// GatewayTarget optionally pins a handoff tool to an explicit agent id,
	// bypassing name derivation.
	GatewayTarget string

	// Kind is assigned from the tool name at load time.
	Kind Kind

	schema *jsonschema.Schema
}

// rawDefinition matches the on-disk tool file shape before normalisation.
type rawDefinition struct {
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	InputSchema1  map[string]any `json:"input_schema"`
	InputSchema2  map[string]any `json:"inputSchema"`
	Parameters    map[string]any `json:"parameters"`
	Instruction   string         `json:"instruction"`
	AgentPrompt   string         `json:"agentPrompt"`
	GatewayTarget string         `json:"gatewayTarget"`
}

// ParseDefinitions decodes one tool file. The file holds either a single
// definition object or an array of them.
func ParseDefinitions(data []byte) ([]Definition, error) {
	trimmed := strings.TrimSpace(string(data))
	var raws []rawDefinition
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, fmt.Errorf("tools: decode definitions: %w", err)
		}
	} else {
		var one rawDefinition
		if err := json.Unmarshal(data, &one); err != nil {
			return nil, fmt.Errorf("tools: decode definition: %w", err)
		}
		raws = append(raws, one)
	}

	defs := make([]Definition, 0, len(raws))
	for _, raw := range raws {
		def, err := normalize(raw)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, nil
}

// normalize maps a raw record to a [Definition] and compiles its schema.
func normalize(raw rawDefinition) (Definition, error) {
	if raw.Name == "" {
		return Definition{}, fmt.Errorf("tools: definition missing name")
	}
	schema := raw.InputSchema1
	if schema == nil {
		schema = raw.InputSchema2
	}
	if schema == nil {
		schema = raw.Parameters
	}

	def := Definition{
		Name:          raw.Name,
		Description:   raw.Description,
		InputSchema:   schema,
		Instruction:   raw.Instruction,
		AgentPrompt:   raw.AgentPrompt,
		GatewayTarget: raw.GatewayTarget,
		Kind:          Classify(raw.Name),
	}

	if schema != nil {
		compiled, err := compileSchema(raw.Name, schema)
		if err != nil {
			return Definition{}, fmt.Errorf("tools: %s: %w", raw.Name, err)
		}
		def.schema = compiled
	}
	return def, nil
}

// compileSchema compiles a JSON Schema document for input validation.
func compileSchema(name string, doc map[string]any) (*jsonschema.Schema, error) {
	c := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, any(doc)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := c.Compile(resource)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// ValidateInput checks input against the compiled schema. Definitions
// without a schema accept anything.
func (d *Definition) ValidateInput(input map[string]any) error {
	if d.schema == nil {
		return nil
	}
	if input == nil {
		input = map[string]any{}
	}
	// The validator wants plain decoded JSON values.
	if err := d.schema.Validate(any(input)); err != nil {
		return fmt.Errorf("tools: %s: invalid input: %w", d.Name, err)
	}
	return nil
}

// LoadDir reads every *.json file under dir and returns the merged,
// name-sorted definition list. Duplicate names are rejected.
func LoadDir(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("tools: read dir %s: %w", dir, err)
	}

	seen := make(map[string]bool)
	var defs []Definition
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("tools: read %s: %w", entry.Name(), err)
		}
		parsed, err := ParseDefinitions(data)
		if err != nil {
			return nil, fmt.Errorf("tools: %s: %w", entry.Name(), err)
		}
		for _, def := range parsed {
			if seen[def.Name] {
				return nil, fmt.Errorf("tools: duplicate definition %q", def.Name)
			}
			seen[def.Name] = true
			defs = append(defs, def)
		}
	}

	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs, nil
}

// Specs converts definitions to the shape offered to the voice model.
func Specs(defs []Definition) []voice.ToolSpec {
	specs := make([]voice.ToolSpec, 0, len(defs))
	for _, def := range defs {
		specs = append(specs, voice.ToolSpec{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: def.InputSchema,
		})
	}
	return specs
}
