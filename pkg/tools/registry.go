// Package tools implements the tool registry and dispatcher used by the
// agentic controllers: JSON-schema validated tool definitions, error-as-result
// dispatch so the model loop never aborts on a failed tool, and the built-in
// tool sets for each project type.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/AshishKumar4/vibesdk-ashish/pkg/inference"
)

// Definition is one callable tool.
type Definition struct {
	Name        string
	Description string
	Schema      json.RawMessage
	Run         func(ctx context.Context, input json.RawMessage) (any, error)

	// OnStart and OnComplete observe dispatch. OnStart fires after the input
	// passes validation; OnComplete fires with the serialized result, or with
	// the failure when the run errored. Both are optional.
	OnStart    func(ctx context.Context, input json.RawMessage)
	OnComplete func(ctx context.Context, result string, err error)
}

// ErrorResult is the payload returned to the model when a tool fails. Tool
// failures are data, not control flow: the loop continues.
type ErrorResult struct {
	Error string `json:"error"`
}

type entry struct {
	def      *Definition
	compiled *jsonschema.Schema
}

// Registry holds the tools available to one controller run.
type Registry struct {
	entries map[string]*entry
	log     *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{entries: make(map[string]*entry), log: log}
}

// Register adds a tool, compiling its input schema. Duplicate names and
// invalid schemas are rejected.
func (r *Registry) Register(def *Definition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("tool definition requires a name")
	}
	if _, exists := r.entries[def.Name]; exists {
		return fmt.Errorf("tool %q is already registered", def.Name)
	}
	if def.Run == nil {
		return fmt.Errorf("tool %q has no run function", def.Name)
	}

	e := &entry{def: def}
	if len(def.Schema) > 0 {
		compiled, err := compileSchema(def.Name, def.Schema)
		if err != nil {
			return fmt.Errorf("tool %q schema: %w", def.Name, err)
		}
		e.compiled = compiled
	}
	r.entries[def.Name] = e
	return nil
}

// RegisterAll registers each definition, stopping at the first failure.
func (r *Registry) RegisterAll(defs []*Definition) error {
	for _, def := range defs {
		if err := r.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// Definitions returns the provider-facing tool advertisements, sorted by name
// for stable prompts.
func (r *Registry) Definitions() []inference.ToolDefinition {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]inference.ToolDefinition, 0, len(names))
	for _, name := range names {
		def := r.entries[name].def
		schema := def.Schema
		if len(schema) == 0 {
			schema = json.RawMessage(`{"type":"object"}`)
		}
		out = append(out, inference.ToolDefinition{
			Name:        def.Name,
			Description: def.Description,
			Schema:      schema,
		})
	}
	return out
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[name]
	return ok
}

// Each invokes fn with every registered definition, in name order. Callers
// use it to install dispatch observers after assembling a registry.
func (r *Registry) Each(fn func(def *Definition)) {
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fn(r.entries[name].def)
	}
}

// Dispatch validates and executes one tool call, always producing a result
// for the model. Unknown tools, schema violations, and run failures are
// returned as error results.
func (r *Registry) Dispatch(ctx context.Context, call inference.ToolCall) inference.ToolResult {
	e, ok := r.entries[call.Name]
	if !ok {
		return errorResult(call.ID, fmt.Sprintf("unknown tool %q", call.Name))
	}

	input := call.Input
	if len(input) == 0 {
		input = json.RawMessage(`{}`)
	}
	if e.compiled != nil {
		inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(input))
		if err != nil {
			return errorResult(call.ID, fmt.Sprintf("tool %q input is not valid JSON: %v", call.Name, err))
		}
		if err := e.compiled.Validate(inst); err != nil {
			return errorResult(call.ID, fmt.Sprintf("tool %q input failed validation: %v", call.Name, err))
		}
	}

	r.log.Debug("Dispatching tool call", "tool", call.Name, "call_id", call.ID)
	if e.def.OnStart != nil {
		e.def.OnStart(ctx, input)
	}
	out, err := e.def.Run(ctx, input)
	if err != nil {
		r.log.Warn("Tool execution failed", "tool", call.Name, "error", err)
		if e.def.OnComplete != nil {
			e.def.OnComplete(ctx, "", err)
		}
		return errorResult(call.ID, err.Error())
	}

	content := ""
	switch v := out.(type) {
	case nil:
		content = `{"success":true}`
	case string:
		content = v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			if e.def.OnComplete != nil {
				e.def.OnComplete(ctx, "", err)
			}
			return errorResult(call.ID, fmt.Sprintf("tool %q produced an unserializable result: %v", call.Name, err))
		}
		content = string(raw)
	}
	if e.def.OnComplete != nil {
		e.def.OnComplete(ctx, content, nil)
	}
	return inference.ToolResult{ToolCallID: call.ID, Content: content}
}

func errorResult(callID, msg string) inference.ToolResult {
	raw, _ := json.Marshal(ErrorResult{Error: msg})
	return inference.ToolResult{ToolCallID: callID, Content: string(raw), IsError: true}
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	resource := name + ".schema.json"
	if err := c.AddResource(resource, doc); err != nil {
		return nil, err
	}
	return c.Compile(resource)
}
