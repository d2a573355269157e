package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Registry is the default ToolRegistry: a name-keyed map with JSON Schema
// validation of arguments on every Invoke.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	schema map[string]*jsonschema.Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool), schema: make(map[string]*jsonschema.Schema)}
}

// Register adds tool, compiling its declared JSON Schema. A tool with an
// invalid schema panics at registration time rather than failing silently
// on every call.
func (r *Registry) Register(tool Tool) {
	schema := tool.Schema()
	compiled, err := compileSchema(schema.Name, schema.Parameters)
	if err != nil {
		panic(fmt.Sprintf("agent: tool %s has invalid parameter schema: %v", schema.Name, err))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[schema.Name] = tool
	r.schema[schema.Name] = compiled
}

// Lookup returns the tool registered under name, if any.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Schemas lists every registered tool's calling convention.
func (r *Registry) Schemas() []ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Schema())
	}
	return out
}

// Validate checks argsJSON against the named tool's compiled schema.
func (r *Registry) Validate(name string, argsJSON json.RawMessage) error {
	r.mu.RLock()
	compiled, ok := r.schema[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("agent: unknown tool %q", name)
	}
	if compiled == nil {
		return nil
	}

	var doc interface{}
	if len(argsJSON) == 0 {
		argsJSON = []byte("{}")
	}
	if err := json.Unmarshal(argsJSON, &doc); err != nil {
		return fmt.Errorf("agent: tool %s: arguments are not valid JSON: %w", name, err)
	}
	if err := compiled.Validate(doc); err != nil {
		return fmt.Errorf("agent: tool %s: %w", name, err)
	}
	return nil
}

func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	c := jsonschema.NewCompiler()
	url := "mem://" + name + ".json"
	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := c.AddResource(url, doc); err != nil {
		return nil, err
	}
	return c.Compile(url)
}

// Invoke validates argsJSON before calling tool.Invoke, producing the same
// error-shaped ToolResult the spec requires for bad arguments rather than
// returning a Go error from the happy path.
func (r *Registry) Invoke(ctx context.Context, name string, argsJSON json.RawMessage) ToolResult {
	tool, ok := r.Lookup(name)
	if !ok {
		return ToolResult{Text: fmt.Sprintf(`{"error":"unknown tool %q"}`, name), IsError: true}
	}
	if err := r.Validate(name, argsJSON); err != nil {
		return ToolResult{Text: fmt.Sprintf(`{"error":%q}`, err.Error()), IsError: true}
	}
	result, err := tool.Invoke(ctx, argsJSON)
	if err != nil {
		return ToolResult{Text: fmt.Sprintf(`{"error":%q}`, err.Error()), IsError: true}
	}
	return result
}
