// ABOUTME: Thread-safe registry mapping tool names to schemas and handlers.
// ABOUTME: The single source of truth for what operations exist; holds no tool business logic.

package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrUnknownTool indicates the requested tool name is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// Handler executes a tool against validated arguments.
type Handler func(ctx context.Context, args map[string]any) (any, error)

// Descriptor describes one registered tool: its name, argument schema, and
// handler. Descriptors are static after registry initialization.
type Descriptor struct {
	Name        string
	Description string
	InputSchema json.RawMessage
	ReadOnly    bool
	Handler     Handler

	schema *jsonschema.Schema
}

// Registry maintains the set of registered tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Descriptor
	logger *slog.Logger
}

// NewRegistry creates a new Registry instance.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		tools:  make(map[string]*Descriptor),
		logger: logger.With("component", "tools"),
	}
}

// Register validates and stores a descriptor, compiling its argument schema
// once. Returns ErrToolCollision if the name is already taken.
func (r *Registry) Register(d *Descriptor) error {
	if d.Name == "" {
		return fmt.Errorf("tool name is required")
	}

	compiled, err := compileSchema(d.Name, d.InputSchema)
	if err != nil {
		return fmt.Errorf("compiling schema for %q: %w", d.Name, err)
	}
	d.schema = compiled

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("%w: %q", ErrToolCollision, d.Name)
	}
	r.tools[d.Name] = d

	r.logger.Info("tool registered", "name", d.Name, "read_only", d.ReadOnly, "total_tools", len(r.tools))
	return nil
}

// Lookup finds a tool by name, failing with ErrUnknownTool.
func (r *Registry) Lookup(name string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	d, exists := r.tools[name]
	if !exists {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTool, name)
	}
	return d, nil
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []*Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Descriptor, 0, len(r.tools))
	for _, d := range r.tools {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// compileSchema compiles a JSON Schema document once at registration time.
func compileSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
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
