package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kyleking/nest-mcp/internal/storage"
)

// Handler executes one tool with arguments that already passed schema
// validation.
type Handler func(ctx context.Context, args json.RawMessage) (*storage.QueryResult, error)

// Descriptor is the published contract of a tool
type Descriptor struct {
	Name        string             `json:"name"`
	Title       string             `json:"title"`
	Description string             `json:"description"`
	InputSchema *jsonschema.Schema `json:"input_schema"`
	ReadOnly    bool               `json:"read_only"`
}

// Tool binds a descriptor to its resolved schema and handler
type Tool struct {
	Descriptor

	resolved *jsonschema.Resolved
	handler  Handler
}

// Validate checks decoded arguments against the tool's schema
func (t *Tool) Validate(args any) error {
	return t.resolved.Validate(args)
}

// Registry maps tool names to tools. It is populated once and read
// concurrently afterwards.
type Registry struct {
	tools map[string]*Tool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]*Tool)}
}

// Register adds a tool described by a raw JSON schema
func (r *Registry) Register(d Descriptor, rawSchema string, handler Handler) error {
	if _, exists := r.tools[d.Name]; exists {
		return fmt.Errorf("tool %q already registered", d.Name)
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal([]byte(rawSchema), &schema); err != nil {
		return fmt.Errorf("failed to parse schema for %s: %w", d.Name, err)
	}

	resolved, err := schema.Resolve(nil)
	if err != nil {
		return fmt.Errorf("failed to resolve schema for %s: %w", d.Name, err)
	}

	d.InputSchema = &schema
	r.tools[d.Name] = &Tool{Descriptor: d, resolved: resolved, handler: handler}

	return nil
}

// Lookup returns the tool registered under name
func (r *Registry) Lookup(name string) (*Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Descriptors returns every descriptor sorted by name
func (r *Registry) Descriptors() []Descriptor {
	out := make([]Descriptor, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Descriptor)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })

	return out
}

// MCPTools renders the catalog as MCP tool definitions
func (r *Registry) MCPTools() []*mcp.Tool {
	descriptors := r.Descriptors()
	out := make([]*mcp.Tool, 0, len(descriptors))

	for _, d := range descriptors {
		out = append(out, &mcp.Tool{
			Name:        d.Name,
			Title:       d.Title,
			Description: d.Description,
			InputSchema: d.InputSchema,
			Annotations: &mcp.ToolAnnotations{
				Title:        d.Title,
				ReadOnlyHint: d.ReadOnly,
			},
		})
	}

	return out
}
