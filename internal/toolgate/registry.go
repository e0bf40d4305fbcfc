// ABOUTME: Registry of in-process tools available through the tool execution gateway.
// ABOUTME: Handles registration with collision detection, lookup, and listing with schemas.

package toolgate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ErrToolCollision indicates a tool name is already registered.
var ErrToolCollision = errors.New("tool name collision")

// ErrInvalidTool indicates a tool definition is incomplete.
var ErrInvalidTool = errors.New("invalid tool")

// HandlerFunc executes a tool. caller identifies the agent the call is made
// on behalf of; args have already been validated against the tool's schema.
type HandlerFunc func(ctx context.Context, caller string, args map[string]any) (string, error)

// Tool is a named capability the gateway can execute.
type Tool struct {
	Name        string
	Description string
	Category    string
	InputSchema json.RawMessage
	Handler     HandlerFunc

	validator *sjsonschema.Schema
}

// Definition is the public description of a registered tool.
type Definition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// NewTool builds a tool whose arguments are described by T. The schema is
// reflected from T and arguments are decoded into T before fn runs.
func NewTool[T any](name, description, category string, fn func(ctx context.Context, caller string, args T) (string, error)) (*Tool, error) {
	schema, err := SchemaFor[T]()
	if err != nil {
		return nil, fmt.Errorf("tool %s: %w", name, err)
	}
	return &Tool{
		Name:        name,
		Description: description,
		Category:    category,
		InputSchema: schema,
		Handler: func(ctx context.Context, caller string, args map[string]any) (string, error) {
			typed, err := DecodeArgs[T](args)
			if err != nil {
				return "", err
			}
			return fn(ctx, caller, typed)
		},
	}, nil
}

// Registry maintains the set of registered tools.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]*Tool
	logger *slog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]*Tool),
		logger: logger.With("component", "toolgate"),
	}
}

// Register validates and stores tools. Either all tools are registered or
// none are.
func (r *Registry) Register(tools ...*Tool) error {
	for _, t := range tools {
		if t == nil || t.Name == "" || t.Handler == nil {
			return fmt.Errorf("%w: name and handler are required", ErrInvalidTool)
		}
		if t.Category == "" {
			return fmt.Errorf("%w: tool %q has no category", ErrInvalidTool, t.Name)
		}
		if len(t.InputSchema) == 0 {
			t.InputSchema = json.RawMessage(`{"type":"object"}`)
		}
		if t.validator == nil {
			v, err := compileSchema(t.Name, t.InputSchema)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidTool, err)
			}
			t.validator = v
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(tools))
	for _, t := range tools {
		if _, exists := r.tools[t.Name]; exists || seen[t.Name] {
			return fmt.Errorf("%w: tool '%s' already registered", ErrToolCollision, t.Name)
		}
		seen[t.Name] = true
	}
	for _, t := range tools {
		r.tools[t.Name] = t
		r.logger.Debug("tool registered", "tool_name", t.Name, "category", t.Category)
	}
	return nil
}

// Get looks up a tool by name.
func (r *Registry) Get(name string) (*Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns every tool definition sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, Definition{
			Name:        t.Name,
			Description: t.Description,
			Category:    t.Category,
			InputSchema: t.InputSchema,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
