package tool

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"finagent/internal/domain"
)

type entry struct {
	tool   domain.Tool
	schema *jsonschema.Schema
}

// Registry holds named tools and their compiled argument schemas.
// It is filled at startup and only read afterwards.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]entry
	logger *slog.Logger
}

// NewRegistry creates an empty tool registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		tools:  make(map[string]entry),
		logger: logger,
	}
}

// Register adds a tool. It fails when the name is taken or the tool's
// parameter schema does not compile.
func (r *Registry) Register(t domain.Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return domain.NewDomainError("Registry.Register", domain.ErrDuplicateTool, name)
	}

	schema, err := compileSchema(name, t.Schema().Parameters)
	if err != nil {
		return domain.NewDomainError("Registry.Register", err, name)
	}

	r.tools[name] = entry{tool: t, schema: schema}
	r.logger.Debug("tool registered", "tool_name", name)
	return nil
}

// MustRegister registers every tool and panics on the first error.
func (r *Registry) MustRegister(tools ...domain.Tool) {
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) (domain.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.tools[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrToolNotFound, name)
	}
	return e.tool, nil
}

// List returns all registered tools sorted by name.
func (r *Registry) List() []domain.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]domain.Tool, 0, len(r.tools))
	for _, e := range r.tools {
		tools = append(tools, e.tool)
	}
	sort.Slice(tools, func(i, j int) bool { return tools[i].Name() < tools[j].Name() })
	return tools
}

// Schemas returns the tool schemas for function calling, sorted by name.
func (r *Registry) Schemas() []domain.ToolSchema {
	tools := r.List()
	schemas := make([]domain.ToolSchema, len(tools))
	for i, t := range tools {
		schemas[i] = t.Schema()
	}
	return schemas
}

// Validate checks args against the named tool's schema. It has no side
// effects, so repeated calls with the same input give the same answer.
func (r *Registry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	e, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return domain.NewDomainError("Registry.Validate", domain.ErrToolNotFound, name)
	}
	if e.schema == nil {
		return nil
	}

	var v any
	if err := json.Unmarshal(args, &v); err != nil {
		return fmt.Errorf("%w: arguments are not valid JSON: %v", domain.ErrToolValidation, err)
	}
	if err := e.schema.Validate(v); err != nil {
		return fmt.Errorf("%w: %s", domain.ErrToolValidation, describeValidation(err))
	}
	return nil
}

// describeValidation flattens a schema error into one line the model can act on.
func describeValidation(err error) string {
	ve, ok := err.(*jsonschema.ValidationError)
	if !ok {
		return err.Error()
	}
	var msgs []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			loc := e.InstanceLocation
			if loc == "" {
				loc = "arguments"
			}
			msgs = append(msgs, loc+": "+e.Message)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return strings.Join(msgs, "; ")
}
