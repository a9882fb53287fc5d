package tools

import (
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Registry manages available tools with thread-safe operations.
type Registry interface {
	RegisterTool(name string, def Definition) error
	GetTool(name string) (*Definition, error)
	ListTools() []Definition
	UnregisterTool(name string) error

	Clone() Registry
	Merge(other Registry) Registry
}

// InMemoryRegistry is a mutex-guarded in-memory Registry.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Definition
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{
		tools: make(map[string]Definition),
	}
}

func (r *InMemoryRegistry) RegisterTool(name string, def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		return errors.New("tool name cannot be empty")
	}
	if def.Name != "" && def.Name != name {
		return errors.Errorf("tool definition name (%s) does not match registry name (%s)", def.Name, name)
	}
	def.Name = name
	r.tools[name] = def
	return nil
}

// GetTool retrieves a tool by name, returning a copy to prevent external
// modification.
func (r *InMemoryRegistry) GetTool(name string) (*Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tool, exists := r.tools[name]
	if !exists {
		return nil, errors.Errorf("tool not found: %s", name)
	}
	toolCopy := tool
	return &toolCopy, nil
}

// ListTools returns all registered tools sorted by name.
func (r *InMemoryRegistry) ListTools() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Definition, 0, len(r.tools))
	for _, tool := range r.tools {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (r *InMemoryRegistry) UnregisterTool(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return errors.Errorf("tool not found: %s", name)
	}
	delete(r.tools, name)
	return nil
}

// Clone creates a copy of the registry.
func (r *InMemoryRegistry) Clone() Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	cloned := NewInMemoryRegistry()
	for name, tool := range r.tools {
		cloned.tools[name] = tool
	}
	return cloned
}

// Merge returns a new registry containing tools from both registries; on
// conflicts the other registry wins.
func (r *InMemoryRegistry) Merge(other Registry) Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	merged := NewInMemoryRegistry()
	for name, tool := range r.tools {
		merged.tools[name] = tool
	}
	for _, tool := range other.ListTools() {
		merged.tools[tool.Name] = tool
	}
	return merged
}

// HasTool checks if a tool exists in the registry.
func (r *InMemoryRegistry) HasTool(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tools[name]
	return exists
}

// Count returns the number of registered tools.
func (r *InMemoryRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}

var _ Registry = (*InMemoryRegistry)(nil)
