package invoker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/agentmux/agentmux/internal/llm"
)

// OutputFormat declares what a capability is expected to return.
type OutputFormat string

const (
	// FormatJSON requires a JSON object with summary and artifacts.
	FormatJSON OutputFormat = "json"
	// FormatText accepts free text; the whole output becomes one artifact.
	FormatText OutputFormat = "text"
)

// Capability binds a name to a provider client and its prompt framing.
// The set of capabilities is closed at process start; dispatch is an explicit
// table lookup, never reflection.
type Capability struct {
	Name         string
	SystemPrompt string
	Model        string // Optional model override passed to the provider
	Format       OutputFormat
	Client       llm.Client
}

// Table is the capability registration table.
type Table struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewTable creates an empty capability table.
func NewTable() *Table {
	return &Table{caps: make(map[string]Capability)}
}

// Register adds a capability. Re-registering a name is an error.
func (t *Table) Register(c Capability) error {
	if c.Name == "" {
		return fmt.Errorf("capability name must not be empty")
	}
	if c.Client == nil {
		return fmt.Errorf("capability %q has no client", c.Name)
	}
	if c.Format == "" {
		c.Format = FormatJSON
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.caps[c.Name]; exists {
		return fmt.Errorf("capability %q already registered", c.Name)
	}
	t.caps[c.Name] = c
	return nil
}

// Resolve looks up a capability by name.
func (t *Table) Resolve(name string) (Capability, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	c, ok := t.caps[name]
	return c, ok
}

// Has reports whether a capability name is registered.
func (t *Table) Has(name string) bool {
	_, ok := t.Resolve(name)
	return ok
}

// Names returns all registered capability names, sorted.
func (t *Table) Names() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	names := make([]string, 0, len(t.caps))
	for name := range t.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
