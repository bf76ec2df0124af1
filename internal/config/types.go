package config

import "time"

// EngineConfig holds the orchestration limits. Every bound the engine
// enforces is explicit configuration here, never an unbounded default.
type EngineConfig struct {
	MaxParallelism       int `json:"max_parallelism"`        // Concurrent task dispatch budget
	MaxTaskRetries       int `json:"max_task_retries"`       // Invocation attempts per dispatch before hard failure
	InvokeTimeoutSeconds int `json:"invoke_timeout_seconds"` // Per-invocation bound, 0 = none
	MaxRetainedEvents    int `json:"max_retained_events"`    // Replay window per run, 0 = retain all
}

// InvokeTimeout returns the per-invocation bound as a duration.
func (c EngineConfig) InvokeTimeout() time.Duration {
	return time.Duration(c.InvokeTimeoutSeconds) * time.Second
}

// ProviderConfig defines a transport to one LLM CLI. Multiple capabilities
// can share one provider.
type ProviderConfig struct {
	Type    string `json:"type"`              // "claude", "codex", or "stub"
	Command string `json:"command,omitempty"` // CLI binary override, defaults to Type
	Model   string `json:"model,omitempty"`   // Default model for this provider
}

// CapabilityConfig defines one agent capability and how it is prompted.
type CapabilityConfig struct {
	Provider     string `json:"provider"`                // Key into Providers map
	Model        string `json:"model,omitempty"`         // Model override
	SystemPrompt string `json:"system_prompt,omitempty"` // Role framing
	Format       string `json:"format,omitempty"`        // "json" (default) or "text"
}

// GateConfig defines a quality gate rubric.
type GateConfig struct {
	Evaluator      string  `json:"evaluator"`                 // "artifact" or "llm"
	Provider       string  `json:"provider,omitempty"`        // Provider for the llm evaluator
	Model          string  `json:"model,omitempty"`           // Model override for grading
	Instructions   string  `json:"instructions,omitempty"`    // Grading criteria for the llm evaluator
	Threshold      float64 `json:"threshold"`                 // Minimum passing score, 0.0-1.0
	MaxRetries     int     `json:"max_retries,omitempty"`     // Attempts before hard failure, default 2
	TimeoutSeconds int     `json:"timeout_seconds,omitempty"` // Evaluation bound, 0 = none
}

// WorkflowTaskConfig defines one task in a workflow template.
type WorkflowTaskConfig struct {
	ID         string   `json:"id"`
	Capability string   `json:"capability"`           // Key into Capabilities map
	DependsOn  []string `json:"depends_on,omitempty"` // Task IDs within the same workflow
	Gate       string   `json:"gate,omitempty"`       // Key into Gates map, empty = ungated
}

// WorkflowConfig defines a workflow template: a named graph of tasks.
type WorkflowConfig struct {
	Tasks []WorkflowTaskConfig `json:"tasks"`
}

// Config is the top-level configuration.
type Config struct {
	Engine       EngineConfig                `json:"engine"`
	Providers    map[string]ProviderConfig   `json:"providers"`
	Capabilities map[string]CapabilityConfig `json:"capabilities"`
	Gates        map[string]GateConfig       `json:"gates"`
	Workflows    map[string]WorkflowConfig   `json:"workflows"`
}
