package config

// DefaultConfig returns the built-in providers, capabilities, gates, and
// workflow templates. User config files override by key.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			MaxParallelism:       4,
			MaxTaskRetries:       3,
			InvokeTimeoutSeconds: 300,
			MaxRetainedEvents:    0,
		},
		Providers: map[string]ProviderConfig{
			"claude": {Type: "claude"},
			"codex":  {Type: "codex"},
		},
		Capabilities: map[string]CapabilityConfig{
			"planner": {
				Provider:     "claude",
				SystemPrompt: "You break a feature request into a concrete, ordered implementation plan.",
				Format:       "text",
			},
			"coder": {
				Provider:     "claude",
				SystemPrompt: "You implement features and write production code. Respond with a JSON object containing a summary and an artifacts map of filename to content.",
			},
			"reviewer": {
				Provider:     "claude",
				SystemPrompt: "You review code for correctness, style, and missing tests. Respond with a JSON object containing a summary and an artifacts map.",
			},
		},
		Gates: map[string]GateConfig{
			"code_review": {
				Evaluator:      "llm",
				Provider:       "claude",
				Instructions:   "Check correctness, error handling, and that the change matches the plan.",
				Threshold:      0.8,
				MaxRetries:     2,
				TimeoutSeconds: 120,
			},
			"shape_check": {
				Evaluator:  "artifact",
				Threshold:  0.9,
				MaxRetries: 2,
			},
		},
		Workflows: map[string]WorkflowConfig{
			"full_stack_feature": {
				Tasks: []WorkflowTaskConfig{
					{ID: "plan", Capability: "planner"},
					{ID: "code", Capability: "coder", DependsOn: []string{"plan"}, Gate: "code_review"},
					{ID: "review", Capability: "reviewer", DependsOn: []string{"code"}},
				},
			},
			"quick_fix": {
				Tasks: []WorkflowTaskConfig{
					{ID: "code", Capability: "coder", Gate: "shape_check"},
					{ID: "review", Capability: "reviewer", DependsOn: []string{"code"}},
				},
			},
		},
	}
}
