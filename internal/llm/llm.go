// Package llm wraps the external text-generation capability consumed by agent
// capabilities and LLM-backed quality gates. Adapters shell out to provider
// CLIs; the rest of the engine only sees the Client interface.
package llm

import (
	"context"
	"fmt"
)

// Request is one generation request.
type Request struct {
	Prompt       string
	SystemPrompt string
	Model        string // Optional model override
}

// Response is the text returned by a provider.
type Response struct {
	Text      string
	SessionID string // Provider conversation handle, if any
}

// Client is the opaque generation capability.
// Generate blocks until the provider answers or ctx expires; failures
// (timeout, quota, transport) surface as *Error and are retryable.
type Client interface {
	Generate(ctx context.Context, req Request) (Response, error)
	Close() error
}

// Error is a transient generation failure (timeout, quota, malformed
// provider output). Callers retry these with backoff.
type Error struct {
	Provider string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("llm %s: %v", e.Provider, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ProviderConfig describes how to reach one provider CLI.
type ProviderConfig struct {
	Type    string // "claude", "codex", or "stub"
	Command string // CLI binary, defaults to Type
	Model   string
	WorkDir string
}

// New creates a client for the given provider configuration.
func New(cfg ProviderConfig, pm *ProcessManager) (Client, error) {
	switch cfg.Type {
	case "claude":
		return NewClaudeClient(cfg, pm), nil
	case "codex":
		return NewCodexClient(cfg, pm), nil
	case "stub":
		return NewStubClient(nil), nil
	default:
		return nil, fmt.Errorf("unknown provider type: %s", cfg.Type)
	}
}
