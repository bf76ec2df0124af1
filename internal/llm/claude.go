package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// ClaudeClient shells out to the Claude Code CLI, one subprocess per request.
type ClaudeClient struct {
	command string
	model   string
	workDir string
	pm      *ProcessManager
}

// claudeOutput is the JSON envelope printed by `claude -p --output-format json`.
type claudeOutput struct {
	SessionID string `json:"session_id"`
	Result    string `json:"result"`
	IsError   bool   `json:"is_error"`
}

// NewClaudeClient creates a Claude CLI client.
func NewClaudeClient(cfg ProviderConfig, pm *ProcessManager) *ClaudeClient {
	command := cfg.Command
	if command == "" {
		command = "claude"
	}
	return &ClaudeClient{
		command: command,
		model:   cfg.Model,
		workDir: cfg.WorkDir,
		pm:      pm,
	}
}

// Generate runs one non-interactive CLI invocation and parses its JSON output.
func (c *ClaudeClient) Generate(ctx context.Context, req Request) (Response, error) {
	sessionID := uuid.NewString()

	args := []string{"-p", "--output-format", "json", "--session-id", sessionID}
	model := req.Model
	if model == "" {
		model = c.model
	}
	if model != "" {
		args = append(args, "--model", model)
	}
	if req.SystemPrompt != "" {
		args = append(args, "--append-system-prompt", req.SystemPrompt)
	}
	args = append(args, req.Prompt)

	cmd := newCommand(ctx, c.command, args...)
	cmd.Dir = c.workDir

	stdout, stderr, err := runCommand(ctx, cmd, c.pm)
	if err != nil {
		return Response{}, &Error{Provider: "claude", Err: err}
	}

	var out claudeOutput
	if err := json.Unmarshal(stdout, &out); err != nil {
		return Response{}, &Error{
			Provider: "claude",
			Err:      fmt.Errorf("malformed CLI output: %w (stderr: %s)", err, string(stderr)),
		}
	}
	if out.IsError {
		return Response{}, &Error{
			Provider: "claude",
			Err:      fmt.Errorf("provider reported error: %s", out.Result),
		}
	}

	return Response{Text: out.Result, SessionID: out.SessionID}, nil
}

// Close is a no-op for the subprocess-per-request model.
func (c *ClaudeClient) Close() error { return nil }
