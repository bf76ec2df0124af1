package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// CodexClient shells out to the Codex CLI, parsing its newline-delimited
// JSON event stream for the final agent message.
type CodexClient struct {
	command string
	model   string
	workDir string
	pm      *ProcessManager
}

// codexEvent is the envelope of one line in the Codex event stream.
type codexEvent struct {
	Type string `json:"type"`
	Item struct {
		Type string `json:"item_type"`
		Text string `json:"text"`
	} `json:"item"`
	ThreadID string `json:"thread_id"`
}

// NewCodexClient creates a Codex CLI client.
func NewCodexClient(cfg ProviderConfig, pm *ProcessManager) *CodexClient {
	command := cfg.Command
	if command == "" {
		command = "codex"
	}
	return &CodexClient{
		command: command,
		model:   cfg.Model,
		workDir: cfg.WorkDir,
		pm:      pm,
	}
}

// Generate runs `codex exec --json` and extracts the final assistant message.
func (c *CodexClient) Generate(ctx context.Context, req Request) (Response, error) {
	args := []string{"exec", "--json"}
	model := req.Model
	if model == "" {
		model = c.model
	}
	if model != "" {
		args = append(args, "--model", model)
	}

	prompt := req.Prompt
	if req.SystemPrompt != "" {
		prompt = req.SystemPrompt + "\n\n" + prompt
	}
	args = append(args, prompt)

	cmd := newCommand(ctx, c.command, args...)
	cmd.Dir = c.workDir

	stdout, stderr, err := runCommand(ctx, cmd, c.pm)
	if err != nil {
		return Response{}, &Error{Provider: "codex", Err: err}
	}

	threadID, text, err := parseCodexEvents(stdout)
	if err != nil {
		return Response{}, &Error{
			Provider: "codex",
			Err:      fmt.Errorf("malformed event stream: %w (stderr: %s)", err, string(stderr)),
		}
	}

	return Response{Text: text, SessionID: threadID}, nil
}

// Close is a no-op for the subprocess-per-request model.
func (c *CodexClient) Close() error { return nil }

// parseCodexEvents scans the NDJSON event stream for the thread ID and the
// last agent message text. Unparseable lines are skipped; a stream with no
// agent message at all is an error.
func parseCodexEvents(data []byte) (threadID, text string, err error) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var ev codexEvent
		if json.Unmarshal([]byte(line), &ev) != nil {
			continue
		}

		switch ev.Type {
		case "thread.started":
			threadID = ev.ThreadID
		case "item.completed":
			if ev.Item.Type == "agent_message" {
				text = ev.Item.Text
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return "", "", fmt.Errorf("scanning events: %w", err)
	}
	if text == "" {
		return "", "", fmt.Errorf("no agent message in event stream")
	}
	return threadID, text, nil
}
