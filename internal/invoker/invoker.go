// Package invoker executes a single agent task by calling the provider client
// registered for its capability and parsing the raw output into a structured
// result. It has no knowledge of workflow shape and never mutates run state.
package invoker

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/agentmux/agentmux/internal/llm"
	"github.com/agentmux/agentmux/internal/scheduler"
)

// ParseError means the capability's raw output could not be mapped to the
// expected result shape. The invoker never retries it; the scheduler applies
// its own retry policy.
type ParseError struct {
	Capability string
	Raw        string
	Err        error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s output: %v", e.Capability, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Invoker dispatches tasks to registered capabilities.
type Invoker struct {
	table   *Table
	timeout time.Duration
}

// New creates an Invoker over a capability table. timeout bounds each
// provider call; zero means no per-call bound beyond the caller's context.
func New(table *Table, timeout time.Duration) *Invoker {
	return &Invoker{table: table, timeout: timeout}
}

// Table returns the underlying capability table.
func (inv *Invoker) Table() *Table { return inv.table }

// Invoke runs one attempt of a task against its capability.
// Provider failures surface as *llm.Error; unmappable output as *ParseError.
// The snapshot is read-only; the result is handed back for the scheduler to merge.
func (inv *Invoker) Invoke(ctx context.Context, task *scheduler.AgentTask, snap *scheduler.ContextSnapshot) (*scheduler.AgentResult, error) {
	capability, ok := inv.table.Resolve(task.Capability)
	if !ok {
		return nil, fmt.Errorf("no capability registered for %q", task.Capability)
	}

	if inv.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, inv.timeout)
		defer cancel()
	}

	resp, err := capability.Client.Generate(ctx, llm.Request{
		Prompt:       buildPrompt(task, snap),
		SystemPrompt: capability.SystemPrompt,
		Model:        capability.Model,
	})
	if err != nil {
		return nil, err
	}

	return parseResult(capability, task.ID, resp.Text)
}

// buildPrompt frames the task input with the artifacts accumulated so far,
// so each capability sees what earlier tasks produced.
func buildPrompt(task *scheduler.AgentTask, snap *scheduler.ContextSnapshot) string {
	var b strings.Builder
	b.WriteString(task.Input)

	names := snap.ArtifactNames()
	if len(names) > 0 {
		b.WriteString("\n\nArtifacts from earlier tasks:\n")
		for _, name := range names {
			value, _ := snap.Artifact(name)
			fmt.Fprintf(&b, "\n--- %s ---\n%s\n", name, value)
		}
	}
	if n := snap.Attempts(task.ID); n > 0 {
		fmt.Fprintf(&b, "\nThis is attempt %d for this task.\n", n+1)
	}
	return b.String()
}

// structuredOutput is the JSON contract for FormatJSON capabilities.
type structuredOutput struct {
	Summary   string            `json:"summary"`
	Artifacts map[string]string `json:"artifacts"`
}

func parseResult(capability Capability, taskID, raw string) (*scheduler.AgentResult, error) {
	if capability.Format == FormatText {
		return &scheduler.AgentResult{
			TaskID:    taskID,
			Summary:   firstLine(raw),
			Output:    raw,
			Artifacts: map[string]string{taskID + ".out": raw},
		}, nil
	}

	payload, err := extractJSON(raw)
	if err != nil {
		return nil, &ParseError{Capability: capability.Name, Raw: raw, Err: err}
	}

	var out structuredOutput
	if err := json.Unmarshal([]byte(payload), &out); err != nil {
		return nil, &ParseError{Capability: capability.Name, Raw: raw, Err: err}
	}
	if out.Summary == "" && len(out.Artifacts) == 0 {
		return nil, &ParseError{
			Capability: capability.Name,
			Raw:        raw,
			Err:        fmt.Errorf("output has neither summary nor artifacts"),
		}
	}

	return &scheduler.AgentResult{
		TaskID:    taskID,
		Summary:   out.Summary,
		Output:    raw,
		Artifacts: out.Artifacts,
	}, nil
}

// extractJSON pulls the first JSON object out of raw model output, tolerating
// markdown fences and prose around it.
func extractJSON(raw string) (string, error) {
	s := raw
	if idx := strings.Index(s, "```json"); idx >= 0 {
		s = s[idx+len("```json"):]
		if end := strings.Index(s, "```"); end >= 0 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", fmt.Errorf("no JSON object found in output")
	}
	return s[start : end+1], nil
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
