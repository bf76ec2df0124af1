package gate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentmux/agentmux/internal/llm"
	"github.com/agentmux/agentmux/internal/scheduler"
)

// ScoreFunc adapts a plain function to the Evaluator interface.
// Used for deterministic gates and test stubs.
type ScoreFunc func(ctx context.Context, result *scheduler.AgentResult, snap *scheduler.ContextSnapshot) (float64, []string, error)

// Score implements Evaluator.
func (f ScoreFunc) Score(ctx context.Context, result *scheduler.AgentResult, snap *scheduler.ContextSnapshot) (float64, []string, error) {
	return f(ctx, result, snap)
}

// ArtifactEvaluator is a deterministic heuristic gate: a result passes on
// shape alone. Full credit needs a summary and at least one non-empty
// artifact; partial credit otherwise.
type ArtifactEvaluator struct{}

// Score implements Evaluator.
func (ArtifactEvaluator) Score(ctx context.Context, result *scheduler.AgentResult, snap *scheduler.ContextSnapshot) (float64, []string, error) {
	score := 0.0
	var notes []string

	if result.Summary != "" {
		score += 0.5
	} else {
		notes = append(notes, "result has no summary")
	}

	nonEmpty := 0
	for _, v := range result.Artifacts {
		if strings.TrimSpace(v) != "" {
			nonEmpty++
		}
	}
	if nonEmpty > 0 {
		score += 0.5
	} else {
		notes = append(notes, "result produced no artifacts")
	}

	return score, notes, nil
}

// LLMEvaluator grades a result by asking a provider for a scored review.
type LLMEvaluator struct {
	Client llm.Client
	Model  string
	// Instructions describe what the grader should look for. Appended to the
	// fixed grading frame.
	Instructions string
}

// llmVerdict is the JSON shape the grading prompt asks for.
type llmVerdict struct {
	Score float64  `json:"score"`
	Notes []string `json:"notes"`
}

// Score implements Evaluator. Grading output that cannot be parsed is an
// evaluation error, which callers treat as a rejection.
func (e *LLMEvaluator) Score(ctx context.Context, result *scheduler.AgentResult, snap *scheduler.ContextSnapshot) (float64, []string, error) {
	var b strings.Builder
	b.WriteString("Grade the following task output. Respond with only a JSON object ")
	b.WriteString(`{"score": <0.0-1.0>, "notes": ["specific, actionable remediation items"]}.`)
	if e.Instructions != "" {
		b.WriteString("\n\nGrading criteria:\n")
		b.WriteString(e.Instructions)
	}
	fmt.Fprintf(&b, "\n\nTask: %s\nSummary: %s\n\nOutput:\n%s\n", result.TaskID, result.Summary, result.Output)

	resp, err := e.Client.Generate(ctx, llm.Request{
		Prompt:       b.String(),
		SystemPrompt: "You are a strict software reviewer. You only output JSON.",
		Model:        e.Model,
	})
	if err != nil {
		return 0, nil, err
	}

	text := resp.Text
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return 0, nil, fmt.Errorf("grader returned no JSON: %q", text)
	}

	var v llmVerdict
	if err := json.Unmarshal([]byte(text[start:end+1]), &v); err != nil {
		return 0, nil, fmt.Errorf("unparseable grader verdict: %w", err)
	}
	return v.Score, v.Notes, nil
}
