package gate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/agentmux/agentmux/internal/llm"
	"github.com/agentmux/agentmux/internal/scheduler"
)

func snap() *scheduler.ContextSnapshot {
	return scheduler.NewWorkflowContext("run-1").Snapshot()
}

// TestGateThreshold verifies the rubric threshold maps scores to verdicts.
func TestGateThreshold(t *testing.T) {
	tests := []struct {
		name      string
		score     float64
		threshold float64
		wantPass  bool
	}{
		{"well above", 0.9, 0.8, true},
		{"exactly at", 0.8, 0.8, true},
		{"below", 0.5, 0.8, false},
		{"clamped high", 1.7, 0.8, true},
		{"clamped low", -0.3, 0.1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &Gate{
				Rubric: Rubric{Name: "code_review", Threshold: tt.threshold},
				Evaluator: ScoreFunc(func(ctx context.Context, r *scheduler.AgentResult, s *scheduler.ContextSnapshot) (float64, []string, error) {
					return tt.score, []string{"note"}, nil
				}),
			}

			v, err := g.Evaluate(context.Background(), 1, &scheduler.AgentResult{TaskID: "code"}, snap())
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if v.Pass != tt.wantPass {
				t.Errorf("score %.2f vs threshold %.2f: pass=%v, want %v", tt.score, tt.threshold, v.Pass, tt.wantPass)
			}
			if v.Score < 0 || v.Score > 1 {
				t.Errorf("score not clamped: %.2f", v.Score)
			}
			if v.Gate != "code_review" || v.TaskID != "code" || v.Attempt != 1 {
				t.Errorf("verdict identity wrong: %+v", v)
			}
		})
	}
}

// TestGateTimeout verifies a slow evaluator surfaces ErrTimeout.
func TestGateTimeout(t *testing.T) {
	g := &Gate{
		Rubric: Rubric{Name: "slow", Threshold: 0.5, Timeout: 20 * time.Millisecond},
		Evaluator: ScoreFunc(func(ctx context.Context, r *scheduler.AgentResult, s *scheduler.ContextSnapshot) (float64, []string, error) {
			select {
			case <-ctx.Done():
				return 0, nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return 1, nil, nil
			}
		}),
	}

	_, err := g.Evaluate(context.Background(), 1, &scheduler.AgentResult{TaskID: "code"}, snap())
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
}

// TestGateMaxRetriesDefault verifies the zero value gets the default budget.
func TestGateMaxRetriesDefault(t *testing.T) {
	g := &Gate{Rubric: Rubric{Name: "g"}}
	if g.MaxRetries() != DefaultMaxRetries {
		t.Errorf("expected default %d, got %d", DefaultMaxRetries, g.MaxRetries())
	}
	g.Rubric.MaxRetries = 5
	if g.MaxRetries() != 5 {
		t.Errorf("expected 5, got %d", g.MaxRetries())
	}
}

// TestArtifactEvaluator verifies the shape heuristic.
func TestArtifactEvaluator(t *testing.T) {
	e := ArtifactEvaluator{}

	score, notes, err := e.Score(context.Background(), &scheduler.AgentResult{
		TaskID:    "code",
		Summary:   "did the thing",
		Artifacts: map[string]string{"main.go": "package main"},
	}, snap())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 1.0 || len(notes) != 0 {
		t.Errorf("complete result should score 1.0 with no notes, got %.2f %v", score, notes)
	}

	score, notes, _ = e.Score(context.Background(), &scheduler.AgentResult{TaskID: "code"}, snap())
	if score != 0.0 || len(notes) != 2 {
		t.Errorf("empty result should score 0.0 with two notes, got %.2f %v", score, notes)
	}
}

// TestLLMEvaluator verifies grader output parsing.
func TestLLMEvaluator(t *testing.T) {
	client := llm.NewStubClient(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{Text: `The grade follows. {"score": 0.65, "notes": ["tighten error handling"]}`}, nil
	})
	e := &LLMEvaluator{Client: client}

	score, notes, err := e.Score(context.Background(), &scheduler.AgentResult{TaskID: "code", Output: "code here"}, snap())
	if err != nil {
		t.Fatalf("Score: %v", err)
	}
	if score != 0.65 {
		t.Errorf("expected 0.65, got %.2f", score)
	}
	if len(notes) != 1 || notes[0] != "tighten error handling" {
		t.Errorf("notes mismatch: %v", notes)
	}
}

// TestLLMEvaluatorBadVerdict verifies unparseable grader output errors.
func TestLLMEvaluatorBadVerdict(t *testing.T) {
	client := llm.NewStubClient(func(ctx context.Context, req llm.Request) (llm.Response, error) {
		return llm.Response{Text: "looks good to me!"}, nil
	})
	e := &LLMEvaluator{Client: client}

	if _, _, err := e.Score(context.Background(), &scheduler.AgentResult{TaskID: "code"}, snap()); err == nil {
		t.Fatal("expected error for non-JSON grader output")
	}
}

// TestRegistry verifies gate registration and lookup.
func TestRegistry(t *testing.T) {
	r := NewRegistry()
	g := &Gate{Rubric: Rubric{Name: "code_review", Threshold: 0.8}, Evaluator: ArtifactEvaluator{}}

	if err := r.Register(g); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register(g); err == nil {
		t.Error("expected error for duplicate gate")
	}
	if err := r.Register(&Gate{Evaluator: ArtifactEvaluator{}}); err == nil {
		t.Error("expected error for unnamed gate")
	}
	if err := r.Register(&Gate{Rubric: Rubric{Name: "empty"}}); err == nil {
		t.Error("expected error for gate without evaluator")
	}

	if got, ok := r.Resolve("code_review"); !ok || got != g {
		t.Error("Resolve failed")
	}
	if r.Has("ghost") {
		t.Error("Has should be false for unknown gate")
	}
}
