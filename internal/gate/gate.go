// Package gate evaluates task results against configured rubrics, producing
// accept/reject verdicts with scores and remediation notes.
package gate

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/agentmux/agentmux/internal/scheduler"
)

// ErrTimeout means a gate did not return within its rubric's timeout.
// The scheduler treats it exactly like a rejection.
var ErrTimeout = errors.New("gate evaluation timed out")

// Rubric is the configuration a gate grades against. Thresholds and retry
// budgets live here, never in code.
type Rubric struct {
	Name       string
	Threshold  float64       // Minimum score to pass, 0.0-1.0
	MaxRetries int           // Attempts allowed before hard failure
	Timeout    time.Duration // Bound on one evaluation; 0 = no bound
}

// DefaultMaxRetries is used when a rubric leaves MaxRetries at zero.
const DefaultMaxRetries = 2

// Verdict is the outcome of one gate evaluation, attached to one attempt of
// one task. Never mutated after creation.
type Verdict struct {
	TaskID  string
	Gate    string
	Attempt int
	Pass    bool
	Score   float64
	Notes   []string
}

// Evaluator scores a task result. Scoring may itself call an LLM, so
// determinism is not required; implementations must respect ctx.
type Evaluator interface {
	Score(ctx context.Context, result *scheduler.AgentResult, snap *scheduler.ContextSnapshot) (float64, []string, error)
}

// Gate binds a rubric to its evaluator.
type Gate struct {
	Rubric    Rubric
	Evaluator Evaluator
}

// MaxRetries returns the rubric's retry budget, defaulted.
func (g *Gate) MaxRetries() int {
	if g.Rubric.MaxRetries <= 0 {
		return DefaultMaxRetries
	}
	return g.Rubric.MaxRetries
}

// Evaluate scores a result under the rubric's timeout and maps the score to a
// pass/fail verdict. A timeout surfaces as ErrTimeout.
func (g *Gate) Evaluate(ctx context.Context, attempt int, result *scheduler.AgentResult, snap *scheduler.ContextSnapshot) (*Verdict, error) {
	if g.Rubric.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.Rubric.Timeout)
		defer cancel()
	}

	score, notes, err := g.Evaluator.Score(ctx, result, snap)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: gate %s on task %s", ErrTimeout, g.Rubric.Name, result.TaskID)
		}
		return nil, fmt.Errorf("gate %s on task %s: %w", g.Rubric.Name, result.TaskID, err)
	}

	score = clamp(score)
	return &Verdict{
		TaskID:  result.TaskID,
		Gate:    g.Rubric.Name,
		Attempt: attempt,
		Pass:    score >= g.Rubric.Threshold,
		Score:   score,
		Notes:   append([]string(nil), notes...),
	}, nil
}

func clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// Registry maps gate names to gates, built at process start.
type Registry struct {
	mu    sync.RWMutex
	gates map[string]*Gate
}

// NewRegistry creates an empty gate registry.
func NewRegistry() *Registry {
	return &Registry{gates: make(map[string]*Gate)}
}

// Register adds a gate under its rubric name.
func (r *Registry) Register(g *Gate) error {
	if g.Rubric.Name == "" {
		return fmt.Errorf("gate rubric must be named")
	}
	if g.Evaluator == nil {
		return fmt.Errorf("gate %q has no evaluator", g.Rubric.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.gates[g.Rubric.Name]; exists {
		return fmt.Errorf("gate %q already registered", g.Rubric.Name)
	}
	r.gates[g.Rubric.Name] = g
	return nil
}

// Resolve looks up a gate by name.
func (r *Registry) Resolve(name string) (*Gate, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	g, ok := r.gates[name]
	return g, ok
}

// Has reports whether a gate name is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.Resolve(name)
	return ok
}

// Names returns all registered gate names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.gates))
	for name := range r.gates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
