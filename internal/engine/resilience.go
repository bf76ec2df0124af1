package engine

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"

	"github.com/agentmux/agentmux/internal/scheduler"
	"github.com/agentmux/agentmux/internal/stream"
)

// RetryConfig tunes the exponential backoff applied to transient invocation
// failures. The attempt cap comes from EngineConfig.MaxTaskRetries.
type RetryConfig struct {
	InitialInterval     time.Duration
	MaxInterval         time.Duration
	Multiplier          float64
	RandomizationFactor float64
}

// DefaultRetryConfig returns the default backoff tuning.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         10 * time.Second,
		Multiplier:          2.0,
		RandomizationFactor: 0.5,
	}
}

// breakerRegistry manages one circuit breaker per capability, shared across
// runs so a flapping provider trips once, not per workflow.
type breakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func newBreakerRegistry() *breakerRegistry {
	return &breakerRegistry{breakers: make(map[string]*gobreaker.CircuitBreaker)}
}

// Get returns the breaker for a capability, creating it on first use.
func (r *breakerRegistry) Get(capability string) *gobreaker.CircuitBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[capability]; ok {
		return cb
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        capability,
		MaxRequests: 3,
		Interval:    0,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %q: %s -> %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// Caller cancellation is not a capability failure.
			if err == nil {
				return true
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return true
			}
			return false
		},
	})

	r.breakers[capability] = cb
	return cb
}

// invokeWithRetry runs one dispatch's invocation attempts: up to
// MaxTaskRetries tries with exponential backoff behind the capability's
// circuit breaker. Each retry is surfaced to the run's stream as a
// task-retrying event; the caller only ever sees the final error.
func (e *Engine) invokeWithRetry(ctx context.Context, run *Run, task *scheduler.AgentTask, snap *scheduler.ContextSnapshot) (*scheduler.AgentResult, error) {
	cb := e.breakers.Get(task.Capability)

	var res *scheduler.AgentResult
	operation := func() error {
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}

		result, err := cb.Execute(func() (interface{}, error) {
			return e.invoker.Invoke(ctx, task, snap)
		})
		if err != nil {
			// Open circuit: fail now, the provider needs time to recover.
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				return backoff.Permanent(err)
			}
			if ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}

		res = result.(*scheduler.AgentResult)
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = e.retry.InitialInterval
	policy.MaxInterval = e.retry.MaxInterval
	policy.Multiplier = e.retry.Multiplier
	policy.RandomizationFactor = e.retry.RandomizationFactor

	maxRetries := e.cfg.MaxTaskRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	capped := backoff.WithMaxRetries(backoff.WithContext(policy, ctx), uint64(maxRetries-1))

	notify := func(err error, next time.Duration) {
		run.events.Publish(stream.Event{
			Kind:    stream.KindTaskRetrying,
			TaskID:  task.ID,
			Attempt: task.Attempts,
			Message: err.Error(),
		})
	}

	if err := backoff.RetryNotify(operation, capped, notify); err != nil {
		return nil, err
	}
	return res, nil
}
