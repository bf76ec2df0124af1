package stream

import (
	"time"
)

// Kind identifies what state change a ProgressEvent reports.
type Kind string

const (
	KindTaskStarted       Kind = "task-started"
	KindTaskCompleted     Kind = "task-completed"
	KindGateEvaluated     Kind = "gate-evaluated"
	KindTaskRetrying      Kind = "task-retrying"
	KindWorkflowCompleted Kind = "workflow-completed"
	KindWorkflowFailed    Kind = "workflow-failed"
	KindWorkflowAborted   Kind = "workflow-aborted"
)

// Terminal reports whether the kind ends a run. Exactly one terminal event
// closes every stream.
func (k Kind) Terminal() bool {
	switch k {
	case KindWorkflowCompleted, KindWorkflowFailed, KindWorkflowAborted:
		return true
	}
	return false
}

// Event is one immutable progress notification within a run. Seq is assigned
// at publish time and is strictly increasing with no gaps per run.
type Event struct {
	Seq       uint64    `json:"seq"`
	Kind      Kind      `json:"kind"`
	RunID     string    `json:"run_id"`
	TaskID    string    `json:"task_id,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Message   string    `json:"message,omitempty"`
	Gate      string    `json:"gate,omitempty"`
	Pass      bool      `json:"pass,omitempty"`
	Score     float64   `json:"score,omitempty"`
	Notes     []string  `json:"notes,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
