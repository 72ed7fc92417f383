package taskqueue

import (
	"context"
	"time"
)

// TaskType identifies what the worker should do.
type TaskType string

const (
	TaskTypeRunWorkflow TaskType = "run-workflow"
	TaskTypeCancel      TaskType = "cancel"
)

// Task represents a unit of work for the worker.
type Task struct {
	ID   string
	Type TaskType

	// For run-workflow tasks.
	WorkflowName string

	// TransactionID targets an existing transaction (cancel), or pins the
	// id of a new run so callers can observe or resume it later.
	TransactionID string

	// Payload is task-type specific; for run-workflow it is the
	// RunWorkflowPayload carrying the input.
	Payload any

	EnqueuedAt time.Time

	// NotBefore is the earliest time this task should be eligible
	// for processing. Zero value means "immediately".
	NotBefore time.Time

	// Attempts counts how many times a worker has picked this task up.
	Attempts int
}

// Queue is a simple async task queue interface.
type Queue interface {
	// Enqueue adds a task to the queue. It should respect ctx for cancellation.
	Enqueue(ctx context.Context, t Task) error

	// Dequeue removes and returns the next task, blocking until one is
	// available or the context is cancelled.
	Dequeue(ctx context.Context) (*Task, error)

	// Len returns the approximate number of tasks queued.
	Len() int
}
