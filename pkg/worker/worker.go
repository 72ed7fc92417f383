package worker

import (
	"context"
	"encoding/gob"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/weftlabs/weft/internal/taskqueue"
	"github.com/weftlabs/weft/pkg/api"
)

func init() {
	gob.Register(RunWorkflowPayload{})
}

// RunWorkflowPayload is the payload for a "run-workflow" task.
type RunWorkflowPayload struct {
	Input any
}

// Config tunes how the worker handles task failures.
type Config struct {
	// MaxAttempts is how many times a failing task is retried (including the
	// first attempt). Values <= 0 mean 1.
	MaxAttempts int

	// RetryDelay is how long a failed task is held back before it becomes
	// eligible again.
	RetryDelay time.Duration
}

// Worker pulls tasks from a Queue and executes them using an Engine.
type Worker struct {
	engine api.Engine
	queue  taskqueue.Queue
	cfg    Config
}

// New creates a new Worker with default config.
func New(engine api.Engine, queue taskqueue.Queue) *Worker {
	return NewWithConfig(engine, queue, Config{})
}

// NewWithConfig creates a new Worker with the given config.
func NewWithConfig(engine api.Engine, queue taskqueue.Queue, cfg Config) *Worker {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Worker{
		engine: engine,
		queue:  queue,
		cfg:    cfg,
	}
}

// EnqueueRunWorkflow enqueues a task to run a workflow asynchronously and
// returns the transaction id the run will use. It does NOT run the workflow
// itself; that is done by ProcessOne.
func (w *Worker) EnqueueRunWorkflow(ctx context.Context, workflowName string, input any) (string, error) {
	return w.enqueueRun(ctx, workflowName, input, time.Time{})
}

// EnqueueRunWorkflowAt enqueues a task to run a workflow no earlier than
// the given time 'at'.
func (w *Worker) EnqueueRunWorkflowAt(ctx context.Context, workflowName string, input any, at time.Time) (string, error) {
	return w.enqueueRun(ctx, workflowName, input, at)
}

func (w *Worker) enqueueRun(ctx context.Context, workflowName string, input any, at time.Time) (string, error) {
	txID := uuid.NewString()
	t := taskqueue.Task{
		ID:            uuid.NewString(),
		Type:          taskqueue.TaskTypeRunWorkflow,
		WorkflowName:  workflowName,
		TransactionID: txID,
		Payload: RunWorkflowPayload{
			Input: input,
		},
		EnqueuedAt: time.Now(),
		NotBefore:  at,
	}
	if err := w.queue.Enqueue(ctx, t); err != nil {
		return "", err
	}
	return txID, nil
}

// EnqueueCancel enqueues a task asking the named transaction to stop at its
// next batch boundary and roll back.
func (w *Worker) EnqueueCancel(ctx context.Context, transactionID string) error {
	t := taskqueue.Task{
		ID:            uuid.NewString(),
		Type:          taskqueue.TaskTypeCancel,
		TransactionID: transactionID,
		EnqueuedAt:    time.Now(),
	}
	return w.queue.Enqueue(ctx, t)
}

// ProcessOne pulls a single task from the queue and processes it.
// Returns (processed, error):
//   - processed == false, err != nil: no task obtained (ctx cancelled or dequeue error)
//   - processed == true: a task was processed; err indicates whether the handler succeeded.
//
// A run-workflow task that fails is re-enqueued with a delay until its
// attempts are exhausted; the transaction id stays stable across attempts so
// the retry resumes rather than restarts.
func (w *Worker) ProcessOne(ctx context.Context) (bool, error) {
	task, err := w.queue.Dequeue(ctx)
	if err != nil {
		return false, err
	}
	if task == nil {
		return false, nil
	}

	switch task.Type {
	case taskqueue.TaskTypeRunWorkflow:
		payload, ok := task.Payload.(RunWorkflowPayload)
		if !ok {
			return true, errors.New("invalid payload type for run-workflow task")
		}
		_, runErr := w.engine.Run(ctx, task.WorkflowName, api.RunOptions{
			Input:         payload.Input,
			TransactionID: task.TransactionID,
		})
		if runErr != nil && task.Attempts+1 < w.cfg.MaxAttempts {
			retry := *task
			retry.Attempts++
			retry.NotBefore = time.Now().Add(w.cfg.RetryDelay)
			if enqErr := w.queue.Enqueue(ctx, retry); enqErr != nil {
				return true, enqErr
			}
		}
		return true, runErr

	case taskqueue.TaskTypeCancel:
		return true, w.engine.Cancel(ctx, task.TransactionID)

	default:
		// Unknown task type; mark as processed but return an error so this
		// isn't silently ignored.
		return true, errors.New("unknown task type: " + string(task.Type))
	}
}

// Run processes tasks until ctx is cancelled. Handler errors are swallowed
// (they are already recorded on the transaction); dequeue errors other than
// cancellation are returned.
func (w *Worker) Run(ctx context.Context) error {
	for {
		processed, err := w.ProcessOne(ctx)
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return nil
		}
		if !processed {
			// No task was obtained and the context is healthy: the queue
			// itself is failing. Looping would spin on the same error.
			return err
		}
	}
}
