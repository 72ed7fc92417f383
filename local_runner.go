package weft

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/weftlabs/weft/internal/taskqueue"
	"github.com/weftlabs/weft/pkg/worker"
)

// LocalRunner bundles an in-memory Engine, an in-memory task queue, and a
// Worker to provide a simple process-local runtime for development and tests.
//
// Typical usage:
//
//	runner := weft.NewLocalRunner()
//	transfer.MustRegister(runner.Engine)
//
//	// Synchronous run (no queue/worker involved):
//	tx, err := weft.Run(ctx, runner.Engine, "transfer", weft.RunOptions{Input: in})
//
//	// Asynchronous run:
//	_ = runner.StartWorkers(ctx, 2)
//	txID, _ := runner.RunWorkflowAsync(ctx, "transfer", in)
//	tx, err := runner.WaitForTransaction(ctx, txID, time.Second)
//	runner.Stop()
type LocalRunner struct {
	// Engine is the in-memory engine used by this runner.
	Engine Engine

	// Queue is the in-memory task queue used by the Worker.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewLocalRunner constructs a LocalRunner backed by an in-memory engine,
// in-memory queue, and a Worker with default config.
//
// It is intentionally not crash-durable; use the SQLite bundle for that.
func NewLocalRunner() *LocalRunner {
	eng := NewInMemoryEngine()
	q := taskqueue.NewInMemoryQueue(1024)
	w := worker.New(eng, q)

	return &LocalRunner{
		Engine: eng,
		Queue:  q,
		Worker: w,
	}
}

// StartWorkers starts 'concurrency' worker goroutines that continuously call
// Worker.ProcessOne(ctx) until the context is cancelled via Stop.
//
// If StartWorkers is called more than once without Stop, it returns an error.
func (r *LocalRunner) StartWorkers(ctx context.Context, concurrency int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("weft: LocalRunner already started")
	}

	if concurrency <= 0 {
		concurrency = 1
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	r.wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func() {
			defer r.wg.Done()

			for {
				processed, err := r.Worker.ProcessOne(ctx)
				if err != nil {
					// Cancellation is a clean shutdown signal.
					if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
						return
					}
					// Other errors are already recorded on the transaction;
					// log and keep going so a single bad task doesn't kill
					// the worker loop.
					log.Printf("weft: local runner worker error: %v", err)
					continue
				}
				if !processed {
					continue
				}
			}
		}()
	}

	return nil
}

// Stop cancels all worker goroutines started by StartWorkers and waits
// for them to exit.
func (r *LocalRunner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// RunWorkflowAsync enqueues a task to run the given workflow asynchronously
// and returns the transaction id the run will use. The workflow must already
// be registered on LocalRunner.Engine.
func (r *LocalRunner) RunWorkflowAsync(ctx context.Context, workflowName string, input any) (string, error) {
	return r.Worker.EnqueueRunWorkflow(ctx, workflowName, input)
}

// CancelAsync enqueues a task asking the given transaction to stop and roll
// back at its next batch boundary.
func (r *LocalRunner) CancelAsync(ctx context.Context, transactionID string) error {
	return r.Worker.EnqueueCancel(ctx, transactionID)
}

// WaitForTransaction polls until the transaction reaches a terminal status
// or the timeout elapses. Useful in tests and examples after an async run.
func (r *LocalRunner) WaitForTransaction(ctx context.Context, id string, timeout time.Duration) (*Transaction, error) {
	deadline := time.Now().Add(timeout)
	for {
		tx, err := r.Engine.GetTransaction(ctx, id)
		if err == nil && tx.Status.Terminal() {
			return tx, nil
		}
		if time.Now().After(deadline) {
			return tx, fmt.Errorf("weft: transaction %s not terminal after %v", id, timeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}
