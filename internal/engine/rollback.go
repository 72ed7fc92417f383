package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/weftlabs/weft/internal/persistence"
	"github.com/weftlabs/weft/pkg/api"
)

// rollback compensates every step whose forward action completed, in strictly
// reverse completion order. Compensation failures are recorded per step and
// do not stop the rollback of sibling steps; if any compensation ultimately
// fails the transaction ends FAILED, otherwise REVERTED.
func (e *engineImpl) rollback(ctx context.Context, reg registeredWorkflow, st *runState, cause error) error {
	tx := st.tx

	// Steps interrupted mid-invocation (process crash before this rollback)
	// may or may not have hit their side effects; only forward-success is
	// compensated.
	for _, rec := range tx.Steps {
		if rec.Status == api.StepInvoking {
			r := rec
			st.update(func() {
				r.Status = api.StepFailed
				r.LastError = "invocation interrupted"
			})
		}
	}

	type target struct {
		node *api.Node
		rec  *api.StepExecution
	}

	var targets []target
	for name, rec := range tx.Steps {
		// StepCompensating records come from a rollback interrupted by a
		// crash, StepCompensateFailed from a rollback whose compensation
		// errored; compensations are idempotent, so both are re-run.
		switch rec.Status {
		case api.StepDone, api.StepCompensating, api.StepCompensateFailed:
		default:
			continue
		}
		node := reg.def.Node(name)
		if node == nil {
			continue
		}
		switch node.Kind {
		case api.NodeTransform:
			continue
		case api.NodeStep:
			if node.NoCompensation || node.Compensate == nil {
				// Nothing to undo; the record stays DONE.
				continue
			}
		}
		targets = append(targets, target{node: node, rec: rec})
	}

	sort.Slice(targets, func(i, j int) bool {
		return targets[i].rec.CompletionSeq > targets[j].rec.CompletionSeq
	})

	// Rollback must run even when the triggering context is already
	// cancelled; compensations get a detached context.
	compCtx := context.WithoutCancel(ctx)

	var failed []string
	for _, t := range targets {
		rec := t.rec
		st.update(func() { rec.Status = api.StepCompensating })

		err := e.compensate(compCtx, reg, t.node, rec)
		e.observer.OnStepCompensated(compCtx, tx, t.node.Name, err)

		if err != nil {
			st.update(func() {
				rec.Status = api.StepCompensateFailed
				rec.CompensationError = err.Error()
			})
			failed = append(failed, t.node.Name)
			continue
		}

		st.update(func() {
			rec.Status = api.StepCompensated
			rec.CompensationError = ""
		})
	}

	if len(failed) > 0 {
		sort.Strings(failed)
		rerr := &api.RollbackError{Cause: cause, Failed: failed}
		st.update(func() {
			tx.Status = api.TransactionFailed
			tx.Err = rerr
		})
		e.observer.OnTransactionFailed(ctx, tx, rerr)
		return rerr
	}

	st.update(func() {
		tx.Status = api.TransactionReverted
		tx.Err = cause
	})
	e.observer.OnTransactionReverted(ctx, tx, cause)
	return cause
}

// compensate runs one step's compensation with its configured retry policy.
// For nested workflow nodes the compensation is the child transaction's own
// rollback.
func (e *engineImpl) compensate(ctx context.Context, reg registeredWorkflow, node *api.Node, rec *api.StepExecution) error {
	snapshot := rec.CompensationInput
	if snapshot == nil {
		return fmt.Errorf("step %q has no compensation snapshot", node.Name)
	}

	invoke := func(ctx context.Context) error {
		if node.Kind == api.NodeWorkflow {
			return e.rollbackChild(ctx, reg, node, snapshot.ChildTransactionID)
		}
		return node.Compensate(ctx, *snapshot)
	}

	maxAttempts := 1
	var (
		backoff    time.Duration
		maxBackoff time.Duration
		multiplier float64
	)
	if node.CompensateRetry != nil {
		if node.CompensateRetry.MaxAttempts > 0 {
			maxAttempts = node.CompensateRetry.MaxAttempts
		}
		backoff = node.CompensateRetry.InitialBackoff
		maxBackoff = node.CompensateRetry.MaxBackoff
		multiplier = node.CompensateRetry.BackoffMultiplier
		if multiplier <= 0 {
			multiplier = 2.0
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if lastErr = invoke(ctx); lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}
		if backoff > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(func() time.Duration {
				if maxBackoff > 0 && backoff > maxBackoff {
					return maxBackoff
				}
				return backoff
			}()):
			}
			next := time.Duration(float64(backoff) * multiplier)
			if maxBackoff > 0 && next > maxBackoff {
				backoff = maxBackoff
			} else {
				backoff = next
			}
		}
	}
	return lastErr
}

// rollbackChild runs the nested workflow's own rollback against its completed
// steps. The child ends REVERTED (or FAILED when its compensations fail,
// which propagates as the parent's compensation failure).
func (e *engineImpl) rollbackChild(ctx context.Context, reg registeredWorkflow, node *api.Node, childID string) error {
	child, err := e.store.GetTransaction(childID)
	if err != nil {
		return fmt.Errorf("load nested transaction %s: %w", childID, err)
	}

	if child.Status == api.TransactionReverted {
		// Already rolled back; compensation is idempotent.
		return nil
	}
	if child.Status == api.TransactionFailed && len(child.CompensationFailures()) == 0 {
		// FAILED for a reason other than compensation; nothing to retry.
		return fmt.Errorf("nested transaction %s failed: %w", childID, child.Err)
	}

	// A FAILED child with COMPENSATE_FAILED steps gets its rollback re-driven:
	// the failed compensations are re-invoked, not skipped, so a retry either
	// completes the revert or surfaces the failure again.
	childReg := registeredWorkflow{def: *node.Workflow, plan: reg.plan.Children[node.Name]}
	childState := newRunState(child, e.store)

	cause := fmt.Errorf("parent transaction rolled back")
	if err := e.rollback(ctx, childReg, childState, cause); !errors.Is(err, cause) {
		// rollback returns its cause on success; anything else means the
		// child could not be fully compensated.
		return err
	}
	return nil
}

// RecoverStuckTransactions rolls back transactions left RUNNING by a crashed
// process. Intended to be called on startup, before accepting new work;
// transactions that should continue forward instead should be driven with
// Resume first.
func (e *engineImpl) RecoverStuckTransactions(ctx context.Context) (int, error) {
	stuck, err := e.store.ListTransactions(persistence.TransactionFilter{Status: api.TransactionRunning})
	if err != nil {
		return 0, err
	}

	count := 0
	for _, tx := range stuck {
		e.mu.Lock()
		live := e.running[tx.ID]
		e.mu.Unlock()
		if live {
			continue
		}

		acquired, err := e.store.TryAcquireLease(ctx, tx.ID, e.owner, leaseTTL)
		if err != nil {
			return count, err
		}
		if !acquired {
			// Another orchestrator owns it.
			continue
		}

		reg, regErr := e.registry.Get(tx.WorkflowName)
		if regErr != nil {
			// Definition not registered in this process; leave the record
			// for an operator rather than guessing at compensations.
			_ = e.store.ReleaseLease(ctx, tx.ID, e.owner)
			continue
		}

		st := newRunState(tx, e.store)
		_ = e.rollback(ctx, reg, st, errors.New("transaction interrupted by process restart"))
		_ = e.store.ReleaseLease(ctx, tx.ID, e.owner)
		count++
	}

	return count, nil
}
