package api

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrCanceled is recorded as the failure cause when a transaction is
// cancelled via Engine.Cancel and rolled back.
var ErrCanceled = errors.New("transaction cancelled")

// ErrTransactionLeased is returned when another orchestrator currently holds
// the lease on a transaction id.
var ErrTransactionLeased = errors.New("transaction is leased by another owner")

// ValidationError reports an input or output schema violation. It is fatal
// to the run: no retry, and no compensation beyond steps already rolled back.
type ValidationError struct {
	Workflow string
	Scope    string // "input" or "output"
	Err      error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("workflow %q: %s validation failed: %v", e.Workflow, e.Scope, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StepFailedError is the forward failure that triggered rollback: the named
// step exhausted its retry attempts. The original action error is preserved
// and available via Unwrap.
type StepFailedError struct {
	Step     string
	Attempts int
	Err      error
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %q failed after %d attempt(s): %v", e.Step, e.Attempts, e.Err)
}

func (e *StepFailedError) Unwrap() error { return e.Err }

// RollbackError is surfaced when rollback itself could not fully complete:
// one or more compensations failed after their retries. The transaction is
// left FAILED and requires operator intervention.
type RollbackError struct {
	// Cause is the forward failure (or cancellation) that triggered rollback.
	Cause error

	// Failed names every step whose compensation failed, sorted.
	Failed []string
}

func (e *RollbackError) Error() string {
	failed := append([]string(nil), e.Failed...)
	sort.Strings(failed)
	return fmt.Sprintf("rollback incomplete, compensation failed for steps [%s]: %v",
		strings.Join(failed, ", "), e.Cause)
}

func (e *RollbackError) Unwrap() error { return e.Cause }
