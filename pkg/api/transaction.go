package api

import (
	"encoding/gob"
	"time"
)

func init() {
	gob.Register(CompensationInput{})
	gob.Register(map[string]*StepExecution{})
}

// TransactionStatus is the lifecycle state of a transaction (one execution
// of a workflow definition).
type TransactionStatus string

const (
	TransactionRunning TransactionStatus = "RUNNING"

	// TransactionSucceeded: every step completed and the output was produced.
	TransactionSucceeded TransactionStatus = "SUCCEEDED"

	// TransactionReverted: a step failed (or the run was cancelled) and every
	// completed compensable step was compensated.
	TransactionReverted TransactionStatus = "REVERTED"

	// TransactionFailed: rollback could not fully complete because one or
	// more compensations failed after their own retries. Operator
	// intervention is required; the engine does not auto-retry further.
	TransactionFailed TransactionStatus = "FAILED"
)

// Terminal reports whether the status is final.
func (s TransactionStatus) Terminal() bool {
	switch s {
	case TransactionSucceeded, TransactionReverted, TransactionFailed:
		return true
	}
	return false
}

// StepStatus is the per-step execution state within a transaction.
type StepStatus string

const (
	StepNotStarted   StepStatus = "NOT_STARTED"
	StepInvoking     StepStatus = "INVOKING"
	StepDone         StepStatus = "DONE"
	StepFailed       StepStatus = "FAILED"
	StepCompensating StepStatus = "COMPENSATING"
	StepCompensated  StepStatus = "COMPENSATED"
	// StepCompensateFailed records a compensation that itself failed after
	// its retries; the transaction ends FAILED.
	StepCompensateFailed StepStatus = "COMPENSATE_FAILED"
	// StepSkipped marks a step whose condition guard evaluated false.
	StepSkipped StepStatus = "SKIPPED"
)

// CompensationInput is the snapshot passed to a step's CompensateFunc. It is
// captured at the moment the forward action succeeds, never recomputed later.
type CompensationInput struct {
	TransactionID string
	StepName      string

	// Input is the resolved input the forward action was invoked with.
	Input any

	// Output is the forward action's output.
	Output any

	// ChildTransactionID is set for nested workflow nodes: rollback of the
	// parent runs the child transaction's own rollback.
	ChildTransactionID string
}

// StepExecution is the per-(transaction, step) record. It is mutated only by
// the orchestrator instance driving the transaction.
type StepExecution struct {
	Name   string
	Status StepStatus

	// Output is the forward action's output (opaque to the engine).
	Output any

	// CompensationInput is the snapshot captured at forward success. Nil
	// until the step completes.
	CompensationInput *CompensationInput

	// Attempts counts forward invocations, including retries.
	Attempts int

	// CompletionSeq orders forward completions within the transaction;
	// rollback compensates in strictly reverse CompletionSeq order.
	CompletionSeq int

	LastError         string
	CompensationError string
}

// Transaction is the externally observable handle for one workflow execution:
// overall status, per-step records, output, and the accumulated error.
type Transaction struct {
	ID           string
	WorkflowName string
	Status       TransactionStatus

	Input  any
	Output any
	Err    error

	Steps map[string]*StepExecution

	// CancelRequested asks the driving orchestrator to stop scheduling new
	// step batches; it is checked cooperatively at batch boundaries. Steps
	// already invoking are allowed to finish, then rollback proceeds.
	CancelRequested bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Step returns the execution record for the named step, or nil.
func (t *Transaction) Step(name string) *StepExecution {
	return t.Steps[name]
}

// Clone returns a structural copy of the transaction: the step map, step
// records, and compensation snapshots are copied. Input and Output values are
// shared; the engine treats them as immutable once recorded.
func (t *Transaction) Clone() *Transaction {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Steps = make(map[string]*StepExecution, len(t.Steps))
	for name, rec := range t.Steps {
		r := *rec
		if rec.CompensationInput != nil {
			snap := *rec.CompensationInput
			r.CompensationInput = &snap
		}
		cp.Steps[name] = &r
	}
	return &cp
}

// CompensationFailures returns the names of steps whose compensation failed,
// in no particular order.
func (t *Transaction) CompensationFailures() []string {
	var failed []string
	for name, rec := range t.Steps {
		if rec.Status == StepCompensateFailed {
			failed = append(failed, name)
		}
	}
	return failed
}

// TransactionListOptions controls how transactions are listed.
// Zero values mean "no filter" for that field.
type TransactionListOptions struct {
	// WorkflowName, if non-empty, limits results to transactions of the
	// given workflow.
	WorkflowName string

	// Status, if non-empty, limits results to transactions with the given
	// status.
	Status TransactionStatus
}
