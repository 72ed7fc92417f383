package api

import "context"

// RunOptions configures a single workflow execution.
type RunOptions struct {
	// Input is the workflow input payload, validated against the
	// definition's InputSchema when one is attached.
	Input any

	// TransactionID, if non-empty, is used instead of a generated id. When a
	// persisted transaction with this id already exists, execution resumes
	// from the last durably recorded step instead of restarting.
	TransactionID string

	// Services are the application dependencies made available to step and
	// compensation actions via ServicesFromContext.
	Services Services
}

// WorkflowInfo describes a registered workflow for introspection and tooling
// (documentation generation, schema-coverage audits).
type WorkflowInfo struct {
	Name        string
	Description string

	// Steps lists node names in declaration order.
	Steps []string

	InputSchema  Schema
	OutputSchema Schema
}

// Engine registers workflow definitions and drives their transactions.
type Engine interface {
	// RegisterWorkflow validates the definition graph and registers it by
	// name. Registering a second definition under an existing name is
	// rejected.
	RegisterWorkflow(def WorkflowDefinition) error

	// Run executes the named workflow to completion (synchronously) and
	// returns the transaction handle. On rollback the returned error is the
	// accumulated failure; the transaction records per-step detail either
	// way. Re-running with an existing TransactionID resumes from the last
	// durably recorded step.
	Run(ctx context.Context, name string, opts RunOptions) (*Transaction, error)

	// GetTransaction looks up a transaction by id.
	// Returns an error if the transaction is not found.
	GetTransaction(ctx context.Context, id string) (*Transaction, error)

	// ListTransactions returns transactions matching the given options.
	// If options are zero-valued, all transactions are returned.
	ListTransactions(ctx context.Context, opts TransactionListOptions) ([]*Transaction, error)

	// Resume continues a previously persisted, non-terminal transaction from
	// its last durably recorded step (for example after a process restart).
	Resume(ctx context.Context, id string) (*Transaction, error)

	// Cancel asks an in-flight transaction to stop accepting new step
	// batches. Steps already invoking are allowed to finish, then rollback
	// proceeds as in the failure path. Cancellation is cooperative, checked
	// at batch boundaries.
	Cancel(ctx context.Context, id string) error

	// Workflows enumerates all registered workflows, sorted by name.
	Workflows() []WorkflowInfo

	// GetWorkflowInfo returns introspection data for one registered workflow.
	GetWorkflowInfo(name string) (WorkflowInfo, error)

	// RecoverStuckTransactions scans for transactions still marked RUNNING
	// (for example after a process crash) and rolls each one back,
	// compensating its completed steps in reverse order. It returns the
	// number of transactions it rolled back. Transactions that should
	// instead continue forward can be driven with Resume before calling
	// this.
	//
	// Call this on process startup before starting workers or accepting new
	// work, so that no transaction is legitimately running when it executes.
	RecoverStuckTransactions(ctx context.Context) (int, error)
}
