package weft

import (
	"context"
	"database/sql"

	"github.com/weftlabs/weft/internal/engine"
	"github.com/weftlabs/weft/pkg/api"
)

// Re-export key types so users don't need to dig into pkg/api.

type (
	Engine                 = api.Engine
	WorkflowDefinition     = api.WorkflowDefinition
	WorkflowInfo           = api.WorkflowInfo
	Transaction            = api.Transaction
	StepExecution          = api.StepExecution
	TransactionStatus      = api.TransactionStatus
	StepStatus             = api.StepStatus
	TransactionListOptions = api.TransactionListOptions
	RunOptions             = api.RunOptions
	StepFunc               = api.StepFunc
	CompensateFunc         = api.CompensateFunc
	TransformFunc          = api.TransformFunc
	ConditionFunc          = api.ConditionFunc
	CompensationInput      = api.CompensationInput
	RetryPolicy            = api.RetryPolicy
	Schema                 = api.Schema
	SchemaFunc             = api.SchemaFunc
	Services               = api.Services
	ValueRef               = api.ValueRef
	ValidationError        = api.ValidationError
	StepFailedError        = api.StepFailedError
	RollbackError          = api.RollbackError
	Observer               = api.Observer
	LoggingObserver        = api.LoggingObserver
	ZerologObserver        = api.ZerologObserver
	BasicMetrics           = api.BasicMetrics
	BasicMetricsSnapshot   = api.BasicMetricsSnapshot
	CompositeObserver      = api.CompositeObserver
	NoopObserver           = api.NoopObserver
)

// Re-export common helpers.

var (
	Input                = api.Input
	Output               = api.Output
	NewLoggingObserver   = api.NewLoggingObserver
	NewZerologObserver   = api.NewZerologObserver
	NewCompositeObserver = api.NewCompositeObserver
	WithServices         = api.WithServices
	ServicesFromContext  = api.ServicesFromContext
	EngineFromContext    = api.EngineFromContext
	ErrCanceled          = api.ErrCanceled
	ErrTransactionLeased = api.ErrTransactionLeased
)

// Re-export status values for convenience.

const (
	TransactionRunning   = api.TransactionRunning
	TransactionSucceeded = api.TransactionSucceeded
	TransactionReverted  = api.TransactionReverted
	TransactionFailed    = api.TransactionFailed

	StepNotStarted       = api.StepNotStarted
	StepInvoking         = api.StepInvoking
	StepDone             = api.StepDone
	StepFailed           = api.StepFailed
	StepCompensating     = api.StepCompensating
	StepCompensated      = api.StepCompensated
	StepCompensateFailed = api.StepCompensateFailed
	StepSkipped          = api.StepSkipped
)

// Engine constructors
// These wrap the internal/engine package so external callers
// never need to import internal packages.

// NewInMemoryEngine returns an Engine backed entirely by an in-memory
// transaction store. Non-durable; best for tests and development.
func NewInMemoryEngine() Engine {
	return engine.NewInMemoryEngine()
}

// NewInMemoryEngineWithObserver returns an in-memory Engine with the given Observer.
func NewInMemoryEngineWithObserver(obs Observer) Engine {
	return engine.NewInMemoryEngineWithObserver(obs)
}

// NewSQLiteEngine returns an Engine that persists transactions in a SQLite
// database, making them resumable across process restarts. Workflow
// definitions are kept in-memory and re-registered at startup.
func NewSQLiteEngine(db *sql.DB) (Engine, error) {
	return engine.NewSQLiteEngine(db)
}

// NewSQLiteEngineWithObserver returns a SQLite-backed Engine with the given Observer.
func NewSQLiteEngineWithObserver(db *sql.DB, obs Observer) (Engine, error) {
	return engine.NewSQLiteEngineWithObserver(db, obs)
}

// Convenience helpers that just forward to the underlying Engine.

// Run executes a registered workflow synchronously.
func Run(ctx context.Context, eng Engine, name string, opts RunOptions) (*Transaction, error) {
	return eng.Run(ctx, name, opts)
}

// GetTransaction fetches a transaction by ID.
func GetTransaction(ctx context.Context, eng Engine, id string) (*Transaction, error) {
	return eng.GetTransaction(ctx, id)
}

// ListTransactions lists transactions according to the given options.
func ListTransactions(ctx context.Context, eng Engine, opts TransactionListOptions) ([]*Transaction, error) {
	return eng.ListTransactions(ctx, opts)
}

// Resume continues a persisted, non-terminal transaction from its last
// durably recorded step.
func Resume(ctx context.Context, eng Engine, id string) (*Transaction, error) {
	return eng.Resume(ctx, id)
}

// Cancel asks an in-flight transaction to stop and roll back at its next
// batch boundary.
func Cancel(ctx context.Context, eng Engine, id string) error {
	return eng.Cancel(ctx, id)
}

// RecoverStuckTransactions delegates to eng.RecoverStuckTransactions.
//
// It is typically called on process startup before starting any workers:
//
//	count, err := weft.RecoverStuckTransactions(ctx, engine)
func RecoverStuckTransactions(ctx context.Context, eng Engine) (int, error) {
	return eng.RecoverStuckTransactions(ctx)
}
