package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the engine for logging and metrics.
//
// Implementations should be fast and non-blocking; heavy work should be done
// asynchronously so as not to delay transaction execution.
type Observer interface {
	// OnTransactionStart is called once when a transaction is first started
	// (Run), before the first step batch is executed.
	OnTransactionStart(ctx context.Context, tx *Transaction)

	// OnTransactionCompleted is called when a transaction reaches SUCCEEDED.
	OnTransactionCompleted(ctx context.Context, tx *Transaction)

	// OnTransactionReverted is called when a transaction reaches REVERTED:
	// a step failed (or the run was cancelled) and rollback fully completed.
	OnTransactionReverted(ctx context.Context, tx *Transaction, cause error)

	// OnTransactionFailed is called when a transaction reaches FAILED:
	// rollback could not fully complete.
	OnTransactionFailed(ctx context.Context, tx *Transaction, err error)

	// OnStepStart is called before each forward invocation of a step,
	// including retries.
	OnStepStart(ctx context.Context, tx *Transaction, stepName string, attempt int)

	// OnStepCompleted is called after a forward invocation returns, for both
	// successes and failures (err != nil).
	OnStepCompleted(ctx context.Context, tx *Transaction, stepName string, attempt int, err error, duration time.Duration)

	// OnStepCompensated is called after a step's compensation finishes
	// during rollback; err is non-nil when the compensation itself failed.
	OnStepCompensated(ctx context.Context, tx *Transaction, stepName string, err error)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnTransactionStart(ctx context.Context, tx *Transaction)     {}
func (NoopObserver) OnTransactionCompleted(ctx context.Context, tx *Transaction) {}
func (NoopObserver) OnTransactionReverted(ctx context.Context, tx *Transaction, cause error) {
}
func (NoopObserver) OnTransactionFailed(ctx context.Context, tx *Transaction, err error) {}
func (NoopObserver) OnStepStart(ctx context.Context, tx *Transaction, stepName string, attempt int) {
}
func (NoopObserver) OnStepCompleted(ctx context.Context, tx *Transaction, stepName string, attempt int, err error, d time.Duration) {
}
func (NoopObserver) OnStepCompensated(ctx context.Context, tx *Transaction, stepName string, err error) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnTransactionStart(ctx context.Context, tx *Transaction) {
	for _, o := range c.observers {
		o.OnTransactionStart(ctx, tx)
	}
}

func (c *CompositeObserver) OnTransactionCompleted(ctx context.Context, tx *Transaction) {
	for _, o := range c.observers {
		o.OnTransactionCompleted(ctx, tx)
	}
}

func (c *CompositeObserver) OnTransactionReverted(ctx context.Context, tx *Transaction, cause error) {
	for _, o := range c.observers {
		o.OnTransactionReverted(ctx, tx, cause)
	}
}

func (c *CompositeObserver) OnTransactionFailed(ctx context.Context, tx *Transaction, err error) {
	for _, o := range c.observers {
		o.OnTransactionFailed(ctx, tx, err)
	}
}

func (c *CompositeObserver) OnStepStart(ctx context.Context, tx *Transaction, stepName string, attempt int) {
	for _, o := range c.observers {
		o.OnStepStart(ctx, tx, stepName, attempt)
	}
}

func (c *CompositeObserver) OnStepCompleted(ctx context.Context, tx *Transaction, stepName string, attempt int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnStepCompleted(ctx, tx, stepName, attempt, err, d)
	}
}

func (c *CompositeObserver) OnStepCompensated(ctx context.Context, tx *Transaction, stepName string, err error) {
	for _, o := range c.observers {
		o.OnStepCompensated(ctx, tx, stepName, err)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs transaction / step
// lifecycle events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnTransactionStart(ctx context.Context, tx *Transaction) {
	o.Logger.InfoContext(ctx, "transaction_start",
		slog.String("workflow", tx.WorkflowName),
		slog.String("transaction_id", tx.ID),
	)
}

func (o *LoggingObserver) OnTransactionCompleted(ctx context.Context, tx *Transaction) {
	o.Logger.InfoContext(ctx, "transaction_completed",
		slog.String("workflow", tx.WorkflowName),
		slog.String("transaction_id", tx.ID),
	)
}

func (o *LoggingObserver) OnTransactionReverted(ctx context.Context, tx *Transaction, cause error) {
	o.Logger.WarnContext(ctx, "transaction_reverted",
		slog.String("workflow", tx.WorkflowName),
		slog.String("transaction_id", tx.ID),
		slog.Any("cause", cause),
	)
}

func (o *LoggingObserver) OnTransactionFailed(ctx context.Context, tx *Transaction, err error) {
	o.Logger.ErrorContext(ctx, "transaction_failed",
		slog.String("workflow", tx.WorkflowName),
		slog.String("transaction_id", tx.ID),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepStart(ctx context.Context, tx *Transaction, stepName string, attempt int) {
	o.Logger.DebugContext(ctx, "step_start",
		slog.String("workflow", tx.WorkflowName),
		slog.String("transaction_id", tx.ID),
		slog.String("step", stepName),
		slog.Int("attempt", attempt),
	)
}

func (o *LoggingObserver) OnStepCompleted(ctx context.Context, tx *Transaction, stepName string, attempt int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_completed",
		slog.String("workflow", tx.WorkflowName),
		slog.String("transaction_id", tx.ID),
		slog.String("step", stepName),
		slog.Int("attempt", attempt),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnStepCompensated(ctx context.Context, tx *Transaction, stepName string, err error) {
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "step_compensated",
		slog.String("workflow", tx.WorkflowName),
		slog.String("transaction_id", tx.ID),
		slog.String("step", stepName),
		slog.Any("error", err),
	)
}

// BasicMetrics collects simple counters and aggregate step durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	transactionsStarted   atomic.Int64
	transactionsCompleted atomic.Int64
	transactionsReverted  atomic.Int64
	transactionsFailed    atomic.Int64
	stepsCompleted        atomic.Int64
	compensationsRun      atomic.Int64
	totalStepDuration     atomic.Int64 // nanoseconds
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	TransactionsStarted   int64
	TransactionsCompleted int64
	TransactionsReverted  int64
	TransactionsFailed    int64

	StepsCompleted   int64
	CompensationsRun int64
	AvgStepDuration  time.Duration
}

func (m *BasicMetrics) OnTransactionStart(ctx context.Context, tx *Transaction) {
	m.transactionsStarted.Add(1)
}

func (m *BasicMetrics) OnTransactionCompleted(ctx context.Context, tx *Transaction) {
	m.transactionsCompleted.Add(1)
}

func (m *BasicMetrics) OnTransactionReverted(ctx context.Context, tx *Transaction, cause error) {
	m.transactionsReverted.Add(1)
}

func (m *BasicMetrics) OnTransactionFailed(ctx context.Context, tx *Transaction, err error) {
	m.transactionsFailed.Add(1)
}

func (m *BasicMetrics) OnStepCompleted(ctx context.Context, tx *Transaction, stepName string, attempt int, err error, d time.Duration) {
	// Only count successful invocations for average duration.
	if err == nil {
		m.stepsCompleted.Add(1)
		m.totalStepDuration.Add(d.Nanoseconds())
	}
}

func (m *BasicMetrics) OnStepCompensated(ctx context.Context, tx *Transaction, stepName string, err error) {
	m.compensationsRun.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	steps := m.stepsCompleted.Load()
	totalNs := m.totalStepDuration.Load()

	var avg time.Duration
	if steps > 0 {
		avg = time.Duration(totalNs / steps)
	}

	return BasicMetricsSnapshot{
		TransactionsStarted:   m.transactionsStarted.Load(),
		TransactionsCompleted: m.transactionsCompleted.Load(),
		TransactionsReverted:  m.transactionsReverted.Load(),
		TransactionsFailed:    m.transactionsFailed.Load(),
		StepsCompleted:        steps,
		CompensationsRun:      m.compensationsRun.Load(),
		AvgStepDuration:       avg,
	}
}
