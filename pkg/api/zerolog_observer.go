package api

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// ZerologObserver logs transaction / step lifecycle events with zerolog.
// It is an alternative to LoggingObserver for services standardized on
// zerolog rather than log/slog.
type ZerologObserver struct {
	Logger zerolog.Logger
}

// NewZerologObserver creates an Observer writing through the given logger.
func NewZerologObserver(logger zerolog.Logger) Observer {
	return &ZerologObserver{Logger: logger}
}

func (o *ZerologObserver) event(tx *Transaction) *zerolog.Event {
	return o.Logger.Info().
		Str("workflow", tx.WorkflowName).
		Str("transaction_id", tx.ID)
}

func (o *ZerologObserver) OnTransactionStart(ctx context.Context, tx *Transaction) {
	o.event(tx).Msg("transaction_start")
}

func (o *ZerologObserver) OnTransactionCompleted(ctx context.Context, tx *Transaction) {
	o.event(tx).Msg("transaction_completed")
}

func (o *ZerologObserver) OnTransactionReverted(ctx context.Context, tx *Transaction, cause error) {
	o.Logger.Warn().
		Str("workflow", tx.WorkflowName).
		Str("transaction_id", tx.ID).
		Err(cause).
		Msg("transaction_reverted")
}

func (o *ZerologObserver) OnTransactionFailed(ctx context.Context, tx *Transaction, err error) {
	o.Logger.Error().
		Str("workflow", tx.WorkflowName).
		Str("transaction_id", tx.ID).
		Err(err).
		Msg("transaction_failed")
}

func (o *ZerologObserver) OnStepStart(ctx context.Context, tx *Transaction, stepName string, attempt int) {
	o.Logger.Debug().
		Str("workflow", tx.WorkflowName).
		Str("transaction_id", tx.ID).
		Str("step", stepName).
		Int("attempt", attempt).
		Msg("step_start")
}

func (o *ZerologObserver) OnStepCompleted(ctx context.Context, tx *Transaction, stepName string, attempt int, err error, d time.Duration) {
	evt := o.Logger.Debug()
	if err != nil {
		evt = o.Logger.Error()
	}
	evt.
		Str("workflow", tx.WorkflowName).
		Str("transaction_id", tx.ID).
		Str("step", stepName).
		Int("attempt", attempt).
		Dur("duration", d).
		Err(err).
		Msg("step_completed")
}

func (o *ZerologObserver) OnStepCompensated(ctx context.Context, tx *Transaction, stepName string, err error) {
	evt := o.Logger.Info()
	if err != nil {
		evt = o.Logger.Error()
	}
	evt.
		Str("workflow", tx.WorkflowName).
		Str("transaction_id", tx.ID).
		Str("step", stepName).
		Err(err).
		Msg("step_compensated")
}
