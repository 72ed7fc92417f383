package api

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingObserver struct {
	NoopObserver
	events []string
}

func (r *recordingObserver) OnTransactionStart(ctx context.Context, tx *Transaction) {
	r.events = append(r.events, "start")
}

func (r *recordingObserver) OnTransactionCompleted(ctx context.Context, tx *Transaction) {
	r.events = append(r.events, "completed")
}

func TestCompositeObserver_FansOut(t *testing.T) {
	a := &recordingObserver{}
	b := &recordingObserver{}
	obs := NewCompositeObserver(a, nil, b)

	tx := &Transaction{ID: "tx-1", WorkflowName: "wf"}
	obs.OnTransactionStart(context.Background(), tx)
	obs.OnTransactionCompleted(context.Background(), tx)

	for name, r := range map[string]*recordingObserver{"a": a, "b": b} {
		if len(r.events) != 2 || r.events[0] != "start" || r.events[1] != "completed" {
			t.Fatalf("observer %s did not receive both events: %v", name, r.events)
		}
	}
}

func TestCompositeObserver_Degenerate(t *testing.T) {
	if _, ok := NewCompositeObserver().(NoopObserver); !ok {
		t.Fatal("expected NoopObserver for empty composite")
	}

	single := &recordingObserver{}
	if NewCompositeObserver(single) != single {
		t.Fatal("expected single observer returned unwrapped")
	}
}

func TestLoggingObserver_EmitsStructuredEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	obs := NewLoggingObserver(logger)

	tx := &Transaction{ID: "tx-log", WorkflowName: "wf-log"}
	ctx := context.Background()

	obs.OnTransactionStart(ctx, tx)
	obs.OnStepStart(ctx, tx, "debit", 1)
	obs.OnStepCompleted(ctx, tx, "debit", 1, nil, time.Millisecond)
	obs.OnStepCompensated(ctx, tx, "debit", nil)
	obs.OnTransactionReverted(ctx, tx, errors.New("boom"))
	obs.OnTransactionFailed(ctx, tx, errors.New("stuck"))
	obs.OnTransactionCompleted(ctx, tx)

	out := buf.String()
	for _, want := range []string{
		"transaction_start",
		"step_start",
		"step_completed",
		"step_compensated",
		"transaction_reverted",
		"transaction_failed",
		"transaction_completed",
		"tx-log",
		"wf-log",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestZerologObserver_EmitsStructuredEvents(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	obs := NewZerologObserver(logger)

	tx := &Transaction{ID: "tx-z", WorkflowName: "wf-z"}
	ctx := context.Background()

	obs.OnTransactionStart(ctx, tx)
	obs.OnStepCompleted(ctx, tx, "credit", 2, errors.New("transient"), time.Millisecond)
	obs.OnTransactionReverted(ctx, tx, errors.New("boom"))

	out := buf.String()
	for _, want := range []string{"transaction_start", "step_completed", "transaction_reverted", "tx-z", "wf-z", "transient"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected log output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestBasicMetrics_Counters(t *testing.T) {
	m := &BasicMetrics{}
	tx := &Transaction{ID: "tx-m", WorkflowName: "wf-m"}
	ctx := context.Background()

	m.OnTransactionStart(ctx, tx)
	m.OnTransactionStart(ctx, tx)
	m.OnTransactionCompleted(ctx, tx)
	m.OnTransactionReverted(ctx, tx, errors.New("boom"))
	m.OnTransactionFailed(ctx, tx, errors.New("stuck"))

	m.OnStepCompleted(ctx, tx, "a", 1, nil, 10*time.Millisecond)
	m.OnStepCompleted(ctx, tx, "b", 1, nil, 20*time.Millisecond)
	m.OnStepCompleted(ctx, tx, "c", 1, errors.New("fail"), time.Second)
	m.OnStepCompensated(ctx, tx, "a", nil)

	snap := m.Snapshot()
	if snap.TransactionsStarted != 2 {
		t.Fatalf("expected 2 started, got %d", snap.TransactionsStarted)
	}
	if snap.TransactionsCompleted != 1 || snap.TransactionsReverted != 1 || snap.TransactionsFailed != 1 {
		t.Fatalf("unexpected terminal counters: %+v", snap)
	}
	if snap.StepsCompleted != 2 {
		t.Fatalf("expected failed invocation excluded, got %d", snap.StepsCompleted)
	}
	if snap.AvgStepDuration != 15*time.Millisecond {
		t.Fatalf("expected 15ms average, got %v", snap.AvgStepDuration)
	}
	if snap.CompensationsRun != 1 {
		t.Fatalf("expected 1 compensation, got %d", snap.CompensationsRun)
	}
}
