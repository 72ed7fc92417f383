package persistence

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/weftlabs/weft/pkg/api"

	_ "modernc.org/sqlite"
)

// storeFactories builds every TransactionStore implementation so each test
// runs against all of them.
func storeFactories(t *testing.T) map[string]TransactionStore {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	// The in-memory database lives per connection; force a single one so
	// all statements see the same schema.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	sqliteStore, err := NewSQLiteTransactionStore(db)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}

	return map[string]TransactionStore{
		"in-memory": NewInMemoryStore(),
		"sqlite":    sqliteStore,
	}
}

func sampleTransaction(id string) *api.Transaction {
	now := time.Now()
	return &api.Transaction{
		ID:           id,
		WorkflowName: "transfer",
		Status:       api.TransactionRunning,
		Input:        "payload",
		Steps: map[string]*api.StepExecution{
			"debit": {Name: "debit", Status: api.StepNotStarted},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestStore_SaveAndGet(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			tx := sampleTransaction("tx-1")
			if err := store.SaveTransaction(tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}

			got, err := store.GetTransaction("tx-1")
			if err != nil {
				t.Fatalf("GetTransaction failed: %v", err)
			}
			if got.ID != "tx-1" || got.WorkflowName != "transfer" {
				t.Fatalf("unexpected transaction: %+v", got)
			}
			if got.Status != api.TransactionRunning {
				t.Fatalf("expected RUNNING, got %s", got.Status)
			}
			if got.Input != "payload" {
				t.Fatalf("expected input to round-trip, got %v", got.Input)
			}
			step := got.Step("debit")
			if step == nil || step.Status != api.StepNotStarted {
				t.Fatalf("expected debit step record, got %+v", step)
			}
		})
	}
}

func TestStore_GetUnknownTransaction(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.GetTransaction("missing")
			if !errors.Is(err, ErrTransactionNotFound) {
				t.Fatalf("expected ErrTransactionNotFound, got %v", err)
			}
		})
	}
}

func TestStore_UpdateTransaction(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			tx := sampleTransaction("tx-2")
			if err := store.SaveTransaction(tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}

			tx.Status = api.TransactionSucceeded
			tx.Output = "done"
			tx.Steps["debit"].Status = api.StepDone
			if err := store.UpdateTransaction(tx); err != nil {
				t.Fatalf("UpdateTransaction failed: %v", err)
			}

			got, err := store.GetTransaction("tx-2")
			if err != nil {
				t.Fatalf("GetTransaction failed: %v", err)
			}
			if got.Status != api.TransactionSucceeded {
				t.Fatalf("expected SUCCEEDED, got %s", got.Status)
			}
			if got.Output != "done" {
				t.Fatalf("expected output to round-trip, got %v", got.Output)
			}
			if got.Step("debit").Status != api.StepDone {
				t.Fatalf("expected DONE step, got %s", got.Step("debit").Status)
			}
		})
	}
}

func TestStore_UpdateUnknownTransaction(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			err := store.UpdateTransaction(sampleTransaction("never-saved"))
			if !errors.Is(err, ErrTransactionNotFound) {
				t.Fatalf("expected ErrTransactionNotFound, got %v", err)
			}
		})
	}
}

func TestStore_ErrorRoundTrip(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			tx := sampleTransaction("tx-err")
			tx.Status = api.TransactionFailed
			tx.Err = errors.New("insufficient funds")
			if err := store.SaveTransaction(tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}

			got, err := store.GetTransaction("tx-err")
			if err != nil {
				t.Fatalf("GetTransaction failed: %v", err)
			}
			if got.Err == nil || got.Err.Error() != "insufficient funds" {
				t.Fatalf("expected error to round-trip, got %v", got.Err)
			}
		})
	}
}

func TestStore_ListTransactionsFilters(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			a := sampleTransaction("list-a")
			b := sampleTransaction("list-b")
			b.WorkflowName = "refund"
			c := sampleTransaction("list-c")
			c.Status = api.TransactionSucceeded

			for _, tx := range []*api.Transaction{a, b, c} {
				if err := store.SaveTransaction(tx); err != nil {
					t.Fatalf("SaveTransaction failed: %v", err)
				}
			}

			all, err := store.ListTransactions(TransactionFilter{})
			if err != nil {
				t.Fatalf("ListTransactions failed: %v", err)
			}
			if len(all) != 3 {
				t.Fatalf("expected 3 transactions, got %d", len(all))
			}

			byWorkflow, err := store.ListTransactions(TransactionFilter{WorkflowName: "refund"})
			if err != nil {
				t.Fatalf("ListTransactions failed: %v", err)
			}
			if len(byWorkflow) != 1 || byWorkflow[0].ID != "list-b" {
				t.Fatalf("expected only list-b, got %+v", byWorkflow)
			}

			byStatus, err := store.ListTransactions(TransactionFilter{Status: api.TransactionSucceeded})
			if err != nil {
				t.Fatalf("ListTransactions failed: %v", err)
			}
			if len(byStatus) != 1 || byStatus[0].ID != "list-c" {
				t.Fatalf("expected only list-c, got %+v", byStatus)
			}
		})
	}
}

func TestStore_StepSnapshotRoundTrip(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			tx := sampleTransaction("tx-steps")
			tx.Steps["debit"] = &api.StepExecution{
				Name:          "debit",
				Status:        api.StepDone,
				Output:        "debit-ok",
				Attempts:      2,
				CompletionSeq: 1,
				CompensationInput: &api.CompensationInput{
					TransactionID: "tx-steps",
					StepName:      "debit",
					Input:         "payload",
					Output:        "debit-ok",
				},
			}
			if err := store.SaveTransaction(tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}

			got, err := store.GetTransaction("tx-steps")
			if err != nil {
				t.Fatalf("GetTransaction failed: %v", err)
			}
			step := got.Step("debit")
			if step == nil {
				t.Fatal("expected debit step record")
			}
			if step.Attempts != 2 || step.CompletionSeq != 1 {
				t.Fatalf("expected attempt and sequence counters to round-trip, got %+v", step)
			}
			if step.CompensationInput == nil || step.CompensationInput.Output != "debit-ok" {
				t.Fatalf("expected compensation snapshot to round-trip, got %+v", step.CompensationInput)
			}
		})
	}
}

// TestStore_GetReturnsIsolatedRecord: a record handed out by GetTransaction
// must not alias store state, so callers polling a running transaction never
// observe (or cause) partial writes.
func TestStore_GetReturnsIsolatedRecord(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			if err := store.SaveTransaction(sampleTransaction("iso-tx")); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}

			first, err := store.GetTransaction("iso-tx")
			if err != nil {
				t.Fatalf("GetTransaction failed: %v", err)
			}
			first.Status = api.TransactionFailed
			first.Step("debit").Status = api.StepCompensateFailed

			second, err := store.GetTransaction("iso-tx")
			if err != nil {
				t.Fatalf("GetTransaction failed: %v", err)
			}
			if second.Status != api.TransactionRunning {
				t.Fatalf("mutating a fetched record leaked into the store: %s", second.Status)
			}
			if second.Step("debit").Status != api.StepNotStarted {
				t.Fatalf("mutating a fetched step record leaked into the store: %s", second.Step("debit").Status)
			}
		})
	}
}

// TestStore_SaveSnapshotsCaller: mutations to a transaction after Save must
// not be visible until the next Update.
func TestStore_SaveSnapshotsCaller(t *testing.T) {
	for name, store := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			tx := sampleTransaction("snap-tx")
			if err := store.SaveTransaction(tx); err != nil {
				t.Fatalf("SaveTransaction failed: %v", err)
			}

			tx.Status = api.TransactionSucceeded
			tx.Step("debit").Status = api.StepDone

			got, err := store.GetTransaction("snap-tx")
			if err != nil {
				t.Fatalf("GetTransaction failed: %v", err)
			}
			if got.Status != api.TransactionRunning || got.Step("debit").Status != api.StepNotStarted {
				t.Fatalf("expected the state at save time, got status=%s step=%s",
					got.Status, got.Step("debit").Status)
			}

			if err := store.UpdateTransaction(tx); err != nil {
				t.Fatalf("UpdateTransaction failed: %v", err)
			}
			got, err = store.GetTransaction("snap-tx")
			if err != nil {
				t.Fatalf("GetTransaction failed: %v", err)
			}
			if got.Status != api.TransactionSucceeded {
				t.Fatalf("expected the update to be visible, got %s", got.Status)
			}
		})
	}
}
