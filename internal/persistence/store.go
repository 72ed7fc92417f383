package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/weftlabs/weft/pkg/api"
)

// ErrTransactionNotFound is returned when a transaction record is not found.
var ErrTransactionNotFound = errors.New("transaction not found")

// TransactionFilter is used to select transactions from the store.
// Empty string / zero status mean "no filter" for that field.
type TransactionFilter struct {
	WorkflowName string
	Status       api.TransactionStatus
}

// TransactionStore durably persists transaction execution records between
// steps so a transaction can be resumed across process restarts. The engine
// requires read-your-writes consistency for a single transaction id; it
// assumes a single active orchestrator drives a given id at a time, enforced
// through the lease methods.
type TransactionStore interface {
	SaveTransaction(tx *api.Transaction) error
	UpdateTransaction(tx *api.Transaction) error
	GetTransaction(id string) (*api.Transaction, error)
	ListTransactions(filter TransactionFilter) ([]*api.Transaction, error)

	// TryAcquireLease attempts to acquire (or re-acquire) a lease on a
	// transaction. If the transaction is currently leased by another owner
	// and the lease has not expired, it returns acquired=false, err=nil.
	//
	// Implementations should treat a lease owned by the same owner as
	// re-entrant.
	TryAcquireLease(ctx context.Context, transactionID, owner string, ttl time.Duration) (acquired bool, err error)

	// RenewLease extends an existing lease owned by 'owner' for the given ttl.
	RenewLease(ctx context.Context, transactionID, owner string, ttl time.Duration) error

	// ReleaseLease releases a lease if it is owned by 'owner'. It is idempotent.
	ReleaseLease(ctx context.Context, transactionID, owner string) error
}
