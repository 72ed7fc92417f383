package persistence

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/weftlabs/weft/pkg/api"
)

// InMemoryStore is a goroutine-safe TransactionStore backed by maps.
// It is non-durable and intended for tests and single-process deployments.
//
// Writes snapshot the transaction and reads return copies, so a record handed
// out by GetTransaction never aliases the one the orchestrator is mutating.
type InMemoryStore struct {
	mu           sync.RWMutex
	transactions map[string]*api.Transaction
	leases       map[string]lease
}

type lease struct {
	owner     string
	expiresAt time.Time
}

// NewInMemoryStore creates a new InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		transactions: make(map[string]*api.Transaction),
		leases:       make(map[string]lease),
	}
}

var _ TransactionStore = (*InMemoryStore)(nil)

func (s *InMemoryStore) SaveTransaction(tx *api.Transaction) error {
	snapshot := tx.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.transactions[tx.ID] = snapshot
	return nil
}

func (s *InMemoryStore) UpdateTransaction(tx *api.Transaction) error {
	snapshot := tx.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.transactions[tx.ID]; !ok {
		return ErrTransactionNotFound
	}

	s.transactions[tx.ID] = snapshot
	return nil
}

func (s *InMemoryStore) GetTransaction(id string) (*api.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tx, ok := s.transactions[id]
	if !ok {
		return nil, ErrTransactionNotFound
	}

	return tx.Clone(), nil
}

func (s *InMemoryStore) ListTransactions(filter TransactionFilter) ([]*api.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*api.Transaction

	for _, tx := range s.transactions {
		if filter.WorkflowName != "" && tx.WorkflowName != filter.WorkflowName {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		result = append(result, tx.Clone())
	}

	return result, nil
}

func (s *InMemoryStore) TryAcquireLease(ctx context.Context, transactionID, owner string, ttl time.Duration) (bool, error) {
	if owner == "" {
		return false, errors.New("lease owner is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if l, ok := s.leases[transactionID]; ok {
		if l.owner != owner && l.expiresAt.After(now) {
			return false, nil
		}
	}

	s.leases[transactionID] = lease{owner: owner, expiresAt: now.Add(ttl)}
	return true, nil
}

func (s *InMemoryStore) RenewLease(ctx context.Context, transactionID, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.leases[transactionID]
	if !ok || l.owner != owner {
		return errors.New("lease not held by owner")
	}

	l.expiresAt = time.Now().Add(ttl)
	s.leases[transactionID] = l
	return nil
}

func (s *InMemoryStore) ReleaseLease(ctx context.Context, transactionID, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.leases[transactionID]; ok && l.owner == owner {
		delete(s.leases, transactionID)
	}
	return nil
}
