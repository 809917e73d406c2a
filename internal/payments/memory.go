package payments

import (
	"context"
	"sync"
)

// NewInMemoryTransactionStore constructs an in-memory transaction store.
func NewInMemoryTransactionStore() *InMemoryTransactionStore {
	return &InMemoryTransactionStore{
		byID:    make(map[string]Transaction),
		byOrder: make(map[string][]string),
	}
}

// InMemoryTransactionStore keeps transactions in memory. Used as the
// fallback store and in tests.
type InMemoryTransactionStore struct {
	mu      sync.Mutex
	byID    map[string]Transaction
	byOrder map[string][]string
}

func (s *InMemoryTransactionStore) Create(ctx context.Context, tx Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[tx.ID] = tx
	s.byOrder[tx.OrderID] = append(s.byOrder[tx.OrderID], tx.ID)
	return nil
}

func (s *InMemoryTransactionStore) Update(ctx context.Context, tx Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[tx.ID]; !ok {
		return ErrTransactionNotFound
	}
	s.byID[tx.ID] = tx
	return nil
}

func (s *InMemoryTransactionStore) GetByID(ctx context.Context, id string) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, ok := s.byID[id]
	if !ok {
		return Transaction{}, ErrTransactionNotFound
	}
	return tx, nil
}

func (s *InMemoryTransactionStore) LatestByOrderID(ctx context.Context, orderID string) (Transaction, error) {
	if err := ctx.Err(); err != nil {
		return Transaction{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byOrder[orderID]
	if len(ids) == 0 {
		return Transaction{}, ErrTransactionNotFound
	}
	return s.byID[ids[len(ids)-1]], nil
}

// Count returns the number of stored transactions (for testing/inspection).
func (s *InMemoryTransactionStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// NewInMemoryRefundStore constructs an in-memory refund store.
func NewInMemoryRefundStore() *InMemoryRefundStore {
	return &InMemoryRefundStore{
		byID: make(map[string]Refund),
		byTx: make(map[string][]string),
	}
}

// InMemoryRefundStore keeps refund records in memory.
type InMemoryRefundStore struct {
	mu   sync.Mutex
	byID map[string]Refund
	byTx map[string][]string
}

func (s *InMemoryRefundStore) Create(ctx context.Context, r Refund) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[r.ID] = r
	s.byTx[r.TransactionID] = append(s.byTx[r.TransactionID], r.ID)
	return nil
}

func (s *InMemoryRefundStore) Update(ctx context.Context, r Refund) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[r.ID]; !ok {
		return ErrRefundNotFound
	}
	s.byID[r.ID] = r
	return nil
}

func (s *InMemoryRefundStore) GetByID(ctx context.Context, id string) (Refund, error) {
	if err := ctx.Err(); err != nil {
		return Refund{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	if !ok {
		return Refund{}, ErrRefundNotFound
	}
	return r, nil
}

func (s *InMemoryRefundStore) LatestByTransactionID(ctx context.Context, transactionID string) (Refund, error) {
	if err := ctx.Err(); err != nil {
		return Refund{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := s.byTx[transactionID]
	if len(ids) == 0 {
		return Refund{}, ErrRefundNotFound
	}
	return s.byID[ids[len(ids)-1]], nil
}
