package journal

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/vanshika/landgate/backend/internal/domain"
)

// MemoryStore keeps the journal in process. It is used when no graph
// database is configured and in unit tests.
type MemoryStore struct {
	mu          sync.RWMutex
	submissions map[common.Hash]Submission
	steps       map[string]domain.Receipt
}

// NewMemoryStore instantiates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		submissions: make(map[common.Hash]Submission),
		steps:       make(map[string]domain.Receipt),
	}
}

func (m *MemoryStore) RecordSubmission(_ context.Context, sub Submission) error {
	if sub.Hash == (common.Hash{}) {
		return fmt.Errorf("record submission: empty hash")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.submissions[sub.Hash]; ok {
		sub.ID = prev.ID
	}
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}
	if sub.RecordedAt.IsZero() {
		sub.RecordedAt = time.Now().UTC()
	}
	m.submissions[sub.Hash] = sub
	return nil
}

func (m *MemoryStore) Submission(_ context.Context, hash common.Hash) (Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.submissions[hash]
	if !ok {
		return Submission{}, fmt.Errorf("submission %s: %w", hash.Hex(), ErrNotFound)
	}
	return sub, nil
}

func (m *MemoryStore) RecordStep(_ context.Context, requestID *big.Int, step Step, receipt domain.Receipt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps[stepKey(requestID, step)] = receipt
	return nil
}

func (m *MemoryStore) Step(_ context.Context, requestID *big.Int, step Step) (domain.Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.steps[stepKey(requestID, step)]
	if !ok {
		return domain.Receipt{}, fmt.Errorf("transfer %s step %s: %w", requestID, step, ErrNotFound)
	}
	return r, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close(context.Context) error { return nil }

func stepKey(requestID *big.Int, step Step) string {
	return requestID.String() + "/" + string(step)
}
