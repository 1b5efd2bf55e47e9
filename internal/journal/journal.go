// Package journal records the outcome of every ledger submission so that a
// caller who disconnected can still learn what happened, and so that lifecycle
// steps can be replayed idempotently.
package journal

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vanshika/landgate/backend/internal/domain"
)

// ErrNotFound is returned when no journal entry matches the lookup.
var ErrNotFound = errors.New("journal entry not found")

// Status is the last known outcome of a broadcast transaction.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusReverted  Status = "reverted"
	StatusTimeout   Status = "timeout"
	StatusFailed    Status = "failed"
)

// Step names the lifecycle transition a receipt belongs to.
type Step string

const (
	StepRequest  Step = "request"
	StepApprove  Step = "approve"
	StepComplete Step = "complete"
)

// Submission is one broadcast transaction and its outcome.
type Submission struct {
	ID          string
	Hash        common.Hash
	Signer      common.Address
	Method      string
	Nonce       uint64
	Status      Status
	BlockNumber uint64
	Error       string
	RecordedAt  time.Time
}

// Receipt converts the submission to the receipt handed to callers.
func (s Submission) Receipt() domain.Receipt {
	return domain.Receipt{
		Hash:        s.Hash,
		Nonce:       s.Nonce,
		Confirmed:   s.Status == StatusConfirmed,
		BlockNumber: s.BlockNumber,
		Method:      s.Method,
		Signer:      s.Signer,
	}
}

// Store persists submissions and lifecycle steps.
type Store interface {
	// RecordSubmission inserts or updates the entry for sub.Hash.
	RecordSubmission(ctx context.Context, sub Submission) error
	Submission(ctx context.Context, hash common.Hash) (Submission, error)
	// RecordStep links a confirmed receipt to a transfer request's step.
	RecordStep(ctx context.Context, requestID *big.Int, step Step, receipt domain.Receipt) error
	Step(ctx context.Context, requestID *big.Int, step Step) (domain.Receipt, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}
