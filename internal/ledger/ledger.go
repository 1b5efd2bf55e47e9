// Package ledger talks to the LandRegistry contract. Reads are idempotent
// eth_calls; writes are single transactions that either apply in full or
// revert.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vanshika/landgate/backend/internal/domain"
)

var (
	// ErrUnavailable wraps transport and node failures.
	ErrUnavailable = errors.New("ledger unavailable")
	// ErrNotFound is returned when a queried record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidCall indicates arguments that cannot be encoded for the method.
	ErrInvalidCall = errors.New("invalid ledger call")
	// ErrNonceMismatch is returned when a transaction's nonce is not the
	// signer's next expected nonce.
	ErrNonceMismatch = errors.New("nonce mismatch")
)

// RevertError reports that the contract rejected a call.
type RevertError struct {
	Reason string
}

func (e *RevertError) Error() string {
	if e.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + e.Reason
}

// IsRevert reports whether err is a contract revert.
func IsRevert(err error) (*RevertError, bool) {
	var rev *RevertError
	if errors.As(err, &rev) {
		return rev, true
	}
	return nil, false
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

// Signer signs transactions for exactly one address.
type Signer interface {
	Address() common.Address
	SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error)
}

// Confirmation is the mined outcome of a broadcast transaction.
type Confirmation struct {
	BlockNumber uint64
	Reverted    bool
}

// Writer is the submission surface used by the transaction queue.
type Writer interface {
	// PendingNonce returns the next nonce the node expects from addr,
	// counting transactions still in its pool.
	PendingNonce(ctx context.Context, addr common.Address) (uint64, error)
	// Send builds, signs and broadcasts call with the given nonce. A
	// *RevertError means the call was rejected before broadcast.
	Send(ctx context.Context, signer Signer, nonce uint64, call Call) (common.Hash, error)
	// WaitConfirmed blocks until hash is mined or ctx ends.
	WaitConfirmed(ctx context.Context, hash common.Hash) (Confirmation, error)
}

// Reader exposes the contract's read-only queries.
type Reader interface {
	Land(ctx context.Context, id *big.Int) (domain.Land, error)
	Lands(ctx context.Context) ([]domain.Land, error)
	UserLandIDs(ctx context.Context, owner common.Address) ([]*big.Int, error)
	User(ctx context.Context, addr common.Address) (domain.User, error)
	TotalUsers(ctx context.Context) (*big.Int, error)
	Transfers(ctx context.Context) ([]domain.TransferRequest, error)
	PendingTransfers(ctx context.Context) ([]domain.TransferRequest, error)
	Transfer(ctx context.Context, id *big.Int) (domain.TransferRequest, error)
}

// Ledger is the full client contract.
type Ledger interface {
	Reader
	Writer
	ChainID(ctx context.Context) (*big.Int, error)
	Ping(ctx context.Context) error
	Close()
}

// findTransfer scans all requests for id; the contract has no by-id getter.
func findTransfer(all []domain.TransferRequest, id *big.Int) (domain.TransferRequest, error) {
	for _, tr := range all {
		if tr.ID != nil && tr.ID.Cmp(id) == 0 {
			return tr, nil
		}
	}
	return domain.TransferRequest{}, fmt.Errorf("transfer request %s: %w", id, ErrNotFound)
}
