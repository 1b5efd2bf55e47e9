package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TransferState is the lifecycle position of a transfer request. States only
// move forward: Requested, then Approved, then Completed.
type TransferState string

const (
	TransferRequested TransferState = "Requested"
	TransferApproved  TransferState = "Approved"
	TransferCompleted TransferState = "Completed"
)

// Rank orders states so that callers can assert forward-only movement.
func (s TransferState) Rank() int {
	switch s {
	case TransferRequested:
		return 1
	case TransferApproved:
		return 2
	case TransferCompleted:
		return 3
	default:
		return 0
	}
}

// StateFromFlags derives the lifecycle state from the ledger's flag pair.
func StateFromFlags(approved, completed bool) TransferState {
	switch {
	case completed:
		return TransferCompleted
	case approved:
		return TransferApproved
	default:
		return TransferRequested
	}
}

// TransferRequest is an ownership-transfer request recorded on the ledger.
type TransferRequest struct {
	ID          *big.Int
	LandID      *big.Int
	From        common.Address
	To          common.Address
	Price       *big.Int
	Message     string
	State       TransferState
	RequestDate time.Time
}
