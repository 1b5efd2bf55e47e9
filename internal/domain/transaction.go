package domain

import "github.com/ethereum/go-ethereum/common"

// Receipt proves that one ledger call was accepted under a given nonce.
type Receipt struct {
	Hash        common.Hash
	Nonce       uint64
	Confirmed   bool
	BlockNumber uint64
	Method      string
	Signer      common.Address
}

// IsZero reports whether the receipt is unset.
func (r Receipt) IsZero() bool {
	return r.Hash == (common.Hash{})
}
