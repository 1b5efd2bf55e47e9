package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Land is a registered parcel. It is read from the ledger on every request and
// never cached by the gateway.
type Land struct {
	ID               *big.Int
	LandID           string
	Description      string
	Location         string
	Area             *big.Int
	ImageURL         string
	Owner            common.Address
	Registered       bool
	RegistrationDate time.Time
}
