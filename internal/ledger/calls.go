package ledger

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Contract method names.
const (
	MethodRegisterUser     = "registerUser"
	MethodRevokeUser       = "revokeUser"
	MethodReinstateUser    = "reinstateUser"
	MethodRegisterLand     = "registerLand"
	MethodDeleteLand       = "deleteLand"
	MethodRequestTransfer  = "requestTransfer"
	MethodApproveTransfer  = "approveTransfer"
	MethodCompleteTransfer = "completeTransfer"
)

// Call is one state-changing contract invocation. Args use the Go types the
// ABI codec expects (common.Address, string, bool, *big.Int).
type Call struct {
	Method string
	Args   []any
}

func RegisterUser(addr common.Address, name, email string, admin bool) Call {
	return Call{Method: MethodRegisterUser, Args: []any{addr, name, email, admin}}
}

func RevokeUser(addr common.Address) Call {
	return Call{Method: MethodRevokeUser, Args: []any{addr}}
}

func ReinstateUser(addr common.Address) Call {
	return Call{Method: MethodReinstateUser, Args: []any{addr}}
}

func RegisterLand(landID, description, location string, area *big.Int, imageURL string, owner common.Address) Call {
	return Call{Method: MethodRegisterLand, Args: []any{landID, description, location, area, imageURL, owner}}
}

func DeleteLand(id *big.Int) Call {
	return Call{Method: MethodDeleteLand, Args: []any{id}}
}

func RequestTransfer(landID *big.Int, to common.Address, price *big.Int, message string) Call {
	return Call{Method: MethodRequestTransfer, Args: []any{landID, to, price, message}}
}

func ApproveTransfer(requestID *big.Int) Call {
	return Call{Method: MethodApproveTransfer, Args: []any{requestID}}
}

func CompleteTransfer(requestID *big.Int) Call {
	return Call{Method: MethodCompleteTransfer, Args: []any{requestID}}
}
