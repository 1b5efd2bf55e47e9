package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/vanshika/landgate/backend/internal/domain"
)

// ErrMissingEndpoint indicates the RPC URL or contract address is not provided.
var ErrMissingEndpoint = errors.New("ledger RPC URL and contract address are required")

// Options configures the EVM client.
type Options struct {
	RPCURL       string
	Contract     common.Address
	ChainID      int64
	ABIPath      string
	PollInterval time.Duration
}

// Backend is the subset of ethclient.Client the EVM ledger needs.
type Backend interface {
	ethereum.ContractCaller
	ethereum.GasEstimator
	ethereum.GasPricer
	ethereum.TransactionSender
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	Close()
}

// EVM reads and writes the registry contract over JSON-RPC.
type EVM struct {
	backend  Backend
	contract common.Address
	abi      abi.ABI
	poll     time.Duration

	chainMu sync.Mutex
	chainID *big.Int
}

// Dial opens a JSON-RPC client for the node. When opts.ChainID is zero the
// chain id is queried from the node on first use, so a node that is still
// starting does not block the gateway.
func Dial(ctx context.Context, opts Options) (*EVM, error) {
	if opts.RPCURL == "" || opts.Contract == (common.Address{}) {
		return nil, ErrMissingEndpoint
	}
	client, err := ethclient.DialContext(ctx, opts.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial ledger: %w", err)
	}
	e, err := NewEVM(client, opts)
	if err != nil {
		client.Close()
		return nil, err
	}
	return e, nil
}

// NewEVM wraps an existing backend.
func NewEVM(backend Backend, opts Options) (*EVM, error) {
	parsed, err := LoadABI(opts.ABIPath)
	if err != nil {
		return nil, err
	}

	var chainID *big.Int
	if opts.ChainID != 0 {
		chainID = big.NewInt(opts.ChainID)
	}

	poll := opts.PollInterval
	if poll <= 0 {
		poll = 500 * time.Millisecond
	}

	return &EVM{
		backend:  backend,
		contract: opts.Contract,
		abi:      parsed,
		chainID:  chainID,
		poll:     poll,
	}, nil
}

// ChainID returns the configured chain id, asking the node once when none
// was configured.
func (e *EVM) ChainID(ctx context.Context) (*big.Int, error) {
	e.chainMu.Lock()
	defer e.chainMu.Unlock()
	if e.chainID == nil {
		id, err := e.backend.ChainID(ctx)
		if err != nil {
			return nil, unavailable("chain id", err)
		}
		e.chainID = id
	}
	return new(big.Int).Set(e.chainID), nil
}

func (e *EVM) Ping(ctx context.Context) error {
	if _, err := e.backend.BlockNumber(ctx); err != nil {
		return unavailable("block number", err)
	}
	return nil
}

func (e *EVM) Close() { e.backend.Close() }

func (e *EVM) PendingNonce(ctx context.Context, addr common.Address) (uint64, error) {
	nonce, err := e.backend.PendingNonceAt(ctx, addr)
	if err != nil {
		return 0, unavailable("pending nonce", err)
	}
	return nonce, nil
}

func (e *EVM) Send(ctx context.Context, signer Signer, nonce uint64, call Call) (common.Hash, error) {
	data, err := e.abi.Pack(call.Method, call.Args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w: %v", call.Method, ErrInvalidCall, err)
	}

	msg := ethereum.CallMsg{From: signer.Address(), To: &e.contract, Data: data}
	gas, err := e.backend.EstimateGas(ctx, msg)
	if err != nil {
		return common.Hash{}, classify("estimate gas", err)
	}
	gasPrice, err := e.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, unavailable("gas price", err)
	}

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &e.contract,
		Gas:      gas + gas/5,
		GasPrice: gasPrice,
		Data:     data,
	})
	chainID, err := e.ChainID(ctx)
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := signer.SignTx(tx, chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign %s: %w", call.Method, err)
	}

	if err := e.backend.SendTransaction(ctx, signed); err != nil {
		msg := strings.ToLower(err.Error())
		switch {
		case strings.Contains(msg, "already known"):
			return signed.Hash(), nil
		case strings.Contains(msg, "nonce too low"), strings.Contains(msg, "nonce too high"):
			return common.Hash{}, fmt.Errorf("send %s: %w: %v", call.Method, ErrNonceMismatch, err)
		}
		return common.Hash{}, classify("send transaction", err)
	}
	return signed.Hash(), nil
}

// WaitConfirmed polls for the receipt, the way bind.WaitMined does.
func (e *EVM) WaitConfirmed(ctx context.Context, hash common.Hash) (Confirmation, error) {
	ticker := time.NewTicker(e.poll)
	defer ticker.Stop()

	for {
		receipt, err := e.backend.TransactionReceipt(ctx, hash)
		if err == nil {
			return Confirmation{
				BlockNumber: receipt.BlockNumber.Uint64(),
				Reverted:    receipt.Status == types.ReceiptStatusFailed,
			}, nil
		}
		if ctx.Err() != nil {
			return Confirmation{}, ctx.Err()
		}

		select {
		case <-ctx.Done():
			return Confirmation{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (e *EVM) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := e.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w: %v", method, ErrInvalidCall, err)
	}
	out, err := e.backend.CallContract(ctx, ethereum.CallMsg{To: &e.contract, Data: data}, nil)
	if err != nil {
		return nil, classify(method, err)
	}
	values, err := e.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(values) == 0 {
		return nil, fmt.Errorf("unpack %s: empty result", method)
	}
	return values, nil
}

func (e *EVM) Land(ctx context.Context, id *big.Int) (domain.Land, error) {
	out, err := e.call(ctx, "getLand", id)
	if err != nil {
		if rev, ok := IsRevert(err); ok {
			return domain.Land{}, fmt.Errorf("land %s: %w: %s", id, ErrNotFound, rev.Reason)
		}
		return domain.Land{}, err
	}
	t := *abi.ConvertType(out[0], new(landTuple)).(*landTuple)
	return t.toDomain(), nil
}

func (e *EVM) Lands(ctx context.Context) ([]domain.Land, error) {
	out, err := e.call(ctx, "getAllLands")
	if err != nil {
		return nil, err
	}
	tuples := *abi.ConvertType(out[0], new([]landTuple)).(*[]landTuple)
	lands := make([]domain.Land, 0, len(tuples))
	for _, t := range tuples {
		lands = append(lands, t.toDomain())
	}
	return lands, nil
}

func (e *EVM) UserLandIDs(ctx context.Context, owner common.Address) ([]*big.Int, error) {
	out, err := e.call(ctx, "getUserLands", owner)
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new([]*big.Int)).(*[]*big.Int), nil
}

func (e *EVM) User(ctx context.Context, addr common.Address) (domain.User, error) {
	out, err := e.call(ctx, "getUser", addr)
	if err != nil {
		if rev, ok := IsRevert(err); ok {
			return domain.User{}, fmt.Errorf("user %s: %w: %s", addr.Hex(), ErrNotFound, rev.Reason)
		}
		return domain.User{}, err
	}
	t := *abi.ConvertType(out[0], new(userTuple)).(*userTuple)
	return t.toDomain(), nil
}

func (e *EVM) TotalUsers(ctx context.Context) (*big.Int, error) {
	out, err := e.call(ctx, "getTotalUsers")
	if err != nil {
		return nil, err
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (e *EVM) Transfers(ctx context.Context) ([]domain.TransferRequest, error) {
	return e.transfers(ctx, "getAllTransferRequests")
}

func (e *EVM) PendingTransfers(ctx context.Context) ([]domain.TransferRequest, error) {
	return e.transfers(ctx, "getPendingTransfers")
}

func (e *EVM) Transfer(ctx context.Context, id *big.Int) (domain.TransferRequest, error) {
	all, err := e.Transfers(ctx)
	if err != nil {
		return domain.TransferRequest{}, err
	}
	return findTransfer(all, id)
}

func (e *EVM) transfers(ctx context.Context, method string) ([]domain.TransferRequest, error) {
	out, err := e.call(ctx, method)
	if err != nil {
		return nil, err
	}
	tuples := *abi.ConvertType(out[0], new([]transferTuple)).(*[]transferTuple)
	requests := make([]domain.TransferRequest, 0, len(tuples))
	for _, t := range tuples {
		requests = append(requests, t.toDomain())
	}
	return requests, nil
}

// classify turns an RPC error into a *RevertError when the node reports a
// revert, and into ErrUnavailable otherwise.
func classify(op string, err error) error {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if hexData, ok := dataErr.ErrorData().(string); ok {
			if raw, decodeErr := hexutil.Decode(hexData); decodeErr == nil {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return &RevertError{Reason: reason}
				}
			}
		}
	}
	msg := err.Error()
	if idx := strings.Index(msg, "reverted"); idx >= 0 {
		reason := strings.TrimSpace(msg[idx+len("reverted"):])
		reason = strings.TrimPrefix(reason, ":")
		reason = strings.TrimPrefix(strings.TrimSpace(reason), "with reason string")
		reason = strings.Trim(strings.TrimSpace(reason), "'\"")
		return &RevertError{Reason: reason}
	}
	return unavailable(op, err)
}

type landTuple struct {
	Id               *big.Int
	LandId           string
	Description      string
	Location         string
	Area             *big.Int
	ImageUrl         string
	CurrentOwner     common.Address
	IsRegistered     bool
	RegistrationDate *big.Int
}

func (t landTuple) toDomain() domain.Land {
	return domain.Land{
		ID:               t.Id,
		LandID:           t.LandId,
		Description:      t.Description,
		Location:         t.Location,
		Area:             t.Area,
		ImageURL:         t.ImageUrl,
		Owner:            t.CurrentOwner,
		Registered:       t.IsRegistered,
		RegistrationDate: unixTime(t.RegistrationDate),
	}
}

type userTuple struct {
	UserAddress      common.Address
	Name             string
	Email            string
	IsRegistered     bool
	IsAdmin          bool
	IsActive         bool
	RegistrationDate *big.Int
}

func (t userTuple) toDomain() domain.User {
	return domain.User{
		Address:          t.UserAddress,
		Name:             t.Name,
		Email:            t.Email,
		Registered:       t.IsRegistered,
		Admin:            t.IsAdmin,
		Active:           t.IsActive,
		RegistrationDate: unixTime(t.RegistrationDate),
	}
}

type transferTuple struct {
	Id          *big.Int
	LandId      *big.Int
	From        common.Address
	To          common.Address
	Price       *big.Int
	IsApproved  bool
	IsCompleted bool
	RequestDate *big.Int
	Message     string
}

func (t transferTuple) toDomain() domain.TransferRequest {
	return domain.TransferRequest{
		ID:          t.Id,
		LandID:      t.LandId,
		From:        t.From,
		To:          t.To,
		Price:       t.Price,
		Message:     t.Message,
		State:       domain.StateFromFlags(t.IsApproved, t.IsCompleted),
		RequestDate: unixTime(t.RequestDate),
	}
}

// unixTime converts a block timestamp in seconds.
func unixTime(v *big.Int) time.Time {
	if v == nil || v.Sign() == 0 || !v.IsInt64() {
		return time.Time{}
	}
	return time.Unix(v.Int64(), 0).UTC()
}
