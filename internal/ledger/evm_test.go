package ledger

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vanshika/landgate/backend/internal/domain"
)

type fakeBackend struct {
	mu        sync.Mutex
	callOut   map[string][]byte
	callErr   error
	estimate  error
	sendErr   error
	sent      []*types.Transaction
	receipts  map[common.Hash]*types.Receipt
	nonce     uint64
	chainID   *big.Int
	chainErr  error
	chainHits int
	blockErr  error
	closed    bool
	lastCalls []ethereum.CallMsg
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		callOut:  make(map[string][]byte),
		receipts: make(map[common.Hash]*types.Receipt),
		chainID:  big.NewInt(1337),
	}
}

func (f *fakeBackend) CallContract(_ context.Context, msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastCalls = append(f.lastCalls, msg)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.callOut[hexutil.Encode(msg.Data[:4])], nil
}

func (f *fakeBackend) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	return 100000, f.estimate
}

func (f *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) SendTransaction(_ context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return f.nonce, nil
}

func (f *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[hash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chainHits++
	if f.chainErr != nil {
		return nil, f.chainErr
	}
	return f.chainID, nil
}

func (f *fakeBackend) BlockNumber(context.Context) (uint64, error) { return 42, f.blockErr }

func (f *fakeBackend) Close() { f.closed = true }

func (f *fakeBackend) setReceipt(hash common.Hash, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = &types.Receipt{Status: status, BlockNumber: big.NewInt(9)}
}

type rpcDataError struct {
	msg  string
	data any
}

func (e rpcDataError) Error() string  { return e.msg }
func (e rpcDataError) ErrorCode() int { return 3 }
func (e rpcDataError) ErrorData() any { return e.data }

func newTestEVM(t *testing.T, backend *fakeBackend) *EVM {
	t.Helper()
	e, err := NewEVM(backend, Options{
		Contract:     common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"),
		PollInterval: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new evm: %v", err)
	}
	return e
}

func selector(t *testing.T, method string) string {
	t.Helper()
	parsed, err := DefaultABI()
	if err != nil {
		t.Fatalf("default abi: %v", err)
	}
	return hexutil.Encode(parsed.Methods[method].ID)
}

func TestDefaultABI_PacksEveryCall(t *testing.T) {
	parsed, err := DefaultABI()
	if err != nil {
		t.Fatalf("default abi: %v", err)
	}
	addr := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	calls := []Call{
		RegisterUser(addr, "Alice", "alice@example.com", false),
		RevokeUser(addr),
		ReinstateUser(addr),
		RegisterLand("PLOT-1", "desc", "loc", big.NewInt(100), "https://img", addr),
		DeleteLand(big.NewInt(1)),
		RequestTransfer(big.NewInt(1), addr, big.NewInt(500), "hello"),
		ApproveTransfer(big.NewInt(1)),
		CompleteTransfer(big.NewInt(1)),
	}
	for _, c := range calls {
		if _, err := parsed.Pack(c.Method, c.Args...); err != nil {
			t.Errorf("pack %s: %v", c.Method, err)
		}
	}
}

func TestLoadABI_FromArtifact(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "LandRegistry.json")
	artifact := `{"contractName":"LandRegistry","abi":` + registryABI + `}`
	if err := os.WriteFile(path, []byte(artifact), 0o600); err != nil {
		t.Fatalf("write artifact: %v", err)
	}

	parsed, err := LoadABI(path)
	if err != nil {
		t.Fatalf("load abi: %v", err)
	}
	if _, ok := parsed.Methods[MethodCompleteTransfer]; !ok {
		t.Error("expected completeTransfer in loaded abi")
	}

	if _, err := LoadABI(filepath.Join(dir, "missing.json")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected not-exist error, got %v", err)
	}
}

func TestEVM_SendAndWait(t *testing.T) {
	backend := newFakeBackend()
	e := newTestEVM(t, backend)
	signer := newKeySigner(t)

	hash, err := e.Send(context.Background(), signer, 4, ApproveTransfer(big.NewInt(2)))
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(backend.sent) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(backend.sent))
	}
	tx := backend.sent[0]
	if tx.Nonce() != 4 || tx.Hash() != hash {
		t.Errorf("unexpected tx nonce=%d hash=%s", tx.Nonce(), tx.Hash().Hex())
	}
	if tx.Gas() != 120000 {
		t.Errorf("expected padded gas 120000, got %d", tx.Gas())
	}
	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1337)), tx)
	if err != nil || from != signer.Address() {
		t.Errorf("unexpected sender %s (%v)", from.Hex(), err)
	}

	go func() {
		time.Sleep(5 * time.Millisecond)
		backend.setReceipt(hash, types.ReceiptStatusFailed)
	}()
	conf, err := e.WaitConfirmed(context.Background(), hash)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !conf.Reverted || conf.BlockNumber != 9 {
		t.Errorf("unexpected confirmation %+v", conf)
	}
}

func TestEVM_WaitConfirmedHonoursContext(t *testing.T) {
	e := newTestEVM(t, newFakeBackend())
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := e.WaitConfirmed(ctx, common.HexToHash("0x01"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestEVM_SendClassifiesErrors(t *testing.T) {
	revertData := append(crypto.Keccak256([]byte("Error(string)"))[:4], mustPackString(t, "Only admin can perform this action")...)

	tests := []struct {
		name     string
		estimate error
		send     error
		check    func(error) bool
	}{
		{
			name:     "revert data",
			estimate: rpcDataError{msg: "execution reverted", data: hexutil.Encode(revertData)},
			check: func(err error) bool {
				rev, ok := IsRevert(err)
				return ok && rev.Reason == "Only admin can perform this action"
			},
		},
		{
			name:     "revert message",
			estimate: errors.New("VM Exception while processing transaction: reverted with reason string 'Land does not exist'"),
			check: func(err error) bool {
				rev, ok := IsRevert(err)
				return ok && rev.Reason == "Land does not exist"
			},
		},
		{
			name:  "nonce too low",
			send:  errors.New("nonce too low: next nonce 5, tx nonce 4"),
			check: func(err error) bool { return errors.Is(err, ErrNonceMismatch) },
		},
		{
			name:  "transport",
			send:  errors.New("connection refused"),
			check: func(err error) bool { return errors.Is(err, ErrUnavailable) },
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			backend := newFakeBackend()
			backend.estimate = tc.estimate
			backend.sendErr = tc.send
			e := newTestEVM(t, backend)

			_, err := e.Send(context.Background(), newKeySigner(t), 0, ApproveTransfer(big.NewInt(1)))
			if !tc.check(err) {
				t.Fatalf("unexpected error classification: %v", err)
			}
		})
	}
}

func TestEVM_SendAlreadyKnownIsAccepted(t *testing.T) {
	backend := newFakeBackend()
	backend.sendErr = errors.New("already known")
	e := newTestEVM(t, backend)

	hash, err := e.Send(context.Background(), newKeySigner(t), 0, ApproveTransfer(big.NewInt(1)))
	if err != nil {
		t.Fatalf("expected already known to be accepted, got %v", err)
	}
	if hash == (common.Hash{}) {
		t.Error("expected the signed transaction hash")
	}
}

func TestEVM_SendRejectsBadArguments(t *testing.T) {
	e := newTestEVM(t, newFakeBackend())
	_, err := e.Send(context.Background(), newKeySigner(t), 0, Call{Method: MethodApproveTransfer, Args: []any{"one"}})
	if !errors.Is(err, ErrInvalidCall) {
		t.Fatalf("expected invalid call, got %v", err)
	}
}

func TestEVM_ReadsDecodeTuples(t *testing.T) {
	backend := newFakeBackend()
	parsed, _ := DefaultABI()
	owner := common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")

	land := landTuple{
		Id: big.NewInt(3), LandId: "PLOT-3", Description: "Field", Location: "Nashik",
		Area: big.NewInt(800), ImageUrl: "ipfs://x", CurrentOwner: owner,
		IsRegistered: true, RegistrationDate: big.NewInt(1700000000),
	}
	out, err := parsed.Methods["getLand"].Outputs.Pack(land)
	if err != nil {
		t.Fatalf("pack land: %v", err)
	}
	backend.callOut[selector(t, "getLand")] = out

	transfers := []transferTuple{
		{Id: big.NewInt(1), LandId: big.NewInt(3), From: owner, To: common.HexToAddress("0x02"), Price: big.NewInt(10), IsApproved: true, RequestDate: big.NewInt(1700000100), Message: "m"},
		{Id: big.NewInt(2), LandId: big.NewInt(3), From: owner, To: common.HexToAddress("0x03"), Price: big.NewInt(20), RequestDate: big.NewInt(1700000200)},
	}
	out, err = parsed.Methods["getAllTransferRequests"].Outputs.Pack(transfers)
	if err != nil {
		t.Fatalf("pack transfers: %v", err)
	}
	backend.callOut[selector(t, "getAllTransferRequests")] = out

	e := newTestEVM(t, backend)
	ctx := context.Background()

	got, err := e.Land(ctx, big.NewInt(3))
	if err != nil {
		t.Fatalf("land: %v", err)
	}
	if got.LandID != "PLOT-3" || got.Owner != owner || !got.Registered {
		t.Errorf("unexpected land %+v", got)
	}
	if got.RegistrationDate.Unix() != 1700000000 {
		t.Errorf("unexpected registration date %v", got.RegistrationDate)
	}

	tr, err := e.Transfer(ctx, big.NewInt(1))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if tr.State != domain.TransferApproved || tr.Message != "m" {
		t.Errorf("unexpected transfer %+v", tr)
	}

	if _, err := e.Transfer(ctx, big.NewInt(99)); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestEVM_LandRevertIsNotFound(t *testing.T) {
	backend := newFakeBackend()
	backend.callErr = errors.New("execution reverted: Land does not exist")
	e := newTestEVM(t, backend)

	if _, err := e.Land(context.Background(), big.NewInt(1)); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEVM_PingAndChainID(t *testing.T) {
	backend := newFakeBackend()
	e := newTestEVM(t, backend)

	if id, err := e.ChainID(context.Background()); err != nil || id.Cmp(big.NewInt(1337)) != 0 {
		t.Errorf("expected chain id from backend, got %v (err %v)", id, err)
	}
	if err := e.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
	backend.blockErr = errors.New("down")
	if err := e.Ping(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected unavailable, got %v", err)
	}
	e.Close()
	if !backend.closed {
		t.Error("expected backend to be closed")
	}
}

func TestDial_RequiresEndpoint(t *testing.T) {
	if _, err := Dial(context.Background(), Options{}); !errors.Is(err, ErrMissingEndpoint) {
		t.Fatalf("expected missing endpoint, got %v", err)
	}
}

func mustPackString(t *testing.T, s string) []byte {
	t.Helper()
	strType, err := abi.NewType("string", "", nil)
	if err != nil {
		t.Fatalf("string type: %v", err)
	}
	out, err := abi.Arguments{{Type: strType}}.Pack(s)
	if err != nil {
		t.Fatalf("pack string: %v", err)
	}
	return out
}

func TestEVM_ChainIDResolvedLazily(t *testing.T) {
	backend := newFakeBackend()
	backend.chainErr = errors.New("connection refused")

	e, err := NewEVM(backend, Options{Contract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")})
	if err != nil {
		t.Fatalf("expected construction to succeed with the node down, got %v", err)
	}
	if backend.chainHits != 0 {
		t.Fatalf("expected no chain id lookup at construction, got %d", backend.chainHits)
	}
	if _, err := e.ChainID(context.Background()); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected unavailable while the node is down, got %v", err)
	}

	backend.mu.Lock()
	backend.chainErr = nil
	backend.mu.Unlock()
	for i := 0; i < 2; i++ {
		id, err := e.ChainID(context.Background())
		if err != nil || id.Cmp(big.NewInt(1337)) != 0 {
			t.Fatalf("expected chain id 1337, got %v (err %v)", id, err)
		}
	}
	if backend.chainHits != 2 {
		t.Fatalf("expected the chain id to be cached after the first success, got %d lookups", backend.chainHits)
	}
}

func TestEVM_ConfiguredChainIDSkipsLookup(t *testing.T) {
	backend := newFakeBackend()
	e, err := NewEVM(backend, Options{Contract: common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), ChainID: 31337})
	if err != nil {
		t.Fatalf("new evm: %v", err)
	}
	id, err := e.ChainID(context.Background())
	if err != nil || id.Int64() != 31337 || backend.chainHits != 0 {
		t.Fatalf("expected configured chain id without lookup, got %v (err %v, lookups %d)", id, err, backend.chainHits)
	}
}
