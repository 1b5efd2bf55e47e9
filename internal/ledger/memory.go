package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vanshika/landgate/backend/internal/domain"
)

// MemoryLedger is an in-memory registry contract used for unit testing the
// queue and coordinator without a running node. It enforces the contract's
// ownership and lifecycle rules and the node's nonce ordering.
type MemoryLedger struct {
	mu sync.Mutex

	admin   common.Address
	chainID *big.Int
	clock   func() time.Time

	nonces    map[common.Address]uint64
	users     map[common.Address]*domain.User
	userOrder []common.Address
	lands     []*domain.Land
	landKeys  map[string]bool
	transfers []*domain.TransferRequest

	mined        map[common.Hash]Confirmation
	sent         []SentTx
	failures     map[string][]error
	confirmDelay time.Duration
	sendHook     func(SentTx)
}

// SentTx captures a transaction accepted by the memory ledger.
type SentTx struct {
	Signer common.Address
	Nonce  uint64
	Method string
	Hash   common.Hash
}

// NewMemoryLedger instantiates an empty registry administered by admin.
func NewMemoryLedger(admin common.Address) *MemoryLedger {
	m := &MemoryLedger{
		admin:    admin,
		chainID:  big.NewInt(31337),
		clock:    time.Now,
		nonces:   make(map[common.Address]uint64),
		users:    make(map[common.Address]*domain.User),
		landKeys: make(map[string]bool),
		mined:    make(map[common.Hash]Confirmation),
		failures: make(map[string][]error),
	}
	m.users[admin] = &domain.User{Address: admin, Name: "System Admin", Registered: true, Admin: true, Active: true}
	m.userOrder = append(m.userOrder, admin)
	return m
}

// SetNonce seeds the next expected nonce for addr.
func (m *MemoryLedger) SetNonce(addr common.Address, nonce uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nonces[addr] = nonce
}

// FailNext makes the next Send of method return err. Errors queue up per
// method and are consumed in order.
func (m *MemoryLedger) FailNext(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[method] = append(m.failures[method], err)
}

// SetConfirmDelay delays every WaitConfirmed by d.
func (m *MemoryLedger) SetConfirmDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmDelay = d
}

// OnSend registers a hook invoked for every accepted transaction.
func (m *MemoryLedger) OnSend(fn func(SentTx)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sendHook = fn
}

// Sent returns a snapshot of accepted transactions.
func (m *MemoryLedger) Sent() []SentTx {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentTx(nil), m.sent...)
}

func (m *MemoryLedger) ChainID(context.Context) (*big.Int, error) {
	return new(big.Int).Set(m.chainID), nil
}

func (m *MemoryLedger) Ping(context.Context) error { return nil }

func (m *MemoryLedger) Close() {}

func (m *MemoryLedger) PendingNonce(_ context.Context, addr common.Address) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nonces[addr], nil
}

func (m *MemoryLedger) Send(_ context.Context, signer Signer, nonce uint64, call Call) (common.Hash, error) {
	m.mu.Lock()

	from := signer.Address()
	if queued := m.failures[call.Method]; len(queued) > 0 {
		m.failures[call.Method] = queued[1:]
		m.mu.Unlock()
		return common.Hash{}, queued[0]
	}
	if expected := m.nonces[from]; nonce != expected {
		m.mu.Unlock()
		return common.Hash{}, fmt.Errorf("%w: got %d, expected %d", ErrNonceMismatch, nonce, expected)
	}
	if err := m.apply(from, call); err != nil {
		m.mu.Unlock()
		return common.Hash{}, err
	}

	m.nonces[from] = nonce + 1
	hash := crypto.Keccak256Hash(from.Bytes(), new(big.Int).SetUint64(nonce).Bytes(), []byte(call.Method))
	m.mined[hash] = Confirmation{BlockNumber: uint64(len(m.sent) + 1)}
	tx := SentTx{Signer: from, Nonce: nonce, Method: call.Method, Hash: hash}
	m.sent = append(m.sent, tx)
	hook := m.sendHook
	m.mu.Unlock()

	if hook != nil {
		hook(tx)
	}
	return hash, nil
}

func (m *MemoryLedger) WaitConfirmed(ctx context.Context, hash common.Hash) (Confirmation, error) {
	m.mu.Lock()
	delay := m.confirmDelay
	m.mu.Unlock()

	if delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return Confirmation{}, ctx.Err()
		case <-timer.C:
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	conf, ok := m.mined[hash]
	if !ok {
		return Confirmation{}, fmt.Errorf("receipt %s: %w", hash.Hex(), ErrNotFound)
	}
	return conf, nil
}

func (m *MemoryLedger) apply(from common.Address, call Call) error {
	now := m.clock().UTC().Truncate(time.Second)
	switch call.Method {
	case MethodRegisterUser:
		if from != m.admin {
			return &RevertError{Reason: "Only admin can perform this action"}
		}
		addr, name, email, admin, err := argsRegisterUser(call.Args)
		if err != nil {
			return err
		}
		if u, ok := m.users[addr]; ok && u.Registered {
			return &RevertError{Reason: "User already registered"}
		}
		m.users[addr] = &domain.User{Address: addr, Name: name, Email: email, Registered: true, Admin: admin, Active: true, RegistrationDate: now}
		m.userOrder = append(m.userOrder, addr)
	case MethodRevokeUser, MethodReinstateUser:
		if from != m.admin {
			return &RevertError{Reason: "Only admin can perform this action"}
		}
		addr, err := argAddress(call.Args, 0)
		if err != nil {
			return err
		}
		u, ok := m.users[addr]
		if !ok || !u.Registered {
			return &RevertError{Reason: "User not registered"}
		}
		u.Active = call.Method == MethodReinstateUser
	case MethodRegisterLand:
		if from != m.admin {
			return &RevertError{Reason: "Only admin can perform this action"}
		}
		land, err := argsRegisterLand(call.Args)
		if err != nil {
			return err
		}
		if m.landKeys[land.LandID] {
			return &RevertError{Reason: "Land ID already exists"}
		}
		land.ID = big.NewInt(int64(len(m.lands) + 1))
		land.Registered = true
		land.RegistrationDate = now
		m.lands = append(m.lands, &land)
		m.landKeys[land.LandID] = true
	case MethodDeleteLand:
		if from != m.admin {
			return &RevertError{Reason: "Only admin can perform this action"}
		}
		id, err := argBig(call.Args, 0)
		if err != nil {
			return err
		}
		land := m.land(id)
		if land == nil || !land.Registered {
			return &RevertError{Reason: "Land does not exist"}
		}
		land.Registered = false
		delete(m.landKeys, land.LandID)
	case MethodRequestTransfer:
		if len(call.Args) != 4 {
			return fmt.Errorf("%w: requestTransfer expects 4 args", ErrInvalidCall)
		}
		landID, err := argBig(call.Args, 0)
		if err != nil {
			return err
		}
		to, err := argAddress(call.Args, 1)
		if err != nil {
			return err
		}
		price, err := argBig(call.Args, 2)
		if err != nil {
			return err
		}
		message, _ := call.Args[3].(string)
		land := m.land(landID)
		if land == nil || !land.Registered {
			return &RevertError{Reason: "Land does not exist"}
		}
		if land.Owner != from {
			return &RevertError{Reason: "Only land owner can request transfer"}
		}
		m.transfers = append(m.transfers, &domain.TransferRequest{
			ID:          big.NewInt(int64(len(m.transfers) + 1)),
			LandID:      new(big.Int).Set(landID),
			From:        from,
			To:          to,
			Price:       new(big.Int).Set(price),
			Message:     message,
			State:       domain.TransferRequested,
			RequestDate: now,
		})
	case MethodApproveTransfer, MethodCompleteTransfer:
		if from != m.admin {
			return &RevertError{Reason: "Only admin can perform this action"}
		}
		id, err := argBig(call.Args, 0)
		if err != nil {
			return err
		}
		tr := m.transfer(id)
		if tr == nil {
			return &RevertError{Reason: "Transfer request does not exist"}
		}
		if call.Method == MethodApproveTransfer {
			if tr.State != domain.TransferRequested {
				return &RevertError{Reason: "Transfer already approved"}
			}
			tr.State = domain.TransferApproved
			return nil
		}
		if tr.State != domain.TransferApproved {
			return &RevertError{Reason: "Transfer not approved or already completed"}
		}
		tr.State = domain.TransferCompleted
		if land := m.land(tr.LandID); land != nil {
			land.Owner = tr.To
		}
	default:
		return fmt.Errorf("%w: unknown method %s", ErrInvalidCall, call.Method)
	}
	return nil
}

func (m *MemoryLedger) land(id *big.Int) *domain.Land {
	if id == nil || !id.IsInt64() {
		return nil
	}
	idx := id.Int64() - 1
	if idx < 0 || idx >= int64(len(m.lands)) {
		return nil
	}
	return m.lands[idx]
}

func (m *MemoryLedger) transfer(id *big.Int) *domain.TransferRequest {
	if id == nil || !id.IsInt64() {
		return nil
	}
	idx := id.Int64() - 1
	if idx < 0 || idx >= int64(len(m.transfers)) {
		return nil
	}
	return m.transfers[idx]
}

func (m *MemoryLedger) Land(_ context.Context, id *big.Int) (domain.Land, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	land := m.land(id)
	if land == nil {
		return domain.Land{}, fmt.Errorf("land %s: %w", id, ErrNotFound)
	}
	return copyLand(*land), nil
}

func (m *MemoryLedger) Lands(context.Context) ([]domain.Land, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Land, 0, len(m.lands))
	for _, land := range m.lands {
		out = append(out, copyLand(*land))
	}
	return out, nil
}

func (m *MemoryLedger) UserLandIDs(_ context.Context, owner common.Address) ([]*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []*big.Int
	for _, land := range m.lands {
		if land.Owner == owner {
			ids = append(ids, new(big.Int).Set(land.ID))
		}
	}
	return ids, nil
}

func (m *MemoryLedger) User(_ context.Context, addr common.Address) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[addr]
	if !ok {
		return domain.User{}, fmt.Errorf("user %s: %w", addr.Hex(), ErrNotFound)
	}
	return *u, nil
}

func (m *MemoryLedger) TotalUsers(context.Context) (*big.Int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return big.NewInt(int64(len(m.userOrder))), nil
}

func (m *MemoryLedger) Transfers(context.Context) ([]domain.TransferRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.TransferRequest, 0, len(m.transfers))
	for _, tr := range m.transfers {
		out = append(out, copyTransfer(*tr))
	}
	return out, nil
}

func (m *MemoryLedger) PendingTransfers(context.Context) ([]domain.TransferRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.TransferRequest
	for _, tr := range m.transfers {
		if tr.State != domain.TransferCompleted {
			out = append(out, copyTransfer(*tr))
		}
	}
	return out, nil
}

func (m *MemoryLedger) Transfer(ctx context.Context, id *big.Int) (domain.TransferRequest, error) {
	all, err := m.Transfers(ctx)
	if err != nil {
		return domain.TransferRequest{}, err
	}
	return findTransfer(all, id)
}

func copyLand(l domain.Land) domain.Land {
	l.ID = new(big.Int).Set(l.ID)
	if l.Area != nil {
		l.Area = new(big.Int).Set(l.Area)
	}
	return l
}

func copyTransfer(t domain.TransferRequest) domain.TransferRequest {
	t.ID = new(big.Int).Set(t.ID)
	t.LandID = new(big.Int).Set(t.LandID)
	t.Price = new(big.Int).Set(t.Price)
	return t
}

func argAddress(args []any, i int) (common.Address, error) {
	if i >= len(args) {
		return common.Address{}, fmt.Errorf("%w: missing argument %d", ErrInvalidCall, i)
	}
	addr, ok := args[i].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: argument %d is %T, want address", ErrInvalidCall, i, args[i])
	}
	return addr, nil
}

func argBig(args []any, i int) (*big.Int, error) {
	if i >= len(args) {
		return nil, fmt.Errorf("%w: missing argument %d", ErrInvalidCall, i)
	}
	v, ok := args[i].(*big.Int)
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: argument %d is %T, want uint256", ErrInvalidCall, i, args[i])
	}
	return v, nil
}

func argsRegisterUser(args []any) (common.Address, string, string, bool, error) {
	if len(args) != 4 {
		return common.Address{}, "", "", false, fmt.Errorf("%w: registerUser expects 4 args", ErrInvalidCall)
	}
	addr, err := argAddress(args, 0)
	if err != nil {
		return common.Address{}, "", "", false, err
	}
	name, _ := args[1].(string)
	email, _ := args[2].(string)
	admin, _ := args[3].(bool)
	return addr, name, email, admin, nil
}

func argsRegisterLand(args []any) (domain.Land, error) {
	if len(args) != 6 {
		return domain.Land{}, fmt.Errorf("%w: registerLand expects 6 args", ErrInvalidCall)
	}
	area, err := argBig(args, 3)
	if err != nil {
		return domain.Land{}, err
	}
	owner, err := argAddress(args, 5)
	if err != nil {
		return domain.Land{}, err
	}
	landID, _ := args[0].(string)
	description, _ := args[1].(string)
	location, _ := args[2].(string)
	imageURL, _ := args[4].(string)
	return domain.Land{
		LandID:      landID,
		Description: description,
		Location:    location,
		Area:        new(big.Int).Set(area),
		ImageURL:    imageURL,
		Owner:       owner,
	}, nil
}
