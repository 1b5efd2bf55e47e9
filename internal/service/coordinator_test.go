package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vanshika/landgate/backend/internal/apperrors"
	"github.com/vanshika/landgate/backend/internal/directory"
	"github.com/vanshika/landgate/backend/internal/domain"
	"github.com/vanshika/landgate/backend/internal/journal"
	"github.com/vanshika/landgate/backend/internal/ledger"
	"github.com/vanshika/landgate/backend/internal/logging"
	"github.com/vanshika/landgate/backend/internal/txqueue"
)

const (
	adminKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"
	sellerPK = "59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d"
	buyerPK  = "5de4111afa1a4b94908f83103eb1f1706367c2e68ca870fc3fb9a804cdab365a"
)

var (
	adminAddr  = common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266")
	sellerAddr = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
	buyerAddr  = common.HexToAddress("0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC")

	adminPrincipal  = domain.Principal{Address: adminAddr, Role: domain.RoleAdmin}
	sellerPrincipal = domain.Principal{Address: sellerAddr, Role: domain.RoleUser}
	buyerPrincipal  = domain.Principal{Address: buyerAddr, Role: domain.RoleUser}
)

type harness struct {
	mem   *ledger.MemoryLedger
	store *journal.MemoryStore
	coord *Coordinator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir, err := directory.New(adminAddr, adminKey, directory.File{
		Admin: directory.Record{Name: "System Admin", Email: "admin@landregistry.com"},
		Users: []directory.Record{
			{Address: sellerAddr.Hex(), PrivateKey: sellerPK, Name: "John Doe", Email: "john@example.com"},
			{Address: buyerAddr.Hex(), PrivateKey: buyerPK, Name: "Jane Smith", Email: "jane@example.com"},
		},
	})
	if err != nil {
		t.Fatalf("directory: %v", err)
	}

	mem := ledger.NewMemoryLedger(adminAddr)
	store := journal.NewMemoryStore()
	queue := txqueue.New(mem, store, logging.Discard(), txqueue.Options{ConfirmTimeout: time.Second})
	t.Cleanup(func() { _ = queue.Close(context.Background()) })

	return &harness{
		mem:   mem,
		store: store,
		coord: NewCoordinator(mem, queue, dir, store, logging.Discard()),
	}
}

// seedTransfer registers a parcel for the seller and has the seller request
// its transfer to the buyer. It returns the request id.
func (h *harness) seedTransfer(t *testing.T) *big.Int {
	t.Helper()
	ctx := context.Background()
	_, err := h.coord.RegisterLand(ctx, adminPrincipal, RegisterLandInput{
		LandID: "PLOT-1", Description: "Orchard", Location: "Pune", Area: big.NewInt(1200), Owner: sellerAddr,
	})
	if err != nil {
		t.Fatalf("register land: %v", err)
	}
	_, err = h.coord.RequestTransfer(ctx, sellerPrincipal, TransferInput{
		LandID: big.NewInt(1), To: buyerAddr, Price: big.NewInt(5000), Message: "offer",
	})
	if err != nil {
		t.Fatalf("request transfer: %v", err)
	}
	return big.NewInt(1)
}

func countMethod(sent []ledger.SentTx, method string) int {
	n := 0
	for _, tx := range sent {
		if tx.Method == method {
			n++
		}
	}
	return n
}

func TestCoordinator_ApproveAndCompleteIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.seedTransfer(t)

	first, err := h.coord.ApproveAndComplete(ctx, adminPrincipal, id)
	if err != nil {
		t.Fatalf("approve and complete: %v", err)
	}
	if first.State != domain.TransferCompleted || first.Approve.IsZero() || first.Complete.IsZero() {
		t.Fatalf("unexpected result %+v", first)
	}
	if first.Complete.Nonce != first.Approve.Nonce+1 {
		t.Errorf("expected consecutive nonces, got %d then %d", first.Approve.Nonce, first.Complete.Nonce)
	}

	land, err := h.coord.Land(ctx, big.NewInt(1))
	if err != nil {
		t.Fatalf("land: %v", err)
	}
	if land.Owner != buyerAddr {
		t.Errorf("expected buyer to own the parcel, got %s", land.Owner.Hex())
	}

	sentBefore := len(h.mem.Sent())
	again, err := h.coord.ApproveAndComplete(ctx, adminPrincipal, id)
	if err != nil {
		t.Fatalf("repeat: %v", err)
	}
	if !again.AlreadyApplied || again.State != domain.TransferCompleted {
		t.Errorf("expected no-op result, got %+v", again)
	}
	if again.Complete != first.Complete {
		t.Errorf("expected the recorded completion receipt %+v, got %+v", first.Complete, again.Complete)
	}
	if len(h.mem.Sent()) != sentBefore {
		t.Errorf("repeat must not submit transactions")
	}
}

func TestCoordinator_PartialFailureThenResume(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.seedTransfer(t)
	h.mem.FailNext(ledger.MethodCompleteTransfer, errors.New("connection reset by peer"))

	res, err := h.coord.ApproveAndComplete(ctx, adminPrincipal, id)
	if !apperrors.HasCode(err, apperrors.CodePartialLifecycleFailure) {
		t.Fatalf("expected PARTIAL_LIFECYCLE_FAILURE, got %v", err)
	}
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *apperrors.Error, got %T", err)
	}
	if appErr.Metadata["state"] != "Approved" {
		t.Errorf("expected state Approved, got %q", appErr.Metadata["state"])
	}
	if appErr.Metadata["approveTransactionHash"] != res.Approve.Hash.Hex() || res.Approve.IsZero() {
		t.Errorf("expected approve hash in metadata, got %v", appErr.Metadata)
	}

	tr, _ := h.coord.Transfer(ctx, id)
	if tr.State != domain.TransferApproved {
		t.Fatalf("expected ledger state Approved, got %s", tr.State)
	}

	res, err = h.coord.ApproveAndComplete(ctx, adminPrincipal, id)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if res.State != domain.TransferCompleted || !res.Approve.IsZero() || res.Complete.IsZero() {
		t.Errorf("expected only completion on resume, got %+v", res)
	}

	sent := h.mem.Sent()
	if n := countMethod(sent, ledger.MethodApproveTransfer); n != 1 {
		t.Errorf("expected one approve, got %d", n)
	}
	if n := countMethod(sent, ledger.MethodCompleteTransfer); n != 1 {
		t.Errorf("expected one complete, got %d", n)
	}
}

func TestCoordinator_RequestTransferRequiresOwner(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.seedTransfer(t)
	sentBefore := len(h.mem.Sent())

	_, err := h.coord.RequestTransfer(ctx, buyerPrincipal, TransferInput{
		LandID: big.NewInt(1), To: sellerAddr, Price: big.NewInt(1),
	})
	if !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	if len(h.mem.Sent()) != sentBefore {
		t.Error("forbidden request must not reach the ledger")
	}
}

func TestCoordinator_RequestTransferUnknownLand(t *testing.T) {
	h := newHarness(t)

	_, err := h.coord.RequestTransfer(context.Background(), sellerPrincipal, TransferInput{
		LandID: big.NewInt(42), To: buyerAddr, Price: big.NewInt(1),
	})
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestCoordinator_RequestTransferValidation(t *testing.T) {
	h := newHarness(t)
	tests := []struct {
		name string
		in   TransferInput
	}{
		{name: "missing land", in: TransferInput{To: buyerAddr, Price: big.NewInt(1)}},
		{name: "missing recipient", in: TransferInput{LandID: big.NewInt(1), Price: big.NewInt(1)}},
		{name: "negative price", in: TransferInput{LandID: big.NewInt(1), To: buyerAddr, Price: big.NewInt(-1)}},
		{name: "self transfer", in: TransferInput{LandID: big.NewInt(1), To: sellerAddr, Price: big.NewInt(1)}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.coord.RequestTransfer(context.Background(), sellerPrincipal, tc.in)
			if !apperrors.HasCode(err, apperrors.CodeInvalidArgument) {
				t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
			}
		})
	}
}

func TestCoordinator_CompleteTransfer(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.seedTransfer(t)

	_, err := h.coord.CompleteTransfer(ctx, adminPrincipal, id)
	if !apperrors.HasCode(err, apperrors.CodeInvalidTransition) {
		t.Fatalf("expected INVALID_TRANSITION for a requested transfer, got %v", err)
	}

	// Approve only, the way a partial failure would leave it.
	h.mem.FailNext(ledger.MethodCompleteTransfer, &ledger.RevertError{Reason: "paused"})
	if _, err := h.coord.ApproveAndComplete(ctx, adminPrincipal, id); !apperrors.HasCode(err, apperrors.CodePartialLifecycleFailure) {
		t.Fatalf("expected partial failure, got %v", err)
	}

	res, err := h.coord.CompleteTransfer(ctx, adminPrincipal, id)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if res.State != domain.TransferCompleted || res.Complete.IsZero() {
		t.Errorf("unexpected result %+v", res)
	}

	again, err := h.coord.CompleteTransfer(ctx, adminPrincipal, id)
	if err != nil || !again.AlreadyApplied || again.Complete != res.Complete {
		t.Errorf("expected idempotent completion, got %+v (%v)", again, err)
	}
}

func TestCoordinator_LifecycleRequiresAdmin(t *testing.T) {
	h := newHarness(t)
	id := h.seedTransfer(t)

	_, err := h.coord.ApproveAndComplete(context.Background(), sellerPrincipal, id)
	if !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN, got %v", err)
	}
	if _, err := h.coord.RevokeUser(context.Background(), sellerPrincipal, buyerAddr); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("expected FORBIDDEN for revoke, got %v", err)
	}
}

func TestCoordinator_UnknownTransfer(t *testing.T) {
	h := newHarness(t)
	_, err := h.coord.ApproveAndComplete(context.Background(), adminPrincipal, big.NewInt(9))
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestCoordinator_ConcurrentApprovalsSubmitOnce(t *testing.T) {
	h := newHarness(t)
	id := h.seedTransfer(t)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]LifecycleResult, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = h.coord.ApproveAndComplete(context.Background(), adminPrincipal, id)
		}(i)
	}
	wg.Wait()

	applied := 0
	for i := range results {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if !results[i].AlreadyApplied {
			applied++
		}
	}
	if applied != 1 {
		t.Errorf("expected exactly one caller to apply the transfer, got %d", applied)
	}
	sent := h.mem.Sent()
	if countMethod(sent, ledger.MethodApproveTransfer) != 1 || countMethod(sent, ledger.MethodCompleteTransfer) != 1 {
		t.Errorf("expected one approve and one complete, got %+v", sent)
	}
}

func TestCoordinator_AdminWrites(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	if _, err := h.coord.RegisterUser(ctx, adminPrincipal, RegisterUserInput{Address: sellerAddr, Name: "John Doe", Email: "john@example.com"}); err != nil {
		t.Fatalf("register user: %v", err)
	}
	if _, err := h.coord.RevokeUser(ctx, adminPrincipal, sellerAddr); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	user, err := h.coord.User(ctx, sellerAddr)
	if err != nil {
		t.Fatalf("user: %v", err)
	}
	if user.Active {
		t.Error("expected revoked user to be inactive")
	}
	if _, err := h.coord.ReinstateUser(ctx, adminPrincipal, sellerAddr); err != nil {
		t.Fatalf("reinstate: %v", err)
	}

	_, err = h.coord.RegisterUser(ctx, adminPrincipal, RegisterUserInput{Address: sellerAddr, Name: "again"})
	if !apperrors.HasCode(err, apperrors.CodeTransactionReverted) {
		t.Fatalf("expected TRANSACTION_REVERTED for duplicate user, got %v", err)
	}

	if _, err := h.coord.RegisterLand(ctx, adminPrincipal, RegisterLandInput{LandID: "PLOT-7", Area: big.NewInt(5), Owner: sellerAddr}); err != nil {
		t.Fatalf("register land: %v", err)
	}
	if _, err := h.coord.DeleteLand(ctx, adminPrincipal, big.NewInt(1)); err != nil {
		t.Fatalf("delete land: %v", err)
	}
	if _, err := h.coord.Land(ctx, big.NewInt(1)); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Errorf("expected deleted land to be NOT_FOUND, got %v", err)
	}
	if lands, err := h.coord.Lands(ctx); err != nil || len(lands) != 0 {
		t.Errorf("expected deleted land to be hidden from listings, got %v (err %v)", lands, err)
	}
	if lands, err := h.coord.UserLands(ctx, sellerAddr); err != nil || len(lands) != 0 {
		t.Errorf("expected deleted land to be hidden from owner listings, got %v (err %v)", lands, err)
	}
}

func TestCoordinator_Users(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	if _, err := h.coord.RegisterUser(ctx, adminPrincipal, RegisterUserInput{Address: sellerAddr, Name: "John Doe"}); err != nil {
		t.Fatalf("register user: %v", err)
	}

	users, err := h.coord.Users(ctx)
	if err != nil {
		t.Fatalf("users: %v", err)
	}
	if len(users) != 3 {
		t.Fatalf("expected admin plus two users, got %d", len(users))
	}
	if users[0].Address != adminAddr || !users[0].Admin || !users[0].Registered {
		t.Errorf("unexpected admin entry %+v", users[0])
	}
	if users[1].Address != sellerAddr || !users[1].Registered || !users[1].Active || users[1].Name != "John Doe" {
		t.Errorf("unexpected seller entry %+v", users[1])
	}
	if users[2].Registered {
		t.Errorf("expected buyer to be unregistered, got %+v", users[2])
	}
}

func TestCoordinator_UserTransfersAndSubmission(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	id := h.seedTransfer(t)
	res, err := h.coord.ApproveAndComplete(ctx, adminPrincipal, id)
	if err != nil {
		t.Fatalf("approve and complete: %v", err)
	}

	for _, addr := range []common.Address{sellerAddr, buyerAddr} {
		trs, err := h.coord.UserTransfers(ctx, addr)
		if err != nil || len(trs) != 1 {
			t.Errorf("expected one transfer for %s, got %d (%v)", addr.Hex(), len(trs), err)
		}
	}
	if trs, _ := h.coord.UserTransfers(ctx, adminAddr); len(trs) != 0 {
		t.Errorf("expected no transfers for admin, got %d", len(trs))
	}

	sub, err := h.coord.Submission(ctx, res.Complete.Hash)
	if err != nil {
		t.Fatalf("submission: %v", err)
	}
	if sub.Status != journal.StatusConfirmed || sub.Method != ledger.MethodCompleteTransfer {
		t.Errorf("unexpected submission %+v", sub)
	}
	if _, err := h.coord.Submission(ctx, common.HexToHash("0xdead")); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Errorf("expected NOT_FOUND for unknown hash, got %v", err)
	}
}

func TestKeyedLocks_AcquireHonoursContext(t *testing.T) {
	locks := newKeyedLocks()
	release, err := locks.acquire(context.Background(), "7")
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := locks.acquire(ctx, "7"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}

	release()
	release()
	if len(locks.entries) != 0 {
		t.Errorf("expected entries to be dropped, got %d", len(locks.entries))
	}
}
