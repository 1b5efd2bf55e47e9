package service

import (
	"context"
	"errors"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vanshika/landgate/backend/internal/apperrors"
	"github.com/vanshika/landgate/backend/internal/directory"
	"github.com/vanshika/landgate/backend/internal/domain"
	"github.com/vanshika/landgate/backend/internal/journal"
	"github.com/vanshika/landgate/backend/internal/ledger"
	"github.com/vanshika/landgate/backend/internal/metrics"
)

// Submitter is the transaction queue contract required by the coordinator.
type Submitter interface {
	Submit(ctx context.Context, signer ledger.Signer, call ledger.Call) (domain.Receipt, error)
	SubmitSequence(ctx context.Context, signer ledger.Signer, calls []ledger.Call) ([]domain.Receipt, error)
}

// Credentials resolves principals to signing credentials.
type Credentials interface {
	Resolve(p domain.Principal) (*directory.Credential, error)
	Accounts() []directory.Account
}

// Coordinator drives admin writes and the transfer lifecycle against the
// ledger. It holds no transfer state of its own: every decision starts from a
// fresh ledger read.
type Coordinator struct {
	ledger  ledger.Reader
	queue   Submitter
	creds   Credentials
	journal journal.Store
	logger  *slog.Logger
	locks   *keyedLocks
}

// NewCoordinator wires the coordinator.
func NewCoordinator(reader ledger.Reader, queue Submitter, creds Credentials, store journal.Store, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		ledger:  reader,
		queue:   queue,
		creds:   creds,
		journal: store,
		logger:  logger.With("component", "coordinator"),
		locks:   newKeyedLocks(),
	}
}

// RegisterUserInput carries the fields of a new registry account.
type RegisterUserInput struct {
	Address common.Address
	Name    string
	Email   string
	Admin   bool
}

// RegisterLandInput carries the fields of a new parcel.
type RegisterLandInput struct {
	LandID      string
	Description string
	Location    string
	Area        *big.Int
	ImageURL    string
	Owner       common.Address
}

// TransferInput is an owner's request to hand a parcel to another account.
type TransferInput struct {
	LandID  *big.Int
	To      common.Address
	Price   *big.Int
	Message string
}

// LifecycleResult reports what a lifecycle call did. Receipts are zero for
// steps not submitted by this call.
type LifecycleResult struct {
	RequestID *big.Int
	State     domain.TransferState
	Approve   domain.Receipt
	Complete  domain.Receipt
	// AlreadyApplied is set when the transfer was already Completed.
	AlreadyApplied bool
}

func (c *Coordinator) RegisterUser(ctx context.Context, admin domain.Principal, in RegisterUserInput) (domain.Receipt, error) {
	if in.Address == (common.Address{}) {
		return domain.Receipt{}, apperrors.New(apperrors.CodeInvalidArgument, "userAddress is required")
	}
	if in.Name == "" {
		return domain.Receipt{}, apperrors.New(apperrors.CodeInvalidArgument, "name is required")
	}
	return c.adminSubmit(ctx, admin, ledger.RegisterUser(in.Address, in.Name, in.Email, in.Admin))
}

func (c *Coordinator) RevokeUser(ctx context.Context, admin domain.Principal, user common.Address) (domain.Receipt, error) {
	if user == (common.Address{}) {
		return domain.Receipt{}, apperrors.New(apperrors.CodeInvalidArgument, "userAddress is required")
	}
	return c.adminSubmit(ctx, admin, ledger.RevokeUser(user))
}

func (c *Coordinator) ReinstateUser(ctx context.Context, admin domain.Principal, user common.Address) (domain.Receipt, error) {
	if user == (common.Address{}) {
		return domain.Receipt{}, apperrors.New(apperrors.CodeInvalidArgument, "userAddress is required")
	}
	return c.adminSubmit(ctx, admin, ledger.ReinstateUser(user))
}

func (c *Coordinator) RegisterLand(ctx context.Context, admin domain.Principal, in RegisterLandInput) (domain.Receipt, error) {
	switch {
	case in.LandID == "":
		return domain.Receipt{}, apperrors.New(apperrors.CodeInvalidArgument, "landId is required")
	case in.Area == nil || in.Area.Sign() <= 0:
		return domain.Receipt{}, apperrors.New(apperrors.CodeInvalidArgument, "area must be a positive integer")
	case in.Owner == (common.Address{}):
		return domain.Receipt{}, apperrors.New(apperrors.CodeInvalidArgument, "owner is required")
	}
	return c.adminSubmit(ctx, admin, ledger.RegisterLand(in.LandID, in.Description, in.Location, in.Area, in.ImageURL, in.Owner))
}

func (c *Coordinator) DeleteLand(ctx context.Context, admin domain.Principal, id *big.Int) (domain.Receipt, error) {
	if err := validID("landId", id); err != nil {
		return domain.Receipt{}, err
	}
	return c.adminSubmit(ctx, admin, ledger.DeleteLand(id))
}

func (c *Coordinator) adminSubmit(ctx context.Context, admin domain.Principal, call ledger.Call) (domain.Receipt, error) {
	cred, err := c.adminCredential(admin)
	if err != nil {
		return domain.Receipt{}, err
	}
	return c.queue.Submit(ctx, cred, call)
}

func (c *Coordinator) adminCredential(p domain.Principal) (*directory.Credential, error) {
	if !p.IsAdmin() {
		return nil, apperrors.New(apperrors.CodeForbidden, "admin access required")
	}
	return c.creds.Resolve(p)
}

// RequestTransfer submits an ownership transfer on behalf of the parcel's
// current owner. Ownership is re-read from the ledger on every call.
func (c *Coordinator) RequestTransfer(ctx context.Context, p domain.Principal, in TransferInput) (domain.Receipt, error) {
	if err := validID("landId", in.LandID); err != nil {
		return domain.Receipt{}, err
	}
	if in.To == (common.Address{}) {
		return domain.Receipt{}, apperrors.New(apperrors.CodeInvalidArgument, "recipient address is required")
	}
	if in.Price == nil || in.Price.Sign() < 0 {
		return domain.Receipt{}, apperrors.New(apperrors.CodeInvalidArgument, "price must be a non-negative integer")
	}
	if in.To == p.Address {
		return domain.Receipt{}, apperrors.New(apperrors.CodeInvalidArgument, "cannot transfer a parcel to its current owner")
	}

	land, err := c.Land(ctx, in.LandID)
	if err != nil {
		return domain.Receipt{}, err
	}
	if land.Owner != p.Address {
		metrics.LifecycleOutcome("request", "forbidden")
		return domain.Receipt{}, apperrors.WithMetadata(apperrors.CodeForbidden, "only the current owner can request a transfer",
			map[string]string{"landId": in.LandID.String()})
	}

	cred, err := c.creds.Resolve(p)
	if err != nil {
		return domain.Receipt{}, err
	}
	receipt, err := c.queue.Submit(ctx, cred, ledger.RequestTransfer(in.LandID, in.To, in.Price, in.Message))
	metrics.LifecycleOutcome("request", outcomeLabel(err))
	return receipt, err
}

// ApproveAndComplete drives a transfer to Completed from wherever it is.
// Repeating the call after success is a no-op that returns the recorded
// completion receipt.
func (c *Coordinator) ApproveAndComplete(ctx context.Context, admin domain.Principal, requestID *big.Int) (LifecycleResult, error) {
	return c.lifecycle(ctx, admin, requestID, "approve", c.approveAndComplete)
}

// CompleteTransfer moves an Approved transfer to Completed.
func (c *Coordinator) CompleteTransfer(ctx context.Context, admin domain.Principal, requestID *big.Int) (LifecycleResult, error) {
	return c.lifecycle(ctx, admin, requestID, "complete", c.complete)
}

type lifecycleStep func(ctx context.Context, cred *directory.Credential, tr domain.TransferRequest) (LifecycleResult, error)

// lifecycle serializes actions per request. The work runs detached from ctx
// once the lock is held, so a disconnecting caller never leaves steps
// unrecorded.
func (c *Coordinator) lifecycle(ctx context.Context, admin domain.Principal, requestID *big.Int, action string, step lifecycleStep) (LifecycleResult, error) {
	if err := validID("requestId", requestID); err != nil {
		return LifecycleResult{}, err
	}
	cred, err := c.adminCredential(admin)
	if err != nil {
		return LifecycleResult{}, err
	}

	release, err := c.locks.acquire(ctx, requestID.String())
	if err != nil {
		return LifecycleResult{}, err
	}

	type outcome struct {
		res LifecycleResult
		err error
	}
	done := make(chan outcome, 1)
	work := context.WithoutCancel(ctx)
	go func() {
		defer release()
		tr, err := c.Transfer(work, requestID)
		if err != nil {
			done <- outcome{err: err}
			return
		}
		res, err := step(work, cred, tr)
		res.RequestID = requestID
		done <- outcome{res: res, err: err}
	}()

	select {
	case o := <-done:
		label := outcomeLabel(o.err)
		if o.err == nil && o.res.AlreadyApplied {
			label = "noop"
		}
		metrics.LifecycleOutcome(action, label)
		return o.res, o.err
	case <-ctx.Done():
		return LifecycleResult{}, ctx.Err()
	}
}

func (c *Coordinator) approveAndComplete(ctx context.Context, cred *directory.Credential, tr domain.TransferRequest) (LifecycleResult, error) {
	switch tr.State {
	case domain.TransferCompleted:
		return c.alreadyCompleted(ctx, tr), nil

	case domain.TransferApproved:
		return c.submitComplete(ctx, cred, tr)

	default:
		receipts, err := c.queue.SubmitSequence(ctx, cred, []ledger.Call{
			ledger.ApproveTransfer(tr.ID),
			ledger.CompleteTransfer(tr.ID),
		})
		res := LifecycleResult{State: domain.TransferRequested}
		if len(receipts) > 0 {
			res.Approve = receipts[0]
			res.State = domain.TransferApproved
			c.recordStep(ctx, tr.ID, journal.StepApprove, receipts[0])
		}
		if err != nil {
			if len(receipts) == 1 {
				c.logger.Warn("transfer approved but not completed",
					"request_id", tr.ID.String(),
					"approve_tx", receipts[0].Hash.Hex(),
					"error", err,
				)
				return res, apperrors.WrapWithMetadata(apperrors.CodePartialLifecycleFailure,
					"transfer was approved but completion failed; retry to complete it",
					map[string]string{
						"state":                  string(domain.TransferApproved),
						"requestId":              tr.ID.String(),
						"approveTransactionHash": receipts[0].Hash.Hex(),
						"cause":                  string(apperrors.CodeOf(err)),
					}, err)
			}
			return res, withState(err, domain.TransferRequested)
		}
		res.Complete = receipts[1]
		res.State = domain.TransferCompleted
		c.recordStep(ctx, tr.ID, journal.StepComplete, receipts[1])
		return res, nil
	}
}

func (c *Coordinator) complete(ctx context.Context, cred *directory.Credential, tr domain.TransferRequest) (LifecycleResult, error) {
	switch tr.State {
	case domain.TransferCompleted:
		return c.alreadyCompleted(ctx, tr), nil
	case domain.TransferApproved:
		return c.submitComplete(ctx, cred, tr)
	default:
		return LifecycleResult{State: tr.State}, apperrors.WithMetadata(apperrors.CodeInvalidTransition,
			"transfer must be approved before it can be completed",
			map[string]string{"state": string(tr.State), "requestId": tr.ID.String()})
	}
}

func (c *Coordinator) submitComplete(ctx context.Context, cred *directory.Credential, tr domain.TransferRequest) (LifecycleResult, error) {
	res := LifecycleResult{State: domain.TransferApproved}
	receipt, err := c.queue.Submit(ctx, cred, ledger.CompleteTransfer(tr.ID))
	if err != nil {
		return res, withState(err, domain.TransferApproved)
	}
	res.Complete = receipt
	res.State = domain.TransferCompleted
	c.recordStep(ctx, tr.ID, journal.StepComplete, receipt)
	return res, nil
}

func (c *Coordinator) alreadyCompleted(ctx context.Context, tr domain.TransferRequest) LifecycleResult {
	res := LifecycleResult{State: domain.TransferCompleted, AlreadyApplied: true}
	receipt, err := c.journal.Step(ctx, tr.ID, journal.StepComplete)
	switch {
	case err == nil:
		res.Complete = receipt
	case errors.Is(err, journal.ErrNotFound):
		// Completed outside this gateway.
	default:
		c.logger.Warn("journal lookup failed", "request_id", tr.ID.String(), "error", err)
	}
	if approve, err := c.journal.Step(ctx, tr.ID, journal.StepApprove); err == nil {
		res.Approve = approve
	}
	return res
}

func (c *Coordinator) recordStep(ctx context.Context, id *big.Int, step journal.Step, receipt domain.Receipt) {
	if err := c.journal.RecordStep(ctx, id, step, receipt); err != nil {
		c.logger.Warn("journal step write failed", "request_id", id.String(), "step", step, "error", err)
	}
}

// withState annotates err with the lifecycle state the transfer was left in.
func withState(err error, state domain.TransferState) error {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		return err
	}
	meta := make(map[string]string, len(appErr.Metadata)+1)
	for k, v := range appErr.Metadata {
		meta[k] = v
	}
	meta["state"] = string(state)
	return &apperrors.Error{Code: appErr.Code, Message: appErr.Message, Metadata: meta, Cause: appErr.Cause}
}

func validID(field string, id *big.Int) error {
	if id == nil || id.Sign() <= 0 {
		return apperrors.New(apperrors.CodeInvalidArgument, field+" must be a positive integer")
	}
	return nil
}

func outcomeLabel(err error) string {
	if err == nil {
		return "success"
	}
	return string(apperrors.CodeOf(err))
}
