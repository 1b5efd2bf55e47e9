package service

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vanshika/landgate/backend/internal/apperrors"
	"github.com/vanshika/landgate/backend/internal/directory"
	"github.com/vanshika/landgate/backend/internal/domain"
	"github.com/vanshika/landgate/backend/internal/journal"
	"github.com/vanshika/landgate/backend/internal/ledger"
)

// AccountStatus joins directory metadata with the account's ledger status.
type AccountStatus struct {
	directory.Account
	Registered       bool
	Active           bool
	RegistrationDate time.Time
}

// Lands returns registered parcels. The ledger keeps deleted parcels in its
// listings with Registered unset.
func (c *Coordinator) Lands(ctx context.Context) ([]domain.Land, error) {
	lands, err := c.ledger.Lands(ctx)
	if err != nil {
		return nil, readError("lands", err)
	}
	return registeredOnly(lands), nil
}

// Land returns a registered parcel. Deleted parcels are reported as missing.
func (c *Coordinator) Land(ctx context.Context, id *big.Int) (domain.Land, error) {
	if err := validID("landId", id); err != nil {
		return domain.Land{}, err
	}
	land, err := c.ledger.Land(ctx, id)
	if err != nil {
		return domain.Land{}, readError("land", err)
	}
	if !land.Registered {
		return domain.Land{}, apperrors.WithMetadata(apperrors.CodeNotFound, "land not found",
			map[string]string{"landId": id.String()})
	}
	return land, nil
}

func (c *Coordinator) UserLands(ctx context.Context, owner common.Address) ([]domain.Land, error) {
	ids, err := c.ledger.UserLandIDs(ctx, owner)
	if err != nil {
		return nil, readError("user lands", err)
	}
	lands := make([]domain.Land, 0, len(ids))
	for _, id := range ids {
		land, err := c.ledger.Land(ctx, id)
		if err != nil {
			return nil, readError("land", err)
		}
		lands = append(lands, land)
	}
	return registeredOnly(lands), nil
}

func registeredOnly(lands []domain.Land) []domain.Land {
	out := lands[:0]
	for _, l := range lands {
		if l.Registered {
			out = append(out, l)
		}
	}
	return out
}

func (c *Coordinator) User(ctx context.Context, addr common.Address) (domain.User, error) {
	user, err := c.ledger.User(ctx, addr)
	if err != nil {
		return domain.User{}, readError("user", err)
	}
	if !user.Registered {
		return domain.User{}, apperrors.WithMetadata(apperrors.CodeNotFound, "user not registered",
			map[string]string{"userAddress": addr.Hex()})
	}
	return user, nil
}

// Users lists the directory's known accounts with their ledger status. An
// account the ledger cannot describe is reported as unregistered.
func (c *Coordinator) Users(ctx context.Context) ([]AccountStatus, error) {
	accounts := c.creds.Accounts()
	out := make([]AccountStatus, 0, len(accounts))
	for _, acct := range accounts {
		status := AccountStatus{Account: acct}
		user, err := c.ledger.User(ctx, acct.Address)
		switch {
		case err == nil:
			status.Registered = user.Registered
			status.Active = user.Active
			if user.Registered {
				status.RegistrationDate = user.RegistrationDate
			}
		case errors.Is(err, ledger.ErrUnavailable):
			return nil, readError("user", err)
		default:
			c.logger.Debug("account not on ledger", "address", acct.Address.Hex(), "error", err)
		}
		out = append(out, status)
	}
	return out, nil
}

func (c *Coordinator) Transfers(ctx context.Context) ([]domain.TransferRequest, error) {
	all, err := c.ledger.Transfers(ctx)
	if err != nil {
		return nil, readError("transfers", err)
	}
	return all, nil
}

func (c *Coordinator) PendingTransfers(ctx context.Context) ([]domain.TransferRequest, error) {
	pending, err := c.ledger.PendingTransfers(ctx)
	if err != nil {
		return nil, readError("pending transfers", err)
	}
	return pending, nil
}

func (c *Coordinator) Transfer(ctx context.Context, id *big.Int) (domain.TransferRequest, error) {
	if err := validID("requestId", id); err != nil {
		return domain.TransferRequest{}, err
	}
	tr, err := c.ledger.Transfer(ctx, id)
	if err != nil {
		return domain.TransferRequest{}, readError("transfer request", err)
	}
	return tr, nil
}

// UserTransfers returns requests where addr is the sender or the recipient.
func (c *Coordinator) UserTransfers(ctx context.Context, addr common.Address) ([]domain.TransferRequest, error) {
	all, err := c.Transfers(ctx)
	if err != nil {
		return nil, err
	}
	var out []domain.TransferRequest
	for _, tr := range all {
		if tr.From == addr || tr.To == addr {
			out = append(out, tr)
		}
	}
	return out, nil
}

// Submission returns the journaled outcome of a broadcast transaction.
func (c *Coordinator) Submission(ctx context.Context, hash common.Hash) (journal.Submission, error) {
	sub, err := c.journal.Submission(ctx, hash)
	if err != nil {
		if errors.Is(err, journal.ErrNotFound) {
			return journal.Submission{}, apperrors.WithMetadata(apperrors.CodeNotFound, "submission not found",
				map[string]string{"transactionHash": hash.Hex()})
		}
		return journal.Submission{}, apperrors.Wrap(apperrors.CodeUnknown, "journal lookup failed", err)
	}
	return sub, nil
}

func readError(what string, err error) error {
	switch {
	case errors.Is(err, ledger.ErrNotFound):
		return apperrors.Wrap(apperrors.CodeNotFound, what+" not found", err)
	case errors.Is(err, ledger.ErrInvalidCall):
		return apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid "+what+" query", err)
	default:
		return apperrors.Wrap(apperrors.CodeLedgerUnavailable, "could not read "+what, err)
	}
}
