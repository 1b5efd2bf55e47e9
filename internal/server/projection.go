package server

import (
	"math/big"
	"strconv"
	"time"

	"github.com/vanshika/landgate/backend/internal/domain"
	"github.com/vanshika/landgate/backend/internal/journal"
	"github.com/vanshika/landgate/backend/internal/service"
)

// Ledger integers are rendered as decimal strings so that uint256 values
// survive JSON clients that parse numbers as float64. Ledger dates keep the
// contract's unix seconds in the same form.

type landResponse struct {
	ID               string `json:"id"`
	LandID           string `json:"landId"`
	Description      string `json:"description"`
	Location         string `json:"location"`
	Area             string `json:"area"`
	ImageURL         string `json:"imageUrl"`
	CurrentOwner     string `json:"currentOwner"`
	IsRegistered     bool   `json:"isRegistered"`
	RegistrationDate string `json:"registrationDate"`
}

type userResponse struct {
	UserAddress      string `json:"userAddress"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	IsRegistered     bool   `json:"isRegistered"`
	IsAdmin          bool   `json:"isAdmin"`
	IsActive         bool   `json:"isActive"`
	RegistrationDate string `json:"registrationDate"`
}

type transferResponse struct {
	ID          string `json:"id"`
	LandID      string `json:"landId"`
	From        string `json:"from"`
	To          string `json:"to"`
	Price       string `json:"price"`
	IsApproved  bool   `json:"isApproved"`
	IsCompleted bool   `json:"isCompleted"`
	State       string `json:"state"`
	RequestDate string `json:"requestDate"`
	Message     string `json:"message"`
}

type submissionResponse struct {
	TransactionHash string `json:"transactionHash"`
	Signer          string `json:"signer"`
	Method          string `json:"method"`
	Nonce           uint64 `json:"nonce"`
	Status          string `json:"status"`
	BlockNumber     uint64 `json:"blockNumber,omitempty"`
	Error           string `json:"error,omitempty"`
	RecordedAt      string `json:"recordedAt"`
}

type writeResponse struct {
	Success         bool   `json:"success"`
	TransactionHash string `json:"transactionHash"`
	Message         string `json:"message"`
	Nonce           uint64 `json:"nonce"`
	BlockNumber     uint64 `json:"blockNumber,omitempty"`
	ImageURL        string `json:"imageUrl,omitempty"`
}

type lifecycleResponse struct {
	Success                 bool   `json:"success"`
	TransactionHash         string `json:"transactionHash"`
	Message                 string `json:"message"`
	RequestID               string `json:"requestId"`
	State                   string `json:"state"`
	ApproveTransactionHash  string `json:"approveTransactionHash,omitempty"`
	CompleteTransactionHash string `json:"completeTransactionHash,omitempty"`
	AlreadyApplied          bool   `json:"alreadyApplied"`
}

type contractInfoResponse struct {
	Address string `json:"address"`
	Network string `json:"network"`
	ChainID string `json:"chainId"`
	RPCURL  string `json:"rpcUrl"`
}

func toLandResponse(l domain.Land) landResponse {
	return landResponse{
		ID:               decimal(l.ID),
		LandID:           l.LandID,
		Description:      l.Description,
		Location:         l.Location,
		Area:             decimal(l.Area),
		ImageURL:         l.ImageURL,
		CurrentOwner:     l.Owner.Hex(),
		IsRegistered:     l.Registered,
		RegistrationDate: unixSeconds(l.RegistrationDate),
	}
}

func toLandResponses(lands []domain.Land) []landResponse {
	out := make([]landResponse, 0, len(lands))
	for _, l := range lands {
		out = append(out, toLandResponse(l))
	}
	return out
}

func toUserResponse(u domain.User) userResponse {
	return userResponse{
		UserAddress:      u.Address.Hex(),
		Name:             u.Name,
		Email:            u.Email,
		IsRegistered:     u.Registered,
		IsAdmin:          u.Admin,
		IsActive:         u.Active,
		RegistrationDate: unixSeconds(u.RegistrationDate),
	}
}

// toAccountResponse prefers ledger data and falls back to the directory for
// accounts the ledger does not know yet.
func toAccountResponse(a service.AccountStatus) userResponse {
	registered := ""
	if a.Registered {
		registered = unixSeconds(a.RegistrationDate)
	}
	return userResponse{
		UserAddress:      a.Address.Hex(),
		Name:             a.Name,
		Email:            a.Email,
		IsRegistered:     a.Registered,
		IsAdmin:          a.Admin,
		IsActive:         a.Active,
		RegistrationDate: registered,
	}
}

func toTransferResponse(t domain.TransferRequest) transferResponse {
	return transferResponse{
		ID:          decimal(t.ID),
		LandID:      decimal(t.LandID),
		From:        t.From.Hex(),
		To:          t.To.Hex(),
		Price:       decimal(t.Price),
		IsApproved:  t.State.Rank() >= domain.TransferApproved.Rank(),
		IsCompleted: t.State == domain.TransferCompleted,
		State:       string(t.State),
		RequestDate: unixSeconds(t.RequestDate),
		Message:     t.Message,
	}
}

func toTransferResponses(all []domain.TransferRequest) []transferResponse {
	out := make([]transferResponse, 0, len(all))
	for _, t := range all {
		out = append(out, toTransferResponse(t))
	}
	return out
}

func toSubmissionResponse(s journal.Submission) submissionResponse {
	return submissionResponse{
		TransactionHash: s.Hash.Hex(),
		Signer:          s.Signer.Hex(),
		Method:          s.Method,
		Nonce:           s.Nonce,
		Status:          string(s.Status),
		BlockNumber:     s.BlockNumber,
		Error:           s.Error,
		RecordedAt:      formatTime(s.RecordedAt),
	}
}

func toWriteResponse(r domain.Receipt, message string) writeResponse {
	return writeResponse{
		Success:         true,
		TransactionHash: r.Hash.Hex(),
		Message:         message,
		Nonce:           r.Nonce,
		BlockNumber:     r.BlockNumber,
	}
}

func toLifecycleResponse(res service.LifecycleResult, message string) lifecycleResponse {
	out := lifecycleResponse{
		Success:        true,
		Message:        message,
		RequestID:      decimal(res.RequestID),
		State:          string(res.State),
		AlreadyApplied: res.AlreadyApplied,
	}
	if !res.Approve.IsZero() {
		out.ApproveTransactionHash = res.Approve.Hash.Hex()
	}
	if !res.Complete.IsZero() {
		out.CompleteTransactionHash = res.Complete.Hash.Hex()
		out.TransactionHash = out.CompleteTransactionHash
	}
	return out
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// unixSeconds renders a ledger date as the contract stores it. A zero time
// is the contract's unset value.
func unixSeconds(t time.Time) string {
	if t.IsZero() {
		return "0"
	}
	return strconv.FormatInt(t.Unix(), 10)
}
