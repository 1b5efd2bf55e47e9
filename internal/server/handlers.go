package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/vanshika/landgate/backend/internal/apperrors"
	"github.com/vanshika/landgate/backend/internal/auth"
	"github.com/vanshika/landgate/backend/internal/domain"
	"github.com/vanshika/landgate/backend/internal/metrics"
	"github.com/vanshika/landgate/backend/internal/service"
)

// Signed action names. Each route verifies against its own action so a
// signature cannot be replayed on another route.
const (
	actionRegisterUser     = "registerUser"
	actionRevokeUser       = "revokeUser"
	actionReinstateUser    = "reinstateUser"
	actionRegisterLand     = "registerLand"
	actionDeleteLand       = "deleteLand"
	actionRequestTransfer  = "requestTransfer"
	actionApproveTransfer  = "approveTransfer"
	actionCompleteTransfer = "completeTransfer"
)

const maxBodyBytes = 1 << 20

// ChainIDSource reports the ledger's chain id.
type ChainIDSource interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// ContractInfo describes the ledger contract the gateway writes to.
type ContractInfo struct {
	Address common.Address
	Network string
	Chain   ChainIDSource
	RPCURL  string
}

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger      *slog.Logger
	coordinator *service.Coordinator
	verifier    *auth.Verifier
	info        ContractInfo
}

// NewAPIHandlers constructs an APIHandlers instance.
func NewAPIHandlers(logger *slog.Logger, coordinator *service.Coordinator, verifier *auth.Verifier, info ContractInfo) *APIHandlers {
	return &APIHandlers{
		logger:      logger,
		coordinator: coordinator,
		verifier:    verifier,
		info:        info,
	}
}

// authFields are the authentication members every write body carries.
type authFields struct {
	Signature string    `json:"signature"`
	Account   string    `json:"account"`
	Timestamp flexInt64 `json:"timestamp"`
	Action    string    `json:"action,omitempty"`
}

type registerUserRequest struct {
	authFields
	UserAddress string `json:"userAddress"`
	Name        string `json:"name"`
	Email       string `json:"email"`
	IsAdmin     bool   `json:"isAdmin"`
}

type userAddressRequest struct {
	authFields
	UserAddress string `json:"userAddress"`
}

type registerLandRequest struct {
	authFields
	LandID      string  `json:"landId"`
	Description string  `json:"description"`
	Location    string  `json:"location"`
	Area        numeric `json:"area"`
	Owner       string  `json:"owner"`
	ImageURL    string  `json:"imageUrl"`
}

type landIDRequest struct {
	authFields
	LandID numeric `json:"landId"`
}

type requestTransferRequest struct {
	authFields
	LandID  numeric `json:"landId"`
	To      string  `json:"to"`
	Price   numeric `json:"price"`
	Message string  `json:"message"`
}

type requestIDRequest struct {
	authFields
	RequestID numeric `json:"requestId"`
}

// --- reads ---

func (h *APIHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":    "OK",
		"timestamp": formatTime(time.Now()),
	})
}

func (h *APIHandlers) handleContractInfo(w http.ResponseWriter, r *http.Request) {
	chainID, err := h.info.Chain.ChainID(r.Context())
	if err != nil {
		h.fail(w, r, "chain id lookup failed", apperrors.Wrap(apperrors.CodeLedgerUnavailable, "ledger unavailable", err))
		return
	}
	respondJSON(w, http.StatusOK, contractInfoResponse{
		Address: h.info.Address.Hex(),
		Network: h.info.Network,
		ChainID: decimal(chainID),
		RPCURL:  h.info.RPCURL,
	})
}

func (h *APIHandlers) handleListLands(w http.ResponseWriter, r *http.Request) {
	lands, err := h.coordinator.Lands(r.Context())
	if err != nil {
		h.fail(w, r, "failed to list lands", err)
		return
	}
	respondJSON(w, http.StatusOK, toLandResponses(lands))
}

func (h *APIHandlers) handleGetLand(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.fail(w, r, "invalid land id", err)
		return
	}
	land, err := h.coordinator.Land(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to fetch land", err)
		return
	}
	respondJSON(w, http.StatusOK, toLandResponse(land))
}

func (h *APIHandlers) handleUserLands(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		h.fail(w, r, "invalid address", err)
		return
	}
	lands, err := h.coordinator.UserLands(r.Context(), addr)
	if err != nil {
		h.fail(w, r, "failed to list user lands", err)
		return
	}
	respondJSON(w, http.StatusOK, toLandResponses(lands))
}

func (h *APIHandlers) handleListUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.coordinator.Users(r.Context())
	if err != nil {
		h.fail(w, r, "failed to list users", err)
		return
	}
	out := make([]userResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toAccountResponse(a))
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *APIHandlers) handleGetUser(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		h.fail(w, r, "invalid address", err)
		return
	}
	user, err := h.coordinator.User(r.Context(), addr)
	if err != nil {
		h.fail(w, r, "failed to fetch user", err)
		return
	}
	respondJSON(w, http.StatusOK, toUserResponse(user))
}

func (h *APIHandlers) handleUserTransfers(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r, "address")
	if err != nil {
		h.fail(w, r, "invalid address", err)
		return
	}
	transfers, err := h.coordinator.UserTransfers(r.Context(), addr)
	if err != nil {
		h.fail(w, r, "failed to list user transfers", err)
		return
	}
	respondJSON(w, http.StatusOK, toTransferResponses(transfers))
}

func (h *APIHandlers) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.coordinator.Transfers(r.Context())
	if err != nil {
		h.fail(w, r, "failed to list transfers", err)
		return
	}
	respondJSON(w, http.StatusOK, toTransferResponses(transfers))
}

func (h *APIHandlers) handlePendingTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := h.coordinator.PendingTransfers(r.Context())
	if err != nil {
		h.fail(w, r, "failed to list pending transfers", err)
		return
	}
	respondJSON(w, http.StatusOK, toTransferResponses(transfers))
}

func (h *APIHandlers) handleGetTransfer(w http.ResponseWriter, r *http.Request) {
	id, err := pathInt(r, "id")
	if err != nil {
		h.fail(w, r, "invalid request id", err)
		return
	}
	tr, err := h.coordinator.Transfer(r.Context(), id)
	if err != nil {
		h.fail(w, r, "failed to fetch transfer", err)
		return
	}
	respondJSON(w, http.StatusOK, toTransferResponse(tr))
}

func (h *APIHandlers) handleGetSubmission(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("hash")
	b, err := hexBytes(raw)
	if err != nil || len(b) != common.HashLength {
		h.fail(w, r, "invalid hash", apperrors.New(apperrors.CodeInvalidArgument, "hash must be a 32-byte hex string"))
		return
	}
	sub, err := h.coordinator.Submission(r.Context(), common.BytesToHash(b))
	if err != nil {
		h.fail(w, r, "failed to fetch submission", err)
		return
	}
	respondJSON(w, http.StatusOK, toSubmissionResponse(sub))
}

// --- admin writes ---

func (h *APIHandlers) handleRegisterUser(w http.ResponseWriter, r *http.Request) {
	var req registerUserRequest
	admin, ok := h.authenticate(w, r, &req, &req.authFields, actionRegisterUser, true)
	if !ok {
		return
	}
	addr, err := parseAddress("userAddress", req.UserAddress)
	if err != nil {
		h.fail(w, r, "invalid register user request", err)
		return
	}
	receipt, err := h.coordinator.RegisterUser(r.Context(), admin, service.RegisterUserInput{
		Address: addr,
		Name:    strings.TrimSpace(req.Name),
		Email:   strings.TrimSpace(req.Email),
		Admin:   req.IsAdmin,
	})
	if err != nil {
		h.fail(w, r, "failed to register user", err)
		return
	}
	respondJSON(w, http.StatusOK, toWriteResponse(receipt, "User registered successfully"))
}

func (h *APIHandlers) handleRevokeUser(w http.ResponseWriter, r *http.Request) {
	h.userStatusChange(w, r, actionRevokeUser, h.coordinator.RevokeUser, "User revoked successfully")
}

func (h *APIHandlers) handleReinstateUser(w http.ResponseWriter, r *http.Request) {
	h.userStatusChange(w, r, actionReinstateUser, h.coordinator.ReinstateUser, "User reinstated successfully")
}

func (h *APIHandlers) userStatusChange(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	apply func(context.Context, domain.Principal, common.Address) (domain.Receipt, error),
	message string,
) {
	var req userAddressRequest
	admin, ok := h.authenticate(w, r, &req, &req.authFields, action, true)
	if !ok {
		return
	}
	addr, err := parseAddress("userAddress", req.UserAddress)
	if err != nil {
		h.fail(w, r, "invalid "+action+" request", err)
		return
	}
	receipt, err := apply(r.Context(), admin, addr)
	if err != nil {
		h.fail(w, r, action+" failed", err)
		return
	}
	respondJSON(w, http.StatusOK, toWriteResponse(receipt, message))
}

func (h *APIHandlers) handleRegisterLand(w http.ResponseWriter, r *http.Request) {
	var req registerLandRequest
	admin, ok := h.authenticate(w, r, &req, &req.authFields, actionRegisterLand, true)
	if !ok {
		return
	}
	area, err := req.Area.bigInt("area")
	if err != nil {
		h.fail(w, r, "invalid register land request", err)
		return
	}
	owner, err := parseAddress("owner", req.Owner)
	if err != nil {
		h.fail(w, r, "invalid register land request", err)
		return
	}
	receipt, err := h.coordinator.RegisterLand(r.Context(), admin, service.RegisterLandInput{
		LandID:      strings.TrimSpace(req.LandID),
		Description: req.Description,
		Location:    req.Location,
		Area:        area,
		ImageURL:    req.ImageURL,
		Owner:       owner,
	})
	if err != nil {
		h.fail(w, r, "failed to register land", err)
		return
	}
	resp := toWriteResponse(receipt, "Land registered successfully")
	resp.ImageURL = req.ImageURL
	respondJSON(w, http.StatusOK, resp)
}

func (h *APIHandlers) handleDeleteLand(w http.ResponseWriter, r *http.Request) {
	var req landIDRequest
	admin, ok := h.authenticate(w, r, &req, &req.authFields, actionDeleteLand, true)
	if !ok {
		return
	}
	id, err := req.LandID.bigInt("landId")
	if err != nil {
		h.fail(w, r, "invalid delete land request", err)
		return
	}
	receipt, err := h.coordinator.DeleteLand(r.Context(), admin, id)
	if err != nil {
		h.fail(w, r, "failed to delete land", err)
		return
	}
	respondJSON(w, http.StatusOK, toWriteResponse(receipt, "Land deleted successfully"))
}

// --- transfer lifecycle ---

func (h *APIHandlers) handleRequestTransfer(w http.ResponseWriter, r *http.Request) {
	var req requestTransferRequest
	caller, ok := h.authenticate(w, r, &req, &req.authFields, actionRequestTransfer, false)
	if !ok {
		return
	}
	landID, err := req.LandID.bigInt("landId")
	if err != nil {
		h.fail(w, r, "invalid transfer request", err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		h.fail(w, r, "invalid transfer request", err)
		return
	}
	price, err := req.Price.bigInt("price")
	if err != nil {
		h.fail(w, r, "invalid transfer request", err)
		return
	}
	receipt, err := h.coordinator.RequestTransfer(r.Context(), caller, service.TransferInput{
		LandID:  landID,
		To:      to,
		Price:   price,
		Message: req.Message,
	})
	if err != nil {
		h.fail(w, r, "failed to request transfer", err)
		return
	}
	respondJSON(w, http.StatusOK, toWriteResponse(receipt, "Transfer requested successfully"))
}

func (h *APIHandlers) handleApproveTransfer(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, actionApproveTransfer, h.coordinator.ApproveAndComplete, "Transfer approved and completed successfully")
}

func (h *APIHandlers) handleCompleteTransfer(w http.ResponseWriter, r *http.Request) {
	h.lifecycle(w, r, actionCompleteTransfer, h.coordinator.CompleteTransfer, "Transfer completed successfully")
}

func (h *APIHandlers) lifecycle(
	w http.ResponseWriter,
	r *http.Request,
	action string,
	drive func(context.Context, domain.Principal, *big.Int) (service.LifecycleResult, error),
	message string,
) {
	var req requestIDRequest
	admin, ok := h.authenticate(w, r, &req, &req.authFields, action, true)
	if !ok {
		return
	}
	id, err := req.RequestID.bigInt("requestId")
	if err != nil {
		h.fail(w, r, "invalid "+action+" request", err)
		return
	}
	res, err := drive(r.Context(), admin, id)
	if err != nil {
		h.fail(w, r, action+" failed", err)
		return
	}
	if res.AlreadyApplied {
		message = "Transfer already completed"
	}
	respondJSON(w, http.StatusOK, toLifecycleResponse(res, message))
}

// authenticate decodes the body into dst and verifies the signature in
// fields against action. It writes the error response itself and reports
// whether the handler may continue.
func (h *APIHandlers) authenticate(w http.ResponseWriter, r *http.Request, dst any, fields *authFields, action string, admin bool) (domain.Principal, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := decodeJSON(r, dst); err != nil {
		h.fail(w, r, "invalid request body", apperrors.Wrap(apperrors.CodeInvalidArgument, "invalid request body", err))
		return domain.Principal{}, false
	}
	if fields.Action != "" && fields.Action != action {
		h.fail(w, r, "action mismatch", apperrors.WithMetadata(apperrors.CodeInvalidArgument,
			"signed action does not match endpoint", map[string]string{"expected": action}))
		return domain.Principal{}, false
	}

	authReq := auth.Request{
		Action:    action,
		Timestamp: int64(fields.Timestamp),
		Signature: fields.Signature,
		Account:   fields.Account,
	}
	verify := h.verifier.Verify
	if admin {
		verify = h.verifier.VerifyAdmin
	}
	p, err := verify(authReq)
	if err != nil {
		metrics.AuthFailure(string(apperrors.CodeOf(err)))
		h.fail(w, r, "authentication failed", err)
		return domain.Principal{}, false
	}
	return p, true
}

// fail logs err and writes it as a structured error response.
func (h *APIHandlers) fail(w http.ResponseWriter, r *http.Request, msg string, err error) {
	code := apperrors.CodeOf(err)
	switch {
	case errors.Is(err, context.Canceled):
		h.logger.Info(msg, "error", err, "path", r.URL.Path, "request_id", requestIDFrom(r.Context()))
		writeError(w, apperrors.Wrap(apperrors.CodeUnknown, "request cancelled", err))
		return
	case errors.Is(err, context.DeadlineExceeded) && code == apperrors.CodeUnknown:
		err = apperrors.Wrap(apperrors.CodeSubmissionTimeout, "request timed out", err)
	}

	level := slog.LevelWarn
	if apperrors.CodeOf(err).HTTPStatus() >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.logger.Log(r.Context(), level, msg,
		"error", err,
		"code", apperrors.CodeOf(err),
		"path", r.URL.Path,
		"request_id", requestIDFrom(r.Context()),
	)
	writeError(w, err)
}

type errorResponse struct {
	Error   string            `json:"error"`
	Code    apperrors.Code    `json:"code"`
	Details map[string]string `json:"details,omitempty"`
}

// writeError renders err as {error, code, details}. Causes are logged, never
// returned.
func writeError(w http.ResponseWriter, err error) {
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		respondJSON(w, http.StatusInternalServerError, errorResponse{
			Error: "internal error",
			Code:  apperrors.CodeUnknown,
		})
		return
	}
	respondJSON(w, appErr.Code.HTTPStatus(), errorResponse{
		Error:   appErr.Message,
		Code:    appErr.Code,
		Details: appErr.Metadata,
	})
}

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()

	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	return nil
}

func pathInt(r *http.Request, name string) (*big.Int, error) {
	return numeric(r.PathValue(name)).bigInt(name)
}

func pathAddress(r *http.Request, name string) (common.Address, error) {
	return parseAddress(name, r.PathValue(name))
}

func parseAddress(field, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return common.Address{}, apperrors.New(apperrors.CodeInvalidArgument, field+" is required")
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, apperrors.New(apperrors.CodeInvalidArgument, field+" is not a valid address")
	}
	return common.HexToAddress(value), nil
}

func hexBytes(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	return hexutil.Decode("0x" + s)
}

// flexInt64 accepts a JSON number or a decimal string.
type flexInt64 int64

func (f *flexInt64) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("timestamp must be an integer number of milliseconds")
	}
	*f = flexInt64(v)
	return nil
}

// numeric holds an unsigned ledger integer sent as a JSON number or string.
type numeric string

func (n *numeric) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*n = ""
		return nil
	}
	*n = numeric(strings.Trim(s, `"`))
	return nil
}

func (n numeric) bigInt(field string) (*big.Int, error) {
	s := strings.TrimSpace(string(n))
	if s == "" {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, field+" is required")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() < 0 {
		return nil, apperrors.New(apperrors.CodeInvalidArgument, field+" must be a non-negative integer")
	}
	return v, nil
}
