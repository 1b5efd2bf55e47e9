// Package auth authenticates gateway callers by recovering the signer of a
// personal-message signature over "<action>:<timestamp>".
//
// The timestamp is an integer count of milliseconds since the Unix epoch and is
// rendered in base 10 with no padding. Because the action is part of the signed
// message, a signature minted for one action cannot be replayed against another
// within the freshness window.
package auth

import (
	"crypto/ecdsa"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vanshika/landgate/backend/internal/apperrors"
	"github.com/vanshika/landgate/backend/internal/config"
	"github.com/vanshika/landgate/backend/internal/domain"
)

var errSignatureLength = errors.New("signature must be 65 bytes")

// Request carries the authentication fields of a signed gateway request.
type Request struct {
	Action    string
	Timestamp int64
	Signature string
	Account   string
}

// Verifier checks signatures, freshness and the admin gate.
type Verifier struct {
	admin  common.Address
	window time.Duration
	skew   time.Duration
	nowFn  func() time.Time
}

// NewVerifier builds a Verifier for the given admin identity.
func NewVerifier(admin common.Address, cfg config.AuthConfig) *Verifier {
	window := cfg.FreshnessWindow
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Verifier{
		admin:  admin,
		window: window,
		skew:   cfg.ClockSkew,
		nowFn:  time.Now,
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (v *Verifier) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		v.nowFn = nowFn
	}
}

// Admin returns the configured admin identity.
func (v *Verifier) Admin() common.Address {
	return v.admin
}

// Verify authenticates req and returns the caller as a Principal.
func (v *Verifier) Verify(req Request) (domain.Principal, error) {
	if strings.TrimSpace(req.Signature) == "" || strings.TrimSpace(req.Account) == "" || req.Timestamp == 0 {
		return domain.Principal{}, apperrors.New(apperrors.CodeAuthDataMissing, "missing authentication data")
	}
	if !common.IsHexAddress(req.Account) {
		return domain.Principal{}, apperrors.New(apperrors.CodeInvalidArgument, "account is not a valid address")
	}

	nowMs := v.nowFn().UnixMilli()
	if nowMs-req.Timestamp > v.window.Milliseconds() {
		return domain.Principal{}, apperrors.New(apperrors.CodeSignatureExpired, "signature expired")
	}
	if req.Timestamp-nowMs > v.skew.Milliseconds() {
		return domain.Principal{}, apperrors.New(apperrors.CodeSignatureExpired, "signature timestamp is in the future")
	}

	signer, err := RecoverSigner(CanonicalMessage(req.Action, req.Timestamp), req.Signature)
	if err != nil {
		return domain.Principal{}, apperrors.Wrap(apperrors.CodeInvalidSignature, "invalid signature", err)
	}
	claimed := common.HexToAddress(req.Account)
	if signer != claimed {
		return domain.Principal{}, apperrors.New(apperrors.CodeInvalidSignature, "invalid signature")
	}

	role := domain.RoleUser
	if signer == v.admin {
		role = domain.RoleAdmin
	}
	return domain.Principal{Address: signer, Role: role}, nil
}

// VerifyAdmin authenticates req and additionally requires the admin identity.
func (v *Verifier) VerifyAdmin(req Request) (domain.Principal, error) {
	p, err := v.Verify(req)
	if err != nil {
		return domain.Principal{}, err
	}
	if !p.IsAdmin() {
		return domain.Principal{}, apperrors.New(apperrors.CodeForbidden, "admin access required")
	}
	return p, nil
}

// CanonicalMessage renders the exact bytes a client signs for an action.
func CanonicalMessage(action string, timestamp int64) string {
	return action + ":" + strconv.FormatInt(timestamp, 10)
}

// RecoverSigner returns the address that produced a personal-message
// signature over message. V may be 0/1 or 27/28.
func RecoverSigner(message, signature string) (common.Address, error) {
	sig, err := hexutil.Decode(strings.TrimSpace(signature))
	if err != nil {
		return common.Address{}, err
	}
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, errSignatureLength
	}
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(accounts.TextHash([]byte(message)), sig)
	if err != nil {
		return common.Address{}, err
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// Sign produces the signature a client would send for action at timestamp,
// in the 0x-prefixed, V=27/28 form wallets emit.
func Sign(key *ecdsa.PrivateKey, action string, timestamp int64) (string, error) {
	sig, err := crypto.Sign(accounts.TextHash([]byte(CanonicalMessage(action, timestamp))), key)
	if err != nil {
		return "", err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return hexutil.Encode(sig), nil
}
