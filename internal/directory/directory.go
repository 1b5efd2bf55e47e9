// Package directory resolves authenticated principals to the ledger-signing
// credentials the gateway submits with.
//
// The directory is loaded once at startup and is read-only afterwards, so it
// needs no synchronization. Holding user keys on the server lets the gateway
// act as any listed user after a message-signature check; that is only
// acceptable for a closed demo network.
package directory

import (
	"crypto/ecdsa"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/vanshika/landgate/backend/internal/apperrors"
	"github.com/vanshika/landgate/backend/internal/domain"
)

// ErrAdminMismatch indicates the admin key does not derive the admin address.
var ErrAdminMismatch = errors.New("admin key does not match admin address")

// Credential is signing key material bound to exactly one address. The key
// never leaves this package; callers only get a signing capability.
type Credential struct {
	address common.Address
	key     *ecdsa.PrivateKey
}

// Address returns the address the credential signs for.
func (c *Credential) Address() common.Address {
	return c.address
}

// SignTx signs tx for the given chain.
func (c *Credential) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), c.key)
}

// NewCredential parses a hex private key (with or without 0x).
func NewCredential(hexKey string) (*Credential, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &Credential{address: crypto.PubkeyToAddress(key.PublicKey), key: key}, nil
}

// CredentialFromKey wraps an existing key.
func CredentialFromKey(key *ecdsa.PrivateKey) *Credential {
	return &Credential{address: crypto.PubkeyToAddress(key.PublicKey), key: key}
}

// Account is the public part of a directory entry.
type Account struct {
	Address common.Address
	Name    string
	Email   string
	Admin   bool
}

// Record is one entry of the account directory file.
type Record struct {
	Address    string `json:"address"`
	PrivateKey string `json:"privateKey"`
	Name       string `json:"name"`
	Email      string `json:"email"`
}

// File mirrors the account directory JSON document.
type File struct {
	Admin Record   `json:"admin"`
	Users []Record `json:"users"`
}

type entry struct {
	account    Account
	credential *Credential
}

// Directory maps lowercased identities to credentials.
type Directory struct {
	admin   entry
	order   []string
	entries map[string]entry
}

// Load reads the directory file at path. The admin credential always comes
// from adminKey, whatever the file says about the admin.
func Load(path string, adminAddress common.Address, adminKey string) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read account directory: %w", err)
	}
	var file File
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("decode account directory %s: %w", path, err)
	}
	return New(adminAddress, adminKey, file)
}

// New builds a Directory from an already decoded file.
func New(adminAddress common.Address, adminKey string, file File) (*Directory, error) {
	adminCred, err := NewCredential(adminKey)
	if err != nil {
		return nil, fmt.Errorf("admin credential: %w", err)
	}
	if adminCred.Address() != adminAddress {
		return nil, ErrAdminMismatch
	}

	name := file.Admin.Name
	if name == "" {
		name = "System Admin"
	}
	d := &Directory{
		admin: entry{
			account:    Account{Address: adminAddress, Name: name, Email: file.Admin.Email, Admin: true},
			credential: adminCred,
		},
		entries: make(map[string]entry, len(file.Users)),
	}

	for i, rec := range file.Users {
		if !common.IsHexAddress(rec.Address) {
			return nil, fmt.Errorf("directory user %d: invalid address %q", i, rec.Address)
		}
		cred, err := NewCredential(rec.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("directory user %s: %w", rec.Address, err)
		}
		if !domain.SameIdentity(cred.Address().Hex(), rec.Address) {
			return nil, fmt.Errorf("directory user %s: private key belongs to %s", rec.Address, cred.Address().Hex())
		}
		key := domain.IdentityKey(rec.Address)
		if cred.Address() == adminAddress {
			continue
		}
		if _, dup := d.entries[key]; dup {
			return nil, fmt.Errorf("directory user %s listed twice", rec.Address)
		}
		d.entries[key] = entry{
			account:    Account{Address: cred.Address(), Name: rec.Name, Email: rec.Email},
			credential: cred,
		}
		d.order = append(d.order, key)
	}
	return d, nil
}

// Resolve returns the signing credential for p.
func (d *Directory) Resolve(p domain.Principal) (*Credential, error) {
	if p.Address == d.admin.account.Address {
		return d.admin.credential, nil
	}
	e, ok := d.entries[p.Key()]
	if !ok {
		return nil, apperrors.New(apperrors.CodeUnknownPrincipal, "user account not found")
	}
	return e.credential, nil
}

// Admin returns the admin credential.
func (d *Directory) Admin() *Credential {
	return d.admin.credential
}

// Accounts lists the admin followed by users in file order.
func (d *Directory) Accounts() []Account {
	out := make([]Account, 0, len(d.order)+1)
	out = append(out, d.admin.account)
	for _, key := range d.order {
		out = append(out, d.entries[key].account)
	}
	return out
}
