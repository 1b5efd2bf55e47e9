package domain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Role distinguishes the registry administrator from ordinary users.
type Role string

const (
	RoleAdmin Role = "Admin"
	RoleUser  Role = "User"
)

// Principal is an authenticated caller. It is resolved once per request.
type Principal struct {
	Address common.Address
	Role    Role
}

// IsAdmin reports whether the principal holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == RoleAdmin
}

// Key returns the lowercased hex identity used for directory lookups.
func (p Principal) Key() string {
	return IdentityKey(p.Address.Hex())
}

// IdentityKey normalizes a textual identity for case-insensitive comparison.
func IdentityKey(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// SameIdentity compares two textual identities case-insensitively.
func SameIdentity(a, b string) bool {
	return IdentityKey(a) == IdentityKey(b)
}

// User is a registry account as recorded on the ledger.
type User struct {
	Address          common.Address
	Name             string
	Email            string
	Registered       bool
	Admin            bool
	Active           bool
	RegistrationDate time.Time
}
