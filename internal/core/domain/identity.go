package domain

import (
	"encoding/hex"

	"golang.org/x/crypto/blake2b"
)

// Role names an authorization profile. Visibility rules are keyed by role.
type Role string

const (
	RoleAdmin           Role = "admin"
	RoleManager         Role = "manager"
	RoleRep             Role = "rep"
	RoleProjectManager  Role = "project_manager"
	RoleSubtradeManager Role = "subtrade_manager"
)

// Identity is the authenticated actor whose role and territory gate record
// visibility. It is immutable for the lifetime of one sync session.
type Identity struct {
	ID          string `json:"id"`
	Role        Role   `json:"role"`
	TerritoryID string `json:"territory_id,omitempty"`
}

// Equal reports whether two identities describe the same session scope.
// A difference in any field means the session must be rebuilt.
func (i *Identity) Equal(other *Identity) bool {
	if i == nil || other == nil {
		return i == other
	}
	return *i == *other
}

// CacheKey returns a stable fingerprint of every field that affects
// authorization scope, suitable for embedding in cache keys.
func (i Identity) CacheKey() string {
	sum := blake2b.Sum256([]byte(i.ID + "\x00" + string(i.Role) + "\x00" + i.TerritoryID))
	return hex.EncodeToString(sum[:12])
}
