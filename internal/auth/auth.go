// Package auth resolves bearer tokens to firm members and enforces roles.
package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/firmdesk/firmdesk/internal/store"
)

// Roles. WORKER is a legacy spelling of ASSOCIATE and is folded at the
// boundary so the rest of the system only sees the three canonical roles.
const (
	RolePartner   = "PARTNER"
	RoleManager   = "MANAGER"
	RoleAssociate = "ASSOCIATE"
)

// ErrUnauthorized indicates a missing or unknown credential.
var ErrUnauthorized = fmt.Errorf("unauthorized")

// Identity is the authenticated caller of an operation.
type Identity struct {
	UID   string
	Email string
	Role  string
}

// Privileged reports whether the identity may act on tasks it does not own.
func (id Identity) Privileged() bool {
	return id.Role == RolePartner || id.Role == RoleManager
}

// NormalizeRole folds role input to a canonical role. Unknown values
// degrade to ASSOCIATE rather than erroring.
func NormalizeRole(role string) string {
	switch strings.ToUpper(strings.TrimSpace(role)) {
	case RolePartner:
		return RolePartner
	case RoleManager:
		return RoleManager
	case "WORKER", RoleAssociate:
		return RoleAssociate
	}
	return RoleAssociate
}

// Verifier resolves a bearer token to an identity.
type Verifier interface {
	Verify(token string) (*Identity, error)
}

// StoreVerifier verifies tokens against the users table.
type StoreVerifier struct {
	store *store.Store
}

// NewStoreVerifier creates a store-backed verifier.
func NewStoreVerifier(s *store.Store) *StoreVerifier {
	return &StoreVerifier{store: s}
}

// Verify resolves an API token to an active firm member.
func (v *StoreVerifier) Verify(token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	u, err := v.store.FindUserByToken(token)
	if err != nil {
		return nil, fmt.Errorf("verify token: %w", err)
	}
	if u == nil || !u.Active {
		return nil, ErrUnauthorized
	}
	return &Identity{UID: u.ID, Email: u.Email, Role: NormalizeRole(u.Role)}, nil
}

// BearerToken extracts the bearer credential from a request, accepting the
// Authorization header or an X-Api-Token fallback.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	return strings.TrimSpace(r.Header.Get("X-Api-Token"))
}

// CheckCronSecret compares the presented scheduler secret in constant time.
func CheckCronSecret(presented, expected string) bool {
	if expected == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(expected)) == 1
}
