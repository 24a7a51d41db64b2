package shared

import (
	"context"

	"github.com/google/uuid"
)

// PrincipalKind distinguishes end users from the system identity used by
// background jobs.
type PrincipalKind string

const (
	PrincipalKindUser   PrincipalKind = "user"
	PrincipalKindSystem PrincipalKind = "system"
)

// Principal is the execution identity threaded through service calls.
// Handlers construct a user principal from the authenticated request; the
// billing worker acts as the system principal and bypasses ownership checks.
type Principal struct {
	Kind      PrincipalKind
	AccountID uuid.UUID
	Admin     bool
}

// UserPrincipal returns a principal acting on behalf of an account
func UserPrincipal(accountID uuid.UUID) Principal {
	return Principal{Kind: PrincipalKindUser, AccountID: accountID}
}

// AdminPrincipal returns a principal for an administrator account
func AdminPrincipal(accountID uuid.UUID) Principal {
	return Principal{Kind: PrincipalKindUser, AccountID: accountID, Admin: true}
}

// SystemPrincipal returns the privileged identity used by background workers
func SystemPrincipal() Principal {
	return Principal{Kind: PrincipalKindSystem, Admin: true}
}

// IsSystem reports whether the principal is the system identity
func (p Principal) IsSystem() bool {
	return p.Kind == PrincipalKindSystem
}

// CanAccessAccount reports whether the principal may act on the given account
func (p Principal) CanAccessAccount(accountID uuid.UUID) bool {
	if p.IsSystem() || p.Admin {
		return true
	}
	return p.AccountID == accountID
}

type principalContextKey struct{}

// WithPrincipal stores the principal in the context
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// PrincipalFromContext extracts the principal from the context
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}
