package auth

import (
	"sort"

	"github.com/gofiber/fiber/v2"

	apperrors "github.com/dormledger/auth-service/pkg/util"
)

// Roles known to the dormitory ledger.
const (
	RoleResident  = "resident"
	RoleTreasurer = "treasurer"
	RoleAdmin     = "admin"
)

// Permissions checked by route middleware.
const (
	PermLedgerRead      = "ledger:read"
	PermLedgerWrite     = "ledger:write"
	PermSessionRead     = "session:read"
	PermSessionRevoke   = "session:revoke"
	PermConfigBroadcast = "config:broadcast"
)

var rolePermissions = map[string][]string{
	RoleResident:  {PermLedgerRead, PermLedgerWrite},
	RoleTreasurer: {PermLedgerRead, PermLedgerWrite, PermSessionRead},
	RoleAdmin: {
		PermLedgerRead, PermLedgerWrite,
		PermSessionRead, PermSessionRevoke, PermConfigBroadcast,
	},
}

// PermissionsFor returns the sorted union of permissions granted by roles.
// Unknown roles grant nothing.
func PermissionsFor(roles []string) []string {
	set := make(map[string]struct{})
	for _, role := range roles {
		for _, perm := range rolePermissions[role] {
			set[perm] = struct{}{}
		}
	}
	perms := make([]string, 0, len(set))
	for perm := range set {
		perms = append(perms, perm)
	}
	sort.Strings(perms)
	return perms
}

// HasPermission reports whether any of roles grants perm.
func HasPermission(roles []string, perm string) bool {
	for _, role := range roles {
		for _, p := range rolePermissions[role] {
			if p == perm {
				return true
			}
		}
	}
	return false
}

// RequirePermission ensures the authenticated caller holds perm. It must be
// mounted after AuthMiddleware.Handle.
func RequirePermission(perm string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		principal, ok := PrincipalFromContext(c)
		if !ok {
			return MapError(ErrMissingToken)
		}
		if !HasPermission(principal.Claims.Roles, perm) {
			return apperrors.NewForbidden("insufficient permissions")
		}
		return c.Next()
	}
}
