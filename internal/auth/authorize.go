package auth

import (
	"slices"

	"ristoro.dev/internal/obs"
)

// RequirePermission returns nil when claims grant perm. Absent claims or a
// blank subject yield ErrAuthenticationRequired; a missing token yields a
// *PermissionError wrapping ErrInsufficientPermissions.
func RequirePermission(c *Claims, perm string) error {
	if !c.Valid() {
		obs.AuthzDenied(perm, "unauthenticated")
		return ErrAuthenticationRequired
	}
	role, perms := DerivePermissions(c)
	if !slices.Contains(perms, perm) {
		obs.AuthzDenied(perm, string(role))
		return &PermissionError{Permission: perm, Role: role}
	}
	return nil
}

// HasPermission is the non-failing variant used on optional-auth read paths.
func HasPermission(c *Claims, perm string) bool {
	if !c.Valid() {
		return false
	}
	_, perms := DerivePermissions(c)
	return slices.Contains(perms, perm)
}

// RequireCapability gates capabilities that have no token of their own, such
// as order assignment. name is reported in the error.
func RequireCapability(c *Claims, name string, has func(Capabilities) bool) error {
	if !c.Valid() {
		obs.AuthzDenied(name, "unauthenticated")
		return ErrAuthenticationRequired
	}
	role := PrimaryRole(c)
	if !has(CapabilitiesFor(role)) {
		obs.AuthzDenied(name, string(role))
		return &PermissionError{Permission: name, Role: role}
	}
	return nil
}
