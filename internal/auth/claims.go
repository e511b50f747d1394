package auth

import "strings"

// Claims is the identity carried by every request. It is passed explicitly
// to each privileged operation; nothing reads identity from ambient state.
type Claims struct {
	Subject string   `json:"sub"`
	Email   string   `json:"email,omitempty"`
	Name    string   `json:"name,omitempty"`
	Roles   []string `json:"roles,omitempty"`
	Picture string   `json:"picture,omitempty"`
}

// Valid reports whether claims identify a subject.
func (c *Claims) Valid() bool {
	return c != nil && strings.TrimSpace(c.Subject) != ""
}

// PrimaryRole returns the first role of claims. Later entries are ignored,
// never merged. A missing, empty or unrecognized first role means customer.
func PrimaryRole(c *Claims) Role {
	if c == nil || len(c.Roles) == 0 {
		return RoleCustomer
	}
	role, ok := ParseRole(c.Roles[0])
	if !ok {
		return RoleCustomer
	}
	return role
}

// DerivePermissions returns the primary role of claims and its token list.
func DerivePermissions(c *Claims) (Role, []string) {
	role := PrimaryRole(c)
	return role, PermissionsFor(role)
}
