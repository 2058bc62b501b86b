// role.go defines the ordered organization membership roles and their
// comparison helpers. Permission checks compare the numeric order, never the
// string form, so the hierarchy lives in exactly one place.
package auth

import "fmt"

// Role is an organization membership role. The zero value is invalid.
type Role int

// Ordered from least to most privileged: member < admin < owner.
const (
	RoleMember Role = iota + 1
	RoleAdmin
	RoleOwner
)

const (
	roleMemberName = "member"
	roleAdminName  = "admin"
	roleOwnerName  = "owner"
)

// ParseRole converts a stored role string into a Role.
func ParseRole(s string) (Role, error) {
	switch s {
	case roleMemberName:
		return RoleMember, nil
	case roleAdminName:
		return RoleAdmin, nil
	case roleOwnerName:
		return RoleOwner, nil
	default:
		return 0, fmt.Errorf("invalid role: %q", s)
	}
}

// String returns the storage/wire form of the role.
func (r Role) String() string {
	switch r {
	case RoleMember:
		return roleMemberName
	case RoleAdmin:
		return roleAdminName
	case RoleOwner:
		return roleOwnerName
	default:
		return fmt.Sprintf("role(%d)", int(r))
	}
}

// Valid reports whether r is one of the three defined roles.
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleAdmin || r == RoleOwner
}

// AtLeast reports whether r grants at least the privileges of min.
func (r Role) AtLeast(min Role) bool {
	return r >= min
}

// ValidRoleNames returns the accepted role strings, least privileged first.
func ValidRoleNames() []string {
	return []string{roleMemberName, roleAdminName, roleOwnerName}
}
