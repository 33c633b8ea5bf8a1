package rbac

import (
	"sort"
	"strings"

	"github.com/coop-ledger/coopledger/internal/shared"
)

// Role is a governance role held by a member.
type Role string

const (
	RoleAdmin       Role = "admin"
	RoleTreasurer   Role = "treasurer"
	RoleSecretary   Role = "secretary"
	RoleChairperson Role = "chairperson"
	RoleMember      Role = "member"
)

// AllRoles lists every known role in display order.
func AllRoles() []Role {
	return []Role{RoleAdmin, RoleTreasurer, RoleSecretary, RoleChairperson, RoleMember}
}

// ParseRole normalizes and validates a role name.
func ParseRole(raw string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range AllRoles() {
		if role == known {
			return role, nil
		}
	}
	return "", shared.Validation("unknown role %q", raw)
}

// Permission is a capability derived from a role set.
type Permission string

const (
	PermManageUsers    Permission = "manage users"
	PermManageFinances Permission = "manage finances"
	PermManageMeetings Permission = "manage meetings"
	PermViewReports    Permission = "view reports"
)

var grants = map[Permission][]Role{
	PermManageUsers:    {RoleAdmin},
	PermManageFinances: {RoleAdmin, RoleTreasurer},
	PermManageMeetings: {RoleAdmin, RoleSecretary, RoleChairperson},
	PermViewReports:    {RoleAdmin, RoleTreasurer, RoleChairperson},
}

// SufficientRoles returns the roles that grant the permission.
func SufficientRoles(p Permission) []Role {
	return append([]Role(nil), grants[p]...)
}

// RoleSet is the explicit set of roles one identity holds. Permissions are the union of
// what each role grants, so adding a role never removes a permission.
type RoleSet map[Role]struct{}

// NewRoleSet builds a set from the given roles.
func NewRoleSet(roles ...Role) RoleSet {
	set := make(RoleSet, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return set
}

// Has reports whether the set contains role.
func (s RoleSet) Has(role Role) bool {
	_, ok := s[role]
	return ok
}

// HasAny reports whether the set intersects roles.
func (s RoleSet) HasAny(roles ...Role) bool {
	for _, r := range roles {
		if s.Has(r) {
			return true
		}
	}
	return false
}

// With returns a copy of the set including role.
func (s RoleSet) With(role Role) RoleSet {
	out := make(RoleSet, len(s)+1)
	for r := range s {
		out[r] = struct{}{}
	}
	out[role] = struct{}{}
	return out
}

// Without returns a copy of the set excluding role.
func (s RoleSet) Without(role Role) RoleSet {
	out := make(RoleSet, len(s))
	for r := range s {
		if r != role {
			out[r] = struct{}{}
		}
	}
	return out
}

// Sorted returns the roles in lexical order.
func (s RoleSet) Sorted() []Role {
	out := make([]Role, 0, len(s))
	for r := range s {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Strings returns the sorted role names.
func (s RoleSet) Strings() []string {
	sorted := s.Sorted()
	out := make([]string, len(sorted))
	for i, r := range sorted {
		out[i] = string(r)
	}
	return out
}

// Can reports whether any held role grants the permission.
func (s RoleSet) Can(p Permission) bool {
	return s.HasAny(grants[p]...)
}

// CanManageUsers is true for admins.
func CanManageUsers(s RoleSet) bool { return s.Can(PermManageUsers) }

// CanManageFinances is true for admins and treasurers.
func CanManageFinances(s RoleSet) bool { return s.Can(PermManageFinances) }

// CanManageMeetings is true for admins, secretaries and chairpersons.
func CanManageMeetings(s RoleSet) bool { return s.Can(PermManageMeetings) }

// CanViewReports is true for admins, treasurers and chairpersons.
func CanViewReports(s RoleSet) bool { return s.Can(PermViewReports) }

// Assignment is the persisted (member, role) pair.
type Assignment struct {
	MemberID int64 `json:"member_id"`
	Role     Role  `json:"role"`
}

type roleSnapshot struct {
	MemberID int64    `json:"member_id"`
	Roles    []string `json:"roles"`
}
