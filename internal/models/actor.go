package models

import "strings"

// Role is the privilege level carried by an actor
type Role string

const (
	RoleOperator   Role = "operator"   // area staff: creates vouchers, registers washing
	RoleSupervisor Role = "supervisor" // warehouse: validates and rejects vouchers
	RoleAdmin      Role = "admin"      // adjustments and reconciliation
)

var roleRank = map[Role]int{
	RoleOperator:   1,
	RoleSupervisor: 2,
	RoleAdmin:      3,
}

// ParseRole normalizes a role claim; unknown values map to an empty role with no privileges
func ParseRole(s string) Role {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := roleRank[r]; !ok {
		return ""
	}
	return r
}

// Actor is the authenticated user on whose behalf an operation runs
type Actor struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// HasRole reports whether the actor holds at least the required role
func (a Actor) HasRole(required Role) bool {
	have, ok := roleRank[a.Role]
	if !ok {
		return false
	}
	return have >= roleRank[required]
}

// DisplayName returns the name used on audit records
func (a Actor) DisplayName() string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}
