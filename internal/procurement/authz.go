package procurement

import (
	"fmt"
	"strings"
)

// Roles recognised by the purchasing workflow.
const (
	RoleRoot          = "root"
	RoleBoardMember   = "board_member"
	RoleAdminEmployee = "admin_employee"
)

var (
	operatorRoles = []string{RoleRoot, RoleBoardMember, RoleAdminEmployee}
	approverRoles = []string{RoleRoot, RoleBoardMember}
)

// Actor is the authenticated caller supplied by the identity layer.
type Actor struct {
	ID    int64
	Roles []string
}

// HasAnyRole reports whether the actor holds one of roles.
func (a Actor) HasAnyRole(roles ...string) bool {
	for _, held := range a.Roles {
		held = strings.ToLower(strings.TrimSpace(held))
		for _, want := range roles {
			if held == want {
				return true
			}
		}
	}
	return false
}

func authorize(actor Actor, allowed []string) error {
	if actor.ID == 0 {
		return fmt.Errorf("%w: unauthenticated actor", ErrForbidden)
	}
	if !actor.HasAnyRole(allowed...) {
		return fmt.Errorf("%w: requires one of %s", ErrForbidden, strings.Join(allowed, ", "))
	}
	return nil
}
