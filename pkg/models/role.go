package models

// Role is the membership role inside a group conversation. Direct
// conversations carry the default member role with no meaning attached.
type Role string

const (
	RoleMember Role = "member"
	RoleAdmin  Role = "admin"
	RoleOwner  Role = "owner"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleMember, RoleAdmin, RoleOwner:
		return true
	}
	return false
}

// CanManage reports whether a holder of r may perform group admin actions:
// updating group details, adding members, acting on plain members.
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

// IsOwner reports whether r is the owner role.
func (r Role) IsOwner() bool { return r == RoleOwner }

// CanActOn reports whether an actor with role `actor` may remove, promote
// or demote a target with role `target`. The owner may act on anyone but
// themselves; admins may act only on plain members; nobody acts on the
// owner.
func CanActOn(actor, target Role) bool {
	if target == RoleOwner {
		return false
	}
	switch actor {
	case RoleOwner:
		return true
	case RoleAdmin:
		return target == RoleMember
	}
	return false
}
