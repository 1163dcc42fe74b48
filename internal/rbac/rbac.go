// Package rbac decides what a session role may do on the waitlist.
package rbac

type Role string
type Action string

const (
	RoleVisitor Role = "visitor"
	RoleMember  Role = "member"
	RoleAdmin   Role = "admin"
)

const (
	ActionRead  Action = "read"
	ActionClaim Action = "claim"
	ActionAdmin Action = "admin"
)

// grants lists the actions each role adds on top of the roles below it.
var grants = []struct {
	role    Role
	actions []Action
}{
	{RoleVisitor, []Action{ActionRead}},
	{RoleMember, []Action{ActionClaim}},
	{RoleAdmin, []Action{ActionAdmin}},
}

// Can reports whether role may perform action. Unknown roles may do nothing.
func Can(role Role, action Action) bool {
	if Normalize(string(role)) != role {
		return false
	}
	for _, g := range grants {
		for _, a := range g.actions {
			if a == action {
				return true
			}
		}
		if g.role == role {
			return false
		}
	}
	return false
}

// Normalize maps a stored role string onto a known role; anything else is
// a visitor.
func Normalize(role string) Role {
	for _, g := range grants {
		if string(g.role) == role {
			return g.role
		}
	}
	return RoleVisitor
}
