package domain

// Role is the caller role carried in the session token's role claim.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleHR       Role = "hr"
	RoleViewer   Role = "viewer"
	RoleEmployee Role = "employee"
)

// Valid reports whether r is on the allow-list.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleHR, RoleViewer, RoleEmployee:
		return true
	}
	return false
}

// Operator reports whether r is an HR-side role (not an employee session).
func (r Role) Operator() bool {
	return r == RoleAdmin || r == RoleHR || r == RoleViewer
}

func (r Role) String() string { return string(r) }
