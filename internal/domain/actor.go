package domain

// Actor is the already-authenticated identity attached to every call into
// the core. It is consumed for authorization checks only and never
// persisted; credential issuance and validation live outside this module.
type Actor struct {
	UserID       string
	ScopePath    string
	IsSuperAdmin bool
	Permissions  []string
}

// HasPermission reports whether the actor carries the named permission.
// Super admins implicitly hold every permission.
func (a Actor) HasPermission(name string) bool {
	if a.IsSuperAdmin {
		return true
	}
	for _, p := range a.Permissions {
		if p == name {
			return true
		}
	}
	return false
}
