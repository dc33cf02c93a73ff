package domain

const RoleAdmin = "admin"

// Identity is the caller as asserted by the identity provider.
type Identity struct {
	UserID string
	Email  string
	Role   string
}

func (i Identity) IsAnonymous() bool {
	return i.UserID == ""
}

func (i Identity) IsAdmin() bool {
	return i.Role == RoleAdmin
}
