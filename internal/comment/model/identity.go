package model

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleEditor Role = "editor"
	RoleViewer Role = "viewer"
)

// NormalizeRole maps unknown roles to viewer.
func NormalizeRole(role string) Role {
	switch Role(role) {
	case RoleAdmin, RoleEditor, RoleViewer:
		return Role(role)
	default:
		return RoleViewer
	}
}

func (r Role) Elevated() bool {
	return r == RoleAdmin
}

// Identity is the acting user as supplied by the auth collaborator.
type Identity struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

func (i Identity) CanDelete(c Comment) bool {
	if i.ID == "" {
		return false
	}
	return i.ID == c.AuthorID || i.Role.Elevated()
}
